package registry

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/basketexec/internal/execution/model"
	pkgerrors "github.com/Aidin1998/basketexec/pkg/errors"
)

func newBasket(t *testing.T, id string) *model.Basket {
	t.Helper()
	b, err := model.NewBasket(id, []model.Asset{
		{ID: "A", Quantity: decimal.NewFromInt(1), ReferencePrice: decimal.NewFromInt(10), LivePrice: decimal.NewFromInt(10)},
	})
	require.NoError(t, err)
	return b
}

func TestBasketStore_PutGetDelete(t *testing.T) {
	s := NewBasketStore()
	b := newBasket(t, "bkt-1")

	require.NoError(t, s.Put(b))
	got, err := s.Get("bkt-1")
	require.NoError(t, err)
	assert.Same(t, b, got)

	require.NoError(t, s.Delete("bkt-1"))
	_, err = s.Get("bkt-1")
	assert.True(t, pkgerrors.IsNotFound(err))
	assert.True(t, pkgerrors.IsNotFound(s.Delete("bkt-1")))
}

func TestBasketStore_RejectsDuplicate(t *testing.T) {
	s := NewBasketStore()
	require.NoError(t, s.Put(newBasket(t, "bkt-1")))

	err := s.Put(newBasket(t, "bkt-1"))
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestBasketStore_List(t *testing.T) {
	s := NewBasketStore()
	require.NoError(t, s.Put(newBasket(t, "bkt-1")))
	require.NoError(t, s.Put(newBasket(t, "bkt-2")))
	assert.Len(t, s.List(), 2)
}

func TestPositionRegistry_BindAndLookup(t *testing.T) {
	r := NewPositionRegistry()
	in := model.NewInstruction(model.KindBuy, "pos-1", "bkt-1", decimal.NewFromInt(1), decimal.NewFromInt(100))

	require.NoError(t, r.Bind(in))
	got, err := r.Lookup("pos-1")
	require.NoError(t, err)
	assert.Same(t, in, got)

	_, err = r.Lookup("pos-2")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestPositionRegistry_RejectsSecondActiveInstruction(t *testing.T) {
	r := NewPositionRegistry()
	first := model.NewInstruction(model.KindBuy, "pos-1", "bkt-1", decimal.NewFromInt(1), decimal.NewFromInt(100))
	require.NoError(t, r.Bind(first))

	second := model.NewInstruction(model.KindSell, "pos-1", "bkt-1", decimal.NewFromInt(1), decimal.NewFromInt(90))
	err := r.Bind(second)
	assert.True(t, pkgerrors.IsValidation(err))

	// Once the first instruction terminates the position frees up.
	first.UpdateStatus(model.StatusFilled, "")
	require.NoError(t, r.Bind(second))

	got, err := r.Lookup("pos-1")
	require.NoError(t, err)
	assert.Same(t, second, got)
}

func TestPositionRegistry_RebindSameInstruction(t *testing.T) {
	r := NewPositionRegistry()
	in := model.NewInstruction(model.KindBuy, "pos-1", "bkt-1", decimal.NewFromInt(1), decimal.NewFromInt(100))
	require.NoError(t, r.Bind(in))
	require.NoError(t, r.Bind(in))
}
