package model

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testBasket(t *testing.T) *Basket {
	t.Helper()
	b, err := NewBasket("bkt-1", []Asset{
		{ID: "A", Quantity: dec("1"), ReferencePrice: dec("10"), LivePrice: dec("10")},
		{ID: "B", Quantity: dec("2"), ReferencePrice: dec("5"), LivePrice: dec("5")},
		{ID: "C", Quantity: dec("5"), ReferencePrice: dec("2"), LivePrice: dec("2")},
	})
	require.NoError(t, err)
	return b
}

func TestBasket_CurrentValueRecomputed(t *testing.T) {
	b := testBasket(t)
	assert.True(t, b.CurrentValue().Equal(dec("30")))

	require.NoError(t, b.UpdateLivePrice("A", dec("20")))
	assert.True(t, b.CurrentValue().Equal(dec("40")))
}

func TestBasket_DuplicateAssetRejected(t *testing.T) {
	_, err := NewBasket("bkt-dup", []Asset{
		{ID: "A", Quantity: dec("1")},
		{ID: "A", Quantity: dec("2")},
	})
	assert.Error(t, err)

	b := testBasket(t)
	err = b.AddAsset(Asset{ID: "B", Quantity: dec("1")})
	assert.Error(t, err)
}

func TestBasket_RemoveAssetKeepsOrder(t *testing.T) {
	b := testBasket(t)
	require.NoError(t, b.RemoveAsset("B"))

	assets := b.Assets()
	require.Len(t, assets, 2)
	assert.Equal(t, "A", assets[0].ID)
	assert.Equal(t, "C", assets[1].ID)

	assert.Error(t, b.RemoveAsset("B"))
}

func TestBasket_ReplaceAssetsDiff(t *testing.T) {
	b := testBasket(t)

	diff, err := b.ReplaceAssets([]Asset{
		{ID: "A", Quantity: dec("3"), ReferencePrice: dec("11")},
		{ID: "B", Quantity: dec("2"), ReferencePrice: dec("5")},
		{ID: "D", Quantity: dec("4"), ReferencePrice: dec("2.5")},
	})
	require.NoError(t, err)

	require.Len(t, diff.Added, 1)
	assert.Equal(t, "D", diff.Added[0].ID)
	require.Len(t, diff.Removed, 1)
	assert.Equal(t, "C", diff.Removed[0].ID)
	require.Len(t, diff.Changed, 1)
	assert.Equal(t, "A", diff.Changed[0].AssetID)
	assert.True(t, diff.OldValue.Equal(dec("30")))

	// Every committed asset starts its new basis at the execution price.
	for _, a := range b.Assets() {
		assert.True(t, a.ReferencePrice.Equal(a.LivePrice), "asset %s", a.ID)
	}
	assert.False(t, b.LastRebalancedAt().IsZero())
}

func TestBasket_ConcurrentReadsAndPriceUpdates(t *testing.T) {
	b := testBasket(t)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			b.CurrentValue()
		}()
		go func() {
			defer wg.Done()
			_ = b.UpdateLivePrice("A", dec("12"))
		}()
	}
	wg.Wait()
	assert.True(t, b.CurrentValue().Equal(dec("32")))
}

func TestInstruction_UpdateStatusStampsUpdatedAt(t *testing.T) {
	in := NewInstruction(KindBuy, "pos-1", "bkt-1", dec("10"), dec("100"))
	require.Equal(t, StatusPending, in.Status())

	before := in.UpdatedAt()
	in.UpdateStatus(StatusProcessing, "entered processing")
	assert.Equal(t, StatusProcessing, in.Status())
	assert.False(t, in.UpdatedAt().Before(before))

	log := in.Log()
	require.Len(t, log, 1)
	assert.Equal(t, "entered processing", log[0].Note)
}

func TestInstruction_StatusClassification(t *testing.T) {
	active := []InstructionStatus{StatusPending, StatusProcessing}
	terminal := []InstructionStatus{StatusFilled, StatusPartiallyFilled, StatusCanceled, StatusFailed}

	for _, s := range active {
		assert.True(t, s.Active(), string(s))
		assert.False(t, s.Terminal(), string(s))
	}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), string(s))
		assert.False(t, s.Active(), string(s))
	}
}

func TestParseKind(t *testing.T) {
	for _, raw := range []string{"BUY", "SELL", "CANCEL", "REBALANCE"} {
		k, err := ParseKind(raw)
		require.NoError(t, err)
		assert.Equal(t, InstructionKind(raw), k)
	}
	_, err := ParseKind("SHORT")
	assert.Error(t, err)
}

func TestInstruction_ViewSnapshot(t *testing.T) {
	in := NewInstruction(KindSell, "pos-2", "bkt-1", dec("5"), dec("25"))
	in.RecordExecution(dec("75"), dec("0.4"))
	in.UpdateStatus(StatusPartiallyFilled, "partial")

	view := in.View()
	assert.Equal(t, StatusPartiallyFilled, view.Status)
	assert.True(t, view.FillPercent.Equal(dec("75")))
	assert.True(t, view.RealizedLoss.Equal(dec("0.4")))
	require.Len(t, view.Log, 1)
}
