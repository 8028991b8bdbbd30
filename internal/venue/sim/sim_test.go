package sim

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/basketexec/internal/execution/model"
	"github.com/Aidin1998/basketexec/internal/venue"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func seeded(t *testing.T) *Venue {
	t.Helper()
	v := New(1000, time.Second)
	// Bids 99.5, 98.5, 97.5; asks 100.5, 101.5, 102.5; 10 units each.
	v.SeedBook("A", dec("100"), dec("1"), dec("10"), 3)
	return v
}

func TestGetDepth_Ordering(t *testing.T) {
	v := seeded(t)
	depth, err := v.GetDepth(context.Background(), "A")
	require.NoError(t, err)

	require.Len(t, depth.Bids, 3)
	require.Len(t, depth.Asks, 3)
	assert.True(t, depth.Bids[0].Price.Equal(dec("99.5")), depth.Bids[0].Price.String())
	assert.True(t, depth.Bids[2].Price.Equal(dec("97.5")))
	assert.True(t, depth.Asks[0].Price.Equal(dec("100.5")))
	assert.True(t, depth.Asks[2].Price.Equal(dec("102.5")))
	assert.True(t, depth.MidPrice().Equal(dec("100")))
}

func TestGetDepth_UnknownAsset(t *testing.T) {
	v := seeded(t)
	_, err := v.GetDepth(context.Background(), "ZZZ")
	assert.Error(t, err)
}

func TestAutoSeedDefaults(t *testing.T) {
	v := New(1000, time.Second)
	v.AutoSeedDefaults(dec("50"), dec("0.5"), dec("5"), 4)

	depth, err := v.GetDepth(context.Background(), "ANY")
	require.NoError(t, err)
	assert.Len(t, depth.Bids, 4)
	assert.Len(t, depth.Asks, 4)
	assert.True(t, depth.MidPrice().Equal(dec("50")))
}

func TestExecute_BuyWalksAsksAndPricesSlippage(t *testing.T) {
	v := seeded(t)
	res, err := v.Execute(context.Background(), model.SideBuy,
		[]venue.AssetOrder{{AssetID: "A", Quantity: dec("15")}}, "pos-1")
	require.NoError(t, err)

	assert.True(t, res.FilledQuantity.Equal(dec("1")))
	require.Len(t, res.PerAsset, 1)

	// 10 at 100.5 plus 5 at 101.5 against a pre-trade mid of 100.
	assert.True(t, res.PerAsset[0].FilledQty.Equal(dec("15")))
	assert.True(t, res.TotalLoss.Equal(dec("12.5")), res.TotalLoss.String())
}

func TestExecute_ConsumesDepth(t *testing.T) {
	v := seeded(t)
	_, err := v.Execute(context.Background(), model.SideBuy,
		[]venue.AssetOrder{{AssetID: "A", Quantity: dec("15")}}, "pos-1")
	require.NoError(t, err)

	depth, err := v.GetDepth(context.Background(), "A")
	require.NoError(t, err)
	require.Len(t, depth.Asks, 2)
	assert.True(t, depth.Asks[0].Price.Equal(dec("101.5")))
	assert.True(t, depth.Asks[0].Quantity.Equal(dec("5")), "partially taken level keeps its remainder")
	assert.Len(t, depth.Bids, 3, "the far side is untouched")
}

func TestExecute_PartialWhenBookExhausted(t *testing.T) {
	v := seeded(t)
	res, err := v.Execute(context.Background(), model.SideBuy,
		[]venue.AssetOrder{{AssetID: "A", Quantity: dec("50")}}, "pos-1")
	require.NoError(t, err)

	// The book only carries 30 on the ask side.
	assert.True(t, res.FilledQuantity.Equal(dec("0.6")), res.FilledQuantity.String())
	assert.True(t, res.PerAsset[0].FilledQty.Equal(dec("30")))
}

func TestExecute_SellWalksBids(t *testing.T) {
	v := seeded(t)
	res, err := v.Execute(context.Background(), model.SideSell,
		[]venue.AssetOrder{{AssetID: "A", Quantity: dec("10")}}, "pos-1")
	require.NoError(t, err)

	// 10 at the best bid 99.5 against mid 100.
	assert.True(t, res.FilledQuantity.Equal(dec("1")))
	assert.True(t, res.TotalLoss.Equal(dec("5")), res.TotalLoss.String())
}

func TestCancel_ReportsLastKnownState(t *testing.T) {
	v := seeded(t)
	_, err := v.Execute(context.Background(), model.SideBuy,
		[]venue.AssetOrder{{AssetID: "A", Quantity: dec("50")}}, "pos-1")
	require.NoError(t, err)

	res, err := v.Cancel(context.Background(), "pos-1", model.KindBuy)
	require.NoError(t, err)
	assert.True(t, res.FillPercentBeforeCancel.Equal(dec("60")), res.FillPercentBeforeCancel.String())

	// The position is forgotten after the cancel.
	_, err = v.Cancel(context.Background(), "pos-1", model.KindBuy)
	assert.Error(t, err)
}

func TestCancel_UnknownPosition(t *testing.T) {
	v := seeded(t)
	_, err := v.Cancel(context.Background(), "pos-x", model.KindBuy)
	assert.Error(t, err)
}
