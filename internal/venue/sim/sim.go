// Package sim provides an in-process simulated execution venue with synthetic
// order books. It backs local runs and tests; the production contract is the
// venue.ExecutionVenue interface.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
	"golang.org/x/time/rate"

	"github.com/Aidin1998/basketexec/internal/execution/model"
	"github.com/Aidin1998/basketexec/internal/venue"
)

type positionState struct {
	fillPercent decimal.Decimal
	loss        decimal.Decimal
}

// Venue is a simulated ExecutionVenue. Books are synthetic and mutate as
// executions consume depth. The venue enforces its own request ceiling by
// suspending callers on an internal limiter, matching real venue behavior.
type Venue struct {
	mu        sync.Mutex
	bids      map[string]*btree.BTreeG[venue.PriceLevel]
	asks      map[string]*btree.BTreeG[venue.PriceLevel]
	positions map[string]positionState
	limiter   *rate.Limiter

	autoSeed   bool
	seedMid    decimal.Decimal
	seedTick   decimal.Decimal
	seedQty    decimal.Decimal
	seedLevels int
}

// New creates a simulated venue with the given request budget per window.
func New(requests int, window time.Duration) *Venue {
	return &Venue{
		bids:      make(map[string]*btree.BTreeG[venue.PriceLevel]),
		asks:      make(map[string]*btree.BTreeG[venue.PriceLevel]),
		positions: make(map[string]positionState),
		limiter:   rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests),
	}
}

func bidLess(a, b venue.PriceLevel) bool { return a.Price.GreaterThan(b.Price) }
func askLess(a, b venue.PriceLevel) bool { return a.Price.LessThan(b.Price) }

// SeedBook installs a synthetic book for an asset: levels price levels on
// each side around mid, spaced by tick, each carrying qtyPerLevel.
func (v *Venue) SeedBook(assetID string, mid, tick, qtyPerLevel decimal.Decimal, levels int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seedBookLocked(assetID, mid, tick, qtyPerLevel, levels)
}

// AutoSeedDefaults makes the venue seed a default book for any asset it has
// never seen, instead of failing the call. Local-run convenience.
func (v *Venue) AutoSeedDefaults(mid, tick, qtyPerLevel decimal.Decimal, levels int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.autoSeed = true
	v.seedMid = mid
	v.seedTick = tick
	v.seedQty = qtyPerLevel
	v.seedLevels = levels
}

func (v *Venue) seedBookLocked(assetID string, mid, tick, qtyPerLevel decimal.Decimal, levels int) {
	bids := btree.NewBTreeG(bidLess)
	asks := btree.NewBTreeG(askLess)
	half := tick.Div(decimal.NewFromInt(2))
	for i := 0; i < levels; i++ {
		offset := tick.Mul(decimal.NewFromInt(int64(i)))
		bids.Set(venue.PriceLevel{Price: mid.Sub(half).Sub(offset), Quantity: qtyPerLevel})
		asks.Set(venue.PriceLevel{Price: mid.Add(half).Add(offset), Quantity: qtyPerLevel})
	}
	v.bids[assetID] = bids
	v.asks[assetID] = asks
}

func (v *Venue) bookLocked(assetID string) (bids, asks *btree.BTreeG[venue.PriceLevel], err error) {
	b, ok := v.bids[assetID]
	if !ok {
		if !v.autoSeed {
			return nil, nil, fmt.Errorf("unknown asset: %s", assetID)
		}
		v.seedBookLocked(assetID, v.seedMid, v.seedTick, v.seedQty, v.seedLevels)
		b = v.bids[assetID]
	}
	return b, v.asks[assetID], nil
}

// GetDepth returns the current synthetic book for an asset.
func (v *Venue) GetDepth(ctx context.Context, assetID string) (venue.Depth, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return venue.Depth{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	bids, asks, err := v.bookLocked(assetID)
	if err != nil {
		return venue.Depth{}, err
	}
	depth := venue.Depth{AssetID: assetID}
	bids.Scan(func(l venue.PriceLevel) bool {
		depth.Bids = append(depth.Bids, l)
		return true
	})
	asks.Scan(func(l venue.PriceLevel) bool {
		depth.Asks = append(depth.Asks, l)
		return true
	})
	return depth, nil
}

// Execute fills each asset order against the synthetic book, consuming depth
// level by level. Loss is the signed slippage cost versus the pre-trade mid.
func (v *Venue) Execute(ctx context.Context, side model.Side, orders []venue.AssetOrder, positionID string) (venue.ExecutionResult, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return venue.ExecutionResult{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	res := venue.ExecutionResult{PositionID: positionID}
	requestedTotal := decimal.Zero
	filledTotal := decimal.Zero

	for _, ord := range orders {
		bids, asks, err := v.bookLocked(ord.AssetID)
		if err != nil {
			return venue.ExecutionResult{}, err
		}
		book := asks
		if side == model.SideSell {
			book = bids
		}

		mid := v.midLocked(ord.AssetID)
		filled := decimal.Zero
		cost := decimal.Zero
		var consumed []venue.PriceLevel
		var shaved *venue.PriceLevel
		book.Scan(func(l venue.PriceLevel) bool {
			remaining := ord.Quantity.Sub(filled)
			if remaining.LessThanOrEqual(decimal.Zero) {
				return false
			}
			take := decimal.Min(remaining, l.Quantity)
			filled = filled.Add(take)
			cost = cost.Add(take.Mul(l.Price))
			if take.Equal(l.Quantity) {
				consumed = append(consumed, l)
			} else {
				left := l
				left.Quantity = l.Quantity.Sub(take)
				shaved = &left
			}
			return true
		})
		for _, l := range consumed {
			book.Delete(l)
		}
		if shaved != nil {
			book.Set(*shaved)
		}

		avg := decimal.Zero
		loss := decimal.Zero
		if filled.IsPositive() {
			avg = cost.Div(filled)
			// Signed slippage: positive when execution is worse than mid.
			if side == model.SideBuy {
				loss = cost.Sub(filled.Mul(mid))
			} else {
				loss = filled.Mul(mid).Sub(cost)
			}
		}
		res.PerAsset = append(res.PerAsset, venue.AssetExecution{
			AssetID:      ord.AssetID,
			RequestedQty: ord.Quantity,
			FilledQty:    filled,
			AvgPrice:     avg,
			RealizedLoss: loss,
		})
		res.TotalLoss = res.TotalLoss.Add(loss)
		requestedTotal = requestedTotal.Add(ord.Quantity)
		filledTotal = filledTotal.Add(filled)
	}

	if requestedTotal.IsPositive() {
		res.FilledQuantity = filledTotal.Div(requestedTotal)
	} else {
		res.FilledQuantity = decimal.NewFromInt(1)
	}

	fillPercent := res.FilledQuantity.Mul(decimal.NewFromInt(100))
	v.positions[positionID] = positionState{fillPercent: fillPercent, loss: res.TotalLoss}
	return res, nil
}

// Cancel reports the last known state of a position and forgets it.
func (v *Venue) Cancel(ctx context.Context, positionID string, kind model.InstructionKind) (venue.CancelResult, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return venue.CancelResult{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	state, ok := v.positions[positionID]
	if !ok {
		return venue.CancelResult{}, fmt.Errorf("unknown position: %s", positionID)
	}
	delete(v.positions, positionID)
	return venue.CancelResult{
		FillPercentBeforeCancel: state.fillPercent,
		LossBeforeCancel:        state.loss,
	}, nil
}

func (v *Venue) midLocked(assetID string) decimal.Decimal {
	bids := v.bids[assetID]
	asks := v.asks[assetID]
	bestBid, okB := bids.Min()
	bestAsk, okA := asks.Min()
	if !okB || !okA {
		return decimal.Zero
	}
	return bestBid.Price.Add(bestAsk.Price).Div(decimal.NewFromInt(2))
}
