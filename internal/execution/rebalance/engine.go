// Package rebalance computes, prices, and sequences the buy/sell delta that
// moves a basket from its current composition to a target composition.
package rebalance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/basketexec/internal/execution/model"
	"github.com/Aidin1998/basketexec/internal/venue"
	pkgerrors "github.com/Aidin1998/basketexec/pkg/errors"
)

// Delta actions.
const (
	ActionAdd       = "ADD"
	ActionRemove    = "REMOVE"
	ActionIncrease  = "INCREASE"
	ActionDecrease  = "DECREASE"
	ActionUnchanged = "UNCHANGED"
)

// AssetDelta is the per-asset difference between current and target
// composition, with a slippage-based cost estimate.
type AssetDelta struct {
	AssetID       string          `json:"asset_id"`
	Action        string          `json:"action"`
	CurrentQty    decimal.Decimal `json:"current_qty"`
	TargetQty     decimal.Decimal `json:"target_qty"`
	DeltaQty      decimal.Decimal `json:"delta_qty"`
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
}

// Plan is a priced rebalance proposal.
type Plan struct {
	BasketID      string          `json:"basket_id"`
	CurrentAssets []model.Asset   `json:"current_assets"`
	TargetAssets  []model.Asset   `json:"target_assets"`
	Deltas        []AssetDelta    `json:"deltas"`
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
}

// Result is the outcome of an executed plan.
type Result struct {
	TotalLoss  decimal.Decimal         `json:"total_loss"`
	Executions []venue.ExecutionResult `json:"executions"`
	Diff       *model.BasketDiff       `json:"diff"`
}

// Record is one entry in the append-only rebalance history.
type Record struct {
	BasketID   string                  `json:"basket_id"`
	Timestamp  time.Time               `json:"timestamp"`
	TotalLoss  decimal.Decimal         `json:"total_loss"`
	Executions []venue.ExecutionResult `json:"executions"`
	Diff       *model.BasketDiff       `json:"diff"`
}

// History is the append-only rebalance record store, keyed by basket id.
type History struct {
	mu      sync.RWMutex
	records map[string][]Record
}

// NewHistory creates an empty history store.
func NewHistory() *History {
	return &History{records: make(map[string][]Record)}
}

// Append adds a record to a basket's history.
func (h *History) Append(rec Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[rec.BasketID] = append(h.records[rec.BasketID], rec)
}

// ForBasket returns the records for a basket in append order.
func (h *History) ForBasket(basketID string) []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()
	recs := h.records[basketID]
	out := make([]Record, len(recs))
	copy(out, recs)
	return out
}

// TargetPolicy derives the target composition from the current constituents
// priced at refreshed venue mids. The derivation is policy-supplied; the
// engine only diffs and executes it.
type TargetPolicy func(current []model.Asset) []model.Asset

// EqualWeightPolicy redistributes the basket's current value equally across
// its constituents at live prices.
func EqualWeightPolicy(current []model.Asset) []model.Asset {
	if len(current) == 0 {
		return nil
	}
	total := decimal.Zero
	for _, a := range current {
		total = total.Add(a.Value())
	}
	slice := total.Div(decimal.NewFromInt(int64(len(current))))
	out := make([]model.Asset, 0, len(current))
	for _, a := range current {
		target := a
		if a.LivePrice.IsPositive() {
			target.Quantity = slice.Div(a.LivePrice)
		}
		out = append(out, target)
	}
	return out
}

// BasketResolver resolves basket ids.
type BasketResolver interface {
	Get(id string) (*model.Basket, error)
}

// Engine plans and executes basket rebalances: sells first to free capital,
// then buys, then a wholesale composition commit.
type Engine struct {
	logger  *zap.Logger
	baskets BasketResolver
	venue   venue.ExecutionVenue
	policy  TargetPolicy
	history *History
}

// NewEngine creates a rebalance engine with the given target policy.
func NewEngine(logger *zap.Logger, baskets BasketResolver, v venue.ExecutionVenue, policy TargetPolicy, history *History) *Engine {
	return &Engine{logger: logger, baskets: baskets, venue: v, policy: policy, history: history}
}

// History returns the engine's record store.
func (e *Engine) History() *History {
	return e.history
}

// CreatePlan refreshes live prices from venue mids, derives the target
// composition, and prices the per-asset delta.
func (e *Engine) CreatePlan(ctx context.Context, b *model.Basket) (*Plan, error) {
	for _, a := range b.Assets() {
		depth, err := e.venue.GetDepth(ctx, a.ID)
		if err != nil {
			return nil, pkgerrors.NewVenue("depth", err)
		}
		if mid := depth.MidPrice(); mid.IsPositive() {
			if err := b.UpdateLivePrice(a.ID, mid); err != nil {
				return nil, err
			}
		}
	}

	current := b.Assets()
	target := e.policy(current)

	plan := &Plan{BasketID: b.ID, CurrentAssets: current, TargetAssets: target}
	currentByID := make(map[string]model.Asset, len(current))
	for _, a := range current {
		currentByID[a.ID] = a
	}
	targetByID := make(map[string]model.Asset, len(target))
	for _, a := range target {
		targetByID[a.ID] = a
	}

	for _, t := range target {
		cur, existed := currentByID[t.ID]
		delta := AssetDelta{AssetID: t.ID, TargetQty: t.Quantity}
		switch {
		case !existed:
			delta.Action = ActionAdd
			delta.DeltaQty = t.Quantity
		default:
			delta.CurrentQty = cur.Quantity
			delta.DeltaQty = t.Quantity.Sub(cur.Quantity)
			switch {
			case delta.DeltaQty.IsPositive():
				delta.Action = ActionIncrease
			case delta.DeltaQty.IsNegative():
				delta.Action = ActionDecrease
			default:
				delta.Action = ActionUnchanged
			}
		}
		if !delta.DeltaQty.IsZero() {
			cost, err := e.estimateSlippage(ctx, delta.AssetID, delta.DeltaQty)
			if err != nil {
				return nil, err
			}
			delta.EstimatedCost = cost
		}
		plan.Deltas = append(plan.Deltas, delta)
		plan.EstimatedCost = plan.EstimatedCost.Add(delta.EstimatedCost)
	}
	for _, c := range current {
		if _, kept := targetByID[c.ID]; !kept {
			cost, err := e.estimateSlippage(ctx, c.ID, c.Quantity.Neg())
			if err != nil {
				return nil, err
			}
			plan.Deltas = append(plan.Deltas, AssetDelta{
				AssetID:       c.ID,
				Action:        ActionRemove,
				CurrentQty:    c.Quantity,
				DeltaQty:      c.Quantity.Neg(),
				EstimatedCost: cost,
			})
			plan.EstimatedCost = plan.EstimatedCost.Add(cost)
		}
	}
	return plan, nil
}

// estimateSlippage walks depth on the side the delta trades against and
// prices the fill against the mid. Positive delta buys into asks, negative
// sells into bids.
func (e *Engine) estimateSlippage(ctx context.Context, assetID string, deltaQty decimal.Decimal) (decimal.Decimal, error) {
	depth, err := e.venue.GetDepth(ctx, assetID)
	if err != nil {
		return decimal.Zero, pkgerrors.NewVenue("depth", err)
	}
	mid := depth.MidPrice()
	levels := depth.Asks
	qty := deltaQty
	if deltaQty.IsNegative() {
		levels = depth.Bids
		qty = deltaQty.Neg()
	}

	remaining := qty
	cost := decimal.Zero
	filled := decimal.Zero
	for _, l := range levels {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(remaining, l.Quantity)
		cost = cost.Add(take.Mul(l.Price))
		filled = filled.Add(take)
		remaining = remaining.Sub(take)
	}
	if !filled.IsPositive() {
		return decimal.Zero, nil
	}
	if deltaQty.IsNegative() {
		return filled.Mul(mid).Sub(cost), nil
	}
	return cost.Sub(filled.Mul(mid)), nil
}

// ExecutePlan executes all sell deltas as one batched order, then all buys,
// commits the new composition with reference price equal to execution price,
// and appends the record to history.
func (e *Engine) ExecutePlan(ctx context.Context, b *model.Basket, plan *Plan, positionID string) (*Result, error) {
	var sells, buys []venue.AssetOrder
	for _, d := range plan.Deltas {
		switch {
		case d.DeltaQty.IsNegative():
			sells = append(sells, venue.AssetOrder{AssetID: d.AssetID, Quantity: d.DeltaQty.Neg()})
		case d.DeltaQty.IsPositive():
			buys = append(buys, venue.AssetOrder{AssetID: d.AssetID, Quantity: d.DeltaQty})
		}
	}

	result := &Result{}
	execPrice := make(map[string]decimal.Decimal)

	if len(sells) > 0 {
		res, err := e.venue.Execute(ctx, model.SideSell, sells, positionID)
		if err != nil {
			return nil, pkgerrors.NewVenue("execute", err)
		}
		result.Executions = append(result.Executions, res)
		result.TotalLoss = result.TotalLoss.Add(res.TotalLoss)
		for _, pa := range res.PerAsset {
			if pa.AvgPrice.IsPositive() {
				execPrice[pa.AssetID] = pa.AvgPrice
			}
		}
	}
	if len(buys) > 0 {
		res, err := e.venue.Execute(ctx, model.SideBuy, buys, positionID)
		if err != nil {
			return nil, pkgerrors.NewVenue("execute", err)
		}
		result.Executions = append(result.Executions, res)
		result.TotalLoss = result.TotalLoss.Add(res.TotalLoss)
		for _, pa := range res.PerAsset {
			if pa.AvgPrice.IsPositive() {
				execPrice[pa.AssetID] = pa.AvgPrice
			}
		}
	}

	committed := make([]model.Asset, 0, len(plan.TargetAssets))
	for _, t := range plan.TargetAssets {
		a := t
		if price, ok := execPrice[t.ID]; ok {
			a.ReferencePrice = price
		} else {
			a.ReferencePrice = t.LivePrice
		}
		committed = append(committed, a)
	}
	diff, err := b.ReplaceAssets(committed)
	if err != nil {
		return nil, err
	}
	result.Diff = diff

	e.history.Append(Record{
		BasketID:   b.ID,
		Timestamp:  diff.Timestamp,
		TotalLoss:  result.TotalLoss,
		Executions: result.Executions,
		Diff:       diff,
	})
	e.logger.Info("rebalance committed",
		zap.String("basket_id", b.ID),
		zap.String("total_loss", result.TotalLoss.String()),
		zap.Int("added", len(diff.Added)),
		zap.Int("removed", len(diff.Removed)),
		zap.Int("changed", len(diff.Changed)),
	)
	return result, nil
}

// Rebalance plans and executes in one step, synthesizing the venue position
// from the instruction's position id.
func (e *Engine) Rebalance(ctx context.Context, basketID, positionID string) (decimal.Decimal, error) {
	b, err := e.baskets.Get(basketID)
	if err != nil {
		return decimal.Zero, err
	}
	plan, err := e.CreatePlan(ctx, b)
	if err != nil {
		return decimal.Zero, fmt.Errorf("create plan: %w", err)
	}
	result, err := e.ExecutePlan(ctx, b, plan, positionID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("execute plan: %w", err)
	}
	return result.TotalLoss, nil
}
