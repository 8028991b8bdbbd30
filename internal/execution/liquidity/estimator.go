// Package liquidity estimates how much of an instruction the venue's order
// book depth can absorb, and produces the per-asset execution plan sized to
// that estimate.
package liquidity

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/basketexec/internal/execution/model"
	"github.com/Aidin1998/basketexec/internal/venue"
)

var hundred = decimal.NewFromInt(100)

// quickCheckLevels caps how many book levels the coarse ranking pass walks.
const quickCheckLevels = 3

// AssetPlan is the per-asset slice of an estimate.
type AssetPlan struct {
	AssetID         string          `json:"asset_id"`
	TargetQuantity  decimal.Decimal `json:"target_quantity"`
	PlannedQuantity decimal.Decimal `json:"planned_quantity"`
	FillablePercent decimal.Decimal `json:"fillable_percent"`
	Excluded        bool            `json:"excluded"`
}

// Estimate is the result of a full depth walk for one instruction.
type Estimate struct {
	FillablePercent decimal.Decimal `json:"fillable_percent"`
	Plan            []AssetPlan     `json:"plan"`
	WorstAsset      string          `json:"worst_asset"`
}

// Orders converts the plan into the venue order batch, dropping excluded and
// zero-quantity entries.
func (e Estimate) Orders() []venue.AssetOrder {
	out := make([]venue.AssetOrder, 0, len(e.Plan))
	for _, p := range e.Plan {
		if p.Excluded || !p.PlannedQuantity.IsPositive() {
			continue
		}
		out = append(out, venue.AssetOrder{AssetID: p.AssetID, Quantity: p.PlannedQuantity})
	}
	return out
}

// Estimator walks venue depth to size instruction fills. Assets whose target
// notional is below minNotional are excluded from the walk and treated as
// fully fillable, since the venue cannot execute sub-minimum clips.
type Estimator struct {
	minNotional decimal.Decimal
	logger      *zap.Logger
}

// NewEstimator creates an estimator with the configured minimum tradable
// notional.
func NewEstimator(minNotional decimal.Decimal, logger *zap.Logger) *Estimator {
	return &Estimator{minNotional: minNotional, logger: logger}
}

// Estimate computes the fillable percentage and per-asset plan for a buy or
// sell instruction against the given basket. The basket-level percentage is
// the minimum across non-excluded assets; every planned quantity is scaled
// uniformly to it so basket composition is preserved post-execution.
func (e *Estimator) Estimate(ctx context.Context, in *model.Instruction, b *model.Basket, v venue.ExecutionVenue) (Estimate, error) {
	if !in.TargetQuantity.IsPositive() {
		return Estimate{FillablePercent: hundred}, nil
	}

	assets := b.Assets()
	est := Estimate{FillablePercent: hundred, Plan: make([]AssetPlan, 0, len(assets))}
	worst := hundred.Add(decimal.NewFromInt(1))

	for _, a := range assets {
		target := a.Quantity.Mul(in.TargetQuantity)
		plan := AssetPlan{AssetID: a.ID, TargetQuantity: target}

		if target.Mul(a.LivePrice).LessThan(e.minNotional) {
			plan.Excluded = true
			plan.FillablePercent = hundred
			plan.PlannedQuantity = target
			est.Plan = append(est.Plan, plan)
			continue
		}

		depth, err := v.GetDepth(ctx, a.ID)
		if err != nil {
			return Estimate{}, fmt.Errorf("depth for %s: %w", a.ID, err)
		}
		plan.FillablePercent = walkFillable(sideLevels(depth, in.Kind), target, 0)
		est.Plan = append(est.Plan, plan)

		if plan.FillablePercent.LessThan(worst) {
			worst = plan.FillablePercent
			est.WorstAsset = a.ID
		}
	}

	if est.WorstAsset != "" {
		est.FillablePercent = worst
	}

	scale := est.FillablePercent.Div(hundred)
	for i := range est.Plan {
		est.Plan[i].PlannedQuantity = est.Plan[i].TargetQuantity.Mul(scale)
	}

	e.logger.Debug("liquidity estimate",
		zap.String("instruction_id", in.ID.String()),
		zap.String("basket_id", b.ID),
		zap.String("fillable_percent", est.FillablePercent.String()),
		zap.String("worst_asset", est.WorstAsset),
	)
	return est, nil
}

// QuickCheck ranks an instruction without a full depth walk. A buy whose
// limit is below the current basket price (symmetric for sell) cannot
// trigger and ranks at zero. Otherwise the heaviest constituent's top-of-book
// gives a rough worst-asset estimate. Used only to order admission, never to
// size execution.
func (e *Estimator) QuickCheck(ctx context.Context, in *model.Instruction, b *model.Basket, v venue.ExecutionVenue) (decimal.Decimal, error) {
	price := b.CurrentValue()
	if in.Kind == model.KindBuy && in.LimitPrice.LessThan(price) {
		return decimal.Zero, nil
	}
	if in.Kind == model.KindSell && in.LimitPrice.GreaterThan(price) {
		return decimal.Zero, nil
	}
	if !in.TargetQuantity.IsPositive() {
		return hundred, nil
	}

	heaviest, ok := heaviestAsset(b)
	if !ok {
		return hundred, nil
	}
	target := heaviest.Quantity.Mul(in.TargetQuantity)
	if target.Mul(heaviest.LivePrice).LessThan(e.minNotional) {
		return hundred, nil
	}

	depth, err := v.GetDepth(ctx, heaviest.ID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("depth for %s: %w", heaviest.ID, err)
	}
	return walkFillable(sideLevels(depth, in.Kind), target, quickCheckLevels), nil
}

// walkFillable accumulates book quantity best-price-first until target is
// met or depth (or the level cap, when non-zero) is exhausted.
func walkFillable(levels []venue.PriceLevel, target decimal.Decimal, maxLevels int) decimal.Decimal {
	if len(levels) == 0 {
		return decimal.Zero
	}
	reachable := decimal.Zero
	for i, l := range levels {
		if maxLevels > 0 && i >= maxLevels {
			break
		}
		reachable = reachable.Add(l.Quantity)
		if reachable.GreaterThanOrEqual(target) {
			return hundred
		}
	}
	return reachable.Div(target).Mul(hundred)
}

func sideLevels(d venue.Depth, kind model.InstructionKind) []venue.PriceLevel {
	if kind == model.KindSell {
		return d.Bids
	}
	return d.Asks
}

func heaviestAsset(b *model.Basket) (model.Asset, bool) {
	var best model.Asset
	found := false
	for _, a := range b.Assets() {
		if !found || a.Value().GreaterThan(best.Value()) {
			best = a
			found = true
		}
	}
	return best, found
}
