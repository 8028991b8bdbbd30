// Package lifecycle drives admitted instructions through their type-specific
// execution protocol against the venue and resolves their terminal or
// intermediate state.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Aidin1998/basketexec/internal/execution/liquidity"
	"github.com/Aidin1998/basketexec/internal/execution/model"
	"github.com/Aidin1998/basketexec/internal/venue"
	pkgerrors "github.com/Aidin1998/basketexec/pkg/errors"
	"github.com/Aidin1998/basketexec/pkg/metrics"
)

var (
	hundred       = decimal.NewFromInt(100)
	fullFillFloor = decimal.NewFromFloat(99.5)
)

// Sizer produces the full liquidity estimate used to size execution.
type Sizer interface {
	Estimate(ctx context.Context, in *model.Instruction, b *model.Basket, v venue.ExecutionVenue) (liquidity.Estimate, error)
}

// BasketResolver resolves basket ids.
type BasketResolver interface {
	Get(id string) (*model.Basket, error)
}

// PositionResolver resolves the latest instruction bound to a position id.
type PositionResolver interface {
	Lookup(positionID string) (*model.Instruction, error)
}

// PendingRemover takes a still-queued instruction out of its buffer, for
// cancels that resolve before the target ever reached the venue.
type PendingRemover interface {
	Remove(in *model.Instruction) bool
}

// Rebalancer plans and executes a full basket rebalance, returning the total
// realized loss.
type Rebalancer interface {
	Rebalance(ctx context.Context, basketID, positionID string) (decimal.Decimal, error)
}

// Engine is the instruction lifecycle engine. Per-instruction failures are
// caught at the instruction boundary; one instruction's failure never aborts
// its batch siblings.
type Engine struct {
	logger     *zap.Logger
	estimator  Sizer
	venue      venue.ExecutionVenue
	baskets    BasketResolver
	positions  PositionResolver
	queue      PendingRemover
	rebalancer Rebalancer
}

// NewEngine creates a lifecycle engine.
func NewEngine(
	logger *zap.Logger,
	estimator Sizer,
	v venue.ExecutionVenue,
	baskets BasketResolver,
	positions PositionResolver,
	queue PendingRemover,
	rebalancer Rebalancer,
) *Engine {
	return &Engine{
		logger:     logger,
		estimator:  estimator,
		venue:      v,
		baskets:    baskets,
		positions:  positions,
		queue:      queue,
		rebalancer: rebalancer,
	}
}

// ProcessBatch resolves an admitted batch. Cancels run first and
// synchronously, matching their admission priority; the remaining
// instructions fan out concurrently, bounded only by the batch size. The
// processed set is returned unconditionally for history accounting.
func (e *Engine) ProcessBatch(ctx context.Context, batch []*model.Instruction) []*model.Instruction {
	var rest []*model.Instruction
	for _, in := range batch {
		if in.Kind == model.KindCancel {
			e.process(ctx, in)
		} else {
			rest = append(rest, in)
		}
	}

	var g errgroup.Group
	for _, in := range rest {
		g.Go(func() error {
			e.process(ctx, in)
			return nil
		})
	}
	g.Wait()
	return batch
}

func (e *Engine) process(ctx context.Context, in *model.Instruction) {
	// A sibling cancel may have resolved this instruction already.
	if in.Status().Terminal() {
		return
	}

	switch in.Kind {
	case model.KindBuy, model.KindSell:
		e.processTrade(ctx, in)
	case model.KindCancel:
		e.processCancel(ctx, in)
	case model.KindRebalance:
		e.processRebalance(ctx, in)
	default:
		in.UpdateStatus(model.StatusFailed, "unknown instruction kind: "+string(in.Kind))
	}

	metrics.InstructionsProcessed.WithLabelValues(string(in.Kind), string(in.Status())).Inc()
}

// processTrade runs the buy/sell protocol: trigger check, liquidity sizing,
// venue execution, fill resolution. An untriggered limit or zero liquidity
// regresses the instruction to pending, which is an expected retryable
// outcome, not a fault.
func (e *Engine) processTrade(ctx context.Context, in *model.Instruction) {
	in.UpdateStatus(model.StatusProcessing, "")

	b, err := e.baskets.Get(in.BasketID)
	if err != nil {
		in.UpdateStatus(model.StatusFailed, "basket lookup: "+err.Error())
		return
	}

	price := b.CurrentValue()
	if in.Kind == model.KindBuy && in.LimitPrice.LessThan(price) {
		in.UpdateStatus(model.StatusPending, fmt.Sprintf("limit %s below basket price %s", in.LimitPrice, price))
		return
	}
	if in.Kind == model.KindSell && in.LimitPrice.GreaterThan(price) {
		in.UpdateStatus(model.StatusPending, fmt.Sprintf("limit %s above basket price %s", in.LimitPrice, price))
		return
	}

	est, err := e.estimator.Estimate(ctx, in, b, e.venue)
	if err != nil {
		in.UpdateStatus(model.StatusFailed, "liquidity estimate: "+err.Error())
		return
	}
	if !est.FillablePercent.IsPositive() {
		in.UpdateStatus(model.StatusPending, "no liquidity")
		return
	}

	side := model.SideBuy
	if in.Kind == model.KindSell {
		side = model.SideSell
	}
	res, err := e.venue.Execute(ctx, side, est.Orders(), in.PositionID)
	if err != nil {
		venueErr := pkgerrors.NewVenue("execute", err)
		in.UpdateStatus(model.StatusFailed, venueErr.Error())
		return
	}

	// res.FilledQuantity is the fraction of the submitted plan the venue
	// filled; the plan itself was scaled to the estimate.
	fillPercent := res.FilledQuantity.Mul(est.FillablePercent)
	if fillPercent.GreaterThanOrEqual(fullFillFloor) {
		in.RecordExecution(hundred, res.TotalLoss)
		in.UpdateStatus(model.StatusFilled, fmt.Sprintf("filled, loss %s", res.TotalLoss))
		return
	}
	in.RecordExecution(fillPercent, res.TotalLoss)
	in.UpdateStatus(model.StatusPartiallyFilled, fmt.Sprintf("partially filled %s%%, loss %s", fillPercent.Round(4), res.TotalLoss))
}

// processCancel resolves a cancel against its target instruction. A pending
// target is pulled from the queue without a venue call; a processing target
// is reconciled best-effort against the venue's cancel endpoint.
func (e *Engine) processCancel(ctx context.Context, in *model.Instruction) {
	in.UpdateStatus(model.StatusProcessing, "")

	target, err := e.positions.Lookup(in.PositionID)
	if err != nil {
		in.UpdateStatus(model.StatusFailed, "target lookup: "+err.Error())
		return
	}
	if target.Status().Terminal() {
		in.UpdateStatus(model.StatusFailed, "cannot cancel a completed instruction")
		return
	}

	if target.Status() == model.StatusPending {
		// The target is either still buffered or co-admitted into this very
		// batch; cancels run first, so it has not reached the venue yet.
		e.queue.Remove(target)
		target.UpdateStatus(model.StatusCanceled, "canceled before dispatch")
		in.RecordExecution(hundred, decimal.Zero)
		in.UpdateStatus(model.StatusFilled, "target canceled while queued")
		return
	}

	res, err := e.venue.Cancel(ctx, in.PositionID, target.Kind)
	if err != nil {
		venueErr := pkgerrors.NewVenue("cancel", err)
		in.UpdateStatus(model.StatusFailed, venueErr.Error())
		return
	}
	target.RecordExecution(res.FillPercentBeforeCancel, res.LossBeforeCancel)
	target.UpdateStatus(model.StatusCanceled, fmt.Sprintf("canceled at %s%% filled", res.FillPercentBeforeCancel.Round(4)))
	in.RecordExecution(hundred, decimal.Zero)
	in.UpdateStatus(model.StatusFilled, "target canceled at venue")
}

// processRebalance delegates to the rebalance engine.
func (e *Engine) processRebalance(ctx context.Context, in *model.Instruction) {
	in.UpdateStatus(model.StatusProcessing, "")

	totalLoss, err := e.rebalancer.Rebalance(ctx, in.BasketID, in.PositionID)
	if err != nil {
		in.UpdateStatus(model.StatusFailed, "rebalance: "+err.Error())
		return
	}
	in.RecordExecution(hundred, totalLoss)
	in.UpdateStatus(model.StatusFilled, fmt.Sprintf("rebalance complete, loss %s", totalLoss))
}
