package venue

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/Aidin1998/basketexec/internal/execution/model"
	"github.com/Aidin1998/basketexec/pkg/metrics"
)

// RateLimited decorates a venue with client-side self-throttling that mirrors
// the venue's request ceiling. Calls that would exceed the budget suspend on
// the limiter until the window frees up instead of surfacing a rate error.
type RateLimited struct {
	inner   ExecutionVenue
	limiter *rate.Limiter
}

// NewRateLimited wraps inner with a budget of requests per window.
func NewRateLimited(inner ExecutionVenue, requests int, window time.Duration) *RateLimited {
	limit := rate.Every(window / time.Duration(requests))
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(limit, requests),
	}
}

func (v *RateLimited) GetDepth(ctx context.Context, assetID string) (Depth, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return Depth{}, err
	}
	start := time.Now()
	depth, err := v.inner.GetDepth(ctx, assetID)
	metrics.VenueLatency.WithLabelValues("depth").Observe(time.Since(start).Seconds())
	return depth, err
}

func (v *RateLimited) Execute(ctx context.Context, side model.Side, orders []AssetOrder, positionID string) (ExecutionResult, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return ExecutionResult{}, err
	}
	start := time.Now()
	res, err := v.inner.Execute(ctx, side, orders, positionID)
	metrics.VenueLatency.WithLabelValues("execute").Observe(time.Since(start).Seconds())
	return res, err
}

func (v *RateLimited) Cancel(ctx context.Context, positionID string, kind model.InstructionKind) (CancelResult, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return CancelResult{}, err
	}
	start := time.Now()
	res, err := v.inner.Cancel(ctx, positionID, kind)
	metrics.VenueLatency.WithLabelValues("cancel").Observe(time.Since(start).Seconds())
	return res, err
}
