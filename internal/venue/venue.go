// Package venue defines the execution venue capability contract the core
// depends on: order book depth, batched execution, and position cancelation.
package venue

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/basketexec/internal/execution/model"
)

// PriceLevel is a single price/quantity entry in an order book side.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Depth is an order book snapshot for one asset. Bids are ordered best first
// (descending price), asks best first (ascending price).
type Depth struct {
	AssetID string       `json:"asset_id"`
	Bids    []PriceLevel `json:"bids"`
	Asks    []PriceLevel `json:"asks"`
}

// MidPrice returns the midpoint of the best bid and ask, or zero when either
// side is empty.
func (d Depth) MidPrice() decimal.Decimal {
	if len(d.Bids) == 0 || len(d.Asks) == 0 {
		return decimal.Zero
	}
	return d.Bids[0].Price.Add(d.Asks[0].Price).Div(decimal.NewFromInt(2))
}

// AssetOrder is one asset's slice of a batched venue order.
type AssetOrder struct {
	AssetID  string          `json:"asset_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// AssetExecution is the venue's per-asset execution outcome.
type AssetExecution struct {
	AssetID        string          `json:"asset_id"`
	RequestedQty   decimal.Decimal `json:"requested_qty"`
	FilledQty      decimal.Decimal `json:"filled_qty"`
	AvgPrice       decimal.Decimal `json:"avg_price"`
	RealizedLoss   decimal.Decimal `json:"realized_loss"`
}

// ExecutionResult is the venue's outcome for one batched order. FilledQuantity
// is expressed in basket units: the fraction of the requested basket quantity
// the venue filled, scaled to the original target.
type ExecutionResult struct {
	PositionID     string           `json:"position_id"`
	FilledQuantity decimal.Decimal  `json:"filled_quantity"`
	TotalLoss      decimal.Decimal  `json:"total_loss"`
	PerAsset       []AssetExecution `json:"per_asset"`
}

// CancelResult reports the state of a position at the moment the venue
// canceled it.
type CancelResult struct {
	FillPercentBeforeCancel decimal.Decimal `json:"fill_percent_before_cancel"`
	LossBeforeCancel        decimal.Decimal `json:"loss_before_cancel"`
}

// ExecutionVenue is the abstract venue the core trades against. The venue
// enforces its own request-rate ceiling; implementations must suspend the
// caller until the window resets rather than erroring when the budget is
// exhausted. All failures are reported as *errors.VenueError by callers.
type ExecutionVenue interface {
	// GetDepth returns the current order book snapshot for an asset.
	GetDepth(ctx context.Context, assetID string) (Depth, error)

	// Execute submits a batched per-asset order on the given side.
	Execute(ctx context.Context, side model.Side, orders []AssetOrder, positionID string) (ExecutionResult, error)

	// Cancel cancels the venue-side position and reports its partial state.
	Cancel(ctx context.Context, positionID string, kind model.InstructionKind) (CancelResult, error)
}
