// Package model defines the basket and instruction data model shared by the
// execution core: assets, baskets, instructions, and the venue wire types.
package model

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Instruction kinds.
type InstructionKind string

const (
	KindBuy       InstructionKind = "BUY"
	KindSell      InstructionKind = "SELL"
	KindCancel    InstructionKind = "CANCEL"
	KindRebalance InstructionKind = "REBALANCE"
)

// ParseKind validates a raw instruction kind from the submission boundary.
func ParseKind(raw string) (InstructionKind, error) {
	switch InstructionKind(raw) {
	case KindBuy, KindSell, KindCancel, KindRebalance:
		return InstructionKind(raw), nil
	}
	return "", fmt.Errorf("unknown instruction kind: %q", raw)
}

// Instruction statuses. PENDING and PROCESSING are active; the rest are terminal.
type InstructionStatus string

const (
	StatusPending         InstructionStatus = "PENDING"
	StatusProcessing      InstructionStatus = "PROCESSING"
	StatusFilled          InstructionStatus = "FILLED"
	StatusPartiallyFilled InstructionStatus = "PARTIALLY_FILLED"
	StatusCanceled        InstructionStatus = "CANCELED"
	StatusFailed          InstructionStatus = "FAILED"
)

// Terminal reports whether the status ends the instruction lifecycle.
func (s InstructionStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusPartiallyFilled, StatusCanceled, StatusFailed:
		return true
	}
	return false
}

// Active reports whether the instruction may still be dispatched or processed.
func (s InstructionStatus) Active() bool {
	return s == StatusPending || s == StatusProcessing
}

// Order sides on the venue.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ExecutionEvent is one entry in an instruction's execution log.
type ExecutionEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note"`
}

// Instruction is a unit of trading intent. Identity and parameters are fixed
// at submission; lifecycle state mutates only through UpdateStatus and
// RecordExecution, which both stamp UpdatedAt.
//
// Ownership discipline: exactly one component (queue buffer, processing list,
// or history) holds an instruction at any instant. Callers must not call
// UpdateStatus after a terminal status has been set.
type Instruction struct {
	ID             uuid.UUID       `json:"id"`
	Kind           InstructionKind `json:"kind"`
	PositionID     string          `json:"position_id"`
	BasketID       string          `json:"basket_id,omitempty"`
	TargetQuantity decimal.Decimal `json:"target_quantity"`
	LimitPrice     decimal.Decimal `json:"limit_price"`
	SubmittedAt    time.Time       `json:"submitted_at"`
	CreatedAt      time.Time       `json:"created_at"`

	mu           sync.Mutex
	status       InstructionStatus
	fillPercent  decimal.Decimal
	realizedLoss decimal.Decimal
	log          []ExecutionEvent
	updatedAt    time.Time
}

// NewInstruction creates a pending instruction with a fresh identity.
func NewInstruction(kind InstructionKind, positionID, basketID string, targetQuantity, limitPrice decimal.Decimal) *Instruction {
	now := time.Now()
	return &Instruction{
		ID:             uuid.New(),
		Kind:           kind,
		PositionID:     positionID,
		BasketID:       basketID,
		TargetQuantity: targetQuantity,
		LimitPrice:     limitPrice,
		SubmittedAt:    now,
		CreatedAt:      now,
		status:         StatusPending,
		updatedAt:      now,
	}
}

// UpdateStatus transitions the instruction and appends note to the execution
// log when non-empty. It is the single entry point for lifecycle mutation.
func (in *Instruction) UpdateStatus(status InstructionStatus, note string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.status = status
	if note != "" {
		in.log = append(in.log, ExecutionEvent{Timestamp: time.Now(), Note: note})
	}
	in.updatedAt = time.Now()
}

// RecordExecution stores the measured fill percentage and realized loss from
// a venue execution or cancel result.
func (in *Instruction) RecordExecution(fillPercent, realizedLoss decimal.Decimal) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.fillPercent = fillPercent
	in.realizedLoss = realizedLoss
	in.updatedAt = time.Now()
}

// Status returns the current lifecycle status.
func (in *Instruction) Status() InstructionStatus {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.status
}

// FillPercent returns the recorded fill percentage in [0, 100].
func (in *Instruction) FillPercent() decimal.Decimal {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.fillPercent
}

// RealizedLoss returns the signed cost impact recorded for the instruction.
func (in *Instruction) RealizedLoss() decimal.Decimal {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.realizedLoss
}

// UpdatedAt returns the time of the last lifecycle mutation.
func (in *Instruction) UpdatedAt() time.Time {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.updatedAt
}

// Log returns a copy of the execution log.
func (in *Instruction) Log() []ExecutionEvent {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]ExecutionEvent, len(in.log))
	copy(out, in.log)
	return out
}

// InstructionView is an immutable snapshot of an instruction for API responses.
type InstructionView struct {
	ID             uuid.UUID         `json:"id"`
	Kind           InstructionKind   `json:"kind"`
	PositionID     string            `json:"position_id"`
	BasketID       string            `json:"basket_id,omitempty"`
	TargetQuantity decimal.Decimal   `json:"target_quantity"`
	LimitPrice     decimal.Decimal   `json:"limit_price"`
	Status         InstructionStatus `json:"status"`
	FillPercent    decimal.Decimal   `json:"fill_percent"`
	RealizedLoss   decimal.Decimal   `json:"realized_loss"`
	Log            []ExecutionEvent  `json:"execution_log"`
	SubmittedAt    time.Time         `json:"submitted_at"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// View captures a consistent snapshot of the instruction.
func (in *Instruction) View() InstructionView {
	in.mu.Lock()
	defer in.mu.Unlock()
	log := make([]ExecutionEvent, len(in.log))
	copy(log, in.log)
	return InstructionView{
		ID:             in.ID,
		Kind:           in.Kind,
		PositionID:     in.PositionID,
		BasketID:       in.BasketID,
		TargetQuantity: in.TargetQuantity,
		LimitPrice:     in.LimitPrice,
		Status:         in.status,
		FillPercent:    in.fillPercent,
		RealizedLoss:   in.realizedLoss,
		Log:            log,
		SubmittedAt:    in.SubmittedAt,
		CreatedAt:      in.CreatedAt,
		UpdatedAt:      in.updatedAt,
	}
}
