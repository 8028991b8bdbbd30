// Package dispatch implements the priority-scheduling, rate-limited order
// queue. Four per-kind buffers feed a periodic batch admission that honors a
// sliding-window throughput cap and a single in-flight-batch gate.
package dispatch

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/basketexec/internal/execution/model"
	"github.com/Aidin1998/basketexec/internal/venue"
	pkgerrors "github.com/Aidin1998/basketexec/pkg/errors"
	"github.com/Aidin1998/basketexec/pkg/metrics"
)

// Ranker orders buy/sell admission by estimated fillability. A nil Ranker
// makes NextBatch fall back to a fair buy/sell split.
type Ranker interface {
	QuickCheck(ctx context.Context, in *model.Instruction, b *model.Basket, v venue.ExecutionVenue) (decimal.Decimal, error)
}

// BasketResolver resolves basket ids during ranking.
type BasketResolver interface {
	Get(id string) (*model.Basket, error)
}

// Queue is the four-buffer instruction queue and dispatcher. Buffer
// mutations are serialized under one mutex; estimator and venue calls happen
// outside that critical section. The in-flight gate is an atomic
// compare-and-set so two overlapping ticks can never admit overlapping
// batches.
type Queue struct {
	logger *zap.Logger

	mu         sync.Mutex
	buffers    map[model.InstructionKind][]*model.Instruction
	processing map[model.InstructionKind][]*model.Instruction
	history    []*model.Instruction
	window     rateWindow

	inFlight atomic.Bool
}

// NewQueue creates a queue capped at capacity admissions per window.
func NewQueue(capacity int, window time.Duration, logger *zap.Logger) *Queue {
	kinds := []model.InstructionKind{model.KindBuy, model.KindSell, model.KindCancel, model.KindRebalance}
	buffers := make(map[model.InstructionKind][]*model.Instruction, len(kinds))
	processing := make(map[model.InstructionKind][]*model.Instruction, len(kinds))
	for _, k := range kinds {
		buffers[k] = nil
		processing[k] = nil
	}
	return &Queue{
		logger:     logger,
		buffers:    buffers,
		processing: processing,
		window:     newRateWindow(capacity, window),
	}
}

// Submit appends an instruction to its kind's buffer. Unknown kinds are
// rejected at this boundary, never at dispatch time.
func (q *Queue) Submit(in *model.Instruction) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.buffers[in.Kind]; !ok {
		return pkgerrors.NewValidation("kind", "unknown instruction kind: "+string(in.Kind))
	}
	q.buffers[in.Kind] = append(q.buffers[in.Kind], in)
	metrics.QueueDepth.WithLabelValues(string(in.Kind)).Set(float64(len(q.buffers[in.Kind])))
	return nil
}

// Remove takes a still-queued instruction out of its buffer. Used when a
// cancel resolves a pending target that was never sent to the venue.
func (q *Queue) Remove(in *model.Instruction) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	buf := q.buffers[in.Kind]
	for i, queued := range buf {
		if queued.ID == in.ID {
			q.buffers[in.Kind] = append(buf[:i], buf[i+1:]...)
			q.history = append(q.history, in)
			metrics.QueueDepth.WithLabelValues(string(in.Kind)).Set(float64(len(q.buffers[in.Kind])))
			return true
		}
	}
	return false
}

// NextBatch admits the next rate-capped, priority-ordered batch: all queued
// cancels first, then rebalances, then buy/sell ranked by the ranker's quick
// check (descending fillable percent, descending notional tie-break). With a
// nil ranker the remaining capacity is split fairly between buys and sells,
// oldest first. Returns nil while a batch is in flight or the window is
// exhausted.
func (q *Queue) NextBatch(ctx context.Context, ranker Ranker, baskets BasketResolver, v venue.ExecutionVenue) []*model.Instruction {
	if !q.inFlight.CompareAndSwap(false, true) {
		return nil
	}

	q.mu.Lock()
	capacity := q.window.remaining(time.Now())
	if capacity == 0 {
		q.mu.Unlock()
		q.inFlight.Store(false)
		return nil
	}

	batch := make([]*model.Instruction, 0, capacity)
	batch = append(batch, q.drainLocked(model.KindCancel, capacity-len(batch))...)
	batch = append(batch, q.drainLocked(model.KindRebalance, capacity-len(batch))...)

	remaining := capacity - len(batch)
	var buys, sells []*model.Instruction
	if remaining > 0 {
		buys = append(buys, q.buffers[model.KindBuy]...)
		sells = append(sells, q.buffers[model.KindSell]...)
	}
	q.mu.Unlock()

	if remaining > 0 && len(buys)+len(sells) > 0 {
		var admitted []*model.Instruction
		if ranker == nil {
			admitted = fairSplit(buys, sells, remaining)
		} else {
			admitted = q.rank(ctx, ranker, baskets, v, append(buys, sells...), remaining)
		}

		q.mu.Lock()
		for _, in := range admitted {
			if q.removeFromBufferLocked(in) {
				batch = append(batch, in)
			}
		}
		q.mu.Unlock()
	}

	q.mu.Lock()
	for _, in := range batch {
		q.processing[in.Kind] = append(q.processing[in.Kind], in)
	}
	q.window.admit(len(batch))
	metrics.BatchSize.Observe(float64(len(batch)))
	metrics.WindowUsage.Set(float64(q.window.admitted))
	q.mu.Unlock()

	if len(batch) == 0 {
		q.inFlight.Store(false)
		return nil
	}

	q.logger.Debug("batch admitted",
		zap.Int("size", len(batch)),
		zap.Int("window_capacity", capacity),
	)
	return batch
}

// CompleteBatch releases each processed instruction from its processing
// list: terminal instructions move to history, instructions regressed to
// pending return to the back of their buffer for a later tick. It then
// clears the in-flight gate. This is the only path that clears the gate, so
// at most one batch is ever outstanding. An empty batch is a no-op.
func (q *Queue) CompleteBatch(batch []*model.Instruction) {
	if len(batch) == 0 {
		return
	}
	q.mu.Lock()
	for _, in := range batch {
		list := q.processing[in.Kind]
		for i, p := range list {
			if p.ID == in.ID {
				q.processing[in.Kind] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if in.Status().Terminal() {
			q.history = append(q.history, in)
		} else {
			q.buffers[in.Kind] = append(q.buffers[in.Kind], in)
			metrics.QueueDepth.WithLabelValues(string(in.Kind)).Set(float64(len(q.buffers[in.Kind])))
		}
	}
	q.mu.Unlock()
	q.inFlight.Store(false)
}

// Stats is a snapshot of queue state for the stats endpoint.
type Stats struct {
	Queued     map[model.InstructionKind]int `json:"queued"`
	Processing map[model.InstructionKind]int `json:"processing"`
	History    int                           `json:"history"`
	InFlight   bool                          `json:"in_flight"`
	Window     WindowState                   `json:"window"`
}

// Stats returns current queue depths and window state.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Stats{
		Queued:     make(map[model.InstructionKind]int, len(q.buffers)),
		Processing: make(map[model.InstructionKind]int, len(q.processing)),
		History:    len(q.history),
		InFlight:   q.inFlight.Load(),
		Window: WindowState{
			Capacity: q.window.capacity,
			Admitted: q.window.admitted,
			Start:    q.window.start,
			Interval: q.window.interval,
		},
	}
	for k, buf := range q.buffers {
		s.Queued[k] = len(buf)
	}
	for k, list := range q.processing {
		s.Processing[k] = len(list)
	}
	return s
}

func (q *Queue) drainLocked(kind model.InstructionKind, capacity int) []*model.Instruction {
	if capacity <= 0 {
		return nil
	}
	buf := q.buffers[kind]
	n := len(buf)
	if n > capacity {
		n = capacity
	}
	taken := buf[:n]
	q.buffers[kind] = buf[n:]
	metrics.QueueDepth.WithLabelValues(string(kind)).Set(float64(len(q.buffers[kind])))
	return taken
}

func (q *Queue) removeFromBufferLocked(in *model.Instruction) bool {
	buf := q.buffers[in.Kind]
	for i, queued := range buf {
		if queued.ID == in.ID {
			q.buffers[in.Kind] = append(buf[:i], buf[i+1:]...)
			metrics.QueueDepth.WithLabelValues(string(in.Kind)).Set(float64(len(q.buffers[in.Kind])))
			return true
		}
	}
	return false
}

type rankedInstruction struct {
	in       *model.Instruction
	fillable decimal.Decimal
	notional decimal.Decimal
}

// rank orders buy/sell candidates by quick-check fillability. An estimator
// failure excludes only that instruction from this tick's batch.
func (q *Queue) rank(ctx context.Context, ranker Ranker, baskets BasketResolver, v venue.ExecutionVenue, candidates []*model.Instruction, capacity int) []*model.Instruction {
	ranked := make([]rankedInstruction, 0, len(candidates))
	for _, in := range candidates {
		b, err := baskets.Get(in.BasketID)
		if err != nil {
			q.logger.Warn("ranking skipped instruction: basket missing",
				zap.String("instruction_id", in.ID.String()),
				zap.String("basket_id", in.BasketID),
			)
			continue
		}
		fillable, err := ranker.QuickCheck(ctx, in, b, v)
		if err != nil {
			q.logger.Warn("ranking skipped instruction: estimate failed",
				zap.String("instruction_id", in.ID.String()),
				zap.Error(err),
			)
			continue
		}
		ranked = append(ranked, rankedInstruction{
			in:       in,
			fillable: fillable,
			notional: in.TargetQuantity.Mul(b.CurrentValue()),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if !ranked[i].fillable.Equal(ranked[j].fillable) {
			return ranked[i].fillable.GreaterThan(ranked[j].fillable)
		}
		return ranked[i].notional.GreaterThan(ranked[j].notional)
	})

	if len(ranked) > capacity {
		ranked = ranked[:capacity]
	}
	out := make([]*model.Instruction, len(ranked))
	for i, r := range ranked {
		out[i] = r.in
	}
	return out
}

// fairSplit admits half the capacity from buys and the remainder from sells,
// oldest first. Capacity one side cannot use spills over to the other.
func fairSplit(buys, sells []*model.Instruction, capacity int) []*model.Instruction {
	buyShare := capacity / 2
	if buyShare > len(buys) {
		buyShare = len(buys)
	}
	sellShare := capacity - buyShare
	if sellShare > len(sells) {
		sellShare = len(sells)
	}
	if spill := capacity - buyShare - sellShare; spill > 0 {
		if extra := len(buys) - buyShare; extra > 0 {
			if extra > spill {
				extra = spill
			}
			buyShare += extra
		}
	}
	out := make([]*model.Instruction, 0, buyShare+sellShare)
	out = append(out, buys[:buyShare]...)
	out = append(out, sells[:sellShare]...)
	return out
}
