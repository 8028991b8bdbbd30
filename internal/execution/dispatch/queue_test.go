package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

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

// staticRanker ranks every instruction with a fixed fillable percent per
// position id.
type staticRanker struct {
	fillable map[string]decimal.Decimal
	err      map[string]error
}

func (r *staticRanker) QuickCheck(ctx context.Context, in *model.Instruction, b *model.Basket, v venue.ExecutionVenue) (decimal.Decimal, error) {
	if err := r.err[in.PositionID]; err != nil {
		return decimal.Zero, err
	}
	return r.fillable[in.PositionID], nil
}

type staticBaskets struct {
	basket *model.Basket
}

func (s *staticBaskets) Get(id string) (*model.Basket, error) {
	if s.basket == nil || s.basket.ID != id {
		return nil, fmt.Errorf("basket not found: %s", id)
	}
	return s.basket, nil
}

func testBasket(t *testing.T) *model.Basket {
	t.Helper()
	b, err := model.NewBasket("bkt-1", []model.Asset{
		{ID: "A", Quantity: dec("1"), ReferencePrice: dec("10"), LivePrice: dec("10")},
	})
	require.NoError(t, err)
	return b
}

func trade(kind model.InstructionKind, pos string) *model.Instruction {
	return model.NewInstruction(kind, pos, "bkt-1", dec("1"), dec("100"))
}

func TestQueue_RejectsUnknownKind(t *testing.T) {
	q := NewQueue(10, time.Minute, zap.NewNop())
	in := model.NewInstruction("SHORT", "pos-x", "bkt-1", dec("1"), dec("1"))
	assert.Error(t, q.Submit(in))
}

func TestQueue_WindowCapEnforced(t *testing.T) {
	q := NewQueue(100, 50*time.Millisecond, zap.NewNop())
	for i := 0; i < 150; i++ {
		require.NoError(t, q.Submit(trade(model.KindBuy, fmt.Sprintf("pos-%d", i))))
	}

	batch := q.NextBatch(context.Background(), nil, nil, nil)
	assert.Len(t, batch, 100)

	stats := q.Stats()
	assert.Equal(t, 50, stats.Queued[model.KindBuy])
	assert.Equal(t, 100, stats.Processing[model.KindBuy])

	q.CompleteBatch(markFilled(batch))

	// Window still open: nothing more may be admitted.
	assert.Empty(t, q.NextBatch(context.Background(), nil, nil, nil))

	time.Sleep(60 * time.Millisecond)
	second := q.NextBatch(context.Background(), nil, nil, nil)
	assert.Len(t, second, 50)
	q.CompleteBatch(markFilled(second))

	assert.Equal(t, 150, q.Stats().History)
}

func markFilled(batch []*model.Instruction) []*model.Instruction {
	for _, in := range batch {
		in.UpdateStatus(model.StatusFilled, "")
	}
	return batch
}

func TestQueue_PriorityOrder(t *testing.T) {
	q := NewQueue(10, time.Minute, zap.NewNop())
	require.NoError(t, q.Submit(trade(model.KindBuy, "buy-1")))
	require.NoError(t, q.Submit(trade(model.KindSell, "sell-1")))
	require.NoError(t, q.Submit(model.NewInstruction(model.KindRebalance, "reb-1", "bkt-1", decimal.Zero, decimal.Zero)))
	require.NoError(t, q.Submit(model.NewInstruction(model.KindCancel, "can-1", "bkt-1", decimal.Zero, decimal.Zero)))

	batch := q.NextBatch(context.Background(), nil, nil, nil)
	require.Len(t, batch, 4)
	assert.Equal(t, model.KindCancel, batch[0].Kind)
	assert.Equal(t, model.KindRebalance, batch[1].Kind)
}

func TestQueue_RankedAdmission(t *testing.T) {
	q := NewQueue(2, time.Minute, zap.NewNop())
	b := testBasket(t)
	ranker := &staticRanker{fillable: map[string]decimal.Decimal{
		"low":  dec("10"),
		"mid":  dec("50"),
		"high": dec("90"),
	}}

	require.NoError(t, q.Submit(trade(model.KindBuy, "low")))
	require.NoError(t, q.Submit(trade(model.KindSell, "high")))
	require.NoError(t, q.Submit(trade(model.KindBuy, "mid")))

	batch := q.NextBatch(context.Background(), ranker, &staticBaskets{basket: b}, nil)
	require.Len(t, batch, 2)
	assert.Equal(t, "high", batch[0].PositionID)
	assert.Equal(t, "mid", batch[1].PositionID)
}

func TestQueue_FailingEstimateExcludesOnlyThatInstruction(t *testing.T) {
	q := NewQueue(10, time.Minute, zap.NewNop())
	b := testBasket(t)
	ranker := &staticRanker{
		fillable: map[string]decimal.Decimal{"ok": dec("80")},
		err:      map[string]error{"bad": fmt.Errorf("estimator blew up")},
	}

	require.NoError(t, q.Submit(trade(model.KindBuy, "bad")))
	require.NoError(t, q.Submit(trade(model.KindBuy, "ok")))

	batch := q.NextBatch(context.Background(), ranker, &staticBaskets{basket: b}, nil)
	require.Len(t, batch, 1)
	assert.Equal(t, "ok", batch[0].PositionID)

	// The excluded instruction stays queued for the next tick.
	assert.Equal(t, 1, q.Stats().Queued[model.KindBuy])
}

func TestQueue_InFlightGate(t *testing.T) {
	q := NewQueue(10, time.Minute, zap.NewNop())
	require.NoError(t, q.Submit(trade(model.KindBuy, "pos-1")))

	batch := q.NextBatch(context.Background(), nil, nil, nil)
	require.Len(t, batch, 1)
	assert.True(t, q.Stats().InFlight)

	require.NoError(t, q.Submit(trade(model.KindBuy, "pos-2")))
	assert.Empty(t, q.NextBatch(context.Background(), nil, nil, nil))

	q.CompleteBatch(markFilled(batch))
	assert.False(t, q.Stats().InFlight)
	next := q.NextBatch(context.Background(), nil, nil, nil)
	assert.Len(t, next, 1)
}

func TestQueue_ConcurrentTicksAdmitOneBatch(t *testing.T) {
	q := NewQueue(100, time.Minute, zap.NewNop())
	for i := 0; i < 100; i++ {
		require.NoError(t, q.Submit(trade(model.KindBuy, fmt.Sprintf("pos-%d", i))))
	}

	var mu sync.Mutex
	var batches [][]*model.Instruction
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if batch := q.NextBatch(context.Background(), nil, nil, nil); batch != nil {
				mu.Lock()
				batches = append(batches, batch)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, batches, 1, "only one tick may win the in-flight gate")
	assert.Len(t, batches[0], 100)
}

func TestQueue_CompleteBatchEmptyIsNoOp(t *testing.T) {
	q := NewQueue(10, time.Minute, zap.NewNop())
	q.CompleteBatch(nil)
	assert.False(t, q.Stats().InFlight)
}

func TestQueue_CompleteBatchRequeuesRegressed(t *testing.T) {
	q := NewQueue(10, time.Minute, zap.NewNop())
	require.NoError(t, q.Submit(trade(model.KindBuy, "pos-1")))

	batch := q.NextBatch(context.Background(), nil, nil, nil)
	require.Len(t, batch, 1)

	// Lifecycle regressed it to pending: it returns to its buffer.
	q.CompleteBatch(batch)
	stats := q.Stats()
	assert.Equal(t, 1, stats.Queued[model.KindBuy])
	assert.Equal(t, 0, stats.Processing[model.KindBuy])
	assert.Equal(t, 0, stats.History)
	assert.False(t, stats.InFlight)
}

func TestQueue_RemovePending(t *testing.T) {
	q := NewQueue(10, time.Minute, zap.NewNop())
	in := trade(model.KindBuy, "pos-1")
	require.NoError(t, q.Submit(in))

	assert.True(t, q.Remove(in))
	assert.False(t, q.Remove(in))
	stats := q.Stats()
	assert.Equal(t, 0, stats.Queued[model.KindBuy])
	assert.Equal(t, 1, stats.History)
}

func TestQueue_FairSplitFallback(t *testing.T) {
	q := NewQueue(4, time.Minute, zap.NewNop())
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Submit(trade(model.KindBuy, fmt.Sprintf("buy-%d", i))))
		require.NoError(t, q.Submit(trade(model.KindSell, fmt.Sprintf("sell-%d", i))))
	}

	batch := q.NextBatch(context.Background(), nil, nil, nil)
	require.Len(t, batch, 4)

	buys, sells := 0, 0
	for _, in := range batch {
		switch in.Kind {
		case model.KindBuy:
			buys++
		case model.KindSell:
			sells++
		}
	}
	assert.Equal(t, 2, buys)
	assert.Equal(t, 2, sells)
}
