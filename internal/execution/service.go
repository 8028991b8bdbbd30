// Package execution wires the scheduling-and-execution core together behind
// one service facade: queue, estimator, lifecycle engine, rebalance engine,
// and the periodic dispatcher tick.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/basketexec/internal/execution/dispatch"
	"github.com/Aidin1998/basketexec/internal/execution/lifecycle"
	"github.com/Aidin1998/basketexec/internal/execution/liquidity"
	"github.com/Aidin1998/basketexec/internal/execution/model"
	"github.com/Aidin1998/basketexec/internal/execution/rebalance"
	"github.com/Aidin1998/basketexec/internal/execution/registry"
	"github.com/Aidin1998/basketexec/internal/venue"
	pkgerrors "github.com/Aidin1998/basketexec/pkg/errors"
)

// Service is the submission boundary consumed by the API layer.
type Service interface {
	Start() error
	Stop() error
	CreateBasket(id string, assets []model.Asset) (*model.Basket, error)
	GetBasket(id string) (*model.Basket, error)
	DeleteBasket(id string) error
	UpdateAssetPrice(basketID, assetID string, price decimal.Decimal) error
	SubmitTrade(kind model.InstructionKind, positionID, basketID string, quantity, limitPrice decimal.Decimal) (*model.Instruction, error)
	SubmitCancel(positionID string) (*model.Instruction, error)
	SubmitRebalance(basketID string) (*model.Instruction, error)
	InstructionStatus(positionID string) (model.InstructionView, error)
	Stats() dispatch.Stats
	RebalanceHistory(basketID string) []rebalance.Record
}

// Config holds the core's tunables.
type Config struct {
	// WindowCapacity is the venue's request budget per window, mirrored by
	// the dispatcher.
	WindowCapacity int
	// Window is the venue rate-limit window; also the default tick interval.
	Window time.Duration
	// TickInterval overrides the dispatch interval when non-zero.
	TickInterval time.Duration
	// MinNotional is the minimum tradable clip notional.
	MinNotional decimal.Decimal
}

type service struct {
	logger    *zap.Logger
	cfg       Config
	queue     *dispatch.Queue
	estimator *liquidity.Estimator
	engine    *lifecycle.Engine
	rebalance *rebalance.Engine
	baskets   *registry.BasketStore
	positions *registry.PositionRegistry
	venue     venue.ExecutionVenue

	stop    chan struct{}
	done    sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// NewService assembles the execution core against the given venue.
func NewService(logger *zap.Logger, cfg Config, v venue.ExecutionVenue) Service {
	baskets := registry.NewBasketStore()
	positions := registry.NewPositionRegistry()
	queue := dispatch.NewQueue(cfg.WindowCapacity, cfg.Window, logger)
	estimator := liquidity.NewEstimator(cfg.MinNotional, logger)
	rebal := rebalance.NewEngine(logger, baskets, v, rebalance.EqualWeightPolicy, rebalance.NewHistory())
	engine := lifecycle.NewEngine(logger, estimator, v, baskets, positions, queue, rebal)
	return &service{
		logger:    logger,
		cfg:       cfg,
		queue:     queue,
		estimator: estimator,
		engine:    engine,
		rebalance: rebal,
		baskets:   baskets,
		positions: positions,
		venue:     v,
		stop:      make(chan struct{}),
	}
}

// Start launches the periodic dispatcher tick.
func (s *service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("service already started")
	}
	interval := s.cfg.TickInterval
	if interval == 0 {
		interval = s.cfg.Window
	}
	s.started = true
	s.done.Add(1)
	go s.run(interval)
	s.logger.Info("execution service started",
		zap.Duration("tick_interval", interval),
		zap.Int("window_capacity", s.cfg.WindowCapacity),
	)
	return nil
}

// Stop halts the dispatcher tick and waits for the in-flight cycle.
func (s *service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	close(s.stop)
	s.done.Wait()
	s.started = false
	s.logger.Info("execution service stopped")
	return nil
}

func (s *service) run(interval time.Duration) {
	defer s.done.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Tick(context.Background())
		}
	}
}

// Tick runs one dispatch cycle: admit a batch, process it, release it.
// Exposed on the concrete type for deterministic tests.
func (s *service) Tick(ctx context.Context) int {
	batch := s.queue.NextBatch(ctx, s.estimator, s.baskets, s.venue)
	if len(batch) == 0 {
		return 0
	}
	processed := s.engine.ProcessBatch(ctx, batch)
	s.queue.CompleteBatch(processed)
	return len(processed)
}

// CreateBasket registers a new basket.
func (s *service) CreateBasket(id string, assets []model.Asset) (*model.Basket, error) {
	if id == "" {
		return nil, pkgerrors.NewValidation("basket_id", "basket id is required")
	}
	b, err := model.NewBasket(id, assets)
	if err != nil {
		return nil, pkgerrors.NewValidation("assets", err.Error())
	}
	if err := s.baskets.Put(b); err != nil {
		return nil, err
	}
	s.logger.Info("basket created", zap.String("basket_id", id), zap.Int("assets", b.Len()))
	return b, nil
}

// GetBasket returns a registered basket.
func (s *service) GetBasket(id string) (*model.Basket, error) {
	return s.baskets.Get(id)
}

// DeleteBasket removes a basket.
func (s *service) DeleteBasket(id string) error {
	if err := s.baskets.Delete(id); err != nil {
		return err
	}
	s.logger.Info("basket deleted", zap.String("basket_id", id))
	return nil
}

// UpdateAssetPrice sets the live price of one basket constituent.
func (s *service) UpdateAssetPrice(basketID, assetID string, price decimal.Decimal) error {
	if !price.IsPositive() {
		return pkgerrors.NewValidation("price", "price must be positive")
	}
	b, err := s.baskets.Get(basketID)
	if err != nil {
		return err
	}
	if err := b.UpdateLivePrice(assetID, price); err != nil {
		return pkgerrors.NewNotFound("asset", assetID)
	}
	return nil
}

// SubmitTrade queues a buy or sell instruction.
func (s *service) SubmitTrade(kind model.InstructionKind, positionID, basketID string, quantity, limitPrice decimal.Decimal) (*model.Instruction, error) {
	if kind != model.KindBuy && kind != model.KindSell {
		return nil, pkgerrors.NewValidation("kind", "trade kind must be BUY or SELL")
	}
	if positionID == "" {
		return nil, pkgerrors.NewValidation("position_id", "position id is required")
	}
	if !quantity.IsPositive() {
		return nil, pkgerrors.NewValidation("quantity", "quantity must be positive")
	}
	if !limitPrice.IsPositive() {
		return nil, pkgerrors.NewValidation("limit_price", "limit price must be positive")
	}
	if _, err := s.baskets.Get(basketID); err != nil {
		return nil, err
	}

	in := model.NewInstruction(kind, positionID, basketID, quantity, limitPrice)
	if err := s.positions.Bind(in); err != nil {
		return nil, err
	}
	if err := s.queue.Submit(in); err != nil {
		return nil, err
	}
	s.logger.Info("instruction queued",
		zap.String("kind", string(kind)),
		zap.String("position_id", positionID),
		zap.String("basket_id", basketID),
	)
	return in, nil
}

// SubmitCancel queues a cancel against an existing position.
func (s *service) SubmitCancel(positionID string) (*model.Instruction, error) {
	if positionID == "" {
		return nil, pkgerrors.NewValidation("position_id", "position id is required")
	}
	// Fail fast on unknown positions instead of queueing a doomed cancel.
	target, err := s.positions.Lookup(positionID)
	if err != nil {
		return nil, err
	}

	in := model.NewInstruction(model.KindCancel, positionID, target.BasketID, decimal.Zero, decimal.Zero)
	if err := s.queue.Submit(in); err != nil {
		return nil, err
	}
	s.logger.Info("cancel queued", zap.String("position_id", positionID))
	return in, nil
}

// SubmitRebalance queues a rebalance for a basket, synthesizing its position
// id from the basket id and submission time.
func (s *service) SubmitRebalance(basketID string) (*model.Instruction, error) {
	if _, err := s.baskets.Get(basketID); err != nil {
		return nil, err
	}
	positionID := fmt.Sprintf("%s:rebalance:%d", basketID, time.Now().UnixNano())
	in := model.NewInstruction(model.KindRebalance, positionID, basketID, decimal.Zero, decimal.Zero)
	if err := s.positions.Bind(in); err != nil {
		return nil, err
	}
	if err := s.queue.Submit(in); err != nil {
		return nil, err
	}
	s.logger.Info("rebalance queued", zap.String("basket_id", basketID), zap.String("position_id", positionID))
	return in, nil
}

// InstructionStatus returns a snapshot of the latest instruction bound to a
// position.
func (s *service) InstructionStatus(positionID string) (model.InstructionView, error) {
	in, err := s.positions.Lookup(positionID)
	if err != nil {
		return model.InstructionView{}, err
	}
	return in.View(), nil
}

// Stats returns dispatcher queue depths and window state.
func (s *service) Stats() dispatch.Stats {
	return s.queue.Stats()
}

// RebalanceHistory returns the append-only rebalance records for a basket.
func (s *service) RebalanceHistory(basketID string) []rebalance.Record {
	return s.rebalance.History().ForBasket(basketID)
}
