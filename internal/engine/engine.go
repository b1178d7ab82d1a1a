package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tradekit/tradeloop/internal/model"
	"github.com/tradekit/tradeloop/internal/msg"
	"github.com/tradekit/tradeloop/internal/order"
	"github.com/tradekit/tradeloop/internal/portfolio"
	"github.com/tradekit/tradeloop/internal/risk"
	"github.com/tradekit/tradeloop/internal/sizing"
	"github.com/tradekit/tradeloop/internal/store"
	"github.com/tradekit/tradeloop/internal/strategy"
	"github.com/tradekit/tradeloop/internal/telemetry"
)

// ErrEngineStopped is returned by Enqueue after Stop
var ErrEngineStopped = errors.New("engine stopped")

// SnapshotCacheKey is where the latest portfolio snapshot lands in the cache
const SnapshotCacheKey = "portfolio:snapshot"

// EventPublisher announces terminal order states; satisfied by msg.Producer.
// Publishing is fire-and-forget and never blocks the pipeline.
type EventPublisher interface {
	ProduceJSON(ctx context.Context, topic string, key string, v any) error
}

// Config tunes the control loop
type Config struct {
	QueueCapacity     int
	Workers           int
	SnapshotCacheTTL  time.Duration
	ReconcileInterval time.Duration
	Order             order.Config
}

// DefaultConfig returns the loop defaults
func DefaultConfig() Config {
	return Config{
		QueueCapacity:     1024,
		Workers:           4,
		SnapshotCacheTTL:  time.Second,
		ReconcileInterval: 30 * time.Second,
		Order:             order.DefaultConfig(),
	}
}

// Deps are the collaborators injected into the engine
type Deps struct {
	Strategies *strategy.Engine
	Gate       *risk.Gate
	Sizer      *sizing.Sizer
	Venue      order.Venue
	Store      store.Store
	Cache      store.Cache
	Book       *portfolio.Book
	Sink       telemetry.Sink
	Events     EventPublisher // optional
	Logger     *zap.Logger
}

// Engine drains the bounded event queue through the strategy, risk, sizing
// and order stages. Events are partitioned to workers by symbol, so events
// for one symbol are always pipelined in arrival order; no ordering is
// guaranteed across symbols.
type Engine struct {
	cfg        Config
	strategies *strategy.Engine
	gate       *risk.Gate
	sizer      *sizing.Sizer
	orders     *order.Manager
	book       *portfolio.Book
	store      store.Store
	cache      store.Cache
	sink       telemetry.Sink
	events     EventPublisher
	logger     *zap.Logger

	queues        []chan model.MarketEvent
	runCtx        context.Context
	reconcileStop chan struct{}

	workerWG  sync.WaitGroup
	enqueueWG sync.WaitGroup
	mu        sync.Mutex
	started   bool
	stopped   bool
}

// New creates an engine. The order manager is built here so that executed
// orders flow back into the portfolio book.
func New(cfg Config, deps Deps) *Engine {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultConfig().QueueCapacity
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = DefaultConfig().ReconcileInterval
	}
	if deps.Sink == nil {
		deps.Sink = telemetry.Nop{}
	}

	e := &Engine{
		cfg:        cfg,
		strategies: deps.Strategies,
		gate:       deps.Gate,
		sizer:      deps.Sizer,
		book:       deps.Book,
		store:      deps.Store,
		cache:      deps.Cache,
		sink:       deps.Sink,
		events:     deps.Events,
		logger:     deps.Logger,
	}
	e.orders = order.NewManager(cfg.Order, deps.Venue, deps.Store, e, deps.Sink, deps.Logger)

	e.queues = make([]chan model.MarketEvent, cfg.Workers)
	for i := range e.queues {
		e.queues[i] = make(chan model.MarketEvent, cfg.QueueCapacity)
	}
	return e
}

// Orders exposes the order manager for tooling and tests
func (e *Engine) Orders() *order.Manager {
	return e.orders
}

// Start launches the worker pool
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true

	// Workers keep their context past Stop so in-flight orders reach a
	// terminal state instead of being aborted mid-transition
	e.runCtx = context.WithoutCancel(ctx)

	for i := range e.queues {
		queue := e.queues[i]
		e.workerWG.Add(1)
		go func(worker int) {
			defer e.workerWG.Done()
			for event := range queue {
				e.processEvent(e.runCtx, event)
			}
		}(i)
	}

	e.reconcileStop = make(chan struct{})
	go e.reconcileLoop()

	e.logger.Info("engine started",
		zap.Int("workers", e.cfg.Workers),
		zap.Int("queue_capacity", e.cfg.QueueCapacity),
	)
}

// reconcileLoop periodically replays queued durable finalizations so a
// mid-run persistence failure does not wait for shutdown
func (e *Engine) reconcileLoop() {
	ticker := time.NewTicker(e.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.reconcileStop:
			return
		case <-ticker.C:
			e.orders.RetryReconciliation(e.runCtx)
		}
	}
}

// Enqueue routes an event to its symbol's worker. It blocks while that
// worker's queue is full, applying backpressure to the ingestor.
func (e *Engine) Enqueue(ctx context.Context, event model.MarketEvent) error {
	e.mu.Lock()
	if e.stopped || !e.started {
		e.mu.Unlock()
		return ErrEngineStopped
	}
	e.enqueueWG.Add(1)
	e.mu.Unlock()
	defer e.enqueueWG.Done()

	queue := e.queues[e.partition(event.Symbol)]
	select {
	case queue <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops accepting events, drains the queues, lets in-flight orders
// reach terminal states and replays pending durable writes. Orders still
// non-terminal afterwards are left persisted for the reconciler.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	e.enqueueWG.Wait()
	for _, queue := range e.queues {
		close(queue)
	}
	e.workerWG.Wait()

	close(e.reconcileStop)
	e.orders.RetryReconciliation(ctx)

	if open := e.orders.NonTerminal(); len(open) > 0 {
		for _, o := range open {
			e.logger.Warn("order left non-terminal at shutdown, needs reconciliation",
				zap.String("order_id", o.ID),
				zap.String("symbol", o.Symbol),
				zap.String("status", string(o.Status)),
			)
		}
	}

	e.logger.Info("engine stopped")
}

func (e *Engine) partition(symbol string) int {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(len(e.queues)))
}

func (e *Engine) processEvent(ctx context.Context, event model.MarketEvent) {
	e.book.MarkPrice(event.Symbol, event.Price(), event.Timestamp)

	for _, signal := range e.strategies.Process(event) {
		if signal.Direction == model.DirectionHold {
			continue
		}
		e.sink.IncCounter(telemetry.MetricSignalsEmitted, 1)
		e.processSignal(ctx, signal, event)
	}
}

func (e *Engine) processSignal(ctx context.Context, signal model.Signal, event model.MarketEvent) {
	price := event.Price()

	// A fresh snapshot per sizing decision; never reused stale
	snap := e.book.Snapshot()

	qty, err := e.sizer.Size(signal, snap, price)
	if err != nil {
		e.logger.Error("sizing contract violation",
			zap.String("symbol", signal.Symbol),
			zap.String("strategy", signal.Strategy),
			zap.Error(err),
		)
		return
	}
	if qty <= 0 {
		return
	}

	// Shorts are unsupported: cap a sell at the held quantity
	if signal.Direction == model.DirectionSell {
		pos, ok := snap.Positions[signal.Symbol]
		if !ok {
			return
		}
		if held := pos.Quantity.InexactFloat64(); qty > held {
			qty = held
		}
		if qty <= 0 {
			return
		}
	}

	created := e.orders.Create(signal, qty, price)

	start := time.Now()
	decision := e.gate.Evaluate(signal, qty, snap)
	e.sink.ObserveLatency(telemetry.MetricRiskEvalLatency, time.Since(start))

	if !decision.Admitted {
		reason := string(decision.Reason)
		if decision.Detail != "" {
			reason = fmt.Sprintf("%s: %s", decision.Reason, decision.Detail)
		}
		rejected, err := e.orders.Reject(ctx, created.ID, reason)
		if err != nil {
			e.logger.Error("failed to reject order", zap.String("order_id", created.ID), zap.Error(err))
			return
		}
		e.logger.Info("signal rejected by risk gate",
			zap.String("order_id", rejected.ID),
			zap.String("symbol", rejected.Symbol),
			zap.String("reason", reason),
		)
		e.publishOrderEvent(ctx, rejected)
		return
	}

	final, err := e.orders.Submit(ctx, created.ID)
	if err != nil {
		e.logger.Error("order submission failed",
			zap.String("order_id", created.ID),
			zap.String("symbol", created.Symbol),
			zap.Error(err),
		)
	}
	if final.Status.Terminal() {
		e.publishOrderEvent(ctx, final)
	}
}

// ApplyExecutedOrder implements order.Applier: it mutates the position book,
// synchronizes the position to durable storage and refreshes gauges
func (e *Engine) ApplyExecutedOrder(o model.Order) error {
	if err := e.book.ApplyExecutedOrder(o); err != nil {
		return fmt.Errorf("failed to apply executed order %s: %w", o.ID, err)
	}

	e.syncPosition(o.Symbol)

	snap := e.book.Snapshot()
	e.sink.SetGauge(telemetry.MetricOpenPositions, float64(snap.PositionCount))
	e.sink.SetGauge(telemetry.MetricPortfolioValue, snap.TotalValue.InexactFloat64())
	if e.cache != nil {
		e.cache.Set(SnapshotCacheKey, snap, e.cfg.SnapshotCacheTTL)
	}
	return nil
}

// syncPosition mirrors one symbol's position into the durable store. A
// failure is logged and retried on the next trade; executed orders in the
// store remain the authoritative trail.
func (e *Engine) syncPosition(symbol string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if pos, ok := e.book.Position(symbol); ok {
		if err := e.store.SavePosition(ctx, pos); err != nil {
			e.logger.Error("failed to persist position",
				zap.String("symbol", symbol),
				zap.Error(err),
			)
		}
		return
	}
	if err := e.store.DeletePosition(ctx, symbol); err != nil {
		e.logger.Error("failed to delete closed position",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
	}
}

// LatestSnapshot returns the cached portfolio snapshot when fresh, falling
// back to a recomputation
func (e *Engine) LatestSnapshot() portfolio.Snapshot {
	if e.cache != nil {
		if v, ok := e.cache.Get(SnapshotCacheKey); ok {
			if snap, ok := v.(portfolio.Snapshot); ok {
				return snap
			}
		}
	}
	return e.book.Snapshot()
}

func (e *Engine) publishOrderEvent(ctx context.Context, o model.Order) {
	if e.events == nil {
		return
	}
	event := msg.OrderEventMsg{
		EventID:        uuid.New().String(),
		OrderID:        o.ID,
		Symbol:         o.Symbol,
		Side:           string(o.Direction),
		Qty:            o.Quantity,
		Status:         string(o.Status),
		Reason:         o.Reason,
		ExecutionPrice: o.ExecutionPrice,
		TsUnixMillis:   time.Now().UnixMilli(),
	}
	go func() {
		if err := e.events.ProduceJSON(context.WithoutCancel(ctx), msg.TopicOrderEvents, o.ID, event); err != nil {
			e.logger.Warn("failed to publish order event",
				zap.String("order_id", o.ID),
				zap.Error(err),
			)
		}
	}()
}
