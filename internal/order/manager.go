package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tradekit/tradeloop/internal/model"
	"github.com/tradekit/tradeloop/internal/telemetry"
)

var (
	// ErrUnknownOrder is returned for an identifier the manager never issued
	ErrUnknownOrder = errors.New("order not found")
	// ErrInvalidTransition is returned for a lifecycle transition the state
	// machine does not permit
	ErrInvalidTransition = errors.New("invalid order state transition")
	// ErrDispatchFailed is returned once the retry ceiling is exhausted
	ErrDispatchFailed = errors.New("order dispatch failed permanently")
)

// Fill is the venue's confirmation of an execution
type Fill struct {
	Price     float64
	Timestamp time.Time
}

// Venue accepts order submissions. This is the one external side effect with
// financial consequence; submissions must be idempotent by order identifier.
type Venue interface {
	Submit(ctx context.Context, order model.Order) (Fill, error)
}

// Store persists order intent and finalization durably. FinalizeExecution
// must apply set-if-not-already-executed semantics and report whether this
// call performed the transition.
type Store interface {
	SaveOrder(ctx context.Context, order model.Order) error
	FinalizeExecution(ctx context.Context, id string, price float64, ts time.Time) (bool, error)
}

// Applier receives executed orders; implemented by the portfolio book
type Applier interface {
	ApplyExecutedOrder(order model.Order) error
}

// Config bounds the dispatch retry loop
type Config struct {
	MaxAttempts  int           // retry ceiling, dispatch attempts per order
	RetryBackoff time.Duration // initial backoff, doubled per attempt
}

// DefaultConfig matches the bounded-retry policy used across the pipeline
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, RetryBackoff: 100 * time.Millisecond}
}

// Manager owns order lifecycle state: it assigns identifiers exactly once,
// dispatches to the venue with bounded retry, finalizes executions durably
// and hands executed orders to the portfolio applier.
type Manager struct {
	cfg     Config
	venue   Venue
	store   Store
	applier Applier
	sink    telemetry.Sink
	logger  *zap.Logger

	mu        sync.Mutex
	orders    map[string]*model.Order
	inflight  map[string]bool
	reconcile map[string]model.Order // executed orders awaiting durable finalization
}

// NewManager creates an order manager
func NewManager(cfg Config, venue Venue, store Store, applier Applier, sink telemetry.Sink, logger *zap.Logger) *Manager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}
	if sink == nil {
		sink = telemetry.Nop{}
	}
	return &Manager{
		cfg:       cfg,
		venue:     venue,
		store:     store,
		applier:   applier,
		sink:      sink,
		logger:    logger,
		orders:    make(map[string]*model.Order),
		inflight:  make(map[string]bool),
		reconcile: make(map[string]model.Order),
	}
}

// Create registers a new PENDING order for a sized signal. The identifier is
// assigned here, exactly once, and never reassigned on retry.
func (m *Manager) Create(signal model.Signal, qty, price float64) model.Order {
	o := model.Order{
		ID:        uuid.New().String(),
		Symbol:    signal.Symbol,
		Direction: signal.Direction,
		Quantity:  qty,
		Price:     price,
		Status:    model.OrderPending,
		Strategy:  signal.Strategy,
		CreatedAt: time.Now().UTC(),
	}
	m.mu.Lock()
	m.orders[o.ID] = &o
	m.mu.Unlock()
	return o
}

// Get returns a copy of the order with the given identifier
func (m *Manager) Get(id string) (model.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return model.Order{}, false
	}
	return *o, true
}

// NonTerminal returns copies of all orders not yet in a terminal state,
// the reconciliation surface for shutdown and restart
func (m *Manager) NonTerminal() []model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Order
	for _, o := range m.orders {
		if !o.Status.Terminal() {
			out = append(out, *o)
		}
	}
	return out
}

// Reject moves a PENDING order to REJECTED before dispatch. Only PENDING
// orders can be rejected.
func (m *Manager) Reject(ctx context.Context, id, reason string) (model.Order, error) {
	m.mu.Lock()
	o, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return model.Order{}, ErrUnknownOrder
	}
	if o.Status != model.OrderPending {
		copy := *o
		m.mu.Unlock()
		return copy, fmt.Errorf("%w: %s -> REJECTED", ErrInvalidTransition, copy.Status)
	}
	o.Status = model.OrderRejected
	o.Reason = reason
	copy := *o
	m.mu.Unlock()

	m.sink.IncCounter(telemetry.MetricOrdersRejected, 1)
	m.sink.ObserveLatency(telemetry.MetricOrderLatency, time.Since(copy.CreatedAt))
	if err := m.store.SaveOrder(ctx, copy); err != nil {
		m.logger.Error("failed to persist rejected order",
			zap.String("order_id", copy.ID),
			zap.Error(err),
		)
	}
	return copy, nil
}

// Submit dispatches a PENDING order to the venue with bounded retry.
// Submitting the same identifier twice is detected and returns the current
// order state without a second dispatch: at most one EXECUTED transition and
// one portfolio update happen per identifier.
func (m *Manager) Submit(ctx context.Context, id string) (model.Order, error) {
	m.mu.Lock()
	o, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return model.Order{}, ErrUnknownOrder
	}
	if m.inflight[id] || o.Status != model.OrderPending {
		copy := *o
		m.mu.Unlock()
		m.logger.Info("duplicate submission detected",
			zap.String("order_id", id),
			zap.String("status", string(copy.Status)),
		)
		return copy, nil
	}
	m.inflight[id] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.inflight, id)
		m.mu.Unlock()
	}()

	return m.dispatch(ctx, id)
}

func (m *Manager) dispatch(ctx context.Context, id string) (model.Order, error) {
	backoff := m.cfg.RetryBackoff

	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		submitted := m.transition(id, func(o *model.Order) {
			o.Status = model.OrderSubmitted
			o.Attempts = attempt
			if o.SubmittedAt.IsZero() {
				o.SubmittedAt = time.Now().UTC()
			}
		})

		// Persist intent before the side effect so a crash between dispatch
		// and finalization is visible to the reconciler
		if err := m.store.SaveOrder(ctx, submitted); err != nil {
			m.revertToPending(id, fmt.Sprintf("persistence error: %v", err))
			return m.copyOf(id), fmt.Errorf("failed to persist order intent: %w", err)
		}

		fill, err := m.venue.Submit(ctx, submitted)
		if err == nil {
			return m.finalize(ctx, id, fill)
		}

		m.logger.Warn("order dispatch failed",
			zap.String("order_id", id),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", m.cfg.MaxAttempts),
			zap.Error(err),
		)

		if attempt < m.cfg.MaxAttempts {
			m.sink.IncCounter(telemetry.MetricDispatchRetries, 1)
			m.revertToPending(id, err.Error())
			select {
			case <-ctx.Done():
				return m.fail(ctx, id, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return m.fail(ctx, id, err)
	}

	// Unreachable with MaxAttempts >= 1
	return m.copyOf(id), ErrDispatchFailed
}

// finalize completes the EXECUTED transition: durable set-if-not-executed
// first, then exactly one portfolio update
func (m *Manager) finalize(ctx context.Context, id string, fill Fill) (model.Order, error) {
	ts := fill.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	executed := m.transition(id, func(o *model.Order) {
		o.Status = model.OrderExecuted
		o.ExecutionPrice = fill.Price
		o.ExecutedAt = ts
	})

	applied, err := m.store.FinalizeExecution(ctx, id, fill.Price, ts)
	if err != nil {
		// The fill happened; never drop it. Queue the durable write for
		// reconciliation and keep going.
		m.mu.Lock()
		m.reconcile[id] = executed
		m.mu.Unlock()
		m.logger.Error("failed to persist execution, queued for reconciliation",
			zap.String("order_id", id),
			zap.Error(err),
		)
		applied = true
	}

	if applied {
		if err := m.applier.ApplyExecutedOrder(executed); err != nil {
			m.logger.Error("failed to apply executed order to portfolio",
				zap.String("order_id", id),
				zap.String("symbol", executed.Symbol),
				zap.Error(err),
			)
			return executed, err
		}
		m.sink.IncCounter(telemetry.MetricOrdersExecuted, 1)
	}

	m.sink.ObserveLatency(telemetry.MetricOrderLatency, time.Since(executed.CreatedAt))
	m.logger.Info("order executed",
		zap.String("order_id", id),
		zap.String("symbol", executed.Symbol),
		zap.String("side", string(executed.Direction)),
		zap.Float64("qty", executed.Quantity),
		zap.Float64("price", executed.ExecutionPrice),
		zap.Int("attempts", executed.Attempts),
	)
	return executed, nil
}

// fail marks the order permanently FAILED after the retry ceiling
func (m *Manager) fail(ctx context.Context, id string, cause error) (model.Order, error) {
	failed := m.transition(id, func(o *model.Order) {
		o.Status = model.OrderFailed
		o.Reason = cause.Error()
	})
	m.sink.IncCounter(telemetry.MetricOrdersFailed, 1)
	m.sink.ObserveLatency(telemetry.MetricOrderLatency, time.Since(failed.CreatedAt))
	if err := m.store.SaveOrder(ctx, failed); err != nil {
		m.logger.Error("failed to persist failed order",
			zap.String("order_id", id),
			zap.Error(err),
		)
	}
	m.logger.Error("order failed permanently, needs manual reconciliation",
		zap.String("order_id", id),
		zap.String("symbol", failed.Symbol),
		zap.Int("attempts", failed.Attempts),
		zap.Error(cause),
	)
	return failed, fmt.Errorf("%w: %s", ErrDispatchFailed, cause)
}

// RetryReconciliation replays queued durable finalizations. Called
// periodically and on shutdown.
func (m *Manager) RetryReconciliation(ctx context.Context) {
	m.mu.Lock()
	pending := make(map[string]model.Order, len(m.reconcile))
	for id, o := range m.reconcile {
		pending[id] = o
	}
	m.mu.Unlock()

	for id, o := range pending {
		if _, err := m.store.FinalizeExecution(ctx, id, o.ExecutionPrice, o.ExecutedAt); err != nil {
			m.logger.Warn("reconciliation retry failed",
				zap.String("order_id", id),
				zap.Error(err),
			)
			continue
		}
		m.mu.Lock()
		delete(m.reconcile, id)
		m.mu.Unlock()
		m.logger.Info("reconciled executed order", zap.String("order_id", id))
	}
}

func (m *Manager) transition(id string, mutate func(*model.Order)) model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[id]
	mutate(o)
	return *o
}

func (m *Manager) revertToPending(id, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[id]
	o.Status = model.OrderPending
	o.Reason = reason
}

func (m *Manager) copyOf(id string) model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok {
		return *o
	}
	return model.Order{}
}
