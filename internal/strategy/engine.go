package strategy

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tradekit/tradeloop/internal/model"
	"github.com/tradekit/tradeloop/internal/telemetry"
)

// ErrUnknownStrategy is returned when activating an unregistered name
var ErrUnknownStrategy = errors.New("strategy not registered")

// Strategy turns a market event into at most one candidate signal.
// Returning a nil signal means no opinion on this event.
type Strategy interface {
	Evaluate(event model.MarketEvent) (*model.Signal, error)
}

// Engine holds the strategy registry and runs every active strategy against
// each inbound event. One strategy's failure never aborts the others.
type Engine struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	active     []string // activation order, drives output ordering

	logger *zap.Logger
	sink   telemetry.Sink
}

// NewEngine creates an empty strategy engine
func NewEngine(logger *zap.Logger, sink telemetry.Sink) *Engine {
	if sink == nil {
		sink = telemetry.Nop{}
	}
	return &Engine{
		strategies: make(map[string]Strategy),
		logger:     logger,
		sink:       sink,
	}
}

// Register adds a strategy under a name. Registering the same name again
// replaces the instance and keeps its activation state.
func (e *Engine) Register(name string, s Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies[name] = s
}

// Activate marks a registered strategy as active. Activating an already
// active strategy is a no-op and keeps its original activation position.
func (e *Engine) Activate(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.strategies[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	for _, n := range e.active {
		if n == name {
			return nil
		}
	}
	e.active = append(e.active, name)
	return nil
}

// Deactivate removes a strategy from the active set. Idempotent.
func (e *Engine) Deactivate(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, n := range e.active {
		if n == name {
			e.active = append(e.active[:i], e.active[i+1:]...)
			return
		}
	}
}

// Active returns the active strategy names in activation order
func (e *Engine) Active() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, len(e.active))
	copy(out, e.active)
	return out
}

// Process runs all active strategies against the event, in activation order,
// and collects the non-nil signals they produce
func (e *Engine) Process(event model.MarketEvent) []model.Signal {
	e.mu.RLock()
	names := make([]string, len(e.active))
	copy(names, e.active)
	impls := make([]Strategy, len(names))
	for i, name := range names {
		impls[i] = e.strategies[name]
	}
	e.mu.RUnlock()

	var signals []model.Signal
	for i, name := range names {
		signal, err := e.runOne(name, impls[i], event)
		if err != nil {
			e.sink.IncCounter(telemetry.MetricStrategyErrors, 1)
			e.logger.Warn("strategy failed, skipping",
				zap.String("strategy", name),
				zap.String("symbol", event.Symbol),
				zap.Error(err),
			)
			continue
		}
		if signal == nil {
			continue
		}
		signal.Strategy = name
		if signal.Timestamp.IsZero() {
			signal.Timestamp = event.Timestamp
		}
		if signal.Confidence < 0 {
			signal.Confidence = 0
		}
		if signal.Confidence > 1 {
			signal.Confidence = 1
		}
		signals = append(signals, *signal)
	}
	return signals
}

// runOne isolates a single strategy evaluation, converting panics to errors
func (e *Engine) runOne(name string, s Strategy, event model.MarketEvent) (signal *model.Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			signal = nil
			err = fmt.Errorf("strategy %s panicked: %v", name, r)
		}
	}()
	return s.Evaluate(event)
}
