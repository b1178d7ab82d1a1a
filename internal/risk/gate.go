package risk

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradekit/tradeloop/internal/model"
	"github.com/tradekit/tradeloop/internal/portfolio"
)

// Reason identifies why a signal was rejected
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonPositionLimit Reason = "POSITION_SIZE_LIMIT"
	ReasonMaxDrawdown   Reason = "MAX_DRAWDOWN"
	ReasonConcentration Reason = "CONCENTRATION_LIMIT"
	ReasonCheckError    Reason = "RISK_CHECK_ERROR"
)

// Decision is the outcome of a risk evaluation
type Decision struct {
	Admitted bool
	Reason   Reason
	Detail   string
}

// Config defines the gate limits. Zero values disable a check.
type Config struct {
	// MaxPositionSize caps the projected per-symbol quantity after the trade
	MaxPositionSize float64
	// MaxDrawdown caps drawdown from the high-water mark, as a fraction
	MaxDrawdown float64
}

// CheckFunc is an additional admission check hooked into the gate, e.g. a
// correlation or concentration model. Returning an error rejects the signal.
type CheckFunc func(signal model.Signal, qty float64, snap portfolio.Snapshot) error

// Gate evaluates sized signals against the configured limits. Checks run in
// a fixed order and short-circuit on the first failure. Any panic or error
// inside a check rejects the signal: the gate fails closed, never open.
type Gate struct {
	cfg    Config
	extra  []CheckFunc
	logger *zap.Logger

	mu        sync.Mutex
	highWater decimal.Decimal
}

// NewGate creates a risk gate with static limits
func NewGate(cfg Config, logger *zap.Logger) *Gate {
	return &Gate{cfg: cfg, logger: logger}
}

// AddCheck appends an extra admission check evaluated after the built-ins
func (g *Gate) AddCheck(check CheckFunc) {
	g.extra = append(g.extra, check)
}

// Evaluate admits or rejects a sized candidate signal
func (g *Gate) Evaluate(signal model.Signal, qty float64, snap portfolio.Snapshot) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("risk check panicked",
				zap.String("symbol", signal.Symbol),
				zap.String("strategy", signal.Strategy),
				zap.Any("panic", r),
			)
			decision = Decision{Reason: ReasonCheckError, Detail: fmt.Sprint(r)}
		}
	}()

	drawdown := g.observeDrawdown(snap.TotalValue)

	projected := g.projectedPosition(signal, qty, snap)
	if g.cfg.MaxPositionSize > 0 && projected > g.cfg.MaxPositionSize {
		return Decision{
			Reason: ReasonPositionLimit,
			Detail: fmt.Sprintf("projected position %.4f exceeds limit %.4f", projected, g.cfg.MaxPositionSize),
		}
	}

	if g.cfg.MaxDrawdown > 0 && drawdown > g.cfg.MaxDrawdown {
		return Decision{
			Reason: ReasonMaxDrawdown,
			Detail: fmt.Sprintf("drawdown %.4f exceeds limit %.4f", drawdown, g.cfg.MaxDrawdown),
		}
	}

	// Correlation/concentration extension point; admits when no check is set
	for _, check := range g.extra {
		if err := check(signal, qty, snap); err != nil {
			return Decision{Reason: ReasonConcentration, Detail: err.Error()}
		}
	}

	return Decision{Admitted: true}
}

// projectedPosition returns the absolute per-symbol quantity after the trade
func (g *Gate) projectedPosition(signal model.Signal, qty float64, snap portfolio.Snapshot) float64 {
	current := 0.0
	if pos, ok := snap.Positions[signal.Symbol]; ok {
		current = pos.Quantity.InexactFloat64()
	}
	switch signal.Direction {
	case model.DirectionBuy:
		current += qty
	case model.DirectionSell:
		current -= qty
	}
	if current < 0 {
		current = -current
	}
	return current
}

// observeDrawdown updates the high-water mark and returns the current
// drawdown as a fraction of it
func (g *Gate) observeDrawdown(totalValue decimal.Decimal) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if totalValue.GreaterThan(g.highWater) {
		g.highWater = totalValue
	}
	if g.highWater.Sign() <= 0 {
		return 0
	}
	return g.highWater.Sub(totalValue).Div(g.highWater).InexactFloat64()
}
