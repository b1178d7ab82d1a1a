package sizing

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tradekit/tradeloop/internal/model"
	"github.com/tradekit/tradeloop/internal/portfolio"
)

// ErrInvalidStats is returned when a stats provider yields inputs the Kelly
// formula cannot accept. This is a contract violation, not a skip.
var ErrInvalidStats = errors.New("invalid strategy stats")

// DefaultSafetyFactor scales down the raw Kelly fraction
const DefaultSafetyFactor = 0.5

// Stats are historical performance inputs for one strategy
type Stats struct {
	WinRate     float64
	PayoffRatio float64
}

// StatsProvider supplies per-strategy historical performance. The sizer does
// not compute these itself; they come from an external tracker.
type StatsProvider interface {
	Stats(strategy string) (Stats, bool)
}

// FixedStats is a static StatsProvider keyed by strategy name
type FixedStats map[string]Stats

func (f FixedStats) Stats(strategy string) (Stats, bool) {
	s, ok := f[strategy]
	return s, ok
}

// Sizer computes order quantities with fractional Kelly sizing
type Sizer struct {
	stats  StatsProvider
	safety float64
	logger *zap.Logger
}

// NewSizer creates a sizer with the default safety factor
func NewSizer(stats StatsProvider, logger *zap.Logger) *Sizer {
	return &Sizer{stats: stats, safety: DefaultSafetyFactor, logger: logger}
}

// Size returns the order quantity for a signal, or zero when the signal
// should be skipped (no stats, negative Kelly fraction, non-positive price)
func (s *Sizer) Size(signal model.Signal, snap portfolio.Snapshot, price float64) (float64, error) {
	stats, ok := s.stats.Stats(signal.Strategy)
	if !ok {
		s.logger.Debug("no stats for strategy, skipping signal",
			zap.String("strategy", signal.Strategy),
			zap.String("symbol", signal.Symbol),
		)
		return 0, nil
	}

	if stats.PayoffRatio <= 0 || stats.WinRate < 0 || stats.WinRate > 1 {
		return 0, fmt.Errorf("%w: winRate=%.4f payoffRatio=%.4f for %q",
			ErrInvalidStats, stats.WinRate, stats.PayoffRatio, signal.Strategy)
	}

	fraction := stats.WinRate - (1-stats.WinRate)/stats.PayoffRatio
	if fraction <= 0 {
		return 0, nil
	}
	if fraction > 1 {
		fraction = 1
	}

	if price <= 0 {
		s.logger.Warn("non-positive price, skipping signal",
			zap.String("symbol", signal.Symbol),
			zap.Float64("price", price),
		)
		return 0, nil
	}

	capital := snap.TotalValue.InexactFloat64()
	if capital <= 0 {
		return 0, nil
	}

	return fraction * s.safety * capital / price, nil
}
