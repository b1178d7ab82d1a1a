package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tradekit/tradeloop/internal/model"
	"github.com/tradekit/tradeloop/internal/portfolio"
)

func buySignal(strategy string) model.Signal {
	return model.Signal{Symbol: "AAPL", Direction: model.DirectionBuy, Confidence: 0.8, Strategy: strategy}
}

func snapshotWithCapital(capital float64) portfolio.Snapshot {
	return portfolio.NewBook(capital).Snapshot()
}

func TestSizer_KellyFraction(t *testing.T) {
	sizer := NewSizer(FixedStats{
		"momentum": {WinRate: 0.6, PayoffRatio: 2.0},
	}, zap.NewNop())

	// fraction = 0.6 - 0.4/2 = 0.4, halved to 0.2
	// qty = 0.2 * 1_000_000 / 100 = 2000
	qty, err := sizer.Size(buySignal("momentum"), snapshotWithCapital(1_000_000), 100.0)
	require.NoError(t, err)
	assert.InDelta(t, 2000.0, qty, 1e-9)
}

func TestSizer_NegativeFractionSkips(t *testing.T) {
	sizer := NewSizer(FixedStats{
		"coinflip": {WinRate: 0.4, PayoffRatio: 1.0},
	}, zap.NewNop())

	qty, err := sizer.Size(buySignal("coinflip"), snapshotWithCapital(1_000_000), 100.0)
	require.NoError(t, err)
	assert.Zero(t, qty, "a negative Kelly fraction must size to zero, not short")
}

func TestSizer_NoStatsSkips(t *testing.T) {
	sizer := NewSizer(FixedStats{}, zap.NewNop())

	qty, err := sizer.Size(buySignal("unknown"), snapshotWithCapital(1_000_000), 100.0)
	require.NoError(t, err)
	assert.Zero(t, qty)
}

func TestSizer_InvalidStats(t *testing.T) {
	tests := []struct {
		name  string
		stats Stats
	}{
		{"zero payoff", Stats{WinRate: 0.6, PayoffRatio: 0}},
		{"negative payoff", Stats{WinRate: 0.6, PayoffRatio: -1}},
		{"win rate above one", Stats{WinRate: 1.5, PayoffRatio: 2}},
		{"negative win rate", Stats{WinRate: -0.1, PayoffRatio: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sizer := NewSizer(FixedStats{"s": tt.stats}, zap.NewNop())
			_, err := sizer.Size(buySignal("s"), snapshotWithCapital(1_000_000), 100.0)
			assert.ErrorIs(t, err, ErrInvalidStats)
		})
	}
}

func TestSizer_NonPositivePriceSkips(t *testing.T) {
	sizer := NewSizer(FixedStats{
		"momentum": {WinRate: 0.6, PayoffRatio: 2.0},
	}, zap.NewNop())

	qty, err := sizer.Size(buySignal("momentum"), snapshotWithCapital(1_000_000), 0)
	require.NoError(t, err)
	assert.Zero(t, qty)

	qty, err = sizer.Size(buySignal("momentum"), snapshotWithCapital(1_000_000), -5)
	require.NoError(t, err)
	assert.Zero(t, qty)
}

func TestSizer_FractionClampedToOne(t *testing.T) {
	sizer := NewSizer(FixedStats{
		"sure-thing": {WinRate: 1.0, PayoffRatio: 10.0},
	}, zap.NewNop())

	qty, err := sizer.Size(buySignal("sure-thing"), snapshotWithCapital(100_000), 100.0)
	require.NoError(t, err)
	// fraction clamps at 1, halved to 0.5 of capital
	assert.InDelta(t, 500.0, qty, 1e-9)
}
