package strategy

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tradekit/tradeloop/internal/model"
)

type stubStrategy struct {
	signal *model.Signal
	err    error
	panics bool
	calls  int
}

func (s *stubStrategy) Evaluate(event model.MarketEvent) (*model.Signal, error) {
	s.calls++
	if s.panics {
		panic("stub exploded")
	}
	return s.signal, s.err
}

func tick(symbol string, price float64) model.MarketEvent {
	return model.MarketEvent{
		Symbol:    symbol,
		Timestamp: time.Now().UTC(),
		Fields:    map[string]float64{"price": price},
	}
}

func TestEngine_ActivationLifecycle(t *testing.T) {
	engine := NewEngine(zap.NewNop(), nil)
	engine.Register("a", &stubStrategy{})
	engine.Register("b", &stubStrategy{})

	require.NoError(t, engine.Activate("a"))
	require.NoError(t, engine.Activate("b"))
	assert.Equal(t, []string{"a", "b"}, engine.Active())

	// Re-activating keeps the original position
	require.NoError(t, engine.Activate("a"))
	assert.Equal(t, []string{"a", "b"}, engine.Active())

	engine.Deactivate("a")
	assert.Equal(t, []string{"b"}, engine.Active())
	engine.Deactivate("a")
	assert.Equal(t, []string{"b"}, engine.Active())

	err := engine.Activate("missing")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestEngine_InactiveStrategyNotEvaluated(t *testing.T) {
	engine := NewEngine(zap.NewNop(), nil)
	registered := &stubStrategy{}
	engine.Register("idle", registered)

	engine.Process(tick("AAPL", 100))
	assert.Zero(t, registered.calls, "registered but inactive strategies must not run")
}

func TestEngine_OneFailureDoesNotAbortOthers(t *testing.T) {
	engine := NewEngine(zap.NewNop(), nil)
	engine.Register("failing", &stubStrategy{err: errors.New("stale indicator")})
	engine.Register("panicking", &stubStrategy{panics: true})
	healthy := &stubStrategy{signal: &model.Signal{
		Symbol:     "AAPL",
		Direction:  model.DirectionBuy,
		Confidence: 0.7,
	}}
	engine.Register("healthy", healthy)

	require.NoError(t, engine.Activate("failing"))
	require.NoError(t, engine.Activate("panicking"))
	require.NoError(t, engine.Activate("healthy"))

	signals := engine.Process(tick("AAPL", 100))
	require.Len(t, signals, 1)
	assert.Equal(t, "healthy", signals[0].Strategy)
	assert.Equal(t, model.DirectionBuy, signals[0].Direction)
}

func TestEngine_SignalsTaggedAndOrdered(t *testing.T) {
	engine := NewEngine(zap.NewNop(), nil)
	engine.Register("first", &stubStrategy{signal: &model.Signal{Symbol: "AAPL", Direction: model.DirectionBuy, Confidence: 0.5}})
	engine.Register("second", &stubStrategy{signal: &model.Signal{Symbol: "AAPL", Direction: model.DirectionSell, Confidence: 0.6}})

	require.NoError(t, engine.Activate("second"))
	require.NoError(t, engine.Activate("first"))

	signals := engine.Process(tick("AAPL", 100))
	require.Len(t, signals, 2)
	assert.Equal(t, "second", signals[0].Strategy, "output order follows activation order")
	assert.Equal(t, "first", signals[1].Strategy)
	for _, s := range signals {
		assert.False(t, s.Timestamp.IsZero())
	}
}

func TestEngine_ConfidenceClamped(t *testing.T) {
	engine := NewEngine(zap.NewNop(), nil)
	engine.Register("hot", &stubStrategy{signal: &model.Signal{Symbol: "AAPL", Direction: model.DirectionBuy, Confidence: 3.5}})
	engine.Register("cold", &stubStrategy{signal: &model.Signal{Symbol: "AAPL", Direction: model.DirectionSell, Confidence: -1}})
	require.NoError(t, engine.Activate("hot"))
	require.NoError(t, engine.Activate("cold"))

	signals := engine.Process(tick("AAPL", 100))
	require.Len(t, signals, 2)
	assert.Equal(t, 1.0, signals[0].Confidence)
	assert.Equal(t, 0.0, signals[1].Confidence)
}

func TestMomentum_SignalsOnThresholdMove(t *testing.T) {
	m := NewMomentum(0.01)

	signal, err := m.Evaluate(tick("AAPL", 100))
	require.NoError(t, err)
	assert.Nil(t, signal, "first observation has no reference")

	signal, err = m.Evaluate(tick("AAPL", 100.5))
	require.NoError(t, err)
	assert.Nil(t, signal, "move below the threshold should not signal")

	signal, err = m.Evaluate(tick("AAPL", 103))
	require.NoError(t, err)
	require.NotNil(t, signal)
	assert.Equal(t, model.DirectionBuy, signal.Direction)
	assert.Greater(t, signal.Confidence, 0.0)

	signal, err = m.Evaluate(tick("AAPL", 100))
	require.NoError(t, err)
	require.NotNil(t, signal)
	assert.Equal(t, model.DirectionSell, signal.Direction)
}

func TestMeanReversion_BuysBelowBand(t *testing.T) {
	m := NewMeanReversion(3, 0.02)

	for _, price := range []float64{100, 100, 100} {
		_, err := m.Evaluate(tick("AAPL", price))
		require.NoError(t, err)
	}

	// 90 against a mean near 96.7 is well below the band: buy the dip
	signal, err := m.Evaluate(tick("AAPL", 90))
	require.NoError(t, err)
	require.NotNil(t, signal)
	assert.Equal(t, model.DirectionBuy, signal.Direction)
}
