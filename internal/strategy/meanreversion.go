package strategy

import (
	"math"
	"sync"

	"github.com/tradekit/tradeloop/internal/model"
)

// MeanReversion signals against price deviations from a rolling simple
// moving average: buy below the band, sell above it
type MeanReversion struct {
	window int
	band   float64 // fractional deviation from the mean that triggers

	mu      sync.Mutex
	history map[string][]float64
}

// NewMeanReversion creates a mean-reversion strategy over a rolling window
func NewMeanReversion(window int, band float64) *MeanReversion {
	if window < 2 {
		window = 2
	}
	return &MeanReversion{
		window:  window,
		band:    band,
		history: make(map[string][]float64),
	}
}

func (m *MeanReversion) Evaluate(event model.MarketEvent) (*model.Signal, error) {
	price := event.Price()
	if price <= 0 {
		return nil, nil
	}

	m.mu.Lock()
	prices := append(m.history[event.Symbol], price)
	if len(prices) > m.window {
		prices = prices[len(prices)-m.window:]
	}
	m.history[event.Symbol] = prices
	full := len(prices) == m.window
	var mean float64
	if full {
		for _, p := range prices {
			mean += p
		}
		mean /= float64(len(prices))
	}
	m.mu.Unlock()

	if !full || mean <= 0 {
		return nil, nil
	}

	deviation := (price - mean) / mean
	if math.Abs(deviation) < m.band {
		return nil, nil
	}

	direction := model.DirectionBuy
	if deviation > 0 {
		direction = model.DirectionSell
	}
	return &model.Signal{
		Symbol:     event.Symbol,
		Direction:  direction,
		Confidence: math.Min(1, math.Abs(deviation)/(2*m.band)),
		Timestamp:  event.Timestamp,
	}, nil
}
