package strategy

import (
	"math"
	"sync"

	"github.com/tradekit/tradeloop/internal/model"
)

// Momentum signals in the direction of a single-step price move that exceeds
// a fractional threshold against the previous observation for the symbol
type Momentum struct {
	threshold float64

	mu   sync.Mutex
	last map[string]float64
}

// NewMomentum creates a momentum strategy. threshold is the fractional price
// change that triggers a signal, e.g. 0.01 for 1%.
func NewMomentum(threshold float64) *Momentum {
	return &Momentum{
		threshold: threshold,
		last:      make(map[string]float64),
	}
}

func (m *Momentum) Evaluate(event model.MarketEvent) (*model.Signal, error) {
	price := event.Price()
	if price <= 0 {
		return nil, nil
	}

	m.mu.Lock()
	prev, seen := m.last[event.Symbol]
	m.last[event.Symbol] = price
	m.mu.Unlock()

	if !seen || prev <= 0 {
		return nil, nil
	}

	change := (price - prev) / prev
	if math.Abs(change) < m.threshold {
		return nil, nil
	}

	direction := model.DirectionBuy
	if change < 0 {
		direction = model.DirectionSell
	}
	return &model.Signal{
		Symbol:     event.Symbol,
		Direction:  direction,
		Confidence: math.Min(1, math.Abs(change)/(4*m.threshold)),
		Timestamp:  event.Timestamp,
	}, nil
}
