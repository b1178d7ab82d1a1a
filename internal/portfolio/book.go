package portfolio

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradekit/tradeloop/internal/model"
)

var (
	// ErrNotExecuted is returned when a non-executed order is applied
	ErrNotExecuted = errors.New("order is not executed")
	// ErrUnknownPosition is returned when selling a symbol with no position
	ErrUnknownPosition = errors.New("no position for symbol")
	// ErrOversell is returned when a sell exceeds the held quantity. Short
	// positions are not supported; this surfaces a logic error upstream.
	ErrOversell = errors.New("sell quantity exceeds held quantity")
)

// Position is the net holding and weighted-average cost basis for one symbol
type Position struct {
	Symbol      string
	Quantity    decimal.Decimal
	AvgPrice    decimal.Decimal
	LastPrice   decimal.Decimal
	RealizedPnL decimal.Decimal
	UpdatedAt   time.Time
}

// MarketValue returns quantity times the last known market price, falling
// back to the entry price before any mark
func (p Position) MarketValue() decimal.Decimal {
	price := p.LastPrice
	if price.IsZero() {
		price = p.AvgPrice
	}
	return p.Quantity.Mul(price)
}

// UnrealizedPnL returns the open profit against the average entry price
func (p Position) UnrealizedPnL() decimal.Decimal {
	if p.LastPrice.IsZero() {
		return decimal.Zero
	}
	return p.LastPrice.Sub(p.AvgPrice).Mul(p.Quantity)
}

// Snapshot is a derived, point-in-time view of the portfolio. It is
// recomputed on demand and never cached across a sizing decision.
type Snapshot struct {
	Cash          decimal.Decimal
	TotalValue    decimal.Decimal
	Return        decimal.Decimal
	RealizedPnL   decimal.Decimal
	PositionCount int
	LargestSymbol string
	LargestValue  decimal.Decimal
	Positions     map[string]Position
	Time          time.Time
}

// Book holds the in-memory position book and cash balance. Executed orders
// are the only mutation source; all methods are safe for concurrent use and
// a Snapshot never observes a torn position.
type Book struct {
	mu             sync.RWMutex
	cash           decimal.Decimal
	initialCapital decimal.Decimal
	realized       decimal.Decimal
	positions      map[string]*Position
}

// NewBook creates a book with the given starting cash balance
func NewBook(initialCapital float64) *Book {
	capital := decimal.NewFromFloat(initialCapital)
	return &Book{
		cash:           capital,
		initialCapital: capital,
		positions:      make(map[string]*Position),
	}
}

// MarkPrice records the latest market price for a symbol
func (b *Book) MarkPrice(symbol string, price float64, ts time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pos, ok := b.positions[symbol]; ok {
		pos.LastPrice = decimal.NewFromFloat(price)
		pos.UpdatedAt = ts
	}
}

// ApplyExecutedOrder applies a confirmed fill to the book. A BUY creates the
// position or recomputes the weighted-average entry price; a SELL decrements
// quantity at an unchanged average price and removes the position when the
// quantity reaches zero.
func (b *Book) ApplyExecutedOrder(order model.Order) error {
	if order.Status != model.OrderExecuted {
		return ErrNotExecuted
	}

	price := decimal.NewFromFloat(order.ExecutionPrice)
	qty := decimal.NewFromFloat(order.Quantity)
	notional := price.Mul(qty)

	b.mu.Lock()
	defer b.mu.Unlock()

	switch order.Direction {
	case model.DirectionBuy:
		b.cash = b.cash.Sub(notional)
		pos, ok := b.positions[order.Symbol]
		if !ok {
			b.positions[order.Symbol] = &Position{
				Symbol:    order.Symbol,
				Quantity:  qty,
				AvgPrice:  price,
				LastPrice: price,
				UpdatedAt: order.ExecutedAt,
			}
			return nil
		}
		total := pos.Quantity.Add(qty)
		pos.AvgPrice = pos.AvgPrice.Mul(pos.Quantity).Add(notional).Div(total)
		pos.Quantity = total
		pos.LastPrice = price
		pos.UpdatedAt = order.ExecutedAt
		return nil

	case model.DirectionSell:
		pos, ok := b.positions[order.Symbol]
		if !ok {
			return ErrUnknownPosition
		}
		if qty.GreaterThan(pos.Quantity) {
			return ErrOversell
		}
		b.cash = b.cash.Add(notional)
		gain := price.Sub(pos.AvgPrice).Mul(qty)
		pos.RealizedPnL = pos.RealizedPnL.Add(gain)
		b.realized = b.realized.Add(gain)
		pos.Quantity = pos.Quantity.Sub(qty)
		pos.LastPrice = price
		pos.UpdatedAt = order.ExecutedAt
		if pos.Quantity.Sign() <= 0 {
			delete(b.positions, order.Symbol)
		}
		return nil

	default:
		return ErrNotExecuted
	}
}

// Position returns a copy of the current position for a symbol
func (b *Book) Position(symbol string) (Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pos, ok := b.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Cash returns the current cash balance
func (b *Book) Cash() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cash
}

// Snapshot recomputes the portfolio view from current positions and cash
func (b *Book) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := Snapshot{
		Cash:          b.cash,
		TotalValue:    b.cash,
		RealizedPnL:   b.realized,
		PositionCount: len(b.positions),
		Positions:     make(map[string]Position, len(b.positions)),
		Time:          time.Now().UTC(),
	}

	for symbol, pos := range b.positions {
		value := pos.MarketValue()
		snap.TotalValue = snap.TotalValue.Add(value)
		snap.Positions[symbol] = *pos
		if value.GreaterThan(snap.LargestValue) {
			snap.LargestValue = value
			snap.LargestSymbol = symbol
		}
	}

	if b.initialCapital.Sign() > 0 {
		snap.Return = snap.TotalValue.Sub(b.initialCapital).Div(b.initialCapital)
	}
	return snap
}
