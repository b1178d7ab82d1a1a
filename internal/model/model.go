package model

import "time"

// Direction is the side of a signal or order
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionHold Direction = "HOLD"
)

// MarketEvent is a decoded market data message. Immutable once produced.
type MarketEvent struct {
	Symbol    string
	Timestamp time.Time
	Fields    map[string]float64
}

// Price returns the price field of the event, or 0 if absent
func (e MarketEvent) Price() float64 {
	return e.Fields["price"]
}

// Volume returns the volume field of the event, or 0 if absent
func (e MarketEvent) Volume() float64 {
	return e.Fields["volume"]
}

// Signal is a directional trade recommendation produced by a strategy
type Signal struct {
	Symbol     string
	Direction  Direction
	Confidence float64 // 0..1
	Timestamp  time.Time
	Strategy   string // originating strategy name
}

// OrderStatus tracks the lifecycle of an order
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderSubmitted OrderStatus = "SUBMITTED"
	OrderExecuted  OrderStatus = "EXECUTED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderFailed    OrderStatus = "FAILED"
)

// Terminal reports whether the status is a terminal lifecycle state
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderExecuted, OrderRejected, OrderFailed:
		return true
	default:
		return false
	}
}

// Order is a request to trade a quantity of a symbol, tracked through its
// lifecycle. The ID is assigned exactly once at creation and never reused.
type Order struct {
	ID             string
	Symbol         string
	Direction      Direction
	Quantity       float64
	Price          float64 // reference price at creation
	Status         OrderStatus
	Reason         string // populated on REJECTED/FAILED
	Strategy       string
	Attempts       int
	CreatedAt      time.Time
	SubmittedAt    time.Time
	ExecutedAt     time.Time
	ExecutionPrice float64 // set on EXECUTED
}
