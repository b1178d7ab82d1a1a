package store

import (
	"context"
	"time"

	"github.com/tradekit/tradeloop/internal/model"
	"github.com/tradekit/tradeloop/internal/portfolio"
)

// Store is the durable order/position store. It is the system of record:
// in-memory state is not authoritative until a write here succeeds.
type Store interface {
	// SaveOrder upserts the order by identifier
	SaveOrder(ctx context.Context, order model.Order) error
	// GetOrder reads an order by identifier
	GetOrder(ctx context.Context, id string) (model.Order, bool, error)
	// FinalizeExecution marks the order EXECUTED unless it already is, and
	// reports whether this call performed the transition
	FinalizeExecution(ctx context.Context, id string, price float64, ts time.Time) (bool, error)
	// ListNonTerminal returns orders left in PENDING or SUBMITTED, the
	// reconciliation surface after a restart
	ListNonTerminal(ctx context.Context) ([]model.Order, error)
	// SavePosition upserts a position by symbol
	SavePosition(ctx context.Context, pos portfolio.Position) error
	// DeletePosition removes a closed position
	DeletePosition(ctx context.Context, symbol string) error
	// ListPositions returns all persisted positions
	ListPositions(ctx context.Context) ([]portfolio.Position, error)
	Close() error
}
