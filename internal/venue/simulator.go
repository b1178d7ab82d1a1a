package venue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tradekit/tradeloop/internal/chaos"
	"github.com/tradekit/tradeloop/internal/model"
	"github.com/tradekit/tradeloop/internal/order"
)

// ErrVenueUnavailable is the dispatch error surfaced on injected faults
var ErrVenueUnavailable = errors.New("execution venue unavailable")

// Config tunes the simulated venue
type Config struct {
	SlippageBps float64       // max fill slippage, basis points
	Latency     time.Duration // fixed dispatch latency
	Seed        int64
}

// Simulator is an execution venue that fills orders at the reference price
// with bounded random slippage. Faults can be injected through chaos config.
type Simulator struct {
	cfg    Config
	chaos  *chaos.Chaos
	logger *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator creates a simulated venue. faults may be nil.
func NewSimulator(cfg Config, faults *chaos.Chaos, logger *zap.Logger) *Simulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		cfg:    cfg,
		chaos:  faults,
		logger: logger,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Submit validates and fills an order
func (s *Simulator) Submit(ctx context.Context, o model.Order) (order.Fill, error) {
	if o.ID == "" {
		return order.Fill{}, fmt.Errorf("order_id cannot be empty")
	}
	if o.Symbol == "" {
		return order.Fill{}, fmt.Errorf("symbol cannot be empty")
	}
	if o.Quantity <= 0 {
		return order.Fill{}, fmt.Errorf("qty must be greater than 0")
	}
	if o.Price <= 0 {
		return order.Fill{}, fmt.Errorf("price must be greater than 0")
	}

	if err := s.chaos.MaybeDelay(ctx, "venue.submit"); err != nil {
		return order.Fill{}, err
	}
	if s.chaos.MaybeDrop("venue.submit") {
		return order.Fill{}, ErrVenueUnavailable
	}

	if s.cfg.Latency > 0 {
		select {
		case <-ctx.Done():
			return order.Fill{}, ctx.Err()
		case <-time.After(s.cfg.Latency):
		}
	}

	price := o.Price
	if s.cfg.SlippageBps > 0 {
		s.mu.Lock()
		slip := (s.rng.Float64()*2 - 1) * s.cfg.SlippageBps / 10000
		s.mu.Unlock()
		price = o.Price * (1 + slip)
	}

	s.logger.Debug("order filled",
		zap.String("order_id", o.ID),
		zap.String("symbol", o.Symbol),
		zap.String("side", string(o.Direction)),
		zap.Float64("qty", o.Quantity),
		zap.Float64("price", price),
	)

	return order.Fill{Price: price, Timestamp: time.Now().UTC()}, nil
}
