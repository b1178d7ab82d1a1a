package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tradekit/tradeloop/internal/model"
	"github.com/tradekit/tradeloop/internal/order"
	"github.com/tradekit/tradeloop/internal/portfolio"
	"github.com/tradekit/tradeloop/internal/risk"
	"github.com/tradekit/tradeloop/internal/sizing"
	"github.com/tradekit/tradeloop/internal/store"
	"github.com/tradekit/tradeloop/internal/strategy"
	"github.com/tradekit/tradeloop/internal/telemetry"
)

type memStore struct {
	mu           sync.Mutex
	orders       map[string]model.Order
	positions    map[string]portfolio.Position
	finalizeErrs int // FinalizeExecution errors to return before succeeding
}

func newMemStore() *memStore {
	return &memStore{
		orders:    make(map[string]model.Order),
		positions: make(map[string]portfolio.Position),
	}
}

func (s *memStore) SaveOrder(ctx context.Context, o model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
	return nil
}

func (s *memStore) GetOrder(ctx context.Context, id string) (model.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	return o, ok, nil
}

func (s *memStore) FinalizeExecution(ctx context.Context, id string, price float64, ts time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalizeErrs > 0 {
		s.finalizeErrs--
		return false, errors.New("disk full")
	}
	o, ok := s.orders[id]
	if !ok {
		o = model.Order{ID: id}
	}
	if o.Status == model.OrderExecuted {
		return false, nil
	}
	o.Status = model.OrderExecuted
	o.ExecutionPrice = price
	o.ExecutedAt = ts
	s.orders[id] = o
	return true, nil
}

func (s *memStore) ListNonTerminal(ctx context.Context) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Order
	for _, o := range s.orders {
		if !o.Status.Terminal() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memStore) SavePosition(ctx context.Context, pos portfolio.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.Symbol] = pos
	return nil
}

func (s *memStore) DeletePosition(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, symbol)
	return nil
}

func (s *memStore) ListPositions(ctx context.Context) ([]portfolio.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []portfolio.Position
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) position(symbol string) (portfolio.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[symbol]
	return p, ok
}

type fillVenue struct {
	mu      sync.Mutex
	submits int
}

func (v *fillVenue) Submit(ctx context.Context, o model.Order) (order.Fill, error) {
	v.mu.Lock()
	v.submits++
	v.mu.Unlock()
	return order.Fill{Price: o.Price, Timestamp: time.Now().UTC()}, nil
}

func (v *fillVenue) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.submits
}

// alwaysBuy signals a full-confidence buy on every event
type alwaysBuy struct{}

func (alwaysBuy) Evaluate(event model.MarketEvent) (*model.Signal, error) {
	return &model.Signal{Symbol: event.Symbol, Direction: model.DirectionBuy, Confidence: 1}, nil
}

// recorder captures event prices per symbol and never signals
type recorder struct {
	mu   sync.Mutex
	seen map[string][]float64
}

func newRecorder() *recorder {
	return &recorder{seen: make(map[string][]float64)}
}

func (r *recorder) Evaluate(event model.MarketEvent) (*model.Signal, error) {
	r.mu.Lock()
	r.seen[event.Symbol] = append(r.seen[event.Symbol], event.Price())
	r.mu.Unlock()
	return nil, nil
}

func tick(symbol string, price float64) model.MarketEvent {
	return model.MarketEvent{
		Symbol:    symbol,
		Timestamp: time.Now().UTC(),
		Fields:    map[string]float64{"price": price},
	}
}

type fixture struct {
	engine *Engine
	store  *memStore
	venue  *fillVenue
	book   *portfolio.Book
	sink   *telemetry.Memory
}

func newFixture(t *testing.T, riskCfg risk.Config, strat strategy.Strategy) *fixture {
	t.Helper()
	logger := zap.NewNop()

	strategies := strategy.NewEngine(logger, nil)
	strategies.Register("test", strat)
	require.NoError(t, strategies.Activate("test"))

	st := newMemStore()
	venue := &fillVenue{}
	book := portfolio.NewBook(1_000_000)
	sink := telemetry.NewMemory()

	e := New(Config{QueueCapacity: 64, Workers: 2, SnapshotCacheTTL: time.Minute}, Deps{
		Strategies: strategies,
		Gate:       risk.NewGate(riskCfg, logger),
		Sizer: sizing.NewSizer(sizing.FixedStats{
			"test": {WinRate: 0.6, PayoffRatio: 2.0},
		}, logger),
		Venue:  venue,
		Store:  st,
		Cache:  store.NewMemoryCache(),
		Book:   book,
		Sink:   sink,
		Logger: logger,
	})
	return &fixture{engine: e, store: st, venue: venue, book: book, sink: sink}
}

func TestEngine_EventToExecutedOrder(t *testing.T) {
	f := newFixture(t, risk.Config{}, alwaysBuy{})
	ctx := context.Background()

	f.engine.Start(ctx)
	require.NoError(t, f.engine.Enqueue(ctx, tick("AAPL", 100)))
	f.engine.Stop(ctx)

	// Kelly: (0.6 - 0.4/2) * 0.5 * 1_000_000 / 100 = 2000 shares
	pos, ok := f.book.Position("AAPL")
	require.True(t, ok, "the executed buy must land in the book")
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(2000)))
	assert.Equal(t, 1, f.venue.count())

	persisted, ok := f.store.position("AAPL")
	require.True(t, ok, "the position must be mirrored to the durable store")
	assert.True(t, persisted.Quantity.Equal(decimal.NewFromInt(2000)))

	assert.Equal(t, uint64(1), f.sink.Counter(telemetry.MetricSignalsEmitted))
	assert.Equal(t, uint64(1), f.sink.Counter(telemetry.MetricOrdersExecuted))
	assert.Equal(t, float64(1), f.sink.Gauge(telemetry.MetricOpenPositions))
}

func TestEngine_RiskRejectionNeverReachesVenue(t *testing.T) {
	f := newFixture(t, risk.Config{MaxPositionSize: 1000}, alwaysBuy{})
	ctx := context.Background()

	f.engine.Start(ctx)
	// Sizer produces 2000 shares, over the 1000 cap
	require.NoError(t, f.engine.Enqueue(ctx, tick("AAPL", 100)))
	f.engine.Stop(ctx)

	assert.Zero(t, f.venue.count(), "rejected signals must not reach the venue")
	_, ok := f.book.Position("AAPL")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), f.sink.Counter(telemetry.MetricOrdersRejected))

	// The rejection is persisted with its reason
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	require.Len(t, f.store.orders, 1)
	for _, o := range f.store.orders {
		assert.Equal(t, model.OrderRejected, o.Status)
		assert.Contains(t, o.Reason, "POSITION_SIZE_LIMIT")
	}
}

func TestEngine_SellWithoutPositionIsSkipped(t *testing.T) {
	f := newFixture(t, risk.Config{}, sellStub{})
	ctx := context.Background()

	f.engine.Start(ctx)
	require.NoError(t, f.engine.Enqueue(ctx, tick("AAPL", 100)))
	f.engine.Stop(ctx)

	assert.Zero(t, f.venue.count(), "a sell with nothing held must not be dispatched")
}

type sellStub struct{}

func (sellStub) Evaluate(event model.MarketEvent) (*model.Signal, error) {
	return &model.Signal{Symbol: event.Symbol, Direction: model.DirectionSell, Confidence: 1}, nil
}

func TestEngine_PerSymbolOrderingPreserved(t *testing.T) {
	rec := newRecorder()
	f := newFixture(t, risk.Config{}, rec)
	ctx := context.Background()

	symbols := []string{"AAPL", "MSFT", "TSLA", "AMZN"}
	const perSymbol = 50

	f.engine.Start(ctx)
	for i := 0; i < perSymbol; i++ {
		for _, sym := range symbols {
			require.NoError(t, f.engine.Enqueue(ctx, tick(sym, float64(i))))
		}
	}
	f.engine.Stop(ctx)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, sym := range symbols {
		prices := rec.seen[sym]
		require.Len(t, prices, perSymbol, "no event may be dropped for %s", sym)
		for i, p := range prices {
			require.Equal(t, float64(i), p, "events for %s must arrive in order", sym)
		}
	}
}

func TestEngine_EnqueueAfterStop(t *testing.T) {
	f := newFixture(t, risk.Config{}, alwaysBuy{})
	ctx := context.Background()

	f.engine.Start(ctx)
	f.engine.Stop(ctx)

	err := f.engine.Enqueue(ctx, tick("AAPL", 100))
	assert.ErrorIs(t, err, ErrEngineStopped)
}

func TestEngine_MidRunFinalizationFailureReplayedByTicker(t *testing.T) {
	logger := zap.NewNop()

	strategies := strategy.NewEngine(logger, nil)
	strategies.Register("test", alwaysBuy{})
	require.NoError(t, strategies.Activate("test"))

	st := newMemStore()
	st.finalizeErrs = 1
	venue := &fillVenue{}
	book := portfolio.NewBook(1_000_000)

	e := New(Config{QueueCapacity: 64, Workers: 1, ReconcileInterval: 10 * time.Millisecond}, Deps{
		Strategies: strategies,
		Gate:       risk.NewGate(risk.Config{}, logger),
		Sizer: sizing.NewSizer(sizing.FixedStats{
			"test": {WinRate: 0.6, PayoffRatio: 2.0},
		}, logger),
		Venue:  venue,
		Store:  st,
		Cache:  store.NewMemoryCache(),
		Book:   book,
		Sink:   telemetry.NewMemory(),
		Logger: logger,
	})

	ctx := context.Background()
	e.Start(ctx)
	require.NoError(t, e.Enqueue(ctx, tick("AAPL", 100)))

	// The fill is applied immediately; the durable write failed once and must
	// be replayed by the periodic loop, well before shutdown
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		o, ok, err := st.GetOrder(ctx, firstOrderID(st))
		require.NoError(t, err)
		if ok && o.Status == model.OrderExecuted {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	o, ok, err := st.GetOrder(ctx, firstOrderID(st))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.OrderExecuted, o.Status, "replay must land without waiting for Stop")

	e.Stop(ctx)

	pos, ok := book.Position("AAPL")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(2000)), "the fill itself is never dropped")
}

func firstOrderID(s *memStore) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.orders {
		return id
	}
	return ""
}

func TestEngine_LatestSnapshotServedFromCache(t *testing.T) {
	f := newFixture(t, risk.Config{}, alwaysBuy{})
	ctx := context.Background()

	f.engine.Start(ctx)
	require.NoError(t, f.engine.Enqueue(ctx, tick("AAPL", 100)))
	f.engine.Stop(ctx)

	snap := f.engine.LatestSnapshot()
	assert.Equal(t, 1, snap.PositionCount)
	assert.True(t, snap.TotalValue.Equal(decimal.NewFromInt(1_000_000)), "buy at the marked price keeps total value flat")
}
