package portfolio

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradekit/tradeloop/internal/model"
)

func executedOrder(symbol string, dir model.Direction, qty, price float64) model.Order {
	return model.Order{
		ID:             "ord-" + symbol,
		Symbol:         symbol,
		Direction:      dir,
		Quantity:       qty,
		Price:          price,
		Status:         model.OrderExecuted,
		ExecutionPrice: price,
		ExecutedAt:     time.Now().UTC(),
	}
}

func TestBook_BuyAveragingAndFullExit(t *testing.T) {
	book := NewBook(1_000_000)

	// Buy 100 @ 50.00
	err := book.ApplyExecutedOrder(executedOrder("AAPL", model.DirectionBuy, 100, 50.0))
	require.NoError(t, err)

	pos, ok := book.Position("AAPL")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(100)))
	assert.True(t, pos.AvgPrice.Equal(decimal.NewFromInt(50)))
	assert.True(t, book.Cash().Equal(decimal.NewFromInt(995_000)), "cash should drop by notional")

	// Buy 50 more @ 56.00: weighted average moves to 52.00
	err = book.ApplyExecutedOrder(executedOrder("AAPL", model.DirectionBuy, 50, 56.0))
	require.NoError(t, err)

	pos, ok = book.Position("AAPL")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(150)))
	assert.True(t, pos.AvgPrice.Equal(decimal.NewFromInt(52)), "avg price should be 52.00, got %s", pos.AvgPrice)

	// Sell all 150 @ 60.00: position removed, realized PnL = (60-52)*150
	err = book.ApplyExecutedOrder(executedOrder("AAPL", model.DirectionSell, 150, 60.0))
	require.NoError(t, err)

	_, ok = book.Position("AAPL")
	assert.False(t, ok, "fully exited position should be removed")

	snap := book.Snapshot()
	assert.True(t, snap.RealizedPnL.Equal(decimal.NewFromInt(1200)), "realized pnl should be 1200, got %s", snap.RealizedPnL)
	assert.True(t, book.Cash().Equal(decimal.NewFromInt(1_001_200)))
	assert.Equal(t, 0, snap.PositionCount)
}

func TestBook_PartialSellKeepsAvgPrice(t *testing.T) {
	book := NewBook(100_000)

	require.NoError(t, book.ApplyExecutedOrder(executedOrder("MSFT", model.DirectionBuy, 200, 40.0)))
	require.NoError(t, book.ApplyExecutedOrder(executedOrder("MSFT", model.DirectionSell, 50, 44.0)))

	pos, ok := book.Position("MSFT")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(150)))
	assert.True(t, pos.AvgPrice.Equal(decimal.NewFromInt(40)), "sell must not change the average entry price")
	assert.True(t, pos.RealizedPnL.Equal(decimal.NewFromInt(200)))
}

func TestBook_SellErrors(t *testing.T) {
	book := NewBook(100_000)

	err := book.ApplyExecutedOrder(executedOrder("TSLA", model.DirectionSell, 10, 200.0))
	assert.ErrorIs(t, err, ErrUnknownPosition)

	require.NoError(t, book.ApplyExecutedOrder(executedOrder("TSLA", model.DirectionBuy, 5, 200.0)))

	err = book.ApplyExecutedOrder(executedOrder("TSLA", model.DirectionSell, 10, 210.0))
	assert.ErrorIs(t, err, ErrOversell)

	// The failed sell must not touch the book
	pos, ok := book.Position("TSLA")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(5)))
	assert.True(t, book.Cash().Equal(decimal.NewFromInt(99_000)))
}

func TestBook_RejectsNonExecutedOrder(t *testing.T) {
	book := NewBook(100_000)
	o := executedOrder("AAPL", model.DirectionBuy, 10, 50.0)
	o.Status = model.OrderSubmitted

	err := book.ApplyExecutedOrder(o)
	assert.ErrorIs(t, err, ErrNotExecuted)
}

func TestBook_SnapshotValuesAndReturn(t *testing.T) {
	book := NewBook(10_000)

	require.NoError(t, book.ApplyExecutedOrder(executedOrder("AAPL", model.DirectionBuy, 100, 50.0)))
	book.MarkPrice("AAPL", 55.0, time.Now())

	snap := book.Snapshot()
	// cash 5000 + 100*55 = 10500
	assert.True(t, snap.TotalValue.Equal(decimal.NewFromInt(10_500)), "total value should be 10500, got %s", snap.TotalValue)
	assert.True(t, snap.Return.Equal(decimal.NewFromFloat(0.05)), "return should be 5%%, got %s", snap.Return)
	assert.Equal(t, "AAPL", snap.LargestSymbol)
	assert.Equal(t, 1, snap.PositionCount)

	pos := snap.Positions["AAPL"]
	assert.True(t, pos.UnrealizedPnL().Equal(decimal.NewFromInt(500)))
}

func TestBook_SnapshotIsStable(t *testing.T) {
	book := NewBook(50_000)
	require.NoError(t, book.ApplyExecutedOrder(executedOrder("AAPL", model.DirectionBuy, 10, 100.0)))

	snap := book.Snapshot()
	require.NoError(t, book.ApplyExecutedOrder(executedOrder("AAPL", model.DirectionBuy, 10, 120.0)))

	// The earlier snapshot must not observe the later trade
	assert.True(t, snap.Positions["AAPL"].Quantity.Equal(decimal.NewFromInt(10)))
}
