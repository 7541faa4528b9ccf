package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/kline-backtester/internal/candle"
	"github.com/amirphl/kline-backtester/internal/order"
)

func testCandle(open, high, low, close float64) candle.Candle {
	return candle.Candle{
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Open:      open, High: high, Low: low, Close: close,
		Symbol: "BTC-USDT", Timeframe: "1h",
	}
}

func pendingOrder(direction order.Direction, limit float64, createdIndex int) *order.Order {
	return order.NewLimit("s1", "BTC-USDT", direction, limit, 1000, createdIndex, time.Now())
}

func TestMatch(t *testing.T) {
	t.Run("Buy fills when low reaches limit", func(t *testing.T) {
		o := pendingOrder(order.Long, 103, 0)
		c := testCandle(102, 110, 100, 108)

		fills := Match([]*order.Order{o}, c, 1)
		require.Len(t, fills, 1)
		assert.Equal(t, o.ID, fills[0].OrderID)
		assert.Equal(t, 103.0, fills[0].FillPrice, "fills at the limit, not the candle open")
		assert.Equal(t, 1, fills[0].FillIndex)
	})

	t.Run("Buy does not fill above range", func(t *testing.T) {
		o := pendingOrder(order.Long, 99, 0)
		c := testCandle(102, 110, 100, 108)

		fills := Match([]*order.Order{o}, c, 1)
		assert.Empty(t, fills)
	})

	t.Run("Boundary touch counts", func(t *testing.T) {
		buy := pendingOrder(order.Long, 95, 0)
		sell := pendingOrder(order.Short, 110, 0)
		c := testCandle(100, 110, 95, 100)

		fills := Match([]*order.Order{buy, sell}, c, 1)
		require.Len(t, fills, 2)
	})

	t.Run("No fill on placement candle", func(t *testing.T) {
		o := pendingOrder(order.Long, 103, 5)
		c := testCandle(102, 110, 100, 108)

		assert.Empty(t, Match([]*order.Order{o}, c, 5), "ValidFromIndex gates the placement candle")
		assert.Len(t, Match([]*order.Order{o}, c, 6), 1)
	})

	t.Run("Sells match before buys", func(t *testing.T) {
		buy := order.NewLimit("long-side", "BTC-USDT", order.Long, 105, 1000, 0, time.Now())
		sell := order.NewLimit("short-side", "BTC-USDT", order.Short, 106, 1000, 0, time.Now())
		c := testCandle(104, 108, 103, 107)

		fills := Match([]*order.Order{buy, sell}, c, 1)
		require.Len(t, fills, 2)
		assert.Equal(t, sell.ID, fills[0].OrderID)
		assert.Equal(t, buy.ID, fills[1].OrderID)
	})

	t.Run("Non-pending orders skipped", func(t *testing.T) {
		o := pendingOrder(order.Long, 103, 0)
		require.NoError(t, o.Cancel())
		c := testCandle(102, 110, 100, 108)

		assert.Empty(t, Match([]*order.Order{o}, c, 1))
	})

	t.Run("Within side creation order preserved", func(t *testing.T) {
		first := order.NewLimit("s1", "BTC-USDT", order.Long, 104, 1000, 0, time.Now())
		second := order.NewLimit("s2", "BTC-USDT", order.Long, 103, 1000, 0, time.Now())
		c := testCandle(102, 110, 100, 108)

		fills := Match([]*order.Order{first, second}, c, 1)
		require.Len(t, fills, 2)
		assert.Equal(t, first.ID, fills[0].OrderID)
		assert.Equal(t, second.ID, fills[1].OrderID)
	})
}
