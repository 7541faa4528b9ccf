package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/kline-backtester/internal/candle"
	"github.com/amirphl/kline-backtester/internal/metrics"
	"github.com/amirphl/kline-backtester/internal/order"
)

func testCandle(ts time.Time, close float64) candle.Candle {
	return candle.Candle{
		Timestamp: ts, Open: close, High: close + 1, Low: close - 1, Close: close,
		Volume: 1, Symbol: "BTC-USDT", Timeframe: "1h", Source: "test",
	}
}

func TestMemoryStorage_Candles(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	candles := []candle.Candle{
		testCandle(start.Add(2*time.Hour), 102),
		testCandle(start, 100),
		testCandle(start.Add(time.Hour), 101),
	}
	require.NoError(t, m.SaveCandles(ctx, candles))

	t.Run("Returned sorted ascending", func(t *testing.T) {
		got, err := m.GetCandles(ctx, "BTC-USDT", "1h", start, start.Add(3*time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, 100.0, got[0].Close)
		assert.Equal(t, 102.0, got[2].Close)
	})

	t.Run("Range filter applies", func(t *testing.T) {
		got, err := m.GetCandles(ctx, "BTC-USDT", "1h", start, start.Add(time.Hour))
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("Save is idempotent per timestamp", func(t *testing.T) {
		require.NoError(t, m.SaveCandles(ctx, []candle.Candle{testCandle(start, 100)}))
		got, err := m.GetCandles(ctx, "BTC-USDT", "1h", start, start.Add(3*time.Hour))
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("Invalid candle rejected", func(t *testing.T) {
		bad := testCandle(start, 100)
		bad.Symbol = ""
		assert.Error(t, m.SaveCandles(ctx, []candle.Candle{bad}))
	})

	t.Run("Other timeframe invisible", func(t *testing.T) {
		got, err := m.GetCandles(ctx, "BTC-USDT", "4h", start, start.Add(3*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestMemoryStorage_Runs(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	id, err := m.SaveRun(ctx, RunRecord{
		Symbol: "BTC-USDT", Timeframe: "1h",
		From: start, To: start.AddDate(0, 1, 0),
		InitialCash: 10000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	run, ok := m.GetRun(id)
	require.True(t, ok)
	assert.Equal(t, "BTC-USDT", run.Symbol)
	assert.False(t, run.CreatedAt.IsZero())

	o := order.NewLimit("s1", "BTC-USDT", order.Long, 100, 1000, 0, start)
	require.NoError(t, m.SaveOrders(ctx, id, []*order.Order{o}))
	assert.Len(t, m.GetOrders(id), 1)

	require.NoError(t, m.SaveEquityCurve(ctx, id, []metrics.EquityPoint{{Timestamp: start, Equity: 10000}}))

	id2, err := m.SaveRun(ctx, RunRecord{Symbol: "ETH-USDT", Timeframe: "1h", From: start, To: start.AddDate(0, 1, 0), InitialCash: 5000})
	require.NoError(t, err)
	assert.Equal(t, int64(2), id2, "run ids are sequential")
}
