package candle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper function to create test candles
func createTestCandles(symbol, timeframe string, timestamps []time.Time, opens, highs, lows, closes, volumes []float64) []Candle {
	candles := make([]Candle, len(timestamps))
	for i := range timestamps {
		candles[i] = Candle{
			Timestamp: timestamps[i],
			Open:      opens[i],
			High:      highs[i],
			Low:       lows[i],
			Close:     closes[i],
			Volume:    volumes[i],
			Symbol:    symbol,
			Timeframe: timeframe,
			Source:    "test",
		}
	}
	return candles
}

func TestCandle_Validate(t *testing.T) {
	now := time.Now().Truncate(time.Hour)

	valid := Candle{
		Timestamp: now, Open: 100, High: 110, Low: 95, Close: 105,
		Volume: 1.5, Symbol: "BTC-USDT", Timeframe: "1h",
	}

	t.Run("Valid candle", func(t *testing.T) {
		assert.NoError(t, valid.Validate())
	})

	tests := []struct {
		name   string
		mutate func(c *Candle)
	}{
		{"Zero timestamp", func(c *Candle) { c.Timestamp = time.Time{} }},
		{"Non-positive price", func(c *Candle) { c.Open = 0 }},
		{"High below low", func(c *Candle) { c.High = 90 }},
		{"Open outside range", func(c *Candle) { c.Open = 120 }},
		{"Close outside range", func(c *Candle) { c.Close = 90 }},
		{"Negative volume", func(c *Candle) { c.Volume = -1 }},
		{"Empty symbol", func(c *Candle) { c.Symbol = "" }},
		{"Empty timeframe", func(c *Candle) { c.Timeframe = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestCandle_Touches(t *testing.T) {
	c := Candle{Low: 95, High: 110}

	assert.True(t, c.Touches(100))
	assert.True(t, c.Touches(95), "low boundary is inclusive")
	assert.True(t, c.Touches(110), "high boundary is inclusive")
	assert.False(t, c.Touches(94.99))
	assert.False(t, c.Touches(110.01))
}

func TestProcess(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := start.Add(24 * time.Hour)
	hour := func(n int) time.Time { return start.Add(time.Duration(n) * time.Hour) }

	t.Run("Empty input", func(t *testing.T) {
		out, report := Process(nil, "BTC-USDT", "1h", start, to)
		assert.Empty(t, out)
		assert.Zero(t, report.Synthetic)
	})

	t.Run("Sorts and deduplicates", func(t *testing.T) {
		candles := createTestCandles("BTC-USDT", "1h",
			[]time.Time{hour(2), hour(0), hour(1), hour(1)},
			[]float64{100, 100, 100, 200},
			[]float64{110, 110, 110, 210},
			[]float64{95, 95, 95, 195},
			[]float64{105, 105, 105, 205},
			[]float64{1, 1, 1, 1},
		)

		out, report := Process(candles, "BTC-USDT", "1h", start, to)
		require.Len(t, out, 3)
		assert.Equal(t, 1, report.Duplicates)
		assert.NoError(t, CheckOrdering(out))
		// First occurrence wins; timestamps were already sorted before dedup,
		// so the kept hour(1) candle is the one closing at 105.
		assert.Equal(t, 105.0, out[1].Close)
	})

	t.Run("Fills gaps with synthetic candles", func(t *testing.T) {
		candles := createTestCandles("BTC-USDT", "1h",
			[]time.Time{hour(0), hour(3)},
			[]float64{100, 120},
			[]float64{110, 130},
			[]float64{95, 115},
			[]float64{105, 125},
			[]float64{1, 1},
		)

		out, report := Process(candles, "BTC-USDT", "1h", start, to)
		require.Len(t, out, 4)
		assert.Equal(t, 2, report.Synthetic)

		// Synthetic candles carry the last known close with zero volume.
		for _, i := range []int{1, 2} {
			assert.Equal(t, "synthetic", out[i].Source)
			assert.Equal(t, 105.0, out[i].Open)
			assert.Equal(t, 105.0, out[i].Close)
			assert.Zero(t, out[i].Volume)
		}
	})

	t.Run("Trims outside range with exclusive upper bound", func(t *testing.T) {
		candles := createTestCandles("BTC-USDT", "1h",
			[]time.Time{start.Add(-time.Hour), hour(0), hour(23), to},
			[]float64{100, 100, 100, 100},
			[]float64{110, 110, 110, 110},
			[]float64{95, 95, 95, 95},
			[]float64{105, 105, 105, 105},
			[]float64{1, 1, 1, 1},
		)

		out, report := Process(candles, "BTC-USDT", "1h", start, to)
		assert.Equal(t, 2, report.Trimmed)
		require.NotEmpty(t, out)
		assert.Equal(t, hour(0), out[0].Timestamp)
		assert.True(t, out[len(out)-1].Timestamp.Before(to))
	})
}

func TestCheckOrdering(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("Ascending passes", func(t *testing.T) {
		candles := []Candle{
			{Timestamp: start},
			{Timestamp: start.Add(time.Hour)},
			{Timestamp: start.Add(2 * time.Hour)},
		}
		assert.NoError(t, CheckOrdering(candles))
	})

	t.Run("Duplicate timestamp fails", func(t *testing.T) {
		candles := []Candle{
			{Timestamp: start},
			{Timestamp: start},
		}
		assert.Error(t, CheckOrdering(candles))
	})

	t.Run("Out of order fails", func(t *testing.T) {
		candles := []Candle{
			{Timestamp: start.Add(time.Hour)},
			{Timestamp: start},
		}
		assert.Error(t, CheckOrdering(candles))
	})
}

func TestExtractors(t *testing.T) {
	candles := []Candle{
		{Open: 1, High: 2, Low: 0.5, Close: 1.5},
		{Open: 1.5, High: 3, Low: 1, Close: 2.5},
	}

	assert.Equal(t, []float64{1.5, 2.5}, Closes(candles))
	assert.Equal(t, []float64{2, 3}, Highs(candles))
	assert.Equal(t, []float64{0.5, 1}, Lows(candles))
}
