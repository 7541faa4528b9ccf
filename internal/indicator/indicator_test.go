package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/kline-backtester/internal/candle"
)

func flatCandles(n int, price float64) []candle.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]candle.Candle, n)
	for i := range out {
		out[i] = candle.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      price, High: price, Low: price, Close: price,
			Symbol: "BTC-USDT", Timeframe: "1h",
		}
	}
	return out
}

func trendingCandles(n int, startPrice, step float64) []candle.Candle {
	out := flatCandles(n, startPrice)
	for i := range out {
		p := startPrice + float64(i)*step
		out[i].Open, out[i].High, out[i].Low, out[i].Close = p, p, p, p
	}
	return out
}

func TestParams_Validate(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())

	tests := []struct {
		name   string
		mutate func(p *Params)
	}{
		{"Zero period", func(p *Params) { p.EMAFastPeriod = 0 }},
		{"Fast not below slow", func(p *Params) { p.EMAFastPeriod = p.EMASlowPeriod }},
		{"Inverted band", func(p *Params) { p.BandLowerPct = 90 }},
		{"Band above 100", func(p *Params) { p.BandUpperPct = 120 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestParams_WarmupPeriod(t *testing.T) {
	p := DefaultParams()
	assert.Equal(t, p.EMASlowPeriod, p.WarmupPeriod())

	p.BandLookback = 50
	assert.Equal(t, 50, p.WarmupPeriod())
}

func TestCompute_WarmupIsNaN(t *testing.T) {
	params := DefaultParams()
	candles := flatCandles(60, 100)

	set, err := Compute(candles, params)
	require.NoError(t, err)

	warm := params.WarmupPeriod()
	early := set.At(warm - 2)
	assert.True(t, math.IsNaN(early.EMASlow), "slow EMA undefined during warm-up")
	assert.Equal(t, PhaseUnknown, early.Phase)

	late := set.At(warm + 1)
	assert.False(t, math.IsNaN(late.EMAFast))
	assert.False(t, math.IsNaN(late.EMASlow))
	assert.False(t, math.IsNaN(late.Momentum))
	assert.False(t, math.IsNaN(late.BandUpper))
	assert.False(t, math.IsNaN(late.BandLower))
}

func TestCompute_FlatSeries(t *testing.T) {
	set, err := Compute(flatCandles(60, 100), DefaultParams())
	require.NoError(t, err)

	snap := set.At(50)
	assert.InDelta(t, 100, snap.EMAFast, 1e-9)
	assert.InDelta(t, 100, snap.EMASlow, 1e-9)
	assert.InDelta(t, 0, snap.Momentum, 1e-9)
	assert.Equal(t, PhaseConsolidation, snap.Phase, "flat market reads as consolidation")
}

func TestCompute_TrendPhases(t *testing.T) {
	t.Run("Uptrend classifies bull strong", func(t *testing.T) {
		set, err := Compute(trendingCandles(80, 100, 1), DefaultParams())
		require.NoError(t, err)
		assert.Equal(t, PhaseBullStrong, set.At(70).Phase)
	})

	t.Run("Downtrend classifies bear strong", func(t *testing.T) {
		set, err := Compute(trendingCandles(80, 200, -1), DefaultParams())
		require.NoError(t, err)
		assert.Equal(t, PhaseBearStrong, set.At(70).Phase)
	})
}

func TestSet_At_OutOfRange(t *testing.T) {
	set, err := Compute(flatCandles(10, 100), DefaultParams())
	require.NoError(t, err)

	for _, i := range []int{-1, 10, 1000} {
		snap := set.At(i)
		assert.True(t, math.IsNaN(snap.EMAFast))
		assert.True(t, math.IsNaN(snap.Close))
		assert.Equal(t, PhaseUnknown, snap.Phase)
	}
}

func TestSnapshot_Value(t *testing.T) {
	snap := Snapshot{EMAFast: 105, EMASlow: math.NaN(), Close: 102}

	v, ok := snap.Value(SeriesEMAFast)
	assert.True(t, ok)
	assert.Equal(t, 105.0, v)

	_, ok = snap.Value(SeriesEMASlow)
	assert.False(t, ok, "NaN values resolve as missing")

	_, ok = snap.Value("does_not_exist")
	assert.False(t, ok)
}

func TestMomentumSeries(t *testing.T) {
	closes := []float64{100, 102, 104, 106, 108}
	out := momentumSeries(closes, 2)

	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 0.04, out[2], 1e-9)
	assert.InDelta(t, (108.0-104.0)/104.0, out[4], 1e-9)
}

func TestRollingPercentile(t *testing.T) {
	t.Run("Causal window", func(t *testing.T) {
		values := []float64{1, 2, 3, 4, 5}
		out := RollingPercentile(values, 3, 100)

		assert.True(t, math.IsNaN(out[0]))
		assert.True(t, math.IsNaN(out[1]))
		// Max of the trailing 3-window, never a future value.
		assert.Equal(t, 3.0, out[2])
		assert.Equal(t, 4.0, out[3])
		assert.Equal(t, 5.0, out[4])
	})

	t.Run("Median", func(t *testing.T) {
		values := []float64{5, 1, 3}
		out := RollingPercentile(values, 3, 50)
		assert.Equal(t, 3.0, out[2])
	})
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		pct      float64
		expected float64
	}{
		{"Min", []float64{3, 1, 2}, 0, 1},
		{"Max", []float64{3, 1, 2}, 100, 3},
		{"Median odd", []float64{3, 1, 2}, 50, 2},
		{"Interpolated", []float64{1, 2, 3, 4}, 50, 2.5},
		{"80th of 1..5", []float64{1, 2, 3, 4, 5}, 80, 4.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Percentile(tt.values, tt.pct), 1e-9)
		})
	}

	assert.True(t, math.IsNaN(Percentile(nil, 50)))
}

func TestParsePhase(t *testing.T) {
	assert.Equal(t, PhaseBullStrong, ParsePhase("bull_strong"))
	assert.Equal(t, PhaseBearWarning, ParsePhase("bear_warning"))
	assert.Equal(t, PhaseUnknown, ParsePhase("typo"))

	for _, p := range []Phase{PhaseBullStrong, PhaseBullWarning, PhaseConsolidation, PhaseBearWarning, PhaseBearStrong} {
		assert.Equal(t, p, ParsePhase(p.String()))
	}
}
