package strategy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/kline-backtester/internal/candle"
	"github.com/amirphl/kline-backtester/internal/condition"
	"github.com/amirphl/kline-backtester/internal/indicator"
	"github.com/amirphl/kline-backtester/internal/order"
)

func TestRegistry_Build(t *testing.T) {
	reg := NewRegistry()

	t.Run("Built-in types registered", func(t *testing.T) {
		assert.ElementsMatch(t, []string{"ema_cross", "band_reversion", "cycle_trend"}, reg.Types())
	})

	t.Run("Builds a definition", func(t *testing.T) {
		def, err := reg.Build("ema_cross", Params{ID: "s1", Symbol: "BTC-USDT"})
		require.NoError(t, err)
		assert.Equal(t, "s1", def.ID)
		assert.NotNil(t, def.Entry)
		assert.NotNil(t, def.Exits)
	})

	t.Run("Unknown type fails fast", func(t *testing.T) {
		_, err := reg.Build("nonsense", Params{ID: "s1"})
		assert.Error(t, err)
	})

	t.Run("Empty id fails fast", func(t *testing.T) {
		_, err := reg.Build("ema_cross", Params{})
		assert.Error(t, err)
	})

	t.Run("Custom factory", func(t *testing.T) {
		reg.Register("custom", func(p Params) (*Definition, error) {
			return &Definition{ID: p.ID, Entry: condition.BelowBand{}, Exits: condition.NewExitSet()}, nil
		})
		def, err := reg.Build("custom", Params{ID: "c1"})
		require.NoError(t, err)
		assert.Equal(t, "c1", def.ID)
	})
}

func TestDefinition_LimitPrice(t *testing.T) {
	tests := []struct {
		name        string
		direction   order.Direction
		offset      float64
		signalPrice float64
		closePrice  float64
		expected    float64
	}{
		{"No offset quotes signal price", order.Long, 0, 103, 108, 103},
		{"NaN signal falls back to close", order.Long, 0, math.NaN(), 108, 108},
		{"Long offset quotes below", order.Long, 1, 100, 108, 99},
		{"Short offset quotes above", order.Short, 1, 100, 108, 101},
		{"Non-positive signal falls back to close", order.Long, 0, -5, 108, 108},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Definition{Direction: tt.direction, LimitOffsetPercent: tt.offset}
			assert.InDelta(t, tt.expected, d.LimitPrice(tt.signalPrice, tt.closePrice), 1e-9)
		})
	}
}

func TestEMACross_Entry(t *testing.T) {
	reg := NewRegistry()

	bullSnap := indicator.Snapshot{EMAFast: 105, EMASlow: 100, Phase: indicator.PhaseBullStrong}
	bearSnap := indicator.Snapshot{EMAFast: 95, EMASlow: 100, Phase: indicator.PhaseBearStrong}
	ctx := func(snap indicator.Snapshot) *condition.Context {
		return &condition.Context{Candle: candle.Candle{Close: 102}, Indicators: snap}
	}

	t.Run("Long fires on fast above slow", func(t *testing.T) {
		def, err := reg.Build("ema_cross", Params{ID: "s1"})
		require.NoError(t, err)
		assert.True(t, def.Entry.Evaluate(ctx(bullSnap)).Triggered)
		assert.False(t, def.Entry.Evaluate(ctx(bearSnap)).Triggered)
	})

	t.Run("Short fires on fast below slow", func(t *testing.T) {
		def, err := reg.Build("ema_cross", Params{ID: "s1", Direction: order.Short})
		require.NoError(t, err)
		assert.True(t, def.Entry.Evaluate(ctx(bearSnap)).Triggered)
	})

	t.Run("Phase gate suppresses entries outside allowed regimes", func(t *testing.T) {
		def, err := reg.Build("ema_cross", Params{
			ID:            "s1",
			AllowedPhases: []indicator.Phase{indicator.PhaseBullStrong},
		})
		require.NoError(t, err)

		assert.True(t, def.Entry.Evaluate(ctx(bullSnap)).Triggered)

		gated := bullSnap
		gated.Phase = indicator.PhaseConsolidation
		assert.False(t, def.Entry.Evaluate(ctx(gated)).Triggered)
	})
}

func TestBandReversion_Entry(t *testing.T) {
	reg := NewRegistry()
	snap := indicator.Snapshot{BandLower: 95, BandUpper: 110, Phase: indicator.PhaseConsolidation}

	longDef, err := reg.Build("band_reversion", Params{ID: "s1"})
	require.NoError(t, err)
	shortDef, err := reg.Build("band_reversion", Params{ID: "s2", Direction: order.Short})
	require.NoError(t, err)

	below := &condition.Context{Candle: candle.Candle{Close: 90}, Indicators: snap}
	above := &condition.Context{Candle: candle.Candle{Close: 115}, Indicators: snap}

	assert.True(t, longDef.Entry.Evaluate(below).Triggered)
	assert.False(t, longDef.Entry.Evaluate(above).Triggered)
	assert.True(t, shortDef.Entry.Evaluate(above).Triggered)
	assert.False(t, shortDef.Entry.Evaluate(below).Triggered)
}

func TestCycleTrend_Entry(t *testing.T) {
	reg := NewRegistry()

	t.Run("Defaults to strong trend in position direction", func(t *testing.T) {
		def, err := reg.Build("cycle_trend", Params{ID: "s1"})
		require.NoError(t, err)

		bull := &condition.Context{Indicators: indicator.Snapshot{Phase: indicator.PhaseBullStrong}}
		bear := &condition.Context{Indicators: indicator.Snapshot{Phase: indicator.PhaseBearStrong}}
		assert.True(t, def.Entry.Evaluate(bull).Triggered)
		assert.False(t, def.Entry.Evaluate(bear).Triggered)

		short, err := reg.Build("cycle_trend", Params{ID: "s2", Direction: order.Short})
		require.NoError(t, err)
		assert.True(t, short.Entry.Evaluate(bear).Triggered)
	})
}
