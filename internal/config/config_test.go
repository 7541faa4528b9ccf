package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/kline-backtester/internal/strategy"
)

func validConfig() Config {
	return Config{
		Symbol:         "BTC-USDT",
		Timeframe:      "1h",
		From:           time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:             time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		InitialCash:    10000,
		MaxPositions:   5,
		CommissionRate: 0.0004,
		DataSource:     "binance",
		Strategies: []StrategyConfig{
			{
				ID:        "ema-long",
				Type:      "ema_cross",
				Direction: "long",
				EntryMode: "limit",
				ExitConditions: []ExitConfig{
					{Type: "stop_loss", Percent: 2},
					{Type: "take_profit", Percent: 4},
				},
			},
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Run("Valid config passes", func(t *testing.T) {
		cfg := validConfig()
		assert.NoError(t, cfg.Validate())
	})

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"Empty symbol", func(c *Config) { c.Symbol = "" }},
		{"Bad timeframe", func(c *Config) { c.Timeframe = "7m" }},
		{"Inverted date range", func(c *Config) { c.From, c.To = c.To, c.From }},
		{"Zero cash", func(c *Config) { c.InitialCash = 0 }},
		{"Negative position size", func(c *Config) { c.PositionSize = -1 }},
		{"Zero max positions", func(c *Config) { c.MaxPositions = 0 }},
		{"Commission out of range", func(c *Config) { c.CommissionRate = 1 }},
		{"Unknown data source", func(c *Config) { c.DataSource = "kraken" }},
		{"CSV source without path", func(c *Config) { c.DataSource = "csv" }},
		{"No strategies", func(c *Config) { c.Strategies = nil }},
		{"Empty strategy id", func(c *Config) { c.Strategies[0].ID = "" }},
		{"Unknown direction", func(c *Config) { c.Strategies[0].Direction = "sideways" }},
		{"Unknown entry mode", func(c *Config) { c.Strategies[0].EntryMode = "stop" }},
		{"Unknown phase", func(c *Config) { c.Strategies[0].AllowedPhases = []string{"sideways"} }},
		{"Unknown exit type", func(c *Config) { c.Strategies[0].ExitConditions[0].Type = "trailing" }},
		{"Stop loss without percent", func(c *Config) { c.Strategies[0].ExitConditions[0].Percent = 0 }},
		{"Duplicate strategy ids", func(c *Config) {
			c.Strategies = append(c.Strategies, c.Strategies[0])
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_BuildStrategies(t *testing.T) {
	reg := strategy.NewRegistry()

	t.Run("Builds typed definitions", func(t *testing.T) {
		cfg := validConfig()
		cfg.Strategies = append(cfg.Strategies, StrategyConfig{
			ID:            "band-short",
			Type:          "band_reversion",
			Direction:     "short",
			EntryMode:     "market",
			AllowedPhases: []string{"consolidation"},
			ExitConditions: []ExitConfig{
				{Type: "band_exit"},
				{Type: "stop_loss", Percent: 3},
			},
		})
		require.NoError(t, cfg.Validate())

		defs, err := cfg.BuildStrategies(reg)
		require.NoError(t, err)
		require.Len(t, defs, 2)

		assert.Equal(t, "ema-long", defs[0].ID)
		assert.Equal(t, cfg.Symbol, defs[0].Symbol)
		assert.Equal(t, strategy.EntryLimit, defs[0].EntryMode)
		assert.False(t, defs[0].Exits.Empty())

		assert.Equal(t, strategy.EntryMarket, defs[1].EntryMode)
	})

	t.Run("Unknown strategy type fails", func(t *testing.T) {
		cfg := validConfig()
		cfg.Strategies[0].Type = "nonsense"
		_, err := cfg.BuildStrategies(reg)
		assert.Error(t, err)
	})

	t.Run("Phase flip exit builds", func(t *testing.T) {
		cfg := validConfig()
		cfg.Strategies[0].ExitConditions = []ExitConfig{{Type: "phase_flip"}}
		defs, err := cfg.BuildStrategies(reg)
		require.NoError(t, err)
		assert.False(t, defs[0].Exits.Empty())
	})
}

func TestConfig_IndicatorParams(t *testing.T) {
	cfg := validConfig()

	t.Run("Defaults when unset", func(t *testing.T) {
		p := cfg.IndicatorParams()
		assert.Equal(t, 12, p.EMAFastPeriod)
		assert.Equal(t, 26, p.EMASlowPeriod)
	})

	t.Run("Overrides apply", func(t *testing.T) {
		cfg.Indicators.EMAFastPeriod = 9
		cfg.Indicators.BandLookback = 50
		p := cfg.IndicatorParams()
		assert.Equal(t, 9, p.EMAFastPeriod)
		assert.Equal(t, 50, p.BandLookback)
		assert.Equal(t, 26, p.EMASlowPeriod, "untouched fields keep defaults")
	})
}

func TestConfig_Describe(t *testing.T) {
	cfg := validConfig()
	desc := cfg.Describe()
	assert.Contains(t, desc, "BTC-USDT")
	assert.Contains(t, desc, "ema-long")
}
