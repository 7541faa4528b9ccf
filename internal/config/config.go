// Package config
package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/amirphl/kline-backtester/internal/condition"
	"github.com/amirphl/kline-backtester/internal/indicator"
	"github.com/amirphl/kline-backtester/internal/order"
	"github.com/amirphl/kline-backtester/internal/strategy"
	"github.com/amirphl/kline-backtester/internal/tfutils"
)

// ExitConfig is one exit rule inside a strategy block.
type ExitConfig struct {
	Type    string  `yaml:"type"` // stop_loss | take_profit | phase_flip | band_exit
	Percent float64 `yaml:"percent"`
}

// StrategyConfig is the raw YAML shape of one strategy. It is parsed into
// typed strategy.Params at load time; unknown type tags, directions or exit
// rules fail the whole load before any candle is touched.
type StrategyConfig struct {
	ID                 string       `yaml:"id"`
	Type               string       `yaml:"type"`
	Direction          string       `yaml:"direction"`  // long | short
	EntryMode          string       `yaml:"entry_mode"` // limit | market
	LimitOffsetPercent float64      `yaml:"limit_offset_percent"`
	AllowedPhases      []string     `yaml:"allowed_phases"`
	ExitConditions     []ExitConfig `yaml:"exit_conditions"`
}

// IndicatorConfig exposes the pipeline periods; zero values fall back to the
// defaults.
type IndicatorConfig struct {
	EMAFastPeriod  int     `yaml:"ema_fast_period"`
	EMASlowPeriod  int     `yaml:"ema_slow_period"`
	MomentumPeriod int     `yaml:"momentum_period"`
	BandLookback   int     `yaml:"band_lookback"`
	BandUpperPct   float64 `yaml:"band_upper_pct"`
	BandLowerPct   float64 `yaml:"band_lower_pct"`
}

type Config struct {
	Symbol    string `yaml:"symbol"`
	Timeframe string `yaml:"timeframe"`

	From time.Time `yaml:"-"`
	To   time.Time `yaml:"-"`
	// FromStr/ToStr hold the YAML form; Load parses them into From/To.
	FromStr string `yaml:"from"`
	ToStr   string `yaml:"to"`

	InitialCash    float64 `yaml:"initial_cash"`
	PositionSize   float64 `yaml:"position_size"` // 0 enables dynamic sizing
	MaxPositions   int     `yaml:"max_positions"`
	CommissionRate float64 `yaml:"commission_rate"`
	RiskFreeRate   float64 `yaml:"risk_free_rate"`

	DataSource string `yaml:"data_source"` // wallex | binance | csv
	CSVPath    string `yaml:"csv_path"`
	ProxyURL   string `yaml:"proxy_url"`

	WallexAPIKey string `yaml:"wallex_api_key"`
	DBConnStr    string `yaml:"db_conn_str"`
	DBMaxOpen    int    `yaml:"db_max_open"`
	DBMaxIdle    int    `yaml:"db_max_idle"`

	TradesCSV string `yaml:"trades_csv"`
	EquityCSV string `yaml:"equity_csv"`

	Indicators IndicatorConfig  `yaml:"indicators"`
	Strategies []StrategyConfig `yaml:"strategies"`
}

// MustLoad parses flags plus an optional YAML file and environment, then
// validates. Any problem is fatal: configuration errors surface at startup,
// never mid-run.
func MustLoad() Config {
	configFile := flag.String("config", "", "Path to YAML config file")
	symbol := flag.String("symbol", "BTC-USDT", "Trading symbol")
	timeframe := flag.String("timeframe", "1h", "Candle timeframe")
	from := flag.String("from", time.Now().AddDate(-1, 0, 0).Format("2006-01-02"), "Backtest start date (YYYY-MM-DD)")
	to := flag.String("to", time.Now().Format("2006-01-02"), "Backtest end date (YYYY-MM-DD)")
	initialCash := flag.Float64("initial-cash", 10000, "Starting capital")
	positionSize := flag.Float64("position-size", 0, "Fixed notional per order (0 = dynamic sizing)")
	maxPositions := flag.Int("max-positions", 5, "Global max concurrent positions")
	commissionRate := flag.Float64("commission-rate", 0.0004, "Commission rate per side (e.g. 0.0004)")
	riskFreeRate := flag.Float64("risk-free-rate", 0.0, "Annual risk free rate in percent")
	dataSource := flag.String("data-source", "binance", "Candle source: wallex, binance or csv")
	csvPath := flag.String("csv", "", "Candle CSV path when data-source=csv")
	flag.Parse()

	var cfg Config
	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			log.Fatalf("MustLoad | Failed to read config file: %v", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("MustLoad | Failed to parse config file: %v", err)
		}
	} else {
		cfg = Config{
			Symbol:         *symbol,
			Timeframe:      *timeframe,
			FromStr:        *from,
			ToStr:          *to,
			InitialCash:    *initialCash,
			PositionSize:   *positionSize,
			MaxPositions:   *maxPositions,
			CommissionRate: *commissionRate,
			RiskFreeRate:   *riskFreeRate,
			DataSource:     *dataSource,
			CSVPath:        *csvPath,
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

	if cfg.WallexAPIKey == "" {
		cfg.WallexAPIKey = os.Getenv("WALLEX_API_KEY")
	}
	if cfg.DBConnStr == "" {
		cfg.DBConnStr = os.Getenv("DB_CONN_STR")
	}
	if cfg.DBMaxOpen == 0 {
		cfg.DBMaxOpen = 10
	}
	if cfg.DBMaxIdle == 0 {
		cfg.DBMaxIdle = 5
	}
	if cfg.TradesCSV == "" {
		cfg.TradesCSV = "backtest_trades.csv"
	}
	if cfg.EquityCSV == "" {
		cfg.EquityCSV = "backtest_equity.csv"
	}

	var err error
	cfg.From, err = time.Parse("2006-01-02", cfg.FromStr)
	if err != nil {
		log.Fatalf("MustLoad | Invalid from date %q: %v", cfg.FromStr, err)
	}
	cfg.To, err = time.Parse("2006-01-02", cfg.ToStr)
	if err != nil {
		log.Fatalf("MustLoad | Invalid to date %q: %v", cfg.ToStr, err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("MustLoad | %v", err)
	}
	return cfg
}

// Validate fails fast on anything that would otherwise surface mid-run.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !tfutils.IsValidTimeframe(c.Timeframe) {
		return fmt.Errorf("unsupported timeframe %q", c.Timeframe)
	}
	if !c.From.Before(c.To) {
		return fmt.Errorf("malformed date range: from %s is not before to %s",
			c.From.Format("2006-01-02"), c.To.Format("2006-01-02"))
	}
	if c.InitialCash <= 0 {
		return fmt.Errorf("initial cash must be positive, got %v", c.InitialCash)
	}
	if c.PositionSize < 0 {
		return fmt.Errorf("position size cannot be negative, got %v", c.PositionSize)
	}
	if c.MaxPositions <= 0 {
		return fmt.Errorf("max positions must be at least 1, got %d", c.MaxPositions)
	}
	if c.CommissionRate < 0 || c.CommissionRate >= 1 {
		return fmt.Errorf("commission rate out of range [0,1): %v", c.CommissionRate)
	}
	switch c.DataSource {
	case "wallex", "binance":
	case "csv":
		if c.CSVPath == "" {
			return fmt.Errorf("data source csv requires csv_path")
		}
	default:
		return fmt.Errorf("unknown data source %q", c.DataSource)
	}
	if len(c.Strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}
	seen := make(map[string]bool, len(c.Strategies))
	for i, s := range c.Strategies {
		if s.ID == "" {
			return fmt.Errorf("strategy %d has empty id", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate strategy id %q", s.ID)
		}
		seen[s.ID] = true
		switch s.Direction {
		case "", "long", "short":
		default:
			return fmt.Errorf("strategy %s: unknown direction %q", s.ID, s.Direction)
		}
		switch s.EntryMode {
		case "", "limit", "market":
		default:
			return fmt.Errorf("strategy %s: unknown entry mode %q", s.ID, s.EntryMode)
		}
		for _, phase := range s.AllowedPhases {
			if indicator.ParsePhase(phase) == indicator.PhaseUnknown {
				return fmt.Errorf("strategy %s: unknown cycle phase %q", s.ID, phase)
			}
		}
		for _, e := range s.ExitConditions {
			switch e.Type {
			case "stop_loss", "take_profit":
				if e.Percent <= 0 {
					return fmt.Errorf("strategy %s: exit %s needs a positive percent", s.ID, e.Type)
				}
			case "phase_flip", "band_exit":
			default:
				return fmt.Errorf("strategy %s: unknown exit type %q", s.ID, e.Type)
			}
		}
	}
	return nil
}

// IndicatorParams merges the configured periods over the defaults.
func (c *Config) IndicatorParams() indicator.Params {
	p := indicator.DefaultParams()
	if c.Indicators.EMAFastPeriod > 0 {
		p.EMAFastPeriod = c.Indicators.EMAFastPeriod
	}
	if c.Indicators.EMASlowPeriod > 0 {
		p.EMASlowPeriod = c.Indicators.EMASlowPeriod
	}
	if c.Indicators.MomentumPeriod > 0 {
		p.MomentumPeriod = c.Indicators.MomentumPeriod
	}
	if c.Indicators.BandLookback > 0 {
		p.BandLookback = c.Indicators.BandLookback
	}
	if c.Indicators.BandUpperPct > 0 {
		p.BandUpperPct = c.Indicators.BandUpperPct
	}
	if c.Indicators.BandLowerPct > 0 {
		p.BandLowerPct = c.Indicators.BandLowerPct
	}
	return p
}

// BuildStrategies turns the raw strategy blocks into immutable definitions
// through the registry. Called once at setup, after Validate.
func (c *Config) BuildStrategies(reg *strategy.Registry) ([]*strategy.Definition, error) {
	defs := make([]*strategy.Definition, 0, len(c.Strategies))
	for _, sc := range c.Strategies {
		params := strategy.Params{
			ID:                 sc.ID,
			Symbol:             c.Symbol,
			LimitOffsetPercent: sc.LimitOffsetPercent,
		}
		if sc.Direction == "short" {
			params.Direction = order.Short
		}
		if sc.EntryMode == "market" {
			params.EntryMode = strategy.EntryMarket
		}
		for _, phase := range sc.AllowedPhases {
			params.AllowedPhases = append(params.AllowedPhases, indicator.ParsePhase(phase))
		}

		exits, err := buildExits(sc, params.Direction)
		if err != nil {
			return nil, err
		}
		params.Exits = exits

		def, err := reg.Build(sc.Type, params)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func buildExits(sc StrategyConfig, dir order.Direction) ([]condition.ExitRule, error) {
	var rules []condition.ExitRule
	for _, e := range sc.ExitConditions {
		switch e.Type {
		case "stop_loss":
			rules = append(rules, &condition.StopLoss{Percent: e.Percent})
		case "take_profit":
			rules = append(rules, &condition.TakeProfit{Percent: e.Percent})
		case "phase_flip":
			// Close once the regime turns against the position.
			var adverse []indicator.Phase
			if dir == order.Short {
				adverse = []indicator.Phase{indicator.PhaseBullWarning, indicator.PhaseBullStrong}
			} else {
				adverse = []indicator.Phase{indicator.PhaseBearWarning, indicator.PhaseBearStrong}
			}
			rules = append(rules, &condition.IndicatorReversion{
				Condition: &condition.CyclePhaseIn{Phases: adverse},
			})
		case "band_exit":
			// Mean reversion completed: price reached the far band.
			var done condition.Condition
			if dir == order.Short {
				done = condition.BelowBand{}
			} else {
				done = condition.AboveBand{}
			}
			rules = append(rules, &condition.IndicatorReversion{Condition: done})
		default:
			return nil, fmt.Errorf("strategy %s: unknown exit type %q", sc.ID, e.Type)
		}
	}
	return rules, nil
}

// Describe returns a one-line run summary for logs.
func (c *Config) Describe() string {
	ids := make([]string, 0, len(c.Strategies))
	for _, s := range c.Strategies {
		ids = append(ids, s.ID)
	}
	return fmt.Sprintf("%s %s [%s..%s] strategies=%s",
		c.Symbol, c.Timeframe, c.From.Format("2006-01-02"), c.To.Format("2006-01-02"),
		strings.Join(ids, ","))
}
