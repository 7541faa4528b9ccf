package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/amirphl/kline-backtester/internal/backtest"
	"github.com/amirphl/kline-backtester/internal/candle"
	"github.com/amirphl/kline-backtester/internal/config"
	"github.com/amirphl/kline-backtester/internal/db"
	"github.com/amirphl/kline-backtester/internal/exchange"
	"github.com/amirphl/kline-backtester/internal/indicator"
	"github.com/amirphl/kline-backtester/internal/strategy"
)

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()
	log.Printf("main | Starting backtest: %s", cfg.Describe())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Printf("main | Received signal %v, aborting", sig)
		cancel()
	}()

	var store db.Storage
	if cfg.DBConnStr != "" {
		pg, err := db.NewPostgres(cfg.DBConnStr, cfg.DBMaxOpen, cfg.DBMaxIdle)
		if err != nil {
			log.Fatalf("main | Failed to connect to database: %v", err)
		}
		defer pg.Close()
		store = pg
	}

	candles, err := loadCandles(ctx, cfg, store)
	if err != nil {
		log.Fatalf("main | Failed to load candles: %v", err)
	}
	if len(candles) == 0 {
		log.Fatalf("main | No candles for %s %s in [%s..%s]",
			cfg.Symbol, cfg.Timeframe, cfg.From.Format("2006-01-02"), cfg.To.Format("2006-01-02"))
	}

	processed, report := candle.Process(candles, cfg.Symbol, cfg.Timeframe, cfg.From, cfg.To)
	log.Printf("main | Prepared %d candles (duplicates=%d synthetic=%d trimmed=%d)",
		len(processed), report.Duplicates, report.Synthetic, report.Trimmed)

	params := cfg.IndicatorParams()
	indicators, err := indicator.Compute(processed, params)
	if err != nil {
		log.Fatalf("main | Failed to compute indicators: %v", err)
	}

	defs, err := cfg.BuildStrategies(strategy.NewRegistry())
	if err != nil {
		log.Fatalf("main | Failed to build strategies: %v", err)
	}

	settings := backtest.Settings{
		InitialCash:    cfg.InitialCash,
		MaxPositions:   cfg.MaxPositions,
		PositionSize:   cfg.PositionSize,
		CommissionRate: cfg.CommissionRate,
		RiskFreeRate:   cfg.RiskFreeRate,
	}

	engine, err := backtest.NewEngine(settings, defs, processed, indicators)
	if err != nil {
		log.Fatalf("main | Failed to set up engine: %v", err)
	}
	if report.Synthetic > 0 {
		engine.WarnData(fmt.Sprintf("filled %d gaps with synthetic candles", report.Synthetic))
	}

	result, err := engine.Run(ctx)
	if err != nil {
		log.Fatalf("main | Backtest failed: %v", err)
	}

	result.Print()

	if err := result.SaveCSV(cfg.TradesCSV, cfg.EquityCSV); err != nil {
		log.Printf("main | Failed to export CSV: %v", err)
	}

	if store != nil {
		runID, err := store.SaveRun(ctx, db.RunRecord{
			Symbol:      cfg.Symbol,
			Timeframe:   cfg.Timeframe,
			From:        cfg.From,
			To:          cfg.To,
			InitialCash: cfg.InitialCash,
			Metrics:     result.Metrics,
		})
		if err != nil {
			log.Printf("main | Failed to persist run: %v", err)
			return
		}
		if err := store.SaveOrders(ctx, runID, result.Orders); err != nil {
			log.Printf("main | Failed to persist orders: %v", err)
		}
		if err := store.SaveEquityCurve(ctx, runID, result.EquityCurve); err != nil {
			log.Printf("main | Failed to persist equity curve: %v", err)
		}
		log.Printf("main | Saved run %d", runID)
	}
}

// loadCandles resolves the configured data source, consulting the candle cache
// first when a database is wired in.
func loadCandles(ctx context.Context, cfg config.Config, store db.Storage) ([]candle.Candle, error) {
	if store != nil {
		cached, err := store.GetCandles(ctx, cfg.Symbol, cfg.Timeframe, cfg.From, cfg.To)
		if err != nil {
			log.Printf("loadCandles | Cache lookup failed: %v", err)
		} else if len(cached) > 0 {
			log.Printf("loadCandles | Using %d cached candles", len(cached))
			return cached, nil
		}
	}

	var provider candle.Provider
	switch cfg.DataSource {
	case "wallex":
		provider = exchange.NewWallexProvider(cfg.WallexAPIKey)
	case "binance":
		provider = exchange.NewBinanceProvider(cfg.ProxyURL)
	case "csv":
		provider = candle.NewCSVProvider(cfg.CSVPath)
	}

	candles, err := provider.FetchCandles(ctx, cfg.Symbol, cfg.Timeframe, cfg.From, cfg.To)
	if err != nil {
		return nil, err
	}

	if store != nil && cfg.DataSource != "csv" {
		if err := store.SaveCandles(ctx, candles); err != nil {
			log.Printf("loadCandles | Failed to cache candles: %v", err)
		}
	}
	return candles, nil
}
