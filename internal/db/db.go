// Package db
package db

import (
	"context"
	"time"

	"github.com/amirphl/kline-backtester/internal/candle"
	"github.com/amirphl/kline-backtester/internal/metrics"
	"github.com/amirphl/kline-backtester/internal/order"
)

// RunRecord captures one finished backtest run for persistence.
type RunRecord struct {
	ID          int64
	Symbol      string
	Timeframe   string
	From        time.Time
	To          time.Time
	InitialCash float64
	Metrics     metrics.Result
	CreatedAt   time.Time
}

// Storage is the persistence collaborator of the engine: a candle cache plus
// a results sink. The engine itself never touches it; the runner loads
// candles through it and hands finished results to it.
type Storage interface {
	SaveCandles(ctx context.Context, candles []candle.Candle) error
	GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]candle.Candle, error)

	SaveRun(ctx context.Context, run RunRecord) (int64, error)
	SaveOrders(ctx context.Context, runID int64, orders []*order.Order) error
	SaveEquityCurve(ctx context.Context, runID int64, curve []metrics.EquityPoint) error
}
