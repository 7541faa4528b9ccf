package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/amirphl/kline-backtester/internal/candle"
	"github.com/amirphl/kline-backtester/internal/metrics"
	"github.com/amirphl/kline-backtester/internal/order"
)

// Postgres is the database-backed Storage. One row per run, with the full
// ledger and equity curve in child tables and the metrics payload as JSON.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens the connection pool and ensures the schema exists.
func NewPostgres(connStr string, maxOpen, maxIdle int) (*Postgres, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("NewPostgres | opening connection: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)

	p := &Postgres{db: db}
	if err := p.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) GetDB() *sql.DB { return p.db }

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			open DOUBLE PRECISION NOT NULL,
			high DOUBLE PRECISION NOT NULL,
			low DOUBLE PRECISION NOT NULL,
			close DOUBLE PRECISION NOT NULL,
			volume DOUBLE PRECISION NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (symbol, timeframe, ts)
		)`,
		`CREATE TABLE IF NOT EXISTS backtest_runs (
			id BIGSERIAL PRIMARY KEY,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			from_ts TIMESTAMPTZ NOT NULL,
			to_ts TIMESTAMPTZ NOT NULL,
			initial_cash DOUBLE PRECISION NOT NULL,
			metrics JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS backtest_orders (
			run_id BIGINT NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
			order_id TEXT NOT NULL,
			strategy_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			status TEXT NOT NULL,
			limit_price DOUBLE PRECISION NOT NULL,
			fill_price DOUBLE PRECISION NOT NULL,
			close_price DOUBLE PRECISION NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			notional DOUBLE PRECISION NOT NULL,
			commission DOUBLE PRECISION NOT NULL,
			realized_pnl DOUBLE PRECISION NOT NULL,
			close_reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ,
			filled_at TIMESTAMPTZ,
			closed_at TIMESTAMPTZ,
			PRIMARY KEY (run_id, order_id)
		)`,
		`CREATE TABLE IF NOT EXISTS backtest_equity (
			run_id BIGINT NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
			ts TIMESTAMPTZ NOT NULL,
			cash DOUBLE PRECISION NOT NULL,
			position_value DOUBLE PRECISION NOT NULL,
			equity DOUBLE PRECISION NOT NULL,
			equity_rate DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (run_id, ts)
		)`,
	}
	for _, stmt := range schema {
		if _, err := p.db.Exec(stmt); err != nil {
			return fmt.Errorf("initSchema | %w", err)
		}
	}
	return nil
}

func (p *Postgres) SaveCandles(ctx context.Context, candles []candle.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("SaveCandles | begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (symbol, timeframe, ts, open, high, low, close, volume, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, timeframe, ts) DO NOTHING`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("SaveCandles | prepare: %w", err)
	}

	for _, c := range candles {
		if err := c.Validate(); err != nil {
			tx.Rollback()
			return fmt.Errorf("SaveCandles | invalid candle: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, c.Symbol, c.Timeframe, c.Timestamp.UTC(),
			c.Open, c.High, c.Low, c.Close, c.Volume, c.Source); err != nil {
			tx.Rollback()
			return fmt.Errorf("SaveCandles | insert: %w", err)
		}
	}
	stmt.Close()

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("SaveCandles | commit: %w", err)
	}
	return nil
}

func (p *Postgres) GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]candle.Candle, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT symbol, timeframe, ts, open, high, low, close, volume, source
		FROM candles
		WHERE symbol = $1 AND timeframe = $2 AND ts >= $3 AND ts <= $4
		ORDER BY ts ASC`,
		symbol, timeframe, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("GetCandles | query: %w", err)
	}
	defer rows.Close()

	var out []candle.Candle
	for rows.Next() {
		var c candle.Candle
		if err := rows.Scan(&c.Symbol, &c.Timeframe, &c.Timestamp,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Source); err != nil {
			return nil, fmt.Errorf("GetCandles | scan: %w", err)
		}
		c.Timestamp = c.Timestamp.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveRun(ctx context.Context, run RunRecord) (int64, error) {
	metricsJSON, err := json.Marshal(run.Metrics)
	if err != nil {
		return 0, fmt.Errorf("SaveRun | marshal metrics: %w", err)
	}

	var id int64
	err = p.db.QueryRowContext(ctx, `
		INSERT INTO backtest_runs (symbol, timeframe, from_ts, to_ts, initial_cash, metrics)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		run.Symbol, run.Timeframe, run.From.UTC(), run.To.UTC(), run.InitialCash, metricsJSON).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("SaveRun | insert: %w", err)
	}
	return id, nil
}

func (p *Postgres) SaveOrders(ctx context.Context, runID int64, orders []*order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("SaveOrders | begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_orders (run_id, order_id, strategy_id, symbol, direction, status,
			limit_price, fill_price, close_price, quantity, notional, commission, realized_pnl,
			close_reason, created_at, filled_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("SaveOrders | prepare: %w", err)
	}

	for _, o := range orders {
		if _, err := stmt.ExecContext(ctx, runID, o.ID, o.StrategyID, o.Symbol,
			o.Direction.String(), o.Status.String(),
			o.LimitPrice, o.FillPrice, o.ClosePrice, o.Quantity, o.Notional,
			o.OpenCommission+o.CloseCommission, o.RealizedPnL, o.CloseReason,
			nullableTime(o.CreatedAt), nullableTime(o.FilledAt), nullableTime(o.ClosedAt)); err != nil {
			tx.Rollback()
			return fmt.Errorf("SaveOrders | insert %s: %w", o.ID, err)
		}
	}
	stmt.Close()

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("SaveOrders | commit: %w", err)
	}
	return nil
}

func (p *Postgres) SaveEquityCurve(ctx context.Context, runID int64, curve []metrics.EquityPoint) error {
	if len(curve) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("SaveEquityCurve | begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_equity (run_id, ts, cash, position_value, equity, equity_rate)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id, ts) DO NOTHING`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("SaveEquityCurve | prepare: %w", err)
	}

	for _, pt := range curve {
		if _, err := stmt.ExecContext(ctx, runID, pt.Timestamp.UTC(),
			pt.Cash, pt.PositionValue, pt.Equity, pt.EquityRate); err != nil {
			tx.Rollback()
			return fmt.Errorf("SaveEquityCurve | insert: %w", err)
		}
	}
	stmt.Close()

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("SaveEquityCurve | commit: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
