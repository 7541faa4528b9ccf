package db

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/amirphl/kline-backtester/internal/candle"
	"github.com/amirphl/kline-backtester/internal/metrics"
	"github.com/amirphl/kline-backtester/internal/order"
)

// MemoryStorage is the in-process Storage used by tests and runs that do not
// configure a database.
type MemoryStorage struct {
	mu sync.RWMutex

	// Candles keyed by symbol|timeframe|timestamp
	candles map[string]candle.Candle

	runs      map[int64]RunRecord
	orders    map[int64][]*order.Order
	curves    map[int64][]metrics.EquityPoint
	nextRunID int64
}

func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		candles: make(map[string]candle.Candle),
		runs:    make(map[int64]RunRecord),
		orders:  make(map[int64][]*order.Order),
		curves:  make(map[int64][]metrics.EquityPoint),
	}
}

func candleKey(symbol, timeframe string, ts time.Time) string {
	return strings.ToUpper(symbol) + "|" + timeframe + "|" + ts.UTC().Format(time.RFC3339Nano)
}

func (m *MemoryStorage) SaveCandles(ctx context.Context, candles []candle.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range candles {
		if err := candles[i].Validate(); err != nil {
			return err
		}
		candles[i].Timestamp = candles[i].Timestamp.UTC()
		m.candles[candleKey(candles[i].Symbol, candles[i].Timeframe, candles[i].Timestamp)] = candles[i]
	}
	return nil
}

func (m *MemoryStorage) GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]candle.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []candle.Candle
	for _, c := range m.candles {
		if !strings.EqualFold(c.Symbol, symbol) || c.Timeframe != timeframe {
			continue
		}
		if c.Timestamp.Before(start) || c.Timestamp.After(end) {
			continue
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (m *MemoryStorage) SaveRun(ctx context.Context, run RunRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRunID++
	run.ID = m.nextRunID
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	m.runs[run.ID] = run
	return run.ID, nil
}

func (m *MemoryStorage) SaveOrders(ctx context.Context, runID int64, orders []*order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[runID] = append(m.orders[runID], orders...)
	return nil
}

func (m *MemoryStorage) SaveEquityCurve(ctx context.Context, runID int64, curve []metrics.EquityPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.curves[runID] = append(m.curves[runID], curve...)
	return nil
}

// GetRun returns a persisted run record, for tests.
func (m *MemoryStorage) GetRun(runID int64) (RunRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[runID]
	return run, ok
}

// GetOrders returns the persisted ledger of a run, for tests.
func (m *MemoryStorage) GetOrders(runID int64) []*order.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.orders[runID]
}
