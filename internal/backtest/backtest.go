// Package backtest
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/amirphl/kline-backtester/internal/candle"
	"github.com/amirphl/kline-backtester/internal/capital"
	"github.com/amirphl/kline-backtester/internal/condition"
	"github.com/amirphl/kline-backtester/internal/engine"
	"github.com/amirphl/kline-backtester/internal/indicator"
	"github.com/amirphl/kline-backtester/internal/journal"
	"github.com/amirphl/kline-backtester/internal/metrics"
	"github.com/amirphl/kline-backtester/internal/order"
	"github.com/amirphl/kline-backtester/internal/strategy"
)

// Settings holds the engine-level knobs of one run. The config layer
// validates these before construction.
type Settings struct {
	InitialCash    float64
	MaxPositions   int
	PositionSize   float64 // fixed notional per order; 0 switches to dynamic sizing
	CommissionRate float64 // e.g. 0.0004
	RiskFreeRate   float64 // annual, percent
}

func (s Settings) Validate() error {
	if s.InitialCash <= 0 {
		return fmt.Errorf("initial cash must be positive, got %v", s.InitialCash)
	}
	if s.MaxPositions <= 0 {
		return fmt.Errorf("max positions must be at least 1, got %d", s.MaxPositions)
	}
	if s.PositionSize < 0 {
		return fmt.Errorf("position size cannot be negative, got %v", s.PositionSize)
	}
	if s.CommissionRate < 0 || s.CommissionRate >= 1 {
		return fmt.Errorf("commission rate out of range [0,1): %v", s.CommissionRate)
	}
	return nil
}

// Engine replays a candle series against a set of strategies sharing one
// capital pool. The simulation is single threaded and deterministic: candles
// advance in order, and within a candle every step runs in a fixed sequence
// over strategies in registration order. Each run needs a fresh Engine;
// nothing is shared between runs.
type Engine struct {
	settings Settings
	defs     []*strategy.Definition
	manager  *capital.Manager
	journal  *journal.MemoryJournal

	candles    []candle.Candle
	indicators *indicator.Set

	// ledger holds every order ever created, in creation order.
	ledger []*order.Order
	// active maps strategy id to its one live (pending or filled) order.
	active map[string]*order.Order

	curve []metrics.EquityPoint
	diag  Diagnostics
}

// NewEngine builds an engine over an already-processed candle series. The
// series must be strictly ascending; gaps are the provider's problem, not the
// engine's.
func NewEngine(settings Settings, defs []*strategy.Definition, candles []candle.Candle, indicators *indicator.Set) (*Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("NewEngine | invalid settings: %w", err)
	}
	if len(defs) == 0 {
		return nil, errors.New("NewEngine | no strategies configured")
	}
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		if seen[d.ID] {
			return nil, fmt.Errorf("NewEngine | duplicate strategy id %q", d.ID)
		}
		seen[d.ID] = true
	}
	if err := candle.CheckOrdering(candles); err != nil {
		return nil, fmt.Errorf("NewEngine | %w", err)
	}

	return &Engine{
		settings:   settings,
		defs:       defs,
		manager:    capital.NewManager(settings.InitialCash, settings.MaxPositions),
		journal:    journal.NewMemoryJournal(),
		candles:    candles,
		indicators: indicators,
		active:     make(map[string]*order.Order, len(defs)),
	}, nil
}

// WarnData attaches a data-quality warning (gap fills, duplicates, short
// history) to the run's diagnostics. Called by the data-loading layer before
// Run.
func (e *Engine) WarnData(msg string) {
	e.diag.DataWarnings = append(e.diag.DataWarnings, msg)
}

// Run executes the whole replay and assembles the result. An error return
// means the engine itself is broken (invalid order transition, corrupt pool),
// not a bad strategy or an empty data set, both of which complete normally.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	for i := range e.candles {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if err := e.step(i); err != nil {
			return nil, err
		}
	}

	if err := e.finish(); err != nil {
		return nil, err
	}

	return e.buildResult(), nil
}

// step runs the fixed per-candle cycle. Each stage observes the effects of
// the stages before it within the same candle.
func (e *Engine) step(i int) error {
	c := e.candles[i]

	// 1. Cancel stale re-quotes. A limit order that already had a matching
	// chance (ValidFromIndex < i) and is still pending gets cancelled so its
	// strategy can quote fresh off this candle. Market orders never go stale;
	// they fill at their first chance below.
	for _, o := range e.ledger {
		if o.Status != order.Pending || o.ValidFromIndex >= i {
			continue
		}
		def := e.defByID(o.StrategyID)
		if def == nil || def.EntryMode != strategy.EntryLimit {
			continue
		}
		if err := o.Cancel(); err != nil {
			return fmt.Errorf("step %d | %w", i, err)
		}
		e.manager.Release(o.Notional, 0)
		delete(e.active, o.StrategyID)
		e.journal.LogEvent(journal.Event{
			Time: c.Timestamp, Type: "order", StrategyID: o.StrategyID, CandleIndex: i,
			Description: "requote_cancel", Data: map[string]any{"order_id": o.ID, "limit": o.LimitPrice},
		})
	}

	// 2. Exits for open positions, in creation order.
	if err := e.evaluateExits(i, c); err != nil {
		return err
	}

	// 3. Entries, in strategy registration order. Every allocation is checked
	// against the pool as mutated by the allocations before it in this same
	// candle.
	e.evaluateEntries(i, c)

	// 4. Match pending orders against this candle's range.
	if err := e.matchPending(i, c); err != nil {
		return err
	}

	// 5 happened inline: every fill/close/cancel above adjusted the pool
	// atomically, one at a time, in the fixed order established by the steps.

	// 6. Record the equity point after all mutations.
	e.recordEquity(i, c)
	return nil
}

func (e *Engine) defByID(id string) *strategy.Definition {
	for _, d := range e.defs {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// evaluateExits checks every filled order against its strategy's exit set and
// closes the ones that fire, releasing capital with realized PnL.
func (e *Engine) evaluateExits(i int, c candle.Candle) error {
	for _, o := range e.ledger {
		if o.Status != order.Filled {
			continue
		}
		def := e.defByID(o.StrategyID)
		if def == nil || def.Exits.Empty() {
			continue
		}

		ctx := &condition.Context{
			Candle:     c,
			Index:      i,
			Indicators: e.indicators.At(i),
			Order:      o,
		}

		kind, res, evalErr := e.safeExitEval(def, ctx)
		if evalErr != nil {
			e.diag.StrategyErrors++
			e.journal.LogEvent(journal.Event{
				Time: c.Timestamp, Type: "error", StrategyID: o.StrategyID, CandleIndex: i,
				Description: "exit_evaluation_panic", Data: map[string]any{"error": evalErr.Error()},
			})
			continue
		}
		if !res.Triggered {
			continue
		}

		if err := o.Close(res.Price, i, c.Timestamp, e.settings.CommissionRate, kind.String()); err != nil {
			return fmt.Errorf("evaluateExits %d | %w", i, err)
		}
		e.manager.Release(o.Notional, o.RealizedPnL)
		delete(e.active, o.StrategyID)
		e.journal.LogEvent(journal.Event{
			Time: c.Timestamp, Type: "order", StrategyID: o.StrategyID, CandleIndex: i,
			Description: "position_closed",
			Data:        map[string]any{"order_id": o.ID, "reason": kind.String(), "pnl": o.RealizedPnL},
		})
	}
	return nil
}

// evaluateEntries runs each strategy's entry condition and sizes, allocates
// and queues an order per firing signal. Skips are journaled and counted,
// never raised: insufficient capital and a full position book are expected
// outcomes of resource contention, not failures.
func (e *Engine) evaluateEntries(i int, c candle.Candle) {
	for _, def := range e.defs {
		if _, busy := e.active[def.ID]; busy {
			continue
		}

		ctx := &condition.Context{
			Candle:     c,
			Index:      i,
			Indicators: e.indicators.At(i),
		}

		res, evalErr := e.safeEntryEval(def, ctx)
		if evalErr != nil {
			e.diag.StrategyErrors++
			e.journal.LogEvent(journal.Event{
				Time: c.Timestamp, Type: "error", StrategyID: def.ID, CandleIndex: i,
				Description: "entry_evaluation_panic", Data: map[string]any{"error": evalErr.Error()},
			})
			continue
		}
		if !res.Triggered {
			continue
		}

		openCount := len(e.active)
		if !e.manager.CanOpenPosition(openCount) {
			e.diag.SkippedPositionCeiling++
			e.journal.LogEvent(journal.Event{
				Time: c.Timestamp, Type: "skip", StrategyID: def.ID, CandleIndex: i,
				Description: "position_ceiling", Data: map[string]any{"open": openCount},
			})
			continue
		}

		size := e.settings.PositionSize
		if size == 0 {
			size = e.manager.PositionSize(openCount)
		}
		if size <= 0 {
			e.diag.SkippedZeroSize++
			e.journal.LogEvent(journal.Event{
				Time: c.Timestamp, Type: "skip", StrategyID: def.ID, CandleIndex: i,
				Description: "zero_position_size", Data: nil,
			})
			continue
		}

		if err := e.manager.Allocate(size); err != nil {
			if errors.Is(err, capital.ErrInsufficientCapital) {
				e.diag.SkippedInsufficientCapital++
				e.journal.LogEvent(journal.Event{
					Time: c.Timestamp, Type: "skip", StrategyID: def.ID, CandleIndex: i,
					Description: "insufficient_capital", Data: map[string]any{"requested": size},
				})
				continue
			}
			// Non-insufficiency allocation failures are engine bugs.
			panic(fmt.Sprintf("backtest: allocate failed outside insufficiency: %v", err))
		}

		limit := def.LimitPrice(res.Price, c.Close)
		o := order.NewLimit(def.ID, def.Symbol, def.Direction, limit, size, i, c.Timestamp)
		e.ledger = append(e.ledger, o)
		e.active[def.ID] = o
		e.journal.LogEvent(journal.Event{
			Time: c.Timestamp, Type: "order", StrategyID: def.ID, CandleIndex: i,
			Description: "order_created",
			Data:        map[string]any{"order_id": o.ID, "limit": limit, "notional": size, "reason": res.Reason},
		})
	}
}

// matchPending fills orders whose time has come. Market-mode orders fill at
// this candle's open; limit-mode orders go through the matching engine and
// fill at their quoted price. Both honor ValidFromIndex, so nothing fills on
// its placement candle.
func (e *Engine) matchPending(i int, c candle.Candle) error {
	var limits []*order.Order
	for _, o := range e.ledger {
		if o.Status != order.Pending || i < o.ValidFromIndex {
			continue
		}
		def := e.defByID(o.StrategyID)
		if def != nil && def.EntryMode == strategy.EntryMarket {
			if err := o.Fill(c.Open, i, c.Timestamp, e.settings.CommissionRate); err != nil {
				return fmt.Errorf("matchPending %d | %w", i, err)
			}
			e.journal.LogEvent(journal.Event{
				Time: c.Timestamp, Type: "order", StrategyID: o.StrategyID, CandleIndex: i,
				Description: "market_fill", Data: map[string]any{"order_id": o.ID, "price": c.Open},
			})
			continue
		}
		limits = append(limits, o)
	}

	fills := engine.Match(limits, c, i)
	for _, f := range fills {
		o := e.orderByID(f.OrderID)
		if o == nil {
			panic(fmt.Sprintf("backtest: fill event for unknown order %s", f.OrderID))
		}
		if err := o.Fill(f.FillPrice, f.FillIndex, f.FillTime, e.settings.CommissionRate); err != nil {
			return fmt.Errorf("matchPending %d | %w", i, err)
		}
		e.journal.LogEvent(journal.Event{
			Time: c.Timestamp, Type: "order", StrategyID: o.StrategyID, CandleIndex: i,
			Description: "limit_fill", Data: map[string]any{"order_id": o.ID, "price": f.FillPrice},
		})
	}
	return nil
}

func (e *Engine) orderByID(id string) *order.Order {
	for _, o := range e.ledger {
		if o.ID == id {
			return o
		}
	}
	return nil
}

// recordEquity appends the dense per-candle equity sample: available cash
// plus frozen notionals plus unrealized PnL of open positions marked at this
// candle's close. The open commission is already spent when a position
// fills, so it comes off the frozen notional here rather than landing on
// the curve as a lump at close.
func (e *Engine) recordEquity(i int, c candle.Candle) {
	pool := e.manager.Snapshot()

	var unrealized, openCosts float64
	for _, o := range e.ledger {
		if o.Status != order.Filled {
			continue
		}
		unrealized += o.UnrealizedPnL(c.Close)
		openCosts += o.OpenCommission
	}

	equity := pool.Available + pool.Frozen + unrealized - openCosts
	rate := 0.0
	if e.settings.InitialCash > 0 {
		rate = equity/e.settings.InitialCash - 1
	}

	e.curve = append(e.curve, metrics.EquityPoint{
		Timestamp:     c.Timestamp,
		Cash:          pool.Available,
		PositionValue: pool.Frozen + unrealized - openCosts,
		Equity:        equity,
		EquityRate:    rate,
	})
}

// finish sweeps the book at the end of the replay: remaining pending orders
// expire and open positions close at the last candle's close.
func (e *Engine) finish() error {
	if len(e.candles) == 0 {
		return nil
	}
	last := e.candles[len(e.candles)-1]
	lastIdx := len(e.candles) - 1

	for _, o := range e.ledger {
		switch o.Status {
		case order.Pending:
			if err := o.Expire(); err != nil {
				return fmt.Errorf("finish | %w", err)
			}
			e.manager.Release(o.Notional, 0)
			delete(e.active, o.StrategyID)
		case order.Filled:
			if err := o.Close(last.Close, lastIdx, last.Timestamp, e.settings.CommissionRate, "end-of-backtest"); err != nil {
				return fmt.Errorf("finish | %w", err)
			}
			e.manager.Release(o.Notional, o.RealizedPnL)
			delete(e.active, o.StrategyID)
		}
	}

	pool := e.manager.Snapshot()
	if pool.Frozen > 1e-6 {
		panic(fmt.Sprintf("backtest: %v still frozen after final sweep", pool.Frozen))
	}
	return nil
}

// safeEntryEval isolates one strategy's condition evaluation: a panic inside
// a condition tree is caught and degraded to no-signal so a single
// misconfigured strategy cannot abort the whole multi-strategy run.
func (e *Engine) safeEntryEval(def *strategy.Definition, ctx *condition.Context) (res condition.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy %s entry evaluation panicked: %v", def.ID, r)
			res = condition.Result{}
		}
	}()
	res = def.Entry.Evaluate(ctx)
	return res, nil
}

func (e *Engine) safeExitEval(def *strategy.Definition, ctx *condition.Context) (kind condition.ExitKind, res condition.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy %s exit evaluation panicked: %v", def.ID, r)
			res = condition.Result{}
		}
	}()
	kind, res = def.Exits.Evaluate(ctx)
	return kind, res, nil
}

func (e *Engine) buildResult() *Result {
	periodDays := periodDays(e.candles)

	closed := make([]*order.Order, 0, len(e.ledger))
	for _, o := range e.ledger {
		if o.Status == order.Closed {
			closed = append(closed, o)
		}
	}

	res := &Result{
		Orders:      e.ledger,
		EquityCurve: e.curve,
		Metrics:     metrics.Build(closed, e.curve, e.settings.InitialCash, periodDays, e.settings.RiskFreeRate),
		PerStrategy: metrics.BuildPartials(closed),
		Diagnostics: e.diag,
		FinalPool:   e.manager.Snapshot(),
		Events:      e.journal.All(),
	}

	log.Printf("Run | %d candles, %d orders (%d closed), final equity %.2f",
		len(e.candles), len(e.ledger), len(closed), res.FinalPool.Total)
	return res
}

func periodDays(candles []candle.Candle) float64 {
	if len(candles) < 2 {
		return 0
	}
	span := candles[len(candles)-1].Timestamp.Sub(candles[0].Timestamp)
	return span.Hours() / 24
}

// RunSingle is the single-strategy convenience wrapper around the shared
// multi-strategy loop.
func RunSingle(ctx context.Context, settings Settings, def *strategy.Definition, candles []candle.Candle, indicators *indicator.Set) (*Result, error) {
	eng, err := NewEngine(settings, []*strategy.Definition{def}, candles, indicators)
	if err != nil {
		return nil, err
	}
	return eng.Run(ctx)
}

// RunMulti runs several strategies against one shared capital pool and one
// global position ceiling.
func RunMulti(ctx context.Context, settings Settings, defs []*strategy.Definition, candles []candle.Candle, indicators *indicator.Set) (*Result, error) {
	eng, err := NewEngine(settings, defs, candles, indicators)
	if err != nil {
		return nil, err
	}
	return eng.Run(ctx)
}
