package condition

import (
	"fmt"
	"math"
	"sort"

	"github.com/amirphl/kline-backtester/internal/order"
)

// ExitKind identifies an exit rule and fixes its priority inside a candle.
// When a bar's range crosses both the stop and the take-profit level, the
// engine cannot know which the intraday path hit first; it assumes the
// adverse one. The ordering stop > take-profit > reversion is a deliberate,
// documented simplification, not an attempt at path simulation.
type ExitKind int8

const (
	ExitStopLoss ExitKind = iota
	ExitTakeProfit
	ExitIndicatorReversion
)

func (k ExitKind) String() string {
	switch k {
	case ExitStopLoss:
		return "stop-loss"
	case ExitTakeProfit:
		return "take-profit"
	case ExitIndicatorReversion:
		return "indicator-reversion"
	default:
		return fmt.Sprintf("exit(%d)", int8(k))
	}
}

// ExitRule is one closing rule for an open position. Evaluate receives a
// Context whose Order field is the filled order under check.
type ExitRule interface {
	Kind() ExitKind
	Evaluate(ctx *Context) Result
}

// StopLoss closes a position once price moves Percent against the entry.
// The close is assumed at the stop level itself.
type StopLoss struct {
	Percent float64 // e.g. 2.0 closes a long 2% below entry
}

func (s *StopLoss) Kind() ExitKind { return ExitStopLoss }

func (s *StopLoss) Evaluate(ctx *Context) Result {
	if ctx.Order == nil || ctx.Order.Status != order.Filled || s.Percent <= 0 {
		return notTriggered("no position")
	}

	entry := ctx.Order.FillPrice
	if ctx.Order.Direction == order.Short {
		stop := entry * (1 + s.Percent/100)
		if ctx.Candle.High >= stop {
			return Result{Triggered: true, Price: stop, Reason: "stop-loss"}
		}
	} else {
		stop := entry * (1 - s.Percent/100)
		if ctx.Candle.Low <= stop {
			return Result{Triggered: true, Price: stop, Reason: "stop-loss"}
		}
	}
	return notTriggered("stop not reached")
}

// TakeProfit closes a position once price moves Percent in its favor, at the
// target level.
type TakeProfit struct {
	Percent float64
}

func (t *TakeProfit) Kind() ExitKind { return ExitTakeProfit }

func (t *TakeProfit) Evaluate(ctx *Context) Result {
	if ctx.Order == nil || ctx.Order.Status != order.Filled || t.Percent <= 0 {
		return notTriggered("no position")
	}

	entry := ctx.Order.FillPrice
	if ctx.Order.Direction == order.Short {
		target := entry * (1 - t.Percent/100)
		if ctx.Candle.Low <= target {
			return Result{Triggered: true, Price: target, Reason: "take-profit"}
		}
	} else {
		target := entry * (1 + t.Percent/100)
		if ctx.Candle.High >= target {
			return Result{Triggered: true, Price: target, Reason: "take-profit"}
		}
	}
	return notTriggered("target not reached")
}

// IndicatorReversion closes a position when an arbitrary condition tree
// fires, at the candle close. Used for regime-flip and band-reversion exits.
type IndicatorReversion struct {
	Condition Condition
}

func (r *IndicatorReversion) Kind() ExitKind { return ExitIndicatorReversion }

func (r *IndicatorReversion) Evaluate(ctx *Context) Result {
	if ctx.Order == nil || ctx.Order.Status != order.Filled || r.Condition == nil {
		return notTriggered("no position")
	}
	res := r.Condition.Evaluate(ctx)
	if !res.Triggered {
		return res
	}
	price := res.Price
	if math.IsNaN(price) {
		price = ctx.Candle.Close
	}
	return Result{
		Triggered: true,
		Price:     price,
		Reason:    "indicator-reversion: " + res.Reason,
	}
}

// ExitSet evaluates a strategy's exit rules in fixed priority order and
// returns the first that fires.
type ExitSet struct {
	rules []ExitRule
}

// NewExitSet sorts rules by kind priority once; evaluation order is then
// stable for the lifetime of the run.
func NewExitSet(rules ...ExitRule) *ExitSet {
	sorted := make([]ExitRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Kind() < sorted[j].Kind()
	})
	return &ExitSet{rules: sorted}
}

// Evaluate returns the kind and result of the first firing rule. When nothing
// fires the returned result is not triggered.
func (s *ExitSet) Evaluate(ctx *Context) (ExitKind, Result) {
	for _, rule := range s.rules {
		if res := rule.Evaluate(ctx); res.Triggered {
			return rule.Kind(), res
		}
	}
	return ExitIndicatorReversion, notTriggered("no exit rule fired")
}

// Empty reports whether the set has no rules at all.
func (s *ExitSet) Empty() bool { return len(s.rules) == 0 }
