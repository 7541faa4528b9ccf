// Package condition implements the composable predicate trees strategies are
// built from. A condition is constructed once at setup and evaluated
// read-only against each candle; the only per-evaluation state is the Context
// passed in.
package condition

import (
	"math"

	"github.com/amirphl/kline-backtester/internal/candle"
	"github.com/amirphl/kline-backtester/internal/indicator"
	"github.com/amirphl/kline-backtester/internal/order"
)

// Context bundles everything a condition may look at for one candle: the
// candle itself, the indicator snapshot at the same index and, for exit
// conditions, the open order being checked.
type Context struct {
	Candle     candle.Candle
	Index      int
	Indicators indicator.Snapshot
	Order      *order.Order // nil for entry evaluation
}

// Result is the outcome of one evaluation. Price carries the level that
// triggered (a touched limit level, a stop price); it is NaN when the
// condition has no meaningful price, and callers must not read it then.
type Result struct {
	Triggered bool
	Price     float64
	Reason    string
}

func notTriggered(reason string) Result {
	return Result{Triggered: false, Price: math.NaN(), Reason: reason}
}

// Condition is a node of the predicate tree.
type Condition interface {
	Evaluate(ctx *Context) Result
}

// And triggers only when every child triggers. Evaluation stops at the first
// false child: some leaves scan lookback windows, and exit combiners depend
// on later children not being evaluated once the outcome is known.
type And struct {
	Children []Condition
}

func NewAnd(children ...Condition) *And { return &And{Children: children} }

func (a *And) Evaluate(ctx *Context) Result {
	if len(a.Children) == 0 {
		return notTriggered("empty and")
	}
	var last Result
	for _, child := range a.Children {
		last = child.Evaluate(ctx)
		if !last.Triggered {
			return notTriggered(last.Reason)
		}
	}
	return last
}

// Or triggers on the first child that triggers and stops evaluating there.
type Or struct {
	Children []Condition
}

func NewOr(children ...Condition) *Or { return &Or{Children: children} }

func (o *Or) Evaluate(ctx *Context) Result {
	for _, child := range o.Children {
		if res := child.Evaluate(ctx); res.Triggered {
			return res
		}
	}
	return notTriggered("no alternative triggered")
}

// Not inverts its child. The inverse of a price level is not a price, so the
// result's Price is always NaN regardless of the child's.
type Not struct {
	Child Condition
}

func NewNot(child Condition) *Not { return &Not{Child: child} }

func (n *Not) Evaluate(ctx *Context) Result {
	res := n.Child.Evaluate(ctx)
	return Result{
		Triggered: !res.Triggered,
		Price:     math.NaN(),
		Reason:    "not(" + res.Reason + ")",
	}
}
