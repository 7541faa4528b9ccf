// Package strategy
package strategy

import (
	"fmt"
	"math"

	"github.com/amirphl/kline-backtester/internal/condition"
	"github.com/amirphl/kline-backtester/internal/indicator"
	"github.com/amirphl/kline-backtester/internal/order"
)

// EntryMode selects how a firing entry signal becomes an order.
type EntryMode int8

const (
	// EntryLimit quotes a resting limit order off the signal candle's close,
	// re-quoted every candle until filled. It can fill from the next candle at
	// the earliest.
	EntryLimit EntryMode = iota
	// EntryMarket fills at the next candle's open. Still next-bar-or-later;
	// nothing ever fills on the signal candle itself.
	EntryMarket
)

func (m EntryMode) String() string {
	if m == EntryMarket {
		return "market"
	}
	return "limit"
}

// Definition is one immutable strategy configuration: an id, an entry
// condition tree, a set of exit rules and the order mechanics. Built once at
// setup and shared read-only by the execution loop.
type Definition struct {
	ID        string
	Symbol    string
	Direction order.Direction
	Entry     condition.Condition
	Exits     *condition.ExitSet
	EntryMode EntryMode

	// LimitOffsetPercent shifts the limit quote from the signal price:
	// a buy quotes below it, a sell above it. Zero quotes at the signal
	// price itself.
	LimitOffsetPercent float64
}

// LimitPrice derives the resting quote from the entry signal. signalPrice is
// the entry condition's price when defined, otherwise the candle close.
func (d *Definition) LimitPrice(signalPrice, closePrice float64) float64 {
	base := signalPrice
	if math.IsNaN(base) || base <= 0 {
		base = closePrice
	}
	if d.LimitOffsetPercent == 0 {
		return base
	}
	if d.Direction == order.Short {
		return base * (1 + d.LimitOffsetPercent/100)
	}
	return base * (1 - d.LimitOffsetPercent/100)
}

// Params is the typed per-strategy configuration handed to a factory. The
// config layer fills it from YAML and rejects unknown strategy and exit types
// before the run starts.
type Params struct {
	ID                 string
	Symbol             string
	Direction          order.Direction
	EntryMode          EntryMode
	LimitOffsetPercent float64

	// Entry tuning; which fields matter depends on the strategy type.
	AllowedPhases []indicator.Phase

	Exits []condition.ExitRule
}

// Factory builds a Definition from typed params.
type Factory func(p Params) (*Definition, error)

// Registry maps strategy type tags to factories. It is constructed explicitly
// at runner startup and passed to whoever instantiates strategies; there is
// no package-level mutable registry.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry preloaded with the built-in strategy types.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("ema_cross", newEMACross)
	r.Register("band_reversion", newBandReversion)
	r.Register("cycle_trend", newCycleTrend)
	return r
}

// Register adds or replaces a factory for a type tag.
func (r *Registry) Register(typ string, f Factory) {
	r.factories[typ] = f
}

// Build instantiates a definition, failing fast on unknown types.
func (r *Registry) Build(typ string, p Params) (*Definition, error) {
	f, ok := r.factories[typ]
	if !ok {
		return nil, fmt.Errorf("unknown strategy type %q", typ)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("strategy of type %q has empty id", typ)
	}
	def, err := f(p)
	if err != nil {
		return nil, fmt.Errorf("building strategy %s (%s): %w", p.ID, typ, err)
	}
	return def, nil
}

// Types lists the registered type tags.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.factories))
	for typ := range r.factories {
		out = append(out, typ)
	}
	return out
}

// newEMACross enters when the fast EMA is above the slow EMA (long) or below
// it (short), optionally gated by cycle phase.
func newEMACross(p Params) (*Definition, error) {
	var cross condition.Condition
	if p.Direction == order.Short {
		cross = &condition.IndicatorLessThan{A: indicator.SeriesEMAFast, B: indicator.SeriesEMASlow}
	} else {
		cross = &condition.IndicatorGreaterThan{A: indicator.SeriesEMAFast, B: indicator.SeriesEMASlow}
	}

	entry := gateByPhase(cross, p.AllowedPhases)

	return &Definition{
		ID:                 p.ID,
		Symbol:             p.Symbol,
		Direction:          p.Direction,
		Entry:              entry,
		Exits:              condition.NewExitSet(p.Exits...),
		EntryMode:          p.EntryMode,
		LimitOffsetPercent: p.LimitOffsetPercent,
	}, nil
}

// newBandReversion enters when price stretches outside the percentile band
// against the position direction: longs buy below the lower band, shorts sell
// above the upper band.
func newBandReversion(p Params) (*Definition, error) {
	var stretch condition.Condition
	if p.Direction == order.Short {
		stretch = condition.AboveBand{}
	} else {
		stretch = condition.BelowBand{}
	}

	entry := gateByPhase(stretch, p.AllowedPhases)

	return &Definition{
		ID:                 p.ID,
		Symbol:             p.Symbol,
		Direction:          p.Direction,
		Entry:              entry,
		Exits:              condition.NewExitSet(p.Exits...),
		EntryMode:          p.EntryMode,
		LimitOffsetPercent: p.LimitOffsetPercent,
	}, nil
}

// newCycleTrend enters purely on regime membership. With no explicit phase
// list it defaults to strong trend in the position direction.
func newCycleTrend(p Params) (*Definition, error) {
	phases := p.AllowedPhases
	if len(phases) == 0 {
		if p.Direction == order.Short {
			phases = []indicator.Phase{indicator.PhaseBearStrong}
		} else {
			phases = []indicator.Phase{indicator.PhaseBullStrong}
		}
	}

	entry := &condition.CyclePhaseIn{Phases: phases}

	return &Definition{
		ID:                 p.ID,
		Symbol:             p.Symbol,
		Direction:          p.Direction,
		Entry:              entry,
		Exits:              condition.NewExitSet(p.Exits...),
		EntryMode:          p.EntryMode,
		LimitOffsetPercent: p.LimitOffsetPercent,
	}, nil
}

func gateByPhase(c condition.Condition, phases []indicator.Phase) condition.Condition {
	if len(phases) == 0 {
		return c
	}
	return condition.NewAnd(&condition.CyclePhaseIn{Phases: phases}, c)
}
