package condition

import (
	"fmt"
	"math"

	"github.com/amirphl/kline-backtester/internal/indicator"
)

// TouchMode selects how PriceTouchesLevel compares the candle range against
// the level.
type TouchMode int8

const (
	TouchWithin TouchMode = iota // level inside [low, high]
	TouchAbove                   // candle trades above the level
	TouchBelow                   // candle trades below the level
)

// PriceTouchesLevel triggers when the candle's range reaches a price level.
// With Strict false the comparison is inclusive: a bar whose low or high sits
// exactly on the level counts. Off-by-one here is the classic source of
// backtest/live divergence, so the boundary behavior is part of the contract
// and covered by tests.
type PriceTouchesLevel struct {
	Level  float64
	Mode   TouchMode
	Strict bool
}

func (p *PriceTouchesLevel) Evaluate(ctx *Context) Result {
	if math.IsNaN(p.Level) {
		return notTriggered("level undefined")
	}

	c := ctx.Candle
	var hit bool
	switch p.Mode {
	case TouchAbove:
		if p.Strict {
			hit = c.High > p.Level
		} else {
			hit = c.High >= p.Level
		}
	case TouchBelow:
		if p.Strict {
			hit = c.Low < p.Level
		} else {
			hit = c.Low <= p.Level
		}
	default:
		if p.Strict {
			hit = c.Low < p.Level && p.Level < c.High
		} else {
			hit = c.Low <= p.Level && p.Level <= c.High
		}
	}

	if !hit {
		return notTriggered(fmt.Sprintf("price did not touch %.8g", p.Level))
	}
	return Result{
		Triggered: true,
		Price:     p.Level,
		Reason:    fmt.Sprintf("price touched %.8g", p.Level),
	}
}

// IndicatorLessThan triggers when series A is below series B at the current
// snapshot. Either side may also be a literal via indicator.SeriesClose etc.
// Missing values (warm-up) evaluate to not-triggered, never an error.
type IndicatorLessThan struct {
	A string
	B string
}

func (c *IndicatorLessThan) Evaluate(ctx *Context) Result {
	a, okA := ctx.Indicators.Value(c.A)
	b, okB := ctx.Indicators.Value(c.B)
	if !okA || !okB {
		return notTriggered("indicator warming up")
	}
	if a < b {
		return Result{
			Triggered: true,
			Price:     ctx.Candle.Close,
			Reason:    fmt.Sprintf("%s %.8g < %s %.8g", c.A, a, c.B, b),
		}
	}
	return notTriggered(fmt.Sprintf("%s %.8g >= %s %.8g", c.A, a, c.B, b))
}

// IndicatorGreaterThan is the mirror of IndicatorLessThan.
type IndicatorGreaterThan struct {
	A string
	B string
}

func (c *IndicatorGreaterThan) Evaluate(ctx *Context) Result {
	a, okA := ctx.Indicators.Value(c.A)
	b, okB := ctx.Indicators.Value(c.B)
	if !okA || !okB {
		return notTriggered("indicator warming up")
	}
	if a > b {
		return Result{
			Triggered: true,
			Price:     ctx.Candle.Close,
			Reason:    fmt.Sprintf("%s %.8g > %s %.8g", c.A, a, c.B, b),
		}
	}
	return notTriggered(fmt.Sprintf("%s %.8g <= %s %.8g", c.A, a, c.B, b))
}

// CyclePhaseIn triggers when the current regime classification is one of the
// allowed phases.
type CyclePhaseIn struct {
	Phases []indicator.Phase
}

func (c *CyclePhaseIn) Evaluate(ctx *Context) Result {
	current := ctx.Indicators.Phase
	if current == indicator.PhaseUnknown {
		return notTriggered("cycle phase warming up")
	}
	for _, p := range c.Phases {
		if current == p {
			return Result{
				Triggered: true,
				Price:     ctx.Candle.Close,
				Reason:    "cycle phase " + current.String(),
			}
		}
	}
	return notTriggered("cycle phase " + current.String() + " not allowed")
}

// BelowBand triggers when the close sits below the lower percentile band,
// the mean-reversion entry gate of the band strategies.
type BelowBand struct{}

func (BelowBand) Evaluate(ctx *Context) Result {
	lower, ok := ctx.Indicators.Value(indicator.SeriesBandLower)
	if !ok {
		return notTriggered("band warming up")
	}
	if ctx.Candle.Close < lower {
		return Result{
			Triggered: true,
			Price:     lower,
			Reason:    fmt.Sprintf("close %.8g below band %.8g", ctx.Candle.Close, lower),
		}
	}
	return notTriggered("close above lower band")
}

// AboveBand triggers when the close sits above the upper percentile band.
type AboveBand struct{}

func (AboveBand) Evaluate(ctx *Context) Result {
	upper, ok := ctx.Indicators.Value(indicator.SeriesBandUpper)
	if !ok {
		return notTriggered("band warming up")
	}
	if ctx.Candle.Close > upper {
		return Result{
			Triggered: true,
			Price:     upper,
			Reason:    fmt.Sprintf("close %.8g above band %.8g", ctx.Candle.Close, upper),
		}
	}
	return notTriggered("close below upper band")
}
