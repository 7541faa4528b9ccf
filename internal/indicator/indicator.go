// Package indicator
package indicator

import (
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"github.com/amirphl/kline-backtester/internal/candle"
)

// Params configures the indicator pipeline for one backtest run.
type Params struct {
	EMAFastPeriod    int
	EMASlowPeriod    int
	MomentumPeriod   int
	BandLookback     int     // rolling percentile window
	BandUpperPct     float64 // e.g. 80 for the 80th percentile
	BandLowerPct     float64 // e.g. 20 for the 20th percentile
	PhaseWarningBand float64 // momentum fraction below which a trend is "warning", e.g. 0.002
}

// DefaultParams mirrors the defaults used by the stock strategies.
func DefaultParams() Params {
	return Params{
		EMAFastPeriod:    12,
		EMASlowPeriod:    26,
		MomentumPeriod:   10,
		BandLookback:     20,
		BandUpperPct:     80,
		BandLowerPct:     20,
		PhaseWarningBand: 0.002,
	}
}

func (p Params) Validate() error {
	if p.EMAFastPeriod <= 0 || p.EMASlowPeriod <= 0 || p.MomentumPeriod <= 0 || p.BandLookback <= 0 {
		return fmt.Errorf("indicator periods must be positive: %+v", p)
	}
	if p.EMAFastPeriod >= p.EMASlowPeriod {
		return fmt.Errorf("fast EMA period %d must be below slow EMA period %d", p.EMAFastPeriod, p.EMASlowPeriod)
	}
	if p.BandLowerPct >= p.BandUpperPct || p.BandLowerPct < 0 || p.BandUpperPct > 100 {
		return fmt.Errorf("invalid percentile band bounds [%v, %v]", p.BandLowerPct, p.BandUpperPct)
	}
	return nil
}

// WarmupPeriod returns how many candles must pass before every series in the
// set carries a real value. Conditions evaluated before that see NaN and stay
// silent.
func (p Params) WarmupPeriod() int {
	warm := p.EMASlowPeriod
	if p.MomentumPeriod > warm {
		warm = p.MomentumPeriod
	}
	if p.BandLookback > warm {
		warm = p.BandLookback
	}
	return warm
}

// Set holds every per-candle series computed for a run. Computed once, read
// only afterwards. series[i] depends only on candles [0..i].
type Set struct {
	params    Params
	emaFast   []float64
	emaSlow   []float64
	momentum  []float64
	bandUpper []float64
	bandLower []float64
	phases    []Phase
	closes    []float64
}

// Snapshot is the read-only view of every indicator at one candle index,
// handed to condition evaluation. Missing values are NaN.
type Snapshot struct {
	Index     int
	EMAFast   float64
	EMASlow   float64
	Momentum  float64
	BandUpper float64
	BandLower float64
	Phase     Phase
	Close     float64
}

// Series names addressable from condition leaves.
const (
	SeriesEMAFast   = "ema_fast"
	SeriesEMASlow   = "ema_slow"
	SeriesMomentum  = "momentum"
	SeriesBandUpper = "band_upper"
	SeriesBandLower = "band_lower"
	SeriesClose     = "close"
)

// Value resolves a series by name at this snapshot. Unknown names resolve to
// (NaN, false) so a misconfigured condition degrades to no-signal instead of
// crashing the run.
func (s Snapshot) Value(name string) (float64, bool) {
	switch name {
	case SeriesEMAFast:
		return s.EMAFast, !math.IsNaN(s.EMAFast)
	case SeriesEMASlow:
		return s.EMASlow, !math.IsNaN(s.EMASlow)
	case SeriesMomentum:
		return s.Momentum, !math.IsNaN(s.Momentum)
	case SeriesBandUpper:
		return s.BandUpper, !math.IsNaN(s.BandUpper)
	case SeriesBandLower:
		return s.BandLower, !math.IsNaN(s.BandLower)
	case SeriesClose:
		return s.Close, !math.IsNaN(s.Close)
	default:
		return math.NaN(), false
	}
}

// Compute runs the whole pipeline over the candle series.
func Compute(candles []candle.Candle, params Params) (*Set, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	closes := candle.Closes(candles)

	set := &Set{
		params: params,
		closes: closes,
	}

	n := len(candles)
	if n == 0 {
		return set, nil
	}

	set.emaFast = emaSeries(closes, params.EMAFastPeriod)
	set.emaSlow = emaSeries(closes, params.EMASlowPeriod)
	set.momentum = momentumSeries(closes, params.MomentumPeriod)
	set.bandUpper = RollingPercentile(closes, params.BandLookback, params.BandUpperPct)
	set.bandLower = RollingPercentile(closes, params.BandLookback, params.BandLowerPct)
	set.phases = classifyPhases(set, params)

	return set, nil
}

// Len returns the number of candles the set was computed over.
func (s *Set) Len() int { return len(s.closes) }

// At returns the snapshot for candle index i. Out-of-range indices yield an
// all-NaN snapshot, which every condition treats as "not triggered".
func (s *Set) At(i int) Snapshot {
	if i < 0 || i >= len(s.closes) {
		return Snapshot{
			Index:     i,
			EMAFast:   math.NaN(),
			EMASlow:   math.NaN(),
			Momentum:  math.NaN(),
			BandUpper: math.NaN(),
			BandLower: math.NaN(),
			Phase:     PhaseUnknown,
			Close:     math.NaN(),
		}
	}
	return Snapshot{
		Index:     i,
		EMAFast:   s.emaFast[i],
		EMASlow:   s.emaSlow[i],
		Momentum:  s.momentum[i],
		BandUpper: s.bandUpper[i],
		BandLower: s.bandLower[i],
		Phase:     s.phases[i],
		Close:     s.closes[i],
	}
}

// emaSeries wraps talib.Ema and converts its zero-filled warm-up prefix to
// NaN so downstream code has a single "missing" representation.
func emaSeries(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	if len(closes) < period {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	ema := talib.Ema(closes, period)
	for i := range ema {
		if i < period-1 {
			out[i] = math.NaN()
		} else {
			out[i] = ema[i]
		}
	}
	return out
}

// momentumSeries is the rate of change over period candles, as a fraction of
// the older close.
func momentumSeries(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	for i := range closes {
		if i < period || closes[i-period] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = (closes[i] - closes[i-period]) / closes[i-period]
	}
	return out
}
