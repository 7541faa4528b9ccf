package indicator

import (
	"math"
	"sort"
)

// RollingPercentile computes the pct-th percentile (0..100, linear
// interpolation) of values over a trailing window of lookback entries ending
// at each index. Indices with fewer than lookback values behind them are NaN.
// The window at index i is values[i-lookback+1 .. i], so the series is causal.
func RollingPercentile(values []float64, lookback int, pct float64) []float64 {
	out := make([]float64, len(values))
	window := make([]float64, 0, lookback)

	for i := range values {
		if i < lookback-1 {
			out[i] = math.NaN()
			continue
		}
		window = window[:0]
		window = append(window, values[i-lookback+1:i+1]...)
		out[i] = Percentile(window, pct)
	}
	return out
}

// Percentile returns the pct-th percentile of values using linear
// interpolation between closest ranks. values is mutated (sorted in place).
func Percentile(values []float64, pct float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sort.Float64s(values)

	if pct <= 0 {
		return values[0]
	}
	if pct >= 100 {
		return values[len(values)-1]
	}

	rank := pct / 100 * float64(len(values)-1)
	low := int(math.Floor(rank))
	high := int(math.Ceil(rank))
	if low == high {
		return values[low]
	}
	frac := rank - float64(low)
	return values[low]*(1-frac) + values[high]*frac
}
