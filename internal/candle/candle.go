// Package candle
package candle

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/amirphl/kline-backtester/internal/tfutils"
)

// Candle is one OHLCV bar. The backtest engine treats the position of a
// candle inside an ordered slice as its logical time: anything computed at
// index i may only look at indices [0..i].
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Source    string    `json:"source"`
}

// Validate checks if a candle has valid data
func (c *Candle) Validate() error {
	if c.Timestamp.IsZero() {
		return errors.New("candle timestamp is zero")
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return errors.New("candle prices must be positive")
	}
	if c.High < c.Low {
		return errors.New("candle high cannot be less than low")
	}
	if c.Open < c.Low || c.Open > c.High {
		return errors.New("candle open price must be between high and low")
	}
	if c.Close < c.Low || c.Close > c.High {
		return errors.New("candle close price must be between high and low")
	}
	if c.Volume < 0 {
		return errors.New("candle volume cannot be negative")
	}
	if c.Symbol == "" {
		return errors.New("candle symbol cannot be empty")
	}
	if c.Timeframe == "" {
		return errors.New("candle timeframe cannot be empty")
	}
	return nil
}

// Touches reports whether price falls inside the candle's [low, high] range,
// boundaries included. Inclusive on purpose: a limit order sitting exactly on
// the low or high of a bar counts as touched.
func (c *Candle) Touches(price float64) bool {
	return c.Low <= price && price <= c.High
}

// Closes extracts the close series from a candle slice.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Highs extracts the high series from a candle slice.
func Highs(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

// Lows extracts the low series from a candle slice.
func Lows(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

// ProcessReport describes what Process had to repair. The backtest surfaces
// these counts as data-quality warnings so a caller can judge how much of the
// input series is synthetic.
type ProcessReport struct {
	Duplicates int
	Synthetic  int
	Trimmed    int
}

// Process sorts, trims, de-duplicates and gap-fills a raw candle series so the
// engine always walks a dense, strictly ascending sequence. Gaps are filled
// with zero-volume synthetic candles carried at the last known close. The
// upper bound is exclusive.
func Process(candles []Candle, symbol, timeframe string, start, to time.Time) ([]Candle, ProcessReport) {
	var report ProcessReport
	if len(candles) == 0 {
		return candles, report
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})

	duration := tfutils.GetTimeframeDuration(timeframe)

	// Eliminate duplicates, keeping the first occurrence of each timestamp.
	candleMap := make(map[time.Time]Candle)
	for _, c := range candles {
		c.Timestamp = c.Timestamp.Truncate(duration)
		if _, exists := candleMap[c.Timestamp]; !exists {
			candleMap[c.Timestamp] = c
		} else {
			report.Duplicates++
		}
	}

	// Trim to the requested range (exclusive upper bound).
	var trimmed []Candle
	for ts, c := range candleMap {
		if (ts.Equal(start) || ts.After(start)) && ts.Before(to) {
			trimmed = append(trimmed, c)
		} else {
			report.Trimmed++
		}
	}

	sort.Slice(trimmed, func(i, j int) bool {
		return trimmed[i].Timestamp.Before(trimmed[j].Timestamp)
	})

	if len(trimmed) == 0 {
		return trimmed, report
	}

	// Generate missing candles.
	var complete []Candle
	currentTime := trimmed[0].Timestamp
	lastTime := trimmed[len(trimmed)-1].Timestamp
	basePrice := trimmed[0].Close

	i := 0
	for !currentTime.After(lastTime) && currentTime.Before(to) {
		if i < len(trimmed) && trimmed[i].Timestamp.Equal(currentTime) {
			complete = append(complete, trimmed[i])
			basePrice = trimmed[i].Close
			i++
		} else {
			complete = append(complete, Candle{
				Timestamp: currentTime,
				Open:      basePrice,
				High:      basePrice,
				Low:       basePrice,
				Close:     basePrice,
				Volume:    0,
				Symbol:    symbol,
				Timeframe: timeframe,
				Source:    "synthetic",
			})
			report.Synthetic++
		}
		currentTime = currentTime.Add(duration)
	}

	return complete, report
}

// CheckOrdering verifies candles are strictly ascending by timestamp. The
// engine relies on this and never re-sorts its input.
func CheckOrdering(candles []Candle) error {
	for i := 1; i < len(candles); i++ {
		if !candles[i].Timestamp.After(candles[i-1].Timestamp) {
			return fmt.Errorf("candles out of order at index %d: %s >= %s",
				i, candles[i-1].Timestamp.Format(time.RFC3339), candles[i].Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}
