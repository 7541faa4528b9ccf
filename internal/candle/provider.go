package candle

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// Provider is the input contract of the engine: an ordered, ascending candle
// series for a symbol/timeframe/date range. Implementations live in the
// exchange package (REST fetchers) or here (CSV files); the engine does not
// care which.
type Provider interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]Candle, error)
}

// CSVProvider reads candles from a local CSV file with rows of
// timestamp_ms,open,high,low,close,volume. Header rows are skipped.
type CSVProvider struct {
	Path string
}

func NewCSVProvider(path string) *CSVProvider {
	return &CSVProvider{Path: path}
}

func (p *CSVProvider) FetchCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]Candle, error) {
	f, err := os.Open(p.Path)
	if err != nil {
		return nil, fmt.Errorf("FetchCandles | opening %s: %w", p.Path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var candles []Candle
	line := 0
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("FetchCandles | reading %s line %d: %w", p.Path, line+1, err)
		}
		line++

		if len(record) < 6 {
			continue
		}

		ms, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil {
			// Most likely a header row.
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("FetchCandles | bad timestamp at line %d: %w", line, err)
		}

		nums := make([]float64, 5)
		for i := 0; i < 5; i++ {
			nums[i], err = strconv.ParseFloat(record[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("FetchCandles | bad number at line %d col %d: %w", line, i+2, err)
			}
		}

		ts := time.Unix(ms/1000, (ms%1000)*int64(time.Millisecond)).UTC()
		if ts.Before(start) || !ts.Before(end) {
			continue
		}

		candles = append(candles, Candle{
			Timestamp: ts,
			Open:      nums[0],
			High:      nums[1],
			Low:       nums[2],
			Close:     nums[3],
			Volume:    nums[4],
			Symbol:    symbol,
			Timeframe: timeframe,
			Source:    "csv",
		})
	}

	return candles, nil
}
