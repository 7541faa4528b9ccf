package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/kline-backtester/internal/candle"
)

// BinanceProvider downloads historical klines from the Binance public API in
// two-week chunks, with retry, exponential backoff and jitter. No API key
// needed; an optional proxy helps in restricted environments.
type BinanceProvider struct {
	BaseURL    string
	ProxyURL   string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func NewBinanceProvider(proxyURL string) *BinanceProvider {
	return &BinanceProvider{
		BaseURL:    "https://api.binance.com",
		ProxyURL:   proxyURL,
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

func (b *BinanceProvider) Name() string { return "binance" }

func (b *BinanceProvider) FetchCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]candle.Candle, error) {
	// Download in chunks to stay under API limits; one request every two
	// seconds to avoid rate limiting.
	const maxChunkDays = 14

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var all []candle.Candle
	currTime := start
	for currTime.Before(end) {
		next := currTime.Add(maxChunkDays * 24 * time.Hour)
		if next.After(end) {
			next = end
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		downloadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		chunk, err := b.downloadChunk(downloadCtx, symbol, timeframe, currTime, next)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("error fetching candles from %s to %s: %w",
				currTime.Format(time.RFC3339), next.Format(time.RFC3339), err)
		}

		log.Printf("FetchCandles | Downloaded %d candles for %s from %s to %s",
			len(chunk), symbol, currTime.Format("2006-01-02"), next.Format("2006-01-02"))

		all = append(all, chunk...)
		currTime = next
	}

	return all, nil
}

func (b *BinanceProvider) downloadChunk(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]candle.Candle, error) {
	const (
		backoffFactor = 2.0
		jitterRange   = 0.1 // ±10% jitter
	)

	apiSymbol := strings.ToUpper(strings.ReplaceAll(symbol, "-", ""))
	startMs := start.UnixNano() / int64(time.Millisecond)
	endMs := end.UnixNano() / int64(time.Millisecond)

	apiURL := fmt.Sprintf(
		"%s/api/v3/klines?symbol=%s&interval=%s&startTime=%d&endTime=%d",
		b.BaseURL, apiSymbol, timeframe, startMs, endMs,
	)

	transport := &http.Transport{}
	if b.ProxyURL != "" {
		proxyParsed, err := url.Parse(b.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyParsed)
		log.Printf("downloadChunk | Using proxy: %s", b.ProxyURL)
	}

	client := &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
	}

	var lastErr error
	for attempt := 0; attempt < b.MaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, "GET", apiURL, nil)
		if err != nil {
			return nil, fmt.Errorf("error creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("network error on attempt %d: %w", attempt+1, err)
			log.Printf("downloadChunk | %v", lastErr)
			if waitErr := b.waitRetry(ctx, attempt, backoffFactor, jitterRange); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("API error (status %d) on attempt %d: %s", resp.StatusCode, attempt+1, string(body))
			log.Printf("downloadChunk | %v", lastErr)
			// A 400 or 404 will not get better on a second try.
			if !isRetryableHTTPStatus(resp.StatusCode) {
				return nil, lastErr
			}
			if waitErr := b.waitRetry(ctx, attempt, backoffFactor, jitterRange); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		bodyBytes, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("error reading response body on attempt %d: %w", attempt+1, err)
			log.Printf("downloadChunk | %v", lastErr)
			if waitErr := b.waitRetry(ctx, attempt, backoffFactor, jitterRange); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		var rawCandles [][]any
		if err := json.Unmarshal(bodyBytes, &rawCandles); err != nil {
			lastErr = fmt.Errorf("JSON decode error on attempt %d: %w", attempt+1, err)
			log.Printf("downloadChunk | %v", lastErr)
			if waitErr := b.waitRetry(ctx, attempt, backoffFactor, jitterRange); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		return b.parseCandles(rawCandles, symbol, timeframe), nil
	}

	return nil, fmt.Errorf("failed to download candles after %d attempts, last error: %w", b.MaxRetries, lastErr)
}

func (b *BinanceProvider) parseCandles(rawCandles [][]any, symbol, timeframe string) []candle.Candle {
	candles := make([]candle.Candle, 0, len(rawCandles))
	for _, raw := range rawCandles {
		if len(raw) < 6 {
			continue // Skip invalid entries
		}

		var timestamp int64
		switch v := raw[0].(type) {
		case float64:
			timestamp = int64(v)
		case string:
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				log.Printf("parseCandles | Error parsing timestamp string: %v", err)
				continue
			}
			timestamp = parsed
		default:
			log.Printf("parseCandles | Unexpected timestamp type: %T", v)
			continue
		}

		parseNum := func(val any) float64 {
			switch n := val.(type) {
			case float64:
				return n
			case string:
				f, err := strconv.ParseFloat(n, 64)
				if err != nil {
					log.Printf("parseCandles | Error parsing float string: %v", err)
					return 0
				}
				return f
			default:
				log.Printf("parseCandles | Unexpected number type: %T", n)
				return 0
			}
		}

		candles = append(candles, candle.Candle{
			Timestamp: time.Unix(timestamp/1000, 0).UTC(),
			Open:      parseNum(raw[1]),
			High:      parseNum(raw[2]),
			Low:       parseNum(raw[3]),
			Close:     parseNum(raw[4]),
			Volume:    parseNum(raw[5]),
			Symbol:    symbol,
			Timeframe: timeframe,
			Source:    b.Name(),
		})
	}
	return candles
}

// waitRetry sleeps the exponential-backoff-with-jitter delay before the next
// attempt, respecting context cancellation. Returns the context error when
// cancelled.
func (b *BinanceProvider) waitRetry(ctx context.Context, attempt int, backoffFactor, jitterRange float64) error {
	if attempt >= b.MaxRetries-1 {
		return nil
	}
	delay := calculateRetryDelay(attempt, b.BaseDelay, b.MaxDelay, backoffFactor, jitterRange)
	log.Printf("downloadChunk | Retrying in %v...", delay)
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
	case <-time.After(delay):
		return nil
	}
}

// calculateRetryDelay calculates the delay for the next retry attempt with exponential backoff and jitter
func calculateRetryDelay(attempt int, baseDelay, maxDelay time.Duration, backoffFactor, jitterRange float64) time.Duration {
	delay := float64(baseDelay) * math.Pow(backoffFactor, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	// Jitter avoids the thundering herd on shared proxies.
	jitter := delay * jitterRange * (2*rand.Float64() - 1)
	delay += jitter

	if delay < 0 {
		delay = float64(baseDelay)
	}
	return time.Duration(delay)
}

// isRetryableHTTPStatus determines if an HTTP status code indicates a retryable error
func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
