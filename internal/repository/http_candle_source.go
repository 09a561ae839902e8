package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"FinTrain/internal/domain/models"
	"FinTrain/internal/service/ratelimit"
	xhttp "FinTrain/pkg/http"
	applogger "FinTrain/pkg/logger"
)

// httpBar is the wire shape of one OHLCV bar from the data API.
type httpBar struct {
	T int64   `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

// HTTPCandleSource implements CandleSource against a JSON market-data API.
// Requests are throttled per symbol through a token bucket so a batch run
// over many instruments stays polite to the upstream.
type HTTPCandleSource struct {
	client   *xhttp.Client
	limiter  *ratelimit.Limiter
	baseURL  string
	rate     float64
	burst    float64
	retryMax int
	l        *applogger.Logger
}

// HTTPSourceOption configures HTTPCandleSource.
type HTTPSourceOption func(*HTTPCandleSource)

// WithRateLimit sets per-symbol request rate and burst.
func WithRateLimit(perSec, burst float64) HTTPSourceOption {
	return func(s *HTTPCandleSource) {
		s.rate = perSec
		s.burst = burst
	}
}

// WithRetries sets how many times a failed request is retried.
func WithRetries(n int) HTTPSourceOption {
	return func(s *HTTPCandleSource) {
		s.retryMax = n
	}
}

// WithSourceLogger injects a structured logger.
func WithSourceLogger(l *applogger.Logger) HTTPSourceOption {
	return func(s *HTTPCandleSource) {
		s.l = l
	}
}

func NewHTTPCandleSource(client *xhttp.Client, baseURL string, opts ...HTTPSourceOption) *HTTPCandleSource {
	s := &HTTPCandleSource{
		client:   client,
		limiter:  ratelimit.New(),
		baseURL:  baseURL,
		rate:     5,
		burst:    10,
		retryMax: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPCandleSource) GetCandles(ctx context.Context, symbol string, from, to time.Time) ([]models.Candle, error) {
	params := map[string][]string{
		"symbol": {symbol},
		"from":   {strconv.FormatInt(from.Unix(), 10)},
		"to":     {strconv.FormatInt(to.Unix(), 10)},
	}
	bars, err := s.fetch(ctx, symbol, params)
	if err != nil {
		return nil, err
	}
	return s.toCandles(symbol, bars), nil
}

func (s *HTTPCandleSource) GetLatestNCandles(ctx context.Context, symbol string, n int) ([]models.Candle, error) {
	params := map[string][]string{
		"symbol": {symbol},
		"limit":  {strconv.Itoa(n)},
	}
	bars, err := s.fetch(ctx, symbol, params)
	if err != nil {
		return nil, err
	}
	candles := s.toCandles(symbol, bars)
	if len(candles) > n {
		candles = candles[len(candles)-n:]
	}
	return candles, nil
}

func (s *HTTPCandleSource) fetch(ctx context.Context, symbol string, params map[string][]string) ([]httpBar, error) {
	if err := s.waitForToken(ctx, symbol); err != nil {
		return nil, err
	}

	opts := &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         s.baseURL + "/candles",
		QueryParams: params,
	}

	var bars []httpBar
	var lastErr error
	for attempt := 0; attempt <= s.retryMax; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		if lastErr = s.client.SendAndParse(ctx, opts, &bars); lastErr == nil {
			return bars, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if s.l != nil {
			s.l.Warn("candle fetch retry",
				applogger.String("symbol", symbol),
				applogger.Int("attempt", attempt+1),
				applogger.Error(lastErr),
			)
		}
	}
	return nil, fmt.Errorf("fetch candles %s: %w", symbol, lastErr)
}

// waitForToken blocks until the per-symbol bucket yields a token or ctx ends.
func (s *HTTPCandleSource) waitForToken(ctx context.Context, symbol string) error {
	for !s.limiter.Allow(symbol, s.burst, s.rate) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil
}

func (s *HTTPCandleSource) toCandles(symbol string, bars []httpBar) []models.Candle {
	out := make([]models.Candle, 0, len(bars))
	for _, b := range bars {
		out = append(out, models.Candle{
			Bucket: time.Unix(b.T, 0).UTC(),
			Symbol: symbol,
			Open:   b.O,
			High:   b.H,
			Low:    b.L,
			Close:  b.C,
			Volume: b.V,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket.Before(out[j].Bucket) })
	return out
}
