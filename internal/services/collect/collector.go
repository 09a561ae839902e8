package collect

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"FinTrain/internal/domain/models"
	"FinTrain/internal/domain/repository"
	applogger "FinTrain/pkg/logger"
)

// Service fetches and validates raw market history for training. Validation
// failures come back as DataError; they fail the current instrument only.
type Service struct {
	source    repository.CandleSource
	audit     AuditWriter
	minRows   int
	freshness time.Duration
	l         *applogger.Logger
}

// Option configures Service.
type Option func(*Service)

// WithAudit enables raw-series persistence after validation.
func WithAudit(w AuditWriter) Option {
	return func(s *Service) { s.audit = w }
}

// WithMinRows sets the minimum accepted row count (2x window by default).
func WithMinRows(n int) Option {
	return func(s *Service) { s.minRows = n }
}

// WithFreshness sets the staleness warning threshold.
func WithFreshness(d time.Duration) Option {
	return func(s *Service) { s.freshness = d }
}

// WithLogger injects a structured logger.
func WithLogger(l *applogger.Logger) Option {
	return func(s *Service) { s.l = l }
}

// New creates the collector.
func New(source repository.CandleSource, opts ...Option) *Service {
	s := &Service{
		source:    source,
		minRows:   120,
		freshness: 6 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Collect fetches [from, to] bars for one instrument and validates them.
func (s *Service) Collect(ctx context.Context, symbol string, from, to time.Time) (models.MarketSeries, error) {
	start := time.Now()

	candles, err := s.source.GetCandles(ctx, symbol, from, to)
	if err != nil {
		return models.MarketSeries{}, &models.DataError{
			Symbol: symbol,
			Reason: models.DataEmpty,
			Detail: fmt.Sprintf("fetch failed: %v", err),
		}
	}
	if len(candles) == 0 {
		return models.MarketSeries{}, &models.DataError{Symbol: symbol, Reason: models.DataEmpty}
	}

	series := normalize(symbol, candles)

	if err := validateFields(series); err != nil {
		return models.MarketSeries{}, err
	}
	if series.Len() < s.minRows {
		return models.MarketSeries{}, &models.DataError{
			Symbol: symbol,
			Reason: models.DataInsufficientRows,
			Detail: fmt.Sprintf("%d rows, need %d", series.Len(), s.minRows),
		}
	}

	// Stale data degrades the model but is still trainable. Warn only.
	if age := time.Since(series.Latest()); s.freshness > 0 && age > s.freshness {
		if s.l != nil {
			s.l.Warn("collected data is stale",
				applogger.String("symbol", symbol),
				applogger.Duration("age", age),
				applogger.Duration("freshness_window", s.freshness),
			)
		}
	}

	if s.audit != nil {
		if path, err := s.audit.Write(series); err != nil {
			if s.l != nil {
				s.l.Warn("audit write failed",
					applogger.String("symbol", symbol),
					applogger.Error(err),
				)
			}
		} else if s.l != nil {
			s.l.Debug("audit written",
				applogger.String("symbol", symbol),
				applogger.String("path", path),
			)
		}
	}

	if s.l != nil {
		s.l.Info("data collected",
			applogger.String("symbol", symbol),
			applogger.Int("rows", series.Len()),
			applogger.String("latest", series.Latest().Format(time.RFC3339)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return series, nil
}

// normalize sorts bars by time and drops duplicate timestamps so the
// series invariant (strictly increasing buckets) holds.
func normalize(symbol string, candles []models.Candle) models.MarketSeries {
	sorted := append([]models.Candle(nil), candles...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Bucket.Before(sorted[j].Bucket) })

	out := sorted[:0]
	for i, c := range sorted {
		if i > 0 && !c.Bucket.After(out[len(out)-1].Bucket) {
			continue
		}
		out = append(out, c)
	}
	return models.MarketSeries{Symbol: symbol, Candles: out}
}

// validateFields rejects series with missing (non-finite) OHLCV values.
func validateFields(series models.MarketSeries) error {
	for i, c := range series.Candles {
		for _, f := range [...]struct {
			name string
			v    float64
		}{
			{"open", c.Open},
			{"high", c.High},
			{"low", c.Low},
			{"close", c.Close},
			{"volume", c.Volume},
		} {
			if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
				return &models.DataError{
					Symbol: series.Symbol,
					Reason: models.DataMissingColumns,
					Detail: fmt.Sprintf("bar %d has non-finite %s", i, f.name),
				}
			}
		}
		if c.Bucket.IsZero() {
			return &models.DataError{
				Symbol: series.Symbol,
				Reason: models.DataMissingColumns,
				Detail: fmt.Sprintf("bar %d has no timestamp", i),
			}
		}
	}
	return nil
}
