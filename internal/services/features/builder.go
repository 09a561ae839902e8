package features

import (
	"context"
	"fmt"
	"time"

	"FinTrain/internal/domain/models"
	applogger "FinTrain/pkg/logger"
)

// Builder derives the configured feature schema from candle series. The
// schema is validated once at construction; Build is then deterministic
// for a given series.
type Builder struct {
	schema []string
	warm   int
	l      *applogger.Logger
}

// Option configures Builder.
type Option func(*Builder)

// WithLogger injects a structured logger.
func WithLogger(l *applogger.Logger) Option {
	return func(b *Builder) { b.l = l }
}

// NewBuilder creates a builder for the requested schema. Every name must
// exist in the catalog and "close" must be included, since it doubles as
// the prediction target.
func NewBuilder(schema []string, opts ...Option) (*Builder, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("feature schema is empty")
	}
	known := make(map[string]bool, len(Catalog()))
	for _, name := range Catalog() {
		known[name] = true
	}
	hasClose := false
	for _, name := range schema {
		if !known[name] {
			return nil, fmt.Errorf("unknown feature %q", name)
		}
		if name == "close" {
			hasClose = true
		}
	}
	if !hasClose {
		return nil, fmt.Errorf("feature schema must include close")
	}

	b := &Builder{
		schema: append([]string(nil), schema...),
		warm:   warmUpRows(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Schema returns the configured feature names in column order.
func (b *Builder) Schema() []string {
	return append([]string(nil), b.schema...)
}

// WarmUp returns how many leading rows every build drops.
func (b *Builder) WarmUp() int { return b.warm }

// Build engineers the schema columns from raw bars, trims the warm-up
// prefix, and returns the matrix plus the raw close targets row-aligned
// with it.
func (b *Builder) Build(ctx context.Context, series models.MarketSeries) (models.FeatureMatrix, []float64, error) {
	start := time.Now()
	n := series.Len()
	if n == 0 {
		return models.FeatureMatrix{}, nil, &models.DataError{Symbol: series.Symbol, Reason: models.DataEmpty}
	}
	if n <= b.warm {
		return models.FeatureMatrix{}, nil, &models.DataError{
			Symbol: series.Symbol,
			Reason: models.DataInsufficientRows,
			Detail: fmt.Sprintf("%d rows, warm-up needs more than %d", n, b.warm),
		}
	}

	cols := engineer(series)

	rows := make([][]float64, n-b.warm)
	for i := range rows {
		row := make([]float64, len(b.schema))
		for j, name := range b.schema {
			row[j] = cols[name][b.warm+i]
		}
		rows[i] = row
	}

	targets := append([]float64(nil), cols["close"][b.warm:]...)

	if b.l != nil {
		b.l.Info("features built",
			applogger.String("symbol", series.Symbol),
			applogger.Int("input_rows", n),
			applogger.Int("output_rows", len(rows)),
			applogger.Int("columns", len(b.schema)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}

	matrix := models.FeatureMatrix{Features: b.Schema(), Rows: rows}
	return matrix, targets, nil
}
