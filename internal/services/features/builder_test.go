package features

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"FinTrain/internal/domain/models"
)

func makeSeries(n int) models.MarketSeries {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]models.Candle, n)
	for i := 0; i < n; i++ {
		base := 100 + 10*math.Sin(float64(i)/7) + 0.1*float64(i)
		candles[i] = models.Candle{
			Bucket: start.AddDate(0, 0, i),
			Symbol: "BTC-USD",
			Open:   base,
			High:   base + 2,
			Low:    base - 2,
			Close:  base + 1,
			Volume: 1000 + 50*math.Cos(float64(i)/5),
		}
	}
	return models.MarketSeries{Symbol: "BTC-USD", Candles: candles}
}

func TestNewBuilderUnknownFeature(t *testing.T) {
	_, err := NewBuilder([]string{"close", "hull_ma"})
	if err == nil {
		t.Fatalf("expected error for unknown feature")
	}
}

func TestNewBuilderRequiresClose(t *testing.T) {
	_, err := NewBuilder([]string{"volume", "high"})
	if err == nil {
		t.Fatalf("expected error without close")
	}
}

func TestBuildTrimsWarmUp(t *testing.T) {
	b, err := NewBuilder([]string{"close", "volume", "ma_50"})
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	if b.WarmUp() != 49 {
		t.Fatalf("warm-up %d, want 49", b.WarmUp())
	}

	series := makeSeries(120)
	matrix, targets, err := b.Build(context.Background(), series)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if matrix.Len() != 120-49 {
		t.Fatalf("rows %d, want %d", matrix.Len(), 120-49)
	}
	if len(targets) != matrix.Len() {
		t.Fatalf("targets %d, rows %d", len(targets), matrix.Len())
	}
	// Targets are the raw closes aligned with the trimmed rows.
	for i := range targets {
		if targets[i] != series.Candles[49+i].Close {
			t.Fatalf("target %d = %v, want %v", i, targets[i], series.Candles[49+i].Close)
		}
	}
}

func TestBuildAllColumnsFinite(t *testing.T) {
	b, err := NewBuilder(Catalog())
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	matrix, _, err := b.Build(context.Background(), makeSeries(200))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for i, row := range matrix.Rows {
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("row %d column %s not finite: %v", i, matrix.Features[j], v)
			}
		}
	}
}

func TestBuildInsufficientRows(t *testing.T) {
	b, err := NewBuilder([]string{"close"})
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	_, _, err = b.Build(context.Background(), makeSeries(40))
	var de *models.DataError
	if !errors.As(err, &de) {
		t.Fatalf("expected DataError, got %v", err)
	}
	if de.Reason != models.DataInsufficientRows {
		t.Fatalf("reason %s, want insufficient_rows", de.Reason)
	}
}

func TestBuildEmptySeries(t *testing.T) {
	b, _ := NewBuilder([]string{"close"})
	_, _, err := b.Build(context.Background(), models.MarketSeries{Symbol: "X"})
	var de *models.DataError
	if !errors.As(err, &de) || de.Reason != models.DataEmpty {
		t.Fatalf("expected empty DataError, got %v", err)
	}
}

func TestRSIFlatSeries(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 42
	}
	out := rsi(closes, rsiPeriod)
	// A fully flat window has zero gain and zero loss and reads neutral.
	if out[30] != 50 {
		t.Fatalf("flat rsi %v, want 50", out[30])
	}
}

func TestRSIAllGains(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = float64(100 + i)
	}
	out := rsi(closes, rsiPeriod)
	if out[30] != 100 {
		t.Fatalf("monotone rsi %v, want 100", out[30])
	}
}

func TestPricePositionDegenerateBar(t *testing.T) {
	series := makeSeries(60)
	// Collapse one bar so high == low.
	series.Candles[55].High = 100
	series.Candles[55].Low = 100
	series.Candles[55].Close = 100
	cols := engineer(series)
	if cols["price_position"][55] != 0.5 {
		t.Fatalf("degenerate price_position %v, want 0.5", cols["price_position"][55])
	}
}

func TestRollingMeanWarmUp(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5}
	out := rollingMean(xs, 3)
	if !math.IsNaN(out[0]) || !math.IsNaN(out[1]) {
		t.Fatalf("expected NaN before window fills")
	}
	if out[2] != 2 || out[4] != 4 {
		t.Fatalf("unexpected means %v", out)
	}
}

func TestSchemaOrderPreserved(t *testing.T) {
	b, err := NewBuilder([]string{"volume", "close", "rsi"})
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	matrix, _, err := b.Build(context.Background(), makeSeries(80))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := []string{"volume", "close", "rsi"}
	for i, name := range want {
		if matrix.Features[i] != name {
			t.Fatalf("column %d = %s, want %s", i, matrix.Features[i], name)
		}
	}
}
