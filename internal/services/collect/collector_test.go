package collect

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"FinTrain/internal/domain/models"
)

type fakeSource struct {
	candles []models.Candle
	err     error
}

func (f *fakeSource) GetCandles(ctx context.Context, symbol string, from, to time.Time) ([]models.Candle, error) {
	return f.candles, f.err
}

func (f *fakeSource) GetLatestNCandles(ctx context.Context, symbol string, n int) ([]models.Candle, error) {
	if len(f.candles) <= n {
		return f.candles, f.err
	}
	return f.candles[len(f.candles)-n:], f.err
}

func bars(n int, start time.Time) []models.Candle {
	out := make([]models.Candle, n)
	for i := 0; i < n; i++ {
		base := 100 + float64(i)
		out[i] = models.Candle{
			Bucket: start.Add(time.Duration(i) * 24 * time.Hour),
			Symbol: "BTC-USD",
			Open:   base,
			High:   base + 2,
			Low:    base - 2,
			Close:  base + 1,
			Volume: 1000,
		}
	}
	return out
}

func TestCollectEmptyResult(t *testing.T) {
	s := New(&fakeSource{})
	_, err := s.Collect(context.Background(), "BTC-USD", time.Time{}, time.Now())
	var de *models.DataError
	if !errors.As(err, &de) || de.Reason != models.DataEmpty {
		t.Fatalf("expected empty DataError, got %v", err)
	}
}

func TestCollectFetchFailure(t *testing.T) {
	s := New(&fakeSource{err: fmt.Errorf("connection refused")})
	_, err := s.Collect(context.Background(), "BTC-USD", time.Time{}, time.Now())
	var de *models.DataError
	if !errors.As(err, &de) || de.Reason != models.DataEmpty {
		t.Fatalf("expected empty DataError, got %v", err)
	}
	if !strings.Contains(de.Detail, "connection refused") {
		t.Fatalf("fetch cause lost: %q", de.Detail)
	}
}

func TestCollectNonFiniteField(t *testing.T) {
	candles := bars(10, time.Now().Add(-10*24*time.Hour))
	candles[4].Close = math.NaN()
	s := New(&fakeSource{candles: candles}, WithMinRows(5))
	_, err := s.Collect(context.Background(), "BTC-USD", time.Time{}, time.Now())
	var de *models.DataError
	if !errors.As(err, &de) || de.Reason != models.DataMissingColumns {
		t.Fatalf("expected missing_columns, got %v", err)
	}
}

func TestCollectInsufficientRows(t *testing.T) {
	s := New(&fakeSource{candles: bars(5, time.Now())}, WithMinRows(120))
	_, err := s.Collect(context.Background(), "BTC-USD", time.Time{}, time.Now())
	var de *models.DataError
	if !errors.As(err, &de) || de.Reason != models.DataInsufficientRows {
		t.Fatalf("expected insufficient_rows, got %v", err)
	}
}

func TestCollectSortsAndDeduplicates(t *testing.T) {
	start := time.Now().Add(-10 * 24 * time.Hour).Truncate(time.Hour)
	candles := bars(8, start)
	// Shuffle a couple of bars out of order and duplicate one timestamp.
	candles[0], candles[5] = candles[5], candles[0]
	dup := candles[3]
	candles = append(candles, dup)

	s := New(&fakeSource{candles: candles}, WithMinRows(5))
	series, err := s.Collect(context.Background(), "BTC-USD", time.Time{}, time.Now())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if series.Len() != 8 {
		t.Fatalf("rows %d, want 8 after dedup", series.Len())
	}
	for i := 1; i < series.Len(); i++ {
		if !series.Candles[i].Bucket.After(series.Candles[i-1].Bucket) {
			t.Fatalf("bucket %d not strictly after its predecessor", i)
		}
	}
}

func TestCollectStaleDataStillSucceeds(t *testing.T) {
	old := time.Now().Add(-90 * 24 * time.Hour)
	s := New(&fakeSource{candles: bars(10, old)}, WithMinRows(5), WithFreshness(6*time.Hour))
	series, err := s.Collect(context.Background(), "BTC-USD", time.Time{}, time.Now())
	if err != nil {
		t.Fatalf("stale data must only warn: %v", err)
	}
	if series.Len() != 10 {
		t.Fatalf("rows %d, want 10", series.Len())
	}
}

func TestCollectWritesAudit(t *testing.T) {
	dir := t.TempDir()
	s := New(&fakeSource{candles: bars(10, time.Now().Add(-10*24*time.Hour))},
		WithMinRows(5),
		WithAudit(NewAuditWriter(dir, "csv")),
	)
	if _, err := s.Collect(context.Background(), "BTC-USD", time.Time{}, time.Now()); err != nil {
		t.Fatalf("collect: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read audit dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("audit files %d, want 1", len(entries))
	}
	name := entries[0].Name()
	if !strings.HasPrefix(name, "BTC-USD_raw_") || !strings.HasSuffix(name, ".csv") {
		t.Fatalf("unexpected audit file name %q", name)
	}
	raw, err := os.ReadFile(dir + "/" + name)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 11 { // header + one line per bar
		t.Fatalf("audit lines %d, want 11", len(lines))
	}
	if lines[0] != "date,open,high,low,close,volume" {
		t.Fatalf("unexpected header %q", lines[0])
	}
}

func TestAuditWriterFormatSelection(t *testing.T) {
	if ext := NewAuditWriter(t.TempDir(), "parquet").Extension(); ext != "parquet" {
		t.Fatalf("extension %q, want parquet", ext)
	}
	if ext := NewAuditWriter(t.TempDir(), "unknown").Extension(); ext != "csv" {
		t.Fatalf("unknown format should fall back to csv, got %q", ext)
	}
}
