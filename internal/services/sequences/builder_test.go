package sequences

import (
	"context"
	"errors"
	"testing"

	"FinTrain/internal/domain/models"
)

func makeMatrix(n, cols int) models.FeatureMatrix {
	features := make([]string, cols)
	features[0] = "close"
	for j := 1; j < cols; j++ {
		features[j] = "f" + string(rune('a'+j))
	}
	rows := make([][]float64, n)
	for i := range rows {
		row := make([]float64, cols)
		for j := range row {
			row[j] = float64(i*cols + j)
		}
		rows[i] = row
	}
	return models.FeatureMatrix{Features: features, Rows: rows}
}

func TestNewBuilderValidation(t *testing.T) {
	if _, err := NewBuilder(0, models.LabelRegression); err == nil {
		t.Fatalf("expected error for zero window")
	}
	if _, err := NewBuilder(10, models.LabelMode("ranking")); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestMakeCountAndAlignment(t *testing.T) {
	b, err := NewBuilder(5, models.LabelRegression)
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	matrix := makeMatrix(20, 3)
	targets := make([]float64, 20)
	for i := range targets {
		targets[i] = float64(100 + i)
	}

	seqs, err := b.Make(context.Background(), "AAPL", matrix, targets)
	if err != nil {
		t.Fatalf("make: %v", err)
	}
	if len(seqs) != 15 {
		t.Fatalf("got %d sequences, want 15", len(seqs))
	}
	// Sequence k covers rows [k, k+5) and is labeled by target k+5.
	for k, seq := range seqs {
		if len(seq.Window) != 5 {
			t.Fatalf("sequence %d window %d, want 5", k, len(seq.Window))
		}
		if seq.Window[0][0] != matrix.Rows[k][0] {
			t.Fatalf("sequence %d starts at wrong row", k)
		}
		if seq.Label != targets[k+5] {
			t.Fatalf("sequence %d label %v, want %v", k, seq.Label, targets[k+5])
		}
	}
}

func TestMakeWindowsAreCopies(t *testing.T) {
	b, _ := NewBuilder(2, models.LabelRegression)
	matrix := makeMatrix(5, 2)
	targets := []float64{1, 2, 3, 4, 5}
	seqs, err := b.Make(context.Background(), "AAPL", matrix, targets)
	if err != nil {
		t.Fatalf("make: %v", err)
	}
	matrix.Rows[0][0] = -999
	if seqs[0].Window[0][0] == -999 {
		t.Fatalf("sequence window aliases the matrix")
	}
}

func TestMakeDirectionLabels(t *testing.T) {
	b, err := NewBuilder(2, models.LabelDirection)
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	matrix := makeMatrix(6, 2)
	targets := []float64{10, 11, 10, 10, 12, 9}

	seqs, err := b.Make(context.Background(), "AAPL", matrix, targets)
	if err != nil {
		t.Fatalf("make: %v", err)
	}
	// Labels come from targets[2:]: 10 vs 11 down, 10 vs 10 flat, 12 vs 10 up, 9 vs 12 down.
	want := []float64{0, 0, 1, 0}
	for i, seq := range seqs {
		if seq.Label != want[i] {
			t.Fatalf("label %d = %v, want %v", i, seq.Label, want[i])
		}
	}
}

func TestMakeTooFewRows(t *testing.T) {
	b, _ := NewBuilder(10, models.LabelRegression)
	matrix := makeMatrix(10, 2)
	targets := make([]float64, 10)

	_, err := b.Make(context.Background(), "AAPL", matrix, targets)
	var te *models.TrainingError
	if !errors.As(err, &te) {
		t.Fatalf("expected TrainingError, got %v", err)
	}
	if te.Reason != models.TrainingEmptySequences {
		t.Fatalf("reason %s, want empty_sequences", te.Reason)
	}
}

func TestMakeTargetsMismatch(t *testing.T) {
	b, _ := NewBuilder(3, models.LabelRegression)
	matrix := makeMatrix(10, 2)
	if _, err := b.Make(context.Background(), "AAPL", matrix, make([]float64, 7)); err == nil {
		t.Fatalf("expected error for mismatched targets")
	}
}
