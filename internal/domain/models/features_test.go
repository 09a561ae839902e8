package models

import (
	"math"
	"strings"
	"testing"
)

func makeMatrix(features []string, rows [][]float64) *FeatureMatrix {
	return &FeatureMatrix{Features: features, Rows: rows}
}

func TestColumnLookup(t *testing.T) {
	m := makeMatrix([]string{"close", "volume"}, [][]float64{{1, 10}, {2, 20}, {3, 30}})
	col, err := m.Column("volume")
	if err != nil {
		t.Fatalf("column: %v", err)
	}
	if len(col) != 3 || col[0] != 10 || col[2] != 30 {
		t.Fatalf("unexpected column %v", col)
	}
	if _, err := m.Column("rsi"); err == nil {
		t.Fatalf("expected error for unknown feature")
	}
}

func TestFitTransformScalesToUnitInterval(t *testing.T) {
	m := makeMatrix([]string{"close"}, [][]float64{{10}, {15}, {20}})
	tr := NewNormalizationTransform(m.Features)
	out, err := tr.FitTransform(m)
	if err != nil {
		t.Fatalf("fit transform: %v", err)
	}
	if out.Rows[0][0] != 0 || out.Rows[1][0] != 0.5 || out.Rows[2][0] != 1 {
		t.Fatalf("unexpected scaled rows %v", out.Rows)
	}
	// The input matrix is left untouched.
	if m.Rows[0][0] != 10 {
		t.Fatalf("input mutated: %v", m.Rows[0][0])
	}
}

func TestApplyAfterFitMatchesFitTransform(t *testing.T) {
	m := makeMatrix([]string{"close", "volume"}, [][]float64{{10, 100}, {20, 300}, {15, 200}})
	a := NewNormalizationTransform(m.Features)
	fused, err := a.FitTransform(m)
	if err != nil {
		t.Fatalf("fit transform: %v", err)
	}
	b := NewNormalizationTransform(m.Features)
	if err := b.Fit(m); err != nil {
		t.Fatalf("fit: %v", err)
	}
	split, err := b.Apply(m)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	for i := range fused.Rows {
		for j := range fused.Rows[i] {
			if fused.Rows[i][j] != split.Rows[i][j] {
				t.Fatalf("row %d col %d: %v vs %v", i, j, fused.Rows[i][j], split.Rows[i][j])
			}
		}
	}
}

func TestApplyExtrapolatesOutOfRange(t *testing.T) {
	tr := NewNormalizationTransform([]string{"close"})
	if err := tr.Fit(makeMatrix([]string{"close"}, [][]float64{{10}, {20}})); err != nil {
		t.Fatalf("fit: %v", err)
	}
	out, err := tr.Apply(makeMatrix([]string{"close"}, [][]float64{{30}, {0}}))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out.Rows[0][0] != 2 || out.Rows[1][0] != -1 {
		t.Fatalf("unexpected extrapolation %v", out.Rows)
	}
}

func TestFitConstantColumn(t *testing.T) {
	m := makeMatrix([]string{"close"}, [][]float64{{7}, {7}, {7}})
	tr := NewNormalizationTransform(m.Features)
	out, err := tr.FitTransform(m)
	if err != nil {
		t.Fatalf("fit transform: %v", err)
	}
	for i, row := range out.Rows {
		if row[0] != 0 || math.IsNaN(row[0]) {
			t.Fatalf("row %d: constant column scaled to %v, want 0", i, row[0])
		}
	}
}

func TestApplyUnfitted(t *testing.T) {
	tr := NewNormalizationTransform([]string{"close"})
	if _, err := tr.Apply(makeMatrix([]string{"close"}, [][]float64{{1}})); err == nil {
		t.Fatalf("expected error on unfitted apply")
	}
}

func TestFitEmptyMatrix(t *testing.T) {
	tr := NewNormalizationTransform([]string{"close"})
	if err := tr.Fit(makeMatrix([]string{"close"}, nil)); err == nil {
		t.Fatalf("expected error on empty fit")
	}
}

func TestSchemaMismatchRejected(t *testing.T) {
	tr := NewNormalizationTransform([]string{"close", "volume"})
	err := tr.Fit(makeMatrix([]string{"volume", "close"}, [][]float64{{1, 2}}))
	if err == nil || !strings.Contains(err.Error(), "schema mismatch") {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
	if err := tr.Fit(makeMatrix([]string{"close"}, [][]float64{{1}})); err == nil {
		t.Fatalf("expected width mismatch error")
	}
}

func TestInverseColumnRoundTrip(t *testing.T) {
	tr := NewNormalizationTransform([]string{"close"})
	if err := tr.Fit(makeMatrix([]string{"close"}, [][]float64{{10}, {30}})); err != nil {
		t.Fatalf("fit: %v", err)
	}
	raw, err := tr.InverseColumn("close", 0.5)
	if err != nil {
		t.Fatalf("inverse: %v", err)
	}
	if raw != 20 {
		t.Fatalf("inverse = %v, want 20", raw)
	}
	if _, err := tr.InverseColumn("rsi", 0.5); err == nil {
		t.Fatalf("expected error for unknown feature")
	}
}
