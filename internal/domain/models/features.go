package models

import (
	"fmt"
	"math"
)

// FeatureMatrix is a fixed-schema numeric table: rows are time steps,
// columns are the named engineered features.
type FeatureMatrix struct {
	Features []string
	Rows     [][]float64
}

// Len returns the number of time steps.
func (m *FeatureMatrix) Len() int { return len(m.Rows) }

// Column returns the values of one named feature.
func (m *FeatureMatrix) Column(name string) ([]float64, error) {
	idx := -1
	for i, f := range m.Features {
		if f == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("feature %q not in schema", name)
	}
	out := make([]float64, len(m.Rows))
	for i, row := range m.Rows {
		out[i] = row[idx]
	}
	return out, nil
}

// LabelMode selects how the sequence builder derives labels.
type LabelMode string

const (
	// LabelRegression uses the target value at the bar after the window.
	LabelRegression LabelMode = "regression"
	// LabelDirection uses 1/0 for the target moving up/down versus the prior bar.
	LabelDirection LabelMode = "direction"
)

// Sequence is one supervised training example: a fixed-length window of
// feature rows and the forward-looking label for the bar right after it.
type Sequence struct {
	Window [][]float64
	Label  float64
}

// NormalizationTransform holds per-feature min/max scaling parameters
// fitted on exactly one feature matrix. A fitted transform is only ever
// applied to data with the same feature schema.
type NormalizationTransform struct {
	Features []string  `json:"features"`
	Min      []float64 `json:"min"`
	Max      []float64 `json:"max"`
	Fitted   bool      `json:"fitted"`
}

// NewNormalizationTransform creates an unfitted transform for a schema.
func NewNormalizationTransform(features []string) *NormalizationTransform {
	return &NormalizationTransform{
		Features: append([]string(nil), features...),
		Min:      make([]float64, len(features)),
		Max:      make([]float64, len(features)),
	}
}

// Fit computes per-column min/max from the matrix. Constant columns get a
// unit range so Apply maps them to zero instead of dividing by zero.
func (t *NormalizationTransform) Fit(m *FeatureMatrix) error {
	if err := t.checkSchema(m); err != nil {
		return err
	}
	if len(m.Rows) == 0 {
		return fmt.Errorf("fit on empty matrix")
	}
	for j := range t.Features {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, row := range m.Rows {
			v := row[j]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi-lo < 1e-12 {
			hi = lo + 1
		}
		t.Min[j] = lo
		t.Max[j] = hi
	}
	t.Fitted = true
	return nil
}

// Apply scales a matrix into [0, 1] using the fitted parameters. Values
// outside the fitted range extrapolate past the unit interval.
func (t *NormalizationTransform) Apply(m *FeatureMatrix) (*FeatureMatrix, error) {
	if !t.Fitted {
		return nil, fmt.Errorf("transform not fitted")
	}
	if err := t.checkSchema(m); err != nil {
		return nil, err
	}
	out := &FeatureMatrix{
		Features: append([]string(nil), m.Features...),
		Rows:     make([][]float64, len(m.Rows)),
	}
	for i, row := range m.Rows {
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - t.Min[j]) / (t.Max[j] - t.Min[j])
		}
		out.Rows[i] = scaled
	}
	return out, nil
}

// FitTransform fits on the full matrix and scales it in one pass. This is
// the default pipeline mode; callers wanting a leak-free split fit on the
// training prefix and Apply to the rest.
func (t *NormalizationTransform) FitTransform(m *FeatureMatrix) (*FeatureMatrix, error) {
	if err := t.Fit(m); err != nil {
		return nil, err
	}
	return t.Apply(m)
}

// InverseColumn maps a scaled value of one feature back to raw units.
func (t *NormalizationTransform) InverseColumn(name string, v float64) (float64, error) {
	for j, f := range t.Features {
		if f == name {
			if !t.Fitted {
				return 0, fmt.Errorf("transform not fitted")
			}
			return v*(t.Max[j]-t.Min[j]) + t.Min[j], nil
		}
	}
	return 0, fmt.Errorf("feature %q not in schema", name)
}

func (t *NormalizationTransform) checkSchema(m *FeatureMatrix) error {
	if len(m.Features) != len(t.Features) {
		return fmt.Errorf("schema mismatch: transform has %d features, matrix has %d", len(t.Features), len(m.Features))
	}
	for i, f := range t.Features {
		if m.Features[i] != f {
			return fmt.Errorf("schema mismatch at column %d: transform %q, matrix %q", i, f, m.Features[i])
		}
	}
	return nil
}
