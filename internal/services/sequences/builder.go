package sequences

import (
	"context"
	"fmt"

	"FinTrain/internal/domain/models"
)

// Builder windows a normalized feature matrix into supervised examples.
// Deterministic and order-preserving: sequence k always covers rows
// [k, k+window) with its label taken from the bar right after the window.
type Builder struct {
	window int
	mode   models.LabelMode
}

// NewBuilder creates a sequence builder for one window length and label mode.
func NewBuilder(window int, mode models.LabelMode) (*Builder, error) {
	if window < 1 {
		return nil, fmt.Errorf("window length %d, need at least 1", window)
	}
	switch mode {
	case models.LabelRegression, models.LabelDirection:
	default:
		return nil, fmt.Errorf("unknown label mode %q", mode)
	}
	return &Builder{window: window, mode: mode}, nil
}

// Window returns the configured window length.
func (b *Builder) Window() int { return b.window }

// Make emits exactly len(matrix) - window sequences. Regression labels are
// the raw target after the window; direction labels are 1 when that target
// moved up versus the prior bar, else 0.
func (b *Builder) Make(ctx context.Context, symbol string, matrix models.FeatureMatrix, targets []float64) ([]models.Sequence, error) {
	n := matrix.Len()
	if len(targets) != n {
		return nil, fmt.Errorf("targets length %d does not match %d matrix rows", len(targets), n)
	}
	if n <= b.window {
		return nil, &models.TrainingError{
			Symbol: symbol,
			Reason: models.TrainingEmptySequences,
			Detail: fmt.Sprintf("%d rows after preprocessing, window is %d", n, b.window),
		}
	}

	out := make([]models.Sequence, 0, n-b.window)
	for i := b.window; i < n; i++ {
		window := make([][]float64, b.window)
		for j := 0; j < b.window; j++ {
			row := matrix.Rows[i-b.window+j]
			window[j] = append([]float64(nil), row...)
		}

		var label float64
		switch b.mode {
		case models.LabelDirection:
			if targets[i] > targets[i-1] {
				label = 1
			}
		default:
			label = targets[i]
		}

		out = append(out, models.Sequence{Window: window, Label: label})
	}
	return out, nil
}
