package compare

import (
	"testing"

	"FinTrain/internal/domain/models"
)

func metrics(valLoss, valAcc float64) models.ModelMetrics {
	return models.ModelMetrics{Symbol: "BTC-USD", ValLoss: valLoss, ValAccuracy: valAcc}
}

func TestAcceptPolicy(t *testing.T) {
	s := New(Thresholds{MinimumAccuracy: 45, ValidationThreshold: 0.15})

	cases := []struct {
		name         string
		candidate    models.ModelMetrics
		incumbent    models.ModelMetrics
		hasIncumbent bool
		accepted     bool
		reason       string
	}{
		{
			name:      "first model always deploys",
			candidate: metrics(0.9, 12),
			accepted:  true,
			reason:    models.VerdictFirstModel,
		},
		{
			name:         "accuracy floor checked before loss",
			candidate:    metrics(0.01, 44.9),
			incumbent:    metrics(0.5, 60),
			hasIncumbent: true,
			accepted:     false,
			reason:       models.VerdictLowAccuracy,
		},
		{
			name:         "loss regression past tolerance rejects",
			candidate:    metrics(0.60, 55),
			incumbent:    metrics(0.50, 52),
			hasIncumbent: true,
			accepted:     false,
			reason:       models.VerdictLossRegressed,
		},
		{
			name:         "exactly at tolerance passes",
			candidate:    metrics(0.575, 55),
			incumbent:    metrics(0.50, 52),
			hasIncumbent: true,
			accepted:     true,
			reason:       models.VerdictWithinTolerance,
		},
		{
			name:         "lower loss improves",
			candidate:    metrics(0.40, 55),
			incumbent:    metrics(0.50, 52),
			hasIncumbent: true,
			accepted:     true,
			reason:       models.VerdictImproved,
		},
		{
			name:         "equal loss is within tolerance",
			candidate:    metrics(0.50, 55),
			incumbent:    metrics(0.50, 52),
			hasIncumbent: true,
			accepted:     true,
			reason:       models.VerdictWithinTolerance,
		},
		{
			name:         "zero-loss incumbent rejects any increase",
			candidate:    metrics(0.001, 55),
			incumbent:    metrics(0, 52),
			hasIncumbent: true,
			accepted:     false,
			reason:       models.VerdictLossRegressed,
		},
		{
			name:         "zero-loss incumbent matched stays",
			candidate:    metrics(0, 55),
			incumbent:    metrics(0, 52),
			hasIncumbent: true,
			accepted:     true,
			reason:       models.VerdictWithinTolerance,
		},
	}

	for _, tc := range cases {
		v := s.Accept(tc.candidate, tc.incumbent, tc.hasIncumbent)
		if v.Accepted != tc.accepted {
			t.Fatalf("%s: accepted=%v, want %v", tc.name, v.Accepted, tc.accepted)
		}
		if v.Reason != tc.reason {
			t.Fatalf("%s: reason=%s, want %s", tc.name, v.Reason, tc.reason)
		}
	}
}

func TestAcceptIgnoresIncumbentWhenAbsent(t *testing.T) {
	s := New(Thresholds{MinimumAccuracy: 45, ValidationThreshold: 0.15})
	// Garbage incumbent values must not matter without a deployed model.
	v := s.Accept(metrics(5, 1), metrics(-1, -1), false)
	if !v.Accepted || v.Reason != models.VerdictFirstModel {
		t.Fatalf("got %+v, want first_model accept", v)
	}
}
