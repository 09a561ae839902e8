package train

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"

	"FinTrain/internal/domain/models"
)

// testParams keeps the net small enough that a full fit stays cheap.
func testParams() Params {
	return Params{
		Mode:         models.LabelRegression,
		Epochs:       40,
		BatchSize:    8,
		HiddenSizes:  []int{8},
		DenseSize:    4,
		Dropout:      0,
		LearningRate: 0.01,
		TrainSplit:   0.8,
		Patience:     40,
		LRPatience:   10,
		Seed:         7,
	}
}

// sineSequences builds windows over a smooth scaled sine: each label is
// the value right after its window, so the series is learnable.
func sineSequences(n, window int) []models.Sequence {
	values := make([]float64, n+window)
	for i := range values {
		values[i] = (math.Sin(float64(i)/4) + 1) / 2
	}
	seqs := make([]models.Sequence, n)
	for i := 0; i < n; i++ {
		w := make([][]float64, window)
		for j := 0; j < window; j++ {
			w[j] = []float64{values[i+j]}
		}
		seqs[i] = models.Sequence{Window: w, Label: values[i+window]}
	}
	return seqs
}

func fittedTransform(t *testing.T) *models.NormalizationTransform {
	t.Helper()
	tr := models.NewNormalizationTransform([]string{"close"})
	m := &models.FeatureMatrix{Features: []string{"close"}, Rows: [][]float64{{0}, {1}}}
	if err := tr.Fit(m); err != nil {
		t.Fatalf("fit transform: %v", err)
	}
	return tr
}

func TestTrainEmptySequences(t *testing.T) {
	s := New(testParams())
	_, err := s.Train(context.Background(), "BTC-USD", nil, nil)
	var te *models.TrainingError
	if !errors.As(err, &te) {
		t.Fatalf("expected TrainingError, got %v", err)
	}
	if te.Reason != models.TrainingEmptySequences {
		t.Fatalf("reason %s, want %s", te.Reason, models.TrainingEmptySequences)
	}
}

func TestTrainTooFewSequences(t *testing.T) {
	s := New(testParams())
	_, err := s.Train(context.Background(), "BTC-USD", sineSequences(3, 4), nil)
	var te *models.TrainingError
	if !errors.As(err, &te) || te.Reason != models.TrainingEmptySequences {
		t.Fatalf("expected empty_sequences, got %v", err)
	}
}

func TestTrainLearnsSmoothSeries(t *testing.T) {
	s := New(testParams())
	seqs := sineSequences(120, 8)
	artifact, err := s.Train(context.Background(), "BTC-USD", seqs, fittedTransform(t))
	if err != nil {
		t.Fatalf("train: %v", err)
	}

	// Predicting the label mean would score around the label variance
	// (~0.125 for a unit sine); a fitted model must beat that.
	if !(artifact.Metrics.ValLoss < 0.12) {
		t.Fatalf("val loss %v, expected the model to beat the mean predictor", artifact.Metrics.ValLoss)
	}
	if artifact.Metrics.TrainSamples+artifact.Metrics.ValSamples != len(seqs) {
		t.Fatalf("samples %d+%d, want %d total",
			artifact.Metrics.TrainSamples, artifact.Metrics.ValSamples, len(seqs))
	}
	if artifact.Metrics.TrainSamples != int(0.8*float64(len(seqs))) {
		t.Fatalf("train samples %d, want temporal 80%% split", artifact.Metrics.TrainSamples)
	}
	if artifact.Metrics.DataPoints != len(seqs) {
		t.Fatalf("data points %d, want %d", artifact.Metrics.DataPoints, len(seqs))
	}
	if artifact.Symbol != "BTC-USD" || artifact.Metrics.Symbol != "BTC-USD" {
		t.Fatalf("symbol not carried through: %+v", artifact.Metrics)
	}
	if len(artifact.Metrics.Features) != 1 || artifact.Metrics.Features[0] != "close" {
		t.Fatalf("features %v, want transform schema", artifact.Metrics.Features)
	}
}

func TestTrainDeterministicForSeed(t *testing.T) {
	seqs := sineSequences(60, 6)
	a1, err := New(testParams()).Train(context.Background(), "X", seqs, nil)
	if err != nil {
		t.Fatalf("first train: %v", err)
	}
	a2, err := New(testParams()).Train(context.Background(), "X", seqs, nil)
	if err != nil {
		t.Fatalf("second train: %v", err)
	}
	if !bytes.Equal(a1.Weights, a2.Weights) {
		t.Fatalf("same seed produced different weights")
	}
}

func TestTrainRejectsNonFiniteInput(t *testing.T) {
	seqs := sineSequences(30, 4)
	seqs[10].Window[2][0] = math.NaN()
	_, err := New(testParams()).Train(context.Background(), "X", seqs, nil)
	var te *models.TrainingError
	if !errors.As(err, &te) {
		t.Fatalf("expected TrainingError, got %v", err)
	}
	if te.Reason != models.TrainingNumericalError && te.Reason != models.TrainingDivergence {
		t.Fatalf("reason %s, want a numerical failure", te.Reason)
	}
}

func TestTrainStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(testParams()).Train(ctx, "X", sineSequences(60, 6), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLoadModelRoundTrip(t *testing.T) {
	seqs := sineSequences(60, 6)
	artifact, err := New(testParams()).Train(context.Background(), "X", seqs, nil)
	if err != nil {
		t.Fatalf("train: %v", err)
	}

	m, err := LoadModel(artifact.Weights)
	if err != nil {
		t.Fatalf("load model: %v", err)
	}
	if m.InputSize() != 1 {
		t.Fatalf("input size %d, want 1", m.InputSize())
	}
	if m.Mode() != models.LabelRegression {
		t.Fatalf("mode %s, want regression", m.Mode())
	}

	p, err := m.Predict(seqs[0].Window)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if math.IsNaN(p) || math.IsInf(p, 0) {
		t.Fatalf("prediction not finite: %v", p)
	}

	raw := m.Denormalize(p)
	if back := m.Normalize(raw); math.Abs(back-p) > 1e-9 {
		t.Fatalf("normalize/denormalize round trip drifted: %v vs %v", back, p)
	}

	if _, err := m.Predict([][]float64{{1, 2}}); err == nil {
		t.Fatalf("expected error for wrong feature width")
	}
}

func TestDirectionalAccuracyRegression(t *testing.T) {
	up := []float64{0.1, 0.2, 0.3, 0.4}
	down := []float64{0.4, 0.3, 0.2, 0.1}

	if acc := directionalAccuracy(modeRegression, up, up); acc != 100 {
		t.Fatalf("aligned series accuracy %v, want 100", acc)
	}
	if acc := directionalAccuracy(modeRegression, down, up); acc != 0 {
		t.Fatalf("inverted series accuracy %v, want 0", acc)
	}
	// Magnitude must not matter, only the sign of each step.
	big := []float64{1, 100, 101, 900}
	if acc := directionalAccuracy(modeRegression, big, up); acc != 100 {
		t.Fatalf("magnitude leaked into accuracy: %v", acc)
	}
	if acc := directionalAccuracy(modeRegression, up[:1], up[:1]); acc != 0 {
		t.Fatalf("single point accuracy %v, want 0", acc)
	}
}

func TestDirectionalAccuracyDirection(t *testing.T) {
	preds := []float64{0.9, 0.1, 0.8, 0.2}
	labels := []float64{1, 0, 0, 1}
	if acc := directionalAccuracy(modeDirection, preds, labels); acc != 50 {
		t.Fatalf("direction accuracy %v, want 50", acc)
	}
}
