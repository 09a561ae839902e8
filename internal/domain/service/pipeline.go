package service

import (
	"context"
	"time"

	"FinTrain/internal/domain/models"
)

// Collector fetches raw market history for one instrument and validates it.
type Collector interface {
	Collect(ctx context.Context, symbol string, from, to time.Time) (models.MarketSeries, error)
}

// FeatureBuilder derives the engineered feature matrix and the prediction
// target series from a candle series. Rows lost to rolling warm-up windows
// are trimmed from both; WarmUp reports how many.
type FeatureBuilder interface {
	Build(ctx context.Context, series models.MarketSeries) (models.FeatureMatrix, []float64, error)
	WarmUp() int
}

// SequenceBuilder turns a normalized feature matrix into training windows.
type SequenceBuilder interface {
	Make(ctx context.Context, symbol string, matrix models.FeatureMatrix, targets []float64) ([]models.Sequence, error)
}

// Trainer fits a model on sequences and reports held-out validation metrics.
type Trainer interface {
	Train(ctx context.Context, symbol string, seqs []models.Sequence, transform *models.NormalizationTransform) (models.ModelArtifact, error)
}

// Comparator decides whether a candidate replaces the incumbent model.
type Comparator interface {
	Accept(candidate, incumbent models.ModelMetrics, hasIncumbent bool) models.Verdict
}

// Deployer owns the versioned model store: publish, load, back up, restore.
type Deployer interface {
	Deploy(ctx context.Context, artifact models.ModelArtifact) (version string, err error)
	Load(ctx context.Context, symbol string) (models.ModelArtifact, string, error)
	LoadMetrics(ctx context.Context, symbol string) (models.ModelMetrics, error)
	Backup(ctx context.Context, symbols []string) (models.BackupRecord, error)
	Restore(ctx context.Context, symbol, backup string) error
	Prune(ctx context.Context, olderThan time.Duration) (int, error)
}
