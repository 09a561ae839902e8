package repository

import (
	"context"
	"time"

	"FinTrain/internal/domain/models"
)

// EventPublisher fans pipeline lifecycle events out to external consumers.
type EventPublisher interface {
	Publish(ctx context.Context, ev models.PipelineEvent) error
	Close() error
}

// RunStore persists run reports for history queries.
type RunStore interface {
	SaveRun(ctx context.Context, report models.RunReport) error
	LastRun(ctx context.Context) (models.RunReport, error)
	Health(ctx context.Context) error
}

// RunLocker serializes retraining per instrument across processes.
// Acquire returns false without error when another holder has the lock.
type RunLocker interface {
	Acquire(ctx context.Context, symbol string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, symbol string) error
}

type Metrics interface {
	RecordRun(seconds float64, successful, total int)
	RecordInstrument(symbol, outcome string)
	RecordStage(stage string, seconds float64)
	RecordValidation(symbol string, valLoss, valAccuracy float64)
	RecordDeployment(symbol string)
	RecordBackupsPruned(n int)
	RecordEventBufferDepth(n int)
	RecordError(kind string)
}
