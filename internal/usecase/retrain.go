package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FinTrain/internal/domain/models"
	domrepo "FinTrain/internal/domain/repository"
	domsvc "FinTrain/internal/domain/service"
	applogger "FinTrain/pkg/logger"
	"FinTrain/pkg/util"
)

// RetrainOutcome is the terminal result of one instrument's retraining.
type RetrainOutcome struct {
	Symbol  string
	Success bool
	Stage   models.Stage
	Reason  string
	Version string
	Backup  string
	Err     error
}

// InstrumentRetrainer drives one instrument through the retraining state
// machine: collect, preprocess, train, compare, and deploy on acceptance.
// Every failure is terminal for the instrument alone; callers keep going.
type InstrumentRetrainer struct {
	collector  domsvc.Collector
	feats      domsvc.FeatureBuilder
	seqs       domsvc.SequenceBuilder
	trainer    domsvc.Trainer
	comparator domsvc.Comparator
	deployer   domsvc.Deployer
	locker     domrepo.RunLocker
	events     domrepo.EventPublisher
	metrics    domrepo.Metrics
	tracker    *StatusTracker
	lookback   time.Duration
	lockTTL    time.Duration
	l          *applogger.Logger
}

type RetrainOption func(*InstrumentRetrainer)

// WithLookback sets the history window fetched for training.
func WithLookback(d time.Duration) RetrainOption {
	return func(r *InstrumentRetrainer) {
		if d > 0 {
			r.lookback = d
		}
	}
}

// WithLockTTL sets how long the per-instrument lock survives a dead holder.
func WithLockTTL(d time.Duration) RetrainOption {
	return func(r *InstrumentRetrainer) {
		if d > 0 {
			r.lockTTL = d
		}
	}
}

// WithRetrainLogger injects a structured logger.
func WithRetrainLogger(l *applogger.Logger) RetrainOption {
	return func(r *InstrumentRetrainer) { r.l = l }
}

// NewInstrumentRetrainer wires the stage services together.
func NewInstrumentRetrainer(
	collector domsvc.Collector,
	feats domsvc.FeatureBuilder,
	seqs domsvc.SequenceBuilder,
	trainer domsvc.Trainer,
	comparator domsvc.Comparator,
	deployer domsvc.Deployer,
	locker domrepo.RunLocker,
	events domrepo.EventPublisher,
	metrics domrepo.Metrics,
	tracker *StatusTracker,
	opts ...RetrainOption,
) *InstrumentRetrainer {
	r := &InstrumentRetrainer{
		collector:  collector,
		feats:      feats,
		seqs:       seqs,
		trainer:    trainer,
		comparator: comparator,
		deployer:   deployer,
		locker:     locker,
		events:     events,
		metrics:    metrics,
		tracker:    tracker,
		lookback:   365 * 24 * time.Hour,
		lockTTL:    30 * time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrain runs the full state machine for one instrument. It never
// returns a non-nil error to the caller; failures land in the outcome so
// a batch over many instruments cannot be aborted by one of them.
func (r *InstrumentRetrainer) Retrain(ctx context.Context, runID, symbol string) RetrainOutcome {
	start := time.Now()

	ok, err := r.locker.Acquire(ctx, symbol, r.lockTTL)
	if err != nil {
		return r.fail(ctx, runID, symbol, start, fmt.Errorf("acquire lock: %w", err))
	}
	if !ok {
		if r.l != nil {
			r.l.Warn("instrument locked by another run", applogger.String("symbol", symbol))
		}
		r.metrics.RecordInstrument(symbol, "skipped")
		return RetrainOutcome{Symbol: symbol, Stage: models.StageIdle, Reason: "lock_held"}
	}
	// Release is best effort; the TTL reclaims the lock if it fails.
	defer func() { _ = r.locker.Release(ctx, symbol) }()

	r.enterStage(ctx, runID, symbol, models.StageCollecting)
	stageStart := time.Now()
	// Whole-day windows keep repeated runs over the same day identical.
	to := time.Now().UTC()
	from, to := util.AlignDayRange(to.Add(-r.lookback), to)
	series, err := r.collector.Collect(ctx, symbol, from, to)
	r.metrics.RecordStage(string(models.StageCollecting), time.Since(stageStart).Seconds())
	if err != nil {
		return r.fail(ctx, runID, symbol, start, err)
	}

	r.enterStage(ctx, runID, symbol, models.StagePreprocessing)
	stageStart = time.Now()
	matrix, targets, err := r.feats.Build(ctx, series)
	if err != nil {
		r.metrics.RecordStage(string(models.StagePreprocessing), time.Since(stageStart).Seconds())
		return r.fail(ctx, runID, symbol, start, err)
	}
	transform := models.NewNormalizationTransform(matrix.Features)
	scaled, err := transform.FitTransform(&matrix)
	if err != nil {
		r.metrics.RecordStage(string(models.StagePreprocessing), time.Since(stageStart).Seconds())
		return r.fail(ctx, runID, symbol, start, err)
	}
	sequences, err := r.seqs.Make(ctx, symbol, *scaled, targets)
	r.metrics.RecordStage(string(models.StagePreprocessing), time.Since(stageStart).Seconds())
	if err != nil {
		return r.fail(ctx, runID, symbol, start, err)
	}

	r.enterStage(ctx, runID, symbol, models.StageTraining)
	stageStart = time.Now()
	artifact, err := r.trainer.Train(ctx, symbol, sequences, transform)
	r.metrics.RecordStage(string(models.StageTraining), time.Since(stageStart).Seconds())
	if err != nil {
		return r.fail(ctx, runID, symbol, start, err)
	}
	r.metrics.RecordValidation(symbol, artifact.Metrics.ValLoss, artifact.Metrics.ValAccuracy)
	r.publish(ctx, models.PipelineEvent{
		Type: models.EventModelTrained, RunID: runID, Symbol: symbol, Stage: models.StageTraining,
		Payload: map[string]interface{}{
			"val_loss":      artifact.Metrics.ValLoss,
			"val_accuracy":  artifact.Metrics.ValAccuracy,
			"train_samples": artifact.Metrics.TrainSamples,
			"val_samples":   artifact.Metrics.ValSamples,
		},
	})

	r.enterStage(ctx, runID, symbol, models.StageComparing)
	stageStart = time.Now()
	incumbent, imErr := r.deployer.LoadMetrics(ctx, symbol)
	hasIncumbent := imErr == nil
	if imErr != nil && !errors.Is(imErr, models.ErrNoArtifact) {
		r.metrics.RecordStage(string(models.StageComparing), time.Since(stageStart).Seconds())
		return r.fail(ctx, runID, symbol, start, fmt.Errorf("load incumbent metrics: %w", imErr))
	}
	verdict := r.comparator.Accept(artifact.Metrics, incumbent, hasIncumbent)
	r.metrics.RecordStage(string(models.StageComparing), time.Since(stageStart).Seconds())

	if !verdict.Accepted {
		// A rejected candidate never touches disk: no backup, no write.
		r.tracker.Finish(symbol, models.StageRejected, false, verdict.Reason, "")
		r.publish(ctx, models.PipelineEvent{
			Type: models.EventModelRejected, RunID: runID, Symbol: symbol, Stage: models.StageRejected,
			Payload: map[string]interface{}{
				"reason":             verdict.Reason,
				"candidate_val_loss": artifact.Metrics.ValLoss,
				"incumbent_val_loss": incumbent.ValLoss,
			},
		})
		r.metrics.RecordInstrument(symbol, "rejected")
		if r.l != nil {
			r.l.Warn("candidate rejected",
				applogger.String("symbol", symbol),
				applogger.String("reason", verdict.Reason),
				applogger.Float64("candidate_val_loss", artifact.Metrics.ValLoss),
				applogger.Float64("incumbent_val_loss", incumbent.ValLoss),
			)
		}
		return RetrainOutcome{Symbol: symbol, Stage: models.StageRejected, Reason: verdict.Reason}
	}
	r.publish(ctx, models.PipelineEvent{
		Type: models.EventModelAccepted, RunID: runID, Symbol: symbol, Stage: models.StageComparing,
		Payload: map[string]interface{}{"reason": verdict.Reason},
	})

	r.enterStage(ctx, runID, symbol, models.StageDeploying)
	stageStart = time.Now()
	backup, err := r.deployer.Backup(ctx, []string{symbol})
	if err != nil {
		r.metrics.RecordStage(string(models.StageDeploying), time.Since(stageStart).Seconds())
		return r.fail(ctx, runID, symbol, start, err)
	}
	version, err := r.deployer.Deploy(ctx, artifact)
	r.metrics.RecordStage(string(models.StageDeploying), time.Since(stageStart).Seconds())
	if err != nil {
		return r.fail(ctx, runID, symbol, start, err)
	}

	r.metrics.RecordDeployment(symbol)
	r.tracker.Finish(symbol, models.StageDeployed, true, verdict.Reason, version)
	r.publish(ctx, models.PipelineEvent{
		Type: models.EventModelDeployed, RunID: runID, Symbol: symbol, Stage: models.StageDeployed,
		Payload: map[string]interface{}{
			"version": version,
			"backup":  backup.Name,
			"reason":  verdict.Reason,
		},
	})
	r.metrics.RecordInstrument(symbol, "deployed")
	if r.l != nil {
		r.l.Info("instrument retrained",
			applogger.String("symbol", symbol),
			applogger.String("version", version),
			applogger.String("reason", verdict.Reason),
			applogger.Float64("val_loss", artifact.Metrics.ValLoss),
			applogger.Float64("val_accuracy", artifact.Metrics.ValAccuracy),
			applogger.Duration("duration", time.Since(start)),
		)
	}
	return RetrainOutcome{
		Symbol:  symbol,
		Success: true,
		Stage:   models.StageDeployed,
		Reason:  verdict.Reason,
		Version: version,
		Backup:  backup.Name,
	}
}

// Rollback promotes a backed-up artifact back to production.
func (r *InstrumentRetrainer) Rollback(ctx context.Context, symbol, backup string) error {
	if err := r.deployer.Restore(ctx, symbol, backup); err != nil {
		r.metrics.RecordError("rollback")
		return err
	}
	version := ""
	if _, v, err := r.deployer.Load(ctx, symbol); err == nil {
		version = v
		r.tracker.Finish(symbol, models.StageDeployed, true, "restored", version)
	}
	r.publish(ctx, models.PipelineEvent{
		Type: models.EventModelRestored, Symbol: symbol, Stage: models.StageDeployed,
		Payload: map[string]interface{}{"backup": backup, "version": version},
	})
	if r.l != nil {
		r.l.Info("model rolled back",
			applogger.String("symbol", symbol),
			applogger.String("backup", backup),
			applogger.String("version", version),
		)
	}
	return nil
}

func (r *InstrumentRetrainer) enterStage(ctx context.Context, runID, symbol string, stage models.Stage) {
	r.tracker.SetStage(symbol, stage)
	r.publish(ctx, models.PipelineEvent{
		Type: models.EventStageChanged, RunID: runID, Symbol: symbol, Stage: stage,
	})
}

func (r *InstrumentRetrainer) publish(ctx context.Context, ev models.PipelineEvent) {
	if r.events == nil {
		return
	}
	_ = r.events.Publish(ctx, ev)
}

func (r *InstrumentRetrainer) fail(ctx context.Context, runID, symbol string, start time.Time, err error) RetrainOutcome {
	reason := models.FailureReason(err)
	r.tracker.Finish(symbol, models.StageFailed, false, reason, "")
	r.publish(ctx, models.PipelineEvent{
		Type: models.EventStageChanged, RunID: runID, Symbol: symbol, Stage: models.StageFailed,
		Payload: map[string]interface{}{"reason": reason, "error": err.Error()},
	})
	r.metrics.RecordError(reason)
	r.metrics.RecordInstrument(symbol, "failed")
	if r.l != nil {
		r.l.Error("instrument retraining failed",
			applogger.String("symbol", symbol),
			applogger.String("reason", reason),
			applogger.Error(err),
			applogger.Duration("duration", time.Since(start)),
		)
	}
	return RetrainOutcome{Symbol: symbol, Stage: models.StageFailed, Reason: reason, Err: err}
}
