package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"FinTrain/internal/domain/models"
	domrepo "FinTrain/internal/domain/repository"
	domsvc "FinTrain/internal/domain/service"
	"FinTrain/pkg/cache"
	applogger "FinTrain/pkg/logger"
)

// ErrRunInProgress is returned when a full run is requested while one is
// already executing.
var ErrRunInProgress = errors.New("pipeline run already in progress")

const lastRunCacheKey = "last_run_report"

// PipelineRunner executes full retraining runs over the configured
// instrument set and owns the run report lifecycle.
type PipelineRunner struct {
	retrainer *InstrumentRetrainer
	deployer  domsvc.Deployer
	runs      domrepo.RunStore
	events    domrepo.EventPublisher
	metrics   domrepo.Metrics
	cache     cache.Service
	symbols   []string
	retention time.Duration
	reportDir string
	l         *applogger.Logger
	runMu     sync.Mutex
}

type RunnerOption func(*PipelineRunner)

// WithReportCache caches the latest run report for fast status reads.
func WithReportCache(c cache.Service) RunnerOption {
	return func(p *PipelineRunner) { p.cache = c }
}

// WithBackupRetention sets how long backups survive before pruning.
func WithBackupRetention(d time.Duration) RunnerOption {
	return func(p *PipelineRunner) {
		if d > 0 {
			p.retention = d
		}
	}
}

// WithReportDir writes a timestamped JSON report file after every run.
func WithReportDir(dir string) RunnerOption {
	return func(p *PipelineRunner) { p.reportDir = dir }
}

// WithRunnerLogger injects a structured logger.
func WithRunnerLogger(l *applogger.Logger) RunnerOption {
	return func(p *PipelineRunner) { p.l = l }
}

// NewPipelineRunner creates the runner for a fixed instrument set.
func NewPipelineRunner(
	retrainer *InstrumentRetrainer,
	deployer domsvc.Deployer,
	runs domrepo.RunStore,
	events domrepo.EventPublisher,
	metrics domrepo.Metrics,
	symbols []string,
	opts ...RunnerOption,
) *PipelineRunner {
	p := &PipelineRunner{
		retrainer: retrainer,
		deployer:  deployer,
		runs:      runs,
		events:    events,
		metrics:   metrics,
		symbols:   append([]string(nil), symbols...),
		retention: 30 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Symbols returns the configured instrument set.
func (p *PipelineRunner) Symbols() []string {
	return append([]string(nil), p.symbols...)
}

// RunAll retrains every configured instrument in order, prunes expired
// backups exactly once, and persists the run report. Instrument failures
// are recorded in the report; only a second concurrent run or a canceled
// context produce an error.
func (p *PipelineRunner) RunAll(ctx context.Context) (models.RunReport, error) {
	if !p.runMu.TryLock() {
		return models.RunReport{}, ErrRunInProgress
	}
	defer p.runMu.Unlock()

	start := time.Now()
	runID := "run_" + start.UTC().Format("20060102_150405")
	if p.l != nil {
		p.l.Info("pipeline run started",
			applogger.String("run_id", runID),
			applogger.Int("symbols", len(p.symbols)),
		)
	}
	p.publish(ctx, models.PipelineEvent{
		Type: models.EventRunStarted, RunID: runID,
		Payload: map[string]interface{}{"symbols": p.symbols},
	})

	results := make(map[string]bool, len(p.symbols))
	successful := 0
	for _, symbol := range p.symbols {
		if ctx.Err() != nil {
			break
		}
		outcome := p.retrainer.Retrain(ctx, runID, symbol)
		results[symbol] = outcome.Success
		if outcome.Success {
			successful++
		}
	}

	// Pruning runs once per run, whatever happened to the instruments.
	pruned, err := p.deployer.Prune(ctx, p.retention)
	if err != nil {
		p.metrics.RecordError("prune")
		if p.l != nil {
			p.l.Warn("backup pruning failed", applogger.Error(err))
		}
	} else {
		p.metrics.RecordBackupsPruned(pruned)
	}

	end := time.Now()
	report := models.RunReport{
		Timestamp:         end.UTC(),
		DurationSeconds:   end.Sub(start).Seconds(),
		TotalSymbols:      len(p.symbols),
		SuccessfulUpdates: successful,
		Results:           results,
	}
	p.persistReport(ctx, report)

	p.publish(ctx, models.PipelineEvent{
		Type: models.EventRunCompleted, RunID: runID,
		Payload: map[string]interface{}{
			"successful_updates": successful,
			"total_symbols":      len(p.symbols),
			"duration_seconds":   report.DurationSeconds,
			"backups_pruned":     pruned,
		},
	})
	p.metrics.RecordRun(report.DurationSeconds, successful, len(p.symbols))
	if p.l != nil {
		p.l.Info("pipeline run completed",
			applogger.String("run_id", runID),
			applogger.Int("successful", successful),
			applogger.Int("total", len(p.symbols)),
			applogger.Duration("duration", end.Sub(start)),
		)
	}
	return report, ctx.Err()
}

// RunOne retrains a single instrument outside a full run. No report is
// produced and no pruning happens.
func (p *PipelineRunner) RunOne(ctx context.Context, symbol string) RetrainOutcome {
	runID := "run_" + time.Now().UTC().Format("20060102_150405") + "_" + symbol
	return p.retrainer.Retrain(ctx, runID, symbol)
}

// Rollback restores an instrument's artifact from a named backup.
func (p *PipelineRunner) Rollback(ctx context.Context, symbol, backup string) error {
	return p.retrainer.Rollback(ctx, symbol, backup)
}

// LastReport returns the most recent run report, preferring the cache.
// models.ErrNoRuns when the pipeline has never completed.
func (p *PipelineRunner) LastReport(ctx context.Context) (models.RunReport, error) {
	if p.cache != nil {
		var cached models.RunReport
		if err := p.cache.Get(ctx, lastRunCacheKey, &cached); err == nil && !cached.Timestamp.IsZero() {
			return cached, nil
		}
	}
	return p.runs.LastRun(ctx)
}

func (p *PipelineRunner) persistReport(ctx context.Context, report models.RunReport) {
	if err := p.runs.SaveRun(ctx, report); err != nil {
		p.metrics.RecordError("report_save")
		if p.l != nil {
			p.l.Warn("run report save failed", applogger.Error(err))
		}
	}
	if p.cache != nil {
		if err := p.cache.Set(ctx, lastRunCacheKey, report, 48*time.Hour); err != nil && p.l != nil {
			p.l.Warn("run report cache failed", applogger.Error(err))
		}
	}
	if p.reportDir != "" {
		if err := p.writeReportFile(report); err != nil {
			p.metrics.RecordError("report_file")
			if p.l != nil {
				p.l.Warn("run report file failed", applogger.Error(err))
			}
		}
	}
}

func (p *PipelineRunner) writeReportFile(report models.RunReport) error {
	if err := os.MkdirAll(p.reportDir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("pipeline_report_%s.json", report.Timestamp.Format("20060102_150405"))
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(p.reportDir, name), data, 0o644)
}

func (p *PipelineRunner) publish(ctx context.Context, ev models.PipelineEvent) {
	if p.events == nil {
		return
	}
	_ = p.events.Publish(ctx, ev)
}
