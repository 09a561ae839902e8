package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	runsTotal       prometheus.Counter
	runDuration     prometheus.Histogram
	runSuccessRatio prometheus.Gauge
	instrumentRuns  *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	valLoss         *prometheus.GaugeVec
	valAccuracy     *prometheus.GaugeVec
	deployments     *prometheus.CounterVec
	backupsPruned   prometheus.Counter
	eventBufDepth   prometheus.Gauge
	errorsTotal     *prometheus.CounterVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		runsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fintrain_runs_total",
				Help: "Total number of completed pipeline runs",
			},
		),
		runDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fintrain_run_duration_seconds",
				Help:    "Wall-clock duration of a full pipeline run",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
			},
		),
		runSuccessRatio: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fintrain_run_success_ratio",
				Help: "Fraction of instruments updated successfully in the last run",
			},
		),
		instrumentRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fintrain_instrument_runs_total",
				Help: "Per-instrument retrain attempts by outcome",
			},
			[]string{"symbol", "outcome"},
		),
		stageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fintrain_stage_duration_seconds",
				Help:    "Duration of individual pipeline stages",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		valLoss: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fintrain_validation_loss",
				Help: "Validation loss of the most recently trained model",
			},
			[]string{"symbol"},
		),
		valAccuracy: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fintrain_validation_accuracy_percent",
				Help: "Directional validation accuracy of the most recently trained model",
			},
			[]string{"symbol"},
		),
		deployments: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fintrain_deployments_total",
				Help: "Total number of model deployments",
			},
			[]string{"symbol"},
		),
		backupsPruned: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fintrain_backups_pruned_total",
				Help: "Total number of expired backup directories removed",
			},
		),
		eventBufDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fintrain_event_buffer_depth",
				Help: "Events waiting in the broadcaster retry buffer",
			},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fintrain_errors_total",
				Help: "Total number of errors by kind",
			},
			[]string{"kind"},
		),
	}
}

// RecordRun records the outcome of a full pipeline run.
func (r *Recorder) RecordRun(seconds float64, successful, total int) {
	r.runsTotal.Inc()
	r.runDuration.Observe(seconds)
	if total > 0 {
		r.runSuccessRatio.Set(float64(successful) / float64(total))
	}
}

// RecordInstrument records a per-instrument retrain outcome.
func (r *Recorder) RecordInstrument(symbol, outcome string) {
	r.instrumentRuns.WithLabelValues(symbol, outcome).Inc()
}

// RecordStage records how long one pipeline stage took.
func (r *Recorder) RecordStage(stage string, seconds float64) {
	r.stageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordValidation records the validation metrics of a freshly trained model.
func (r *Recorder) RecordValidation(symbol string, valLoss, valAccuracy float64) {
	r.valLoss.WithLabelValues(symbol).Set(valLoss)
	r.valAccuracy.WithLabelValues(symbol).Set(valAccuracy)
}

// RecordDeployment records a completed model deployment.
func (r *Recorder) RecordDeployment(symbol string) {
	r.deployments.WithLabelValues(symbol).Inc()
}

// RecordBackupsPruned records removed backup directories.
func (r *Recorder) RecordBackupsPruned(n int) {
	r.backupsPruned.Add(float64(n))
}

// RecordEventBufferDepth records the broadcaster's retry backlog size.
func (r *Recorder) RecordEventBufferDepth(n int) {
	r.eventBufDepth.Set(float64(n))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}
