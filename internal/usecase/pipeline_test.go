package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"FinTrain/internal/domain/models"
	domsvc "FinTrain/internal/domain/service"
	"FinTrain/internal/services/compare"
	"FinTrain/internal/services/deploy"
	"FinTrain/internal/services/train"
)

// Stage stubs. Collection, features, and windowing return canned data so
// the tests steer the run through the comparator and the real deployment
// store with exact metric values.

type stubCollector struct {
	errFor   map[string]error
	lastFrom time.Time
	lastTo   time.Time
}

func (s *stubCollector) Collect(ctx context.Context, symbol string, from, to time.Time) (models.MarketSeries, error) {
	s.lastFrom, s.lastTo = from, to
	if err := s.errFor[symbol]; err != nil {
		return models.MarketSeries{}, err
	}
	start := time.Now().Add(-4 * 24 * time.Hour)
	candles := make([]models.Candle, 4)
	for i := range candles {
		candles[i] = models.Candle{Bucket: start.Add(time.Duration(i) * 24 * time.Hour), Symbol: symbol, Open: 1, High: 2, Low: 1, Close: 1.5, Volume: 10}
	}
	return models.MarketSeries{Symbol: symbol, Candles: candles}, nil
}

type stubFeatures struct{}

func (stubFeatures) Build(ctx context.Context, series models.MarketSeries) (models.FeatureMatrix, []float64, error) {
	return models.FeatureMatrix{
		Features: []string{"close"},
		Rows:     [][]float64{{1}, {2}, {3}, {4}},
	}, []float64{1, 2, 3, 4}, nil
}

func (stubFeatures) WarmUp() int { return 0 }

type stubSequences struct{}

func (stubSequences) Make(ctx context.Context, symbol string, matrix models.FeatureMatrix, targets []float64) ([]models.Sequence, error) {
	return []models.Sequence{
		{Window: matrix.Rows[:2], Label: targets[2]},
		{Window: matrix.Rows[1:3], Label: targets[3]},
	}, nil
}

type stubTrainer struct {
	metrics models.ModelMetrics
	weights []byte
	err     error
}

func (s *stubTrainer) Train(ctx context.Context, symbol string, seqs []models.Sequence, transform *models.NormalizationTransform) (models.ModelArtifact, error) {
	if s.err != nil {
		return models.ModelArtifact{}, s.err
	}
	m := s.metrics
	m.Symbol = symbol
	return models.ModelArtifact{Symbol: symbol, Weights: s.weights, Transform: transform, Metrics: m}, nil
}

type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocker() *memLocker { return &memLocker{held: make(map[string]bool)} }

func (l *memLocker) Acquire(ctx context.Context, symbol string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[symbol] {
		return false, nil
	}
	l.held[symbol] = true
	return true, nil
}

func (l *memLocker) Release(ctx context.Context, symbol string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, symbol)
	return nil
}

func (l *memLocker) holding() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

type captureEvents struct {
	mu     sync.Mutex
	events []models.PipelineEvent
}

func (c *captureEvents) Publish(ctx context.Context, ev models.PipelineEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureEvents) Close() error { return nil }

func (c *captureEvents) types() []models.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.EventType, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Type
	}
	return out
}

type memRunStore struct {
	mu   sync.Mutex
	last *models.RunReport
}

func (s *memRunStore) SaveRun(ctx context.Context, report models.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &report
	return nil
}

func (s *memRunStore) LastRun(ctx context.Context) (models.RunReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return models.RunReport{}, models.ErrNoRuns
	}
	return *s.last, nil
}

func (s *memRunStore) Health(ctx context.Context) error { return nil }

type nopMetrics struct{}

func (nopMetrics) RecordRun(seconds float64, successful, total int)             {}
func (nopMetrics) RecordInstrument(symbol, outcome string)                      {}
func (nopMetrics) RecordStage(stage string, seconds float64)                    {}
func (nopMetrics) RecordValidation(symbol string, valLoss, valAccuracy float64) {}
func (nopMetrics) RecordDeployment(symbol string)                               {}
func (nopMetrics) RecordBackupsPruned(n int)                                    {}
func (nopMetrics) RecordEventBufferDepth(n int)                                 {}
func (nopMetrics) RecordError(kind string)                                      {}

// countingDeployer wraps the real store to observe prune calls.
type countingDeployer struct {
	domsvc.Deployer
	mu         sync.Mutex
	pruneCalls int
}

func (d *countingDeployer) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	d.mu.Lock()
	d.pruneCalls++
	d.mu.Unlock()
	return d.Deployer.Prune(ctx, olderThan)
}

// validWeights trains a throwaway tiny net so deployments pass the
// decode check with a genuine blob.
func validWeights(t *testing.T) []byte {
	t.Helper()
	values := make([]float64, 34)
	for i := range values {
		values[i] = (math.Sin(float64(i)/3) + 1) / 2
	}
	seqs := make([]models.Sequence, 30)
	for i := range seqs {
		seqs[i] = models.Sequence{
			Window: [][]float64{{values[i]}, {values[i+1]}, {values[i+2]}, {values[i+3]}},
			Label:  values[i+4],
		}
	}
	trainer := train.New(train.Params{
		Epochs: 2, BatchSize: 8, HiddenSizes: []int{4}, DenseSize: 3,
		LearningRate: 0.01, Patience: 2, Seed: 1,
	})
	artifact, err := trainer.Train(context.Background(), "SEED", seqs, nil)
	if err != nil {
		t.Fatalf("train seed weights: %v", err)
	}
	return artifact.Weights
}

type fixture struct {
	runner    *PipelineRunner
	retrainer *InstrumentRetrainer
	collector *stubCollector
	deployer  *countingDeployer
	store     *deploy.Manager
	locker    *memLocker
	events    *captureEvents
	runs      *memRunStore
	tracker   *StatusTracker
	backupDir string
	reportDir string
}

func newFixture(t *testing.T, symbols []string, candidate models.ModelMetrics, collectErrs map[string]error) *fixture {
	t.Helper()
	modelsDir := filepath.Join(t.TempDir(), "models")
	backupDir := filepath.Join(t.TempDir(), "backups")

	store := deploy.New(modelsDir, backupDir)
	deployer := &countingDeployer{Deployer: store}
	locker := newMemLocker()
	events := &captureEvents{}
	runs := &memRunStore{}
	tracker := NewStatusTracker(symbols)
	collector := &stubCollector{errFor: collectErrs}

	retrainer := NewInstrumentRetrainer(
		collector,
		stubFeatures{},
		stubSequences{},
		&stubTrainer{metrics: candidate, weights: validWeights(t)},
		compare.New(compare.Thresholds{MinimumAccuracy: 45, ValidationThreshold: 0.15}),
		deployer,
		locker,
		events,
		nopMetrics{},
		tracker,
	)
	reportDir := filepath.Join(t.TempDir(), "models")
	runner := NewPipelineRunner(retrainer, deployer, runs, events, nopMetrics{}, symbols,
		WithBackupRetention(30*24*time.Hour),
		WithReportDir(reportDir),
	)
	return &fixture{
		runner:    runner,
		retrainer: retrainer,
		collector: collector,
		deployer:  deployer,
		store:     store,
		locker:    locker,
		events:    events,
		runs:      runs,
		tracker:   tracker,
		backupDir: backupDir,
		reportDir: reportDir,
	}
}

func TestRunAllFreshInstrumentDeploys(t *testing.T) {
	f := newFixture(t, []string{"TEST"}, models.ModelMetrics{ValLoss: 0.02, ValAccuracy: 55}, nil)
	ctx := context.Background()

	report, err := f.runner.RunAll(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !report.Results["TEST"] {
		t.Fatalf("expected TEST to succeed: %+v", report)
	}
	if report.TotalSymbols != 1 || report.SuccessfulUpdates != 1 {
		t.Fatalf("report counters %+v", report)
	}
	if report.Timestamp.IsZero() || report.DurationSeconds < 0 {
		t.Fatalf("report timing not populated: %+v", report)
	}

	// The production artifact now exists.
	artifact, version, err := f.store.Load(ctx, "TEST")
	if err != nil {
		t.Fatalf("load deployed artifact: %v", err)
	}
	if version == "" || artifact.Metrics.ValLoss != 0.02 {
		t.Fatalf("unexpected deployed artifact %q %+v", version, artifact.Metrics)
	}

	// First deployment had nothing to back up.
	if _, err := os.Stat(f.backupDir); !os.IsNotExist(err) {
		t.Fatalf("backup dir should not exist, stat err %v", err)
	}

	if st, ok := f.tracker.Get("TEST"); !ok || st.Stage != models.StageDeployed {
		t.Fatalf("tracker stage %+v", st)
	}
}

func TestRunAllWritesReportFile(t *testing.T) {
	f := newFixture(t, []string{"TEST"}, models.ModelMetrics{ValLoss: 0.02, ValAccuracy: 55}, nil)

	report, err := f.runner.RunAll(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// The report lands next to the model store as a timestamped JSON file.
	name := fmt.Sprintf("pipeline_report_%s.json", report.Timestamp.Format("20060102_150405"))
	data, err := os.ReadFile(filepath.Join(f.reportDir, name))
	if err != nil {
		t.Fatalf("read report file: %v", err)
	}
	var onDisk models.RunReport
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("decode report file: %v", err)
	}
	if onDisk.TotalSymbols != 1 || !onDisk.Results["TEST"] {
		t.Fatalf("report file content %+v", onDisk)
	}
}

func TestRetrainCollectsWholeDayWindow(t *testing.T) {
	f := newFixture(t, []string{"TEST"}, models.ModelMetrics{ValLoss: 0.02, ValAccuracy: 55}, nil)

	if _, err := f.runner.RunAll(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	from, to := f.collector.lastFrom, f.collector.lastTo
	if from.IsZero() || to.IsZero() {
		t.Fatalf("collector never called")
	}
	for _, ts := range []time.Time{from, to} {
		if ts.Hour() != 0 || ts.Minute() != 0 || ts.Second() != 0 || ts.Nanosecond() != 0 {
			t.Fatalf("window edge not day aligned: %v", ts)
		}
	}
	if !from.Before(to) {
		t.Fatalf("window inverted: %v .. %v", from, to)
	}
}

func TestRunAllRejectsWorseCandidate(t *testing.T) {
	f := newFixture(t, []string{"TEST"}, models.ModelMetrics{ValLoss: 0.02, ValAccuracy: 58}, nil)
	ctx := context.Background()

	// Seed an incumbent the candidate cannot beat: the loss doubles,
	// far past the 15% tolerance.
	transform := models.NewNormalizationTransform([]string{"close"})
	if err := transform.Fit(&models.FeatureMatrix{Features: []string{"close"}, Rows: [][]float64{{0}, {1}}}); err != nil {
		t.Fatalf("fit transform: %v", err)
	}
	incumbentVersion, err := f.store.Deploy(ctx, models.ModelArtifact{
		Symbol:    "TEST",
		Weights:   validWeights(t),
		Transform: transform,
		Metrics:   models.ModelMetrics{Symbol: "TEST", ValLoss: 0.01, ValAccuracy: 60},
	})
	if err != nil {
		t.Fatalf("seed incumbent: %v", err)
	}

	report, err := f.runner.RunAll(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Results["TEST"] {
		t.Fatalf("worse candidate must be rejected: %+v", report)
	}
	if report.SuccessfulUpdates != 0 {
		t.Fatalf("successful updates %d, want 0", report.SuccessfulUpdates)
	}

	// Rejection happens before backup, so nothing was copied and the
	// incumbent is exactly where it was.
	if _, err := os.Stat(f.backupDir); !os.IsNotExist(err) {
		t.Fatalf("backup dir should not exist after rejection, stat err %v", err)
	}
	metrics, err := f.store.LoadMetrics(ctx, "TEST")
	if err != nil || metrics.ValLoss != 0.01 {
		t.Fatalf("incumbent touched: %+v err %v", metrics, err)
	}
	if _, version, err := f.store.Load(ctx, "TEST"); err != nil || version != incumbentVersion {
		t.Fatalf("incumbent version changed to %q: %v", version, err)
	}

	if st, _ := f.tracker.Get("TEST"); st.Stage != models.StageRejected {
		t.Fatalf("tracker stage %s, want rejected", st.Stage)
	}
}

func TestRunAllIsolatesInstrumentFailures(t *testing.T) {
	collectErrs := map[string]error{
		"BAD": &models.DataError{Symbol: "BAD", Reason: models.DataEmpty},
	}
	f := newFixture(t, []string{"GOOD", "BAD"}, models.ModelMetrics{ValLoss: 0.02, ValAccuracy: 55}, collectErrs)

	report, err := f.runner.RunAll(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Results) != 2 {
		t.Fatalf("results %v, want every configured instrument listed", report.Results)
	}
	if !report.Results["GOOD"] || report.Results["BAD"] {
		t.Fatalf("unexpected outcomes %v", report.Results)
	}
	if report.SuccessfulUpdates != 1 || report.TotalSymbols != 2 {
		t.Fatalf("report counters %+v", report)
	}

	if st, _ := f.tracker.Get("BAD"); st.Stage != models.StageFailed || st.LastReason != "data_empty" {
		t.Fatalf("failed instrument status %+v", st)
	}
	if st, _ := f.tracker.Get("GOOD"); st.Stage != models.StageDeployed {
		t.Fatalf("good instrument status %+v", st)
	}
}

func TestRetrainSkipsHeldLock(t *testing.T) {
	f := newFixture(t, []string{"TEST"}, models.ModelMetrics{ValLoss: 0.02, ValAccuracy: 55}, nil)
	ctx := context.Background()

	if ok, _ := f.locker.Acquire(ctx, "TEST", time.Minute); !ok {
		t.Fatalf("pre-hold failed")
	}

	outcome := f.retrainer.Retrain(ctx, "run_x", "TEST")
	if outcome.Success || outcome.Reason != "lock_held" {
		t.Fatalf("outcome %+v, want lock_held skip", outcome)
	}
	// The held lock belongs to the other run and must survive the skip.
	if f.locker.holding() != 1 {
		t.Fatalf("foreign lock released")
	}
	if _, _, err := f.store.Load(ctx, "TEST"); !errors.Is(err, models.ErrNoArtifact) {
		t.Fatalf("locked instrument must not deploy: %v", err)
	}
}

func TestRunAllReleasesLocks(t *testing.T) {
	f := newFixture(t, []string{"A", "B"}, models.ModelMetrics{ValLoss: 0.02, ValAccuracy: 55}, nil)
	if _, err := f.runner.RunAll(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if f.locker.holding() != 0 {
		t.Fatalf("%d locks still held after run", f.locker.holding())
	}
}

func TestRunAllPrunesExactlyOnce(t *testing.T) {
	f := newFixture(t, []string{"A", "B", "C"}, models.ModelMetrics{ValLoss: 0.02, ValAccuracy: 55}, nil)

	expired := filepath.Join(f.backupDir, "20200101_000000")
	keeper := filepath.Join(f.backupDir, "manual-copy")
	for _, dir := range []string{expired, keeper} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mk backup dir: %v", err)
		}
	}

	if _, err := f.runner.RunAll(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if f.deployer.pruneCalls != 1 {
		t.Fatalf("prune called %d times, want once per run", f.deployer.pruneCalls)
	}
	if _, err := os.Stat(expired); !os.IsNotExist(err) {
		t.Fatalf("expired backup still present")
	}
	if _, err := os.Stat(keeper); err != nil {
		t.Fatalf("unparseable backup removed: %v", err)
	}
}

func TestRunAllEmitsLifecycleEvents(t *testing.T) {
	f := newFixture(t, []string{"TEST"}, models.ModelMetrics{ValLoss: 0.02, ValAccuracy: 55}, nil)
	if _, err := f.runner.RunAll(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	types := f.events.types()
	if len(types) < 2 {
		t.Fatalf("too few events: %v", types)
	}
	if types[0] != models.EventRunStarted {
		t.Fatalf("first event %s, want run_started", types[0])
	}
	if types[len(types)-1] != models.EventRunCompleted {
		t.Fatalf("last event %s, want run_completed", types[len(types)-1])
	}
	seen := make(map[models.EventType]bool)
	for _, ty := range types {
		seen[ty] = true
	}
	for _, want := range []models.EventType{models.EventModelTrained, models.EventModelAccepted, models.EventModelDeployed} {
		if !seen[want] {
			t.Fatalf("missing %s in %v", want, types)
		}
	}
}

func TestLastReport(t *testing.T) {
	f := newFixture(t, []string{"TEST"}, models.ModelMetrics{ValLoss: 0.02, ValAccuracy: 55}, nil)
	ctx := context.Background()

	if _, err := f.runner.LastReport(ctx); !errors.Is(err, models.ErrNoRuns) {
		t.Fatalf("expected ErrNoRuns before the first run, got %v", err)
	}

	report, err := f.runner.RunAll(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	last, err := f.runner.LastReport(ctx)
	if err != nil {
		t.Fatalf("last report: %v", err)
	}
	if last.SuccessfulUpdates != report.SuccessfulUpdates || len(last.Results) != len(report.Results) {
		t.Fatalf("stored report %+v, want %+v", last, report)
	}
}
