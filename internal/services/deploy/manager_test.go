package deploy

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"FinTrain/internal/domain/models"
	"FinTrain/internal/services/train"
)

// fakeClock hands out a controllable deployment timestamp.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(t *testing.T) (*Manager, *fakeClock, string, string) {
	t.Helper()
	modelsDir := filepath.Join(t.TempDir(), "models")
	backupDir := filepath.Join(t.TempDir(), "backups")
	clock := &fakeClock{t: time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)}
	m := New(modelsDir, backupDir, WithClock(clock.now))
	return m, clock, modelsDir, backupDir
}

// trainedArtifact produces a real, loadable weights blob so Deploy's
// decode check passes.
func trainedArtifact(t *testing.T, symbol string, valLoss, valAcc float64) models.ModelArtifact {
	t.Helper()
	window := 4
	values := make([]float64, 30+window)
	for i := range values {
		values[i] = (math.Sin(float64(i)/3) + 1) / 2
	}
	seqs := make([]models.Sequence, 30)
	for i := range seqs {
		w := make([][]float64, window)
		for j := 0; j < window; j++ {
			w[j] = []float64{values[i+j]}
		}
		seqs[i] = models.Sequence{Window: w, Label: values[i+window]}
	}

	transform := models.NewNormalizationTransform([]string{"close"})
	matrix := &models.FeatureMatrix{Features: []string{"close"}, Rows: [][]float64{{0}, {1}}}
	if err := transform.Fit(matrix); err != nil {
		t.Fatalf("fit transform: %v", err)
	}

	trainer := train.New(train.Params{
		Epochs: 2, BatchSize: 8, HiddenSizes: []int{4}, DenseSize: 3,
		LearningRate: 0.01, Patience: 2, Seed: 1,
	})
	artifact, err := trainer.Train(context.Background(), symbol, seqs, transform)
	if err != nil {
		t.Fatalf("train test artifact: %v", err)
	}
	artifact.Metrics.ValLoss = valLoss
	artifact.Metrics.ValAccuracy = valAcc
	return artifact
}

func TestDeployAndLoad(t *testing.T) {
	m, _, modelsDir, _ := newTestManager(t)
	ctx := context.Background()
	artifact := trainedArtifact(t, "BTC-USD", 0.02, 55)

	version, err := m.Deploy(ctx, artifact)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if version != "20250801_120000" {
		t.Fatalf("version %q, want clock timestamp", version)
	}

	for _, f := range []string{"BTC-USD_model.json", "BTC-USD_metrics.json", "BTC-USD_scaler.gob"} {
		if _, err := os.Stat(filepath.Join(modelsDir, "BTC-USD", version, f)); err != nil {
			t.Fatalf("missing artifact file %s: %v", f, err)
		}
	}

	loaded, loadedVersion, err := m.Load(ctx, "BTC-USD")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loadedVersion != version {
		t.Fatalf("loaded version %q, want %q", loadedVersion, version)
	}
	if loaded.Metrics.ValLoss != 0.02 || loaded.Metrics.ValAccuracy != 55 {
		t.Fatalf("metrics did not round trip: %+v", loaded.Metrics)
	}
	if !loaded.Transform.Fitted || len(loaded.Transform.Features) != 1 {
		t.Fatalf("transform did not round trip: %+v", loaded.Transform)
	}
	if _, err := train.LoadModel(loaded.Weights); err != nil {
		t.Fatalf("loaded weights do not decode: %v", err)
	}
}

func TestLoadWithoutDeployment(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	if _, _, err := m.Load(context.Background(), "ETH-USD"); !errors.Is(err, models.ErrNoArtifact) {
		t.Fatalf("expected ErrNoArtifact, got %v", err)
	}
	if _, err := m.LoadMetrics(context.Background(), "ETH-USD"); !errors.Is(err, models.ErrNoArtifact) {
		t.Fatalf("expected ErrNoArtifact, got %v", err)
	}
}

func TestDeployRejectsBadArtifact(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	good := trainedArtifact(t, "BTC-USD", 0.02, 55)
	version, err := m.Deploy(ctx, good)
	if err != nil {
		t.Fatalf("deploy incumbent: %v", err)
	}

	bad := good
	bad.Weights = []byte("{not json")
	_, err = m.Deploy(ctx, bad)
	var de *models.DeploymentError
	if !errors.As(err, &de) || de.Reason != models.DeployBadArtifact {
		t.Fatalf("expected bad_artifact, got %v", err)
	}

	// The incumbent survives a failed promotion untouched.
	_, current, err := m.Load(ctx, "BTC-USD")
	if err != nil || current != version {
		t.Fatalf("incumbent damaged: version %q err %v", current, err)
	}
}

func TestDeployPartialWriteRollsBack(t *testing.T) {
	m, _, modelsDir, _ := newTestManager(t)
	ctx := context.Background()

	// A directory squatting on the pointer path makes the final pointer
	// rename fail after the version directory already landed.
	if err := os.MkdirAll(filepath.Join(modelsDir, "BTC-USD", pointerFile), 0o755); err != nil {
		t.Fatalf("plant pointer blocker: %v", err)
	}

	_, err := m.Deploy(ctx, trainedArtifact(t, "BTC-USD", 0.02, 55))
	var de *models.DeploymentError
	if !errors.As(err, &de) || de.Reason != models.DeployPartialWrite {
		t.Fatalf("expected partial_write, got %v", err)
	}

	// The failed promotion cleans up after itself: no version directory
	// and no staging leftovers.
	entries, err := os.ReadDir(filepath.Join(modelsDir, "BTC-USD"))
	if err != nil {
		t.Fatalf("read symbol dir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != pointerFile {
			t.Fatalf("leftover entry %q after failed deploy", e.Name())
		}
	}
}

func TestBackupWithoutDeploymentIsNoOp(t *testing.T) {
	m, _, _, backupDir := newTestManager(t)
	record, err := m.Backup(context.Background(), []string{"BTC-USD", "ETH-USD"})
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if record.Name != "" {
		t.Fatalf("expected empty record, got %+v", record)
	}
	if _, err := os.Stat(backupDir); !os.IsNotExist(err) {
		t.Fatalf("backup dir should not exist, stat err %v", err)
	}
}

func TestBackupsAreWriteOnce(t *testing.T) {
	m, clock, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Deploy(ctx, trainedArtifact(t, "BTC-USD", 0.02, 55)); err != nil {
		t.Fatalf("deploy v1: %v", err)
	}

	clock.advance(time.Hour)
	first, err := m.Backup(ctx, []string{"BTC-USD"})
	if err != nil {
		t.Fatalf("first backup: %v", err)
	}
	if first.Name == "" || first.Symbol != "BTC-USD" {
		t.Fatalf("unexpected first record %+v", first)
	}
	firstModel, err := os.ReadFile(filepath.Join(first.Path, "BTC-USD_model.json"))
	if err != nil {
		t.Fatalf("read first backup: %v", err)
	}

	clock.advance(time.Hour)
	if _, err := m.Deploy(ctx, trainedArtifact(t, "BTC-USD", 0.015, 58)); err != nil {
		t.Fatalf("deploy v2: %v", err)
	}
	clock.advance(time.Hour)
	second, err := m.Backup(ctx, []string{"BTC-USD"})
	if err != nil {
		t.Fatalf("second backup: %v", err)
	}
	if second.Name == first.Name {
		t.Fatalf("backups share directory %q", second.Name)
	}

	// The earlier backup's files are untouched by later activity.
	again, err := os.ReadFile(filepath.Join(first.Path, "BTC-USD_model.json"))
	if err != nil {
		t.Fatalf("reread first backup: %v", err)
	}
	if string(again) != string(firstModel) {
		t.Fatalf("first backup mutated")
	}
}

func TestBackupsSameSecondGetDistinctDirs(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	// The clock never moves: both backups would format to the same name.
	if _, err := m.Deploy(ctx, trainedArtifact(t, "BTC-USD", 0.02, 55)); err != nil {
		t.Fatalf("deploy v1: %v", err)
	}
	first, err := m.Backup(ctx, []string{"BTC-USD"})
	if err != nil {
		t.Fatalf("first backup: %v", err)
	}
	firstMetrics, err := os.ReadFile(filepath.Join(first.Path, "BTC-USD_metrics.json"))
	if err != nil {
		t.Fatalf("read first backup: %v", err)
	}

	if _, err := m.Deploy(ctx, trainedArtifact(t, "BTC-USD", 0.015, 58)); err != nil {
		t.Fatalf("deploy v2: %v", err)
	}
	second, err := m.Backup(ctx, []string{"BTC-USD"})
	if err != nil {
		t.Fatalf("second backup: %v", err)
	}
	if second.Name == first.Name {
		t.Fatalf("same-second backups share directory %q", second.Name)
	}

	again, err := os.ReadFile(filepath.Join(first.Path, "BTC-USD_metrics.json"))
	if err != nil {
		t.Fatalf("reread first backup: %v", err)
	}
	if string(again) != string(firstMetrics) {
		t.Fatalf("first backup mutated by same-second sibling")
	}
}

func TestRestoreFromBackup(t *testing.T) {
	m, clock, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Deploy(ctx, trainedArtifact(t, "BTC-USD", 0.01, 60)); err != nil {
		t.Fatalf("deploy v1: %v", err)
	}
	clock.advance(time.Hour)
	backup, err := m.Backup(ctx, []string{"BTC-USD"})
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	clock.advance(time.Hour)
	if _, err := m.Deploy(ctx, trainedArtifact(t, "BTC-USD", 0.03, 48)); err != nil {
		t.Fatalf("deploy v2: %v", err)
	}

	clock.advance(time.Hour)
	if err := m.Restore(ctx, "BTC-USD", backup.Name); err != nil {
		t.Fatalf("restore: %v", err)
	}
	metrics, err := m.LoadMetrics(ctx, "BTC-USD")
	if err != nil {
		t.Fatalf("load metrics: %v", err)
	}
	if metrics.ValLoss != 0.01 || metrics.ValAccuracy != 60 {
		t.Fatalf("restored metrics %+v, want the v1 record", metrics)
	}
}

func TestRestoreUnknownBackup(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	if err := m.Restore(context.Background(), "BTC-USD", "20990101_000000"); err == nil {
		t.Fatalf("expected error for missing backup")
	}
}

func TestPruneRetention(t *testing.T) {
	m, _, _, backupDir := newTestManager(t)
	ctx := context.Background()

	mkBackup := func(name string) {
		t.Helper()
		dir := filepath.Join(backupDir, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mk backup dir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "BTC-USD_model.json"), []byte("{}"), 0o644); err != nil {
			t.Fatalf("write backup file: %v", err)
		}
	}

	// Clock sits at 2025-08-01; retention 30 days reaches back to 2025-07-02.
	mkBackup("20250510_090000") // far outside the window
	mkBackup("20250730_090000") // inside the window
	mkBackup("manual-copy")     // unparseable, must survive

	removed, err := m.Prune(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed %d, want 1", removed)
	}
	if _, err := os.Stat(filepath.Join(backupDir, "20250510_090000")); !os.IsNotExist(err) {
		t.Fatalf("expired backup still present")
	}
	for _, keep := range []string{"20250730_090000", "manual-copy"} {
		if _, err := os.Stat(filepath.Join(backupDir, keep)); err != nil {
			t.Fatalf("backup %s should survive: %v", keep, err)
		}
	}
}

func TestPruneMissingBackupDir(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	removed, err := m.Prune(context.Background(), 24*time.Hour)
	if err != nil || removed != 0 {
		t.Fatalf("got %d, %v; want 0, nil", removed, err)
	}
}
