// Package deploy owns the on-disk model store. Every instrument keeps
// immutable version directories plus a `current` pointer file; promotion
// stages the full artifact in a hidden directory, renames it into place,
// then swaps the pointer. The incumbent stays intact and loadable until
// the final rename, so readers never observe a half-written artifact.
//
// Layout:
//
//	models/
//	  BTC-USD/
//	    current                       <- contains "20250812_033000"
//	    20250812_033000/
//	      BTC-USD_model.json
//	      BTC-USD_metrics.json
//	      BTC-USD_scaler.gob
//	backups/
//	  20250811_031500/
//	    BTC-USD_model.json ...
package deploy

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"FinTrain/internal/domain/models"
	"FinTrain/internal/services/train"
	applogger "FinTrain/pkg/logger"
)

const (
	pointerFile   = "current"
	stagingPrefix = ".stage-"
	versionFormat = "20060102_150405"
	backupFormat  = "20060102_150405"
	dateLayout    = "20060102"
)

// Manager implements the deployment store over a local filesystem.
type Manager struct {
	modelsDir    string
	backupDir    string
	keepVersions int
	l            *applogger.Logger
	now          func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithLogger injects a structured logger.
func WithLogger(l *applogger.Logger) Option {
	return func(m *Manager) { m.l = l }
}

// WithKeepVersions sets how many version directories survive per
// instrument after a successful deployment.
func WithKeepVersions(n int) Option {
	return func(m *Manager) {
		if n >= 1 {
			m.keepVersions = n
		}
	}
}

// WithClock overrides the version timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates the manager rooted at the given directories.
func New(modelsDir, backupDir string, opts ...Option) *Manager {
	m := &Manager{
		modelsDir:    modelsDir,
		backupDir:    backupDir,
		keepVersions: 3,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) symbolDir(symbol string) string {
	return filepath.Join(m.modelsDir, symbol)
}

func modelFile(symbol string) string   { return symbol + "_model.json" }
func metricsFile(symbol string) string { return symbol + "_metrics.json" }
func scalerFile(symbol string) string  { return symbol + "_scaler.gob" }

// Deploy promotes a candidate artifact to production. It verifies the
// blob decodes, stages all files, renames the version directory into
// place, and finally swaps the pointer. A failure at any step leaves the
// incumbent untouched.
func (m *Manager) Deploy(ctx context.Context, artifact models.ModelArtifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	start := time.Now()
	symbol := artifact.Symbol

	if symbol == "" || len(artifact.Weights) == 0 {
		return "", &models.DeploymentError{
			Symbol: symbol,
			Reason: models.DeployBadArtifact,
			Err:    fmt.Errorf("artifact missing symbol or weights"),
		}
	}
	if artifact.Transform == nil || !artifact.Transform.Fitted {
		return "", &models.DeploymentError{
			Symbol: symbol,
			Reason: models.DeployBadArtifact,
			Err:    fmt.Errorf("artifact has no fitted normalization transform"),
		}
	}
	if _, err := train.LoadModel(artifact.Weights); err != nil {
		return "", &models.DeploymentError{
			Symbol: symbol,
			Reason: models.DeployBadArtifact,
			Err:    err,
		}
	}

	dir := m.symbolDir(symbol)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &models.DeploymentError{Symbol: symbol, Reason: models.DeployPartialWrite, Err: err}
	}

	version, err := m.nextVersion(dir)
	if err != nil {
		return "", &models.DeploymentError{Symbol: symbol, Reason: models.DeployPartialWrite, Err: err}
	}

	staging := filepath.Join(dir, stagingPrefix+version)
	if err := m.writeArtifact(staging, artifact); err != nil {
		os.RemoveAll(staging)
		return "", &models.DeploymentError{Symbol: symbol, Reason: models.DeployPartialWrite, Err: err}
	}
	if err := os.Rename(staging, filepath.Join(dir, version)); err != nil {
		os.RemoveAll(staging)
		return "", &models.DeploymentError{Symbol: symbol, Reason: models.DeployPartialWrite, Err: err}
	}
	if err := m.swapPointer(dir, version); err != nil {
		os.RemoveAll(filepath.Join(dir, version))
		return "", &models.DeploymentError{Symbol: symbol, Reason: models.DeployPartialWrite, Err: err}
	}

	m.pruneVersions(dir, version)

	if m.l != nil {
		m.l.Info("model deployed",
			applogger.String("symbol", symbol),
			applogger.String("version", version),
			applogger.Float64("val_loss", artifact.Metrics.ValLoss),
			applogger.Float64("val_accuracy", artifact.Metrics.ValAccuracy),
			applogger.Duration("duration", time.Since(start)),
		)
	}
	return version, nil
}

// nextVersion picks a timestamp version name, bumping a suffix on the
// rare same-second collision.
func (m *Manager) nextVersion(dir string) (string, error) {
	return nextName(dir, m.now().UTC().Format(versionFormat))
}

// nextName returns base, or base with a numeric suffix when an entry of
// that name already exists under dir.
func nextName(dir, base string) (string, error) {
	name := base
	for i := 2; ; i++ {
		if _, err := os.Stat(filepath.Join(dir, name)); os.IsNotExist(err) {
			return name, nil
		} else if err != nil && !os.IsNotExist(err) {
			return "", err
		}
		name = fmt.Sprintf("%s_%d", base, i)
	}
}

func (m *Manager) writeArtifact(dir string, artifact models.ModelArtifact) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	symbol := artifact.Symbol

	if err := os.WriteFile(filepath.Join(dir, modelFile(symbol)), artifact.Weights, 0o644); err != nil {
		return fmt.Errorf("write weights: %w", err)
	}

	metricsJSON, err := json.MarshalIndent(artifact.Metrics, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metricsFile(symbol)), metricsJSON, 0o644); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(artifact.Transform); err != nil {
		return fmt.Errorf("encode transform: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, scalerFile(symbol)), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write transform: %w", err)
	}
	return nil
}

// swapPointer atomically repoints `current` at a version.
func (m *Manager) swapPointer(dir, version string) error {
	tmp := filepath.Join(dir, pointerFile+".tmp")
	if err := os.WriteFile(tmp, []byte(version+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pointer: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, pointerFile)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("swap pointer: %w", err)
	}
	return nil
}

// currentVersion resolves the pointer. ErrNoArtifact when the instrument
// was never deployed.
func (m *Manager) currentVersion(symbol string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(m.symbolDir(symbol), pointerFile))
	if os.IsNotExist(err) {
		return "", models.ErrNoArtifact
	}
	if err != nil {
		return "", err
	}
	version := strings.TrimSpace(string(raw))
	if version == "" {
		return "", models.ErrNoArtifact
	}
	return version, nil
}

// Load reads the full production artifact and its version.
func (m *Manager) Load(ctx context.Context, symbol string) (models.ModelArtifact, string, error) {
	if err := ctx.Err(); err != nil {
		return models.ModelArtifact{}, "", err
	}
	version, err := m.currentVersion(symbol)
	if err != nil {
		return models.ModelArtifact{}, "", err
	}
	dir := filepath.Join(m.symbolDir(symbol), version)

	weights, err := os.ReadFile(filepath.Join(dir, modelFile(symbol)))
	if os.IsNotExist(err) {
		return models.ModelArtifact{}, "", models.ErrNoArtifact
	}
	if err != nil {
		return models.ModelArtifact{}, "", fmt.Errorf("read weights: %w", err)
	}

	metrics, err := m.readMetrics(dir, symbol)
	if err != nil {
		return models.ModelArtifact{}, "", err
	}

	scalerRaw, err := os.ReadFile(filepath.Join(dir, scalerFile(symbol)))
	if err != nil {
		return models.ModelArtifact{}, "", fmt.Errorf("read transform: %w", err)
	}
	var transform models.NormalizationTransform
	if err := gob.NewDecoder(bytes.NewReader(scalerRaw)).Decode(&transform); err != nil {
		return models.ModelArtifact{}, "", fmt.Errorf("decode transform: %w", err)
	}

	return models.ModelArtifact{
		Symbol:    symbol,
		Weights:   weights,
		Transform: &transform,
		Metrics:   metrics,
	}, version, nil
}

// LoadMetrics reads only the production metrics record.
func (m *Manager) LoadMetrics(ctx context.Context, symbol string) (models.ModelMetrics, error) {
	if err := ctx.Err(); err != nil {
		return models.ModelMetrics{}, err
	}
	version, err := m.currentVersion(symbol)
	if err != nil {
		return models.ModelMetrics{}, err
	}
	return m.readMetrics(filepath.Join(m.symbolDir(symbol), version), symbol)
}

func (m *Manager) readMetrics(dir, symbol string) (models.ModelMetrics, error) {
	raw, err := os.ReadFile(filepath.Join(dir, metricsFile(symbol)))
	if os.IsNotExist(err) {
		return models.ModelMetrics{}, models.ErrNoArtifact
	}
	if err != nil {
		return models.ModelMetrics{}, fmt.Errorf("read metrics: %w", err)
	}
	var metrics models.ModelMetrics
	if err := json.Unmarshal(raw, &metrics); err != nil {
		return models.ModelMetrics{}, fmt.Errorf("decode metrics: %w", err)
	}
	return metrics, nil
}

// Backup copies the current production files of the given instruments into
// one timestamped backup directory. Instruments without a deployment are
// skipped; when nothing is deployed at all the call is a no-op success and
// no directory is created.
func (m *Manager) Backup(ctx context.Context, symbols []string) (models.BackupRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.BackupRecord{}, err
	}
	createdAt := m.now().UTC()
	name, err := nextName(m.backupDir, createdAt.Format(backupFormat))
	if err != nil {
		return models.BackupRecord{}, &models.DeploymentError{Reason: models.DeployBackupFailed, Err: err}
	}
	dst := filepath.Join(m.backupDir, name)

	copied := 0
	var single string
	for _, symbol := range symbols {
		version, err := m.currentVersion(symbol)
		if err == models.ErrNoArtifact {
			continue
		}
		if err != nil {
			return models.BackupRecord{}, &models.DeploymentError{Symbol: symbol, Reason: models.DeployBackupFailed, Err: err}
		}
		src := filepath.Join(m.symbolDir(symbol), version)
		for _, f := range []string{modelFile(symbol), metricsFile(symbol), scalerFile(symbol)} {
			if err := copyFile(filepath.Join(src, f), filepath.Join(dst, f)); err != nil {
				os.RemoveAll(dst)
				return models.BackupRecord{}, &models.DeploymentError{Symbol: symbol, Reason: models.DeployBackupFailed, Err: err}
			}
		}
		copied++
		single = symbol
	}

	if copied == 0 {
		return models.BackupRecord{}, nil
	}
	record := models.BackupRecord{
		Name:      name,
		Path:      dst,
		CreatedAt: createdAt,
	}
	if copied == 1 {
		record.Symbol = single
	}
	if m.l != nil {
		m.l.Info("backup created",
			applogger.String("backup", name),
			applogger.Int("instruments", copied),
		)
	}
	return record, nil
}

// Restore promotes an instrument's files from a named backup through the
// same staged-write path a deployment uses.
func (m *Manager) Restore(ctx context.Context, symbol, backup string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src := filepath.Join(m.backupDir, backup)
	if _, err := os.Stat(filepath.Join(src, modelFile(symbol))); err != nil {
		return fmt.Errorf("backup %s has no artifact for %s: %w", backup, symbol, err)
	}

	dir := m.symbolDir(symbol)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &models.DeploymentError{Symbol: symbol, Reason: models.DeployPartialWrite, Err: err}
	}
	version, err := m.nextVersion(dir)
	if err != nil {
		return &models.DeploymentError{Symbol: symbol, Reason: models.DeployPartialWrite, Err: err}
	}

	staging := filepath.Join(dir, stagingPrefix+version)
	for _, f := range []string{modelFile(symbol), metricsFile(symbol), scalerFile(symbol)} {
		if err := copyFile(filepath.Join(src, f), filepath.Join(staging, f)); err != nil {
			os.RemoveAll(staging)
			return &models.DeploymentError{Symbol: symbol, Reason: models.DeployPartialWrite, Err: err}
		}
	}
	if err := os.Rename(staging, filepath.Join(dir, version)); err != nil {
		os.RemoveAll(staging)
		return &models.DeploymentError{Symbol: symbol, Reason: models.DeployPartialWrite, Err: err}
	}
	if err := m.swapPointer(dir, version); err != nil {
		os.RemoveAll(filepath.Join(dir, version))
		return &models.DeploymentError{Symbol: symbol, Reason: models.DeployPartialWrite, Err: err}
	}

	if m.l != nil {
		m.l.Info("model restored",
			applogger.String("symbol", symbol),
			applogger.String("backup", backup),
			applogger.String("version", version),
		)
	}
	return nil
}

// Prune removes backup directories older than the retention window. The
// age comes from the leading YYYYMMDD of the directory name; entries that
// do not parse are left alone. Returns how many were removed.
func (m *Manager) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(m.backupDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read backup dir: %w", err)
	}

	cutoff := m.now().UTC().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if len(name) < len(dateLayout) {
			continue
		}
		day, err := time.ParseInLocation(dateLayout, name[:len(dateLayout)], time.UTC)
		if err != nil {
			continue
		}
		if !day.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.backupDir, name)); err != nil {
			if m.l != nil {
				m.l.Warn("backup prune failed", applogger.String("backup", name), applogger.Error(err))
			}
			continue
		}
		removed++
	}
	if removed > 0 && m.l != nil {
		m.l.Info("old backups pruned", applogger.Int("removed", removed))
	}
	return removed, nil
}

// pruneVersions drops version directories beyond the newest keepVersions.
// Best effort; the freshly deployed version is never removed.
func (m *Manager) pruneVersions(dir, current string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var versions []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || strings.HasPrefix(name, stagingPrefix) {
			continue
		}
		versions = append(versions, name)
	}
	if len(versions) <= m.keepVersions {
		return
	}
	sort.Strings(versions)
	for _, v := range versions[:len(versions)-m.keepVersions] {
		if v == current {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, v)); err != nil && m.l != nil {
			m.l.Warn("version prune failed", applogger.String("version", v), applogger.Error(err))
		}
	}
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
