package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"symbols": ["TEST"],
		"sequence_length": 30,
		"minimum_accuracy": 45,
		"some_future_key": {"ignored": true}
	}`)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.Symbols) != 1 || c.Symbols[0] != "TEST" {
		t.Fatalf("symbols %v", c.Symbols)
	}
	if c.SequenceLength != 30 {
		t.Fatalf("sequence_length %d, file value lost", c.SequenceLength)
	}
	if c.MinimumAccuracy != 45 {
		t.Fatalf("minimum_accuracy %v, file value lost", c.MinimumAccuracy)
	}
	// Everything the file left out falls back to documented defaults.
	if c.ModelsDir != "models" || c.DataDir != "data" || c.BackupDir != "backups" {
		t.Fatalf("dir defaults %q %q %q", c.ModelsDir, c.DataDir, c.BackupDir)
	}
	if c.ValidationThreshold != 0.15 {
		t.Fatalf("validation_threshold default %v", c.ValidationThreshold)
	}
	if c.RetrainFrequencyHours != 24 || c.DataFreshnessHours != 6 || c.BackupRetentionDays != 30 {
		t.Fatalf("schedule defaults %d %d %d",
			c.RetrainFrequencyHours, c.DataFreshnessHours, c.BackupRetentionDays)
	}
	if len(c.Features) != 4 || c.Features[0] != "close" {
		t.Fatalf("features default %v", c.Features)
	}
	if c.Training.Epochs != 50 || c.Training.Mode != "regression" {
		t.Fatalf("training defaults %+v", c.Training)
	}
	if c.LookbackDays != 365 {
		t.Fatalf("lookback_days default %d", c.LookbackDays)
	}
}

func TestLoadYAMLByExtension(t *testing.T) {
	path := writeConfig(t, "config.yaml", "symbols:\n  - BTC-USD\nsequence_length: 10\n")
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if c.SequenceLength != 10 || c.Symbols[0] != "BTC-USD" {
		t.Fatalf("yaml values lost: %d %v", c.SequenceLength, c.Symbols)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := writeConfig(t, "config.json", `{"sequence_length": 1}`)
	_, err := Load(path)
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{"symbols": [`)
	_, err := Load(path)
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestValidateCrossFieldRules(t *testing.T) {
	path := writeConfig(t, "config.json", `{"market_data": {"source": "http"}}`)
	_, err := Load(path)
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("http source without base_url must fail, got %v", err)
	}
}

func TestDerivedDurations(t *testing.T) {
	path := writeConfig(t, "config.json", `{"retrain_frequency_hours": 12, "backup_retention_days": 2}`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.RetrainInterval().Hours() != 12 {
		t.Fatalf("retrain interval %v", c.RetrainInterval())
	}
	if c.BackupRetention().Hours() != 48 {
		t.Fatalf("backup retention %v", c.BackupRetention())
	}
}
