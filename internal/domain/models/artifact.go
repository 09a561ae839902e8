package models

import "time"

// ModelMetrics records how a trained model performed. Immutable once written;
// accuracies are percentages (0-100) of directionally correct steps.
type ModelMetrics struct {
	Symbol        string    `json:"symbol"`
	TrainLoss     float64   `json:"train_loss"`
	ValLoss       float64   `json:"val_loss"`
	TrainAccuracy float64   `json:"train_accuracy"`
	ValAccuracy   float64   `json:"val_accuracy"`
	TrainingDate  time.Time `json:"training_date"`
	DataPoints    int       `json:"data_points"`
	TrainSamples  int       `json:"train_samples"`
	ValSamples    int       `json:"val_samples"`
	Features      []string  `json:"features"`
}

// ModelArtifact is the unit of deployment: opaque serialized weights, the
// normalization transform they were trained behind, and the metrics record.
type ModelArtifact struct {
	Symbol    string
	Weights   []byte
	Transform *NormalizationTransform
	Metrics   ModelMetrics
}

// BackupRecord points at a timestamped copy of a previously deployed
// artifact. Created before every deployment, never mutated, pruned after
// the retention window.
type BackupRecord struct {
	Symbol    string
	Name      string // directory name under the backup root, sortable timestamp
	Path      string
	CreatedAt time.Time
}

// Verdict is the outcome of comparing a candidate against the incumbent.
type Verdict struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason"`
}

// Verdict reasons. Recorded in run results and rejection events.
const (
	VerdictFirstModel      = "first_model"
	VerdictImproved        = "improved"
	VerdictWithinTolerance = "within_tolerance"
	VerdictLowAccuracy     = "accuracy_below_minimum"
	VerdictLossRegressed   = "validation_loss_regressed"
)
