package models

import "time"

// RunReport is the single structured result of one full pipeline run.
// Field names are part of the external report contract.
type RunReport struct {
	Timestamp         time.Time       `json:"timestamp"`
	DurationSeconds   float64         `json:"duration_seconds"`
	TotalSymbols      int             `json:"total_symbols"`
	SuccessfulUpdates int             `json:"successful_updates"`
	Results           map[string]bool `json:"results"`
}

// Stage is one state of the per-instrument pipeline state machine.
type Stage string

const (
	StageIdle          Stage = "idle"
	StageCollecting    Stage = "collecting"
	StagePreprocessing Stage = "preprocessing"
	StageTraining      Stage = "training"
	StageComparing     Stage = "comparing"
	StageDeploying     Stage = "deploying"
	StageDeployed      Stage = "deployed"
	StageRejected      Stage = "rejected"
	StageFailed        Stage = "failed"
)

// Terminal reports whether the stage ends an instrument's run.
func (s Stage) Terminal() bool {
	switch s {
	case StageDeployed, StageRejected, StageFailed:
		return true
	}
	return false
}

// InstrumentStatus is the externally visible state of one instrument.
type InstrumentStatus struct {
	Symbol          string    `json:"symbol"`
	Stage           Stage     `json:"stage"`
	LastOutcome     *bool     `json:"last_outcome,omitempty"`
	LastReason      string    `json:"last_reason,omitempty"`
	DeployedVersion string    `json:"deployed_version,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}
