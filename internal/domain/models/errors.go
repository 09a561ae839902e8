package models

import (
	"errors"
	"fmt"
)

// Per-instrument failure taxonomy. Each class is unrecoverable for the
// current instrument only; the orchestrator downgrades all of them to a
// false outcome and keeps going. Configuration problems are the separate
// config.ConfigError, fatal at startup.

type DataErrorReason string

const (
	DataEmpty            DataErrorReason = "empty"
	DataMissingColumns   DataErrorReason = "missing_columns"
	DataInsufficientRows DataErrorReason = "insufficient_rows"
)

// DataError signals unusable input for one instrument.
type DataError struct {
	Symbol string
	Reason DataErrorReason
	Detail string
}

func (e *DataError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("data error for %s (%s): %s", e.Symbol, e.Reason, e.Detail)
	}
	return fmt.Sprintf("data error for %s (%s)", e.Symbol, e.Reason)
}

type TrainingErrorReason string

const (
	TrainingEmptySequences TrainingErrorReason = "empty_sequences"
	TrainingDivergence     TrainingErrorReason = "divergence"
	TrainingNumericalError TrainingErrorReason = "numerical_error"
)

// TrainingError signals a numerical or optimization failure while fitting.
type TrainingError struct {
	Symbol string
	Reason TrainingErrorReason
	Detail string
}

func (e *TrainingError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("training error for %s (%s): %s", e.Symbol, e.Reason, e.Detail)
	}
	return fmt.Sprintf("training error for %s (%s)", e.Symbol, e.Reason)
}

type DeploymentErrorReason string

const (
	DeployPartialWrite DeploymentErrorReason = "partial_write"
	DeployBackupFailed DeploymentErrorReason = "backup_failed"
	DeployBadArtifact  DeploymentErrorReason = "bad_artifact"
)

// DeploymentError signals a filesystem failure during promotion. With the
// staged swap the incumbent stays fully intact whenever one is raised.
type DeploymentError struct {
	Symbol string
	Reason DeploymentErrorReason
	Err    error
}

func (e *DeploymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("deployment error for %s (%s): %v", e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("deployment error for %s (%s)", e.Symbol, e.Reason)
}

func (e *DeploymentError) Unwrap() error { return e.Err }

// ErrNoArtifact reports that an instrument has no deployed production
// artifact. Callers treat it as "no incumbent", not as a failure.
var ErrNoArtifact = errors.New("no deployed artifact")

// ErrNoRuns reports that no pipeline run has completed yet.
var ErrNoRuns = errors.New("no completed runs")

// FailureReason flattens a typed pipeline error into a short reason string
// for reports, events, and metric labels.
func FailureReason(err error) string {
	var de *DataError
	if errors.As(err, &de) {
		return "data_" + string(de.Reason)
	}
	var te *TrainingError
	if errors.As(err, &te) {
		return "training_" + string(te.Reason)
	}
	var pe *DeploymentError
	if errors.As(err, &pe) {
		return "deploy_" + string(pe.Reason)
	}
	return "internal"
}
