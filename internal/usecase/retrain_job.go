package usecase

import (
	"context"
	"errors"

	"FinTrain/pkg/queue"
)

// RetrainJob executes queued retrain commands. The queue runs it with a
// single worker so training never competes with itself for CPU.
type RetrainJob struct {
	runner *PipelineRunner
}

func NewRetrainJob(runner *PipelineRunner) *RetrainJob {
	return &RetrainJob{runner: runner}
}

func (j *RetrainJob) Name() string { return "retrain-worker" }

func (j *RetrainJob) Type() string { return RetrainMessageType }

// Handle runs one command. Instrument-level failures are terminal results,
// not handler errors; only infrastructure problems bubble up for retry.
func (j *RetrainJob) Handle(ctx context.Context, payload interface{}) error {
	cmd, err := queue.ParsePayload[RetrainCommand](payload)
	if err != nil {
		return err
	}

	if cmd.All || cmd.Symbol == "" {
		_, err := j.runner.RunAll(ctx)
		if errors.Is(err, ErrRunInProgress) {
			// another full run is active; this command is redundant
			return nil
		}
		return err
	}

	outcome := j.runner.RunOne(ctx, cmd.Symbol)
	if outcome.Err != nil && errors.Is(outcome.Err, context.Canceled) {
		return outcome.Err
	}
	return nil
}

var _ queue.Job = (*RetrainJob)(nil)
