package domain

import (
	"strconv"
	"time"
)

// PipelineStepRun is one attempted execution of one pipeline stage.
type PipelineStepRun struct {
	ID            string
	PipelineRunID string
	StepNumber    int
	StepType      StepType
	Status        StepStatus
	StartedAt     *time.Time
	CompletedAt   *time.Time
	RetryCount    int
	MaxRetries    int
	InputSnapshot map[string]any
}

// DefaultMaxRetries is the per-step retry cap unless overridden by
// PipelineConfig.
const DefaultMaxRetries = 3

// NewPipelineStepRun creates a fresh running step attempt, per step 4
// of the run-step orchestrator. The input snapshot is attached
// separately once computed (step 5), since it must be written exactly
// once and never mutated thereafter.
func NewPipelineStepRun(pipelineRunID string, stepNumber int, stepType StepType, maxRetries int, now time.Time) *PipelineStepRun {
	started := now
	return &PipelineStepRun{
		ID:            NewID(),
		PipelineRunID: pipelineRunID,
		StepNumber:    stepNumber,
		StepType:      stepType,
		Status:        StepStatusRunning,
		StartedAt:     &started,
		RetryCount:    0,
		MaxRetries:    maxRetries,
	}
}

// MarkCompleted transitions the step to completed.
func (s *PipelineStepRun) MarkCompleted(now time.Time) {
	s.Status = StepStatusCompleted
	s.CompletedAt = &now
}

// MarkFailed transitions the step to failed.
func (s *PipelineStepRun) MarkFailed(now time.Time) {
	s.Status = StepStatusFailed
	s.CompletedAt = &now
}

// MarkCancelled transitions the step to cancelled.
func (s *PipelineStepRun) MarkCancelled(now time.Time) {
	s.Status = StepStatusCancelled
	s.CompletedAt = &now
}

// ResetForRetry returns the step to pending and increments its retry
// count, used when a retry is armed after agent failure.
func (s *PipelineStepRun) ResetForRetry() {
	s.RetryCount++
	s.Status = StepStatusPending
	s.CompletedAt = nil
}

// CanRetry reports whether another retry attempt is permitted.
func (s *PipelineStepRun) CanRetry() bool {
	return s.RetryCount < s.MaxRetries
}

// IdempotencyKey returns the billing idempotency key for this step's
// current retry attempt: the bare "run:step" key on the first attempt,
// and a distinct "run:step:retry_N" key for each subsequent one.
func (s *PipelineStepRun) IdempotencyKey() string {
	if s.RetryCount == 0 {
		return s.PipelineRunID + ":" + s.ID
	}
	return s.PipelineRunID + ":" + s.ID + ":retry_" + strconv.Itoa(s.RetryCount)
}
