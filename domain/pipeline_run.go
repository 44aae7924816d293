package domain

import "time"

// PipelineRun is the per-task execution record driving one task
// through the four fixed pipeline steps.
type PipelineRun struct {
	ID             string
	TaskID         string
	TenantID       string
	Status         RunStatus
	CurrentStep    int
	PauseReasons   PauseReasonSet
	PauseExpiresAt *time.Time
	StartedAt      time.Time
	UpdatedAt      time.Time
}

// NewPipelineRun creates a fresh running run at step 1 with no pause
// reasons, per the run-acquisition step of the run-step orchestrator.
func NewPipelineRun(taskID, tenantID string, now time.Time) *PipelineRun {
	return &PipelineRun{
		ID:           NewID(),
		TaskID:       taskID,
		TenantID:     tenantID,
		Status:       RunStatusRunning,
		CurrentStep:  1,
		PauseReasons: NewPauseReasonSet(),
		StartedAt:    now,
		UpdatedAt:    now,
	}
}

// IsTerminal reports whether the run is in a terminal status and
// accepts no further writes except idempotent audit.
func (r *PipelineRun) IsTerminal() bool {
	return r.Status.Terminal()
}

// Pause transitions the run to paused for the given reason, setting
// an expiry. Used by the billing-insufficient-credits branch of the
// run-step orchestrator.
func (r *PipelineRun) Pause(reason PauseReason, expiresAt time.Time, now time.Time) {
	r.Status = RunStatusPaused
	if r.PauseReasons == nil {
		r.PauseReasons = NewPauseReasonSet()
	}
	r.PauseReasons.Add(reason)
	r.PauseExpiresAt = &expiresAt
	r.UpdatedAt = now
}

// Advance moves current_step forward by one, capped at 4.
func (r *PipelineRun) Advance(now time.Time) {
	if r.CurrentStep < 4 {
		r.CurrentStep++
	}
	r.UpdatedAt = now
}

// Cancel transitions the run to cancelled.
func (r *PipelineRun) Cancel(now time.Time) {
	r.Status = RunStatusCancelled
	r.UpdatedAt = now
}

// Fail transitions the run to failed.
func (r *PipelineRun) Fail(now time.Time) {
	r.Status = RunStatusFailed
	r.UpdatedAt = now
}
