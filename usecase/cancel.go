package usecase

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/pipelinecore/pipelinecore/core"
	"github.com/pipelinecore/pipelinecore/domain"
	"github.com/pipelinecore/pipelinecore/ports"
)

// CancelCommand is the input to CancelUseCase.Execute.
type CancelCommand struct {
	PipelineRunID string
	TenantID      string
	UserID        string
	Reason        string
}

// CancelResult is the success-shaped output of CancelUseCase.Execute.
type CancelResult struct {
	PipelineRunID  string
	PreviousStatus domain.RunStatus
	NewStatus      domain.RunStatus
	StepsCompleted int
	StepsCancelled int
	Message        string
}

// CancelUseCase cancels a non-terminal pipeline run, transitioning any
// running step to cancelled while preserving completed steps and
// artifacts.
type CancelUseCase struct {
	Runs      ports.PipelineRunRepository
	Steps     ports.PipelineStepRunRepository
	Audit     ports.AuditSink // optional
	Clock     core.Clock
	Logger    core.Logger
	Telemetry core.Telemetry // optional
}

// Execute cancels the run identified by cmd.PipelineRunID.
func (uc *CancelUseCase) Execute(ctx context.Context, cmd CancelCommand) (result Result[CancelResult]) {
	if uc.Telemetry != nil {
		var span core.Span
		ctx, span = uc.Telemetry.StartSpan(ctx, "pipelinecore.cancel")
		span.SetAttribute("pipeline_run_id", cmd.PipelineRunID)
		span.SetAttribute("tenant_id", cmd.TenantID)
		defer func() {
			if result.Error() != nil {
				span.RecordError(result.Error())
			}
			span.End()
		}()
	}

	defer func() {
		if r := recover(); r != nil {
			if uc.Logger != nil {
				uc.Logger.Error("panic recovered in CancelUseCase.Execute", map[string]interface{}{
					"panic": fmt.Sprintf("%v", r),
					"stack": string(debug.Stack()),
				})
			}
			result = Err[CancelResult](NewError(ErrCodePipelineExecutionError, "unexpected internal error").WithReason(fmt.Sprintf("%v", r)))
		}
	}()

	run, err := uc.Runs.GetByID(ctx, cmd.PipelineRunID)
	if err != nil || run == nil {
		return Err[CancelResult](NewError(ErrCodePipelineNotFound, "pipeline run not found").WithErr(err))
	}

	if run.TenantID != cmd.TenantID {
		return Err[CancelResult](NewError(ErrCodeUnauthorized, "tenant does not own this pipeline run"))
	}

	if run.Status == domain.RunStatusCompleted || run.Status == domain.RunStatusCancelled {
		return Err[CancelResult](NewError(ErrCodeCannotCancelCompleted, "cannot cancel a completed or already-cancelled run"))
	}

	steps, err := uc.Steps.GetByPipelineRunID(ctx, run.ID)
	if err != nil {
		return Err[CancelResult](NewError(ErrCodePipelineExecutionError, "failed to load steps").WithErr(err))
	}

	now := uc.Clock.Now()
	stepsCompleted := 0
	for _, step := range steps {
		switch step.Status {
		case domain.StepStatusCompleted:
			stepsCompleted++
		case domain.StepStatusRunning:
			step.MarkCancelled(now)
			if err := uc.Steps.Update(ctx, step); err != nil {
				return Err[CancelResult](NewError(ErrCodePipelineExecutionError, "failed to cancel step").WithErr(err))
			}
		}
	}
	// stepsCancelled counts every non-completed step, not just the ones
	// actually transitioned above: pending and failed steps are already
	// not running and so never reach step.MarkCancelled, but the
	// reported figure still attributes them to the cancellation rather
	// than to "completed".
	stepsCancelled := len(steps) - stepsCompleted

	previousStatus := run.Status
	run.Cancel(now)
	if err := uc.Runs.Update(ctx, run); err != nil {
		return Err[CancelResult](NewError(ErrCodePipelineExecutionError, "failed to persist cancelled run").WithErr(err))
	}

	if uc.Audit != nil {
		if err := uc.Audit.LogEvent(ctx, ports.AuditEvent{
			EventType:    ports.AuditEventPipelineCancelled,
			TenantID:     cmd.TenantID,
			UserID:       cmd.UserID,
			ResourceType: "pipeline_run",
			ResourceID:   run.ID,
			Metadata: map[string]any{
				"reason":          cmd.Reason,
				"steps_completed": stepsCompleted,
				"steps_cancelled": stepsCancelled,
			},
		}); err != nil && uc.Logger != nil {
			uc.Logger.Warn("failed to emit cancel audit event", map[string]interface{}{"pipeline_run_id": run.ID, "error": err.Error()})
		}
	}

	return Ok(CancelResult{
		PipelineRunID:  run.ID,
		PreviousStatus: previousStatus,
		NewStatus:      domain.RunStatusCancelled,
		StepsCompleted: stepsCompleted,
		StepsCancelled: stepsCancelled,
		Message:        "pipeline run cancelled",
	})
}
