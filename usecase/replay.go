package usecase

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/pipelinecore/pipelinecore/core"
	"github.com/pipelinecore/pipelinecore/domain"
	"github.com/pipelinecore/pipelinecore/ports"
)

// ReplayCommand is the input to ReplayUseCase.Execute.
type ReplayCommand struct {
	PipelineRunID             string
	TenantID                  string
	FromStepID                string // optional
	PreserveApprovedArtifacts bool
}

// ReplayResult is the success-shaped output of ReplayUseCase.Execute.
type ReplayResult struct {
	NewPipelineRunID string
	Status           domain.RunStatus
	StartedFromStep  domain.StepType
}

// ReplayUseCase forks a new PipelineRun from an existing run, starting
// from a given step (default: step 1). It creates the forked run
// only; subsequent execution is driven by RunStepUseCase against the
// new run.
type ReplayUseCase struct {
	Tasks     ports.TaskRepository
	Runs      ports.PipelineRunRepository
	Steps     ports.PipelineStepRunRepository
	Audit     ports.AuditSink // optional
	Clock     core.Clock
	Logger    core.Logger
	Telemetry core.Telemetry // optional
}

// Execute forks a new run from cmd.PipelineRunID.
func (uc *ReplayUseCase) Execute(ctx context.Context, cmd ReplayCommand) (result Result[ReplayResult]) {
	if uc.Telemetry != nil {
		var span core.Span
		ctx, span = uc.Telemetry.StartSpan(ctx, "pipelinecore.replay")
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
				uc.Logger.Error("panic recovered in ReplayUseCase.Execute", map[string]interface{}{
					"panic": fmt.Sprintf("%v", r),
					"stack": string(debug.Stack()),
				})
			}
			result = Err[ReplayResult](NewError(ErrCodePipelineExecutionError, "unexpected internal error").WithReason(fmt.Sprintf("%v", r)))
		}
	}()

	original, err := uc.Runs.GetByID(ctx, cmd.PipelineRunID)
	if err != nil || original == nil {
		return Err[ReplayResult](NewError(ErrCodePipelineRunNotFound, "pipeline run not found").WithErr(err))
	}

	task, err := uc.Tasks.GetByID(ctx, original.TaskID, cmd.TenantID)
	if err != nil || task == nil {
		return Err[ReplayResult](NewError(ErrCodePipelineRunNotFound, "pipeline run not visible to this tenant").WithErr(err))
	}

	startStepNumber := 1
	if cmd.FromStepID != "" {
		steps, err := uc.Steps.GetByPipelineRunID(ctx, original.ID)
		if err != nil {
			return Err[ReplayResult](NewError(ErrCodePipelineExecutionError, "failed to load original run steps").WithErr(err))
		}
		for _, s := range steps {
			if s.ID == cmd.FromStepID {
				startStepNumber = s.StepNumber
				break
			}
		}
	}

	startStepType, ok := domain.StepTypeForNumber(startStepNumber)
	if !ok {
		return Err[ReplayResult](NewError(ErrCodePipelineExecutionError, "invalid start step").WithReason(fmt.Sprintf("step %d", startStepNumber)))
	}

	now := uc.Clock.Now()
	newRun := domain.NewPipelineRun(original.TaskID, original.TenantID, now)
	newRun.CurrentStep = startStepNumber
	if err := uc.Runs.Create(ctx, newRun); err != nil {
		return Err[ReplayResult](NewError(ErrCodePipelineExecutionError, "failed to create replayed run").WithErr(err))
	}

	if uc.Audit != nil {
		if err := uc.Audit.LogEvent(ctx, ports.AuditEvent{
			EventType:    ports.AuditEventPipelineReplayed,
			TenantID:     cmd.TenantID,
			ResourceType: "pipeline_run",
			ResourceID:   newRun.ID,
			Metadata: map[string]any{
				"original_pipeline_run_id":   original.ID,
				"from_step_id":               cmd.FromStepID,
				"preserve_approved_artifacts": cmd.PreserveApprovedArtifacts,
				"started_from_step":          string(startStepType),
			},
		}); err != nil && uc.Logger != nil {
			uc.Logger.Warn("failed to emit replay audit event", map[string]interface{}{"pipeline_run_id": newRun.ID, "error": err.Error()})
		}
	}

	return Ok(ReplayResult{
		NewPipelineRunID: newRun.ID,
		Status:           domain.RunStatusRunning,
		StartedFromStep:  startStepType,
	})
}
