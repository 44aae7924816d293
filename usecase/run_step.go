package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/pipelinecore/pipelinecore/core"
	"github.com/pipelinecore/pipelinecore/domain"
	"github.com/pipelinecore/pipelinecore/ports"
)

// RunStepCommand is the input to RunStepUseCase.Execute.
type RunStepCommand struct {
	TaskID   string
	TenantID string
}

// RunStepResult is the success-shaped output of RunStepUseCase.Execute.
// Status carries "completed" or "paused_insufficient_credits"; on the
// latter, ArtifactID is still populated (the artifact is preserved).
type RunStepResult struct {
	PipelineRunID string
	StepNumber    int
	StepType      domain.StepType
	Status        string
	ArtifactID    string
}

const (
	statusCompleted                 = "completed"
	statusPausedInsufficientCredits = "paused_insufficient_credits"
)

// PauseExpiry is the default duration a paused-for-insufficient-credit
// run remains paused before its expiry is considered elapsed. The core
// sets this but does not itself sweep expired pauses.
const PauseExpiry = 7 * 24 * time.Hour

// RunStepUseCase advances a pipeline by at most one step: task lookup,
// run acquisition, step creation, input snapshot, agent invocation,
// artifact creation, and billing — with three cancellation checkpoints
// interleaved.
type RunStepUseCase struct {
	Tasks       ports.TaskRepository
	Runs        ports.PipelineRunRepository
	Steps       ports.PipelineStepRunRepository
	AgentRuns   ports.AgentRunRepository
	Artifacts   ports.ArtifactRepository
	DeadLetters ports.DeadLetterEventRepository
	Billing     ports.BillingClient
	Agent       ports.AgentExecutor // required; a nil Agent fails every step at the agent-invocation checkpoint (see failAgentStep)
	RetryQueue  ports.RetryScheduler // optional
	Clock       core.Clock
	Logger      core.Logger
	Telemetry   core.Telemetry // optional
	MaxRetries  int            // defaults to domain.DefaultMaxRetries when zero
}

// Execute runs the thirteen-step algorithm for one step advance.
func (uc *RunStepUseCase) Execute(ctx context.Context, cmd RunStepCommand) (result Result[RunStepResult]) {
	if uc.Telemetry != nil {
		var span core.Span
		ctx, span = uc.Telemetry.StartSpan(ctx, "pipelinecore.run_step")
		span.SetAttribute("task_id", cmd.TaskID)
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
				uc.Logger.Error("panic recovered in RunStepUseCase.Execute", map[string]interface{}{
					"panic": fmt.Sprintf("%v", r),
					"stack": string(debug.Stack()),
				})
			}
			result = Err[RunStepResult](NewError(ErrCodePipelineExecutionError, "unexpected internal error").WithReason(fmt.Sprintf("%v", r)))
		}
	}()

	maxRetries := uc.MaxRetries
	if maxRetries == 0 {
		maxRetries = domain.DefaultMaxRetries
	}

	// 1. Task lookup with tenant filter.
	task, err := uc.Tasks.GetByID(ctx, cmd.TaskID, cmd.TenantID)
	if err != nil || task == nil {
		return Err[RunStepResult](NewError(ErrCodeTaskNotFound, "task not found").WithErr(err))
	}

	// 2. Acquire pipeline run.
	run, err := uc.acquireRun(ctx, task)
	if err != nil {
		return Err[RunStepResult](NewError(ErrCodePipelineExecutionError, "failed to acquire pipeline run").WithErr(err))
	}

	// 3. Cancellation checkpoint A.
	if run.Status == domain.RunStatusCancelled {
		return Err[RunStepResult](NewError(ErrCodePipelineCancelled, "pipeline run is cancelled"))
	}

	stepType, ok := domain.StepTypeForNumber(run.CurrentStep)
	if !ok {
		return Err[RunStepResult](NewError(ErrCodePipelineExecutionError, "invalid current step").WithReason(fmt.Sprintf("step %d", run.CurrentStep)))
	}

	// 4. Create step run.
	now := uc.Clock.Now()
	step := domain.NewPipelineStepRun(run.ID, run.CurrentStep, stepType, maxRetries, now)
	if err := uc.Steps.Create(ctx, step); err != nil {
		return Err[RunStepResult](NewError(ErrCodePipelineExecutionError, "failed to create step run").WithErr(err))
	}

	// 5. Snapshot.
	snapshot := map[string]any{
		"task_id":         task.ID,
		"task_title":      task.Title,
		"task_input_spec": task.InputSpec,
		"pipeline_run_id": run.ID,
		"current_step":    run.CurrentStep,
		"snapshot_at":     uc.Clock.Now(),
	}
	step.InputSnapshot = snapshot
	if err := uc.Steps.Update(ctx, step); err != nil {
		return Err[RunStepResult](NewError(ErrCodePipelineExecutionError, "failed to persist input snapshot").WithErr(err))
	}

	// 6. Cancellation checkpoint B.
	if cancelled, cerr := uc.isCancelled(ctx, run.ID); cerr != nil {
		return Err[RunStepResult](NewError(ErrCodePipelineExecutionError, "failed to re-read run").WithErr(cerr))
	} else if cancelled {
		step.MarkCancelled(uc.Clock.Now())
		_ = uc.Steps.Update(ctx, step)
		return Err[RunStepResult](NewError(ErrCodePipelineCancelled, "pipeline run is cancelled"))
	}

	// 7. Invoke agent.
	agentType, _ := domain.AgentTypeForStep(stepType)
	if uc.Agent == nil {
		return uc.failAgentStep(ctx, step, "no agent executor configured", maxRetries)
	}
	agentResult, err := uc.Agent.Execute(ctx, ports.AgentExecuteRequest{
		AgentType: agentType,
		Inputs: map[string]any{
			"task_spec":      task.InputSpec,
			"task_title":     task.Title,
			"input_snapshot": snapshot,
		},
	})
	if err != nil {
		return uc.failAgentStep(ctx, step, err.Error(), maxRetries)
	}

	// 8. Record AgentRun.
	agentStarted := now
	agentCompleted := uc.Clock.Now()
	agentRun := domain.NewAgentRun(run.ID, step.ID, agentType, "", agentResult.PromptTokens, agentResult.CompletionTokens, agentResult.EstimatedCostCredits, agentStarted, agentCompleted)
	if err := uc.AgentRuns.Create(ctx, agentRun); err != nil {
		return Err[RunStepResult](NewError(ErrCodePipelineExecutionError, "failed to record agent run").WithErr(err))
	}

	// 9. Create Artifact.
	artifact := domain.NewArtifact(task.ID, run.ID, step.ID, stepType, agentResult.Output, uc.Clock.Now())
	if err := uc.Artifacts.Create(ctx, artifact); err != nil {
		return Err[RunStepResult](NewError(ErrCodePipelineExecutionError, "failed to create artifact").WithErr(err))
	}

	// 10. Mark step completed.
	step.MarkCompleted(uc.Clock.Now())
	if err := uc.Steps.Update(ctx, step); err != nil {
		return Err[RunStepResult](NewError(ErrCodePipelineExecutionError, "failed to mark step completed").WithErr(err))
	}

	// 11. Cancellation checkpoint C.
	if cancelled, cerr := uc.isCancelled(ctx, run.ID); cerr != nil {
		return Err[RunStepResult](NewError(ErrCodePipelineExecutionError, "failed to re-read run").WithErr(cerr))
	} else if cancelled {
		step.MarkCancelled(uc.Clock.Now())
		_ = uc.Steps.Update(ctx, step)
		return Err[RunStepResult](NewError(ErrCodePipelineCancelled, "pipeline run is cancelled"))
	}

	// 12. Charge credits.
	chargeErr := uc.Billing.ConsumeCredits(ctx, ports.ConsumeCreditsRequest{
		TenantID:       run.TenantID,
		Amount:         agentRun.ActualCostCredits,
		IdempotencyKey: step.IdempotencyKey(),
		ReferenceType:  "pipeline_step",
		ReferenceID:    step.ID,
		Metadata: map[string]any{
			"pipeline_run_id": run.ID,
			"step_run_id":     step.ID,
			"step_type":       string(stepType),
			"retry_count":     step.RetryCount,
		},
	})
	if chargeErr != nil {
		if errors.Is(chargeErr, ports.ErrInsufficientCredits) {
			expiresAt := uc.Clock.Now().Add(PauseExpiry)
			run.Pause(domain.PauseReasonInsufficientCredit, expiresAt, uc.Clock.Now())
			if err := uc.Runs.Update(ctx, run); err != nil {
				return Err[RunStepResult](NewError(ErrCodePipelineExecutionError, "failed to persist paused run").WithErr(err))
			}
			return Ok(RunStepResult{
				PipelineRunID: run.ID,
				StepNumber:    step.StepNumber,
				StepType:      stepType,
				Status:        statusPausedInsufficientCredits,
				ArtifactID:    artifact.ID,
			})
		}
		return Err[RunStepResult](NewError(ErrCodePipelineExecutionError, "billing failed").WithErr(chargeErr))
	}

	// 13. Advance.
	run.Advance(uc.Clock.Now())
	if err := uc.Runs.Update(ctx, run); err != nil {
		return Err[RunStepResult](NewError(ErrCodePipelineExecutionError, "failed to persist advanced run").WithErr(err))
	}

	return Ok(RunStepResult{
		PipelineRunID: run.ID,
		StepNumber:    step.StepNumber,
		StepType:      stepType,
		Status:        statusCompleted,
		ArtifactID:    artifact.ID,
	})
}

// acquireRun reuses the task's existing running PipelineRun, or
// creates a fresh one at step 1. A paused run is left untouched here:
// resuming a paused-for-insufficient-credit run is not implemented by
// this core (see the design notes on resume-after-pause-expiry).
//
// The lookup and the conditional create happen inside a single
// GetOrCreateRunning call so two concurrent RunStep invocations on the
// same task never both create a running run (§3, §5).
func (uc *RunStepUseCase) acquireRun(ctx context.Context, task *domain.Task) (*domain.PipelineRun, error) {
	run, _, err := uc.Runs.GetOrCreateRunning(ctx, task.ID, func() *domain.PipelineRun {
		return domain.NewPipelineRun(task.ID, task.TenantID, uc.Clock.Now())
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// isCancelled re-reads the run and reports whether it is observed
// cancelled, implementing the cooperative cancellation checkpoints.
func (uc *RunStepUseCase) isCancelled(ctx context.Context, runID string) (bool, error) {
	run, err := uc.Runs.GetByID(ctx, runID)
	if err != nil {
		return false, err
	}
	return run.Status == domain.RunStatusCancelled, nil
}

// failAgentStep implements step 7's failure branch: mark the step
// failed, then either arm a retry, dead-letter it, or leave it failed
// depending on what collaborators are configured.
func (uc *RunStepUseCase) failAgentStep(ctx context.Context, step *domain.PipelineStepRun, reason string, maxRetries int) Result[RunStepResult] {
	now := uc.Clock.Now()
	step.MarkFailed(now)
	if err := uc.Steps.Update(ctx, step); err != nil {
		return Err[RunStepResult](NewError(ErrCodePipelineExecutionError, "failed to persist failed step").WithErr(err))
	}

	if uc.RetryQueue != nil && step.CanRetry() {
		step.ResetForRetry()
		if err := uc.Steps.Update(ctx, step); err != nil {
			return Err[RunStepResult](NewError(ErrCodePipelineExecutionError, "failed to persist retry reset").WithErr(err))
		}
		if err := uc.RetryQueue.ScheduleRetry(ctx, step.ID, step.RetryCount); err != nil {
			if uc.Logger != nil {
				uc.Logger.Warn("failed to schedule retry", map[string]interface{}{"step_run_id": step.ID, "error": err.Error()})
			}
		}
		return Err[RunStepResult](NewError(ErrCodeAgentExecutionFailedRetryScheduled, "agent execution failed, retry scheduled").WithReason(reason))
	}

	if uc.DeadLetters != nil {
		event := domain.NewDeadLetterEvent(step.PipelineRunID, step.ID, reason, step.RetryCount, map[string]any{"step_number": step.StepNumber, "step_type": string(step.StepType)}, now)
		if err := uc.DeadLetters.Create(ctx, event); err != nil && uc.Logger != nil {
			uc.Logger.Warn("failed to persist dead letter event", map[string]interface{}{"step_run_id": step.ID, "error": err.Error()})
		}
		run, err := uc.Runs.GetByID(ctx, step.PipelineRunID)
		if err == nil && run != nil {
			run.Fail(now)
			_ = uc.Runs.Update(ctx, run)
		}
		return Err[RunStepResult](NewError(ErrCodeAgentExecutionFailed, "agent execution failed, retries exhausted").WithReason(reason))
	}

	return Err[RunStepResult](NewError(ErrCodeAgentExecutionFailed, "agent execution failed").WithReason(reason))
}
