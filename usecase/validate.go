package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/pipelinecore/pipelinecore/core"
	"github.com/pipelinecore/pipelinecore/ports"
)

// ValidateCommand is the input to ValidateUseCase.Execute.
type ValidateCommand struct {
	TaskID   string
	TenantID string
}

// ValidateResult is the success-shaped output of ValidateUseCase.Execute.
type ValidateResult struct {
	Eligible       bool
	EstimatedCost  int64
	CurrentBalance int64
	Reason         string
}

// CostEstimator is the narrow capability ValidateUseCase needs from
// the cost package, expressed as a port so tests can substitute a
// different table.
type CostEstimator interface {
	EstimatePipelineCost() int64
}

// ValidateUseCase performs the pre-flight eligibility check: does the
// tenant's balance cover the full pipeline's estimated cost.
type ValidateUseCase struct {
	Tasks     ports.TaskRepository
	Billing   ports.BillingClient
	Cost      CostEstimator
	Logger    core.Logger    // optional
	Telemetry core.Telemetry // optional
}

// Execute checks eligibility for cmd.TaskID.
func (uc *ValidateUseCase) Execute(ctx context.Context, cmd ValidateCommand) (result Result[ValidateResult]) {
	if uc.Telemetry != nil {
		var span core.Span
		ctx, span = uc.Telemetry.StartSpan(ctx, "pipelinecore.validate")
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
				uc.Logger.Error("panic recovered in ValidateUseCase.Execute", map[string]interface{}{
					"panic": fmt.Sprintf("%v", r),
					"stack": string(debug.Stack()),
				})
			}
			result = Err[ValidateResult](NewError(ErrCodeValidationError, "unexpected internal error").WithReason(fmt.Sprintf("%v", r)))
		}
	}()

	task, err := uc.Tasks.GetByID(ctx, cmd.TaskID, cmd.TenantID)
	if err != nil || task == nil {
		return Err[ValidateResult](NewError(ErrCodeTaskNotFound, "task not found").WithErr(err))
	}

	estimatedCost := uc.Cost.EstimatePipelineCost()

	balance, err := uc.Billing.GetBalance(ctx, cmd.TenantID)
	if err != nil {
		if errors.Is(err, ports.ErrBillingServiceUnavailable) {
			return Err[ValidateResult](NewError(ErrCodeBillingServiceUnavailable, "billing service unavailable").WithErr(err))
		}
		return Err[ValidateResult](NewError(ErrCodeBalanceCheckFailed, "failed to check balance").WithErr(err))
	}

	eligible := balance.Amount >= estimatedCost
	reason := ""
	if !eligible {
		reason = fmt.Sprintf("balance %d is below estimated cost %d", balance.Amount, estimatedCost)
	}

	return Ok(ValidateResult{
		Eligible:       eligible,
		EstimatedCost:  estimatedCost,
		CurrentBalance: balance.Amount,
		Reason:         reason,
	})
}
