package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipelinecore/pipelinecore/cost"
	"github.com/pipelinecore/pipelinecore/domain"
	"github.com/pipelinecore/pipelinecore/ports"
	"github.com/pipelinecore/pipelinecore/store/memory"
)

func newTestValidateUseCase(billing ports.BillingClient) (*ValidateUseCase, *memory.TaskRepository) {
	tasks := memory.NewTaskRepository()
	uc := &ValidateUseCase{
		Tasks:   tasks,
		Billing: billing,
		Cost:    cost.NewEstimator(),
	}
	return uc, tasks
}

func TestValidateEligibleWhenBalanceCoversCost(t *testing.T) {
	billing := newFakeBillingClient(200)
	uc, tasks := newTestValidateUseCase(billing)
	tasks.Put(&domain.Task{ID: "task-1", TenantID: "tenant-1"})

	result := uc.Execute(context.Background(), ValidateCommand{TaskID: "task-1", TenantID: "tenant-1"})

	require.True(t, result.IsOk())
	out := result.Value()
	assert.True(t, out.Eligible)
	assert.Equal(t, int64(150), out.EstimatedCost)
	assert.Equal(t, int64(200), out.CurrentBalance)
	assert.Empty(t, out.Reason)
}

func TestValidateIneligibleWhenBalanceBelowCost(t *testing.T) {
	billing := newFakeBillingClient(100)
	uc, tasks := newTestValidateUseCase(billing)
	tasks.Put(&domain.Task{ID: "task-1", TenantID: "tenant-1"})

	result := uc.Execute(context.Background(), ValidateCommand{TaskID: "task-1", TenantID: "tenant-1"})

	require.True(t, result.IsOk())
	out := result.Value()
	assert.False(t, out.Eligible)
	assert.NotEmpty(t, out.Reason)
}

func TestValidateRejectsUnknownTask(t *testing.T) {
	billing := newFakeBillingClient(200)
	uc, _ := newTestValidateUseCase(billing)

	result := uc.Execute(context.Background(), ValidateCommand{TaskID: "missing", TenantID: "tenant-1"})
	require.False(t, result.IsOk())
	assert.Equal(t, ErrCodeTaskNotFound, result.Error().Code)
}

func TestValidateClassifiesBillingServiceUnavailable(t *testing.T) {
	billing := newFakeBillingClient(200)
	billing.getErr = ports.ErrBillingServiceUnavailable
	uc, tasks := newTestValidateUseCase(billing)
	tasks.Put(&domain.Task{ID: "task-1", TenantID: "tenant-1"})

	result := uc.Execute(context.Background(), ValidateCommand{TaskID: "task-1", TenantID: "tenant-1"})
	require.False(t, result.IsOk())
	assert.Equal(t, ErrCodeBillingServiceUnavailable, result.Error().Code)
}

func TestValidateClassifiesGenericBalanceCheckFailure(t *testing.T) {
	billing := newFakeBillingClient(200)
	billing.getErr = assertErr("transient network error")
	uc, tasks := newTestValidateUseCase(billing)
	tasks.Put(&domain.Task{ID: "task-1", TenantID: "tenant-1"})

	result := uc.Execute(context.Background(), ValidateCommand{TaskID: "task-1", TenantID: "tenant-1"})
	require.False(t, result.IsOk())
	assert.Equal(t, ErrCodeBalanceCheckFailed, result.Error().Code)
}
