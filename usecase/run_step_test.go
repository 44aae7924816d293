package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipelinecore/pipelinecore/core"
	"github.com/pipelinecore/pipelinecore/domain"
	"github.com/pipelinecore/pipelinecore/ports"
	"github.com/pipelinecore/pipelinecore/store/memory"
)

func newTestRunStepUseCase(billing ports.BillingClient, agent ports.AgentExecutor, retryQueue ports.RetryScheduler, clock core.Clock) (*RunStepUseCase, *memory.TaskRepository, *memory.PipelineRunRepository, *memory.PipelineStepRunRepository, *memory.DeadLetterEventRepository) {
	tasks := memory.NewTaskRepository()
	runs := memory.NewPipelineRunRepository()
	steps := memory.NewPipelineStepRunRepository()
	agentRuns := memory.NewAgentRunRepository()
	artifacts := memory.NewArtifactRepository()
	deadLetters := memory.NewDeadLetterEventRepository()

	uc := &RunStepUseCase{
		Tasks:       tasks,
		Runs:        runs,
		Steps:       steps,
		AgentRuns:   agentRuns,
		Artifacts:   artifacts,
		DeadLetters: deadLetters,
		Billing:     billing,
		Agent:       agent,
		RetryQueue:  retryQueue,
		Clock:       clock,
		MaxRetries:  domain.DefaultMaxRetries,
	}
	return uc, tasks, runs, steps, deadLetters
}

func TestRunStepHappyPathFirstStep(t *testing.T) {
	clock := core.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	billing := newFakeBillingClient(1000)
	agent := &fakeAgentExecutor{result: ports.AgentExecuteResult{Output: map[string]any{"analysis": "done"}, EstimatedCostCredits: 50}}

	uc, tasks, runs, _, _ := newTestRunStepUseCase(billing, agent, nil, clock)
	tasks.Put(&domain.Task{ID: "task-1", TenantID: "tenant-1", Title: "build a thing"})

	result := uc.Execute(context.Background(), RunStepCommand{TaskID: "task-1", TenantID: "tenant-1"})

	require.True(t, result.IsOk(), "expected success, got %v", result.Error())
	out := result.Value()
	assert.Equal(t, 1, out.StepNumber)
	assert.Equal(t, domain.StepTypeAnalysis, out.StepType)
	assert.Equal(t, "completed", out.Status)
	assert.NotEmpty(t, out.ArtifactID)

	run, err := runs.GetByID(context.Background(), out.PipelineRunID)
	require.NoError(t, err)
	assert.Equal(t, 2, run.CurrentStep, "run must have advanced to step 2")
	assert.Equal(t, domain.RunStatusRunning, run.Status)
	assert.Equal(t, 1, billing.chargeCount())
}

func TestRunStepPausesOnInsufficientCredits(t *testing.T) {
	clock := core.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	billing := newFakeBillingClient(10) // below the 50-credit cost of ANALYSIS
	agent := &fakeAgentExecutor{result: ports.AgentExecuteResult{Output: map[string]any{"analysis": "done"}, EstimatedCostCredits: 50}}

	uc, tasks, runs, _, _ := newTestRunStepUseCase(billing, agent, nil, clock)
	tasks.Put(&domain.Task{ID: "task-1", TenantID: "tenant-1"})

	result := uc.Execute(context.Background(), RunStepCommand{TaskID: "task-1", TenantID: "tenant-1"})

	require.True(t, result.IsOk())
	out := result.Value()
	assert.Equal(t, statusPausedInsufficientCredits, out.Status)
	assert.NotEmpty(t, out.ArtifactID, "the artifact produced before billing must still be preserved")

	run, err := runs.GetByID(context.Background(), out.PipelineRunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusPaused, run.Status)
	assert.True(t, run.PauseReasons.Has(domain.PauseReasonInsufficientCredit))
	require.NotNil(t, run.PauseExpiresAt)
	assert.Equal(t, PauseExpiry, run.PauseExpiresAt.Sub(clock.Now()))
}

func TestRunStepIdempotencyKeyPreventsDoubleCharge(t *testing.T) {
	billing := newFakeBillingClient(1000)

	stepRunID := "step-fixed"
	key := "run-1:" + stepRunID
	// Pre-seed the dedup ledger as if this idempotency key already
	// charged once, matching a retried call carrying the same key.
	billing.charged[key] = true
	billing.balances["tenant-1"] = 1000 - 50

	req := ports.ConsumeCreditsRequest{TenantID: "tenant-1", Amount: 50, IdempotencyKey: key}
	require.NoError(t, billing.ConsumeCredits(context.Background(), req))
	require.NoError(t, billing.ConsumeCredits(context.Background(), req))

	balance, err := billing.GetBalance(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(950), balance.Amount, "a repeated charge with the same idempotency key must not be applied twice")
}

func TestRunStepAgentFailureSchedulesRetry(t *testing.T) {
	clock := core.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	billing := newFakeBillingClient(1000)
	agent := &fakeAgentExecutor{failNext: 1, failErr: assertErr("agent unavailable")}
	retryQueue := &fakeRetryScheduler{}

	uc, tasks, runs, steps, _ := newTestRunStepUseCase(billing, agent, retryQueue, clock)
	tasks.Put(&domain.Task{ID: "task-1", TenantID: "tenant-1"})

	result := uc.Execute(context.Background(), RunStepCommand{TaskID: "task-1", TenantID: "tenant-1"})

	require.False(t, result.IsOk())
	assert.Equal(t, ErrCodeAgentExecutionFailedRetryScheduled, result.Error().Code)
	assert.Len(t, retryQueue.attempts, 1)
	assert.Equal(t, 1, retryQueue.attempts[0])

	run, err := runs.GetByTaskID(context.Background(), "task-1")
	require.NoError(t, err)
	all, err := steps.GetByPipelineRunID(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.StepStatusPending, all[0].Status, "step must be reset to pending for the scheduled retry")
	assert.Equal(t, 1, all[0].RetryCount)
}

func TestRunStepDeadLettersWhenNoRetryQueueConfigured(t *testing.T) {
	// With no RetryQueue wired, failAgentStep's retry branch is
	// skipped entirely and a failed agent call dead-letters on its
	// first failure — exercising the "exactly one DeadLetterEvent at
	// exhaustion" invariant without depending on cross-call retry
	// bookkeeping that only a real, out-of-process scheduler drives.
	clock := core.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	billing := newFakeBillingClient(1000)
	agent := &fakeAgentExecutor{failNext: 1, failErr: assertErr("agent always fails")}

	uc, tasks, runs, _, deadLetters := newTestRunStepUseCase(billing, agent, nil, clock)
	tasks.Put(&domain.Task{ID: "task-1", TenantID: "tenant-1"})

	result := uc.Execute(context.Background(), RunStepCommand{TaskID: "task-1", TenantID: "tenant-1"})
	require.False(t, result.IsOk())
	assert.Equal(t, ErrCodeAgentExecutionFailed, result.Error().Code)

	events := deadLetters.All()
	require.Len(t, events, 1, "exactly one dead letter event must be recorded at exhaustion")

	run, err := runs.GetByTaskID(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
}

func TestRunStepDetectsCancellationAtCheckpointB(t *testing.T) {
	// Simulates a Cancel call arriving concurrently, between the input
	// snapshot (step 5) and the agent invocation (step 7): the
	// checkpoint B re-read observes the run as cancelled and the step
	// is marked cancelled rather than invoking the agent.
	clock := core.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	billing := newFakeBillingClient(1000)
	agent := &fakeAgentExecutor{result: ports.AgentExecuteResult{Output: map[string]any{}, EstimatedCostCredits: 50}}

	tasks := memory.NewTaskRepository()
	runs := &cancelAfterNGetsRepo{PipelineRunRepository: memory.NewPipelineRunRepository(), cancelFrom: 1}
	steps := memory.NewPipelineStepRunRepository()

	uc := &RunStepUseCase{
		Tasks:       tasks,
		Runs:        runs,
		Steps:       steps,
		AgentRuns:   memory.NewAgentRunRepository(),
		Artifacts:   memory.NewArtifactRepository(),
		DeadLetters: memory.NewDeadLetterEventRepository(),
		Billing:     billing,
		Agent:       agent,
		Clock:       clock,
		MaxRetries:  domain.DefaultMaxRetries,
	}
	tasks.Put(&domain.Task{ID: "task-1", TenantID: "tenant-1"})

	result := uc.Execute(context.Background(), RunStepCommand{TaskID: "task-1", TenantID: "tenant-1"})
	require.False(t, result.IsOk())
	assert.Equal(t, ErrCodePipelineCancelled, result.Error().Code)
	assert.Equal(t, 0, agent.invocations, "a run cancelled at checkpoint B must never reach the agent")
	assert.Equal(t, 0, billing.chargeCount(), "a cancelled run must never be billed")
}

func TestRunStepDetectsCancellationAtCheckpointC(t *testing.T) {
	// Simulates a Cancel call arriving between step completion (step 10)
	// and billing (step 12): the checkpoint C re-read — the *second*
	// isCancelled call this Execute makes, after checkpoint B's first —
	// observes the run as cancelled and billing must never fire, even
	// though the agent already ran and the artifact was already
	// persisted.
	clock := core.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	billing := newFakeBillingClient(1000)
	agent := &fakeAgentExecutor{result: ports.AgentExecuteResult{Output: map[string]any{"analysis": "done"}, EstimatedCostCredits: 50}}

	tasks := memory.NewTaskRepository()
	runs := &cancelAfterNGetsRepo{PipelineRunRepository: memory.NewPipelineRunRepository(), cancelFrom: 2}
	steps := memory.NewPipelineStepRunRepository()
	artifacts := memory.NewArtifactRepository()

	uc := &RunStepUseCase{
		Tasks:       tasks,
		Runs:        runs,
		Steps:       steps,
		AgentRuns:   memory.NewAgentRunRepository(),
		Artifacts:   artifacts,
		DeadLetters: memory.NewDeadLetterEventRepository(),
		Billing:     billing,
		Agent:       agent,
		Clock:       clock,
		MaxRetries:  domain.DefaultMaxRetries,
	}
	tasks.Put(&domain.Task{ID: "task-1", TenantID: "tenant-1"})

	result := uc.Execute(context.Background(), RunStepCommand{TaskID: "task-1", TenantID: "tenant-1"})
	require.False(t, result.IsOk())
	assert.Equal(t, ErrCodePipelineCancelled, result.Error().Code)
	assert.Equal(t, 1, agent.invocations, "the agent must have already run before the cancel was observed")
	assert.Equal(t, 0, billing.chargeCount(), "a run cancelled at checkpoint C must suppress billing even though the step already completed")
	assert.Len(t, artifacts.All(), 1, "the artifact produced before the checkpoint C cancel must still be preserved")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
