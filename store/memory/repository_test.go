package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipelinecore/pipelinecore/domain"
)

func TestTaskRepositoryGetByID(t *testing.T) {
	repo := NewTaskRepository()
	task := &domain.Task{ID: "task-1", TenantID: "tenant-1", Title: "build a thing"}
	repo.Put(task)

	ctx := context.Background()
	got, err := repo.GetByID(ctx, "task-1", "tenant-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.Title, got.Title)

	got, err = repo.GetByID(ctx, "task-1", "other-tenant")
	require.NoError(t, err)
	assert.Nil(t, got, "a task must not be visible to a tenant it doesn't belong to")

	got, err = repo.GetByID(ctx, "missing", "tenant-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPipelineRunRepositoryCreateAndGet(t *testing.T) {
	repo := NewPipelineRunRepository()
	ctx := context.Background()
	now := time.Now()

	run := domain.NewPipelineRun("task-1", "tenant-1", now)
	require.NoError(t, repo.Create(ctx, run))

	got, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, run.ID, got.ID)

	byTask, err := repo.GetByTaskID(ctx, "task-1")
	require.NoError(t, err)
	require.NotNil(t, byTask)
	assert.Equal(t, run.ID, byTask.ID)
}

func TestPipelineRunRepositoryGetAllByTaskIDOrdersDescending(t *testing.T) {
	repo := NewPipelineRunRepository()
	ctx := context.Background()
	now := time.Now()

	first := domain.NewPipelineRun("task-1", "tenant-1", now)
	second := domain.NewPipelineRun("task-1", "tenant-1", now.Add(time.Hour))
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))

	all, err := repo.GetAllByTaskID(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID, "most recently started run must come first")
	assert.Equal(t, first.ID, all[1].ID)
}

func TestPipelineRunRepositoryUpdate(t *testing.T) {
	repo := NewPipelineRunRepository()
	ctx := context.Background()
	now := time.Now()

	run := domain.NewPipelineRun("task-1", "tenant-1", now)
	require.NoError(t, repo.Create(ctx, run))

	run.Cancel(now.Add(time.Minute))
	require.NoError(t, repo.Update(ctx, run))

	got, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCancelled, got.Status)
}

func TestPipelineRunRepositoryGetOrCreateRunningCreatesOnce(t *testing.T) {
	repo := NewPipelineRunRepository()
	ctx := context.Background()
	now := time.Now()
	calls := 0

	newRun := func() *domain.PipelineRun {
		calls++
		return domain.NewPipelineRun("task-1", "tenant-1", now)
	}

	first, created, err := repo.GetOrCreateRunning(ctx, "task-1", newRun)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, calls)

	second, created, err := repo.GetOrCreateRunning(ctx, "task-1", newRun)
	require.NoError(t, err)
	assert.False(t, created, "a running run already exists for the task")
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, calls, "newRun must not be invoked once a running run exists")
}

func TestPipelineRunRepositoryGetOrCreateRunningIsSafeUnderConcurrency(t *testing.T) {
	repo := NewPipelineRunRepository()
	ctx := context.Background()
	now := time.Now()

	const callers = 20
	results := make(chan *domain.PipelineRun, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			run, _, err := repo.GetOrCreateRunning(ctx, "task-1", func() *domain.PipelineRun {
				return domain.NewPipelineRun("task-1", "tenant-1", now)
			})
			require.NoError(t, err)
			results <- run
		}()
	}
	wg.Wait()
	close(results)

	seen := map[string]bool{}
	for run := range results {
		seen[run.ID] = true
	}
	assert.Len(t, seen, 1, "concurrent callers on the same task must all observe the same running run")
}

func TestPipelineRunRepositoryGetByIDUnknownReturnsNilNotError(t *testing.T) {
	repo := NewPipelineRunRepository()
	got, err := repo.GetByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPipelineStepRunRepositoryOrdersByStepNumber(t *testing.T) {
	repo := NewPipelineStepRunRepository()
	ctx := context.Background()
	now := time.Now()

	step3 := domain.NewPipelineStepRun("run-1", 3, domain.StepTypeCodeSkeleton, domain.DefaultMaxRetries, now)
	step1 := domain.NewPipelineStepRun("run-1", 1, domain.StepTypeAnalysis, domain.DefaultMaxRetries, now)
	require.NoError(t, repo.Create(ctx, step3))
	require.NoError(t, repo.Create(ctx, step1))

	all, err := repo.GetByPipelineRunID(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 1, all[0].StepNumber)
	assert.Equal(t, 3, all[1].StepNumber)
}

func TestAgentRunRepositoryAppendOnly(t *testing.T) {
	repo := NewAgentRunRepository()
	ctx := context.Background()
	now := time.Now()

	run := domain.NewAgentRun("run-1", "step-1", domain.AgentTypeArchitect, "gpt-5", 100, 200, 50, now, now)
	require.NoError(t, repo.Create(ctx, run))
	require.NoError(t, repo.Create(ctx, run))

	assert.Len(t, repo.All(), 2)
}

func TestArtifactRepositoryCreateAndGet(t *testing.T) {
	repo := NewArtifactRepository()
	ctx := context.Background()
	now := time.Now()

	artifact := domain.NewArtifact("task-1", "run-1", "step-1", domain.StepTypeAnalysis, map[string]any{"summary": "content"}, now)
	require.NoError(t, repo.Create(ctx, artifact))

	got, ok := repo.Get(artifact.ID)
	require.True(t, ok)
	assert.Equal(t, artifact.Content["summary"], got.Content["summary"])

	_, ok = repo.Get("missing")
	assert.False(t, ok)
}

func TestDeadLetterEventRepositoryAppendOnly(t *testing.T) {
	repo := NewDeadLetterEventRepository()
	ctx := context.Background()
	now := time.Now()

	event := domain.NewDeadLetterEvent("run-1", "step-1", "agent failed repeatedly", domain.DefaultMaxRetries, nil, now)
	require.NoError(t, repo.Create(ctx, event))

	assert.Len(t, repo.All(), 1)
}
