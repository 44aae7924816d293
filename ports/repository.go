// Package ports holds the narrow collaborator interfaces the use
// cases depend on: repositories, the billing client, the agent
// executor, the audit sink, and the retry scheduler. Each is a small,
// single-capability interface so use cases stay testable against
// in-memory fakes, per the design notes.
package ports

import (
	"context"

	"github.com/pipelinecore/pipelinecore/domain"
)

// TaskRepository looks up tasks, scoped by tenant. Tasks are owned by
// an upstream system; the core never writes them.
type TaskRepository interface {
	GetByID(ctx context.Context, taskID, tenantID string) (*domain.Task, error)
}

// PipelineRunRepository persists PipelineRun records.
type PipelineRunRepository interface {
	Create(ctx context.Context, run *domain.PipelineRun) error
	GetByID(ctx context.Context, id string) (*domain.PipelineRun, error)
	// GetByTaskID returns the most recent PipelineRun for a task, or
	// nil if none exists.
	GetByTaskID(ctx context.Context, taskID string) (*domain.PipelineRun, error)
	// GetAllByTaskID returns every PipelineRun for a task, ordered
	// descending by StartedAt.
	GetAllByTaskID(ctx context.Context, taskID string) ([]*domain.PipelineRun, error)
	Update(ctx context.Context, run *domain.PipelineRun) error
	// GetOrCreateRunning returns the task's existing running
	// PipelineRun, or atomically creates and returns one via newRun if
	// none exists. Implementations must serialize this check-and-create
	// sequence per task_id so two concurrent callers never both create
	// a running run for the same task (§3, §5's "at most one running
	// PipelineRun per task" invariant). The returned bool reports
	// whether newRun was invoked and persisted.
	GetOrCreateRunning(ctx context.Context, taskID string, newRun func() *domain.PipelineRun) (*domain.PipelineRun, bool, error)
}

// PipelineStepRunRepository persists PipelineStepRun records.
type PipelineStepRunRepository interface {
	Create(ctx context.Context, step *domain.PipelineStepRun) error
	GetByID(ctx context.Context, id string) (*domain.PipelineStepRun, error)
	// GetByPipelineRunID returns every step for a run, ordered
	// ascending by StepNumber.
	GetByPipelineRunID(ctx context.Context, pipelineRunID string) ([]*domain.PipelineStepRun, error)
	Update(ctx context.Context, step *domain.PipelineStepRun) error
}

// AgentRunRepository persists AgentRun records. Append-only.
type AgentRunRepository interface {
	Create(ctx context.Context, run *domain.AgentRun) error
}

// ArtifactRepository persists Artifact records. Append-only from the
// core's perspective: the core never deletes artifacts.
type ArtifactRepository interface {
	Create(ctx context.Context, artifact *domain.Artifact) error
}

// DeadLetterEventRepository persists DeadLetterEvent records.
// Write-once.
type DeadLetterEventRepository interface {
	Create(ctx context.Context, event *domain.DeadLetterEvent) error
}
