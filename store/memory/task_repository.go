// Package memory implements every repository port as an in-memory,
// mutex-guarded fake, grounded on the teacher's core.InMemoryStore
// locking pattern. Used by tests and by cmd/pipelinecore when no Redis
// backend is configured.
package memory

import (
	"context"
	"sync"

	"github.com/pipelinecore/pipelinecore/domain"
)

// TaskRepository is a fixed, in-memory lookup table of tasks, since
// tasks are owned by an upstream system the core never writes.
type TaskRepository struct {
	mu    sync.RWMutex
	tasks map[string]*domain.Task
}

// NewTaskRepository returns an empty repository. Seed it with Put.
func NewTaskRepository() *TaskRepository {
	return &TaskRepository{tasks: make(map[string]*domain.Task)}
}

// Put seeds the repository with a task, for test fixtures.
func (r *TaskRepository) Put(task *domain.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.ID] = task
}

// GetByID returns the task if it exists and belongs to tenantID.
func (r *TaskRepository) GetByID(ctx context.Context, taskID, tenantID string) (*domain.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[taskID]
	if !ok || task.TenantID != tenantID {
		return nil, nil
	}
	return task, nil
}
