package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/pipelinecore/pipelinecore/domain"
)

// PipelineRunRepository is an in-memory, mutex-guarded
// ports.PipelineRunRepository. GetOrCreateRunning enforces "at most one
// running PipelineRun per task" (§3, §5): the existing-run lookup and
// the conditional create both happen inside a single critical section,
// so two callers racing on the same task_id cannot both observe "no
// running run" and both create one. Create, GetByTaskID, and the other
// accessors each still take the lock independently and are not safe to
// compose into a check-then-act sequence outside GetOrCreateRunning.
type PipelineRunRepository struct {
	mu     sync.Mutex
	runs   map[string]*domain.PipelineRun // by ID
	byTask map[string][]string            // task_id -> run IDs, append order
}

// NewPipelineRunRepository returns an empty repository.
func NewPipelineRunRepository() *PipelineRunRepository {
	return &PipelineRunRepository{
		runs:   make(map[string]*domain.PipelineRun),
		byTask: make(map[string][]string),
	}
}

func (r *PipelineRunRepository) Create(ctx context.Context, run *domain.PipelineRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = run
	r.byTask[run.TaskID] = append(r.byTask[run.TaskID], run.ID)
	return nil
}

func (r *PipelineRunRepository) GetByID(ctx context.Context, id string) (*domain.PipelineRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

func (r *PipelineRunRepository) GetByTaskID(ctx context.Context, taskID string) (*domain.PipelineRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.byTask[taskID]
	if len(ids) == 0 {
		return nil, nil
	}
	latest := r.runs[ids[len(ids)-1]]
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *PipelineRunRepository) GetAllByTaskID(ctx context.Context, taskID string) ([]*domain.PipelineRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.byTask[taskID]
	out := make([]*domain.PipelineRun, 0, len(ids))
	for _, id := range ids {
		if run, ok := r.runs[id]; ok {
			cp := *run
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

func (r *PipelineRunRepository) Update(ctx context.Context, run *domain.PipelineRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = run
	return nil
}

// GetOrCreateRunning implements ports.PipelineRunRepository. The lookup
// and the conditional insert share one lock acquisition, so it is the
// only method on this type safe to use for the acquire-or-create
// sequence RunStep needs.
func (r *PipelineRunRepository) GetOrCreateRunning(ctx context.Context, taskID string, newRun func() *domain.PipelineRun) (*domain.PipelineRun, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.byTask[taskID]
	if len(ids) > 0 {
		if latest := r.runs[ids[len(ids)-1]]; latest != nil && latest.Status == domain.RunStatusRunning {
			cp := *latest
			return &cp, false, nil
		}
	}

	run := newRun()
	r.runs[run.ID] = run
	r.byTask[run.TaskID] = append(r.byTask[run.TaskID], run.ID)
	cp := *run
	return &cp, true, nil
}
