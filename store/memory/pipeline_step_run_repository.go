package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/pipelinecore/pipelinecore/domain"
)

// PipelineStepRunRepository is an in-memory, mutex-guarded
// ports.PipelineStepRunRepository.
type PipelineStepRunRepository struct {
	mu    sync.Mutex
	steps map[string]*domain.PipelineStepRun // by ID
	byRun map[string][]string                // pipeline_run_id -> step IDs
}

// NewPipelineStepRunRepository returns an empty repository.
func NewPipelineStepRunRepository() *PipelineStepRunRepository {
	return &PipelineStepRunRepository{
		steps: make(map[string]*domain.PipelineStepRun),
		byRun: make(map[string][]string),
	}
}

func (r *PipelineStepRunRepository) Create(ctx context.Context, step *domain.PipelineStepRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[step.ID] = step
	r.byRun[step.PipelineRunID] = append(r.byRun[step.PipelineRunID], step.ID)
	return nil
}

func (r *PipelineStepRunRepository) GetByID(ctx context.Context, id string) (*domain.PipelineStepRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	step, ok := r.steps[id]
	if !ok {
		return nil, nil
	}
	cp := *step
	return &cp, nil
}

func (r *PipelineStepRunRepository) GetByPipelineRunID(ctx context.Context, pipelineRunID string) ([]*domain.PipelineStepRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.byRun[pipelineRunID]
	out := make([]*domain.PipelineStepRun, 0, len(ids))
	for _, id := range ids {
		if step, ok := r.steps[id]; ok {
			cp := *step
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StepNumber < out[j].StepNumber
	})
	return out, nil
}

func (r *PipelineStepRunRepository) Update(ctx context.Context, step *domain.PipelineStepRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[step.ID] = step
	return nil
}
