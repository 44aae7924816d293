package memory

import (
	"context"
	"sync"

	"github.com/pipelinecore/pipelinecore/domain"
)

// AgentRunRepository is an in-memory, append-only
// ports.AgentRunRepository.
type AgentRunRepository struct {
	mu   sync.Mutex
	runs []*domain.AgentRun
}

// NewAgentRunRepository returns an empty repository.
func NewAgentRunRepository() *AgentRunRepository {
	return &AgentRunRepository{}
}

func (r *AgentRunRepository) Create(ctx context.Context, run *domain.AgentRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

// All returns every recorded agent run, for test assertions.
func (r *AgentRunRepository) All() []*domain.AgentRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.AgentRun, len(r.runs))
	copy(out, r.runs)
	return out
}
