package memory

import (
	"context"
	"sync"

	"github.com/pipelinecore/pipelinecore/domain"
)

// DeadLetterEventRepository is an in-memory, write-once
// ports.DeadLetterEventRepository.
type DeadLetterEventRepository struct {
	mu     sync.Mutex
	events []*domain.DeadLetterEvent
}

// NewDeadLetterEventRepository returns an empty repository.
func NewDeadLetterEventRepository() *DeadLetterEventRepository {
	return &DeadLetterEventRepository{}
}

func (r *DeadLetterEventRepository) Create(ctx context.Context, event *domain.DeadLetterEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// All returns every recorded dead letter event, for test assertions.
func (r *DeadLetterEventRepository) All() []*domain.DeadLetterEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.DeadLetterEvent, len(r.events))
	copy(out, r.events)
	return out
}
