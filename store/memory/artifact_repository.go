package memory

import (
	"context"
	"sync"

	"github.com/pipelinecore/pipelinecore/domain"
)

// ArtifactRepository is an in-memory ports.ArtifactRepository.
// Artifacts are never deleted by the core.
type ArtifactRepository struct {
	mu        sync.Mutex
	artifacts map[string]*domain.Artifact
}

// NewArtifactRepository returns an empty repository.
func NewArtifactRepository() *ArtifactRepository {
	return &ArtifactRepository{artifacts: make(map[string]*domain.Artifact)}
}

func (r *ArtifactRepository) Create(ctx context.Context, artifact *domain.Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.artifacts[artifact.ID] = artifact
	return nil
}

// Get returns an artifact by id, for test assertions.
func (r *ArtifactRepository) Get(id string) (*domain.Artifact, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.artifacts[id]
	return a, ok
}

// All returns every stored artifact, for test assertions. The order of
// the returned slice is not defined.
func (r *ArtifactRepository) All() []*domain.Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Artifact, 0, len(r.artifacts))
	for _, a := range r.artifacts {
		out = append(out, a)
	}
	return out
}
