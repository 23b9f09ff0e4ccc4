// Package checkpoint persists integrity checkpoints. The store is
// append-only: a compromised checkpoint is never deleted or cleared.
package checkpoint

import (
	"context"
	"sync"

	"custos/internal/trail/models"
)

// InMemoryStore keeps checkpoints in append order.
type InMemoryStore struct {
	mu          sync.RWMutex
	checkpoints []models.IntegrityCheckpoint
}

// NewInMemoryStore creates an empty checkpoint store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Append records a checkpoint.
func (s *InMemoryStore) Append(_ context.Context, cp models.IntegrityCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints = append(s.checkpoints, cp)
	return nil
}

// Latest returns the most recent checkpoint, or nil when none exist.
func (s *InMemoryStore) Latest(_ context.Context) (*models.IntegrityCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.checkpoints) == 0 {
		return nil, nil
	}
	cp := s.checkpoints[len(s.checkpoints)-1]
	return &cp, nil
}

// ListRecent returns up to limit checkpoints, newest first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]models.IntegrityCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.checkpoints) {
		limit = len(s.checkpoints)
	}
	out := make([]models.IntegrityCheckpoint, 0, limit)
	for i := len(s.checkpoints) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.checkpoints[i])
	}
	return out, nil
}
