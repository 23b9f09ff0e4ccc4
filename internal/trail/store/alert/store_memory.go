// Package alert persists alert records raised by the pattern engine. Records
// are immutable except for their acknowledgement fields.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"custos/internal/trail/models"
	"custos/pkg/sentinel"
)

// InMemoryStore keeps alerts in append order.
type InMemoryStore struct {
	mu     sync.RWMutex
	alerts []models.AlertRecord
}

// NewInMemoryStore creates an empty alert store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Append records an alert.
func (s *InMemoryStore) Append(_ context.Context, alert models.AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

// List returns alerts newest first, optionally only unacknowledged ones.
func (s *InMemoryStore) List(_ context.Context, onlyUnacknowledged bool, limit int) ([]models.AlertRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	var out []models.AlertRecord
	for i := len(s.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		if onlyUnacknowledged && s.alerts[i].Acknowledged {
			continue
		}
		out = append(out, s.alerts[i])
	}
	return out, nil
}

// CountUnacknowledged returns how many alerts await acknowledgement.
func (s *InMemoryStore) CountUnacknowledged(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for i := range s.alerts {
		if !s.alerts[i].Acknowledged {
			n++
		}
	}
	return n, nil
}

// Acknowledge marks an alert as acknowledged. Idempotent.
func (s *InMemoryStore) Acknowledge(_ context.Context, id uuid.UUID, by string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.alerts {
		if s.alerts[i].ID == id {
			if s.alerts[i].Acknowledged {
				return nil
			}
			now := time.Now().UTC()
			s.alerts[i].Acknowledged = true
			s.alerts[i].AcknowledgedBy = by
			s.alerts[i].AcknowledgedAt = &now
			return nil
		}
	}
	return fmt.Errorf("alert %s: %w", id, sentinel.ErrNotFound)
}
