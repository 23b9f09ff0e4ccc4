// Package entry provides the append-only audit log store. The store owns the
// chain tip: it is the only component that assigns sequence positions and
// prev hashes.
package entry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"custos/internal/trail/hash"
	"custos/internal/trail/models"
	"custos/pkg/sentinel"
)

// InMemoryStore keeps the log in a slice. Appends are serialized by a mutex
// so the chain invariant holds under concurrent writers; reads copy out so
// queries never observe in-flight appends.
type InMemoryStore struct {
	mu      sync.RWMutex
	chain   *hash.Chain
	entries []models.Entry
	// firstSeq tracks the oldest hot sequence after archival trims.
	firstSeq int64
	lastSeq  int64
	lastHash string
	lastTS   time.Time
}

// NewInMemoryStore creates an empty store hashing with the given chain.
func NewInMemoryStore(chain *hash.Chain) *InMemoryStore {
	return &InMemoryStore{chain: chain, lastHash: chain.Genesis()}
}

// Append assigns the next sequence, a monotonic timestamp, and the chained
// hash, all under one critical section.
func (s *InMemoryStore) Append(ctx context.Context, draft models.Draft) (models.Entry, error) {
	if err := ctx.Err(); err != nil {
		return models.Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if draft.ID == uuid.Nil {
		draft.ID = uuid.New()
	}

	ts := time.Now().UTC()
	if !ts.After(s.lastTS) {
		ts = s.lastTS.Add(time.Nanosecond)
	}

	entryHash, err := s.chain.Hash(draft, ts, s.lastHash)
	if err != nil {
		return models.Entry{}, fmt.Errorf("hash entry: %w", err)
	}

	e := models.Entry{
		Seq:            s.lastSeq + 1,
		ID:             draft.ID,
		ActorID:        draft.ActorID,
		ActorRole:      draft.ActorRole,
		SessionID:      draft.SessionID,
		Action:         draft.Action,
		Category:       draft.Category,
		ResourceType:   draft.ResourceType,
		ResourceID:     draft.ResourceID,
		Before:         draft.Before,
		After:          draft.After,
		Description:    draft.Description,
		Timestamp:      ts,
		Origin:         draft.Origin,
		RiskLevel:      draft.RiskLevel,
		ComplianceTags: draft.ComplianceTags,
		BatchID:        draft.BatchID,
		EntryHash:      entryHash,
		PrevHash:       s.lastHash,
	}

	s.entries = append(s.entries, e)
	if s.firstSeq == 0 {
		s.firstSeq = e.Seq
	}
	s.lastSeq = e.Seq
	s.lastHash = e.EntryHash
	s.lastTS = ts

	return e, nil
}

// Query filters the log, ascending by sequence, with keyset pagination.
func (s *InMemoryStore) Query(_ context.Context, filter models.Filter) ([]models.Entry, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var out []models.Entry
	for _, e := range s.entries {
		if e.Seq <= filter.Cursor {
			continue
		}
		if !matches(e, filter) {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}

	var next int64
	if len(out) == limit {
		next = out[len(out)-1].Seq
	}
	return out, next, nil
}

// Range returns entries within [fromSeq, toSeq] ascending.
func (s *InMemoryStore) Range(_ context.Context, fromSeq, toSeq int64, limit int) ([]models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Entry
	for _, e := range s.entries {
		if e.Seq < fromSeq || e.Seq > toSeq {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Tip returns the last assigned sequence and hash.
func (s *InMemoryStore) Tip(_ context.Context) (int64, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeq, s.lastHash, nil
}

// Bounds returns the oldest and newest hot sequences.
func (s *InMemoryStore) Bounds(_ context.Context) (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return 0, 0, nil
	}
	return s.entries[0].Seq, s.entries[len(s.entries)-1].Seq, nil
}

// DeleteRange trims archived entries from the hot store. The chain tip is
// untouched: archival never moves the tip backwards.
func (s *InMemoryStore) DeleteRange(_ context.Context, fromSeq, toSeq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.Seq >= fromSeq && e.Seq <= toSeq {
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	if len(s.entries) > 0 {
		s.firstSeq = s.entries[0].Seq
	} else {
		s.firstSeq = 0
	}
	return nil
}

// Tamper overwrites a stored entry in place, bypassing the append path. Only
// for tests that exercise tamper detection.
func (s *InMemoryStore) Tamper(seq int64, mutate func(*models.Entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		if s.entries[i].Seq == seq {
			mutate(&s.entries[i])
			return nil
		}
	}
	return fmt.Errorf("seq %d: %w", seq, sentinel.ErrNotFound)
}

func matches(e models.Entry, f models.Filter) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if f.RiskLevel != "" && e.RiskLevel != f.RiskLevel {
		return false
	}
	if f.BatchID != "" && e.BatchID != f.BatchID {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.Timestamp.Before(f.To) {
		return false
	}
	return true
}
