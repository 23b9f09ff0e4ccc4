// Package bundleindex persists the index of archive bundles: which sequence
// ranges left the hot store and where their bundles live.
package bundleindex

import (
	"context"
	"sort"
	"sync"

	"custos/internal/trail/models"
)

// InMemoryIndex keeps bundle records sorted by FirstSeq.
type InMemoryIndex struct {
	mu      sync.RWMutex
	bundles []models.ArchiveBundle
}

// NewInMemoryIndex creates an empty bundle index.
func NewInMemoryIndex() *InMemoryIndex {
	return &InMemoryIndex{}
}

// Append records a bundle.
func (s *InMemoryIndex) Append(_ context.Context, bundle models.ArchiveBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundles = append(s.bundles, bundle)
	sort.Slice(s.bundles, func(i, j int) bool {
		return s.bundles[i].FirstSeq < s.bundles[j].FirstSeq
	})
	return nil
}

// List returns all bundles in ascending FirstSeq order.
func (s *InMemoryIndex) List(_ context.Context) ([]models.ArchiveBundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ArchiveBundle{}, s.bundles...), nil
}

// Covering returns bundles overlapping [fromSeq, toSeq], ascending.
func (s *InMemoryIndex) Covering(_ context.Context, fromSeq, toSeq int64) ([]models.ArchiveBundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ArchiveBundle
	for _, b := range s.bundles {
		if b.LastSeq < fromSeq || b.FirstSeq > toSeq {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}
