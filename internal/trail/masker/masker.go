// Package masker redacts sensitive fields from entry snapshots before they
// are hashed or persisted. The hash covers the masked representation, so
// masked logs stay verifiable without access to the original values.
package masker

import (
	"strings"

	"custos/internal/trail/models"
)

// Marker replaces every sensitive value. Fixed so masking is idempotent.
const Marker = "[REDACTED]"

// Masker is a pure transformation; it never mutates its input maps.
type Masker struct {
	sensitive map[string]struct{}
}

// New builds a masker for the configured sensitive-field set. Matching is
// case-insensitive on the map key.
func New(fields []string) *Masker {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[strings.ToLower(f)] = struct{}{}
	}
	return &Masker{sensitive: set}
}

// Mask returns a copy of the draft with sensitive keys in the Before and
// After snapshots replaced by Marker. Nested maps are walked recursively.
func (m *Masker) Mask(draft models.Draft) models.Draft {
	draft.Before = m.maskMap(draft.Before)
	draft.After = m.maskMap(draft.After)
	return draft
}

func (m *Masker) maskMap(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		if _, ok := m.sensitive[strings.ToLower(k)]; ok {
			out[k] = Marker
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = m.maskMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}
