// Package ports defines the interfaces between the trail services and their
// stores so implementations (memory, postgres) stay swappable in tests.
package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"custos/internal/trail/models"
)

// EntryStore is the append-only audit log. It exclusively owns the chain tip:
// only the store assigns sequence positions and prev hashes, and it must
// serialize the tip-read + hash + tip-advance section per store.
type EntryStore interface {
	// Append atomically assigns Seq, Timestamp, PrevHash, and EntryHash and
	// persists the entry. It either fully commits or fully fails; on failure
	// the caller must treat the action as not recorded.
	Append(ctx context.Context, draft models.Draft) (models.Entry, error)

	// Query returns entries matching the filter in ascending append order,
	// plus the keyset cursor for the next page (0 when exhausted).
	Query(ctx context.Context, filter models.Filter) ([]models.Entry, int64, error)

	// Range returns entries with fromSeq <= Seq <= toSeq in ascending order.
	// limit <= 0 means no limit.
	Range(ctx context.Context, fromSeq, toSeq int64, limit int) ([]models.Entry, error)

	// Tip returns the last assigned sequence and entry hash. A zero sequence
	// means the store is empty.
	Tip(ctx context.Context) (int64, string, error)

	// Bounds returns the smallest and largest sequence currently in the hot
	// store (both zero when empty).
	Bounds(ctx context.Context) (int64, int64, error)

	// DeleteRange removes entries with fromSeq <= Seq <= toSeq. Only the
	// archiver calls this, and only after a bundle's hash is confirmed.
	DeleteRange(ctx context.Context, fromSeq, toSeq int64) error
}

// CheckpointStore persists integrity checkpoints; append-only.
type CheckpointStore interface {
	Append(ctx context.Context, cp models.IntegrityCheckpoint) error
	Latest(ctx context.Context) (*models.IntegrityCheckpoint, error)
	ListRecent(ctx context.Context, limit int) ([]models.IntegrityCheckpoint, error)
}

// AlertStore persists alert records; only acknowledgement fields mutate.
type AlertStore interface {
	Append(ctx context.Context, alert models.AlertRecord) error
	List(ctx context.Context, onlyUnacknowledged bool, limit int) ([]models.AlertRecord, error)
	Acknowledge(ctx context.Context, id uuid.UUID, by string) error
	// CountUnacknowledged returns how many alerts await acknowledgement.
	CountUnacknowledged(ctx context.Context) (int, error)
}

// ArchiveIndex persists archive bundle records.
type ArchiveIndex interface {
	Append(ctx context.Context, bundle models.ArchiveBundle) error
	List(ctx context.Context) ([]models.ArchiveBundle, error)
	// Covering returns bundles overlapping [fromSeq, toSeq] in ascending
	// FirstSeq order.
	Covering(ctx context.Context, fromSeq, toSeq int64) ([]models.ArchiveBundle, error)
}

// BundleStorage is the cold-storage backend for serialized bundles.
type BundleStorage interface {
	// Write stores the compressed bundle bytes and returns its location.
	Write(ctx context.Context, key string, data []byte) (string, error)
	// Read returns the raw bundle bytes for a previously written location.
	Read(ctx context.Context, location string) ([]byte, error)
}

// WindowCounter counts observations per key within a sliding window. Backs
// the alert rules' threshold checks (memory for single instances, redis when
// counts must be shared across replicas).
type WindowCounter interface {
	// Observe records one observation for key and returns the count of
	// observations within the trailing window, including this one.
	Observe(ctx context.Context, key string, window time.Duration) (int, error)
	// Count returns the current in-window count without recording.
	Count(ctx context.Context, key string, window time.Duration) (int, error)
}

// AlertNotifier publishes raised alerts to an external feed. Implementations
// must be fire-and-forget: failures are logged, never propagated.
type AlertNotifier interface {
	Notify(ctx context.Context, alert models.AlertRecord)
}
