package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"custos/internal/trail/models"
	"custos/internal/trail/ports"
	"custos/pkg/sentinel"
)

// readBatch bounds how many entries are pulled from the hot store at a time
// while selecting an archive range.
const readBatch = 1000

// Archiver moves the contiguous oldest run of entries older than a cutoff
// into a verified bundle, then trims the hot store. Hot entries are deleted
// only after the bundle's hash is confirmed by reading it back.
type Archiver struct {
	entries ports.EntryStore
	index   ports.ArchiveIndex
	storage ports.BundleStorage
	guard   *RangeGuard
	logger  *slog.Logger
}

// NewArchiver wires the archiver. guard must be shared with the full-history
// verifier.
func NewArchiver(entries ports.EntryStore, index ports.ArchiveIndex, storage ports.BundleStorage, guard *RangeGuard, logger *slog.Logger) *Archiver {
	return &Archiver{
		entries: entries,
		index:   index,
		storage: storage,
		guard:   guard,
		logger:  logger,
	}
}

// ArchiveOlderThan archives the oldest contiguous entries with timestamps
// strictly before cutoff. Returns sentinel.ErrNotFound when nothing
// qualifies and sentinel.ErrRangeBusy when a verification or another archive
// run holds the range guard.
func (a *Archiver) ArchiveOlderThan(ctx context.Context, cutoff time.Time) (models.ArchiveBundle, error) {
	if !a.guard.TryAcquire() {
		return models.ArchiveBundle{}, fmt.Errorf("archive: %w", sentinel.ErrRangeBusy)
	}
	defer a.guard.Release()

	selected, err := a.selectRange(ctx, cutoff)
	if err != nil {
		return models.ArchiveBundle{}, err
	}
	if len(selected) == 0 {
		return models.ArchiveBundle{}, fmt.Errorf("no entries older than %s: %w", cutoff.Format(time.RFC3339), sentinel.ErrNotFound)
	}

	first, last := selected[0], selected[len(selected)-1]

	data, err := encodeBundle(selected)
	if err != nil {
		return models.ArchiveBundle{}, fmt.Errorf("%w: %w", sentinel.ErrArchiveFailed, err)
	}
	bundleHash := hashBundle(data)

	bundle := models.ArchiveBundle{
		ID:            uuid.New(),
		FirstSeq:      first.Seq,
		LastSeq:       last.Seq,
		FirstPrevHash: first.PrevHash,
		LastHash:      last.EntryHash,
		Compression:   CompressionGzip,
		BundleHash:    bundleHash,
		EntryCount:    len(selected),
		CreatedAt:     time.Now().UTC(),
	}

	key := fmt.Sprintf("audit-%012d-%012d-%s.jsonl.gz", bundle.FirstSeq, bundle.LastSeq, bundle.ID)
	location, err := a.storage.Write(ctx, key, data)
	if err != nil {
		return models.ArchiveBundle{}, fmt.Errorf("%w: write bundle: %w", sentinel.ErrArchiveFailed, err)
	}
	bundle.Location = location

	// Read back and re-hash before touching the hot store.
	stored, err := a.storage.Read(ctx, location)
	if err != nil {
		return models.ArchiveBundle{}, fmt.Errorf("%w: read back bundle: %w", sentinel.ErrArchiveFailed, err)
	}
	if got := hashBundle(stored); got != bundleHash {
		return models.ArchiveBundle{}, fmt.Errorf("%w: bundle hash mismatch after write: got %s want %s",
			sentinel.ErrArchiveFailed, got, bundleHash)
	}

	if err := a.index.Append(ctx, bundle); err != nil {
		return models.ArchiveBundle{}, fmt.Errorf("%w: index bundle: %w", sentinel.ErrArchiveFailed, err)
	}

	if err := a.entries.DeleteRange(ctx, bundle.FirstSeq, bundle.LastSeq); err != nil {
		// The bundle is durable and indexed; hot rows linger until the next
		// run retries the trim.
		a.logger.ErrorContext(ctx, "archived entries not trimmed from hot store",
			"first_seq", bundle.FirstSeq, "last_seq", bundle.LastSeq, "error", err)
		return bundle, nil
	}

	a.logger.InfoContext(ctx, "archived audit entries",
		"first_seq", bundle.FirstSeq,
		"last_seq", bundle.LastSeq,
		"entries", bundle.EntryCount,
		"location", bundle.Location,
	)
	return bundle, nil
}

// selectRange walks the hot store from its oldest entry, collecting the
// contiguous run older than cutoff.
func (a *Archiver) selectRange(ctx context.Context, cutoff time.Time) ([]models.Entry, error) {
	firstSeq, lastSeq, err := a.entries.Bounds(ctx)
	if err != nil {
		return nil, fmt.Errorf("read hot store bounds: %w", err)
	}
	if firstSeq == 0 {
		return nil, nil
	}

	// A previous run may have indexed a bundle and then failed to trim its
	// hot rows. Re-bundling those rows would create an overlapping bundle
	// and archive reads would count them twice, so retry the trim instead
	// and select strictly past the indexed coverage.
	indexed, err := a.index.Covering(ctx, firstSeq, lastSeq)
	if err != nil {
		return nil, fmt.Errorf("check indexed coverage: %w", err)
	}
	var lastIndexed int64
	for _, b := range indexed {
		if b.LastSeq > lastIndexed {
			lastIndexed = b.LastSeq
		}
	}
	if lastIndexed >= firstSeq {
		if err := a.entries.DeleteRange(ctx, firstSeq, lastIndexed); err != nil {
			return nil, fmt.Errorf("retry trim of archived rows %d-%d: %w", firstSeq, lastIndexed, err)
		}
		a.logger.InfoContext(ctx, "trimmed archived rows left by an earlier run",
			"first_seq", firstSeq, "last_seq", lastIndexed)
		firstSeq = lastIndexed + 1
		if firstSeq > lastSeq {
			return nil, nil
		}
	}

	var selected []models.Entry
	for seq := firstSeq; seq <= lastSeq; {
		batch, err := a.entries.Range(ctx, seq, lastSeq, readBatch)
		if err != nil {
			return nil, fmt.Errorf("read archive candidates: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, e := range batch {
			if !e.Timestamp.Before(cutoff) {
				return selected, nil
			}
			selected = append(selected, e)
		}
		seq = batch[len(batch)-1].Seq + 1
	}
	return selected, nil
}
