package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"custos/internal/trail/models"
)

// PostgresStore persists checkpoints in the audit_checkpoints table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed checkpoint store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append records a checkpoint.
func (s *PostgresStore) Append(ctx context.Context, cp models.IntegrityCheckpoint) error {
	seqs := make(pq.Int64Array, len(cp.CompromisedSeqs))
	copy(seqs, cp.CompromisedSeqs)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_checkpoints (
			id, from_seq, last_verified_seq, chain_hash, status,
			compromised_seqs, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		cp.ID, cp.FromSeq, cp.LastVerifiedSeq, cp.ChainHash, string(cp.Status),
		seqs, cp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

const checkpointColumns = `id, from_seq, last_verified_seq, chain_hash, status,
	compromised_seqs, created_at`

// Latest returns the most recent checkpoint, or nil when none exist.
func (s *PostgresStore) Latest(ctx context.Context) (*models.IntegrityCheckpoint, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT %s FROM audit_checkpoints ORDER BY created_at DESC, last_verified_seq DESC LIMIT 1`,
		checkpointColumns))

	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// ListRecent returns up to limit checkpoints, newest first.
func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]models.IntegrityCheckpoint, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM audit_checkpoints ORDER BY created_at DESC, last_verified_seq DESC LIMIT $1`,
		checkpointColumns), limit)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var out []models.IntegrityCheckpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (models.IntegrityCheckpoint, error) {
	var (
		cp     models.IntegrityCheckpoint
		status string
		seqs   pq.Int64Array
	)
	err := row.Scan(&cp.ID, &cp.FromSeq, &cp.LastVerifiedSeq, &cp.ChainHash,
		&status, &seqs, &cp.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cp, err
		}
		return cp, fmt.Errorf("scan checkpoint: %w", err)
	}
	cp.Status = models.CheckpointStatus(status)
	cp.CompromisedSeqs = seqs
	cp.CreatedAt = cp.CreatedAt.UTC()
	return cp, nil
}
