package bundleindex

import (
	"context"
	"database/sql"
	"fmt"

	"custos/internal/trail/models"
)

// PostgresIndex persists bundle records in the audit_archive_bundles table.
type PostgresIndex struct {
	db *sql.DB
}

// NewPostgresIndex constructs a PostgreSQL-backed bundle index.
func NewPostgresIndex(db *sql.DB) *PostgresIndex {
	return &PostgresIndex{db: db}
}

const bundleColumns = `id, first_seq, last_seq, first_prev_hash, last_hash,
	location, compression, bundle_hash, entry_count, created_at`

// Append records a bundle.
func (s *PostgresIndex) Append(ctx context.Context, bundle models.ArchiveBundle) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_archive_bundles (
			id, first_seq, last_seq, first_prev_hash, last_hash,
			location, compression, bundle_hash, entry_count, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		bundle.ID, bundle.FirstSeq, bundle.LastSeq, bundle.FirstPrevHash, bundle.LastHash,
		bundle.Location, bundle.Compression, bundle.BundleHash, bundle.EntryCount, bundle.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert archive bundle: %w", err)
	}
	return nil
}

// List returns all bundles in ascending FirstSeq order.
func (s *PostgresIndex) List(ctx context.Context) ([]models.ArchiveBundle, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM audit_archive_bundles ORDER BY first_seq ASC`, bundleColumns))
	if err != nil {
		return nil, fmt.Errorf("query archive bundles: %w", err)
	}
	defer rows.Close()

	return scanBundles(rows)
}

// Covering returns bundles overlapping [fromSeq, toSeq], ascending.
func (s *PostgresIndex) Covering(ctx context.Context, fromSeq, toSeq int64) ([]models.ArchiveBundle, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM audit_archive_bundles
		 WHERE last_seq >= $1 AND first_seq <= $2
		 ORDER BY first_seq ASC`, bundleColumns), fromSeq, toSeq)
	if err != nil {
		return nil, fmt.Errorf("query covering bundles: %w", err)
	}
	defer rows.Close()

	return scanBundles(rows)
}

func scanBundles(rows *sql.Rows) ([]models.ArchiveBundle, error) {
	var out []models.ArchiveBundle
	for rows.Next() {
		var b models.ArchiveBundle
		err := rows.Scan(&b.ID, &b.FirstSeq, &b.LastSeq, &b.FirstPrevHash, &b.LastHash,
			&b.Location, &b.Compression, &b.BundleHash, &b.EntryCount, &b.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan archive bundle: %w", err)
		}
		b.CreatedAt = b.CreatedAt.UTC()
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archive bundles: %w", err)
	}
	return out, nil
}
