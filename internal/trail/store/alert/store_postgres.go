package alert

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"custos/internal/trail/models"
	"custos/pkg/sentinel"
)

// PostgresStore persists alerts in the audit_alerts table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed alert store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append records an alert.
func (s *PostgresStore) Append(ctx context.Context, alert models.AlertRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_alerts (
			id, rule_id, entry_seq, actor_id, severity, message,
			acknowledged, acknowledged_by, acknowledged_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		alert.ID, alert.RuleID, alert.EntrySeq, alert.ActorID, string(alert.Severity),
		alert.Message, alert.Acknowledged, alert.AcknowledgedBy, alert.AcknowledgedAt,
		alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// List returns alerts newest first, optionally only unacknowledged ones.
func (s *PostgresStore) List(ctx context.Context, onlyUnacknowledged bool, limit int) ([]models.AlertRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, rule_id, entry_seq, actor_id, severity, message,
		       acknowledged, acknowledged_by, acknowledged_at, created_at
		FROM audit_alerts
	`
	if onlyUnacknowledged {
		query += " WHERE NOT acknowledged"
	}
	query += " ORDER BY created_at DESC LIMIT $1"

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []models.AlertRecord
	for rows.Next() {
		var (
			a        models.AlertRecord
			severity string
			ackAt    sql.NullTime
		)
		err := rows.Scan(&a.ID, &a.RuleID, &a.EntrySeq, &a.ActorID, &severity,
			&a.Message, &a.Acknowledged, &a.AcknowledgedBy, &ackAt, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Severity = models.Severity(severity)
		a.CreatedAt = a.CreatedAt.UTC()
		if ackAt.Valid {
			t := ackAt.Time.UTC()
			a.AcknowledgedAt = &t
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}

// CountUnacknowledged returns how many alerts await acknowledgement.
func (s *PostgresStore) CountUnacknowledged(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_alerts WHERE NOT acknowledged`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unacknowledged alerts: %w", err)
	}
	return n, nil
}

// Acknowledge marks an alert as acknowledged. Idempotent: an already
// acknowledged alert keeps its original acknowledgement.
func (s *PostgresStore) Acknowledge(ctx context.Context, id uuid.UUID, by string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE audit_alerts
		SET acknowledged = TRUE, acknowledged_by = $2, acknowledged_at = $3
		WHERE id = $1 AND NOT acknowledged
	`, id, by, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM audit_alerts WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("acknowledge alert: %w", err)
		}
		if !exists {
			return fmt.Errorf("alert %s: %w", id, sentinel.ErrNotFound)
		}
	}
	return nil
}
