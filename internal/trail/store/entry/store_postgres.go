package entry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"custos/internal/trail/hash"
	"custos/internal/trail/models"
	"custos/pkg/sentinel"
)

// PostgresStore persists the log in the audit_entries table. The chain tip
// lives in a single audit_chain_tip row; Append locks it FOR UPDATE so the
// tip-read + hash + tip-advance section is serialized across writers, and
// both writes commit in one transaction (full commit or full fail).
type PostgresStore struct {
	db    *sql.DB
	chain *hash.Chain
}

// NewPostgres constructs a PostgreSQL-backed entry store.
func NewPostgres(db *sql.DB, chain *hash.Chain) *PostgresStore {
	return &PostgresStore{db: db, chain: chain}
}

const entryColumns = `seq, id, actor_id, actor_role, session_id, action, category,
	resource_type, resource_id, before_snapshot, after_snapshot, description,
	ts, origin_ip, origin_client, risk_level, compliance_tags, batch_id,
	entry_hash, prev_hash`

// Append implements the single-writer append section.
func (s *PostgresStore) Append(ctx context.Context, draft models.Draft) (models.Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Entry{}, fmt.Errorf("begin append: %w: %w", sentinel.ErrStoreUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var (
		lastSeq  int64
		lastHash string
		lastTS   sql.NullTime
	)
	err = tx.QueryRowContext(ctx,
		`SELECT last_seq, last_hash, last_ts FROM audit_chain_tip WHERE id = 1 FOR UPDATE`,
	).Scan(&lastSeq, &lastHash, &lastTS)
	if errors.Is(err, sql.ErrNoRows) {
		// The migration seeds the tip row. Inserting it lazily here would let
		// two first-ever appends race past each other.
		return models.Entry{}, fmt.Errorf("chain tip row missing, run migrations: %w", sentinel.ErrStoreUnavailable)
	}
	if err != nil {
		return models.Entry{}, fmt.Errorf("lock chain tip: %w: %w", sentinel.ErrStoreUnavailable, err)
	}
	if lastHash == "" {
		// The seeded row stores the genesis marker as an empty string.
		lastHash = s.chain.Genesis()
	}

	if draft.ID == uuid.Nil {
		draft.ID = uuid.New()
	}

	// Truncate to microseconds: timestamptz round-trips at that precision and
	// the hash must survive a read-back.
	ts := time.Now().UTC().Truncate(time.Microsecond)
	if lastTS.Valid && !ts.After(lastTS.Time) {
		ts = lastTS.Time.Add(time.Microsecond)
	}

	entryHash, err := s.chain.Hash(draft, ts, lastHash)
	if err != nil {
		return models.Entry{}, fmt.Errorf("hash entry: %w", err)
	}

	e := models.Entry{
		Seq:            lastSeq + 1,
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
		PrevHash:       lastHash,
	}

	before, err := marshalSnapshot(e.Before)
	if err != nil {
		return models.Entry{}, err
	}
	after, err := marshalSnapshot(e.After)
	if err != nil {
		return models.Entry{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_entries (
			seq, id, actor_id, actor_role, session_id, action, category,
			resource_type, resource_id, before_snapshot, after_snapshot,
			description, ts, origin_ip, origin_client, risk_level,
			compliance_tags, batch_id, entry_hash, prev_hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`,
		e.Seq, e.ID, e.ActorID, e.ActorRole, e.SessionID, e.Action, string(e.Category),
		e.ResourceType, e.ResourceID, before, after,
		e.Description, e.Timestamp, e.Origin.IP, e.Origin.ClientSignature, string(e.RiskLevel),
		pq.StringArray(e.ComplianceTags), e.BatchID, e.EntryHash, e.PrevHash,
	)
	if err != nil {
		return models.Entry{}, fmt.Errorf("insert audit entry: %w: %w", sentinel.ErrStoreUnavailable, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE audit_chain_tip SET last_seq = $1, last_hash = $2, last_ts = $3 WHERE id = 1`,
		e.Seq, e.EntryHash, e.Timestamp,
	)
	if err != nil {
		return models.Entry{}, fmt.Errorf("advance chain tip: %w: %w", sentinel.ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return models.Entry{}, fmt.Errorf("commit append: %w: %w", sentinel.ErrStoreUnavailable, err)
	}
	return e, nil
}

// Query filters the log with keyset pagination on seq.
func (s *PostgresStore) Query(ctx context.Context, filter models.Filter) ([]models.Entry, int64, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var (
		conds = []string{"seq > $1"}
		args  = []any{filter.Cursor}
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, cond+"$"+strconv.Itoa(len(args)))
	}
	if filter.ActorID != "" {
		add("actor_id = ", filter.ActorID)
	}
	if filter.Action != "" {
		add("action = ", filter.Action)
	}
	if filter.Category != "" {
		add("category = ", string(filter.Category))
	}
	if filter.ResourceType != "" {
		add("resource_type = ", filter.ResourceType)
	}
	if filter.ResourceID != "" {
		add("resource_id = ", filter.ResourceID)
	}
	if filter.RiskLevel != "" {
		add("risk_level = ", string(filter.RiskLevel))
	}
	if filter.BatchID != "" {
		add("batch_id = ", filter.BatchID)
	}
	if !filter.From.IsZero() {
		add("ts >= ", filter.From)
	}
	if !filter.To.IsZero() {
		add("ts < ", filter.To)
	}

	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM audit_entries WHERE %s ORDER BY seq ASC LIMIT $%d`,
		entryColumns, strings.Join(conds, " AND "), len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, 0, err
	}

	var next int64
	if len(entries) == limit {
		next = entries[len(entries)-1].Seq
	}
	return entries, next, nil
}

// Range returns entries within [fromSeq, toSeq] ascending.
func (s *PostgresStore) Range(ctx context.Context, fromSeq, toSeq int64, limit int) ([]models.Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM audit_entries WHERE seq >= $1 AND seq <= $2 ORDER BY seq ASC`, entryColumns)
	args := []any{fromSeq, toSeq}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("range audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Tip returns the chain tip without locking it.
func (s *PostgresStore) Tip(ctx context.Context) (int64, string, error) {
	var (
		seq  int64
		hash string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT last_seq, last_hash FROM audit_chain_tip WHERE id = 1`,
	).Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, s.chain.Genesis(), nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("read chain tip: %w", err)
	}
	if hash == "" {
		hash = s.chain.Genesis()
	}
	return seq, hash, nil
}

// Bounds returns the oldest and newest hot sequences.
func (s *PostgresStore) Bounds(ctx context.Context) (int64, int64, error) {
	var minSeq, maxSeq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(seq), MAX(seq) FROM audit_entries`,
	).Scan(&minSeq, &maxSeq)
	if err != nil {
		return 0, 0, fmt.Errorf("read entry bounds: %w", err)
	}
	return minSeq.Int64, maxSeq.Int64, nil
}

// DeleteRange removes archived entries from the hot store.
func (s *PostgresStore) DeleteRange(ctx context.Context, fromSeq, toSeq int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_entries WHERE seq >= $1 AND seq <= $2`,
		fromSeq, toSeq,
	)
	if err != nil {
		return fmt.Errorf("delete archived entries: %w", err)
	}
	return nil
}

func marshalSnapshot(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return b, nil
}

func scanEntries(rows *sql.Rows) ([]models.Entry, error) {
	var entries []models.Entry

	for rows.Next() {
		var (
			e             models.Entry
			category      string
			riskLevel     string
			before, after []byte
			tags          pq.StringArray
		)
		err := rows.Scan(
			&e.Seq, &e.ID, &e.ActorID, &e.ActorRole, &e.SessionID, &e.Action, &category,
			&e.ResourceType, &e.ResourceID, &before, &after, &e.Description,
			&e.Timestamp, &e.Origin.IP, &e.Origin.ClientSignature, &riskLevel,
			&tags, &e.BatchID, &e.EntryHash, &e.PrevHash,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}

		e.Category = models.Category(category)
		e.RiskLevel = models.RiskLevel(riskLevel)
		e.ComplianceTags = tags
		e.Timestamp = e.Timestamp.UTC()
		if before != nil {
			if err := json.Unmarshal(before, &e.Before); err != nil {
				return nil, fmt.Errorf("unmarshal before snapshot: %w", err)
			}
		}
		if after != nil {
			if err := json.Unmarshal(after, &e.After); err != nil {
				return nil, fmt.Errorf("unmarshal after snapshot: %w", err)
			}
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
