package handler

import (
	"fmt"
	"time"

	"custos/internal/trail/models"
	"custos/pkg/sentinel"
)

var (
	errBadCursor      = fmt.Errorf("%w: cursor must be an integer", sentinel.ErrValidation)
	errBadTimeBound   = fmt.Errorf("%w: time bounds must be RFC3339", sentinel.ErrValidation)
	errCutoffRequired = fmt.Errorf("%w: cutoff is required", sentinel.ErrValidation)
	errBadAlertID     = fmt.Errorf("%w: alert id must be a UUID", sentinel.ErrValidation)
)

type recordRequest struct {
	ActorID        string         `json:"actor_id"`
	ActorRole      string         `json:"actor_role"`
	SessionID      string         `json:"session_id"`
	Action         string         `json:"action"`
	Category       string         `json:"category"`
	ResourceType   string         `json:"resource_type"`
	ResourceID     string         `json:"resource_id"`
	Before         map[string]any `json:"before"`
	After          map[string]any `json:"after"`
	Description    string         `json:"description"`
	ComplianceTags []string       `json:"compliance_tags"`
	BatchID        string         `json:"batch_id"`
}

type integrityCheckRequest struct {
	Incremental bool  `json:"incremental"`
	FromSeq     int64 `json:"from_seq"`
	ToSeq       int64 `json:"to_seq"`
}

type archiveRequest struct {
	Cutoff time.Time `json:"cutoff"`
}

type listEntriesResponse struct {
	Entries    []entryJSON `json:"entries"`
	NextCursor int64       `json:"next_cursor"`
}

type entryJSON struct {
	Seq            int64          `json:"seq"`
	ID             string         `json:"id"`
	ActorID        string         `json:"actor_id,omitempty"`
	ActorRole      string         `json:"actor_role,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	Action         string         `json:"action"`
	Category       string         `json:"category"`
	ResourceType   string         `json:"resource_type"`
	ResourceID     string         `json:"resource_id,omitempty"`
	Before         map[string]any `json:"before,omitempty"`
	After          map[string]any `json:"after,omitempty"`
	Description    string         `json:"description,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	OriginIP       string         `json:"origin_ip,omitempty"`
	OriginClient   string         `json:"origin_client,omitempty"`
	RiskLevel      string         `json:"risk_level"`
	ComplianceTags []string       `json:"compliance_tags,omitempty"`
	BatchID        string         `json:"batch_id,omitempty"`
	EntryHash      string         `json:"entry_hash"`
	PrevHash       string         `json:"prev_hash"`
}

func toEntryJSON(e models.Entry) entryJSON {
	return entryJSON{
		Seq:            e.Seq,
		ID:             e.ID.String(),
		ActorID:        e.ActorID,
		ActorRole:      e.ActorRole,
		SessionID:      e.SessionID,
		Action:         e.Action,
		Category:       string(e.Category),
		ResourceType:   e.ResourceType,
		ResourceID:     e.ResourceID,
		Before:         e.Before,
		After:          e.After,
		Description:    e.Description,
		Timestamp:      e.Timestamp,
		OriginIP:       e.Origin.IP,
		OriginClient:   e.Origin.ClientSignature,
		RiskLevel:      string(e.RiskLevel),
		ComplianceTags: e.ComplianceTags,
		BatchID:        e.BatchID,
		EntryHash:      e.EntryHash,
		PrevHash:       e.PrevHash,
	}
}

type checkpointJSON struct {
	ID              string    `json:"id"`
	FromSeq         int64     `json:"from_seq"`
	LastVerifiedSeq int64     `json:"last_verified_seq"`
	ChainHash       string    `json:"chain_hash"`
	Status          string    `json:"status"`
	CompromisedSeqs []int64   `json:"compromised_seqs,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func toCheckpointJSON(cp models.IntegrityCheckpoint) checkpointJSON {
	return checkpointJSON{
		ID:              cp.ID.String(),
		FromSeq:         cp.FromSeq,
		LastVerifiedSeq: cp.LastVerifiedSeq,
		ChainHash:       cp.ChainHash,
		Status:          string(cp.Status),
		CompromisedSeqs: cp.CompromisedSeqs,
		CreatedAt:       cp.CreatedAt,
	}
}

type bundleJSON struct {
	ID            string    `json:"id"`
	FirstSeq      int64     `json:"first_seq"`
	LastSeq       int64     `json:"last_seq"`
	FirstPrevHash string    `json:"first_prev_hash"`
	LastHash      string    `json:"last_hash"`
	Location      string    `json:"location"`
	Compression   string    `json:"compression"`
	BundleHash    string    `json:"bundle_hash"`
	EntryCount    int       `json:"entry_count"`
	CreatedAt     time.Time `json:"created_at"`
}

func toBundleJSON(b models.ArchiveBundle) bundleJSON {
	return bundleJSON{
		ID:            b.ID.String(),
		FirstSeq:      b.FirstSeq,
		LastSeq:       b.LastSeq,
		FirstPrevHash: b.FirstPrevHash,
		LastHash:      b.LastHash,
		Location:      b.Location,
		Compression:   b.Compression,
		BundleHash:    b.BundleHash,
		EntryCount:    b.EntryCount,
		CreatedAt:     b.CreatedAt,
	}
}

type alertJSON struct {
	ID             string     `json:"id"`
	RuleID         string     `json:"rule_id"`
	EntrySeq       int64      `json:"entry_seq"`
	ActorID        string     `json:"actor_id,omitempty"`
	Severity       string     `json:"severity"`
	Message        string     `json:"message"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toAlertJSON(a models.AlertRecord) alertJSON {
	return alertJSON{
		ID:             a.ID.String(),
		RuleID:         a.RuleID,
		EntrySeq:       a.EntrySeq,
		ActorID:        a.ActorID,
		Severity:       string(a.Severity),
		Message:        a.Message,
		Acknowledged:   a.Acknowledged,
		AcknowledgedBy: a.AcknowledgedBy,
		AcknowledgedAt: a.AcknowledgedAt,
		CreatedAt:      a.CreatedAt,
	}
}
