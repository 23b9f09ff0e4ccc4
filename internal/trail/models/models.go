// Package models defines the audit trail domain types shared across stores,
// services, and transport.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Category classifies audit entries by the kind of action recorded.
type Category string

const (
	CategoryUserAction  Category = "user_action"
	CategorySystemEvent Category = "system_event"
	CategoryDataChange  Category = "data_change"
)

// IsValid reports whether the category is one of the known values.
func (c Category) IsValid() bool {
	switch c {
	case CategoryUserAction, CategorySystemEvent, CategoryDataChange:
		return true
	}
	return false
}

// RiskLevel grades an entry's risk as assigned by the classifier.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank orders risk levels so callers can compare severity (low < critical).
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	}
	return -1
}

// IsValid reports whether the risk level is one of the known values.
func (r RiskLevel) IsValid() bool { return r.Rank() >= 0 }

// Origin captures where a recorded action came from.
type Origin struct {
	IP              string
	ClientSignature string
}

// Draft is a masked, classified entry that has not yet been appended. The
// store assigns Seq, Timestamp, PrevHash, and EntryHash at append time.
type Draft struct {
	ID             uuid.UUID
	ActorID        string // empty for system/anonymous events
	ActorRole      string
	SessionID      string
	Action         string
	Category       Category
	ResourceType   string
	ResourceID     string
	Before         map[string]any
	After          map[string]any
	Description    string
	Origin         Origin
	RiskLevel      RiskLevel
	ComplianceTags []string
	BatchID        string
}

// Entry is one immutable record in the append-only log. Seq is the total
// append order used by the hash chain; corrections are expressed as new
// entries referencing the original, never in-place updates.
type Entry struct {
	Seq            int64
	ID             uuid.UUID
	ActorID        string
	ActorRole      string
	SessionID      string
	Action         string
	Category       Category
	ResourceType   string
	ResourceID     string
	Before         map[string]any
	After          map[string]any
	Description    string
	Timestamp      time.Time
	Origin         Origin
	RiskLevel      RiskLevel
	ComplianceTags []string
	BatchID        string
	EntryHash      string
	PrevHash       string
}

// Draft returns the entry's append-time input fields, used when recomputing
// hashes during verification.
func (e Entry) Draft() Draft {
	return Draft{
		ID:             e.ID,
		ActorID:        e.ActorID,
		ActorRole:      e.ActorRole,
		SessionID:      e.SessionID,
		Action:         e.Action,
		Category:       e.Category,
		ResourceType:   e.ResourceType,
		ResourceID:     e.ResourceID,
		Before:         e.Before,
		After:          e.After,
		Description:    e.Description,
		Origin:         e.Origin,
		RiskLevel:      e.RiskLevel,
		ComplianceTags: e.ComplianceTags,
		BatchID:        e.BatchID,
	}
}

// Filter narrows a query over the log. Cursor is a keyset cursor: only
// entries with Seq > Cursor are returned, so pages stay stable under
// concurrent appends. Results are always in ascending append order.
type Filter struct {
	ActorID      string
	Action       string
	Category     Category
	ResourceType string
	ResourceID   string
	From         time.Time
	To           time.Time
	RiskLevel    RiskLevel
	BatchID      string
	Cursor       int64
	Limit        int
}

// CheckpointStatus is the outcome of an integrity verification run.
type CheckpointStatus string

const (
	CheckpointValid       CheckpointStatus = "valid"
	CheckpointCompromised CheckpointStatus = "compromised"
)

// IntegrityCheckpoint records the result of walking a range of the chain.
// Checkpoints are append-only; a compromised status is never cleared, only
// superseded by later checkpoints over corrected (appended) history.
type IntegrityCheckpoint struct {
	ID              uuid.UUID
	FromSeq         int64
	LastVerifiedSeq int64
	ChainHash       string
	Status          CheckpointStatus
	CompromisedSeqs []int64
	CreatedAt       time.Time
}

// ArchiveBundle indexes a contiguous range of entries moved to cold storage.
// FirstPrevHash and LastHash let verification jump the archived range without
// unpacking the bundle; BundleHash covers the compressed bundle bytes.
type ArchiveBundle struct {
	ID            uuid.UUID
	FirstSeq      int64
	LastSeq       int64
	FirstPrevHash string
	LastHash      string
	Location      string
	Compression   string
	BundleHash    string
	EntryCount    int
	CreatedAt     time.Time
}

// Severity levels for alert records.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertRecord is raised by the pattern engine when a detection rule fires.
// Only the acknowledgement fields are mutable.
type AlertRecord struct {
	ID             uuid.UUID
	RuleID         string
	EntrySeq       int64
	ActorID        string
	Severity       Severity
	Message        string
	Acknowledged   bool
	AcknowledgedBy string
	AcknowledgedAt *time.Time
	CreatedAt      time.Time
}
