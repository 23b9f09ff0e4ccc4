package hash

import (
	"encoding/json"
	"fmt"
	"time"

	"custos/internal/trail/models"
)

// canonicalEntry is the stable serialization an entry hash covers. All fields
// are concrete types with explicit JSON tags so json.Marshal produces the
// same bytes on every platform: struct fields encode in declaration order and
// map keys encode sorted. Any change to this layout is a breaking change that
// requires a new chain epoch.
type canonicalEntry struct {
	Epoch          string         `json:"epoch"`
	PrevHash       string         `json:"prev_hash"`
	ID             string         `json:"id"`
	ActorID        string         `json:"actor_id"`
	ActorRole      string         `json:"actor_role"`
	SessionID      string         `json:"session_id"`
	Action         string         `json:"action"`
	Category       string         `json:"category"`
	ResourceType   string         `json:"resource_type"`
	ResourceID     string         `json:"resource_id"`
	Before         map[string]any `json:"before,omitempty"`
	After          map[string]any `json:"after,omitempty"`
	Description    string         `json:"description"`
	Timestamp      string         `json:"ts"`
	OriginIP       string         `json:"origin_ip"`
	OriginClient   string         `json:"origin_client"`
	RiskLevel      string         `json:"risk_level"`
	ComplianceTags []string       `json:"compliance_tags,omitempty"`
	BatchID        string         `json:"batch_id"`
}

// canonicalize produces the exact bytes the digest covers.
func canonicalize(epoch string, draft models.Draft, ts time.Time, prevHash string) ([]byte, error) {
	ce := canonicalEntry{
		Epoch:          epoch,
		PrevHash:       prevHash,
		ID:             draft.ID.String(),
		ActorID:        draft.ActorID,
		ActorRole:      draft.ActorRole,
		SessionID:      draft.SessionID,
		Action:         draft.Action,
		Category:       string(draft.Category),
		ResourceType:   draft.ResourceType,
		ResourceID:     draft.ResourceID,
		Before:         draft.Before,
		After:          draft.After,
		Description:    draft.Description,
		Timestamp:      ts.UTC().Format(time.RFC3339Nano),
		OriginIP:       draft.Origin.IP,
		OriginClient:   draft.Origin.ClientSignature,
		RiskLevel:      string(draft.RiskLevel),
		ComplianceTags: draft.ComplianceTags,
		BatchID:        draft.BatchID,
	}

	b, err := json.Marshal(ce)
	if err != nil {
		return nil, fmt.Errorf("canonicalize entry: %w", err)
	}
	return b, nil
}
