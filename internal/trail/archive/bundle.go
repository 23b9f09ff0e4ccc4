// Package archive moves entries past the retention window into cold storage
// as compressed, content-addressed bundles, and reads them back for
// verification and reporting. Archival never breaks chain auditability: a
// bundle record keeps its range's boundary hashes so verification can jump
// the archived range, or unpack the bundle and walk it.
package archive

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"custos/internal/trail/models"
)

// CompressionGzip is the only bundle compression currently produced.
const CompressionGzip = "gzip"

// bundleEntry is the JSON-lines representation of an entry inside a bundle.
// It round-trips every stored field so archived entries remain verifiable.
type bundleEntry struct {
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
	Timestamp      time.Time      `json:"ts"`
	OriginIP       string         `json:"origin_ip,omitempty"`
	OriginClient   string         `json:"origin_client,omitempty"`
	RiskLevel      string         `json:"risk_level"`
	ComplianceTags []string       `json:"compliance_tags,omitempty"`
	BatchID        string         `json:"batch_id,omitempty"`
	EntryHash      string         `json:"entry_hash"`
	PrevHash       string         `json:"prev_hash"`
}

// encodeBundle serializes entries as gzip-compressed JSON lines.
func encodeBundle(entries []models.Entry) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)

	for _, e := range entries {
		be := bundleEntry{
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
			Timestamp:      e.Timestamp.UTC(),
			OriginIP:       e.Origin.IP,
			OriginClient:   e.Origin.ClientSignature,
			RiskLevel:      string(e.RiskLevel),
			ComplianceTags: e.ComplianceTags,
			BatchID:        e.BatchID,
			EntryHash:      e.EntryHash,
			PrevHash:       e.PrevHash,
		}
		if err := enc.Encode(be); err != nil {
			return nil, fmt.Errorf("encode bundle entry %d: %w", e.Seq, err)
		}
	}

	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("compress bundle: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeBundle parses gzip-compressed JSON lines back into entries.
func decodeBundle(data []byte) ([]models.Entry, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompress bundle: %w", err)
	}
	defer gz.Close()

	var entries []models.Entry
	sc := bufio.NewScanner(gz)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var be bundleEntry
		if err := json.Unmarshal(line, &be); err != nil {
			return nil, fmt.Errorf("decode bundle entry: %w", err)
		}
		id, err := uuid.Parse(be.ID)
		if err != nil {
			return nil, fmt.Errorf("parse bundle entry id: %w", err)
		}
		entries = append(entries, models.Entry{
			Seq:            be.Seq,
			ID:             id,
			ActorID:        be.ActorID,
			ActorRole:      be.ActorRole,
			SessionID:      be.SessionID,
			Action:         be.Action,
			Category:       models.Category(be.Category),
			ResourceType:   be.ResourceType,
			ResourceID:     be.ResourceID,
			Before:         be.Before,
			After:          be.After,
			Description:    be.Description,
			Timestamp:      be.Timestamp.UTC(),
			Origin:         models.Origin{IP: be.OriginIP, ClientSignature: be.OriginClient},
			RiskLevel:      models.RiskLevel(be.RiskLevel),
			ComplianceTags: be.ComplianceTags,
			BatchID:        be.BatchID,
			EntryHash:      be.EntryHash,
			PrevHash:       be.PrevHash,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan bundle: %w", err)
	}
	return entries, nil
}

// hashBundle content-addresses the compressed bundle bytes.
func hashBundle(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}
