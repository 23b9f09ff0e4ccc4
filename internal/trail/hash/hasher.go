// Package hash computes the chained entry hashes that make the audit log
// tamper-evident. Each entry's hash covers a canonical serialization of its
// masked fields concatenated with the previous entry's hash, so modifying
// any stored entry breaks the chain from that point forward.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/sha3"

	"custos/internal/trail/models"
)

// Chain epochs. The epoch names the digest algorithm and the canonical
// serialization version; hashes are prefixed with it ("sha256:<hex>").
const (
	EpochSHA256 = "sha256"
	EpochSHA3   = "sha3-256"
)

// Chain computes entry hashes for one chain epoch. Stateless and safe for
// concurrent use.
type Chain struct {
	epoch  string
	digest func([]byte) []byte
}

// New returns a Chain for the given epoch. Empty epoch selects sha256.
func New(epoch string) (*Chain, error) {
	switch epoch {
	case "", EpochSHA256:
		return &Chain{
			epoch: EpochSHA256,
			digest: func(b []byte) []byte {
				sum := sha256.Sum256(b)
				return sum[:]
			},
		}, nil
	case EpochSHA3:
		return &Chain{
			epoch: EpochSHA3,
			digest: func(b []byte) []byte {
				sum := sha3.Sum256(b)
				return sum[:]
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown chain epoch %q", epoch)
	}
}

// Epoch returns the chain epoch label.
func (c *Chain) Epoch() string { return c.epoch }

// Genesis is the prev_hash of the first entry in a store for this epoch.
func (c *Chain) Genesis() string {
	return c.epoch + ":genesis"
}

// Hash computes the entry hash over the draft's fields, the append timestamp,
// and the previous entry's hash. Pure: identical inputs always produce the
// identical hash.
func (c *Chain) Hash(draft models.Draft, ts time.Time, prevHash string) (string, error) {
	b, err := canonicalize(c.epoch, draft, ts, prevHash)
	if err != nil {
		return "", err
	}
	return c.epoch + ":" + hex.EncodeToString(c.digest(b)), nil
}

// Verify recomputes an entry's hash from its stored fields and the previous
// entry's stored hash, reporting whether it matches the stored value.
func (c *Chain) Verify(entry models.Entry, prevHash string) (bool, error) {
	computed, err := c.Hash(entry.Draft(), entry.Timestamp, prevHash)
	if err != nil {
		return false, err
	}
	return computed == entry.EntryHash, nil
}
