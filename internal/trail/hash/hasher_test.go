package hash

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custos/internal/trail/models"
)

var testTime = time.Date(2026, 5, 1, 12, 30, 0, 0, time.UTC)

func testDraft() models.Draft {
	return models.Draft{
		ID:           uuid.MustParse("5f9c6ae4-3a0b-4a93-9a57-30c1a1f0d1aa"),
		ActorID:      "actor-1",
		Action:       "login",
		Category:     models.CategoryUserAction,
		ResourceType: "session",
		ResourceID:   "sess-9",
		Before:       map[string]any{"b": 1, "a": "x"},
		RiskLevel:    models.RiskHigh,
	}
}

func TestHash_Deterministic(t *testing.T) {
	c, err := New(EpochSHA256)
	require.NoError(t, err)

	h1, err := c.Hash(testDraft(), testTime, c.Genesis())
	require.NoError(t, err)
	h2, err := c.Hash(testDraft(), testTime, c.Genesis())
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.True(t, strings.HasPrefix(h1, "sha256:"))
}

func TestHash_ChangesWithAnyInput(t *testing.T) {
	c, err := New(EpochSHA256)
	require.NoError(t, err)

	base, err := c.Hash(testDraft(), testTime, c.Genesis())
	require.NoError(t, err)

	mutated := testDraft()
	mutated.Action = "logout"
	h, err := c.Hash(mutated, testTime, c.Genesis())
	require.NoError(t, err)
	assert.NotEqual(t, base, h)

	h, err = c.Hash(testDraft(), testTime.Add(time.Nanosecond), c.Genesis())
	require.NoError(t, err)
	assert.NotEqual(t, base, h)

	h, err = c.Hash(testDraft(), testTime, "sha256:deadbeef")
	require.NoError(t, err)
	assert.NotEqual(t, base, h)
}

func TestHash_SnapshotKeyOrderIrrelevant(t *testing.T) {
	c, err := New(EpochSHA256)
	require.NoError(t, err)

	d1 := testDraft()
	d1.Before = map[string]any{"a": "x", "b": 1}
	d2 := testDraft()
	d2.Before = map[string]any{"b": 1, "a": "x"}

	h1, err := c.Hash(d1, testTime, c.Genesis())
	require.NoError(t, err)
	h2, err := c.Hash(d2, testTime, c.Genesis())
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
}

func TestHash_EpochsProduceDistinctChains(t *testing.T) {
	sha2, err := New(EpochSHA256)
	require.NoError(t, err)
	sha3c, err := New(EpochSHA3)
	require.NoError(t, err)

	h2, err := sha2.Hash(testDraft(), testTime, sha2.Genesis())
	require.NoError(t, err)
	h3, err := sha3c.Hash(testDraft(), testTime, sha3c.Genesis())
	require.NoError(t, err)

	assert.NotEqual(t, h2, h3)
	assert.True(t, strings.HasPrefix(h3, "sha3-256:"))
}

func TestNew_UnknownEpoch(t *testing.T) {
	_, err := New("md5")
	assert.Error(t, err)
}

func TestVerify_RoundTrip(t *testing.T) {
	c, err := New(EpochSHA256)
	require.NoError(t, err)

	draft := testDraft()
	entryHash, err := c.Hash(draft, testTime, c.Genesis())
	require.NoError(t, err)

	entry := models.Entry{
		ID:           draft.ID,
		ActorID:      draft.ActorID,
		Action:       draft.Action,
		Category:     draft.Category,
		ResourceType: draft.ResourceType,
		ResourceID:   draft.ResourceID,
		Before:       draft.Before,
		RiskLevel:    draft.RiskLevel,
		Timestamp:    testTime,
		EntryHash:    entryHash,
		PrevHash:     c.Genesis(),
	}

	ok, err := c.Verify(entry, c.Genesis())
	require.NoError(t, err)
	assert.True(t, ok)

	entry.ActorID = "someone-else"
	ok, err = c.Verify(entry, c.Genesis())
	require.NoError(t, err)
	assert.False(t, ok)
}
