package verify

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"custos/internal/trail/archive"
	"custos/internal/trail/hash"
	"custos/internal/trail/models"
	"custos/internal/trail/store/bundleindex"
	"custos/internal/trail/store/checkpoint"
	"custos/internal/trail/store/entry"
	"custos/pkg/sentinel"
)

type VerifierSuite struct {
	suite.Suite

	dir         string
	chain       *hash.Chain
	entries     *entry.InMemoryStore
	checkpoints *checkpoint.InMemoryStore
	index       *bundleindex.InMemoryIndex
	storage     *archive.FSStorage
	guard       *archive.RangeGuard
	archiver    *archive.Archiver
	verifier    *Verifier
}

func TestVerifierSuite(t *testing.T) {
	suite.Run(t, new(VerifierSuite))
}

func (s *VerifierSuite) SetupTest() {
	s.dir = s.T().TempDir()

	chain, err := hash.New(hash.EpochSHA256)
	s.Require().NoError(err)
	s.chain = chain

	s.entries = entry.NewInMemoryStore(chain)
	s.checkpoints = checkpoint.NewInMemoryStore()
	s.index = bundleindex.NewInMemoryIndex()

	storage, err := archive.NewFSStorage(s.dir)
	s.Require().NoError(err)
	s.storage = storage

	s.guard = archive.NewRangeGuard()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s.archiver = archive.NewArchiver(s.entries, s.index, s.storage, s.guard, logger)

	reader := archive.NewReader(s.index, s.storage)
	s.verifier = New(s.entries, s.checkpoints, s.index, reader, chain, s.guard, logger)
}

func (s *VerifierSuite) append(n int) []models.Entry {
	out := make([]models.Entry, 0, n)
	for i := 0; i < n; i++ {
		e, err := s.entries.Append(context.Background(), models.Draft{
			ActorID:      "ops-1",
			ActorRole:    "operator",
			Action:       "record.update",
			Category:     models.CategoryDataChange,
			ResourceType: "record",
			ResourceID:   "r-1",
			RiskLevel:    models.RiskLow,
		})
		s.Require().NoError(err)
		out = append(out, e)
	}
	return out
}

func (s *VerifierSuite) TestIntactChainYieldsValidCheckpoint() {
	appended := s.append(12)

	cp, err := s.verifier.VerifyRange(context.Background(), 0, 0)
	s.Require().NoError(err)

	s.Equal(models.CheckpointValid, cp.Status)
	s.Empty(cp.CompromisedSeqs)
	s.Equal(int64(1), cp.FromSeq)
	s.Equal(int64(12), cp.LastVerifiedSeq)
	s.Equal(appended[len(appended)-1].EntryHash, cp.ChainHash)

	latest, err := s.checkpoints.Latest(context.Background())
	s.Require().NoError(err)
	s.Require().NotNil(latest)
	s.Equal(cp.ID, latest.ID)
}

func (s *VerifierSuite) TestEmptyStoreIsTriviallyValid() {
	cp, err := s.verifier.VerifyRange(context.Background(), 0, 0)
	s.Require().NoError(err)
	s.Equal(models.CheckpointValid, cp.Status)
	s.Equal(int64(0), cp.LastVerifiedSeq)
	s.Equal(s.chain.Genesis(), cp.ChainHash)
}

func (s *VerifierSuite) TestTamperedFieldIsDetectedWithoutCascade() {
	s.append(20)

	err := s.entries.Tamper(7, func(e *models.Entry) {
		e.Action = "record.delete"
	})
	s.Require().NoError(err)

	cp, err := s.verifier.VerifyRange(context.Background(), 0, 0)
	s.Require().NoError(err)

	s.Equal(models.CheckpointCompromised, cp.Status)
	s.Equal([]int64{7}, cp.CompromisedSeqs, "verification resumes from the stored hash, so only the mutated entry is flagged")
}

func (s *VerifierSuite) TestBrokenLinkageIsDetected() {
	s.append(10)

	err := s.entries.Tamper(4, func(e *models.Entry) {
		e.PrevHash = s.chain.Genesis()
	})
	s.Require().NoError(err)

	cp, err := s.verifier.VerifyRange(context.Background(), 0, 0)
	s.Require().NoError(err)
	s.Equal([]int64{4}, cp.CompromisedSeqs)
}

func (s *VerifierSuite) TestMissingEntryIsDetected() {
	s.append(10)

	err := s.entries.DeleteRange(context.Background(), 5, 5)
	s.Require().NoError(err)

	cp, err := s.verifier.VerifyRange(context.Background(), 0, 0)
	s.Require().NoError(err)

	s.Equal(models.CheckpointCompromised, cp.Status)
	// The gap itself plus its successor, whose prev hash now points at a
	// sequence that is gone.
	s.Equal([]int64{5, 6}, cp.CompromisedSeqs)
}

func (s *VerifierSuite) TestVerificationIsReadOnly() {
	s.append(6)
	s.Require().NoError(s.entries.Tamper(3, func(e *models.Entry) {
		e.ActorID = "intruder"
	}))

	before, err := s.entries.Range(context.Background(), 1, 6, 0)
	s.Require().NoError(err)

	cp, err := s.verifier.VerifyRange(context.Background(), 0, 0)
	s.Require().NoError(err)
	s.Equal(models.CheckpointCompromised, cp.Status)

	after, err := s.entries.Range(context.Background(), 1, 6, 0)
	s.Require().NoError(err)
	s.Equal(before, after, "verification must not rewrite stored entries")
}

func (s *VerifierSuite) TestIncrementalResumesFromLastCheckpoint() {
	s.append(5)

	first, err := s.verifier.VerifyIncremental(context.Background())
	s.Require().NoError(err)
	s.Equal(int64(1), first.FromSeq)
	s.Equal(int64(5), first.LastVerifiedSeq)

	s.append(3)

	second, err := s.verifier.VerifyIncremental(context.Background())
	s.Require().NoError(err)
	s.Equal(int64(6), second.FromSeq)
	s.Equal(int64(8), second.LastVerifiedSeq)
	s.Equal(models.CheckpointValid, second.Status)
}

func (s *VerifierSuite) TestIncrementalHonorsPerRunCap() {
	s.append(10)
	capped := New(s.entries, s.checkpoints, s.index, archive.NewReader(s.index, s.storage),
		s.chain, s.guard, slog.New(slog.DiscardHandler), WithMaxPerRun(4))

	cp, err := capped.VerifyIncremental(context.Background())
	s.Require().NoError(err)
	s.Equal(int64(1), cp.FromSeq)
	s.Equal(int64(4), cp.LastVerifiedSeq)

	cp, err = capped.VerifyIncremental(context.Background())
	s.Require().NoError(err)
	s.Equal(int64(5), cp.FromSeq)
	s.Equal(int64(8), cp.LastVerifiedSeq)
}

func (s *VerifierSuite) TestIncrementalCoversEntriesArchivedBeforeVerification() {
	appended := s.append(10)

	// Tamper, then archive the tampered range before any verification ran.
	// The archiver's read-back check compares bundle bytes, not the chain,
	// so the bad entry rides into cold storage.
	s.Require().NoError(s.entries.Tamper(3, func(e *models.Entry) {
		e.Description = "edited"
	}))
	bundle, err := s.archiver.ArchiveOlderThan(context.Background(), appended[5].Timestamp)
	s.Require().NoError(err)
	s.Equal(int64(5), bundle.LastSeq)

	cp, err := s.verifier.VerifyIncremental(context.Background())
	s.Require().NoError(err)
	s.Equal(int64(1), cp.FromSeq)
	s.Equal(int64(10), cp.LastVerifiedSeq)
	s.Equal(models.CheckpointCompromised, cp.Status)
	s.Equal([]int64{3}, cp.CompromisedSeqs)

	// The next run resumes past the archived prefix as usual.
	s.append(2)
	next, err := s.verifier.VerifyIncremental(context.Background())
	s.Require().NoError(err)
	s.Equal(int64(11), next.FromSeq)
	s.Equal(models.CheckpointValid, next.Status)
}

func (s *VerifierSuite) TestFullHistorySpansArchivedBundle() {
	appended := s.append(10)

	// Archive seqs 1..5: the cutoff is strictly exclusive, so entry 6's
	// timestamp bounds the run.
	bundle, err := s.archiver.ArchiveOlderThan(context.Background(), appended[5].Timestamp)
	s.Require().NoError(err)
	s.Equal(int64(1), bundle.FirstSeq)
	s.Equal(int64(5), bundle.LastSeq)

	hotFirst, _, err := s.entries.Bounds(context.Background())
	s.Require().NoError(err)
	s.Equal(int64(6), hotFirst)

	cp, err := s.verifier.VerifyRange(context.Background(), 0, 0)
	s.Require().NoError(err)
	s.Equal(models.CheckpointValid, cp.Status)
	s.Equal(int64(1), cp.FromSeq)
	s.Equal(int64(10), cp.LastVerifiedSeq)
	s.Equal(appended[9].EntryHash, cp.ChainHash)
}

func (s *VerifierSuite) TestCorruptedBundleFlagsItsRangeOnly() {
	appended := s.append(10)

	bundle, err := s.archiver.ArchiveOlderThan(context.Background(), appended[5].Timestamp)
	s.Require().NoError(err)

	s.corruptBundleFile()

	cp, err := s.verifier.VerifyRange(context.Background(), 0, 0)
	s.Require().NoError(err)

	s.Equal(models.CheckpointCompromised, cp.Status)
	s.Equal([]int64{1, 2, 3, 4, 5}, cp.CompromisedSeqs,
		"the unreadable bundle's range is flagged; the hot tail verifies via the bundle's boundary hash")
	s.Equal(bundle.LastSeq, cp.CompromisedSeqs[len(cp.CompromisedSeqs)-1])
}

func (s *VerifierSuite) TestRangeBusyWhileArchiverHoldsGuard() {
	s.append(3)
	s.Require().True(s.guard.TryAcquire())
	defer s.guard.Release()

	_, err := s.verifier.VerifyRange(context.Background(), 0, 0)
	s.Require().ErrorIs(err, sentinel.ErrRangeBusy)
}

func (s *VerifierSuite) TestHashChangesAfterArchivalStayDetectable() {
	appended := s.append(8)

	_, err := s.archiver.ArchiveOlderThan(context.Background(), appended[4].Timestamp)
	s.Require().NoError(err)

	// Tamper in the surviving hot range.
	s.Require().NoError(s.entries.Tamper(6, func(e *models.Entry) {
		e.Description = "edited"
	}))

	cp, err := s.verifier.VerifyRange(context.Background(), 0, 0)
	s.Require().NoError(err)
	s.Equal([]int64{6}, cp.CompromisedSeqs)
}

// corruptBundleFile flips bytes in the single bundle file under the storage
// dir so its content address no longer matches.
func (s *VerifierSuite) corruptBundleFile() {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.jsonl.gz"))
	s.Require().NoError(err)
	s.Require().Len(matches, 1)

	data, err := os.ReadFile(matches[0])
	s.Require().NoError(err)
	data[len(data)/2] ^= 0xFF
	s.Require().NoError(os.WriteFile(matches[0], data, 0o640))
}

func TestPrevHashBeforeUsesBundleBoundary(t *testing.T) {
	chain, err := hash.New(hash.EpochSHA256)
	require.NoError(t, err)

	entries := entry.NewInMemoryStore(chain)
	index := bundleindex.NewInMemoryIndex()
	checkpoints := checkpoint.NewInMemoryStore()

	dir := t.TempDir()
	storage, err := archive.NewFSStorage(dir)
	require.NoError(t, err)

	guard := archive.NewRangeGuard()
	logger := slog.New(slog.DiscardHandler)
	archiver := archive.NewArchiver(entries, index, storage, guard, logger)
	verifier := New(entries, checkpoints, index, archive.NewReader(index, storage), chain, guard, logger)

	var appended []models.Entry
	for i := 0; i < 6; i++ {
		e, err := entries.Append(context.Background(), models.Draft{
			ActorID:      "svc",
			ActorRole:    "service",
			Action:       "config.update",
			Category:     models.CategorySystemEvent,
			ResourceType: "config",
			RiskLevel:    models.RiskLow,
		})
		require.NoError(t, err)
		appended = append(appended, e)
	}

	bundle, err := archiver.ArchiveOlderThan(context.Background(), appended[3].Timestamp)
	require.NoError(t, err)
	require.Equal(t, int64(3), bundle.LastSeq)

	// Remove the bundle file: resolving the predecessor of seq 4 must not
	// need the bundle contents, only its recorded boundary hash.
	matches, err := filepath.Glob(filepath.Join(dir, "*.jsonl.gz"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.NoError(t, os.Remove(matches[0]))

	cp, err := verifier.VerifyRange(context.Background(), 4, 6)
	require.NoError(t, err)
	require.Equal(t, models.CheckpointValid, cp.Status)
	require.True(t, strings.HasPrefix(cp.ChainHash, hash.EpochSHA256+":"))
	require.Equal(t, appended[5].EntryHash, cp.ChainHash)

	// Deadline behavior: timestamps on the surviving checkpoint are recent.
	require.WithinDuration(t, time.Now().UTC(), cp.CreatedAt, time.Minute)
}
