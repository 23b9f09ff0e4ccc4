package report

import (
	"context"
	"log/slog"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"custos/internal/trail/archive"
	"custos/internal/trail/hash"
	"custos/internal/trail/metrics"
	"custos/internal/trail/models"
	"custos/internal/trail/store/bundleindex"
	"custos/internal/trail/store/entry"
)

type ReportSuite struct {
	suite.Suite

	entries  *entry.InMemoryStore
	index    *bundleindex.InMemoryIndex
	storage  *archive.FSStorage
	archiver *archive.Archiver
	gen      *Generator
}

func TestReportSuite(t *testing.T) {
	suite.Run(t, new(ReportSuite))
}

func (s *ReportSuite) SetupTest() {
	chain, err := hash.New(hash.EpochSHA256)
	s.Require().NoError(err)

	s.entries = entry.NewInMemoryStore(chain)
	s.index = bundleindex.NewInMemoryIndex()

	storage, err := archive.NewFSStorage(s.T().TempDir())
	s.Require().NoError(err)
	s.storage = storage

	s.archiver = archive.NewArchiver(s.entries, s.index, s.storage,
		archive.NewRangeGuard(), slog.New(slog.DiscardHandler))
	s.gen = New(s.entries, archive.NewReader(s.index, s.storage))
}

func (s *ReportSuite) record(actor, action string, category models.Category, risk models.RiskLevel) models.Entry {
	e, err := s.entries.Append(context.Background(), models.Draft{
		ActorID:      actor,
		ActorRole:    "operator",
		Action:       action,
		Category:     category,
		ResourceType: "record",
		RiskLevel:    risk,
	})
	s.Require().NoError(err)
	return e
}

func (s *ReportSuite) seed() {
	s.record("alice", "record.create", models.CategoryDataChange, models.RiskLow)
	s.record("alice", "record.update", models.CategoryDataChange, models.RiskLow)
	s.record("bob", "record.delete", models.CategoryDataChange, models.RiskHigh)
	s.record("alice", "login", models.CategoryUserAction, models.RiskMedium)
	s.record("", "retention.sweep", models.CategorySystemEvent, models.RiskLow)
}

func (s *ReportSuite) TestAggregatesByActorActionAndRisk() {
	s.seed()

	rep, err := s.gen.Generate(context.Background(), Criteria{})
	s.Require().NoError(err)

	s.Equal(5, rep.TotalEntries)
	s.Equal(2, rep.UniqueActors, "system entries without an actor do not count as actors")
	s.Equal(3, rep.ByActor["alice"])
	s.Equal(1, rep.ByActor["bob"])
	s.Equal(1, rep.ByAction["record.delete"])
	s.Equal(3, rep.ByRisk[models.RiskLow])
	s.Equal(1, rep.ByRisk[models.RiskMedium])
	s.Equal(1, rep.ByRisk[models.RiskHigh])
	s.False(rep.FirstTimestamp.IsZero())
	s.False(rep.LastTimestamp.Before(rep.FirstTimestamp))

	day := time.Now().UTC().Format("2006-01-02")
	s.Equal(5, rep.ByDay[day])
}

func (s *ReportSuite) TestActorCriteriaNarrowsTheReport() {
	s.seed()

	rep, err := s.gen.Generate(context.Background(), Criteria{ActorID: "bob"})
	s.Require().NoError(err)

	s.Equal(1, rep.TotalEntries)
	s.Equal(1, rep.UniqueActors)
	s.Equal(1, rep.ByAction["record.delete"])
	s.Empty(rep.ByActor["alice"])
}

func (s *ReportSuite) TestCategoryCriteriaNarrowsTheReport() {
	s.seed()

	rep, err := s.gen.Generate(context.Background(), Criteria{Category: models.CategoryUserAction})
	s.Require().NoError(err)
	s.Equal(1, rep.TotalEntries)
	s.Equal(1, rep.ByAction["login"])
}

func (s *ReportSuite) TestTimeBoundsAreHalfOpen() {
	first := s.record("alice", "record.create", models.CategoryDataChange, models.RiskLow)
	second := s.record("alice", "record.update", models.CategoryDataChange, models.RiskLow)

	rep, err := s.gen.Generate(context.Background(), Criteria{
		From: first.Timestamp,
		To:   second.Timestamp,
	})
	s.Require().NoError(err)
	s.Equal(1, rep.TotalEntries, "To is exclusive, From inclusive")
	s.Equal(first.Timestamp.UTC(), rep.FirstTimestamp)
}

func (s *ReportSuite) TestReadsThroughArchivedBundles() {
	s.seed()
	all, err := s.entries.Range(context.Background(), 1, 5, 0)
	s.Require().NoError(err)

	// Archive the first three entries out of the hot store.
	_, err = s.archiver.ArchiveOlderThan(context.Background(), all[3].Timestamp)
	s.Require().NoError(err)

	hotOnly, err := s.gen.Generate(context.Background(), Criteria{})
	s.Require().NoError(err)
	s.Equal(2, hotOnly.TotalEntries)

	full, err := s.gen.Generate(context.Background(), Criteria{IncludeArchived: true})
	s.Require().NoError(err)
	s.Equal(5, full.TotalEntries)
	s.Equal(3, full.ByActor["alice"])
	s.Equal(1, full.ByActor["bob"])
}

func (s *ReportSuite) TestGenerateCountsTowardMetrics() {
	// Registers against the default prometheus registry, so build the
	// metrics exactly once in this package's tests.
	m := metrics.New()
	gen := New(s.entries, archive.NewReader(s.index, s.storage), WithMetrics(m))
	s.seed()

	_, err := gen.Generate(context.Background(), Criteria{})
	s.Require().NoError(err)
	_, err = gen.Generate(context.Background(), Criteria{ActorID: "bob"})
	s.Require().NoError(err)

	s.Equal(float64(2), promtest.ToFloat64(m.ReportsGenerated))
}

func (s *ReportSuite) TestEmptyStoreYieldsEmptyReport() {
	rep, err := s.gen.Generate(context.Background(), Criteria{IncludeArchived: true})
	s.Require().NoError(err)
	s.Zero(rep.TotalEntries)
	s.Zero(rep.UniqueActors)
	s.True(rep.FirstTimestamp.IsZero())
}
