package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custos/internal/trail/hash"
	"custos/internal/trail/masker"
	"custos/internal/trail/models"
	"custos/internal/trail/ports"
	"custos/internal/trail/risk"
	"custos/internal/trail/store/entry"
	"custos/pkg/requestcontext"
	"custos/pkg/sentinel"
)

type RecorderSuite struct {
	suite.Suite

	chain    *hash.Chain
	store    *entry.InMemoryStore
	alerts   *captureEnqueuer
	recorder *Recorder
}

func TestRecorderSuite(t *testing.T) {
	suite.Run(t, new(RecorderSuite))
}

func (s *RecorderSuite) SetupTest() {
	chain, err := hash.New(hash.EpochSHA256)
	s.Require().NoError(err)
	s.chain = chain

	s.store = entry.NewInMemoryStore(chain)
	s.alerts = &captureEnqueuer{}
	s.recorder = NewRecorder(
		s.store,
		masker.New([]string{"password", "ssn"}),
		risk.New(risk.Defaults()),
		WithLogger(slog.New(slog.DiscardHandler)),
		WithAlerts(s.alerts),
	)
}

func (s *RecorderSuite) request() Request {
	return Request{
		ActorID:      "alice",
		ActorRole:    "operator",
		Action:       "record.update",
		Category:     models.CategoryDataChange,
		ResourceType: "record",
		ResourceID:   "r-42",
		Before:       map[string]any{"name": "old", "password": "hunter2"},
		After:        map[string]any{"name": "new", "password": "hunter3"},
	}
}

func (s *RecorderSuite) TestRecordAppendsAndReturnsIdentity() {
	res, err := s.recorder.Record(context.Background(), s.request())
	s.Require().NoError(err)

	s.NotZero(res.AuditID)
	s.Equal(int64(1), res.Seq)
	s.NotEmpty(res.EntryHash)
	s.True(res.RiskLevel.IsValid())

	got, _, err := s.recorder.List(context.Background(), models.Filter{})
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(res.AuditID, got[0].ID)
	s.Equal(res.EntryHash, got[0].EntryHash)
}

func (s *RecorderSuite) TestSensitiveValuesNeverReachTheStore() {
	_, err := s.recorder.Record(context.Background(), s.request())
	s.Require().NoError(err)

	got, err := s.store.Range(context.Background(), 1, 1, 1)
	s.Require().NoError(err)
	s.Require().Len(got, 1)

	e := got[0]
	s.Equal(masker.Marker, e.Before["password"])
	s.Equal(masker.Marker, e.After["password"])
	s.Equal("old", e.Before["name"])

	// The hash covers the masked representation: verification works
	// without ever seeing the original values.
	ok, err := s.chain.Verify(e, s.chain.Genesis())
	s.Require().NoError(err)
	s.True(ok)
}

func (s *RecorderSuite) TestRiskIsClassifiedAtRecordTime() {
	noon := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), noon)

	req := s.request()
	req.Action = "delete"
	res, err := s.recorder.Record(ctx, req)
	s.Require().NoError(err)
	s.GreaterOrEqual(res.RiskLevel.Rank(), models.RiskHigh.Rank())

	req = s.request()
	req.Action = "record.read"
	req.Category = models.CategoryUserAction
	res, err = s.recorder.Record(ctx, req)
	s.Require().NoError(err)
	s.Equal(models.RiskLow, res.RiskLevel)
}

func (s *RecorderSuite) TestOriginFallsBackToRequestContext() {
	ctx := requestcontext.WithClientIP(context.Background(), "203.0.113.9")
	ctx = requestcontext.WithClientSignature(ctx, "cli/2.1")

	res, err := s.recorder.Record(ctx, s.request())
	s.Require().NoError(err)

	got, err := s.store.Range(context.Background(), res.Seq, res.Seq, 1)
	s.Require().NoError(err)
	s.Equal("203.0.113.9", got[0].Origin.IP)
	s.Equal("cli/2.1", got[0].Origin.ClientSignature)
}

func (s *RecorderSuite) TestExplicitOriginWins() {
	ctx := requestcontext.WithClientIP(context.Background(), "203.0.113.9")

	req := s.request()
	req.Origin = models.Origin{IP: "198.51.100.7"}
	res, err := s.recorder.Record(ctx, req)
	s.Require().NoError(err)

	got, err := s.store.Range(context.Background(), res.Seq, res.Seq, 1)
	s.Require().NoError(err)
	s.Equal("198.51.100.7", got[0].Origin.IP)
}

func (s *RecorderSuite) TestDurableEntriesFlowToTheAlertEngine() {
	res, err := s.recorder.Record(context.Background(), s.request())
	s.Require().NoError(err)

	enqueued := s.alerts.entries()
	s.Require().Len(enqueued, 1)
	s.Equal(res.Seq, enqueued[0].Seq)
	s.Equal(masker.Marker, enqueued[0].After["password"], "rules see the masked entry")
}

func (s *RecorderSuite) TestValidationRejections() {
	cases := []struct {
		name   string
		mutate func(*Request)
	}{
		{"missing action", func(r *Request) { r.Action = " " }},
		{"missing resource type", func(r *Request) { r.ResourceType = "" }},
		{"unknown category", func(r *Request) { r.Category = "telemetry" }},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			req := s.request()
			tc.mutate(&req)
			_, err := s.recorder.Record(context.Background(), req)
			s.Require().ErrorIs(err, sentinel.ErrValidation)
		})
	}

	s.Empty(s.alerts.entries(), "rejected requests never reach the alert engine")
}

func (s *RecorderSuite) TestVocabularyRestrictsActions() {
	restricted := NewRecorder(
		s.store,
		masker.New(nil),
		risk.New(risk.Defaults()),
		WithLogger(slog.New(slog.DiscardHandler)),
		WithVocabulary([]string{"login", "logout", "record.update"}),
	)

	req := s.request()
	req.Action = "record.obliterate"
	_, err := restricted.Record(context.Background(), req)
	s.Require().ErrorIs(err, sentinel.ErrValidation)

	req.Action = "Record.Update" // vocabulary matching is case-insensitive
	_, err = restricted.Record(context.Background(), req)
	s.Require().NoError(err)
}

func (s *RecorderSuite) TestStoreFailureMeansNotRecorded() {
	failing := NewRecorder(
		&unavailableStore{},
		masker.New(nil),
		risk.New(risk.Defaults()),
		WithLogger(slog.New(slog.DiscardHandler)),
		WithAlerts(s.alerts),
	)

	_, err := failing.Record(context.Background(), s.request())
	s.Require().ErrorIs(err, sentinel.ErrStoreUnavailable)
	s.Empty(s.alerts.entries(), "nothing is enqueued for an entry that was not persisted")
}

func (s *RecorderSuite) TestListRejectsUnknownFilterValues() {
	_, _, err := s.recorder.List(context.Background(), models.Filter{Category: "telemetry"})
	s.Require().ErrorIs(err, sentinel.ErrValidation)

	_, _, err = s.recorder.List(context.Background(), models.Filter{RiskLevel: "extreme"})
	s.Require().ErrorIs(err, sentinel.ErrValidation)
}

type captureEnqueuer struct {
	mu   sync.Mutex
	seen []models.Entry
}

func (c *captureEnqueuer) Enqueue(e models.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, e)
}

func (c *captureEnqueuer) entries() []models.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Entry(nil), c.seen...)
}

// unavailableStore fails every append the way a down database would.
type unavailableStore struct{}

var _ ports.EntryStore = (*unavailableStore)(nil)

func (s *unavailableStore) Append(context.Context, models.Draft) (models.Entry, error) {
	return models.Entry{}, fmt.Errorf("%w: connection refused", sentinel.ErrStoreUnavailable)
}

func (s *unavailableStore) Query(context.Context, models.Filter) ([]models.Entry, int64, error) {
	return nil, 0, fmt.Errorf("%w: connection refused", sentinel.ErrStoreUnavailable)
}

func (s *unavailableStore) Range(context.Context, int64, int64, int) ([]models.Entry, error) {
	return nil, fmt.Errorf("%w: connection refused", sentinel.ErrStoreUnavailable)
}

func (s *unavailableStore) Tip(context.Context) (int64, string, error) {
	return 0, "", fmt.Errorf("%w: connection refused", sentinel.ErrStoreUnavailable)
}

func (s *unavailableStore) Bounds(context.Context) (int64, int64, error) {
	return 0, 0, fmt.Errorf("%w: connection refused", sentinel.ErrStoreUnavailable)
}

func (s *unavailableStore) DeleteRange(context.Context, int64, int64) error {
	return fmt.Errorf("%w: connection refused", sentinel.ErrStoreUnavailable)
}
