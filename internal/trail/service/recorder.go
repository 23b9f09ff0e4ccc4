// Package service orchestrates the record path: validate, mask, classify,
// append, then hand the durable entry to the alert engine. The entry is
// either fully recorded or the caller gets an error; there is no partial
// write.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"custos/internal/trail/masker"
	"custos/internal/trail/metrics"
	"custos/internal/trail/models"
	"custos/internal/trail/ports"
	"custos/internal/trail/risk"
	"custos/pkg/requestcontext"
	"custos/pkg/sentinel"
)

// Request is one action to record. Actor, session, and origin fields are
// optional; Action and ResourceType are not.
type Request struct {
	ActorID        string
	ActorRole      string
	SessionID      string
	Action         string
	Category       models.Category
	ResourceType   string
	ResourceID     string
	Before         map[string]any
	After          map[string]any
	Description    string
	Origin         models.Origin
	ComplianceTags []string
	BatchID        string
}

// RecordResult identifies the recorded entry.
type RecordResult struct {
	AuditID   uuid.UUID        `json:"audit_id"`
	Seq       int64            `json:"seq"`
	RiskLevel models.RiskLevel `json:"risk_level"`
	EntryHash string           `json:"entry_hash"`
}

// Enqueuer receives durable entries for async pattern evaluation.
type Enqueuer interface {
	Enqueue(models.Entry)
}

// Recorder is the ingestion service.
type Recorder struct {
	store      ports.EntryStore
	masker     *masker.Masker
	classifier *risk.Classifier
	alerts     Enqueuer
	vocabulary map[string]struct{}
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

// Option configures the Recorder.
type Option func(*Recorder)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) { r.logger = logger }
}

// WithVocabulary restricts Action to the given set. An empty set accepts
// any non-empty action.
func WithVocabulary(actions []string) Option {
	return func(r *Recorder) {
		if len(actions) == 0 {
			return
		}
		r.vocabulary = make(map[string]struct{}, len(actions))
		for _, a := range actions {
			r.vocabulary[strings.ToLower(a)] = struct{}{}
		}
	}
}

// WithAlerts wires async alert evaluation.
func WithAlerts(e Enqueuer) Option {
	return func(r *Recorder) { r.alerts = e }
}

// WithMetrics wires the trail metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// NewRecorder builds the ingestion service.
func NewRecorder(store ports.EntryStore, msk *masker.Masker, classifier *risk.Classifier, opts ...Option) *Recorder {
	r := &Recorder{
		store:      store,
		masker:     msk,
		classifier: classifier,
		logger:     slog.Default(),
		tracer:     otel.Tracer("custos/trail/service"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record validates, masks, classifies, and appends one entry. On error the
// action is NOT recorded and callers must treat it that way.
func (r *Recorder) Record(ctx context.Context, req Request) (RecordResult, error) {
	ctx, span := r.tracer.Start(ctx, "trail.record")
	defer span.End()

	if err := r.validate(req); err != nil {
		return RecordResult{}, err
	}

	draft := models.Draft{
		ID:             uuid.New(),
		ActorID:        req.ActorID,
		ActorRole:      req.ActorRole,
		SessionID:      req.SessionID,
		Action:         req.Action,
		Category:       req.Category,
		ResourceType:   req.ResourceType,
		ResourceID:     req.ResourceID,
		Before:         req.Before,
		After:          req.After,
		Description:    req.Description,
		Origin:         req.Origin,
		ComplianceTags: req.ComplianceTags,
		BatchID:        req.BatchID,
	}
	if draft.Origin.IP == "" {
		draft.Origin.IP = requestcontext.ClientIP(ctx)
	}
	if draft.Origin.ClientSignature == "" {
		draft.Origin.ClientSignature = requestcontext.ClientSignature(ctx)
	}

	// Mask before classify and hash: the stored and hashed representation
	// never contains the sensitive values.
	draft = r.masker.Mask(draft)
	draft.RiskLevel = r.classifier.Classify(draft.Action, draft.Category, requestcontext.Now(ctx))

	start := time.Now()
	entry, err := r.store.Append(ctx, draft)
	if r.metrics != nil {
		r.metrics.AppendDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordFailures.Inc()
		}
		r.logger.ErrorContext(ctx, "audit entry not recorded",
			"action", req.Action,
			"resource_type", req.ResourceType,
			"error", err,
		)
		return RecordResult{}, fmt.Errorf("append entry: %w", err)
	}

	if r.alerts != nil {
		r.alerts.Enqueue(entry)
	}
	if r.metrics != nil {
		r.metrics.EntriesRecorded.WithLabelValues(string(entry.Category), string(entry.RiskLevel)).Inc()
	}

	span.SetAttributes(
		attribute.Int64("seq", entry.Seq),
		attribute.String("risk_level", string(entry.RiskLevel)),
	)
	r.logger.InfoContext(ctx, "audit entry recorded",
		"seq", entry.Seq,
		"action", entry.Action,
		"category", entry.Category,
		"risk_level", entry.RiskLevel,
	)
	return RecordResult{
		AuditID:   entry.ID,
		Seq:       entry.Seq,
		RiskLevel: entry.RiskLevel,
		EntryHash: entry.EntryHash,
	}, nil
}

// List pages through recorded entries.
func (r *Recorder) List(ctx context.Context, filter models.Filter) ([]models.Entry, int64, error) {
	if filter.Category != "" && !filter.Category.IsValid() {
		return nil, 0, fmt.Errorf("%w: unknown category %q", sentinel.ErrValidation, filter.Category)
	}
	if filter.RiskLevel != "" && !filter.RiskLevel.IsValid() {
		return nil, 0, fmt.Errorf("%w: unknown risk level %q", sentinel.ErrValidation, filter.RiskLevel)
	}
	return r.store.Query(ctx, filter)
}

func (r *Recorder) validate(req Request) error {
	if strings.TrimSpace(req.Action) == "" {
		return fmt.Errorf("%w: action is required", sentinel.ErrValidation)
	}
	if strings.TrimSpace(req.ResourceType) == "" {
		return fmt.Errorf("%w: resource_type is required", sentinel.ErrValidation)
	}
	if !req.Category.IsValid() {
		return fmt.Errorf("%w: unknown category %q", sentinel.ErrValidation, req.Category)
	}
	if r.vocabulary != nil {
		if _, ok := r.vocabulary[strings.ToLower(req.Action)]; !ok {
			return fmt.Errorf("%w: action %q not in vocabulary", sentinel.ErrValidation, req.Action)
		}
	}
	return nil
}
