// Package report aggregates the audit trail into compliance reports. Reads
// go through the hot store and, when asked, transparently through archived
// bundles, so a report over an old period does not depend on retention
// trims.
package report

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"custos/internal/trail/archive"
	"custos/internal/trail/metrics"
	"custos/internal/trail/models"
	"custos/internal/trail/ports"
)

// pageSize bounds hot-store reads while aggregating.
const pageSize = 1000

// Criteria narrows what a report covers. Zero time bounds mean unbounded.
type Criteria struct {
	From            time.Time       `json:"from,omitempty"`
	To              time.Time       `json:"to,omitempty"`
	ActorID         string          `json:"actor_id,omitempty"`
	Category        models.Category `json:"category,omitempty"`
	IncludeArchived bool            `json:"include_archived,omitempty"`
}

// Report is the aggregate view over the matched entries.
type Report struct {
	GeneratedAt    time.Time                `json:"generated_at"`
	Criteria       Criteria                 `json:"criteria"`
	TotalEntries   int                      `json:"total_entries"`
	UniqueActors   int                      `json:"unique_actors"`
	FirstTimestamp time.Time                `json:"first_timestamp,omitzero"`
	LastTimestamp  time.Time                `json:"last_timestamp,omitzero"`
	ByActor        map[string]int           `json:"by_actor"`
	ByAction       map[string]int           `json:"by_action"`
	ByRisk         map[models.RiskLevel]int `json:"by_risk"`
	ByDay          map[string]int           `json:"by_day"`
}

// Generator builds reports from the hot store and the archive reader.
type Generator struct {
	entries ports.EntryStore
	reader  *archive.Reader
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// Option configures the generator.
type Option func(*Generator)

// WithMetrics wires the trail metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

// New wires a generator. reader may be nil when archival is not configured;
// IncludeArchived is then ignored.
func New(entries ports.EntryStore, reader *archive.Reader, opts ...Option) *Generator {
	g := &Generator{
		entries: entries,
		reader:  reader,
		tracer:  otel.Tracer("custos/trail/report"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate aggregates every entry matching the criteria.
func (g *Generator) Generate(ctx context.Context, c Criteria) (Report, error) {
	ctx, span := g.tracer.Start(ctx, "report.generate")
	defer span.End()

	rep := Report{
		GeneratedAt: time.Now().UTC(),
		Criteria:    c,
		ByActor:     make(map[string]int),
		ByAction:    make(map[string]int),
		ByRisk:      make(map[models.RiskLevel]int),
		ByDay:       make(map[string]int),
	}
	actors := make(map[string]struct{})

	// lastSeq guards against double counting when a bundle's hot rows were
	// written but not yet trimmed.
	var lastSeq int64

	if c.IncludeArchived && g.reader != nil {
		end, err := g.archivedEnd(ctx)
		if err != nil {
			return Report{}, err
		}
		if end > 0 {
			err := g.reader.EntriesInRange(ctx, 1, end, func(e models.Entry) error {
				if matches(c, e) {
					accumulate(&rep, actors, e)
				}
				lastSeq = e.Seq
				return nil
			})
			if err != nil {
				return Report{}, fmt.Errorf("aggregate archived entries: %w", err)
			}
		}
	}

	filter := models.Filter{
		ActorID:  c.ActorID,
		Category: c.Category,
		From:     c.From,
		To:       c.To,
		Limit:    pageSize,
		Cursor:   lastSeq,
	}
	for {
		page, next, err := g.entries.Query(ctx, filter)
		if err != nil {
			return Report{}, fmt.Errorf("aggregate hot entries: %w", err)
		}
		for _, e := range page {
			accumulate(&rep, actors, e)
		}
		if next == 0 {
			break
		}
		filter.Cursor = next
	}

	rep.UniqueActors = len(actors)
	span.SetAttributes(attribute.Int("total_entries", rep.TotalEntries))
	if g.metrics != nil {
		g.metrics.ReportsGenerated.Inc()
	}
	return rep, nil
}

// archivedEnd returns the last sequence that lives only in the archive.
func (g *Generator) archivedEnd(ctx context.Context) (int64, error) {
	hotFirst, _, err := g.entries.Bounds(ctx)
	if err != nil {
		return 0, fmt.Errorf("read hot bounds: %w", err)
	}
	if hotFirst > 0 {
		return hotFirst - 1, nil
	}
	// Hot store empty: everything up to the tip is archive-only.
	tipSeq, _, err := g.entries.Tip(ctx)
	if err != nil {
		return 0, fmt.Errorf("read tip: %w", err)
	}
	return tipSeq, nil
}

func accumulate(rep *Report, actors map[string]struct{}, e models.Entry) {
	rep.TotalEntries++
	rep.ByAction[e.Action]++
	rep.ByRisk[e.RiskLevel]++
	rep.ByDay[e.Timestamp.UTC().Format("2006-01-02")]++
	if e.ActorID != "" {
		rep.ByActor[e.ActorID]++
		actors[e.ActorID] = struct{}{}
	}

	ts := e.Timestamp.UTC()
	if rep.FirstTimestamp.IsZero() || ts.Before(rep.FirstTimestamp) {
		rep.FirstTimestamp = ts
	}
	if ts.After(rep.LastTimestamp) {
		rep.LastTimestamp = ts
	}
}

func matches(c Criteria, e models.Entry) bool {
	if c.ActorID != "" && e.ActorID != c.ActorID {
		return false
	}
	if c.Category != "" && e.Category != c.Category {
		return false
	}
	if !c.From.IsZero() && e.Timestamp.Before(c.From) {
		return false
	}
	if !c.To.IsZero() && !e.Timestamp.Before(c.To) {
		return false
	}
	return true
}
