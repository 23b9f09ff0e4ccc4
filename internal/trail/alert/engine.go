package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"custos/internal/trail/models"
	"custos/internal/trail/ports"
)

var (
	inboxDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "custos_alert_inbox_dropped_total",
		Help: "Entries dropped because the alert inbox was full",
	})
	alertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custos_alerts_raised_total",
		Help: "Alerts raised, by rule and severity",
	}, []string{"rule", "severity"})
	ruleFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custos_alert_rule_failures_total",
		Help: "Rule evaluations that errored, by rule",
	}, []string{"rule"})
)

const defaultInboxSize = 1024

// Engine evaluates rules against appended entries, off the request path.
// Enqueue never blocks: when the inbox is full the entry is dropped and
// counted. The audit entry itself is already durable at that point; only
// pattern detection is lossy under pressure.
type Engine struct {
	rules    []Rule
	store    ports.AlertStore
	notifier ports.AlertNotifier
	logger   *slog.Logger

	inbox chan models.Entry
	wg    sync.WaitGroup
}

// EngineOption configures the engine.
type EngineOption func(*engineConfig)

type engineConfig struct {
	inboxSize int
}

// WithInboxSize overrides the inbox capacity.
func WithInboxSize(n int) EngineOption {
	return func(c *engineConfig) {
		if n > 0 {
			c.inboxSize = n
		}
	}
}

// NewEngine wires the engine. notifier may be nil when no alert feed is
// configured.
func NewEngine(store ports.AlertStore, notifier ports.AlertNotifier, logger *slog.Logger, rules []Rule, opts ...EngineOption) *Engine {
	cfg := engineConfig{inboxSize: defaultInboxSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{
		rules:    rules,
		store:    store,
		notifier: notifier,
		logger:   logger,
		inbox:    make(chan models.Entry, cfg.inboxSize),
	}
}

// Start launches the worker. ctx cancellation stops it after the current
// evaluation.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-e.inbox:
				if !ok {
					return
				}
				e.process(ctx, entry)
			}
		}
	}()
}

// Stop closes the inbox and waits for the worker to finish the entries it
// already accepted.
func (e *Engine) Stop() {
	close(e.inbox)
	e.wg.Wait()
}

// Enqueue submits an entry for evaluation without blocking.
func (e *Engine) Enqueue(entry models.Entry) {
	select {
	case e.inbox <- entry:
	default:
		inboxDropped.Inc()
		e.logger.Warn("alert inbox full, entry not evaluated", "seq", entry.Seq)
	}
}

func (e *Engine) process(ctx context.Context, entry models.Entry) {
	for _, rule := range e.rules {
		raised, err := rule.Evaluate(ctx, entry)
		if err != nil {
			ruleFailures.WithLabelValues(rule.ID()).Inc()
			e.logger.ErrorContext(ctx, "alert rule evaluation failed",
				"rule", rule.ID(), "seq", entry.Seq, "error", err)
			continue
		}
		for _, a := range raised {
			e.raise(ctx, a)
		}
	}
}

func (e *Engine) raise(ctx context.Context, a models.AlertRecord) {
	a.ID = uuid.New()
	a.CreatedAt = time.Now().UTC()

	if err := e.store.Append(ctx, a); err != nil {
		e.logger.ErrorContext(ctx, "alert not persisted",
			"rule", a.RuleID, "seq", a.EntrySeq, "error", err)
		return
	}
	if e.notifier != nil {
		e.notifier.Notify(ctx, a)
	}

	alertsRaised.WithLabelValues(a.RuleID, string(a.Severity)).Inc()
	e.logger.WarnContext(ctx, "alert raised",
		"rule", a.RuleID,
		"actor_id", a.ActorID,
		"severity", a.Severity,
		"seq", a.EntrySeq,
	)
}
