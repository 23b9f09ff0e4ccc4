// Package scheduler drives the periodic background jobs: incremental chain
// verification and retention archival. A run that finds nothing to do, or
// loses the range guard to the other job, is not an error.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"custos/internal/trail/archive"
	"custos/internal/trail/metrics"
	"custos/internal/trail/models"
	"custos/internal/trail/ports"
	"custos/internal/trail/verify"
	"custos/pkg/sentinel"
)

// Config holds the job cadence and retention window.
type Config struct {
	VerifyInterval  time.Duration
	ArchiveInterval time.Duration
	Retention       time.Duration
}

// Scheduler owns the background job loops.
type Scheduler struct {
	cfg      Config
	verifier *verify.Verifier
	archiver *archive.Archiver
	alerts   ports.AlertStore
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New wires the scheduler. metrics may be nil.
func New(cfg Config, verifier *verify.Verifier, archiver *archive.Archiver, alerts ports.AlertStore, m *metrics.Metrics, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		verifier: verifier,
		archiver: archiver,
		alerts:   alerts,
		metrics:  m,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled, running both job loops.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.cfg.VerifyInterval > 0 {
		g.Go(func() error { return s.loop(ctx, s.cfg.VerifyInterval, s.runVerify) })
	}
	if s.cfg.ArchiveInterval > 0 && s.cfg.Retention > 0 {
		g.Go(func() error { return s.loop(ctx, s.cfg.ArchiveInterval, s.runArchive) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Scheduler) loop(ctx context.Context, every time.Duration, job func(context.Context)) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			job(ctx)
		}
	}
}

func (s *Scheduler) runVerify(ctx context.Context) {
	s.refreshAlertGauge(ctx)

	cp, err := s.verifier.VerifyIncremental(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrRangeBusy) {
			s.logger.DebugContext(ctx, "verification skipped, range busy")
			return
		}
		s.logger.ErrorContext(ctx, "scheduled verification failed", "error", err)
		return
	}

	if s.metrics != nil {
		s.metrics.VerificationRuns.WithLabelValues(string(cp.Status)).Inc()
		s.metrics.CompromisedEntries.Set(float64(len(cp.CompromisedSeqs)))
	}
	if cp.Status == models.CheckpointCompromised {
		s.logger.ErrorContext(ctx, "scheduled verification found a compromised chain",
			"from_seq", cp.FromSeq,
			"last_verified_seq", cp.LastVerifiedSeq,
			"compromised", len(cp.CompromisedSeqs),
		)
	}
}

// refreshAlertGauge samples the unacknowledged alert count on the verify
// cadence. Sampling survives restarts and idempotent double-acks, which an
// increment-on-raise scheme would not.
func (s *Scheduler) refreshAlertGauge(ctx context.Context) {
	if s.metrics == nil || s.alerts == nil {
		return
	}
	n, err := s.alerts.CountUnacknowledged(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "counting unacknowledged alerts failed", "error", err)
		return
	}
	s.metrics.UnacknowledgedAlerts.Set(float64(n))
}

func (s *Scheduler) runArchive(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cfg.Retention)
	bundle, err := s.archiver.ArchiveOlderThan(ctx, cutoff)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			s.logger.DebugContext(ctx, "nothing past retention to archive")
		case errors.Is(err, sentinel.ErrRangeBusy):
			s.logger.DebugContext(ctx, "archival skipped, range busy")
		default:
			if s.metrics != nil {
				s.metrics.ArchiveRuns.WithLabelValues("failed").Inc()
			}
			s.logger.ErrorContext(ctx, "scheduled archival failed", "error", err)
		}
		return
	}

	if s.metrics != nil {
		s.metrics.ArchiveRuns.WithLabelValues("archived").Inc()
		s.metrics.ArchivedEntries.Add(float64(bundle.EntryCount))
	}
}
