// Command server runs the custos audit trail service: the append-only
// hash-chained log, its HTTP API, and the background verification and
// archival loops.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"custos/internal/platform/config"
	"custos/internal/platform/httpserver"
	"custos/internal/platform/jwtauth"
	"custos/internal/platform/kafka"
	"custos/internal/platform/logger"
	"custos/internal/platform/postgres"
	platformredis "custos/internal/platform/redis"
	"custos/internal/trail/alert"
	"custos/internal/trail/archive"
	"custos/internal/trail/handler"
	"custos/internal/trail/hash"
	"custos/internal/trail/masker"
	"custos/internal/trail/metrics"
	"custos/internal/trail/models"
	"custos/internal/trail/ports"
	"custos/internal/trail/report"
	"custos/internal/trail/risk"
	"custos/internal/trail/scheduler"
	"custos/internal/trail/service"
	alertstore "custos/internal/trail/store/alert"
	"custos/internal/trail/store/bundleindex"
	"custos/internal/trail/store/checkpoint"
	"custos/internal/trail/store/entry"
	"custos/internal/trail/store/window"
	"custos/internal/trail/verify"
)

const (
	tokenIssuer   = "custos"
	tokenAudience = "audit-api"

	shutdownGrace = 10 * time.Second
)

func main() {
	configPath := flag.String("config", os.Getenv("CUSTOS_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	chain, err := hash.New(cfg.HashEpoch)
	if err != nil {
		return fmt.Errorf("hash chain: %w", err)
	}

	health := map[string]handler.HealthCheck{}

	// Stores. Without a database URL everything runs in memory, which is
	// enough for development but loses the trail on restart.
	var (
		entries     ports.EntryStore
		checkpoints ports.CheckpointStore
		alerts      ports.AlertStore
		bundles     ports.ArchiveIndex
	)
	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if db != nil {
		defer db.Close()
		entries = entry.NewPostgres(db, chain)
		checkpoints = checkpoint.NewPostgres(db)
		alerts = alertstore.NewPostgres(db)
		bundles = bundleindex.NewPostgresIndex(db)
		health["postgres"] = db.PingContext
	} else {
		log.Warn("no DATABASE_URL configured, audit trail is in-memory only")
		entries = entry.NewInMemoryStore(chain)
		checkpoints = checkpoint.NewInMemoryStore()
		alerts = alertstore.NewInMemoryStore()
		bundles = bundleindex.NewInMemoryIndex()
	}

	// Sliding-window counters back the pattern rules. Redis makes the
	// thresholds hold fleet-wide; in-memory is per instance.
	var counter ports.WindowCounter
	rc, err := platformredis.New(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if rc != nil {
		defer rc.Close()
		counter = window.NewRedisCounter(rc.Client)
		health["redis"] = rc.Health
	} else {
		counter = window.NewInMemoryCounter()
	}

	var notifier ports.AlertNotifier
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, log)
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		defer producer.Close()
		notifier = alert.NewFeedNotifier(producer, cfg.AlertTopic, log)
	}

	engine := alert.NewEngine(alerts, notifier, log, alertRules(cfg, counter),
		alert.WithInboxSize(cfg.Alerts.InboxSize))
	engine.Start(ctx)
	defer engine.Stop()

	m := metrics.New()

	recorderOpts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithAlerts(engine),
	}
	if len(cfg.ActionVocabulary) > 0 {
		recorderOpts = append(recorderOpts, service.WithVocabulary(cfg.ActionVocabulary))
	}
	recorder := service.NewRecorder(entries,
		masker.New(cfg.SensitiveFields),
		risk.New(riskConfig(cfg)),
		recorderOpts...)

	storage, err := bundleStorage(cfg)
	if err != nil {
		return fmt.Errorf("bundle storage: %w", err)
	}

	guard := archive.NewRangeGuard()
	archiver := archive.NewArchiver(entries, bundles, storage, guard, log)
	reader := archive.NewReader(bundles, storage)
	verifier := verify.New(entries, checkpoints, bundles, reader, chain, guard, log,
		verify.WithMaxPerRun(cfg.MaxEntriesPerVerificationRun))
	reporter := report.New(entries, reader, report.WithMetrics(m))

	h := handler.New(recorder, verifier, archiver, reporter, checkpoints, alerts, bundles, log)
	router := handler.NewRouter(h, jwtauth.New(cfg.JWTSigningKey, tokenIssuer, tokenAudience), log, health)
	srv := httpserver.New(cfg.ListenAddr, router)

	sched := scheduler.New(scheduler.Config{
		VerifyInterval:  cfg.VerifyInterval,
		ArchiveInterval: cfg.ArchiveInterval,
		Retention:       cfg.Retention(),
	}, verifier, archiver, alerts, m, log)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("audit server listening", "addr", cfg.ListenAddr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error { return sched.Run(ctx) })

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// bundleStorage picks S3-compatible cold storage when a bucket is configured
// and the local filesystem otherwise.
func bundleStorage(cfg *config.Config) (ports.BundleStorage, error) {
	if cfg.S3.Bucket != "" {
		return archive.NewS3Storage(archive.S3Config{
			Bucket:          cfg.S3.Bucket,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
		})
	}
	return archive.NewFSStorage(cfg.ArchiveDir)
}

func riskConfig(cfg *config.Config) risk.Config {
	return risk.Config{
		HighRiskActions:    cfg.Risk.HighRiskActions,
		AdminMarker:        cfg.Risk.AdminMarker,
		BusinessHoursStart: cfg.Risk.BusinessHoursStart,
		BusinessHoursEnd:   cfg.Risk.BusinessHoursEnd,
		Floor:              models.RiskLevel(cfg.DefaultAuditLevel),
		Thresholds: risk.Thresholds{
			Critical: cfg.Risk.CriticalThreshold,
			High:     cfg.Risk.HighThreshold,
			Medium:   cfg.Risk.MediumThreshold,
		},
	}
}

// alertRules builds the shipped pattern rules from configuration.
func alertRules(cfg *config.Config, counter ports.WindowCounter) []alert.Rule {
	return []alert.Rule{
		&alert.ThresholdRule{
			RuleID:   "repeated-" + cfg.Alerts.ThresholdAction,
			Action:   cfg.Alerts.ThresholdAction,
			Limit:    cfg.Alerts.ThresholdLimit,
			Window:   cfg.Alerts.ThresholdWindow,
			Severity: models.SeverityWarning,
			Counter:  counter,
		},
		&alert.SequenceRule{
			RuleID:   cfg.Alerts.SequenceFirst + "-then-" + cfg.Alerts.SequenceThen,
			First:    cfg.Alerts.SequenceFirst,
			Then:     cfg.Alerts.SequenceThen,
			Window:   cfg.Alerts.SequenceWindow,
			Severity: models.SeverityCritical,
			Counter:  counter,
		},
		&alert.HighRiskRule{
			RuleID:  "high-risk-burst",
			Limit:   cfg.Alerts.HighRiskLimit,
			Window:  cfg.Alerts.HighRiskWindow,
			Counter: counter,
		},
	}
}
