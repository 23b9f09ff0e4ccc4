// Package config loads and validates server configuration. Values merge
// from an optional YAML file and environment variables, with the
// environment taking precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"custos/internal/trail/models"
)

// Defaults for non-secret settings.
const (
	DefaultAddr             = ":8080"
	DefaultRetentionDays    = 2555 // seven years
	DefaultMaxVerifyPerRun  = 10000
	DefaultVerifyInterval   = 5 * time.Minute
	DefaultArchiveInterval  = time.Hour
	DefaultAlertTopic       = "custos.audit.alerts"
	DefaultArchiveDir       = "./archive"
	DefaultDefaultRiskLevel = "low"
)

var (
	ErrInvalidRetention   = errors.New("retention_period_days must be positive")
	ErrInvalidRiskLevel   = errors.New("default_audit_level must be a known risk level")
	ErrInvalidVerifyRun   = errors.New("max_entries_per_verification_run must be positive")
	ErrMissingJWTKey      = errors.New("jwt_signing_key is required outside development")
	ErrIncompleteS3       = errors.New("s3 settings require bucket, access_key_id, and secret_access_key together")
	ErrInvalidListenAddr  = errors.New("listen_addr must not be empty")
	ErrInvalidHoursWindow = errors.New("business_hours must satisfy 0 <= start < end <= 24")
)

// S3 configures the optional object-storage archive backend. When Bucket is
// empty, bundles go to the local archive_dir instead.
type S3 struct {
	Bucket          string `koanf:"bucket"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
	Endpoint        string `koanf:"endpoint"`
	Region          string `koanf:"region"`
	Prefix          string `koanf:"prefix"`
}

// Alerts tunes the pattern rules. The watched actions are configuration so
// deployments can point the threshold rule at their own suspicious action
// (failed logins, exports, deletions) without a code change.
type Alerts struct {
	ThresholdAction string        `koanf:"threshold_action"`
	ThresholdLimit  int           `koanf:"threshold_limit"`
	ThresholdWindow time.Duration `koanf:"threshold_window"`
	SequenceFirst   string        `koanf:"sequence_first"`
	SequenceThen    string        `koanf:"sequence_then"`
	SequenceWindow  time.Duration `koanf:"sequence_window"`
	HighRiskLimit   int           `koanf:"high_risk_limit"`
	HighRiskWindow  time.Duration `koanf:"high_risk_window"`
	InboxSize       int           `koanf:"inbox_size"`
}

// Risk tunes the classifier.
type Risk struct {
	HighRiskActions    []string `koanf:"high_risk_actions"`
	AdminMarker        string   `koanf:"admin_marker"`
	BusinessHoursStart int      `koanf:"business_hours_start"`
	BusinessHoursEnd   int      `koanf:"business_hours_end"`
	CriticalThreshold  int      `koanf:"critical_threshold"`
	HighThreshold      int      `koanf:"high_threshold"`
	MediumThreshold    int      `koanf:"medium_threshold"`
}

// Config is the full server configuration.
type Config struct {
	Env        string `koanf:"env"`
	ListenAddr string `koanf:"listen_addr"`
	LogLevel   string `koanf:"log_level"`

	DatabaseURL string `koanf:"database_url"`
	RedisURL    string `koanf:"redis_url"`

	KafkaBrokers []string `koanf:"kafka_brokers"`
	AlertTopic   string   `koanf:"alert_topic"`

	JWTSigningKey string `koanf:"jwt_signing_key"`

	HashEpoch string `koanf:"hash_epoch"`

	ArchiveDir string `koanf:"archive_dir"`
	S3         S3     `koanf:"s3"`

	RetentionPeriodDays          int           `koanf:"retention_period_days"`
	VerifyInterval               time.Duration `koanf:"verify_interval"`
	ArchiveInterval              time.Duration `koanf:"archive_interval"`
	MaxEntriesPerVerificationRun int           `koanf:"max_entries_per_verification_run"`

	DefaultAuditLevel string   `koanf:"default_audit_level"`
	SensitiveFields   []string `koanf:"sensitive_fields"`
	ActionVocabulary  []string `koanf:"action_vocabulary"`

	Risk   Risk   `koanf:"risk"`
	Alerts Alerts `koanf:"alerts"`
}

// Load reads the optional YAML file at path, applies environment overrides,
// fills defaults, and validates. An empty path skips the file.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	cfg := defaults()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(cfg)
	fillZeroes(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Env:                          "development",
		ListenAddr:                   DefaultAddr,
		LogLevel:                     "info",
		AlertTopic:                   DefaultAlertTopic,
		HashEpoch:                    "sha256",
		ArchiveDir:                   DefaultArchiveDir,
		RetentionPeriodDays:          DefaultRetentionDays,
		VerifyInterval:               DefaultVerifyInterval,
		ArchiveInterval:              DefaultArchiveInterval,
		MaxEntriesPerVerificationRun: DefaultMaxVerifyPerRun,
		DefaultAuditLevel:            DefaultDefaultRiskLevel,
		SensitiveFields: []string{
			"password", "token", "secret", "api_key", "ssn", "credit_card",
		},
		Risk: Risk{
			BusinessHoursStart: 6,
			BusinessHoursEnd:   22,
		},
		Alerts: Alerts{
			ThresholdAction: "delete",
			ThresholdLimit:  3,
			ThresholdWindow: time.Minute,
			SequenceFirst:   "export",
			SequenceThen:    "delete",
			SequenceWindow:  10 * time.Minute,
			HighRiskLimit:   5,
			HighRiskWindow:  time.Hour,
			InboxSize:       1024,
		},
	}
}

// applyEnv overrides file values from the environment. Secrets come from
// the conventional variable names so deployment stays boring.
func applyEnv(cfg *Config) {
	setString(&cfg.Env, "CUSTOS_ENV")
	setString(&cfg.ListenAddr, "CUSTOS_ADDR")
	setString(&cfg.LogLevel, "CUSTOS_LOG_LEVEL")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.RedisURL, "REDIS_URL")
	setString(&cfg.JWTSigningKey, "JWT_SIGNING_KEY")
	setString(&cfg.AlertTopic, "CUSTOS_ALERT_TOPIC")
	setString(&cfg.ArchiveDir, "CUSTOS_ARCHIVE_DIR")
	setString(&cfg.HashEpoch, "CUSTOS_HASH_EPOCH")
	setString(&cfg.S3.Bucket, "CUSTOS_S3_BUCKET")
	setString(&cfg.S3.AccessKeyID, "CUSTOS_S3_ACCESS_KEY_ID")
	setString(&cfg.S3.SecretAccessKey, "CUSTOS_S3_SECRET_ACCESS_KEY")
	setString(&cfg.S3.Endpoint, "CUSTOS_S3_ENDPOINT")
	setString(&cfg.S3.Region, "CUSTOS_S3_REGION")
	setString(&cfg.S3.Prefix, "CUSTOS_S3_PREFIX")
	setInt(&cfg.RetentionPeriodDays, "CUSTOS_RETENTION_DAYS")
	setInt(&cfg.MaxEntriesPerVerificationRun, "CUSTOS_MAX_VERIFY_PER_RUN")

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitCSV(v)
	}
}

// fillZeroes restores defaults explicitly blanked by the file.
func fillZeroes(cfg *Config) {
	def := defaults()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if cfg.VerifyInterval == 0 {
		cfg.VerifyInterval = def.VerifyInterval
	}
	if cfg.ArchiveInterval == 0 {
		cfg.ArchiveInterval = def.ArchiveInterval
	}
	if cfg.Alerts.InboxSize == 0 {
		cfg.Alerts.InboxSize = def.Alerts.InboxSize
	}
	// An empty threshold action would watch every action.
	if cfg.Alerts.ThresholdAction == "" {
		cfg.Alerts.ThresholdAction = def.Alerts.ThresholdAction
	}
	if cfg.Alerts.SequenceFirst == "" || cfg.Alerts.SequenceThen == "" {
		cfg.Alerts.SequenceFirst = def.Alerts.SequenceFirst
		cfg.Alerts.SequenceThen = def.Alerts.SequenceThen
	}
}

// Validate returns the first configuration problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return ErrInvalidListenAddr
	}
	if c.RetentionPeriodDays <= 0 {
		return ErrInvalidRetention
	}
	if c.MaxEntriesPerVerificationRun <= 0 {
		return ErrInvalidVerifyRun
	}
	if !models.RiskLevel(c.DefaultAuditLevel).IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidRiskLevel, c.DefaultAuditLevel)
	}
	if c.JWTSigningKey == "" && c.Env != "development" {
		return ErrMissingJWTKey
	}
	if c.S3.Bucket != "" && (c.S3.AccessKeyID == "" || c.S3.SecretAccessKey == "") {
		return ErrIncompleteS3
	}
	if c.S3.Bucket == "" && (c.S3.AccessKeyID != "" || c.S3.SecretAccessKey != "") {
		return ErrIncompleteS3
	}
	start, end := c.Risk.BusinessHoursStart, c.Risk.BusinessHoursEnd
	if start < 0 || end > 24 || start >= end {
		return fmt.Errorf("%w: start=%d end=%d", ErrInvalidHoursWindow, start, end)
	}
	return nil
}

// Retention returns the retention window as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionPeriodDays) * 24 * time.Hour
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
