package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	EntriesRecorded      *prometheus.CounterVec
	RecordFailures       prometheus.Counter
	AppendDurationMs     prometheus.Histogram
	VerificationRuns     *prometheus.CounterVec
	CompromisedEntries   prometheus.Gauge
	ArchiveRuns          *prometheus.CounterVec
	ArchivedEntries      prometheus.Counter
	ReportsGenerated     prometheus.Counter
	UnacknowledgedAlerts prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		EntriesRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custos_audit_entries_recorded_total",
			Help: "Audit entries appended to the trail, by category and risk level",
		}, []string{"category", "risk_level"}),
		RecordFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custos_audit_record_failures_total",
			Help: "Record requests that failed to append",
		}),
		AppendDurationMs: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custos_audit_append_duration_ms",
			Help:    "Latency of trail appends in milliseconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250},
		}),
		VerificationRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custos_audit_verification_runs_total",
			Help: "Integrity verification runs, by resulting status",
		}, []string{"status"}),
		CompromisedEntries: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "custos_audit_compromised_entries",
			Help: "Compromised sequences reported by the latest verification run",
		}),
		ArchiveRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custos_audit_archive_runs_total",
			Help: "Archival runs, by outcome",
		}, []string{"outcome"}),
		ArchivedEntries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custos_audit_archived_entries_total",
			Help: "Entries moved into archive bundles",
		}),
		ReportsGenerated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custos_audit_reports_generated_total",
			Help: "Compliance reports generated",
		}),
		UnacknowledgedAlerts: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "custos_audit_unacknowledged_alerts",
			Help: "Alerts raised and not yet acknowledged",
		}),
	}
}
