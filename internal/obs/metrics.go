package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the counters and histograms for the core components;
// background workers and HTTP handlers take this struct the same way they
// take a zerolog.Logger, so there is exactly one process-wide handle per
// concern.
type Metrics struct {
	IngestRequestsTotal              *prometheus.CounterVec
	IngestLatencySeconds             prometheus.Histogram
	MigrationBatchEvents             prometheus.Histogram
	MigrationRunsTotal               *prometheus.CounterVec
	InvoicesGeneratedTotal           *prometheus.CounterVec
	WebhookRequestsTotal             *prometheus.CounterVec
	PaymentRetriesTotal              *prometheus.CounterVec
	AlertsTriggeredTotal             prometheus.Counter
	ReconciliationDiscrepanciesTotal *prometheus.CounterVec
}

// NewMetrics registers every collector against the default registry. Called
// once at process start; components hold the returned struct, never the
// registry itself.
func NewMetrics() *Metrics {
	return &Metrics{
		IngestRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meterbill",
			Subsystem: "ingest",
			Name:      "requests_total",
			Help:      "Usage event ingest requests by outcome (accepted, duplicate, rejected).",
		}, []string{"outcome"}),
		IngestLatencySeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "meterbill",
			Subsystem: "ingest",
			Name:      "latency_seconds",
			Help:      "Ingest request latency, bounded by a single hot-store write.",
			Buckets:   prometheus.DefBuckets,
		}),
		MigrationBatchEvents: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "meterbill",
			Subsystem: "migration",
			Name:      "batch_events",
			Help:      "Number of events migrated per batch.",
			Buckets:   []float64{1, 10, 100, 500, 1000, 5000},
		}),
		MigrationRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meterbill",
			Subsystem: "migration",
			Name:      "runs_total",
			Help:      "Migration worker runs by outcome (ok, aborted).",
		}, []string{"outcome"}),
		InvoicesGeneratedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meterbill",
			Subsystem: "invoice",
			Name:      "generated_total",
			Help:      "Invoices generated by outcome (created, existing, failed).",
		}, []string{"outcome"}),
		WebhookRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meterbill",
			Subsystem: "payment",
			Name:      "webhook_requests_total",
			Help:      "Gateway webhook deliveries by resulting HTTP status class.",
		}, []string{"status_class"}),
		PaymentRetriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meterbill",
			Subsystem: "payment",
			Name:      "retries_total",
			Help:      "Payment retry attempts by outcome (succeeded, exhausted, failed).",
		}, []string{"outcome"}),
		AlertsTriggeredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "meterbill",
			Subsystem: "alert",
			Name:      "triggered_total",
			Help:      "Alert rules triggered per evaluation pass.",
		}),
		ReconciliationDiscrepanciesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meterbill",
			Subsystem: "reconciliation",
			Name:      "discrepancies_total",
			Help:      "Reconciliation discrepancies recorded by scope.",
		}, []string{"scope"}),
	}
}
