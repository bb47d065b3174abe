package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// UsageEvent is shared by the hot store (HES) and the durable store (DS);
// the DS copy is immutable after insert, the HES copy is mutated only to set
// ProcessedAt.
type UsageEvent struct {
	ID             string
	OrganisationID string
	ProjectID      string
	MetricName     string
	MetricValue    decimal.Decimal
	Unit           string
	Timestamp      time.Time
	Metadata       map[string]any
	IdempotencyKey string
	IngestedAt     time.Time
	ProcessedAt    *time.Time
}

// HotEventStore is a write-optimised store for raw events keyed by the
// caller-chosen idempotency key.
type HotEventStore interface {
	Put(ctx context.Context, e *UsageEvent) error
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
	ScanUnprocessed(ctx context.Context, limit int) ([]*UsageEvent, error)
	MarkProcessed(ctx context.Context, ids []string) error
	DeleteProcessedOlderThan(ctx context.Context, age time.Duration) (int64, error)
	// CountByDay counts HES-resident events (processed or not) matching the
	// key, for reconciliation's hot-vs-durable comparison.
	CountByDay(ctx context.Context, organisationID, projectID, metricName string, day time.Time) (int64, error)
}

// UsageEventRepository is the durable-store side of events: insert-only,
// queried for reconciliation and aggregate rebuilds.
type UsageEventRepository interface {
	InsertBatch(ctx context.Context, events []*UsageEvent) (insertedOrExisting []string, err error)
	CountByDay(ctx context.Context, organisationID, projectID, metricName string, day time.Time) (int64, error)
	ListForAggregateRebuild(ctx context.Context, organisationID, projectID, metricName, unit string, month, year int) ([]*UsageEvent, error)
	// SumByPeriod totals metric_value over [from, to) for the alert
	// evaluator, which compares hour/day/week/month windows that don't
	// align with the monthly aggregate buckets.
	SumByPeriod(ctx context.Context, organisationID, metricName, unit string, from, to time.Time) (decimal.Decimal, error)
}
