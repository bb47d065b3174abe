package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// UsageAggregate is unique on (OrganisationID, ProjectID, MetricName, Unit,
// Month, Year). It grows monotonically as events land and can always be
// rebuilt deterministically from durable events (used by reconciliation).
type UsageAggregate struct {
	ID             string
	OrganisationID string
	ProjectID      string
	MetricName     string
	Unit           string
	Month          int
	Year           int
	TotalValue     decimal.Decimal
	EventCount     int64
}

type UsageAggregateRepository interface {
	// UpsertDelta adds delta to TotalValue and 1 (or countDelta) to
	// EventCount for the matching key, creating the row if absent. It runs
	// outside any caller transaction; the migration worker's atomic
	// aggregate-with-event update goes through the Postgres repository's
	// UpsertDeltaTx instead.
	UpsertDelta(ctx context.Context, organisationID, projectID, metricName, unit string, month, year int, valueDelta decimal.Decimal, countDelta int64) error
	Get(ctx context.Context, organisationID, projectID, metricName, unit string, month, year int) (*UsageAggregate, error)
	ListForBillingPeriod(ctx context.Context, organisationID string, month, year int) ([]*UsageAggregate, error)
	// Replace overwrites a single aggregate with a freshly recomputed value,
	// used by the reconciliation rebuild path.
	Replace(ctx context.Context, a *UsageAggregate) error
}
