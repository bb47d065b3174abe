// Package aggregator folds a migration batch of usage
// events into per-(org, project, metric, unit, month, year) deltas and
// applying them with postgres.AggregateRepository.UpsertDeltaTx inside the
// caller's transaction, so aggregation commits atomically with the durable
// event insert.
package aggregator

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ledgerforge/meterbill/internal/domain"
	"github.com/ledgerforge/meterbill/internal/repository/postgres"
)

type key struct {
	organisationID string
	projectID      string
	metricName     string
	unit           string
	month          int
	year           int
}

type delta struct {
	value decimal.Decimal
	count int64
}

// Aggregator satisfies migration.AggregateUpserter.
type Aggregator struct {
	repo *postgres.AggregateRepository
}

func New(repo *postgres.AggregateRepository) *Aggregator {
	return &Aggregator{repo: repo}
}

// UpsertDeltaForEvents groups events by their aggregate key and applies one
// UpsertDeltaTx call per key, so a batch with many events for the same
// metric in the same month issues a single row-level update per key rather
// than one per event.
func (a *Aggregator) UpsertDeltaForEvents(ctx context.Context, tx pgx.Tx, events []*domain.UsageEvent) error {
	keys, deltas := foldDeltas(events)
	for _, k := range keys {
		d := deltas[k]
		if err := a.repo.UpsertDeltaTx(ctx, tx, k.organisationID, k.projectID, k.metricName, k.unit, k.month, k.year, d.value, d.count); err != nil {
			return fmt.Errorf("aggregator: upsert %s/%s/%s: %w", k.organisationID, k.metricName, k.unit, err)
		}
	}
	return nil
}

// foldDeltas is the pure grouping step, split out so it can be tested
// without a live transaction.
func foldDeltas(events []*domain.UsageEvent) ([]key, map[key]*delta) {
	deltas := make(map[key]*delta)
	order := make([]key, 0)

	for _, e := range events {
		k := key{
			organisationID: e.OrganisationID,
			projectID:      e.ProjectID,
			metricName:     e.MetricName,
			unit:           e.Unit,
			month:          int(e.Timestamp.Month()),
			year:           e.Timestamp.Year(),
		}
		d, ok := deltas[k]
		if !ok {
			d = &delta{value: decimal.Zero}
			deltas[k] = d
			order = append(order, k)
		}
		d.value = d.value.Add(e.MetricValue)
		d.count++
	}
	return order, deltas
}

var _ interface {
	UpsertDeltaForEvents(ctx context.Context, tx pgx.Tx, events []*domain.UsageEvent) error
} = (*Aggregator)(nil)
