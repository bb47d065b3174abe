package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ledgerforge/meterbill/internal/domain"
)

// EventRepository is the durable side of the events table: insert-only,
// unique on idempotency_key, queried for reconciliation and rebuilds.
type EventRepository struct {
	pool *pgxpool.Pool
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

var _ domain.UsageEventRepository = (*EventRepository)(nil)

// InsertBatch performs the migration worker's core step in a transaction of
// its own: insert all rows, turning an idempotency_key conflict into a
// no-op update (ON CONFLICT ... DO UPDATE SET idempotency_key =
// EXCLUDED.idempotency_key, so RETURNING still yields the existing row),
// returning every id that is now definitively present in DS
// (inserted-this-call or already-there) so the caller can mark them
// processed in HES.
func (r *EventRepository) InsertBatch(ctx context.Context, events []*domain.UsageEvent) ([]string, error) {
	if len(events) == 0 {
		return nil, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: insert batch begin: %w", err)
	}
	defer tx.Rollback(ctx)

	ids, err := InsertBatchTx(ctx, tx, events)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: insert batch commit: %w", err)
	}
	return ids, nil
}

// InsertBatchTx is the transaction-scoped form the migration worker uses so
// the durable insert and the aggregate upsert commit or roll back
// together.
func InsertBatchTx(ctx context.Context, tx pgx.Tx, events []*domain.UsageEvent) ([]string, error) {
	ids := make([]string, 0, len(events))
	for _, e := range events {
		metadata, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("postgres: marshal metadata for %s: %w", e.ID, err)
		}

		var existingID string
		err = tx.QueryRow(ctx, `
			INSERT INTO usage_events (organisation_id, project_id, metric_name, metric_value, unit, ts, metadata, idempotency_key)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (idempotency_key) DO UPDATE SET idempotency_key = EXCLUDED.idempotency_key
			RETURNING id
		`, e.OrganisationID, e.ProjectID, e.MetricName, e.MetricValue, e.Unit, e.Timestamp, metadata, e.IdempotencyKey).Scan(&existingID)
		if err != nil {
			return nil, fmt.Errorf("postgres: insert event %s: %w", e.IdempotencyKey, err)
		}
		ids = append(ids, e.ID)
	}
	return ids, nil
}

func (r *EventRepository) CountByDay(ctx context.Context, organisationID, projectID, metricName string, day time.Time) (int64, error) {
	var count int64
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM usage_events
		WHERE organisation_id = $1 AND project_id = $2 AND metric_name = $3 AND ts >= $4 AND ts < $5
	`, organisationID, projectID, metricName, start, end).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count events by day: %w", err)
	}
	return count, nil
}

// SumByPeriod backs the alert engine's usage_threshold/usage_spike/cost_threshold
// evaluators, which compare arbitrary hour/day/week/month windows rather
// than the monthly aggregate buckets.
func (r *EventRepository) SumByPeriod(ctx context.Context, organisationID, metricName, unit string, from, to time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT coalesce(sum(metric_value), 0) FROM usage_events
		WHERE organisation_id = $1 AND metric_name = $2 AND unit = $3 AND ts >= $4 AND ts < $5
	`, organisationID, metricName, unit, from, to).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: sum by period: %w", err)
	}
	return sum, nil
}

func (r *EventRepository) ListForAggregateRebuild(ctx context.Context, organisationID, projectID, metricName, unit string, month, year int) ([]*domain.UsageEvent, error) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	rows, err := r.pool.Query(ctx, `
		SELECT id, organisation_id, project_id, metric_name, metric_value, unit, ts, idempotency_key
		FROM usage_events
		WHERE organisation_id = $1 AND project_id = $2 AND metric_name = $3 AND unit = $4 AND ts >= $5 AND ts < $6
	`, organisationID, projectID, metricName, unit, start, end)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for rebuild: %w", err)
	}
	defer rows.Close()

	var out []*domain.UsageEvent
	for rows.Next() {
		e := &domain.UsageEvent{}
		if err := rows.Scan(&e.ID, &e.OrganisationID, &e.ProjectID, &e.MetricName, &e.MetricValue, &e.Unit, &e.Timestamp, &e.IdempotencyKey); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
