package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ledgerforge/meterbill/internal/domain"
)

type AggregateRepository struct {
	pool *pgxpool.Pool
}

func NewAggregateRepository(pool *pgxpool.Pool) *AggregateRepository {
	return &AggregateRepository{pool: pool}
}

var _ domain.UsageAggregateRepository = (*AggregateRepository)(nil)

// UpsertDelta folds one delta into the monthly aggregate row. Aggregation
// is atomic with the durable event insert. Since pgxpool does not expose an
// ambient transaction, callers that need atomicity use UpsertDeltaTx below from
// inside their own Begin/Commit; UpsertDelta itself runs against the pool
// for standalone callers (e.g. the rebuild path).
func (r *AggregateRepository) UpsertDelta(ctx context.Context, organisationID, projectID, metricName, unit string, month, year int, valueDelta decimal.Decimal, countDelta int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO usage_aggregates (organisation_id, project_id, metric_name, unit, month, year, total_value, event_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (organisation_id, project_id, metric_name, unit, month, year)
		DO UPDATE SET total_value = usage_aggregates.total_value + EXCLUDED.total_value,
		              event_count = usage_aggregates.event_count + EXCLUDED.event_count
	`, organisationID, projectID, metricName, unit, month, year, valueDelta, countDelta)
	if err != nil {
		return fmt.Errorf("postgres: upsert aggregate: %w", err)
	}
	return nil
}

// UpsertDeltaTx is the transaction-scoped variant the migration worker uses
// so the aggregate update commits or rolls back together with the durable
// event insert.
func (r *AggregateRepository) UpsertDeltaTx(ctx context.Context, tx pgx.Tx, organisationID, projectID, metricName, unit string, month, year int, valueDelta decimal.Decimal, countDelta int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO usage_aggregates (organisation_id, project_id, metric_name, unit, month, year, total_value, event_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (organisation_id, project_id, metric_name, unit, month, year)
		DO UPDATE SET total_value = usage_aggregates.total_value + EXCLUDED.total_value,
		              event_count = usage_aggregates.event_count + EXCLUDED.event_count
	`, organisationID, projectID, metricName, unit, month, year, valueDelta, countDelta)
	if err != nil {
		return fmt.Errorf("postgres: upsert aggregate tx: %w", err)
	}
	return nil
}

func (r *AggregateRepository) Get(ctx context.Context, organisationID, projectID, metricName, unit string, month, year int) (*domain.UsageAggregate, error) {
	a := &domain.UsageAggregate{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, organisation_id, project_id, metric_name, unit, month, year, total_value, event_count
		FROM usage_aggregates
		WHERE organisation_id = $1 AND project_id = $2 AND metric_name = $3 AND unit = $4 AND month = $5 AND year = $6
	`, organisationID, projectID, metricName, unit, month, year).Scan(
		&a.ID, &a.OrganisationID, &a.ProjectID, &a.MetricName, &a.Unit, &a.Month, &a.Year, &a.TotalValue, &a.EventCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get aggregate: %w", err)
	}
	return a, nil
}

func (r *AggregateRepository) ListForBillingPeriod(ctx context.Context, organisationID string, month, year int) ([]*domain.UsageAggregate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organisation_id, project_id, metric_name, unit, month, year, total_value, event_count
		FROM usage_aggregates WHERE organisation_id = $1 AND month = $2 AND year = $3
	`, organisationID, month, year)
	if err != nil {
		return nil, fmt.Errorf("postgres: list aggregates: %w", err)
	}
	defer rows.Close()

	var out []*domain.UsageAggregate
	for rows.Next() {
		a := &domain.UsageAggregate{}
		if err := rows.Scan(&a.ID, &a.OrganisationID, &a.ProjectID, &a.MetricName, &a.Unit, &a.Month, &a.Year, &a.TotalValue, &a.EventCount); err != nil {
			return nil, fmt.Errorf("postgres: scan aggregate: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AggregateKey is one distinct (org, project, metric, unit) combination with
// at least one aggregate row; reconciliation iterates these because it has
// no independent way to discover which combinations exist.
type AggregateKey struct {
	OrganisationID string
	ProjectID      string
	MetricName     string
	Unit           string
}

func (r *AggregateRepository) DistinctKeys(ctx context.Context) ([]AggregateKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT organisation_id, project_id, metric_name, unit
		FROM usage_aggregates
		ORDER BY organisation_id, project_id, metric_name, unit
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: distinct aggregate keys: %w", err)
	}
	defer rows.Close()

	var out []AggregateKey
	for rows.Next() {
		var k AggregateKey
		if err := rows.Scan(&k.OrganisationID, &k.ProjectID, &k.MetricName, &k.Unit); err != nil {
			return nil, fmt.Errorf("postgres: scan aggregate key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// Replace overwrites a single aggregate's totals, used by the reconciliation
// rebuild path after recomputing from events.
func (r *AggregateRepository) Replace(ctx context.Context, a *domain.UsageAggregate) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO usage_aggregates (organisation_id, project_id, metric_name, unit, month, year, total_value, event_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (organisation_id, project_id, metric_name, unit, month, year)
		DO UPDATE SET total_value = EXCLUDED.total_value, event_count = EXCLUDED.event_count
	`, a.OrganisationID, a.ProjectID, a.MetricName, a.Unit, a.Month, a.Year, a.TotalValue, a.EventCount)
	if err != nil {
		return fmt.Errorf("postgres: replace aggregate: %w", err)
	}
	return nil
}
