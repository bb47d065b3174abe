package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerforge/meterbill/internal/domain"
)

type PricingRepository struct {
	pool *pgxpool.Pool
}

func NewPricingRepository(pool *pgxpool.Pool) *PricingRepository {
	return &PricingRepository{pool: pool}
}

var _ domain.PricingRepository = (*PricingRepository)(nil)

// EffectiveRule implements rule precedence:
// organisation-specific over global, then latest effective_from.
func (r *PricingRepository) EffectiveRule(ctx context.Context, organisationID, metricName, unit string, at time.Time) (*domain.PricingRule, error) {
	rule := &domain.PricingRule{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, organisation_id, metric_name, unit, price_per_unit, currency, effective_from, effective_to
		FROM pricing_rules
		WHERE metric_name = $2 AND unit = $3
		  AND effective_from <= $4 AND (effective_to IS NULL OR effective_to > $4)
		  AND (organisation_id = $1 OR organisation_id IS NULL)
		ORDER BY (organisation_id IS NOT NULL) DESC, effective_from DESC
		LIMIT 1
	`, organisationID, metricName, unit, at).Scan(
		&rule.ID, &rule.OrganisationID, &rule.MetricName, &rule.Unit, &rule.PricePerUnit, &rule.Currency, &rule.EffectiveFrom, &rule.EffectiveTo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: effective pricing rule: %w", err)
	}
	return rule, nil
}

func (r *PricingRepository) EffectiveMinimumRule(ctx context.Context, organisationID string, at time.Time) (*domain.MinimumChargeRule, error) {
	rule := &domain.MinimumChargeRule{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, organisation_id, minimum_amount, currency, effective_from, effective_to
		FROM minimum_charge_rules
		WHERE effective_from <= $2 AND (effective_to IS NULL OR effective_to > $2)
		  AND (organisation_id = $1 OR organisation_id IS NULL)
		ORDER BY (organisation_id IS NOT NULL) DESC, effective_from DESC
		LIMIT 1
	`, organisationID, at).Scan(&rule.ID, &rule.OrganisationID, &rule.MinimumAmount, &rule.Currency, &rule.EffectiveFrom, &rule.EffectiveTo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: effective minimum rule: %w", err)
	}
	return rule, nil
}

func (r *PricingRepository) UpsertPricingRule(ctx context.Context, rule *domain.PricingRule) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO pricing_rules (organisation_id, metric_name, unit, price_per_unit, currency, effective_from, effective_to)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, nullableOrgID(rule.OrganisationID), rule.MetricName, rule.Unit, rule.PricePerUnit, rule.Currency, rule.EffectiveFrom, rule.EffectiveTo).Scan(&rule.ID)
}

func (r *PricingRepository) UpsertMinimumRule(ctx context.Context, rule *domain.MinimumChargeRule) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO minimum_charge_rules (organisation_id, minimum_amount, currency, effective_from, effective_to)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, nullableOrgID(rule.OrganisationID), rule.MinimumAmount, rule.Currency, rule.EffectiveFrom, rule.EffectiveTo).Scan(&rule.ID)
}

func (r *PricingRepository) ListPricingRules(ctx context.Context, organisationID string) ([]*domain.PricingRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organisation_id, metric_name, unit, price_per_unit, currency, effective_from, effective_to
		FROM pricing_rules WHERE organisation_id = $1 OR organisation_id IS NULL
		ORDER BY effective_from DESC
	`, organisationID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pricing rules: %w", err)
	}
	defer rows.Close()

	var out []*domain.PricingRule
	for rows.Next() {
		rule := &domain.PricingRule{}
		if err := rows.Scan(&rule.ID, &rule.OrganisationID, &rule.MetricName, &rule.Unit, &rule.PricePerUnit, &rule.Currency, &rule.EffectiveFrom, &rule.EffectiveTo); err != nil {
			return nil, fmt.Errorf("postgres: scan pricing rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// nullableOrgID turns the domain convention "" == global into a SQL NULL.
func nullableOrgID(id string) any {
	if id == "" {
		return nil
	}
	return id
}
