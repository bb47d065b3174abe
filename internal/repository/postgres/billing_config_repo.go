package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerforge/meterbill/internal/domain"
)

type BillingConfigRepository struct {
	pool *pgxpool.Pool
}

func NewBillingConfigRepository(pool *pgxpool.Pool) *BillingConfigRepository {
	return &BillingConfigRepository{pool: pool}
}

var _ domain.BillingConfigRepository = (*BillingConfigRepository)(nil)

func (r *BillingConfigRepository) Get(ctx context.Context, organisationID string) (*domain.BillingConfig, error) {
	c := &domain.BillingConfig{}
	err := r.pool.QueryRow(ctx, `
		SELECT organisation_id, tax_rate, currency, payment_terms_days, minimum_charge_enabled
		FROM billing_configs WHERE organisation_id = $1
	`, organisationID).Scan(&c.OrganisationID, &c.TaxRate, &c.Currency, &c.PaymentTermsDays, &c.MinimumChargeEnabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBillingConfigMissing
		}
		return nil, fmt.Errorf("postgres: get billing config: %w", err)
	}
	return c, nil
}

func (r *BillingConfigRepository) Upsert(ctx context.Context, c *domain.BillingConfig) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO billing_configs (organisation_id, tax_rate, currency, payment_terms_days, minimum_charge_enabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (organisation_id) DO UPDATE SET
			tax_rate = EXCLUDED.tax_rate, currency = EXCLUDED.currency,
			payment_terms_days = EXCLUDED.payment_terms_days, minimum_charge_enabled = EXCLUDED.minimum_charge_enabled
	`, c.OrganisationID, c.TaxRate, c.Currency, c.PaymentTermsDays, c.MinimumChargeEnabled)
	if err != nil {
		return fmt.Errorf("postgres: upsert billing config: %w", err)
	}
	return nil
}
