package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PricingRule prices one (metric, unit) pair. OrganisationID == "" means a
// global rule; organisation-specific rules take precedence over global ones
// at equal validity.
type PricingRule struct {
	ID             string
	OrganisationID string
	MetricName     string
	Unit           string
	PricePerUnit   decimal.Decimal
	Currency       string
	EffectiveFrom  time.Time
	EffectiveTo    *time.Time
}

// MinimumChargeRule is shaped identically to PricingRule but carries a flat
// minimum amount instead of a per-unit price.
type MinimumChargeRule struct {
	ID             string
	OrganisationID string
	MinimumAmount  decimal.Decimal
	Currency       string
	EffectiveFrom  time.Time
	EffectiveTo    *time.Time
}

type PricingRepository interface {
	EffectiveRule(ctx context.Context, organisationID, metricName, unit string, at time.Time) (*PricingRule, error)
	EffectiveMinimumRule(ctx context.Context, organisationID string, at time.Time) (*MinimumChargeRule, error)
	UpsertPricingRule(ctx context.Context, r *PricingRule) error
	UpsertMinimumRule(ctx context.Context, r *MinimumChargeRule) error
	ListPricingRules(ctx context.Context, organisationID string) ([]*PricingRule, error)
}

// BillingConfig holds one organisation's invoicing parameters.
type BillingConfig struct {
	OrganisationID       string
	TaxRate              decimal.Decimal
	Currency             string
	PaymentTermsDays     int
	MinimumChargeEnabled bool
}

type BillingConfigRepository interface {
	Get(ctx context.Context, organisationID string) (*BillingConfig, error)
	Upsert(ctx context.Context, c *BillingConfig) error
}
