package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerforge/meterbill/internal/domain"
	"github.com/ledgerforge/meterbill/internal/money"
)

func mustMoney(t *testing.T, amount, currency string) money.Money {
	t.Helper()
	m, err := money.Parse(amount, currency)
	require.NoError(t, err)
	return m
}

func noRates(base, target string, atDate time.Time) (decimal.Decimal, error) {
	return decimal.Zero, assert.AnError
}

func TestCalculateSingleMetricNoMinimum(t *testing.T) {
	cfg := &domain.BillingConfig{OrganisationID: "org1", Currency: "USD", TaxRate: decimal.NewFromFloat(0.1), PaymentTermsDays: 14}
	agg := &domain.UsageAggregate{OrganisationID: "org1", MetricName: "api_calls", Unit: "count", TotalValue: decimal.NewFromInt(1000)}
	rule := &domain.PricingRule{OrganisationID: "org1", MetricName: "api_calls", Unit: "count", PricePerUnit: decimal.NewFromFloat(0.01), Currency: "USD", EffectiveFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	out, err := Calculate(Inputs{
		Aggregates:    []*domain.UsageAggregate{agg},
		PricingRules:  []*domain.PricingRule{rule},
		BillingConfig: cfg,
		Month:         3,
		Year:          2026,
		Rates:         noRates,
	})
	require.NoError(t, err)

	assert.True(t, out.Subtotal.Equal(mustMoney(t, "10", "USD")))
	assert.True(t, out.Tax.Equal(mustMoney(t, "1.00", "USD")))
	assert.True(t, out.Total.Equal(mustMoney(t, "11.00", "USD")))
	assert.Empty(t, out.UnpricedMetrics)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), out.PeriodStart)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), out.PeriodEnd)
	assert.Equal(t, time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC), out.DueDate)
}

func TestCalculateUnpricedMetricSkippedAndRecorded(t *testing.T) {
	cfg := &domain.BillingConfig{OrganisationID: "org1", Currency: "USD", TaxRate: decimal.Zero, PaymentTermsDays: 0}
	agg := &domain.UsageAggregate{OrganisationID: "org1", MetricName: "mystery_metric", Unit: "count", TotalValue: decimal.NewFromInt(10)}

	out, err := Calculate(Inputs{
		Aggregates:    []*domain.UsageAggregate{agg},
		BillingConfig: cfg,
		Month:         3,
		Year:          2026,
		Rates:         noRates,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"mystery_metric/count"}, out.UnpricedMetrics)
	assert.True(t, out.Subtotal.IsZero())
}

func TestCalculateOrgSpecificRuleBeatsGlobal(t *testing.T) {
	cfg := &domain.BillingConfig{OrganisationID: "org1", Currency: "USD", TaxRate: decimal.Zero}
	agg := &domain.UsageAggregate{OrganisationID: "org1", MetricName: "api_calls", Unit: "count", TotalValue: decimal.NewFromInt(100)}
	global := &domain.PricingRule{OrganisationID: "", MetricName: "api_calls", Unit: "count", PricePerUnit: decimal.NewFromFloat(1), Currency: "USD", EffectiveFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	orgSpecific := &domain.PricingRule{OrganisationID: "org1", MetricName: "api_calls", Unit: "count", PricePerUnit: decimal.NewFromFloat(0.5), Currency: "USD", EffectiveFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}

	out, err := Calculate(Inputs{
		Aggregates:    []*domain.UsageAggregate{agg},
		PricingRules:  []*domain.PricingRule{global, orgSpecific},
		BillingConfig: cfg,
		Month:         3,
		Year:          2026,
		Rates:         noRates,
	})
	require.NoError(t, err)
	assert.True(t, out.Subtotal.Equal(mustMoney(t, "50", "USD")))
}

func TestCalculateMinimumChargeAdjustment(t *testing.T) {
	cfg := &domain.BillingConfig{OrganisationID: "org1", Currency: "USD", TaxRate: decimal.Zero, MinimumChargeEnabled: true}
	agg := &domain.UsageAggregate{OrganisationID: "org1", MetricName: "api_calls", Unit: "count", TotalValue: decimal.NewFromInt(10)}
	rule := &domain.PricingRule{OrganisationID: "org1", MetricName: "api_calls", Unit: "count", PricePerUnit: decimal.NewFromFloat(0.01), Currency: "USD", EffectiveFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	min := &domain.MinimumChargeRule{OrganisationID: "org1", MinimumAmount: decimal.NewFromInt(5), Currency: "USD", EffectiveFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}

	out, err := Calculate(Inputs{
		Aggregates:    []*domain.UsageAggregate{agg},
		PricingRules:  []*domain.PricingRule{rule},
		MinimumRule:   min,
		BillingConfig: cfg,
		Month:         3,
		Year:          2026,
		Rates:         noRates,
	})
	require.NoError(t, err)
	assert.True(t, out.SubtotalAfterMin.Equal(mustMoney(t, "5", "USD")))
	require.Len(t, out.LineItems, 2)
	assert.Equal(t, domain.LineItemMinimumAdjust, out.LineItems[1].Kind)
}

func TestCalculateCrossCurrencyConversion(t *testing.T) {
	cfg := &domain.BillingConfig{OrganisationID: "org1", Currency: "USD", TaxRate: decimal.Zero}
	agg := &domain.UsageAggregate{OrganisationID: "org1", MetricName: "api_calls", Unit: "count", TotalValue: decimal.NewFromInt(100)}
	rule := &domain.PricingRule{OrganisationID: "org1", MetricName: "api_calls", Unit: "count", PricePerUnit: decimal.NewFromFloat(1), Currency: "INR", EffectiveFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}

	rates := func(base, target string, atDate time.Time) (decimal.Decimal, error) {
		require.Equal(t, "INR", base)
		require.Equal(t, "USD", target)
		return decimal.NewFromFloat(0.012), nil
	}

	out, err := Calculate(Inputs{
		Aggregates:    []*domain.UsageAggregate{agg},
		PricingRules:  []*domain.PricingRule{rule},
		BillingConfig: cfg,
		Month:         3,
		Year:          2026,
		Rates:         rates,
	})
	require.NoError(t, err)
	assert.True(t, out.Subtotal.Equal(mustMoney(t, "1.2", "USD")))
	assert.Equal(t, "INR", out.LineItems[0].OriginalCurrency)
}

func TestCalculateMissingExchangeRateIsFatal(t *testing.T) {
	cfg := &domain.BillingConfig{OrganisationID: "org1", Currency: "USD", TaxRate: decimal.Zero}
	agg := &domain.UsageAggregate{OrganisationID: "org1", MetricName: "api_calls", Unit: "count", TotalValue: decimal.NewFromInt(100)}
	rule := &domain.PricingRule{OrganisationID: "org1", MetricName: "api_calls", Unit: "count", PricePerUnit: decimal.NewFromFloat(1), Currency: "INR", EffectiveFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}

	_, err := Calculate(Inputs{
		Aggregates:    []*domain.UsageAggregate{agg},
		PricingRules:  []*domain.PricingRule{rule},
		BillingConfig: cfg,
		Month:         3,
		Year:          2026,
		Rates:         noRates,
	})
	require.ErrorIs(t, err, domain.ErrExchangeRateMissing)
}
