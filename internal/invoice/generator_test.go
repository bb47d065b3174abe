package invoice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerforge/meterbill/internal/domain"
)

type fakeAggregates struct {
	list []*domain.UsageAggregate
}

func (f *fakeAggregates) UpsertDelta(ctx context.Context, organisationID, projectID, metricName, unit string, month, year int, valueDelta decimal.Decimal, countDelta int64) error {
	return nil
}
func (f *fakeAggregates) Get(ctx context.Context, organisationID, projectID, metricName, unit string, month, year int) (*domain.UsageAggregate, error) {
	return nil, nil
}
func (f *fakeAggregates) ListForBillingPeriod(ctx context.Context, organisationID string, month, year int) ([]*domain.UsageAggregate, error) {
	return f.list, nil
}
func (f *fakeAggregates) Replace(ctx context.Context, a *domain.UsageAggregate) error { return nil }

type fakePricing struct {
	rules   []*domain.PricingRule
	minRule *domain.MinimumChargeRule
}

func (f *fakePricing) EffectiveRule(ctx context.Context, organisationID, metricName, unit string, at time.Time) (*domain.PricingRule, error) {
	return nil, nil
}
func (f *fakePricing) EffectiveMinimumRule(ctx context.Context, organisationID string, at time.Time) (*domain.MinimumChargeRule, error) {
	return f.minRule, nil
}
func (f *fakePricing) UpsertPricingRule(ctx context.Context, r *domain.PricingRule) error { return nil }
func (f *fakePricing) UpsertMinimumRule(ctx context.Context, r *domain.MinimumChargeRule) error {
	return nil
}
func (f *fakePricing) ListPricingRules(ctx context.Context, organisationID string) ([]*domain.PricingRule, error) {
	return f.rules, nil
}

type fakeBillingConfig struct {
	cfg *domain.BillingConfig
}

func (f *fakeBillingConfig) Get(ctx context.Context, organisationID string) (*domain.BillingConfig, error) {
	return f.cfg, nil
}
func (f *fakeBillingConfig) Upsert(ctx context.Context, c *domain.BillingConfig) error { return nil }

type fakeInvoices struct {
	inserted      *domain.Invoice
	insertedLines []*domain.InvoiceLineItem
	finalized     []string
}

func (f *fakeInvoices) InsertDraft(ctx context.Context, inv *domain.Invoice, lines []*domain.InvoiceLineItem, auditActor string) error {
	inv.ID = "inv-1"
	f.inserted = inv
	f.insertedLines = lines
	return nil
}
func (f *fakeInvoices) Get(ctx context.Context, id string) (*domain.Invoice, []*domain.InvoiceLineItem, error) {
	return f.inserted, f.insertedLines, nil
}
func (f *fakeInvoices) GetByPeriod(ctx context.Context, organisationID string, month, year int) (*domain.Invoice, error) {
	return f.inserted, nil
}
func (f *fakeInvoices) Finalize(ctx context.Context, id string) error {
	f.finalized = append(f.finalized, id)
	return nil
}
func (f *fakeInvoices) TransitionStatus(ctx context.Context, id string, next domain.InvoiceStatus) error {
	return nil
}
func (f *fakeInvoices) List(ctx context.Context, organisationID string, limit, offset int) ([]*domain.Invoice, error) {
	return nil, nil
}
func (f *fakeInvoices) ListDueForReminder(ctx context.Context, asOf time.Time) ([]*domain.Invoice, error) {
	return nil, nil
}
func (f *fakeInvoices) SetPDFURL(ctx context.Context, id string, url string) error { return nil }

// fakeRegistry runs fn on first use of a key and returns a ConflictError
// carrying the first entity id on every replay, like the real registry.
type fakeRegistry struct {
	seen map[string]string
}

func newFakeRegistry() *fakeRegistry { return &fakeRegistry{seen: map[string]string{}} }

func (f *fakeRegistry) Reserve(ctx context.Context, key, entityType string) (domain.IdempotencyOutcome, error) {
	if id, ok := f.seen[key]; ok {
		return domain.IdempotencyOutcome{Created: false, EntityID: id}, nil
	}
	return domain.IdempotencyOutcome{Created: true}, nil
}

func (f *fakeRegistry) Complete(ctx context.Context, key, entityType, entityID string) error {
	f.seen[key] = entityID
	return nil
}

func (f *fakeRegistry) WithIdempotency(ctx context.Context, key, entityType string, fn func(ctx context.Context) (string, error)) (string, error) {
	if id, ok := f.seen[key]; ok {
		return id, &domain.ConflictError{EntityType: entityType, EntityID: id}
	}
	id, err := fn(ctx)
	if err != nil {
		return "", err
	}
	f.seen[key] = id
	return id, nil
}

func noRates(base, target string, atDate time.Time) (decimal.Decimal, error) {
	return decimal.Zero, assert.AnError
}

func newTestGenerator(invoices *fakeInvoices, registry *fakeRegistry) *Generator {
	aggregates := &fakeAggregates{list: []*domain.UsageAggregate{{
		OrganisationID: "org1",
		ProjectID:      "proj1",
		MetricName:     "api_calls",
		Unit:           "count",
		Month:          1,
		Year:           2024,
		TotalValue:     decimal.NewFromInt(1000),
		EventCount:     1000,
	}}}
	pricing := &fakePricing{
		rules: []*domain.PricingRule{{
			MetricName:    "api_calls",
			Unit:          "count",
			PricePerUnit:  decimal.NewFromFloat(0.001),
			Currency:      "INR",
			EffectiveFrom: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		}},
		minRule: &domain.MinimumChargeRule{
			MinimumAmount: decimal.NewFromInt(1000),
			Currency:      "INR",
			EffectiveFrom: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	cfg := &fakeBillingConfig{cfg: &domain.BillingConfig{
		OrganisationID:       "org1",
		TaxRate:              decimal.NewFromFloat(0.18),
		Currency:             "INR",
		PaymentTermsDays:     14,
		MinimumChargeEnabled: true,
	}}
	return New(Dependencies{
		Aggregates:    aggregates,
		Pricing:       pricing,
		BillingConfig: cfg,
		Invoices:      invoices,
		Idempotency:   registry,
		Rates:         noRates,
	}, zerolog.Nop())
}

func TestGenerateWithMinimumCharge(t *testing.T) {
	invoices := &fakeInvoices{}
	gen := newTestGenerator(invoices, newFakeRegistry())

	id, err := gen.Generate(context.Background(), "org1", 1, 2024)
	require.NoError(t, err)
	assert.Equal(t, "inv-1", id)

	inv := invoices.inserted
	require.NotNil(t, inv)
	assert.Equal(t, domain.InvoiceDraft, inv.Status)
	assert.Equal(t, "INR", inv.Currency)
	assert.Equal(t, 1, inv.Month)
	assert.Equal(t, 2024, inv.Year)

	// 1000 * 0.001 = 1, lifted to the 1000 minimum; 18% tax on top.
	assert.True(t, inv.Subtotal.Equal(decimal.NewFromInt(1000)), "subtotal %s", inv.Subtotal)
	assert.True(t, inv.Tax.Equal(decimal.NewFromInt(180)), "tax %s", inv.Tax)
	assert.True(t, inv.Total.Equal(decimal.NewFromInt(1180)), "total %s", inv.Total)

	require.Len(t, invoices.insertedLines, 2)
	assert.Equal(t, domain.LineItemUsage, invoices.insertedLines[0].Kind)
	assert.True(t, invoices.insertedLines[0].Total.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, domain.LineItemMinimumAdjust, invoices.insertedLines[1].Kind)
	assert.True(t, invoices.insertedLines[1].Total.Equal(decimal.NewFromInt(999)))
}

func TestGenerateIsIdempotentPerPeriod(t *testing.T) {
	invoices := &fakeInvoices{}
	registry := newFakeRegistry()
	gen := newTestGenerator(invoices, registry)

	id, err := gen.Generate(context.Background(), "org1", 1, 2024)
	require.NoError(t, err)

	replayID, err := gen.Generate(context.Background(), "org1", 1, 2024)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, id, conflict.EntityID)
	assert.Equal(t, id, replayID)
}

func TestGenerateRejectsUnpricedMetrics(t *testing.T) {
	invoices := &fakeInvoices{}
	gen := New(Dependencies{
		Aggregates: &fakeAggregates{list: []*domain.UsageAggregate{{
			OrganisationID: "org1",
			MetricName:     "storage_gb",
			Unit:           "gb",
			TotalValue:     decimal.NewFromInt(5),
		}}},
		Pricing:       &fakePricing{},
		BillingConfig: &fakeBillingConfig{cfg: &domain.BillingConfig{OrganisationID: "org1", Currency: "INR", TaxRate: decimal.NewFromFloat(0.18)}},
		Invoices:      invoices,
		Idempotency:   newFakeRegistry(),
		Rates:         noRates,
	}, zerolog.Nop())

	_, err := gen.Generate(context.Background(), "org1", 1, 2024)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPricingNotFound))
	assert.Nil(t, invoices.inserted)
}

func TestFinalizeDelegates(t *testing.T) {
	invoices := &fakeInvoices{}
	gen := newTestGenerator(invoices, newFakeRegistry())

	require.NoError(t, gen.Finalize(context.Background(), "inv-9"))
	assert.Equal(t, []string{"inv-9"}, invoices.finalized)
}
