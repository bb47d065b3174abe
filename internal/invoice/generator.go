// Package invoice orchestrates the pure billing calculator against live
// aggregates, rules, and config, runs a validation gate against its own
// output, and persists the result atomically in a single transaction.
package invoice

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ledgerforge/meterbill/internal/billing"
	"github.com/ledgerforge/meterbill/internal/domain"
	"github.com/ledgerforge/meterbill/internal/money"
)

// epsilonMinorUnitsPerLine bounds the validation-gate tolerance: one minor unit per
// line item, to absorb rounding noise without masking a real miscalculation.
const epsilonMinorUnitsPerLine = 1

// Dependencies bundles the repositories and services the generator reads from; kept as
// a struct so the generator's constructor signature doesn't grow every time
// a new input is wired in.
type Dependencies struct {
	Aggregates    domain.UsageAggregateRepository
	Pricing       domain.PricingRepository
	BillingConfig domain.BillingConfigRepository
	Invoices      domain.InvoiceRepository
	Idempotency   domain.IdempotencyRegistry
	Rates         billing.RateLookup
	// OnFinalized, when set, is invoked after an invoice's financial fields
	// lock. Used to push the finalisation to the admin realtime feed.
	OnFinalized func(inv *domain.Invoice)
}

type Generator struct {
	deps   Dependencies
	logger zerolog.Logger
}

func New(deps Dependencies, logger zerolog.Logger) *Generator {
	return &Generator{deps: deps, logger: logger.With().Str("component", "invoice_generator").Logger()}
}

// Generate produces one organisation's invoice for a billing period.
// It is idempotent: a repeated call for the same
// (organisationID, month, year) returns the invoice id produced by the first
// successful call, wrapped in a *domain.ConflictError so callers can
// distinguish "just created" from "already existed" the same way every other
// registry-guarded operation does.
func (g *Generator) Generate(ctx context.Context, organisationID string, month, year int) (string, error) {
	cfg, err := g.deps.BillingConfig.Get(ctx, organisationID)
	if err != nil {
		return "", fmt.Errorf("invoice: load billing config: %w", err)
	}

	aggregates, err := g.deps.Aggregates.ListForBillingPeriod(ctx, organisationID, month, year)
	if err != nil {
		return "", fmt.Errorf("invoice: load aggregates: %w", err)
	}

	rules, err := g.deps.Pricing.ListPricingRules(ctx, organisationID)
	if err != nil {
		return "", fmt.Errorf("invoice: load pricing rules: %w", err)
	}

	billingDate := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0).Add(-time.Nanosecond)
	minRule, err := g.deps.Pricing.EffectiveMinimumRule(ctx, organisationID, billingDate)
	if err != nil {
		return "", fmt.Errorf("invoice: load minimum rule: %w", err)
	}

	calculated, err := billing.Calculate(billing.Inputs{
		Aggregates:    aggregates,
		PricingRules:  rules,
		MinimumRule:   minRule,
		BillingConfig: cfg,
		Month:         month,
		Year:          year,
		Rates:         g.deps.Rates,
	})
	if err != nil {
		return "", err
	}
	if len(calculated.UnpricedMetrics) > 0 {
		return "", fmt.Errorf("invoice: unpriced metrics %v: %w", calculated.UnpricedMetrics, domain.ErrPricingNotFound)
	}

	if err := validateCalculation(calculated); err != nil {
		return "", err
	}

	key := fmt.Sprintf("invoice_%s_%d_%d", organisationID, year, month)
	return g.deps.Idempotency.WithIdempotency(ctx, key, "invoice", func(ctx context.Context) (string, error) {
		inv, lines := toInvoice(organisationID, calculated)
		if err := g.deps.Invoices.InsertDraft(ctx, inv, lines, "invoice_generator"); err != nil {
			return "", err
		}
		return inv.ID, nil
	})
}

// Finalize transitions a draft invoice to finalized, locking its financial
// fields. Kept as a separate call so callers can
// review a draft before freezing it.
func (g *Generator) Finalize(ctx context.Context, invoiceID string) error {
	if err := g.deps.Invoices.Finalize(ctx, invoiceID); err != nil {
		return err
	}
	if g.deps.OnFinalized != nil {
		if inv, _, err := g.deps.Invoices.Get(ctx, invoiceID); err == nil {
			g.deps.OnFinalized(inv)
		}
	}
	return nil
}

// validateCalculation recomputes subtotal and total from the produced line
// items and rejects on mismatch beyond an
// epsilon of one minor unit per line, catching a calculator defect before it
// reaches persistence.
func validateCalculation(c *billing.CalculatedInvoice) error {
	recomputedSubtotal := money.Zero(c.Currency)
	for _, item := range c.LineItems {
		recomputedSubtotal = recomputedSubtotal.Add(item.Total)
	}
	recomputedTotal := recomputedSubtotal.Add(c.Tax).Sub(c.Discount)

	epsilon := decimal.NewFromInt(int64(len(c.LineItems) * epsilonMinorUnitsPerLine))
	scale := decimal.New(1, -2)
	epsilon = epsilon.Mul(scale)

	if recomputedSubtotal.Decimal().Sub(c.SubtotalAfterMin.Decimal()).Abs().GreaterThan(epsilon) {
		return fmt.Errorf("invoice: subtotal mismatch: recomputed %s vs calculated %s: %w",
			recomputedSubtotal, c.SubtotalAfterMin, domain.ErrInvalidInput)
	}
	if recomputedTotal.Decimal().Sub(c.Total.Decimal()).Abs().GreaterThan(epsilon) {
		return fmt.Errorf("invoice: total mismatch: recomputed %s vs calculated %s: %w",
			recomputedTotal, c.Total, domain.ErrInvalidInput)
	}
	return nil
}

func toInvoice(organisationID string, c *billing.CalculatedInvoice) (*domain.Invoice, []*domain.InvoiceLineItem) {
	inv := &domain.Invoice{
		OrganisationID: organisationID,
		InvoiceNumber:  fmt.Sprintf("INV-%d%02d-%s", c.PeriodStart.Year(), int(c.PeriodStart.Month()), organisationID[:minInt(8, len(organisationID))]),
		Status:         domain.InvoiceDraft,
		Subtotal:       c.SubtotalAfterMin.Decimal(),
		Tax:            c.Tax.Decimal(),
		Discount:       c.Discount.Decimal(),
		Total:          c.Total.Decimal(),
		Currency:       c.Currency,
		Month:          int(c.PeriodStart.Month()),
		Year:           c.PeriodStart.Year(),
		DueDate:        c.DueDate,
	}

	lines := make([]*domain.InvoiceLineItem, 0, len(c.LineItems))
	for _, item := range c.LineItems {
		lines = append(lines, &domain.InvoiceLineItem{
			Kind:             item.Kind,
			MetricName:       item.MetricName,
			Unit:             item.Unit,
			Quantity:         item.Quantity,
			UnitPrice:        item.UnitPrice,
			Total:            item.Total.Decimal(),
			OriginalCurrency: item.OriginalCurrency,
			OriginalTotal:    item.OriginalTotal,
		})
	}
	return inv, lines
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
