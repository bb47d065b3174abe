// Package billing implements the pure invoice-calculation algorithm. No
// I/O, no clock reads beyond the (month, year) and billingDate parameters
// passed in by the caller, so the same inputs always produce the same
// output byte-for-byte.
package billing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerforge/meterbill/internal/domain"
	"github.com/ledgerforge/meterbill/internal/money"
)

// RateLookup resolves an exchange rate effective at a point in time. The
// billing calculator stays pure by taking rates as already-resolved inputs
// rather than calling out to the currency service itself; the invoice generator is the
// one that queries currency.Service and passes the result in.
type RateLookup func(base, target string, atDate time.Time) (decimal.Decimal, error)

// CalculatedLineItem mirrors domain.InvoiceLineItem's financial shape before
// persistence assigns it an ID and invoice ID.
type CalculatedLineItem struct {
	Kind             domain.LineItemKind
	MetricName       string
	Unit             string
	Quantity         decimal.Decimal
	UnitPrice        decimal.Decimal
	Total            money.Money
	OriginalCurrency string
	OriginalTotal    decimal.Decimal
}

// CalculatedInvoice is the calculator's pure output, ready for the
// validation gate and persistence.
type CalculatedInvoice struct {
	OrganisationID   string
	Currency         string
	LineItems        []CalculatedLineItem
	Subtotal         money.Money
	SubtotalAfterMin money.Money
	Tax              money.Money
	Discount         money.Money
	Total            money.Money
	PeriodStart      time.Time
	PeriodEnd        time.Time
	DueDate          time.Time
	UnpricedMetrics  []string
}

// Inputs bundles the arguments to Calculate so the signature stays readable;
// every field is resolved by the caller before the call.
type Inputs struct {
	Aggregates    []*domain.UsageAggregate
	PricingRules  []*domain.PricingRule
	MinimumRule   *domain.MinimumChargeRule
	BillingConfig *domain.BillingConfig
	Month         int
	Year          int
	Rates         RateLookup
}

// Calculate produces one billing period's invoice. It never mutates
// its inputs and never performs I/O.
func Calculate(in Inputs) (*CalculatedInvoice, error) {
	periodStart := time.Date(in.Year, time.Month(in.Month), 1, 0, 0, 0, 0, time.UTC)
	periodEnd := periodStart.AddDate(0, 1, 0)
	billingDate := periodEnd.Add(-time.Nanosecond)

	targetCurrency := in.BillingConfig.Currency
	subtotal := money.Zero(targetCurrency)
	var lineItems []CalculatedLineItem
	var unpriced []string

	for _, agg := range in.Aggregates {
		rule := effectivePricingRule(in.PricingRules, agg.OrganisationID, agg.MetricName, agg.Unit, billingDate)
		if rule == nil {
			unpriced = append(unpriced, agg.MetricName+"/"+agg.Unit)
			continue
		}

		lineTotal := money.New(agg.TotalValue, rule.Currency).MulDecimal(rule.PricePerUnit)

		item := CalculatedLineItem{
			Kind:       domain.LineItemUsage,
			MetricName: agg.MetricName,
			Unit:       agg.Unit,
			Quantity:   agg.TotalValue,
			UnitPrice:  rule.PricePerUnit,
		}

		if rule.Currency != targetCurrency {
			rate, err := in.Rates(rule.Currency, targetCurrency, billingDate)
			if err != nil {
				return nil, domain.ErrExchangeRateMissing
			}
			item.OriginalCurrency = rule.Currency
			item.OriginalTotal = lineTotal.Decimal()
			item.Total = lineTotal.ConvertedTo(targetCurrency, rate)
		} else {
			item.Total = lineTotal
		}

		subtotal = subtotal.Add(item.Total)
		lineItems = append(lineItems, item)
	}

	subtotalAfterMin := subtotal
	if in.BillingConfig.MinimumChargeEnabled && in.MinimumRule != nil {
		minAmount := money.New(in.MinimumRule.MinimumAmount, in.MinimumRule.Currency)
		if in.MinimumRule.Currency != targetCurrency {
			rate, err := in.Rates(in.MinimumRule.Currency, targetCurrency, billingDate)
			if err != nil {
				return nil, domain.ErrExchangeRateMissing
			}
			minAmount = minAmount.ConvertedTo(targetCurrency, rate)
		}
		if subtotal.LessThan(minAmount) {
			adjustment := minAmount.Sub(subtotal)
			lineItems = append(lineItems, CalculatedLineItem{
				Kind:      domain.LineItemMinimumAdjust,
				Quantity:  decimal.NewFromInt(1),
				UnitPrice: adjustment.Decimal(),
				Total:     adjustment,
			})
			subtotalAfterMin = money.Max(subtotal, minAmount)
		}
	}

	tax := subtotalAfterMin.MulDecimal(in.BillingConfig.TaxRate).RoundTo(2)
	discount := money.Zero(targetCurrency)
	total := subtotalAfterMin.Add(tax).Sub(discount)

	sort.Strings(unpriced)

	return &CalculatedInvoice{
		OrganisationID:   in.BillingConfig.OrganisationID,
		Currency:         targetCurrency,
		LineItems:        lineItems,
		Subtotal:         subtotal,
		SubtotalAfterMin: subtotalAfterMin,
		Tax:              tax,
		Discount:         discount,
		Total:            total,
		PeriodStart:      periodStart,
		PeriodEnd:        periodEnd,
		DueDate:          periodEnd.AddDate(0, 0, in.BillingConfig.PaymentTermsDays),
		UnpricedMetrics:  unpriced,
	}, nil
}

// effectivePricingRule implements step 1's precedence: organisation-specific
// over global, and among equal precedence the latest effective_from at or
// before billingDate wins.
func effectivePricingRule(rules []*domain.PricingRule, organisationID, metricName, unit string, billingDate time.Time) *domain.PricingRule {
	var best *domain.PricingRule
	for _, r := range rules {
		if r.MetricName != metricName || r.Unit != unit {
			continue
		}
		if r.EffectiveFrom.After(billingDate) {
			continue
		}
		if r.EffectiveTo != nil && !r.EffectiveTo.After(billingDate) {
			continue
		}
		isOrgSpecific := r.OrganisationID == organisationID
		if best == nil {
			best = r
			continue
		}
		bestIsOrgSpecific := best.OrganisationID == organisationID
		switch {
		case isOrgSpecific && !bestIsOrgSpecific:
			best = r
		case isOrgSpecific == bestIsOrgSpecific && r.EffectiveFrom.After(best.EffectiveFrom):
			best = r
		}
	}
	return best
}
