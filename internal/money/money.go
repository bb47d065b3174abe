// Package money implements the decimal and money kernel: exact
// fixed-precision arithmetic for every monetary and usage quantity in the
// billing engine. No float ever appears in a financial path.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// currencyScale holds the number of minor-unit digits per ISO 4217 code.
// Most currencies use 2 (cents/paise); a few, like JPY, use 0.
var currencyScale = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
	"INR": 2,
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
}

// Scale returns the minor-unit scale for a currency, defaulting to 2 for any
// currency not listed explicitly.
func Scale(currency string) int32 {
	if s, ok := currencyScale[currency]; ok {
		return s
	}
	return 2
}

// Money is an exact decimal amount tagged with its currency. Zero value is
// not meaningful; always construct via New/Parse/Zero.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// Zero returns a zero amount in the given currency.
func Zero(currency string) Money {
	return Money{amount: decimal.Zero, currency: currency}
}

// New wraps a decimal.Decimal with a currency tag.
func New(amount decimal.Decimal, currency string) Money {
	return Money{amount: amount, currency: currency}
}

// FromInt builds a Money from a whole-unit integer (e.g. FromInt(100, "INR") == 100.00 INR).
func FromInt(units int64, currency string) Money {
	return Money{amount: decimal.NewFromInt(units), currency: currency}
}

// Parse parses a decimal string into a Money value.
func Parse(s, currency string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	return Money{amount: d, currency: currency}, nil
}

// Decimal returns the underlying exact decimal value.
func (m Money) Decimal() decimal.Decimal { return m.amount }

// Currency returns the ISO 4217 currency code.
func (m Money) Currency() string { return m.currency }

// Sign returns -1, 0, or 1.
func (m Money) Sign() int { return m.amount.Sign() }

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool { return m.amount.IsZero() }

// IsNegative reports whether the amount is less than zero.
func (m Money) IsNegative() bool { return m.amount.IsNegative() }

// requireSameCurrency panics with a descriptive message on a currency
// mismatch. Cross-currency arithmetic must never reach this point directly;
// callers convert through the currency service first (see internal/currency),
// which returns a freshly tagged Money in the target currency.
func requireSameCurrency(a, b Money) {
	if a.currency != b.currency {
		panic(fmt.Sprintf("money: cross-currency operation between %s and %s; convert first", a.currency, b.currency))
	}
}

// Add returns a + b. Panics on currency mismatch.
func (m Money) Add(o Money) Money {
	requireSameCurrency(m, o)
	return Money{amount: m.amount.Add(o.amount), currency: m.currency}
}

// Sub returns a - b. Panics on currency mismatch.
func (m Money) Sub(o Money) Money {
	requireSameCurrency(m, o)
	return Money{amount: m.amount.Sub(o.amount), currency: m.currency}
}

// MulDecimal multiplies by a unitless decimal factor (e.g. quantity * unit_price).
func (m Money) MulDecimal(factor decimal.Decimal) Money {
	return Money{amount: m.amount.Mul(factor), currency: m.currency}
}

// DivDecimal divides by a unitless decimal divisor. Returns an error on
// divide-by-zero instead of panicking.
func (m Money) DivDecimal(divisor decimal.Decimal) (Money, error) {
	if divisor.IsZero() {
		return Money{}, fmt.Errorf("money: division by zero")
	}
	return Money{amount: m.amount.DivRound(divisor, Scale(m.currency)+4), currency: m.currency}, nil
}

// Cmp compares two same-currency amounts: -1, 0, 1. Panics on mismatch.
func (m Money) Cmp(o Money) int {
	requireSameCurrency(m, o)
	return m.amount.Cmp(o.amount)
}

// LessThan reports whether m < o.
func (m Money) LessThan(o Money) bool { return m.Cmp(o) < 0 }

// GreaterThan reports whether m > o.
func (m Money) GreaterThan(o Money) bool { return m.Cmp(o) > 0 }

// Equal reports whether m == o (same currency, same exact value).
func (m Money) Equal(o Money) bool {
	if m.currency != o.currency {
		return false
	}
	return m.amount.Equal(o.amount)
}

// Min returns the smaller of two same-currency amounts.
func Min(a, b Money) Money {
	requireSameCurrency(a, b)
	if a.amount.LessThanOrEqual(b.amount) {
		return a
	}
	return b
}

// Max returns the larger of two same-currency amounts.
func Max(a, b Money) Money {
	requireSameCurrency(a, b)
	if a.amount.GreaterThanOrEqual(b.amount) {
		return a
	}
	return b
}

// Round rounds to the currency's minor-unit scale using half-even (banker's)
// rounding.
func (m Money) Round() Money {
	return Money{amount: m.amount.RoundBank(Scale(m.currency)), currency: m.currency}
}

// RoundTo rounds to an explicit scale with half-even rounding; used by the tax
// calculation in the billing engine, which always rounds to 2 places
// regardless of the invoice currency's native scale.
func (m Money) RoundTo(scale int32) Money {
	return Money{amount: m.amount.RoundBank(scale), currency: m.currency}
}

// String renders the amount at its currency's fixed scale, e.g. "1180.00".
func (m Money) String() string {
	return m.amount.StringFixedBank(Scale(m.currency))
}

// ConvertedTo produces a fresh Money in a different currency by applying an
// exchange rate (quantity in target currency = amount * rate). This is the
// only sanctioned way to change a Money's currency tag; see internal/currency
// for where rates are looked up. The design notes forbid doing this inline in
// any other package.
func (m Money) ConvertedTo(targetCurrency string, rate decimal.Decimal) Money {
	return Money{amount: m.amount.Mul(rate), currency: targetCurrency}
}
