package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeRate is effective over [EffectiveFrom, EffectiveTo). A nil
// EffectiveTo means still current.
type ExchangeRate struct {
	ID            string
	Base          string
	Target        string
	Rate          decimal.Decimal
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
	Source        string
}

type ExchangeRateRepository interface {
	// Effective selects the row with Base, Target, EffectiveFrom <= atDate
	// and (EffectiveTo > atDate OR NULL), preferring the most specific
	// source when more than one would otherwise match.
	Effective(ctx context.Context, base, target string, atDate time.Time) (*ExchangeRate, error)
	// Upsert closes the previous effective window for (base, target) and
	// inserts a new row.
	Upsert(ctx context.Context, r *ExchangeRate) error
	List(ctx context.Context, base string) ([]*ExchangeRate, error)
}
