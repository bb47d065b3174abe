// Package currency implements exchange-rate lookup for the billing
// calculator and payment order creation. The store is read-mostly: the
// admin-driven Upsert path and the best-effort external Sync are the only
// mutating operations.
package currency

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ledgerforge/meterbill/internal/domain"
)

// Source pulls fresh rates from an external provider for one base currency.
// Failures degrade gracefully: no sync, existing rows keep being used.
type Source interface {
	FetchRates(ctx context.Context, base string) (map[string]decimal.Decimal, error)
}

type Service struct {
	repo   domain.ExchangeRateRepository
	source Source
	logger zerolog.Logger
}

func New(repo domain.ExchangeRateRepository, source Source, logger zerolog.Logger) *Service {
	return &Service{repo: repo, source: source, logger: logger.With().Str("component", "currency").Logger()}
}

// Rate implements billing.RateLookup: the function signature the pure
// calculator takes as an input, resolved by the invoice generator before
// invoking it. Same-currency lookups short-circuit to 1 without a store
// round-trip.
func (s *Service) Rate(base, target string, atDate time.Time) (decimal.Decimal, error) {
	if base == target {
		return decimal.NewFromInt(1), nil
	}
	rate, err := s.repo.Effective(context.Background(), base, target, atDate)
	if err != nil {
		return decimal.Zero, err
	}
	return rate.Rate, nil
}

// RateCtx is the context-aware form used outside the pure calculator, e.g.
// by the payment service when converting a gateway order amount.
func (s *Service) RateCtx(ctx context.Context, base, target string, atDate time.Time) (decimal.Decimal, error) {
	if base == target {
		return decimal.NewFromInt(1), nil
	}
	rate, err := s.repo.Effective(ctx, base, target, atDate)
	if err != nil {
		return decimal.Zero, err
	}
	return rate.Rate, nil
}

// Upsert closes the previous effective window for (base, target) and
// inserts the new row.
func (s *Service) Upsert(ctx context.Context, rate *domain.ExchangeRate) error {
	if rate.Rate.Sign() <= 0 {
		return &domain.ValidationError{Field: "rate", Message: "must be > 0"}
	}
	return s.repo.Upsert(ctx, rate)
}

func (s *Service) List(ctx context.Context, base string) ([]*domain.ExchangeRate, error) {
	return s.repo.List(ctx, base)
}

// Sync pulls fresh rates from the external source and upserts each one as
// effective now. A source error is logged and swallowed: the sync is
// explicit that a failed sync must not disturb rows already in use.
func (s *Service) Sync(ctx context.Context, base string) error {
	if s.source == nil {
		return nil
	}
	rates, err := s.source.FetchRates(ctx, base)
	if err != nil {
		s.logger.Warn().Err(err).Str("base", base).Msg("exchange rate sync failed, keeping existing rates")
		return nil
	}
	now := time.Now().UTC()
	for target, rate := range rates {
		if err := s.repo.Upsert(ctx, &domain.ExchangeRate{
			Base:          base,
			Target:        target,
			Rate:          rate,
			EffectiveFrom: now,
			Source:        "sync",
		}); err != nil {
			return fmt.Errorf("currency: sync upsert %s->%s: %w", base, target, err)
		}
	}
	s.logger.Info().Str("base", base).Int("count", len(rates)).Msg("exchange rates synced")
	return nil
}
