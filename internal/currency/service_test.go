package currency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ledgerforge/meterbill/internal/domain"
)

type fakeRepo struct {
	rates    map[string]*domain.ExchangeRate
	upserted []*domain.ExchangeRate
}

func key(base, target string) string { return base + "->" + target }

func (f *fakeRepo) Effective(ctx context.Context, base, target string, atDate time.Time) (*domain.ExchangeRate, error) {
	r, ok := f.rates[key(base, target)]
	if !ok {
		return nil, domain.ErrExchangeRateMissing
	}
	return r, nil
}

func (f *fakeRepo) Upsert(ctx context.Context, r *domain.ExchangeRate) error {
	f.upserted = append(f.upserted, r)
	if f.rates == nil {
		f.rates = map[string]*domain.ExchangeRate{}
	}
	f.rates[key(r.Base, r.Target)] = r
	return nil
}

func (f *fakeRepo) List(ctx context.Context, base string) ([]*domain.ExchangeRate, error) {
	var out []*domain.ExchangeRate
	for _, r := range f.rates {
		if r.Base == base {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestRate_SameCurrencyShortCircuits(t *testing.T) {
	svc := New(&fakeRepo{}, nil, zerolog.Nop())
	rate, err := svc.Rate("INR", "INR", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rate.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected 1, got %s", rate)
	}
}

func TestRate_MissingReturnsExchangeRateMissing(t *testing.T) {
	svc := New(&fakeRepo{}, nil, zerolog.Nop())
	_, err := svc.Rate("USD", "INR", time.Now())
	if !errors.Is(err, domain.ErrExchangeRateMissing) {
		t.Fatalf("expected ErrExchangeRateMissing, got %v", err)
	}
}

func TestUpsert_RejectsNonPositiveRate(t *testing.T) {
	svc := New(&fakeRepo{}, nil, zerolog.Nop())
	err := svc.Upsert(context.Background(), &domain.ExchangeRate{Base: "USD", Target: "INR", Rate: decimal.Zero})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

type fakeSource struct {
	rates map[string]decimal.Decimal
	err   error
}

func (f *fakeSource) FetchRates(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	return f.rates, f.err
}

func TestSync_SourceFailureDegradesGracefully(t *testing.T) {
	repo := &fakeRepo{}
	svc := New(repo, &fakeSource{err: errors.New("provider down")}, zerolog.Nop())
	if err := svc.Sync(context.Background(), "USD"); err != nil {
		t.Fatalf("sync should swallow source errors, got %v", err)
	}
	if len(repo.upserted) != 0 {
		t.Fatalf("expected no upserts on source failure")
	}
}

func TestSync_UpsertsEachFetchedRate(t *testing.T) {
	repo := &fakeRepo{}
	svc := New(repo, &fakeSource{rates: map[string]decimal.Decimal{
		"INR": decimal.NewFromFloat(83.12),
		"EUR": decimal.NewFromFloat(0.92),
	}}, zerolog.Nop())
	if err := svc.Sync(context.Background(), "USD"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.upserted) != 2 {
		t.Fatalf("expected 2 upserts, got %d", len(repo.upserted))
	}
}

func TestSync_NoSourceConfiguredIsNoOp(t *testing.T) {
	svc := New(&fakeRepo{}, nil, zerolog.Nop())
	if err := svc.Sync(context.Background(), "USD"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
