package retry

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ledgerforge/meterbill/internal/domain"
	"github.com/ledgerforge/meterbill/internal/payment"
)

type fakePayments struct {
	payments  map[string]*domain.Payment
	schedules []struct {
		id   string
		next time.Time
		att  domain.RetryAttempt
	}
}

func (f *fakePayments) Create(ctx context.Context, p *domain.Payment) error { return nil }
func (f *fakePayments) Get(ctx context.Context, id string) (*domain.Payment, error) {
	return f.payments[id], nil
}
func (f *fakePayments) GetByInvoice(ctx context.Context, invoiceID string) (*domain.Payment, error) {
	return nil, domain.ErrPaymentNotFound
}
func (f *fakePayments) GetByGatewayOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	return nil, domain.ErrPaymentNotFound
}
func (f *fakePayments) GetByGatewayPaymentIDForUpdate(ctx context.Context, gatewayPaymentID string) (*domain.Payment, error) {
	return nil, domain.ErrPaymentNotFound
}
func (f *fakePayments) TransitionAndCoupleInvoice(ctx context.Context, paymentID string, next domain.PaymentStatus, gatewayPaymentID string, paidAt *time.Time) error {
	return nil
}
func (f *fakePayments) ListRetryEligible(ctx context.Context, asOf time.Time) ([]*domain.Payment, error) {
	var out []*domain.Payment
	for _, p := range f.payments {
		if p.Status == domain.PaymentFailed && p.RetryCount < p.MaxRetries && p.NextRetryAt != nil && !p.NextRetryAt.After(asOf) {
			out = append(out, p)
		}
	}
	return out, nil
}
func (f *fakePayments) ScheduleRetry(ctx context.Context, paymentID string, nextRetryAt time.Time, attempt domain.RetryAttempt) error {
	f.schedules = append(f.schedules, struct {
		id   string
		next time.Time
		att  domain.RetryAttempt
	}{paymentID, nextRetryAt, attempt})
	p := f.payments[paymentID]
	p.RetryCount++
	p.LastRetryAt = &attempt.At
	if !nextRetryAt.IsZero() {
		p.NextRetryAt = &nextRetryAt
	}
	return nil
}
func (f *fakePayments) ListStuckPending(ctx context.Context, olderThan time.Duration) ([]*domain.Payment, error) {
	return nil, nil
}
func (f *fakePayments) MarkFailed(ctx context.Context, paymentID string) error { return nil }
func (f *fakePayments) SumRefunded(ctx context.Context, paymentID string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (f *fakePayments) List(ctx context.Context, organisationID string, limit, offset int) ([]*domain.Payment, error) {
	return nil, nil
}
func (f *fakePayments) ListUpdatedSince(ctx context.Context, since time.Time) ([]*domain.Payment, error) {
	return nil, nil
}

type fakeGateway struct{ fail bool }

func (g *fakeGateway) CreateOrder(ctx context.Context, req payment.OrderRequest) (payment.Order, error) {
	if g.fail {
		return payment.Order{}, errTest
	}
	return payment.Order{ID: "order_retry"}, nil
}
func (g *fakeGateway) CreateRefund(ctx context.Context, req payment.RefundRequest) (payment.RefundResult, error) {
	return payment.RefundResult{}, nil
}

var errTest = &testErr{}

type testErr struct{}

func (e *testErr) Error() string { return "gateway down" }

func TestRun_SchedulesBackoffPerScenarioS6(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t0Plus24 := t0.Add(24 * time.Hour)

	repo := &fakePayments{payments: map[string]*domain.Payment{
		"pay1": {ID: "pay1", Status: domain.PaymentFailed, RetryCount: 0, MaxRetries: 3, NextRetryAt: &t0Plus24},
	}}
	engine := New(Dependencies{Payments: repo, Gateway: &fakeGateway{fail: true}}, zerolog.Nop())

	// Attempt 1 at T0+24h -> schedules T0+72h.
	res, err := engine.Run(context.Background(), t0Plus24)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Attempted != 1 {
		t.Fatalf("expected 1 attempt, got %d", res.Attempted)
	}
	got := *repo.payments["pay1"].NextRetryAt
	want := t0.Add(72 * time.Hour)
	if !got.Equal(want) {
		t.Fatalf("attempt 1: expected next_retry_at %v, got %v", want, got)
	}

	// Attempt 2 at T0+72h -> schedules T0+168h.
	res, err = engine.Run(context.Background(), want)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got = *repo.payments["pay1"].NextRetryAt
	want2 := t0.Add(168 * time.Hour)
	if !got.Equal(want2) {
		t.Fatalf("attempt 2: expected next_retry_at %v, got %v", want2, got)
	}

	// Attempt 3 at T0+168h -> max retries reached, no further scheduling.
	_, err = engine.Run(context.Background(), want2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.payments["pay1"].RetryCount != 3 {
		t.Fatalf("expected retry_count 3, got %d", repo.payments["pay1"].RetryCount)
	}

	// Now exhausted: not eligible for further attempts even if asOf advances.
	res, err = engine.Run(context.Background(), want2.Add(1000*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Attempted != 0 {
		t.Fatalf("expected no further attempts once exhausted, got %d", res.Attempted)
	}
}

func TestRun_IsolatesPerPaymentErrors(t *testing.T) {
	t0 := time.Now().UTC().Add(-time.Hour)
	repo := &fakePayments{payments: map[string]*domain.Payment{
		"ok":  {ID: "ok", Status: domain.PaymentFailed, RetryCount: 0, MaxRetries: 3, NextRetryAt: &t0},
		"bad": {ID: "bad", Status: domain.PaymentFailed, RetryCount: 0, MaxRetries: 3, NextRetryAt: &t0},
	}}
	engine := New(Dependencies{Payments: repo, Gateway: &fakeGateway{fail: false}}, zerolog.Nop())

	res, err := engine.Run(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Attempted != 2 || res.Succeeded != 2 {
		t.Fatalf("expected both payments attempted+succeeded, got %+v", res)
	}
}
