package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ledgerforge/meterbill/internal/domain"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"payment.captured"}`)
	sig := sign("whsec_test", body)

	if !VerifySignature("whsec_test", body, sig) {
		t.Fatal("expected valid signature to verify")
	}
	if VerifySignature("whsec_test", body, "deadbeef") {
		t.Fatal("expected tampered signature to fail")
	}
	if VerifySignature("", body, sig) {
		t.Fatal("expected empty secret to never verify")
	}
	if VerifySignature("whsec_test", body, "") {
		t.Fatal("expected empty signature to never verify")
	}
}

func TestParseWebhook_RejectsMissingFields(t *testing.T) {
	_, err := ParseWebhook([]byte(`{"event":"payment.captured","payload":{"payment":{"entity":{}}}}`))
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

type fakePaymentRepo struct {
	byInvoice map[string]*domain.Payment
	byOrder   map[string]*domain.Payment
	byGateway map[string]*domain.Payment
	created   []*domain.Payment
	coupled   []string
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{byInvoice: map[string]*domain.Payment{}, byOrder: map[string]*domain.Payment{}, byGateway: map[string]*domain.Payment{}}
}

func (f *fakePaymentRepo) Create(ctx context.Context, p *domain.Payment) error {
	f.created = append(f.created, p)
	f.byInvoice[p.InvoiceID] = p
	f.byOrder[p.GatewayOrderID] = p
	return nil
}
func (f *fakePaymentRepo) Get(ctx context.Context, id string) (*domain.Payment, error) {
	for _, p := range f.byInvoice {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}
func (f *fakePaymentRepo) GetByInvoice(ctx context.Context, invoiceID string) (*domain.Payment, error) {
	if p, ok := f.byInvoice[invoiceID]; ok && p.Status != domain.PaymentFailed {
		return p, nil
	}
	return nil, domain.ErrPaymentNotFound
}
func (f *fakePaymentRepo) GetByGatewayOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	if p, ok := f.byOrder[orderID]; ok {
		return p, nil
	}
	return nil, domain.ErrPaymentNotFound
}
func (f *fakePaymentRepo) GetByGatewayPaymentIDForUpdate(ctx context.Context, gatewayPaymentID string) (*domain.Payment, error) {
	if p, ok := f.byGateway[gatewayPaymentID]; ok {
		return p, nil
	}
	return nil, domain.ErrPaymentNotFound
}
func (f *fakePaymentRepo) TransitionAndCoupleInvoice(ctx context.Context, paymentID string, next domain.PaymentStatus, gatewayPaymentID string, paidAt *time.Time) error {
	for _, p := range f.byInvoice {
		if p.ID == paymentID {
			if !p.Status.CanTransition(next) {
				return domain.ErrInvalidTransition
			}
			p.Status = next
			if next == domain.PaymentFailed {
				// Mirrors the repository contract: a webhook-driven failure
				// seeds the retry schedule so the payment is retry-eligible.
				if p.NextRetryAt == nil {
					at := time.Now().UTC().Add(24 * time.Hour)
					p.NextRetryAt = &at
				}
				if p.MaxRetries <= 0 {
					p.MaxRetries = 3
				}
			}
			f.byGateway[gatewayPaymentID] = p
			f.coupled = append(f.coupled, paymentID)
			return nil
		}
	}
	return domain.ErrPaymentNotFound
}
func (f *fakePaymentRepo) ListRetryEligible(ctx context.Context, asOf time.Time) ([]*domain.Payment, error) {
	var out []*domain.Payment
	for _, p := range f.byInvoice {
		if p.Status == domain.PaymentFailed && p.RetryCount < p.MaxRetries && p.NextRetryAt != nil && !p.NextRetryAt.After(asOf) {
			out = append(out, p)
		}
	}
	return out, nil
}
func (f *fakePaymentRepo) ScheduleRetry(ctx context.Context, paymentID string, nextRetryAt time.Time, attempt domain.RetryAttempt) error {
	return nil
}
func (f *fakePaymentRepo) ListStuckPending(ctx context.Context, olderThan time.Duration) ([]*domain.Payment, error) {
	return nil, nil
}
func (f *fakePaymentRepo) MarkFailed(ctx context.Context, paymentID string) error { return nil }
func (f *fakePaymentRepo) SumRefunded(ctx context.Context, paymentID string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (f *fakePaymentRepo) List(ctx context.Context, organisationID string, limit, offset int) ([]*domain.Payment, error) {
	return nil, nil
}
func (f *fakePaymentRepo) ListUpdatedSince(ctx context.Context, since time.Time) ([]*domain.Payment, error) {
	return nil, nil
}

type fakeInvoiceRepo struct {
	invoices map[string]*domain.Invoice
}

func (f *fakeInvoiceRepo) InsertDraft(ctx context.Context, inv *domain.Invoice, lines []*domain.InvoiceLineItem, auditActor string) error {
	return nil
}
func (f *fakeInvoiceRepo) Get(ctx context.Context, id string) (*domain.Invoice, []*domain.InvoiceLineItem, error) {
	inv, ok := f.invoices[id]
	if !ok {
		return nil, nil, domain.ErrInvoiceNotFound
	}
	return inv, nil, nil
}
func (f *fakeInvoiceRepo) GetByPeriod(ctx context.Context, organisationID string, month, year int) (*domain.Invoice, error) {
	return nil, domain.ErrInvoiceNotFound
}
func (f *fakeInvoiceRepo) Finalize(ctx context.Context, id string) error { return nil }
func (f *fakeInvoiceRepo) TransitionStatus(ctx context.Context, id string, next domain.InvoiceStatus) error {
	return nil
}
func (f *fakeInvoiceRepo) List(ctx context.Context, organisationID string, limit, offset int) ([]*domain.Invoice, error) {
	return nil, nil
}
func (f *fakeInvoiceRepo) ListDueForReminder(ctx context.Context, asOf time.Time) ([]*domain.Invoice, error) {
	return nil, nil
}
func (f *fakeInvoiceRepo) SetPDFURL(ctx context.Context, id string, url string) error {
	return nil
}

type fakeIdempotency struct{ seen map[string]string }

func newFakeIdempotency() *fakeIdempotency { return &fakeIdempotency{seen: map[string]string{}} }

func (f *fakeIdempotency) Reserve(ctx context.Context, key, entityType string) (domain.IdempotencyOutcome, error) {
	return domain.IdempotencyOutcome{}, nil
}
func (f *fakeIdempotency) Complete(ctx context.Context, key, entityType, entityID string) error {
	return nil
}
func (f *fakeIdempotency) WithIdempotency(ctx context.Context, key, entityType string, fn func(ctx context.Context) (string, error)) (string, error) {
	if existing, ok := f.seen[key]; ok {
		return existing, &domain.ConflictError{EntityType: entityType, EntityID: existing}
	}
	id, err := fn(ctx)
	if err != nil {
		return "", err
	}
	f.seen[key] = id
	return id, nil
}

type fakeGateway struct{ orderID string }

func (f *fakeGateway) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	return Order{ID: f.orderID}, nil
}
func (f *fakeGateway) CreateRefund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	return RefundResult{ID: "rfnd_1"}, nil
}

func TestCreateOrder_RequiresFinalizedInvoice(t *testing.T) {
	invRepo := &fakeInvoiceRepo{invoices: map[string]*domain.Invoice{
		"inv1": {ID: "inv1", Status: domain.InvoiceDraft, Total: decimal.NewFromInt(1180), Currency: "INR"},
	}}
	svc := New(Dependencies{
		Payments: newFakePaymentRepo(),
		Invoices: invRepo,
		Gateway:  &fakeGateway{orderID: "order_1"},
	}, zerolog.Nop())

	_, err := svc.CreateOrder(context.Background(), "inv1", "")
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCreateOrder_CreatesPendingPayment(t *testing.T) {
	invRepo := &fakeInvoiceRepo{invoices: map[string]*domain.Invoice{
		"inv1": {ID: "inv1", InvoiceNumber: "INV-1", Status: domain.InvoiceFinalized, Total: decimal.NewFromInt(1180), Currency: "INR"},
	}}
	payRepo := newFakePaymentRepo()
	svc := New(Dependencies{
		Payments: payRepo,
		Invoices: invRepo,
		Gateway:  &fakeGateway{orderID: "order_1"},
	}, zerolog.Nop())

	p, err := svc.CreateOrder(context.Background(), "inv1", "cust_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != domain.PaymentPending {
		t.Fatalf("expected pending, got %s", p.Status)
	}
	if p.GatewayOrderID != "order_1" {
		t.Fatalf("expected order_1, got %s", p.GatewayOrderID)
	}
}

func TestHandleWebhook_BadSignatureReturns400(t *testing.T) {
	svc := New(Dependencies{WebhookSecret: "secret"}, zerolog.Nop())
	status, err := svc.HandleWebhook(context.Background(), []byte(`{}`), "bad")
	if status != 400 || err == nil {
		t.Fatalf("expected 400 + error, got %d, %v", status, err)
	}
}

func TestHandleWebhook_CapturedCouplesInvoice(t *testing.T) {
	invRepo := &fakeInvoiceRepo{invoices: map[string]*domain.Invoice{
		"inv1": {ID: "inv1", InvoiceNumber: "INV-1", Status: domain.InvoiceFinalized, Total: decimal.NewFromInt(1180), Currency: "INR"},
	}}
	payRepo := newFakePaymentRepo()
	payRepo.byInvoice["inv1"] = &domain.Payment{ID: "pay1", InvoiceID: "inv1", GatewayOrderID: "order_1", Status: domain.PaymentPending}
	payRepo.byOrder["order_1"] = payRepo.byInvoice["inv1"]

	svc := New(Dependencies{
		Payments:      payRepo,
		Invoices:      invRepo,
		Idempotency:   newFakeIdempotency(),
		WebhookSecret: "secret",
	}, zerolog.Nop())

	body, _ := json.Marshal(map[string]any{
		"event": "payment.captured",
		"payload": map[string]any{
			"payment": map[string]any{
				"entity": map[string]any{
					"id": "pay_X", "order_id": "order_1", "status": "captured", "amount": 118000, "currency": "INR",
				},
			},
		},
	})
	sig := sign("secret", body)

	status, err := svc.HandleWebhook(context.Background(), body, sig)
	if err != nil || status != 200 {
		t.Fatalf("expected 200, got %d err=%v", status, err)
	}
	if payRepo.byInvoice["inv1"].Status != domain.PaymentCaptured {
		t.Fatalf("expected payment captured, got %s", payRepo.byInvoice["inv1"].Status)
	}

	// Replay: idempotent, still 200, no further transitions attempted.
	status, err = svc.HandleWebhook(context.Background(), body, sig)
	if err != nil || status != 200 {
		t.Fatalf("expected replay to return 200, got %d err=%v", status, err)
	}
}

func TestHandleWebhook_FailedSeedsRetrySchedule(t *testing.T) {
	payRepo := newFakePaymentRepo()
	payRepo.byInvoice["inv1"] = &domain.Payment{ID: "pay1", InvoiceID: "inv1", GatewayOrderID: "order_1", Status: domain.PaymentPending}
	payRepo.byOrder["order_1"] = payRepo.byInvoice["inv1"]

	svc := New(Dependencies{
		Payments:      payRepo,
		Invoices:      &fakeInvoiceRepo{invoices: map[string]*domain.Invoice{}},
		Idempotency:   newFakeIdempotency(),
		WebhookSecret: "secret",
	}, zerolog.Nop())

	body, _ := json.Marshal(map[string]any{
		"event": "payment.failed",
		"payload": map[string]any{
			"payment": map[string]any{
				"entity": map[string]any{
					"id": "pay_F", "order_id": "order_1", "status": "failed", "amount": 118000, "currency": "INR",
				},
			},
		},
	})
	sig := sign("secret", body)

	status, err := svc.HandleWebhook(context.Background(), body, sig)
	if err != nil || status != 200 {
		t.Fatalf("expected 200, got %d err=%v", status, err)
	}

	p := payRepo.byInvoice["inv1"]
	if p.Status != domain.PaymentFailed {
		t.Fatalf("expected payment failed, got %s", p.Status)
	}
	if p.NextRetryAt == nil {
		t.Fatal("expected webhook-driven failure to seed next_retry_at")
	}
	if p.MaxRetries <= 0 {
		t.Fatal("expected webhook-driven failure to default max_retries")
	}
	if eligible, _ := payRepo.ListRetryEligible(context.Background(), p.NextRetryAt.Add(time.Minute)); len(eligible) != 1 {
		t.Fatalf("expected failed payment to be retry-eligible, got %d", len(eligible))
	}
}
