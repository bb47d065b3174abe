package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ledgerforge/meterbill/internal/domain"
	"github.com/ledgerforge/meterbill/internal/money"
)

// gatewayStatusMap translates the gateway's native status strings into domain.PaymentStatus.
var gatewayStatusMap = map[string]domain.PaymentStatus{
	"authorized": domain.PaymentAuthorized,
	"captured":   domain.PaymentCaptured,
	"failed":     domain.PaymentFailed,
	"refunded":   domain.PaymentRefunded,
}

// RateLookup resolves the exchange rate needed when the gateway's supported
// currency differs from the invoice currency.
type RateLookup func(ctx context.Context, base, target string, atDate time.Time) (decimal.Decimal, error)

type Dependencies struct {
	Payments        domain.PaymentRepository
	Invoices        domain.InvoiceRepository
	Idempotency     domain.IdempotencyRegistry
	Gateway         Gateway
	Rates           RateLookup
	GatewayCurrency string // the single currency the gateway settles in; "" means no conversion needed
	WebhookSecret   string
	PendingTTL      time.Duration
	MaxRetries      int
	// OnTransition, when set, is invoked after a webhook-driven state change
	// commits. Used to push payment updates to the admin realtime feed;
	// never invoked for replays or rejected transitions.
	OnTransition func(p *domain.Payment, next domain.PaymentStatus)
}

type Service struct {
	deps   Dependencies
	logger zerolog.Logger
}

func New(deps Dependencies, logger zerolog.Logger) *Service {
	if deps.PendingTTL <= 0 {
		deps.PendingTTL = 30 * time.Minute
	}
	if deps.MaxRetries <= 0 {
		deps.MaxRetries = 3
	}
	return &Service{deps: deps, logger: logger.With().Str("component", "payment").Logger()}
}

// CreateOrder opens a gateway order for an invoice: requires the invoice
// be finalized, is idempotent per invoice (a non-failed payment already
// existing short-circuits), converts to the gateway's settlement currency
// when needed, and inserts the payment pending.
func (s *Service) CreateOrder(ctx context.Context, invoiceID, customerID string) (*domain.Payment, error) {
	if existing, err := s.deps.Payments.GetByInvoice(ctx, invoiceID); err == nil {
		return existing, nil
	} else if err != domain.ErrPaymentNotFound {
		return nil, fmt.Errorf("payment: check existing: %w", err)
	}

	inv, _, err := s.deps.Invoices.Get(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("payment: load invoice: %w", err)
	}
	if inv.Status != domain.InvoiceFinalized {
		return nil, &domain.ValidationError{Field: "invoice_id", Message: "invoice must be finalized to create a payment order"}
	}

	amount := inv.Total
	currency := inv.Currency
	notes := map[string]any{}
	if s.deps.GatewayCurrency != "" && s.deps.GatewayCurrency != inv.Currency {
		rate, err := s.deps.Rates(ctx, inv.Currency, s.deps.GatewayCurrency, time.Now().UTC())
		if err != nil {
			return nil, fmt.Errorf("payment: resolve gateway currency rate: %w", err)
		}
		converted := money.New(amount, inv.Currency).ConvertedTo(s.deps.GatewayCurrency, rate)
		notes["original_currency"] = inv.Currency
		notes["original_amount"] = amount.String()
		amount = converted.Decimal()
		currency = s.deps.GatewayCurrency
	}

	minorUnits := amount.Shift(money.Scale(currency)).IntPart()
	order, err := s.deps.Gateway.CreateOrder(ctx, OrderRequest{
		AmountMinorUnits: minorUnits,
		Currency:         currency,
		Receipt:          inv.InvoiceNumber,
		CustomerID:       customerID,
	})
	if err != nil {
		return nil, fmt.Errorf("payment: gateway create order: %w", err)
	}

	p := &domain.Payment{
		ID:             uuid.NewString(),
		OrganisationID: inv.OrganisationID,
		InvoiceID:      inv.ID,
		GatewayOrderID: order.ID,
		Amount:         amount,
		Currency:       currency,
		Status:         domain.PaymentPending,
		Notes:          notes,
		MaxRetries:     s.deps.MaxRetries,
	}
	if err := s.deps.Payments.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("payment: persist: %w", err)
	}
	return p, nil
}

// HandleWebhook ingests one gateway delivery: signature
// verification, idempotent processing keyed by gateway_payment_{id}, and
// the atomic state transition + invoice coupling. Returns the HTTP status
// the caller should respond with.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signatureHex string) (status int, err error) {
	if !VerifySignature(s.deps.WebhookSecret, body, signatureHex) {
		return 400, fmt.Errorf("payment: webhook signature verification failed")
	}

	event, err := ParseWebhook(body)
	if err != nil {
		return 400, err
	}

	next, ok := gatewayStatusMap[event.Entity.Status]
	if !ok {
		return 400, &domain.ValidationError{Field: "status", Message: "unrecognised gateway status " + event.Entity.Status}
	}

	key := "gateway_payment_" + event.Entity.ID
	var transitioned *domain.Payment
	_, err = s.deps.Idempotency.WithIdempotency(ctx, key, "payment", func(ctx context.Context) (string, error) {
		payment, lookErr := s.lookupForTransition(ctx, event)
		if lookErr != nil {
			return "", lookErr
		}

		var paidAt *time.Time
		if next == domain.PaymentCaptured {
			now := time.Now().UTC()
			paidAt = &now
		}
		if txErr := s.deps.Payments.TransitionAndCoupleInvoice(ctx, payment.ID, next, event.Entity.ID, paidAt); txErr != nil {
			return "", txErr
		}
		transitioned = payment
		return payment.ID, nil
	})
	if err != nil {
		if conflict, isConflict := err.(*domain.ConflictError); isConflict {
			s.logger.Info().Str("gateway_payment_id", event.Entity.ID).Str("payment_id", conflict.EntityID).Msg("webhook replay, already processed")
			return 200, nil
		}
		if err == domain.ErrInvalidTransition {
			return 200, nil // already converged to this or a later state
		}
		s.logger.Error().Err(err).Str("gateway_payment_id", event.Entity.ID).Msg("webhook processing failed")
		return 500, err
	}
	if s.deps.OnTransition != nil && transitioned != nil {
		s.deps.OnTransition(transitioned, next)
	}
	return 200, nil
}

// lookupForTransition finds the payment a webhook applies to: first by
// gateway_payment_id (already-linked, for a replay or a later-state
// webhook), falling back to the order id (the first webhook for a payment
// that hasn't been assigned its gateway_payment_id yet).
func (s *Service) lookupForTransition(ctx context.Context, event WebhookEvent) (*domain.Payment, error) {
	if p, err := s.deps.Payments.GetByGatewayPaymentIDForUpdate(ctx, event.Entity.ID); err == nil {
		return p, nil
	}
	// Fall back to order id: payments are keyed by gateway_payment_id, but
	// the very first webhook for an order hasn't recorded one yet.
	p, err := s.deps.Payments.GetByGatewayOrderID(ctx, event.Entity.OrderID)
	if err != nil {
		return nil, fmt.Errorf("payment: no payment for order %s: %w", event.Entity.OrderID, domain.ErrPaymentNotFound)
	}
	return p, nil
}

// FailStuckPending is the janitor for abandoned checkouts: payments pending longer than PendingTTL are
// marked failed, making them retry candidates.
func (s *Service) FailStuckPending(ctx context.Context) (int, error) {
	stuck, err := s.deps.Payments.ListStuckPending(ctx, s.deps.PendingTTL)
	if err != nil {
		return 0, fmt.Errorf("payment: list stuck pending: %w", err)
	}
	failed := 0
	for _, p := range stuck {
		if err := s.deps.Payments.MarkFailed(ctx, p.ID); err != nil {
			s.logger.Error().Err(err).Str("payment_id", p.ID).Msg("failed to mark stuck pending payment as failed")
			continue
		}
		failed++
	}
	return failed, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Payment, error) {
	return s.deps.Payments.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, organisationID string, limit, offset int) ([]*domain.Payment, error) {
	return s.deps.Payments.List(ctx, organisationID, limit, offset)
}
