// Package refund implements full/partial refunds against a captured
// payment: an idempotent
// gateway call guarded by domain.IdempotencyRegistry, webhook settlement
// delegated to a repository method that couples payment/invoice state in
// one transaction).
package refund

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ledgerforge/meterbill/internal/domain"
	"github.com/ledgerforge/meterbill/internal/money"
	"github.com/ledgerforge/meterbill/internal/payment"
)

var gatewayRefundStatusMap = map[string]domain.RefundStatus{
	"processed": domain.RefundProcessed,
	"failed":    domain.RefundFailed,
}

type Dependencies struct {
	Refunds     domain.RefundRepository
	Payments    domain.PaymentRepository
	Idempotency domain.IdempotencyRegistry
	Gateway     payment.Gateway
}

type Service struct {
	deps   Dependencies
	logger zerolog.Logger
}

func New(deps Dependencies, logger zerolog.Logger) *Service {
	return &Service{deps: deps, logger: logger.With().Str("component", "refund").Logger()}
}

// Request is the Refund(payment_id, amount?, reason, actor) operation from
// one refund request. RequestID is the actor-supplied idempotency discriminator;
// a retried request with the same (PaymentID, Amount, RequestID) is a no-op
// returning the refund already created.
type Request struct {
	PaymentID string
	Amount    *decimal.Decimal // nil means "remaining balance"
	Reason    string
	Actor     string
	RequestID string
}

// Refund requires the payment be captured, defaults the amount to the
// remaining refundable balance, rejects amounts outside (0, remaining], and
// creates the refund pending before calling the gateway.
func (s *Service) Refund(ctx context.Context, req Request) (*domain.Refund, error) {
	p, err := s.deps.Payments.Get(ctx, req.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("refund: load payment: %w", err)
	}
	if p.Status != domain.PaymentCaptured && p.Status != domain.PaymentPartiallyRefunded {
		return nil, &domain.ValidationError{Field: "payment_id", Message: "payment must be captured to refund"}
	}

	refunded, err := s.deps.Payments.SumRefunded(ctx, req.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("refund: sum refunded: %w", err)
	}
	remaining := p.Amount.Sub(refunded)

	amount := remaining
	if req.Amount != nil {
		amount = *req.Amount
	}
	if amount.Sign() <= 0 {
		return nil, &domain.ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	if amount.GreaterThan(remaining) {
		return nil, &domain.ValidationError{Field: "amount", Message: "exceeds remaining refundable balance"}
	}

	key := fmt.Sprintf("refund_%s_%s_%s", req.PaymentID, amount.String(), req.RequestID)
	refundID, err := s.deps.Idempotency.WithIdempotency(ctx, key, "refund", func(ctx context.Context) (string, error) {
		refundType := domain.RefundPartial
		if amount.Equal(remaining) {
			refundType = domain.RefundFull
		}

		r := &domain.Refund{
			ID:         uuid.NewString(),
			PaymentID:  p.ID,
			InvoiceID:  p.InvoiceID,
			Amount:     amount,
			Currency:   p.Currency,
			Status:     domain.RefundPending,
			RefundType: refundType,
			Reason:     req.Reason,
			Actor:      req.Actor,
		}
		if err := s.deps.Refunds.Create(ctx, r); err != nil {
			return "", fmt.Errorf("refund: persist pending: %w", err)
		}

		minorUnits := amount.Shift(money.Scale(p.Currency)).IntPart()
		result, err := s.deps.Gateway.CreateRefund(ctx, payment.RefundRequest{
			GatewayPaymentID: p.GatewayPaymentID,
			AmountMinorUnits: minorUnits,
			Notes:            map[string]string{"reason": req.Reason},
		})
		if err != nil {
			return "", fmt.Errorf("refund: gateway create refund: %w", err)
		}

		if err := s.deps.Refunds.SettleAndCouple(ctx, r.ID, domain.RefundPending, result.ID); err != nil {
			return "", fmt.Errorf("refund: record gateway refund id: %w", err)
		}
		return r.ID, nil
	})
	if err != nil {
		if conflict, ok := err.(*domain.ConflictError); ok {
			return s.deps.Refunds.Get(ctx, conflict.EntityID)
		}
		return nil, err
	}
	return s.deps.Refunds.Get(ctx, refundID)
}

// HandleWebhook settles a refund per its gateway-reported outcome
// (refund.processed / refund.failed), coupling the payment/invoice state
// forward on success. Returns the HTTP status the caller should respond
// with.
func (s *Service) HandleWebhook(ctx context.Context, gatewayRefundID, status string) (int, error) {
	next, ok := gatewayRefundStatusMap[status]
	if !ok {
		return 400, &domain.ValidationError{Field: "status", Message: "unrecognised gateway refund status " + status}
	}

	r, err := s.deps.Refunds.GetByGatewayRefundID(ctx, gatewayRefundID)
	if err != nil {
		return 404, fmt.Errorf("refund: no refund for gateway id %s: %w", gatewayRefundID, err)
	}
	if r.Status == next {
		return 200, nil // replay
	}
	if err := s.deps.Refunds.SettleAndCouple(ctx, r.ID, next, gatewayRefundID); err != nil {
		s.logger.Error().Err(err).Str("refund_id", r.ID).Msg("refund settlement failed")
		return 500, err
	}
	return 200, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Refund, error) {
	return s.deps.Refunds.Get(ctx, id)
}

func (s *Service) ListByPayment(ctx context.Context, paymentID string) ([]*domain.Refund, error) {
	return s.deps.Refunds.ListByPayment(ctx, paymentID)
}
