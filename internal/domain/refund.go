package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundProcessed RefundStatus = "processed"
	RefundFailed    RefundStatus = "failed"
	RefundCancelled RefundStatus = "cancelled"
)

type RefundType string

const (
	RefundFull    RefundType = "full"
	RefundPartial RefundType = "partial"
)

// Refund is denormalised with InvoiceID so reconciliation and listing don't
// need a join back through Payment.
type Refund struct {
	ID              string
	PaymentID       string
	InvoiceID       string
	RefundNumber    string
	Amount          decimal.Decimal
	Currency        string
	Status          RefundStatus
	RefundType      RefundType
	Reason          string
	Actor           string
	GatewayRefundID string
}

type RefundRepository interface {
	Create(ctx context.Context, r *Refund) error
	Get(ctx context.Context, id string) (*Refund, error)
	GetByGatewayRefundID(ctx context.Context, gatewayRefundID string) (*Refund, error)
	// SettleAndCouple applies the webhook outcome to the refund and, in the
	// same transaction, rolls the payment/invoice state forward per
	// settlement.
	SettleAndCouple(ctx context.Context, refundID string, status RefundStatus, gatewayRefundID string) error
	ListByPayment(ctx context.Context, paymentID string) ([]*Refund, error)
}
