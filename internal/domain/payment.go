package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending            PaymentStatus = "pending"
	PaymentAuthorized         PaymentStatus = "authorized"
	PaymentCaptured           PaymentStatus = "captured"
	PaymentFailed             PaymentStatus = "failed"
	PaymentRefunded           PaymentStatus = "refunded"
	PaymentPartiallyRefunded  PaymentStatus = "partially_refunded"
)

// validPaymentTransitions encodes the payment state machine.
var validPaymentTransitions = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending:    {PaymentAuthorized: true, PaymentCaptured: true, PaymentFailed: true},
	PaymentAuthorized: {PaymentCaptured: true, PaymentFailed: true},
	PaymentCaptured:   {PaymentRefunded: true, PaymentPartiallyRefunded: true},
	PaymentPartiallyRefunded: {PaymentRefunded: true, PaymentPartiallyRefunded: true},
}

// CanTransition reports whether the payment state machine permits moving
// from s to next.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	return validPaymentTransitions[s][next]
}

// RetryAttempt is one entry in a payment's RetryHistory.
type RetryAttempt struct {
	Attempt   int
	At        time.Time
	Success   bool
	Error     string
	NewOrderID string
}

// Payment tracks one gateway order against one invoice. Retry columns drive
// the retry engine; GatewayPaymentID is unique once set and is the key used to make
// webhook processing idempotent.
type Payment struct {
	ID              string
	OrganisationID  string
	InvoiceID       string
	GatewayOrderID  string
	GatewayPaymentID string
	Amount          decimal.Decimal
	Currency        string
	Status          PaymentStatus
	Method          string
	Notes           map[string]any
	PaidAt          *time.Time
	ReconciledAt    *time.Time
	RetryCount      int
	MaxRetries      int
	NextRetryAt     *time.Time
	LastRetryAt     *time.Time
	RetryHistory    []RetryAttempt
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PaymentRepository persists payments. The refunded total used for
// remaining-refundable amounts is not a Payment field; it is derived, not
// stored, and read through SumRefunded below.
type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	GetByInvoice(ctx context.Context, invoiceID string) (*Payment, error)
	// GetByGatewayOrderID finds the payment a not-yet-linked webhook applies
	// to: the first webhook for an order arrives before GatewayPaymentID is
	// ever set.
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Payment, error)
	// GetByGatewayPaymentIDForUpdate locks the row for the webhook handler's
	// serialised state transition.
	GetByGatewayPaymentIDForUpdate(ctx context.Context, gatewayPaymentID string) (*Payment, error)
	// TransitionAndCoupleInvoice performs the state transition and, when it
	// reaches captured/refunded, the paired invoice status move, atomically.
	TransitionAndCoupleInvoice(ctx context.Context, paymentID string, next PaymentStatus, gatewayPaymentID string, paidAt *time.Time) error
	ListRetryEligible(ctx context.Context, asOf time.Time) ([]*Payment, error)
	ScheduleRetry(ctx context.Context, paymentID string, nextRetryAt time.Time, attempt RetryAttempt) error
	// ListStuckPending returns payments pending longer than ttl for the
	// janitor that fails them out.
	ListStuckPending(ctx context.Context, olderThan time.Duration) ([]*Payment, error)
	MarkFailed(ctx context.Context, paymentID string) error
	SumRefunded(ctx context.Context, paymentID string) (decimal.Decimal, error)
	List(ctx context.Context, organisationID string, limit, offset int) ([]*Payment, error)
	// ListUpdatedSince feeds the gateway-vs-durable-payments reconciliation
	// routine a rolling window across all organisations.
	ListUpdatedSince(ctx context.Context, since time.Time) ([]*Payment, error)
}
