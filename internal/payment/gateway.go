// Package payment implements the payment lifecycle state machine: gateway
// order creation, signed webhook ingestion, and the atomic payment+invoice
// status coupling. The gateway itself is an external service; this package
// depends only on the Gateway capability interface below.
package payment

import "context"

// OrderRequest is what the payment service asks the gateway to create.
type OrderRequest struct {
	AmountMinorUnits int64
	Currency         string
	Receipt          string
	CustomerID       string
}

// Order is the gateway's response to CreateOrder.
type Order struct {
	ID string
}

// RefundRequest is what the refund service asks the gateway to create.
type RefundRequest struct {
	GatewayPaymentID string
	AmountMinorUnits int64
	Notes            map[string]string
}

// RefundResult is the gateway's response to CreateRefund.
type RefundResult struct {
	ID string
}

// Gateway is the provider boundary: the core depends on this interface,
// never a concrete provider SDK.
type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
	CreateRefund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

// GatewayState is what the gateway reports back for an existing payment,
// used by the gateway-vs-durable-payments reconciliation routine.
type GatewayState struct {
	GatewayPaymentID string
	Status           string
	AmountMinorUnits int64
}

// StateFetcher is an optional Gateway extension: reconciliation checks for
// it at runtime and skips the gateway-state comparison if the configured
// gateway adapter doesn't implement it.
type StateFetcher interface {
	GetPaymentState(ctx context.Context, gatewayPaymentID string) (GatewayState, error)
}

// WebhookEvent is the parsed form of the gateway-native JSON body:
// `event` plus `payload.payment.entity`.
type WebhookEvent struct {
	Event  string
	Entity PaymentEntity
}

// PaymentEntity mirrors the gateway's payload.payment.entity fields.
type PaymentEntity struct {
	ID              string
	OrderID         string
	Status          string
	AmountMinorUnit int64
	Currency        string
	Method          string
	Notes           map[string]string
}
