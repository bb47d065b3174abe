package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPGateway is the one concrete Gateway adapter this deployment ships:
// a key-id/key-secret HTTP client against a Razorpay-shaped REST API, the
// provider the signed-webhook header and order/payment
// JSON shape are modelled on. The core never imports this file's types;
// only the composition root (cmd/api) references HTTPGateway directly,
// keeping payment.Gateway the only contract the payment, refund, and retry services depend on.
type HTTPGateway struct {
	BaseURL    string
	KeyID      string
	KeySecret  string
	HTTPClient *http.Client
}

func NewHTTPGateway(baseURL, keyID, keySecret string) *HTTPGateway {
	return &HTTPGateway{
		BaseURL:    baseURL,
		KeyID:      keyID,
		KeySecret:  keySecret,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type gatewayOrderPayload struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type gatewayOrderReply struct {
	ID string `json:"id"`
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("gateway: encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, g.BaseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	req.SetBasicAuth(g.KeyID, g.KeySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return &TransientGatewayError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &TransientGatewayError{Cause: fmt.Errorf("gateway: %s returned %d", path, resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("gateway: %s returned %d", path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("gateway: decode response: %w", err)
		}
	}
	return nil
}

// TransientGatewayError marks a gateway failure the retry engine and
// request paths should treat as retryable.
type TransientGatewayError struct{ Cause error }

func (e *TransientGatewayError) Error() string { return "gateway transient: " + e.Cause.Error() }
func (e *TransientGatewayError) Unwrap() error { return e.Cause }

func (g *HTTPGateway) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	var reply gatewayOrderReply
	err := g.do(ctx, http.MethodPost, "/v1/orders", gatewayOrderPayload{
		Amount:   req.AmountMinorUnits,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Notes:    map[string]string{"customer_id": req.CustomerID},
	}, &reply)
	if err != nil {
		return Order{}, err
	}
	return Order{ID: reply.ID}, nil
}

type gatewayRefundPayload struct {
	PaymentID string            `json:"payment_id"`
	Amount    int64             `json:"amount"`
	Notes     map[string]string `json:"notes,omitempty"`
}

func (g *HTTPGateway) CreateRefund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	var reply gatewayOrderReply
	err := g.do(ctx, http.MethodPost, "/v1/refunds", gatewayRefundPayload{
		PaymentID: req.GatewayPaymentID,
		Amount:    req.AmountMinorUnits,
		Notes:     req.Notes,
	}, &reply)
	if err != nil {
		return RefundResult{}, err
	}
	return RefundResult{ID: reply.ID}, nil
}

type gatewayPaymentStatePayload struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
}

// GetPaymentState implements the optional StateFetcher extension used by
// the gateway-vs-durable-payments reconciliation routine.
func (g *HTTPGateway) GetPaymentState(ctx context.Context, gatewayPaymentID string) (GatewayState, error) {
	var reply gatewayPaymentStatePayload
	if err := g.do(ctx, http.MethodGet, "/v1/payments/"+gatewayPaymentID, nil, &reply); err != nil {
		return GatewayState{}, err
	}
	return GatewayState{GatewayPaymentID: reply.ID, Status: reply.Status, AmountMinorUnits: reply.Amount}, nil
}
