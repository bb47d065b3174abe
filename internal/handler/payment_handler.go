package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ledgerforge/meterbill/internal/domain"
	"github.com/ledgerforge/meterbill/internal/payment"
	"github.com/ledgerforge/meterbill/internal/retry"
)

// PaymentHandler serves the admin "payments list/retry/retry-status"
// surface.
type PaymentHandler struct {
	payments *payment.Service
	retry    *retry.Engine
}

func NewPaymentHandler(payments *payment.Service, retryEngine *retry.Engine) *PaymentHandler {
	return &PaymentHandler{payments: payments, retry: retryEngine}
}

type retryAttemptResponse struct {
	Attempt    int    `json:"attempt"`
	At         string `json:"at"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	NewOrderID string `json:"new_order_id,omitempty"`
}

type paymentResponse struct {
	ID               string                 `json:"id"`
	OrganisationID   string                 `json:"organisation_id"`
	InvoiceID        string                 `json:"invoice_id"`
	GatewayOrderID   string                 `json:"gateway_order_id"`
	GatewayPaymentID string                 `json:"gateway_payment_id,omitempty"`
	Amount           string                 `json:"amount"`
	Currency         string                 `json:"currency"`
	Status           string                 `json:"status"`
	RetryCount       int                    `json:"retry_count"`
	MaxRetries       int                    `json:"max_retries"`
	NextRetryAt      string                 `json:"next_retry_at,omitempty"`
	RetryHistory     []retryAttemptResponse `json:"retry_history,omitempty"`
}

func toPaymentResponse(p *domain.Payment) paymentResponse {
	out := paymentResponse{
		ID:               p.ID,
		OrganisationID:   p.OrganisationID,
		InvoiceID:        p.InvoiceID,
		GatewayOrderID:   p.GatewayOrderID,
		GatewayPaymentID: p.GatewayPaymentID,
		Amount:           p.Amount.String(),
		Currency:         p.Currency,
		Status:           string(p.Status),
		RetryCount:       p.RetryCount,
		MaxRetries:       p.MaxRetries,
	}
	if p.NextRetryAt != nil {
		out.NextRetryAt = p.NextRetryAt.Format(time.RFC3339)
	}
	for _, a := range p.RetryHistory {
		out.RetryHistory = append(out.RetryHistory, retryAttemptResponse{
			Attempt:    a.Attempt,
			At:         a.At.Format(time.RFC3339),
			Success:    a.Success,
			Error:      a.Error,
			NewOrderID: a.NewOrderID,
		})
	}
	return out
}

// List serves GET /admin/organisations/:id/payments.
func (h *PaymentHandler) List(c echo.Context) error {
	limit, offset := parseLimitOffset(c)
	list, err := h.payments.List(c.Request().Context(), c.Param("id"), limit, offset)
	if err != nil {
		return mapDomainError(c, err)
	}
	out := make([]paymentResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toPaymentResponse(p))
	}
	return c.JSON(http.StatusOK, out)
}

// Get serves GET /admin/payments/:id.
func (h *PaymentHandler) Get(c echo.Context) error {
	p, err := h.payments.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapDomainError(c, err)
	}
	return c.JSON(http.StatusOK, toPaymentResponse(p))
}

type createOrderRequest struct {
	InvoiceID  string `json:"invoice_id"`
	CustomerID string `json:"customer_id,omitempty"`
}

// CreateOrder serves POST /admin/payments: manually kicks off the payment service's
// CreateOrder for a finalized invoice.
func (h *PaymentHandler) CreateOrder(c echo.Context) error {
	var req createOrderRequest
	if err := c.Bind(&req); err != nil {
		return newValidationError(c, "invalid request body")
	}
	if req.InvoiceID == "" {
		return newValidationError(c, "invoice_id is required")
	}
	p, err := h.payments.CreateOrder(c.Request().Context(), req.InvoiceID, req.CustomerID)
	if err != nil {
		return mapDomainError(c, err)
	}
	return c.JSON(http.StatusCreated, toPaymentResponse(p))
}

// Retry serves POST /admin/payments/:id/retry: forces an immediate retry
// attempt outside the 6-hourly schedule, by fetching the payment and
// handing it to the retry engine's single-payment path, RunOne, which
// skips the next_retry_at eligibility gate.
func (h *PaymentHandler) Retry(c echo.Context) error {
	p, err := h.payments.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapDomainError(c, err)
	}
	if p.Status != domain.PaymentFailed {
		return newValidationError(c, "payment is not in a failed state")
	}
	res, err := h.retry.RunOne(c.Request().Context(), p.ID, time.Now().UTC())
	if err != nil {
		return mapDomainError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// RetryStatus serves GET /admin/payments/:id/retry-status.
func (h *PaymentHandler) RetryStatus(c echo.Context) error {
	p, err := h.payments.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapDomainError(c, err)
	}
	return c.JSON(http.StatusOK, toPaymentResponse(p))
}
