package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/ledgerforge/meterbill/internal/domain"
	"github.com/ledgerforge/meterbill/internal/middleware"
	"github.com/ledgerforge/meterbill/internal/refund"
)

// RefundHandler serves the admin "refunds" surface.
type RefundHandler struct {
	svc *refund.Service
}

func NewRefundHandler(svc *refund.Service) *RefundHandler {
	return &RefundHandler{svc: svc}
}

type refundResponse struct {
	ID              string `json:"id"`
	PaymentID       string `json:"payment_id"`
	InvoiceID       string `json:"invoice_id"`
	RefundNumber    string `json:"refund_number"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	Status          string `json:"status"`
	RefundType      string `json:"refund_type"`
	Reason          string `json:"reason"`
	GatewayRefundID string `json:"gateway_refund_id,omitempty"`
}

func toRefundResponse(r *domain.Refund) refundResponse {
	return refundResponse{
		ID:              r.ID,
		PaymentID:       r.PaymentID,
		InvoiceID:       r.InvoiceID,
		RefundNumber:    r.RefundNumber,
		Amount:          r.Amount.String(),
		Currency:        r.Currency,
		Status:          string(r.Status),
		RefundType:      string(r.RefundType),
		Reason:          r.Reason,
		GatewayRefundID: r.GatewayRefundID,
	}
}

type createRefundRequest struct {
	PaymentID string `json:"payment_id"`
	Amount    string `json:"amount,omitempty"`
	Reason    string `json:"reason"`
	RequestID string `json:"request_id"`
}

// Create serves POST /admin/refunds; the actor is the authenticated admin caller.
func (h *RefundHandler) Create(c echo.Context) error {
	var req createRefundRequest
	if err := c.Bind(&req); err != nil {
		return newValidationError(c, "invalid request body")
	}
	if req.PaymentID == "" || req.Reason == "" || req.RequestID == "" {
		return newValidationError(c, "payment_id, reason, and request_id are required")
	}

	var amount *decimal.Decimal
	if req.Amount != "" {
		v, err := decimal.NewFromString(req.Amount)
		if err != nil {
			return newValidationError(c, "amount must be a number")
		}
		amount = &v
	}

	ac := middleware.GetAuthContext(c)
	actor := ac.AdminEmail
	if actor == "" {
		actor = ac.AdminUserID
	}

	r, err := h.svc.Refund(c.Request().Context(), refund.Request{
		PaymentID: req.PaymentID,
		Amount:    amount,
		Reason:    req.Reason,
		Actor:     actor,
		RequestID: req.RequestID,
	})
	if err != nil {
		return mapDomainError(c, err)
	}
	return c.JSON(http.StatusCreated, toRefundResponse(r))
}

// Get serves GET /admin/refunds/:id.
func (h *RefundHandler) Get(c echo.Context) error {
	r, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapDomainError(c, err)
	}
	return c.JSON(http.StatusOK, toRefundResponse(r))
}

// ListByPayment serves GET /admin/payments/:id/refunds.
func (h *RefundHandler) ListByPayment(c echo.Context) error {
	list, err := h.svc.ListByPayment(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapDomainError(c, err)
	}
	out := make([]refundResponse, 0, len(list))
	for _, r := range list {
		out = append(out, toRefundResponse(r))
	}
	return c.JSON(http.StatusOK, out)
}
