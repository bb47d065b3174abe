package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ledgerforge/meterbill/internal/obs"
	"github.com/ledgerforge/meterbill/internal/payment"
	"github.com/ledgerforge/meterbill/internal/refund"
)

// WebhookHandler serves POST /webhooks/:gateway. Only the gateway already wired into payment.Service and
// refund.Service is accepted; the :gateway path segment exists for
// routing/logging, not multi-gateway dispatch. Refund events
// (`refund.processed` / `refund.failed`) are routed to
// refund.Service; every other event goes to payment.Service, which performs
// its own signature verification and parsing.
type WebhookHandler struct {
	payments      *payment.Service
	refunds       *refund.Service
	webhookSecret string
	signatureHead string
	metrics       *obs.Metrics
}

// NewWebhookHandler creates a handler that reads the HMAC signature from
// signatureHeader (e.g. "X-Razorpay-Signature").
func NewWebhookHandler(payments *payment.Service, refunds *refund.Service, webhookSecret, signatureHeader string, metrics *obs.Metrics) *WebhookHandler {
	return &WebhookHandler{payments: payments, refunds: refunds, webhookSecret: webhookSecret, signatureHead: signatureHeader, metrics: metrics}
}

func (h *WebhookHandler) recordStatus(status int) {
	if h.metrics == nil {
		return
	}
	h.metrics.WebhookRequestsTotal.WithLabelValues(strconv.Itoa(status / 100) + "xx").Inc()
}

// rawEventPayload peeks at just the event name and refund entity, enough to
// route without duplicating payment.ParseWebhook's full payment parsing.
type rawEventPayload struct {
	Event   string `json:"event"`
	Payload struct {
		Refund struct {
			Entity struct {
				ID string `json:"id"`
			} `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

func (h *WebhookHandler) Handle(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		h.recordStatus(http.StatusBadRequest)
		return newValidationError(c, "unreadable request body")
	}
	signature := c.Request().Header.Get(h.signatureHead)

	if !payment.VerifySignature(h.webhookSecret, body, signature) {
		h.recordStatus(http.StatusBadRequest)
		return problem(c, http.StatusBadRequest, errorTypeValidation, "Webhook Processing Failed", "signature verification failed")
	}

	var raw rawEventPayload
	if err := json.Unmarshal(body, &raw); err != nil {
		h.recordStatus(http.StatusBadRequest)
		return newValidationError(c, "invalid webhook payload")
	}

	var status int
	if strings.HasPrefix(raw.Event, "refund.") {
		refundStatus := strings.TrimPrefix(raw.Event, "refund.")
		status, err = h.refunds.HandleWebhook(c.Request().Context(), raw.Payload.Refund.Entity.ID, refundStatus)
	} else {
		status, err = h.payments.HandleWebhook(c.Request().Context(), body, signature)
	}
	if err != nil {
		if status == 0 {
			status = http.StatusInternalServerError
		}
		h.recordStatus(status)
		return c.JSON(status, ProblemDetails{
			Type:     errorTypeValidation,
			Title:    "Webhook Processing Failed",
			Status:   status,
			Detail:   err.Error(),
			Instance: c.Request().URL.Path,
		})
	}
	h.recordStatus(status)
	return c.NoContent(status)
}
