package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ledgerforge/meterbill/internal/domain"
)

// VerifySignature authenticates a webhook delivery: a hex HMAC-SHA-256
// over the raw request body, compared in constant time. An empty secret
// rejects rather than passing through, since an unset webhook secret must
// never be treated as verification-disabled in a billing system.
func VerifySignature(secret string, body []byte, signatureHex string) bool {
	if secret == "" || signatureHex == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	provided, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, provided)
}

// rawWebhookPayload mirrors the gateway-native JSON shape the webhook
// describes: `event` plus `payload.payment.entity`.
type rawWebhookPayload struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID       string            `json:"id"`
				OrderID  string            `json:"order_id"`
				Status   string            `json:"status"`
				Amount   int64             `json:"amount"`
				Currency string            `json:"currency"`
				Method   string            `json:"method"`
				Notes    map[string]string `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// ParseWebhook decodes the raw gateway body into a WebhookEvent. Returns a
// *domain.ValidationError on malformed JSON (400 on bad
// payload).
func ParseWebhook(body []byte) (WebhookEvent, error) {
	var raw rawWebhookPayload
	if err := json.Unmarshal(body, &raw); err != nil {
		return WebhookEvent{}, &domain.ValidationError{Field: "body", Message: fmt.Sprintf("invalid webhook payload: %v", err)}
	}
	entity := raw.Payload.Payment.Entity
	if entity.ID == "" || entity.OrderID == "" || entity.Status == "" {
		return WebhookEvent{}, &domain.ValidationError{Field: "payload.payment.entity", Message: "id, order_id, and status are required"}
	}
	return WebhookEvent{
		Event: raw.Event,
		Entity: PaymentEntity{
			ID:              entity.ID,
			OrderID:         entity.OrderID,
			Status:          entity.Status,
			AmountMinorUnit: entity.Amount,
			Currency:        entity.Currency,
			Method:          entity.Method,
			Notes:           entity.Notes,
		},
	}, nil
}
