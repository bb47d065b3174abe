package notify

import (
	"context"
	"fmt"

	"github.com/ledgerforge/meterbill/internal/alert"
)

// AlertAdapter satisfies alert.Notifier on top of Service, so the alert
// engine and the invoice/reminder emails share one Sender and one
// delivery-history ledger instead of two separate notification stacks.
type AlertAdapter struct {
	svc *Service
}

func NewAlertAdapter(svc *Service) *AlertAdapter {
	return &AlertAdapter{svc: svc}
}

var _ alert.Notifier = (*AlertAdapter)(nil)

// Send treats channel as the delivery address (an email, a webhook URL, a
// Slack channel id) and renders the alert message into a notify.Message.
func (a *AlertAdapter) Send(ctx context.Context, channel string, message alert.Message) error {
	return a.svc.Send(ctx, message.OrganisationID, Message{
		Recipient: channel,
		Template:  "alert_triggered",
		Subject:   fmt.Sprintf("Alert: %s", message.RuleType),
		Data: map[string]any{
			"summary":      message.Summary,
			"actual_value": message.ActualValue.String(),
			"threshold":    message.Threshold.String(),
		},
	})
}
