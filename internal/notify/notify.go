// Package notify is the provider-agnostic email/notification boundary:
// Send hands a message to whatever transport the deployment wires in, and
// every call is recorded as a domain.EmailNotification so admins can list
// delivery history.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ledgerforge/meterbill/internal/domain"
)

// Message is the provider-agnostic payload handed to Sender.
type Message struct {
	Recipient string
	Template  string
	Subject   string
	Data      map[string]any
}

// Sender is the out-of-scope transport: SES, Postmark, SMTP, whatever a
// given deployment wires in.
type Sender interface {
	Send(ctx context.Context, provider string, msg Message) error
}

type Service struct {
	sender   Sender
	provider string
	repo     domain.EmailNotificationRepository
	logger   zerolog.Logger
}

func New(sender Sender, provider string, repo domain.EmailNotificationRepository, logger zerolog.Logger) *Service {
	return &Service{sender: sender, provider: provider, repo: repo, logger: logger.With().Str("component", "notify").Logger()}
}

// Send delivers msg for organisationID and records the outcome regardless
// of success, so delivery history includes failures.
func (s *Service) Send(ctx context.Context, organisationID string, msg Message) error {
	sendErr := s.sender.Send(ctx, s.provider, msg)

	status := "sent"
	errMsg := ""
	if sendErr != nil {
		status = "failed"
		errMsg = sendErr.Error()
		s.logger.Error().Err(sendErr).Str("organisation_id", organisationID).Str("template", msg.Template).Msg("email send failed")
	}

	record := &domain.EmailNotification{
		ID:             uuid.NewString(),
		OrganisationID: organisationID,
		Provider:       s.provider,
		Recipient:      msg.Recipient,
		Template:       msg.Template,
		Status:         status,
		Error:          errMsg,
		SentAt:         time.Now().UTC(),
	}
	if err := s.repo.Record(ctx, record); err != nil {
		s.logger.Error().Err(err).Msg("failed to record email notification")
	}
	return sendErr
}
