package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerforge/meterbill/internal/domain"
)

// EmailNotificationRepository backs the "Email-notifications listing"
// listing: one row per Notifier.Send call.
type EmailNotificationRepository struct {
	pool *pgxpool.Pool
}

func NewEmailNotificationRepository(pool *pgxpool.Pool) *EmailNotificationRepository {
	return &EmailNotificationRepository{pool: pool}
}

var _ domain.EmailNotificationRepository = (*EmailNotificationRepository)(nil)

func (r *EmailNotificationRepository) Record(ctx context.Context, n *domain.EmailNotification) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO email_notifications (organisation_id, provider, recipient, template, status, error, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, n.OrganisationID, n.Provider, n.Recipient, n.Template, n.Status, n.Error, n.SentAt).Scan(&n.ID)
}

func (r *EmailNotificationRepository) ListByOrganisation(ctx context.Context, organisationID string, limit, offset int) ([]*domain.EmailNotification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organisation_id, provider, recipient, template, status, error, sent_at
		FROM email_notifications WHERE organisation_id = $1 ORDER BY sent_at DESC LIMIT $2 OFFSET $3
	`, organisationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list email notifications: %w", err)
	}
	defer rows.Close()

	var out []*domain.EmailNotification
	for rows.Next() {
		n := &domain.EmailNotification{}
		if err := rows.Scan(&n.ID, &n.OrganisationID, &n.Provider, &n.Recipient, &n.Template, &n.Status, &n.Error, &n.SentAt); err != nil {
			return nil, fmt.Errorf("postgres: scan email notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
