package domain

import (
	"context"
	"time"
)

// AdminUser backs the admin-user-db auth mode. Password is stored as a hash only.
type AdminUser struct {
	ID             string
	OrganisationID string
	Auth0ID        string
	Email          string
	PasswordHash   string
	Role           string
	CreatedAt      time.Time
}

// AdminAPIKey is the alternative admin auth mode: a rotatable, hashed key
// scoped to one organisation.
type AdminAPIKey struct {
	ID             string
	OrganisationID string
	Label          string
	KeyHash        string
	CreatedAt      time.Time
	RevokedAt      *time.Time
}

type AdminRepository interface {
	GetUserByEmail(ctx context.Context, email string) (*AdminUser, error)
	GetAdminByAuth0ID(ctx context.Context, auth0ID string) (*AdminUser, error)
	CreateUser(ctx context.Context, u *AdminUser) error
	ListUsers(ctx context.Context, organisationID string) ([]*AdminUser, error)
	GetAPIKeyByHash(ctx context.Context, hash string) (*AdminAPIKey, error)
	CreateAPIKey(ctx context.Context, k *AdminAPIKey) error
	RevokeAPIKey(ctx context.Context, id string) error
	ListAPIKeys(ctx context.Context, organisationID string) ([]*AdminAPIKey, error)
}

// InvoiceTemplate is the supplemented "invoice templates CRUD + preview"
// admin surface.
type InvoiceTemplate struct {
	ID             string
	OrganisationID string
	Name           string
	HeaderText     string
	FooterText     string
	Locale         string
	IsDefault      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type InvoiceTemplateRepository interface {
	Create(ctx context.Context, t *InvoiceTemplate) error
	Get(ctx context.Context, id string) (*InvoiceTemplate, error)
	ListByOrganisation(ctx context.Context, organisationID string) ([]*InvoiceTemplate, error)
	Update(ctx context.Context, t *InvoiceTemplate) error
	Delete(ctx context.Context, id string) error
}

// EmailNotification records one outbound Notifier.Send call so admins can
// list delivery history.
type EmailNotification struct {
	ID             string
	OrganisationID string
	Provider       string
	Recipient      string
	Template       string
	Status         string
	Error          string
	SentAt         time.Time
}

type EmailNotificationRepository interface {
	Record(ctx context.Context, n *EmailNotification) error
	ListByOrganisation(ctx context.Context, organisationID string, limit, offset int) ([]*EmailNotification, error)
}
