package domain

import (
	"context"
	"time"
)

// Project is owned by exactly one Organisation. ApiKeyHash is a one-way hash
// of the issued api key; the plaintext key is never persisted or logged.
type Project struct {
	ID             string
	OrganisationID string
	Name           string
	ApiKeyHash     string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type ProjectRepository interface {
	Create(ctx context.Context, p *Project) error
	Get(ctx context.Context, id string) (*Project, error)
	GetByAPIKeyHash(ctx context.Context, hash string) (*Project, error)
	ListByOrganisation(ctx context.Context, organisationID string) ([]*Project, error)
	Update(ctx context.Context, p *Project) error
	RotateAPIKey(ctx context.Context, id, newHash string) error
}

// ProjectKeyCache is the read-mostly lookup used by the ingest path.
type ProjectKeyCache interface {
	Lookup(ctx context.Context, apiKeyHash string) (organisationID, projectID string, ok bool, err error)
	Invalidate(ctx context.Context, apiKeyHash string) error
}
