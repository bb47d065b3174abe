package domain

import (
	"context"
	"time"
)

// Organisation is a billing tenant. Soft-deletable: deletion preserves
// history for already-issued invoices and payments.
type Organisation struct {
	ID                 string
	Name               string
	Currency           string
	GatewayCustomerID  string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DeletedAt          *time.Time
}

type OrganisationRepository interface {
	Create(ctx context.Context, o *Organisation) error
	Get(ctx context.Context, id string) (*Organisation, error)
	Update(ctx context.Context, o *Organisation) error
	SoftDelete(ctx context.Context, id string) error
	List(ctx context.Context, limit, offset int) ([]*Organisation, error)
}
