package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerforge/meterbill/internal/domain"
)

type OrganisationRepository struct {
	pool *pgxpool.Pool
}

func NewOrganisationRepository(pool *pgxpool.Pool) *OrganisationRepository {
	return &OrganisationRepository{pool: pool}
}

var _ domain.OrganisationRepository = (*OrganisationRepository)(nil)

func (r *OrganisationRepository) Create(ctx context.Context, o *domain.Organisation) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO organisations (name, currency, gateway_customer_id)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`, o.Name, o.Currency, o.GatewayCustomerID).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
}

func (r *OrganisationRepository) Get(ctx context.Context, id string) (*domain.Organisation, error) {
	o := &domain.Organisation{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, currency, gateway_customer_id, created_at, updated_at, deleted_at
		FROM organisations WHERE id = $1
	`, id).Scan(&o.ID, &o.Name, &o.Currency, &o.GatewayCustomerID, &o.CreatedAt, &o.UpdatedAt, &o.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrganisationNotFound
		}
		return nil, fmt.Errorf("postgres: get organisation: %w", err)
	}
	return o, nil
}

func (r *OrganisationRepository) Update(ctx context.Context, o *domain.Organisation) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE organisations SET name = $2, currency = $3, gateway_customer_id = $4, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, o.ID, o.Name, o.Currency, o.GatewayCustomerID)
	if err != nil {
		return fmt.Errorf("postgres: update organisation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrganisationNotFound
	}
	return nil
}

func (r *OrganisationRepository) SoftDelete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE organisations SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("postgres: soft delete organisation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrganisationNotFound
	}
	return nil
}

func (r *OrganisationRepository) List(ctx context.Context, limit, offset int) ([]*domain.Organisation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, currency, gateway_customer_id, created_at, updated_at, deleted_at
		FROM organisations WHERE deleted_at IS NULL ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list organisations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Organisation
	for rows.Next() {
		o := &domain.Organisation{}
		if err := rows.Scan(&o.ID, &o.Name, &o.Currency, &o.GatewayCustomerID, &o.CreatedAt, &o.UpdatedAt, &o.DeletedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan organisation: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
