package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerforge/meterbill/internal/domain"
)

type AdminRepository struct {
	pool *pgxpool.Pool
}

func NewAdminRepository(pool *pgxpool.Pool) *AdminRepository {
	return &AdminRepository{pool: pool}
}

var _ domain.AdminRepository = (*AdminRepository)(nil)

func (r *AdminRepository) GetUserByEmail(ctx context.Context, email string) (*domain.AdminUser, error) {
	u := &domain.AdminUser{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, organisation_id, auth0_id, email, password_hash, role, created_at FROM admin_users WHERE email = $1
	`, email).Scan(&u.ID, &u.OrganisationID, &u.Auth0ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get admin user: %w", err)
	}
	return u, nil
}

// GetAdminByAuth0ID resolves the admin-JWT subject claim to an admin user,
// the identity lookup AdminJWTAuthMiddleware performs on every request.
func (r *AdminRepository) GetAdminByAuth0ID(ctx context.Context, auth0ID string) (*domain.AdminUser, error) {
	u := &domain.AdminUser{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, organisation_id, auth0_id, email, password_hash, role, created_at FROM admin_users WHERE auth0_id = $1
	`, auth0ID).Scan(&u.ID, &u.OrganisationID, &u.Auth0ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get admin by auth0 id: %w", err)
	}
	return u, nil
}

func (r *AdminRepository) CreateUser(ctx context.Context, u *domain.AdminUser) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO admin_users (organisation_id, auth0_id, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at
	`, u.OrganisationID, u.Auth0ID, u.Email, u.PasswordHash, u.Role).Scan(&u.ID, &u.CreatedAt)
}

func (r *AdminRepository) ListUsers(ctx context.Context, organisationID string) ([]*domain.AdminUser, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organisation_id, auth0_id, email, password_hash, role, created_at FROM admin_users WHERE organisation_id = $1
	`, organisationID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list admin users: %w", err)
	}
	defer rows.Close()

	var out []*domain.AdminUser
	for rows.Next() {
		u := &domain.AdminUser{}
		if err := rows.Scan(&u.ID, &u.OrganisationID, &u.Auth0ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan admin user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *AdminRepository) GetAPIKeyByHash(ctx context.Context, hash string) (*domain.AdminAPIKey, error) {
	k := &domain.AdminAPIKey{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, organisation_id, label, key_hash, created_at, revoked_at FROM admin_api_keys WHERE key_hash = $1
	`, hash).Scan(&k.ID, &k.OrganisationID, &k.Label, &k.KeyHash, &k.CreatedAt, &k.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get admin api key: %w", err)
	}
	return k, nil
}

func (r *AdminRepository) CreateAPIKey(ctx context.Context, k *domain.AdminAPIKey) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO admin_api_keys (organisation_id, label, key_hash)
		VALUES ($1, $2, $3) RETURNING id, created_at
	`, k.OrganisationID, k.Label, k.KeyHash).Scan(&k.ID, &k.CreatedAt)
}

func (r *AdminRepository) RevokeAPIKey(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE admin_api_keys SET revoked_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: revoke admin api key: %w", err)
	}
	return nil
}

func (r *AdminRepository) ListAPIKeys(ctx context.Context, organisationID string) ([]*domain.AdminAPIKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organisation_id, label, key_hash, created_at, revoked_at FROM admin_api_keys WHERE organisation_id = $1
	`, organisationID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list admin api keys: %w", err)
	}
	defer rows.Close()

	var out []*domain.AdminAPIKey
	for rows.Next() {
		k := &domain.AdminAPIKey{}
		if err := rows.Scan(&k.ID, &k.OrganisationID, &k.Label, &k.KeyHash, &k.CreatedAt, &k.RevokedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan admin api key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
