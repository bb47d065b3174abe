package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerforge/meterbill/internal/domain"
)

type ProjectRepository struct {
	pool *pgxpool.Pool
}

func NewProjectRepository(pool *pgxpool.Pool) *ProjectRepository {
	return &ProjectRepository{pool: pool}
}

var _ domain.ProjectRepository = (*ProjectRepository)(nil)

func (r *ProjectRepository) Create(ctx context.Context, p *domain.Project) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO projects (organisation_id, name, api_key_hash, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, p.OrganisationID, p.Name, p.ApiKeyHash, p.IsActive).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (r *ProjectRepository) Get(ctx context.Context, id string) (*domain.Project, error) {
	p := &domain.Project{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, organisation_id, name, api_key_hash, is_active, created_at, updated_at
		FROM projects WHERE id = $1
	`, id).Scan(&p.ID, &p.OrganisationID, &p.Name, &p.ApiKeyHash, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProjectNotFound
		}
		return nil, fmt.Errorf("postgres: get project: %w", err)
	}
	return p, nil
}

func (r *ProjectRepository) GetByAPIKeyHash(ctx context.Context, hash string) (*domain.Project, error) {
	p := &domain.Project{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, organisation_id, name, api_key_hash, is_active, created_at, updated_at
		FROM projects WHERE api_key_hash = $1
	`, hash).Scan(&p.ID, &p.OrganisationID, &p.Name, &p.ApiKeyHash, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProjectNotFound
		}
		return nil, fmt.Errorf("postgres: get project by key hash: %w", err)
	}
	return p, nil
}

func (r *ProjectRepository) ListByOrganisation(ctx context.Context, organisationID string) ([]*domain.Project, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organisation_id, name, api_key_hash, is_active, created_at, updated_at
		FROM projects WHERE organisation_id = $1 ORDER BY created_at
	`, organisationID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list projects: %w", err)
	}
	defer rows.Close()

	var out []*domain.Project
	for rows.Next() {
		p := &domain.Project{}
		if err := rows.Scan(&p.ID, &p.OrganisationID, &p.Name, &p.ApiKeyHash, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *ProjectRepository) Update(ctx context.Context, p *domain.Project) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE projects SET name = $2, is_active = $3, updated_at = now() WHERE id = $1
	`, p.ID, p.Name, p.IsActive)
	if err != nil {
		return fmt.Errorf("postgres: update project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProjectNotFound
	}
	return nil
}

func (r *ProjectRepository) RotateAPIKey(ctx context.Context, id, newHash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE projects SET api_key_hash = $2, updated_at = now() WHERE id = $1`, id, newHash)
	if err != nil {
		return fmt.Errorf("postgres: rotate api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProjectNotFound
	}
	return nil
}
