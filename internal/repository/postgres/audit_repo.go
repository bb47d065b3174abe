package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerforge/meterbill/internal/domain"
)

type AuditLogRepository struct {
	pool *pgxpool.Pool
}

func NewAuditLogRepository(pool *pgxpool.Pool) *AuditLogRepository {
	return &AuditLogRepository{pool: pool}
}

var _ domain.AuditLogRepository = (*AuditLogRepository)(nil)

func (r *AuditLogRepository) Append(ctx context.Context, a *domain.AuditLog) error {
	before, err := json.Marshal(a.Before)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit before: %w", err)
	}
	after, err := json.Marshal(a.After)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit after: %w", err)
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO audit_logs (entity_type, entity_id, actor, action, before, after, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, a.EntityType, a.EntityID, a.Actor, a.Action, before, after, a.IP, a.UserAgent).Scan(&a.ID, &a.CreatedAt)
}

func (r *AuditLogRepository) ListForEntity(ctx context.Context, entityType, entityID string, limit, offset int) ([]*domain.AuditLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, entity_type, entity_id, actor, action, before, after, ip, user_agent, created_at
		FROM audit_logs WHERE entity_type = $1 AND entity_id = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4
	`, entityType, entityID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit logs: %w", err)
	}
	defer rows.Close()

	var out []*domain.AuditLog
	for rows.Next() {
		a := &domain.AuditLog{}
		var before, after []byte
		if err := rows.Scan(&a.ID, &a.EntityType, &a.EntityID, &a.Actor, &a.Action, &before, &after, &a.IP, &a.UserAgent, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit log: %w", err)
		}
		_ = json.Unmarshal(before, &a.Before)
		_ = json.Unmarshal(after, &a.After)
		out = append(out, a)
	}
	return out, rows.Err()
}
