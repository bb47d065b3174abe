// Package idempotency implements the registry that makes retried
// operations converge on the first writer's result instead of duplicating
// work. Concurrent first-writers are serialised by a row-level lock; the
// loser gets the winner's entity id back.
package idempotency

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ledgerforge/meterbill/internal/domain"
)

// Registry implements domain.IdempotencyRegistry against Postgres, using a
// row-level lock (SELECT ... FOR UPDATE on the idempotency_key unique index)
// to serialise concurrent first-writers.
type Registry struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func New(pool *pgxpool.Pool, logger zerolog.Logger) *Registry {
	return &Registry{pool: pool, logger: logger.With().Str("component", "idempotency").Logger()}
}

var _ domain.IdempotencyRegistry = (*Registry)(nil)

func (r *Registry) Reserve(ctx context.Context, key, entityType string) (domain.IdempotencyOutcome, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.IdempotencyOutcome{}, fmt.Errorf("idempotency: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := lockExisting(ctx, tx, key)
	if err != nil {
		return domain.IdempotencyOutcome{}, err
	}
	if existing != "" {
		return domain.IdempotencyOutcome{Created: false, EntityID: existing}, tx.Commit(ctx)
	}

	// Reserve writes a placeholder entity id of "" to hold the lock; Complete
	// fills it in once the caller knows the real id.
	if _, err := tx.Exec(ctx, `
		INSERT INTO idempotency_rows (idempotency_key, entity_type, entity_id)
		VALUES ($1, $2, '')
	`, key, entityType); err != nil {
		return domain.IdempotencyOutcome{}, fmt.Errorf("idempotency: reserve insert: %w", err)
	}
	return domain.IdempotencyOutcome{Created: true}, tx.Commit(ctx)
}

func (r *Registry) Complete(ctx context.Context, key, entityType, entityID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE idempotency_rows SET entity_id = $3
		WHERE idempotency_key = $1 AND entity_type = $2
	`, key, entityType, entityID)
	if err != nil {
		return fmt.Errorf("idempotency: complete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("idempotency: complete: no reservation found for key %q", key)
	}
	return nil
}

func (r *Registry) WithIdempotency(ctx context.Context, key, entityType string, fn func(ctx context.Context) (string, error)) (string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("idempotency: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := lockExisting(ctx, tx, key)
	if err != nil {
		return "", err
	}
	if existing != "" {
		r.logger.Info().Str("key", key).Str("entity_type", entityType).Msg("idempotency conflict, returning existing entity")
		return existing, &domain.ConflictError{EntityType: entityType, EntityID: existing, Message: "idempotency key already bound"}
	}

	entityID, err := fn(ctx)
	if err != nil {
		return "", err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO idempotency_rows (idempotency_key, entity_type, entity_id)
		VALUES ($1, $2, $3)
	`, key, entityType, entityID); err != nil {
		return "", fmt.Errorf("idempotency: record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("idempotency: commit: %w", err)
	}
	return entityID, nil
}

// lockExisting takes a row-level lock on key within tx and returns the
// entity id already bound to it, or "" if no row exists yet. The underlying
// unique constraint on idempotency_key resolves the race between two
// concurrent first-writers that both observe no existing row.
func lockExisting(ctx context.Context, tx pgx.Tx, key string) (string, error) {
	var entityID string
	err := tx.QueryRow(ctx, `
		SELECT entity_id FROM idempotency_rows WHERE idempotency_key = $1 FOR UPDATE
	`, key).Scan(&entityID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("idempotency: lock: %w", err)
	}
	return entityID, nil
}
