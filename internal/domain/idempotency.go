package domain

import "context"

// IdempotencyOutcome is an explicit sum type in place of "throw to
// indicate duplicate": callers branch on Created vs Existing without
// error machinery.
type IdempotencyOutcome struct {
	Created  bool
	EntityID string
}

// IdempotencyRow persists the (key -> entity_type, entity_id) binding.
type IdempotencyRow struct {
	IdempotencyKey string
	EntityType     string
	EntityID       string
}

// IdempotencyRegistry guards retried operations. WithIdempotency is the primary entry point used
// by every component that must make a multi-step write idempotent; Reserve
// and Complete split the reservation from the write for callers that need
// the two steps apart (no component in this repository calls them today).
type IdempotencyRegistry interface {
	Reserve(ctx context.Context, key, entityType string) (IdempotencyOutcome, error)
	Complete(ctx context.Context, key, entityType, entityID string) error
	// WithIdempotency takes a lock on key, and if a row already exists
	// returns its entity id wrapped in ConflictError; otherwise it runs fn,
	// records the key against fn's returned entity id, and commits both in
	// one transaction.
	WithIdempotency(ctx context.Context, key, entityType string, fn func(ctx context.Context) (entityID string, err error)) (entityID string, err error)
}
