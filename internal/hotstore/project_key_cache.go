package hotstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ledgerforge/meterbill/internal/domain"
)

const projectKeyPrefix = "hes:projectkey:"

// ProjectKeyCache implements domain.ProjectKeyCache: a read-mostly Redis
// cache over ProjectRepository.GetByAPIKeyHash. A miss falls through to the durable
// store and repopulates the cache; rotation/deactivation calls Invalidate
// so the next lookup re-reads the authoritative row.
type ProjectKeyCache struct {
	client *redis.Client
	repo   domain.ProjectRepository
	ttl    time.Duration
	logger zerolog.Logger
}

func NewProjectKeyCache(client *redis.Client, repo domain.ProjectRepository, ttl time.Duration, logger zerolog.Logger) *ProjectKeyCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ProjectKeyCache{
		client: client,
		repo:   repo,
		ttl:    ttl,
		logger: logger.With().Str("component", "project_key_cache").Logger(),
	}
}

var _ domain.ProjectKeyCache = (*ProjectKeyCache)(nil)

// Lookup resolves an api-key hash to (organisation_id, project_id), caching
// the result. Inactive projects resolve as a miss so a deactivated project's
// key stops authenticating without waiting out the TTL.
func (c *ProjectKeyCache) Lookup(ctx context.Context, apiKeyHash string) (string, string, bool, error) {
	key := projectKeyPrefix + apiKeyHash

	cached, err := c.client.HGetAll(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn().Err(err).Msg("cache read failed, falling through to durable store")
	}
	if len(cached) > 0 {
		if cached["active"] != "true" {
			return "", "", false, nil
		}
		return cached["organisation_id"], cached["project_id"], true, nil
	}

	project, err := c.repo.GetByAPIKeyHash(ctx, apiKeyHash)
	if err != nil {
		if errors.Is(err, domain.ErrProjectNotFound) {
			return "", "", false, nil
		}
		return "", "", false, fmt.Errorf("project_key_cache: lookup: %w", err)
	}

	active := "false"
	if project.IsActive {
		active = "true"
	}
	if err := c.client.HSet(ctx, key, map[string]interface{}{
		"organisation_id": project.OrganisationID,
		"project_id":      project.ID,
		"active":          active,
	}).Err(); err == nil {
		c.client.Expire(ctx, key, c.ttl)
	}

	if !project.IsActive {
		return "", "", false, nil
	}
	return project.OrganisationID, project.ID, true, nil
}

// Invalidate drops a cached entry, forcing the next Lookup to re-read DS.
// Called by admin key-rotation and project deactivation.
func (c *ProjectKeyCache) Invalidate(ctx context.Context, apiKeyHash string) error {
	if err := c.client.Del(ctx, projectKeyPrefix+apiKeyHash).Err(); err != nil {
		return fmt.Errorf("project_key_cache: invalidate: %w", err)
	}
	return nil
}
