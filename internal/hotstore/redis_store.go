// Package hotstore implements the hot event store: a write-optimised,
// short-lived holding area for raw usage events ahead of migration into
// the durable store, backed by Redis.
package hotstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ledgerforge/meterbill/internal/domain"
)

const (
	keyPrefix        = "hes:event:"
	unprocessedZSet  = "hes:unprocessed"
	processedSet     = "hes:processed"
	idempotencyIndex = "hes:idempotency:"
)

// RedisStore implements domain.HotEventStore.
type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger
}

func NewRedisStore(client *redis.Client, logger zerolog.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger.With().Str("component", "hotstore").Logger()}
}

var _ domain.HotEventStore = (*RedisStore)(nil)

// Put stores the event body under its id and indexes it for scanning by
// ingest time, rejecting a collision on the caller-chosen idempotency key.
func (s *RedisStore) Put(ctx context.Context, e *domain.UsageEvent) error {
	idemKey := idempotencyIndex + e.IdempotencyKey
	set, err := s.client.SetNX(ctx, idemKey, e.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("hotstore: put idempotency check: %w", err)
	}
	if !set {
		return fmt.Errorf("hotstore: %w: idempotency_key %q", errDuplicateKey, e.IdempotencyKey)
	}

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("hotstore: marshal event: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, keyPrefix+e.ID, body, 0)
	pipe.ZAdd(ctx, unprocessedZSet, redis.Z{Score: float64(e.IngestedAt.UnixNano()), Member: e.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hotstore: put pipeline: %w", err)
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	n, err := s.client.Exists(ctx, idempotencyIndex+idempotencyKey).Result()
	if err != nil {
		return false, fmt.Errorf("hotstore: exists: %w", err)
	}
	return n > 0, nil
}

// ScanUnprocessed returns up to limit events ordered by ingested_at then id,
// a deterministic order.
func (s *RedisStore) ScanUnprocessed(ctx context.Context, limit int) ([]*domain.UsageEvent, error) {
	ids, err := s.client.ZRangeByScore(ctx, unprocessedZSet, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("hotstore: scan: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyPrefix + id
	}
	raws, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("hotstore: mget: %w", err)
	}

	events := make([]*domain.UsageEvent, 0, len(raws))
	for i, raw := range raws {
		if raw == nil {
			s.logger.Warn().Str("id", ids[i]).Msg("unprocessed index referenced a missing event body")
			continue
		}
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var e domain.UsageEvent
		if err := json.Unmarshal([]byte(str), &e); err != nil {
			return nil, fmt.Errorf("hotstore: unmarshal event %s: %w", ids[i], err)
		}
		events = append(events, &e)
	}
	return events, nil
}

// MarkProcessed is a bulk update; marking an already-processed id is a
// no-op.
func (s *RedisStore) MarkProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	pipe := s.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, unprocessedZSet, id)
		pipe.SAdd(ctx, processedSet, id)
		pipe.HSet(ctx, keyPrefix+id+":meta", "processed_at", now)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("hotstore: mark processed: %w", err)
	}
	return nil
}

// CountByDay scans HES-resident events (both sets, since the retention
// window is short by design) and counts those matching the key and UTC day.
// A full scan is acceptable here: DeleteProcessedOlderThan keeps the
// resident set bounded to a few days of traffic.
func (s *RedisStore) CountByDay(ctx context.Context, organisationID, projectID, metricName string, day time.Time) (int64, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	ids, err := s.residentIDs(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	for _, id := range ids {
		raw, err := s.client.Get(ctx, keyPrefix+id).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return count, fmt.Errorf("hotstore: count by day get %s: %w", id, err)
		}
		var e domain.UsageEvent
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		if e.OrganisationID == organisationID && e.ProjectID == projectID && e.MetricName == metricName &&
			!e.Timestamp.Before(dayStart) && e.Timestamp.Before(dayEnd) {
			count++
		}
	}
	return count, nil
}

func (s *RedisStore) residentIDs(ctx context.Context) ([]string, error) {
	unprocessed, err := s.client.ZRange(ctx, unprocessedZSet, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("hotstore: count by day zrange: %w", err)
	}
	processed, err := s.client.SMembers(ctx, processedSet).Result()
	if err != nil {
		return nil, fmt.Errorf("hotstore: count by day smembers: %w", err)
	}
	seen := make(map[string]bool, len(unprocessed)+len(processed))
	ids := make([]string, 0, len(unprocessed)+len(processed))
	for _, id := range append(unprocessed, processed...) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// DeleteProcessedOlderThan implements the daily cleanup job; it deletes
// processed event bodies and their idempotency index entries once older than
// age (default 7 days).
func (s *RedisStore) DeleteProcessedOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	ids, err := s.client.SMembers(ctx, processedSet).Result()
	if err != nil {
		return 0, fmt.Errorf("hotstore: cleanup scan: %w", err)
	}

	cutoff := time.Now().UTC().Add(-age)
	var deleted int64
	for _, id := range ids {
		metaKey := keyPrefix + id + ":meta"
		processedAtStr, err := s.client.HGet(ctx, metaKey, "processed_at").Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return deleted, fmt.Errorf("hotstore: cleanup read meta %s: %w", id, err)
		}
		processedAt, err := time.Parse(time.RFC3339Nano, processedAtStr)
		if err != nil || processedAt.After(cutoff) {
			continue
		}

		var e domain.UsageEvent
		if raw, err := s.client.Get(ctx, keyPrefix+id).Result(); err == nil {
			_ = json.Unmarshal([]byte(raw), &e)
		}

		pipe := s.client.TxPipeline()
		pipe.Del(ctx, keyPrefix+id, metaKey)
		pipe.SRem(ctx, processedSet, id)
		if e.IdempotencyKey != "" {
			pipe.Del(ctx, idempotencyIndex+e.IdempotencyKey)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return deleted, fmt.Errorf("hotstore: cleanup delete %s: %w", id, err)
		}
		deleted++
	}
	return deleted, nil
}
