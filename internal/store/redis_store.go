package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis, selected when REDIS_URL is set.
// It gives project/quota-usage state a lifetime beyond one sidecar
// process, matching how the in-process aggregator caches are themselves
// an optimization over (and eventually synchronized with) durable state.
type RedisStore struct {
	c *redis.Client
}

// NewRedisStore creates a RedisStore from a redis:// URL. Returns an
// error if the URL cannot be parsed.
func NewRedisStore(url string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return &RedisStore{c: redis.NewClient(opt)}, nil
}

func projectKey(projectID string) string { return "sidecar:project:" + projectID }

func usageKey(projectID, metric string) string { return "sidecar:usage:" + projectID + ":" + metric }

func (s *RedisStore) GetProject(ctx context.Context, projectID string) (*ProjectRecord, error) {
	raw, err := s.c.Get(ctx, projectKey(projectID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec ProjectRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *RedisStore) PutProject(ctx context.Context, rec *ProjectRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.c.Set(ctx, projectKey(rec.ProjectID), raw, 0).Err()
}

func (s *RedisStore) IncrQuotaUsage(ctx context.Context, projectID, metric string, delta int64) (int64, error) {
	return s.c.IncrBy(ctx, usageKey(projectID, metric), delta).Result()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.c.Ping(ctx).Err()
}

func (s *RedisStore) Close() error { return s.c.Close() }
