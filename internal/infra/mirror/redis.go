// Package mirror implements the secondary article cache the worker
// maintains in Redis: an index sorted set scored by cache time plus one
// JSON value per article.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"newsstand/internal/domain/cache"
	"newsstand/internal/domain/content"

	"github.com/redis/go-redis/v9"
)

const (
	indexKey      = "newsstand:mirror:index"
	articlePrefix = "newsstand:mirror:article:"
)

var _ cache.Mirror = (*RedisMirror)(nil)

// RedisMirror stores mirrored articles in Redis.
type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMirror creates a Redis-backed secondary cache. Articles expire
// after ttl even if the pruner never runs.
func NewRedisMirror(redisAddr, password string, db int, ttl time.Duration) *RedisMirror {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: password,
		DB:       db,
	})
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisMirror{client: client, ttl: ttl}
}

// Store writes one article and indexes it by cache time.
func (m *RedisMirror) Store(ctx context.Context, a content.Article) error {
	blob, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("serializing article %s: %w", a.ID, err)
	}

	pipe := m.client.Pipeline()
	pipe.ZAdd(ctx, indexKey, redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: a.ID,
	})
	pipe.Set(ctx, articlePrefix+a.ID, blob, m.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirroring article %s: %w", a.ID, err)
	}
	return nil
}

// Trim drops the oldest indexed articles beyond max and returns how many
// were removed.
func (m *RedisMirror) Trim(ctx context.Context, max int) (int, error) {
	count, err := m.client.ZCard(ctx, indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("counting mirror index: %w", err)
	}
	excess := int(count) - max
	if excess <= 0 {
		return 0, nil
	}

	// Oldest entries have the lowest scores.
	ids, err := m.client.ZRange(ctx, indexKey, 0, int64(excess-1)).Result()
	if err != nil {
		return 0, fmt.Errorf("listing stale mirror entries: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = articlePrefix + id
		members[i] = id
	}

	pipe := m.client.Pipeline()
	pipe.ZRem(ctx, indexKey, members...)
	pipe.Del(ctx, keys...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("trimming mirror: %w", err)
	}
	return len(ids), nil
}

// Close closes the Redis connection.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
