package window

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "trail:win:"

// RedisCounter implements the sliding window on a redis sorted set: member
// scores are observation times, expired members are trimmed before counting.
// Shared across instances, so thresholds hold fleet-wide.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter wraps a connected client.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// Observe records one observation and returns the in-window count.
func (c *RedisCounter) Observe(ctx context.Context, key string, window time.Duration) (int, error) {
	now := time.Now()
	rkey := redisKeyPrefix + key
	cutoff := now.Add(-window)

	pipe := c.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rkey, "0", fmt.Sprintf("%d", cutoff.UnixNano()))
	// Unique member per observation so same-instant observations both count.
	pipe.ZAdd(ctx, rkey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: uuid.NewString(),
	})
	card := pipe.ZCard(ctx, rkey)
	pipe.Expire(ctx, rkey, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("observe %s: %w", key, err)
	}
	return int(card.Val()), nil
}

// Count returns the in-window count without recording.
func (c *RedisCounter) Count(ctx context.Context, key string, window time.Duration) (int, error) {
	now := time.Now()
	rkey := redisKeyPrefix + key

	pipe := c.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rkey, "0", fmt.Sprintf("%d", now.Add(-window).UnixNano()))
	card := pipe.ZCard(ctx, rkey)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("count %s: %w", key, err)
	}
	return int(card.Val()), nil
}
