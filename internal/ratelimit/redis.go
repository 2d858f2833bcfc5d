package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter enforces a minimum interval between actions across
// processes sharing the same Redis instance.
type RedisLimiter struct {
	client      *redis.Client
	prefix      string
	minInterval time.Duration
}

// NewRedis creates a distributed limiter. Keys are marked with SET NX
// and expire after the minimum interval.
func NewRedis(client *redis.Client, prefix string, minInterval time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client:      client,
		prefix:      prefix,
		minInterval: minInterval,
	}
}

func (l *RedisLimiter) Allow(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ok, err := l.client.SetNX(ctx, l.prefix+key, time.Now().UnixMilli(), l.minInterval).Result()
	if err != nil {
		// Fail open: a broken limiter must not block the action itself.
		return true
	}
	return ok
}

// Ensure RedisLimiter implements RateLimiter
var _ RateLimiter = (*RedisLimiter)(nil)
