package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisIncrScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisLimiter implements a fixed-window rate limiter backed by Redis, so
// every instance behind a load balancer shares the same counters.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	size   time.Duration
}

// NewRedisLimiter allows limit requests per key in each window of size.
func NewRedisLimiter(client *redis.Client, prefix string, limit int, size time.Duration) *RedisLimiter {
	if size <= 0 {
		size = time.Minute
	}
	return &RedisLimiter{
		client: client,
		prefix: strings.TrimSpace(prefix),
		limit:  limit,
		size:   size,
	}
}

// Allow records one request for key and reports whether it fits the window.
func (l *RedisLimiter) Allow(ctx context.Context, key string, now time.Time) (Result, error) {
	if l.limit <= 0 || key == "" || l.client == nil {
		return Result{Allowed: true}, nil
	}
	idx, reset := window(now, l.size)

	// Keys outlive their window slightly so clock skew between instances
	// cannot reset a counter early.
	ttl := l.size.Milliseconds() + 1000
	res, err := redisIncrScript.Run(ctx, l.client, []string{l.buildKey(key, idx)}, ttl).Result()
	if err != nil {
		return Result{}, err
	}
	count, ok := res.(int64)
	if !ok {
		return Result{}, errors.New("rate limit redis: unexpected response type")
	}

	if count > int64(l.limit) {
		return Result{Allowed: false, Limit: l.limit, Remaining: 0, Reset: reset}, nil
	}
	return Result{Allowed: true, Limit: l.limit, Remaining: l.limit - int(count), Reset: reset}, nil
}

func (l *RedisLimiter) buildKey(key string, idx int64) string {
	suffix := key + ":" + strconv.FormatInt(idx, 10)
	if l.prefix == "" {
		return suffix
	}
	return l.prefix + ":" + suffix
}

var _ Limiter = (*RedisLimiter)(nil)
