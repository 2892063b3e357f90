// Package ratelimit provides fixed-window request limiting keyed by client.
// Counters live in process memory or, when several instances share a
// deployment, in Redis.
package ratelimit

import (
	"context"
	"time"
)

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// RetryAfter is the wait until the current window ends, rounded up to a second.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.Reset.Sub(now)
	if d <= 0 {
		return time.Second
	}
	return d.Truncate(time.Second) + time.Second
}

// Limiter counts requests per key in fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Result, error)
}

// window returns the index of the window containing now and the time it ends.
func window(now time.Time, size time.Duration) (int64, time.Time) {
	ms := size.Milliseconds()
	idx := now.UnixMilli() / ms
	return idx, time.UnixMilli((idx + 1) * ms).UTC()
}
