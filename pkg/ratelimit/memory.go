package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	window int64
	count  int
}

// MemoryLimiter implements a fixed-window in-memory rate limiter.
type MemoryLimiter struct {
	limit  int
	size   time.Duration
	mu     sync.Mutex
	counts map[string]*memoryEntry
}

// NewMemoryLimiter allows limit requests per key in each window of size.
// A non-positive limit disables limiting.
func NewMemoryLimiter(limit int, size time.Duration) *MemoryLimiter {
	if size <= 0 {
		size = time.Minute
	}
	return &MemoryLimiter{
		limit:  limit,
		size:   size,
		counts: make(map[string]*memoryEntry),
	}
}

// Allow records one request for key and reports whether it fits the window.
func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (Result, error) {
	if l.limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	idx, reset := window(now, l.size)

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.counts[key]
	if entry == nil {
		entry = &memoryEntry{window: idx}
		l.counts[key] = entry
	}
	if entry.window != idx {
		entry.window = idx
		entry.count = 0
	}
	if entry.count >= l.limit {
		return Result{Allowed: false, Limit: l.limit, Remaining: 0, Reset: reset}, nil
	}
	entry.count++
	return Result{Allowed: true, Limit: l.limit, Remaining: l.limit - entry.count, Reset: reset}, nil
}

// Sweep drops counters from windows that have ended. Run it periodically so
// one-off clients do not accumulate.
func (l *MemoryLimiter) Sweep(now time.Time) int {
	idx, _ := window(now, l.size)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, entry := range l.counts {
		if entry.window < idx {
			delete(l.counts, key)
			removed++
		}
	}
	return removed
}

// Run sweeps every window until ctx ends.
func (l *MemoryLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.size)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.Sweep(now)
		}
	}
}

var _ Limiter = (*MemoryLimiter)(nil)
