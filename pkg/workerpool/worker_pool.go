// Package workerpool runs independent tasks with bounded parallelism.
package workerpool

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Config configures the worker pool.
type Config struct {
	MaxConcurrent int // Maximum concurrent tasks (default: 8)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 8,
	}
}

// WorkerPool bounds how many tasks run at once. It holds no goroutines
// between calls and is safe for concurrent use.
type WorkerPool struct {
	config Config
	logger *zap.Logger
}

// New creates a new worker pool.
func New(config Config, logger *zap.Logger) *WorkerPool {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 8
	}
	return &WorkerPool{
		config: config,
		logger: logger.Named("worker-pool"),
	}
}

// WorkItem represents a unit of work to be processed.
type WorkItem[T any] struct {
	ID      string                               // For logging/tracking
	Execute func(ctx context.Context) (T, error) // The work to be executed
}

// WorkResult represents the result of a work item.
type WorkResult[T any] struct {
	ID     string
	Result T
	Err    error
}

// Process executes all work items with bounded parallelism and returns one
// result per item at the item's index. A failing item does not stop the
// others. Items still waiting for a slot when ctx ends get ctx.Err().
func Process[T any](
	ctx context.Context,
	pool *WorkerPool,
	items []WorkItem[T],
	onProgress func(completed, total int),
) []WorkResult[T] {
	if len(items) == 0 {
		return nil
	}

	results := make([]WorkResult[T], len(items))
	sem := make(chan struct{}, pool.config.MaxConcurrent)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)

	for i, item := range items {
		wg.Add(1)
		go func(i int, item WorkItem[T]) {
			defer wg.Done()

			var res WorkResult[T]
			select {
			case sem <- struct{}{}:
				res = execute(ctx, item)
				<-sem
			case <-ctx.Done():
				res = WorkResult[T]{ID: item.ID, Err: ctx.Err()}
			}
			results[i] = res

			if res.Err != nil {
				pool.logger.Debug("Work item failed",
					zap.String("id", item.ID),
					zap.Error(res.Err))
			}

			if onProgress != nil {
				mu.Lock()
				completed++
				onProgress(completed, len(items))
				mu.Unlock()
			}
		}(i, item)
	}

	wg.Wait()
	return results
}

func execute[T any](ctx context.Context, item WorkItem[T]) WorkResult[T] {
	result, err := item.Execute(ctx)
	return WorkResult[T]{
		ID:     item.ID,
		Result: result,
		Err:    err,
	}
}
