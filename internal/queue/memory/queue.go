// Package memory provides queue implementations for local development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/haybaler/perception/internal/analysis"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan analysis.QueueItem
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	return &Queue{
		ch: make(chan analysis.QueueItem, capacity),
	}
}

// Enqueue pushes a job into the queue or returns if the context ends. The
// read lock keeps Close from closing the channel under an in-flight send.
func (q *Queue) Enqueue(ctx context.Context, item analysis.QueueItem) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return analysis.ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (analysis.QueueItem, error) {
	select {
	case <-ctx.Done():
		return analysis.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return analysis.QueueItem{}, analysis.ErrQueueClosed
		}
		return item, nil
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
