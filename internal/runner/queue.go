package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrQueueFull is returned when no more runs can be accepted.
	ErrQueueFull = errors.New("run queue is full")
	// ErrQueueClosed is returned after Close.
	ErrQueueClosed = errors.New("run queue closed")
)

// Queue is a bounded in-memory queue of run requests.
type Queue struct {
	ch      chan Request
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Request, capacity)}
}

// Enqueue adds req without blocking. A full queue is reported as ErrQueueFull.
func (q *Queue) Enqueue(ctx context.Context, req Request) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue pops the next request, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (Request, error) {
	select {
	case <-ctx.Done():
		return Request{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case req, ok := <-q.ch:
		if !ok {
			return Request{}, ErrQueueClosed
		}
		return req, nil
	}
}

// Len reports the number of waiting requests.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting requests. Requests already queued can still be dequeued.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
