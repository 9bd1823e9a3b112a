package analytics

import (
	"context"
	"fmt"
	"sync"
)

// Queue is a bounded, thread-safe FIFO of pending actions.
//
// Producers block in Push while the queue is full, up to the deadline of
// their context, then fail with ErrQueueFull. Drain hands each action to
// exactly one caller.
type Queue struct {
	mu       sync.Mutex
	items    []Action
	capacity int
	closed   bool
	changed  chan struct{}
}

// NewQueue creates a queue holding at most capacity actions.
// A capacity <= 0 leaves the queue unbounded.
func NewQueue(capacity int) *Queue {
	return &Queue{
		capacity: capacity,
		changed:  make(chan struct{}),
	}
}

// Push appends action, waiting for room until ctx is done.
func (q *Queue) Push(ctx context.Context, action Action) error {
	return q.PushFunc(ctx, action, nil)
}

// PushFunc is Push with a hook that runs once action is accepted, before any
// Drain can return it. accepted must not call back into the queue.
func (q *Queue) PushFunc(ctx context.Context, action Action, accepted func()) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()

			return ErrClosed
		}
		if q.capacity <= 0 || len(q.items) < q.capacity {
			if accepted != nil {
				accepted()
			}
			q.items = append(q.items, action)
			q.broadcast()
			q.mu.Unlock()

			return nil
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrQueueFull, ctx.Err())
		case <-changed:
		}
	}
}

// Drain removes up to max actions from the head of the queue without blocking.
func (q *Queue) Drain(max int) []Action {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if n == 0 || max <= 0 {
		return nil
	}
	if max < n {
		n = max
	}

	out := make([]Action, n)
	copy(out, q.items[:n])
	clear(q.items[:n])
	q.items = q.items[n:]
	if len(q.items) == 0 {
		q.items = nil
	}
	q.broadcast()

	return out
}

// Len returns the number of queued actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// Changed returns a channel that is closed on the next push, drain or close.
func (q *Queue) Changed() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.changed
}

// Close rejects further pushes, wakes blocked producers and returns the
// actions that were still queued.
func (q *Queue) Close() []Action {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	rest := q.items
	q.items = nil
	q.broadcast()

	return rest
}

// Closed reports whether Close was called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.closed
}

func (q *Queue) broadcast() {
	close(q.changed)
	q.changed = make(chan struct{})
}
