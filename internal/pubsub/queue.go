// ABOUTME: Bounded per-connection delivery queue with drop-oldest overload policy
// ABOUTME: Single producer side fed by the Bus, single consumer drained by the gateway

package pubsub

import (
	"context"
	"errors"
	"sync"
)

// Delivery errors
var (
	// ErrConnectionClosed means the queue's connection has been torn down
	ErrConnectionClosed = errors.New("connection closed")
)

// DefaultQueueCapacity bounds memory per slow client. Matches the
// per-subscriber buffering used elsewhere in the gateway.
const DefaultQueueCapacity = 64

// Queue is the bounded ordered delivery buffer owned by one connection.
// Push never blocks: when the queue is full the oldest event is evicted and
// a gap marker is recorded, which Pop delivers before any newer buffered
// event so the consumer knows to resynchronize. This is the backpressure
// boundary that keeps one slow reader from stalling the Bus.
type Queue struct {
	mu     sync.Mutex
	buf    []*Event // fixed-capacity ring
	head   int
	count  int
	gapped bool
	closed bool
	notify chan struct{}
}

// NewQueue creates a delivery queue. A non-positive capacity selects
// DefaultQueueCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		buf:    make([]*Event, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Push appends an event. It never blocks: if the queue is full the oldest
// buffered event is evicted and the eviction is recorded as a pending gap.
// Returns dropped=true when an eviction happened, and ErrConnectionClosed
// if the queue has been closed.
func (q *Queue) Push(ev *Event) (dropped bool, err error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false, ErrConnectionClosed
	}

	if q.count == len(q.buf) {
		// Evict the oldest event and remember that the consumer lost data.
		q.buf[q.head] = nil
		q.head = (q.head + 1) % len(q.buf)
		q.count--
		q.gapped = true
		dropped = true
	}

	q.buf[(q.head+q.count)%len(q.buf)] = ev
	q.count++
	q.mu.Unlock()

	q.wake()
	return dropped, nil
}

// Pop removes and returns the next event, blocking until one is available,
// the context is cancelled, or the queue is closed and drained. A pending
// gap is delivered (as a synthetic gap event) before any event buffered
// after the eviction.
func (q *Queue) Pop(ctx context.Context) (*Event, error) {
	for {
		q.mu.Lock()
		if q.gapped {
			q.gapped = false
			q.mu.Unlock()
			return &Event{Type: EventGap}, nil
		}
		if q.count > 0 {
			ev := q.buf[q.head]
			q.buf[q.head] = nil
			q.head = (q.head + 1) % len(q.buf)
			q.count--
			q.mu.Unlock()
			return ev, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrConnectionClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

// Close marks the queue closed. Subsequent Push calls fail with
// ErrConnectionClosed; Pop drains nothing further (buffered events are
// discarded, the connection is going away). Safe to call multiple times.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.count = 0
	q.gapped = false
	q.head = 0
	clear(q.buf)
	q.mu.Unlock()

	q.wake()
}

// Len returns the number of buffered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// wake nudges the consumer without blocking.
func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
