// Package queue provides the ordered, thread-safe buffer of pending events.
//
// The queue is the single ordering authority: enqueue order equals delivery
// order equals removal order. One mutex covers append, prefix read, prefix
// removal and prepend.
//
// Readiness is level-triggered. WaitForData returns as soon as the queue is
// non-empty, so enqueues that happen before a wait are never lost and a burst
// of enqueues can never collapse into fewer deliveries than there are events.
package queue

import (
	"context"
	"sync"

	"github.com/randalmurphal/amplitude/pkg/amplitude/event"
)

// DefaultMaxBatch is the largest number of track events handed out per batch.
const DefaultMaxBatch = 10

// Batch is a read-only view of the queue head.
//
// Events holds up to max leading track events. Identify is set when the
// element directly after Events is an identify event; it is never batched
// together with other events.
type Batch struct {
	Events   []*event.TrackEvent
	Identify *event.IdentifyEvent
}

// Len returns the number of queue elements covered by the batch.
func (b Batch) Len() int {
	n := len(b.Events)
	if b.Identify != nil {
		n++
	}
	return n
}

// Empty reports whether the batch covers nothing.
func (b Batch) Empty() bool {
	return b.Len() == 0
}

// Queue is an in-memory FIFO of events.
type Queue struct {
	mu    sync.Mutex
	items []event.Event

	// ready is closed and replaced on every transition that adds items.
	ready chan struct{}

	// leased is the number of head elements handed out by PeekBatch and
	// not yet removed or released. Restored events are inserted after them.
	leased int
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{ready: make(chan struct{})}
}

// Enqueue appends e to the tail and wakes any waiter.
func (q *Queue) Enqueue(e event.Event) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.signalLocked()
	q.mu.Unlock()
}

// signalLocked wakes all current waiters (must hold lock).
func (q *Queue) signalLocked() {
	close(q.ready)
	q.ready = make(chan struct{})
}

// WaitForData blocks until the queue is non-empty or ctx is done.
// It returns ctx.Err() on cancellation.
func (q *Queue) WaitForData(ctx context.Context) error {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			q.mu.Unlock()
			return nil
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// PeekBatch returns up to max leading track events, stopping at the first
// identify event. The returned elements are leased until RemovePrefix or
// Release is called.
func (q *Queue) PeekBatch(max int) Batch {
	if max <= 0 {
		max = DefaultMaxBatch
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var b Batch
	for _, e := range q.items {
		if id, ok := e.(*event.IdentifyEvent); ok {
			b.Identify = id
			break
		}
		if len(b.Events) >= max {
			break
		}
		b.Events = append(b.Events, e.(*event.TrackEvent))
	}

	q.leased = b.Len()
	return b
}

// RemovePrefix removes exactly the first n elements and returns how many
// were removed (fewer only if the queue is shorter than n).
func (q *Queue) RemovePrefix(n int) int {
	if n <= 0 {
		return 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.items) {
		n = len(q.items)
	}

	// Clear references so removed events can be collected.
	for i := 0; i < n; i++ {
		q.items[i] = nil
	}
	q.items = q.items[n:]

	q.leased -= n
	if q.leased < 0 {
		q.leased = 0
	}
	return n
}

// Release drops the current lease without removing anything.
func (q *Queue) Release() {
	q.mu.Lock()
	q.leased = 0
	q.mu.Unlock()
}

// Snapshot returns a copy of the full queue contents without removal.
func (q *Queue) Snapshot() []event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]event.Event, len(q.items))
	copy(out, q.items)
	return out
}

// RestorePrepend inserts previously saved events at the head, ahead of
// events enqueued in this session, and wakes any waiter. Elements currently
// leased to an in-flight delivery stay in front.
func (q *Queue) RestorePrepend(events []event.Event) {
	if len(events) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	at := q.leased
	if at > len(q.items) {
		at = len(q.items)
	}

	items := make([]event.Event, 0, len(q.items)+len(events))
	items = append(items, q.items[:at]...)
	items = append(items, events...)
	items = append(items, q.items[at:]...)
	q.items = items

	q.signalLocked()
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
