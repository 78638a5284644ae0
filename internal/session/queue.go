package session

import (
	"log/slog"
	"sync"
	"time"
)

// eventQueue is the unbounded FIFO feeding the worker goroutine.
//
// Push is safe from any goroutine and never blocks the caller; once the queue
// is closed a push is a logged no-op rather than a fault. Pop is called only
// by the single worker and blocks up to the given timeout so the worker can
// periodically re-check liveness. No priority, strict enqueue order.
type eventQueue struct {
	mu     sync.Mutex
	items  []event
	closed bool

	// notify wakes the worker when an item lands in an empty queue. Buffer of
	// one: a stale wakeup is harmless because Pop re-checks the queue.
	notify chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		notify: make(chan struct{}, 1),
	}
}

// Push appends ev to the queue. Never blocks.
func (q *eventQueue) Push(ev event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		slog.Warn("camsession: event dropped, queue is closed", "event", ev.name())
		return
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest event, blocking up to timeout. Returns
// (nil, false) when no event arrived in time.
func (q *eventQueue) Pop(timeout time.Duration) (event, bool) {
	deadline := time.Now().Add(timeout)

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			if len(q.items) == 0 {
				// Reset so the backing array does not grow without bound.
				q.items = nil
			}
			q.mu.Unlock()
			return ev, true
		}
		q.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}

		select {
		case <-q.notify:
			// Re-check; the notification may be stale.
		case <-time.After(remaining):
			return nil, false
		}
	}
}

// Close marks the queue closed. Later pushes become logged no-ops; items
// already queued remain poppable.
func (q *eventQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Len reports the number of queued events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
