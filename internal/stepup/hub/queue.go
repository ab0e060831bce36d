package hub

import "sync"

// defaultQueueLimit bounds a polling client's backlog. Reference clients
// drain every second, so a small bound is generous.
const defaultQueueLimit = 32

// Queue is the polling-fallback channel: events accumulate until the
// client's next poll drains them. When the bound is reached the oldest
// event is dropped first.
type Queue struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

// NewQueue creates a bounded polling queue.
func NewQueue() *Queue {
	return &Queue{limit: defaultQueueLimit}
}

// Deliver implements Channel. It never fails; a polling client that went
// away simply stops draining and the registration is removed elsewhere.
func (q *Queue) Deliver(event Event) error {
	q.mu.Lock()
	q.events = append(q.events, event)
	if len(q.events) > q.limit {
		q.events = q.events[len(q.events)-q.limit:]
	}
	q.mu.Unlock()
	return nil
}

// Drain returns all queued events and clears the queue.
func (q *Queue) Drain() []Event {
	q.mu.Lock()
	events := q.events
	q.events = nil
	q.mu.Unlock()
	return events
}
