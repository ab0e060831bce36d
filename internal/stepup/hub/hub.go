// Package hub delivers completion events between the verifying device and
// the waiting device.
//
// The hub is transport-agnostic: WebSocket, event-stream, and polling
// adapters all register the same Channel interface under a key, so the
// session lifecycle never knows which transport a client chose. Delivery
// is best effort: events published to an unregistered key are dropped,
// and nothing is queued or retried on behalf of a dead channel.
package hub

import "sync"

// EventAuthComplete signals that the step-up verification finished.
const EventAuthComplete = "auth_complete"

// Event is the envelope pushed to a registered channel.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Channel receives events for one registration key. Deliver must not
// block indefinitely; a returned error deregisters the channel.
type Channel interface {
	Deliver(event Event) error
}

// ChannelFunc adapts a function to the Channel interface.
type ChannelFunc func(event Event) error

// Deliver implements Channel.
func (f ChannelFunc) Deliver(event Event) error {
	return f(event)
}

// Hub tracks at most one live channel per key.
type Hub struct {
	mu       sync.Mutex
	channels map[string]Channel
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{channels: make(map[string]Channel)}
}

// Subscribe registers ch under key. A prior registration under the same
// key is superseded, not closed; its owner finds out when its transport
// disconnects.
func (h *Hub) Subscribe(key string, ch Channel) {
	h.mu.Lock()
	h.channels[key] = ch
	h.mu.Unlock()
}

// Unsubscribe removes the registration for key, but only when ch is still
// the current registration. A superseded subscriber tearing down must not
// evict its replacement.
func (h *Hub) Unsubscribe(key string, ch Channel) {
	h.mu.Lock()
	if current, ok := h.channels[key]; ok && current == ch {
		delete(h.channels, key)
	}
	h.mu.Unlock()
}

// Channel returns the live channel registered under key, or nil.
func (h *Hub) Channel(key string) Channel {
	h.mu.Lock()
	ch := h.channels[key]
	h.mu.Unlock()
	return ch
}

// Publish delivers event to the channel registered under key and reports
// whether delivery happened. Without a registration the event is dropped
// silently. A delivery error deregisters the channel; the publisher's
// outcome does not depend on notification success.
func (h *Hub) Publish(key string, event Event) bool {
	ch := h.Channel(key)
	if ch == nil {
		return false
	}
	if err := ch.Deliver(event); err != nil {
		h.Unsubscribe(key, ch)
		return false
	}
	return true
}
