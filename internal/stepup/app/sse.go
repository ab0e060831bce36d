package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/strongholdauth/stronghold/internal/platform/errors"
	"github.com/strongholdauth/stronghold/internal/platform/timeouts"
	"github.com/strongholdauth/stronghold/internal/stepup/hub"
)

// sseChannelBuffer bounds pending events between the hub and the writer
// goroutine. A full buffer means the client stopped reading; the delivery
// error deregisters the channel.
const sseChannelBuffer = 8

type sseChannel struct {
	events chan hub.Event
}

func newSSEChannel() *sseChannel {
	return &sseChannel{events: make(chan hub.Event, sseChannelBuffer)}
}

func (c *sseChannel) Deliver(event hub.Event) error {
	select {
	case c.events <- event:
		return nil
	default:
		return errors.New(errors.CodeChannelFailure, "event-stream client is not draining")
	}
}

// eventStream serves GET /sse/{id}: a one-way stream of completion events
// as event-stream frames. The first frame acknowledges registration;
// heartbeats keep intermediaries from closing an idle stream.
func (h *httpHandlers) eventStream(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	key := channelKeyFromPath(r.URL.Path, "/sse/")
	if key == "" {
		http.NotFound(w, r)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	channel := newSSEChannel()
	h.hub.Subscribe(key, channel)
	defer h.hub.Unsubscribe(key, channel)

	if err := writeSSEEvent(w, hub.Event{Type: "registered", Data: map[string]any{"clientId": key}}); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(timeouts.SSEHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event := <-channel.events:
			if err := writeSSEEvent(w, event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, event hub.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("stepup: marshal event-stream frame: %v", err)
		return nil
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}
