package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/strongholdauth/stronghold/internal/platform/errors"
	"github.com/strongholdauth/stronghold/internal/stepup/hub"
)

type registerPollingRequest struct {
	ClientID string `json:"clientId"`
}

type registerPollingResponse struct {
	ClientID string `json:"clientId"`
}

type pollUpdatesResponse struct {
	Events []hub.Event `json:"events"`
}

// registerPolling registers a bounded event queue for a polling client.
// Callers that want completion events for a session pass the session id
// as clientId; otherwise a fresh id is issued.
func (h *httpHandlers) registerPolling(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req registerPollingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeJSONError(w, errors.New(errors.CodeInvalidRequest, "invalid request body"))
		return
	}

	clientID := strings.TrimSpace(req.ClientID)
	if clientID == "" {
		clientID = uuid.NewString()
	}

	h.hub.Subscribe(clientID, hub.NewQueue())
	writeJSON(w, http.StatusOK, registerPollingResponse{ClientID: clientID})
}

// pollUpdates drains the queue for /poll-updates/{clientId}. Reference
// clients call this on the timeouts.PollInterval cadence; once a
// completion event is handed over the registration is released.
func (h *httpHandlers) pollUpdates(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	clientID := channelKeyFromPath(r.URL.Path, "/poll-updates/")
	if clientID == "" {
		http.NotFound(w, r)
		return
	}

	queue, ok := h.hub.Channel(clientID).(*hub.Queue)
	if !ok {
		writeJSONError(w, errors.New(errors.CodeNotFound, "polling client not registered"))
		return
	}

	events := queue.Drain()
	for _, event := range events {
		if event.Type == hub.EventAuthComplete {
			h.hub.Unsubscribe(clientID, queue)
			break
		}
	}

	if events == nil {
		events = []hub.Event{}
	}
	writeJSON(w, http.StatusOK, pollUpdatesResponse{Events: events})
}
