package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/strongholdauth/stronghold/internal/stepup/hub"
)

const maxDecodeErrorsPerConn = 3

// wsPeer serializes frame writes; the hub delivery goroutine and the echo
// path share one connection.
type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeEvent(event hub.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(event)
}

// wsChannel adapts a peer to the hub's Channel interface.
type wsChannel struct {
	peer *wsPeer
}

func (c *wsChannel) Deliver(event hub.Event) error {
	return c.peer.writeEvent(event)
}

// newWSHandler serves the bidirectional channel at /ws/{id}. The path
// segment is the registration key; completion events published under it
// are pushed down this connection.
func newWSHandler(notificationHub *hub.Hub) http.Handler {
	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, notificationHub)
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if channelKeyFromPath(r.URL.Path, "/ws/") == "" {
			http.NotFound(w, r)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})
}

func channelKeyFromPath(path string, prefix string) string {
	key := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if strings.Contains(key, "/") {
		return ""
	}
	return key
}

func handleWSConn(conn *websocket.Conn, notificationHub *hub.Hub) {
	defer func() {
		_ = conn.Close()
	}()

	key := ""
	if request := conn.Request(); request != nil {
		key = channelKeyFromPath(request.URL.Path, "/ws/")
	}
	if key == "" {
		return
	}

	peer := newWSPeer(json.NewEncoder(conn))
	channel := &wsChannel{peer: peer}
	notificationHub.Subscribe(key, channel)
	defer notificationHub.Unsubscribe(key, channel)

	decoder := json.NewDecoder(conn)
	decodeErrors := 0
	for {
		var event hub.Event
		if err := decoder.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			// Malformed frames are ignored, but a peer that only sends
			// garbage gets disconnected.
			decodeErrors++
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if event.Type == hub.EventAuthComplete {
			if err := peer.writeEvent(hub.Event{Type: hub.EventAuthComplete}); err != nil {
				return
			}
		}
	}
}
