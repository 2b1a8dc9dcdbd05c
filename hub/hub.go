// Package hub maintains the SSE client registry: per-client delivery
// channels, folder bindings, push tokens, and a diagnostics ring of recent
// broadcasts.
package hub

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xiaoyuanzhu-com/gueridon/log"
)

// ProtocolVersion is echoed in every hello frame.
const ProtocolVersion = 1

// recentEventCap bounds the diagnostics ring surfaced by /status.
const recentEventCap = 100

// Hello is the first frame written on every SSE connection.
type Hello struct {
	Version        int    `json:"version"`
	ClientID       string `json:"clientId"`
	Reconnect      bool   `json:"reconnect"`
	PushToken      string `json:"pushToken"`
	VapidPublicKey string `json:"vapidPublicKey,omitempty"`
}

// RecentEvent is one diagnostics ring entry.
type RecentEvent struct {
	Event  string    `json:"event"`
	Folder string    `json:"folder,omitempty"`
	Time   time.Time `json:"time"`
}

// Hub is the SSE client registry.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	recentMu sync.Mutex
	recent   []RecentEvent
	oldest   int
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

// Register creates a client for an id (minting one when absent) along with
// its push token. A reconnect under the same id replaces the old client.
func (h *Hub) Register(clientID string) *Client {
	if clientID == "" {
		clientID = uuid.NewString()
	}
	c := newClient(clientID, uuid.NewString())

	h.mu.Lock()
	if old, ok := h.clients[clientID]; ok {
		old.close()
	}
	h.clients[clientID] = c
	h.mu.Unlock()
	return c
}

// Unregister removes a client and wakes any sender blocked on it.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if cur, ok := h.clients[c.ID]; ok && cur == c {
		delete(h.clients, c.ID)
	}
	h.mu.Unlock()
	c.close()
}

// Get returns the client registered under id.
func (h *Hub) Get(clientID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[clientID]
	return c, ok
}

// ValidPushToken reports whether token was issued to a connected client.
func (h *Hub) ValidPushToken(token string) bool {
	if token == "" {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.PushToken == token {
			return true
		}
	}
	return false
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// FoldersFrame wraps a folder list in the frame sent on connect and on
// scan-root changes.
func FoldersFrame(list interface{}) (Frame, bool) {
	data, err := json.Marshal(map[string]interface{}{"folders": list})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal folders frame")
		return Frame{}, false
	}
	return Frame{Event: "folders", Data: data, Structural: true}, true
}

// BroadcastFolders pushes a folders frame to every connected client, lobby
// and bound alike.
func (h *Hub) BroadcastFolders(list interface{}) {
	f, ok := FoldersFrame(list)
	if !ok {
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Send(f)
	}
	h.Record("folders", "")
}

// Record notes a broadcast in the diagnostics ring.
func (h *Hub) Record(event, folder string) {
	h.recentMu.Lock()
	defer h.recentMu.Unlock()
	e := RecentEvent{Event: event, Folder: folder, Time: time.Now()}
	if len(h.recent) < recentEventCap {
		h.recent = append(h.recent, e)
		return
	}
	h.recent[h.oldest] = e
	h.oldest = (h.oldest + 1) % recentEventCap
}

// Recent returns the diagnostics ring in chronological order.
func (h *Hub) Recent() []RecentEvent {
	h.recentMu.Lock()
	defer h.recentMu.Unlock()
	out := make([]RecentEvent, 0, len(h.recent))
	out = append(out, h.recent[h.oldest:]...)
	out = append(out, h.recent[:h.oldest]...)
	return out
}

// WriteFrame writes one SSE frame in id/event/data framing.
func WriteFrame(w io.Writer, seq int64, event string, data []byte) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, event, data)
	return err
}
