package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/dukerupert/mealmood/internal/model"
)

// Message is a real-time entry change notification sent to the entry's owner.
type Message struct {
	Type   string       `json:"type"`
	Action string       `json:"action"`
	ID     string       `json:"id"`
	Entry  *model.Entry `json:"entry,omitempty"`
}

// NewMessage creates an entry Message for action.
func NewMessage(action string, e *model.Entry) Message {
	msg := Message{Type: "entry", Action: action, Entry: e}
	if e != nil {
		msg.ID = e.ID
	}
	return msg
}

// Hub maintains the active WebSocket clients grouped by owner and delivers
// each message only to its owner's clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]map[*Client]struct{}
	count   int
	onCount func(int)
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[int64]map[*Client]struct{}),
		logger:  logger,
	}
}

// OnCountChange sets a function called with the client count whenever a
// client joins or leaves. It runs with the hub locked and must not call back
// into the hub.
func (h *Hub) OnCountChange(fn func(int)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onCount = fn
}

func (h *Hub) countChangedLocked(delta int) {
	h.count += delta
	if h.onCount != nil {
		h.onCount(h.count)
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.owner]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.owner] = set
	}
	if _, ok := set[c]; !ok {
		set[c] = struct{}{}
		h.countChangedLocked(1)
	}
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregisterLocked(c)
}

func (h *Hub) unregisterLocked(c *Client) {
	set, ok := h.clients[c.owner]
	if !ok {
		return
	}
	if _, ok := set[c]; ok {
		delete(set, c)
		close(c.send)
		h.countChangedLocked(-1)
	}
	if len(set) == 0 {
		delete(h.clients, c.owner)
	}
}

// Send delivers msg to every client of owner.
func (h *Hub) Send(owner int64, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal message", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[owner] {
		select {
		case c.send <- data:
		default:
			// Client buffer full; drop the message rather than block.
			h.logger.Warn("websocket client buffer full", "owner", owner, "action", msg.Action)
		}
	}
}

// EntryChanged forwards an entry change to its owner's clients.
func (h *Hub) EntryChanged(owner int64, action string, e *model.Entry) {
	h.Send(owner, NewMessage(action, e))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// CloseAll disconnects every client. Used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.clients {
		for c := range set {
			h.unregisterLocked(c)
		}
	}
}
