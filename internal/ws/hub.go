package ws

import (
	"ChatRelay/internal/lib/sl"
	"ChatRelay/internal/metrics"
	"ChatRelay/internal/upstream"
	"encoding/json"
	"log/slog"
	"sync"
)

const (
	EventStatus        = "status"
	EventSessionUpdate = "session_update"
	EventNewMessage    = "new_message"
	EventEscalation    = "escalation"
)

// StatusProvider reports the current bot gateway connection state.
type StatusProvider interface {
	Status() upstream.Status
}

// Event represents a WebSocket event sent to staff clients.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the set of live staff clients and fans events out to them.
// The client set is only touched under mu.
type Hub struct {
	clients map[*Client]struct{}
	mu      sync.RWMutex
	status  StatusProvider
	log     *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		log:     log.With(sl.Module("ws-hub")),
	}
}

func (h *Hub) SetStatusProvider(status StatusProvider) {
	h.status = status
}

// Register adds c to the live set and queues the current upstream status for it.
// It reports false when c is already registered.
func (h *Hub) Register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		return false
	}
	h.clients[c] = struct{}{}
	metrics.StaffClients.Set(float64(len(h.clients)))

	if h.status != nil {
		data, err := json.Marshal(&Event{Type: EventStatus, Data: h.status.Status()})
		if err == nil {
			c.enqueue(data)
		}
	}
	h.log.Debug("staff client registered", slog.String("staff", c.staff), slog.Int("clients", len(h.clients)))
	return true
}

// Unregister removes c and closes its send queue. Removing an unknown client is a no-op.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.StaffClients.Set(float64(len(h.clients)))
	h.log.Debug("staff client unregistered", slog.String("staff", c.staff), slog.Int("clients", len(h.clients)))
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast serializes the event once and queues it for every open client.
// Clients that are not open, or whose queue is full, miss the event.
// It returns the number of clients the event was queued for.
func (h *Hub) Broadcast(eventType string, data interface{}) int {
	message, err := json.Marshal(&Event{Type: eventType, Data: data})
	if err != nil {
		h.log.Error("encode broadcast", slog.String("type", eventType), sl.Err(err))
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for client := range h.clients {
		if !client.isOpen() {
			continue
		}
		if client.enqueue(message) {
			delivered++
		} else {
			h.log.Warn("staff client queue full, event dropped",
				slog.String("staff", client.staff),
				slog.String("type", eventType),
			)
		}
	}
	metrics.RecordBroadcast(eventType)
	return delivered
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.markClosed()
		delete(h.clients, client)
		close(client.send)
	}
	metrics.StaffClients.Set(0)
}
