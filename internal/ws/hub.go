package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
)

// Event is a WebSocket message pushed to the terminal UI.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Event types consumed by the renderer.
const (
	EventNotification = "notification"
	EventSaleUpdated  = "sale_updated"
)

// NotificationEvent builds a transient, non-blocking user notification —
// the toast equivalent. Level is "info", "success" or "error".
func NotificationEvent(level, message string) Event {
	payload, _ := json.Marshal(struct {
		Level   string `json:"level"`
		Message string `json:"message"`
	}{Level: level, Message: message})
	return Event{Type: EventNotification, Payload: payload}
}

// SaleUpdatedEvent wraps a fresh sale snapshot for the renderer.
func SaleUpdatedEvent(snapshot any) Event {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		log.Printf("ERROR: marshal sale snapshot: %v", err)
		payload = []byte(`{}`)
	}
	return Event{Type: EventSaleUpdated, Payload: payload}
}

// sessionEvent routes an event to the clients of one sale session.
type sessionEvent struct {
	SessionID uuid.UUID
	Event     Event
}

// Hub maintains the set of connected terminal UIs and broadcasts sale
// events to them, one room per sale session.
type Hub struct {
	rooms map[uuid.UUID]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *sessionEvent

	mu sync.RWMutex
}

// NewHub creates a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *sessionEvent, 256),
	}
}

// Run starts the hub's main loop. Call as a goroutine: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.sessionID] == nil {
				h.rooms[client.sessionID] = make(map[*Client]bool)
			}
			h.rooms[client.sessionID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.rooms[client.sessionID]; ok {
				if _, exists := clients[client]; exists {
					delete(clients, client)
					close(client.send)
					if len(clients) == 0 {
						delete(h.rooms, client.sessionID)
					}
				}
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.Lock()
			clients := h.rooms[event.SessionID]

			message, err := json.Marshal(event.Event)
			if err != nil {
				h.mu.Unlock()
				continue
			}

			for client := range clients {
				select {
				case client.send <- message:
				default:
					// Client's send buffer is full, close and unregister
					close(client.send)
					delete(h.rooms[event.SessionID], client)
					if len(h.rooms[event.SessionID]) == 0 {
						delete(h.rooms, event.SessionID)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastToSession sends an event to every UI client watching the given
// sale session. This is the public API the session manager uses.
func (h *Hub) BroadcastToSession(sessionID uuid.UUID, event Event) {
	h.broadcast <- &sessionEvent{
		SessionID: sessionID,
		Event:     event,
	}
}
