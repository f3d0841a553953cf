package broadcast

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/gofiber/contrib/websocket"
)

// Conn is the write side of a websocket connection.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is a websocket connection following room activity. A client with
// an empty RoomID follows every room.
type Client struct {
	ID     string
	RoomID string
	Conn   Conn
}

func (c *Client) follows(roomID string) bool {
	return c.RoomID == "" || c.RoomID == roomID
}

// Message is one activity item for a room.
type Message struct {
	RoomID  string
	Type    string
	Payload any
}

// frame is what clients receive.
type frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Hub fans room activity out to connected clients. Registration is
// synchronous; activity is queued and delivered by Run.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool

	queue chan *Message
	done  chan struct{}
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		queue:   make(chan *Message, 256),
		done:    make(chan struct{}),
	}
}

// Run delivers queued activity until ctx is cancelled, then closes every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			log.Println("[hub] Shutting down...")
			h.closeAll()
			return
		case msg := <-h.queue:
			h.deliver(msg)
		}
	}
}

// Wait blocks until the hub has stopped.
func (h *Hub) Wait() {
	<-h.done
}

// Register adds a client. Clients registered after shutdown are closed.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = client.Conn.Close()
		return
	}
	h.clients[client.ID] = client
	h.mu.Unlock()
	log.Printf("[hub] Client %s registered (room: %q)", client.ID, client.RoomID)
}

// Unregister removes a client.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client.ID]
	delete(h.clients, client.ID)
	h.mu.Unlock()
	if ok {
		log.Printf("[hub] Client %s unregistered", client.ID)
	}
}

// Broadcast queues an activity item for a room. Items are dropped when the
// queue is full.
func (h *Hub) Broadcast(roomID, msgType string, payload any) {
	select {
	case h.queue <- &Message{RoomID: roomID, Type: msgType, Payload: payload}:
	default:
		log.Printf("[hub] Queue full, dropping %s for room %s", msgType, roomID)
	}
}

func (h *Hub) deliver(msg *Message) {
	data, err := json.Marshal(frame{Type: msg.Type, Payload: msg.Payload})
	if err != nil {
		log.Printf("[hub] Failed to marshal broadcast message: %v", err)
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		if client.follows(msg.RoomID) {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if err := client.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("[hub] Dropping client %s: %v", client.ID, err)
			h.Unregister(client)
			_ = client.Conn.Close()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.closed = true
	h.mu.Unlock()

	for _, client := range clients {
		_ = client.Conn.Close()
	}
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomClientCount returns the number of clients following only roomID.
func (h *Hub) RoomClientCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, client := range h.clients {
		if client.RoomID == roomID {
			n++
		}
	}
	return n
}
