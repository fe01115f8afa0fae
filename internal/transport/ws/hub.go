package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Hub tracks the open WebSocket connections so they can be closed on shutdown.
type Hub struct {
	mu          sync.Mutex
	connections map[string]*websocket.Conn
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{connections: make(map[string]*websocket.Conn)}
}

// Register adds conn and returns its id.
func (h *Hub) Register(conn *websocket.Conn) string {
	id := uuid.NewString()
	h.mu.Lock()
	h.connections[id] = conn
	h.mu.Unlock()
	return id
}

// Unregister removes the connection with the given id.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	delete(h.connections, id)
	h.mu.Unlock()
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}

// CloseAll sends a close frame with code to every connection and closes it.
func (h *Hub) CloseAll(code int, reason string, timeout time.Duration) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.connections))
	for _, conn := range h.connections {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(code, reason)
	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
		conn.Close()
	}
}
