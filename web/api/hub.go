package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/claude-task-orchestrator/internal/domain"
)

const (
	writeTimeout = 5 * time.Second
	sendBuffer   = 64
)

// Hub fans lifecycle events out to connected websocket clients. Each
// client gets a buffered send channel drained by its own writer
// goroutine, so Broadcast never performs network I/O: a client that
// stops reading fills its buffer and is dropped.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan domain.Event
	closed  bool
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan domain.Event),
	}
}

// Handler upgrades the request and keeps the connection registered
// until the client goes away.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("upgrade failed: %v", err)
			return
		}

		send := make(chan domain.Event, sendBuffer)
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			conn.Close()
			return
		}
		h.clients[conn] = send
		h.mu.Unlock()

		go h.writeLoop(conn, send)

		// Clients only listen; the read loop exists to notice closes.
		go func() {
			defer h.drop(conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

// writeLoop drains one client's send channel onto its connection. A
// write failure drops the client; the loop then runs out the already
// buffered events against the closed connection and exits.
func (h *Hub) writeLoop(conn *websocket.Conn, send chan domain.Event) {
	for ev := range send {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			h.drop(conn)
		}
	}
}

// Broadcast queues one event for every connected client without
// blocking. Clients whose buffer is full have stopped draining and are
// disconnected.
func (h *Hub) Broadcast(ev domain.Event) {
	h.mu.Lock()
	var stalled []*websocket.Conn
	for conn, send := range h.clients {
		select {
		case send <- ev:
		default:
			stalled = append(stalled, conn)
		}
	}
	h.mu.Unlock()

	for _, conn := range stalled {
		h.drop(conn)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all clients and rejects new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for conn, send := range h.clients {
		delete(h.clients, conn)
		close(send)
		conn.Close()
	}
}

// drop unregisters a client exactly once and closes its connection.
// Closing the send channel ends the client's write loop.
func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	send, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
		close(send)
	}
	h.mu.Unlock()
	conn.Close()
}
