// Package ws broadcasts download-job progress to web UI clients.
package ws

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Local-only job server; the listener binding is the access control.
		return true
	},
}

// WSMessage is the envelope for every frame sent to clients.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ProgressPayload reports one job's download progress.
type ProgressPayload struct {
	ID       string  `json:"id"`
	Label    string  `json:"label,omitempty"`
	Percent  float64 `json:"percent"`
	Resolved int64   `json:"resolved"`
	Total    int64   `json:"total"`
	Status   string  `json:"status"`
}

// ErrorPayload reports a job failure.
type ErrorPayload struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// client pairs a connection with the send queue its writePump drains. All
// writes to the connection happen on that one goroutine; a connection never
// has two concurrent writers.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan WSMessage
}

// Hub fans messages out to every connected WebSocket client. Run owns the
// client set; Broadcast only enqueues.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan WSMessage
	register   chan *client
	unregister chan *client
	mu         sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan WSMessage, 1024),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run loops forever dispatching registrations and broadcasts. Callers start
// it once, on its own goroutine, before serving connections.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// A stalled client loses its slot rather than
					// stalling every other client's updates.
					log.Printf("ws: client send queue full, disconnecting")
					c.conn.Close()
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Handle upgrades an HTTP request into a hub subscription.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan WSMessage, 16)}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			log.Printf("ws write failed: %v", err)
			return
		}
	}
}

// readPump drains the connection so pings and client closes are noticed.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast enqueues msg for every client. It never blocks the producer; if
// the queue is full the message is dropped.
func (h *Hub) Broadcast(msg WSMessage) {
	select {
	case h.broadcast <- msg:
	default:
		log.Printf("ws: broadcast queue full, dropping message")
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
