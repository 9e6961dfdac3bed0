package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/invincible-ocean/roboi-edge/internal/journal"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The API binds to the site LAN; origin filtering is left to the
		// reverse proxy when one is deployed.
		return true
	},
}

// wsMessage is the frame pushed to connected dashboards.
type wsMessage struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Record    *journal.Record `json:"record"`
}

// Hub fans emitted records out to connected websocket clients. It
// implements journal.Sink so it can sit in the engine's MultiSink.
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool
	logger  *slog.Logger
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a websocket hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*wsClient]bool),
		logger:  slog.Default().With("component", "websocket"),
	}
}

// Write broadcasts one record to every connected client. Slow clients are
// skipped rather than blocking the frame loop.
func (h *Hub) Write(rec *journal.Record) error {
	payload, err := json.Marshal(wsMessage{
		Type:      string(rec.Type),
		Timestamp: time.Now(),
		Record:    rec,
	})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
		}
	}
	return nil
}

// ServeHTTP upgrades the connection and streams records until the client
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 64)}
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	go h.writeLoop(client)
	h.readLoop(client)
}

func (h *Hub) writeLoop(c *wsClient) {
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drains client messages until the connection closes, then
// unregisters the client.
func (h *Hub) readLoop(c *wsClient) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		close(c.send)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
