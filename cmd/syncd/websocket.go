// Package main provides the WebSocket server for real-time sync events.
package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sayantanroy47/tasky-sync/internal/logging"
	syncpkg "github.com/sayantanroy47/tasky-sync/internal/sync"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// only local UI clients
		host := r.Host
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		return host == "localhost" || host == "127.0.0.1"
	},
}

// WSEnvelope wraps all WebSocket messages.
type WSEnvelope struct {
	Type      string        `json:"type"`
	Data      syncpkg.Event `json:"data"`
	Timestamp int64         `json:"timestamp"`
}

// WSClient is one connected UI client.
type WSClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WSHub maintains active client connections and broadcasts engine events.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// NewWSHub creates a hub.
func NewWSHub() *WSHub {
	return &WSHub{clients: make(map[*WSClient]struct{})}
}

// HandleUpgrade upgrades an HTTP request to a websocket connection.
func (h *WSHub) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("websocket upgrade failed", err, nil)
		return
	}

	client := &WSClient{conn: conn, send: make(chan []byte, 64)}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	logging.Debug("websocket client connected", map[string]interface{}{
		"clients": h.count(),
	})

	go h.writeLoop(client)
	go h.readLoop(client)
}

// BroadcastEvent fans an engine event out to all clients. Slow clients are
// dropped rather than allowed to stall the pump.
func (h *WSHub) BroadcastEvent(ev syncpkg.Event) {
	data, err := json.Marshal(WSEnvelope{
		Type:      string(ev.Type),
		Data:      ev,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		logging.Error("failed to encode event", err, nil)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			logging.Warn("dropping slow websocket client", nil)
			go h.remove(client)
		}
	}
}

func (h *WSHub) writeLoop(client *WSClient) {
	for data := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.remove(client)
			return
		}
	}
}

func (h *WSHub) readLoop(client *WSClient) {
	// clients send nothing; the read loop only detects disconnects
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			h.remove(client)
			return
		}
	}
}

func (h *WSHub) remove(client *WSClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		client.conn.Close()
	}
	h.mu.Unlock()
}

func (h *WSHub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
