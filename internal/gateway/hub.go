// Package gateway is the thin transport between the engine and the
// dashboard UI: a websocket hub pushing published updates out, plus
// REST endpoints for initial reads, preference writes and refresh
// triggers. No rendering lives here.
package gateway

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Hub manages websocket clients and fans published engine updates out
// to them. The latest payload per channel is retained so a new client
// gets the current state immediately.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]json.RawMessage

	// OnClientCount is an optional metrics hook.
	OnClientCount func(n int)
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		latest:  make(map[string]json.RawMessage),
	}
}

// Broadcast envelopes payload on the named channel and queues it to
// every connected client. Slow clients drop the frame rather than
// blocking the engine.
func (h *Hub) Broadcast(channel string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[gateway] marshal %s: %v", channel, err)
		return
	}
	envelope, _ := json.Marshal(map[string]interface{}{
		"channel": channel,
		"data":    json.RawMessage(data),
		"ts":      time.Now().Format(time.RFC3339Nano),
	})

	h.mu.Lock()
	h.latest[channel] = data
	for c := range h.clients {
		select {
		case c.send <- envelope:
		default:
			// client too slow, skip this frame
		}
	}
	h.mu.Unlock()
}

// HandleWS adopts an upgraded connection into the hub.
func (h *Hub) HandleWS(conn *websocket.Conn) {
	c := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}
	h.register(c)
	c.sendInitialState()
	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	if h.OnClientCount != nil {
		h.OnClientCount(n)
	}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if h.OnClientCount != nil {
		h.OnClientCount(n)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
