// Package liveserver streams admission decisions and cycle summaries to
// dashboard clients over WebSocket, and serves the operator HTTP surface
// (health, status, metrics).
package liveserver

import (
	"context"
	"sync"

	"lp_sentinel/internal/core"
)

// Per-client send buffer. A client that cannot drain this many frames is
// dropped rather than allowed to stall the broadcast path.
const clientSendBuffer = 256

// Client is one connected dashboard consumer.
type Client struct {
	id     string
	send   chan Message
	mu     sync.Mutex
	closed bool
}

func NewClient(id string) *Client {
	return &Client{
		id:   id,
		send: make(chan Message, clientSendBuffer),
	}
}

// Send queues a message without blocking. Returns false when the client is
// closed or its buffer is full.
func (c *Client) Send(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// SendChan exposes the outbound queue to the write pump.
func (c *Client) SendChan() <-chan Message {
	return c.send
}

// Close marks the client closed and releases its queue.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub fans decision-feed messages out to every connected client. Slow
// clients are unregistered instead of applying backpressure to the scan
// loop.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     core.ILogger
}

func NewHub(logger core.ILogger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.WithField("component", "live_hub"),
	}
}

// Run owns the client set until the context is cancelled, at which point
// every client is closed.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("Dashboard client connected", "client_id", client.id, "total_clients", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("Dashboard client disconnected", "client_id", client.id, "total_clients", total)

		case message := <-h.broadcast:
			h.mu.RLock()
			clientList := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clientList = append(clientList, client)
			}
			h.mu.RUnlock()

			for _, client := range clientList {
				if !client.Send(message) {
					// Slow or dead client; drop it.
					select {
					case h.unregister <- client:
					default:
					}
				}
			}
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast queues a message for every client. The decision loop never
// blocks here: if the hub itself is saturated the message is dropped with a
// warning.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Broadcast queue full, dropping message", "type", msg.Type)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
