package websocket

import (
	"context"
	"log/slog"
	"sync"

	"github.com/filipexyz/authpolicy/internal/domain"
)

// Hub manages all active WebSocket clients and fans audit entries out to them.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop and returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			slog.Debug("client registered", "total", h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closeSend()
			}
			h.mu.Unlock()
			slog.Debug("client unregistered", "total", h.ClientCount())

		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.closeSend()
			}
			h.mu.Unlock()
			return
		}
	}
}

// Register adds a client to the hub. It returns false once the hub has stopped;
// the caller must not start the client's pumps then.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		client.closeSend()
		return false
	}
}

// Unregister removes a client; a no-op once the hub has stopped.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast delivers e to every client whose subscription matches.
func (h *Hub) Broadcast(e domain.AuditEntry) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.wants(e) {
			client.sendJSON(NewAuditMessage(e))
		}
	}
}

// PublishAudit lets the hub act as an audit sink when no event bus is configured.
func (h *Hub) PublishAudit(_ context.Context, e domain.AuditEntry) error {
	h.Broadcast(e)
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
