package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Hub tracks the live websocket clients so they can be closed on shutdown.
// Routing between clients is the engine's job.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	mu sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
	}
}

func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every client and waits for their pumps until ctx expires.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	slog.Info("Closing websocket clients", "count", len(clients))

	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	for _, c := range clients {
		c.Close()
	}
	for _, c := range clients {
		if !c.Wait(timeout) {
			return
		}
	}
}
