package api

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/skald-ai/skald/internal/agent"
)

// Hub broadcasts agent lifecycle events to connected WebSocket clients.
// Broadcast is non-blocking: a client that cannot keep up misses events
// rather than stalling the agent loop.
type Hub struct {
	mu       sync.RWMutex
	clients  map[chan agent.Event]struct{}
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHub creates an event hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[chan agent.Event]struct{}),
		upgrader: websocket.Upgrader{
			// The browser UI is served from a different origin during
			// development; the daemon binds to loopback.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Listener adapts the hub to the agent loop's callback.
func (h *Hub) Listener() agent.Listener {
	return func(ev agent.Event) { h.Broadcast(ev) }
}

// Broadcast delivers ev to every connected client. Safe to call on a
// nil hub (no-op).
func (h *Hub) Broadcast(ev agent.Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
			// Client is full, drop the event rather than block.
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register() chan agent.Event {
	ch := make(chan agent.Event, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unregister(ch chan agent.Event) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// handleEvents upgrades the connection and streams events until the
// client disconnects.
func (h *Hub) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := h.register()
	defer h.unregister(ch)

	h.logger.Debug("event feed client connected", "remote", r.RemoteAddr)

	// Drain incoming frames so pings and close frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-ch:
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("event feed write failed", "error", err)
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
