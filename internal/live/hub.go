// Package live pushes session projections to WebSocket clients and accepts
// session commands from them.
package live

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Hub tracks the open WebSocket connections of a session.
type Hub struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		active: make(map[string]*websocket.Conn),
		logger: logger,
	}
}

// Register adds a connection under connID.
func (h *Hub) Register(connID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, exists := h.active[connID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "connection replaced")
	}
	h.active[connID] = conn
	h.logger.Info("Live connection registered", "conn_id", connID, "active", len(h.active))
}

// Unregister removes conn if it is still the one registered under connID.
func (h *Hub) Unregister(connID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, exists := h.active[connID]; exists && current == conn {
		delete(h.active, connID)
		h.logger.Info("Live connection unregistered", "conn_id", connID, "active", len(h.active))
	}
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active)
}

// CloseAll closes every connection, for use during shutdown.
func (h *Hub) CloseAll(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, conn := range h.active {
		_ = conn.Close(websocket.StatusGoingAway, reason)
		delete(h.active, id)
	}
	h.logger.Info("Live connections closed", "reason", reason)
}
