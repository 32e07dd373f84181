package socketserver

import (
	"net"
	"sync"

	"github.com/codefionn/guise/internal/logger"
)

// Hub maintains the set of open connections across all listeners
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*trackedConn
}

type trackedConn struct {
	listener string
	conn     net.Conn
}

// NewHub creates a new hub
func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]*trackedConn),
	}
}

// Register adds a connection to the hub
func (h *Hub) Register(id, listener string, conn net.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[id] = &trackedConn{listener: listener, conn: conn}
	logger.Debug("Connection registered: %s on %s (total: %d)", id, listener, len(h.conns))
}

// Unregister removes a connection from the hub
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[id]; ok {
		delete(h.conns, id)
		logger.Debug("Connection unregistered: %s (total: %d)", id, len(h.conns))
	}
}

// Count returns the number of open connections
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CountOn returns the number of open connections accepted by one listener
func (h *Hub) CountOn(listener string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, c := range h.conns {
		if c.listener == listener {
			n++
		}
	}
	return n
}

// CloseOn closes every open connection accepted by one listener
func (h *Hub) CloseOn(listener string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, c := range h.conns {
		if c.listener != listener {
			continue
		}
		if err := c.conn.Close(); err != nil {
			logger.Debug("Error closing connection %s: %v", id, err)
		}
	}
}
