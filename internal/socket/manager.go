// Package socket carries dialogue events over WebSocket connections.
package socket

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ConnManager tracks open WebSocket connections per user.
type ConnManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewConnManager creates an empty connection manager.
func NewConnManager() *ConnManager {
	return &ConnManager{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Get returns the connection registered under userID and connID.
func (m *ConnManager) Get(userID, connID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if conns, ok := m.active[userID]; ok {
		return conns[connID]
	}
	return nil
}

// Register adds a connection for a user. Anonymous connections use an empty userID.
func (m *ConnManager) Register(userID, connID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]*websocket.Conn)
	}
	m.active[userID][connID] = conn
	slog.Info("WebSocket connection registered", "user_id", userID, "conn_id", connID)
}

// Unregister removes a connection if it is still the one registered.
func (m *ConnManager) Unregister(userID, connID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conns, ok := m.active[userID]; ok {
		if current, exists := conns[connID]; exists && current == conn {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(m.active, userID)
			}
			slog.Info("WebSocket connection unregistered", "user_id", userID, "conn_id", connID)
		}
	}
}

// Count returns the number of open connections.
func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, conns := range m.active {
		n += len(conns)
	}
	return n
}

// CloseAll closes every open connection, typically during shutdown.
func (m *ConnManager) CloseAll(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for userID, conns := range m.active {
		for connID, conn := range conns {
			_ = conn.Close(websocket.StatusGoingAway, reason)
			slog.Info("WebSocket connection closed", "user_id", userID, "conn_id", connID)
		}
	}
	m.active = make(map[string]map[string]*websocket.Conn)
}
