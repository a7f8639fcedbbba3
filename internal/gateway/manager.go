// ABOUTME: Tracks live websocket connections and coordinates shutdown.
// ABOUTME: Central registry of Connection instances keyed by connection ID.

package gateway

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrConnectionAlreadyRegistered indicates a connection with the same ID is already tracked.
var ErrConnectionAlreadyRegistered = errors.New("connection already registered")

// Manager tracks all live gateway connections.
type Manager struct {
	conns  map[string]*Connection
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewManager creates a new Manager instance.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		conns:  make(map[string]*Connection),
		logger: logger,
	}
}

// Register adds a new connection to the manager.
// Returns ErrConnectionAlreadyRegistered if the ID is already tracked.
func (m *Manager) Register(conn *Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conns[conn.ID]; exists {
		return ErrConnectionAlreadyRegistered
	}

	m.conns[conn.ID] = conn
	m.logger.Info("connection registered",
		"connection_id", conn.ID,
		"total_connections", len(m.conns),
	)
	return nil
}

// Unregister removes a connection from the manager.
func (m *Manager) Unregister(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conns[connID]; exists {
		delete(m.conns, connID)
		m.logger.Info("connection unregistered",
			"connection_id", connID,
			"total_connections", len(m.conns),
		)
	}
}

// Get returns the connection with the given ID.
func (m *Manager) Get(connID string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[connID]
	return conn, ok
}

// Count returns the number of live connections.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// CloseAll tears down every live connection. Used during server shutdown.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
}
