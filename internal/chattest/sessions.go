package chattest

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// sessions tracks the live connection of every client id.
type sessions struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn
}

func newSessions() *sessions {
	return &sessions{active: make(map[string]*websocket.Conn)}
}

func (m *sessions) get(clientID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[clientID]
}

func (m *sessions) all() []*websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conns := make([]*websocket.Conn, 0, len(m.active))
	for _, c := range m.active {
		conns = append(conns, c)
	}
	return conns
}

// register stores conn for clientID, replacing and closing any previous connection.
func (m *sessions) register(clientID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.active[clientID]; ok && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	m.active[clientID] = conn
	slog.Debug("Test chat client registered", "client_id", clientID)
}

func (m *sessions) unregister(clientID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[clientID]; ok && current == conn {
		delete(m.active, clientID)
		slog.Debug("Test chat client unregistered", "client_id", clientID)
	}
}

// dropAll closes every connection without a close handshake.
func (m *sessions) dropAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, conn := range m.active {
		_ = conn.CloseNow()
		delete(m.active, id)
	}
}
