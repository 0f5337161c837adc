package ws

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/wagate/internal/event"
	"github.com/antoniostano/wagate/internal/observability"
)

// Manager holds one Hub per session id.
type Manager struct {
	opts    Options
	metrics *observability.Metrics

	mu   sync.Mutex
	hubs map[string]*Hub
}

func NewManager(opts Options, metrics *observability.Metrics) *Manager {
	return &Manager{
		opts:    opts.withDefaults(),
		metrics: metrics,
		hubs:    make(map[string]*Hub),
	}
}

// Ensure creates the hub entry for a session id if one does not exist yet.
// Idempotent, so session creation and restart can both call it without
// duplicating or leaking the entry.
func (m *Manager) Ensure(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hubs[sessionID]; !ok {
		m.hubs[sessionID] = newHub(sessionID, m.opts, m.metrics)
	}
}

// Upgrade adopts an already-upgraded connection as a subscriber of
// sessionID. When no hub entry exists the connection is closed immediately:
// at the transport level a missing session is indistinguishable from a
// refused upgrade.
func (m *Manager) Upgrade(sessionID string, conn *websocket.Conn) bool {
	m.mu.Lock()
	hub := m.hubs[sessionID]
	m.mu.Unlock()

	if hub == nil {
		_ = conn.Close()
		return false
	}
	return hub.join(conn)
}

// Broadcast sends the envelope to every subscriber of the session id. A
// missing hub entry is a no-op.
func (m *Manager) Broadcast(sessionID string, env event.Envelope) {
	m.mu.Lock()
	hub := m.hubs[sessionID]
	m.mu.Unlock()

	if hub != nil {
		hub.broadcast(env)
	}
}

// Close terminates every subscriber of the session id, removes the entry,
// and returns only once all connections have confirmed shutdown.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	hub := m.hubs[sessionID]
	delete(m.hubs, sessionID)
	m.mu.Unlock()

	if hub != nil {
		hub.close()
	}
}

// CloseAll tears down every hub. Used on process shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	hubs := make([]*Hub, 0, len(m.hubs))
	for _, hub := range m.hubs {
		hubs = append(hubs, hub)
	}
	m.hubs = make(map[string]*Hub)
	m.mu.Unlock()

	for _, hub := range hubs {
		hub.close()
	}
}

// ConnectionCount reports the number of live subscribers for a session id.
func (m *Manager) ConnectionCount(sessionID string) int {
	m.mu.Lock()
	hub := m.hubs[sessionID]
	m.mu.Unlock()

	if hub == nil {
		return 0
	}
	return hub.connectionCount()
}
