package playback

import "sync"

// Manager owns the single active session. Sessions are terminal once closed;
// the manager lazily creates a replacement on next use so the control API
// keeps working across close/load cycles.
type Manager struct {
	mu        sync.Mutex
	current   *Session
	construct func() *Session
}

// NewManager creates a session manager. construct builds a fresh session,
// including any state subscriptions.
func NewManager(construct func() *Session) *Manager {
	return &Manager{construct: construct}
}

// Session returns the active session, creating one if none is open
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.isClosed() {
		m.current = m.construct()
	}
	return m.current
}

// Close ends the active session, if any
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	return m.current.Close()
}
