// Package conversation keeps per-session chat history in memory so
// follow-up questions can lean on earlier exchanges.
package conversation

import (
	"sync"
	"time"

	"github.com/askany/askany/internal/citation"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a session.
type Turn struct {
	Role    Role                `json:"role"`
	Content string              `json:"content"`
	Sources []citation.Citation `json:"sources,omitempty"`
	At      time.Time           `json:"at"`
}

type session struct {
	mu    sync.Mutex
	turns []Turn
}

// Manager holds all live sessions. Safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*session)}
}

func (m *Manager) session(id string) *session {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s = &session{}
	m.sessions[id] = s
	return s
}

// Append records a turn at the end of the session, creating the session on
// first use.
func (m *Manager) Append(sessionID string, turn Turn) {
	if turn.At.IsZero() {
		turn.At = time.Now()
	}
	s := m.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
}

// History returns a copy of the session's turns oldest first. An unknown
// session yields an empty history.
func (m *Manager) History(sessionID string) []Turn {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.turns...)
}

// Reset drops the session and its history. Resetting an unknown session is
// a no-op.
func (m *Manager) Reset(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Sessions returns the ids of all live sessions in no particular order.
func (m *Manager) Sessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}
