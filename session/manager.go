package session

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager maintains the registry of authenticated sessions, one per account.
type Manager struct {
	mu       sync.RWMutex
	sessions map[int64]*Session // accountID → session
	logger   *zap.Logger
}

// NewManager creates a new Manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		sessions: make(map[int64]*Session),
		logger:   logger,
	}
}

// Register adds an authenticated session. A previous session of the same
// account is closed first (duplicate login / reconnect).
func (m *Manager) Register(s *Session) {
	id := s.AccountID()
	if id == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.sessions[id]; ok && old != s {
		old.Close()
		m.logger.Info("duplicate session displaced", zap.Int64("account_id", id))
	}
	m.sessions[id] = s
	m.logger.Info("account session registered", zap.Int64("account_id", id))
}

// Unregister removes s. A newer session of the same account is left alone.
func (m *Manager) Unregister(s *Session) {
	id := s.AccountID()
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[id]; ok && cur == s {
		delete(m.sessions, id)
		m.logger.Info("account session unregistered", zap.Int64("account_id", id))
	}
}

// Get returns the session of accountID, or nil.
func (m *Manager) Get(accountID int64) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[accountID]
}

// IsOnline reports whether an account is currently connected.
func (m *Manager) IsOnline(accountID int64) bool {
	return m.Get(accountID) != nil
}

// Count returns the number of connected accounts.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Kick sends pkt (if any) to the account's session and closes it.
// Returns false when the account is not connected.
func (m *Manager) Kick(accountID int64, pkt *Packet) bool {
	m.mu.Lock()
	s, ok := m.sessions[accountID]
	if ok {
		delete(m.sessions, accountID)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	if pkt != nil {
		s.Send(pkt)
	}
	s.Close()
	m.logger.Info("account session kicked", zap.Int64("account_id", accountID))
	return true
}

// CloseAllSessions closes every session and waits up to 10s for their read
// loops to unregister.
func (m *Manager) CloseAllSessions() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	m.logger.Info("closing all sessions", zap.Int("count", len(sessions)))
	for _, s := range sessions {
		s.Close()
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if m.Count() == 0 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}
