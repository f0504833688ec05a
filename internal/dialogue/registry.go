package dialogue

import (
	"sync"

	"github.com/ashureev/sparkpath/internal/domain"
)

// Registry maps a connection ID to at most one live session.
// Sessions are never expired; they end on a terminal outcome or disconnect.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create starts a fresh session for connID, replacing any existing one.
func (r *Registry) Create(connID string, kind domain.SessionKind, userID, courseID string) *Session {
	s := newSession(kind, userID, courseID)
	r.mu.Lock()
	r.sessions[connID] = s
	r.mu.Unlock()
	return s.clone()
}

// Get returns a copy of the session for connID. Mutating the copy has no
// effect until it is committed with Put.
func (r *Registry) Get(connID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connID]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// Put commits a session for connID.
func (r *Registry) Put(connID string, s *Session) {
	r.mu.Lock()
	r.sessions[connID] = s.clone()
	r.mu.Unlock()
}

// Delete removes any session for connID and returns it.
func (r *Registry) Delete(connID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connID]
	delete(r.sessions, connID)
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
