package ddp

import "sync"

// Registry tracks the open sessions of a Server, keyed by session id.
// It is safe for concurrent use by connection goroutines.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Add registers a session and returns the number of registered sessions.
func (r *Registry) Add(s *Session) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
	return len(r.sessions)
}

// Remove unregisters a session. Removing an unknown session is a no-op.
// It returns whether the session was present and the remaining count.
func (r *Registry) Remove(s *Session) (bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.sessions[s.ID()]
	if !ok || current != s {
		return false, len(r.sessions)
	}
	delete(r.sessions, s.ID())
	return true, len(r.sessions)
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns the currently registered sessions in no particular order.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Clear drops every entry and returns the sessions that were registered.
func (r *Registry) Clear() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	return sessions
}
