package mcp

import "sync"

// SessionRegistry maps thread ids to MCP session IDs.
// Populated when a session starts or resumes a thread, so progress
// notifications reach the session driving it.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // threadID → sessionID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates a thread ID with a session ID.
// If the thread already has a session, it is overwritten (reconnect).
func (r *SessionRegistry) Register(threadID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[threadID] = sessionID
}

// SessionFor returns the session ID driving the given thread, if any.
func (r *SessionRegistry) SessionFor(threadID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[threadID]
	return sid, ok
}

// Remove deletes all thread mappings for the given session ID.
// Called when a session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for tid, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, tid)
		}
	}
}
