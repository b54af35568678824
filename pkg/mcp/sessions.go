package mcp

import "sync"

// SessionRegistry maps run session IDs to the MCP client session that
// started the run.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // run session → client session
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates a run with a client session.
func (r *SessionRegistry) Register(runID, clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[runID] = clientID
}

// ClientFor returns the client session of a run, if still connected.
func (r *SessionRegistry) ClientFor(runID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cid, ok := r.sessions[runID]
	return cid, ok
}

// Forget drops a finished run.
func (r *SessionRegistry) Forget(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, runID)
}

// RemoveClient deletes every run mapped to a disconnected client.
func (r *SessionRegistry) RemoveClient(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for rid, cid := range r.sessions {
		if cid == clientID {
			delete(r.sessions, rid)
		}
	}
}
