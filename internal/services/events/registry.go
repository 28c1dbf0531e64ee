package events

import (
	"sync"

	"github.com/ternarybob/agentstream/internal/interfaces"
	"github.com/ternarybob/agentstream/internal/metrics"
)

// Registry owns subscriber membership: one global set and one set per session.
// A connection may sit in the global set and in at most one session set at a time.
// All mutations hold the write lock for a single map operation; snapshots copy
// under the read lock so callers can send without holding it.
type Registry struct {
	mu       sync.RWMutex
	global   map[interfaces.Connection]struct{}
	sessions map[string]map[interfaces.Connection]struct{}
	scope    map[interfaces.Connection]string // conn -> session it is subscribed to
}

// NewRegistry creates an empty subscriber registry
func NewRegistry() *Registry {
	return &Registry{
		global:   make(map[interfaces.Connection]struct{}),
		sessions: make(map[string]map[interfaces.Connection]struct{}),
		scope:    make(map[interfaces.Connection]string),
	}
}

// AddGlobal subscribes a connection to every event
func (r *Registry) AddGlobal(conn interfaces.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.global[conn] = struct{}{}
	r.report()
}

// RemoveGlobal unsubscribes a connection from the global feed
func (r *Registry) RemoveGlobal(conn interfaces.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.global, conn)
	r.report()
}

// AddToSession subscribes a connection to one session's events.
// The session set is created on first add. A connection already scoped to a
// different session is moved.
func (r *Registry) AddToSession(sessionID string, conn interfaces.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.scope[conn]; ok && prev != sessionID {
		r.removeFromSessionLocked(prev, conn)
	}

	set, ok := r.sessions[sessionID]
	if !ok {
		set = make(map[interfaces.Connection]struct{})
		r.sessions[sessionID] = set
	}
	set[conn] = struct{}{}
	r.scope[conn] = sessionID
	r.report()
}

// RemoveFromSession unsubscribes a connection from a session.
// The session key is deleted when its set becomes empty.
func (r *Registry) RemoveFromSession(sessionID string, conn interfaces.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeFromSessionLocked(sessionID, conn)
	r.report()
}

// Remove drops a connection from every set it belongs to
func (r *Registry) Remove(conn interfaces.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.global, conn)
	if sessionID, ok := r.scope[conn]; ok {
		r.removeFromSessionLocked(sessionID, conn)
	}
	r.report()
}

func (r *Registry) removeFromSessionLocked(sessionID string, conn interfaces.Connection) {
	set, ok := r.sessions[sessionID]
	if !ok {
		return
	}

	delete(set, conn)
	if r.scope[conn] == sessionID {
		delete(r.scope, conn)
	}
	if len(set) == 0 {
		delete(r.sessions, sessionID)
	}
}

// GlobalSnapshot returns a point-in-time copy of the global set
func (r *Registry) GlobalSnapshot() []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return copySet(r.global)
}

// SessionSnapshot returns a point-in-time copy of a session's set (nil if none)
func (r *Registry) SessionSnapshot(sessionID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	return copySet(set)
}

// Audience returns the deduplicated union of the global set and, when sessionID
// is not empty, that session's set. Both sets are read under one lock.
func (r *Registry) Audience(sessionID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	audience := copySet(r.global)
	if sessionID == "" {
		return audience
	}

	for conn := range r.sessions[sessionID] {
		if _, dup := r.global[conn]; dup {
			continue
		}
		audience = append(audience, conn)
	}
	return audience
}

// HasSession reports whether a session currently has any subscribers
func (r *Registry) HasSession(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.sessions[sessionID]
	return ok
}

// Counts returns the global set size and the number of sessions with subscribers
func (r *Registry) Counts() (global int, sessions int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.global), len(r.sessions)
}

// report must be called with the lock held
func (r *Registry) report() {
	metrics.SetRegistrySize(len(r.global), len(r.sessions))
}

func copySet(set map[interfaces.Connection]struct{}) []interfaces.Connection {
	out := make([]interfaces.Connection, 0, len(set))
	for conn := range set {
		out = append(out, conn)
	}
	return out
}
