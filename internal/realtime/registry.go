package realtime

import (
	"sort"
	"sync"
)

// Client is the minimal surface the registry and router need to talk to one
// live connection. The websocket session implements it; tests substitute
// in-memory fakes.
type Client interface {
	UserID() string
	Name() string
	Push(event string, payload any) error
	Close() error
}

// Registry is the in-memory index of connected users. It maps a user ID to
// at most one authoritative client (last-connect-wins) and is the only
// shared mutable state of the real-time subsystem. It is purely a routing
// index: message durability never depends on it.
//
// All methods are safe for concurrent use from many connection lifecycles.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Client
}

// NewRegistry returns an empty registry. One registry is constructed at
// service startup and injected into the gateway, broadcaster, and router;
// tests build a fresh one per case.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]Client)}
}

// Register records c as the authoritative client for userID, replacing any
// prior mapping. The replaced client is returned so the caller (the
// transport layer) can close it; the registry itself never closes handles.
func (r *Registry) Register(userID string, c Client) (replaced Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	replaced = r.sessions[userID]
	r.sessions[userID] = c
	return replaced
}

// Unregister removes the mapping for userID. When owner is non-nil the
// mapping is only removed if owner is still the registered client, which
// keeps an out-of-order disconnect of a stale connection from evicting its
// replacement. A nil owner removes unconditionally. Absent mappings are a
// no-op.
func (r *Registry) Unregister(userID string, owner Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[userID]
	if !ok {
		return
	}
	if owner != nil && cur != owner {
		return
	}
	delete(r.sessions, userID)
}

// Lookup returns the client registered for userID. Absence is a normal
// outcome (user offline), not an error.
func (r *Registry) Lookup(userID string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.sessions[userID]
	return c, ok
}

// Snapshot returns the sorted set of currently registered user IDs.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Each invokes fn for every registered client. The registry lock is not held
// during fn, so a slow client write cannot block registration; the client
// slice is captured first.
func (r *Registry) Each(fn func(Client)) {
	r.mu.RLock()
	clients := make([]Client, 0, len(r.sessions))
	for _, c := range r.sessions {
		clients = append(clients, c)
	}
	r.mu.RUnlock()
	for _, c := range clients {
		fn(c)
	}
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
