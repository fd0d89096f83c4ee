package internal

import (
	"sort"
	"sync"
)

// Registry tracks which connections belong to which user. A user is online
// while at least one live connection is registered for them; the entry is
// deleted outright when the last connection goes away so Snapshot never
// reports ghosts.
type Registry struct {
	mu    sync.Mutex
	conns map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]map[string]struct{})}
}

// AddConnection records connID for userID and reports whether this was the
// transition from offline to online (first connection for the user).
func (r *Registry) AddConnection(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		r.conns[userID] = set
	}
	set[connID] = struct{}{}
	return !ok
}

// RemoveConnection drops connID for userID and reports whether the user went
// offline (last connection removed). Removing an unknown pair is a no-op.
func (r *Registry) RemoveConnection(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[userID]
	if !ok {
		return false
	}
	if _, ok := set[connID]; !ok {
		return false
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.conns, userID)
		return true
	}
	return false
}

// IsOnline reports whether userID has at least one registered connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns[userID]) > 0
}

// Snapshot returns the set of currently-online user IDs, sorted for stable
// wire payloads.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := make([]string, 0, len(r.conns))
	for userID := range r.conns {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// OnlineCount returns the number of distinct online users.
func (r *Registry) OnlineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
