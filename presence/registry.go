package presence

import (
	"sort"
	"sync"
)

// Registry maps an authenticated identity to the handles of its open
// connections. A single lock covers the whole map so that creating and
// pruning an entry is atomic with the emptiness check.
//
// Invariant: every identity present in byUser has at least one handle.
type Registry struct {
	mu     sync.Mutex
	byUser map[string]map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byUser: make(map[string]map[string]struct{})}
}

// Add registers handle under userID. Adding the same pair twice is a no-op.
func (r *Registry) Add(userID, handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	handles := r.byUser[userID]
	if handles == nil {
		handles = make(map[string]struct{}, 1)
		r.byUser[userID] = handles
	}
	handles[handle] = struct{}{}
}

// Remove unregisters handle from userID and drops the identity once its last
// handle is gone. Removing an unknown pair is a no-op.
func (r *Registry) Remove(userID, handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	handles, ok := r.byUser[userID]
	if !ok {
		return
	}
	delete(handles, handle)
	if len(handles) == 0 {
		delete(r.byUser, userID)
	}
}

// ConnectionsOf returns a sorted snapshot of the handles owned by userID.
// The result is never nil.
func (r *Registry) ConnectionsOf(userID string) []string {
	r.mu.Lock()
	handles := r.byUser[userID]
	out := make([]string, 0, len(handles))
	for h := range handles {
		out = append(out, h)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

// Identities returns the number of identities with at least one connection.
func (r *Registry) Identities() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser)
}

// Connections returns the total number of registered handles.
func (r *Registry) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, handles := range r.byUser {
		n += len(handles)
	}
	return n
}
