package realtime

import (
	"sort"
	"sync"
)

// Registry records which brewery each connection is watching. A connection
// watches at most one brewery at a time.
type Registry struct {
	mu        sync.RWMutex
	byBrewery map[string]map[string]struct{}
	byConn    map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byBrewery: make(map[string]map[string]struct{}),
		byConn:    make(map[string]string),
	}
}

// Watch subscribes connID to breweryID, dropping any previous subscription.
// It returns the brewery that was replaced, or "".
func (r *Registry) Watch(connID, breweryID string) (previous string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous = r.byConn[connID]
	if previous == breweryID {
		return ""
	}
	if previous != "" {
		r.removeLocked(connID, previous)
	}

	subs, ok := r.byBrewery[breweryID]
	if !ok {
		subs = make(map[string]struct{})
		r.byBrewery[breweryID] = subs
	}
	subs[connID] = struct{}{}
	r.byConn[connID] = breweryID
	return previous
}

// Unwatch drops the subscription when connID is watching breweryID.
func (r *Registry) Unwatch(connID, breweryID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byConn[connID] != breweryID {
		return false
	}
	r.removeLocked(connID, breweryID)
	return true
}

// RemoveConnection drops everything held for connID.
func (r *Registry) RemoveConnection(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.byConn[connID]; ok {
		r.removeLocked(connID, b)
	}
}

func (r *Registry) removeLocked(connID, breweryID string) {
	delete(r.byConn, connID)
	subs := r.byBrewery[breweryID]
	delete(subs, connID)
	if len(subs) == 0 {
		delete(r.byBrewery, breweryID)
	}
}

// SubscribersOf returns a sorted snapshot of the connections watching breweryID.
func (r *Registry) SubscribersOf(breweryID string) []string {
	r.mu.RLock()
	subs := r.byBrewery[breweryID]
	out := make([]string, 0, len(subs))
	for id := range subs {
		out = append(out, id)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// WatchedBy returns the brewery connID watches, or "".
func (r *Registry) WatchedBy(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byConn[connID]
}
