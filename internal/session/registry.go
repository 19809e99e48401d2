package session

import (
	"sync"

	"chatroom/internal/domain"
)

// Registry maps each online identity to the one connection currently bound to
// it. It is process-local and starts empty.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.UserID]domain.ConnID
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.UserID]domain.ConnID)}
}

// Bind points identity at connID, replacing any earlier binding.
func (r *Registry) Bind(id domain.UserID, connID domain.ConnID) {
	r.mu.Lock()
	r.conns[id] = connID
	r.mu.Unlock()
}

func (r *Registry) Lookup(id domain.UserID) (domain.ConnID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// UnbindIfCurrent removes the binding only while it still points at connID.
func (r *Registry) UnbindIfCurrent(id domain.UserID, connID domain.ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[id]; ok && cur == connID {
		delete(r.conns, id)
		return true
	}
	return false
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
