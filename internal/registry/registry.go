// Package registry holds the in-process session state for live relay
// connections. Registries are ephemeral: they are rebuilt from nothing
// on restart and reconnecting clients must re-authenticate.
package registry

import (
	"sync"

	apperrors "github.com/aquaminds/meter-relay-go/internal/errors"
)

// Registry maps a live connection id to its validated identity. A
// connection id holds at most one entry at a time, and an entry lives
// in exactly one registry for the lifetime of the connection.
type Registry[T any] struct {
	mu       sync.RWMutex
	sessions map[string]T
}

func New[T any]() *Registry[T] {
	return &Registry[T]{sessions: make(map[string]T)}
}

// Add registers a connection. One physical connection calls Add
// exactly once; a duplicate id means a transport-layer bug, so the
// call fails rather than silently overwriting.
func (r *Registry[T]) Add(connID string, identity T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[connID]; exists {
		return apperrors.Conflict("connection already registered")
	}
	r.sessions[connID] = identity
	return nil
}

// Get returns the identity registered for a connection.
func (r *Registry[T]) Get(connID string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.sessions[connID]
	if !ok {
		var zero T
		return zero, apperrors.UnknownSession(connID)
	}
	return identity, nil
}

// Delete removes a connection's entry. Removing an absent id is not an
// error, so disconnect cleanup stays idempotent.
func (r *Registry[T]) Delete(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, connID)
}

// Len reports the number of live sessions.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
