package registry

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyStreams means the user already holds the maximum number of
// concurrent stream connections.
var ErrTooManyStreams = errors.New("too many concurrent streams for user")

// Registry tracks active stream connections per user so the gateway can cap
// them. Entries expire unless refreshed by Heartbeat, so a crashed relay
// never leaks a slot forever.
type Registry interface {
	Acquire(ctx context.Context, userID, connID string) error
	Heartbeat(ctx context.Context, userID, connID string) error
	Release(ctx context.Context, userID, connID string) error
}

// MemoryRegistry is a process-local Registry for single-instance deployments
// and tests.
type MemoryRegistry struct {
	maxPerUser int
	ttl        time.Duration

	mu    sync.Mutex
	slots map[string]map[string]time.Time
}

func NewMemoryRegistry(maxPerUser int, ttl time.Duration) *MemoryRegistry {
	return &MemoryRegistry{
		maxPerUser: maxPerUser,
		ttl:        ttl,
		slots:      make(map[string]map[string]time.Time),
	}
}

func (r *MemoryRegistry) Acquire(_ context.Context, userID, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked(userID)

	conns := r.slots[userID]
	if len(conns) >= r.maxPerUser {
		return ErrTooManyStreams
	}
	if conns == nil {
		conns = make(map[string]time.Time)
		r.slots[userID] = conns
	}
	conns[connID] = time.Now().Add(r.ttl)
	return nil
}

func (r *MemoryRegistry) Heartbeat(_ context.Context, userID, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conns, ok := r.slots[userID]; ok {
		if _, ok := conns[connID]; ok {
			conns[connID] = time.Now().Add(r.ttl)
		}
	}
	return nil
}

func (r *MemoryRegistry) Release(_ context.Context, userID, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conns, ok := r.slots[userID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.slots, userID)
		}
	}
	return nil
}

// pruneLocked drops expired slots for one user. Callers hold r.mu.
func (r *MemoryRegistry) pruneLocked(userID string) {
	now := time.Now()
	for connID, deadline := range r.slots[userID] {
		if deadline.Before(now) {
			delete(r.slots[userID], connID)
		}
	}
}
