package cart

import (
	"sync"
	"time"
)

// DefaultIdleTTL is how long an untouched session cart stays in memory.
const DefaultIdleTTL = 2 * time.Hour

// Session bundles the cart state of one browser session.
type Session struct {
	Store *Store
	// Locks is nil unless per-key serialization is enabled.
	Locks *KeyLocker

	lastSeen time.Time
}

// Registry keeps session carts in process memory. Carts are not persisted; a restart or an idle
// eviction means the next request reloads from the storefront API.
type Registry struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	ttl       time.Duration
	serialize bool
	now       func() time.Time
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithIdleTTL overrides the idle eviction window.
func WithIdleTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithSerializedMutations gives each session a KeyLocker.
func WithSerializedMutations(enabled bool) RegistryOption {
	return func(r *Registry) { r.serialize = enabled }
}

// WithClock overrides the registry clock.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		ttl:      DefaultIdleTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the cart session for id, creating it on first use.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	sess, ok := r.sessions[id]
	if !ok || now.Sub(sess.lastSeen) >= r.ttl {
		sess = &Session{Store: NewStore()}
		if r.serialize {
			sess.Locks = NewKeyLocker()
		}
		r.sessions[id] = sess
	}
	sess.lastSeen = now
	return sess
}

// Drop forgets the cart of a session, e.g. on logout.
func (r *Registry) Drop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[id]; ok {
		sess.Store.Reset()
		delete(r.sessions, id)
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts sessions idle for at least the TTL and returns how many were removed.
func (r *Registry) Sweep(now time.Time) int {
	now = now.UTC()
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, sess := range r.sessions {
		if now.Sub(sess.lastSeen) < r.ttl {
			continue
		}
		delete(r.sessions, id)
		removed++
	}
	return removed
}
