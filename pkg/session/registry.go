package session

import (
	"sync"
	"time"
)

const (
	// registryCapacity bounds the in-memory session list.
	registryCapacity = 20

	// resultRetention is how long an unattached session's bytes stay
	// downloadable after it completes.
	resultRetention = 15 * time.Minute
)

// Registry keeps the last N sessions addressable by id for the status,
// download, and sessions endpoints. Results of sessions without a project
// are evicted after the retention window; persisted assets are unaffected.
type Registry struct {
	mu       sync.Mutex
	order    []*Session
	byID     map[string]*Session
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// NewRegistry creates a registry with the standard capacity and retention.
func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[string]*Session),
		capacity: registryCapacity,
		ttl:      resultRetention,
		now:      time.Now,
	}
}

// Add registers a session, evicting the oldest past capacity.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, s)
	r.byID[s.ID()] = s
	for len(r.order) > r.capacity {
		evicted := r.order[0]
		r.order = r.order[1:]
		delete(r.byID, evicted.ID())
	}
}

// Get returns a registered session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.evictExpired()
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	return s, ok
}

// Snapshots returns the registered sessions, newest first.
func (r *Registry) Snapshots() []Snapshot {
	r.evictExpired()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		out = append(out, r.order[i].Snapshot())
	}
	return out
}

// evictExpired drops retained result bytes of unattached sessions whose
// retention window has passed. The sessions themselves stay listed.
func (r *Registry) evictExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.ttl)
	for _, s := range r.order {
		if s.ProjectID() != "" {
			continue
		}
		snap := s.Snapshot()
		if snap.CompletedAt != nil && snap.CompletedAt.Before(cutoff) {
			s.evictResult()
		}
	}
}
