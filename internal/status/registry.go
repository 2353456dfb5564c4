// Package status exposes running capture sessions over HTTP.
package status

import (
	"slices"
	"strings"
	"sync"

	"showroom-recorder/internal/capture"
	"showroom-recorder/internal/platform/metrics"
)

// Registry is a concurrency-safe index of running sessions keyed by room.
// A room has at most one running session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*capture.Session
	metrics  *metrics.Metrics
}

// NewRegistry returns an empty registry. m may be nil.
func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{sessions: make(map[string]*capture.Session), metrics: m}
}

// Track records s as the running session of its room, replacing any
// previous entry.
func (r *Registry) Track(s *capture.Session) {
	r.mu.Lock()
	r.sessions[s.Owner()] = s
	n := len(r.sessions)
	r.mu.Unlock()
	r.metrics.SetActiveSessions(n)
}

// Untrack removes s. A newer session for the same room is left in place.
func (r *Registry) Untrack(s *capture.Session) {
	r.mu.Lock()
	if cur, ok := r.sessions[s.Owner()]; ok && cur.ID() == s.ID() {
		delete(r.sessions, s.Owner())
	}
	n := len(r.sessions)
	r.mu.Unlock()
	r.metrics.SetActiveSessions(n)
}

// Get returns the session tracked for room.
func (r *Registry) Get(room string) (*capture.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[room]
	return s, ok
}

// Len is the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns the status of every tracked session ordered by room.
func (r *Registry) Snapshot() []capture.Status {
	r.mu.RLock()
	list := make([]*capture.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.RUnlock()

	out := make([]capture.Status, 0, len(list))
	for _, s := range list {
		out = append(out, s.Status())
	}
	slices.SortFunc(out, func(a, b capture.Status) int { return strings.Compare(a.Owner, b.Owner) })
	return out
}
