package reconcile

import (
	"sync"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/domain"
)

// Store holds the authoritative telemetry map. Every mutation swaps in a
// new map, so snapshots handed out earlier are never modified.
type Store struct {
	mu    sync.RWMutex
	state map[string]domain.Telemetry
}

func NewStore() *Store {
	return &Store{state: map[string]domain.Telemetry{}}
}

// Seed replaces the whole state, typically after the initial REST load.
func (s *Store) Seed(state map[string]domain.Telemetry) {
	next := make(map[string]domain.Telemetry, len(state))
	for id, t := range state {
		next[id] = Trim(t)
	}
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

// Replace swaps the entry for one sensor wholesale, as after a detail
// re-fetch. Unlike Apply it also adds sensors that are not yet known.
func (s *Store) Replace(id string, t domain.Telemetry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]domain.Telemetry, len(s.state)+1)
	for k, v := range s.state {
		next[k] = v
	}
	next[id] = Trim(t)
	s.state = next
}

// Apply reconciles one event and reports whether the state changed.
func (s *Store) Apply(ev domain.UpdateEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, changed := apply(s.state, ev)
	s.state = next
	return changed
}

func (s *Store) Get(id string) (domain.Telemetry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.state[id]
	return t, ok
}

// Snapshot returns the current map. Callers must treat it as read-only.
func (s *Store) Snapshot() map[string]domain.Telemetry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state)
}
