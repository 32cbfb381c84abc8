package collector

import (
	"sync"
	"time"

	"aurora-vm-inspector/internal/model"
)

// Store keeps the latest snapshot of every instance for readers such as the
// exporter and the HTTP API.
type Store struct {
	mu       sync.RWMutex
	byName   map[string]model.InstanceSnapshot
	lastPoll time.Time
	lastErr  error
}

func NewStore() *Store {
	return &Store{byName: map[string]model.InstanceSnapshot{}}
}

// Replace installs the result of one full cycle and reports which instances
// appeared or disappeared since the previous one.
func (s *Store) Replace(snaps []model.InstanceSnapshot, at time.Time) (added, removed []string) {
	next := make(map[string]model.InstanceSnapshot, len(snaps))
	for _, snap := range snaps {
		next[snap.Instance.Name] = snap
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range next {
		if _, ok := s.byName[name]; !ok {
			added = append(added, name)
		}
	}
	for name := range s.byName {
		if _, ok := next[name]; !ok {
			removed = append(removed, name)
		}
	}
	s.byName = next
	s.lastPoll = at
	s.lastErr = nil
	return added, removed
}

// Fail records a failed cycle; previous snapshots stay readable.
func (s *Store) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
}

func (s *Store) Snapshots() []model.InstanceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.InstanceSnapshot, 0, len(s.byName))
	for _, snap := range s.byName {
		out = append(out, snap)
	}
	return model.SortedByName(out)
}

func (s *Store) Get(name string) (model.InstanceSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.byName[name]
	return snap, ok
}

// Status returns when the last successful cycle finished and the error of the
// most recent cycle, if it failed.
func (s *Store) Status() (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPoll, s.lastErr
}
