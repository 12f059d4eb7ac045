package profile

import (
	"sync"
	"time"

	"github.com/hed1ad/safestride/pkg/detectors"
)

// Store is the in-memory registry of user profiles. Profiles live until
// deleted; listing follows insertion order.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	order    []string

	factory detectors.Factory
	now     func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source used for created_at.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an empty store whose profiles get detectors from factory.
func NewStore(factory detectors.Factory, opts ...StoreOption) *Store {
	s := &Store{
		profiles: make(map[string]*Profile),
		factory:  factory,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns the profile for id, creating it if absent.
// created reports whether this call made the profile.
func (s *Store) GetOrCreate(id string) (p *Profile, created bool) {
	s.mu.RLock()
	p, ok := s.profiles[id]
	s.mu.RUnlock()
	if ok {
		return p, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double check after acquiring write lock
	if p, ok := s.profiles[id]; ok {
		return p, false
	}
	p = newProfile(id, s.factory, s.now())
	s.profiles[id] = p
	s.order = append(s.order, id)
	return p, true
}

// Get returns the profile for id without creating it.
func (s *Store) Get(id string) (*Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	return p, ok
}

// Delete removes id and reports whether it existed. An analysis already
// holding the profile finishes first.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	p, ok := s.profiles[id]
	if ok {
		delete(s.profiles, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if ok {
		p.markDeleted()
	}
	return ok
}

// List returns the live profiles in insertion order.
func (s *Store) List() []*Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Profile, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.profiles[id])
	}
	return out
}

// Len returns the number of live profiles.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}
