// Package profile holds per-user behavior baselines and their detectors.
package profile

import (
	"sync"
	"time"

	"github.com/hed1ad/safestride/pkg/detectors"
)

// Signal identifies one of the behavior signals tracked per user.
type Signal int

const (
	SignalTyping Signal = iota
	SignalMouse
	SignalScroll

	numSignals
)

// Signals lists every tracked signal in scoring order.
var Signals = [numSignals]Signal{SignalTyping, SignalMouse, SignalScroll}

// Observation holds one value per signal, indexed by Signal.
type Observation [numSignals]float64

func (s Signal) String() string {
	switch s {
	case SignalTyping:
		return "typing"
	case SignalMouse:
		return "mouse"
	case SignalScroll:
		return "scroll"
	default:
		return "unknown"
	}
}

// State is the lifecycle stage of a profile.
type State int

const (
	StateNew State = iota
	StateWarming
	StateActive
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateWarming:
		return "warming"
	case StateActive:
		return "active"
	case StateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Profile is one user's baseline: a history and a detector per signal.
//
// Profile implements sync.Locker. Methods documented as requiring the lock
// must only be called between Lock and Unlock; Summary and Detail lock
// internally.
type Profile struct {
	mu sync.Mutex

	id          string
	detectors   [numSignals]detectors.SignalDetector
	histories   [numSignals]*History
	createdAt   time.Time
	lastUpdated time.Time
	deleted     bool
}

func newProfile(id string, factory detectors.Factory, now time.Time) *Profile {
	p := &Profile{
		id:          id,
		createdAt:   now,
		lastUpdated: now,
	}
	for _, s := range Signals {
		p.detectors[s] = factory()
		p.histories[s] = NewHistory(WindowSize)
	}
	return p
}

// Lock acquires the profile for mutation.
func (p *Profile) Lock() { p.mu.Lock() }

// Unlock releases the profile.
func (p *Profile) Unlock() { p.mu.Unlock() }

// ID returns the user id. It never changes and needs no lock.
func (p *Profile) ID() string {
	return p.id
}

// Append records one observation per signal. Requires the lock.
func (p *Profile) Append(obs Observation) {
	for _, s := range Signals {
		p.histories[s].Append(obs[s])
	}
}

// History returns the window for s. Requires the lock.
func (p *Profile) History(s Signal) *History {
	return p.histories[s]
}

// Detector returns the detector for s. Requires the lock.
func (p *Profile) Detector(s Signal) detectors.SignalDetector {
	return p.detectors[s]
}

// DataPoints is the typing history length, which all histories share.
// Requires the lock.
func (p *Profile) DataPoints() int {
	return p.histories[SignalTyping].Len()
}

// Touch advances last_updated to now, never moving it backwards.
// Requires the lock.
func (p *Profile) Touch(now time.Time) time.Time {
	if now.After(p.lastUpdated) {
		p.lastUpdated = now
	}
	return p.lastUpdated
}

// Deleted reports whether the profile was removed from its store.
// Requires the lock.
func (p *Profile) Deleted() bool {
	return p.deleted
}

// State reports the lifecycle stage. Requires the lock.
func (p *Profile) State() State {
	switch n := p.DataPoints(); {
	case p.deleted:
		return StateDeleted
	case n == 0:
		return StateNew
	case p.detectors[SignalTyping].Trained():
		return StateActive
	default:
		return StateWarming
	}
}

func (p *Profile) markDeleted() {
	p.mu.Lock()
	p.deleted = true
	p.mu.Unlock()
}

// Summary is the listing view of a profile.
type Summary struct {
	UserID      string    `json:"user_id"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
	DataPoints  int       `json:"data_points"`
	State       string    `json:"state"`
}

// Detail extends Summary with per-signal baseline statistics.
type Detail struct {
	Summary
	Baseline map[string]Stats `json:"baseline_stats"`
}

// Summary returns a consistent snapshot of the profile.
func (p *Profile) Summary() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.summary()
}

// Detail returns a consistent snapshot including baseline statistics.
func (p *Profile) Detail() Detail {
	p.mu.Lock()
	defer p.mu.Unlock()

	d := Detail{
		Summary:  p.summary(),
		Baseline: make(map[string]Stats, numSignals),
	}
	for _, s := range Signals {
		d.Baseline[BaselineKey(s)] = p.histories[s].Stats()
	}
	return d
}

func (p *Profile) summary() Summary {
	return Summary{
		UserID:      p.id,
		CreatedAt:   p.createdAt,
		LastUpdated: p.lastUpdated,
		DataPoints:  p.DataPoints(),
		State:       p.State().String(),
	}
}

// BaselineKey names a signal's history in external representations.
func BaselineKey(s Signal) string {
	switch s {
	case SignalTyping:
		return "typing_intervals"
	case SignalMouse:
		return "mouse_movements"
	case SignalScroll:
		return "scroll_events"
	default:
		return s.String()
	}
}
