package hardware

import (
	"fmt"
	"sync"

	"github.com/BrandonDHaskell/Armario/internal/armario/types"
)

// Event is one recorded hardware call.
type Event struct {
	Kind   string // "lock", "unlock", "indicator", "alert"
	Drawer types.Drawer
	Color  Color
}

// MaxEvents bounds the call log; older events are dropped first.
const MaxEvents = 256

// Simulator implements Drawers and Presence in memory and keeps a log of
// the last MaxEvents calls. Drawers start locked with red indicators.
type Simulator struct {
	mu        sync.Mutex
	unlocked  map[types.Drawer]bool
	indicator map[types.Drawer]Color
	present   map[types.Drawer]bool
	events    []Event
}

func NewSimulator() *Simulator {
	return &Simulator{
		unlocked:  make(map[types.Drawer]bool),
		indicator: make(map[types.Drawer]Color),
		present:   make(map[types.Drawer]bool),
	}
}

func (s *Simulator) SetUnlocked(d types.Drawer, unlocked bool) error {
	if !d.Valid() {
		return fmt.Errorf("%w: %d", types.ErrInvalidDrawer, uint8(d))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unlocked[d] = unlocked
	kind := "lock"
	if unlocked {
		kind = "unlock"
	}
	s.record(Event{Kind: kind, Drawer: d})
	return nil
}

func (s *Simulator) SetIndicator(d types.Drawer, c Color) error {
	if !d.Valid() {
		return fmt.Errorf("%w: %d", types.ErrInvalidDrawer, uint8(d))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indicator[d] = c
	s.record(Event{Kind: "indicator", Drawer: d, Color: c})
	return nil
}

func (s *Simulator) SoundAlert() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Event{Kind: "alert"})
	return nil
}

func (s *Simulator) ItemPresent(d types.Drawer) (bool, error) {
	if !d.Valid() {
		return false, fmt.Errorf("%w: %d", types.ErrInvalidDrawer, uint8(d))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.present[d], nil
}

// SetItemPresent sets what the presence sensor of d reports.
func (s *Simulator) SetItemPresent(d types.Drawer, present bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.present[d] = present
}

// Unlocked reports the simulated lock state of d.
func (s *Simulator) Unlocked(d types.Drawer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unlocked[d]
}

// Indicator reports the simulated indicator color of d.
func (s *Simulator) Indicator(d types.Drawer) Color {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indicator[d]
}

// Events returns a copy of the call log.  Test-only helper.
func (s *Simulator) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Count returns how many logged events have the given kind.
func (s *Simulator) Count(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// record must be called with s.mu held.
func (s *Simulator) record(e Event) {
	s.events = append(s.events, e)
	if over := len(s.events) - MaxEvents; over > 0 {
		s.events = append(s.events[:0], s.events[over:]...)
	}
}
