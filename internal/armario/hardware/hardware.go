// Package hardware is the boundary to the cabinet's actuators: one lock and
// one red/green indicator per drawer, a shared buzzer, and optional
// item-presence sensors.
package hardware

import "github.com/BrandonDHaskell/Armario/internal/armario/types"

type Color int

const (
	Red Color = iota
	Green
)

func (c Color) String() string {
	if c == Green {
		return "green"
	}
	return "red"
}

// Drawers drives the locks, indicators and buzzer.
type Drawers interface {
	SetUnlocked(d types.Drawer, unlocked bool) error
	SetIndicator(d types.Drawer, c Color) error
	// SoundAlert emits one short buzzer pulse.
	SoundAlert() error
}

// Presence reads a drawer's item sensor (true = something inside).
type Presence interface {
	ItemPresent(d types.Drawer) (bool, error)
}
