package service

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Armario/internal/armario/hardware"
	"github.com/BrandonDHaskell/Armario/internal/armario/metrics"
	"github.com/BrandonDHaskell/Armario/internal/armario/types"
	"github.com/BrandonDHaskell/Armario/internal/clock"
)

var ErrDrawerBusy = errors.New("drawer already open")

// ActuatorConfig holds the unlock window and the alert cadence. Zero values
// take the defaults.
type ActuatorConfig struct {
	// Window is how long a drawer stays unlocked. Defaults to 15s.
	Window time.Duration

	// AlertPeriod is the interval between alert bursts. Defaults to 1s.
	AlertPeriod time.Duration

	// PulseGap separates the two pulses of a burst. Defaults to 200ms.
	PulseGap time.Duration
}

func (c ActuatorConfig) withDefaults() ActuatorConfig {
	if c.Window <= 0 {
		c.Window = 15 * time.Second
	}
	if c.AlertPeriod <= 0 {
		c.AlertPeriod = time.Second
	}
	if c.PulseGap <= 0 || c.PulseGap >= c.AlertPeriod {
		c.PulseGap = c.AlertPeriod / 5
	}
	return c
}

// DrawerActuator opens a drawer for a fixed window, sounds the alert while
// it is open and guarantees exactly one relock per opening. Open never
// blocks; timing runs on the injected clock.
type DrawerActuator struct {
	hw      hardware.Drawers
	clock   clock.Clock
	cfg     ActuatorConfig
	logger  *log.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	open map[types.Drawer]*actuation
}

type actuation struct {
	drawer types.Drawer
	label  string
	timers []*clock.Timer
	once   sync.Once
}

func NewDrawerActuator(hw hardware.Drawers, clk clock.Clock, cfg ActuatorConfig, logger *log.Logger, m *metrics.Metrics) *DrawerActuator {
	return &DrawerActuator{
		hw:      hw,
		clock:   clk,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: m,
		open:    make(map[types.Drawer]*actuation),
	}
}

func (a *DrawerActuator) Window() time.Duration { return a.cfg.Window }

// Open unlocks d, turns its indicator green and schedules the alert pulses
// and the relock. label names the user in logs.
func (a *DrawerActuator) Open(d types.Drawer, label string) error {
	if !d.Valid() {
		return ErrInvalidDrawer
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, busy := a.open[d]; busy {
		return ErrDrawerBusy
	}

	if err := a.hw.SetUnlocked(d, true); err != nil {
		if rerr := a.hw.SetUnlocked(d, false); rerr != nil {
			a.logger.Printf("drawer %s: relock after failed unlock: %v", d, rerr)
		}
		return fmt.Errorf("unlock drawer %s: %w", d, err)
	}
	if err := a.hw.SetIndicator(d, hardware.Green); err != nil {
		a.logger.Printf("drawer %s: indicator: %v", d, err)
	}

	act := &actuation{drawer: d, label: label}
	a.open[d] = act
	a.metrics.SetDrawerUnlocked(d.String(), true)

	// Two pulses per period, starting now, none at or past the window.
	for t := time.Duration(0); t < a.cfg.Window; t += a.cfg.AlertPeriod {
		if t == 0 {
			a.pulse()
		} else {
			act.timers = append(act.timers, a.clock.AfterFunc(t, a.pulseFor(act)))
		}
		if g := t + a.cfg.PulseGap; g < a.cfg.Window {
			act.timers = append(act.timers, a.clock.AfterFunc(g, a.pulseFor(act)))
		}
	}
	act.timers = append(act.timers, a.clock.AfterFunc(a.cfg.Window, func() {
		a.finish(act, "window elapsed")
	}))

	a.logger.Printf("drawer %s unlocked for %s (%s)", d, a.cfg.Window, label)
	return nil
}

// Interrupt relocks d early. It reports whether d was open.
func (a *DrawerActuator) Interrupt(d types.Drawer) bool {
	a.mu.Lock()
	act, ok := a.open[d]
	a.mu.Unlock()
	if !ok {
		return false
	}
	a.finish(act, "interrupted")
	return true
}

// Locked reports whether d is currently locked.
func (a *DrawerActuator) Locked(d types.Drawer) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, open := a.open[d]
	return !open
}

// Close relocks every open drawer.
func (a *DrawerActuator) Close() {
	a.mu.Lock()
	acts := make([]*actuation, 0, len(a.open))
	for _, act := range a.open {
		acts = append(acts, act)
	}
	a.mu.Unlock()

	for _, act := range acts {
		a.finish(act, "shutdown")
	}
}

func (a *DrawerActuator) pulseFor(act *actuation) func() {
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.open[act.drawer] != act {
			return
		}
		a.pulse()
	}
}

// pulse must be called with a.mu held.
func (a *DrawerActuator) pulse() {
	if err := a.hw.SoundAlert(); err != nil {
		a.logger.Printf("alert pulse: %v", err)
	}
}

func (a *DrawerActuator) finish(act *actuation, reason string) {
	act.once.Do(func() {
		a.mu.Lock()
		defer a.mu.Unlock()

		for _, t := range act.timers {
			t.Stop()
		}
		if err := a.hw.SetUnlocked(act.drawer, false); err != nil {
			a.logger.Printf("drawer %s: relock: %v", act.drawer, err)
		}
		if err := a.hw.SetIndicator(act.drawer, hardware.Red); err != nil {
			a.logger.Printf("drawer %s: indicator: %v", act.drawer, err)
		}
		if a.open[act.drawer] == act {
			delete(a.open, act.drawer)
		}
		a.metrics.SetDrawerUnlocked(act.drawer.String(), false)
		a.logger.Printf("drawer %s locked (%s, %s)", act.drawer, act.label, reason)
	})
}
