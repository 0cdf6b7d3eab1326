package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Armario/internal/armario/hardware"
	"github.com/BrandonDHaskell/Armario/internal/armario/metrics"
	"github.com/BrandonDHaskell/Armario/internal/armario/sensor"
	"github.com/BrandonDHaskell/Armario/internal/armario/store"
	"github.com/BrandonDHaskell/Armario/internal/armario/types"
	"github.com/BrandonDHaskell/Armario/internal/clock"
)

var (
	ErrDuplicateIdentity = errors.New("national id or registration number already enrolled")
	ErrSensorFault       = errors.New("sensor fault")
	ErrNotFound          = errors.New("slot not enrolled")

	ErrInvalidRecord = types.ErrInvalidRecord
	ErrInvalidDrawer = types.ErrInvalidDrawer
)

// Config holds the controller's tunables.
type Config struct {
	// MaxSlots bounds the slots scanned. Clamped to 1..MaxSlots.
	MaxSlots int

	// TickInterval is the loop period. Defaults to 50ms.
	TickInterval time.Duration

	// StatusGrace keeps a terminal enrollment state readable after its
	// first status read.
	StatusGrace time.Duration

	Actuator ActuatorConfig
}

// Dependencies are the collaborators NewController wires together.
// Presence and Metrics may be nil.
type Dependencies struct {
	Sensor   sensor.Sensor
	Records  *store.RecordStore
	Drawers  hardware.Drawers
	Presence hardware.Presence
	Clock    clock.Clock
	Logger   *log.Logger
	Metrics  *metrics.Metrics
}

// Controller owns the sensor. Every operation, including each tick, runs
// under one mutex, so enrollment and access control never interleave.
type Controller struct {
	registry *IdentityRegistry
	enroll   *EnrollmentMachine
	access   *AccessController
	actuator *DrawerActuator
	sensor   sensor.Sensor
	records  *store.RecordStore
	presence hardware.Presence
	clock    clock.Clock
	logger   *log.Logger
	metrics  *metrics.Metrics
	interval time.Duration

	mu         sync.Mutex
	lastStatus string

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewController(cfg Config, deps Dependencies) *Controller {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	interval := cfg.TickInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}

	act := NewDrawerActuator(deps.Drawers, clk, cfg.Actuator, deps.Logger, deps.Metrics)

	return &Controller{
		registry:   NewIdentityRegistry(deps.Sensor, deps.Records, cfg.MaxSlots),
		enroll:     NewEnrollmentMachine(deps.Sensor, deps.Records, clk, cfg.StatusGrace),
		access:     NewAccessController(deps.Sensor, deps.Records, act, deps.Logger, deps.Metrics),
		actuator:   act,
		sensor:     deps.Sensor,
		records:    deps.Records,
		presence:   deps.Presence,
		clock:      clk,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		interval:   interval,
		lastStatus: "ready",
	}
}

func (c *Controller) Registry() *IdentityRegistry { return c.registry }

// ── Enrollment ──────────────────────────────────────────────────────────────

// StartEnrollment validates rec, picks the lowest free slot and starts a
// session. It fails with ErrInvalidRecord, ErrBusy, ErrDuplicateIdentity or
// ErrCapacityFull.
func (c *Controller) StartEnrollment(ctx context.Context, rec types.UserRecord) (Session, error) {
	if err := rec.Validate(); err != nil {
		c.metrics.IncEnrollmentRejected("invalid")
		return Session{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.enroll.InProgress() {
		c.metrics.IncEnrollmentRejected("busy")
		return Session{}, ErrBusy
	}
	if c.registry.IsDuplicate(ctx, rec.NationalID, rec.RegistrationNumber) {
		c.metrics.IncEnrollmentRejected("duplicate")
		return Session{}, ErrDuplicateIdentity
	}
	slot, err := c.registry.FindFreeSlot(ctx)
	if err != nil {
		c.metrics.IncEnrollmentRejected("capacity_full")
		return Session{}, err
	}

	s, err := c.enroll.Start(rec, slot)
	if err != nil {
		return Session{}, err
	}
	c.lastStatus = fmt.Sprintf("enrolling %s in slot %d", rec.Name, slot)
	c.logger.Printf("enrollment %s started: slot=%d drawer=%s", s.ID, slot, rec.Drawer)
	return s, nil
}

// EnrollmentStatus is a status read; see EnrollmentMachine.Status for the
// terminal-state grace rule.
func (c *Controller) EnrollmentStatus() StatusView {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := c.enroll.Status()
	v.LastStatus = c.lastStatus
	return v
}

func (c *Controller) AbortEnrollment(reason string) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.enroll.Abort(reason)
	if err != nil {
		return Session{}, err
	}
	c.metrics.IncEnrollmentOutcome("aborted")
	c.lastStatus = s.Message
	c.logger.Printf("enrollment %s aborted: slot=%d", s.ID, s.TargetSlot)
	return s, nil
}

// ── Identities ──────────────────────────────────────────────────────────────

// DeleteIdentity removes the template at slot, then its record. A record left
// behind after the template is gone is reported as a wrapped error.
func (c *Controller) DeleteIdentity(ctx context.Context, slot int) error {
	if !c.registry.ValidSlot(slot) {
		return ErrInvalidSlot
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.sensor.HasTemplate(ctx, slot) {
		// Clear a stray record so the slot is fully free.
		if err := c.records.Delete(ctx, slot); err != nil {
			c.logger.Printf("delete slot %d: clear stray record: %v", slot, err)
		}
		return ErrNotFound
	}

	if code := c.sensor.DeleteTemplate(ctx, slot); code != sensor.OK {
		return fmt.Errorf("delete template slot %d: %w (%s)", slot, ErrSensorFault, code)
	}
	if err := c.records.Delete(ctx, slot); err != nil {
		c.logger.Printf("delete slot %d: template removed but record remains: %v", slot, err)
		return fmt.Errorf("delete record slot %d: %w", slot, err)
	}

	c.lastStatus = fmt.Sprintf("removed slot %d", slot)
	c.logger.Printf("identity removed: slot=%d", slot)
	return nil
}

// ListIdentities returns every occupied slot with a readable record.
func (c *Controller) ListIdentities(ctx context.Context) []types.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []types.Identity
	for slot, rec := range c.registry.Occupied(ctx) {
		out = append(out, types.Identity{
			SlotID:             slot,
			Name:               rec.Name,
			NationalID:         rec.NationalID,
			RegistrationNumber: rec.RegistrationNumber,
			Drawer:             rec.Drawer,
		})
	}
	return out
}

// ── Drawers ─────────────────────────────────────────────────────────────────

func (c *Controller) DrawerStatus() []types.DrawerStatus {
	var out []types.DrawerStatus
	for _, d := range types.Drawers() {
		st := types.DrawerStatus{Drawer: d, Locked: c.actuator.Locked(d)}
		if c.presence != nil {
			present, err := c.presence.ItemPresent(d)
			if err != nil {
				c.logger.Printf("drawer %s presence: %v", d, err)
			} else {
				st.ItemPresent = &present
			}
		}
		out = append(out, st)
	}
	return out
}

// InterruptDrawer relocks d early.
func (c *Controller) InterruptDrawer(d types.Drawer) bool {
	return c.actuator.Interrupt(d)
}

func (c *Controller) LastStatus() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStatus
}

// ── Tick loop ───────────────────────────────────────────────────────────────

// Tick runs one unit of work: an enrollment poll while a session is in
// progress, otherwise one access check. A panic is logged and contained.
func (c *Controller) Tick(ctx context.Context) {
	start := c.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("tick panic: %v", r)
		}
		c.metrics.ObserveTick(c.clock.Now().Sub(start))
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.enroll.InProgress() {
		c.pollEnrollment(ctx)
		return
	}

	res := c.access.Check(ctx)
	switch res.Reason {
	case "granted":
		c.lastStatus = fmt.Sprintf("drawer %s opened for %s", res.Drawer, res.Name)
	case "consistency_fault":
		c.lastStatus = fmt.Sprintf("slot %d has no record", res.Slot)
	case "actuator_error":
		c.lastStatus = fmt.Sprintf("drawer %s failed to open", res.Drawer)
	}
}

func (c *Controller) pollEnrollment(ctx context.Context) {
	tr := c.enroll.Poll(ctx)
	if !tr.Changed() {
		return
	}
	s := tr.Session
	c.lastStatus = s.Message

	switch tr.To {
	case Success:
		c.metrics.IncEnrollmentOutcome("success")
		c.logger.Printf("enrollment %s succeeded: slot=%d drawer=%s", s.ID, s.TargetSlot, s.Pending.Drawer)
	case Failure:
		c.metrics.IncEnrollmentOutcome("failure")
		c.logger.Printf("enrollment %s failed: slot=%d: %s", s.ID, s.TargetSlot, s.Message)
	}
}

// Start begins the tick loop. The loop exits when ctx is cancelled or Stop
// is called.
func (c *Controller) Start(ctx context.Context) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.cancel != nil {
		return
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	go c.loop(ctx, c.done)

	c.logger.Printf("controller started (tick=%s, slots=%d, unlock=%s)",
		c.interval, c.registry.MaxSlots(), c.actuator.Window())
}

// Stop ends the tick loop, waits for it and relocks any open drawer. The
// controller may be started again afterwards.
func (c *Controller) Stop() {
	c.lifecycle.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.lifecycle.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	c.actuator.Close()
}

func (c *Controller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}
