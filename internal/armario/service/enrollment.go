package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Armario/internal/armario/sensor"
	"github.com/BrandonDHaskell/Armario/internal/armario/store"
	"github.com/BrandonDHaskell/Armario/internal/armario/types"
	"github.com/BrandonDHaskell/Armario/internal/clock"
)

var (
	ErrBusy      = errors.New("enrollment already in progress")
	ErrNoSession = errors.New("no enrollment in progress")
)

// State is the enrollment state. Success, Failure and Aborted are terminal
// display states that fall back to Idle once a status read has seen them.
type State int

const (
	Idle State = iota
	WaitingFirstImage
	RemoveFinger
	WaitingSecondImage
	Success
	Failure
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case WaitingFirstImage:
		return "waiting_first_image"
	case RemoveFinger:
		return "remove_finger"
	case WaitingSecondImage:
		return "waiting_second_image"
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// InProgress reports whether the session still owns the sensor.
func (s State) InProgress() bool {
	return s == WaitingFirstImage || s == RemoveFinger || s == WaitingSecondImage
}

func (s State) Terminal() bool {
	return s == Success || s == Failure || s == Aborted
}

// Event is what one sensor read (or an outside action) observed.
type Event int

const (
	// EventNoFinger: nothing on the sensor.
	EventNoFinger Event = iota
	// EventFingerPresent: a finger is still on the sensor.
	EventFingerPresent
	// EventStageCaptured: image captured and first-stage features extracted.
	EventStageCaptured
	// EventTemplateStored: second stage extracted, model built and stored.
	EventTemplateStored
	EventSensorFault
	// EventRecordSaveFailed: the template is stored but its record is not.
	EventRecordSaveFailed
	EventAbort
)

// Effect is a side effect Advance asks the caller to perform.
type Effect int

const (
	EffectNone Effect = iota
	// EffectSaveRecord: persist the pending record at the target slot.
	EffectSaveRecord
)

// Advance is the enrollment transition function. It performs no I/O.
func Advance(s State, ev Event) (State, Effect) {
	if ev == EventAbort {
		if s.InProgress() {
			return Aborted, EffectNone
		}
		return s, EffectNone
	}

	switch s {
	case WaitingFirstImage:
		switch ev {
		case EventStageCaptured:
			return RemoveFinger, EffectNone
		case EventSensorFault:
			return Failure, EffectNone
		}
	case RemoveFinger:
		// Faults while waiting for the lift are retried on the next poll.
		if ev == EventNoFinger {
			return WaitingSecondImage, EffectNone
		}
	case WaitingSecondImage:
		switch ev {
		case EventTemplateStored:
			return Success, EffectSaveRecord
		case EventSensorFault, EventRecordSaveFailed:
			return Failure, EffectNone
		}
	}
	return s, EffectNone
}

// Session is one enrollment attempt.
type Session struct {
	ID         uuid.UUID
	State      State
	TargetSlot int
	Pending    types.UserRecord
	Message    string
	StartedAt  time.Time

	// zero until a status read has returned the terminal state
	observedAt time.Time
}

// Transition describes the state change made by one Poll.
type Transition struct {
	From    State
	To      State
	Session Session
}

func (t Transition) Changed() bool { return t.From != t.To }

// StatusView is what a status read returns.
type StatusView struct {
	State      State
	Message    string
	SessionID  string
	SlotID     int
	LastStatus string
}

// EnrollmentMachine drives one session at a time through Advance, one
// non-blocking sensor read per Poll. It is not safe for concurrent use;
// the Controller serializes access.
type EnrollmentMachine struct {
	sensor  sensor.Sensor
	records *store.RecordStore
	clock   clock.Clock
	grace   time.Duration
	session *Session
}

// NewEnrollmentMachine returns an idle machine. grace is how long a terminal
// state stays readable after its first status read; 0 shows it exactly once.
func NewEnrollmentMachine(s sensor.Sensor, rs *store.RecordStore, clk clock.Clock, grace time.Duration) *EnrollmentMachine {
	if grace < 0 {
		grace = 0
	}
	return &EnrollmentMachine{sensor: s, records: rs, clock: clk, grace: grace}
}

func (m *EnrollmentMachine) InProgress() bool {
	return m.session != nil && m.session.State.InProgress()
}

// Start opens a session for rec at slot. An unread terminal session is
// replaced.
func (m *EnrollmentMachine) Start(rec types.UserRecord, slot int) (Session, error) {
	if m.InProgress() {
		return Session{}, ErrBusy
	}
	m.session = &Session{
		ID:         uuid.New(),
		State:      WaitingFirstImage,
		TargetSlot: slot,
		Pending:    rec,
		Message:    messageFor(WaitingFirstImage, rec, slot),
		StartedAt:  m.clock.Now(),
	}
	return *m.session, nil
}

// Poll reads the sensor once for the current state and applies the result.
func (m *EnrollmentMachine) Poll(ctx context.Context) Transition {
	if !m.InProgress() {
		st := Idle
		if m.session != nil {
			st = m.session.State
		}
		return Transition{From: st, To: st}
	}

	s := m.session
	from := s.State
	ev, reason := m.sense(ctx, from)
	next, effect := Advance(from, ev)

	if effect == EffectSaveRecord {
		if err := m.records.Save(ctx, s.TargetSlot, s.Pending); err != nil {
			next, _ = Advance(from, EventRecordSaveFailed)
			reason = fmt.Sprintf("template stored in slot %d but record save failed: %v", s.TargetSlot, err)
		}
	}

	if next != from {
		s.State = next
		s.Message = messageFor(next, s.Pending, s.TargetSlot)
		if next == Failure {
			s.Message = "enrollment failed: " + reason
		}
	}
	return Transition{From: from, To: next, Session: *s}
}

// Abort cancels the in-progress session. Nothing is written to the sensor
// or the store after the abort.
func (m *EnrollmentMachine) Abort(reason string) (Session, error) {
	if !m.InProgress() {
		return Session{}, ErrNoSession
	}
	s := m.session
	s.State, _ = Advance(s.State, EventAbort)
	if reason == "" {
		reason = "cancelled"
	}
	s.Message = "enrollment aborted: " + reason
	return *s, nil
}

// Status returns the current state. The first read of a terminal state
// starts the grace period; the first read after it has elapsed returns Idle
// and clears the session.
func (m *EnrollmentMachine) Status() StatusView {
	s := m.session
	if s == nil {
		return StatusView{State: Idle, Message: messageFor(Idle, types.UserRecord{}, 0)}
	}
	if s.State.Terminal() {
		now := m.clock.Now()
		if s.observedAt.IsZero() {
			s.observedAt = now
		} else if now.Sub(s.observedAt) >= m.grace {
			m.session = nil
			return StatusView{State: Idle, Message: messageFor(Idle, types.UserRecord{}, 0)}
		}
	}
	return StatusView{
		State:     s.State,
		Message:   s.Message,
		SessionID: s.ID.String(),
		SlotID:    s.TargetSlot,
	}
}

func (m *EnrollmentMachine) sense(ctx context.Context, st State) (Event, string) {
	switch st {
	case WaitingFirstImage:
		return m.captureStage(ctx, sensor.Stage1)

	case RemoveFinger:
		if m.sensor.Capture(ctx) == sensor.NoFinger {
			return EventNoFinger, ""
		}
		return EventFingerPresent, ""

	case WaitingSecondImage:
		ev, reason := m.captureStage(ctx, sensor.Stage2)
		if ev != EventStageCaptured {
			return ev, reason
		}
		if m.sensor.BuildTemplate(ctx) != sensor.OK {
			return EventSensorFault, "fingerprints did not match"
		}
		if m.sensor.StoreTemplate(ctx, m.session.TargetSlot) != sensor.OK {
			return EventSensorFault, fmt.Sprintf("could not store template in slot %d", m.session.TargetSlot)
		}
		return EventTemplateStored, ""
	}
	return EventNoFinger, ""
}

func (m *EnrollmentMachine) captureStage(ctx context.Context, stage sensor.Stage) (Event, string) {
	switch m.sensor.Capture(ctx) {
	case sensor.NoFinger:
		return EventNoFinger, ""
	case sensor.Fault:
		return EventSensorFault, "image capture failed"
	}
	if m.sensor.Extract(ctx, stage) != sensor.OK {
		return EventSensorFault, fmt.Sprintf("could not extract features (stage %d)", stage)
	}
	return EventStageCaptured, ""
}

func messageFor(st State, rec types.UserRecord, slot int) string {
	switch st {
	case WaitingFirstImage:
		return "place finger on the sensor"
	case RemoveFinger:
		return "remove finger"
	case WaitingSecondImage:
		return "place the same finger again"
	case Success:
		return fmt.Sprintf("enrolled %s in slot %d", rec.Name, slot)
	case Failure:
		return "enrollment failed"
	case Aborted:
		return "enrollment aborted"
	default:
		return "idle"
	}
}
