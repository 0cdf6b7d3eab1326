package sensor

import (
	"context"
	"sync"
)

// Simulator is an in-memory Sensor. A "finger" is any non-empty string; two
// captures of the same string produce matching features.
//
// Fault injection fields make individual primitives return Fault until the
// matching Fail* call is reverted. Safe for concurrent use.
type Simulator struct {
	mu sync.Mutex

	maxSlots  int
	finger    string // "" = nothing on the glass
	image     string // last captured image
	buffers   [3]string
	model     string
	templates map[int]string

	faults map[string]bool
}

// Primitive names accepted by Fail.
const (
	PrimCapture = "capture"
	PrimExtract = "extract"
	PrimBuild   = "build"
	PrimStore   = "store"
	PrimDelete  = "delete"
)

func NewSimulator(maxSlots int) *Simulator {
	return &Simulator{
		maxSlots:  maxSlots,
		templates: make(map[int]string),
		faults:    make(map[string]bool),
	}
}

// Place puts finger on the sensor.
func (s *Simulator) Place(finger string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finger = finger
}

// Lift removes whatever finger is on the sensor.
func (s *Simulator) Lift() { s.Place("") }

// Fail makes primitive return Fault (on=true) or behave normally (on=false).
func (s *Simulator) Fail(primitive string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[primitive] = on
}

// Enroll stores a template for finger at slot directly, bypassing the
// two-capture protocol. Used for dev seeding and tests.
func (s *Simulator) Enroll(slot int, finger string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[slot] = finger
}

// TemplateFinger returns the finger stored at slot. Test-only helper.
func (s *Simulator) TemplateFinger(slot int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.templates[slot]
	return f, ok
}

func (s *Simulator) Capture(context.Context) Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults[PrimCapture] {
		return Fault
	}
	if s.finger == "" {
		return NoFinger
	}
	s.image = s.finger
	return OK
}

func (s *Simulator) Extract(_ context.Context, stage Stage) Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults[PrimExtract] || s.image == "" || (stage != Stage1 && stage != Stage2) {
		return Fault
	}
	s.buffers[stage] = s.image
	return OK
}

func (s *Simulator) BuildTemplate(context.Context) Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	b1, b2 := s.buffers[Stage1], s.buffers[Stage2]
	// Mismatched stages are how the module reports "not the same finger".
	if s.faults[PrimBuild] || b1 == "" || b1 != b2 {
		return Fault
	}
	s.model = b1
	return OK
}

func (s *Simulator) StoreTemplate(_ context.Context, slot int) Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults[PrimStore] || s.model == "" || !s.inRange(slot) {
		return Fault
	}
	s.templates[slot] = s.model
	s.model = ""
	s.buffers = [3]string{}
	return OK
}

func (s *Simulator) DeleteTemplate(_ context.Context, slot int) Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults[PrimDelete] || !s.inRange(slot) {
		return Fault
	}
	delete(s.templates, slot)
	return OK
}

func (s *Simulator) HasTemplate(_ context.Context, slot int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.templates[slot]
	return ok
}

// Match returns the lowest slot whose template matches the finger on the
// sensor, like the module's search over its bank.
func (s *Simulator) Match(context.Context) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults[PrimCapture] || s.finger == "" {
		return 0, false
	}
	for slot := 1; slot <= s.maxSlots; slot++ {
		if f, ok := s.templates[slot]; ok && f == s.finger {
			return slot, true
		}
	}
	return 0, false
}

func (s *Simulator) CountTemplates(context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.templates)
}

func (s *Simulator) inRange(slot int) bool {
	return slot >= 1 && slot <= s.maxSlots
}
