// Package sensor defines the fingerprint sensor capability the controller
// drives, with explicit result codes instead of errors, and an in-memory
// simulator of it.
package sensor

import "context"

// Code is the outcome of one sensor primitive.
type Code int

const (
	OK Code = iota
	// NoFinger: Capture found nothing on the glass.
	NoFinger
	// Fault: the primitive failed (imaging, extraction, model, flash, bus).
	Fault
)

func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case NoFinger:
		return "no_finger"
	case Fault:
		return "fault"
	default:
		return "unknown"
	}
}

// Stage selects which of the two enrollment buffers Extract fills.
type Stage int

const (
	Stage1 Stage = 1
	Stage2 Stage = 2
)

// Sensor is the facade over the biometric module. Slots are 1-based.
type Sensor interface {
	// Capture images whatever is on the sensor.
	Capture(ctx context.Context) Code
	// Extract converts the last captured image into a feature buffer.
	Extract(ctx context.Context, stage Stage) Code
	// BuildTemplate combines both stage buffers into one model.
	BuildTemplate(ctx context.Context) Code
	StoreTemplate(ctx context.Context, slot int) Code
	DeleteTemplate(ctx context.Context, slot int) Code
	// HasTemplate reports whether a template is stored at slot.
	HasTemplate(ctx context.Context, slot int) bool
	// Match captures, extracts and searches the template bank in one step.
	Match(ctx context.Context) (slot int, ok bool)
	CountTemplates(ctx context.Context) int
}
