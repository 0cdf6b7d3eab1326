package types

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidRecord = errors.New("invalid user record")
	ErrInvalidDrawer = errors.New("invalid drawer")
)

// Field limits match the firmware's fixed-size buffers (minus the NUL).
const (
	MaxNameLen               = 49
	MaxNationalIDLen         = 19
	MaxRegistrationNumberLen = 19
)

// Drawer identifies one of the cabinet's lockable compartments.
type Drawer uint8

const (
	DrawerA Drawer = 1
	DrawerB Drawer = 2
)

// Drawers lists every compartment the cabinet has, in display order.
func Drawers() []Drawer { return []Drawer{DrawerA, DrawerB} }

func (d Drawer) Valid() bool { return d == DrawerA || d == DrawerB }

func (d Drawer) String() string {
	switch d {
	case DrawerA:
		return "A"
	case DrawerB:
		return "B"
	default:
		return fmt.Sprintf("drawer(%d)", uint8(d))
	}
}

// ParseDrawer accepts "A"/"B" in any case and the firmware's "1"/"2".
func ParseDrawer(s string) (Drawer, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A", "1":
		return DrawerA, nil
	case "B", "2":
		return DrawerB, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidDrawer, s)
	}
}

func (d Drawer) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDrawer, uint8(d))
	}
	return []byte(d.String()), nil
}

func (d *Drawer) UnmarshalText(b []byte) error {
	v, err := ParseDrawer(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// UserRecord is the identity stored alongside a fingerprint template.
type UserRecord struct {
	Name               string `json:"name"`
	NationalID         string `json:"national_id"`
	RegistrationNumber string `json:"registration_number"`
	Drawer             Drawer `json:"drawer"`
}

// NewUserRecord trims and validates raw form input.
func NewUserRecord(name, nationalID, registrationNumber, drawer string) (UserRecord, error) {
	d, err := ParseDrawer(drawer)
	if err != nil {
		return UserRecord{}, err
	}
	rec := UserRecord{
		Name:               strings.TrimSpace(name),
		NationalID:         strings.TrimSpace(nationalID),
		RegistrationNumber: strings.TrimSpace(registrationNumber),
		Drawer:             d,
	}
	if err := rec.Validate(); err != nil {
		return UserRecord{}, err
	}
	return rec, nil
}

// Validate rejects empty, over-long and non-UTF-8 fields. Values are never truncated.
func (r UserRecord) Validate() error {
	if err := checkField("name", r.Name, MaxNameLen); err != nil {
		return err
	}
	if err := checkField("national_id", r.NationalID, MaxNationalIDLen); err != nil {
		return err
	}
	if err := checkField("registration_number", r.RegistrationNumber, MaxRegistrationNumberLen); err != nil {
		return err
	}
	if !r.Drawer.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidDrawer, uint8(r.Drawer))
	}
	return nil
}

func checkField(field, v string, max int) error {
	if v == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidRecord, field)
	}
	if len(v) > max {
		return fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidRecord, field, max)
	}
	if !utf8.ValidString(v) {
		return fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidRecord, field)
	}
	return nil
}
