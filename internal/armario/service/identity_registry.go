package service

import (
	"context"
	"errors"
	"iter"

	"github.com/BrandonDHaskell/Armario/internal/armario/sensor"
	"github.com/BrandonDHaskell/Armario/internal/armario/store"
	"github.com/BrandonDHaskell/Armario/internal/armario/types"
)

// MaxSlots is the sensor's template capacity.
const MaxSlots = 127

var (
	ErrCapacityFull = errors.New("no free slot")
	ErrInvalidSlot  = errors.New("slot out of range")
)

// IdentityRegistry answers occupancy questions. A slot is occupied iff the
// sensor holds a template for it; occupancy is never cached.
type IdentityRegistry struct {
	sensor   sensor.Sensor
	records  *store.RecordStore
	maxSlots int
}

// NewIdentityRegistry clamps maxSlots to 1..MaxSlots.
func NewIdentityRegistry(s sensor.Sensor, rs *store.RecordStore, maxSlots int) *IdentityRegistry {
	if maxSlots <= 0 || maxSlots > MaxSlots {
		maxSlots = MaxSlots
	}
	return &IdentityRegistry{sensor: s, records: rs, maxSlots: maxSlots}
}

func (r *IdentityRegistry) MaxSlots() int { return r.maxSlots }

func (r *IdentityRegistry) ValidSlot(slot int) bool {
	return slot >= 1 && slot <= r.maxSlots
}

// FindFreeSlot returns the lowest slot without a template.
func (r *IdentityRegistry) FindFreeSlot(ctx context.Context) (int, error) {
	for slot := 1; slot <= r.maxSlots; slot++ {
		if !r.sensor.HasTemplate(ctx, slot) {
			return slot, nil
		}
	}
	return 0, ErrCapacityFull
}

// IsDuplicate reports whether any occupied slot's record has exactly this
// national id or this registration number. Unreadable records are skipped.
func (r *IdentityRegistry) IsDuplicate(ctx context.Context, nationalID, registrationNumber string) bool {
	for _, rec := range r.Occupied(ctx) {
		if rec.NationalID == nationalID || rec.RegistrationNumber == registrationNumber {
			return true
		}
	}
	return false
}

// Occupied yields (slot, record) for every occupied slot with a readable
// record, in slot order. Each range over the sequence rescans the sensor.
func (r *IdentityRegistry) Occupied(ctx context.Context) iter.Seq2[int, types.UserRecord] {
	return func(yield func(int, types.UserRecord) bool) {
		for slot := 1; slot <= r.maxSlots; slot++ {
			if ctx.Err() != nil {
				return
			}
			if !r.sensor.HasTemplate(ctx, slot) {
				continue
			}
			rec, err := r.records.Load(ctx, slot)
			if err != nil {
				continue
			}
			if !yield(slot, rec) {
				return
			}
		}
	}
}
