package service

import (
	"context"
	"errors"
	"log"

	"github.com/BrandonDHaskell/Armario/internal/armario/metrics"
	"github.com/BrandonDHaskell/Armario/internal/armario/sensor"
	"github.com/BrandonDHaskell/Armario/internal/armario/store"
	"github.com/BrandonDHaskell/Armario/internal/armario/types"
)

// AccessResult is the outcome of one Check.
type AccessResult struct {
	Matched bool
	Granted bool
	Slot    int
	Drawer  types.Drawer
	Name    string
	Reason  string
}

// AccessController turns a sensor match into a drawer opening. It fails
// closed: a match without a readable record opens nothing.
type AccessController struct {
	sensor   sensor.Sensor
	records  *store.RecordStore
	actuator *DrawerActuator
	logger   *log.Logger
	metrics  *metrics.Metrics
}

func NewAccessController(s sensor.Sensor, rs *store.RecordStore, act *DrawerActuator, logger *log.Logger, m *metrics.Metrics) *AccessController {
	return &AccessController{sensor: s, records: rs, actuator: act, logger: logger, metrics: m}
}

// Check runs one identification attempt.
func (a *AccessController) Check(ctx context.Context) AccessResult {
	slot, ok := a.sensor.Match(ctx)
	if !ok {
		return AccessResult{Reason: "no_match"}
	}

	rec, err := a.records.Load(ctx, slot)
	if err != nil {
		// Template without a usable record.
		a.logger.Printf("access: slot %d matched but record unusable: %v", slot, err)
		a.metrics.IncAccessDecision("consistency_fault")
		return AccessResult{Matched: true, Slot: slot, Reason: "consistency_fault"}
	}

	res := AccessResult{Matched: true, Slot: slot, Drawer: rec.Drawer, Name: rec.Name}

	switch err := a.actuator.Open(rec.Drawer, rec.Name); {
	case err == nil:
		res.Granted = true
		res.Reason = "granted"
		a.metrics.IncAccessDecision("granted")
	case errors.Is(err, ErrDrawerBusy):
		// Finger still on the sensor while the drawer is open.
		res.Reason = "drawer_busy"
	default:
		a.logger.Printf("access: slot %d drawer %s: %v", slot, rec.Drawer, err)
		res.Reason = "actuator_error"
		a.metrics.IncAccessDecision("actuator_error")
	}
	return res
}
