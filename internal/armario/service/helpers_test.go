package service_test

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Armario/internal/armario/hardware"
	"github.com/BrandonDHaskell/Armario/internal/armario/metrics"
	"github.com/BrandonDHaskell/Armario/internal/armario/sensor"
	"github.com/BrandonDHaskell/Armario/internal/armario/service"
	"github.com/BrandonDHaskell/Armario/internal/armario/store"
	"github.com/BrandonDHaskell/Armario/internal/armario/store/memory"
	"github.com/BrandonDHaskell/Armario/internal/armario/types"
	"github.com/BrandonDHaskell/Armario/internal/clock"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// rig is a controller wired to simulators, an in-memory store and a fake
// clock.
type rig struct {
	ctrl    *service.Controller
	sensor  *sensor.Simulator
	hw      *hardware.Simulator
	kv      *memory.KV
	records *store.RecordStore
	clock   *clock.FakeClock
	metrics *metrics.Metrics
}

func testConfig() service.Config {
	return service.Config{
		MaxSlots:     service.MaxSlots,
		TickInterval: 50 * time.Millisecond,
		StatusGrace:  0,
		Actuator: service.ActuatorConfig{
			Window:      15 * time.Second,
			AlertPeriod: time.Second,
			PulseGap:    200 * time.Millisecond,
		},
	}
}

func newRig(t *testing.T, mutate ...func(*service.Config)) *rig {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	r := &rig{
		sensor:  sensor.NewSimulator(cfg.MaxSlots),
		hw:      hardware.NewSimulator(),
		kv:      memory.NewKV(),
		clock:   clock.Fake(epoch),
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	r.records = store.NewRecordStore(r.kv)
	r.ctrl = service.NewController(cfg, service.Dependencies{
		Sensor:   r.sensor,
		Records:  r.records,
		Drawers:  r.hw,
		Presence: r.hw,
		Clock:    r.clock,
		Logger:   log.New(io.Discard, "", 0),
		Metrics:  r.metrics,
	})
	t.Cleanup(r.ctrl.Stop)
	return r
}

// seed enrolls finger at slot directly and stores its record.
func (r *rig) seed(t *testing.T, slot int, finger string, rec types.UserRecord) {
	t.Helper()
	r.sensor.Enroll(slot, finger)
	require.NoError(t, r.records.Save(context.Background(), slot, rec))
}

func (r *rig) tick() { r.ctrl.Tick(context.Background()) }

// enrollWith drives a started session through the two-capture protocol.
func (r *rig) enrollWith(first, second string) {
	r.sensor.Place(first)
	r.tick()
	r.sensor.Lift()
	r.tick()
	r.sensor.Place(second)
	r.tick()
	r.sensor.Lift()
}

func record(t *testing.T, name, nationalID, registration, drawer string) types.UserRecord {
	t.Helper()
	rec, err := types.NewUserRecord(name, nationalID, registration, drawer)
	require.NoError(t, err)
	return rec
}
