package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Armario/internal/armario/store"
	"github.com/BrandonDHaskell/Armario/internal/armario/types"
)

func TestAccess_MatchOpensOwnDrawer(t *testing.T) {
	r := newRig(t)
	r.seed(t, 1, "bob", record(t, "Bob", "111", "R1", "A"))
	r.seed(t, 2, "ana", record(t, "Ana", "123", "R9", "B"))

	r.sensor.Place("ana")
	r.tick()

	assert.True(t, r.hw.Unlocked(types.DrawerB))
	assert.False(t, r.hw.Unlocked(types.DrawerA))
	assert.Equal(t, "drawer B opened for Ana", r.ctrl.LastStatus())
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.AccessDecision.WithLabelValues("granted")))

	r.clock.Advance(15 * time.Second)
	assert.False(t, r.hw.Unlocked(types.DrawerB))
}

func TestAccess_HeldFingerDoesNotReopen(t *testing.T) {
	r := newRig(t)
	r.seed(t, 1, "bob", record(t, "Bob", "111", "R1", "A"))

	r.sensor.Place("bob")
	for range 5 {
		r.tick()
		r.clock.Advance(50 * time.Millisecond)
	}

	assert.Equal(t, 1, r.hw.Count("unlock"))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.AccessDecision.WithLabelValues("granted")))
}

func TestAccess_BothDrawersOpenIndependently(t *testing.T) {
	r := newRig(t)
	r.seed(t, 1, "bob", record(t, "Bob", "111", "R1", "A"))
	r.seed(t, 2, "ana", record(t, "Ana", "123", "R9", "B"))

	r.sensor.Place("bob")
	r.tick()
	r.clock.Advance(5 * time.Second)
	r.sensor.Place("ana")
	r.tick()

	assert.True(t, r.hw.Unlocked(types.DrawerA))
	assert.True(t, r.hw.Unlocked(types.DrawerB))

	r.clock.Advance(10 * time.Second)
	assert.False(t, r.hw.Unlocked(types.DrawerA))
	assert.True(t, r.hw.Unlocked(types.DrawerB))

	r.clock.Advance(5 * time.Second)
	assert.False(t, r.hw.Unlocked(types.DrawerB))
}

func TestAccess_UnknownFingerOpensNothing(t *testing.T) {
	r := newRig(t)
	r.seed(t, 1, "bob", record(t, "Bob", "111", "R1", "A"))

	r.sensor.Place("mallory")
	r.tick()

	assert.Empty(t, r.hw.Events())
}

func TestAccess_TemplateWithoutRecordFailsClosed(t *testing.T) {
	r := newRig(t)
	r.sensor.Enroll(5, "ghost")

	r.sensor.Place("ghost")
	r.tick()

	assert.Empty(t, r.hw.Events())
	assert.Equal(t, "slot 5 has no record", r.ctrl.LastStatus())
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.AccessDecision.WithLabelValues("consistency_fault")))
}

func TestAccess_CorruptRecordFailsClosed(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.sensor.Enroll(2, "eva")
	require.NoError(t, r.kv.Put(ctx, store.RecordKey(2), []byte{0xff, 0x00, 0x13}))

	r.sensor.Place("eva")
	r.tick()

	assert.Empty(t, r.hw.Events())
}
