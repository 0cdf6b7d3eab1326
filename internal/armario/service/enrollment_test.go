package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Armario/internal/armario/sensor"
	"github.com/BrandonDHaskell/Armario/internal/armario/service"
	"github.com/BrandonDHaskell/Armario/internal/armario/store"
	"github.com/BrandonDHaskell/Armario/internal/armario/types"
)

// ── Transition function ─────────────────────────────────────────────────────

func TestAdvance(t *testing.T) {
	tests := []struct {
		from   service.State
		event  service.Event
		want   service.State
		effect service.Effect
	}{
		{service.WaitingFirstImage, service.EventNoFinger, service.WaitingFirstImage, service.EffectNone},
		{service.WaitingFirstImage, service.EventStageCaptured, service.RemoveFinger, service.EffectNone},
		{service.WaitingFirstImage, service.EventSensorFault, service.Failure, service.EffectNone},
		{service.RemoveFinger, service.EventFingerPresent, service.RemoveFinger, service.EffectNone},
		{service.RemoveFinger, service.EventSensorFault, service.RemoveFinger, service.EffectNone},
		{service.RemoveFinger, service.EventNoFinger, service.WaitingSecondImage, service.EffectNone},
		{service.WaitingSecondImage, service.EventNoFinger, service.WaitingSecondImage, service.EffectNone},
		{service.WaitingSecondImage, service.EventTemplateStored, service.Success, service.EffectSaveRecord},
		{service.WaitingSecondImage, service.EventSensorFault, service.Failure, service.EffectNone},
		{service.WaitingSecondImage, service.EventRecordSaveFailed, service.Failure, service.EffectNone},
		{service.WaitingFirstImage, service.EventAbort, service.Aborted, service.EffectNone},
		{service.RemoveFinger, service.EventAbort, service.Aborted, service.EffectNone},
		{service.WaitingSecondImage, service.EventAbort, service.Aborted, service.EffectNone},
		{service.Idle, service.EventAbort, service.Idle, service.EffectNone},
		{service.Success, service.EventAbort, service.Success, service.EffectNone},
		{service.Idle, service.EventStageCaptured, service.Idle, service.EffectNone},
	}

	for _, tc := range tests {
		got, effect := service.Advance(tc.from, tc.event)
		assert.Equal(t, tc.want, got, "%s + event %d", tc.from, tc.event)
		assert.Equal(t, tc.effect, effect, "%s + event %d", tc.from, tc.event)
	}
}

// ── Full sessions ───────────────────────────────────────────────────────────

func TestEnrollment_SuccessInLowestFreeSlot(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.seed(t, 1, "bob", record(t, "Bob", "111", "R1", "A"))
	r.seed(t, 2, "eva", record(t, "Eva", "222", "R2", "B"))

	ana := record(t, "Ana", "123", "R9", "B")
	s, err := r.ctrl.StartEnrollment(ctx, ana)
	require.NoError(t, err)
	assert.Equal(t, 3, s.TargetSlot)

	st := r.ctrl.EnrollmentStatus()
	assert.Equal(t, service.WaitingFirstImage, st.State)
	assert.Equal(t, "place finger on the sensor", st.Message)
	assert.Equal(t, s.ID.String(), st.SessionID)

	r.tick()
	assert.Equal(t, service.WaitingFirstImage, r.ctrl.EnrollmentStatus().State)

	r.sensor.Place("ana")
	r.tick()
	assert.Equal(t, service.RemoveFinger, r.ctrl.EnrollmentStatus().State)

	r.tick()
	assert.Equal(t, service.RemoveFinger, r.ctrl.EnrollmentStatus().State, "finger still down")

	r.sensor.Lift()
	r.tick()
	assert.Equal(t, "place the same finger again", r.ctrl.EnrollmentStatus().Message)

	r.sensor.Place("ana")
	r.tick()

	st = r.ctrl.EnrollmentStatus()
	assert.Equal(t, service.Success, st.State)
	assert.Equal(t, "enrolled Ana in slot 3", st.Message)
	assert.Equal(t, 3, st.SlotID)

	assert.True(t, r.sensor.HasTemplate(ctx, 3))
	got, err := r.records.Load(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, ana, got)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.EnrollmentOutcome.WithLabelValues("success")))

	// Terminal state is shown once, then the machine is idle again.
	assert.Equal(t, service.Idle, r.ctrl.EnrollmentStatus().State)
}

func TestEnrollment_StatusGrace(t *testing.T) {
	r := newRig(t, func(c *service.Config) { c.StatusGrace = 1500 * time.Millisecond })

	_, err := r.ctrl.StartEnrollment(context.Background(), record(t, "Ana", "123", "R9", "A"))
	require.NoError(t, err)
	r.enrollWith("ana", "ana")

	assert.Equal(t, service.Success, r.ctrl.EnrollmentStatus().State)
	r.clock.Advance(time.Second)
	assert.Equal(t, service.Success, r.ctrl.EnrollmentStatus().State)
	r.clock.Advance(600 * time.Millisecond)
	assert.Equal(t, service.Idle, r.ctrl.EnrollmentStatus().State)
}

func TestEnrollment_TerminalWaitsForFirstRead(t *testing.T) {
	r := newRig(t)

	_, err := r.ctrl.StartEnrollment(context.Background(), record(t, "Ana", "123", "R9", "A"))
	require.NoError(t, err)
	r.enrollWith("ana", "ana")

	r.clock.Advance(time.Hour)
	r.tick()
	assert.Equal(t, service.Success, r.ctrl.EnrollmentStatus().State)
	assert.Equal(t, service.Idle, r.ctrl.EnrollmentStatus().State)
}

func TestEnrollment_DifferentSecondFingerFails(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	_, err := r.ctrl.StartEnrollment(ctx, record(t, "Ana", "123", "R9", "A"))
	require.NoError(t, err)
	r.enrollWith("ana", "someone-else")

	st := r.ctrl.EnrollmentStatus()
	assert.Equal(t, service.Failure, st.State)
	assert.Contains(t, st.Message, "enrollment failed")
	assert.False(t, r.sensor.HasTemplate(ctx, 1))
	assert.Equal(t, 0, r.kv.Len())
}

func TestEnrollment_CaptureFaultFails(t *testing.T) {
	r := newRig(t)

	_, err := r.ctrl.StartEnrollment(context.Background(), record(t, "Ana", "123", "R9", "A"))
	require.NoError(t, err)

	r.sensor.Fail(sensor.PrimCapture, true)
	r.tick()

	st := r.ctrl.EnrollmentStatus()
	assert.Equal(t, service.Failure, st.State)
	assert.Equal(t, "enrollment failed: image capture failed", st.Message)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.EnrollmentOutcome.WithLabelValues("failure")))
}

func TestEnrollment_StoreFaultFails(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	_, err := r.ctrl.StartEnrollment(ctx, record(t, "Ana", "123", "R9", "A"))
	require.NoError(t, err)

	r.sensor.Fail(sensor.PrimStore, true)
	r.enrollWith("ana", "ana")

	assert.Equal(t, service.Failure, r.ctrl.EnrollmentStatus().State)
	assert.False(t, r.sensor.HasTemplate(ctx, 1))
	assert.Equal(t, 0, r.kv.Len())
}

func TestEnrollment_RecordSaveFailureIsFailure(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	_, err := r.ctrl.StartEnrollment(ctx, record(t, "Ana", "123", "R9", "A"))
	require.NoError(t, err)

	r.kv.FailPuts(true)
	r.enrollWith("ana", "ana")

	st := r.ctrl.EnrollmentStatus()
	assert.Equal(t, service.Failure, st.State)
	assert.Contains(t, st.Message, "record save failed")

	// The template is orphaned: the slot is occupied but has no identity.
	assert.True(t, r.sensor.HasTemplate(ctx, 1))
	_, err = r.records.Load(ctx, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 1, r.sensor.CountTemplates(ctx))
	assert.Empty(t, r.ctrl.ListIdentities(ctx))

	// A match on the orphaned template opens nothing.
	r.kv.FailPuts(false)
	r.sensor.Place("ana")
	r.tick()
	assert.Equal(t, 0, r.hw.Count("unlock"))
}

// ── Abort ───────────────────────────────────────────────────────────────────

func TestEnrollment_AbortStopsAllWrites(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	_, err := r.ctrl.StartEnrollment(ctx, record(t, "Ana", "123", "R9", "A"))
	require.NoError(t, err)

	r.sensor.Place("ana")
	r.tick()
	require.Equal(t, service.RemoveFinger, r.ctrl.EnrollmentStatus().State)

	s, err := r.ctrl.AbortEnrollment("operator cancelled")
	require.NoError(t, err)
	assert.Equal(t, service.Aborted, s.State)

	r.sensor.Lift()
	r.tick()
	r.sensor.Place("ana")
	r.tick()
	r.tick()

	assert.False(t, r.sensor.HasTemplate(ctx, 1))
	assert.Equal(t, 0, r.kv.Len())

	st := r.ctrl.EnrollmentStatus()
	assert.Equal(t, service.Aborted, st.State)
	assert.Equal(t, "enrollment aborted: operator cancelled", st.Message)
	assert.Equal(t, service.Idle, r.ctrl.EnrollmentStatus().State)
}

func TestAbort_WithoutSession(t *testing.T) {
	r := newRig(t)

	_, err := r.ctrl.AbortEnrollment("")
	assert.ErrorIs(t, err, service.ErrNoSession)

	_, err = r.ctrl.StartEnrollment(context.Background(), record(t, "Ana", "123", "R9", "A"))
	require.NoError(t, err)
	_, err = r.ctrl.AbortEnrollment("")
	require.NoError(t, err)

	_, err = r.ctrl.AbortEnrollment("")
	assert.ErrorIs(t, err, service.ErrNoSession, "terminal session cannot be aborted")
}

// ── Start rejections ────────────────────────────────────────────────────────

func TestStart_Busy(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	first, err := r.ctrl.StartEnrollment(ctx, record(t, "Ana", "123", "R9", "A"))
	require.NoError(t, err)
	r.sensor.Place("ana")
	r.tick()

	_, err = r.ctrl.StartEnrollment(ctx, record(t, "Bob", "456", "R8", "B"))
	assert.ErrorIs(t, err, service.ErrBusy)

	st := r.ctrl.EnrollmentStatus()
	assert.Equal(t, first.ID.String(), st.SessionID)
	assert.Equal(t, service.RemoveFinger, st.State)
	assert.Equal(t, first.TargetSlot, st.SlotID)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.EnrollmentRejected.WithLabelValues("busy")))
}

func TestStart_AfterTerminalWithoutRead(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	_, err := r.ctrl.StartEnrollment(ctx, record(t, "Ana", "123", "R9", "A"))
	require.NoError(t, err)
	r.enrollWith("ana", "ana")

	s, err := r.ctrl.StartEnrollment(ctx, record(t, "Bob", "456", "R8", "B"))
	require.NoError(t, err)
	assert.Equal(t, 2, s.TargetSlot)
	assert.Equal(t, service.WaitingFirstImage, r.ctrl.EnrollmentStatus().State)
}

func TestStart_Duplicate(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.seed(t, 1, "bob", record(t, "Bob", "111", "R1", "A"))

	_, err := r.ctrl.StartEnrollment(ctx, record(t, "Other", "111", "R5", "B"))
	assert.ErrorIs(t, err, service.ErrDuplicateIdentity)

	_, err = r.ctrl.StartEnrollment(ctx, record(t, "Other", "999", "R1", "B"))
	assert.ErrorIs(t, err, service.ErrDuplicateIdentity)

	assert.Equal(t, service.Idle, r.ctrl.EnrollmentStatus().State)
	assert.Equal(t, 2.0, testutil.ToFloat64(r.metrics.EnrollmentRejected.WithLabelValues("duplicate")))
}

func TestStart_DuplicateIgnoresRecordWithoutTemplate(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	require.NoError(t, r.records.Save(ctx, 4, record(t, "Ghost", "111", "R1", "A")))

	s, err := r.ctrl.StartEnrollment(ctx, record(t, "Ana", "111", "R1", "A"))
	require.NoError(t, err)
	assert.Equal(t, 1, s.TargetSlot)
}

func TestStart_CapacityFull(t *testing.T) {
	r := newRig(t, func(c *service.Config) { c.MaxSlots = 2 })
	ctx := context.Background()
	r.seed(t, 1, "bob", record(t, "Bob", "111", "R1", "A"))
	r.seed(t, 2, "eva", record(t, "Eva", "222", "R2", "B"))

	_, err := r.ctrl.StartEnrollment(ctx, record(t, "Ana", "123", "R9", "A"))
	assert.ErrorIs(t, err, service.ErrCapacityFull)
}

func TestStart_InvalidRecord(t *testing.T) {
	r := newRig(t)

	long := types.UserRecord{Name: strings.Repeat("x", types.MaxNameLen+1), NationalID: "1", RegistrationNumber: "2", Drawer: types.DrawerA}
	_, err := r.ctrl.StartEnrollment(context.Background(), long)
	assert.ErrorIs(t, err, service.ErrInvalidRecord)

	_, err = r.ctrl.StartEnrollment(context.Background(), types.UserRecord{Name: "Ana", NationalID: "1", RegistrationNumber: "2"})
	assert.ErrorIs(t, err, service.ErrInvalidDrawer)
}

func TestStart_InvalidUTF8NeverReachesSensor(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	bad := types.UserRecord{Name: "An\xffa", NationalID: "111", RegistrationNumber: "A1", Drawer: types.DrawerA}
	_, err := r.ctrl.StartEnrollment(ctx, bad)
	require.ErrorIs(t, err, service.ErrInvalidRecord)
	assert.Equal(t, service.Idle, r.ctrl.EnrollmentStatus().State)

	r.enrollWith("ana", "ana")
	assert.Equal(t, 0, r.sensor.CountTemplates(ctx))
	assert.Equal(t, 0, r.kv.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.EnrollmentRejected.WithLabelValues("invalid")))
}

// ── Mutual exclusion with access control ────────────────────────────────────

func TestEnrollment_SuppressesAccessControl(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.seed(t, 1, "bob", record(t, "Bob", "111", "R1", "A"))

	_, err := r.ctrl.StartEnrollment(ctx, record(t, "Ana", "123", "R9", "B"))
	require.NoError(t, err)

	r.sensor.Place("bob")
	r.tick()
	r.tick()

	assert.False(t, r.hw.Unlocked(types.DrawerA))
	assert.Equal(t, 0, r.hw.Count("unlock"))

	_, err = r.ctrl.AbortEnrollment("")
	require.NoError(t, err)

	// Aborted but unread: access control resumes anyway.
	r.tick()
	assert.True(t, r.hw.Unlocked(types.DrawerA))
}
