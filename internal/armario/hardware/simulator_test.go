package hardware_test

import (
	"testing"

	"github.com/BrandonDHaskell/Armario/internal/armario/hardware"
	"github.com/BrandonDHaskell/Armario/internal/armario/types"
)

func TestSimulator_EventLogIsBounded(t *testing.T) {
	sim := hardware.NewSimulator()

	for range 3 * hardware.MaxEvents {
		if err := sim.SoundAlert(); err != nil {
			t.Fatalf("SoundAlert: %v", err)
		}
	}
	if err := sim.SetUnlocked(types.DrawerB, true); err != nil {
		t.Fatalf("SetUnlocked: %v", err)
	}

	events := sim.Events()
	if len(events) != hardware.MaxEvents {
		t.Fatalf("expected %d events, got %d", hardware.MaxEvents, len(events))
	}
	last := events[len(events)-1]
	if last.Kind != "unlock" || last.Drawer != types.DrawerB {
		t.Errorf("expected newest event kept, got %+v", last)
	}
	if got := sim.Count("alert"); got != hardware.MaxEvents-1 {
		t.Errorf("expected %d alerts retained, got %d", hardware.MaxEvents-1, got)
	}
	if !sim.Unlocked(types.DrawerB) {
		t.Error("state must not depend on the log")
	}
}

func TestSimulator_InvalidDrawerNotLogged(t *testing.T) {
	sim := hardware.NewSimulator()

	if err := sim.SetUnlocked(types.Drawer(9), true); err == nil {
		t.Fatal("expected error for invalid drawer")
	}
	if n := len(sim.Events()); n != 0 {
		t.Errorf("expected empty log, got %d events", n)
	}
}
