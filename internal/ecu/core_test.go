package ecu

import (
	"context"
	"testing"
	"time"

	"github.com/fourstroke/ecucore/internal/ecu/engine"
	"github.com/fourstroke/ecucore/internal/ecu/output"
	"github.com/fourstroke/ecucore/internal/ecu/state"
	"github.com/fourstroke/ecucore/internal/ecu/trigger"
	"github.com/fourstroke/ecucore/internal/fault"
)

func TestCoreWiresSubaruDecoderAndSurvivesCrankingTeeth(t *testing.T) {
	drv := output.NewSim()
	core := New(drv, func(die *fault.Sink, ticker trigger.EventTicker) trigger.Decoder {
		return trigger.NewSubaru36222(die, ticker)
	}, IgnitionConfig{FuelMsec: 6})
	defer core.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	core.Start(ctx)

	// A few teeth at a cranking-speed period should not kill the core.
	for i := 0; i < 20; i++ {
		core.PostTooth(3000)
	}
	time.Sleep(20 * time.Millisecond)

	if core.Die.IsDead() {
		t.Fatal("core died while fed plausible cranking-speed teeth")
	}
	if core.Task.State() == state.Dead {
		t.Fatal("task state should not be Dead")
	}
}

func TestCoreSnapshotReflectsSchedulerState(t *testing.T) {
	drv := output.NewSim()
	core := New(drv, func(die *fault.Sink, ticker trigger.EventTicker) trigger.Decoder {
		return trigger.NewHyundai60x2(die, ticker)
	}, IgnitionConfig{})
	defer core.Close()

	core.Sched.SetFuelMsec(9)
	snap := core.Snapshot()
	if snap.FuelMsec != 9 {
		t.Fatalf("Snapshot().FuelMsec = %d, want 9", snap.FuelMsec)
	}
	if len(snap.Entries) != 4 {
		t.Fatalf("Snapshot().Entries has %d entries, want 4", len(snap.Entries))
	}
}

func TestCoreAppliesAdvancedModeBeforeRegistering(t *testing.T) {
	drv := output.NewSim()
	core := New(drv, func(die *fault.Sink, ticker trigger.EventTicker) trigger.Decoder {
		return trigger.NewSubaru36222(die, ticker)
	}, IgnitionConfig{TimingAdvanceEnabled: true, TimingAdvance: 15})
	defer core.Close()

	if core.Sched.TimingMode() != engine.Advanced {
		t.Fatal("IgnitionConfig.TimingAdvanceEnabled should set Advanced mode before Register runs")
	}
	if core.Sched.TimingAdvanceDeg() != 15 {
		t.Fatalf("TimingAdvanceDeg() = %d, want 15", core.Sched.TimingAdvanceDeg())
	}
}
