package engine

import (
	"io"
	"testing"

	"github.com/fourstroke/ecucore/internal/corelog"
	"github.com/fourstroke/ecucore/internal/ecu/event"
	"github.com/fourstroke/ecucore/internal/ecu/output"
	"github.com/fourstroke/ecucore/internal/ecu/sched"
	"github.com/fourstroke/ecucore/internal/ecu/state"
	"github.com/fourstroke/ecucore/internal/fault"
)

// fakeDecoder is a canned trigger.Decoder for exercising the scheduler
// and task without a real tooth wheel.
type fakeDecoder struct {
	rpm        int
	resolution int
	size       int
	runResult  state.Engine
}

func (f *fakeDecoder) Run(uint16) state.Engine   { return f.runResult }
func (f *fakeDecoder) RPM() int                  { return f.rpm }
func (f *fakeDecoder) DegToUsec(deg int) uint32  { return uint32(deg) * 10 }
func (f *fakeDecoder) Resolution() int           { return f.resolution }
func (f *fakeDecoder) TableSize() int            { return f.size }
func (f *fakeDecoder) SetRecordSink(io.Writer)   {}

func newTestScheduler(t *testing.T) (*Scheduler, *output.Sim, *event.Table, *fakeDecoder) {
	t.Helper()
	drv := output.NewSim()
	die := fault.NewSink(drv, nil)
	tbl := event.NewTable(die)
	tbl.Init(10, 72)
	dec := &fakeDecoder{resolution: 10, size: 72, runResult: state.Run}
	log := corelog.New("test")
	t.Cleanup(log.Close)
	work := sched.NewWorkQueue()
	s := NewScheduler(log, drv, work, tbl, dec)
	return s, drv, tbl, dec
}

func TestSchedulerRegistersTwelveEvents(t *testing.T) {
	s, _, tbl, _ := newTestScheduler(t)
	s.Register()

	// Each of the 4 phases registers 3 events (BTDC-140, BTDC-40, BTDC-0).
	count := 0
	for deg := 0; deg < 720; deg += 10 {
		tbl.SetPosition(deg / 10)
		tbl.Tick(0)
		if tbl.Pending() {
			count++
			tbl.Callback()
		}
	}
	if count != 12 {
		t.Fatalf("got %d registered slots hit, want 12", count)
	}
}

func TestWastedSparkBootTable(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)
	entries := s.Entries()

	if !entries[0].Coil.IsPair() {
		t.Fatal("boot-time entry 0 coil should start wasted-spark paired")
	}
	if got, want := entries[0].Degree, 0; got != want {
		t.Fatalf("entries[0].Degree = %d, want %d", got, want)
	}
	if got, want := entries[3].Degree, 540; got != want {
		t.Fatalf("entries[3].Degree = %d, want %d", got, want)
	}
}

func TestBtdcZeroFixedModeFiresCoilAndInjector(t *testing.T) {
	s, drv, tbl, _ := newTestScheduler(t)
	s.SetFuelMsec(6)
	s.Register()

	// BTDC-40 (safe dwell) for phase 0 is at degree 680; BTDC-0 at 0.
	tbl.SetPosition(68)
	tbl.Tick(0)
	tbl.Callback()
	if !drv.CoilOpen(output.Cyl1) {
		t.Fatal("Fixed-mode BTDC-40 should dwell (open) the coil")
	}

	tbl.SetPosition(0)
	tbl.Tick(0)
	tbl.Callback()

	if !drv.InjectorOpen(output.Cyl1) {
		t.Fatal("expected cylinder 1's injector to be open right after BTDC-0 fires in Fixed mode")
	}
	// Fixed mode fires (closes) the coil immediately too.
	if drv.CoilOpen(output.Cyl1) {
		t.Fatal("Fixed-mode BTDC-0 should close the coil that was dwelling")
	}
	if s.DwellEvents() != 1 {
		t.Fatalf("DwellEvents() = %d, want 1", s.DwellEvents())
	}
	if s.InjEvents() != 1 {
		t.Fatalf("InjEvents() = %d, want 1", s.InjEvents())
	}
}

func TestRegisterAdvancedModeUsesBTDC10SafetyFallback(t *testing.T) {
	s, drv, tbl, _ := newTestScheduler(t)
	s.SetTimingMode(Advanced)
	s.Register()

	// Phase 0 in Advanced mode: BTDC-140 -> slot 58, BTDC-10 safety
	// fallback -> slot 71, BTDC-0 -> slot 0.
	drv.OpenCoil(output.Pair(output.Cyl1, output.Cyl2), drv.NowUsec())

	tbl.SetPosition(71)
	tbl.Tick(0)
	tbl.Callback()

	if drv.CoilOpen(output.Cyl1) {
		t.Fatal("BTDC-10 safety fallback should force the coil closed in Advanced mode")
	}
	if s.DwellEvents() != 1 {
		t.Fatalf("DwellEvents() = %d, want 1", s.DwellEvents())
	}
}

func TestBtdcZeroSchedulesFuelClose(t *testing.T) {
	s, _, tbl, _ := newTestScheduler(t)
	s.SetFuelMsec(6)
	s.Register()
	work := sched.NewWorkQueue()
	s.work = work

	tbl.SetPosition(0)
	tbl.Tick(0)
	tbl.Callback()

	if work.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 pending fuel-close work item", work.Len())
	}
}

func TestTrimToSequentialLocksAfterSixteenSamples(t *testing.T) {
	s, _, _, dec := newTestScheduler(t)
	dec.rpm = 3000
	s.SetTrimFlag(true)

	for i := 0; i < 16; i++ {
		s.trimToSequential()
	}
	if s.TrimState() != 1 {
		t.Fatalf("TrimState() = %d, want 1 after exactly 16 RPM samples", s.TrimState())
	}
	if s.minRPM != 3000-3000/10 {
		t.Fatalf("minRPM = %d, want %d", s.minRPM, 3000-3000/10)
	}
}

func TestTrimToSequentialResolvesToZeroDegWhenRPMHolds(t *testing.T) {
	s, _, _, dec := newTestScheduler(t)
	dec.rpm = 3000
	s.SetTrimFlag(true)

	for i := 0; i < 16; i++ {
		s.trimToSequential() // -> state 1
	}
	s.trimToSequential() // -> state 2, halves the pairing

	for i := 0; i < 11; i++ {
		s.trimToSequential()
	}

	if s.TrimState() != -1 {
		t.Fatalf("TrimState() = %d, want -1 (resolved) once RPM holds for >10 samples", s.TrimState())
	}
	entries := s.Entries()
	for i, e := range entries {
		if e.Coil.IsPair() {
			t.Fatalf("entries[%d].Coil is still paired after resolving to TDC1@0deg", i)
		}
	}
}

func TestTrimToSequentialRecoversThenResolvesTo360(t *testing.T) {
	s, _, _, dec := newTestScheduler(t)
	dec.rpm = 3000
	s.SetTrimFlag(true)

	for i := 0; i < 16; i++ {
		s.trimToSequential() // -> state 1
	}
	s.trimToSequential() // -> state 2

	dec.rpm = 100 // well below minRPM: force recovery
	s.trimToSequential()
	if s.TrimState() != 3 {
		t.Fatalf("TrimState() = %d, want 3 after an RPM drop in state 2", s.TrimState())
	}

	dec.rpm = 3000 // recovered
	s.trimToSequential()
	if s.TrimState() != 4 {
		t.Fatalf("TrimState() = %d, want 4 once RPM recovers", s.TrimState())
	}
	s.trimToSequential()
	if s.TrimState() != -1 {
		t.Fatalf("TrimState() = %d, want -1 (resolved to TDC1@360deg)", s.TrimState())
	}
}

func TestTrimFlagDisabledNeverRuns(t *testing.T) {
	s, _, tbl, dec := newTestScheduler(t)
	dec.rpm = 3000
	s.SetFuelMsec(6)
	s.Register()
	// trimFlag left false: repeatedly firing BTDC-0 for cookie 0 must
	// never advance the trim state machine.
	for i := 0; i < 20; i++ {
		tbl.SetPosition(0)
		tbl.Tick(0)
		tbl.Callback()
	}
	if s.TrimState() != 0 {
		t.Fatalf("TrimState() = %d, want 0 (never armed) with trimFlag disabled", s.TrimState())
	}
}
