// Package engine implements the ignition/fuel state machine (§4.E of
// the spec) and the Engine Task goroutine that drives it (§4.F),
// grounded on original_source/engine.c.
package engine

import (
	"time"

	"github.com/fourstroke/ecucore/internal/corelog"
	"github.com/fourstroke/ecucore/internal/ecu/event"
	"github.com/fourstroke/ecucore/internal/ecu/output"
	"github.com/fourstroke/ecucore/internal/ecu/sched"
	"github.com/fourstroke/ecucore/internal/ecu/trigger"
)

// TimingMode selects whether the BTDC-0 event fires the coil/injector
// directly (no CAM, no advance — the "safe" boot default) or defers the
// coil to the work queue for a computed advance point. engine.c's two
// compiled-in variants become one Scheduler with this bool-like enum
// rather than the same four-entry table copy-pasted twice. The mode in
// effect when Register runs also picks the middle BTDC event (BTDC-40
// in Fixed, BTDC-10 in Advanced).
type TimingMode int

const (
	// Fixed fires ignition/fuel directly at BTDC-0/BTDC-40, no advance.
	Fixed TimingMode = iota
	// Advanced projects ahead to curr_time+deg_to_usec(140-advance) and
	// schedules dwell/fire through the work queue.
	Advanced
)

// ScheduleEntry is one of the four TDC phase slots (engine.c's
// four_stroke[]). Degree is BTDC-0 (TDC) position for this phase; Coil
// and Fuel start wasted-spark-paired and are narrowed to Single once
// TrimToSequential locks phase.
type ScheduleEntry struct {
	Degree int
	Coil   output.Cylinder
	Fuel   output.Cylinder
}

const (
	btdcAdvance = 140

	// btdcSafeDwellFixed is the BTDC-40 dwell offset engine.c's single
	// compiled-in variant uses when timing advance is disabled.
	btdcSafeDwellFixed = 40
	// btdcSafeDwellAdvanced is the BTDC-10 variant's offset: a safety
	// fallback that forces the coil closed in case the advance-computed
	// close scheduled by btdcAdvance was missed.
	btdcSafeDwellAdvanced = 10
)

// wastedSpark is the boot-time table: TDC1 is unknown to be at 0deg or
// 360deg without a CAM signal, so every coil fires both its own
// cylinder and its 360-degree-opposite twin (wasted spark) until
// TrimToSequential narrows it down.
func wastedSpark() [4]ScheduleEntry {
	return [4]ScheduleEntry{
		{Degree: 0, Coil: output.Pair(output.Cyl1, output.Cyl2), Fuel: output.Single(output.Cyl1)},
		{Degree: 180, Coil: output.Pair(output.Cyl3, output.Cyl4), Fuel: output.Single(output.Cyl3)},
		{Degree: 360, Coil: output.Pair(output.Cyl2, output.Cyl1), Fuel: output.Single(output.Cyl2)},
		{Degree: 540, Coil: output.Pair(output.Cyl4, output.Cyl3), Fuel: output.Single(output.Cyl4)},
	}
}

// Scheduler owns the four-entry schedule table, the wasted-spark to
// sequential trim state machine, and registers the three BTDC events
// per cylinder on an event.Table.
type Scheduler struct {
	log *corelog.Logger

	driver output.Driver
	work   *sched.WorkQueue
	table  *event.Table
	dec    trigger.Decoder

	mode            TimingMode
	timingAdvance   int
	fuelMsec        int
	trimFlag        bool

	entries [4]ScheduleEntry

	// trim_to_sequential state
	trimState int // -1 once resolved, 0..4 while running
	trimCtr   int
	avgRPM    int
	minRPM    int

	// debug-probe counters (__DWELL_TEST__/__INJ_TEST__ equivalent),
	// touched only from the engine task goroutine via table.Callback.
	dwellEvents int
	injEvents   int
}

// NewScheduler builds a Scheduler wired to driver/work/table/dec. Call
// Register before the decoder starts producing ticks.
func NewScheduler(log *corelog.Logger, driver output.Driver, work *sched.WorkQueue, table *event.Table, dec trigger.Decoder) *Scheduler {
	return &Scheduler{
		log:     log,
		driver:  driver,
		work:    work,
		table:   table,
		dec:     dec,
		entries: wastedSpark(),
		trimCtr: 0,
	}
}

// SetTimingAdvance sets the 0..40 degree advance value (clamped by the
// CLI, not here).
func (s *Scheduler) SetTimingAdvance(deg int) { s.timingAdvance = deg }

// SetTimingMode toggles between Fixed (safe boot default) and Advanced.
func (s *Scheduler) SetTimingMode(m TimingMode) { s.mode = m }

// ToggleTimingAdvanceEnabled flips between Fixed and Advanced mode (the
// CLI's 's' command toggling timing_advance_enabled) and reports the
// resulting state.
func (s *Scheduler) ToggleTimingAdvanceEnabled() bool {
	if s.mode == Advanced {
		s.mode = Fixed
	} else {
		s.mode = Advanced
	}
	return s.mode == Advanced
}

// TimingMode reports the current mode, for telemetry.
func (s *Scheduler) TimingMode() TimingMode { return s.mode }

// TimingAdvanceDeg reports the current advance setting, for telemetry.
func (s *Scheduler) TimingAdvanceDeg() int { return s.timingAdvance }

// FuelMsecVal reports the current injector-open duration, for telemetry.
func (s *Scheduler) FuelMsecVal() int { return s.fuelMsec }

// TrimFlagVal reports whether the wasted-spark-to-sequential trim is
// armed, for telemetry.
func (s *Scheduler) TrimFlagVal() bool { return s.trimFlag }

// SetFuelMsec sets the injector-open duration in milliseconds.
func (s *Scheduler) SetFuelMsec(msec int) { s.fuelMsec = msec }

// SetTrimFlag arms the wasted-spark-to-sequential trim (normally set
// once by the CLI's 't' command).
func (s *Scheduler) SetTrimFlag(on bool) { s.trimFlag = on }

// Register binds the three BTDC events for all four phases onto table:
// BTDC-140 always, BTDC-0 always, and a middle event whose offset picks
// the engine.c variant per the current TimingMode — BTDC-10 (the
// advance-enabled safety fallback) when mode is Advanced, BTDC-40 (the
// fixed-timing safe dwell) otherwise. Call SetTimingMode before
// Register if booting into Advanced; the table's topology is fixed at
// Register time and does not move if the mode is toggled afterward.
func (s *Scheduler) Register() {
	k := btdcSafeDwellFixed
	if s.mode == Advanced {
		k = btdcSafeDwellAdvanced
	}
	for i := range s.entries {
		cookie := uint8(i)
		deg := s.entries[i].Degree
		s.table.Register(deg-btdcAdvance, s.btdcAdvance, cookie)
		s.table.Register(deg-k, s.btdcSafeDwell, cookie)
		s.table.Register(deg, s.btdcZero, cookie)
	}
}

// curr_time equivalent: each callback reads "now" in usec from the
// driver's monotonic clock at the moment it fires.
func (s *Scheduler) btdcAdvance(cookie uint8) {
	entry := &s.entries[cookie]
	if s.mode != Advanced {
		return
	}
	now := s.driver.NowUsec()
	delay := s.dec.DegToUsec(btdcAdvance - s.timingAdvance)
	deadline := time.Unix(0, 0).Add(time.Duration(now+uint64(delay)) * time.Microsecond)
	dwellDeadline := deadline.Add(-5000 * time.Microsecond)
	coil := entry.Coil
	s.work.Schedule(func(int) { s.driver.OpenCoil(coil, s.driver.NowUsec()) }, 0, dwellDeadline)
	s.work.Schedule(func(int) { s.driver.CloseCoil(coil, s.driver.NowUsec()) }, 0, deadline)
	s.log.Printf("ADVANCE %s: %d", coil, entry.Degree)
}

func (s *Scheduler) btdcSafeDwell(cookie uint8) {
	entry := &s.entries[cookie]
	s.dwellEvents++
	if s.mode == Advanced {
		// BTDC-10 safety fallback: force the coil closed in case the
		// advance-computed close scheduled by btdcAdvance was missed.
		s.driver.CloseCoil(entry.Coil, s.driver.NowUsec())
		s.log.Printf("FORCE CLOSE %s: %d", entry.Coil, entry.Degree)
		return
	}
	s.driver.OpenCoil(entry.Coil, s.driver.NowUsec())
	s.log.Printf("SAFE DWELL %s: %d", entry.Coil, entry.Degree)
}

func (s *Scheduler) btdcZero(cookie uint8) {
	entry := &s.entries[cookie]

	if s.mode != Advanced {
		s.driver.CloseCoil(entry.Coil, s.driver.NowUsec())
		s.log.Printf("SAFE FIRE %s: %d", entry.Coil, entry.Degree)
	}

	if err := s.driver.OpenInjector(entry.Fuel); err != nil {
		s.log.Printf("FUEL open %s failed: %v", entry.Fuel, err)
	} else {
		s.injEvents++
		now := s.driver.NowUsec()
		fuelUsec := uint64(s.fuelMsec) * 1000
		deadline := time.Unix(0, 0).Add(time.Duration(now+fuelUsec) * time.Microsecond)
		fuel := entry.Fuel
		s.work.Schedule(func(int) { s.driver.CloseInjector(fuel, s.driver.NowUsec()) }, 0, deadline)
	}
	s.log.Printf("FUEL %s: %d", entry.Fuel, entry.Degree)

	if cookie == 0 && s.trimFlag {
		s.trimToSequential()
	}
}

// trimToSequential reproduces engine.c's trim_to_sequential verbatim:
// average 16 RPM samples, take down half the wasted-spark pairing,
// watch whether RPM holds within 10% to infer TDC1's true phase, then
// lock the remaining pairs to sequential. Once trimState reaches -1 it
// never runs again until the Scheduler is rebuilt.
func (s *Scheduler) trimToSequential() {
	if s.trimState == -1 {
		return
	}

	r := s.dec.RPM()

	switch s.trimState {
	case 0:
		s.avgRPM += r
		s.trimCtr++
		if s.trimCtr >= 16 {
			s.avgRPM >>= 4
			s.minRPM = s.avgRPM - s.avgRPM/10
			s.log.Printf("Target RPM >= %d", s.minRPM)
			s.trimCtr = 0
			s.trimState = 1
		}
	case 1:
		s.entries[0].Coil = output.Single(output.Cyl1)
		s.entries[1].Coil = output.Single(output.Cyl3)
		s.trimState = 2
	case 2:
		s.trimCtr++
		if s.trimCtr > 10 && r >= s.minRPM {
			s.tdc1At(0)
			s.trimState = -1
			break
		}
		if r < s.minRPM {
			s.log.Printf("RECOVER TDC1 @0deg")
			s.entries[0].Coil = output.Pair(output.Cyl1, output.Cyl2)
			s.entries[1].Coil = output.Pair(output.Cyl3, output.Cyl4)
			s.trimState = 3
		}
	case 3:
		if r >= s.minRPM {
			s.trimState = 4
		}
	case 4:
		s.tdc1At(360)
		s.trimState = -1
	}
}

// tdc1At finalizes every entry's coil/fuel cylinder once TDC1's true
// phase (0 or 360 degrees) is known.
func (s *Scheduler) tdc1At(deg int) {
	if deg == 0 {
		s.log.Printf("TDC1 @0deg")
		s.entries[0].Coil, s.entries[0].Fuel = output.Single(output.Cyl1), output.Single(output.Cyl1)
		s.entries[1].Coil, s.entries[1].Fuel = output.Single(output.Cyl3), output.Single(output.Cyl3)
		s.entries[2].Coil, s.entries[2].Fuel = output.Single(output.Cyl2), output.Single(output.Cyl2)
		s.entries[3].Coil, s.entries[3].Fuel = output.Single(output.Cyl4), output.Single(output.Cyl4)
		return
	}
	s.log.Printf("TDC1 @360deg")
	s.entries[0].Coil, s.entries[0].Fuel = output.Single(output.Cyl2), output.Single(output.Cyl2)
	s.entries[1].Coil, s.entries[1].Fuel = output.Single(output.Cyl4), output.Single(output.Cyl4)
	s.entries[2].Coil, s.entries[2].Fuel = output.Single(output.Cyl1), output.Single(output.Cyl1)
	s.entries[3].Coil, s.entries[3].Fuel = output.Single(output.Cyl3), output.Single(output.Cyl3)
}

// Entries returns a snapshot of the four phase slots, for tests and
// telemetry — the Engine Task is the only writer, so no lock needed.
func (s *Scheduler) Entries() [4]ScheduleEntry { return s.entries }

// TrimState reports the trim state machine's current state (-1 once
// resolved), for tests.
func (s *Scheduler) TrimState() int { return s.trimState }

// DwellEvents reports how many times a coil dwell boundary fired
// (BTDC-40 safe dwell in Fixed mode, BTDC-10 safety fallback in
// Advanced mode) — the __DWELL_TEST__ probe counter, dumped by the
// CLI's 'd' command when debug probes are enabled.
func (s *Scheduler) DwellEvents() int { return s.dwellEvents }

// InjEvents reports how many times an injector pulse was opened — the
// __INJ_TEST__ probe counter, dumped by the CLI's 'd' command.
func (s *Scheduler) InjEvents() int { return s.injEvents }
