// Package ecu wires the engine core's subsystems (trigger decoder,
// angle event table, scheduler, work queue, engine task) into a single
// value, per the "Global mutable state -> ecu.Core struct" design
// note: one place owns the wiring so cmd/ecusim and tests construct
// exactly one thing.
package ecu

import (
	"context"

	"github.com/fourstroke/ecucore/internal/corelog"
	"github.com/fourstroke/ecucore/internal/ecu/engine"
	"github.com/fourstroke/ecucore/internal/ecu/event"
	"github.com/fourstroke/ecucore/internal/ecu/output"
	"github.com/fourstroke/ecucore/internal/ecu/sched"
	"github.com/fourstroke/ecucore/internal/ecu/trigger"
	"github.com/fourstroke/ecucore/internal/fault"
	"github.com/fourstroke/ecucore/internal/telemetry"
)

// Core is the fully-wired engine: one trigger decoder driving one
// angle event table, one scheduler registered against it, one deferred
// work queue, and the engine task goroutine tying them together.
type Core struct {
	Driver  output.Driver
	Die     *fault.Sink
	Work    *sched.WorkQueue
	Table   *event.Table
	Decoder trigger.Decoder
	Sched   *engine.Scheduler
	Task    *engine.Task
	Cell    *engine.CaptureCell

	log *corelog.Logger
}

// NewDecoder builds a trigger.Decoder bound to die and ticker — the
// shape of trigger.NewSubaru36222/NewHyundai60x2. Core needs this as a
// factory rather than a ready-made Decoder because the decoder itself
// must be wired to the very angle-event table Core constructs.
type NewDecoder func(die *fault.Sink, ticker trigger.EventTicker) trigger.Decoder

// IgnitionConfig seeds the scheduler's boot-time tunables. Must be
// applied before Scheduler.Register runs: TimingAdvanceEnabled picks
// which of engine.c's two compiled-in variants (BTDC-10 vs BTDC-40)
// Register binds into the angle event table, and that topology does
// not move once Register has run.
type IgnitionConfig struct {
	FuelMsec             int
	TimingAdvance        int
	TimingAdvanceEnabled bool
	TrimFlag             bool
}

// New builds a Core over driver, calling newDec to construct the
// trigger decoder once the fault sink and angle event table it depends
// on exist. ignition's fields are applied to the scheduler before
// Register() runs, so the angle table's topology reflects the boot
// configuration. The caller can start feeding tooth periods
// immediately after Start.
func New(driver output.Driver, newDec NewDecoder, ignition IgnitionConfig) *Core {
	log := corelog.New("engine")
	die := fault.NewSink(driver, log.Printf)

	work := sched.NewWorkQueue()

	table := event.NewTable(die)
	dec := newDec(die, table)
	table.Init(dec.Resolution(), dec.TableSize())

	schedr := engine.NewScheduler(log, driver, work, table, dec)
	schedr.SetFuelMsec(ignition.FuelMsec)
	schedr.SetTimingAdvance(ignition.TimingAdvance)
	schedr.SetTrimFlag(ignition.TrimFlag)
	if ignition.TimingAdvanceEnabled {
		schedr.SetTimingMode(engine.Advanced)
	}
	schedr.Register()

	cell := engine.NewCaptureCell()
	task := engine.NewTask(log, die, cell, dec, table, schedr, driver)

	return &Core{
		Driver:  driver,
		Die:     die,
		Work:    work,
		Table:   table,
		Decoder: dec,
		Sched:   schedr,
		Task:    task,
		Cell:    cell,
		log:     log,
	}
}

// Start launches the work queue and engine task goroutines. Stops
// when ctx is cancelled (the work queue) or the fault sink goes dead
// (the engine task).
func (c *Core) Start(ctx context.Context) {
	go c.Work.Run(ctx)
	go c.Task.Run()
}

// PostTooth feeds one tooth period (usec since the previous tooth)
// into the core, standing in for the tooth ISR's capture_t write plus
// semaphore post.
func (c *Core) PostTooth(periodUsec uint16) {
	c.Cell.Post(periodUsec)
}

// Close releases the core's background logger. Not safe to call
// concurrently with an in-flight PostTooth or Start.
func (c *Core) Close() {
	c.log.Close()
}

// Snapshot builds a telemetry.Frame from the core's current state, for
// the flight recorder and the dashboard's broadcast loop. Safe to call
// from any goroutine: Entries/TrimState/RPM are all read-only
// snapshots over plain fields the engine task is the sole writer of.
func (c *Core) Snapshot() telemetry.Frame {
	return telemetry.Frame{
		State:         c.Task.State(),
		RPM:           c.Decoder.RPM(),
		TimingMode:    c.Sched.TimingMode(),
		TimingAdvance: c.Sched.TimingAdvanceDeg(),
		FuelMsec:      c.Sched.FuelMsecVal(),
		TrimState:     c.Sched.TrimState(),
		TrimFlag:      c.Sched.TrimFlagVal(),
		Entries:       c.Sched.Entries(),
	}
}
