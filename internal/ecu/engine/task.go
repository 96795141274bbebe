package engine

import (
	"sync"
	"time"

	"github.com/fourstroke/ecucore/internal/corelog"
	"github.com/fourstroke/ecucore/internal/ecu/event"
	"github.com/fourstroke/ecucore/internal/ecu/output"
	"github.com/fourstroke/ecucore/internal/ecu/state"
	"github.com/fourstroke/ecucore/internal/ecu/trigger"
	"github.com/fourstroke/ecucore/internal/fault"
)

// engineRunTimeout is the watchdog window once the engine is in Run:
// a tooth must arrive within this long or something has stalled (the
// original's OSSemPend(engine_event, 100, &err) with a 100ms timeout).
const engineRunTimeout = 100 * time.Millisecond

// CaptureCell is the single-slot mailbox the tooth source writes and
// the Engine Task drains, standing in for the original's
// `volatile unsigned short capture_t` plus the semaphore post. Safe
// for one writer and one reader.
type CaptureCell struct {
	mu    sync.Mutex
	value uint16
	sem   chan struct{}
}

// NewCaptureCell builds an empty cell.
func NewCaptureCell() *CaptureCell {
	return &CaptureCell{sem: make(chan struct{}, 1)}
}

// Post is called by the tooth source: stores period (the elapsed usec
// since the previous tooth) and wakes the Task.
func (c *CaptureCell) Post(period uint16) {
	c.mu.Lock()
	c.value = period
	c.mu.Unlock()
	select {
	case c.sem <- struct{}{}:
	default:
	}
}

// drain reads and clears the stored period, mirroring the original's
// "t = capture_t; capture_t = 0" under OS_ENTER_CRITICAL.
func (c *CaptureCell) drain() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.value
	c.value = 0
	return t
}

// Task is the Engine Task goroutine: waits for a tooth capture, feeds
// the decoder, tracks EngineState transitions, and drives the event
// table's pending callback. Grounded on engine.c's engine_thread.
type Task struct {
	log   *corelog.Logger
	die   *fault.Sink
	cell  *CaptureCell
	dec   trigger.Decoder
	table *event.Table
	sched *Scheduler
	drv   output.Driver

	state state.Engine

	// traceLoopTiming logs each loop iteration's wall-clock latency
	// (__LOOP_TIMING_TEST__'s get_monotonic_time() - curr_time probe).
	traceLoopTiming bool
}

// NewTask builds a Task. Register must already have been called on
// sched (via sched.Register()) before Run starts.
func NewTask(log *corelog.Logger, die *fault.Sink, cell *CaptureCell, dec trigger.Decoder, table *event.Table, sched *Scheduler, drv output.Driver) *Task {
	return &Task{
		log:   log,
		die:   die,
		cell:  cell,
		dec:   dec,
		table: table,
		sched: sched,
		drv:   drv,
		state: state.Stop,
	}
}

// State reports the last-observed top-level engine state.
func (t *Task) State() state.Engine { return t.state }

// SetLoopTimingTrace turns the loop-latency probe on or off at
// runtime (ecuconfig.LoopTimingTrace).
func (t *Task) SetLoopTimingTrace(on bool) { t.traceLoopTiming = on }

// Run is the engine_thread loop. It returns once the fault sink has
// gone dead. When Run itself raises the RUN-state capture timeout,
// fault.Die ends the goroutine instead of returning.
func (t *Task) Run() {
	t.log.Printf("STOP")
	lastWake := time.Now()

	for {
		if t.die.IsDead() {
			return
		}

		if t.state == state.Run {
			select {
			case <-t.cell.sem:
			case <-t.die.Dead():
				return
			case <-time.After(engineRunTimeout):
				t.die.Die(fault.ErrTimeout, "no tooth capture within %s while RUN", engineRunTimeout)
				return
			}
		} else {
			select {
			case <-t.cell.sem:
			case <-t.die.Dead():
				return
			}
		}

		period := t.cell.drain()

		if t.traceLoopTiming {
			now := time.Now()
			t.log.Printf("LOOP %s", now.Sub(lastWake))
			lastWake = now
		}

		newState := t.dec.Run(period)

		if newState != t.state {
			switch newState {
			case state.Init:
				t.log.Printf("INIT")
			case state.Crank:
				t.log.Printf("CRANK")
			case state.Run:
				t.log.Printf("RUN")
				t.drv.StarterOff()
			}
		}
		t.state = newState

		t.table.Callback()
	}
}
