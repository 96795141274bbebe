package engine

import (
	"testing"
	"time"

	"github.com/fourstroke/ecucore/internal/corelog"
	"github.com/fourstroke/ecucore/internal/ecu/event"
	"github.com/fourstroke/ecucore/internal/ecu/output"
	"github.com/fourstroke/ecucore/internal/ecu/sched"
	"github.com/fourstroke/ecucore/internal/ecu/state"
	"github.com/fourstroke/ecucore/internal/fault"
)

func newTestTask(t *testing.T, dec *fakeDecoder) (*Task, *output.Sim, *fault.Sink, *CaptureCell) {
	t.Helper()
	drv := output.NewSim()
	die := fault.NewSink(drv, nil)
	tbl := event.NewTable(die)
	tbl.Init(dec.resolution, dec.size)
	log := corelog.New("test")
	t.Cleanup(log.Close)
	// Never Run: nothing in these tests drives the event table's
	// pending callbacks, so the work queue stays empty.
	work := sched.NewWorkQueue()
	s := NewScheduler(log, drv, work, tbl, dec)
	cell := NewCaptureCell()
	task := NewTask(log, die, cell, dec, tbl, s, drv)
	return task, drv, die, cell
}

func TestCaptureCellPostAndDrain(t *testing.T) {
	cell := NewCaptureCell()
	cell.Post(1234)
	select {
	case <-cell.sem:
	default:
		t.Fatal("Post should wake a pending receiver")
	}
	if got := cell.drain(); got != 1234 {
		t.Fatalf("drain() = %d, want 1234", got)
	}
	if got := cell.drain(); got != 0 {
		t.Fatalf("drain() after drain = %d, want 0 (cleared)", got)
	}
}

func TestTaskTransitionsToRunAndStopsStarter(t *testing.T) {
	dec := &fakeDecoder{resolution: 10, size: 72, runResult: state.Init}
	task, drv, _, cell := newTestTask(t, dec)

	drv.StarterOn()

	done := make(chan struct{})
	go func() {
		defer close(done)
		task.Run()
	}()

	dec.runResult = state.Crank
	cell.Post(5000)
	time.Sleep(20 * time.Millisecond)
	if got := task.State(); got != state.Crank {
		t.Fatalf("State() = %v, want Crank", got)
	}

	dec.runResult = state.Run
	cell.Post(3000)
	time.Sleep(20 * time.Millisecond)
	if got := task.State(); got != state.Run {
		t.Fatalf("State() = %v, want Run", got)
	}
	if drv.StarterIsOn() {
		t.Fatal("entering Run should turn the starter off")
	}

	// Stop the goroutine by killing the fault sink out of band so the
	// test doesn't leak it. Die ends whichever goroutine calls it, so it
	// runs on its own goroutine rather than the test's.
	go task.die.Die(fault.Fatal, "test teardown")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task.Run did not exit after the fault sink went dead")
	}
}

func TestTaskDiesOnRunTimeout(t *testing.T) {
	dec := &fakeDecoder{resolution: 10, size: 72, runResult: state.Run}
	task, _, die, cell := newTestTask(t, dec)

	// The timeout path ends the goroutine inside fault.Die
	// (runtime.Goexit), so done is closed by a deferred call.
	done := make(chan struct{})
	go func() {
		defer close(done)
		task.Run()
	}()

	cell.Post(3000) // first tick: enters Run state
	time.Sleep(20 * time.Millisecond)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task.Run should exit once the 100ms RUN-state timeout fires")
	}
	if !die.IsDead() {
		t.Fatal("expected a RUN-state capture timeout to be fatal")
	}
}
