package event

import (
	"testing"

	"github.com/fourstroke/ecucore/internal/fault"
)

type nopCloser struct{}

func (nopCloser) CloseAll() {}

func newTestTable(t *testing.T) *Table {
	t.Helper()
	die := fault.NewSink(nopCloser{}, nil)
	tbl := NewTable(die)
	tbl.Init(10, 72)
	return tbl
}

// runFatal runs fn on its own goroutine and waits for it to finish.
// fault.Sink.Die ends the calling goroutine via runtime.Goexit, so a
// call that may hit a fatal path must not run on the test goroutine.
func runFatal(fn func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	<-done
}

func TestTableInitRejectsWrongSize(t *testing.T) {
	die := fault.NewSink(nopCloser{}, nil)
	tbl := NewTable(die)
	runFatal(func() { tbl.Init(10, 71) })
	select {
	case <-die.Dead():
	default:
		t.Fatal("expected Init with a mismatched size to be fatal")
	}
}

func TestRegisterAndTick(t *testing.T) {
	tbl := newTestTable(t)

	var fired uint8
	tbl.Register(0, func(cookie uint8) { fired = cookie }, 7)

	tbl.SetPosition(0)
	tbl.Tick(0)

	if !tbl.Pending() {
		t.Fatal("expected a pending event after ticking onto slot 0")
	}
	tbl.Callback()
	if fired != 7 {
		t.Fatalf("got cookie %d, want 7", fired)
	}
	if tbl.Pending() {
		t.Fatal("Callback should have cleared pending")
	}
}

func TestTickWithoutRegisteredSlotLeavesNoPending(t *testing.T) {
	tbl := newTestTable(t)
	tbl.Tick(0)
	if tbl.Pending() {
		t.Fatal("ticking an empty slot must not set pending")
	}
}

func TestCallbackIsNoopWhenNothingPending(t *testing.T) {
	tbl := newTestTable(t)
	tbl.Callback() // must not panic
}

func TestDoublePendingIsFatal(t *testing.T) {
	tbl := newTestTable(t)
	tbl.Register(0, func(uint8) {}, 0)
	tbl.Register(10, func(uint8) {}, 0)

	tbl.SetPosition(0)
	tbl.Tick(0) // now pending == 0, index advances to 1

	// Force index back onto slot 0 without clearing pending, then tick
	// again — this is the double-publish the original guards against.
	tbl.SetPosition(0)
	runFatal(func() { tbl.Tick(0) })

	select {
	case <-tbl.die.Dead():
	default:
		t.Fatal("expected a second Tick onto a registered slot while pending to be fatal")
	}
}

func TestSyntheticTickOntoRegisteredSlotIsFatal(t *testing.T) {
	tbl := newTestTable(t)
	tbl.Register(0, func(uint8) {}, 0)
	tbl.SetPosition(0)

	runFatal(func() { tbl.Tick(-1) })

	select {
	case <-tbl.die.Dead():
	default:
		t.Fatal("expected a synthetic tick (flag<0) landing on a registered slot to be fatal")
	}
}

func TestRegisterCollisionIsFatal(t *testing.T) {
	tbl := newTestTable(t)
	tbl.Register(100, func(uint8) {}, 0)
	runFatal(func() { tbl.Register(100, func(uint8) {}, 1) })

	select {
	case <-tbl.die.Dead():
	default:
		t.Fatal("expected registering two callbacks at the same slot to be fatal")
	}
}

func TestMaxEventExceeded(t *testing.T) {
	tbl := newTestTable(t)
	for i := 0; i < MaxEvent; i++ {
		tbl.Register(i*10, func(uint8) {}, 0)
	}
	select {
	case <-tbl.die.Dead():
		t.Fatal("should not be dead yet after exactly MaxEvent registrations")
	default:
	}

	runFatal(func() { tbl.Register(MaxEvent*10, func(uint8) {}, 0) })
	select {
	case <-tbl.die.Dead():
	default:
		t.Fatal("expected exceeding MaxEvent to be fatal")
	}
}

func TestNormalizeDeg(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 0},
		{719, 719},
		{720, 0},
		{-1, 719},
		{-720, 0},
		{1440, 0},
	}
	for _, c := range cases {
		if got := NormalizeDeg(c.in); got != c.want {
			t.Errorf("NormalizeDeg(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestIndexWrapsAtSize(t *testing.T) {
	tbl := newTestTable(t)
	tbl.SetPosition(71)
	tbl.Tick(0)
	if tbl.Index() != 0 {
		t.Fatalf("Index() = %d, want 0 after wrapping past size-1", tbl.Index())
	}
}
