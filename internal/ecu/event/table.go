// Package event implements the angle event table (§4.D of the spec): a
// fixed-size ring indexed by tooth position that dispatches registered
// callbacks once per engine cycle. Tick (driven by the trigger decoder)
// and Callback are both called on the engine task goroutine, one after
// the other each loop iteration; the pending field is the single
// hand-off between them and enforces at-most-one callback in flight.
package event

import "github.com/fourstroke/ecucore/internal/fault"

// DegreePerEngineCycle is the 4-stroke engine's full cycle in crank
// degrees (two crank revolutions).
const DegreePerEngineCycle = 720

// MaxEvent bounds the number of events Register will accept (3 per
// cylinder x 4 cylinders).
const MaxEvent = 12

// noPending marks the absence of a pending event (original used 0xff).
const noPending = -1

// Callback is invoked with the cookie it was registered with.
type Callback func(cookie uint8)

type slot struct {
	fn     Callback
	cookie uint8
}

// Table is the angle event ring. It is not safe for concurrent use by
// more than one tick-producer and one callback-consumer at a time; the
// producer/consumer discipline itself is what keeps it correct (see
// Tick/Callback doc comments).
type Table struct {
	die        *fault.Sink
	resolution int // degrees per tooth/slot
	size       int // DegreePerEngineCycle / resolution

	slots []*slot

	index   int // "next slot to check" — event_index
	pending int // noPending, or the slot index with a dispatch waiting
}

// NewTable builds an uninitialized Table; call Init before use.
func NewTable(die *fault.Sink) *Table {
	return &Table{die: die, pending: noPending}
}

// Init sizes the ring for the given tooth resolution (degrees/tooth)
// and clears all registrations. size must equal
// DegreePerEngineCycle/resolution or Init is fatal (EVENT), matching
// the original's event_init(size) assertion.
func (t *Table) Init(resolution, size int) {
	want := DegreePerEngineCycle / resolution
	if size != want {
		t.die.Die(fault.Event, "event_init: size %d != %d", size, want)
		return
	}
	t.resolution = resolution
	t.size = size
	t.slots = make([]*slot, size)
	t.index = 0
	t.pending = noPending
}

// Register binds fn to fire when the ring reaches degree (normalized
// into [0, 720)). Collisions and exceeding MaxEvent are both fatal.
func (t *Table) Register(degree int, fn Callback, cookie uint8) {
	if t.registeredCount() >= MaxEvent {
		t.die.Die(fault.Event, "event_register: MAX_EVENT exceeded")
		return
	}
	deg := NormalizeDeg(degree)
	idx := deg / t.resolution
	if idx < 0 || idx >= t.size {
		t.die.Die(fault.Event, "event_register: degree %d out of range", degree)
		return
	}
	if t.slots[idx] != nil {
		t.die.Die(fault.Event, "event_register: collision at slot %d", idx)
		return
	}
	t.slots[idx] = &slot{fn: fn, cookie: cookie}
}

func (t *Table) registeredCount() int {
	n := 0
	for _, s := range t.slots {
		if s != nil {
			n++
		}
	}
	return n
}

// SetPosition forces the ring's next-slot pointer, used by the decoder
// at sync lock (event_set_position).
func (t *Table) SetPosition(slotIdx int) {
	if slotIdx >= t.size {
		t.die.Die(fault.Event, "event_set_position: slot %d out of range", slotIdx)
		return
	}
	t.index = slotIdx
}

// Tick advances the ring by one tooth. If the current slot has a
// registered event, it is published as pending (fatal if one is
// already pending — double-publish — or if flag<0, a synthetic tick
// from tooth synthesis that must never land on a real event, which
// would mean the wheel and the angle ring are out of step).
func (t *Table) Tick(flag int) {
	if t.slots[t.index] != nil {
		if flag < 0 {
			t.die.Die(fault.Event, "event_tick: synthetic tick landed on registered slot %d", t.index)
			return
		}
		if t.pending != noPending {
			t.die.Die(fault.Event, "event_tick: pending_event already set")
			return
		}
		t.pending = t.index
	}
	if t.index == t.size-1 {
		t.index = 0
	} else {
		t.index++
	}
}

// Callback fires the pending event's function, if any, and clears it.
// Safe to call every engine-task iteration even when nothing is
// pending.
func (t *Table) Callback() {
	if t.pending == noPending {
		return
	}
	s := t.slots[t.pending]
	s.fn(s.cookie)
	t.pending = noPending // ACK we are done processing the event
}

// Index returns the current "next slot" pointer, for tests.
func (t *Table) Index() int { return t.index }

// Pending reports whether a callback is currently waiting for Callback.
func (t *Table) Pending() bool { return t.pending != noPending }

// NormalizeDeg brings deg into [0, DegreePerEngineCycle).
func NormalizeDeg(deg int) int {
	for deg < 0 {
		deg += DegreePerEngineCycle
	}
	for deg >= DegreePerEngineCycle {
		deg -= DegreePerEngineCycle
	}
	return deg
}
