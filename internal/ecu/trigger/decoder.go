package trigger

import (
	"io"

	"github.com/fourstroke/ecucore/internal/ecu/event"
	"github.com/fourstroke/ecucore/internal/ecu/state"
)

// EventTicker is the subset of event.Table the decoder drives: it
// calls SetPosition once at sync lock and Tick once per real or
// synthesized tooth.
type EventTicker interface {
	SetPosition(slot int)
	Tick(flag int)
}

var _ EventTicker = (*event.Table)(nil)

// Decoder consumes one tooth period at a time and returns the
// resulting top-level engine state (only Init, Crank, or Run — Stop
// and Dead are owned by the engine task, not the decoder).
type Decoder interface {
	// Run feeds one tooth period (microseconds between rising edges)
	// into the state machine, advancing the event ticker as needed.
	Run(periodUsec uint16) state.Engine

	// RPM returns the current engine speed derived from the moving
	// average tooth period.
	RPM() int

	// DegToUsec returns, at the current rate, how long it takes to
	// travel degree crank-degrees.
	DegToUsec(degree int) uint32

	// Resolution is the wheel's angular distance between consecutive
	// teeth/slots.
	Resolution() int

	// TableSize is the number of angle-event slots this wheel needs
	// (720/Resolution).
	TableSize() int

	// SetRecordSink, if non-nil, makes Run print "period:average" for
	// every sample — the original's record_mode.
	SetRecordSink(w io.Writer)
}
