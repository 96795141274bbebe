package trigger

import (
	"fmt"
	"io"

	"github.com/fourstroke/ecucore/internal/ecu/state"
	"github.com/fourstroke/ecucore/internal/fault"
)

// Subaru wheel-geometry constants, carried verbatim from
// driver/subaru_36_2_2_2.c.
const (
	subaruToothCount = 36
	subaruResolution = 10 // degrees per tooth

	subaruSync1ToothCtr = 32
	subaruSync1Degree    = 680
	subaruSync2ToothCtr = 17
	subaruSync2Degree    = 170
	subaruSync3ToothCtr = 14

	// Smallest period at 6000 RPM, largest during cranking at 120 RPM
	// (x3 to account for the missing teeth), and the average period
	// below which the engine is considered fully RUN rather than
	// still CRANKing.
	subaruMinPeriod     = 277
	subaruMaxPeriod     = 3 * 13888
	subaruAverageRunPeriod = 3333

	subaruMinSample = 10 // debounce sample count
)

// Subaru36222 decodes a 36-tooth, 10deg/tooth wheel with three pairs
// of missing teeth (the Subaru "36-2-2-2" pattern).
type Subaru36222 struct {
	die    *fault.Sink
	ticker EventTicker
	record io.Writer

	avg movingAverage

	st       uint8 // 0..4
	ctr      int
	toothCtr int
}

// NewSubaru36222 constructs a decoder driving ticker's angle ring.
func NewSubaru36222(die *fault.Sink, ticker EventTicker) *Subaru36222 {
	return &Subaru36222{die: die, ticker: ticker}
}

var _ Decoder = (*Subaru36222)(nil)

func (d *Subaru36222) Resolution() int { return subaruResolution }
func (d *Subaru36222) TableSize() int  { return 720 / subaruResolution }

func (d *Subaru36222) SetRecordSink(w io.Writer) { d.record = w }

func (d *Subaru36222) RPM() int {
	teethPerRev := uint32(360 / subaruResolution)
	one := uint64(d.avg.average()) * uint64(teethPerRev)
	if one == 0 {
		return 0
	}
	return int((uint64(60) * 1_000_000) / one)
}

func (d *Subaru36222) DegToUsec(degree int) uint32 {
	if degree <= 0 {
		return 0
	}
	return (d.avg.average() * uint32(degree)) / subaruResolution
}

// Run feeds one tooth period into the state machine. See
// driver/subaru_36_2_2_2.c's run_trigger_wheel for the original.
func (d *Subaru36222) Run(t uint16) state.Engine {
	if d.record != nil {
		fmt.Fprintf(d.record, "%d:%d\n", t, d.avg.average())
	}

	result := state.Init

	if t > subaruMaxPeriod || t < subaruMinPeriod {
		if d.st == 4 {
			d.die.Die(fault.Trigger, "glitch %d in state %d", t, d.st)
			return state.Dead
		}
		d.st = 0
	}

	switch d.st {
	case 0:
		d.ctr = 0
		d.st = 1
		d.toothCtr = 1
		d.avg.reset()

	case 1:
		if t < 20000 {
			d.avg.add(t)
			if d.ctr >= subaruMinSample {
				d.ctr = 0
				d.st = 2
				break
			}
			break
		}
		d.st = 0

	case 2:
		result = state.Crank
		if d.ctr > 20 {
			d.st = 0
			break
		}
		a := d.avg.average()
		if uint32(t) > (a << 1) {
			d.ctr = 0
			d.st = 3
			break
		}
		d.avg.add(t) // don't add a missing tooth to the average

	case 3:
		result = state.Crank
		a := d.avg.average()
		if uint32(t) > (a<<1) && d.ctr < 2 {
			d.toothCtr = subaruSync2ToothCtr
			d.ticker.SetPosition(subaruSync2Degree / subaruResolution)
		} else {
			// First-missing-tooth adjust: only the first gap was seen
			// (no confirming second gap within 2 teeth), so lock onto
			// the other sync point instead.
			//
			// Preserved open question from the original source: this
			// branch still calls add_vector(t) below even though the
			// sample is itself a missing-tooth period, despite the
			// source comment above case 2 claiming missing teeth are
			// excluded from the average. Kept as observed.
			d.toothCtr = subaruSync1ToothCtr + 1
			d.ticker.SetPosition((subaruSync1Degree + 10) / subaruResolution)
		}
		d.avg.add(t)
		d.ticker.Tick(0)
		d.st = 4

	case 4:
		if d.avg.average() > subaruAverageRunPeriod {
			result = state.Crank
		} else {
			result = state.Run
		}

		if d.toothCtr == subaruToothCount {
			d.toothCtr = 1
		} else {
			d.toothCtr++
		}

		if d.toothCtr == subaruSync1ToothCtr || d.toothCtr == subaruSync2ToothCtr || d.toothCtr == subaruSync3ToothCtr {
			a := d.avg.average()
			if !(uint32(t) > (a << 1)) {
				d.die.Die(fault.Trigger, "sync lost: %d vs avg %d at tooth %d", t, a, d.toothCtr)
				return state.Dead
			}
		} else {
			d.avg.add(t)
		}

		d.ticker.Tick(0)

		// Synthesize the physically-missing teeth so the angle ring
		// still advances one slot per 10 real crank degrees.
		if d.toothCtr == 11 || d.toothCtr == 14 || d.toothCtr == 29 {
			d.toothCtr++
			d.ticker.Tick(-1)
			d.toothCtr++
			d.ticker.Tick(-1)
		}

	default:
		d.die.Die(fault.Trigger, "invalid state %d", d.st)
		return state.Dead
	}

	d.ctr++
	return result
}
