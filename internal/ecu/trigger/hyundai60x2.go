package trigger

import (
	"fmt"
	"io"

	"github.com/fourstroke/ecucore/internal/ecu/state"
	"github.com/fourstroke/ecucore/internal/fault"
)

// Hyundai wheel-geometry constants, carried verbatim from
// driver/hyundai_60_2.c.
const (
	hyundaiToothCount      = 60
	hyundaiMissingTeeth    = 2
	hyundaiResolution      = 360 / hyundaiToothCount // 6 degrees per tooth

	hyundaiMinPeriod       = 166
	hyundaiMaxPeriod       = 125000
	hyundaiAverageRunPeriod = 2000

	hyundaiMinSample = 10
)

// Hyundai60x2 decodes a 60-tooth, 6deg/tooth wheel with a single
// 2-tooth gap marking cylinder 1 TDC (the common "60-2" pattern).
type Hyundai60x2 struct {
	die    *fault.Sink
	ticker EventTicker
	record io.Writer

	avg movingAverage

	st       uint8 // 0..3
	ctr      int
	toothCtr int
}

// NewHyundai60x2 constructs a decoder driving ticker's angle ring.
func NewHyundai60x2(die *fault.Sink, ticker EventTicker) *Hyundai60x2 {
	return &Hyundai60x2{die: die, ticker: ticker}
}

var _ Decoder = (*Hyundai60x2)(nil)

func (d *Hyundai60x2) Resolution() int { return hyundaiResolution }
func (d *Hyundai60x2) TableSize() int  { return 720 / hyundaiResolution }

func (d *Hyundai60x2) SetRecordSink(w io.Writer) { d.record = w }

func (d *Hyundai60x2) RPM() int {
	oneTurn := uint64(d.avg.average()) * uint64(hyundaiToothCount-hyundaiMissingTeeth)
	if oneTurn == 0 {
		return 0
	}
	return int((uint64(60) * 1_000_000) / oneTurn)
}

func (d *Hyundai60x2) DegToUsec(degree int) uint32 {
	if degree <= 0 {
		return 0
	}
	return (d.avg.average() * uint32(degree)) / hyundaiResolution
}

// Run feeds one tooth period into the state machine. See
// driver/hyundai_60_2.c's run_trigger_wheel for the original.
func (d *Hyundai60x2) Run(t uint16) state.Engine {
	if d.record != nil {
		fmt.Fprintf(d.record, "%d:%d\n", t, d.avg.average())
	}

	result := state.Init

	if uint32(t) > hyundaiMaxPeriod || t < hyundaiMinPeriod {
		if d.st == 3 {
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
			if d.ctr >= hyundaiMinSample {
				d.ctr = 0
				d.st = 2
				break
			}
			break
		}
		d.st = 0

	case 2:
		result = state.Crank
		a := d.avg.average()
		if uint32(t) > (a << 1) {
			d.ctr = 0
			d.toothCtr = 1
			d.ticker.SetPosition(0) // TDC for cylinder 1
			d.st = 3
			break
		}
		d.avg.add(t)

	case 3:
		if d.avg.average() > hyundaiAverageRunPeriod {
			result = state.Crank
		} else {
			result = state.Run
		}

		if d.toothCtr == hyundaiToothCount {
			d.toothCtr = 1
		} else {
			d.toothCtr++
		}

		if d.toothCtr == hyundaiToothCount {
			a := d.avg.average()
			if !(uint32(t) > (a << 1)) {
				d.die.Die(fault.Trigger, "sync lost: %d vs avg %d at tooth %d", t, a, d.toothCtr)
				return state.Dead
			}
		} else {
			d.avg.add(t)
		}

		d.ticker.Tick(0)

	default:
		d.die.Die(fault.Trigger, "invalid state %d", d.st)
		return state.Dead
	}

	d.ctr++
	return result
}
