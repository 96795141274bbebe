// Package cli implements the management task: the single-character
// command console and the 100ms housekeeping loop, grounded on
// original_source/main.c's user_cmd()/management_thread().
package cli

import (
	"bufio"
	"context"
	"io"
	"time"

	"github.com/fourstroke/ecucore/internal/corelog"
	"github.com/fourstroke/ecucore/internal/ecu/engine"
	"github.com/fourstroke/ecucore/internal/ecu/output"
	"github.com/fourstroke/ecucore/internal/ecu/state"
	"github.com/fourstroke/ecucore/internal/ecu/trigger"
	"github.com/fourstroke/ecucore/internal/fault"
	"github.com/fourstroke/ecucore/internal/telemetry"
)

const (
	primeFuelMsec = 17
	maxTiming     = 40
	maxFuelMsec   = 20
	gazToggleEvery = 20 // loop iterations between duty-cycled gaz toggles
	loopDelay      = 100 * time.Millisecond
)

// Management is the console + housekeeping task. One command byte at a
// time, applied directly against the scheduler and driver the same way
// user_cmd mutated the ISR-shared globals under a critical section —
// here the Scheduler's setters take the place of that critical section
// since they only ever touch plain fields.
type Management struct {
	log    *corelog.Logger
	die    *fault.Sink
	driver output.Driver
	dec    trigger.Decoder
	sched  *engine.Scheduler

	// state reports the engine task's current top-level state, for the
	// 'r' command's wire-frame push. A closure rather than a *engine.Task
	// field so this package never needs to import engine.Task.
	state func() state.Engine
	// out is the CLI port's write side, non-nil only when r is a real
	// serial connection (bidirectional) rather than stdin. 'r' pushes an
	// EncodeWireFrame block here for a remote dashboard/logger polling
	// the same wire the commands arrive on.
	out io.Writer

	debugProbes bool

	r io.Reader

	timingAdvance int
	fuelMsec      int
	relayOn       bool
	recordOn      bool
}

// NewManagement builds a Management task reading command bytes from r
// (a serial port or os.Stdin). out is the same port's write side when r
// is bidirectional (nil for stdin); stateFn reports the engine task's
// current state for the 'r' command's wire-frame push.
func NewManagement(log *corelog.Logger, die *fault.Sink, driver output.Driver, dec trigger.Decoder, sched *engine.Scheduler, stateFn func() state.Engine, out io.Writer, debugProbes bool, r io.Reader) *Management {
	return &Management{
		log:         log,
		die:         die,
		driver:      driver,
		dec:         dec,
		sched:       sched,
		state:       stateFn,
		out:         out,
		debugProbes: debugProbes,
		r:           r,
		fuelMsec:    6,
	}
}

// Run is the management_thread equivalent: reads one command byte at a
// time (blocking on r), dispatches it, and, while the relay is on,
// toggles the gaz pump every gazToggleEvery loop iterations. Returns
// once r hits EOF, ctx is cancelled, or the fault sink goes dead.
func (m *Management) Run(ctx context.Context) {
	m.sched.SetFuelMsec(m.fuelMsec)

	lines := make(chan byte)
	go m.readBytes(lines)

	loop := 0
	ticker := time.NewTicker(loopDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.die.Dead():
			return
		case b, ok := <-lines:
			if !ok {
				return
			}
			m.dispatch(b)
		case <-ticker.C:
			loop++
			if loop%gazToggleEvery == 0 && m.relayOn {
				m.driver.GazToggle()
			}
		}
	}
}

func (m *Management) readBytes(out chan<- byte) {
	defer close(out)
	br := bufio.NewReader(m.r)
	for {
		b, err := br.ReadByte()
		if err != nil {
			return
		}
		out <- b
	}
}

func (m *Management) dispatch(d byte) {
	switch d {
	case 't':
		m.sched.SetTrimFlag(true)
		m.log.Printf("Trim")
	case 's':
		enabled := m.sched.ToggleTimingAdvanceEnabled()
		if enabled {
			m.log.Printf("Timing ON")
		} else {
			m.log.Printf("Timing OFF")
		}
	case '=':
		if m.timingAdvance < maxTiming {
			m.timingAdvance++
		}
		m.sched.SetTimingAdvance(m.timingAdvance)
		m.log.Printf("T %d", m.timingAdvance)
	case '-':
		if m.timingAdvance > 0 {
			m.timingAdvance--
		}
		m.sched.SetTimingAdvance(m.timingAdvance)
		m.log.Printf("T %d", m.timingAdvance)
	case ']':
		if m.fuelMsec < maxFuelMsec {
			m.fuelMsec++
		}
		m.sched.SetFuelMsec(m.fuelMsec)
		m.log.Printf("F %d", m.fuelMsec)
	case '[':
		if m.fuelMsec > 0 {
			m.fuelMsec--
		}
		m.sched.SetFuelMsec(m.fuelMsec)
		m.log.Printf("F %d", m.fuelMsec)
	case 'x':
		m.log.Printf("KILL")
		m.die.Die(fault.Management, "operator kill")
	case 'r':
		rpm := m.dec.RPM()
		usec := m.dec.DegToUsec(10)
		m.log.Printf("RPM %d:%d", rpm, usec)
		m.pushWireFrame(rpm)
	case 'p':
		m.primeInjectors()
	case 'o':
		m.log.Printf("ON")
		m.driver.RelayOn()
		m.relayOn = true
	case 'k':
		m.driver.StarterOn()
	case 'y':
		m.recordOn = !m.recordOn
		if m.recordOn {
			m.dec.SetRecordSink(m.log)
			m.log.Printf("RECORD ON")
		} else {
			m.dec.SetRecordSink(nil)
			m.log.Printf("RECORD OFF")
		}
	case 'd':
		if m.debugProbes {
			m.log.Printf("PROBE dwell=%d inj=%d", m.sched.DwellEvents(), m.sched.InjEvents())
		}
	default:
	}
}

// SetRecordMode seeds whether the decoder's record sink starts active,
// mirroring ecuconfig.IgnitionConfig.RecordMode's boot default. Call
// before Run.
func (m *Management) SetRecordMode(on bool) {
	m.recordOn = on
	if on {
		m.dec.SetRecordSink(m.log)
	} else {
		m.dec.SetRecordSink(nil)
	}
}

// pushWireFrame writes an EncodeWireFrame block for a remote dashboard
// or logger polling the CLI port, same wire the 'r' command arrived on.
// No-op when out is nil (stdin console, no write side) or state is
// unset.
func (m *Management) pushWireFrame(rpm int) {
	if m.out == nil || m.state == nil {
		return
	}
	frame := telemetry.Frame{
		State:         m.state(),
		RPM:           rpm,
		TimingMode:    m.sched.TimingMode(),
		TimingAdvance: m.sched.TimingAdvanceDeg(),
		FuelMsec:      m.sched.FuelMsecVal(),
		TrimState:     m.sched.TrimState(),
		TrimFlag:      m.sched.TrimFlagVal(),
		Entries:       m.sched.Entries(),
	}
	if _, err := m.out.Write(telemetry.EncodeWireFrame(frame)); err != nil {
		m.log.Printf("wire frame write failed: %v", err)
	}
}

// primeInjectors opens each injector in turn for primeFuelMsec
// milliseconds, same order and duration as user_cmd's 'p' command.
func (m *Management) primeInjectors() {
	m.log.Printf("Prime injector")
	for _, id := range []output.CylID{output.Cyl1, output.Cyl2, output.Cyl3, output.Cyl4} {
		cyl := output.Single(id)
		if err := m.driver.OpenInjector(cyl); err != nil {
			m.log.Printf("prime %s failed: %v", cyl, err)
			continue
		}
		time.Sleep(time.Duration(primeFuelMsec) * time.Millisecond)
		m.driver.CloseInjector(cyl, m.driver.NowUsec())
	}
	m.log.Printf("Prime injector done")
}
