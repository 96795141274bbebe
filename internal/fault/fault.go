// Package fault implements the ECU's fatal-error sink.
//
// The core has no recoverable error channel: any violated invariant,
// timing overrun, decoder glitch, event collision, or missed tooth
// semaphore is routed here. There is no returning from Die.
package fault

import (
	"fmt"
	"runtime"
	"sync"
)

// Kind enumerates the fatal-error taxonomy used as arguments to Die.
type Kind int

const (
	ErrInit Kind = iota + 1
	Management
	Engine
	Event
	Trigger
	IRQ
	Fatal
	// ErrTimeout is the engine loop's "-1" special case: no tooth
	// arrived within the watchdog window while the engine was running.
	ErrTimeout
)

func (k Kind) String() string {
	switch k {
	case ErrInit:
		return "ERROR_INIT"
	case Management:
		return "MANAGEMENT"
	case Engine:
		return "ENGINE"
	case Event:
		return "EVENT"
	case Trigger:
		return "TRIGGER"
	case IRQ:
		return "IRQ"
	case Fatal:
		return "FATAL"
	case ErrTimeout:
		return "-1"
	default:
		return "UNKNOWN"
	}
}

// CloseAller is implemented by the output driver: the only safe
// post-fatal state is every output forced off.
type CloseAller interface {
	CloseAll()
}

// Sink is the fatal-error handler bound to one ECU core. It is
// constructed once at startup and shared by every subsystem that can
// observe a fatal condition (decoder, event table, engine task).
type Sink struct {
	mu     sync.Mutex
	dead   chan struct{}
	driver CloseAller
	logf   func(format string, args ...any)
}

// NewSink builds a Sink bound to driver, whose CloseAll is invoked
// exactly once, on the first fatal condition.
func NewSink(driver CloseAller, logf func(format string, args ...any)) *Sink {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Sink{
		dead:   make(chan struct{}),
		driver: driver,
		logf:   logf,
	}
}

// Dead returns a channel that is closed the moment Die is first called.
// Every long-running goroutine in the core should select on it and stop
// touching outputs once it fires.
func (s *Sink) Dead() <-chan struct{} {
	return s.dead
}

// IsDead reports whether Die has already fired.
func (s *Sink) IsDead() bool {
	select {
	case <-s.dead:
		return true
	default:
		return false
	}
}

// Die disables the core: it forces every output off, logs "DIE kind :
// msg", and then parks the calling goroutine forever — standing in for
// "spin awaiting the hardware watchdog reset". Die never returns control
// to its caller; on a real MCU the watchdog fires 2s later and resets
// it, so nothing downstream of Die in the calling goroutine ever runs
// again.
func (s *Sink) Die(kind Kind, format string, args ...any) {
	s.mu.Lock()
	alreadyDead := s.IsDead()
	if !alreadyDead {
		close(s.dead)
	}
	s.mu.Unlock()

	if !alreadyDead {
		s.driver.CloseAll()
		msg := fmt.Sprintf(format, args...)
		s.logf("DIE %s : %s", kind, msg)
	}

	// Parking here (rather than looping) lets the runtime reclaim this
	// goroutine's stack immediately instead of spinning a CPU core, and
	// lets tests observe Dead() closing without the test process
	// hanging on a busy loop.
	runtime.Goexit()
}
