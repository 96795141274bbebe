package output

import (
	"errors"
	"sync"
	"time"
)

// ErrPairedInjector is returned by OpenInjector when called with a
// paired Cylinder — injectors fire exactly one cylinder, never two.
var ErrPairedInjector = errors.New("output: injector cannot open a paired cylinder")

// Transition records one open/close edge, for assertions in tests.
type Transition struct {
	Kind    string // "injector", "coil", "relay", "starter", "gaz"
	Cyl     Cylinder
	Open    bool
	AtUsec  uint64
	Ordinal int
}

// Sim is the offline stand-in for the original firmware's x86 stub
// (io_x86.h): every operation is a no-op against real hardware, but
// Sim records each transition so tests can assert exact scenarios
// (S3/S4/S6 in the spec) and exposes a real monotonic clock so timing
// arithmetic in the decoder and scheduler behaves as it would on
// target.
type Sim struct {
	mu   sync.Mutex
	epoch time.Time

	injectorOpen [5]bool // index by CylID, 0 unused
	coilOpen     [5]bool
	relayOn      bool
	starterOn    bool
	gazOn        bool

	closeAllCount int
	log           []Transition
}

// NewSim creates a Sim driver with its clock epoch at the current time.
func NewSim() *Sim {
	return &Sim{epoch: time.Now()}
}

func (s *Sim) NowUsec() uint64 {
	return uint64(time.Since(s.epoch).Microseconds())
}

func (s *Sim) record(kind string, cyl Cylinder, open bool, at uint64) {
	s.log = append(s.log, Transition{Kind: kind, Cyl: cyl, Open: open, AtUsec: at, Ordinal: len(s.log)})
}

func (s *Sim) OpenInjector(cyl Cylinder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := cyl.SingleCyl()
	if !ok {
		return ErrPairedInjector
	}
	s.injectorOpen[id] = true
	s.record("injector", cyl, true, s.NowUsec())
	return nil
}

func (s *Sim) CloseInjector(cyl Cylinder, now uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := cyl.SingleCyl()
	if !ok {
		return
	}
	s.injectorOpen[id] = false
	s.record("injector", cyl, false, now)
}

func (s *Sim) OpenCoil(cyl Cylinder, now uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range cyl.Cylinders() {
		s.coilOpen[id] = true
	}
	s.record("coil", cyl, true, now)
}

func (s *Sim) CloseCoil(cyl Cylinder, now uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range cyl.Cylinders() {
		s.coilOpen[id] = false
	}
	s.record("coil", cyl, false, now)
}

func (s *Sim) RelayOn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relayOn = true
	s.record("relay", Cylinder{}, true, s.NowUsec())
}

func (s *Sim) RelayOff() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relayOn = false
	s.record("relay", Cylinder{}, false, s.NowUsec())
}

func (s *Sim) StarterOn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starterOn = true
	s.record("starter", Cylinder{}, true, s.NowUsec())
}

func (s *Sim) StarterOff() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starterOn = false
	s.record("starter", Cylinder{}, false, s.NowUsec())
}

func (s *Sim) GazOn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gazOn = true
	s.record("gaz", Cylinder{}, true, s.NowUsec())
}

func (s *Sim) GazOff() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gazOn = false
	s.record("gaz", Cylinder{}, false, s.NowUsec())
}

func (s *Sim) GazToggle() {
	s.mu.Lock()
	on := s.gazOn
	s.mu.Unlock()
	if on {
		s.GazOff()
	} else {
		s.GazOn()
	}
}

func (s *Sim) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeAllCount++
	for id := range s.injectorOpen {
		s.injectorOpen[id] = false
	}
	for id := range s.coilOpen {
		s.coilOpen[id] = false
	}
	s.relayOn = false
	s.starterOn = false
	s.gazOn = false
	s.record("close_all", Cylinder{}, false, s.NowUsec())
}

// Snapshot accessors used by tests.

func (s *Sim) InjectorOpen(id CylID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.injectorOpen[id]
}

func (s *Sim) CoilOpen(id CylID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coilOpen[id]
}

func (s *Sim) RelayIsOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.relayOn
}

func (s *Sim) StarterIsOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starterOn
}

func (s *Sim) GazIsOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gazOn
}

func (s *Sim) CloseAllCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeAllCount
}

func (s *Sim) Transitions() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transition, len(s.log))
	copy(out, s.log)
	return out
}
