package output

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Serial drives a bench relay/injector board over a UART using a short
// ASCII command protocol ("C1+", "C1-", "I3+", "I3-", "R+", "S-", ...).
// It is the command-protocol analogue of the teacher's Speeduino link
// (same go.bug.st/serial connection style) rather than a memory-mapped
// pin driver, so it stays inside the "abstract output driver" boundary
// the spec draws around per-MCU bit-banging.
type Serial struct {
	mu   sync.Mutex
	port serial.Port
	epoch time.Time
}

// SerialConfig holds the bench rig's connection settings.
type SerialConfig struct {
	PortPath string `yaml:"port_path" json:"portPath"`
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
}

// OpenSerial connects to a bench relay board.
func OpenSerial(cfg SerialConfig) (*Serial, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.PortPath, mode)
	if err != nil {
		return nil, fmt.Errorf("output: failed to open %s: %w", cfg.PortPath, err)
	}
	return &Serial{port: port, epoch: time.Now()}, nil
}

func (s *Serial) NowUsec() uint64 {
	return uint64(time.Since(s.epoch).Microseconds())
}

func (s *Serial) send(cmd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return
	}
	// Best-effort: the bench rig has no flow control and commands are
	// idempotent, so a dropped write just means the relay misses one
	// transition — visible on the bench, not fatal to the engine core.
	s.port.Write([]byte(cmd))
}

func (s *Serial) OpenInjector(cyl Cylinder) error {
	id, ok := cyl.SingleCyl()
	if !ok {
		return ErrPairedInjector
	}
	s.send(fmt.Sprintf("I%d+\n", id))
	return nil
}

func (s *Serial) CloseInjector(cyl Cylinder, _ uint64) {
	if id, ok := cyl.SingleCyl(); ok {
		s.send(fmt.Sprintf("I%d-\n", id))
	}
}

func (s *Serial) OpenCoil(cyl Cylinder, _ uint64) {
	for _, id := range cyl.Cylinders() {
		s.send(fmt.Sprintf("C%d+\n", id))
	}
}

func (s *Serial) CloseCoil(cyl Cylinder, _ uint64) {
	for _, id := range cyl.Cylinders() {
		s.send(fmt.Sprintf("C%d-\n", id))
	}
}

func (s *Serial) RelayOn()     { s.send("R+\n") }
func (s *Serial) RelayOff()    { s.send("R-\n") }
func (s *Serial) StarterOn()   { s.send("S+\n") }
func (s *Serial) StarterOff()  { s.send("S-\n") }
func (s *Serial) GazOn()       { s.send("G+\n") }
func (s *Serial) GazOff()      { s.send("G-\n") }

func (s *Serial) GazToggle() {
	s.send("GT\n")
}

func (s *Serial) CloseAll() {
	s.send("R-\nS-\nG-\nI1-\nI2-\nI3-\nI4-\nC1-\nC2-\nC3-\nC4-\n")
}

// Close releases the underlying serial port.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	return s.port.Close()
}
