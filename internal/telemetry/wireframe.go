package telemetry

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/fourstroke/ecucore/internal/ecu/engine"
	"github.com/fourstroke/ecucore/internal/ecu/output"
	"github.com/fourstroke/ecucore/internal/ecu/state"
)

// wireFrameSize is the fixed OutputChannels-style block size pushed
// over the CLI port for an external dashboard to poll, mirroring the
// Speeduino r-command's 130-byte OCH block (one fixed-offset struct,
// not a self-describing format).
const wireFrameSize = 20

// EncodeWireFrame packs a Frame into the fixed-offset binary block a
// remote dashboard polls over the CLI serial port, framed the same way
// the Speeduino r-command response is: <data bytes><crc32 4 bytes BE>.
// Offsets are an ECU-core analogue of speeduino.ini's [OutputChannels]
// table, not a copy of Speeduino's actual layout.
func EncodeWireFrame(f Frame) []byte {
	d := make([]byte, wireFrameSize)

	d[0] = byte(f.State)
	binary.LittleEndian.PutUint16(d[1:3], uint16(f.RPM))
	d[3] = byte(f.TimingAdvance)
	d[4] = byte(f.FuelMsec)
	d[5] = byte(int8(f.TrimState))
	if f.TrimFlag {
		d[6] = 1
	}
	if f.TimingMode == engine.Advanced {
		d[7] = 1
	}
	for i, e := range f.Entries {
		d[8+i] = encodeCylinder(e.Coil)
	}
	for i, e := range f.Entries {
		d[12+i] = encodeCylinder(e.Fuel)
	}

	crc := crc32.ChecksumIEEE(d[:wireFrameSize-4])
	binary.BigEndian.PutUint32(d[wireFrameSize-4:], crc)
	return d
}

// DecodeWireFrame parses a block produced by EncodeWireFrame, for
// tests and for a future remote-side consumer. Returns false if the
// CRC does not match.
func DecodeWireFrame(d []byte) (state.Engine, int, bool) {
	if len(d) != wireFrameSize {
		return 0, 0, false
	}
	body := d[:wireFrameSize-4]
	crc := binary.BigEndian.Uint32(d[wireFrameSize-4:])
	if crc32.ChecksumIEEE(body) != crc {
		return 0, 0, false
	}
	st := state.Engine(d[0])
	rpm := int(binary.LittleEndian.Uint16(d[1:3]))
	return st, rpm, true
}

// encodeCylinder packs a Cylinder into one byte: low nibble is the
// primary cylinder, high nibble is the pair partner (0 if Single) —
// the same OR'd-nibble idea the original firmware used for CYL12/CYL34,
// kept here only as an over-the-wire shorthand, not as the in-process
// representation (output.Cylinder is the sum type for that).
func encodeCylinder(c output.Cylinder) byte {
	cyls := c.Cylinders()
	if len(cyls) == 1 {
		return byte(cyls[0])
	}
	return byte(cyls[0]) | byte(cyls[1])<<4
}
