package ftdi

import "fmt"

// Status is the two-byte status the chip reports in every bulk IN header and
// in reply to RequestPollModemStatus.
//
// The in-memory form is a set of named flags; Bytes and ParseStatus are the
// wire mapping.
type Status struct {
	// modem status, byte 0
	CTS bool // clear to send
	DSR bool // data set ready
	RI  bool // ring indicator
	DCD bool // data carrier detect

	// line status, byte 1
	DataReady    bool
	Overrun      bool
	ParityError  bool
	FramingError bool
	Break        bool
	THRE         bool // transmitter holding register empty
	TEMT         bool // transmitter empty
	FIFOError    bool
}

// Modem status bits (byte 0). Bit 0 is reserved and always set.
const (
	modemReserved = 1 << 0
	modemCTS      = 1 << 4
	modemDSR      = 1 << 5
	modemRI       = 1 << 6
	modemDCD      = 1 << 7
)

// Line status bits (byte 1).
const (
	lineDR   = 1 << 0
	lineOE   = 1 << 1
	linePE   = 1 << 2
	lineFE   = 1 << 3
	lineBI   = 1 << 4
	lineTHRE = 1 << 5
	lineTEMT = 1 << 6
	lineFIFO = 1 << 7
)

// DefaultStatus is the baseline reported after reset: the modem is ready, the
// transmitter is empty and no errors are flagged. On the wire it is 0xB1 0x60.
var DefaultStatus = Status{
	CTS:  true,
	DSR:  true,
	DCD:  true,
	THRE: true,
	TEMT: true,
}

// Bytes returns the wire encoding, modem byte first.
func (s Status) Bytes() [2]byte {
	var b [2]byte
	b[0] = modemReserved
	setBit(&b[0], modemCTS, s.CTS)
	setBit(&b[0], modemDSR, s.DSR)
	setBit(&b[0], modemRI, s.RI)
	setBit(&b[0], modemDCD, s.DCD)

	setBit(&b[1], lineDR, s.DataReady)
	setBit(&b[1], lineOE, s.Overrun)
	setBit(&b[1], linePE, s.ParityError)
	setBit(&b[1], lineFE, s.FramingError)
	setBit(&b[1], lineBI, s.Break)
	setBit(&b[1], lineTHRE, s.THRE)
	setBit(&b[1], lineTEMT, s.TEMT)
	setBit(&b[1], lineFIFO, s.FIFOError)
	return b
}

// ParseStatus decodes the wire encoding. Reserved bits are ignored.
func ParseStatus(b [2]byte) Status {
	return Status{
		CTS:          b[0]&modemCTS != 0,
		DSR:          b[0]&modemDSR != 0,
		RI:           b[0]&modemRI != 0,
		DCD:          b[0]&modemDCD != 0,
		DataReady:    b[1]&lineDR != 0,
		Overrun:      b[1]&lineOE != 0,
		ParityError:  b[1]&linePE != 0,
		FramingError: b[1]&lineFE != 0,
		Break:        b[1]&lineBI != 0,
		THRE:         b[1]&lineTHRE != 0,
		TEMT:         b[1]&lineTEMT != 0,
		FIFOError:    b[1]&lineFIFO != 0,
	}
}

// String formats the wire bytes.
func (s Status) String() string {
	b := s.Bytes()
	return fmt.Sprintf("%02X %02X", b[0], b[1])
}

func setBit(b *byte, mask byte, on bool) {
	if on {
		*b |= mask
	} else {
		*b &^= mask
	}
}

// Line names a host-commanded control line.
type Line uint8

// Control lines set by RequestSetModemCtrl.
const (
	LineDTR Line = iota // data terminal ready
	LineRTS             // request to send
)

// String returns the line name.
func (l Line) String() string {
	switch l {
	case LineDTR:
		return "DTR"
	case LineRTS:
		return "RTS"
	default:
		return fmt.Sprintf("line(%d)", uint8(l))
	}
}

// ControlLines holds the levels of the host-commanded lines. Both are
// deasserted at reset.
type ControlLines struct {
	DTR bool
	RTS bool
}

// Get returns the level of line l.
func (c ControlLines) Get(l Line) bool {
	switch l {
	case LineDTR:
		return c.DTR
	case LineRTS:
		return c.RTS
	default:
		return false
	}
}

// apply updates the lines selected by the enable bits of a modem control
// wValue and leaves the others alone.
func (c ControlLines) apply(value uint16) ControlLines {
	if value&ModemCtrlDTREnable != 0 {
		c.DTR = value&ModemCtrlDTR != 0
	}
	if value&ModemCtrlRTSEnable != 0 {
		c.RTS = value&ModemCtrlRTS != 0
	}
	return c
}

// lineState packs status and control lines into one word so the application
// reads both with a single atomic load.
//
//	bits 0-7   modem status byte
//	bits 8-15  line status byte
//	bit  16    DTR
//	bit  17    RTS
type lineState uint32

const (
	stateDTR = 1 << 16
	stateRTS = 1 << 17
)

func packState(s Status, c ControlLines) lineState {
	b := s.Bytes()
	w := lineState(b[0]) | lineState(b[1])<<8
	if c.DTR {
		w |= stateDTR
	}
	if c.RTS {
		w |= stateRTS
	}
	return w
}

func (w lineState) bytes() [2]byte {
	return [2]byte{byte(w), byte(w >> 8)}
}

func (w lineState) status() Status {
	return ParseStatus(w.bytes())
}

func (w lineState) lines() ControlLines {
	return ControlLines{DTR: w&stateDTR != 0, RTS: w&stateRTS != 0}
}
