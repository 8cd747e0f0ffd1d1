package ftdi

import "fmt"

// Identity of the emulated FT232R.
const (
	VendorID      = 0x0403
	ProductID     = 0x6001
	DeviceVersion = 0x0600 // bcdDevice the host driver keys the chip type on
)

// Interface class, subclass and protocol are all vendor specific.
const InterfaceClass = 0xFF

// Default data endpoints.
const (
	EndpointIn  = 0x81 // bulk IN, device to host
	EndpointOut = 0x02 // bulk OUT, host to device
)

// Packet and queue sizes.
const (
	StatusHeaderSize  = 2   // status bytes leading every bulk IN packet
	DefaultPacketSize = 64  // bulk max packet size
	DefaultQueueSize  = 256 // backing array of each queue
)

// LatencyTimer is the value reported for SIO_GET_LATENCY_TIMER, the real
// chip's power-on default in milliseconds.
const LatencyTimer = 16

// Vendor request codes (bRequest).
const (
	RequestReset           = 0x00
	RequestSetModemCtrl    = 0x01
	RequestSetFlowCtrl     = 0x02
	RequestSetBaudRate     = 0x03
	RequestSetData         = 0x04
	RequestPollModemStatus = 0x05
	RequestSetEventChar    = 0x06
	RequestSetErrorChar    = 0x07
	RequestSetLatencyTimer = 0x09
	RequestGetLatencyTimer = 0x0A
	RequestSetBitMode      = 0x0B
	RequestReadPins        = 0x0C
	RequestReadEEPROM      = 0x90
	RequestWriteEEPROM     = 0x91
	RequestEraseEEPROM     = 0x92
)

// wValue of RequestReset.
const (
	ResetSIO     = 0
	ResetPurgeRX = 1
	ResetPurgeTX = 2
)

// wValue bits of RequestSetModemCtrl. The low byte carries the new line
// levels; the high byte selects which lines to update.
const (
	ModemCtrlDTR       = 0x0001
	ModemCtrlRTS       = 0x0002
	ModemCtrlDTREnable = 0x0100
	ModemCtrlRTSEnable = 0x0200
)

// Flow control modes in the high byte of wIndex of RequestSetFlowCtrl.
const (
	FlowNone    = 0x00
	FlowRTSCTS  = 0x01
	FlowDTRDSR  = 0x02
	FlowXONXOFF = 0x04
)

var requestNames = map[uint8]string{
	RequestReset:           "reset",
	RequestSetModemCtrl:    "set_modem_ctrl",
	RequestSetFlowCtrl:     "set_flow_ctrl",
	RequestSetBaudRate:     "set_baud_rate",
	RequestSetData:         "set_data",
	RequestPollModemStatus: "poll_modem_status",
	RequestSetEventChar:    "set_event_char",
	RequestSetErrorChar:    "set_error_char",
	RequestSetLatencyTimer: "set_latency_timer",
	RequestGetLatencyTimer: "get_latency_timer",
	RequestSetBitMode:      "set_bitmode",
	RequestReadPins:        "read_pins",
	RequestReadEEPROM:      "read_eeprom",
	RequestWriteEEPROM:     "write_eeprom",
	RequestEraseEEPROM:     "erase_eeprom",
}

// RequestName returns the name of a vendor request code, or "unknown".
func RequestName(request uint8) string {
	if name, ok := requestNames[request]; ok {
		return name
	}
	return "unknown"
}

// FlowControlName names the flow control mode selected by wIndex of
// RequestSetFlowCtrl.
func FlowControlName(index uint16) string {
	switch index >> 8 {
	case FlowNone:
		return "none"
	case FlowRTSCTS:
		return "rts/cts"
	case FlowDTRDSR:
		return "dtr/dsr"
	case FlowXONXOFF:
		return "xon/xoff"
	default:
		return fmt.Sprintf("flow(0x%02X)", index>>8)
	}
}

// baseClock is the FT232R baud generator input divided by 16.
const baseClock = 3000000

// fractions of the sub-integer divisor, in eighths, indexed by its 3-bit code.
var divisorFractions = [8]int{0, 4, 2, 1, 3, 5, 6, 7}

// BaudRate decodes the divisor carried in wValue and wIndex of
// RequestSetBaudRate into the baud rate the host asked for.
//
// wValue bits 0-13 hold the integer divisor, bits 14-15 the low bits of the
// fraction code and wIndex bit 0 its high bit. Divisors 0 and 1 are the
// special cases 3 MBd and 2 MBd.
func BaudRate(value, index uint16) int {
	integer := int(value & 0x3FFF)
	code := int(value>>14) | int(index&0x01)<<2
	switch {
	case integer == 0 && code == 0:
		return baseClock
	case integer == 1 && code == 0:
		return baseClock * 2 / 3
	}
	eighths := integer*8 + divisorFractions[code]
	return (baseClock*8 + eighths/2) / eighths
}

// LineProperties is the frame format of RequestSetData.
type LineProperties struct {
	DataBits uint8
	Parity   Parity
	StopBits StopBits
	Break    bool
}

// Parity of a serial frame.
type Parity uint8

// Parity settings in wValue bits 8-10.
const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
	ParityMark
	ParitySpace
)

// String returns the parity name.
func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "none"
	case ParityOdd:
		return "odd"
	case ParityEven:
		return "even"
	case ParityMark:
		return "mark"
	case ParitySpace:
		return "space"
	default:
		return fmt.Sprintf("parity(%d)", uint8(p))
	}
}

// StopBits of a serial frame.
type StopBits uint8

// Stop bit settings in wValue bits 11-13.
const (
	StopBits1 StopBits = iota
	StopBits15
	StopBits2
)

// String returns the stop bit count.
func (s StopBits) String() string {
	switch s {
	case StopBits1:
		return "1"
	case StopBits15:
		return "1.5"
	case StopBits2:
		return "2"
	default:
		return fmt.Sprintf("stop(%d)", uint8(s))
	}
}

// ParseLineProperties decodes wValue of RequestSetData.
func ParseLineProperties(value uint16) LineProperties {
	return LineProperties{
		DataBits: uint8(value & 0xFF),
		Parity:   Parity(value >> 8 & 0x07),
		StopBits: StopBits(value >> 11 & 0x07),
		Break:    value&(1<<14) != 0,
	}
}

// String formats the properties as e.g. "8N1".
func (l LineProperties) String() string {
	parity := "?"
	if l.Parity <= ParitySpace {
		parity = string("NOEMS"[l.Parity])
	}
	s := fmt.Sprintf("%d%s%s", l.DataBits, parity, l.StopBits)
	if l.Break {
		s += " break"
	}
	return s
}
