package ftdi

import (
	"fmt"
	"sync/atomic"

	"github.com/ardnew/softftdi/device"
	"github.com/ardnew/softftdi/device/hal"
	"github.com/ardnew/softftdi/pkg"
	"github.com/ardnew/softftdi/pkg/queue"
)

// Flags select the behavior of the character stream. They are fixed when the
// emulator is created.
type Flags uint8

// Flag values.
const (
	NonBlocking Flags = 0
	Stdio       Flags = 1 << 0 // bind the stream to the process's stdin/stdout
	BlockingIn  Flags = 1 << 1 // Get waits for data instead of reporting none
	BlockingOut Flags = 1 << 2 // Put waits for space instead of dropping
	Blocking          = BlockingIn | BlockingOut
)

// String lists the set flags, e.g. "stdio|blocking-in".
func (f Flags) String() string {
	if f == 0 {
		return "nonblocking"
	}
	s := ""
	for _, flag := range []struct {
		bit  Flags
		name string
	}{
		{Stdio, "stdio"},
		{BlockingIn, "blocking-in"},
		{BlockingOut, "blocking-out"},
	} {
		if f&flag.bit == 0 {
			continue
		}
		if s != "" {
			s += "|"
		}
		s += flag.name
	}
	return s
}

// Direction of a bulk transfer, named from the host's point of view.
type Direction string

// Bulk directions.
const (
	DirectionIn  Direction = "in"  // device to host
	DirectionOut Direction = "out" // host to device
)

// Observer receives counters from the data path and the request handler.
// Methods are called from interrupt context and from the goroutines using
// [Serial], so they must be safe for concurrent use and must not block.
type Observer interface {
	// Packet is called for every bulk packet moved; n counts data bytes
	// only, excluding the IN status header.
	Packet(dir Direction, n int)

	// Deferred is called when an OUT packet is left pending for lack of
	// queue space.
	Deferred()

	// Dropped is called with the number of bytes discarded.
	Dropped(dir Direction, n int)

	// Request is called once per vendor request.
	Request(name string, accepted bool)
}

type nopObserver struct{}

func (nopObserver) Packet(Direction, int)  {}
func (nopObserver) Deferred()              {}
func (nopObserver) Dropped(Direction, int) {}
func (nopObserver) Request(string, bool)   {}

// Config configures an Emulator. Zero fields take defaults.
type Config struct {
	Flags Flags

	// PacketSize is the bulk max packet size (default 64).
	PacketSize int

	// RxQueueSize and TxQueueSize are the queue backing array sizes
	// (default 256). The RX queue must hold at least one full packet.
	RxQueueSize int
	TxQueueSize int

	// Strings of the device descriptor (defaults "softftdi",
	// "FT232R USB UART"; no serial number).
	Manufacturer string
	Product      string
	SerialNumber string

	Observer Observer
}

// Default descriptor strings.
const (
	DefaultManufacturer = "softftdi"
	DefaultProduct      = "FT232R USB UART"
)

func (c *Config) setDefaults() {
	if c.PacketSize == 0 {
		c.PacketSize = DefaultPacketSize
	}
	if c.RxQueueSize == 0 {
		c.RxQueueSize = DefaultQueueSize
	}
	if c.TxQueueSize == 0 {
		c.TxQueueSize = DefaultQueueSize
	}
	if c.Manufacturer == "" {
		c.Manufacturer = DefaultManufacturer
	}
	if c.Product == "" {
		c.Product = DefaultProduct
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
}

// Emulator implements the FT232 vendor protocol and its bulk data path.
//
// It is the class driver of the vendor interface, the device's vendor
// request handler, and the interrupt handler of both bulk endpoints. The
// application side talks to it through [Serial].
type Emulator struct {
	config Config
	rx     *queue.Queue // host to device; producer is handleOut
	tx     *queue.Queue // device to host; consumer is handleIn
	hal    hal.DeviceHAL
	serial Serial

	in  uint8
	out uint8

	// status and control lines; written in interrupt context only
	state      atomic.Uint32
	configured atomic.Bool

	// signalled after handleOut queues data and after handleIn drains it
	rxReady chan struct{}
	txSpace chan struct{}

	// interrupt context only
	inBuf    []byte
	outBuf   []byte
	replyBuf [2]byte
}

// New creates an emulator. The RX queue must be larger than one packet and
// the packet must have room for data after the status header.
func New(config Config) (*Emulator, error) {
	config.setDefaults()
	if config.PacketSize <= StatusHeaderSize || config.PacketSize > 1024 {
		return nil, fmt.Errorf("packet size %d: %w", config.PacketSize, pkg.ErrInvalidParameter)
	}
	if config.RxQueueSize <= config.PacketSize {
		return nil, fmt.Errorf("rx queue size %d must exceed packet size %d: %w",
			config.RxQueueSize, config.PacketSize, pkg.ErrInvalidParameter)
	}
	rx, err := queue.New(config.RxQueueSize)
	if err != nil {
		return nil, fmt.Errorf("rx queue: %w", err)
	}
	tx, err := queue.New(config.TxQueueSize)
	if err != nil {
		return nil, fmt.Errorf("tx queue: %w", err)
	}

	e := &Emulator{
		config:  config,
		rx:      rx,
		tx:      tx,
		in:      EndpointIn,
		out:     EndpointOut,
		rxReady: make(chan struct{}, 1),
		txSpace: make(chan struct{}, 1),
		inBuf:   make([]byte, config.PacketSize),
		outBuf:  make([]byte, config.PacketSize),
	}
	e.serial = Serial{e: e}
	e.resetLines()
	return e, nil
}

// SetStack connects the emulator to the transport of stack. It must be
// called before the stack starts.
func (e *Emulator) SetStack(stack *device.Stack) {
	e.hal = stack.HAL()
}

// Serial returns the character stream.
func (e *Emulator) Serial() *Serial {
	return &e.serial
}

// Config returns the configuration with defaults applied.
func (e *Emulator) Config() Config {
	return e.config
}

// IsConfigured reports whether the host has selected the configuration and
// the bulk endpoints are live.
func (e *Emulator) IsConfigured() bool {
	return e.configured.Load()
}

// Status returns the current status.
func (e *Emulator) Status() Status {
	return lineState(e.state.Load()).status()
}

// ControlLines returns the current control line levels.
func (e *Emulator) ControlLines() ControlLines {
	return lineState(e.state.Load()).lines()
}

// RxLen returns the number of bytes waiting for the application.
func (e *Emulator) RxLen() int {
	return e.rx.Len()
}

// TxLen returns the number of bytes waiting for the host.
func (e *Emulator) TxLen() int {
	return e.tx.Len()
}

func (e *Emulator) resetLines() {
	e.state.Store(uint32(packState(DefaultStatus, ControlLines{})))
}

// Init binds the emulator to its vendor interface and picks up the bulk
// endpoint addresses.
func (e *Emulator) Init(iface *device.Interface) error {
	if iface.Class != InterfaceClass {
		return fmt.Errorf("interface class 0x%02X: %w", iface.Class, pkg.ErrInvalidParameter)
	}
	var in, out *device.Endpoint
	for _, ep := range iface.Endpoints() {
		if !ep.IsBulk() {
			continue
		}
		if ep.IsIn() && in == nil {
			in = ep
		}
		if ep.IsOut() && out == nil {
			out = ep
		}
	}
	if in == nil || out == nil {
		return fmt.Errorf("interface %d needs bulk IN and OUT: %w", iface.Number, pkg.ErrInvalidEndpoint)
	}
	for _, ep := range []*device.Endpoint{in, out} {
		if size := int(ep.MaxPacketSize); size <= StatusHeaderSize || size > e.config.PacketSize {
			return fmt.Errorf("endpoint 0x%02X packet size %d: %w", ep.Address, size, pkg.ErrInvalidParameter)
		}
	}
	e.in = in.Address
	e.out = out.Address
	e.inBuf = e.inBuf[:in.MaxPacketSize]
	e.outBuf = e.outBuf[:out.MaxPacketSize]

	pkg.LogDebug(pkg.ComponentFTDI, "emulator bound",
		"interface", iface.Number,
		"in", in.Address,
		"out", out.Address)
	return nil
}

// HandleSetup declines class requests; the chip only speaks vendor requests.
func (e *Emulator) HandleSetup(iface *device.Interface, setup *device.SetupPacket, data []byte) (bool, error) {
	return false, nil
}

// SetAlternate accepts only alternate setting 0.
func (e *Emulator) SetAlternate(iface *device.Interface, alt uint8) error {
	if alt != 0 {
		return pkg.ErrNotSupported
	}
	return nil
}

// Close drops pending data.
func (e *Emulator) Close() error {
	e.configured.Store(false)
	e.rx.Purge()
	e.tx.Purge()
	return nil
}

// Configured arms both bulk endpoints. Interrupt context.
func (e *Emulator) Configured() {
	e.configured.Store(true)
	e.hal.EnableEndpointInterrupt(e.in, true)
	e.hal.EnableEndpointInterrupt(e.out, true)
	pkg.LogInfo(pkg.ComponentFTDI, "serial port configured")
}

// Unconfigured is called when the configuration is dropped. Interrupt context.
func (e *Emulator) Unconfigured() {
	e.configured.Store(false)
	pkg.LogInfo(pkg.ComponentFTDI, "serial port unconfigured")
}

// HandleVendor answers one vendor request. Interrupt context.
//
// A nil error acknowledges the request; an error leaves it unacknowledged
// and the stack stalls the transfer.
func (e *Emulator) HandleVendor(setup *device.SetupPacket, data []byte) ([]byte, error) {
	if !setup.IsVendor() {
		return nil, pkg.ErrInvalidRequest
	}
	reply, err := e.handleVendor(setup)
	e.config.Observer.Request(RequestName(setup.Request), err == nil)
	if err != nil {
		pkg.LogDebug(pkg.ComponentFTDI, "request rejected",
			"request", RequestName(setup.Request),
			"setup", setup.String(),
			"error", err)
		return nil, err
	}
	return reply, nil
}

func (e *Emulator) handleVendor(setup *device.SetupPacket) ([]byte, error) {
	switch setup.Request {
	case RequestReset:
		e.reset(setup.Value)
		return nil, nil

	case RequestSetModemCtrl:
		w := lineState(e.state.Load())
		lines := w.lines().apply(setup.Value)
		e.state.Store(uint32(packState(w.status(), lines)))
		pkg.LogDebug(pkg.ComponentFTDI, "modem control",
			"dtr", lines.DTR,
			"rts", lines.RTS)
		return nil, nil

	case RequestSetBaudRate:
		pkg.LogDebug(pkg.ComponentFTDI, "baud rate ignored",
			"baud", BaudRate(setup.Value, setup.Index))
		return nil, nil

	case RequestSetData:
		pkg.LogDebug(pkg.ComponentFTDI, "line properties ignored",
			"format", ParseLineProperties(setup.Value).String())
		return nil, nil

	case RequestSetFlowCtrl:
		pkg.LogDebug(pkg.ComponentFTDI, "flow control ignored",
			"mode", FlowControlName(setup.Index))
		return nil, nil

	case RequestSetEventChar, RequestSetErrorChar, RequestSetLatencyTimer,
		RequestSetBitMode, RequestWriteEEPROM, RequestEraseEEPROM:
		return nil, nil

	case RequestPollModemStatus:
		if setup.Length != 2 {
			return nil, fmt.Errorf("poll length %d: %w", setup.Length, pkg.ErrInvalidRequest)
		}
		e.replyBuf = lineState(e.state.Load()).bytes()
		return e.replyBuf[:2], nil

	case RequestGetLatencyTimer:
		if setup.Length != 1 {
			return nil, fmt.Errorf("latency length %d: %w", setup.Length, pkg.ErrInvalidRequest)
		}
		e.replyBuf[0] = LatencyTimer
		return e.replyBuf[:1], nil

	case RequestReadPins:
		if setup.Length != 1 {
			return nil, fmt.Errorf("pins length %d: %w", setup.Length, pkg.ErrInvalidRequest)
		}
		e.replyBuf[0] = 0
		return e.replyBuf[:1], nil

	case RequestReadEEPROM:
		return ReadEEPROM(setup.Index, setup.Length)

	default:
		return nil, fmt.Errorf("request 0x%02X: %w", setup.Request, pkg.ErrInvalidRequest)
	}
}

// reset handles RequestReset. Interrupt context.
func (e *Emulator) reset(value uint16) {
	switch value {
	case ResetSIO:
		e.resetLines()
		pkg.LogDebug(pkg.ComponentFTDI, "port reset")
	case ResetPurgeRX:
		n := e.rx.PurgeLocked()
		pkg.LogDebug(pkg.ComponentFTDI, "rx purged", "bytes", n)
	case ResetPurgeTX:
		n := e.tx.PurgeLocked()
		pkg.LogDebug(pkg.ComponentFTDI, "tx purged", "bytes", n)
	default:
		pkg.LogDebug(pkg.ComponentFTDI, "unknown reset ignored", "value", value)
	}
}

var (
	_ device.ClassDriver           = (*Emulator)(nil)
	_ device.VendorHandler         = (*Emulator)(nil)
	_ device.ConfigurationListener = (*Emulator)(nil)
	_ device.EndpointHandler       = (*Emulator)(nil)
)
