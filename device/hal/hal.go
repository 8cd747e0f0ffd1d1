package hal

import (
	"context"
)

// Speed represents the USB connection speed.
type Speed uint8

// USB speed constants (USB 2.0 Specification).
const (
	SpeedUnknown Speed = iota // Not connected or unknown
	SpeedLow                  // Low Speed (1.5 Mbit/s)
	SpeedFull                 // Full Speed (12 Mbit/s)
	SpeedHigh                 // High Speed (480 Mbit/s)
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	default:
		return "Unknown"
	}
}

// EndpointConfig is the part of an endpoint descriptor the controller needs.
type EndpointConfig struct {
	Address       uint8  // Endpoint address including direction bit
	Attributes    uint8  // Transfer type and sync/usage flags
	MaxPacketSize uint16 // Maximum packet size
	Interval      uint8  // Polling interval for interrupt endpoints
}

// Number returns the endpoint number (0-15).
func (e *EndpointConfig) Number() uint8 {
	return e.Address & 0x0F
}

// IsIn returns true if this is an IN endpoint (device to host).
func (e *EndpointConfig) IsIn() bool {
	return e.Address&0x80 != 0
}

// TransferType returns the transfer type bits.
func (e *EndpointConfig) TransferType() uint8 {
	return e.Attributes & 0x03
}

// SetupPacket is a SETUP packet as received by the controller.
type SetupPacket struct {
	RequestType uint8  // Request characteristics
	Request     uint8  // Specific request
	Value       uint16 // Request-specific value
	Index       uint16 // Request-specific index
	Length      uint16 // Number of bytes to transfer
}

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// ParseSetupPacket parses raw bytes into a SetupPacket.
// Returns false if data is too short.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = uint16(data[2]) | uint16(data[3])<<8
	out.Index = uint16(data[4]) | uint16(data[5])<<8
	out.Length = uint16(data[6]) | uint16(data[7])<<8
	return true
}

// MarshalTo writes the 8 wire bytes to buf, or returns 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	buf[2] = byte(s.Value)
	buf[3] = byte(s.Value >> 8)
	buf[4] = byte(s.Index)
	buf[5] = byte(s.Index >> 8)
	buf[6] = byte(s.Length)
	buf[7] = byte(s.Length >> 8)
	return SetupPacketSize
}

// EndpointHandler is called by the HAL when a data endpoint needs service:
// an OUT endpoint holds a received packet, or an IN endpoint can accept one.
// The HAL only calls it while the endpoint's interrupt is enabled, and always
// from interrupt context (see package irq).
type EndpointHandler func(address uint8)

// DeviceHAL defines the Hardware Abstraction Layer interface for USB device stacks.
//
// Control transfers on EP0 are driven by the stack through blocking calls.
// Data endpoints are interrupt driven, the way a microcontroller's USB
// peripheral raises an interrupt per endpoint: the HAL calls the registered
// [EndpointHandler] and the handler moves at most one packet using the
// non-blocking packet operations.
type DeviceHAL interface {
	// Init initializes the USB controller hardware.
	Init(ctx context.Context) error

	// Start enables the USB controller and attaches to the bus.
	Start() error

	// Stop detaches from the bus and disables the USB controller.
	Stop() error

	// SetAddress sets the device address in hardware.
	SetAddress(address uint8) error

	// ConfigureEndpoints configures hardware endpoints for the active
	// configuration. Endpoints start with their interrupt disabled.
	// Pass nil to unconfigure all data endpoints.
	ConfigureEndpoints(endpoints []EndpointConfig) error

	// ReadSetup blocks until a SETUP packet arrives on EP0.
	// It returns pkg.ErrReset when the host resets the bus instead.
	ReadSetup(ctx context.Context, out *SetupPacket) error

	// WriteEP0 sends the data stage of a control IN transfer.
	WriteEP0(ctx context.Context, data []byte) error

	// ReadEP0 reads the data stage of a control OUT transfer.
	ReadEP0(ctx context.Context, buf []byte) (int, error)

	// StallEP0 rejects the current control transfer.
	StallEP0() error

	// AckEP0 completes the status stage of the current control transfer.
	AckEP0() error

	// SetEndpointHandler registers the data endpoint interrupt handler.
	SetEndpointHandler(fn EndpointHandler)

	// EnableEndpointInterrupt enables or disables the interrupt of a data
	// endpoint. Safe to call from interrupt context.
	EnableEndpointInterrupt(address uint8, enable bool)

	// EndpointInterruptEnabled reports whether the endpoint's interrupt is enabled.
	EndpointInterruptEnabled(address uint8) bool

	// PacketLength returns the length of the packet pending on an OUT
	// endpoint, or 0 when none is pending.
	PacketLength(address uint8) int

	// ReadPacket copies the pending OUT packet into buf without releasing it.
	ReadPacket(address uint8, buf []byte) int

	// ReleasePacket acknowledges the pending OUT packet so the endpoint can
	// receive the next one.
	ReleasePacket(address uint8) error

	// WritePacket submits one packet on an IN endpoint.
	WritePacket(address uint8, data []byte) error

	// Stall stalls the specified endpoint.
	Stall(address uint8) error

	// ClearStall clears a stall condition on the specified endpoint.
	ClearStall(address uint8) error

	// IsConnected returns true if the device is connected to a host.
	IsConnected() bool

	// GetSpeed returns the negotiated USB connection speed.
	GetSpeed() Speed

	// WaitConnect blocks until the device connects to a host or the context is cancelled.
	WaitConnect(ctx context.Context) error

	// WaitDisconnect blocks until the device disconnects or the context is cancelled.
	WaitDisconnect(ctx context.Context) error
}
