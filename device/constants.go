package device

import "fmt"

// Sizes of the fixed tables a Device is built from.
const (
	// MaxEndpointsPerInterface is the maximum number of data endpoints per interface.
	MaxEndpointsPerInterface = 4

	// MaxInterfacesPerConfiguration is the maximum number of interfaces per configuration.
	MaxInterfacesPerConfiguration = 4

	// MaxConfigurations is the maximum number of configurations per device.
	MaxConfigurations = 2

	// MaxStrings is the maximum number of string descriptors per device.
	MaxStrings = 8

	// MaxEndpointAddresses is the number of endpoint addresses (0x00-0x0F OUT and 0x80-0x8F IN).
	MaxEndpointAddresses = 32
)

// Bus speeds a full-speed function can be enumerated at.
const (
	SpeedLow  Speed = 0 // 1.5 Mbps
	SpeedFull Speed = 1 // 12 Mbps
	SpeedHigh Speed = 2 // 480 Mbps
)

// Speed represents USB connection speed.
type Speed uint8

func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "low"
	case SpeedFull:
		return "full"
	case SpeedHigh:
		return "high"
	default:
		return fmt.Sprintf("speed(%d)", uint8(s))
	}
}

// MaxPacketSize0 returns the largest EP0 packet allowed at this speed.
func (s Speed) MaxPacketSize0() uint16 {
	if s == SpeedLow {
		return 8
	}
	return 64
}

// Visible device states (USB 2.0 section 9.1).
const (
	StateAttached   State = iota // attached, not powered
	StatePowered                 // powered, no reset seen yet
	StateDefault                 // reset, answering at address 0
	StateAddress                 // address assigned
	StateConfigured              // configuration selected, data endpoints live
)

// State represents USB device state.
type State uint8

func (s State) String() string {
	switch s {
	case StateAttached:
		return "attached"
	case StatePowered:
		return "powered"
	case StateDefault:
		return "default"
	case StateAddress:
		return "address"
	case StateConfigured:
		return "configured"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// endpointIndex maps an endpoint address onto [0, MaxEndpointAddresses).
func endpointIndex(addr uint8) int {
	if addr&EndpointDirectionIn != 0 {
		return int(addr&0x0F) + 16
	}
	return int(addr & 0x0F)
}
