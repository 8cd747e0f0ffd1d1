package device

import (
	"encoding/binary"

	"github.com/ardnew/softftdi/pkg"
)

// MaxDescriptorResponseSize bounds the largest descriptor the device returns.
const MaxDescriptorResponseSize = 256

// StandardRequestHandler answers chapter 9 requests.
type StandardRequestHandler struct {
	device *Device

	// Replies returned by HandleSetup alias this buffer.
	responseBuf [MaxDescriptorResponseSize]byte
}

// NewStandardRequestHandler creates a handler for dev.
func NewStandardRequestHandler(dev *Device) *StandardRequestHandler {
	return &StandardRequestHandler{device: dev}
}

// HandleSetup answers a standard request. The returned slice is valid until
// the next call.
func (h *StandardRequestHandler) HandleSetup(setup *SetupPacket, data []byte) ([]byte, error) {
	if !setup.IsStandard() {
		return nil, pkg.ErrInvalidRequest
	}

	switch setup.Recipient() {
	case RequestRecipientDevice:
		return h.handleDeviceRequest(setup)
	case RequestRecipientInterface:
		return h.handleInterfaceRequest(setup)
	case RequestRecipientEndpoint:
		return h.handleEndpointRequest(setup)
	default:
		return nil, pkg.ErrInvalidRequest
	}
}

func (h *StandardRequestHandler) handleDeviceRequest(setup *SetupPacket) ([]byte, error) {
	switch setup.Request {
	case RequestGetStatus:
		if setup.Length < 2 {
			return nil, pkg.ErrInvalidRequest
		}
		return h.reply16(uint16(h.device.GetStatus())), nil

	case RequestClearFeature, RequestSetFeature:
		if setup.Value != FeatureDeviceRemoteWakeup {
			return nil, pkg.ErrNotSupported
		}
		h.device.EnableRemoteWakeup(setup.Request == RequestSetFeature)
		return nil, nil

	case RequestSetAddress:
		return nil, h.device.SetAddress(uint8(setup.Value & 0x7F))

	case RequestGetDescriptor:
		return h.getDescriptor(setup)

	case RequestGetConfiguration:
		h.responseBuf[0] = 0
		if config := h.device.ActiveConfiguration(); config != nil {
			h.responseBuf[0] = config.Value
		}
		return h.responseBuf[:1], nil

	case RequestSetConfiguration:
		return nil, h.device.SetConfiguration(uint8(setup.Value))

	default:
		return nil, pkg.ErrInvalidRequest
	}
}

func (h *StandardRequestHandler) getDescriptor(setup *SetupPacket) ([]byte, error) {
	var n int

	switch setup.DescriptorType() {
	case DescriptorTypeDevice:
		n = h.device.Descriptor.MarshalTo(h.responseBuf[:])

	case DescriptorTypeConfiguration:
		config := h.device.ConfigurationAt(setup.DescriptorIndex())
		if config == nil {
			return nil, pkg.ErrInvalidRequest
		}
		n = config.MarshalTo(h.responseBuf[:])

	case DescriptorTypeString:
		data := h.device.GetString(setup.DescriptorIndex())
		if data == nil {
			return nil, pkg.ErrInvalidRequest
		}
		n = copy(h.responseBuf[:], data)

	case DescriptorTypeDeviceQualifier, DescriptorTypeOtherSpeedConfig:
		// Full-speed only; the host falls back when these stall.
		return nil, pkg.ErrNotSupported

	default:
		return nil, pkg.ErrInvalidRequest
	}

	if n == 0 {
		return nil, pkg.ErrBufferTooSmall
	}
	return h.responseBuf[:min(n, int(setup.Length))], nil
}

func (h *StandardRequestHandler) handleInterfaceRequest(setup *SetupPacket) ([]byte, error) {
	iface := h.device.GetInterface(setup.InterfaceNumber())
	if iface == nil {
		return nil, pkg.ErrInvalidRequest
	}

	switch setup.Request {
	case RequestGetStatus:
		if setup.Length < 2 {
			return nil, pkg.ErrInvalidRequest
		}
		return h.reply16(0), nil

	case RequestGetInterface:
		h.responseBuf[0] = iface.AlternateSetting
		return h.responseBuf[:1], nil

	case RequestSetInterface:
		if setup.Value != 0 {
			// single alternate setting per interface
			return nil, pkg.ErrInvalidRequest
		}
		return nil, iface.SetAlternate(0)

	default:
		return nil, pkg.ErrInvalidRequest
	}
}

func (h *StandardRequestHandler) handleEndpointRequest(setup *SetupPacket) ([]byte, error) {
	ep := h.device.GetEndpoint(setup.EndpointAddress())
	if ep == nil {
		return nil, pkg.ErrInvalidEndpoint
	}

	switch setup.Request {
	case RequestGetStatus:
		if setup.Length < 2 {
			return nil, pkg.ErrInvalidRequest
		}
		var status uint16
		if ep.IsStalled() {
			status = 1
		}
		return h.reply16(status), nil

	case RequestClearFeature, RequestSetFeature:
		if setup.Value != FeatureEndpointHalt {
			return nil, pkg.ErrInvalidRequest
		}
		ep.SetStall(setup.Request == RequestSetFeature)
		return nil, nil

	default:
		return nil, pkg.ErrInvalidRequest
	}
}

func (h *StandardRequestHandler) reply16(v uint16) []byte {
	binary.LittleEndian.PutUint16(h.responseBuf[:2], v)
	return h.responseBuf[:2]
}
