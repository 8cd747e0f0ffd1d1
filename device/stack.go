package device

import (
	"context"
	"errors"
	"sync"

	"github.com/ardnew/softftdi/device/hal"
	"github.com/ardnew/softftdi/pkg"
	"github.com/ardnew/softftdi/pkg/irq"
)

// MaxControlDataSize is the largest control OUT data stage accepted.
const MaxControlDataSize = 256

// Stack runs the control pipe and routes data endpoint interrupts to class
// drivers.
//
// Every request handler and endpoint handler runs inside irq.Run. Transport
// I/O on EP0 happens outside it, so a slow host never holds the critical
// section.
type Stack struct {
	device  *Device
	hal     hal.DeviceHAL
	handler *StandardRequestHandler

	running bool
	mutex   sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	setupBuf hal.SetupPacket
	ep0Buf   [MaxControlDataSize]byte

	// configuration whose endpoints are live in the HAL; control loop only
	configured *Configuration

	// endpoint routing table, accessed in interrupt context only
	endpoints [MaxEndpointAddresses]EndpointHandler
}

// NewStack creates a stack that serves dev over h.
func NewStack(dev *Device, h hal.DeviceHAL) *Stack {
	s := &Stack{
		device:  dev,
		hal:     h,
		handler: NewStandardRequestHandler(dev),
	}
	h.SetEndpointHandler(s.dispatchEndpoint)
	return s
}

// Start initializes the HAL, attaches to the bus and starts the control loop.
func (s *Stack) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		return pkg.ErrAlreadyRunning
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	if err := s.hal.Init(s.ctx); err != nil {
		s.cancel()
		return err
	}
	if err := s.hal.Start(); err != nil {
		s.cancel()
		return err
	}

	s.running = true
	s.done = make(chan struct{})
	s.device.setState(StatePowered)

	pkg.LogDebug(pkg.ComponentStack, "device stack started")
	go s.controlLoop()
	return nil
}

// Stop detaches from the bus and waits for the control loop to exit.
func (s *Stack) Stop() error {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	done := s.done
	s.mutex.Unlock()

	err := s.hal.Stop()
	<-done

	pkg.LogDebug(pkg.ComponentStack, "device stack stopped")
	return err
}

// IsRunning reports whether the control loop is running.
func (s *Stack) IsRunning() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.running
}

// Device returns the served device.
func (s *Stack) Device() *Device {
	return s.device
}

// HAL returns the transport.
func (s *Stack) HAL() hal.DeviceHAL {
	return s.hal
}

func (s *Stack) controlLoop() {
	defer close(s.done)

	for {
		if err := s.hal.ReadSetup(s.ctx, &s.setupBuf); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if errors.Is(err, pkg.ErrReset) {
				s.busReset()
				continue
			}
			pkg.LogWarn(pkg.ComponentStack, "error reading setup",
				"error", err)
			continue
		}

		setup := SetupPacket(s.setupBuf)
		if err := s.handleSetup(&setup); err != nil {
			pkg.LogDebug(pkg.ComponentStack, "request stalled",
				"error", err,
				"request", setup.String())
			if err := s.hal.StallEP0(); err != nil {
				pkg.LogWarn(pkg.ComponentStack, "error stalling EP0",
					"error", err)
			}
		}
	}
}

// handleSetup runs one control transfer: data stage in, reply computed in
// interrupt context, side effects on the HAL, then data/status stage out.
func (s *Stack) handleSetup(setup *SetupPacket) error {
	pkg.LogDebug(pkg.ComponentStack, "setup received",
		"request", setup.String())

	var data []byte
	if setup.IsHostToDevice() && setup.Length > 0 {
		n, err := s.hal.ReadEP0(s.ctx, s.ep0Buf[:min(int(setup.Length), MaxControlDataSize)])
		if err != nil {
			return err
		}
		data = s.ep0Buf[:n]
	}

	var reply []byte
	var err error
	irq.Run(func() {
		reply, err = s.dispatchSetup(setup, data)
	})
	if err != nil {
		return err
	}

	if setup.IsStandard() {
		if err := s.applyStandard(setup); err != nil {
			return err
		}
	}

	if setup.IsDeviceToHost() {
		if len(reply) > int(setup.Length) {
			reply = reply[:setup.Length]
		}
		if err := s.hal.WriteEP0(s.ctx, reply); err != nil {
			return err
		}
		_, err := s.hal.ReadEP0(s.ctx, s.ep0Buf[:0])
		return err
	}

	if err := s.hal.AckEP0(); err != nil {
		return err
	}

	// The new address applies once the status stage completes.
	if setup.IsStandard() && setup.Recipient() == RequestRecipientDevice &&
		setup.Request == RequestSetAddress {
		return s.hal.SetAddress(s.device.Address())
	}
	return nil
}

func (s *Stack) dispatchSetup(setup *SetupPacket, data []byte) ([]byte, error) {
	switch setup.Type() {
	case RequestTypeStandard:
		return s.handler.HandleSetup(setup, data)

	case RequestTypeClass:
		if setup.IsInterfaceRecipient() {
			if iface := s.device.GetInterface(setup.InterfaceNumber()); iface != nil {
				if handled, err := iface.HandleSetup(setup, data); handled {
					return nil, err
				}
			}
		}
		return nil, pkg.ErrInvalidRequest

	case RequestTypeVendor:
		vendor := s.device.VendorHandler()
		if vendor == nil {
			return nil, pkg.ErrNotSupported
		}
		return vendor.HandleVendor(setup, data)

	default:
		return nil, pkg.ErrInvalidRequest
	}
}

// applyStandard mirrors state changes of a handled standard request into the HAL.
func (s *Stack) applyStandard(setup *SetupPacket) error {
	switch setup.Recipient() {
	case RequestRecipientDevice:
		if setup.Request == RequestSetConfiguration {
			return s.applyConfiguration()
		}
	case RequestRecipientEndpoint:
		addr := setup.EndpointAddress()
		if addr&0x0F == 0 {
			return nil
		}
		switch setup.Request {
		case RequestSetFeature:
			return s.hal.Stall(addr)
		case RequestClearFeature:
			return s.hal.ClearStall(addr)
		}
	}
	return nil
}

// applyConfiguration tears down the endpoints of the previously configured
// configuration and brings up those of the active one.
func (s *Stack) applyConfiguration() error {
	if prev := s.configured; prev != nil {
		irq.Run(func() {
			s.endpoints = [MaxEndpointAddresses]EndpointHandler{}
			notifyListeners(prev, false)
		})
		s.configured = nil
	}

	config := s.device.ActiveConfiguration()
	if config == nil {
		return s.hal.ConfigureEndpoints(nil)
	}

	var eps []hal.EndpointConfig
	for _, iface := range config.Interfaces() {
		for _, ep := range iface.Endpoints() {
			eps = append(eps, hal.EndpointConfig{
				Address:       ep.Address,
				Attributes:    ep.Attributes,
				MaxPacketSize: ep.MaxPacketSize,
				Interval:      ep.Interval,
			})
		}
	}
	if err := s.hal.ConfigureEndpoints(eps); err != nil {
		return err
	}

	irq.Run(func() {
		for _, iface := range config.Interfaces() {
			handler, ok := iface.ClassDriver().(EndpointHandler)
			if !ok {
				continue
			}
			for _, ep := range iface.Endpoints() {
				s.endpoints[endpointIndex(ep.Address)] = handler
			}
		}
		notifyListeners(config, true)
	})
	s.configured = config

	pkg.LogInfo(pkg.ComponentStack, "configuration active",
		"value", config.Value,
		"endpoints", len(eps))
	return nil
}

// notifyListeners tells each distinct class driver of config that implements
// ConfigurationListener about the change. Interrupt context.
func notifyListeners(config *Configuration, configured bool) {
	var seen [MaxInterfacesPerConfiguration]ClassDriver
	count := 0
	for _, iface := range config.Interfaces() {
		driver := iface.ClassDriver()
		listener, ok := driver.(ConfigurationListener)
		if !ok || contains(seen[:count], driver) {
			continue
		}
		seen[count] = driver
		count++
		if configured {
			listener.Configured()
		} else {
			listener.Unconfigured()
		}
	}
}

func contains(drivers []ClassDriver, d ClassDriver) bool {
	for _, have := range drivers {
		if have == d {
			return true
		}
	}
	return false
}

func (s *Stack) busReset() {
	s.device.Reset()
	if err := s.applyConfiguration(); err != nil {
		pkg.LogWarn(pkg.ComponentStack, "error releasing endpoints after reset",
			"error", err)
	}
	if err := s.hal.SetAddress(0); err != nil {
		pkg.LogWarn(pkg.ComponentStack, "error clearing address after reset",
			"error", err)
	}
	pkg.LogInfo(pkg.ComponentStack, "bus reset")
}

// dispatchEndpoint is the HAL's endpoint handler. Interrupt context.
func (s *Stack) dispatchEndpoint(address uint8) {
	if h := s.endpoints[endpointIndex(address)]; h != nil {
		h.HandleEndpoint(address)
		return
	}
	// Nobody owns it; keep the HAL from calling again.
	s.hal.EnableEndpointInterrupt(address, false)
	pkg.LogDebug(pkg.ComponentStack, "interrupt on unowned endpoint",
		"address", address)
}

// Speed returns the negotiated bus speed.
func (s *Stack) Speed() Speed {
	switch s.hal.GetSpeed() {
	case hal.SpeedLow:
		return SpeedLow
	case hal.SpeedHigh:
		return SpeedHigh
	default:
		return SpeedFull
	}
}

// IsConnected reports whether a host is attached.
func (s *Stack) IsConnected() bool {
	return s.hal.IsConnected()
}

// WaitConnect blocks until a host attaches or ctx is cancelled.
func (s *Stack) WaitConnect(ctx context.Context) error {
	return s.hal.WaitConnect(ctx)
}

// WaitDisconnect blocks until the host detaches or ctx is cancelled.
func (s *Stack) WaitDisconnect(ctx context.Context) error {
	return s.hal.WaitDisconnect(ctx)
}
