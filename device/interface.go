package device

import (
	"sync"

	"github.com/ardnew/softftdi/pkg"
)

// ClassDriver implements the function behind one or more interfaces.
type ClassDriver interface {
	// Init binds the driver to an interface.
	Init(iface *Interface) error

	// HandleSetup processes class requests addressed to the interface.
	// It returns false if the request is not the driver's.
	HandleSetup(iface *Interface, setup *SetupPacket, data []byte) (bool, error)

	// SetAlternate is called when the host selects an alternate setting.
	SetAlternate(iface *Interface, alt uint8) error

	// Close releases any resources held by the driver.
	Close() error
}

// VendorHandler answers vendor requests addressed to the device.
//
// A nil error acknowledges the request and, for IN requests, reply becomes
// the data stage (it may be empty). Any error makes the stack stall EP0.
// HandleVendor runs in interrupt context.
type VendorHandler interface {
	HandleVendor(setup *SetupPacket, data []byte) (reply []byte, err error)
}

// ConfigurationListener is implemented by class drivers that need to know
// when their data endpoints become usable. Both methods run in interrupt
// context after the HAL endpoints have been (un)configured.
type ConfigurationListener interface {
	Configured()
	Unconfigured()
}

// EndpointHandler is implemented by class drivers that service their data
// endpoints from interrupt context.
type EndpointHandler interface {
	HandleEndpoint(address uint8)
}

// Interface is one interface of a configuration.
type Interface struct {
	Number           uint8
	AlternateSetting uint8
	Class            uint8
	SubClass         uint8
	Protocol         uint8
	StringIndex      uint8

	endpoints     [MaxEndpointsPerInterface]*Endpoint
	endpointCount int
	classDriver   ClassDriver
	mutex         sync.RWMutex
}

// NewInterface creates an interface from its descriptor.
func NewInterface(desc *InterfaceDescriptor) *Interface {
	return &Interface{
		Number:           desc.InterfaceNumber,
		AlternateSetting: desc.AlternateSetting,
		Class:            desc.InterfaceClass,
		SubClass:         desc.InterfaceSubClass,
		Protocol:         desc.InterfaceProtocol,
		StringIndex:      desc.InterfaceIndex,
	}
}

// AddEndpoint adds a data endpoint to the interface.
func (i *Interface) AddEndpoint(ep *Endpoint) error {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	if ep.Number() == 0 {
		return pkg.ErrInvalidEndpoint
	}
	if i.endpointCount >= MaxEndpointsPerInterface {
		return pkg.ErrNoMemory
	}
	for _, have := range i.endpoints[:i.endpointCount] {
		if have.Address == ep.Address {
			return pkg.ErrBusy
		}
	}

	i.endpoints[i.endpointCount] = ep
	i.endpointCount++

	pkg.LogDebug(pkg.ComponentDevice, "endpoint added",
		"interface", i.Number,
		"endpoint", ep.Address,
		"type", TransferTypeName(ep.TransferType()),
		"direction", DirectionName(ep.Direction()))
	return nil
}

// GetEndpoint returns the endpoint with the given address, or nil.
func (i *Interface) GetEndpoint(address uint8) *Endpoint {
	i.mutex.RLock()
	defer i.mutex.RUnlock()

	for _, ep := range i.endpoints[:i.endpointCount] {
		if ep.Address == address {
			return ep
		}
	}
	return nil
}

// Endpoints returns the interface's data endpoints.
// The slice references internal storage.
func (i *Interface) Endpoints() []*Endpoint {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.endpoints[:i.endpointCount]
}

// NumEndpoints returns the number of data endpoints.
func (i *Interface) NumEndpoints() int {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.endpointCount
}

// SetClassDriver binds driver to the interface, closing any previous one.
func (i *Interface) SetClassDriver(driver ClassDriver) error {
	i.mutex.Lock()
	old := i.classDriver
	i.classDriver = driver
	i.mutex.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			pkg.LogWarn(pkg.ComponentDevice, "error closing previous class driver",
				"error", err)
		}
	}
	// Init runs unlocked; drivers call back into the interface.
	if driver != nil {
		return driver.Init(i)
	}
	return nil
}

// ClassDriver returns the bound class driver, or nil.
func (i *Interface) ClassDriver() ClassDriver {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.classDriver
}

// HandleSetup forwards a class request to the bound driver.
func (i *Interface) HandleSetup(setup *SetupPacket, data []byte) (bool, error) {
	driver := i.ClassDriver()
	if driver == nil {
		return false, nil
	}
	return driver.HandleSetup(i, setup, data)
}

// SetAlternate changes the alternate setting.
func (i *Interface) SetAlternate(alt uint8) error {
	i.mutex.Lock()
	i.AlternateSetting = alt
	driver := i.classDriver
	i.mutex.Unlock()

	if driver != nil {
		return driver.SetAlternate(i, alt)
	}
	return nil
}

// Descriptor returns the interface descriptor.
func (i *Interface) Descriptor() *InterfaceDescriptor {
	i.mutex.RLock()
	defer i.mutex.RUnlock()

	return &InterfaceDescriptor{
		Length:            InterfaceDescriptorSize,
		DescriptorType:    DescriptorTypeInterface,
		InterfaceNumber:   i.Number,
		AlternateSetting:  i.AlternateSetting,
		NumEndpoints:      uint8(i.endpointCount),
		InterfaceClass:    i.Class,
		InterfaceSubClass: i.SubClass,
		InterfaceProtocol: i.Protocol,
		InterfaceIndex:    i.StringIndex,
	}
}

// Close closes the bound class driver.
func (i *Interface) Close() error {
	i.mutex.Lock()
	driver := i.classDriver
	i.classDriver = nil
	i.mutex.Unlock()

	if driver != nil {
		return driver.Close()
	}
	return nil
}

// Configuration is one configuration of a device.
type Configuration struct {
	Value       uint8
	Attributes  uint8
	MaxPower    uint8 // 2 mA units
	StringIndex uint8

	interfaces     [MaxInterfacesPerConfiguration]*Interface
	interfaceCount int
	mutex          sync.RWMutex
}

// NewConfiguration creates a bus-powered configuration drawing 100 mA.
func NewConfiguration(value uint8) *Configuration {
	return &Configuration{
		Value:      value,
		Attributes: ConfigAttrBusPowered,
		MaxPower:   50,
	}
}

// AddInterface adds an interface to the configuration.
func (c *Configuration) AddInterface(iface *Interface) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.interfaceCount >= MaxInterfacesPerConfiguration {
		return pkg.ErrNoMemory
	}
	for _, have := range c.interfaces[:c.interfaceCount] {
		if have.Number == iface.Number {
			return pkg.ErrBusy
		}
	}

	c.interfaces[c.interfaceCount] = iface
	c.interfaceCount++

	pkg.LogDebug(pkg.ComponentDevice, "interface added",
		"config", c.Value,
		"interface", iface.Number)
	return nil
}

// GetInterface returns the interface with the given number, or nil.
func (c *Configuration) GetInterface(number uint8) *Interface {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	for _, iface := range c.interfaces[:c.interfaceCount] {
		if iface.Number == number {
			return iface
		}
	}
	return nil
}

// Interfaces returns the configuration's interfaces.
// The slice references internal storage.
func (c *Configuration) Interfaces() []*Interface {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.interfaces[:c.interfaceCount]
}

// NumInterfaces returns the number of interfaces.
func (c *Configuration) NumInterfaces() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.interfaceCount
}

// Descriptor returns the configuration descriptor header.
func (c *Configuration) Descriptor() *ConfigurationDescriptor {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.descriptor()
}

func (c *Configuration) descriptor() *ConfigurationDescriptor {
	total := ConfigurationDescriptorSize
	for _, iface := range c.interfaces[:c.interfaceCount] {
		total += InterfaceDescriptorSize + iface.NumEndpoints()*EndpointDescriptorSize
	}
	return &ConfigurationDescriptor{
		Length:             ConfigurationDescriptorSize,
		DescriptorType:     DescriptorTypeConfiguration,
		TotalLength:        uint16(total),
		NumInterfaces:      uint8(c.interfaceCount),
		ConfigurationValue: c.Value,
		ConfigurationIndex: c.StringIndex,
		Attributes:         c.Attributes,
		MaxPower:           c.MaxPower,
	}
}

// MarshalTo writes the full configuration descriptor set (header, then each
// interface followed by its endpoints) to buf. It returns 0 if buf is too small.
func (c *Configuration) MarshalTo(buf []byte) int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	offset := c.descriptor().MarshalTo(buf)
	if offset == 0 {
		return 0
	}
	for _, iface := range c.interfaces[:c.interfaceCount] {
		n := iface.Descriptor().MarshalTo(buf[offset:])
		if n == 0 {
			return 0
		}
		offset += n
		for _, ep := range iface.Endpoints() {
			n = ep.Descriptor().MarshalTo(buf[offset:])
			if n == 0 {
				return 0
			}
			offset += n
		}
	}
	return offset
}

// IsSelfPowered reports whether the self-powered attribute is set.
func (c *Configuration) IsSelfPowered() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.Attributes&ConfigAttrSelfPowered != 0
}

// Close closes every interface's class driver.
func (c *Configuration) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var lastErr error
	for idx, iface := range c.interfaces[:c.interfaceCount] {
		if err := iface.Close(); err != nil {
			lastErr = err
		}
		c.interfaces[idx] = nil
	}
	c.interfaceCount = 0
	return lastErr
}
