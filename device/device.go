package device

import (
	"sync"

	"github.com/ardnew/softftdi/pkg"
)

// Device is the USB device model: descriptors, state, and the active
// configuration.
type Device struct {
	Descriptor *DeviceDescriptor

	configurations     [MaxConfigurations]*Configuration
	configurationCount int
	activeConfig       *Configuration

	// pre-encoded string descriptors, index 0 is the language list
	strings [MaxStrings][]byte

	state               State
	address             uint8
	speed               Speed
	remoteWakeupEnabled bool

	ep0    *Endpoint
	vendor VendorHandler

	mutex sync.RWMutex

	onStateChange func(old, new State)
	onReset       func()
}

// NewDevice creates a device in the Attached state.
func NewDevice(desc *DeviceDescriptor) *Device {
	return &Device{
		Descriptor: desc,
		state:      StateAttached,
		speed:      SpeedFull,
		ep0: &Endpoint{
			Address:       0x00,
			Attributes:    EndpointTypeControl,
			MaxPacketSize: uint16(desc.MaxPacketSize0),
		},
	}
}

// AddConfiguration adds a configuration to the device.
func (d *Device) AddConfiguration(config *Configuration) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.configurationCount >= MaxConfigurations {
		return pkg.ErrNoMemory
	}
	for _, have := range d.configurations[:d.configurationCount] {
		if have.Value == config.Value {
			return pkg.ErrBusy
		}
	}

	d.configurations[d.configurationCount] = config
	d.configurationCount++

	pkg.LogDebug(pkg.ComponentDevice, "configuration added",
		"value", config.Value)
	return nil
}

// GetConfiguration returns the configuration with the given value, or nil.
func (d *Device) GetConfiguration(value uint8) *Configuration {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.findConfiguration(value)
}

func (d *Device) findConfiguration(value uint8) *Configuration {
	for _, config := range d.configurations[:d.configurationCount] {
		if config.Value == value {
			return config
		}
	}
	return nil
}

// ConfigurationAt returns the configuration at descriptor index i, or nil.
func (d *Device) ConfigurationAt(i uint8) *Configuration {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	if int(i) >= d.configurationCount {
		return nil
	}
	return d.configurations[i]
}

// ActiveConfiguration returns the selected configuration, or nil.
func (d *Device) ActiveConfiguration() *Configuration {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.activeConfig
}

// SetString stores a pre-encoded string descriptor by reference.
func (d *Device) SetString(index uint8, data []byte) {
	if index >= MaxStrings {
		return
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.strings[index] = data
}

// SetStringFrom encodes s into buf and stores it at index.
// It returns the number of bytes written.
func (d *Device) SetStringFrom(index uint8, buf []byte, s string) int {
	if index == 0 || index >= MaxStrings {
		return 0
	}
	n := StringDescriptorTo(buf, s)
	if n > 0 {
		d.SetString(index, buf[:n])
	}
	return n
}

// SetLanguagesFrom encodes the language list into buf and stores it at index 0.
func (d *Device) SetLanguagesFrom(buf []byte, langIDs ...uint16) int {
	n := LanguageDescriptorTo(buf, langIDs...)
	if n > 0 {
		d.SetString(0, buf[:n])
	}
	return n
}

// GetString returns the string descriptor at index, or nil.
func (d *Device) GetString(index uint8) []byte {
	if index >= MaxStrings {
		return nil
	}
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.strings[index]
}

// SetVendorHandler registers the handler for device vendor requests.
func (d *Device) SetVendorHandler(h VendorHandler) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.vendor = h
}

// VendorHandler returns the registered vendor request handler, or nil.
func (d *Device) VendorHandler() VendorHandler {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.vendor
}

// State returns the current device state.
func (d *Device) State() State {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.state
}

func (d *Device) setState(newState State) {
	d.mutex.Lock()
	oldState := d.state
	d.state = newState
	callback := d.onStateChange
	d.mutex.Unlock()

	if oldState == newState {
		return
	}
	pkg.LogDebug(pkg.ComponentDevice, "device state changed",
		"from", oldState.String(),
		"to", newState.String())
	if callback != nil {
		callback(oldState, newState)
	}
}

// Address returns the assigned bus address.
func (d *Device) Address() uint8 {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.address
}

// Speed returns the bus speed.
func (d *Device) Speed() Speed {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.speed
}

// SetSpeed records the negotiated bus speed.
func (d *Device) SetSpeed(speed Speed) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.speed = speed
}

// ControlEndpoint returns EP0.
func (d *Device) ControlEndpoint() *Endpoint {
	return d.ep0
}

// IsConfigured reports whether a configuration is selected.
func (d *Device) IsConfigured() bool {
	return d.State() == StateConfigured
}

// Reset returns the device to the Default state after a bus reset.
// It returns the configuration that was active, or nil.
func (d *Device) Reset() *Configuration {
	d.mutex.Lock()
	previous := d.activeConfig
	d.address = 0
	d.activeConfig = nil
	d.remoteWakeupEnabled = false
	callback := d.onReset
	d.mutex.Unlock()

	d.setState(StateDefault)
	if callback != nil {
		callback()
	}
	pkg.LogDebug(pkg.ComponentDevice, "device reset")
	return previous
}

// SetAddress handles SET_ADDRESS.
func (d *Device) SetAddress(address uint8) error {
	d.mutex.Lock()
	if d.state != StateDefault && d.state != StateAddress {
		d.mutex.Unlock()
		return pkg.ErrInvalidState
	}
	d.address = address
	d.mutex.Unlock()

	if address == 0 {
		d.setState(StateDefault)
	} else {
		d.setState(StateAddress)
	}
	pkg.LogDebug(pkg.ComponentDevice, "device address set",
		"address", address)
	return nil
}

// SetConfiguration handles SET_CONFIGURATION. Value 0 returns the device to
// the Address state.
func (d *Device) SetConfiguration(value uint8) error {
	d.mutex.Lock()
	if d.state != StateAddress && d.state != StateConfigured {
		d.mutex.Unlock()
		return pkg.ErrInvalidState
	}

	if value == 0 {
		d.activeConfig = nil
		d.mutex.Unlock()
		d.setState(StateAddress)
		return nil
	}

	config := d.findConfiguration(value)
	if config == nil {
		d.mutex.Unlock()
		return pkg.ErrInvalidRequest
	}
	d.activeConfig = config
	d.mutex.Unlock()

	d.setState(StateConfigured)
	pkg.LogDebug(pkg.ComponentDevice, "device configured",
		"configuration", value)
	return nil
}

// EnableRemoteWakeup sets the remote wakeup feature.
func (d *Device) EnableRemoteWakeup(enabled bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.remoteWakeupEnabled = enabled
}

// IsRemoteWakeupEnabled reports whether the remote wakeup feature is set.
func (d *Device) IsRemoteWakeupEnabled() bool {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.remoteWakeupEnabled
}

// GetInterface returns an interface of the active configuration, or nil.
func (d *Device) GetInterface(number uint8) *Interface {
	config := d.ActiveConfiguration()
	if config == nil {
		return nil
	}
	return config.GetInterface(number)
}

// GetEndpoint returns an endpoint of the active configuration, or nil.
// Addresses 0x00 and 0x80 both name EP0.
func (d *Device) GetEndpoint(address uint8) *Endpoint {
	if address&0x0F == 0 {
		return d.ep0
	}
	config := d.ActiveConfiguration()
	if config == nil {
		return nil
	}
	for _, iface := range config.Interfaces() {
		if ep := iface.GetEndpoint(address); ep != nil {
			return ep
		}
	}
	return nil
}

// SetOnStateChange sets the state change callback.
func (d *Device) SetOnStateChange(cb func(old, new State)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onStateChange = cb
}

// SetOnReset sets the bus reset callback.
func (d *Device) SetOnReset(cb func()) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onReset = cb
}

// Close closes every configuration's class drivers.
func (d *Device) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var lastErr error
	for idx, config := range d.configurations[:d.configurationCount] {
		if err := config.Close(); err != nil {
			lastErr = err
		}
		d.configurations[idx] = nil
	}
	d.configurationCount = 0
	d.activeConfig = nil
	return lastErr
}

// DeviceStatus is the GET_STATUS reply for the device recipient.
type DeviceStatus uint16

// Device status bits.
const (
	DeviceStatusSelfPowered  DeviceStatus = 1 << 0
	DeviceStatusRemoteWakeup DeviceStatus = 1 << 1
)

// GetStatus returns the device status.
func (d *Device) GetStatus() DeviceStatus {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	var status DeviceStatus
	if d.activeConfig != nil && d.activeConfig.IsSelfPowered() {
		status |= DeviceStatusSelfPowered
	}
	if d.remoteWakeupEnabled {
		status |= DeviceStatusRemoteWakeup
	}
	return status
}

// DeviceBuilder assembles a Device.
type DeviceBuilder struct {
	device *Device
	config *Configuration
	iface  *Interface
	errors []error

	stringBufs [MaxStrings][256]byte
}

// NewDeviceBuilder creates a new device builder.
func NewDeviceBuilder() *DeviceBuilder {
	return &DeviceBuilder{}
}

// WithDescriptor starts from an explicit device descriptor.
func (b *DeviceBuilder) WithDescriptor(desc *DeviceDescriptor) *DeviceBuilder {
	b.device = NewDevice(desc)
	return b
}

// WithVendorProduct sets the vendor and product IDs, creating a USB 2.0
// device descriptor with a 64-byte EP0 if none was given.
func (b *DeviceBuilder) WithVendorProduct(vendorID, productID uint16) *DeviceBuilder {
	if b.device == nil {
		b.device = NewDevice(&DeviceDescriptor{
			Length:         DeviceDescriptorSize,
			DescriptorType: DescriptorTypeDevice,
			USBVersion:     0x0200,
			MaxPacketSize0: 64,
		})
	}
	b.device.Descriptor.VendorID = vendorID
	b.device.Descriptor.ProductID = productID
	return b
}

// WithDeviceVersion sets bcdDevice.
func (b *DeviceBuilder) WithDeviceVersion(bcd uint16) *DeviceBuilder {
	if b.device == nil {
		b.errors = append(b.errors, pkg.ErrInvalidState)
		return b
	}
	b.device.Descriptor.DeviceVersion = bcd
	return b
}

// WithStrings sets the manufacturer (1), product (2) and serial (3) strings.
// Empty strings are left out.
func (b *DeviceBuilder) WithStrings(manufacturer, product, serial string) *DeviceBuilder {
	if b.device == nil {
		b.errors = append(b.errors, pkg.ErrInvalidState)
		return b
	}
	desc := b.device.Descriptor
	b.device.SetLanguagesFrom(b.stringBufs[0][:], LangIDUSEnglish)
	for _, s := range []struct {
		index uint8
		field *uint8
		value string
	}{
		{1, &desc.ManufacturerIndex, manufacturer},
		{2, &desc.ProductIndex, product},
		{3, &desc.SerialNumberIndex, serial},
	} {
		if s.value == "" {
			continue
		}
		*s.field = s.index
		b.device.SetStringFrom(s.index, b.stringBufs[s.index][:], s.value)
	}
	return b
}

// AddConfiguration adds a configuration and makes it current.
func (b *DeviceBuilder) AddConfiguration(value uint8) *DeviceBuilder {
	if b.device == nil {
		b.errors = append(b.errors, pkg.ErrInvalidState)
		return b
	}
	b.config = NewConfiguration(value)
	if err := b.device.AddConfiguration(b.config); err != nil {
		b.errors = append(b.errors, err)
		return b
	}
	b.device.Descriptor.NumConfigurations++
	return b
}

// AddInterface adds an interface to the current configuration and makes it current.
func (b *DeviceBuilder) AddInterface(class, subClass, protocol uint8) *DeviceBuilder {
	if b.config == nil {
		b.errors = append(b.errors, pkg.ErrInvalidState)
		return b
	}
	b.iface = NewInterface(&InterfaceDescriptor{
		InterfaceNumber:   uint8(b.config.NumInterfaces()),
		InterfaceClass:    class,
		InterfaceSubClass: subClass,
		InterfaceProtocol: protocol,
	})
	if err := b.config.AddInterface(b.iface); err != nil {
		b.errors = append(b.errors, err)
	}
	return b
}

// WithInterfaceString sets the string index of the current interface.
func (b *DeviceBuilder) WithInterfaceString(index uint8) *DeviceBuilder {
	if b.iface == nil {
		b.errors = append(b.errors, pkg.ErrInvalidState)
		return b
	}
	b.iface.StringIndex = index
	return b
}

// AddEndpoint adds an endpoint to the current interface.
func (b *DeviceBuilder) AddEndpoint(address uint8, transferType uint8, maxPacketSize uint16) *DeviceBuilder {
	if b.iface == nil {
		b.errors = append(b.errors, pkg.ErrInvalidState)
		return b
	}
	ep := &Endpoint{
		Address:       address,
		Attributes:    transferType,
		MaxPacketSize: maxPacketSize,
	}
	if err := b.iface.AddEndpoint(ep); err != nil {
		b.errors = append(b.errors, err)
	}
	return b
}

// WithClassDriver binds driver to the current interface.
func (b *DeviceBuilder) WithClassDriver(driver ClassDriver) *DeviceBuilder {
	if b.iface == nil {
		b.errors = append(b.errors, pkg.ErrInvalidState)
		return b
	}
	if err := b.iface.SetClassDriver(driver); err != nil {
		b.errors = append(b.errors, err)
	}
	return b
}

// WithVendorHandler registers the device's vendor request handler.
func (b *DeviceBuilder) WithVendorHandler(h VendorHandler) *DeviceBuilder {
	if b.device == nil {
		b.errors = append(b.errors, pkg.ErrInvalidState)
		return b
	}
	b.device.SetVendorHandler(h)
	return b
}

// Build returns the device, or the first error recorded while building.
func (b *DeviceBuilder) Build() (*Device, error) {
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}
	if b.device == nil {
		return nil, pkg.ErrInvalidState
	}
	return b.device, nil
}
