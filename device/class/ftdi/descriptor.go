package ftdi

import "github.com/ardnew/softftdi/device"

// ConfigureDevice describes an FT232R on builder: the chip's identity, one
// configuration with one vendor interface, and the two bulk endpoints. The
// emulator becomes the interface's class driver and the device's vendor
// request handler.
func (e *Emulator) ConfigureDevice(builder *device.DeviceBuilder) *device.DeviceBuilder {
	size := uint16(e.config.PacketSize)
	return builder.
		WithVendorProduct(VendorID, ProductID).
		WithDeviceVersion(DeviceVersion).
		WithStrings(e.config.Manufacturer, e.config.Product, e.config.SerialNumber).
		AddConfiguration(1).
		AddInterface(InterfaceClass, InterfaceClass, InterfaceClass).
		WithInterfaceString(2). // product string, as the real chip does
		AddEndpoint(EndpointIn, device.EndpointTypeBulk, size).
		AddEndpoint(EndpointOut, device.EndpointTypeBulk, size).
		WithClassDriver(e).
		WithVendorHandler(e)
}

// NewDevice builds the USB device of an emulator.
func NewDevice(e *Emulator) (*device.Device, error) {
	return e.ConfigureDevice(device.NewDeviceBuilder()).Build()
}
