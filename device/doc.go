// Package device implements the device side of USB: descriptors, the
// chapter 9 state machine and the control pipe, on top of the transport in
// [github.com/ardnew/softftdi/device/hal].
//
// # Architecture
//
//   - [Device] holds descriptors, strings, state and the active configuration
//   - [Configuration], [Interface] and [Endpoint] mirror the descriptor tree
//   - [Stack] runs the control loop and routes endpoint interrupts
//   - [StandardRequestHandler] answers the standard requests
//
// # Function drivers
//
// A function plugs in through small interfaces. [ClassDriver] is bound to an
// interface and sees class requests addressed to it. A [VendorHandler]
// registered on the Device answers vendor requests; these are routed at
// device level because vendor protocols are free to use wIndex for their own
// purposes. Drivers that also implement [ConfigurationListener] learn when the
// host selects or drops their configuration, and drivers implementing
// [EndpointHandler] service their data endpoints from interrupt context.
//
// # Zero allocation
//
// Descriptors serialize with MarshalTo into caller buffers, and the device
// model uses fixed-size tables, so the package runs under TinyGo.
//
// # Example
//
//	dev, err := device.NewDeviceBuilder().
//	    WithVendorProduct(0x0403, 0x6001).
//	    WithStrings("Maker", "Widget", "").
//	    AddConfiguration(1).
//	    AddInterface(device.ClassVendor, device.ClassVendor, device.ClassVendor).
//	    AddEndpoint(0x81, device.EndpointTypeBulk, 64).
//	    AddEndpoint(0x02, device.EndpointTypeBulk, 64).
//	    WithClassDriver(driver).
//	    WithVendorHandler(driver).
//	    Build()
//	stack := device.NewStack(dev, controller)
//	err = stack.Start(ctx)
package device
