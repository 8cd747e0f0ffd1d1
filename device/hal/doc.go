// Package hal defines the transport between the device stack and a USB
// device controller.
//
// The stack implements every USB protocol rule. A HAL only moves packets and
// reports bus events, which keeps ports to new controllers small.
//
// # Control and data endpoints
//
// EP0 is served synchronously: the stack blocks in [DeviceHAL.ReadSetup],
// computes a reply, then completes the transfer with WriteEP0, AckEP0 or
// StallEP0.
//
// Data endpoints follow the interrupt model of small microcontrollers. The
// HAL calls the registered [EndpointHandler] whenever an endpoint with its
// interrupt enabled needs service. A handler reads or writes at most one
// packet and may disable the interrupt to apply back-pressure; some other
// code re-enables it once the condition clears.
//
//   - OUT: the received packet stays pending until [DeviceHAL.ReleasePacket].
//     A packet that is never released is never lost, the host just sees NAK.
//   - IN: [DeviceHAL.WritePacket] queues one packet for the next IN token.
//
// # Implementing a HAL
//
// On TinyGo the endpoint handler is called from the controller's ISR. Hosted
// implementations run one goroutine per endpoint and enter the handler
// through irq.Run, so application code using irq.Disable sees the same
// exclusion it would on hardware.
//
// A named-pipe HAL for simulation and tests lives in [github.com/ardnew/softftdi/device/hal/fifo].
package hal
