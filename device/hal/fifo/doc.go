// Package fifo implements hal.DeviceHAL over named pipes, for simulation and
// integration tests without USB hardware.
//
// # Layout
//
// Each device creates a directory under a shared bus directory:
//
//	/tmp/usb-bus/
//	└── device-{xid}/
//	    ├── connection               # 0x01 attached, 0x00 detached (device → host)
//	    ├── host_to_device           # SETUP, reset and address messages
//	    ├── device_to_host           # data stage, ACK and STALL replies
//	    ├── ep1_in, ep1_out          # bulk/interrupt data per endpoint number
//	    └── ...                      # up to ep15_in/ep15_out
//
// Directory names use rs/xid identifiers, so several devices can share one
// bus directory.
//
// # Messages
//
// Every message is a 3-byte header, type then little-endian payload length,
// followed by the payload. A host performs a control transfer by writing a
// SETUP message (payload: address, the 8 setup bytes, then any OUT data) and
// reading one reply: DATA for an IN request, ACK for an OUT request, or
// STALL. Bulk packets travel as DATA messages on the endpoint pipes.
//
// # Interrupts
//
// Data endpoints follow the interrupt model of hal.DeviceHAL. A goroutine per
// configured endpoint holds at most one packet: an OUT packet read from the
// pipe stays pending until the handler releases it, and an IN packet staged
// by the handler is written to the pipe after the handler returns. The
// goroutine calls the handler through irq.Run only while the endpoint's
// interrupt is enabled.
//
// # Usage
//
//	h := fifo.New("/tmp/usb-bus")
//	stack := device.NewStack(dev, h)
//	_ = stack.Start(ctx)
//	fmt.Println("device directory:", h.DeviceDir())
package fifo
