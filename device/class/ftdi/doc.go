// Package ftdi emulates an FTDI FT232R USB-to-serial bridge so the host's
// stock driver (ftdi_sio on Linux, the vendor driver elsewhere) binds to the
// device without custom host software.
//
// An [Emulator] plays three roles on the device stack:
//
//   - class driver of the vendor interface, armed when the host selects the
//     configuration
//   - vendor request handler answering the chip's control protocol (reset
//     and purge, modem control, status polling, EEPROM reads)
//   - interrupt handler of the bulk endpoints, moving packets between the
//     transport and two bounded byte queues
//
// Every bulk IN packet starts with the two status bytes the real chip sends.
// When the TX queue runs dry the IN endpoint is masked until the next byte is
// queued; when the RX queue cannot take a whole OUT packet the OUT endpoint
// is masked and the packet stays with the transport until the application
// reads. Baud rate, line format, flow control and EEPROM writes are accepted
// and ignored: there is no UART behind the queues.
//
// The application uses [Serial]:
//
//	emu, _ := ftdi.New(ftdi.Config{Flags: ftdi.Blocking})
//	dev, _ := ftdi.NewDevice(emu)
//	stack := device.NewStack(dev, h)
//	emu.SetStack(stack)
//	_ = stack.Start(ctx)
//
//	port := emu.Serial()
//	for {
//		c, _ := port.Get()
//		port.Put(c)
//	}
package ftdi
