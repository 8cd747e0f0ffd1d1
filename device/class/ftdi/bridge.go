package ftdi

import "github.com/ardnew/softftdi/pkg"

// HandleEndpoint services a bulk endpoint interrupt. Interrupt context.
func (e *Emulator) HandleEndpoint(address uint8) {
	switch address {
	case e.in:
		e.handleIn()
	case e.out:
		e.handleOut()
	default:
		e.hal.EnableEndpointInterrupt(address, false)
	}
}

// handleIn sends one packet to the host: the status header followed by as
// much queued data as fits. A header-only packet leaves the endpoint idle
// until the next Put.
func (e *Emulator) handleIn() {
	payload := e.inBuf[StatusHeaderSize:]

	w := lineState(e.state.Load())
	status := w.status()
	pending := e.tx.LenLocked() > len(payload)
	status.THRE = !pending
	status.TEMT = !pending
	w = packState(status, w.lines())
	e.state.Store(uint32(w))

	header := w.bytes()
	copy(e.inBuf, header[:])

	n := 0
	for n < len(payload) {
		b, ok := e.tx.TryGetLocked()
		if !ok {
			break
		}
		payload[n] = b
		n++
	}

	if err := e.hal.WritePacket(e.in, e.inBuf[:StatusHeaderSize+n]); err != nil {
		e.config.Observer.Dropped(DirectionIn, n)
		pkg.LogDebug(pkg.ComponentBridge, "error writing packet",
			"address", e.in,
			"bytes", n,
			"error", err)
	} else {
		e.config.Observer.Packet(DirectionIn, n)
	}

	if n == 0 {
		e.hal.EnableEndpointInterrupt(e.in, false)
		return
	}
	select {
	case e.txSpace <- struct{}{}:
	default:
	}
}

// handleOut moves one packet from the host into the RX queue, or leaves it
// pending and masks the endpoint when the queue cannot take all of it.
func (e *Emulator) handleOut() {
	length := e.hal.PacketLength(e.out)
	if length > e.rx.FreeLocked() {
		e.hal.EnableEndpointInterrupt(e.out, false)
		e.config.Observer.Deferred()
		pkg.LogDebug(pkg.ComponentBridge, "packet deferred",
			"bytes", length,
			"free", e.rx.FreeLocked())
		return
	}

	n := e.hal.ReadPacket(e.out, e.outBuf)
	queued := 0
	for _, b := range e.outBuf[:n] {
		if e.rx.TryPutLocked(b) {
			queued++
		}
	}
	if err := e.hal.ReleasePacket(e.out); err != nil {
		pkg.LogDebug(pkg.ComponentBridge, "error releasing packet",
			"address", e.out,
			"error", err)
	}

	e.config.Observer.Packet(DirectionOut, queued)
	if dropped := length - queued; dropped > 0 {
		e.config.Observer.Dropped(DirectionOut, dropped)
	}
	if queued > 0 {
		select {
		case e.rxReady <- struct{}{}:
		default:
		}
	}
}
