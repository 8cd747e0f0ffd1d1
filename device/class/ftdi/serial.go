package ftdi

import (
	"context"
	"io"
	"runtime"

	"github.com/ardnew/softftdi/pkg"
)

// Serial is the application side of the emulated port. Exactly one goroutine
// may read and one may write at a time; the interrupt handlers are the other
// end of each queue.
//
// Whether Get and Put wait is decided by the emulator's BlockingIn and
// BlockingOut flags. Blocking waits spin and have no timeout; use GetContext
// to wait with cancellation.
type Serial struct {
	e *Emulator
}

// Put queues c for the host. Without BlockingOut a full queue drops c and
// Put returns false.
func (s *Serial) Put(c byte) bool {
	for !s.e.tx.TryPut(c) {
		if s.e.config.Flags&BlockingOut == 0 {
			s.e.config.Observer.Dropped(DirectionIn, 1)
			return false
		}
		runtime.Gosched()
	}
	s.arm(s.e.in)
	return true
}

// Get removes the oldest byte from the host. Without BlockingIn an empty
// queue returns false immediately.
func (s *Serial) Get() (byte, bool) {
	for {
		if c, ok := s.e.rx.TryGet(); ok {
			s.arm(s.e.out)
			return c, true
		}
		if s.e.config.Flags&BlockingIn == 0 {
			return 0, false
		}
		runtime.Gosched()
	}
}

// GetContext waits for a byte from the host until ctx is done, whatever the
// blocking flags.
func (s *Serial) GetContext(ctx context.Context) (byte, error) {
	for {
		if c, ok := s.e.rx.TryGet(); ok {
			s.arm(s.e.out)
			return c, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-s.e.rxReady:
		}
	}
}

// PutContext queues c for the host, waiting for room until ctx is done,
// whatever the blocking flags.
func (s *Serial) PutContext(ctx context.Context, c byte) error {
	for !s.e.tx.TryPut(c) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.e.txSpace:
		}
	}
	s.arm(s.e.in)
	return nil
}

// WriteContext queues all of p, waiting for room until ctx is done.
func (s *Serial) WriteContext(ctx context.Context, p []byte) (int, error) {
	for i, c := range p {
		if err := s.PutContext(ctx, c); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

// CanGet reports whether a byte from the host is waiting.
func (s *Serial) CanGet() bool {
	return s.e.rx.CanGet()
}

// DTR returns the data terminal ready line as last set by the host.
func (s *Serial) DTR() bool {
	return s.e.ControlLines().DTR
}

// RTS returns the request to send line as last set by the host.
func (s *Serial) RTS() bool {
	return s.e.ControlLines().RTS
}

// ControlLine returns the level of line l.
func (s *Serial) ControlLine(l Line) bool {
	return s.e.ControlLines().Get(l)
}

// Status returns the status last reported to the host.
func (s *Serial) Status() Status {
	return s.e.Status()
}

// Read reads at least one byte. Without BlockingIn it returns pkg.ErrNoData
// when nothing is waiting.
func (s *Serial) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	c, ok := s.Get()
	if !ok {
		return 0, pkg.ErrNoData
	}
	p[0] = c
	n := 1
	for n < len(p) {
		c, ok := s.e.rx.TryGet()
		if !ok {
			break
		}
		p[n] = c
		n++
	}
	if n > 1 {
		s.arm(s.e.out)
	}
	return n, nil
}

// Write queues p for the host. Without BlockingOut, Write stops at the
// first byte that does not fit, counts the rest of p as dropped and returns
// pkg.ErrBufferFull with the count queued.
func (s *Serial) Write(p []byte) (int, error) {
	for i, c := range p {
		if !s.Put(c) {
			if rest := len(p) - i - 1; rest > 0 {
				s.e.config.Observer.Dropped(DirectionIn, rest)
			}
			return i, pkg.ErrBufferFull
		}
	}
	return len(p), nil
}

// ReadByte implements io.ByteReader.
func (s *Serial) ReadByte() (byte, error) {
	c, ok := s.Get()
	if !ok {
		return 0, pkg.ErrNoData
	}
	return c, nil
}

// WriteByte implements io.ByteWriter.
func (s *Serial) WriteByte(c byte) error {
	if !s.Put(c) {
		return pkg.ErrBufferFull
	}
	return nil
}

// arm re-enables the interrupt of a bulk endpoint once the device is
// configured, releasing back-pressure or waking an idle IN endpoint.
func (s *Serial) arm(address uint8) {
	if !s.e.configured.Load() || s.e.hal == nil {
		return
	}
	if !s.e.hal.EndpointInterruptEnabled(address) {
		s.e.hal.EnableEndpointInterrupt(address, true)
	}
}

var (
	_ io.Reader     = (*Serial)(nil)
	_ io.Writer     = (*Serial)(nil)
	_ io.ByteReader = (*Serial)(nil)
	_ io.ByteWriter = (*Serial)(nil)
)
