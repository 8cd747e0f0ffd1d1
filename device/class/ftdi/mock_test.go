package ftdi

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ardnew/softftdi/device"
	"github.com/ardnew/softftdi/device/hal"
	"github.com/ardnew/softftdi/pkg/irq"
)

// mockHAL holds at most one OUT packet and records IN packets.
type mockHAL struct {
	mutex    sync.Mutex
	enabled  map[uint8]bool
	pending  []byte
	held     bool
	released int
	sent     [][]byte
	writeErr error
}

func newMockHAL() *mockHAL {
	return &mockHAL{enabled: make(map[uint8]bool)}
}

func (m *mockHAL) Init(ctx context.Context) error                          { return nil }
func (m *mockHAL) Start() error                                            { return nil }
func (m *mockHAL) Stop() error                                             { return nil }
func (m *mockHAL) SetAddress(address uint8) error                          { return nil }
func (m *mockHAL) ConfigureEndpoints(endpoints []hal.EndpointConfig) error { return nil }
func (m *mockHAL) WriteEP0(ctx context.Context, data []byte) error         { return nil }
func (m *mockHAL) ReadEP0(ctx context.Context, buf []byte) (int, error)    { return 0, nil }
func (m *mockHAL) StallEP0() error                                         { return nil }
func (m *mockHAL) AckEP0() error                                           { return nil }
func (m *mockHAL) SetEndpointHandler(fn hal.EndpointHandler)               {}
func (m *mockHAL) Stall(address uint8) error                               { return nil }
func (m *mockHAL) ClearStall(address uint8) error                          { return nil }
func (m *mockHAL) IsConnected() bool                                       { return true }
func (m *mockHAL) GetSpeed() hal.Speed                                     { return hal.SpeedFull }
func (m *mockHAL) WaitConnect(ctx context.Context) error                   { return nil }
func (m *mockHAL) WaitDisconnect(ctx context.Context) error                { <-ctx.Done(); return ctx.Err() }

func (m *mockHAL) ReadSetup(ctx context.Context, out *hal.SetupPacket) error {
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockHAL) EnableEndpointInterrupt(address uint8, enable bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.enabled[address] = enable
}

func (m *mockHAL) EndpointInterruptEnabled(address uint8) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.enabled[address]
}

func (m *mockHAL) PacketLength(address uint8) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if !m.held {
		return 0
	}
	return len(m.pending)
}

func (m *mockHAL) ReadPacket(address uint8, buf []byte) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return copy(buf, m.pending)
}

func (m *mockHAL) ReleasePacket(address uint8) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.pending = nil
	m.held = false
	m.released++
	return nil
}

func (m *mockHAL) WritePacket(address uint8, data []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.sent = append(m.sent, append([]byte{}, data...))
	return nil
}

func (m *mockHAL) isEnabled(address uint8) bool {
	return m.EndpointInterruptEnabled(address)
}

// hold places a packet on the OUT endpoint.
func (m *mockHAL) hold(data []byte) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.pending = append([]byte{}, data...)
	m.held = true
}

func (m *mockHAL) isHeld() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.held
}

func (m *mockHAL) packets() [][]byte {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([][]byte{}, m.sent...)
}

var _ hal.DeviceHAL = (*mockHAL)(nil)

// countingObserver tallies observer calls.
type countingObserver struct {
	mutex    sync.Mutex
	packets  map[Direction]int
	bytes    map[Direction]int
	dropped  map[Direction]int
	deferred int
	requests map[string]int
	rejected map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{
		packets:  make(map[Direction]int),
		bytes:    make(map[Direction]int),
		dropped:  make(map[Direction]int),
		requests: make(map[string]int),
		rejected: make(map[string]int),
	}
}

func (o *countingObserver) Packet(dir Direction, n int) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.packets[dir]++
	o.bytes[dir] += n
}

func (o *countingObserver) Deferred() {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.deferred++
}

func (o *countingObserver) Dropped(dir Direction, n int) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.dropped[dir] += n
}

func (o *countingObserver) Request(name string, accepted bool) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.requests[name]++
	if !accepted {
		o.rejected[name]++
	}
}

// newTestEmulator returns an emulator wired to a mock HAL through a stack
// that is never started.
func newTestEmulator(t *testing.T, config Config) (*Emulator, *mockHAL) {
	t.Helper()
	e, err := New(config)
	require.NoError(t, err)
	dev, err := NewDevice(e)
	require.NoError(t, err)
	m := newMockHAL()
	e.SetStack(device.NewStack(dev, m))
	return e, m
}

// configure delivers the configuration event the stack raises on
// SET_CONFIGURATION.
func configure(e *Emulator) {
	irq.Run(e.Configured)
}

// interrupt raises the interrupt of a bulk endpoint.
func interrupt(e *Emulator, address uint8) {
	irq.Run(func() { e.HandleEndpoint(address) })
}

// vendorIn issues a device-to-host vendor request.
func vendorIn(e *Emulator, request uint8, value, index, length uint16) ([]byte, error) {
	var setup device.SetupPacket
	device.VendorInSetup(&setup, request, value, index, length)
	return vendor(e, &setup)
}

// vendorOut issues a host-to-device vendor request without data.
func vendorOut(e *Emulator, request uint8, value, index uint16) error {
	var setup device.SetupPacket
	device.VendorOutSetup(&setup, request, value, index)
	_, err := vendor(e, &setup)
	return err
}

func vendor(e *Emulator, setup *device.SetupPacket) (reply []byte, err error) {
	irq.Run(func() {
		reply, err = e.HandleVendor(setup, nil)
		reply = append([]byte(nil), reply...)
	})
	return reply, err
}

func irqRun(fn func()) {
	irq.Run(fn)
}

// irqPut queues host data the way the OUT handler does.
func irqPut(e *Emulator, data []byte) {
	irq.Run(func() {
		for _, c := range data {
			e.rx.TryPutLocked(c)
		}
	})
}
