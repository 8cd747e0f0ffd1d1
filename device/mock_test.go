package device

import (
	"context"
	"sync"

	"github.com/ardnew/softftdi/device/hal"
	"github.com/ardnew/softftdi/pkg"
	"github.com/ardnew/softftdi/pkg/irq"
)

// ep0Event records how the stack completed one control transfer.
type ep0Event struct {
	kind string // "data", "ack" or "stall"
	data []byte
}

// mockHAL is an in-memory controller. Setup packets are fed through setups;
// a nil entry simulates a bus reset.
type mockHAL struct {
	mutex      sync.Mutex
	setups     chan *hal.SetupPacket
	events     chan ep0Event
	handler    hal.EndpointHandler
	enabled    map[uint8]bool
	endpoints  []hal.EndpointConfig
	configured int
	stalled    map[uint8]bool
	address    uint8
	started    bool
	stopped    bool
}

func newMockHAL() *mockHAL {
	return &mockHAL{
		setups:  make(chan *hal.SetupPacket, 16),
		events:  make(chan ep0Event, 16),
		enabled: make(map[uint8]bool),
		stalled: make(map[uint8]bool),
	}
}

func (m *mockHAL) Init(ctx context.Context) error { return nil }

func (m *mockHAL) Start() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.started = true
	return nil
}

func (m *mockHAL) Stop() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.stopped = true
	return nil
}

func (m *mockHAL) SetAddress(address uint8) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.address = address
	return nil
}

func (m *mockHAL) ConfigureEndpoints(endpoints []hal.EndpointConfig) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.endpoints = append([]hal.EndpointConfig(nil), endpoints...)
	m.enabled = make(map[uint8]bool)
	m.configured++
	return nil
}

func (m *mockHAL) ReadSetup(ctx context.Context, out *hal.SetupPacket) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case setup := <-m.setups:
		if setup == nil {
			return pkg.ErrReset
		}
		*out = *setup
		return nil
	}
}

func (m *mockHAL) WriteEP0(ctx context.Context, data []byte) error {
	m.events <- ep0Event{kind: "data", data: append([]byte{}, data...)}
	return nil
}

func (m *mockHAL) ReadEP0(ctx context.Context, buf []byte) (int, error) {
	return 0, nil
}

func (m *mockHAL) StallEP0() error {
	m.events <- ep0Event{kind: "stall"}
	return nil
}

func (m *mockHAL) AckEP0() error {
	m.events <- ep0Event{kind: "ack"}
	return nil
}

func (m *mockHAL) SetEndpointHandler(fn hal.EndpointHandler) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.handler = fn
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

func (m *mockHAL) PacketLength(address uint8) int               { return 0 }
func (m *mockHAL) ReadPacket(address uint8, buf []byte) int     { return 0 }
func (m *mockHAL) ReleasePacket(address uint8) error            { return nil }
func (m *mockHAL) WritePacket(address uint8, data []byte) error { return nil }
func (m *mockHAL) IsConnected() bool                            { return true }
func (m *mockHAL) GetSpeed() hal.Speed                          { return hal.SpeedFull }
func (m *mockHAL) WaitConnect(ctx context.Context) error        { return nil }
func (m *mockHAL) WaitDisconnect(ctx context.Context) error     { <-ctx.Done(); return ctx.Err() }

func (m *mockHAL) Stall(address uint8) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.stalled[address] = true
	return nil
}

func (m *mockHAL) ClearStall(address uint8) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.stalled[address] = false
	return nil
}

// fire raises an endpoint interrupt the way a hosted HAL does.
func (m *mockHAL) fire(address uint8) {
	m.mutex.Lock()
	fn := m.handler
	m.mutex.Unlock()
	irq.Run(func() { fn(address) })
}

var _ hal.DeviceHAL = (*mockHAL)(nil)

// mockDriver is a class driver that records configuration and endpoint events.
type mockDriver struct {
	mutex        sync.Mutex
	initCalls    int
	closed       bool
	configured   int
	unconfigured int
	serviced     []uint8
	vendorReply  []byte
	vendorErr    error
	lastVendor   SetupPacket
}

func (d *mockDriver) Init(iface *Interface) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.initCalls++
	return nil
}

func (d *mockDriver) HandleSetup(iface *Interface, setup *SetupPacket, data []byte) (bool, error) {
	return setup.Request == 0x42, nil
}

func (d *mockDriver) SetAlternate(iface *Interface, alt uint8) error { return nil }

func (d *mockDriver) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.closed = true
	return nil
}

func (d *mockDriver) Configured() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.configured++
}

func (d *mockDriver) Unconfigured() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.unconfigured++
}

func (d *mockDriver) HandleEndpoint(address uint8) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.serviced = append(d.serviced, address)
}

func (d *mockDriver) HandleVendor(setup *SetupPacket, data []byte) ([]byte, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.lastVendor = *setup
	return d.vendorReply, d.vendorErr
}

func (d *mockDriver) counts() (configured, unconfigured int) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.configured, d.unconfigured
}

// buildTestDevice returns a one-interface device with bulk endpoints 0x81
// and 0x02 bound to driver.
func buildTestDevice(t interface{ Fatalf(string, ...any) }, driver *mockDriver) *Device {
	b := NewDeviceBuilder().
		WithVendorProduct(0x0403, 0x6001).
		WithStrings("Maker", "Widget", "0001").
		AddConfiguration(1).
		AddInterface(ClassVendor, ClassVendor, ClassVendor).
		WithInterfaceString(2).
		AddEndpoint(0x81, EndpointTypeBulk, 64).
		AddEndpoint(0x02, EndpointTypeBulk, 64)
	if driver != nil {
		b.WithClassDriver(driver).WithVendorHandler(driver)
	}
	dev, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return dev
}
