package fifo

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sys/unix"

	"github.com/ardnew/softftdi/device/hal"
	"github.com/ardnew/softftdi/pkg"
	"github.com/ardnew/softftdi/pkg/irq"
)

// MaxEndpoints is the number of data endpoint numbers (1-15) per direction.
const MaxEndpoints = 15

// MaxPacketSize is the largest payload of one message.
const MaxPacketSize = 512

// Message types on the pipes.
const (
	msgSetup   = 0x01 // SETUP from host: [address, setup(8), data...]
	msgData    = 0x02 // data stage or bulk packet
	msgAck     = 0x03 // status stage completed
	msgStall   = 0x05 // request rejected
	msgReset   = 0x12 // bus reset from host
	msgAddress = 0x13 // address assigned by host
)

// headerSize is the message header: type (1) + little-endian length (2).
const headerSize = 3

// Connection signal bytes written to the connection pipe.
const (
	sigConnect    = 0x01
	sigDisconnect = 0x00
)

// Pipe names inside the device directory.
const (
	fifoHostToDevice = "host_to_device"
	fifoDeviceToHost = "device_to_host"
	fifoConnection   = "connection"
)

// pollInterval bounds each blocking pipe operation so cancellation is seen.
const pollInterval = 100 * time.Millisecond

// retryInterval paces an endpoint whose handler left it enabled without
// making progress.
const retryInterval = 10 * time.Millisecond

// HAL implements hal.DeviceHAL over named pipes.
//
// Each device creates its own directory under the bus directory. EP0 traffic
// is framed messages on host_to_device and device_to_host. Every data
// endpoint has its own pipe, serviced by a goroutine that raises the
// endpoint interrupt through irq.Run while the interrupt is enabled.
type HAL struct {
	busDir    string
	deviceDir string
	id        string

	hostToDevice *os.File
	deviceToHost *os.File
	connection   *os.File

	epIn  [MaxEndpoints]*os.File // device writes
	epOut [MaxEndpoints]*os.File // device reads

	connected atomic.Bool
	speed     hal.Speed
	address   uint8

	mutex     sync.RWMutex
	initDone  bool
	ctx       context.Context
	connectCh chan struct{}
	disconnCh chan struct{}
	closeCh   chan struct{}
	closeOnce sync.Once

	handler hal.EndpointHandler

	// live endpoints, indexed by address
	endpoints [2 * (MaxEndpoints + 1)]atomic.Pointer[endpoint]
	epCancel  context.CancelFunc
	epGroup   sync.WaitGroup

	// control loop only
	readBuf  [MaxPacketSize + headerSize + 16]byte
	writeBuf [MaxPacketSize + headerSize]byte
	ep0Data  [MaxPacketSize]byte
	ep0Len   int
}

// endpoint is one configured data endpoint.
type endpoint struct {
	config  hal.EndpointConfig
	file    *os.File
	enabled atomic.Bool
	stalled atomic.Bool
	wake    chan struct{}

	mutex  sync.Mutex
	packet [MaxPacketSize]byte
	length int
	held   bool // OUT: packet received and not released; IN: packet staged

	header   [headerSize]byte
	writeBuf [MaxPacketSize + headerSize]byte
}

func epIndex(address uint8) int {
	i := int(address & 0x0F)
	if address&0x80 != 0 {
		i += MaxEndpoints + 1
	}
	return i
}

// New creates a HAL whose device directory will live under busDir.
func New(busDir string) *HAL {
	return &HAL{
		busDir:    busDir,
		speed:     hal.SpeedFull,
		connectCh: make(chan struct{}, 1),
		disconnCh: make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
	}
}

// Init creates the device directory and its pipes.
func (h *HAL) Init(ctx context.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.initDone {
		return pkg.ErrAlreadyRunning
	}

	h.ctx = ctx
	h.id = xid.New().String()
	h.deviceDir = filepath.Join(h.busDir, "device-"+h.id)

	if err := os.MkdirAll(h.deviceDir, 0o755); err != nil {
		return fmt.Errorf("create device dir: %w", err)
	}

	names := []string{fifoHostToDevice, fifoDeviceToHost, fifoConnection}
	for i := 1; i <= MaxEndpoints; i++ {
		names = append(names, fmt.Sprintf("ep%d_in", i), fmt.Sprintf("ep%d_out", i))
	}
	for _, name := range names {
		if err := h.createFIFO(name); err != nil {
			h.cleanup()
			return err
		}
	}

	// O_RDWR keeps every pipe open on both ends so neither side blocks in
	// open(2) waiting for the other.
	var err error
	open := func(name string) *os.File {
		if err != nil {
			return nil
		}
		var f *os.File
		f, err = h.openFIFO(name)
		return f
	}
	h.connection = open(fifoConnection)
	h.deviceToHost = open(fifoDeviceToHost)
	h.hostToDevice = open(fifoHostToDevice)
	for i := 0; i < MaxEndpoints; i++ {
		h.epIn[i] = open(fmt.Sprintf("ep%d_in", i+1))
		h.epOut[i] = open(fmt.Sprintf("ep%d_out", i+1))
	}
	if err != nil {
		h.cleanup()
		return err
	}

	h.initDone = true
	pkg.LogInfo(pkg.ComponentHAL, "fifo device HAL initialized",
		"busDir", h.busDir,
		"deviceDir", h.deviceDir)
	return nil
}

// Start signals the host that the device is attached.
func (h *HAL) Start() error {
	h.mutex.RLock()
	if !h.initDone {
		h.mutex.RUnlock()
		return pkg.ErrNotConfigured
	}
	conn := h.connection
	h.mutex.RUnlock()

	if _, err := conn.Write([]byte{sigConnect}); err != nil {
		pkg.LogWarn(pkg.ComponentHAL, "failed to signal connection", "error", err)
	}
	h.connected.Store(true)

	select {
	case h.connectCh <- struct{}{}:
	default:
	}

	pkg.LogInfo(pkg.ComponentHAL, "fifo device HAL started")
	return nil
}

// Stop signals disconnection, stops the endpoint goroutines and removes the
// device directory.
func (h *HAL) Stop() error {
	h.mutex.RLock()
	if h.connection != nil {
		_, _ = h.connection.Write([]byte{sigDisconnect})
	}
	h.mutex.RUnlock()

	h.connected.Store(false)
	select {
	case h.disconnCh <- struct{}{}:
	default:
	}

	h.closeOnce.Do(func() { close(h.closeCh) })
	h.stopEndpoints()

	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.cleanup()
	h.initDone = false

	pkg.LogInfo(pkg.ComponentHAL, "fifo device HAL stopped")
	return nil
}

// cleanup closes all pipes and removes the device directory.
func (h *HAL) cleanup() {
	closeFile := func(f **os.File) {
		if *f != nil {
			_ = (*f).Close()
			*f = nil
		}
	}
	closeFile(&h.hostToDevice)
	closeFile(&h.deviceToHost)
	closeFile(&h.connection)
	for i := 0; i < MaxEndpoints; i++ {
		closeFile(&h.epIn[i])
		closeFile(&h.epOut[i])
	}
	if h.deviceDir != "" {
		_ = os.RemoveAll(h.deviceDir)
	}
}

// SetAddress records the device address; pipes need no addressing.
func (h *HAL) SetAddress(address uint8) error {
	h.mutex.Lock()
	h.address = address
	h.mutex.Unlock()
	pkg.LogDebug(pkg.ComponentHAL, "address set", "address", address)
	return nil
}

// ConfigureEndpoints replaces the live endpoints. Each new endpoint gets a
// service goroutine and starts with its interrupt disabled.
func (h *HAL) ConfigureEndpoints(endpoints []hal.EndpointConfig) error {
	h.stopEndpoints()

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if len(endpoints) == 0 || !h.initDone {
		pkg.LogDebug(pkg.ComponentHAL, "endpoints released")
		return nil
	}

	ctx, cancel := context.WithCancel(h.ctx)
	h.epCancel = cancel

	count := 0
	for _, cfg := range endpoints {
		num := cfg.Number()
		if num == 0 || num > MaxEndpoints {
			continue
		}
		if int(cfg.MaxPacketSize) > MaxPacketSize {
			cancel()
			return fmt.Errorf("endpoint 0x%02X packet size %d: %w",
				cfg.Address, cfg.MaxPacketSize, pkg.ErrInvalidParameter)
		}
		ep := &endpoint{
			config: cfg,
			wake:   make(chan struct{}, 1),
		}
		if cfg.IsIn() {
			ep.file = h.epIn[num-1]
		} else {
			ep.file = h.epOut[num-1]
		}
		h.endpoints[epIndex(cfg.Address)].Store(ep)
		count++

		h.epGroup.Add(1)
		if cfg.IsIn() {
			go h.serviceIn(ctx, ep)
		} else {
			go h.serviceOut(ctx, ep)
		}
	}

	pkg.LogDebug(pkg.ComponentHAL, "endpoints configured", "count", count)
	return nil
}

// stopEndpoints cancels the service goroutines and forgets the endpoints.
// It must not be called from interrupt context.
func (h *HAL) stopEndpoints() {
	h.mutex.Lock()
	cancel := h.epCancel
	h.epCancel = nil
	h.mutex.Unlock()

	if cancel != nil {
		cancel()
	}
	h.epGroup.Wait()
	for i := range h.endpoints {
		h.endpoints[i].Store(nil)
	}
}

func (h *HAL) lookup(address uint8) *endpoint {
	i := epIndex(address)
	if i >= len(h.endpoints) {
		return nil
	}
	return h.endpoints[i].Load()
}

// raise runs the endpoint handler as an interrupt.
func (h *HAL) raise(address uint8) {
	h.mutex.RLock()
	fn := h.handler
	h.mutex.RUnlock()
	if fn == nil {
		return
	}
	irq.Run(func() { fn(address) })
}

// waitEnabled blocks until the endpoint's interrupt is enabled.
func waitEnabled(ctx context.Context, ep *endpoint) bool {
	for !ep.enabled.Load() {
		select {
		case <-ctx.Done():
			return false
		case <-ep.wake:
		}
	}
	return true
}

// backoff waits for a wake-up or the retry interval.
func backoff(ctx context.Context, ep *endpoint) bool {
	select {
	case <-ctx.Done():
		return false
	case <-ep.wake:
	case <-time.After(retryInterval):
	}
	return true
}

// serviceOut receives packets from the host and raises the interrupt until
// the handler releases each one.
func (h *HAL) serviceOut(ctx context.Context, ep *endpoint) {
	defer h.epGroup.Done()
	addr := ep.config.Address

	for {
		ep.mutex.Lock()
		held := ep.held
		ep.mutex.Unlock()

		if !held {
			n, err := h.readPacket(ctx, ep.file, ep.header[:], ep.packet[:])
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				pkg.LogWarn(pkg.ComponentHAL, "error reading endpoint",
					"address", addr,
					"error", err)
				if !backoff(ctx, ep) {
					return
				}
				continue
			}
			ep.mutex.Lock()
			ep.length = n
			ep.held = true
			ep.mutex.Unlock()
		}

		if !waitEnabled(ctx, ep) {
			return
		}
		h.raise(addr)

		ep.mutex.Lock()
		held = ep.held
		ep.mutex.Unlock()
		if held && ep.enabled.Load() && !backoff(ctx, ep) {
			return
		}
	}
}

// serviceIn raises the interrupt while enabled and sends whatever packet the
// handler staged.
func (h *HAL) serviceIn(ctx context.Context, ep *endpoint) {
	defer h.epGroup.Done()
	addr := ep.config.Address

	for {
		if !waitEnabled(ctx, ep) {
			return
		}
		h.raise(addr)

		ep.mutex.Lock()
		staged := ep.held
		n := ep.length
		ep.mutex.Unlock()

		if !staged {
			if ep.enabled.Load() && !backoff(ctx, ep) {
				return
			}
			continue
		}

		err := h.sendMessage(ctx, ep.file, ep.writeBuf[:], msgData, ep.packet[:n])

		ep.mutex.Lock()
		ep.held = false
		ep.mutex.Unlock()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			pkg.LogWarn(pkg.ComponentHAL, "error writing endpoint",
				"address", addr,
				"error", err)
		}
	}
}

// ReadSetup reads messages from the host until a SETUP or a bus reset
// arrives. Address messages are acknowledged on the way.
func (h *HAL) ReadSetup(ctx context.Context, out *hal.SetupPacket) error {
	h.mutex.RLock()
	f := h.hostToDevice
	h.mutex.RUnlock()
	if f == nil {
		return pkg.ErrNotConfigured
	}

	for {
		header := h.readBuf[:headerSize]
		if _, err := h.readFull(ctx, f, header); err != nil {
			return err
		}
		msgType := header[0]
		msgLen := int(binary.LittleEndian.Uint16(header[1:3]))
		if headerSize+msgLen > len(h.readBuf) {
			return fmt.Errorf("message length %d: %w", msgLen, pkg.ErrProtocol)
		}

		payload := h.readBuf[headerSize : headerSize+msgLen]
		if _, err := h.readFull(ctx, f, payload); err != nil {
			return err
		}

		switch msgType {
		case msgSetup:
			if msgLen < 1+hal.SetupPacketSize {
				return pkg.ErrSetupPacketTooShort
			}
			hal.ParseSetupPacket(payload[1:1+hal.SetupPacketSize], out)
			h.ep0Len = copy(h.ep0Data[:], payload[1+hal.SetupPacketSize:])

			pkg.LogDebug(pkg.ComponentHAL, "setup received",
				"reqType", out.RequestType,
				"req", out.Request,
				"value", out.Value,
				"index", out.Index,
				"length", out.Length)
			return nil

		case msgReset:
			if err := h.sendAck(); err != nil {
				return err
			}
			pkg.LogDebug(pkg.ComponentHAL, "port reset received")
			return pkg.ErrReset

		case msgAddress:
			if msgLen >= 1 {
				h.mutex.Lock()
				h.address = payload[0]
				h.mutex.Unlock()
				if err := h.sendAck(); err != nil {
					return err
				}
			}

		default:
			pkg.LogWarn(pkg.ComponentHAL, "unexpected message on EP0", "type", msgType)
		}
	}
}

// WriteEP0 sends the data stage of a control IN transfer.
func (h *HAL) WriteEP0(ctx context.Context, data []byte) error {
	h.mutex.RLock()
	f := h.deviceToHost
	h.mutex.RUnlock()
	if f == nil {
		return pkg.ErrNotConfigured
	}
	return h.sendMessage(ctx, f, h.writeBuf[:], msgData, data)
}

// ReadEP0 returns the OUT data stage, which arrives with the SETUP message.
// The status stage of an IN transfer needs no message and reads nothing.
func (h *HAL) ReadEP0(ctx context.Context, buf []byte) (int, error) {
	n := copy(buf, h.ep0Data[:h.ep0Len])
	h.ep0Len = 0
	return n, nil
}

// StallEP0 rejects the current control transfer.
func (h *HAL) StallEP0() error {
	h.mutex.RLock()
	f := h.deviceToHost
	h.mutex.RUnlock()
	if f == nil {
		return pkg.ErrNotConfigured
	}
	pkg.LogDebug(pkg.ComponentHAL, "EP0 stalled")
	return h.sendMessage(h.context(), f, h.writeBuf[:], msgStall, nil)
}

// AckEP0 completes the status stage of the current control transfer.
func (h *HAL) AckEP0() error {
	return h.sendAck()
}

func (h *HAL) sendAck() error {
	h.mutex.RLock()
	f := h.deviceToHost
	h.mutex.RUnlock()
	if f == nil {
		return pkg.ErrNotConfigured
	}
	return h.sendMessage(h.context(), f, h.writeBuf[:], msgAck, nil)
}

func (h *HAL) context() context.Context {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if h.ctx == nil {
		return context.Background()
	}
	return h.ctx
}

// SetEndpointHandler registers the data endpoint interrupt handler.
func (h *HAL) SetEndpointHandler(fn hal.EndpointHandler) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.handler = fn
}

// EnableEndpointInterrupt enables or disables an endpoint's interrupt.
func (h *HAL) EnableEndpointInterrupt(address uint8, enable bool) {
	ep := h.lookup(address)
	if ep == nil {
		return
	}
	ep.enabled.Store(enable)
	if enable {
		select {
		case ep.wake <- struct{}{}:
		default:
		}
	}
}

// EndpointInterruptEnabled reports whether an endpoint's interrupt is enabled.
func (h *HAL) EndpointInterruptEnabled(address uint8) bool {
	ep := h.lookup(address)
	return ep != nil && ep.enabled.Load()
}

// PacketLength returns the length of the pending OUT packet, or 0.
func (h *HAL) PacketLength(address uint8) int {
	ep := h.lookup(address)
	if ep == nil || ep.config.IsIn() {
		return 0
	}
	ep.mutex.Lock()
	defer ep.mutex.Unlock()
	if !ep.held {
		return 0
	}
	return ep.length
}

// ReadPacket copies the pending OUT packet into buf.
func (h *HAL) ReadPacket(address uint8, buf []byte) int {
	ep := h.lookup(address)
	if ep == nil || ep.config.IsIn() {
		return 0
	}
	ep.mutex.Lock()
	defer ep.mutex.Unlock()
	if !ep.held {
		return 0
	}
	return copy(buf, ep.packet[:ep.length])
}

// ReleasePacket frees the OUT endpoint for the next packet.
func (h *HAL) ReleasePacket(address uint8) error {
	ep := h.lookup(address)
	if ep == nil || ep.config.IsIn() {
		return pkg.ErrInvalidEndpoint
	}
	ep.mutex.Lock()
	ep.held = false
	ep.length = 0
	ep.mutex.Unlock()

	select {
	case ep.wake <- struct{}{}:
	default:
	}
	return nil
}

// WritePacket stages one packet on an IN endpoint. It is sent once the
// handler returns.
func (h *HAL) WritePacket(address uint8, data []byte) error {
	ep := h.lookup(address)
	if ep == nil || !ep.config.IsIn() {
		return pkg.ErrInvalidEndpoint
	}
	if ep.stalled.Load() {
		return pkg.ErrStall
	}
	if len(data) > int(ep.config.MaxPacketSize) {
		return fmt.Errorf("packet of %d bytes: %w", len(data), pkg.ErrBufferTooSmall)
	}
	ep.mutex.Lock()
	defer ep.mutex.Unlock()
	if ep.held {
		return pkg.ErrBusy
	}
	ep.length = copy(ep.packet[:], data)
	ep.held = true
	return nil
}

// Stall halts an endpoint.
func (h *HAL) Stall(address uint8) error {
	if ep := h.lookup(address); ep != nil {
		ep.stalled.Store(true)
	}
	pkg.LogDebug(pkg.ComponentHAL, "endpoint stalled", "address", address)
	return nil
}

// ClearStall clears an endpoint halt.
func (h *HAL) ClearStall(address uint8) error {
	if ep := h.lookup(address); ep != nil {
		ep.stalled.Store(false)
	}
	pkg.LogDebug(pkg.ComponentHAL, "endpoint stall cleared", "address", address)
	return nil
}

// IsConnected reports whether the device has signalled connection.
func (h *HAL) IsConnected() bool {
	return h.connected.Load()
}

// GetSpeed returns full speed.
func (h *HAL) GetSpeed() hal.Speed {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.speed
}

// WaitConnect blocks until connected or ctx is cancelled.
func (h *HAL) WaitConnect(ctx context.Context) error {
	if h.IsConnected() {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.connectCh:
		return nil
	case <-h.closeCh:
		return pkg.ErrCancelled
	}
}

// WaitDisconnect blocks until disconnected or ctx is cancelled.
func (h *HAL) WaitDisconnect(ctx context.Context) error {
	if !h.IsConnected() {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.disconnCh:
		return nil
	case <-h.closeCh:
		return pkg.ErrCancelled
	}
}

// DeviceDir returns the device directory.
func (h *HAL) DeviceDir() string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.deviceDir
}

// ID returns the device's unique identifier.
func (h *HAL) ID() string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.id
}

// Address returns the address last assigned by the host.
func (h *HAL) Address() uint8 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.address
}

func (h *HAL) createFIFO(name string) error {
	path := filepath.Join(h.deviceDir, name)
	_ = os.Remove(path)
	if err := unix.Mkfifo(path, 0o666); err != nil {
		return fmt.Errorf("mkfifo %s: %w", name, err)
	}
	return nil
}

func (h *HAL) openFIFO(name string) (*os.File, error) {
	path := filepath.Join(h.deviceDir, name)
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

// readFull reads exactly len(buf) bytes, polling so that cancellation of
// ctx or Stop is noticed.
func (h *HAL) readFull(ctx context.Context, f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-h.closeCh:
			return total, pkg.ErrCancelled
		default:
		}

		_ = f.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			if os.IsTimeout(err) || err == io.EOF {
				continue
			}
			return total, err
		}
	}
	return total, nil
}

// writeFull writes all of buf, polling like readFull.
func (h *HAL) writeFull(ctx context.Context, f *os.File, buf []byte) error {
	written := 0
	for written < len(buf) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.closeCh:
			return pkg.ErrCancelled
		default:
		}

		_ = f.SetWriteDeadline(time.Now().Add(pollInterval))
		n, err := f.Write(buf[written:])
		written += n
		if err != nil && !os.IsTimeout(err) {
			return err
		}
	}
	return nil
}

// sendMessage frames data as [type, len_lo, len_hi, data...] in buf and
// writes it to f.
func (h *HAL) sendMessage(ctx context.Context, f *os.File, buf []byte, msgType byte, data []byte) error {
	n := min(len(data), MaxPacketSize, len(buf)-headerSize)
	buf[0] = msgType
	binary.LittleEndian.PutUint16(buf[1:3], uint16(n))
	copy(buf[headerSize:], data[:n])
	return h.writeFull(ctx, f, buf[:headerSize+n])
}

// readPacket reads one DATA message into buf and returns its length.
func (h *HAL) readPacket(ctx context.Context, f *os.File, header, buf []byte) (int, error) {
	if _, err := h.readFull(ctx, f, header[:headerSize]); err != nil {
		return 0, err
	}
	length := int(binary.LittleEndian.Uint16(header[1:3]))
	if header[0] != msgData {
		return 0, fmt.Errorf("message type 0x%02X: %w", header[0], pkg.ErrProtocol)
	}
	if length > len(buf) {
		return 0, fmt.Errorf("packet of %d bytes: %w", length, pkg.ErrBufferTooSmall)
	}
	return h.readFull(ctx, f, buf[:length])
}

var _ hal.DeviceHAL = (*HAL)(nil)
