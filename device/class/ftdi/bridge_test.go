package ftdi

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkInHeaderOnly(t *testing.T) {
	e, m := newTestEmulator(t, Config{})
	configure(e)

	interrupt(e, EndpointIn)

	sent := m.packets()
	require.Len(t, sent, 1)
	assert.Equal(t, []byte{0xB1, 0x60}, sent[0])
	assert.False(t, m.isEnabled(EndpointIn), "idle IN endpoint must be masked")
}

func TestPutArmsIn(t *testing.T) {
	e, m := newTestEmulator(t, Config{})
	configure(e)
	interrupt(e, EndpointIn)
	require.False(t, m.isEnabled(EndpointIn))

	require.True(t, e.Serial().Put('A'))
	assert.True(t, m.isEnabled(EndpointIn))

	interrupt(e, EndpointIn)
	sent := m.packets()
	require.Len(t, sent, 2)
	assert.Equal(t, []byte{0xB1, 0x60, 'A'}, sent[1])
	assert.True(t, m.isEnabled(EndpointIn), "endpoint stays armed after data")

	interrupt(e, EndpointIn)
	assert.False(t, m.isEnabled(EndpointIn))
}

func TestPutBeforeConfigured(t *testing.T) {
	e, m := newTestEmulator(t, Config{})

	require.True(t, e.Serial().Put('A'))
	assert.False(t, m.isEnabled(EndpointIn))
	assert.Equal(t, 1, e.TxLen())

	configure(e)
	interrupt(e, EndpointIn)
	sent := m.packets()
	require.Len(t, sent, 1)
	assert.Equal(t, []byte{0xB1, 0x60, 'A'}, sent[0])
}

func TestBulkInPacketing(t *testing.T) {
	tests := []struct {
		name       string
		packetSize int
		bytes      int
	}{
		{"one short packet", 64, 10},
		{"exactly one packet", 64, 62},
		{"several packets", 64, 200},
		{"small endpoint", 16, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := newCountingObserver()
			e, m := newTestEmulator(t, Config{
				PacketSize:  tt.packetSize,
				RxQueueSize: tt.packetSize + 1,
				TxQueueSize: 256,
				Observer:    obs,
			})
			configure(e)

			want := make([]byte, tt.bytes)
			for i := range want {
				want[i] = byte(i)
			}
			n, err := e.Serial().Write(want)
			require.NoError(t, err)
			require.Equal(t, tt.bytes, n)

			for i := 0; i < 100 && m.isEnabled(EndpointIn); i++ {
				interrupt(e, EndpointIn)
			}
			require.False(t, m.isEnabled(EndpointIn))

			var got []byte
			sent := m.packets()
			for i, p := range sent {
				require.GreaterOrEqual(t, len(p), StatusHeaderSize)
				require.LessOrEqual(t, len(p), tt.packetSize)
				assert.Equal(t, byte(0xB1), p[0])

				// Flags clear while more than a packet remains queued.
				remaining := tt.bytes - len(got)
				if remaining > tt.packetSize-StatusHeaderSize {
					assert.Equal(t, byte(0x00), p[1], "packet %d", i)
				} else {
					assert.Equal(t, byte(0x60), p[1], "packet %d", i)
				}
				got = append(got, p[StatusHeaderSize:]...)
			}
			assert.Equal(t, want, got)
			assert.Empty(t, sent[len(sent)-1][StatusHeaderSize:], "last packet is header only")
			assert.Equal(t, DefaultStatus, e.Status())
			assert.Equal(t, tt.bytes, obs.bytes[DirectionIn])
		})
	}
}

func TestBulkInWriteError(t *testing.T) {
	obs := newCountingObserver()
	e, m := newTestEmulator(t, Config{Observer: obs})
	configure(e)
	m.writeErr = errors.New("pipe closed")

	require.True(t, e.Serial().Put('x'))
	interrupt(e, EndpointIn)

	assert.Equal(t, 1, obs.dropped[DirectionIn])
	assert.Zero(t, e.TxLen())
}

func TestBulkOutAccepts(t *testing.T) {
	obs := newCountingObserver()
	e, m := newTestEmulator(t, Config{Observer: obs})
	configure(e)

	m.hold([]byte("hello"))
	interrupt(e, EndpointOut)

	assert.False(t, m.isHeld(), "accepted packet must be released")
	assert.Equal(t, 1, m.released)
	assert.Equal(t, 5, e.RxLen())
	assert.True(t, m.isEnabled(EndpointOut))
	assert.Equal(t, 5, obs.bytes[DirectionOut])

	var buf [16]byte
	n, err := e.Serial().Read(buf[:])
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestBulkOutZeroLength(t *testing.T) {
	e, m := newTestEmulator(t, Config{})
	configure(e)

	m.hold(nil)
	interrupt(e, EndpointOut)

	assert.False(t, m.isHeld())
	assert.Zero(t, e.RxLen())
}

func TestBulkOutBackPressure(t *testing.T) {
	obs := newCountingObserver()
	// 79 bytes of room: one full packet, then 15 bytes spare.
	e, m := newTestEmulator(t, Config{PacketSize: 64, RxQueueSize: 80, Observer: obs})
	configure(e)
	port := e.Serial()

	first := bytes.Repeat([]byte{'a'}, 64)
	m.hold(first)
	interrupt(e, EndpointOut)
	require.False(t, m.isHeld())
	require.Equal(t, 64, e.RxLen())

	second := []byte("0123456789abcdefghij") // 20 bytes
	m.hold(second)
	interrupt(e, EndpointOut)

	assert.True(t, m.isHeld(), "packet must stay with the transport")
	assert.False(t, m.isEnabled(EndpointOut))
	assert.Equal(t, 64, e.RxLen(), "no partial copy")
	assert.Equal(t, 1, obs.deferred)

	// One byte read re-enables, but 16 free is still too little.
	c, ok := port.Get()
	require.True(t, ok)
	assert.Equal(t, byte('a'), c)
	assert.True(t, m.isEnabled(EndpointOut))

	interrupt(e, EndpointOut)
	assert.True(t, m.isHeld())
	assert.False(t, m.isEnabled(EndpointOut))
	assert.Equal(t, 2, obs.deferred)

	for i := 0; i < 4; i++ {
		_, ok := port.Get()
		require.True(t, ok)
	}
	require.True(t, m.isEnabled(EndpointOut))
	interrupt(e, EndpointOut)
	assert.False(t, m.isHeld())
	assert.Equal(t, 59+20, e.RxLen())

	var got []byte
	for port.CanGet() {
		c, _ := port.Get()
		got = append(got, c)
	}
	assert.Equal(t, append(bytes.Repeat([]byte{'a'}, 59), second...), got)
	assert.Zero(t, obs.dropped[DirectionOut])
}

func TestGetBeforeConfiguredDoesNotArm(t *testing.T) {
	e, m := newTestEmulator(t, Config{})
	irqPut(e, []byte{1})

	_, ok := e.Serial().Get()
	require.True(t, ok)
	assert.False(t, m.isEnabled(EndpointOut))
}

func TestUnknownEndpointMasked(t *testing.T) {
	e, m := newTestEmulator(t, Config{})
	configure(e)
	m.EnableEndpointInterrupt(0x83, true)

	interrupt(e, 0x83)
	assert.False(t, m.isEnabled(0x83))
	assert.Empty(t, m.packets())
}
