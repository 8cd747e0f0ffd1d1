package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	tests := []struct {
		in   []byte
		want string
	}{
		{[]byte("Hello, world!\r\n"), "Hello, world!\r\n"},
		{[]byte{'\t', 'x'}, "\tx"},
		{[]byte{0x00, 0x07, 0x1B}, `\x00\x07\x1b`},
		{[]byte{0x7F, 0x80, 0xFF}, `\x7f\x80\xff`},
		{nil, ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, render(tt.in))
	}
}

// fakeTTY records writes and serves reads from a channel.
type fakeTTY struct {
	mu       sync.Mutex
	written  bytes.Buffer
	incoming chan []byte
}

func (f *fakeTTY) Read(p []byte) (int, error) {
	select {
	case b := <-f.incoming:
		return copy(p, b), nil
	case <-time.After(10 * time.Millisecond):
		return 0, io.EOF
	}
}

func (f *fakeTTY) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.Write(p)
}

func (f *fakeTTY) sent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.String()
}

func TestTerminalCtrlC(t *testing.T) {
	tty := &fakeTTY{incoming: make(chan []byte, 1)}
	tty.incoming <- []byte{'o', 'k', 0x01}
	var out syncBuffer

	err := terminal(context.Background(), tty, strings.NewReader("ab\x03cd"), &out)
	require.NoError(t, err)
	assert.Equal(t, "ab", tty.sent(), "keys after Ctrl-C are not sent")
}

func TestTerminalEOF(t *testing.T) {
	tty := &fakeTTY{incoming: make(chan []byte, 1)}
	tty.incoming <- []byte{'o', 'k', 0x01}
	var out syncBuffer

	start := time.Now()
	err := terminal(context.Background(), tty, strings.NewReader("x"), &out)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), eofGrace)
	assert.Equal(t, "x", tty.sent())
	assert.Equal(t, `ok\x01`, out.String())
}
