package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softftdi/device/class/ftdi"
	"github.com/ardnew/softftdi/pkg"
)

// scriptedSource returns its bytes in order, then ctx's error.
type scriptedSource struct {
	data   []byte
	cancel context.CancelFunc
}

func (s *scriptedSource) GetContext(ctx context.Context) (byte, error) {
	if len(s.data) == 0 {
		s.cancel()
		return 0, ctx.Err()
	}
	c := s.data[0]
	s.data = s.data[1:]
	return c, nil
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		c    byte
		want string
	}{
		{'A', "You sent 65 (A)\n"},
		{' ', "You sent 32 ( )\n"},
		{'~', "You sent 126 (~)\n"},
		{'\n', "You sent 10 (?)\n"},
		{0x00, "You sent 0 (?)\n"},
		{0x7F, "You sent 127 (?)\n"},
		{0xC8, "You sent 200 (?)\n"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, describe(tt.c))
	}
}

func TestEcho(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out bytes.Buffer
	err := echo(ctx, &scriptedSource{data: []byte("a\r"), cancel: cancel}, &out, false)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, "Hello, world!\nYou sent 97 (a)\nYou sent 13 (?)\n", out.String())
}

// fullWriter accepts nothing, like a non-blocking port with a full queue.
type fullWriter struct{ calls int }

func (w *fullWriter) Write(p []byte) (int, error) {
	w.calls++
	return 0, pkg.ErrBufferFull
}

type brokenWriter struct{}

func (brokenWriter) Write(p []byte) (int, error) { return 0, errors.New("broken") }

func TestEchoWriteErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := &fullWriter{}
	err := echo(ctx, &scriptedSource{data: []byte("xy"), cancel: cancel}, w, false)
	assert.True(t, errors.Is(err, context.Canceled), "dropped replies do not stop the echo")
	assert.Equal(t, 3, w.calls)

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	err = echo(ctx2, &scriptedSource{cancel: cancel2}, brokenWriter{}, false)
	require.Error(t, err)
	assert.Equal(t, "broken", err.Error())
}

func TestEchoBlockingStopsOnCancel(t *testing.T) {
	emu, err := ftdi.New(ftdi.Config{Flags: ftdi.Blocking, TxQueueSize: 64})
	require.NoError(t, err)
	stream := emu.Serial()

	// Nobody drains IN on an unconfigured device, so fill the queue.
	fillCtx, fillCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer fillCancel()
	_, err = stream.WriteContext(fillCtx, make([]byte, 64))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 63, emu.TxLen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- echo(ctx, stream, stream, true) }()

	select {
	case err := <-done:
		t.Fatalf("echo returned with a full queue: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("echo still running after cancel")
	}
}

// waitWriter records which write path echo took.
type waitWriter struct {
	bytes.Buffer
	waited int
}

func (w *waitWriter) WriteContext(ctx context.Context, p []byte) (int, error) {
	w.waited++
	return w.Write(p)
}

func TestEchoWritePath(t *testing.T) {
	for _, wait := range []bool{false, true} {
		ctx, cancel := context.WithCancel(context.Background())
		w := &waitWriter{}
		err := echo(ctx, &scriptedSource{data: []byte("z"), cancel: cancel}, w, wait)
		cancel()
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, "Hello, world!\nYou sent 122 (z)\n", w.String())
		if wait {
			assert.Equal(t, 2, w.waited)
		} else {
			assert.Zero(t, w.waited)
		}
	}
}
