package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/ardnew/softftdi/device/class/ftdi"
	"github.com/ardnew/softftdi/pkg"
)

// port is the part of ftdi.Serial the stream bindings use.
type port interface {
	GetContext(ctx context.Context) (byte, error)
	WriteContext(ctx context.Context, p []byte) (int, error)
	CanGet() bool
	Get() (byte, bool)
}

var _ port = (*ftdi.Serial)(nil)

const pumpBufferSize = 256

// pumpGrace bounds the wait for the second direction after the first ends.
// A read from stdin cannot be interrupted, so pump gives up on it.
const pumpGrace = 250 * time.Millisecond

// pump copies r to the host and the host's bytes to w until ctx is done,
// r reaches EOF, or either side fails. r is closed if it is an io.Closer,
// so both directions have finished when pump returns unless r is stuck in
// a read that ignores cancellation.
func pump(ctx context.Context, p port, r io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- toHost(ctx, p, r) }()
	go func() { errCh <- fromHost(ctx, p, w) }()

	err := <-errCh
	cancel()
	if c, ok := r.(io.Closer); ok {
		_ = c.Close()
	}
	select {
	case <-errCh:
	case <-time.After(pumpGrace):
	}

	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func toHost(ctx context.Context, p port, r io.Reader) error {
	var buf [pumpBufferSize]byte
	for {
		n, err := r.Read(buf[:])
		if n > 0 {
			if _, werr := p.WriteContext(ctx, buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			return err
		}
	}
}

func fromHost(ctx context.Context, p port, w io.Writer) error {
	var buf [pumpBufferSize]byte
	for {
		c, err := p.GetContext(ctx)
		if err != nil {
			return err
		}
		buf[0] = c
		n := 1
		for n < len(buf) && p.CanGet() {
			c, ok := p.Get()
			if !ok {
				break
			}
			buf[n] = c
			n++
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return err
		}
	}
}

// serveTCP binds the stream to one TCP client at a time. A second client
// waits in the listen backlog until the first disconnects.
func serveTCP(ctx context.Context, o *deviceOptions, p port) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", o.listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", o.listen, err)
	}
	defer ln.Close()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	addr := ln.Addr().String()
	pkg.LogInfo(pkg.ComponentCLI, "stream listening", "addr", addr)
	fmt.Fprintf(stderr, "ftdiemu: serial stream on tcp://%s\n", addr)

	if o.mdns {
		_, portStr, _ := net.SplitHostPort(addr)
		num, _ := strconv.Atoi(portStr)
		cleanup, err := startMDNS(ctx, o, num)
		if err != nil {
			pkg.LogWarn(pkg.ComponentCLI, "mdns registration failed", "error", err)
		} else {
			defer cleanup()
		}
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		pkg.LogInfo(pkg.ComponentCLI, "stream client connected", "remote", conn.RemoteAddr().String())
		err = serveConn(ctx, p, conn)
		pkg.LogInfo(pkg.ComponentCLI, "stream client disconnected",
			"remote", conn.RemoteAddr().String(),
			"error", err)
	}
}

func serveConn(ctx context.Context, p port, conn net.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	return pump(ctx, p, conn, conn)
}
