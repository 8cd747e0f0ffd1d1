package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ardnew/softftdi/pkg"
)

// byteSource is the receive side of the serial stream.
type byteSource interface {
	GetContext(ctx context.Context) (byte, error)
}

// contextWriter waits for room until ctx is done.
type contextWriter interface {
	WriteContext(ctx context.Context, p []byte) (int, error)
}

const banner = "Hello, world!\n"

// describe renders one received byte the way the echo application
// reports it.
func describe(c byte) string {
	shown := c
	if c < 0x20 || c > 0x7E {
		shown = '?'
	}
	return fmt.Sprintf("You sent %d (%c)\n", c, shown)
}

// echo greets once, then answers every byte from in until ctx is done.
// With wait set and out a contextWriter, replies wait for room and give up
// when ctx ends; otherwise a full transmit queue drops the reply.
func echo(ctx context.Context, in byteSource, out io.Writer, wait bool) error {
	cw, canWait := out.(contextWriter)
	write := func(s string) error {
		var err error
		if wait && canWait {
			_, err = cw.WriteContext(ctx, []byte(s))
		} else {
			_, err = io.WriteString(out, s)
		}
		if errors.Is(err, pkg.ErrBufferFull) {
			pkg.LogDebug(pkg.ComponentCLI, "reply truncated", "error", err)
			return nil
		}
		return err
	}

	if err := write(banner); err != nil {
		return err
	}
	for {
		c, err := in.GetContext(ctx)
		if err != nil {
			return err
		}
		if err := write(describe(c)); err != nil {
			return err
		}
	}
}
