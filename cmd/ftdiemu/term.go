package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tarm/serial"

	"github.com/ardnew/softftdi/pkg"
)

const (
	defaultBaud = 115200

	// termReadTimeout paces the reader so it notices the terminal closing.
	termReadTimeout = 100 * time.Millisecond

	// eofGrace lets the reader print what is still in flight after stdin
	// ends.
	eofGrace = 250 * time.Millisecond

	keyInterrupt = 0x03
)

func newTermCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "term DEVICE [BAUD]",
		Short: "Talk to a serial port from the console.",
		Long: `term opens DEVICE (the tty the host driver creates for the ` +
			`emulated chip) and connects it to the console in raw mode. ` +
			`Printable characters, CR, LF and TAB are shown as they are; ` +
			`other bytes as \xNN. Ctrl-C or end of input exits.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			baud := defaultBaud
			if len(args) > 1 {
				n, err := strconv.Atoi(args[1])
				if err != nil || n <= 0 {
					return fmt.Errorf("baud rate %q: %w", args[1], pkg.ErrInvalidParameter)
				}
				baud = n
			}
			return runTerm(cmd.Context(), args[0], baud)
		},
	}
}

func runTerm(ctx context.Context, name string, baud int) error {
	tty, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: termReadTimeout,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer tty.Close()

	// Piped input has no terminal to configure.
	restore, err := makeRaw(int(os.Stdin.Fd()))
	if err != nil {
		pkg.LogDebug(pkg.ComponentCLI, "console left in cooked mode", "error", err)
	}
	defer restore()

	err = terminal(ctx, tty, os.Stdin, os.Stdout)
	fmt.Fprintln(os.Stdout)
	return err
}

// terminal copies port to out through render and keystrokes from in to
// port until Ctrl-C, end of input, or a port error.
func terminal(ctx context.Context, port io.ReadWriter, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readErr := make(chan error, 1)
	go func() { readErr <- termReader(ctx, port, out) }()

	writeErr := make(chan error, 1)
	go func() { writeErr <- termWriter(port, in) }()

	select {
	case err := <-readErr:
		return err
	case err := <-writeErr:
		if errors.Is(err, io.EOF) {
			time.Sleep(eofGrace)
			return nil
		}
		return err
	case <-ctx.Done():
		return nil
	}
}

func termReader(ctx context.Context, port io.Reader, out io.Writer) error {
	var buf [256]byte
	for ctx.Err() == nil {
		n, err := port.Read(buf[:])
		if n > 0 {
			if _, werr := io.WriteString(out, render(buf[:n])); werr != nil {
				return werr
			}
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read port: %w", err)
		}
	}
	return nil
}

// termWriter forwards keystrokes. Ctrl-C ends it with nil, end of input
// with io.EOF.
func termWriter(port io.Writer, in io.Reader) error {
	var buf [1]byte
	for {
		n, err := in.Read(buf[:])
		if n == 0 {
			if err == nil {
				continue
			}
			return err
		}
		if buf[0] == keyInterrupt {
			return nil
		}
		if _, err := port.Write(buf[:]); err != nil {
			return fmt.Errorf("write port: %w", err)
		}
	}
}

// render shows printable ASCII, CR, LF and TAB as they are and every other
// byte as \xNN.
func render(p []byte) string {
	var b strings.Builder
	b.Grow(len(p))
	for _, c := range p {
		switch {
		case c >= 0x20 && c < 0x7F, c == '\r', c == '\n', c == '\t':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, `\x%02x`, c)
		}
	}
	return b.String()
}
