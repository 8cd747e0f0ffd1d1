package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/xid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tebeka/atexit"

	"github.com/ardnew/softftdi/device"
	"github.com/ardnew/softftdi/device/class/ftdi"
	"github.com/ardnew/softftdi/device/hal/fifo"
	"github.com/ardnew/softftdi/internal/metrics"
	"github.com/ardnew/softftdi/pkg"
)

type deviceOptions struct {
	busDir      string
	serial      string
	packetSize  int
	rxQueue     int
	txQueue     int
	stdio       bool
	blocking    bool
	blockingIn  bool
	blockingOut bool
	listen      string
	mdns        bool
	mdnsName    string
	httpAddr    string
}

func newDeviceCmd() *cobra.Command {
	o := &deviceOptions{}
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Serve the emulated chip on the named-pipe transport.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := o.validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDevice(ctx, o)
		},
	}

	o.addFlags(cmd.Flags())
	return cmd
}

func (o *deviceOptions) addFlags(flags *pflag.FlagSet) {
	flags.StringVar(&o.busDir, "bus-dir", "/tmp/usb-bus", "directory shared with the host simulator")
	flags.StringVar(&o.serial, "serial", "", "serial number string (default: generated)")
	flags.IntVar(&o.packetSize, "packet-size", ftdi.DefaultPacketSize, "bulk max packet size")
	flags.IntVar(&o.rxQueue, "rx-queue", ftdi.DefaultQueueSize, "receive queue size")
	flags.IntVar(&o.txQueue, "tx-queue", ftdi.DefaultQueueSize, "transmit queue size")
	flags.BoolVar(&o.stdio, "stdio", false, "bind the serial stream to stdin and stdout")
	flags.BoolVar(&o.blocking, "blocking", false, "shorthand for --blocking-in --blocking-out")
	flags.BoolVar(&o.blockingIn, "blocking-in", false, "reads wait for data from the host")
	flags.BoolVar(&o.blockingOut, "blocking-out", false, "writes wait for queue space instead of dropping")
	flags.StringVar(&o.listen, "listen", "", "serve the serial stream to one TCP client at a time")
	flags.BoolVar(&o.mdns, "mdns", false, "advertise the --listen address over mDNS")
	flags.StringVar(&o.mdnsName, "mdns-name", "", "mDNS instance name (default ftdiemu-<serial>)")
	flags.StringVar(&o.httpAddr, "http", "", "serve /metrics, /ready and /status on this address")
}

func (o *deviceOptions) validate() error {
	if o.busDir == "" {
		return fmt.Errorf("bus-dir must be set: %w", pkg.ErrInvalidParameter)
	}
	if o.stdio && o.listen != "" {
		return fmt.Errorf("--stdio and --listen are exclusive: %w", pkg.ErrInvalidParameter)
	}
	if o.mdns && o.listen == "" {
		return fmt.Errorf("--mdns needs --listen: %w", pkg.ErrInvalidParameter)
	}
	return nil
}

func (o *deviceOptions) config(observer ftdi.Observer) ftdi.Config {
	flags := ftdi.NonBlocking
	if o.stdio {
		flags |= ftdi.Stdio
	}
	if o.blocking || o.blockingIn {
		flags |= ftdi.BlockingIn
	}
	if o.blocking || o.blockingOut {
		flags |= ftdi.BlockingOut
	}
	return ftdi.Config{
		Flags:        flags,
		PacketSize:   o.packetSize,
		RxQueueSize:  o.rxQueue,
		TxQueueSize:  o.txQueue,
		SerialNumber: o.serial,
		Observer:     observer,
	}
}

// defaultSerial derives an 8-character serial number, the length the real
// chip uses, from a fresh xid.
func defaultSerial() string {
	id := xid.New().String()
	return strings.ToUpper("FE" + id[len(id)-6:])
}

// binding is what the serial stream is connected to.
type binding int

const (
	bindEcho binding = iota
	bindStdio
	bindTCP
)

func bindingFor(cfg ftdi.Config, listen string) binding {
	switch {
	case cfg.Flags&ftdi.Stdio != 0:
		return bindStdio
	case listen != "":
		return bindTCP
	}
	return bindEcho
}

func runDevice(ctx context.Context, o *deviceOptions) error {
	if o.serial == "" {
		o.serial = defaultSerial()
	}
	m := metrics.New()
	emu, err := ftdi.New(o.config(m))
	if err != nil {
		return err
	}
	m.WatchQueues(emu)
	m.SetReadiness(emu.IsConfigured)

	dev, err := ftdi.NewDevice(emu)
	if err != nil {
		return fmt.Errorf("build device: %w", err)
	}

	h := fifo.New(o.busDir)
	stack := device.NewStack(dev, h)
	emu.SetStack(stack)

	if err := stack.Start(ctx); err != nil {
		return fmt.Errorf("start device: %w", err)
	}
	var once sync.Once
	shutdown := func() {
		once.Do(func() {
			if err := stack.Stop(); err != nil {
				pkg.LogWarn(pkg.ComponentCLI, "device stop failed", "error", err)
			}
		})
	}
	atexit.Register(shutdown)
	defer shutdown()

	cfg := emu.Config()
	pkg.LogInfo(pkg.ComponentCLI, "device started",
		"deviceDir", h.DeviceDir(),
		"serial", cfg.SerialNumber,
		"flags", cfg.Flags.String())
	fmt.Fprintf(stderr, "ftdiemu: device directory %s\n", h.DeviceDir())

	if o.httpAddr != "" {
		srv, err := startHTTP(o.httpAddr, m, emu)
		if err != nil {
			return err
		}
		defer closeHTTP(srv)
	}

	stream := emu.Serial()
	switch bindingFor(cfg, o.listen) {
	case bindStdio:
		// stdin stays open for the process
		err = pump(ctx, stream, struct{ io.Reader }{os.Stdin}, os.Stdout)
	case bindTCP:
		err = serveTCP(ctx, o, stream)
	default:
		err = echo(ctx, stream, stream, cfg.Flags&ftdi.BlockingOut != 0)
	}
	if ctx.Err() != nil {
		pkg.LogInfo(pkg.ComponentCLI, "shutting down")
		return nil
	}
	return err
}
