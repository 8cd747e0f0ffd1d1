// Command ftdiemu runs the FT232 emulator and its host-side terminal.
//
// Usage:
//
//	ftdiemu device [--bus-dir DIR] [--stdio | --listen ADDR [--mdns]] [--http ADDR]
//	ftdiemu term DEVICE [BAUD]
//
// The device command serves the emulated chip on the named-pipe transport
// under --bus-dir. Without a stream binding it runs an echo application
// that answers every byte with "You sent N (c)". The term command opens the
// tty the host driver creates for the chip.
//
// Every flag can also come from an FTDIEMU_* environment variable or a .env
// file, e.g. FTDIEMU_BUS_DIR=/tmp/usb-bus.
package main

import (
	"os"

	"github.com/tebeka/atexit"

	"github.com/ardnew/softftdi/pkg"
)

func main() {
	code := 0
	if err := newRootCmd().Execute(); err != nil {
		pkg.LogError(pkg.ComponentCLI, "command failed", "error", err)
		code = 1
	}
	atexit.Exit(code)
}

// stderr is where the commands print status lines for the user.
var stderr = os.Stderr
