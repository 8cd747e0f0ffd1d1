// Package pkg holds the pieces shared by every softftdi package: the
// component logger and the sentinel errors.
//
// # Logging
//
// Logging wraps [log/slog] and tags every record with the subsystem that
// produced it:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentFTDI, "modem control", "dtr", true)
//
// Records emitted from interrupt context (the bulk bridge, the control
// request emulator) are debug level only, so the default level keeps those
// paths silent.
//
// # Errors
//
// Errors are sentinel values compared with [errors.Is]:
//
//	if _, err := emu.HandleVendor(&setup, nil); errors.Is(err, pkg.ErrInvalidRequest) {
//	    // the stack stalls EP0
//	}
package pkg
