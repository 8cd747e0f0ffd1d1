// Package irq provides the critical section that separates application code
// from USB interrupt handlers.
//
// On TinyGo targets [Disable] and [Restore] mask and unmask the CPU's
// interrupts through runtime/interrupt, and [Run] simply calls the handler
// because the hardware already runs it with interrupts masked.
//
// On hosted Go there are no hardware interrupts. The transport delivers
// endpoint events from its own goroutines instead, and each of them enters
// the handler through [Run]. Run and Disable share one lock, so a handler
// never executes while the application is inside a critical section, and
// at most one handler executes at a time. Neither form nests: code already
// inside a handler must use the plain (Locked) forms of the queue.
package irq
