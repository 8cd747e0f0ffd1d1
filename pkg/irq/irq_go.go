//go:build !tinygo

package irq

import "sync"

// State is the interrupt state saved by Disable.
type State uintptr

var mask sync.Mutex

// Disable enters the critical section and returns the state to hand to Restore.
func Disable() State {
	mask.Lock()
	return 1
}

// Restore leaves the critical section entered by Disable.
func Restore(state State) {
	if state != 0 {
		mask.Unlock()
	}
}

// Run executes fn as an interrupt handler.
func Run(fn func()) {
	mask.Lock()
	defer mask.Unlock()
	fn()
}
