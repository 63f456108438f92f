package irq

import "sync"

// The drivers guard all shared mutable state (node states, mailbox busy
// flags, the endinit held flag) with Critical: foreground code and
// interrupt handlers both touch that state, and masking interrupt
// delivery for the section's duration is the sole locking discipline.
//
// On hardware the platform bootstrap installs a hook that masks and
// restores interrupt delivery. On hosts (tests, simulators) the default
// process-wide mutex gives the same mutual exclusion.

var (
	hostMu   sync.Mutex
	maskHook func() func()
)

// SetMaskHook installs the platform interrupt mask primitive. The hook
// masks delivery and returns the matching restore function. Install it
// once at bootstrap, before any driver runs.
func SetMaskHook(h func() func()) { maskHook = h }

// Critical runs fn with interrupt delivery masked.
func Critical(fn func()) {
	if maskHook != nil {
		restore := maskHook()
		defer restore()
		fn()
		return
	}
	hostMu.Lock()
	defer hostMu.Unlock()
	fn()
}
