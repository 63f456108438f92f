// Package scu drives the system control unit: the endinit register
// write-protection handshake and the oscillator/PLL clock tree feeding
// the core, peripheral and CAN clock domains.
package scu

import (
	"errors"

	"tricore-hal-go/irq"
	"tricore-hal-go/regs"
)

// ErrEndinitHeld reports an acquisition attempt while a guard is
// outstanding. The chip has a single protection flag, so nested
// acquisition fails instead of silently re-locking when the inner
// scope exits.
var ErrEndinitHeld = errors.New("scu: endinit guard already held")

// Endinit manages the chip's write-protection flag. One instance exists
// per SCU handle and is shared by every driver that needs protected
// writes; the guard it hands out is held only for the scope of one
// configuration sequence, never stored.
type Endinit struct {
	r    regs.SCU
	pw   uint16
	held bool
}

// NewEndinit creates the manager. The password is the chip's documented
// watchdog access code; it comes from the reference manual (or from
// regs/sim for hosted runs), not from this package.
func NewEndinit(r regs.SCU, password uint16) *Endinit {
	return &Endinit{r: r, pw: password}
}

// Guard represents temporarily lifted write protection. Release re-locks
// unconditionally and is idempotent.
type Guard struct {
	e        *Endinit
	released bool
}

// Acquire performs the unlock handshake and returns the guard. The
// check-and-unlock runs inside a critical section so a concurrent
// attempt from an interrupt handler cannot interleave with it; the
// loser observes ErrEndinitHeld.
func (e *Endinit) Acquire() (*Guard, error) {
	var g *Guard
	var err error
	irq.Critical(func() {
		if e.held {
			err = ErrEndinitHeld
			return
		}
		e.held = true
		e.r.WriteEndinitPassword(e.pw)
		e.r.SetEndinit(false)
		g = &Guard{e: e}
	})
	return g, err
}

// Release performs the re-lock handshake. Safe to call more than once;
// only the first call has effect.
func (g *Guard) Release() {
	if g == nil || g.released {
		return
	}
	g.released = true
	irq.Critical(func() {
		g.e.r.WriteEndinitPassword(g.e.pw)
		g.e.r.SetEndinit(true)
		g.e.held = false
	})
}

// WithoutEndinit runs fn with protection lifted and re-locks on every
// exit path, including panics inside fn.
func (e *Endinit) WithoutEndinit(fn func()) error {
	g, err := e.Acquire()
	if err != nil {
		return err
	}
	defer g.Release()
	fn()
	return nil
}
