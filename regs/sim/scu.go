// Package sim implements the regs interfaces in software with
// deterministic, poll-driven timing: every status read counts as one
// hardware cycle, so driver busy-wait budgets can be exercised exactly.
// Tests script lock behaviour, inject frames and raise bus errors; the
// sim accounts writes that the real chip would silently discard
// (protected-region writes while endinit is set) as faults.
package sim

import "tricore-hal-go/regs"

// EndinitPassword is the password the sim accepts for the write-protection
// handshake, standing in for the chip's documented watchdog password.
const EndinitPassword uint16 = 0x3C

// Default poll counts until a status bit asserts.
const (
	DefaultOscStablePolls = 3
	DefaultK2ReadyPolls   = 2
	DefaultLockPolls      = 5
)

// SCU is a simulated system control unit. Zero value is not usable; use
// NewSCU. Callers are expected to serialize access the same way the
// drivers do (irq.Critical); the sim itself takes no locks.
type SCU struct {
	// Scripting knobs, settable by tests before driver calls.
	OscStablePolls int  // polls of OscillatorStable until true
	K2ReadyPolls   int  // polls of K2Ready after a K2 write until true
	LockPolls      int  // polls of PLLLocked after restart until true
	FailLock       bool // lock bit never asserts
	Password       uint16

	endinit bool
	pwOK    bool
	faults  int

	oscMode     regs.OscMode
	oscval      uint8
	oscPolls    int
	oscSet      bool
	pllPowered  bool
	ndiv, pdiv  uint8
	k2div       uint8
	k2Polls     int
	lockPending bool
	lockPolls   int
	locked      bool
	domDiv      [regs.NumDomains]uint8
}

var _ regs.SCU = (*SCU)(nil)

func NewSCU() *SCU {
	return &SCU{
		OscStablePolls: DefaultOscStablePolls,
		K2ReadyPolls:   DefaultK2ReadyPolls,
		LockPolls:      DefaultLockPolls,
		Password:       EndinitPassword,
		endinit:        true, // hardware comes up locked
	}
}

// Faults reports writes the hardware would have discarded: protected-region
// writes while endinit was set, or endinit toggles without the password.
func (s *SCU) Faults() int { return s.faults }

func (s *SCU) WriteEndinitPassword(pw uint16) { s.pwOK = pw == s.Password }

func (s *SCU) SetEndinit(locked bool) {
	if !s.pwOK {
		s.faults++
		return
	}
	s.pwOK = false // password is consumed by the toggle
	s.endinit = locked
}

func (s *SCU) Endinit() bool { return s.endinit }

// protected guards a write to the endinit-protected region.
func (s *SCU) protected() bool {
	if s.endinit {
		s.faults++
		return false
	}
	return true
}

func (s *SCU) SetOscillator(mode regs.OscMode, oscvalMHz uint8) {
	if !s.protected() {
		return
	}
	s.oscMode = mode
	s.oscval = oscvalMHz
	s.oscPolls = 0
	s.oscSet = true
}

func (s *SCU) OscillatorStable() bool {
	if !s.oscSet || s.oscMode == regs.OscDisabled {
		return false
	}
	s.oscPolls++
	return s.oscPolls >= s.OscStablePolls
}

func (s *SCU) SetPLLPower(on bool) {
	if !s.protected() {
		return
	}
	s.pllPowered = on
	if !on {
		s.locked = false
		s.lockPending = false
	}
}

func (s *SCU) PLLPowered() bool { return s.pllPowered }

func (s *SCU) SetPLLDividers(ndiv, pdiv, k2div uint8) {
	if !s.protected() {
		return
	}
	s.ndiv, s.pdiv, s.k2div = ndiv, pdiv, k2div
	s.k2Polls = 0
}

func (s *SCU) PLLDividers() (ndiv, pdiv, k2div uint8) { return s.ndiv, s.pdiv, s.k2div }

func (s *SCU) SetK2Divider(k2div uint8) {
	if !s.protected() {
		return
	}
	s.k2div = k2div
	s.k2Polls = 0
}

func (s *SCU) K2Ready() bool {
	s.k2Polls++
	return s.k2Polls >= s.K2ReadyPolls
}

func (s *SCU) RestartLockDetection() {
	if !s.protected() {
		return
	}
	s.locked = false
	s.lockPending = true
	s.lockPolls = 0
}

func (s *SCU) PLLLocked() bool {
	if !s.pllPowered || !s.lockPending {
		return false
	}
	if s.FailLock {
		return false
	}
	if !s.locked {
		s.lockPolls++
		s.locked = s.lockPolls >= s.LockPolls
	}
	return s.locked
}

func (s *SCU) SetDomainDivider(d regs.Domain, div uint8) {
	if !s.protected() {
		return
	}
	s.domDiv[d] = div
}

func (s *SCU) DomainDivider(d regs.Domain) uint8 { return s.domDiv[d] }
