package scu

import (
	"errors"

	"tricore-hal-go/regs"
	"tricore-hal-go/x/logx"
	"tricore-hal-go/x/mathx"
)

// Hertz is a clock frequency.
type Hertz uint32

const (
	KHz Hertz = 1_000
	MHz Hertz = 1_000_000
)

// PLLState tracks the clock tree bring-up. Transitions move forward only
// (Disabled → FreeRunning → PrescaleSettling → Locked), except Failed,
// which is terminal until Reset.
type PLLState uint8

const (
	PLLDisabled PLLState = iota
	PLLFreeRunning
	PLLPrescaleSettling
	PLLLocked
	PLLFailed
)

func (s PLLState) String() string {
	switch s {
	case PLLDisabled:
		return "disabled"
	case PLLFreeRunning:
		return "free_running"
	case PLLPrescaleSettling:
		return "prescale_settling"
	case PLLLocked:
		return "locked"
	case PLLFailed:
		return "failed"
	}
	return "unknown"
}

// Busy-wait budgets, in status-poll cycles.
const (
	LockTimeoutCycles      uint32 = 0x3000
	K2ReadyTimeoutCycles   uint32 = 0x6000
	OscStableTimeoutCycles uint32 = 0x493E0
)

// Documented operating envelope. Derived frequencies outside these
// bounds reject the configuration.
const (
	MinOscillator Hertz = 16 * MHz
	MaxOscillator Hertz = 40 * MHz
	MinVCO        Hertz = 400 * MHz
	MaxVCO        Hertz = 800 * MHz
	MaxCoreClock  Hertz = 300 * MHz
	MaxPerClock   Hertz = 160 * MHz
	MaxCANClock   Hertz = 80 * MHz

	maxDomainDivider = 64
)

var (
	ErrFreqOutOfRange = errors.New("scu: derived frequency out of operating range")
	ErrLockTimeout    = errors.New("scu: pll lock status did not assert in time")
	ErrNotConfigured  = errors.New("scu: clock tree not configured")
	ErrPLLFailed      = errors.New("scu: pll failed, reset required")
	ErrNoPlan         = errors.New("scu: no divider plan reaches the targets")
)

// ThrottleStep is one K2 post-divider reduction applied after lock. The
// PLL settles at a conservative divider and is stepped down to the final
// one, each step gated on the K2-ready status bit.
type ThrottleStep struct {
	K2Div uint8 `json:"k2_div"`
}

// ClockConfig describes the whole tree: oscillator input, the PLL
// divider triple (human 1-based values) and the per-domain targets.
// A zero target leaves that domain stopped.
type ClockConfig struct {
	OscillatorHz Hertz `json:"oscillator_hz"`

	NDiv  uint8 `json:"n_div"`  // feedback multiplier, VCO = osc * N / P
	PDiv  uint8 `json:"p_div"`  // input pre-divider
	K2Div uint8 `json:"k2_div"` // settling post-divider; fPLL = VCO / K2

	Throttle []ThrottleStep `json:"throttle,omitempty"` // applied in order after lock

	CoreHz Hertz `json:"core_hz"`
	PerHz  Hertz `json:"per_hz"`
	CANHz  Hertz `json:"can_hz"`
}

// finalK2 is the post-divider in effect once throttling completes.
func (c *ClockConfig) finalK2() uint8 {
	if n := len(c.Throttle); n > 0 {
		return c.Throttle[n-1].K2Div
	}
	return c.K2Div
}

// DefaultClockConfig mirrors the stock 20 MHz crystal bring-up: VCO at
// 600 MHz, settled at 100 MHz and throttled to the full 300 MHz core
// clock in three steps.
func DefaultClockConfig() ClockConfig {
	return ClockConfig{
		OscillatorHz: 20 * MHz,
		NDiv:         30,
		PDiv:         1,
		K2Div:        6,
		Throttle:     []ThrottleStep{{K2Div: 4}, {K2Div: 3}, {K2Div: 2}},
		CoreHz:       300 * MHz,
		PerHz:        150 * MHz,
		CANHz:        75 * MHz,
	}
}

// ClockTree owns the SCU clock registers. It is the only writer of the
// oscillator, PLL and distribution fields; dependent drivers hold a
// reference and may only query state and frequencies.
type ClockTree struct {
	r     regs.SCU
	ei    *Endinit
	state PLLState
	cfg   ClockConfig
}

func NewClockTree(r regs.SCU, ei *Endinit) *ClockTree {
	return &ClockTree{r: r, ei: ei}
}

// State reports the bring-up progress. Dependent drivers must observe
// Locked before trusting FrequencyOf for timing-sensitive configuration.
func (t *ClockTree) State() PLLState { return t.state }

func (c *ClockConfig) validate() error {
	if !mathx.Between(c.OscillatorHz, MinOscillator, MaxOscillator) {
		return ErrFreqOutOfRange
	}
	if c.NDiv == 0 || c.PDiv == 0 || c.K2Div == 0 {
		return ErrFreqOutOfRange
	}
	// The multiplied VCO frequency exceeds 32 bits long before the
	// divider fields run out, so the range check must not truncate.
	vco := uint64(c.OscillatorHz) * uint64(c.NDiv) / uint64(c.PDiv)
	if !mathx.Between(vco, uint64(MinVCO), uint64(MaxVCO)) {
		return ErrFreqOutOfRange
	}
	for _, st := range c.Throttle {
		if st.K2Div == 0 || st.K2Div > c.K2Div {
			return ErrFreqOutOfRange
		}
	}
	fpll := Hertz(vco / uint64(c.finalK2()))
	for _, d := range []struct {
		target Hertz
		max    Hertz
	}{
		{c.CoreHz, MaxCoreClock},
		{c.PerHz, MaxPerClock},
		{c.CANHz, MaxCANClock},
	} {
		if d.target == 0 {
			continue
		}
		if d.target > d.max {
			return ErrFreqOutOfRange
		}
		div := domainDivider(fpll, d.target)
		if div == 0 {
			return ErrFreqOutOfRange
		}
		if fpll/Hertz(div) > d.max {
			return ErrFreqOutOfRange
		}
	}
	return nil
}

// domainDivider picks the integer distribution divider closest to the
// target; 0 means unreachable.
func domainDivider(fpll, target Hertz) uint8 {
	if target == 0 || fpll == 0 {
		return 0
	}
	div := mathx.RoundDiv(uint32(fpll), uint32(target))
	if div < 1 || div > maxDomainDivider {
		return 0
	}
	return uint8(div)
}

// Configure validates the frequency plan, then runs the hardware
// sequence: PLL powered down for glitch-free divider updates, oscillator
// programmed and settled (FreeRunning), dividers and distribution
// written, lock detection restarted (PrescaleSettling). The endinit
// guard is held for the register writes and released before the caller
// polls lock status via WaitForLock.
func (t *ClockTree) Configure(cfg ClockConfig) error {
	switch t.state {
	case PLLFailed:
		return ErrPLLFailed
	case PLLLocked:
		// Reconfiguration restarts the sequence from scratch.
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	g, err := t.ei.Acquire()
	if err != nil {
		return err
	}
	defer g.Release()

	t.cfg = cfg

	t.r.SetPLLPower(false)
	t.r.SetOscillator(regs.OscExternalCrystal, oscval(cfg.OscillatorHz))
	if !waitCond(OscStableTimeoutCycles, t.r.OscillatorStable) {
		t.state = PLLFailed
		return ErrLockTimeout
	}
	t.state = PLLFreeRunning

	t.r.SetPLLDividers(cfg.NDiv-1, cfg.PDiv-1, cfg.K2Div-1)
	t.r.SetPLLPower(true)
	if !waitCond(K2ReadyTimeoutCycles, t.r.K2Ready) {
		t.state = PLLFailed
		return ErrLockTimeout
	}

	fpll := t.finalPLLOutput()
	t.r.SetDomainDivider(regs.DomainCore, domainDivider(fpll, cfg.CoreHz))
	t.r.SetDomainDivider(regs.DomainPeripheral, domainDivider(fpll, cfg.PerHz))
	t.r.SetDomainDivider(regs.DomainCAN, domainDivider(fpll, cfg.CANHz))

	t.r.RestartLockDetection()
	t.state = PLLPrescaleSettling
	logx.Debugf("scu: pll settling, vco=%d", uint32(cfg.OscillatorHz)*uint32(cfg.NDiv)/uint32(cfg.PDiv))
	return nil
}

// WaitForLock busy-polls the lock bit, bounded by timeoutCycles, then
// applies the configured K2 throttle steps. On success the tree is
// Locked and every domain frequency is valid. On timeout the tree is
// Failed; callers must treat that as unrecoverable locally and escalate
// (reset or re-init).
func (t *ClockTree) WaitForLock(timeoutCycles uint32) error {
	switch t.state {
	case PLLLocked:
		return nil
	case PLLPrescaleSettling:
	default:
		return ErrNotConfigured
	}
	if !waitCond(timeoutCycles, t.r.PLLLocked) {
		t.state = PLLFailed
		return ErrLockTimeout
	}
	for _, step := range t.cfg.Throttle {
		if !waitCond(K2ReadyTimeoutCycles, t.r.K2Ready) {
			t.state = PLLFailed
			return ErrLockTimeout
		}
		err := t.ei.WithoutEndinit(func() {
			t.r.SetK2Divider(step.K2Div - 1)
		})
		if err != nil {
			return err
		}
	}
	if !waitCond(K2ReadyTimeoutCycles, t.r.K2Ready) {
		t.state = PLLFailed
		return ErrLockTimeout
	}
	t.state = PLLLocked
	logx.Infof("scu: pll locked, core=%d per=%d can=%d",
		uint32(t.FrequencyOf(regs.DomainCore)),
		uint32(t.FrequencyOf(regs.DomainPeripheral)),
		uint32(t.FrequencyOf(regs.DomainCAN)))
	return nil
}

// Reset powers the PLL down and returns the tree to Disabled. This is
// the only way out of Failed.
func (t *ClockTree) Reset() error {
	err := t.ei.WithoutEndinit(func() {
		t.r.SetPLLPower(false)
	})
	if err != nil {
		return err
	}
	t.state = PLLDisabled
	t.cfg = ClockConfig{}
	return nil
}

// FrequencyOf is a pure read of the derived frequency for a domain,
// computed from the live divider registers. The value is meaningful
// only while State() == PLLLocked.
func (t *ClockTree) FrequencyOf(d regs.Domain) Hertz {
	div := t.r.DomainDivider(d)
	if div == 0 {
		return 0
	}
	return t.pllOutput() / Hertz(div)
}

// pllOutput computes fPLL from the live divider fields (raw, value-1).
// The intermediate product needs 64 bits.
func (t *ClockTree) pllOutput() Hertz {
	ndiv, pdiv, k2div := t.r.PLLDividers()
	den := (uint64(pdiv) + 1) * (uint64(k2div) + 1)
	if den == 0 {
		return 0
	}
	return Hertz(uint64(t.cfg.OscillatorHz) * (uint64(ndiv) + 1) / den)
}

// finalPLLOutput is fPLL once the throttle sequence completes, used for
// planning the distribution dividers up front.
func (t *ClockTree) finalPLLOutput() Hertz {
	vco := uint64(t.cfg.OscillatorHz) * uint64(t.cfg.NDiv) / uint64(t.cfg.PDiv)
	return Hertz(vco / uint64(t.cfg.finalK2()))
}

// oscval encodes the crystal frequency for the oscillator control field.
func oscval(osc Hertz) uint8 {
	return uint8(osc/MHz - 15)
}

// waitCond polls cond up to the given cycle budget and reports whether
// it asserted. Every poll counts as one cycle; there is no sleep, the
// wait is a bounded busy loop.
func waitCond(cycles uint32, cond func() bool) bool {
	for i := uint32(0); i < cycles; i++ {
		if cond() {
			return true
		}
	}
	return false
}
