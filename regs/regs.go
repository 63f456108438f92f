// Package regs is the boundary to the generated register-access layer.
// The drivers consume these interfaces and never assume register layout
// beyond the named regions, bits and fields below; addresses, bit offsets
// and chip variants live in the register-generation layer behind them.
//
// regs/sim provides a deterministic software implementation for tests and
// host demos.
package regs

// OscMode selects the oscillator input circuit.
type OscMode uint8

const (
	OscExternalCrystal OscMode = iota
	OscExternalClock
	OscDisabled
)

// Domain names one derived clock consumer.
type Domain uint8

const (
	DomainCore Domain = iota
	DomainPeripheral
	DomainCAN
	NumDomains
)

// SCU is the system control unit surface the clock tree and the endinit
// guard need: write protection, oscillator, PLL and clock distribution.
//
// Registers in the protected region reject writes while endinit is set;
// implementations report such writes through their own fault accounting
// rather than by failing the call, matching the silent-discard behaviour
// of the hardware.
type SCU interface {
	// Endinit write protection. Clearing or setting the flag requires the
	// documented password to have been presented immediately beforehand.
	WriteEndinitPassword(pw uint16)
	SetEndinit(locked bool)
	Endinit() bool

	// Oscillator control and status.
	SetOscillator(mode OscMode, oscvalMHz uint8)
	OscillatorStable() bool

	// PLL control. Divider fields hold the raw (value-1) encoding.
	SetPLLPower(on bool)
	PLLPowered() bool
	SetPLLDividers(ndiv, pdiv, k2div uint8)
	PLLDividers() (ndiv, pdiv, k2div uint8)
	SetK2Divider(k2div uint8)
	K2Ready() bool

	// Lock detection: pulse restart, then poll the lock bit.
	RestartLockDetection()
	PLLLocked() bool

	// Per-domain distribution dividers (raw value, 1-based).
	SetDomainDivider(d Domain, div uint8)
	DomainDivider(d Domain) uint8
}

// CANClockSource selects the clock input of one CAN node.
type CANClockSource uint8

const (
	CANClockStopped CANClockSource = iota
	CANClockAsynchronous
	CANClockSynchronous
	CANClockBoth
)

// CANModule is the module-level register surface: kernel enable and
// per-node clock routing. The enable bit is in the protected region.
type CANModule interface {
	EnableModule()
	DisableModule()
	ModuleEnabled() bool

	SetNodeClock(node int, src CANClockSource)
	NodeClock(node int) CANClockSource
}

// MailboxStatus is a snapshot of one message object's flags.
type MailboxStatus struct {
	TxBusy    bool // transmit requested, not yet completed
	RxPending bool // new data flag
}

// CANNode is the per-node register surface: configuration gating, bit
// timing, error state and the fixed message-RAM of mailbox blocks.
type CANNode interface {
	// Configuration gate. Timing and filter writes are accepted only
	// while init+config-change are set (CCCR-style).
	SetInit(on bool)
	InitMode() bool
	SetConfigChange(on bool)
	ConfigChange() bool

	// Bit timing, as human 1-based values; the generated layer applies
	// the value-1 field encoding.
	SetBitTiming(prescaler uint16, tseg1, tseg2, sjw uint8)
	BitTiming() (prescaler uint16, tseg1, tseg2, sjw uint8)

	// Low-power.
	SetSleep(on bool)
	Sleeping() bool

	// Error state. BusOff is set by hardware when the transmit error
	// counter exceeds its threshold; RecoverySequences counts observed
	// runs of 11 consecutive recessive bits while recovery is underway.
	TxErrorCounter() uint8
	BusOff() bool
	RecoverySequences() uint16

	// Mailboxes.
	NumMailboxes() int
	SetMailboxFilter(i int, id, mask uint32, extended bool)
	WriteMailbox(i int, id uint32, extended, rtr bool, data []byte)
	ReadMailbox(i int) (id uint32, extended, rtr bool, data []byte)
	RequestTx(i int)
	CancelTx(i int)
	ClearRxPending(i int)
	Mailbox(i int) MailboxStatus
}
