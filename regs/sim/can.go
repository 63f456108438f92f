package sim

import (
	"tricore-hal-go/canbus"
	"tricore-hal-go/regs"
)

// NumMailboxes is the fixed message-RAM capacity per simulated node.
const NumMailboxes = 32

// RecoveryTarget is the number of 11-consecutive-recessive-bit sequences
// the hardware observes before leaving bus-off (CAN protocol: 128).
const RecoveryTarget = 128

// Module is a simulated CAN module kernel with four nodes.
type Module struct {
	scu     *SCU
	enabled bool
	clock   [4]regs.CANClockSource
	nodes   [4]*Node
	faults  int
}

var _ regs.CANModule = (*Module)(nil)

// NewModule creates a module bound to the given SCU (the kernel enable
// bit sits in the endinit-protected region).
func NewModule(scu *SCU) *Module {
	m := &Module{scu: scu}
	for i := range m.nodes {
		m.nodes[i] = newNode()
	}
	return m
}

// Node returns the simulated register block of node i.
func (m *Module) Node(i int) *Node { return m.nodes[i] }

// Faults reports discarded protected writes at module level.
func (m *Module) Faults() int { return m.faults }

func (m *Module) EnableModule() {
	if m.scu.Endinit() {
		m.faults++
		return
	}
	m.enabled = true
}

func (m *Module) DisableModule() {
	if m.scu.Endinit() {
		m.faults++
		return
	}
	m.enabled = false
}

func (m *Module) ModuleEnabled() bool { return m.enabled }

func (m *Module) SetNodeClock(node int, src regs.CANClockSource) { m.clock[node] = src }

func (m *Module) NodeClock(node int) regs.CANClockSource { return m.clock[node] }

type mailbox struct {
	filterSet bool
	fltID     uint32
	fltMask   uint32
	fltExt    bool

	id   uint32
	ext  bool
	rtr  bool
	dlc  uint8
	data [8]byte

	txBusy    bool
	rxPending bool
}

// Node is one simulated CAN node register block. Event hooks stand in for
// the interrupt lines; tests and demos point them at the router's Deliver.
type Node struct {
	// RecoveryPerPoll sequences are credited per RecoverySequences read
	// while recovery is underway (default 1).
	RecoveryPerPoll uint16

	// Event hooks, invoked from the call that causes the event.
	OnTxComplete func(mailbox int)
	OnRxPending  func(mailbox int)
	OnBusError   func(busOff bool)
	OnWake       func()

	initMode bool
	cce      bool
	sleeping bool

	prescaler uint16
	tseg1     uint8
	tseg2     uint8
	sjw       uint8

	tec        uint8
	busOff     bool
	recovering bool
	recSeq     uint16

	mb     [NumMailboxes]mailbox
	faults int
}

var _ regs.CANNode = (*Node)(nil)

func newNode() *Node {
	return &Node{
		RecoveryPerPoll: 1,
		initMode:        true, // hardware comes up in init
	}
}

// Faults reports configuration writes outside the init+config-change gate.
func (n *Node) Faults() int { return n.faults }

func (n *Node) SetInit(on bool) {
	n.initMode = on
	if !on {
		n.cce = false
		if n.busOff {
			// Clearing init while bus-off starts the recovery sequence.
			n.recovering = true
			n.recSeq = 0
		}
	}
}

func (n *Node) InitMode() bool { return n.initMode }

func (n *Node) SetConfigChange(on bool) {
	if on && !n.initMode {
		n.faults++
		return
	}
	n.cce = on
}

func (n *Node) ConfigChange() bool { return n.cce }

func (n *Node) configGate() bool {
	if !n.initMode || !n.cce {
		n.faults++
		return false
	}
	return true
}

func (n *Node) SetBitTiming(prescaler uint16, tseg1, tseg2, sjw uint8) {
	if !n.configGate() {
		return
	}
	n.prescaler, n.tseg1, n.tseg2, n.sjw = prescaler, tseg1, tseg2, sjw
}

func (n *Node) BitTiming() (prescaler uint16, tseg1, tseg2, sjw uint8) {
	return n.prescaler, n.tseg1, n.tseg2, n.sjw
}

func (n *Node) SetSleep(on bool) { n.sleeping = on }

func (n *Node) Sleeping() bool { return n.sleeping }

func (n *Node) TxErrorCounter() uint8 { return n.tec }

func (n *Node) BusOff() bool { return n.busOff }

func (n *Node) RecoverySequences() uint16 {
	if n.recovering && n.recSeq < RecoveryTarget {
		n.recSeq += n.RecoveryPerPoll
		if n.recSeq >= RecoveryTarget {
			n.recSeq = RecoveryTarget
			n.busOff = false
			n.recovering = false
			n.tec = 0
		}
	}
	return n.recSeq
}

func (n *Node) NumMailboxes() int { return NumMailboxes }

func (n *Node) SetMailboxFilter(i int, id, mask uint32, extended bool) {
	if !n.configGate() {
		return
	}
	m := &n.mb[i]
	m.filterSet = true
	m.fltID, m.fltMask, m.fltExt = id, mask, extended
	m.rxPending = false
}

func (n *Node) WriteMailbox(i int, id uint32, extended, rtr bool, data []byte) {
	m := &n.mb[i]
	m.id, m.ext, m.rtr = id, extended, rtr
	m.dlc = uint8(len(data))
	if m.dlc > 8 {
		m.dlc = 8
	}
	copy(m.data[:], data)
}

func (n *Node) ReadMailbox(i int) (id uint32, extended, rtr bool, data []byte) {
	m := &n.mb[i]
	return m.id, m.ext, m.rtr, m.data[:m.dlc]
}

func (n *Node) RequestTx(i int) {
	if n.busOff {
		return // transmission halted in bus-off
	}
	n.mb[i].txBusy = true
}

func (n *Node) CancelTx(i int) { n.mb[i].txBusy = false }

func (n *Node) ClearRxPending(i int) { n.mb[i].rxPending = false }

func (n *Node) Mailbox(i int) regs.MailboxStatus {
	return regs.MailboxStatus{TxBusy: n.mb[i].txBusy, RxPending: n.mb[i].rxPending}
}

// ---- test/demo side: the "bus" ----

// CompleteTx finishes a requested transmission: clears the busy flag and
// fires the TX-complete hook, as hardware arbitration winning would.
func (n *Node) CompleteTx(i int) {
	if !n.mb[i].txBusy {
		return
	}
	n.mb[i].txBusy = false
	if n.OnTxComplete != nil {
		n.OnTxComplete(i)
	}
}

// CompleteAllTx finishes every requested transmission in index order.
func (n *Node) CompleteAllTx() {
	for i := range n.mb {
		n.CompleteTx(i)
	}
}

// PendingTx returns the frame last written to mailbox i, for assertions.
func (n *Node) PendingTx(i int) canbus.Frame {
	m := &n.mb[i]
	f := canbus.Frame{ID: m.id, Extended: m.ext, RTR: m.rtr, Len: m.dlc}
	copy(f.Data[:], m.data[:])
	return f
}

// InjectFrame delivers a frame from the simulated bus. The first mailbox
// (ascending index) whose filter matches and whose new-data flag is clear
// stores it. A frame arriving while the node sleeps fires the wake hook
// instead of being stored. Returns whether the frame was accepted.
func (n *Node) InjectFrame(f canbus.Frame) bool {
	if n.sleeping {
		if n.OnWake != nil {
			n.OnWake()
		}
		return false
	}
	if n.initMode || n.busOff {
		return false
	}
	for i := range n.mb {
		m := &n.mb[i]
		if !m.filterSet || m.rxPending {
			continue
		}
		flt := canbus.Filter{ID: m.fltID, Mask: m.fltMask, Extended: m.fltExt}
		if !flt.Matches(f) {
			continue
		}
		m.id, m.ext, m.rtr, m.dlc = f.ID, f.Extended, f.RTR, f.Len
		copy(m.data[:], f.Data[:])
		m.rxPending = true
		if n.OnRxPending != nil {
			n.OnRxPending(i)
		}
		return true
	}
	return false
}

// SetTxErrors scripts the transmit error counter.
func (n *Node) SetTxErrors(tec uint8) { n.tec = tec }

// EnterBusOff makes the transmit error counter exceed its threshold:
// the bus-off flag sets, pending transmissions are aborted by hardware,
// and the bus-error hook fires.
func (n *Node) EnterBusOff() {
	n.tec = 0xFF
	n.busOff = true
	n.recovering = false
	n.recSeq = 0
	for i := range n.mb {
		n.mb[i].txBusy = false
	}
	if n.OnBusError != nil {
		n.OnBusError(true)
	}
}

// RaiseBusError fires a sub-threshold bus error (recoverable by hardware
// retry; drivers must not surface it).
func (n *Node) RaiseBusError() {
	if n.tec < 0xF0 {
		n.tec += 8
	}
	if n.OnBusError != nil {
		n.OnBusError(false)
	}
}
