package can

import (
	"errors"

	"tricore-hal-go/canbus"
	"tricore-hal-go/irq"
	"tricore-hal-go/regs"
	"tricore-hal-go/x/logx"
)

// recoverySequences is how many runs of 11 consecutive recessive bits
// the protocol requires before a node may leave bus-off.
const recoverySequences = 128

// defaultTxMailboxes is used when the configuration does not say.
const defaultTxMailboxes = 8

// Fallback sample point and tolerance when the configuration leaves
// them zero: 80% is the common choice for classic CAN at these rates.
const (
	defaultSamplePct    = 80
	defaultTolerancePct = 2
)

var (
	ErrNotInInit       = errors.New("can: node not in init state")
	ErrNotConfigured   = errors.New("can: node not configured")
	ErrNotRunning      = errors.New("can: node not in normal operation")
	ErrNoFreeMailbox   = errors.New("can: no free transmit mailbox")
	ErrBusOff          = errors.New("can: node is bus-off")
	ErrNotBusOff       = errors.New("can: node is not bus-off")
	ErrRecoveryTimeout = errors.New("can: bus-off recovery did not complete in time")
)

// Stats counts interrupt events seen by a node. Snapshot via Stats.
type Stats struct {
	TxCompleted uint32
	RxEvents    uint32
	BusErrors   uint32
	BusOffHits  uint32
	Wakes       uint32
}

// Node drives one on-chip CAN node. Mailbox assignment happens at
// configuration time only; Transmit and TryReceive never block and
// never allocate. All shared state (node state, mailbox layout, stats)
// is guarded by critical sections, since HandleEvent mutates it from
// interrupt context.
type Node struct {
	r       regs.CANNode
	index   uint8
	clockHz uint32
	router  *irq.Router

	cfg        canbus.Config
	bt         BitTiming
	configured bool

	state canbus.NodeState
	pool  *mailboxPool
	txMbs []int
	rxMbs []int

	stats Stats
}

var _ canbus.Controller = (*Node)(nil)

func newNode(r regs.CANNode, index uint8, clockHz uint32, rt *irq.Router) *Node {
	return &Node{
		r:       r,
		index:   index,
		clockHz: clockHz,
		router:  rt,
		state:   canbus.StateInit,
		pool:    newMailboxPool(r.NumMailboxes()),
	}
}

// Index is the node's position in its module.
func (n *Node) Index() uint8 { return n.index }

// ClockHz is the node clock the bit timing was derived from.
func (n *Node) ClockHz() uint32 { return n.clockHz }

// Timing is the resolved bit timing. Valid after Configure.
func (n *Node) Timing() BitTiming { return n.bt }

// Configure derives the bit timing, lays out the mailbox pool (the
// requested transmit mailboxes first, then one receive mailbox per
// acceptance filter, first-fit ascending) and enables event reporting
// on the router. Only legal in the init state; a running node keeps its
// live layout untouched, and nothing is allocated before the state is
// verified.
func (n *Node) Configure(cfg canbus.Config) error {
	if err := n.requireInit(); err != nil {
		return err
	}

	samplePct := cfg.SamplePointPct
	if samplePct == 0 {
		samplePct = defaultSamplePct
	}
	tolerance := cfg.TolerancePct
	if tolerance == 0 {
		tolerance = defaultTolerancePct
	}
	bt, err := ComputeBitTiming(n.clockHz, cfg.Bitrate, samplePct, tolerance)
	if err != nil {
		return err
	}

	txCount := cfg.TxMailboxes
	if txCount == 0 {
		txCount = defaultTxMailboxes
	}
	// A replacement layout, committed only once every allocation and
	// register write succeeded.
	pool := newMailboxPool(n.r.NumMailboxes())
	txMbs := make([]int, 0, txCount)
	for i := 0; i < txCount; i++ {
		mb, err := pool.alloc(mbTx)
		if err != nil {
			return err
		}
		txMbs = append(txMbs, mb)
	}
	rxMbs := make([]int, 0, len(cfg.Filters))
	for range cfg.Filters {
		mb, err := pool.alloc(mbRx)
		if err != nil {
			return err
		}
		rxMbs = append(rxMbs, mb)
	}

	err = ErrNotInInit
	irq.Critical(func() {
		if n.state != canbus.StateInit || !n.r.InitMode() {
			return
		}
		n.r.SetConfigChange(true)
		n.r.SetBitTiming(bt.Prescaler, bt.TSeg1, bt.TSeg2, bt.SJW)
		for i, flt := range cfg.Filters {
			n.r.SetMailboxFilter(rxMbs[i], flt.ID, flt.Mask, flt.Extended)
		}
		n.r.SetConfigChange(false)

		n.cfg = cfg
		n.bt = bt
		n.pool = pool
		n.txMbs = txMbs
		n.rxMbs = rxMbs
		n.configured = true
		err = nil
	})
	if err != nil {
		return err
	}
	if err := n.enableEvents(irq.Priority(cfg.IRQPriority)); err != nil {
		return err
	}
	logx.Debugf("can: node %d timing presc=%d tseg1=%d tseg2=%d sjw=%d",
		n.index, bt.Prescaler, bt.TSeg1, bt.TSeg2, bt.SJW)
	return nil
}

// requireInit verifies the node sits in the init state.
func (n *Node) requireInit() error {
	var err error
	irq.Critical(func() {
		if n.state != canbus.StateInit || !n.r.InitMode() {
			err = ErrNotInInit
		}
	})
	return err
}

// enableEvents tells the router which events this node reports.
func (n *Node) enableEvents(prio irq.Priority) error {
	if n.router == nil {
		return nil
	}
	for _, k := range []irq.Kind{irq.TxComplete, irq.RxPending, irq.BusError, irq.Wake} {
		if err := n.router.Enable(n.index, k, prio); err != nil {
			return err
		}
	}
	return nil
}

// Start leaves init and joins the bus.
func (n *Node) Start() error {
	var err error
	irq.Critical(func() {
		switch {
		case !n.configured:
			err = ErrNotConfigured
		case n.state != canbus.StateInit:
			err = ErrNotInInit
		default:
			n.r.SetInit(false)
			n.state = canbus.StateNormal
		}
	})
	return err
}

// Transmit claims the lowest free transmit mailbox and requests the
// send. It fails immediately with ErrNoFreeMailbox when every transmit
// mailbox is busy; completion frees mailboxes via the interrupt path or
// the next status poll. Oversized payloads panic: they are a
// programming error, not a bus condition.
func (n *Node) Transmit(f canbus.Frame) error {
	if f.Len > 8 {
		panic(canbus.ErrInvalidLen)
	}
	if err := f.Validate(); err != nil {
		return err
	}
	var err error
	irq.Critical(func() {
		n.syncBusOff()
		switch n.state {
		case canbus.StateBusOff:
			err = ErrBusOff
			return
		case canbus.StateNormal:
		default:
			err = ErrNotRunning
			return
		}
		for _, mb := range n.txMbs {
			if n.r.Mailbox(mb).TxBusy {
				continue
			}
			n.r.WriteMailbox(mb, f.ID, f.Extended, f.RTR, f.Payload())
			n.r.RequestTx(mb)
			return
		}
		err = ErrNoFreeMailbox
	})
	return err
}

// TryReceive polls the receive mailboxes in ascending index order and
// drains the first pending one. Returns false when nothing is pending.
func (n *Node) TryReceive() (canbus.Frame, bool) {
	var f canbus.Frame
	var ok bool
	irq.Critical(func() {
		for _, mb := range n.rxMbs {
			if !n.r.Mailbox(mb).RxPending {
				continue
			}
			id, ext, rtr, data := n.r.ReadMailbox(mb)
			f = canbus.Frame{ID: id, Extended: ext, RTR: rtr, Len: uint8(len(data))}
			copy(f.Data[:], data)
			n.r.ClearRxPending(mb)
			ok = true
			return
		}
	})
	return f, ok
}

// Sleep requests the low-power state. Bus traffic wakes the node via the
// wake interrupt (or the next Wake call).
func (n *Node) Sleep() error {
	var err error
	irq.Critical(func() {
		n.syncBusOff()
		if n.state != canbus.StateNormal {
			err = ErrNotRunning
			return
		}
		n.r.SetSleep(true)
		n.state = canbus.StateSleep
	})
	return err
}

// Wake leaves the low-power state. No effect outside it.
func (n *Node) Wake() {
	irq.Critical(func() { n.wakeLocked() })
}

func (n *Node) wakeLocked() {
	if n.state != canbus.StateSleep {
		return
	}
	n.r.SetSleep(false)
	n.state = canbus.StateNormal
}

// BusState reports the node state, folding in the hardware bus-off flag.
func (n *Node) BusState() canbus.NodeState {
	var s canbus.NodeState
	irq.Critical(func() {
		n.syncBusOff()
		s = n.state
	})
	return s
}

// TxErrorCounter is a pure read of the hardware transmit error counter.
func (n *Node) TxErrorCounter() uint8 { return n.r.TxErrorCounter() }

// Recover leaves bus-off by re-entering init and then releasing it,
// which makes the hardware count idle-bus sequences: the node may rejoin
// only after 128 runs of 11 consecutive recessive bits. The wait is a
// bounded busy poll; on success the node is back in the init state with
// its configuration retained, so a Start call resumes operation.
func (n *Node) Recover(timeoutCycles uint32) error {
	var err error
	irq.Critical(func() {
		n.syncBusOff()
		if n.state != canbus.StateBusOff {
			err = ErrNotBusOff
			return
		}
		n.r.SetInit(true)
		n.r.SetInit(false)
	})
	if err != nil {
		return err
	}

	done := false
	for i := uint32(0); i < timeoutCycles; i++ {
		if n.r.RecoverySequences() >= recoverySequences && !n.r.BusOff() {
			done = true
			break
		}
	}
	if !done {
		return ErrRecoveryTimeout
	}

	irq.Critical(func() {
		n.r.SetInit(true)
		n.state = canbus.StateInit
	})
	logx.Infof("can: node %d recovered from bus-off", n.index)
	return nil
}

// Stats snapshots the interrupt event counters.
func (n *Node) Stats() Stats {
	var s Stats
	irq.Critical(func() { s = n.stats })
	return s
}

// HandleEvent is the node's interrupt-context handler; TakeNode binds
// it to the router. It only updates counters and the node state,
// everything else happens in foreground code.
func (n *Node) HandleEvent(ev irq.Event) {
	irq.Critical(func() {
		switch ev.Kind {
		case irq.TxComplete:
			n.stats.TxCompleted++
		case irq.RxPending:
			n.stats.RxEvents++
		case irq.BusError:
			n.stats.BusErrors++
			if ev.BusOff {
				n.stats.BusOffHits++
				n.state = canbus.StateBusOff
			}
		case irq.Wake:
			n.stats.Wakes++
			n.wakeLocked()
		}
	})
}

// syncBusOff folds the hardware bus-off flag into the cached state.
// Callers hold the critical section.
func (n *Node) syncBusOff() {
	if n.r.BusOff() && n.state != canbus.StateBusOff {
		n.state = canbus.StateBusOff
	}
}
