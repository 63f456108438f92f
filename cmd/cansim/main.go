// cmd/cansim/main.go
//
// Host simulation of the CAN stack: brings the clock tree to lock,
// enables the module, takes two nodes and runs a small loopback
// exchange over a software bus, with the interrupt router in the loop.
package main

import (
	"fmt"
	"os"

	"tricore-hal-go/can"
	"tricore-hal-go/canbus"
	"tricore-hal-go/errcode"
	"tricore-hal-go/irq"
	"tricore-hal-go/regs"
	"tricore-hal-go/regs/sim"
	"tricore-hal-go/scu"
	"tricore-hal-go/x/logx"
)

// ---------- Configuration ----------

const (
	canBitrate   = 500_000
	canSamplePct = 80

	framesToSend = 8
)

// softBus moves completed transmissions from one sim node to another,
// standing in for the wire.
type softBus struct {
	from, to *sim.Node
}

func (b *softBus) pump() {
	for i := 0; i < sim.NumMailboxes; i++ {
		if !b.from.Mailbox(i).TxBusy {
			continue
		}
		f := b.from.PendingTx(i)
		b.from.CompleteTx(i)
		if !b.to.InjectFrame(f) {
			logx.Errorf("bus: frame %#x dropped", f.ID)
		}
	}
}

func fatal(op string, err error) {
	fmt.Fprintf(os.Stderr, "cansim: %s: %v (code %s)\n", op, err, errcode.Of(err))
	os.Exit(1)
}

func main() {
	logx.SetOutput(os.Stdout, logx.LevelDebug)

	// Clock bring-up: plan for a 40 MHz CAN clock from the stock crystal.
	s := sim.NewSCU()
	ei := scu.NewEndinit(s, sim.EndinitPassword)
	tree := scu.NewClockTree(s, ei)

	plan, err := scu.PlanClock(20*scu.MHz, 300*scu.MHz, 150*scu.MHz, 40*scu.MHz)
	if err != nil {
		fatal("plan clock", err)
	}
	if err := tree.Configure(plan); err != nil {
		fatal("configure clock", err)
	}
	if err := tree.WaitForLock(scu.LockTimeoutCycles); err != nil {
		fatal("wait for lock", err)
	}
	logx.Infof("cansim: can clock %d Hz", uint32(tree.FrequencyOf(regs.DomainCAN)))

	// Module, router and nodes. Taking a node binds its interrupt
	// handler; configuring it enables the event kinds.
	simMod := sim.NewModule(s)
	router := irq.NewRouter(64)
	mod := can.NewModule(simMod, ei, tree, router,
		simMod.Node(0), simMod.Node(1), simMod.Node(2), simMod.Node(3))
	if err := mod.Enable(); err != nil {
		fatal("enable module", err)
	}

	tx, err := mod.TakeNode(0)
	if err != nil {
		fatal("take node 0", err)
	}
	rx, err := mod.TakeNode(1)
	if err != nil {
		fatal("take node 1", err)
	}
	wireNode(router, 0, simMod.Node(0))
	wireNode(router, 1, simMod.Node(1))

	cfg := canbus.Config{Bitrate: canBitrate, SamplePointPct: canSamplePct, TxMailboxes: 4, IRQPriority: 4}
	if err := tx.Configure(cfg); err != nil {
		fatal("configure node 0", err)
	}
	rxCfg := cfg
	rxCfg.Filters = []canbus.Filter{{ID: 0x100, Mask: 0x700}}
	if err := rx.Configure(rxCfg); err != nil {
		fatal("configure node 1", err)
	}
	if err := tx.Start(); err != nil {
		fatal("start node 0", err)
	}
	if err := rx.Start(); err != nil {
		fatal("start node 1", err)
	}

	// Loopback exchange.
	wire := &softBus{from: simMod.Node(0), to: simMod.Node(1)}
	received := 0
	for i := 0; i < framesToSend; i++ {
		f := canbus.NewFrame(0x100|uint32(i), []byte{byte(i), 0xCA, 0xFE})
		if err := tx.Transmit(f); err != nil {
			fatal("transmit", err)
		}
		wire.pump()
		for {
			got, ok := rx.TryReceive()
			if !ok {
				break
			}
			logx.Infof("cansim: node 1 received %#x len=%d", got.ID, got.Len)
			received++
		}
	}

	for {
		ev, ok := router.Poll()
		if !ok {
			break
		}
		logx.Debugf("cansim: event node=%d kind=%s mailbox=%d", ev.Node, ev.Kind, ev.Mailbox)
	}

	st := tx.Stats()
	fmt.Printf("sent=%d received=%d txComplete=%d drops=%d\n",
		framesToSend, received, st.TxCompleted, router.Drops())
	if received != framesToSend {
		os.Exit(1)
	}
}

func wireNode(rt *irq.Router, idx uint8, sn *sim.Node) {
	sn.OnTxComplete = func(mb int) {
		rt.Deliver(irq.Event{Node: idx, Kind: irq.TxComplete, Mailbox: uint8(mb)})
	}
	sn.OnRxPending = func(mb int) {
		rt.Deliver(irq.Event{Node: idx, Kind: irq.RxPending, Mailbox: uint8(mb)})
	}
	sn.OnBusError = func(busOff bool) {
		rt.Deliver(irq.Event{Node: idx, Kind: irq.BusError, BusOff: busOff})
	}
	sn.OnWake = func() {
		rt.Deliver(irq.Event{Node: idx, Kind: irq.Wake})
	}
}
