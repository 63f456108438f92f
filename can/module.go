// Package can drives the on-chip CAN module: kernel enable, per-node
// clock routing, bit-timing derivation and the mailbox-based node
// driver behind the canbus.Controller surface.
package can

import (
	"errors"

	"tricore-hal-go/irq"
	"tricore-hal-go/regs"
	"tricore-hal-go/scu"
	"tricore-hal-go/x/logx"
)

var (
	ErrClockNotReady  = errors.New("can: clock tree not locked")
	ErrModuleDisabled = errors.New("can: module kernel not enabled")
	ErrNodeTaken      = errors.New("can: node already taken")
	ErrBadNodeIndex   = errors.New("can: node index out of range")
)

// Module owns the CAN module kernel. Nodes are handed out once each via
// TakeNode, so exactly one driver instance exists per hardware node.
type Module struct {
	r      regs.CANModule
	ei     *scu.Endinit
	clk    *scu.ClockTree
	router *irq.Router
	nodes  []regs.CANNode
	taken  []bool
}

// NewModule binds the module kernel registers and the node register
// blocks it routes clocks to. The endinit manager is needed because the
// kernel enable bit sits in the protected region; the clock tree gates
// enabling on a locked PLL and supplies the node clock for bit timing.
// Taken nodes report their interrupt events through rt.
func NewModule(r regs.CANModule, ei *scu.Endinit, clk *scu.ClockTree, rt *irq.Router, nodes ...regs.CANNode) *Module {
	return &Module{
		r:      r,
		ei:     ei,
		clk:    clk,
		router: rt,
		nodes:  nodes,
		taken:  make([]bool, len(nodes)),
	}
}

// Enable switches the module kernel on. The CAN clock must be valid
// first: enabling against an unlocked tree would latch an arbitrary
// divider into every node's bit timing.
func (m *Module) Enable() error {
	if m.clk.State() != scu.PLLLocked {
		return ErrClockNotReady
	}
	if err := m.ei.WithoutEndinit(m.r.EnableModule); err != nil {
		return err
	}
	logx.Debugf("can: module enabled, clock=%d", uint32(m.clk.FrequencyOf(regs.DomainCAN)))
	return nil
}

// Disable switches the module kernel off. Taken nodes keep their driver
// instances but stop operating until the next Enable.
func (m *Module) Disable() error {
	return m.ei.WithoutEndinit(m.r.DisableModule)
}

// Enabled reports the kernel enable bit.
func (m *Module) Enabled() bool { return m.r.ModuleEnabled() }

// TakeNode claims node i, routes the synchronous module clock to it,
// binds its interrupt handler and returns its driver, in the init
// state. A node can be taken once; the second caller observes
// ErrNodeTaken.
func (m *Module) TakeNode(i int) (*Node, error) {
	if i < 0 || i >= len(m.nodes) {
		return nil, ErrBadNodeIndex
	}
	if !m.r.ModuleEnabled() {
		return nil, ErrModuleDisabled
	}
	var n *Node
	err := ErrNodeTaken
	irq.Critical(func() {
		if m.taken[i] {
			return
		}
		n = newNode(m.nodes[i], uint8(i), uint32(m.clk.FrequencyOf(regs.DomainCAN)), m.router)
		if m.router != nil {
			if bindErr := m.router.Bind(uint8(i), n.HandleEvent); bindErr != nil {
				n, err = nil, bindErr
				return
			}
		}
		m.taken[i] = true
		m.r.SetNodeClock(i, regs.CANClockSynchronous)
		err = nil
	})
	return n, err
}
