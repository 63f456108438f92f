// Package irq is the interrupt routing boundary between the CAN drivers
// and the platform's service-request / vector wiring, which stays
// external. The drivers tell the router which events to report; the
// platform's interrupt stubs call Deliver; foreground code drains with
// Poll. Interrupt-context work is kept to bound bookkeeping: the bound
// handler runs in ISR context and must only set flags, the rest happens
// in foreground polling.
package irq

import (
	"errors"
	"sync/atomic"

	"tricore-hal-go/x/ring"
)

// Kind identifies one reportable event class per node.
type Kind uint8

const (
	TxComplete Kind = iota
	RxPending
	BusError
	Wake
	numKinds
)

func (k Kind) String() string {
	switch k {
	case TxComplete:
		return "tx_complete"
	case RxPending:
		return "rx_pending"
	case BusError:
		return "bus_error"
	case Wake:
		return "wake"
	}
	return "unknown"
}

// Priority is the service-request priority handed to the platform when an
// event kind is enabled. Assignment policy is the platform's business.
type Priority uint8

// Event is one interrupt notification.
type Event struct {
	Node    uint8
	Kind    Kind
	Mailbox uint8 // valid for TxComplete and RxPending
	BusOff  bool  // valid for BusError
}

// MaxNodes bounds the per-module node count the router tracks.
const MaxNodes = 4

var ErrBadNode = errors.New("irq: node index out of range")

// Router fans interrupt events out to a per-node ISR handler and an SPSC
// event ring drained by foreground code. Enable/Disable mirror the
// routing requests into the platform via the optional Route callback.
type Router struct {
	// Route, when set, is told about enable/disable requests so the
	// platform can program its service-request nodes.
	Route func(node uint8, k Kind, prio Priority, enable bool)

	enabled  [MaxNodes][numKinds]bool
	prio     [MaxNodes][numKinds]Priority
	handlers [MaxNodes]func(Event)

	events *ring.Ring[Event]
	drops  atomic.Uint32
}

// NewRouter creates a router with an event ring of the given capacity
// (power of two; 64 covers a full mailbox pool twice).
func NewRouter(buf int) *Router {
	return &Router{events: ring.New[Event](buf)}
}

// Bind installs the ISR-context handler for a node. The handler must
// restrict itself to flag-setting and mailbox bookkeeping.
func (r *Router) Bind(node uint8, h func(Event)) error {
	if node >= MaxNodes {
		return ErrBadNode
	}
	r.handlers[node] = h
	return nil
}

// Enable asks the platform to report events of kind k for node at the
// given priority.
func (r *Router) Enable(node uint8, k Kind, prio Priority) error {
	if node >= MaxNodes {
		return ErrBadNode
	}
	r.enabled[node][k] = true
	r.prio[node][k] = prio
	if r.Route != nil {
		r.Route(node, k, prio, true)
	}
	return nil
}

// Disable stops reporting of kind k for node.
func (r *Router) Disable(node uint8, k Kind) {
	if node >= MaxNodes {
		return
	}
	r.enabled[node][k] = false
	if r.Route != nil {
		r.Route(node, k, r.prio[node][k], false)
	}
}

// Deliver is the ISR entry point. It runs the node's bound handler and
// queues the event for foreground polling. Never blocks; overflow is
// drop-counted.
func (r *Router) Deliver(ev Event) {
	if ev.Node >= MaxNodes || !r.enabled[ev.Node][ev.Kind] {
		return
	}
	if h := r.handlers[ev.Node]; h != nil {
		h(ev)
	}
	if !r.events.Put(ev) {
		r.drops.Add(1)
	}
}

// Poll returns the next queued event, if any. Foreground only.
func (r *Router) Poll() (Event, bool) { return r.events.Get() }

// Drops reports events lost to ring overflow since construction.
func (r *Router) Drops() uint32 { return r.drops.Load() }
