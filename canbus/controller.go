package canbus

// NodeState is the bus-facing state of a CAN controller.
type NodeState uint8

const (
	StateInit NodeState = iota
	StateNormal
	StateSleep
	StateBusOff
)

func (s NodeState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateNormal:
		return "normal"
	case StateSleep:
		return "sleep"
	case StateBusOff:
		return "bus_off"
	}
	return "unknown"
}

// Config is the common configuration surface of a controller.
type Config struct {
	Bitrate        uint32   `json:"bitrate"`           // bit/s, e.g. 500_000
	SamplePointPct uint16   `json:"sample_point_pct"`  // target, in percent (e.g. 80)
	TolerancePct   uint16   `json:"tolerance_pct"`     // max sample-point deviation
	TxMailboxes    int      `json:"tx_mailboxes,omitempty"`
	IRQPriority    uint8    `json:"irq_priority,omitempty"` // service-request priority for event reporting
	Filters        []Filter `json:"filters,omitempty"`      // one receive mailbox per filter
}

// Controller is a classic CAN controller. Implementations must make
// Transmit and TryReceive non-blocking; blocking waits appear only in
// Recover, bounded by the caller-supplied cycle budget.
type Controller interface {
	// Configure derives bit timing and assigns mailboxes. Valid only
	// before Start, in the init state.
	Configure(cfg Config) error

	// Start moves the controller into normal operation.
	Start() error

	// Transmit claims a free transmit mailbox or fails immediately.
	Transmit(f Frame) error

	// TryReceive polls pending receive mailboxes without blocking.
	TryReceive() (Frame, bool)

	// BusState is a pure read of the controller state.
	BusState() NodeState

	// Recover leaves bus-off by waiting (bounded) for the hardware
	// bus-idle condition, ending in the init state.
	Recover(timeoutCycles uint32) error
}
