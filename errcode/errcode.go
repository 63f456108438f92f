package errcode

// Code is a stable, event-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK Code = "ok"

	// Clock tree
	FreqOutOfRange Code = "freq_out_of_range"
	LockTimeout    Code = "lock_timeout"
	PLLFailed      Code = "pll_failed"

	// Protected registers
	EndinitHeld Code = "endinit_held"

	// Bit timing
	Unachievable Code = "unachievable"
	FreqTooLow   Code = "freq_too_low"
	FreqTooHigh  Code = "freq_too_high"

	// Mailboxes / node
	PoolExhausted Code = "pool_exhausted"
	NotInInit     Code = "not_in_init"
	NotRunning    Code = "not_running"
	NoFreeMailbox Code = "no_free_mailbox"
	NodeTaken     Code = "node_taken"
	BusOff        Code = "bus_off"

	Error Code = "error" // generic fallback
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return string(e.C) + ": " + e.Msg
	}
	return string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}

// MapDriverErr maps low-level driver errors to a Code.
// Extend the heuristics per subsystem.
func MapDriverErr(err error) Code {
	if err == nil {
		return OK
	}
	return Of(err)
}
