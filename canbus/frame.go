// Package canbus defines the generic classic-CAN capability surface:
// a frame type and a controller interface. Applications are written
// against this package rather than a concrete driver, so the on-chip
// node driver (can) and external controllers (drivers/mcp2515) are
// interchangeable.
//
// Classic CAN only: 11/29-bit identifiers, 0-8 data bytes, remote
// frames. CAN FD framing is out of scope.
package canbus

import "errors"

// Identifier limits.
const (
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF
)

var (
	ErrInvalidID  = errors.New("canbus: invalid identifier")
	ErrInvalidLen = errors.New("canbus: invalid data length")
)

// Frame is one classic CAN frame.
type Frame struct {
	ID       uint32 // 11-bit (standard) or 29-bit (extended)
	Extended bool   // true for 29-bit identifier
	RTR      bool   // remote transmission request
	Len      uint8  // 0..8
	Data     [8]byte
}

// NewFrame builds a standard-identifier data frame.
// It panics if len(data) > 8: oversized payloads are a programming error,
// not an environmental failure.
func NewFrame(id uint32, data []byte) Frame {
	if len(data) > 8 {
		panic(ErrInvalidLen)
	}
	f := Frame{ID: id, Len: uint8(len(data))}
	copy(f.Data[:], data)
	return f
}

// NewExtendedFrame builds an extended-identifier data frame.
func NewExtendedFrame(id uint32, data []byte) Frame {
	f := NewFrame(id, data)
	f.Extended = true
	return f
}

// Validate returns an error if the frame is not a valid classic CAN frame.
func (f Frame) Validate() error {
	if f.Len > 8 {
		return ErrInvalidLen
	}
	max := uint32(MaxStandardID)
	if f.Extended {
		max = MaxExtendedID
	}
	if f.ID > max {
		return ErrInvalidID
	}
	return nil
}

// Payload returns the live data slice (length Len).
func (f *Frame) Payload() []byte { return f.Data[:f.Len] }

// Filter is an acceptance filter for one receive mailbox. A frame matches
// when (frame.ID & Mask) == (ID & Mask) and the identifier width agrees.
// Mask == 0 accepts every identifier of the chosen width; a contiguous range
// is expressed with the common-prefix mask.
type Filter struct {
	ID       uint32 `json:"id"`
	Mask     uint32 `json:"mask"`
	Extended bool   `json:"extended,omitempty"`
}

// Matches reports whether the filter accepts the frame.
func (flt Filter) Matches(f Frame) bool {
	if flt.Extended != f.Extended {
		return false
	}
	return f.ID&flt.Mask == flt.ID&flt.Mask
}
