// Package mcp2515 drives the MCP2515 stand-alone CAN controller over
// SPI. It implements the same canbus.Controller surface as the on-chip
// node driver, so application code moves between the two unchanged.
//
// The chip has three transmit buffers and two receive buffers; the
// receive side uses rollover (a frame arriving while RXB0 is full lands
// in RXB1). Bit timing comes from the shared calculator; the chip
// divides its oscillator by two before the prescaler, so the usable
// prescaler range is halved.
package mcp2515

import (
	"errors"

	"tinygo.org/x/drivers"

	"tricore-hal-go/can"
	"tricore-hal-go/canbus"
	"tricore-hal-go/errcode"
)

// SPI instruction set.
const (
	cmdReset      = 0xC0
	cmdRead       = 0x03
	cmdWrite      = 0x02
	cmdReadStatus = 0xA0
	cmdBitModify  = 0x05
	cmdLoadTxBuf  = 0x40 // | (buf << 1)
	cmdRTS        = 0x80 // | buf mask
	cmdReadRxBuf  = 0x90 // | (buf << 2)
)

// Register addresses.
const (
	regRXF0SIDH = 0x00
	regCANSTAT  = 0x0E
	regCANCTRL  = 0x0F
	regTEC      = 0x1C
	regRXM0SIDH = 0x20
	regRXM1SIDH = 0x24
	regCNF3     = 0x28
	regCANINTE  = 0x2B
	regCANINTF  = 0x2C
	regEFLG     = 0x2D
	regTXB0CTRL = 0x30 // +0x10 per buffer
	regRXB0CTRL = 0x60
	regRXB1CTRL = 0x70
)

// Register bits.
const (
	reqopMask   = 0xE0
	reqopNormal = 0x00
	reqopSleep  = 0x20
	reqopConfig = 0x80

	txreq = 0x08

	rxmMask = 0x60 // RXBnCTRL filter mode
	bukt    = 0x04 // RXB0 rollover into RXB1

	exide = 0x08 // SIDL extended-identifier flag

	rx0ie = 0x01
	rx1ie = 0x02

	rx0if = 0x01
	rx1if = 0x02

	eflgTXBO = 0x20
)

// The chip's bit-time segment limits are tighter than the generic
// calculator's.
const (
	maxBRP       = 64
	chipMaxTSeg1 = 16 // PRSEG + PHSEG1
	chipMaxTSeg2 = 8
)

const numTxBuffers = 3

var (
	ErrTiming          = errors.New("mcp2515: bit timing outside chip limits")
	ErrTooManyFilters  = errors.New("mcp2515: at most two filters supported")
	ErrMode            = errors.New("mcp2515: mode change not accepted")
	ErrNotRunning      = errors.New("mcp2515: controller not in normal operation")
	ErrNotConfigured   = errors.New("mcp2515: controller not configured")
	ErrNoFreeMailbox   = errors.New("mcp2515: all transmit buffers busy")
	ErrBusOff          = errors.New("mcp2515: controller is bus-off")
	ErrNotBusOff       = errors.New("mcp2515: controller is not bus-off")
	ErrRecoveryTimeout = errors.New("mcp2515: bus-off recovery did not complete in time")
)

// Pin is the chip-select line. machine.Pin satisfies it on hardware;
// tests supply their own.
type Pin interface {
	High()
	Low()
}

// Device is an MCP2515 behind an SPI bus. Not safe for concurrent use;
// serialize access externally, the way the HAL serializes node access.
type Device struct {
	bus   drivers.SPI
	cs    Pin
	oscHz uint32

	configured bool
	state      canbus.NodeState
	availRx1   bool

	buf [16]byte // transaction scratch, avoids per-call allocations
}

var _ canbus.Controller = (*Device)(nil)

// New creates a device handle. The SPI bus must already be configured;
// oscHz is the crystal on the MCP2515 board (commonly 8 or 16 MHz).
func New(bus drivers.SPI, cs Pin, oscHz uint32) *Device {
	return &Device{bus: bus, cs: cs, oscHz: oscHz, state: canbus.StateInit}
}

// Configure resets the chip and programs bit timing, filters and
// receive interrupts, leaving it in configuration mode. At most two
// filters are supported, one per receive buffer; with none, both
// buffers accept every frame.
func (d *Device) Configure(cfg canbus.Config) error {
	if len(cfg.Filters) > 2 {
		return ErrTooManyFilters
	}
	samplePct := cfg.SamplePointPct
	if samplePct == 0 {
		samplePct = 80
	}
	tolerance := cfg.TolerancePct
	if tolerance == 0 {
		tolerance = 2
	}
	// The prescaler clocks at half the oscillator.
	bt, err := can.ComputeBitTiming(d.oscHz/2, cfg.Bitrate, samplePct, tolerance)
	if err != nil {
		return err
	}
	cnf, err := encodeCNF(bt)
	if err != nil {
		return err
	}

	if err := d.reset(); err != nil {
		return err
	}
	// Reset enters configuration mode; CNF writes are only legal there.
	if err := d.write(regCNF3, cnf[:]); err != nil {
		return err
	}

	// Filter mode on, rollover into RXB1.
	if err := d.bitModify(regRXB0CTRL, rxmMask|bukt, bukt); err != nil {
		return err
	}
	if err := d.bitModify(regRXB1CTRL, rxmMask, 0); err != nil {
		return err
	}
	if err := d.writeFilters(cfg.Filters); err != nil {
		return err
	}
	if err := d.bitModify(regCANINTE, rx0ie|rx1ie, rx0ie|rx1ie); err != nil {
		return err
	}

	d.configured = true
	d.state = canbus.StateInit
	d.availRx1 = false
	return nil
}

// Start requests normal mode and verifies the chip took it.
func (d *Device) Start() error {
	if !d.configured {
		return ErrNotConfigured
	}
	if err := d.setMode(reqopNormal); err != nil {
		return err
	}
	d.state = canbus.StateNormal
	return nil
}

// Transmit loads the lowest idle transmit buffer and requests the send.
func (d *Device) Transmit(f canbus.Frame) error {
	if f.Len > 8 {
		panic(canbus.ErrInvalidLen)
	}
	if err := f.Validate(); err != nil {
		return err
	}
	switch d.state {
	case canbus.StateBusOff:
		return ErrBusOff
	case canbus.StateNormal:
	default:
		return ErrNotRunning
	}
	for buf := 0; buf < numTxBuffers; buf++ {
		ctrl, err := d.read1(regTXB0CTRL + uint8(buf)*0x10)
		if err != nil {
			return err
		}
		if ctrl&txreq != 0 {
			continue
		}
		frame := d.buf[:0]
		frame = appendID(frame, f.ID, f.Extended)
		dlc := f.Len
		if f.RTR {
			dlc |= 0x40
		}
		frame = append(frame, dlc)
		frame = append(frame, f.Data[:f.Len]...)
		if err := d.loadTxBuf(buf, frame); err != nil {
			return err
		}
		return d.rts(buf)
	}
	return ErrNoFreeMailbox
}

// TryReceive drains RXB0 before RXB1, honouring a rollover noticed on
// the previous status read.
func (d *Device) TryReceive() (canbus.Frame, bool) {
	if d.state != canbus.StateNormal {
		return canbus.Frame{}, false
	}
	if d.availRx1 {
		d.availRx1 = false
		return d.readRxBuf(1)
	}
	st, err := d.readStatus()
	if err != nil {
		return canbus.Frame{}, false
	}
	if st&rx0if != 0 {
		if st&rx1if != 0 {
			d.availRx1 = true
		}
		return d.readRxBuf(0)
	}
	if st&rx1if != 0 {
		return d.readRxBuf(1)
	}
	return canbus.Frame{}, false
}

// BusState folds the chip's bus-off flag into the cached state.
func (d *Device) BusState() canbus.NodeState {
	if d.state == canbus.StateNormal || d.state == canbus.StateBusOff {
		if eflg, err := d.read1(regEFLG); err == nil {
			if eflg&eflgTXBO != 0 {
				d.state = canbus.StateBusOff
			} else if d.state == canbus.StateBusOff {
				// The chip left bus-off on its own (it counts the idle
				// sequences in hardware); reflect that.
				d.state = canbus.StateNormal
			}
		}
	}
	return d.state
}

// TxErrorCounter reads the chip's transmit error counter.
func (d *Device) TxErrorCounter() (uint8, error) {
	return d.read1(regTEC)
}

// Sleep requests the chip's low-power mode. Bus activity wakes it.
func (d *Device) Sleep() error {
	if d.state != canbus.StateNormal {
		return ErrNotRunning
	}
	if err := d.setMode(reqopSleep); err != nil {
		return err
	}
	d.state = canbus.StateSleep
	return nil
}

// Wake returns to normal mode from sleep.
func (d *Device) Wake() error {
	if d.state != canbus.StateSleep {
		return nil
	}
	if err := d.setMode(reqopNormal); err != nil {
		return err
	}
	d.state = canbus.StateNormal
	return nil
}

// Recover waits for the chip's autonomous bus-off recovery (it counts
// the 128 idle sequences itself), then parks the controller back in
// configuration mode so the caller restarts it explicitly.
func (d *Device) Recover(timeoutCycles uint32) error {
	if d.BusState() != canbus.StateBusOff {
		return ErrNotBusOff
	}
	cleared := false
	for i := uint32(0); i < timeoutCycles; i++ {
		eflg, err := d.read1(regEFLG)
		if err != nil {
			return err
		}
		if eflg&eflgTXBO == 0 {
			cleared = true
			break
		}
	}
	if !cleared {
		return ErrRecoveryTimeout
	}
	if err := d.setMode(reqopConfig); err != nil {
		return err
	}
	d.state = canbus.StateInit
	return nil
}

// encodeCNF maps a resolved bit timing onto the chip's CNF registers,
// in write order (CNF3, CNF2, CNF1). TSeg1 is split into propagation
// and phase-1 segments, phase first.
func encodeCNF(bt can.BitTiming) ([3]byte, error) {
	// TSeg1 < 2 cannot be split into propagation + phase-1, both >= 1.
	if bt.Prescaler > maxBRP || bt.TSeg1 < 2 || bt.TSeg1 > chipMaxTSeg1 || bt.TSeg2 > chipMaxTSeg2 {
		return [3]byte{}, ErrTiming
	}
	phseg1 := bt.TSeg1
	if phseg1 > 8 {
		phseg1 = 8
	}
	prseg := bt.TSeg1 - phseg1
	if prseg == 0 {
		phseg1--
		prseg = 1
	}
	const btlmode = 0x80 // PHSEG2 from CNF3, not implied
	cnf1 := byte(bt.SJW-1)<<6 | byte(bt.Prescaler-1)
	cnf2 := byte(btlmode) | (phseg1-1)<<3 | (prseg - 1)
	cnf3 := bt.TSeg2 - 1
	return [3]byte{cnf3, cnf2, cnf1}, nil
}

// writeFilters programs one acceptance filter per receive buffer. The
// chip wants unmatched filters to never hit, so the unused buffer copies
// filter 0 when only one is given, and both masks open up fully when
// none are.
func (d *Device) writeFilters(filters []canbus.Filter) error {
	if len(filters) == 0 {
		zero := [4]byte{}
		if err := d.write(regRXM0SIDH, zero[:]); err != nil {
			return err
		}
		return d.write(regRXM1SIDH, zero[:])
	}
	f0 := filters[0]
	f1 := f0
	if len(filters) > 1 {
		f1 = filters[1]
	}
	var tmp [4]byte
	for i, f := range []canbus.Filter{f0, f1} {
		maskAddr := uint8(regRXM0SIDH + 4*i)
		fltAddr := uint8(regRXF0SIDH + 4*i)
		if err := d.write(maskAddr, appendID(tmp[:0], f.Mask, f.Extended)); err != nil {
			return err
		}
		if err := d.write(fltAddr, appendID(tmp[:0], f.ID&f.Mask, f.Extended)); err != nil {
			return err
		}
	}
	return nil
}

// appendID appends the four SIDH/SIDL/EID8/EID0 bytes for an identifier.
func appendID(dst []byte, id uint32, extended bool) []byte {
	if extended {
		return append(dst,
			byte(id>>21),
			byte((id>>13)&(7<<5))|exide|byte((id>>16)&3),
			byte(id>>8),
			byte(id),
		)
	}
	return append(dst, byte(id>>3), byte(id<<5), 0, 0)
}

// decodeID reverses appendID from a received buffer header.
func decodeID(hdr []byte) (id uint32, extended bool) {
	if hdr[1]&exide != 0 {
		id = uint32(hdr[0])<<21 |
			uint32(hdr[1]&(7<<5))<<13 |
			uint32(hdr[1]&3)<<16 |
			uint32(hdr[2])<<8 |
			uint32(hdr[3])
		return id, true
	}
	return uint32(hdr[0])<<3 | uint32(hdr[1])>>5, false
}

// setMode requests an operation mode and verifies CANSTAT reflects it.
func (d *Device) setMode(mode byte) error {
	if err := d.bitModify(regCANCTRL, reqopMask, mode); err != nil {
		return err
	}
	stat, err := d.read1(regCANSTAT)
	if err != nil {
		return err
	}
	if stat&reqopMask != mode {
		return ErrMode
	}
	return nil
}

func (d *Device) readRxBuf(buf int) (canbus.Frame, bool) {
	w := d.buf[:14]
	for i := range w {
		w[i] = 0
	}
	w[0] = cmdReadRxBuf | byte(buf)<<2
	r := make([]byte, len(w))
	if err := d.tx(w, r); err != nil {
		return canbus.Frame{}, false
	}
	hdr := r[1:]
	id, ext := decodeID(hdr)
	f := canbus.Frame{
		ID:       id,
		Extended: ext,
		RTR:      hdr[4]&0x40 != 0,
		Len:      hdr[4] & 0x0F,
	}
	if f.Len > 8 {
		f.Len = 8
	}
	copy(f.Data[:], hdr[5:5+f.Len])
	// Reading via the buffer command clears the interrupt flag in
	// hardware; mirror that for controllers wired read-register style.
	flag := byte(rx0if)
	if buf == 1 {
		flag = rx1if
	}
	_ = d.bitModify(regCANINTF, flag, 0)
	return f, true
}

// ---- SPI plumbing ----

func (d *Device) tx(w, r []byte) error {
	d.cs.Low()
	err := d.bus.Tx(w, r)
	d.cs.High()
	if err != nil {
		return &errcode.E{C: errcode.Error, Op: "mcp2515.spi", Err: err}
	}
	return nil
}

func (d *Device) reset() error {
	d.buf[0] = cmdReset
	return d.tx(d.buf[:1], nil)
}

func (d *Device) write(addr uint8, data []byte) error {
	w := append(d.buf[:0], cmdWrite, addr)
	w = append(w, data...)
	return d.tx(w, nil)
}

func (d *Device) read1(addr uint8) (byte, error) {
	w := append(d.buf[:0], cmdRead, addr, 0)
	r := make([]byte, 3)
	if err := d.tx(w, r); err != nil {
		return 0, err
	}
	return r[2], nil
}

func (d *Device) bitModify(addr, mask, val uint8) error {
	w := append(d.buf[:0], cmdBitModify, addr, mask, val)
	return d.tx(w, nil)
}

func (d *Device) readStatus() (byte, error) {
	w := append(d.buf[:0], cmdReadStatus, 0)
	r := make([]byte, 2)
	if err := d.tx(w, r); err != nil {
		return 0, err
	}
	return r[1], nil
}

func (d *Device) loadTxBuf(buf int, frame []byte) error {
	w := make([]byte, 0, 14)
	w = append(w, cmdLoadTxBuf|byte(buf)<<1)
	w = append(w, frame...)
	return d.tx(w, nil)
}

func (d *Device) rts(buf int) error {
	d.buf[0] = cmdRTS | 1<<uint(buf)
	return d.tx(d.buf[:1], nil)
}
