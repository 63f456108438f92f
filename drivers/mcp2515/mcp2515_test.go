package mcp2515

import (
	"testing"

	"tricore-hal-go/canbus"
)

// fakePin records chip-select edges and checks they pair up.
type fakePin struct{ low bool }

func (p *fakePin) High() { p.low = false }
func (p *fakePin) Low()  { p.low = true }

// fakeSPI is a register-level MCP2515 model behind the SPI instruction
// set: enough behaviour for the driver's command sequences, with knobs
// for scripting error paths.
type fakeSPI struct {
	t *testing.T

	regs   [0x80]byte
	tx     [3][]byte // frames loaded per transmit buffer
	sent   []int     // RTS order
	rx     [2][]byte // raw receive buffer contents
	resets int

	rejectModes bool // CANSTAT never follows CANCTRL
}

func newFakeSPI(t *testing.T) *fakeSPI {
	f := &fakeSPI{t: t}
	f.regs[regCANSTAT] = reqopConfig // chip powers up configuring
	return f
}

func (f *fakeSPI) Transfer(b byte) (byte, error) { return 0, nil }

func (f *fakeSPI) Tx(w, r []byte) error {
	if len(w) == 0 {
		f.t.Fatal("empty SPI transaction")
	}
	switch {
	case w[0] == cmdReset:
		f.resets++
		f.regs = [0x80]byte{}
		f.regs[regCANSTAT] = reqopConfig
		f.regs[regCANCTRL] = reqopConfig
	case w[0] == cmdWrite:
		copy(f.regs[w[1]:], w[2:])
	case w[0] == cmdRead:
		for i := 2; i < len(r); i++ {
			r[i] = f.regs[int(w[1])+i-2]
		}
	case w[0] == cmdBitModify:
		addr, mask, val := w[1], w[2], w[3]
		f.regs[addr] = f.regs[addr]&^mask | val&mask
		if addr == regCANCTRL && !f.rejectModes {
			f.regs[regCANSTAT] = f.regs[regCANCTRL] & reqopMask
		}
	case w[0] == cmdReadStatus:
		r[1] = f.regs[regCANINTF] & (rx0if | rx1if)
	case w[0]&0xF8 == cmdRTS:
		for buf := 0; buf < 3; buf++ {
			if w[0]&(1<<uint(buf)) != 0 {
				f.sent = append(f.sent, buf)
			}
		}
	case w[0]&0xF9 == cmdLoadTxBuf:
		buf := int(w[0]>>1) & 3
		f.tx[buf] = append([]byte(nil), w[1:]...)
	case w[0]&0xF3 == cmdReadRxBuf:
		buf := int(w[0]>>2) & 1
		copy(r[1:], f.rx[buf])
	default:
		f.t.Fatalf("unknown SPI instruction %#x", w[0])
	}
	return nil
}

// inject parks a frame in receive buffer i and raises its flag.
func (f *fakeSPI) inject(buf int, fr canbus.Frame) {
	raw := appendID(nil, fr.ID, fr.Extended)
	dlc := fr.Len
	if fr.RTR {
		dlc |= 0x40
	}
	raw = append(raw, dlc)
	raw = append(raw, fr.Data[:]...)
	f.rx[buf] = raw
	flag := byte(rx0if)
	if buf == 1 {
		flag = rx1if
	}
	f.regs[regCANINTF] |= flag
}

func startedDevice(t *testing.T, filters ...canbus.Filter) (*Device, *fakeSPI) {
	t.Helper()
	f := newFakeSPI(t)
	d := New(f, &fakePin{}, 16_000_000)
	cfg := canbus.Config{Bitrate: 500_000, SamplePointPct: 80, TolerancePct: 2, Filters: filters}
	if err := d.Configure(cfg); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	return d, f
}

func TestConfigureProgramsTimingAndMode(t *testing.T) {
	d, f := startedDevice(t)

	if f.resets != 1 {
		t.Fatalf("resets: %d", f.resets)
	}
	// 16 MHz / 2 = 8 MHz, 500 kbit/s: 16 quanta, tseg1=12, tseg2=3.
	if got := f.regs[regCNF3]; got != 2 {
		t.Fatalf("CNF3: %#x", got)
	}
	if got := f.regs[regCNF3+1]; got != 0xBB { // BTLMODE | PHSEG1=8 | PRSEG=4
		t.Fatalf("CNF2: %#x", got)
	}
	if got := f.regs[regCNF3+2]; got != 0x80 { // SJW=3, BRP=1
		t.Fatalf("CNF1: %#x", got)
	}
	if f.regs[regRXB0CTRL]&bukt == 0 {
		t.Fatal("rollover not enabled")
	}
	if f.regs[regCANSTAT]&reqopMask != reqopNormal {
		t.Fatalf("mode: %#x", f.regs[regCANSTAT])
	}
	if got := d.BusState(); got != canbus.StateNormal {
		t.Fatalf("state: %v", got)
	}
}

func TestConfigureRejectsChipLimits(t *testing.T) {
	f := newFakeSPI(t)
	// 40 MHz oscillator needs prescalers and segments the chip has;
	// 1 kbit/s does not fit 64 * 25 quanta.
	d := New(f, &fakePin{}, 40_000_000)
	err := d.Configure(canbus.Config{Bitrate: 1_000})
	if err == nil {
		t.Fatal("timing accepted")
	}
}

func TestStartFailsWhenModeRefused(t *testing.T) {
	f := newFakeSPI(t)
	f.rejectModes = true
	d := New(f, &fakePin{}, 16_000_000)
	if err := d.Configure(canbus.Config{Bitrate: 500_000}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := d.Start(); err != ErrMode {
		t.Fatalf("start: got %v, want ErrMode", err)
	}
}

func TestTransmitUsesLowestIdleBuffer(t *testing.T) {
	d, f := startedDevice(t)

	fr := canbus.NewFrame(0x123, []byte{1, 2, 3})
	if err := d.Transmit(fr); err != nil {
		t.Fatalf("transmit: %v", err)
	}
	if len(f.sent) != 1 || f.sent[0] != 0 {
		t.Fatalf("rts order: %v", f.sent)
	}
	want := append(appendID(nil, 0x123, false), 3, 1, 2, 3)
	got := f.tx[0]
	if len(got) != len(want) {
		t.Fatalf("frame bytes: %#v, want %#v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame byte %d: %#x, want %#x", i, got[i], want[i])
		}
	}

	// All three buffers busy: immediate failure, no blocking.
	for buf := 0; buf < 3; buf++ {
		f.regs[regTXB0CTRL+buf*0x10] = txreq
	}
	if err := d.Transmit(fr); err != ErrNoFreeMailbox {
		t.Fatalf("got %v, want ErrNoFreeMailbox", err)
	}
}

func TestReceiveRolloverOrder(t *testing.T) {
	d, f := startedDevice(t)

	a := canbus.NewFrame(0x100, []byte{0xA})
	b := canbus.NewExtendedFrame(0x18DA00F1, []byte{0xB})
	f.inject(0, a)
	f.inject(1, b)

	got, ok := d.TryReceive()
	if !ok || got != a {
		t.Fatalf("first: %+v ok=%v", got, ok)
	}
	got, ok = d.TryReceive()
	if !ok || got != b {
		t.Fatalf("second: %+v ok=%v", got, ok)
	}
	if _, ok := d.TryReceive(); ok {
		t.Fatal("buffers not drained")
	}
}

func TestFiltersAreMirroredPerBuffer(t *testing.T) {
	flt := canbus.Filter{ID: 0x100, Mask: 0x700}
	_, f := startedDevice(t, flt)

	wantMask := appendID(nil, 0x700, false)
	wantID := appendID(nil, 0x100, false)
	for i, base := range []int{regRXM0SIDH, regRXM1SIDH} {
		for j := range wantMask {
			if f.regs[base+j] != wantMask[j] {
				t.Fatalf("mask %d byte %d: %#x", i, j, f.regs[base+j])
			}
		}
	}
	for i, base := range []int{regRXF0SIDH, regRXF0SIDH + 4} {
		for j := range wantID {
			if f.regs[base+j] != wantID[j] {
				t.Fatalf("filter %d byte %d: %#x", i, j, f.regs[base+j])
			}
		}
	}
}

func TestBusOffAndRecover(t *testing.T) {
	d, f := startedDevice(t)

	f.regs[regEFLG] = eflgTXBO
	if got := d.BusState(); got != canbus.StateBusOff {
		t.Fatalf("state: %v", got)
	}
	if err := d.Transmit(canbus.NewFrame(0x1, nil)); err != ErrBusOff {
		t.Fatalf("transmit: got %v, want ErrBusOff", err)
	}
	if err := d.Recover(4); err != ErrRecoveryTimeout {
		t.Fatalf("stuck recover: got %v", err)
	}

	// The chip clears TXBO on its own once it has seen the idle bus.
	f.regs[regEFLG] = 0
	if err := d.Recover(4); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got := d.BusState(); got != canbus.StateInit {
		t.Fatalf("state after recover: %v", got)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
}

func TestIDCodecRoundTrip(t *testing.T) {
	ids := []struct {
		id  uint32
		ext bool
	}{
		{0x000, false},
		{0x7FF, false},
		{0x123, false},
		{0x00000000, true},
		{0x1FFFFFFF, true},
		{0x18DA00F1, true},
	}
	for _, c := range ids {
		raw := appendID(nil, c.id, c.ext)
		id, ext := decodeID(raw)
		if id != c.id || ext != c.ext {
			t.Fatalf("%#x ext=%v: decoded %#x ext=%v", c.id, c.ext, id, ext)
		}
	}
}
