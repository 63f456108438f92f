package scu

import (
	"testing"

	"tricore-hal-go/regs/sim"
)

func TestAcquireLiftsAndReleaseRelocks(t *testing.T) {
	s := sim.NewSCU()
	ei := NewEndinit(s, sim.EndinitPassword)

	if !s.Endinit() {
		t.Fatal("sim must come up locked")
	}
	g, err := ei.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if s.Endinit() {
		t.Fatal("protection still set after acquire")
	}
	g.Release()
	if !s.Endinit() {
		t.Fatal("protection not restored after release")
	}
	if s.Faults() != 0 {
		t.Fatalf("handshake faulted %d times", s.Faults())
	}
}

func TestNestedAcquireFails(t *testing.T) {
	s := sim.NewSCU()
	ei := NewEndinit(s, sim.EndinitPassword)

	g, err := ei.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := ei.Acquire(); err != ErrEndinitHeld {
		t.Fatalf("nested acquire: got %v, want ErrEndinitHeld", err)
	}
	g.Release()

	// Released, so a fresh acquisition works again.
	g2, err := ei.Acquire()
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	g2.Release()
}

func TestReleaseIsIdempotent(t *testing.T) {
	s := sim.NewSCU()
	ei := NewEndinit(s, sim.EndinitPassword)

	g, _ := ei.Acquire()
	g.Release()
	g.Release()
	g.Release()
	if !s.Endinit() {
		t.Fatal("protection not set")
	}
	if s.Faults() != 0 {
		t.Fatalf("double release faulted: %d", s.Faults())
	}
}

func TestWithoutEndinitRelocksOnPanic(t *testing.T) {
	s := sim.NewSCU()
	ei := NewEndinit(s, sim.EndinitPassword)

	func() {
		defer func() { _ = recover() }()
		_ = ei.WithoutEndinit(func() { panic("boom") })
	}()
	if !s.Endinit() {
		t.Fatal("protection not restored after panic")
	}
	if _, err := ei.Acquire(); err != nil {
		t.Fatalf("guard still held after panic path: %v", err)
	}
}

func TestWrongPasswordIsAccountedAsFault(t *testing.T) {
	s := sim.NewSCU()
	ei := NewEndinit(s, 0xBEEF) // not the sim's password

	g, err := ei.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	g.Release()
	if s.Faults() == 0 {
		t.Fatal("wrong password went unnoticed")
	}
	if !s.Endinit() {
		t.Fatal("wrong password must not clear protection")
	}
}
