package core

import (
	"testing"

	"github.com/tinyrange/rv32emu/internal/bus"
)

func TestCycleAndInstretAdvancePerStep(t *testing.T) {
	h := newTestHart()
	// addi x0, x0, 0 (nop), twice.
	insn := uint32(0<<20 | 0<<15 | 0<<12 | 0<<7 | OpOpImm)
	if err := h.Bus.Write32(DRAMBase, insn); err != nil {
		t.Fatalf("write insn: %v", err)
	}
	if err := h.Bus.Write32(DRAMBase+4, insn); err != nil {
		t.Fatalf("write insn: %v", err)
	}

	if err := h.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if err := h.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if h.Cycle != 2 {
		t.Fatalf("Cycle = %d, want 2", h.Cycle)
	}
	if h.Instret != 2 {
		t.Fatalf("Instret = %d, want 2", h.Instret)
	}
	if h.Time != 0 {
		t.Fatalf("Time = %d, want 0 (Step must not advance time)", h.Time)
	}
}

func TestTickAdvancesTimeOnly(t *testing.T) {
	b := bus.New(DRAMBase, 0x1000)
	h := New(b)

	h.Tick()
	h.Tick()
	h.Tick()

	if h.Time != 3 {
		t.Fatalf("Time = %d, want 3", h.Time)
	}
	if h.Cycle != 0 || h.Instret != 0 {
		t.Fatalf("Tick must not touch Cycle/Instret, got Cycle=%d Instret=%d", h.Cycle, h.Instret)
	}
}

func TestCSRCycleAndTimeReadDistinctCounters(t *testing.T) {
	h := newTestHart()
	h.Cycle = 5
	h.Time = 9

	cycle, err := h.csrRead(CSRCycle)
	if err != nil {
		t.Fatalf("csrRead(CSRCycle): %v", err)
	}
	if cycle != 5 {
		t.Fatalf("cycle CSR = %d, want 5", cycle)
	}

	time, err := h.csrRead(CSRTime)
	if err != nil {
		t.Fatalf("csrRead(CSRTime): %v", err)
	}
	if time != 9 {
		t.Fatalf("time CSR = %d, want 9 (time must track Hart.Time, not Hart.Cycle)", time)
	}
}
