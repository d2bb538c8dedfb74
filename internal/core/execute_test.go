package core

import (
	"testing"

	"github.com/tinyrange/rv32emu/internal/bus"
)

func newTestHart() *Hart {
	b := bus.New(DRAMBase, 0x10000)
	h := New(b)
	h.PC = DRAMBase
	return h
}

func TestAddImmediate(t *testing.T) {
	h := newTestHart()
	// addi x1, x0, 5
	insn := uint32(5<<20 | 0<<15 | 0<<12 | 1<<7 | OpOpImm)
	if err := h.Execute(insn); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if h.ReadReg(1) != 5 {
		t.Fatalf("x1 = %d, want 5", h.ReadReg(1))
	}
}

func TestAddImmediateNegative(t *testing.T) {
	h := newTestHart()
	// addi x1, x0, -1
	imm := uint32(0xfff) << 20
	insn := imm | 0<<15 | 0<<12 | 1<<7 | OpOpImm
	if err := h.Execute(insn); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if h.ReadReg(1) != 0xffffffff {
		t.Fatalf("x1 = 0x%x, want 0xffffffff", h.ReadReg(1))
	}
}

func TestX0AlwaysZero(t *testing.T) {
	h := newTestHart()
	h.WriteReg(0, 123)
	if h.ReadReg(0) != 0 {
		t.Fatalf("x0 = %d, want 0", h.ReadReg(0))
	}
}

func TestLui(t *testing.T) {
	h := newTestHart()
	// lui x1, 0x10
	if err := h.Execute(uint32(0x10000)<<0 | 1<<7 | OpLui); err != nil {
		t.Fatalf("lui: %v", err)
	}
	if h.ReadReg(1) != 0x10000 {
		t.Fatalf("x1 = 0x%x, want 0x10000", h.ReadReg(1))
	}
}

func TestBranchTaken(t *testing.T) {
	h := newTestHart()
	h.WriteReg(1, 5)
	h.WriteReg(2, 5)
	h.PC = DRAMBase
	// beq x1, x2, +8
	insn := encodeB(0b000, 1, 2, 8)
	if err := h.Execute(insn); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if h.PC != DRAMBase+8 {
		t.Fatalf("PC = 0x%x, want 0x%x", h.PC, DRAMBase+8)
	}
}

func TestBranchNotTaken(t *testing.T) {
	h := newTestHart()
	h.WriteReg(1, 5)
	h.WriteReg(2, 6)
	h.PC = DRAMBase
	insn := encodeB(0b000, 1, 2, 8)
	if err := h.Execute(insn); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if h.PC != DRAMBase {
		t.Fatalf("PC advanced on untaken branch: 0x%x", h.PC)
	}
}

func TestLoadStoreRoundTrip(t *testing.T) {
	h := newTestHart()
	h.WriteReg(1, DRAMBase) // base address in x1
	h.WriteReg(2, 0x1234)   // value to store

	// sw x2, 0(x1)
	store := encodeS(0b010, 1, 2, 0)
	if err := h.Execute(store); err != nil {
		t.Fatalf("store: %v", err)
	}

	// lw x3, 0(x1)
	load := encodeI(0b010, 1, 0, 3, OpLoad)
	if err := h.Execute(load); err != nil {
		t.Fatalf("load: %v", err)
	}
	if h.ReadReg(3) != 0x1234 {
		t.Fatalf("x3 = 0x%x, want 0x1234", h.ReadReg(3))
	}
}

func TestMulDiv(t *testing.T) {
	h := newTestHart()
	h.WriteReg(1, 6)
	h.WriteReg(2, 7)
	// mul x3, x1, x2 (OP, funct7=1, funct3=0)
	insn := uint32(1)<<25 | 2<<20 | 1<<15 | 0<<12 | 3<<7 | OpOp
	if err := h.Execute(insn); err != nil {
		t.Fatalf("mul: %v", err)
	}
	if h.ReadReg(3) != 42 {
		t.Fatalf("x3 = %d, want 42", h.ReadReg(3))
	}
}

func TestDivByZero(t *testing.T) {
	h := newTestHart()
	h.WriteReg(1, 10)
	h.WriteReg(2, 0)
	// divu x3, x1, x2 (funct3=5)
	insn := uint32(1)<<25 | 2<<20 | 1<<15 | 5<<12 | 3<<7 | OpOp
	if err := h.Execute(insn); err != nil {
		t.Fatalf("divu: %v", err)
	}
	if h.ReadReg(3) != 0xffffffff {
		t.Fatalf("x3 = 0x%x, want all-ones per RISC-V div-by-zero semantics", h.ReadReg(3))
	}
}

func TestIllegalInstructionTraps(t *testing.T) {
	h := newTestHart()
	err := h.Execute(0xffffffff)
	exc, ok := err.(ExceptionError)
	if !ok {
		t.Fatalf("expected ExceptionError, got %v", err)
	}
	if exc.Cause != CauseIllegalInsn {
		t.Fatalf("cause = %d, want CauseIllegalInsn", exc.Cause)
	}
}

func TestStepAdvancesPCAndCounters(t *testing.T) {
	h := newTestHart()
	insn := uint32(5<<20 | 0<<15 | 0<<12 | 1<<7 | OpOpImm) // addi x1, x0, 5
	if err := h.Bus.Write32(DRAMBase, insn); err != nil {
		t.Fatalf("Write32: %v", err)
	}
	if err := h.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if h.PC != DRAMBase+4 {
		t.Fatalf("PC = 0x%x, want 0x%x", h.PC, DRAMBase+4)
	}
	if h.Instret != 1 {
		t.Fatalf("Instret = %d, want 1", h.Instret)
	}
	if h.ReadReg(1) != 5 {
		t.Fatalf("x1 = %d, want 5", h.ReadReg(1))
	}
}

func TestStepHaltedReturnsErrHalt(t *testing.T) {
	h := newTestHart()
	if err := h.Bus.Write32(DRAMBase, uint32(OpMiscMem)); err != nil { // fence, a no-op
		t.Fatalf("Write32: %v", err)
	}
	h.Halted = true
	err := h.Step()
	if err != ErrHalt {
		t.Fatalf("err = %v, want ErrHalt", err)
	}
}

func TestEcallFromSupervisorTrapsWithoutSyscallTable(t *testing.T) {
	h := newTestHart()
	h.Priv = PrivSupervisor
	err := h.handleEcall()
	exc, ok := err.(ExceptionError)
	if !ok {
		t.Fatalf("expected ExceptionError, got %v", err)
	}
	if exc.Cause != CauseEcallFromS {
		t.Fatalf("cause = %d, want CauseEcallFromS", exc.Cause)
	}
}

type stubSyscalls struct{ called bool }

func (s *stubSyscalls) Syscall(h *Hart, a7 uint32) bool {
	s.called = true
	h.WriteReg(10, 0)
	return true
}

func TestEcallConsultsSyscallTable(t *testing.T) {
	h := newTestHart()
	h.Priv = PrivSupervisor
	stub := &stubSyscalls{}
	h.Syscalls = stub
	if err := h.handleEcall(); err != nil {
		t.Fatalf("handleEcall: %v", err)
	}
	if !stub.called {
		t.Fatalf("expected syscall table to be consulted")
	}
}

// --- small encoders, matching the bit layouts in decode.go, to keep the
// tests above readable without importing an assembler.

func encodeI(funct3, rs1Reg, _ uint32, rdReg, op uint32) uint32 {
	return 0<<20 | rs1Reg<<15 | funct3<<12 | rdReg<<7 | op
}

func encodeS(funct3, rs1Reg, rs2Reg, imm uint32) uint32 {
	lo := imm & 0x1f
	hi := (imm >> 5) & 0x7f
	return hi<<25 | rs2Reg<<20 | rs1Reg<<15 | funct3<<12 | lo<<7 | OpStore
}

func encodeB(funct3, rs1Reg, rs2Reg uint32, imm int32) uint32 {
	u := uint32(imm)
	b11 := (u >> 11) & 1
	b12 := (u >> 12) & 1
	b1_4 := (u >> 1) & 0xf
	b5_10 := (u >> 5) & 0x3f
	return b12<<31 | b5_10<<25 | rs2Reg<<20 | rs1Reg<<15 | funct3<<12 | b1_4<<8 | b11<<7 | OpBranch
}
