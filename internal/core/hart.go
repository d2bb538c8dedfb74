package core

import (
	"fmt"
	"io"
	"strings"

	"github.com/tinyrange/rv32emu/internal/bus"
)

// ExceptionError is a guest-visible trap: a synchronous exception raised by
// decode or execute. It implements error so it can flow up through normal
// Go error returns, but the trap unit (see trap.go) treats it as data, not
// a host failure -- HandleTrap consumes it and rewrites hart state instead
// of the caller logging or aborting on it.
type ExceptionError struct {
	Cause uint32
	Tval  uint32
}

func (e ExceptionError) Error() string {
	return fmt.Sprintf("exception: cause=%d tval=0x%x", e.Cause, e.Tval)
}

// Exception builds a guest trap with the given cause and trap value.
func Exception(cause, tval uint32) error {
	return ExceptionError{Cause: cause, Tval: tval}
}

// SyscallTable lets an embedder (e.g. cmd/rv32vm's SBI table) intercept
// ECALL before it's handled as a plain trap. It's consulted with a7 (the
// extension/function selector in RISC-V calling convention) and may return
// handled=false to fall back to ordinary ECALL trap delivery.
type SyscallTable interface {
	Syscall(h *Hart, a7 uint32) (handled bool)
}

// Hart is one RISC-V hardware thread: its integer registers, PC, current
// privilege, the full CSR file, and references to the bus and syscall
// table it's wired to. The Sv32 translator and trap unit are methods on
// Hart (mmu.go, trap.go) rather than separate structs, since both need
// tight, frequent access to Priv/Satp/Mstatus.
type Hart struct {
	X  [32]uint32
	PC uint32

	Priv uint8

	Cycle   uint64
	Instret uint64

	// Time backs the time CSR. It advances once per device tick (Tick),
	// not once per instruction, per the mtime/time-CSR relationship.
	Time uint64

	Mstatus    uint32
	Misa       uint32
	Medeleg    uint32
	Mideleg    uint32
	Mie        uint32
	Mtvec      uint32
	Mcounteren uint32
	Mscratch   uint32
	Mepc       uint32
	Mcause     uint32
	Mtval      uint32
	Mip        uint32
	Mhartid    uint32

	Stvec      uint32
	Scounteren uint32
	Sscratch   uint32
	Sepc       uint32
	Scause     uint32
	Stval      uint32
	Satp       uint32

	Fflags uint8
	Frm    uint8
	F      [32]uint64

	ReservationValid bool
	Reservation      uint32

	WFI bool

	// Halted is set by a syscall table (e.g. an SBI system-reset call) to
	// ask Step to stop cleanly; Step turns it into ErrHalt.
	Halted bool

	Bus      *bus.Bus
	Syscalls SyscallTable

	tlb [256]tlbEntry

	DebugLog io.Writer
}

// New creates a hart in the reset state described by the fixed boot
// protocol: Machine mode, paging disabled, PC at the start of RAM.
func New(b *bus.Bus) *Hart {
	h := &Hart{
		Bus:  b,
		Priv: PrivMachine,
		Misa: (MXL32 << 30) | MisaI | MisaM | MisaA | MisaS | MisaU | MisaC,
		PC:   DRAMBase,
	}
	h.X[2] = DRAMBase + DRAMSize // sp = top of DRAM
	return h
}

// ReadReg reads integer register reg; x0 is hardwired to zero.
func (h *Hart) ReadReg(reg uint32) uint32 {
	if reg == 0 {
		return 0
	}
	return h.X[reg]
}

// WriteReg writes integer register reg; writes to x0 are discarded.
func (h *Hart) WriteReg(reg uint32, val uint32) {
	if reg != 0 {
		h.X[reg] = val
	}
}

// RaiseMIP sets bits in mip. Devices (CLINT, PLIC) call this through the
// InterruptTarget interface they're wired against rather than reaching
// into Hart directly, keeping the devices package free of a core import.
func (h *Hart) RaiseMIP(bits uint32) { h.Mip |= bits }

// ClearMIP clears bits in mip.
func (h *Hart) ClearMIP(bits uint32) { h.Mip &^= bits }

// Tick advances the hart's time CSR by one. Called alongside bus.Tick so
// time tracks device ticks rather than retired instructions.
func (h *Hart) Tick() { h.Time++ }

// String renders a compact register dump: PC, privilege, the integer
// registers, and the main trap CSRs. It is a debugging helper, not part of
// the five core components; nothing in this module calls it.
func (h *Hart) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "pc=%08x priv=%d\n", h.PC, h.Priv)
	for i := 0; i < 32; i += 4 {
		fmt.Fprintf(&sb, "x%-2d=%08x x%-2d=%08x x%-2d=%08x x%-2d=%08x\n",
			i, h.X[i], i+1, h.X[i+1], i+2, h.X[i+2], i+3, h.X[i+3])
	}
	fmt.Fprintf(&sb, "mstatus=%08x mcause=%08x mepc=%08x mtval=%08x\n", h.Mstatus, h.Mcause, h.Mepc, h.Mtval)
	fmt.Fprintf(&sb, "scause=%08x sepc=%08x stval=%08x satp=%08x\n", h.Scause, h.Sepc, h.Stval, h.Satp)
	return sb.String()
}
