// Package sbi implements a minimal Supervisor Binary Interface dispatcher:
// the default core.SyscallTable a booted kernel's ecall-from-S-mode calls
// land in. Grounded on the teacher's rv64 sbi.go, downscaled from RV64's
// register-pair a0:a1 return convention to RV32's single-word a0/a1 values
// and trimmed to the extensions a Sv32 Linux-class kernel actually probes
// for at boot: base, legacy console, timer, HSM, and system reset. IPI and
// RFENCE calls are accepted as no-ops on this single-hart machine.
package sbi

import (
	"github.com/tinyrange/rv32emu/internal/core"
	"github.com/tinyrange/rv32emu/internal/devices"
)

// SBI extension IDs, matching the teacher's constants.
const (
	extBase          = 0x10
	extTimer         = 0x54494d45 // "TIME"
	extIPI           = 0x735049   // "sPI"
	extRFence        = 0x52464e43 // "RFNC"
	extHSM           = 0x48534d   // "HSM"
	extSRST          = 0x53525354 // "SRST"
	extLegacyPutchar = 0x01
	extLegacyGetchar = 0x02
)

const (
	baseGetSpecVersion = 0
	baseGetImplID      = 1
	baseGetImplVersion = 2
	baseProbeExtension = 3
	baseGetMvendorID   = 4
	baseGetMarchID     = 5
	baseGetMimplID     = 6
)

const timerSetTimer = 0

const (
	hsmHartStart  = 0
	hsmHartStop   = 1
	hsmHartStatus = 2
)

const (
	success         = 0
	errNotSupported = ^uint32(2) + 1 // -2 as a two's-complement uint32
	errAlreadyAvail = ^uint32(6) + 1 // -6, SBI_ERR_ALREADY_AVAILABLE
	errInvalidParam = ^uint32(3) + 1 // -3
)

// Table is the default SyscallTable: console I/O goes through uart, the
// timer extension arms clint directly.
type Table struct {
	UART  *devices.UART
	CLINT *devices.CLINT
}

var _ core.SyscallTable = (*Table)(nil)

// Syscall implements core.SyscallTable. It only intercepts ECALL from
// supervisor mode -- ECALL from user or machine mode falls back to the
// ordinary trap delivery handleEcall already does.
func (t *Table) Syscall(h *core.Hart, a7 uint32) bool {
	if h.Priv != core.PrivSupervisor {
		return false
	}

	ext := a7
	fid := h.ReadReg(16) // a6

	var errCode, val uint32 = success, 0

	switch ext {
	case extLegacyPutchar:
		if t.UART != nil {
			t.UART.Write(devices.UARTTHR, 1, h.ReadReg(10)&0xff)
		}

	case extLegacyGetchar:
		val = 0xffffffff
		if t.UART != nil {
			if lsr, _ := t.UART.Read(devices.UARTLSR, 1); lsr&devices.LSRDataReady != 0 {
				v, _ := t.UART.Read(devices.UARTRBR, 1)
				val = v
			}
		}

	case extBase:
		errCode, val = t.base(fid, h.ReadReg(10))

	case extTimer:
		errCode, val = t.timer(fid, h.ReadReg(10))

	case extIPI, extRFence:
		// Single-hart machine: nothing to fence or signal.

	case extHSM:
		errCode, val = t.hsm(fid, h.ReadReg(10))

	case extSRST:
		h.Halted = true

	default:
		errCode = errNotSupported
	}

	h.WriteReg(10, errCode)
	h.WriteReg(11, val)
	return true
}

func (t *Table) base(fid, probeExt uint32) (uint32, uint32) {
	switch fid {
	case baseGetSpecVersion:
		return success, 0x01000000
	case baseGetImplID:
		return success, 0x52563332 // "RV32"
	case baseGetImplVersion:
		return success, 0x00010000
	case baseProbeExtension:
		switch probeExt {
		case extBase, extTimer, extIPI, extRFence, extHSM, extSRST, extLegacyPutchar, extLegacyGetchar:
			return success, 1
		default:
			return success, 0
		}
	case baseGetMvendorID, baseGetMarchID, baseGetMimplID:
		return success, 0
	default:
		return errNotSupported, 0
	}
}

func (t *Table) timer(fid, stime uint32) (uint32, uint32) {
	switch fid {
	case timerSetTimer:
		if t.CLINT != nil {
			t.CLINT.SetTimecmp(uint64(stime))
		}
		return success, 0
	default:
		return errNotSupported, 0
	}
}

func (t *Table) hsm(fid, hartid uint32) (uint32, uint32) {
	switch fid {
	case hsmHartStatus:
		if hartid == 0 {
			return success, 0 // STARTED
		}
		return errInvalidParam, 0
	case hsmHartStart:
		return errAlreadyAvail, 0
	case hsmHartStop:
		return errNotSupported, 0
	default:
		return errNotSupported, 0
	}
}
