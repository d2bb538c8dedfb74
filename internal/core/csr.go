package core

// csrRead reads a CSR, enforcing the privilege check encoded in its
// address (bits 9:8 give the minimum privilege a CSR requires).
func (h *Hart) csrRead(csr uint16) (uint32, error) {
	if h.Priv < uint8((csr>>8)&3) {
		return 0, Exception(CauseIllegalInsn, 0)
	}

	switch csr {
	case CSRFflags:
		return uint32(h.Fflags), nil
	case CSRFrm:
		return uint32(h.Frm), nil
	case CSRFcsr:
		return uint32(h.Fflags) | (uint32(h.Frm) << 5), nil

	case CSRCycle:
		return uint32(h.Cycle), nil
	case CSRTime:
		return uint32(h.Time), nil
	case CSRInstret:
		return uint32(h.Instret), nil

	case CSRSstatus:
		return h.readSstatus(), nil
	case CSRSie:
		return h.Mie & h.Mideleg, nil
	case CSRStvec:
		return h.Stvec, nil
	case CSRScounteren:
		return h.Scounteren, nil
	case CSRSscratch:
		return h.Sscratch, nil
	case CSRSepc:
		return h.Sepc, nil
	case CSRScause:
		return h.Scause, nil
	case CSRStval:
		return h.Stval, nil
	case CSRSip:
		return h.Mip & h.Mideleg, nil
	case CSRSatp:
		return h.Satp, nil

	case CSRMstatus:
		return h.Mstatus, nil
	case CSRMisa:
		return h.Misa, nil
	case CSRMedeleg:
		return h.Medeleg, nil
	case CSRMideleg:
		return h.Mideleg, nil
	case CSRMie:
		return h.Mie, nil
	case CSRMtvec:
		return h.Mtvec, nil
	case CSRMcounteren:
		return h.Mcounteren, nil
	case CSRMscratch:
		return h.Mscratch, nil
	case CSRMepc:
		return h.Mepc, nil
	case CSRMcause:
		return h.Mcause, nil
	case CSRMtval:
		return h.Mtval, nil
	case CSRMip:
		return h.Mip, nil
	case CSRMhartid, CSRMvendorid, CSRMarchid, CSRMimpid:
		return h.Mhartid, nil

	default:
		return 0, nil
	}
}

// csrWrite writes a CSR, enforcing the same privilege check as csrRead
// plus the read-only-range check (bits 11:10 == 11 marks a read-only CSR).
func (h *Hart) csrWrite(csr uint16, val uint32) error {
	if h.Priv < uint8((csr>>8)&3) {
		return Exception(CauseIllegalInsn, 0)
	}
	if (csr >> 10) == 3 {
		return Exception(CauseIllegalInsn, 0)
	}

	switch csr {
	case CSRFflags:
		h.Fflags = uint8(val & 0x1f)
	case CSRFrm:
		h.Frm = uint8(val & 0x7)
	case CSRFcsr:
		h.Fflags = uint8(val & 0x1f)
		h.Frm = uint8((val >> 5) & 0x7)

	case CSRSstatus:
		h.writeSstatus(val)
	case CSRSie:
		h.Mie = (h.Mie &^ h.Mideleg) | (val & h.Mideleg)
	case CSRStvec:
		h.Stvec = val
	case CSRScounteren:
		h.Scounteren = val
	case CSRSscratch:
		h.Sscratch = val
	case CSRSepc:
		h.Sepc = val &^ 1
	case CSRScause:
		h.Scause = val
	case CSRStval:
		h.Stval = val
	case CSRSip:
		h.Mip = (h.Mip &^ MipSSIP) | (val & MipSSIP)
	case CSRSatp:
		h.writeSatp(val)

	case CSRMstatus:
		h.writeMstatus(val)
	case CSRMisa:
		// read-only in this implementation
	case CSRMedeleg:
		h.Medeleg = val & 0xb3ff
	case CSRMideleg:
		h.Mideleg = val & (MipSSIP | MipSTIP | MipSEIP)
	case CSRMie:
		h.Mie = val & (MipSSIP | MipMSIP | MipSTIP | MipMTIP | MipSEIP | MipMEIP)
	case CSRMtvec:
		h.Mtvec = val
	case CSRMcounteren:
		h.Mcounteren = val
	case CSRMscratch:
		h.Mscratch = val
	case CSRMepc:
		h.Mepc = val &^ 1
	case CSRMcause:
		h.Mcause = val
	case CSRMtval:
		h.Mtval = val
	case CSRMip:
		mask := MipSSIP | MipSTIP | MipSEIP
		h.Mip = (h.Mip &^ uint32(mask)) | (val & uint32(mask))
	}

	return nil
}

// CSRRead and CSRWrite export csrRead/csrWrite for callers outside the
// package; the executor's CSRRW/CSRRS/CSRRC family calls the unexported
// forms directly.
func (h *Hart) CSRRead(csr uint16) (uint32, error)       { return h.csrRead(csr) }
func (h *Hart) CSRWrite(csr uint16, val uint32) error    { return h.csrWrite(csr, val) }

const sstatusMask = MstatusSIE | MstatusSPIE | MstatusSPP | MstatusFS |
	MstatusSUM | MstatusMXR | MstatusSD

func (h *Hart) readSstatus() uint32 {
	return h.Mstatus & sstatusMask
}

func (h *Hart) writeSstatus(val uint32) {
	h.Mstatus = (h.Mstatus &^ sstatusMask) | (val & sstatusMask)
}

func (h *Hart) writeMstatus(val uint32) {
	const mstatusMask = MstatusSIE | MstatusMIE | MstatusSPIE | MstatusMPIE |
		MstatusSPP | MstatusMPP | MstatusFS | MstatusMPRV | MstatusSUM |
		MstatusMXR | MstatusTVM | MstatusTW | MstatusTSR

	h.Mstatus = (h.Mstatus &^ uint32(mstatusMask)) | (val & uint32(mstatusMask))

	if (h.Mstatus & MstatusFS) == MstatusFS {
		h.Mstatus |= MstatusSD
	} else {
		h.Mstatus &^= MstatusSD
	}
}

// writeSatp stores a new SATP value and, since a satp write changes which
// root page table the translator walks and possibly the mode (bare vs
// Sv32), flushes the TLB so stale translations can't survive the switch.
func (h *Hart) writeSatp(val uint32) {
	h.Satp = val
	h.FlushTLB()
}

// CheckInterrupt reports whether a pending, enabled interrupt should be
// taken right now, and if so, which cause to trap with. Priority order is
// machine external > software > timer, then the supervisor equivalents,
// matching the privileged spec's fixed interrupt priority.
func (h *Hart) CheckInterrupt() (bool, uint32) {
	pending := h.Mip & h.Mie
	if pending == 0 {
		return false, 0
	}

	if h.Priv == PrivMachine {
		if h.Mstatus&MstatusMIE == 0 {
			return false, 0
		}
	} else if h.Priv == PrivSupervisor {
		if h.Mstatus&MstatusSIE == 0 {
			mOnly := pending &^ h.Mideleg
			if mOnly == 0 {
				return false, 0
			}
			pending = mOnly
		}
	}

	if pending&MipMEIP != 0 && (h.Priv < PrivMachine || h.Mstatus&MstatusMIE != 0) {
		return true, CauseMExternalInt
	}
	if pending&MipMSIP != 0 && (h.Priv < PrivMachine || h.Mstatus&MstatusMIE != 0) {
		return true, CauseMSoftwareInt
	}
	if pending&MipMTIP != 0 && (h.Priv < PrivMachine || h.Mstatus&MstatusMIE != 0) {
		return true, CauseMTimerInt
	}
	if pending&MipSEIP != 0 && (h.Priv < PrivSupervisor || (h.Priv == PrivSupervisor && h.Mstatus&MstatusSIE != 0)) {
		return true, CauseSExternalInt
	}
	if pending&MipSSIP != 0 && (h.Priv < PrivSupervisor || (h.Priv == PrivSupervisor && h.Mstatus&MstatusSIE != 0)) {
		return true, CauseSSoftwareInt
	}
	if pending&MipSTIP != 0 && (h.Priv < PrivSupervisor || (h.Priv == PrivSupervisor && h.Mstatus&MstatusSIE != 0)) {
		return true, CauseSTimerInt
	}

	return false, 0
}
