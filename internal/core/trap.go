package core

// HandleTrap rewrites hart state for an exception or interrupt with the
// given cause and trap value, delegating to S-mode when the current
// privilege is at or below Supervisor and the matching *deleg bit is set,
// otherwise trapping to M-mode. This is the only place privilege changes
// as a side effect of something other than MRET/SRET.
func (h *Hart) HandleTrap(cause, tval uint32) {
	isInterrupt := cause&interruptBit != 0
	code := cause &^ interruptBit

	delegate := false
	if h.Priv <= PrivSupervisor {
		if isInterrupt {
			delegate = h.Mideleg&(1<<code) != 0
		} else {
			delegate = h.Medeleg&(1<<code) != 0
		}
	}

	if delegate {
		h.Sepc = h.PC
		h.Scause = cause
		h.Stval = tval

		if h.Mstatus&MstatusSIE != 0 {
			h.Mstatus |= MstatusSPIE
		} else {
			h.Mstatus &^= MstatusSPIE
		}
		h.Mstatus &^= MstatusSIE

		if h.Priv == PrivSupervisor {
			h.Mstatus |= MstatusSPP
		} else {
			h.Mstatus &^= MstatusSPP
		}

		h.Priv = PrivSupervisor

		if h.Stvec&1 == 1 && isInterrupt {
			h.PC = (h.Stvec &^ 1) + 4*code
		} else {
			h.PC = h.Stvec &^ 3
		}
		return
	}

	h.Mepc = h.PC
	h.Mcause = cause
	h.Mtval = tval

	if h.Mstatus&MstatusMIE != 0 {
		h.Mstatus |= MstatusMPIE
	} else {
		h.Mstatus &^= MstatusMPIE
	}
	h.Mstatus &^= MstatusMIE

	h.Mstatus &^= MstatusMPP
	h.Mstatus |= uint32(h.Priv) << MstatusMPPShift

	h.Priv = PrivMachine

	if h.Mtvec&1 == 1 && isInterrupt {
		h.PC = (h.Mtvec &^ 1) + 4*code
	} else {
		h.PC = h.Mtvec &^ 3
	}
}

// mret returns from an M-mode trap: privilege becomes MPP, MIE is restored
// from MPIE, MPIE is set, and MPP drops to U.
func (h *Hart) mret() error {
	if h.Priv < PrivMachine {
		return Exception(CauseIllegalInsn, 0)
	}

	mpp := uint8((h.Mstatus & MstatusMPP) >> MstatusMPPShift)
	h.Priv = mpp

	if h.Mstatus&MstatusMPIE != 0 {
		h.Mstatus |= MstatusMIE
	} else {
		h.Mstatus &^= MstatusMIE
	}
	h.Mstatus |= MstatusMPIE
	h.Mstatus &^= MstatusMPP

	h.PC = h.Mepc
	return nil
}

// sret returns from an S-mode trap, the supervisor-mode analogue of mret.
func (h *Hart) sret() error {
	if h.Priv < PrivSupervisor {
		return Exception(CauseIllegalInsn, 0)
	}

	if h.Mstatus&MstatusSPP != 0 {
		h.Priv = PrivSupervisor
	} else {
		h.Priv = PrivUser
	}

	if h.Mstatus&MstatusSPIE != 0 {
		h.Mstatus |= MstatusSIE
	} else {
		h.Mstatus &^= MstatusSIE
	}
	h.Mstatus |= MstatusSPIE
	h.Mstatus &^= MstatusSPP

	h.PC = h.Sepc
	return nil
}
