package core

import "errors"

// ErrHalt is returned by Step when the guest has asked to stop running,
// e.g. via the SBI system-reset call wired in by an embedder's syscall
// table.
var ErrHalt = errors.New("hart halted")

// Step executes one instruction: check for a pending interrupt, fetch
// (through the translator), expand if compressed, execute, and let
// HandleTrap rewrite state on any guest exception. It never returns a
// guest ExceptionError -- those are fully consumed here -- only host-level
// errors (a broken Device, a caller-supplied halt) propagate up.
func (h *Hart) Step() error {
	if !h.WFI {
		if pending, cause := h.CheckInterrupt(); pending {
			h.HandleTrap(cause, 0)
			return nil
		}
	} else {
		if pending, _ := h.CheckInterrupt(); pending {
			h.WFI = false
		} else {
			return nil
		}
	}

	pc := h.PC
	paddr, err := h.TranslateFetch(pc)
	if err != nil {
		if exc, ok := err.(ExceptionError); ok {
			h.HandleTrap(exc.Cause, pc)
			return nil
		}
		return err
	}

	insn, err := h.Bus.Fetch(paddr)
	if err != nil {
		h.HandleTrap(CauseInsnAccessFault, pc)
		return nil
	}

	isCompressed := insn&0x3 != 0x3
	if isCompressed {
		expanded, err := ExpandCompressed(uint16(insn))
		if err != nil {
			if exc, ok := err.(ExceptionError); ok {
				h.HandleTrap(exc.Cause, pc)
				return nil
			}
			return err
		}
		insn = expanded
	}

	oldPC := h.PC
	err = h.Execute(insn)
	if err != nil {
		if exc, ok := err.(ExceptionError); ok {
			h.PC = oldPC
			h.HandleTrap(exc.Cause, exc.Tval)
			return nil
		}
		return err
	}

	if h.PC == oldPC {
		if isCompressed {
			h.PC += 2
		} else {
			h.PC += 4
		}
	}

	h.Cycle++
	h.Instret++

	if h.Halted {
		return ErrHalt
	}
	return nil
}
