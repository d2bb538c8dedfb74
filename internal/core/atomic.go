package core

// execAMO implements the A extension: LR.W/SC.W plus the AMO*.W family.
// RV32 has no 64-bit atomics, unlike the teacher's RV64 AMO64 path.
func (h *Hart) execAMO(insn uint32) error {
	f3 := funct3(insn)
	f5 := funct7(insn) >> 2

	vaddr := h.ReadReg(rs1(insn))
	rs2Val := h.ReadReg(rs2(insn))
	rdReg := rd(insn)

	if f3 != 0b010 {
		return Exception(CauseIllegalInsn, insn)
	}
	if vaddr&3 != 0 {
		return Exception(CauseStoreAddrMisaligned, vaddr)
	}

	addr, err := h.TranslateWrite(vaddr)
	if err != nil {
		return err
	}

	switch f5 {
	case 0b00010: // LR.W
		val, err := h.Bus.Read32(addr)
		if err != nil {
			return Exception(CauseLoadAccessFault, addr)
		}
		h.WriteReg(rdReg, val)
		h.Reservation = addr
		h.ReservationValid = true
		return nil

	case 0b00011: // SC.W
		if !h.ReservationValid || h.Reservation != addr {
			h.WriteReg(rdReg, 1)
			return nil
		}
		if err := h.Bus.Write32(addr, rs2Val); err != nil {
			return Exception(CauseStoreAccessFault, addr)
		}
		h.WriteReg(rdReg, 0)
		h.ReservationValid = false
		return nil

	default:
		oldVal, err := h.Bus.Read32(addr)
		if err != nil {
			return Exception(CauseLoadAccessFault, addr)
		}

		var newVal uint32
		switch f5 {
		case 0b00001: // AMOSWAP.W
			newVal = rs2Val
		case 0b00000: // AMOADD.W
			newVal = oldVal + rs2Val
		case 0b00100: // AMOXOR.W
			newVal = oldVal ^ rs2Val
		case 0b01100: // AMOAND.W
			newVal = oldVal & rs2Val
		case 0b01000: // AMOOR.W
			newVal = oldVal | rs2Val
		case 0b10000: // AMOMIN.W
			if int32(oldVal) < int32(rs2Val) {
				newVal = oldVal
			} else {
				newVal = rs2Val
			}
		case 0b10100: // AMOMAX.W
			if int32(oldVal) > int32(rs2Val) {
				newVal = oldVal
			} else {
				newVal = rs2Val
			}
		case 0b11000: // AMOMINU.W
			if oldVal < rs2Val {
				newVal = oldVal
			} else {
				newVal = rs2Val
			}
		case 0b11100: // AMOMAXU.W
			if oldVal > rs2Val {
				newVal = oldVal
			} else {
				newVal = rs2Val
			}
		default:
			return Exception(CauseIllegalInsn, insn)
		}

		if err := h.Bus.Write32(addr, newVal); err != nil {
			return Exception(CauseStoreAccessFault, addr)
		}
		h.WriteReg(rdReg, oldVal)
		return nil
	}
}
