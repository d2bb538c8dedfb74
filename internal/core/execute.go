package core

// Execute dispatches one already-fetched 32-bit instruction word. It never
// advances PC itself except for taken branches/jumps -- the caller (Step,
// in step.go) is responsible for the fall-through PC+4/PC+2 advance,
// matching the "fetch PC handling kept clean" decision in SPEC_FULL.md.
func (h *Hart) Execute(insn uint32) error {
	switch opcode(insn) {
	case OpLui:
		return h.execLui(insn)
	case OpAuipc:
		return h.execAuipc(insn)
	case OpJal:
		return h.execJal(insn)
	case OpJalr:
		return h.execJalr(insn)
	case OpBranch:
		return h.execBranch(insn)
	case OpLoad:
		return h.execLoad(insn)
	case OpStore:
		return h.execStore(insn)
	case OpOpImm:
		return h.execOpImm(insn)
	case OpOp:
		return h.execOp(insn)
	case OpMiscMem:
		return h.execMiscMem(insn)
	case OpSystem:
		return h.execSystem(insn)
	case OpAMO:
		return h.execAMO(insn)
	default:
		return Exception(CauseIllegalInsn, insn)
	}
}

func (h *Hart) execLui(insn uint32) error {
	h.WriteReg(rd(insn), uint32(immU(insn)))
	return nil
}

func (h *Hart) execAuipc(insn uint32) error {
	h.WriteReg(rd(insn), h.PC+uint32(immU(insn)))
	return nil
}

func (h *Hart) execJal(insn uint32) error {
	if target := h.PC + uint32(immJ(insn)); target&1 != 0 {
		return Exception(CauseInsnAddrMisaligned, target)
	} else {
		h.WriteReg(rd(insn), h.PC+4)
		h.PC = target
	}
	return nil
}

func (h *Hart) execJalr(insn uint32) error {
	target := (h.ReadReg(rs1(insn)) + uint32(immI(insn))) &^ 1
	if target&1 != 0 {
		return Exception(CauseInsnAddrMisaligned, target)
	}
	ret := h.PC + 4
	h.PC = target
	h.WriteReg(rd(insn), ret)
	return nil
}

func (h *Hart) execBranch(insn uint32) error {
	r1 := h.ReadReg(rs1(insn))
	r2 := h.ReadReg(rs2(insn))

	var taken bool
	switch funct3(insn) {
	case 0b000: // BEQ
		taken = r1 == r2
	case 0b001: // BNE
		taken = r1 != r2
	case 0b100: // BLT
		taken = int32(r1) < int32(r2)
	case 0b101: // BGE
		taken = int32(r1) >= int32(r2)
	case 0b110: // BLTU
		taken = r1 < r2
	case 0b111: // BGEU
		taken = r1 >= r2
	default:
		return Exception(CauseIllegalInsn, insn)
	}

	if taken {
		target := h.PC + uint32(immB(insn))
		if target&1 != 0 {
			return Exception(CauseInsnAddrMisaligned, target)
		}
		h.PC = target
	}
	return nil
}

func (h *Hart) execLoad(insn uint32) error {
	vaddr := h.ReadReg(rs1(insn)) + uint32(immI(insn))
	addr, err := h.TranslateRead(vaddr)
	if err != nil {
		return err
	}

	var val uint32
	switch funct3(insn) {
	case 0b000: // LB
		v, e := h.Bus.Read8(addr)
		val, err = uint32(int32(int8(v))), e
	case 0b001: // LH
		v, e := h.Bus.Read16(addr)
		val, err = uint32(int32(int16(v))), e
	case 0b010: // LW
		val, err = h.Bus.Read32(addr)
	case 0b100: // LBU
		v, e := h.Bus.Read8(addr)
		val, err = uint32(v), e
	case 0b101: // LHU
		v, e := h.Bus.Read16(addr)
		val, err = uint32(v), e
	default:
		return Exception(CauseIllegalInsn, insn)
	}

	if err != nil {
		return Exception(CauseLoadAccessFault, addr)
	}

	h.WriteReg(rd(insn), val)
	return nil
}

func (h *Hart) execStore(insn uint32) error {
	vaddr := h.ReadReg(rs1(insn)) + uint32(immS(insn))
	addr, err := h.TranslateWrite(vaddr)
	if err != nil {
		return err
	}
	val := h.ReadReg(rs2(insn))

	switch funct3(insn) {
	case 0b000: // SB
		err = h.Bus.Write8(addr, uint8(val))
	case 0b001: // SH
		err = h.Bus.Write16(addr, uint16(val))
	case 0b010: // SW
		err = h.Bus.Write32(addr, val)
	default:
		return Exception(CauseIllegalInsn, insn)
	}

	if err != nil {
		return Exception(CauseStoreAccessFault, addr)
	}
	return nil
}

func (h *Hart) execOpImm(insn uint32) error {
	r1 := h.ReadReg(rs1(insn))
	imm := immI(insn)
	sh := shamt(insn)

	var val uint32
	switch funct3(insn) {
	case 0b000: // ADDI
		val = uint32(int32(r1) + imm)
	case 0b001: // SLLI
		val = r1 << sh
	case 0b010: // SLTI
		if int32(r1) < imm {
			val = 1
		}
	case 0b011: // SLTIU
		if r1 < uint32(imm) {
			val = 1
		}
	case 0b100: // XORI
		val = r1 ^ uint32(imm)
	case 0b101: // SRLI/SRAI
		if (insn>>30)&1 == 1 {
			val = uint32(int32(r1) >> sh) // SRAI
		} else {
			val = r1 >> sh // SRLI
		}
	case 0b110: // ORI
		val = r1 | uint32(imm)
	case 0b111: // ANDI
		val = r1 & uint32(imm)
	default:
		return Exception(CauseIllegalInsn, insn)
	}

	h.WriteReg(rd(insn), val)
	return nil
}

func (h *Hart) execOp(insn uint32) error {
	r1 := h.ReadReg(rs1(insn))
	r2 := h.ReadReg(rs2(insn))
	f3 := funct3(insn)
	f7 := funct7(insn)

	if f7 == 0b0000001 {
		return h.execOpM(insn, r1, r2, f3)
	}

	var val uint32
	switch f3 {
	case 0b000: // ADD/SUB
		if f7 == 0b0100000 {
			val = uint32(int32(r1) - int32(r2))
		} else {
			val = r1 + r2
		}
	case 0b001: // SLL
		val = r1 << (r2 & 0x1f)
	case 0b010: // SLT
		if int32(r1) < int32(r2) {
			val = 1
		}
	case 0b011: // SLTU
		if r1 < r2 {
			val = 1
		}
	case 0b100: // XOR
		val = r1 ^ r2
	case 0b101: // SRL/SRA
		if f7 == 0b0100000 {
			val = uint32(int32(r1) >> (r2 & 0x1f)) // SRA
		} else {
			val = r1 >> (r2 & 0x1f) // SRL
		}
	case 0b110: // OR
		val = r1 | r2
	case 0b111: // AND
		val = r1 & r2
	default:
		return Exception(CauseIllegalInsn, insn)
	}

	h.WriteReg(rd(insn), val)
	return nil
}

// execOpM implements the M extension (RV32M): MUL/MULH/MULHSU/MULHU and
// DIV/DIVU/REM/REMU, including the architecturally-defined division by
// zero and signed-overflow results (no trap either way).
func (h *Hart) execOpM(insn uint32, r1, r2 uint32, f3 uint32) error {
	var val uint32
	switch f3 {
	case 0b000: // MUL
		val = r1 * r2
	case 0b001: // MULH
		val = uint32(mulh(int32(r1), int32(r2)))
	case 0b010: // MULHSU
		val = uint32(mulhsu(int32(r1), r2))
	case 0b011: // MULHU
		val = uint32(mulhu(r1, r2))
	case 0b100: // DIV
		switch {
		case r2 == 0:
			val = ^uint32(0)
		case r1 == 1<<31 && r2 == ^uint32(0):
			val = r1
		default:
			val = uint32(int32(r1) / int32(r2))
		}
	case 0b101: // DIVU
		if r2 == 0 {
			val = ^uint32(0)
		} else {
			val = r1 / r2
		}
	case 0b110: // REM
		switch {
		case r2 == 0:
			val = r1
		case r1 == 1<<31 && r2 == ^uint32(0):
			val = 0
		default:
			val = uint32(int32(r1) % int32(r2))
		}
	case 0b111: // REMU
		if r2 == 0 {
			val = r1
		} else {
			val = r1 % r2
		}
	default:
		return Exception(CauseIllegalInsn, insn)
	}

	h.WriteReg(rd(insn), val)
	return nil
}

func mulhu(a, b uint32) uint64 {
	return (uint64(a) * uint64(b)) >> 32
}

func mulh(a, b int32) int32 {
	return int32((int64(a) * int64(b)) >> 32)
}

func mulhsu(a int32, b uint32) int32 {
	return int32((int64(a) * int64(b)) >> 32)
}

func (h *Hart) execMiscMem(insn uint32) error {
	switch funct3(insn) {
	case 0b000: // FENCE
	case 0b001: // FENCE.I
	default:
		return Exception(CauseIllegalInsn, insn)
	}
	return nil
}

// execSystem handles ECALL/EBREAK/MRET/SRET/WFI/SFENCE.VMA and the CSRRx
// family. ECALL first consults the optional syscall table (the SBI
// dispatcher in cmd/rv32vm, if wired) before falling back to a plain
// environment-call exception.
func (h *Hart) execSystem(insn uint32) error {
	f3 := funct3(insn)
	csr := uint16(insn >> 20)
	rdReg := rd(insn)
	rs1Reg := rs1(insn)

	if f3 == 0 {
		switch insn {
		case 0x00000073: // ECALL
			return h.handleEcall()
		case 0x00100073: // EBREAK
			return Exception(CauseBreakpoint, h.PC)
		case 0x30200073: // MRET
			return h.mret()
		case 0x10200073: // SRET
			return h.sret()
		case 0x10500073: // WFI
			h.WFI = true
			return nil
		default:
			if insn>>25 == 0b0001001 {
				// SFENCE.VMA
				h.FlushTLB()
				return nil
			}
			return Exception(CauseIllegalInsn, insn)
		}
	}

	rs1Val := h.ReadReg(rs1Reg)
	if f3 >= 5 {
		rs1Val = rs1Reg // immediate forms reuse the rs1 field as a 5-bit immediate
	}

	csrVal, err := h.csrRead(csr)
	if err != nil {
		return err
	}

	var writeVal uint32
	var doWrite bool
	switch f3 & 3 {
	case 1: // CSRRW(I)
		writeVal = rs1Val
		doWrite = true
	case 2: // CSRRS(I)
		writeVal = csrVal | rs1Val
		doWrite = rs1Reg != 0
	case 3: // CSRRC(I)
		writeVal = csrVal &^ rs1Val
		doWrite = rs1Reg != 0
	default:
		return Exception(CauseIllegalInsn, insn)
	}

	if doWrite {
		if err := h.csrWrite(csr, writeVal); err != nil {
			return err
		}
	}

	h.WriteReg(rdReg, csrVal)
	return nil
}

func (h *Hart) handleEcall() error {
	if h.Syscalls != nil {
		a7 := h.ReadReg(17)
		if h.Syscalls.Syscall(h, a7) {
			return nil
		}
	}

	switch h.Priv {
	case PrivUser:
		return Exception(CauseEcallFromU, 0)
	case PrivSupervisor:
		return Exception(CauseEcallFromS, 0)
	default:
		return Exception(CauseEcallFromM, 0)
	}
}
