// Package core implements the RV32IMA execution core: hart state, the CSR
// file, the Sv32 address translator, trap delivery, and the instruction
// executor. These five pieces are kept in one package, mirroring the
// teacher's rv64 package, because the translator and the trap unit both
// reach directly into hart state (current privilege, satp, mstatus) and
// splitting them across packages would just reintroduce that coupling
// through an import cycle.
package core

import "encoding/binary"

// Fixed memory map. The core itself does not enforce these addresses --
// they're a convention the bus and the boot ROM/DTB builder share with the
// devices that plug into Bus.
const (
	BootROMBase uint32 = 0x0000_1000
	BootROMSize uint32 = 0x0000_f000
	DTBPointer  uint32 = 0x0000_1020

	CLINTBase uint32 = 0x0200_0000
	CLINTSize uint32 = 0x0001_0000

	PLICBase uint32 = 0x0c00_0000
	PLICSize uint32 = 0x0020_8000

	UARTBase uint32 = 0x1000_0000
	UARTSize uint32 = 0x0000_0100

	VirtIOBase uint32 = 0x1000_1000
	VirtIOSize uint32 = 0x0000_1000

	DRAMBase uint32 = 0x8000_0000
	DRAMSize uint32 = 128 * 1024 * 1024
)

// Privilege levels.
const (
	PrivUser       uint8 = 0
	PrivSupervisor uint8 = 1
	PrivMachine    uint8 = 3
)

// misa bits (MXL field is 1, for 32-bit XLEN).
const (
	MisaA uint32 = 1 << 0
	MisaC uint32 = 1 << 2
	MisaI uint32 = 1 << 8
	MisaM uint32 = 1 << 12
	MisaS uint32 = 1 << 18
	MisaU uint32 = 1 << 20

	MXL32 uint32 = 1
)

// mstatus bits (RV32 layout; SD is bit 31, there is no UXL/SXL field).
const (
	MstatusSIE  uint32 = 1 << 1
	MstatusMIE  uint32 = 1 << 3
	MstatusSPIE uint32 = 1 << 5
	MstatusMPIE uint32 = 1 << 7
	MstatusSPP  uint32 = 1 << 8
	MstatusMPP  uint32 = 3 << 11
	MstatusFS   uint32 = 3 << 13
	MstatusMPRV uint32 = 1 << 17
	MstatusSUM  uint32 = 1 << 18
	MstatusMXR  uint32 = 1 << 19
	MstatusTVM  uint32 = 1 << 20
	MstatusTW   uint32 = 1 << 21
	MstatusTSR  uint32 = 1 << 22
	MstatusSD   uint32 = 1 << 31
)

const (
	MstatusMPPShift = 11
)

// mip/mie bits.
const (
	MipSSIP uint32 = 1 << 1
	MipMSIP uint32 = 1 << 3
	MipSTIP uint32 = 1 << 5
	MipMTIP uint32 = 1 << 7
	MipSEIP uint32 = 1 << 9
	MipMEIP uint32 = 1 << 11
)

// Exception causes.
const (
	CauseInsnAddrMisaligned  uint32 = 0
	CauseInsnAccessFault     uint32 = 1
	CauseIllegalInsn         uint32 = 2
	CauseBreakpoint          uint32 = 3
	CauseLoadAddrMisaligned  uint32 = 4
	CauseLoadAccessFault     uint32 = 5
	CauseStoreAddrMisaligned uint32 = 6
	CauseStoreAccessFault    uint32 = 7
	CauseEcallFromU          uint32 = 8
	CauseEcallFromS          uint32 = 9
	CauseEcallFromM          uint32 = 11
	CauseInsnPageFault       uint32 = 12
	CauseLoadPageFault       uint32 = 13
	CauseStorePageFault      uint32 = 15
)

// Interrupt causes, with the top bit (relative to XLEN=32) set.
const (
	interruptBit uint32 = 1 << 31

	CauseSSoftwareInt uint32 = interruptBit | 1
	CauseMSoftwareInt uint32 = interruptBit | 3
	CauseSTimerInt    uint32 = interruptBit | 5
	CauseMTimerInt    uint32 = interruptBit | 7
	CauseSExternalInt uint32 = interruptBit | 9
	CauseMExternalInt uint32 = interruptBit | 11
)

// CSR addresses.
const (
	CSRFflags     uint16 = 0x001
	CSRFrm        uint16 = 0x002
	CSRFcsr       uint16 = 0x003
	CSRCycle      uint16 = 0xC00
	CSRTime       uint16 = 0xC01
	CSRInstret    uint16 = 0xC02
	CSRSstatus    uint16 = 0x100
	CSRSie        uint16 = 0x104
	CSRStvec      uint16 = 0x105
	CSRScounteren uint16 = 0x106
	CSRSscratch   uint16 = 0x140
	CSRSepc       uint16 = 0x141
	CSRScause     uint16 = 0x142
	CSRStval      uint16 = 0x143
	CSRSip        uint16 = 0x144
	CSRSatp       uint16 = 0x180
	CSRMvendorid  uint16 = 0xF11
	CSRMarchid    uint16 = 0xF12
	CSRMimpid     uint16 = 0xF13
	CSRMhartid    uint16 = 0xF14
	CSRMstatus    uint16 = 0x300
	CSRMisa       uint16 = 0x301
	CSRMedeleg    uint16 = 0x302
	CSRMideleg    uint16 = 0x303
	CSRMie        uint16 = 0x304
	CSRMtvec      uint16 = 0x305
	CSRMcounteren uint16 = 0x306
	CSRMscratch   uint16 = 0x340
	CSRMepc       uint16 = 0x341
	CSRMcause     uint16 = 0x342
	CSRMtval      uint16 = 0x343
	CSRMip        uint16 = 0x344
)

var cpuEndian = binary.LittleEndian
