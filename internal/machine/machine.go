// Package machine wires a core.Hart to its bus and MMIO devices (CLINT,
// PLIC, UART, virtio-blk, boot ROM) on the fixed memory map, and drives the
// run loop. Grounded on the teacher's rv64.Machine, simplified because
// core.Hart already owns Sv32 translation and trap delivery internally
// (the teacher splits CPU/MMU/Machine three ways; this repo only needs
// Hart/Bus/Machine).
package machine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinyrange/rv32emu/internal/bus"
	"github.com/tinyrange/rv32emu/internal/core"
	"github.com/tinyrange/rv32emu/internal/devices"
)

// Machine is a complete RV32IMA system: one hart, its bus, and the
// peripherals attached to the fixed memory map described in consts.go.
type Machine struct {
	Hart  *core.Hart
	Bus   *bus.Bus
	CLINT *devices.CLINT
	PLIC  *devices.PLIC
	UART  *devices.UART
	Disk  *devices.BlockDevice

	BootROM *bus.Region

	Log *slog.Logger
}

// New builds a machine with ramSize bytes of RAM at core.DRAMBase, a boot
// ROM at core.BootROMBase, and the CLINT/PLIC/UART/virtio-blk devices wired
// onto the bus at their fixed addresses. diskImage may be nil to boot
// without a block device.
func New(ramSize uint32, diskImage []byte, diskReadOnly bool, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}

	b := bus.New(core.DRAMBase, ramSize)
	h := core.New(b)

	plic := devices.NewPLIC(h)
	clint := devices.NewCLINT(h)
	uart := devices.NewUART(nil, plic, uartIRQ)
	disk := devices.NewBlockDevice(b, diskImage, diskReadOnly, plic, virtioIRQ)

	bootROM := bus.NewRegion(core.BootROMSize)

	b.Attach(core.CLINTBase, clint)
	b.Attach(core.PLICBase, plic)
	b.Attach(core.UARTBase, uart)
	b.Attach(core.VirtIOBase, disk)
	// A plain bus.Region attached as a device window, reached through the
	// bus's device list rather than the RAM fast path.
	b.Attach(core.BootROMBase, bootROM)

	return &Machine{
		Hart:    h,
		Bus:     b,
		CLINT:   clint,
		PLIC:    plic,
		UART:    uart,
		Disk:    disk,
		BootROM: bootROM,
		Log:     log.With("component", "machine"),
	}
}

// The UART and virtio-blk device each claim one PLIC interrupt source;
// source 0 is reserved (claim/complete treat it as "no interrupt").
const (
	uartIRQ   = 1
	virtioIRQ = 2
)

// LoadKernel copies a flat kernel/firmware image to the start of RAM.
func (m *Machine) LoadKernel(data []byte) error {
	return m.Bus.LoadBytes(m.Bus.RAMBase(), data)
}

// LoadDTB copies a device-tree blob into the boot ROM at the fixed pointer
// offset (core.DTBPointer is an absolute address inside the boot ROM; the
// offset is core.DTBPointer - core.BootROMBase).
func (m *Machine) LoadDTB(data []byte) error {
	dtbOff := core.DTBPointer - core.BootROMBase
	copy(m.BootROM.Data[dtbOff:], data)
	return nil
}

// Boot sets up the hart for kernel entry per the fixed boot protocol:
// a0=hart id, a1=DTB physical address, sp=top of RAM, PC=kernel entry.
// The privilege level is left at its reset value (Machine mode).
func (m *Machine) Boot(entry uint32) {
	m.Hart.PC = entry
	m.Hart.WriteReg(10, 0)
	m.Hart.WriteReg(11, core.DTBPointer)
	m.Hart.WriteReg(2, m.Bus.RAMBase()+m.Bus.RAM().Size())
}

// ErrHalt is returned by Run when the machine halted cleanly (e.g. via the
// SBI system-reset extension).
var ErrHalt = errors.New("machine halted")

// Run drives the hart until ctx is cancelled or the machine halts,
// ticking every device once per yieldAfter-sized batch of steps so the
// CLINT can check mtime against mtimecmp without paying a tick per
// instruction.
func (m *Machine) Run(ctx context.Context, yieldAfter int) error {
	if yieldAfter <= 0 {
		yieldAfter = 10000
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.Hart.Halted {
			return ErrHalt
		}

		m.Bus.Tick()
		m.Hart.Tick()

		for i := 0; i < yieldAfter; i++ {
			if err := m.Hart.Step(); err != nil {
				if errors.Is(err, core.ErrHalt) {
					return ErrHalt
				}
				return fmt.Errorf("step error at pc=0x%x: %w", m.Hart.PC, err)
			}
		}
	}
}

// Halt stops the machine before the next batch of steps runs.
func (m *Machine) Halt() { m.Hart.Halted = true }

// IsHalted reports whether Halt has been called.
func (m *Machine) IsHalted() bool { return m.Hart.Halted }
