// Package bus implements the memory-mapped address space the hart's
// executor and the Sv32 translator read and write through: RAM plus a list
// of devices, each owning a fixed base/size window.
package bus

import (
	"encoding/binary"
	"fmt"
)

var cpuEndian = binary.LittleEndian

// Device is anything mapped onto the bus: RAM, the boot ROM, the CLINT,
// PLIC, UART, or virtio-mmio windows all implement it. Offset is relative
// to the device's own base address. Tick is called once per bus Tick call
// (the CLINT uses it to raise its timer interrupt); devices that have no
// notion of time implement it as a no-op.
type Device interface {
	Read(offset uint32, size int) (uint32, error)
	Write(offset uint32, size int, value uint32) error
	Size() uint32
	Tick()
}

// Region is a plain byte-addressed memory window, used for RAM and the
// boot ROM.
type Region struct {
	Data []byte
}

// NewRegion allocates a zeroed region of the given size.
func NewRegion(size uint32) *Region {
	return &Region{Data: make([]byte, size)}
}

func (r *Region) Size() uint32 { return uint32(len(r.Data)) }
func (r *Region) Tick()        {}

func (r *Region) Read(offset uint32, size int) (uint32, error) {
	if uint64(offset)+uint64(size) > uint64(len(r.Data)) {
		return 0, fmt.Errorf("region read out of bounds: offset=0x%x size=%d len=%d", offset, size, len(r.Data))
	}
	switch size {
	case 1:
		return uint32(r.Data[offset]), nil
	case 2:
		return uint32(cpuEndian.Uint16(r.Data[offset:])), nil
	case 4:
		return cpuEndian.Uint32(r.Data[offset:]), nil
	default:
		return 0, fmt.Errorf("invalid read size: %d", size)
	}
}

func (r *Region) Write(offset uint32, size int, value uint32) error {
	if uint64(offset)+uint64(size) > uint64(len(r.Data)) {
		return fmt.Errorf("region write out of bounds: offset=0x%x size=%d len=%d", offset, size, len(r.Data))
	}
	switch size {
	case 1:
		r.Data[offset] = byte(value)
	case 2:
		cpuEndian.PutUint16(r.Data[offset:], uint16(value))
	case 4:
		cpuEndian.PutUint32(r.Data[offset:], value)
	default:
		return fmt.Errorf("invalid write size: %d", size)
	}
	return nil
}

// Slice returns the underlying bytes for offset..offset+length, bypassing
// the Read/Write size restrictions, or nil if the range does not fit.
func (r *Region) Slice(offset, length uint32) []byte {
	if uint64(offset)+uint64(length) > uint64(len(r.Data)) {
		return nil
	}
	return r.Data[offset : offset+length]
}

// mapping associates a Device with the address range it occupies.
type mapping struct {
	base   uint32
	size   uint32
	device Device
}

// Bus is the flat physical address space: RAM plus an ordered list of
// device windows. Addresses that land in none of them fault with an
// access-fault-shaped error, which the executor turns into the
// appropriate RISC-V exception.
type Bus struct {
	ram     *Region
	ramBase uint32
	devices []mapping
}

// New creates a bus with RAM of the given size based at ramBase.
func New(ramBase, ramSize uint32) *Bus {
	return &Bus{ram: NewRegion(ramSize), ramBase: ramBase}
}

// RAM returns the underlying RAM region, e.g. for image loading.
func (b *Bus) RAM() *Region { return b.ram }

// RAMBase returns the physical base address RAM is mapped at.
func (b *Bus) RAMBase() uint32 { return b.ramBase }

// Attach maps a device at the given base address.
func (b *Bus) Attach(base uint32, dev Device) {
	b.devices = append(b.devices, mapping{base: base, size: dev.Size(), device: dev})
}

func (b *Bus) find(addr uint32) (Device, uint32, error) {
	if addr >= b.ramBase && uint64(addr) < uint64(b.ramBase)+uint64(b.ram.Size()) {
		return b.ram, addr - b.ramBase, nil
	}
	for _, m := range b.devices {
		if addr >= m.base && uint64(addr) < uint64(m.base)+uint64(m.size) {
			return m.device, addr - m.base, nil
		}
	}
	return nil, 0, fmt.Errorf("no device at address 0x%x", addr)
}

// Read reads size bytes (1, 2, or 4) at addr.
func (b *Bus) Read(addr uint32, size int) (uint32, error) {
	dev, offset, err := b.find(addr)
	if err != nil {
		return 0, err
	}
	return dev.Read(offset, size)
}

// Write writes size bytes (1, 2, or 4) at addr.
func (b *Bus) Write(addr uint32, size int, value uint32) error {
	dev, offset, err := b.find(addr)
	if err != nil {
		return err
	}
	return dev.Write(offset, size, value)
}

func (b *Bus) Read8(addr uint32) (uint8, error) {
	v, err := b.Read(addr, 1)
	return uint8(v), err
}

func (b *Bus) Read16(addr uint32) (uint16, error) {
	v, err := b.Read(addr, 2)
	return uint16(v), err
}

func (b *Bus) Read32(addr uint32) (uint32, error) {
	return b.Read(addr, 4)
}

func (b *Bus) Write8(addr uint32, value uint8) error {
	return b.Write(addr, 1, uint32(value))
}

func (b *Bus) Write16(addr uint32, value uint16) error {
	return b.Write(addr, 2, uint32(value))
}

func (b *Bus) Write32(addr uint32, value uint32) error {
	return b.Write(addr, 4, value)
}

// LoadBytes copies data into the bus starting at addr, using the RAM fast
// path when the whole range falls inside RAM and falling back to
// byte-at-a-time device writes otherwise (e.g. writing straight into the
// boot ROM region).
func (b *Bus) LoadBytes(addr uint32, data []byte) error {
	if addr >= b.ramBase && uint64(addr)+uint64(len(data)) <= uint64(b.ramBase)+uint64(b.ram.Size()) {
		copy(b.ram.Data[addr-b.ramBase:], data)
		return nil
	}
	for i, v := range data {
		if err := b.Write8(addr+uint32(i), v); err != nil {
			return err
		}
	}
	return nil
}

// Fetch reads an instruction word at addr, reading only 2 bytes when the
// low bits mark it as a compressed (16-bit) instruction so a fetch never
// reads past the end of a page that holds just one compressed instruction.
func (b *Bus) Fetch(addr uint32) (uint32, error) {
	lo, err := b.Read16(addr)
	if err != nil {
		return 0, err
	}
	if lo&0x3 != 0x3 {
		return uint32(lo), nil
	}
	hi, err := b.Read16(addr + 2)
	if err != nil {
		return 0, err
	}
	return uint32(lo) | (uint32(hi) << 16), nil
}

// Tick advances every device's internal clock by one bus tick. RAM has no
// clock of its own and is skipped.
func (b *Bus) Tick() {
	for _, m := range b.devices {
		m.device.Tick()
	}
}
