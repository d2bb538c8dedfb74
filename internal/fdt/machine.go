package fdt

import "fmt"

// MachineConfig describes the fixed memory map the generated device tree
// must advertise, mirroring the addresses internal/core's consts.go and
// internal/devices wire the hart and its peripherals against.
type MachineConfig struct {
	MemBase uint64
	MemSize uint64

	CLINTBase, CLINTSize uint64
	PLICBase, PLICSize   uint64
	UARTBase, UARTSize   uint64
	UARTIRQ              uint32

	VirtioBase, VirtioSize uint64
	VirtioIRQ              uint32

	Bootargs string
}

// Build constructs the flattened device tree a Sv32 supervisor kernel needs
// to discover RAM, the CLINT, the PLIC, the UART, and the virtio-blk
// device, all at the fixed addresses this machine wires them at.
func (c MachineConfig) Build() ([]byte, error) {
	soc := Node{
		Name: "soc",
		Properties: map[string]Property{
			"#address-cells": {U32: []uint32{2}},
			"#size-cells":    {U32: []uint32{2}},
			"compatible":     {Strings: []string{"simple-bus"}},
			"ranges":         {Flag: true},
		},
		Children: []Node{
			c.clintNode(),
			c.plicNode(),
			c.uartNode(),
			c.virtioNode(),
		},
	}

	root := Node{
		Name: "",
		Properties: map[string]Property{
			"#address-cells": {U32: []uint32{2}},
			"#size-cells":    {U32: []uint32{2}},
			"compatible":     {Strings: []string{"riscv-rv32emu"}},
			"model":          {Strings: []string{"riscv-rv32emu,rv32ima"}},
		},
		Children: []Node{
			c.cpusNode(),
			c.memoryNode(),
			soc,
			c.chosenNode(),
		},
	}

	return Build(root)
}

func (c MachineConfig) cpusNode() Node {
	cpu := Node{
		Name: "cpu@0",
		Properties: map[string]Property{
			"device_type":          {Strings: []string{"cpu"}},
			"reg":                  {U32: []uint32{0}},
			"status":               {Strings: []string{"okay"}},
			"compatible":           {Strings: []string{"riscv"}},
			"riscv,isa":            {Strings: []string{"rv32ima_zicsr_zifencei"}},
			"mmu-type":             {Strings: []string{"riscv,sv32"}},
			"clock-frequency":      {U32: []uint32{10000000}},
			"#address-cells":       {U32: []uint32{1}},
			"#size-cells":          {U32: []uint32{0}},
		},
		Children: []Node{
			{
				Name: "interrupt-controller",
				Properties: map[string]Property{
					"#interrupt-cells": {U32: []uint32{1}},
					"compatible":       {Strings: []string{"riscv,cpu-intc"}},
					"interrupt-controller": {Flag: true},
				},
			},
		},
	}
	return Node{
		Name: "cpus",
		Properties: map[string]Property{
			"#address-cells":       {U32: []uint32{1}},
			"#size-cells":          {U32: []uint32{0}},
			"timebase-frequency":   {U32: []uint32{10000000}},
		},
		Children: []Node{cpu},
	}
}

func (c MachineConfig) memoryNode() Node {
	return Node{
		Name: fmt.Sprintf("memory@%x", c.MemBase),
		Properties: map[string]Property{
			"device_type": {Strings: []string{"memory"}},
			"reg":         {U64: []uint64{c.MemBase, c.MemSize}},
		},
	}
}

func (c MachineConfig) clintNode() Node {
	return Node{
		Name: fmt.Sprintf("clint@%x", c.CLINTBase),
		Properties: map[string]Property{
			"compatible":        {Strings: []string{"riscv,clint0"}},
			"reg":                {U64: []uint64{c.CLINTBase, c.CLINTSize}},
			"interrupts-extended": {U32: []uint32{1, 3, 1, 7}}, // phandle placeholders: msip, mtip
		},
	}
}

func (c MachineConfig) plicNode() Node {
	return Node{
		Name: fmt.Sprintf("plic@%x", c.PLICBase),
		Properties: map[string]Property{
			"compatible":           {Strings: []string{"riscv,plic0"}},
			"reg":                  {U64: []uint64{c.PLICBase, c.PLICSize}},
			"#interrupt-cells":     {U32: []uint32{1}},
			"interrupt-controller": {Flag: true},
			"riscv,ndev":           {U32: []uint32{31}},
			"phandle":              {U32: []uint32{1}},
		},
	}
}

func (c MachineConfig) uartNode() Node {
	return Node{
		Name: fmt.Sprintf("uart@%x", c.UARTBase),
		Properties: map[string]Property{
			"compatible":      {Strings: []string{"ns16550a"}},
			"reg":             {U64: []uint64{c.UARTBase, c.UARTSize}},
			"clock-frequency": {U32: []uint32{1843200}},
			"interrupt-parent": {U32: []uint32{1}},
			"interrupts":      {U32: []uint32{c.UARTIRQ}},
		},
	}
}

func (c MachineConfig) virtioNode() Node {
	return Node{
		Name: fmt.Sprintf("virtio_mmio@%x", c.VirtioBase),
		Properties: map[string]Property{
			"compatible":      {Strings: []string{"virtio,mmio"}},
			"reg":             {U64: []uint64{c.VirtioBase, c.VirtioSize}},
			"interrupt-parent": {U32: []uint32{1}},
			"interrupts":      {U32: []uint32{c.VirtioIRQ}},
		},
	}
}

func (c MachineConfig) chosenNode() Node {
	args := c.Bootargs
	if args == "" {
		args = "console=ttyS0"
	}
	return Node{
		Name: "chosen",
		Properties: map[string]Property{
			"bootargs": {Strings: []string{args}},
		},
	}
}
