// Package config loads the YAML machine description the CLI front-end
// reads before wiring up a Machine: RAM size, the kernel/firmware image to
// load, an optional disk image to attach as virtio-blk, and boot ROM/DTB
// overrides. Grounded on internal/bundle's ccbundle.yaml metadata pattern
// (Metadata/BootConfig structs plus a normalize() defaulting pass), adapted
// from "prebaked OCI bundle" semantics to "RISC-V machine" semantics.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const DefaultMemoryMB = 128

// Machine describes one bootable RV32 machine.
type Machine struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	MemoryMB uint64 `yaml:"memoryMB,omitempty"`

	Kernel   string `yaml:"kernel"`
	Bootargs string `yaml:"bootargs,omitempty"`

	Disk         string `yaml:"disk,omitempty"`
	DiskReadOnly bool   `yaml:"diskReadOnly,omitempty"`

	// UARTPassthrough makes cmd/rv32vm forward host stdin into the guest
	// UART when true. UART output goes to stdout whether or not it is set.
	UARTPassthrough bool `yaml:"uartPassthrough,omitempty"`

	// DTB, if set, is a path to a precomputed device-tree blob loaded
	// verbatim into the boot ROM instead of one built by internal/fdt.
	DTB string `yaml:"dtb,omitempty"`
}

func (m *Machine) normalize() {
	if m.MemoryMB == 0 {
		m.MemoryMB = DefaultMemoryMB
	}
	if m.Name == "" {
		m.Name = "rv32vm"
	}
}

// Load reads and validates a machine description from a YAML file.
func Load(path string) (Machine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Machine{}, fmt.Errorf("read %s: %w", path, err)
	}

	var m Machine
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Machine{}, fmt.Errorf("parse %s: %w", path, err)
	}
	m.normalize()

	if m.Kernel == "" {
		return Machine{}, fmt.Errorf("%s: kernel image path is required", path)
	}
	return m, nil
}

// WriteTemplate writes m, with defaults applied, as a starter machine
// description at path.
func WriteTemplate(path string, m Machine) error {
	m.normalize()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(&m); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return enc.Close()
}
