// Command rv32vm is the CLI front-end for the RV32IMA emulator: it loads a
// flat kernel/firmware image (and optionally a disk image and a YAML
// machine description), wires a machine.Machine, and runs it to
// completion or until interrupted. Grounded on the teacher's cmd/cc/main.go
// shape: flag parsing, slog setup, a context.Context for cancellation, and
// a run() error helper so main itself only logs and sets the exit code.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"

	"github.com/tinyrange/rv32emu/internal/config"
	"github.com/tinyrange/rv32emu/internal/core"
	"github.com/tinyrange/rv32emu/internal/devices"
	"github.com/tinyrange/rv32emu/internal/fdt"
	"github.com/tinyrange/rv32emu/internal/machine"
	"github.com/tinyrange/rv32emu/internal/sbi"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rv32vm: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "", "Path to a YAML machine description")
	kernelPath := flag.String("kernel", "", "Path to a flat kernel/firmware image (overrides -config)")
	diskPath := flag.String("disk", "", "Path to a disk image attached as virtio-blk")
	diskReadOnly := flag.Bool("disk-readonly", false, "Attach the disk image read-only")
	memoryMB := flag.Uint64("memory", config.DefaultMemoryMB, "RAM size in MB")
	bootargs := flag.String("bootargs", "", "Kernel command line")
	dtbPath := flag.String("dtb", "", "Path to a precomputed device-tree blob (skips the built-in builder)")
	verbose := flag.Bool("v", false, "Enable verbose (debug) logging")
	yieldAfter := flag.Int("yield-after", 10000, "Instructions executed per scheduling batch")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Boot a flat RISC-V kernel image under the rv32vm emulator.\n\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	mc := config.Machine{Kernel: *kernelPath, Disk: *diskPath, DiskReadOnly: *diskReadOnly, MemoryMB: *memoryMB, Bootargs: *bootargs, DTB: *dtbPath}
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			return err
		}
		mc = mergeConfig(loaded, mc)
	}
	if mc.Kernel == "" {
		flag.Usage()
		return fmt.Errorf("-kernel or -config with a kernel path is required")
	}

	kernelData, err := os.ReadFile(mc.Kernel)
	if err != nil {
		return fmt.Errorf("read kernel image: %w", err)
	}

	var diskData []byte
	if mc.Disk != "" {
		diskData, err = loadDiskWithProgress(mc.Disk, logger)
		if err != nil {
			return fmt.Errorf("load disk image: %w", err)
		}
	}

	m := machine.New(uint32(mc.MemoryMB)*1024*1024, diskData, mc.DiskReadOnly, logger)
	m.UART.Output = os.Stdout

	if err := m.LoadKernel(kernelData); err != nil {
		return fmt.Errorf("load kernel into RAM: %w", err)
	}

	dtbBlob, err := buildOrLoadDTB(mc, uint32(mc.MemoryMB)*1024*1024)
	if err != nil {
		return fmt.Errorf("build device tree: %w", err)
	}
	if err := m.LoadDTB(dtbBlob); err != nil {
		return fmt.Errorf("load device tree into boot ROM: %w", err)
	}

	m.Boot(core.DRAMBase)
	m.Hart.Syscalls = &sbi.Table{UART: m.UART, CLINT: m.CLINT}

	if mc.UARTPassthrough {
		go pumpStdinToUART(os.Stdin, m.UART, logger)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("booting", "kernel", mc.Kernel, "memoryMB", mc.MemoryMB, "disk", mc.Disk)

	err = m.Run(ctx, *yieldAfter)
	if errors.Is(err, machine.ErrHalt) {
		logger.Info("machine halted")
		return nil
	}
	if errors.Is(err, context.Canceled) {
		logger.Info("interrupted")
		return nil
	}
	return err
}

// mergeConfig applies CLI flag overrides (flags) on top of a loaded YAML
// config (base). A flag wins only when its value differs from the flag's
// default (empty string, false, DefaultMemoryMB); a flag set explicitly to
// its default value does not override the file.
func mergeConfig(base, flags config.Machine) config.Machine {
	out := base
	if flags.Kernel != "" {
		out.Kernel = flags.Kernel
	}
	if flags.Disk != "" {
		out.Disk = flags.Disk
	}
	if flags.DiskReadOnly {
		out.DiskReadOnly = true
	}
	if flags.MemoryMB != config.DefaultMemoryMB {
		out.MemoryMB = flags.MemoryMB
	}
	if flags.Bootargs != "" {
		out.Bootargs = flags.Bootargs
	}
	if flags.DTB != "" {
		out.DTB = flags.DTB
	}
	return out
}

func loadDiskWithProgress(path string, logger *slog.Logger) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	bar := progressbar.DefaultBytes(info.Size(), "attaching disk")
	buf := make([]byte, info.Size())
	if _, err := io.CopyBuffer(io.MultiWriter(sliceWriter{buf}, bar), f, make([]byte, 1<<20)); err != nil {
		return nil, err
	}
	logger.Debug("disk attached", "path", path, "bytes", info.Size())
	return buf, nil
}

// sliceWriter makes a fixed-size byte slice an io.Writer, used to fan a
// single disk-image read into both the in-memory backing store and the
// progress bar via io.MultiWriter.
type sliceWriter struct{ buf []byte }

func (s sliceWriter) Write(p []byte) (int, error) {
	n := copy(s.buf, p)
	s.buf = s.buf[n:]
	return n, nil
}

func buildOrLoadDTB(mc config.Machine, ramSize uint32) ([]byte, error) {
	if mc.DTB != "" {
		return os.ReadFile(mc.DTB)
	}
	cfg := fdt.MachineConfig{
		MemBase:    uint64(core.DRAMBase),
		MemSize:    uint64(ramSize),
		CLINTBase:  uint64(core.CLINTBase),
		CLINTSize:  uint64(core.CLINTSize),
		PLICBase:   uint64(core.PLICBase),
		PLICSize:   uint64(core.PLICSize),
		UARTBase:   uint64(core.UARTBase),
		UARTSize:   uint64(core.UARTSize),
		UARTIRQ:    1,
		VirtioBase: uint64(core.VirtIOBase),
		VirtioSize: uint64(core.VirtIOSize),
		VirtioIRQ:  2,
		Bootargs:   mc.Bootargs,
	}
	return cfg.Build()
}

// pumpStdinToUART forwards host stdin bytes into the guest UART's input
// queue one read at a time; this is the "terminal I/O threading model" the
// spec leaves to the embedder rather than the core.
func pumpStdinToUART(r io.Reader, uart *devices.UART, logger *slog.Logger) {
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			uart.EnqueueInput(append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("stdin pump stopped", "error", err)
			}
			return
		}
	}
}
