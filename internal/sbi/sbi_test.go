package sbi

import (
	"bytes"
	"testing"

	"github.com/tinyrange/rv32emu/internal/bus"
	"github.com/tinyrange/rv32emu/internal/core"
	"github.com/tinyrange/rv32emu/internal/devices"
)

func newHart() *core.Hart {
	b := bus.New(core.DRAMBase, 0x1000)
	h := core.New(b)
	h.Priv = core.PrivSupervisor
	return h
}

func TestSyscallIgnoresNonSupervisorMode(t *testing.T) {
	h := newHart()
	h.Priv = core.PrivUser
	table := &Table{}
	if table.Syscall(h, extBase) {
		t.Fatalf("expected Syscall to decline handling outside supervisor mode")
	}
}

func TestBaseGetSpecVersion(t *testing.T) {
	h := newHart()
	h.WriteReg(17, extBase) // a7
	h.WriteReg(16, baseGetSpecVersion) // a6
	table := &Table{}
	if !table.Syscall(h, extBase) {
		t.Fatalf("expected Syscall to handle the base extension")
	}
	if h.ReadReg(10) != success {
		t.Fatalf("a0 = %d, want success", h.ReadReg(10))
	}
	if h.ReadReg(11) != 0x01000000 {
		t.Fatalf("a1 = 0x%x, want spec version 1.0", h.ReadReg(11))
	}
}

func TestBaseProbeExtension(t *testing.T) {
	h := newHart()
	table := &Table{}
	h.WriteReg(16, baseProbeExtension)
	h.WriteReg(10, extTimer)
	table.Syscall(h, extBase)
	if h.ReadReg(11) != 1 {
		t.Fatalf("expected probing a supported extension to return 1")
	}

	h.WriteReg(16, baseProbeExtension)
	h.WriteReg(10, 0xdeadbeef)
	table.Syscall(h, extBase)
	if h.ReadReg(11) != 0 {
		t.Fatalf("expected probing an unsupported extension to return 0")
	}
}

func TestUnknownExtensionReturnsNotSupported(t *testing.T) {
	h := newHart()
	table := &Table{}
	table.Syscall(h, 0xdeadbeef)
	if h.ReadReg(10) != errNotSupported {
		t.Fatalf("a0 = 0x%x, want errNotSupported", h.ReadReg(10))
	}
}

func TestSRSTHaltsTheHart(t *testing.T) {
	h := newHart()
	table := &Table{}
	if !table.Syscall(h, extSRST) {
		t.Fatalf("expected Syscall to handle SRST")
	}
	if !h.Halted {
		t.Fatalf("expected SRST to set Hart.Halted")
	}
}

func TestTimerSetTimerArmsCLINT(t *testing.T) {
	h := newHart()
	clint := devices.NewCLINT(h)
	table := &Table{CLINT: clint}

	h.WriteReg(17, extTimer)
	h.WriteReg(16, timerSetTimer)
	h.WriteReg(10, 0) // stime: already past, so MTIP should assert on next Tick

	if !table.Syscall(h, extTimer) {
		t.Fatalf("expected Syscall to handle the timer extension")
	}
	clint.Tick()
	if h.Mip&core.MipMTIP == 0 {
		t.Fatalf("expected sbi_set_timer(0) to arm an already-due timer interrupt")
	}
}

func TestLegacyPutcharWritesUART(t *testing.T) {
	h := newHart()
	var out bytes.Buffer
	uart := devices.NewUART(&out, nil, 1)
	table := &Table{UART: uart}

	h.WriteReg(17, extLegacyPutchar)
	h.WriteReg(10, uint32('Z'))
	if !table.Syscall(h, extLegacyPutchar) {
		t.Fatalf("expected Syscall to handle legacy putchar")
	}
	if out.String() != "Z" {
		t.Fatalf("UART output = %q, want %q", out.String(), "Z")
	}
	if h.ReadReg(10) != success {
		t.Fatalf("a0 = %d, want success", h.ReadReg(10))
	}
}

func TestLegacyGetcharReadsUART(t *testing.T) {
	h := newHart()
	uart := devices.NewUART(nil, nil, 1)
	uart.EnqueueInput([]byte("Q"))
	table := &Table{UART: uart}

	h.WriteReg(17, extLegacyGetchar)
	table.Syscall(h, extLegacyGetchar)
	if h.ReadReg(11) != uint32('Q') {
		t.Fatalf("a1 = %d, want 'Q'", h.ReadReg(11))
	}
}

func TestLegacyGetcharNoInputReturnsAllOnes(t *testing.T) {
	h := newHart()
	uart := devices.NewUART(nil, nil, 1)
	table := &Table{UART: uart}

	h.WriteReg(17, extLegacyGetchar)
	table.Syscall(h, extLegacyGetchar)
	if h.ReadReg(11) != 0xffffffff {
		t.Fatalf("a1 = 0x%x, want 0xffffffff when no input is queued", h.ReadReg(11))
	}
}

func TestHSMHartStatus(t *testing.T) {
	h := newHart()
	table := &Table{}

	h.WriteReg(17, extHSM)
	h.WriteReg(16, hsmHartStatus)
	h.WriteReg(10, 0)
	table.Syscall(h, extHSM)
	if h.ReadReg(10) != success {
		t.Fatalf("a0 = %d, want success for hart 0", h.ReadReg(10))
	}

	h.WriteReg(10, 1)
	table.Syscall(h, extHSM)
	if h.ReadReg(10) != errInvalidParam {
		t.Fatalf("a0 = %d, want errInvalidParam for a nonexistent hart", h.ReadReg(10))
	}
}
