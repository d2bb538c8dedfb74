package devices

import (
	"io"
	"sync"
)

// 16550-compatible register offsets, matching the teacher's rv64 UART.
// Exported so an SBI legacy console extension can read/write the same
// registers a kernel's driver would, through the ordinary Read/Write path.
const (
	UARTRBR = 0
	UARTTHR = 0
	UARTIER = 1
	UARTIIR = 2
	UARTFCR = 2
	UARTLCR = 3
	UARTMCR = 4
	UARTLSR = 5
	UARTMSR = 6
	UARTSCR = 7

	uartRBR = UARTRBR
	uartTHR = UARTTHR
	uartIER = UARTIER
	uartIIR = UARTIIR
	uartFCR = UARTFCR
	uartLCR = UARTLCR
	uartMCR = UARTMCR
	uartLSR = UARTLSR
	uartMSR = UARTMSR
	uartSCR = UARTSCR
)

// LSR bits.
const (
	LSRDataReady = 1 << 0
	LSRTHREmpty  = 1 << 5
	LSRTxEmpty   = 1 << 6
)

const iirNoInterrupt = 1 << 0

// UART implements a minimal 16550-compatible serial port: output bytes go
// straight to Output, input bytes are pushed in by the embedder via
// EnqueueInput (there's no real backing terminal inside the core, matching
// spec.md's choice to keep the terminal I/O threading model an external
// concern).
type UART struct {
	Output io.Writer

	mu sync.Mutex

	ier, iir, fcr, lcr, mcr, lsr, msr, scr uint8
	dll, dlh                               uint8

	input    []byte
	inputPos int

	irqPending bool
	plic       *PLIC
	irqLine    uint32
}

// NewUART creates a UART. If plic is non-nil, it is notified via SetPending
// on irqLine whenever the UART's interrupt condition changes.
func NewUART(output io.Writer, plic *PLIC, irqLine uint32) *UART {
	return &UART{
		Output:  output,
		lsr:     LSRTHREmpty | LSRTxEmpty,
		iir:     iirNoInterrupt,
		plic:    plic,
		irqLine: irqLine,
	}
}

func (u *UART) Size() uint32 { return 0x100 }
func (u *UART) Tick()        {}

func (u *UART) Read(offset uint32, size int) (uint32, error) {
	if size != 1 {
		return 0, nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	dlab := u.lcr&0x80 != 0

	switch offset {
	case uartRBR:
		if dlab {
			return uint32(u.dll), nil
		}
		var data uint8
		if u.inputPos < len(u.input) {
			data = u.input[u.inputPos]
			u.inputPos++
			if u.inputPos >= len(u.input) {
				u.input = nil
				u.inputPos = 0
			}
		}
		u.updateLSR()
		u.updateInterrupt()
		return uint32(data), nil
	case uartIER:
		if dlab {
			return uint32(u.dlh), nil
		}
		return uint32(u.ier), nil
	case uartIIR:
		return uint32(u.iir), nil
	case uartLCR:
		return uint32(u.lcr), nil
	case uartMCR:
		return uint32(u.mcr), nil
	case uartLSR:
		u.updateLSR()
		return uint32(u.lsr), nil
	case uartMSR:
		return uint32(u.msr), nil
	case uartSCR:
		return uint32(u.scr), nil
	}
	return 0, nil
}

func (u *UART) Write(offset uint32, size int, value uint32) error {
	if size != 1 {
		return nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	data := uint8(value)
	dlab := u.lcr&0x80 != 0

	switch offset {
	case uartTHR:
		if dlab {
			u.dll = data
			return nil
		}
		if u.Output != nil {
			u.Output.Write([]byte{data})
		}
	case uartIER:
		if dlab {
			u.dlh = data
			return nil
		}
		u.ier = data
		u.updateInterrupt()
	case uartFCR:
		u.fcr = data
		if data&0x01 != 0 && data&0x02 != 0 {
			u.input = nil
			u.inputPos = 0
			u.updateInterrupt()
		}
	case uartLCR:
		u.lcr = data
	case uartMCR:
		u.mcr = data
	case uartSCR:
		u.scr = data
	}
	return nil
}

func (u *UART) updateLSR() {
	u.lsr = LSRTHREmpty | LSRTxEmpty
	if u.inputPos < len(u.input) {
		u.lsr |= LSRDataReady
	}
}

func (u *UART) updateInterrupt() {
	pending := false
	if u.ier&0x01 != 0 && u.inputPos < len(u.input) {
		pending = true
		u.iir = 0x04
	} else if u.ier&0x02 != 0 {
		pending = true
		u.iir = 0x02
	} else {
		u.iir = iirNoInterrupt
	}

	if pending != u.irqPending {
		u.irqPending = pending
		if u.plic != nil {
			u.plic.SetPending(u.irqLine, pending)
		}
	}
}

// EnqueueInput appends bytes for the guest to read, e.g. from a
// line-discipline goroutine the embedder owns.
func (u *UART) EnqueueInput(data []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.input = append(u.input, data...)
	u.updateLSR()
	u.updateInterrupt()
}
