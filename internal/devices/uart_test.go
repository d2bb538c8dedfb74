package devices

import (
	"bytes"
	"testing"
)

func TestUARTWriteTHRGoesToOutput(t *testing.T) {
	var buf bytes.Buffer
	u := NewUART(&buf, nil, 1)

	if err := u.Write(UARTTHR, 1, uint32('A')); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if buf.String() != "A" {
		t.Fatalf("output = %q, want %q", buf.String(), "A")
	}
}

func TestUARTEnqueueAndReadInput(t *testing.T) {
	u := NewUART(nil, nil, 1)
	u.EnqueueInput([]byte("hi"))

	lsr, err := u.Read(UARTLSR, 1)
	if err != nil {
		t.Fatalf("Read LSR: %v", err)
	}
	if lsr&LSRDataReady == 0 {
		t.Fatalf("expected LSRDataReady after EnqueueInput")
	}

	v, err := u.Read(UARTRBR, 1)
	if err != nil {
		t.Fatalf("Read RBR: %v", err)
	}
	if v != 'h' {
		t.Fatalf("got %q, want 'h'", v)
	}
	v, _ = u.Read(UARTRBR, 1)
	if v != 'i' {
		t.Fatalf("got %q, want 'i'", v)
	}

	lsr, _ = u.Read(UARTLSR, 1)
	if lsr&LSRDataReady != 0 {
		t.Fatalf("expected LSRDataReady clear once input is drained")
	}
}

func TestUARTDLABSwitchesRBRToDivisor(t *testing.T) {
	u := NewUART(nil, nil, 1)
	if err := u.Write(UARTLCR, 1, 0x80); err != nil { // set DLAB
		t.Fatalf("Write LCR: %v", err)
	}
	if err := u.Write(UARTRBR, 1, 0x42); err != nil { // writes DLL while DLAB set
		t.Fatalf("Write DLL: %v", err)
	}
	v, err := u.Read(UARTRBR, 1)
	if err != nil {
		t.Fatalf("Read DLL: %v", err)
	}
	if v != 0x42 {
		t.Fatalf("DLL = 0x%x, want 0x42", v)
	}
}

func TestUARTRaisesPLICOnInputWhenIERSet(t *testing.T) {
	target := &stubTarget{}
	plic := NewPLIC(target)
	u := NewUART(nil, plic, 5)

	if err := u.Write(UARTIER, 1, 0x01); err != nil { // enable "data available" interrupt
		t.Fatalf("Write IER: %v", err)
	}
	// Route source 5 through to the machine context so PLIC's internal
	// state change is observable via RaiseMIP.
	enableOff := uint32(plicEnableBase) + uint32(ContextMachine)*0x80
	if err := plic.Write(enableOff, 4, 1<<5); err != nil {
		t.Fatalf("enable source: %v", err)
	}
	if err := plic.Write(5*4, 4, 1); err != nil { // priority
		t.Fatalf("set priority: %v", err)
	}

	u.EnqueueInput([]byte("x"))

	if target.mip&MipMEIP == 0 {
		t.Fatalf("expected UART input to raise PLIC source 5 through to MEIP")
	}
}
