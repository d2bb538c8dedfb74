package devices

import "testing"

func TestPLICClaimCompleteRoundTrip(t *testing.T) {
	target := &stubTarget{}
	p := NewPLIC(target)

	// Priority 1 for source 3, enabled for the supervisor context, threshold 0.
	if err := p.Write(3*4, 4, 1); err != nil {
		t.Fatalf("set priority: %v", err)
	}
	enableOff := uint32(plicEnableBase) + uint32(ContextSupervisor)*0x80
	if err := p.Write(enableOff, 4, 1<<3); err != nil {
		t.Fatalf("enable source: %v", err)
	}

	p.SetPending(3, true)

	if target.mip&MipSEIP == 0 {
		t.Fatalf("expected SEIP raised once a pending, enabled, above-threshold source exists")
	}

	claimOff := uint32(plicThresholdBase) + uint32(ContextSupervisor)*plicContextStride + 4
	claimed, err := p.Read(claimOff, 4)
	if err != nil {
		t.Fatalf("claim read: %v", err)
	}
	if claimed != 3 {
		t.Fatalf("claimed source = %d, want 3", claimed)
	}

	// After claim, SEIP should drop (nothing left pending).
	if target.mip&MipSEIP != 0 {
		t.Fatalf("expected SEIP cleared after claim drains the only pending source")
	}

	if err := p.Write(claimOff, 4, 3); err != nil { // complete
		t.Fatalf("complete: %v", err)
	}
}

func TestPLICThresholdGatesSource(t *testing.T) {
	target := &stubTarget{}
	p := NewPLIC(target)

	if err := p.Write(5*4, 4, 2); err != nil { // priority 2 for source 5
		t.Fatalf("set priority: %v", err)
	}
	enableOff := uint32(plicEnableBase) + uint32(ContextMachine)*0x80
	if err := p.Write(enableOff, 4, 1<<5); err != nil {
		t.Fatalf("enable source: %v", err)
	}
	thresholdOff := uint32(plicThresholdBase) + uint32(ContextMachine)*plicContextStride
	if err := p.Write(thresholdOff, 4, 2); err != nil { // threshold == priority: must not fire
		t.Fatalf("set threshold: %v", err)
	}

	p.SetPending(5, true)

	if target.mip&MipMEIP != 0 {
		t.Fatalf("expected MEIP to stay clear when priority does not exceed threshold")
	}
}

func TestPLICIgnoresSourceZero(t *testing.T) {
	target := &stubTarget{}
	p := NewPLIC(target)
	p.SetPending(0, true)
	if target.mip != 0 {
		t.Fatalf("source 0 must never raise an interrupt")
	}
}
