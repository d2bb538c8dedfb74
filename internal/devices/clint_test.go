package devices

import "testing"

type stubTarget struct {
	mip uint32
}

func (s *stubTarget) RaiseMIP(bits uint32) { s.mip |= bits }
func (s *stubTarget) ClearMIP(bits uint32) { s.mip &^= bits }

func TestCLINTMsipRaisesAndClearsMSIP(t *testing.T) {
	target := &stubTarget{}
	c := NewCLINT(target)

	if err := c.Write(CLINTMsip, 4, 1); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if target.mip&MipMSIP == 0 {
		t.Fatalf("expected MipMSIP set")
	}

	if err := c.Write(CLINTMsip, 4, 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if target.mip&MipMSIP != 0 {
		t.Fatalf("expected MipMSIP cleared")
	}
}

func TestCLINTSetTimecmpArmsTimer(t *testing.T) {
	target := &stubTarget{}
	c := NewCLINT(target)

	c.SetTimecmp(0) // already past, Tick should raise immediately
	c.Tick()
	if target.mip&MipMTIP == 0 {
		t.Fatalf("expected MipMTIP set once mtime passes mtimecmp")
	}
}

func TestCLINTSetTimecmpFutureClearsMTIP(t *testing.T) {
	target := &stubTarget{mip: MipMTIP}
	c := NewCLINT(target)

	c.SetTimecmp(^uint64(0)) // far future
	if target.mip&MipMTIP != 0 {
		t.Fatalf("expected MipMTIP cleared when deadline is in the future")
	}
}

func TestCLINTMtimeReadSplitAcrossWords(t *testing.T) {
	target := &stubTarget{}
	c := NewCLINT(target)

	lo, err := c.Read(CLINTMtime, 4)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	hi, err := c.Read(CLINTMtime+4, 4)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	// mtime free-runs from process start; just confirm the two halves
	// reassemble into a value no smaller than the low word alone implies.
	full := uint64(lo) | uint64(hi)<<32
	if full < uint64(lo) {
		t.Fatalf("reassembled mtime overflowed: lo=%d hi=%d", lo, hi)
	}
}
