package bus

import "testing"

func TestRegionReadWrite(t *testing.T) {
	r := NewRegion(16)
	if err := r.Write(0, 4, 0xdeadbeef); err != nil {
		t.Fatalf("Write: %v", err)
	}
	v, err := r.Read(0, 4)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if v != 0xdeadbeef {
		t.Fatalf("got 0x%x, want 0xdeadbeef", v)
	}
}

func TestRegionOutOfBounds(t *testing.T) {
	r := NewRegion(4)
	if _, err := r.Read(4, 4); err == nil {
		t.Fatalf("expected out-of-bounds read to fail")
	}
	if err := r.Write(1, 4, 0); err == nil {
		t.Fatalf("expected out-of-bounds write to fail")
	}
}

type stubDevice struct {
	base uint32
	val  uint32
	size uint32
}

func (s *stubDevice) Size() uint32 { return s.size }
func (s *stubDevice) Tick()        {}
func (s *stubDevice) Read(offset uint32, size int) (uint32, error) {
	return s.val + offset, nil
}
func (s *stubDevice) Write(offset uint32, size int, value uint32) error {
	s.val = value
	return nil
}

func TestBusRAMAndDeviceRouting(t *testing.T) {
	b := New(0x8000_0000, 0x1000)
	dev := &stubDevice{size: 0x100}
	b.Attach(0x1000_0000, dev)

	if err := b.Write32(0x8000_0004, 42); err != nil {
		t.Fatalf("RAM write: %v", err)
	}
	v, err := b.Read32(0x8000_0004)
	if err != nil || v != 42 {
		t.Fatalf("RAM read: got (%d, %v), want 42", v, err)
	}

	if err := b.Write32(0x1000_0010, 7); err != nil {
		t.Fatalf("device write: %v", err)
	}
	if dev.val != 7 {
		t.Fatalf("device.val = %d, want 7", dev.val)
	}
	v, err = b.Read32(0x1000_0014)
	if err != nil || v != 7+0x14 {
		t.Fatalf("device read: got (%d, %v), want %d", v, err, 7+0x14)
	}

	if _, err := b.Read32(0x2000_0000); err == nil {
		t.Fatalf("expected read to unmapped address to fail")
	}
}

func TestBusLoadBytesAndFetch(t *testing.T) {
	b := New(0x8000_0000, 0x1000)
	data := []byte{0x13, 0x00, 0x00, 0x00} // addi x0, x0, 0 (uncompressed)
	if err := b.LoadBytes(0x8000_0000, data); err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	insn, err := b.Fetch(0x8000_0000)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if insn != 0x00000013 {
		t.Fatalf("Fetch = 0x%x, want 0x13", insn)
	}
}

func TestBusFetchCompressed(t *testing.T) {
	b := New(0x8000_0000, 0x1000)
	// c.nop = 0x0001, low bits 01 mark it compressed (16-bit fetch only).
	if err := b.Write16(0x8000_0000, 0x0001); err != nil {
		t.Fatalf("Write16: %v", err)
	}
	insn, err := b.Fetch(0x8000_0000)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if insn != 0x0001 {
		t.Fatalf("Fetch = 0x%x, want 0x0001", insn)
	}
}

func TestBusTickPropagates(t *testing.T) {
	b := New(0x8000_0000, 0x10)
	dev := &tickingDevice{}
	b.Attach(0x1000_0000, dev)
	b.Tick()
	if !dev.ticked {
		t.Fatalf("expected device Tick to be called")
	}
}

type tickingDevice struct{ ticked bool }

func (d *tickingDevice) Size() uint32                                { return 0x10 }
func (d *tickingDevice) Tick()                                       { d.ticked = true }
func (d *tickingDevice) Read(offset uint32, size int) (uint32, error) { return 0, nil }
func (d *tickingDevice) Write(offset uint32, size int, value uint32) error {
	return nil
}
