package devices

import "time"

// CLINT register offsets, matching the teacher's rv64 CLINT layout.
const (
	CLINTMsip     = 0x0000
	CLINTMtimecmp = 0x4000
	CLINTMtime    = 0xbff8
)

// CLINT is the core-local timer/software-interrupt unit described in the
// external interfaces: MSIP raises a machine software interrupt, MTIME
// free-runs, and MTIMECMP arms a machine timer interrupt once MTIME
// reaches it.
type CLINT struct {
	target InterruptTarget

	msip     uint32
	mtimecmp uint64

	start     time.Time
	nsPerTick uint64
}

// NewCLINT creates a CLINT wired to raise/clear mip on target.
func NewCLINT(target InterruptTarget) *CLINT {
	return &CLINT{
		target:    target,
		start:     time.Now(),
		nsPerTick: 100, // 10 MHz timer tick
		mtimecmp:  ^uint64(0),
	}
}

func (c *CLINT) Size() uint32 { return 0x10000 }

func (c *CLINT) mtime() uint64 {
	return uint64(time.Since(c.start).Nanoseconds()) / c.nsPerTick
}

func (c *CLINT) Read(offset uint32, size int) (uint32, error) {
	switch {
	case offset >= CLINTMsip && offset < CLINTMsip+4:
		return c.msip, nil
	case offset >= CLINTMtimecmp && offset < CLINTMtimecmp+8:
		return readSplit64(c.mtimecmp, offset-CLINTMtimecmp, size), nil
	case offset >= CLINTMtime && offset < CLINTMtime+8:
		return readSplit64(c.mtime(), offset-CLINTMtime, size), nil
	}
	return 0, nil
}

func (c *CLINT) Write(offset uint32, size int, value uint32) error {
	switch {
	case offset >= CLINTMsip && offset < CLINTMsip+4:
		if value&1 != 0 {
			c.msip = 1
			c.target.RaiseMIP(MipMSIP)
		} else {
			c.msip = 0
			c.target.ClearMIP(MipMSIP)
		}
	case offset >= CLINTMtimecmp && offset < CLINTMtimecmp+8:
		c.mtimecmp = writeSplit64(c.mtimecmp, offset-CLINTMtimecmp, size, value)
		if c.mtimecmp > c.mtime() {
			c.target.ClearMIP(MipMTIP)
		}
	}
	return nil
}

// SetTimecmp lets an SBI timer extension arm mtimecmp directly (the
// supervisor's `sbi_set_timer` call), clearing MTIP if the new deadline
// hasn't passed yet, matching the teacher's CLINT.SetTimecmp.
func (c *CLINT) SetTimecmp(value uint64) {
	c.mtimecmp = value
	if c.mtimecmp > c.mtime() {
		c.target.ClearMIP(MipMTIP)
	}
}

// Tick raises the machine timer interrupt once mtime reaches mtimecmp.
func (c *CLINT) Tick() {
	if c.mtime() >= c.mtimecmp {
		c.target.RaiseMIP(MipMTIP)
	}
}

// readSplit64/writeSplit64 let a 64-bit register (mtime, mtimecmp) be
// accessed with 1/2/4-byte bus operations, since Sv32/RV32 hosts commonly
// read it as two 32-bit halves.
func readSplit64(v uint64, rel uint32, size int) uint32 {
	shift := rel * 8
	mask := uint64(1)<<(uint(size)*8) - 1
	return uint32((v >> shift) & mask)
}

func writeSplit64(v uint64, rel uint32, size int, value uint32) uint64 {
	shift := rel * 8
	mask := uint64(1)<<(uint(size)*8) - 1
	return (v &^ (mask << shift)) | (uint64(value) << shift)
}
