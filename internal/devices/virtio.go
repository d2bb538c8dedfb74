package devices

import (
	"sync"

	"github.com/tinyrange/rv32emu/internal/bus"
)

// Legacy virtio-mmio register offsets (virtio spec 1.0 "legacy interface"):
// queues are described by a single physical page number (QueuePFN) plus a
// guest-chosen page size and alignment, rather than the three independent
// desc/avail/used addresses the non-legacy (v2) layout uses.
const (
	vioMagic          = 0x000
	vioVersion        = 0x004
	vioDeviceID       = 0x008
	vioVendorID       = 0x00c
	vioHostFeatures   = 0x010
	vioHostFeatSel    = 0x014
	vioGuestFeatures  = 0x020
	vioGuestFeatSel   = 0x024
	vioGuestPageSize  = 0x028
	vioQueueSel       = 0x030
	vioQueueNumMax    = 0x034
	vioQueueNum       = 0x038
	vioQueueAlign     = 0x03c
	vioQueuePFN       = 0x040
	vioQueueNotify    = 0x050
	vioInterruptStat  = 0x060
	vioInterruptAck   = 0x064
	vioStatus         = 0x070
	vioConfigSpace    = 0x100
)

const (
	vioMagicValue   = 0x74726976 // "virt"
	vioLegacyVer    = 1
	vioDeviceIDBlk  = 2
	vioVendorQEMU   = 0x554d4551
	vioQueueNumMaxN = 256
)

// VRING_DESC_F_* flag bits, matching the teacher's ccvm virtio descriptor
// flags.
const (
	vringDescFNext  = 1
	vringDescFWrite = 2
)

// virtio-blk request types and status codes (virtio spec §5.2).
const (
	blkTypeIn    = 0
	blkTypeOut   = 1
	blkTypeFlush = 4

	blkStatusOK     = 0
	blkStatusIOErr  = 1
	blkStatusUnsupp = 2

	blkSectorSize = 512
)

// virtQueue holds the legacy virtio-mmio queue registers: the guest
// communicates the queue's location as a single page number (pfn) plus
// negotiated size/alignment, and the desc/avail/used ring addresses are
// derived from those per the virtio 1.0 legacy layout (see processQueue).
type virtQueue struct {
	num          uint32
	align        uint32
	pfn          uint32
	lastAvailIdx uint16
}

type vdesc struct {
	addr  uint64
	len   uint32
	flags uint16
	next  uint16
}

// BlockDevice is a minimal legacy virtio-mmio block device: one request
// queue, synchronous completion against an in-memory disk image. Grounded
// on the teacher's ccvm virtio.go/virtblock.go, adapted from its modern
// (v2) desc/avail/used-address registers to the legacy QueuePFN layout and
// from VM-private memory access to the shared bus.
type BlockDevice struct {
	mu  sync.Mutex
	bus *bus.Bus

	plic    *PLIC
	irqLine uint32

	hostFeaturesSel  uint32
	guestFeatures    uint32
	guestFeaturesSel uint32
	guestPageSize    uint32
	queueSel         uint32
	queue            virtQueue
	status           uint32
	intStatus        uint32

	image []byte

	readOnly bool
}

// NewBlockDevice creates a virtio-blk device backed by image (the raw
// contents of a disk file). A nil or empty image still presents a
// zero-capacity, usable device.
func NewBlockDevice(b *bus.Bus, image []byte, readOnly bool, plic *PLIC, irqLine uint32) *BlockDevice {
	return &BlockDevice{
		bus:      b,
		plic:     plic,
		irqLine:  irqLine,
		image:    image,
		readOnly: readOnly,
	}
}

func (d *BlockDevice) Size() uint32 { return 0x1000 }
func (d *BlockDevice) Tick()        {}

func (d *BlockDevice) Read(offset uint32, size int) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if offset >= vioConfigSpace {
		return d.readConfig(offset - vioConfigSpace, size), nil
	}

	switch offset {
	case vioMagic:
		return vioMagicValue, nil
	case vioVersion:
		return vioLegacyVer, nil
	case vioDeviceID:
		return vioDeviceIDBlk, nil
	case vioVendorID:
		return vioVendorQEMU, nil
	case vioHostFeatures:
		return 0, nil // no optional features advertised
	case vioQueueNumMax:
		return vioQueueNumMaxN, nil
	case vioQueuePFN:
		return d.queue.pfn, nil
	case vioInterruptStat:
		return d.intStatus, nil
	case vioStatus:
		return d.status, nil
	}
	return 0, nil
}

func (d *BlockDevice) Write(offset uint32, size int, value uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch offset {
	case vioHostFeatSel:
		d.hostFeaturesSel = value
	case vioGuestFeatures:
		d.guestFeatures = value
	case vioGuestFeatSel:
		d.guestFeaturesSel = value
	case vioGuestPageSize:
		d.guestPageSize = value
	case vioQueueSel:
		d.queueSel = value
	case vioQueueNum:
		d.queue.num = value
	case vioQueueAlign:
		d.queue.align = value
	case vioQueuePFN:
		d.queue.pfn = value
	case vioQueueNotify:
		d.processQueue()
	case vioInterruptAck:
		d.intStatus &^= value
		if d.intStatus == 0 && d.plic != nil {
			d.plic.SetPending(d.irqLine, false)
		}
	case vioStatus:
		d.status = value
		if value == 0 {
			d.queue = virtQueue{}
		}
	}
	return nil
}

func (d *BlockDevice) readConfig(off uint32, size int) uint32 {
	capacity := uint64(len(d.image)) / blkSectorSize
	var buf [8]byte
	cpuPutUint64(buf[:], capacity)
	if int(off)+size > len(buf) {
		return 0
	}
	switch size {
	case 1:
		return uint32(buf[off])
	case 2:
		return uint32(buf[off]) | uint32(buf[off+1])<<8
	case 4:
		return uint32(buf[off]) | uint32(buf[off+1])<<8 | uint32(buf[off+2])<<16 | uint32(buf[off+3])<<24
	}
	return 0
}

func (q *virtQueue) descAt(b *bus.Bus, pageSize uint32, descIdx uint16) (vdesc, error) {
	base := q.pfn*pageSize + uint32(descIdx)*16
	lo, err := b.Read32(base)
	if err != nil {
		return vdesc{}, err
	}
	hi, err := b.Read32(base + 4)
	if err != nil {
		return vdesc{}, err
	}
	length, err := b.Read32(base + 8)
	if err != nil {
		return vdesc{}, err
	}
	flagsNext, err := b.Read32(base + 12)
	if err != nil {
		return vdesc{}, err
	}
	return vdesc{
		addr:  uint64(lo) | uint64(hi)<<32,
		len:   length,
		flags: uint16(flagsNext & 0xffff),
		next:  uint16(flagsNext >> 16),
	}, nil
}

// processQueue drains every available descriptor chain posted since the
// last notification, handling each as one virtio-blk request.
func (d *BlockDevice) processQueue() {
	if d.queue.num == 0 || d.guestPageSize == 0 {
		return
	}
	pageSize := d.guestPageSize
	descBase := d.queue.pfn * pageSize
	availBase := descBase + 16*d.queue.num
	alignArg := d.queue.align
	if alignArg == 0 {
		alignArg = 1
	}
	usedBase := (availBase + 4 + 2*d.queue.num + 2 + alignArg - 1) &^ (alignArg - 1)

	availIdx32, err := d.bus.Read32(availBase) // flags(low16) | idx(high16)
	if err != nil {
		return
	}
	availIdx := uint16(availIdx32 >> 16)

	for d.queue.lastAvailIdx != availIdx {
		ringSlot := uint32(d.queue.lastAvailIdx) % d.queue.num
		descIdxWord, err := d.bus.Read32(availBase + 4 + (ringSlot&^1)*2)
		if err != nil {
			return
		}
		var descIdx uint16
		if ringSlot%2 == 0 {
			descIdx = uint16(descIdxWord & 0xffff)
		} else {
			descIdx = uint16(descIdxWord >> 16)
		}

		written := d.handleRequest(pageSize, descIdx)
		d.addUsed(usedBase, descIdx, written)

		d.queue.lastAvailIdx++
		availIdx32, err = d.bus.Read32(availBase)
		if err != nil {
			return
		}
		availIdx = uint16(availIdx32 >> 16)
	}
}

// handleRequest walks one descriptor chain (header, data, status) and
// performs the read/write against the backing image, returning the number
// of bytes written into guest-writable descriptors (for the used ring).
func (d *BlockDevice) handleRequest(pageSize uint32, headDescIdx uint16) uint32 {
	descIdx := headDescIdx
	desc, err := d.queue.descAt(d.bus, pageSize, descIdx)
	if err != nil || desc.flags&vringDescFWrite != 0 || desc.len < 16 {
		return 0
	}

	hdr := make([]byte, 16)
	for i := uint32(0); i < 16 && i < desc.len; i += 4 {
		w, err := d.bus.Read32(uint32(desc.addr) + i)
		if err != nil {
			return 0
		}
		hdr[i] = byte(w)
		hdr[i+1] = byte(w >> 8)
		hdr[i+2] = byte(w >> 16)
		hdr[i+3] = byte(w >> 24)
	}
	reqType := uint32(hdr[0]) | uint32(hdr[1])<<8 | uint32(hdr[2])<<16 | uint32(hdr[3])<<24
	sector := uint64(0)
	for i := 0; i < 8; i++ {
		sector |= uint64(hdr[8+i]) << (8 * i)
	}

	if desc.flags&vringDescFNext == 0 {
		return 0
	}
	descIdx = desc.next
	desc, err = d.queue.descAt(d.bus, pageSize, descIdx)
	if err != nil {
		return 0
	}

	// dataDescIdx/dataDesc stay put at the data descriptor so every exit
	// path below can still find the status descriptor that follows it,
	// rather than mistakenly writing the status byte over the data
	// descriptor's own buffer.
	dataDescIdx, dataDesc := descIdx, desc

	var written uint32
	switch reqType {
	case blkTypeIn:
		if desc.flags&vringDescFWrite == 0 {
			d.writeStatusAfter(pageSize, dataDescIdx, dataDesc, blkStatusUnsupp)
			return 0
		}
		off := sector * blkSectorSize
		n := desc.len
		if off+uint64(n) > uint64(len(d.image)) {
			if off < uint64(len(d.image)) {
				n = uint32(uint64(len(d.image)) - off)
			} else {
				n = 0
			}
		}
		for i := uint32(0); i < n; i++ {
			if err := d.bus.Write8(uint32(desc.addr)+i, d.image[off+uint64(i)]); err != nil {
				break
			}
		}
		written = desc.len
	case blkTypeOut:
		if desc.flags&vringDescFWrite != 0 {
			d.writeStatusAfter(pageSize, dataDescIdx, dataDesc, blkStatusUnsupp)
			return 0
		}
		if d.readOnly {
			d.writeStatusAfter(pageSize, dataDescIdx, dataDesc, blkStatusIOErr)
			return 0
		}
		off := sector * blkSectorSize
		n := desc.len
		if off+uint64(n) > uint64(len(d.image)) {
			if off >= uint64(len(d.image)) {
				n = 0
			} else {
				n = uint32(uint64(len(d.image)) - off)
			}
		}
		for i := uint32(0); i < n; i++ {
			b, err := d.bus.Read8(uint32(desc.addr) + i)
			if err != nil {
				break
			}
			d.image[off+uint64(i)] = b
		}
	case blkTypeFlush:
		// no-op: writes already land directly in the in-memory image.
	}

	if desc.flags&vringDescFNext != 0 {
		descIdx = desc.next
		d.writeStatus(pageSize, descIdx, blkStatusOK)
	}

	return written
}

func (d *BlockDevice) writeStatus(pageSize uint32, descIdx uint16, status byte) {
	desc, err := d.queue.descAt(d.bus, pageSize, descIdx)
	if err != nil || desc.len < 1 {
		return
	}
	d.bus.Write8(uint32(desc.addr), status)
}

// writeStatusAfter writes status to the descriptor chained after dataDesc
// (the status descriptor), used by early-exit paths in handleRequest that
// bail out while dataDesc/dataDescIdx still refer to the data descriptor,
// not the status one.
func (d *BlockDevice) writeStatusAfter(pageSize uint32, dataDescIdx uint16, dataDesc vdesc, status byte) {
	if dataDesc.flags&vringDescFNext == 0 {
		return
	}
	d.writeStatus(pageSize, dataDesc.next, status)
}

func (d *BlockDevice) addUsed(usedBase uint32, descIdx uint16, length uint32) {
	idxWord, err := d.bus.Read32(usedBase) // flags(low16) | idx(high16)
	if err != nil {
		return
	}
	idx := uint16(idxWord >> 16)

	slot := uint32(idx) % d.queue.num
	elemAddr := usedBase + 4 + slot*8
	d.bus.Write32(elemAddr, uint32(descIdx))
	d.bus.Write32(elemAddr+4, length)

	newIdxWord := uint32(idxWord&0xffff) | uint32(idx+1)<<16
	d.bus.Write32(usedBase, newIdxWord)

	d.intStatus |= 1
	if d.plic != nil {
		d.plic.SetPending(d.irqLine, true)
	}
}

func cpuPutUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
