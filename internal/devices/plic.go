package devices

import "sync"

// PLIC register offsets, matching the teacher's rv64 PLIC layout.
const (
	plicPriorityBase  = 0x000000
	plicPendingBase   = 0x001000
	plicEnableBase    = 0x002000
	plicThresholdBase = 0x200000
	plicContextStride = 0x1000

	plicMaxSources = 1024
)

// Context indices: this PLIC exposes exactly the two contexts a single
// hart needs -- machine-mode external interrupt and supervisor-mode
// external interrupt.
const (
	ContextMachine    = 0
	ContextSupervisor = 1
	plicContexts      = 2
)

// PLIC is the platform-level interrupt controller fanning device
// interrupt lines (UART, virtio-blk) into the hart's external interrupt
// pins, gated by per-context priority threshold and claim/complete.
type PLIC struct {
	target InterruptTarget
	mu     sync.Mutex

	priority [plicMaxSources]uint32
	pending  [plicMaxSources / 32]uint32
	enable   [plicContexts][plicMaxSources / 32]uint32
	threshold [plicContexts]uint32
	claimed   [plicContexts]uint32
}

// NewPLIC creates a PLIC wired to raise/clear MEIP/SEIP on target.
func NewPLIC(target InterruptTarget) *PLIC {
	return &PLIC{target: target}
}

func (p *PLIC) Size() uint32 { return 0x208000 }
func (p *PLIC) Tick()        {}

func (p *PLIC) Read(offset uint32, size int) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case offset < plicPendingBase:
		source := offset / 4
		if source < plicMaxSources {
			return p.priority[source], nil
		}
	case offset >= plicPendingBase && offset < plicEnableBase:
		word := (offset - plicPendingBase) / 4
		if int(word) < len(p.pending) {
			return p.pending[word], nil
		}
	case offset >= plicEnableBase && offset < plicThresholdBase:
		rel := offset - plicEnableBase
		ctx := rel / 0x80
		word := (rel % 0x80) / 4
		if int(ctx) < plicContexts && int(word) < len(p.enable[0]) {
			return p.enable[ctx][word], nil
		}
	case offset >= plicThresholdBase:
		rel := offset - plicThresholdBase
		ctx := rel / plicContextStride
		reg := rel % plicContextStride
		if int(ctx) < plicContexts {
			switch reg {
			case 0:
				return p.threshold[ctx], nil
			case 4:
				return p.claim(int(ctx)), nil
			}
		}
	}
	return 0, nil
}

func (p *PLIC) Write(offset uint32, size int, value uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case offset < plicPendingBase:
		source := offset / 4
		if source > 0 && source < plicMaxSources {
			p.priority[source] = value & 7
		}
	case offset >= plicEnableBase && offset < plicThresholdBase:
		rel := offset - plicEnableBase
		ctx := rel / 0x80
		word := (rel % 0x80) / 4
		if int(ctx) < plicContexts && int(word) < len(p.enable[0]) {
			p.enable[ctx][word] = value
		}
	case offset >= plicThresholdBase:
		rel := offset - plicThresholdBase
		ctx := rel / plicContextStride
		reg := rel % plicContextStride
		if int(ctx) < plicContexts {
			switch reg {
			case 0:
				p.threshold[ctx] = value & 7
			case 4:
				p.complete(int(ctx), value)
			}
		}
	}

	p.updateInterrupt()
	return nil
}

// SetPending marks source as pending, called by a device (UART, virtio-blk)
// whenever it wants to signal the PLIC it needs servicing.
func (p *PLIC) SetPending(source uint32, pending bool) {
	if source == 0 || source >= plicMaxSources {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	word, bit := source/32, source%32
	if pending {
		p.pending[word] |= 1 << bit
	} else {
		p.pending[word] &^= 1 << bit
	}
	p.updateInterrupt()
}

func (p *PLIC) claim(ctx int) uint32 {
	var bestSource, bestPriority uint32
	for source := uint32(1); source < plicMaxSources; source++ {
		word, bit := source/32, source%32
		if p.pending[word]&(1<<bit) == 0 {
			continue
		}
		if p.enable[ctx][word]&(1<<bit) == 0 {
			continue
		}
		prio := p.priority[source]
		if prio <= p.threshold[ctx] {
			continue
		}
		if prio > bestPriority {
			bestPriority = prio
			bestSource = source
		}
	}
	if bestSource != 0 {
		word, bit := bestSource/32, bestSource%32
		p.pending[word] &^= 1 << bit
		p.claimed[ctx] = bestSource
	}
	p.updateInterrupt()
	return bestSource
}

func (p *PLIC) complete(ctx int, source uint32) {
	if source == 0 || source >= plicMaxSources {
		return
	}
	if p.claimed[ctx] == source {
		p.claimed[ctx] = 0
	}
	p.updateInterrupt()
}

func (p *PLIC) updateInterrupt() {
	if p.hasPending(ContextMachine) {
		p.target.RaiseMIP(MipMEIP)
	} else {
		p.target.ClearMIP(MipMEIP)
	}
	if p.hasPending(ContextSupervisor) {
		p.target.RaiseMIP(MipSEIP)
	} else {
		p.target.ClearMIP(MipSEIP)
	}
}

func (p *PLIC) hasPending(ctx int) bool {
	for source := uint32(1); source < plicMaxSources; source++ {
		word, bit := source/32, source%32
		if p.pending[word]&(1<<bit) == 0 {
			continue
		}
		if p.enable[ctx][word]&(1<<bit) == 0 {
			continue
		}
		if p.priority[source] > p.threshold[ctx] {
			return true
		}
	}
	return false
}
