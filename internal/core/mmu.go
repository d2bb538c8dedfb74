package core

// Sv32 layout constants. A PTE is 4 bytes; its PPN field is 22 bits,
// giving a 34-bit physical address space even though virtual addresses
// stay 32-bit. There are exactly two levels, each indexed by 10 VPN bits.
const (
	pageSize  = 4096
	pageShift = 12
	vpnBits   = 10
	ppnBits   = 22

	pteV = 1 << 0
	pteR = 1 << 1
	pteW = 1 << 2
	pteX = 1 << 3
	pteU = 1 << 4
	pteG = 1 << 5
	pteA = 1 << 6
	pteD = 1 << 7

	satpModeBare = 0
	satpModeSv32 = 1
)

// access kinds passed to Translate.
const (
	AccessRead    = 0
	AccessWrite   = 1
	AccessExecute = 2
)

type tlbEntry struct {
	valid    bool
	vpn      uint32
	ppn      uint64 // up to 34-bit physical page number
	flags    uint32
	pageSize uint32
	asid     uint32
}

// FlushTLB invalidates every cached translation; called on a satp write
// and on SFENCE.VMA.
func (h *Hart) FlushTLB() {
	for i := range h.tlb {
		h.tlb[i].valid = false
	}
}

// Translate converts a virtual address to a physical one for the given
// access kind, walking the Sv32 page table on a TLB miss. M-mode bypasses
// translation entirely except through the MPRV/MPP override, matching
// §4.2 of the address translation contract.
func (h *Hart) Translate(vaddr uint32, access int) (uint32, error) {
	mode := (h.Satp >> 31) & 1
	if mode == satpModeBare {
		return vaddr, nil
	}

	priv := h.Priv
	if h.Priv == PrivMachine && access != AccessExecute && h.Mstatus&MstatusMPRV != 0 {
		priv = uint8((h.Mstatus & MstatusMPP) >> MstatusMPPShift)
	}
	if priv == PrivMachine {
		return vaddr, nil
	}

	vpn := vaddr >> pageShift
	idx := vpn & uint32(len(h.tlb)-1)
	entry := &h.tlb[idx]
	asid := (h.Satp >> 22) & 0x1ff

	if entry.valid && entry.vpn == vpn && (entry.asid == asid || entry.flags&pteG != 0) {
		if err := h.checkPermissions(entry.flags, access, priv, vaddr); err != nil {
			return 0, err
		}
		if entry.flags&pteA == 0 {
			entry.valid = false
		} else if access == AccessWrite && entry.flags&pteD == 0 {
			entry.valid = false
		} else {
			offset := vaddr & (entry.pageSize - 1)
			return uint32(entry.ppn<<pageShift) | offset, nil
		}
	}

	paddr, flags, psize, err := h.walkPageTable(vaddr, access, priv)
	if err != nil {
		return 0, err
	}

	entry.valid = true
	entry.vpn = vpn
	entry.ppn = uint64(paddr) >> pageShift
	entry.flags = flags
	entry.pageSize = psize
	entry.asid = asid

	return paddr, nil
}

// walkPageTable performs the two-level Sv32 walk described in §4.2: read
// PTE at level 1 (VPN[1]); if it's a non-leaf, descend to level 0 using
// VPN[0]; a leaf found at level 1 is a 4MiB superpage.
func (h *Hart) walkPageTable(vaddr uint32, access int, priv uint8) (uint32, uint32, uint32, error) {
	root := h.Satp & 0x3fffff // 22-bit PPN
	tableAddr := root << pageShift

	var pte uint32
	var pageSz uint32 = pageSize

	for level := 1; level >= 0; level-- {
		shift := pageShift + level*vpnBits
		vpn := (vaddr >> shift) & 0x3ff

		pteAddr := tableAddr + vpn*4
		val, err := h.Bus.Read32(pteAddr)
		if err != nil {
			return 0, 0, 0, h.pageFault(access, vaddr)
		}
		pte = val

		if pte&pteV == 0 {
			return 0, 0, 0, h.pageFault(access, vaddr)
		}
		if pte&pteR == 0 && pte&pteW != 0 {
			return 0, 0, 0, h.pageFault(access, vaddr)
		}

		if pte&(pteR|pteX) != 0 {
			// Leaf PTE.
			if level == 1 {
				// Misaligned superpage: PPN[0] must be zero.
				if (pte>>10)&0x3ff != 0 {
					return 0, 0, 0, h.pageFault(access, vaddr)
				}
				pageSz = 1 << (pageShift + vpnBits)
			}

			if err := h.checkPermissions(pte, access, priv, vaddr); err != nil {
				return 0, 0, 0, err
			}

			if pte&pteA == 0 || (access == AccessWrite && pte&pteD == 0) {
				newPte := pte | pteA
				if access == AccessWrite {
					newPte |= pteD
				}
				if err := h.Bus.Write32(pteAddr, newPte); err != nil {
					return 0, 0, 0, h.pageFault(access, vaddr)
				}
				pte = newPte
			}

			ppn := (pte >> 10) & 0x3fffff
			offset := vaddr & (pageSz - 1)
			if level == 1 {
				// Superpage: VPN[0] bits pass through into the PA.
				ppn = (ppn &^ 0x3ff) | ((vaddr >> pageShift) & 0x3ff)
			}
			return (ppn << pageShift) | offset, pte, pageSz, nil
		}

		// Non-leaf: descend using this PTE's PPN as the next table base.
		tableAddr = ((pte >> 10) & 0x3fffff) << pageShift
	}

	return 0, 0, 0, h.pageFault(access, vaddr)
}

// checkPermissions enforces R/W/X bits against the access kind and the
// U bit against current privilege, honoring SUM (supervisor access to
// user pages) and MXR (make executable readable).
func (h *Hart) checkPermissions(pte uint32, access int, priv uint8, vaddr uint32) error {
	if priv == PrivUser {
		if pte&pteU == 0 {
			return h.pageFault(access, vaddr)
		}
	} else {
		if pte&pteU != 0 && h.Mstatus&MstatusSUM == 0 {
			return h.pageFault(access, vaddr)
		}
	}

	switch access {
	case AccessRead:
		if pte&pteR == 0 {
			if h.Mstatus&MstatusMXR != 0 && pte&pteX != 0 {
				return nil
			}
			return h.pageFault(access, vaddr)
		}
	case AccessWrite:
		if pte&pteW == 0 {
			return h.pageFault(access, vaddr)
		}
	case AccessExecute:
		if pte&pteX == 0 {
			return h.pageFault(access, vaddr)
		}
	}
	return nil
}

func (h *Hart) pageFault(access int, vaddr uint32) error {
	switch access {
	case AccessRead:
		return Exception(CauseLoadPageFault, vaddr)
	case AccessWrite:
		return Exception(CauseStorePageFault, vaddr)
	default:
		return Exception(CauseInsnPageFault, vaddr)
	}
}

func (h *Hart) TranslateRead(vaddr uint32) (uint32, error)    { return h.Translate(vaddr, AccessRead) }
func (h *Hart) TranslateWrite(vaddr uint32) (uint32, error)   { return h.Translate(vaddr, AccessWrite) }
func (h *Hart) TranslateFetch(vaddr uint32) (uint32, error)   { return h.Translate(vaddr, AccessExecute) }
