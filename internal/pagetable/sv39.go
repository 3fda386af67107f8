// Package pagetable implements the Sv39 three-level page table walker
// (spec.md §4.1). The shape — map_one/unmap/find_pte_create/
// translate_va_to_pa/activate, plus a custom COW bit layered onto the
// hardware flags — follows biscuit's vm.Vm_t page manipulation
// (biscuit/src/vm/as.go: Page_insert/Page_remove/pmap_walk) retargeted
// from x86's 4-level PML4 to Sv39's 3-level layout and from 4KiB PTE
// flag bits to RISC-V's V/R/W/X/U/G/A/D encoding plus one reserved bit
// repurposed as COW, per spec.md §4.1.
package pagetable

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/duckos-rv/kernel/internal/frame"
)

// VPN is a virtual page number (Sv39: bits 12..38, 27 bits of VPN split
// into three 9-bit levels).
type VPN uint64

// PTE is a single Sv39 page table entry: 44-bit PPN in bits 10..53,
// flags in bits 0..9, with bit 8 (normally "U" adjacent reserved space)
// repurposed per spec.md §4.1 as the COW bit using one of the two
// reserved PTE bits (bits 8-9 are RSW, reserved for supervisor software
// use on real Sv39 hardware).
type PTE uint64

const (
	FlagV   PTE = 1 << 0 // valid
	FlagR   PTE = 1 << 1 // readable
	FlagW   PTE = 1 << 2 // writable
	FlagX   PTE = 1 << 3 // executable
	FlagU   PTE = 1 << 4 // user-accessible
	FlagG   PTE = 1 << 5 // global
	FlagA   PTE = 1 << 6 // accessed
	FlagD   PTE = 1 << 7 // dirty
	FlagCOW PTE = 1 << 8 // software: copy-on-write (RSW bit 0)

	flagsMask = PTE(0x3FF)
	ppnShift  = 10
)

func (p PTE) Valid() bool  { return p&FlagV != 0 }
func (p PTE) Write() bool  { return p&FlagW != 0 }
func (p PTE) User() bool   { return p&FlagU != 0 }
func (p PTE) COW() bool    { return p&FlagCOW != 0 }
func (p PTE) Leaf() bool   { return p.Valid() && (p&(FlagR|FlagX) != 0) }
func (p PTE) PPN() frame.PPN {
	return frame.PPN(p >> ppnShift)
}

func mkPTE(ppn frame.PPN, flags PTE) PTE {
	return PTE(ppn)<<ppnShift | (flags & flagsMask)
}

const (
	vpnBits  = 9
	vpnMask  = (1 << vpnBits) - 1
	pageSize = 1 << 12
)

func vpnPart(vpn VPN, level int) uint64 {
	return (uint64(vpn) >> (vpnBits * level)) & vpnMask
}

// Table is one address space's Sv39 page table: a root frame plus every
// interior-level frame it transitively owns. It does not own leaf data
// frames — those belong to internal/page.Page and internal/vmm.
type Table struct {
	alloc *frame.Allocator
	root  *frame.Frame
	log   logrus.FieldLogger

	// owned holds every interior-level frame allocated by findPTECreate.
	// Nothing in this package releases them; the list is kept for debugging.
	owned []*frame.Frame
}

// New allocates a fresh, empty Sv39 table (all 512 root-level slots
// invalid).
func New(alloc *frame.Allocator, log logrus.FieldLogger) *Table {
	root, ok := alloc.Alloc()
	if !ok {
		panic("pagetable: out of frames for root")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Table{alloc: alloc, root: root, log: log.WithField("subsystem", "pagetable")}
}

// NewUser allocates a fresh root and copies the kernel-half top-level
// PTEs (indices 256..511, the kernel half of the address space) from
// the global kernel page table. Only the top-level entries are copied,
// by value, into the new root; the interior frames they point to stay
// shared with the kernel table.
func NewUser(alloc *frame.Allocator, kernel *Table, log logrus.FieldLogger) *Table {
	t := New(alloc, log)
	krootEntries := entries(alloc, kernel.root.PPN())
	for i := 256; i < 512; i++ {
		storeEntry(alloc, t.root.PPN(), i, krootEntries[i])
	}
	return t
}

// RootPPN exposes the physical page holding the root table, as would be
// written into satp on activation.
func (t *Table) RootPPN() frame.PPN { return t.root.PPN() }

func entries(alloc *frame.Allocator, ppn frame.PPN) []PTE {
	b := alloc.Bytes(ppn)
	out := make([]PTE, 512)
	for i := range out {
		var v uint64
		for j := 0; j < 8; j++ {
			v |= uint64(b[i*8+j]) << (8 * j)
		}
		out[i] = PTE(v)
	}
	return out
}

func storeEntry(alloc *frame.Allocator, ppn frame.PPN, idx int, pte PTE) {
	b := alloc.Bytes(ppn)
	v := uint64(pte)
	for j := 0; j < 8; j++ {
		b[idx*8+j] = byte(v >> (8 * j))
	}
}

func loadEntry(alloc *frame.Allocator, ppn frame.PPN, idx int) PTE {
	b := alloc.Bytes(ppn)
	var v uint64
	for j := 0; j < 8; j++ {
		v |= uint64(b[idx*8+j]) << (8 * j)
	}
	return PTE(v)
}

// findPTECreate walks from the root to the leaf-level PTE for vpn,
// allocating and installing interior-level frames as needed (spec.md
// §4.1 "find_pte_create"). The returned (ppn, idx) identifies the leaf
// entry's storage; Table.Lookup, Table.Store, MapOne and Unmap read or
// write it via loadEntry/storeEntry.
func (t *Table) findPTECreate(vpn VPN, create bool) (frame.PPN, int, bool) {
	ppn := t.root.PPN()
	for level := 2; level > 0; level-- {
		idx := int(vpnPart(vpn, level))
		pte := loadEntry(t.alloc, ppn, idx)
		if !pte.Valid() {
			if !create {
				return 0, 0, false
			}
			nf, ok := t.alloc.Alloc()
			if !ok {
				return 0, 0, false
			}
			t.owned = append(t.owned, nf)
			npte := mkPTE(nf.PPN(), FlagV)
			storeEntry(t.alloc, ppn, idx, npte)
			ppn = nf.PPN()
			continue
		}
		if pte.Leaf() {
			panic("pagetable: interior PTE is unexpectedly a leaf")
		}
		ppn = pte.PPN()
	}
	idx := int(vpnPart(vpn, 0))
	return ppn, idx, true
}

// MapOne installs vpn -> ppn with the given flags. It is a kernel bug
// (panics) to map a VPN whose leaf PTE is already valid — spec.md §4.1
// calls this "fails (panic-level invariant)". A|D are always set in
// addition to the caller's flags, matching spec.md's "sets A|D|V in
// addition to the caller's flags".
func (t *Table) MapOne(vpn VPN, ppn frame.PPN, flags PTE) {
	leafPPN, idx, ok := t.findPTECreate(vpn, true)
	if !ok {
		panic("pagetable: out of frames while mapping")
	}
	existing := loadEntry(t.alloc, leafPPN, idx)
	if existing.Valid() {
		panic(fmt.Sprintf("pagetable: double map of vpn %#x", vpn))
	}
	pte := mkPTE(ppn, flags|FlagV|FlagA|FlagD)
	storeEntry(t.alloc, leafPPN, idx, pte)
}

// Unmap clears the leaf PTE for vpn. It is idempotent: an already-unmapped
// VPN is logged and ignored, per spec.md §4.1 ("missing mapping is a
// warning, not fatal").
func (t *Table) Unmap(vpn VPN) {
	leafPPN, idx, ok := t.findPTECreate(vpn, false)
	if !ok {
		t.log.WithField("vpn", fmt.Sprintf("%#x", vpn)).Warn("unmap of vpn with no interior mapping")
		return
	}
	pte := loadEntry(t.alloc, leafPPN, idx)
	if !pte.Valid() {
		t.log.WithField("vpn", fmt.Sprintf("%#x", vpn)).Warn("unmap of already-unmapped vpn")
		return
	}
	storeEntry(t.alloc, leafPPN, idx, 0)
}

// Lookup returns the leaf PTE for vpn without creating interior levels.
func (t *Table) Lookup(vpn VPN) (PTE, bool) {
	leafPPN, idx, ok := t.findPTECreate(vpn, false)
	if !ok {
		return 0, false
	}
	pte := loadEntry(t.alloc, leafPPN, idx)
	if !pte.Valid() {
		return 0, false
	}
	return pte, true
}

// Store overwrites the leaf PTE for vpn, creating interior levels if
// necessary. Used by the COW and mprotect paths to rewrite permission
// bits on an already-present mapping.
func (t *Table) Store(vpn VPN, pte PTE) {
	leafPPN, idx, ok := t.findPTECreate(vpn, true)
	if !ok {
		panic("pagetable: out of frames while storing pte")
	}
	storeEntry(t.alloc, leafPPN, idx, pte)
}

// TranslateVA translates a full virtual address to a physical address,
// per spec.md §4.1 "translate_va_to_pa". ok is false when no valid
// mapping covers va.
func (t *Table) TranslateVA(va uint64) (uint64, bool) {
	vpn := VPN(va >> 12)
	off := va & (pageSize - 1)
	pte, ok := t.Lookup(vpn)
	if !ok {
		return 0, false
	}
	return uint64(pte.PPN())<<12 | off, true
}

// Activate would write satp (mode=Sv39, ASID=0, PPN=root) and issue
// sfence.vma on real hardware; in this simulation it only emits a
// trace log naming the root PPN, and nothing records which table is
// the active one.
// Spec.md §4.1: "Callers must activate after any map/unmap that affects
// the current address space."
func (t *Table) Activate() {
	t.log.WithField("root_ppn", fmt.Sprintf("%#x", t.root.PPN())).Trace("activate")
}

// ClearUserHalf drops every valid leaf PTE in the user half of the
// address space (VPN < 256<<18, i.e. the first 256 top-level slots),
// used by exec's clear_user_space (spec.md §4.2). It does not free the
// underlying data frames; callers (vmm.MemorySet) must already have
// dropped the VMAs owning them.
func (t *Table) ClearUserHalf() {
	rootEntries := entries(t.alloc, t.root.PPN())
	for i := 0; i < 256; i++ {
		if rootEntries[i].Valid() {
			storeEntry(t.alloc, t.root.PPN(), i, 0)
		}
	}
}
