package vmm

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/duckos-rv/kernel/internal/bootconfig"
	"github.com/duckos-rv/kernel/internal/frame"
	"github.com/duckos-rv/kernel/internal/kernelerr"
	"github.com/duckos-rv/kernel/internal/kutil"
	"github.com/duckos-rv/kernel/internal/page"
	"github.com/duckos-rv/kernel/internal/pagetable"
)

// FaultCause mirrors the scause values the trap dispatcher decodes
// before calling HandlePageFault (spec.md §4.7: "page faults (all six
// flavours enumerated)"). Only whether the fault was a write matters to
// the handlers below; the distinction between instruction/load/store
// page faults is made by the trap layer before it gets here.
type FaultCause int

const (
	FaultRead FaultCause = iota
	FaultWrite
	FaultExec
)

// MemorySet is one process's address space: page table, ordered VMAs,
// heap cursor, and COW shadow map (spec.md §3 "Address space").
// All VMA/page-table mutation is serialized by mu, per spec.md §5
// ("within a single address space, all VM mutations are serialised by
// the address-space lock").
type MemorySet struct {
	mu sync.Mutex

	cfg   bootconfig.Config
	alloc *frame.Allocator
	table *pagetable.Table
	log   logrus.FieldLogger

	vmas    vmaList
	heapEnd uintptr

	// cowShadow holds, per VPN, the Page that was privately mapped
	// before a fork enabled COW on it — spec.md §3 "COW shadow map
	// (VPN -> Page that was previously private before COW'd)".
	cowShadow map[uintptr]*page.Page
}

// New creates an address space sharing the kernel half of kernelTable
// (spec.md §4.2: "Kernel-half PTEs... cloned from the global kernel
// address space at construction").
func New(alloc *frame.Allocator, kernelTable *pagetable.Table, cfg bootconfig.Config, log logrus.FieldLogger) *MemorySet {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &MemorySet{
		cfg:       cfg,
		alloc:     alloc,
		table:     pagetable.NewUser(alloc, kernelTable, log),
		log:       log.WithField("subsystem", "vmm"),
		cowShadow: make(map[uintptr]*page.Page),
	}
}

func (m *MemorySet) Table() *pagetable.Table { return m.table }

func pageAlign(v uintptr, shift uint) uintptr {
	mask := uintptr(1)<<shift - 1
	return v &^ mask
}

func pageRoundUp(v uintptr, shift uint) uintptr {
	mask := uintptr(1)<<shift - 1
	return (v + mask) &^ mask
}

// AllocVMAFixed installs a new VMA at exactly [start, end), unmapping
// any page-granular overlap first (spec.md §4.2 alloc_vma_fixed).
func (m *MemorySet) AllocVMAFixed(start, end uintptr, perm page.Perm, mt MapType, h HandlerKind, backing *FileBacking) *VMA {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unmapLocked(start, end)
	v := newVMA(start, end, perm, mt, h, backing)
	m.vmas.insertSorted(v)
	return v
}

// AllocVMAAnywhere finds the lowest gap >= hint (clamped to MmapBottom)
// of length lenBytes within [MmapBottom, MmapTop) and installs a VMA
// there, returning its start (spec.md §4.2 alloc_vma_anywhere).
func (m *MemorySet) AllocVMAAnywhere(hint uintptr, lenBytes uintptr, perm page.Perm, mt MapType, h HandlerKind, backing *FileBacking) (uintptr, kernelerr.Errno) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start, ok := m.vmas.lowestGap(hint, lenBytes, m.cfg.MmapBottom, m.cfg.MmapTop)
	if !ok {
		return 0, kernelerr.ENOMEM
	}
	v := newVMA(start, start+lenBytes, perm, mt, h, backing)
	m.vmas.insertSorted(v)
	return start, 0
}

// Mmap installs vma (already constructed by one of the AllocVMA*
// helpers above) without populating any pages — spec.md §4.2: "pages
// are NOT populated (pure lazy allocation)".
func (m *MemorySet) Mmap(v *VMA) uintptr {
	return v.Start
}

// Munmap unmaps [start, end), splitting/shrinking/dropping every
// overlapping VMA as needed, releasing every present page in the
// removed range, then activating the table (spec.md §4.2 munmap).
func (m *MemorySet) Munmap(start, end uintptr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unmapLocked(start, end)
	m.table.Activate()
}

func (m *MemorySet) unmapLocked(start, end uintptr) {
	shift := m.cfg.PageShift
	start = pageAlign(start, shift)
	end = pageRoundUp(end, shift)
	for _, v := range m.vmas.overlapping(start, end) {
		m.removeRangeFromVMA(v, start, end)
	}
}

// removeRangeFromVMA implements the four cases spec.md §4.2 describes
// for munmap: drop entirely, shrink left, shrink right, or split into
// two surviving VMAs. Sub-page (non-page-granular) unmap is explicitly
// out of scope per spec.md §9's open question.
func (m *MemorySet) removeRangeFromVMA(v *VMA, start, end uintptr) {
	lo := kutil.Max(v.Start, start)
	hi := kutil.Min(v.End, end)
	m.dropPagesInRange(v, lo, hi)

	switch {
	case lo <= v.Start && hi >= v.End:
		// entirely removed
		m.vmas.remove(v)
	case lo <= v.Start:
		// shrink left edge: new start is hi
		oldStart := v.Start
		v.Start = hi
		v.rebaseBacking(oldStart)
	case hi >= v.End:
		// shrink right edge: new end is lo
		v.End = lo
	default:
		// split into [v.Start, lo) and [hi, v.End)
		right := v.clone()
		right.Start = hi
		right.End = v.End
		right.rebaseBacking(v.Start)
		for vpn, pg := range v.pages {
			if vpn >= hi {
				right.pages[vpn] = pg
				delete(v.pages, vpn)
			}
		}
		v.End = lo
		m.vmas.insertSorted(right)
	}
}

func (m *MemorySet) dropPagesInRange(v *VMA, lo, hi uintptr) {
	shift := m.cfg.PageShift
	for va := lo; va < hi; va += 1 << shift {
		pg, ok := v.pages[va]
		if !ok {
			continue
		}
		vpn := pagetable.VPN(va >> shift)
		m.table.Unmap(vpn)
		delete(v.pages, va)
		delete(m.cowShadow, va)
		pg.Put()
	}
}

// Mprotect applies the same geometric split as Munmap but updates the
// surviving ranges' permission instead of dropping them, and rewrites
// U/R/W/X on every already-present PTE (spec.md §4.2 mprotect).
func (m *MemorySet) Mprotect(start, end uintptr, newPerm page.Perm) kernelerr.Errno {
	m.mu.Lock()
	defer m.mu.Unlock()
	shift := m.cfg.PageShift
	start = pageAlign(start, shift)
	end = pageRoundUp(end, shift)

	if newPerm&page.PermW != 0 {
		for _, v := range m.vmas.overlapping(start, end) {
			if v.Handler == HandlerMmapFile && v.Backing != nil && !v.Backing.Writable {
				return kernelerr.EACCES
			}
		}
	}

	for _, v := range m.vmas.overlapping(start, end) {
		lo := kutil.Max(v.Start, start)
		hi := kutil.Min(v.End, end)
		target := m.splitForProtect(v, lo, hi)
		target.Perm = newPerm
		for va, pg := range target.pages {
			vpn := pagetable.VPN(va >> shift)
			pte, ok := m.table.Lookup(vpn)
			if !ok {
				continue
			}
			flags := permToPTEFlags(newPerm)
			if pte.COW() {
				flags |= pagetable.FlagCOW
			}
			_ = pg
			m.table.Store(vpn, flagsOnly(pte, flags))
		}
	}
	m.table.Activate()
	return 0
}

// splitForProtect ensures [lo, hi) is covered by its own VMA value
// (splitting v if lo/hi fall strictly inside it) and returns that VMA.
func (m *MemorySet) splitForProtect(v *VMA, lo, hi uintptr) *VMA {
	if lo <= v.Start && hi >= v.End {
		return v
	}
	// left remainder, middle (returned), right remainder
	var left, right *VMA
	if lo > v.Start {
		left = v.clone()
		left.End = lo
	}
	if hi < v.End {
		right = v.clone()
		right.Start = hi
	}
	for va, pg := range v.pages {
		if left != nil && va < lo {
			left.pages[va] = pg
			delete(v.pages, va)
		} else if right != nil && va >= hi {
			right.pages[va] = pg
			delete(v.pages, va)
		}
	}
	oldStart := v.Start
	v.Start, v.End = lo, hi
	v.rebaseBacking(oldStart)
	if right != nil {
		right.rebaseBacking(oldStart)
	}
	if left != nil {
		m.vmas.insertSorted(left)
	}
	if right != nil {
		m.vmas.insertSorted(right)
	}
	return v
}

func permToPTEFlags(p page.Perm) pagetable.PTE {
	var f pagetable.PTE
	if p&page.PermR != 0 {
		f |= pagetable.FlagR
	}
	if p&page.PermW != 0 {
		f |= pagetable.FlagW
	}
	if p&page.PermX != 0 {
		f |= pagetable.FlagX
	}
	if p&page.PermU != 0 {
		f |= pagetable.FlagU
	}
	return f
}

func flagsOnly(pte pagetable.PTE, flags pagetable.PTE) pagetable.PTE {
	ppn := pte.PPN()
	base := pagetable.FlagV | pagetable.FlagA | pagetable.FlagD
	return pagetable.PTE(ppn)<<10 | (flags | base)
}

// InitHeap installs the heap VMA that brk(2) grows from, at the page
// boundary immediately above brk (the loaded image's end, per
// ELFLoader.Load). It starts zero-length: Expand's "VMA whose End
// equals the current break" search depends on this VMA existing from
// boot, even before the first brk(grow) ever gives it any pages.
func (m *MemorySet) InitHeap(brk uintptr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := pageRoundUp(brk, m.cfg.PageShift)
	v := newVMA(start, start, page.PermR|page.PermW|page.PermU|page.PermX, Framed, HandlerUserHeap, nil)
	m.vmas.insertSorted(v)
	m.heapEnd = start
}

// Expand is brk's address-space primitive (spec.md §4.2 expand). Growing
// (end > start) extends the heap VMA whose End equals the current break
// in place, failing ENOMEM if that would overlap another VMA. Shrinking
// (end < start) releases every page wholly beyond the new break and
// pulls the VMA's End back, so a later read in the released range finds
// no VMA covering it and faults fatally (spec.md §8 E6).
func (m *MemorySet) Expand(start, end uintptr) kernelerr.Errno {
	m.mu.Lock()
	defer m.mu.Unlock()
	if end < start {
		errno := m.shrinkHeapLocked(start, end)
		if errno == 0 {
			m.table.Activate()
		}
		return errno
	}
	for _, v := range m.vmas.items {
		if v.Handler == HandlerUserHeap && v.End == start {
			if len(m.vmas.overlapping(start, end)) != 0 {
				return kernelerr.ENOMEM
			}
			v.End = end
			m.heapEnd = end
			return 0
		}
	}
	return kernelerr.ENOMEM
}

func (m *MemorySet) shrinkHeapLocked(cur, newBrk uintptr) kernelerr.Errno {
	for _, v := range m.vmas.items {
		if v.Handler == HandlerUserHeap && v.End == cur {
			if newBrk < v.Start {
				return kernelerr.ENOMEM
			}
			lo := pageRoundUp(newBrk, m.cfg.PageShift)
			if lo < v.Start {
				lo = v.Start
			}
			m.dropPagesInRange(v, lo, cur)
			v.End = newBrk
			m.heapEnd = newBrk
			return 0
		}
	}
	return kernelerr.ENOMEM
}

// HandlePageFault looks up the VMA containing stval and dispatches to
// its handler variant; a fault outside any VMA is illegal (fatal to the
// faulting task), per spec.md §4.2.
func (m *MemorySet) HandlePageFault(stval uintptr, cause FaultCause) kernelerr.Errno {
	m.mu.Lock()
	defer m.mu.Unlock()

	shift := m.cfg.PageShift
	va := pageAlign(stval, shift)
	vpn := pagetable.VPN(va >> shift)

	if pte, ok := m.table.Lookup(vpn); ok && cause == FaultWrite && pte.COW() && !pte.Write() {
		return m.handleCOW(va, vpn, pte)
	}

	v := m.vmas.find(stval)
	if v == nil {
		return kernelerr.EFAULT
	}
	if cause == FaultWrite && v.Perm&page.PermW == 0 {
		return kernelerr.EFAULT
	}

	switch v.Handler {
	case HandlerUserStack:
		return m.faultAnon(v, va, vpn, page.PermR|page.PermW|page.PermU)
	case HandlerUserHeap:
		return m.faultAnon(v, va, vpn, page.PermR|page.PermW|page.PermU|page.PermX)
	case HandlerMmapAnon:
		return m.faultAnon(v, va, vpn, v.Perm)
	case HandlerMmapFile:
		return m.faultFile(v, va, vpn)
	default:
		return kernelerr.EFAULT
	}
}

func (m *MemorySet) faultAnon(v *VMA, va uintptr, vpn pagetable.VPN, perm page.Perm) kernelerr.Errno {
	pg, ok := page.NewAnon(m.alloc, perm)
	if !ok {
		return kernelerr.ENOMEM
	}
	v.pages[va] = pg
	m.table.MapOne(vpn, pg.PPN(), permToPTEFlags(perm))
	m.table.Activate()
	return 0
}

// faultFile services a fault in a file-backed mmap VMA: find_page
// forces a load from the page cache's inode if absent, then installs
// the PTE with the VMA's permission bits (spec.md §4.2 table, Mmap
// (file) row). The cache's own Page is mapped, not a copy, so a
// write(2) through an fd and a load through the mapping see one frame.
func (m *MemorySet) faultFile(v *VMA, va uintptr, vpn pagetable.VPN) kernelerr.Errno {
	if v.Backing == nil || v.Backing.Find == nil {
		return kernelerr.EFAULT
	}
	if uint64(va-v.Start) >= v.Backing.Length {
		return kernelerr.EFAULT
	}
	off := v.Backing.Offset + uint64(va-v.Start)
	pg, err := v.Backing.Find(off >> m.cfg.PageShift)
	if err != nil {
		m.log.WithField("inode", v.Backing.InodeNo).WithError(err).Warn("file-backed fault: page load failed")
		return kernelerr.ENOMEM
	}
	pg.Ref() // the cache keeps its reference; this VMA takes its own
	v.pages[va] = pg
	m.table.MapOne(vpn, pg.PPN(), permToPTEFlags(v.Perm))
	m.table.Activate()
	return 0
}

// handleCOW copies the shared page into a fresh one (unless this
// mapping is the page's sole remaining reference, in which case it
// claims the page in place), rewrites the PTE with W set and COW
// cleared, and moves the shared reference from the COW shadow map into
// the VMA's PMA (spec.md §4.2 COW row).
func (m *MemorySet) handleCOW(va uintptr, vpn pagetable.VPN, pte pagetable.PTE) kernelerr.Errno {
	shared, ok := m.cowShadow[uintptr(va)]
	if !ok {
		return kernelerr.EFAULT
	}
	v := m.vmas.find(va)
	if v == nil {
		return kernelerr.EFAULT
	}

	if shared.CanClaim() {
		newFlags := flagsOnly(pte, permToPTEFlags(v.Perm))
		m.table.Store(vpn, newFlags&^pagetable.FlagCOW|pagetable.FlagW)
		delete(m.cowShadow, va)
		v.pages[va] = shared
		m.table.Activate()
		return 0
	}

	fresh, ok := page.CopyFrom(m.alloc, shared, v.Perm)
	if !ok {
		return kernelerr.ENOMEM
	}
	shared.Put()
	delete(m.cowShadow, va)
	v.pages[va] = fresh
	m.table.Unmap(vpn)
	m.table.MapOne(vpn, fresh.PPN(), permToPTEFlags(v.Perm))
	m.table.Activate()
	return 0
}

// ForkFrom clones every VMA's geometry and metadata from parent and
// enables COW on every present page: W is cleared in both the parent
// and child PTE, the COW bit is set, the Page is shared by reference
// and recorded in both address spaces' COW shadow maps. The kernel half
// stays shared by construction (pagetable.NewUser copies it once, here,
// at MemorySet creation time). Spec.md §4.2 "from_user".
func ForkFrom(parent *MemorySet, alloc *frame.Allocator, kernelTable *pagetable.Table, cfg bootconfig.Config, log logrus.FieldLogger) *MemorySet {
	parent.mu.Lock()
	defer parent.mu.Unlock()

	child := New(alloc, kernelTable, cfg, log)
	child.heapEnd = parent.heapEnd

	shift := cfg.PageShift
	for _, v := range parent.vmas.items {
		cv := v.clone()
		for va, pg := range v.pages {
			vpn := pagetable.VPN(va >> shift)
			pg.Ref()

			if ppte, ok := parent.table.Lookup(vpn); ok {
				parent.table.Store(vpn, flagsOnly(ppte, permToPTEFlags(v.Perm))&^pagetable.FlagW|pagetable.FlagCOW)
			}
			child.table.MapOne(vpn, pg.PPN(), permToPTEFlags(v.Perm)&^pagetable.FlagW|pagetable.FlagCOW)

			parent.cowShadow[va] = pg
			child.cowShadow[va] = pg
			cv.pages[va] = pg
		}
		child.vmas.insertSorted(cv)
	}
	parent.table.Activate()
	child.table.Activate()
	return child
}

// ClearUserSpace drops every user VMA and flushes the user-half of the
// page table's leaves — used by exec (spec.md §4.2 clear_user_space).
func (m *MemorySet) ClearUserSpace() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.vmas.items {
		for va, pg := range v.pages {
			vpn := pagetable.VPN(va >> m.cfg.PageShift)
			m.table.Unmap(vpn)
			pg.Put()
			_ = va
		}
	}
	m.vmas.items = nil
	m.cowShadow = make(map[uintptr]*page.Page)
	m.table.ClearUserHalf()
	m.heapEnd = 0
	m.table.Activate()
}

// VMAs returns a snapshot of the address space's VMAs, for /proc/maps
// style introspection and for tests checking invariant 2 (non-overlap).
func (m *MemorySet) VMAs() []*VMA {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*VMA, len(m.vmas.items))
	copy(out, m.vmas.items)
	return out
}

func (m *MemorySet) HeapEnd() uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heapEnd
}

func (m *MemorySet) SetHeapEnd(v uintptr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heapEnd = v
}
