// Package vmm implements the VMA and address-space layer (spec.md §4.2,
// MemorySet component of §3/§4.1 dependency chain). The shape — an
// ordered set of VMAs, a heap-end cursor, mmap/munmap/mprotect/brk as
// geometric split/merge operations over that set, and a COW shadow map
// populated on fork — follows biscuit's vm.Vm_t / vm.Vmregion_t
// (biscuit/src/vm/as.go), generalized from biscuit's single anonymous/
// file/shared-anon mtype_t to the five fault-handler variants spec.md
// §4.2 names (UserStack, UserHeap, Mmap-anon, Mmap-file, COW).
package vmm

import (
	"sort"

	"github.com/duckos-rv/kernel/internal/page"
)

// MapType distinguishes an identity-style mapping (used for the kernel
// half and for a handful of fixed low mappings) from an ordinarily
// demand-paged ("framed") mapping.
type MapType int

const (
	Identical MapType = iota
	Framed
)

// HandlerKind selects which page-fault handler variant services faults
// inside a VMA (spec.md §4.2 table).
type HandlerKind int

const (
	HandlerUserStack HandlerKind = iota
	HandlerUserHeap
	HandlerMmapAnon
	HandlerMmapFile
)

// FileBacking describes a file-backed VMA's source (spec.md §3 VMA:
// "optional backing file descriptor (file handle + byte offset + length)").
// Find resolves a page index into the backing file to that page's
// shared page-cache Page, loading it if absent; the fault handler maps
// the returned Page itself, so the mapping and read(2)/write(2) observe
// the same frame. Supplied by internal/syscalls over the inode's cache;
// vmm does not import vfs to avoid a cycle.
type FileBacking struct {
	InodeNo uint64
	Offset  uint64 // byte offset into the file at which the VMA begins
	Length  uint64 // bytes of the VMA actually backed by the file; faults past it are illegal
	// Writable records whether the fd this mapping was created from
	// permits writing; mprotect may not grant W beyond it, since a
	// writable PTE on the shared cache page writes the file.
	Writable bool
	Find     func(pageIdx uint64) (*page.Page, error)
}

// VMA is one contiguous virtual range sharing a permission set, map
// type, and fault-handler variant (spec.md §3 "VMA").
type VMA struct {
	Start, End uintptr // page-aligned [Start, End)
	Perm       page.Perm
	MapType    MapType
	Handler    HandlerKind
	Backing    *FileBacking

	// PMA: present VPN -> Page, owned by this VMA (spec.md "PMA").
	pages map[uintptr]*page.Page
}

func (v *VMA) Len() uintptr { return v.End - v.Start }

// Page returns the Page present at va within this VMA, if any. Exported
// for callers (the exec image loader) that need to write directly into
// a just-faulted-in page.
func (v *VMA) Page(va uintptr) (*page.Page, bool) {
	pg, ok := v.pages[va]
	return pg, ok
}

func (v *VMA) overlaps(start, end uintptr) bool {
	return start < v.End && end > v.Start
}

func newVMA(start, end uintptr, perm page.Perm, mt MapType, h HandlerKind, backing *FileBacking) *VMA {
	return &VMA{
		Start: start, End: end, Perm: perm, MapType: mt, Handler: h,
		Backing: backing, pages: make(map[uintptr]*page.Page),
	}
}

// clone copies geometry and metadata but not pages — used by fork,
// which populates the child's pages separately under the COW protocol.
func (v *VMA) clone() *VMA {
	return newVMA(v.Start, v.End, v.Perm, v.MapType, v.Handler, v.Backing)
}

// rebaseBacking re-anchors a file backing after v.Start moved forward
// (munmap shrink-left, or the right half of a split): the file offset a
// fault computes is relative to Start, so Offset/Length must follow it.
// The backing is copied, not mutated, since clones share the pointer.
func (v *VMA) rebaseBacking(oldStart uintptr) {
	if v.Backing == nil || v.Start == oldStart {
		return
	}
	b := *v.Backing
	delta := uint64(v.Start - oldStart)
	b.Offset += delta
	if b.Length > delta {
		b.Length -= delta
	} else {
		b.Length = 0
	}
	v.Backing = &b
}

// vmaList is a sorted-by-start slice of non-overlapping VMAs. Spec.md
// §8 invariant 2: for all disjoint pairs (A, B) in one address space,
// their ranges are disjoint. A flat sorted slice is adequate at the VMA
// counts this kernel deals with (tens, not thousands) and keeps the
// split/merge logic in munmap/mprotect legible, unlike biscuit's
// unexported Vmregion_t which the retrieval pack did not include.
type vmaList struct {
	items []*VMA
}

func (l *vmaList) insertSorted(v *VMA) {
	i := sort.Search(len(l.items), func(i int) bool { return l.items[i].Start >= v.Start })
	l.items = append(l.items, nil)
	copy(l.items[i+1:], l.items[i:])
	l.items[i] = v
}

func (l *vmaList) find(va uintptr) *VMA {
	for _, v := range l.items {
		if va >= v.Start && va < v.End {
			return v
		}
	}
	return nil
}

// overlapping returns every VMA intersecting [start, end), in start order.
func (l *vmaList) overlapping(start, end uintptr) []*VMA {
	var out []*VMA
	for _, v := range l.items {
		if v.overlaps(start, end) {
			out = append(out, v)
		}
	}
	return out
}

func (l *vmaList) remove(v *VMA) {
	for i, c := range l.items {
		if c == v {
			l.items = append(l.items[:i], l.items[i+1:]...)
			return
		}
	}
}

// lowestGap returns the lowest address >= hint (clamped into [lo, hi))
// at which a run of length len fits without overlapping an existing VMA.
func (l *vmaList) lowestGap(hint, lenBytes, lo, hi uintptr) (uintptr, bool) {
	if hint < lo {
		hint = lo
	}
	cur := hint
	for _, v := range l.items {
		if v.Start < lo {
			continue
		}
		if cur+lenBytes <= v.Start {
			return cur, true
		}
		if v.End > cur {
			cur = v.End
		}
	}
	if cur+lenBytes <= hi {
		return cur, true
	}
	return 0, false
}
