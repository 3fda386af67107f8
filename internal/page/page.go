// Package page implements the Page/PMA layer (spec.md §3, "Page"): a
// physical page wrapped with permission metadata, optionally backed by
// a file page, shared by reference count across address spaces under
// COW. It follows the same state machine as biscuit's
// vm._mkvmi/Sys_pgfault (biscuit/src/vm/as.go) — anonymous vs file vs
// shared-anon pages, a refcount that determines whether a COW fault can
// claim the page in place instead of copying it — generalized from
// biscuit's x86 VANON/VFILE/VSANON mtype_t enum to the Sv39 COW PTE bit
// convention described in spec.md §4.1.
package page

import (
	"sync/atomic"

	"github.com/duckos-rv/kernel/internal/frame"
)

// Perm is the permission bit set carried on a Page, independent of
// whatever PTE flags end up installed for it (spec.md: "Permissions vs
// PTE bits... the in-memory permission set is the source of truth").
type Perm uint8

const (
	PermR Perm = 1 << iota
	PermW
	PermX
	PermU
)

// Backing identifies a disk-backed page's origin: which inode and which
// page-aligned offset into it. It is a weak reference in the sense that
// Page does not keep the inode alive on its own — whoever owns the
// page's VMA does, through the open file description.
type Backing struct {
	InodeNo  uint64
	PageIdx  uint64
	Loader   func(inode uint64, pageIdx uint64, dst []byte) // disk-backed page content source
}

// Page is a reference-counted physical page. It is shared by pointer
// across address spaces when under COW or cached in a PageCache; the
// refcount tracks how many mappings currently reference it so that the
// COW fault handler can tell "mapped exactly once" (see CanClaim).
type Page struct {
	alloc   *frame.Allocator
	frame   *frame.Frame
	Perm    Perm
	Backing *Backing // nil for anonymous pages

	refs   int32
	loaded int32 // 0/1, set once disk content has been faulted in
}

// NewAnon allocates a fresh zero-initialized anonymous page.
func NewAnon(alloc *frame.Allocator, perm Perm) (*Page, bool) {
	f, ok := alloc.Alloc()
	if !ok {
		return nil, false
	}
	return &Page{alloc: alloc, frame: f, Perm: perm, refs: 1, loaded: 1}, true
}

// NewFileBacked allocates a page whose contents are loaded on first
// access from the page cache's inode (spec.md §3: "disk-backed (contents
// loaded on demand from the page cache's inode)").
func NewFileBacked(alloc *frame.Allocator, perm Perm, backing Backing) (*Page, bool) {
	f, ok := alloc.Alloc()
	if !ok {
		return nil, false
	}
	return &Page{alloc: alloc, frame: f, Perm: perm, Backing: &backing, refs: 1}, true
}

// PPN is the physical page number backing this Page.
func (p *Page) PPN() frame.PPN { return p.frame.PPN() }

// Bytes returns the page's content, forcing a disk load on first access
// if this is a file-backed page that hasn't been loaded yet.
func (p *Page) Bytes() []byte {
	if p.Backing != nil && atomic.LoadInt32(&p.loaded) == 0 {
		b := p.alloc.Bytes(p.PPN())
		p.Backing.Loader(p.Backing.InodeNo, p.Backing.PageIdx, b)
		atomic.StoreInt32(&p.loaded, 1)
	}
	return p.alloc.Bytes(p.PPN())
}

// Ref increments the sharing refcount; called whenever a Page is
// inserted into a second address space's PMA or COW shadow map.
func (p *Page) Ref() { atomic.AddInt32(&p.refs, 1) }

// Refcount reports how many mappings currently reference this Page.
func (p *Page) Refcount() int32 { return atomic.LoadInt32(&p.refs) }

// CanClaim reports whether this page is mapped by exactly one mapping,
// meaning a COW write fault can claim it in place (clear the COW bit,
// set W) instead of copying — mirrors biscuit's Sys_pgfault fast path
// ("if this anonymous COW page is mapped exactly once... we can claim
// the page, skip the copy").
func (p *Page) CanClaim() bool { return p.Refcount() == 1 }

// Put drops one reference; when the last reference is dropped the
// backing frame is released back to the allocator.
func (p *Page) Put() {
	if atomic.AddInt32(&p.refs, -1) == 0 {
		p.frame.Release()
	}
}

// CopyFrom duplicates src's bytes into a freshly allocated page with
// the given permission — the COW-fault copy path (spec.md §4.2 COW
// handler: "copy bytes of the shared Page into a fresh Page").
func CopyFrom(alloc *frame.Allocator, src *Page, perm Perm) (*Page, bool) {
	dst, ok := NewAnon(alloc, perm)
	if !ok {
		return nil, false
	}
	copy(dst.Bytes(), src.Bytes())
	return dst, true
}
