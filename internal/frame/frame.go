// Package frame is the physical frame allocator: it hands out Sv39
// physical page frames with a scoped-release guarantee (spec.md §3,
// "Physical frame"). It mirrors the free-list design of biscuit's
// mem.Physmem_t (mem/mem.go) — a flat slab of frame descriptors with a
// singly linked free list threaded through an index field — but drops
// biscuit's per-CPU free list sharding since this kernel schedules one
// goroutine per hart rather than pinning OS threads to CPUs.
package frame

import (
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
)

// PPN is a physical page number (Sv39: low 44 bits of the PTE).
type PPN uint64

// descriptor is the per-frame bookkeeping record. refcnt == 0 means
// free; refcnt < 0 is never valid and indicates a double-free bug.
type descriptor struct {
	refcnt int32
	nexti  uint32
}

// PageSize is the Sv39 base page size in bytes.
const PageSize = 4096

// Allocator is the global physical frame pool for one kernel instance.
// All fields are protected by mu.
//
// backing stands in for the "direct map" biscuit's Physmem_t.Dmap
// provides on real hardware: a byte-addressable view of every frame.
// On real Sv39 hardware this would be a fixed virtual window over all
// of physical memory; here it is simply the frame's storage, since this
// kernel has no real physical memory to map.
type Allocator struct {
	mu      sync.Mutex
	descs   []descriptor
	backing [][PageSize]byte
	base    PPN
	freei   uint32
	log     logrus.FieldLogger
}

const freeListEnd = ^uint32(0)

// New builds an allocator over [base, base+count) physical page frames.
func New(base PPN, count int, log logrus.FieldLogger) *Allocator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	a := &Allocator{
		descs:   make([]descriptor, count),
		backing: make([][PageSize]byte, count),
		base:    base,
		freei:   freeListEnd,
		log:     log.WithField("subsystem", "frame"),
	}
	for i := count - 1; i >= 0; i-- {
		a.descs[i].nexti = a.freei
		a.freei = uint32(i)
	}
	return a
}

// Bytes returns the byte-addressable backing store for ppn. Callers
// must hold whatever higher-level lock guards the page (address space
// or page cache lock); frame.Allocator does not itself serialize access
// to frame contents, only to the allocator's free list.
func (a *Allocator) Bytes(ppn PPN) []byte {
	idx := uint32(ppn - a.base)
	return a.backing[idx][:]
}

// Frame owns exactly one physical page frame. It is never shared;
// sharing a page's bytes across address spaces goes through
// internal/page.Page (reference-counted), not through Frame directly.
// Release returns the frame to its allocator; Frame also arranges a
// finalizer as a backstop against a caller that forgets to call
// Release, mirroring the Rust original's Drop guarantee as closely as
// Go's GC allows.
type Frame struct {
	a   *Allocator
	ppn PPN
}

func (f *Frame) PPN() PPN { return f.ppn }

// Release returns the frame to the allocator. Calling Release more than
// once is a kernel bug and panics, matching the "double-map"/"double-free"
// invariant-violation policy in spec.md §7.
func (f *Frame) Release() {
	runtime.SetFinalizer(f, nil)
	f.a.free(f.ppn)
}

// Alloc returns a single zero-filled frame, or ok=false if the pool is
// exhausted (callers surface this as ENOMEM per spec.md §7).
func (a *Allocator) Alloc() (*Frame, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.freei == freeListEnd {
		return nil, false
	}
	idx := a.freei
	a.freei = a.descs[idx].nexti
	a.descs[idx].refcnt = 1
	for i := range a.backing[idx] {
		a.backing[idx][i] = 0
	}
	ppn := a.base + PPN(idx)
	f := &Frame{a: a, ppn: ppn}
	runtime.SetFinalizer(f, func(f *Frame) {
		a.log.WithField("ppn", f.ppn).Warn("frame leaked without Release; reclaiming via finalizer")
		a.free(f.ppn)
	})
	return f, true
}

// Refup increments a frame's reference count; used when a Page is
// shared across address spaces under COW or the page cache.
func (a *Allocator) Refup(ppn PPN) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := uint32(ppn - a.base)
	if a.descs[idx].refcnt <= 0 {
		panic("frame: refup of free frame")
	}
	a.descs[idx].refcnt++
}

// Refcnt reports a frame's current reference count.
func (a *Allocator) Refcnt(ppn PPN) int32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.descs[uint32(ppn-a.base)].refcnt
}

func (a *Allocator) free(ppn PPN) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := uint32(ppn - a.base)
	if a.descs[idx].refcnt <= 0 {
		panic("frame: double free")
	}
	a.descs[idx].refcnt--
	if a.descs[idx].refcnt == 0 {
		a.descs[idx].nexti = a.freei
		a.freei = idx
	}
}

// Free releases one reference directly by PPN, for callers (like Page)
// that track PPNs rather than holding the *Frame.
func (a *Allocator) Free(ppn PPN) {
	a.free(ppn)
}

// FreeCount reports the number of unallocated frames, for tests and
// diagnostics.
func (a *Allocator) FreeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for i := a.freei; i != freeListEnd; i = a.descs[i].nexti {
		n++
	}
	return n
}
