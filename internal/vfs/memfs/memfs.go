// Package memfs is an in-memory backing filesystem used for tests and
// as the root filesystem this kernel boots with (SPEC_FULL.md §4,
// "supplemented feature": a FAT-shaped on-disk filesystem the original
// duckos exposes via fat_dentry.rs/fat_file.rs is replaced here by a
// pure in-memory tree, since this port has no disk driver; the
// dentry/inode/page-cache plumbing it exercises is identical either
// way). Grounded on biscuit's fs/super.go dentry-populating walk and
// fs/blk.go's lazily-populated cache entries (biscuit/src/fs/blk.go),
// adapted from block-granular caching to the page-cache-backed regular
// files internal/vfs expects.
package memfs

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/duckos-rv/kernel/internal/frame"
	"github.com/duckos-rv/kernel/internal/kernelerr"
	"github.com/duckos-rv/kernel/internal/pagecache"
	"github.com/duckos-rv/kernel/internal/vfs"
)

type node struct {
	inode    *vfs.Inode
	children map[string]*node
	data     []byte // regular-file content, authoritative backing store; the page cache loads from it lazily and every write lands here too, so a cold FindPage (after eviction or truncate) still sees the latest bytes
}

// FS is a single in-memory filesystem instance, rooted at "/". File
// content is stored directly as Go byte slices; ReadPage projects a
// page-aligned view of that content for internal/pagecache to use when
// servicing a file-backed mmap fault or the first touch of a regular
// file's page cache.
type FS struct {
	mu      sync.Mutex
	log     logrus.FieldLogger
	alloc   *frame.Allocator
	nextIno uint64
	nodes   map[uint64]*node
	root    *node
}

func New(alloc *frame.Allocator, log logrus.FieldLogger) *FS {
	if log == nil {
		log = logrus.StandardLogger()
	}
	fs := &FS{alloc: alloc, log: log.WithField("subsystem", "memfs"), nodes: make(map[uint64]*node)}
	root := fs.newNode(vfs.TypeDir)
	fs.root = root
	return fs
}

func (fs *FS) newNode(t vfs.InodeType) *node {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.nextIno++
	ino := fs.nextIno
	now := time.Now().Unix()
	n := &node{inode: &vfs.Inode{No: ino, Type: t, Nlink: 1, Atime: now, Mtime: now, Ctime: now}}
	if t == vfs.TypeDir {
		n.children = make(map[string]*node)
	}
	n.inode.Ops = fs
	fs.nodes[ino] = n
	return n
}

// Root returns the filesystem's root inode, for callers (boot code)
// wiring up the global dentry cache's "/" entry.
func (fs *FS) Root() *vfs.Inode { return fs.root.inode }

func (fs *FS) lookupNode(ino uint64) *node {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.nodes[ino]
}

func (fs *FS) Open(inode *vfs.Inode, flags int) (*vfs.File, kernelerr.Errno) {
	n := fs.lookupNode(inode.No)
	if n == nil {
		return nil, kernelerr.ENOENT
	}
	if inode.Type == vfs.TypeDir {
		// The caller (sysOpenat) has already rejected any write-mode open
		// of a directory; a read-only open must still succeed so
		// getdents64 has an fd to read through (Readdir dispatches off
		// the inode directly, never through this backend).
		return vfs.NewRegularFile(inode, flags, &dirBackend{}), 0
	}
	// Every open of a regular inode gets a page cache (spec.md §4.3:
	// "File read/write use the page cache exclusively"; §8 invariant 4).
	// EnsureCache is idempotent, so the cache built on the first open
	// outlives it and is shared by every later open and by mmap.
	cache := inode.EnsureCache(fs.alloc, fs.log)
	if flags&vfs.OTrunc != 0 {
		// fs.mu is released before Clear: the cache's Transfer path
		// takes fs.mu through the page loader while holding the cache
		// lock, so the order here must be fs.mu first, cache lock
		// second, never both at once. A racing write's content lands
		// either wholly before the Clear (purged with everything else)
		// or wholly after the zeroing (kept, as a post-truncate write).
		// Its monotonic size bump (vfs.File.Write) is not under either
		// lock and can land after this zeroing; the leftover
		// size-past-content range then reads as zeroes, same as any
		// read past a page-aligned EOF.
		fs.mu.Lock()
		n.data = nil
		fs.mu.Unlock()
		inode.Lock()
		inode.Size = 0
		inode.Unlock()
		cache.Clear()
	}
	return vfs.NewRegularFile(inode, flags, &memRegularBackend{fs: fs, n: n, cache: cache, inode: inode}), 0
}

func (fs *FS) Create(dir *vfs.Inode, name string) (*vfs.Inode, kernelerr.Errno) {
	dn := fs.lookupNode(dir.No)
	if dn == nil || dn.children == nil {
		return nil, kernelerr.ENOTDIR
	}
	fs.mu.Lock()
	if _, ok := dn.children[name]; ok {
		fs.mu.Unlock()
		return nil, kernelerr.EEXIST
	}
	fs.mu.Unlock()
	n := fs.newNode(vfs.TypeRegular)
	fs.mu.Lock()
	dn.children[name] = n
	fs.mu.Unlock()
	return n.inode, 0
}

func (fs *FS) Mkdir(dir *vfs.Inode, name string) (*vfs.Inode, kernelerr.Errno) {
	dn := fs.lookupNode(dir.No)
	if dn == nil || dn.children == nil {
		return nil, kernelerr.ENOTDIR
	}
	fs.mu.Lock()
	if _, ok := dn.children[name]; ok {
		fs.mu.Unlock()
		return nil, kernelerr.EEXIST
	}
	fs.mu.Unlock()
	n := fs.newNode(vfs.TypeDir)
	fs.mu.Lock()
	dn.children[name] = n
	fs.mu.Unlock()
	return n.inode, 0
}

func (fs *FS) Mknod(dir *vfs.Inode, name string, devType vfs.InodeType, major, minor uint32) (*vfs.Inode, kernelerr.Errno) {
	dn := fs.lookupNode(dir.No)
	if dn == nil || dn.children == nil {
		return nil, kernelerr.ENOTDIR
	}
	fs.mu.Lock()
	if _, ok := dn.children[name]; ok {
		fs.mu.Unlock()
		return nil, kernelerr.EEXIST
	}
	fs.mu.Unlock()
	n := fs.newNode(devType)
	fs.mu.Lock()
	dn.children[name] = n
	fs.mu.Unlock()
	return n.inode, 0
}

func (fs *FS) LoadChild(dir *vfs.Inode, name string) (*vfs.Inode, kernelerr.Errno) {
	dn := fs.lookupNode(dir.No)
	if dn == nil || dn.children == nil {
		return nil, kernelerr.ENOTDIR
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	child, ok := dn.children[name]
	if !ok {
		return nil, kernelerr.ENOENT
	}
	return child.inode, 0
}

func (fs *FS) Unlink(dir *vfs.Inode, name string) kernelerr.Errno {
	dn := fs.lookupNode(dir.No)
	if dn == nil || dn.children == nil {
		return kernelerr.ENOTDIR
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	child, ok := dn.children[name]
	if !ok {
		return kernelerr.ENOENT
	}
	if child.inode.Type == vfs.TypeDir && len(child.children) != 0 {
		return kernelerr.ENOTEMPTY
	}
	delete(dn.children, name)
	atomic.AddInt32(&child.inode.Nlink, -1)
	return 0
}

func (fs *FS) Readdir(dir *vfs.Inode) ([]vfs.DirEntry, kernelerr.Errno) {
	dn := fs.lookupNode(dir.No)
	if dn == nil || dn.children == nil {
		return nil, kernelerr.ENOTDIR
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]vfs.DirEntry, 0, len(dn.children))
	for name, child := range dn.children {
		out = append(out, vfs.DirEntry{Name: name, Ino: child.inode.No, Type: child.inode.Type})
	}
	// dn.children is a Go map; iteration order is randomized per-run.
	// getdents64 resumes a multi-call listing by index into this slice,
	// so the order must be stable across calls or entries get skipped or
	// duplicated. Name order is as good as any other stable order here.
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, 0
}

func (fs *FS) ReadPage(inode *vfs.Inode, pageIdx uint64, dst []byte) error {
	n := fs.lookupNode(inode.No)
	if n == nil {
		return kernelerr.ENOENT
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	off := pageIdx * uint64(len(dst))
	for i := range dst {
		dst[i] = 0
	}
	if off >= uint64(len(n.data)) {
		return nil
	}
	copy(dst, n.data[off:])
	return nil
}

// dirBackend backs a directory opened read-only: direct read(2)/write(2)
// on a directory fd is invalid, so both methods error; the fd still
// carries a usable offset/Seek for getdents64's resume cursor.
type dirBackend struct{}

func (dirBackend) ReadAt([]byte, int64) (int, kernelerr.Errno)  { return 0, kernelerr.EISDIR }
func (dirBackend) WriteAt([]byte, int64) (int, kernelerr.Errno) { return 0, kernelerr.EBADF }

// memRegularBackend implements vfs's fileBackend for a regular memfs
// node. Reads and writes both go through the inode's page cache (spec.md
// §4.3), so a page faulted in by mmap and a page touched by read(2)/
// write(2) are the same shared Page and never drift apart. node.data is
// still kept as the backing store a freshly faulted page loads from, and
// every write mirrors into it too, so a cache cleared by O_TRUNC (or a
// future eviction) reloads the latest content rather than stale bytes.
type memRegularBackend struct {
	fs    *FS
	n     *node
	cache *pagecache.Cache
	inode *vfs.Inode
}

func (b *memRegularBackend) ReadAt(p []byte, off int64) (int, kernelerr.Errno) {
	b.inode.Lock()
	size := b.inode.Size
	b.inode.Unlock()
	if off >= size {
		return 0, 0
	}
	if end := off + int64(len(p)); end > size {
		p = p[:size-off]
	}
	return b.transferPages(p, off, false)
}

func (b *memRegularBackend) WriteAt(p []byte, off int64) (int, kernelerr.Errno) {
	return b.transferPages(p, off, true)
}

// transferPages copies buf into or out of the cache's pages, one
// page-aligned chunk at a time, faulting each page in on first touch.
// Each chunk's find-then-copy runs atomically under the cache's own
// lock (pagecache.Cache.Transfer); a write chunk mirrors into node.data
// in the same critical section, so the page and the backing store are
// updated as one unit per chunk and a chunk the caller is told failed
// has touched neither.
func (b *memRegularBackend) transferPages(buf []byte, off int64, write bool) (int, kernelerr.Errno) {
	total := 0
	for total < len(buf) {
		pageIdx := uint64(off) / frame.PageSize
		pageOff := int(off) % frame.PageSize
		chunk := frame.PageSize - pageOff
		if remain := len(buf) - total; chunk > remain {
			chunk = remain
		}
		var mirror func()
		if write {
			data, at := buf[total:total+chunk], off
			mirror = func() { b.mirrorChunk(at, data) }
		}
		if err := b.cache.Transfer(pageIdx, pageOff, buf[total:total+chunk], write, mirror); err != nil {
			if total > 0 {
				return total, 0
			}
			return 0, kernelerr.ENOMEM
		}
		off += int64(chunk)
		total += chunk
	}
	return total, 0
}

// mirrorChunk lands one written chunk in node.data, the store a cold
// page load reads from. Called by the cache under its own lock, so the
// fs lock nests inside the cache lock here, the same order the page
// loader uses.
func (b *memRegularBackend) mirrorChunk(off int64, data []byte) {
	b.fs.mu.Lock()
	defer b.fs.mu.Unlock()
	end := off + int64(len(data))
	if end > int64(len(b.n.data)) {
		grown := make([]byte, end)
		copy(grown, b.n.data)
		b.n.data = grown
	}
	copy(b.n.data[off:end], data)
}
