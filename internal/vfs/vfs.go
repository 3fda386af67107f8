// Package vfs implements the inode/dentry/file abstraction and the
// global dentry cache (spec.md §3 "VFS"). The dentry-cache shape — a
// map keyed by absolute path — is
// grounded on biscuit's hashtable.Hashtable_t (biscuit/src/hashtable/hashtable.go,
// a bucketed, per-bucket-locked map) simplified from biscuit's
// lock-free-get design to a plain map behind one sync.RWMutex, since this
// kernel's dentry churn (process lifetimes, not packet-rate lookups)
// does not need biscuit's lock-free read path. Inode operations dispatch
// through a per-filesystem interface mirroring biscuit's Fs_t (inferred
// from fs/super.go's fs_foo method set) rather than biscuit's single
// hard-coded UFS implementation, so this VFS can host both a disk
// filesystem (internal/vfs/memfs as a stand-in) and synthetic files
// (stdio).
package vfs

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/duckos-rv/kernel/internal/frame"
	"github.com/duckos-rv/kernel/internal/kernelerr"
	"github.com/duckos-rv/kernel/internal/pagecache"
	"github.com/duckos-rv/kernel/internal/ustr"
)

// InodeType distinguishes the handful of file types spec.md §3 names.
type InodeType int

const (
	TypeRegular InodeType = iota
	TypeDir
	TypeCharDevice
	TypeFIFO
)

// Inode is the in-memory representation of one filesystem object.
// Concrete filesystems (memfs, stdio) embed or wrap Inode and fill in
// Ops; Inode itself only tracks the metadata every file type shares.
type Inode struct {
	mu sync.Mutex

	No    uint64
	Type  InodeType
	Size  int64
	Nlink int32

	// Atime/Mtime/Ctime are Unix seconds, mutated by File.Read/Write
	// (spec.md §3 "Inode": "mutable fields {size, atime, mtime, ctime}";
	// §4.3: "File atime is updated on read (unless O_NOATIME); ctime/mtime
	// on write").
	Atime int64
	Mtime int64
	Ctime int64

	Ops Ops

	// Cache is populated lazily for regular files needing page-cache
	// backed reads (spec.md §3 "Page cache": "per-inode map... lazy
	// disk-backed loading").
	Cache *pagecache.Cache
}

// TouchAtime records a read access, honoring O_NOATIME on the file that
// performed it.
func (i *Inode) TouchAtime(noAtime bool) {
	if noAtime {
		return
	}
	i.mu.Lock()
	i.Atime = time.Now().Unix()
	i.mu.Unlock()
}

// TouchModify records a write, bumping both mtime and ctime together
// the way a content change does on Linux.
func (i *Inode) TouchModify() {
	i.mu.Lock()
	now := time.Now().Unix()
	i.Mtime, i.Ctime = now, now
	i.mu.Unlock()
}

func (i *Inode) Lock()   { i.mu.Lock() }
func (i *Inode) Unlock() { i.mu.Unlock() }

// EnsureCache lazily builds this inode's page cache the first time it
// is needed (an open of a regular file, or a file-backed mmap), wiring
// it to Ops.ReadPage.
func (i *Inode) EnsureCache(alloc *frame.Allocator, log logrus.FieldLogger) *pagecache.Cache {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.Cache == nil {
		i.Cache = pagecache.New(alloc, i.No, func(_ uint64, pageIdx uint64, dst []byte) error {
			return i.Ops.ReadPage(i, pageIdx, dst)
		}, log)
	}
	return i.Cache
}

// Ops is the per-dentry filesystem operation set a concrete filesystem
// implements (spec.md §3: "per-dentry filesystem operation trait
// (open/create/mkdir/mknod/load_child/unlink)").
type Ops interface {
	// Open returns a File ready to read/write/seek this inode.
	Open(inode *Inode, flags int) (*File, kernelerr.Errno)
	// Create makes a new regular-file child named name under dir,
	// returning its Inode.
	Create(dir *Inode, name string) (*Inode, kernelerr.Errno)
	// Mkdir makes a new directory child named name under dir.
	Mkdir(dir *Inode, name string) (*Inode, kernelerr.Errno)
	// Mknod makes a device-special child named name under dir.
	Mknod(dir *Inode, name string, devType InodeType, major, minor uint32) (*Inode, kernelerr.Errno)
	// LoadChild resolves name under dir, loading it from backing
	// storage into the dentry cache if it is not already resident.
	LoadChild(dir *Inode, name string) (*Inode, kernelerr.Errno)
	// Unlink removes the child named name under dir.
	Unlink(dir *Inode, name string) kernelerr.Errno
	// Readdir lists dir's children as (name, inode-number, type) triples.
	Readdir(dir *Inode) ([]DirEntry, kernelerr.Errno)
	// ReadPage loads one page-aligned, page-sized chunk of inode's
	// content into dst, zero-padding past end-of-file. Used by the page
	// cache to service file-backed mmap faults (spec.md §3 "Page cache").
	ReadPage(inode *Inode, pageIdx uint64, dst []byte) error
}

// DirEntry is one child as reported by Readdir.
type DirEntry struct {
	Name string
	Ino  uint64
	Type InodeType
}

// Dentry is one cached path -> inode binding. The cache is global and
// keyed by canonical absolute path (spec.md §3: "global dentry cache
// keyed by absolute path").
type Dentry struct {
	Path   ustr.Ustr
	Inode  *Inode
	Parent *Dentry

	refs int32
}

// Cache is the global dentry cache.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Dentry
	log     logrus.FieldLogger
}

func NewCache(log logrus.FieldLogger) *Cache {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Cache{
		entries: make(map[string]*Dentry),
		log:     log.WithField("subsystem", "vfs"),
	}
}

// Lookup returns the cached dentry for path, if any.
func (c *Cache) Lookup(path ustr.Ustr) (*Dentry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.entries[path.String()]
	return d, ok
}

// Insert records a dentry under its canonical path, replacing any
// previous entry for the same path.
func (c *Cache) Insert(d *Dentry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[d.Path.String()] = d
}

// Remove drops path from the cache, e.g. after unlink.
func (c *Cache) Remove(path ustr.Ustr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path.String())
}

// Resolve walks path component by component from root, consulting the
// cache first and falling back to Ops.LoadChild, populating the cache as
// it goes (spec.md §3 path-resolution behavior).
func (c *Cache) Resolve(root *Dentry, path ustr.Ustr) (*Dentry, kernelerr.Errno) {
	if path.IsAbsolute() || root == nil {
		if d, ok := c.Lookup(ustr.MkRoot()); ok {
			root = d
		}
	}
	cur := root
	if cur == nil {
		return nil, kernelerr.ENOENT
	}

	canon := path
	parts := splitNonEmpty(canon.String())
	builtStr := "/"
	for _, part := range parts {
		if builtStr != "/" {
			builtStr += "/"
		}
		builtStr += part
		built := ustr.Ustr(builtStr)
		if d, ok := c.Lookup(built); ok {
			cur = d
			continue
		}
		if cur.Inode.Type != TypeDir {
			return nil, kernelerr.ENOTDIR
		}
		child, errno := cur.Inode.Ops.LoadChild(cur.Inode, part)
		if errno != 0 {
			return nil, errno
		}
		nd := &Dentry{Path: built, Inode: child, Parent: cur, refs: 1}
		c.Insert(nd)
		cur = nd
	}
	return cur, 0
}

func splitNonEmpty(p string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				out = append(out, p[start:i])
			}
			start = i + 1
		}
	}
	return out
}
