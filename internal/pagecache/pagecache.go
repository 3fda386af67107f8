// Package pagecache implements the per-inode page cache (spec.md §3,
// "Page cache"): a lazy map from page-aligned file offset to a shared
// Page, loaded from a backing store on first access. It follows the
// block-cache shape of biscuit's fs/blk.go (Bcache_t: a hash-keyed map
// from block number to a refcounted, lazily-filled buffer) generalized
// from biscuit's fixed 512-byte blocks to page-granular (4096-byte)
// caching, and keyed per-inode rather than globally by block number, per
// spec.md's per-inode page cache design.
package pagecache

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/duckos-rv/kernel/internal/frame"
	"github.com/duckos-rv/kernel/internal/page"
)

// Loader reads the on-disk content of one page-aligned offset of an
// inode into dst. Implementations live in internal/vfs, which knows how
// to address the underlying storage; pagecache only orchestrates
// caching, to avoid an import cycle (vfs depends on pagecache, not the
// reverse).
type Loader func(inodeNo uint64, pageIdx uint64, dst []byte) error

// Cache is one inode's page cache: pageIdx -> shared Page.
type Cache struct {
	mu      sync.Mutex
	alloc   *frame.Allocator
	inodeNo uint64
	loader  Loader
	log     logrus.FieldLogger
	pages   map[uint64]*page.Page
}

// New creates a page cache for one inode.
func New(alloc *frame.Allocator, inodeNo uint64, loader Loader, log logrus.FieldLogger) *Cache {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Cache{
		alloc:   alloc,
		inodeNo: inodeNo,
		loader:  loader,
		log:     log.WithField("subsystem", "pagecache").WithField("inode", inodeNo),
		pages:   make(map[uint64]*page.Page),
	}
}

// FindPage returns the Page for pageIdx, loading it from the backing
// store on first access (spec.md §3: "lazy disk-backed loading"). The
// returned Page is shared: callers that keep it past the call (e.g. by
// installing it in a VMA) must call Page.Ref() themselves.
func (c *Cache) FindPage(pageIdx uint64) (*page.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked(pageIdx)
}

// loadLocked returns the Page for pageIdx, loading it from the backing
// store on first access. Callers must hold c.mu.
func (c *Cache) loadLocked(pageIdx uint64) (*page.Page, error) {
	if pg, ok := c.pages[pageIdx]; ok {
		return pg, nil
	}

	pg, ok := page.NewFileBacked(c.alloc, page.PermR|page.PermW, page.Backing{
		InodeNo: c.inodeNo,
		PageIdx: pageIdx,
		Loader: func(inode uint64, idx uint64, dst []byte) {
			if err := c.loader(inode, idx, dst); err != nil {
				c.log.WithError(err).WithField("page_idx", idx).Warn("page cache load failed; serving zero page")
			}
		},
	})
	if !ok {
		return nil, errPoolExhausted
	}
	pg.Bytes() // force the load now, so a cached Page never looks stale
	c.pages[pageIdx] = pg
	return pg, nil
}

// Transfer copies buf into or out of the page at pageIdx, starting at
// pageOff, loading the page first if it is not already resident. The
// whole find-then-copy sequence runs under the cache's lock (spec.md §5:
// "the page cache ... [has its] own spinlock"), so two writers touching
// the same page can't interleave their copies. A non-nil mirror is
// invoked after a write's copy, still under the cache's lock, so the
// backing store's view of the written range cannot diverge from the
// page between the two updates (a truncate serializes either wholly
// before or wholly after both). mirror must take only locks that are
// ordered after the page cache's.
func (c *Cache) Transfer(pageIdx uint64, pageOff int, buf []byte, write bool, mirror func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pg, err := c.loadLocked(pageIdx)
	if err != nil {
		return err
	}

	pageBytes := pg.Bytes()
	if write {
		copy(pageBytes[pageOff:pageOff+len(buf)], buf)
		if mirror != nil {
			mirror()
		}
	} else {
		copy(buf, pageBytes[pageOff:pageOff+len(buf)])
	}
	return nil
}

// Evict drops the cache's reference to pageIdx (e.g. on file truncate).
func (c *Cache) Evict(pageIdx uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pg, ok := c.pages[pageIdx]; ok {
		pg.Put()
		delete(c.pages, pageIdx)
	}
}

// Clear drops every resident page, e.g. when O_TRUNC discards a regular
// file's content out from under an already-populated cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for idx, pg := range c.pages {
		pg.Put()
		delete(c.pages, idx)
	}
}

// Len reports how many pages are currently resident, for tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pages)
}

type poolExhaustedError struct{}

func (poolExhaustedError) Error() string { return "pagecache: frame pool exhausted" }

var errPoolExhausted = poolExhaustedError{}
