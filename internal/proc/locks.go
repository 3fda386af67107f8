package proc

// Lock order, narrowest scope last (spec.md §5):
//
//	address space (vmm.MemorySet) -> fd table (fdtable.Table) ->
//	dentry cache (vfs.Cache) -> page cache (pagecache.Cache) ->
//	backing store (memfs.FS) -> ring buffer (pipe.Ring)
//
// The backing store sits after the page cache because a cache miss
// loads through it while the cache's lock is held (and a write's mirror
// into it runs in the same critical section); no backing-store path may
// take the cache's lock while holding its own.
//
// Every code path that must hold more than one of these locks at once
// acquires them in this order. Scheduler.mu and Task.mu sit outside this
// chain entirely: the scheduler never calls into vmm/vfs/pagecache/pipe
// while holding its own lock, so it cannot participate in the ordering
// above. Matches biscuit's Lockassert_pmap convention of documenting
// lock order as a comment next to the lock's owner rather than enforcing
// it with a runtime lock-order checker.
