// Package fdtable implements the per-process file descriptor table: a
// bitmap allocator mapping small integers to open files (spec.md §3
// "FD table"). It generalizes biscuit's fd.Fd_t/Cwd_t
// (biscuit/src/fd/fd.go) — which wraps an fdops.Fdops_i reference plus
// permission bits — into a table keyed by fd number with the
// dup/dup3/close/close_exec/fork-copy operations spec.md §4.5 names;
// biscuit itself keeps the fd array inside its process struct rather
// than factoring it into its own package, so this layout follows
// biscuit's Fd_t shape while the table structure itself is this
// repository's own generalization.
package fdtable

import (
	"sync"

	"github.com/duckos-rv/kernel/internal/kernelerr"
	"github.com/duckos-rv/kernel/internal/vfs"
)

// Perm bits an fd entry carries, independent of the underlying File's
// open flags (spec.md §3: "fd -> (file, flags)").
const (
	CloExec = 0x1
)

type entry struct {
	file  *vfs.File
	flags int
}

// Table is one process's fd table.
type Table struct {
	mu      sync.Mutex
	entries []*entry // nil slot == unused fd
	maxFD   int
}

// New creates an empty table sized for up to maxFD descriptors (spec.md
// §4.5: table size bound by bootconfig.Config.MaxFD).
func New(maxFD int) *Table {
	return &Table{entries: make([]*entry, maxFD), maxFD: maxFD}
}

// InsertGetFD installs file at the lowest unused fd number and returns it
// (spec.md §4.5 "insert_get_fd").
func (t *Table) InsertGetFD(file *vfs.File, flags int) (int, kernelerr.Errno) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.entries {
		if e == nil {
			t.entries[i] = &entry{file: file, flags: flags}
			return i, 0
		}
	}
	return -1, kernelerr.EMFILE
}

// InsertSpecFD installs file at exactly fd, closing whatever was
// previously there — dup3(2)'s replace-in-place behavior, done in one
// critical section so no other thread can claim fd in between. Used by
// dup3 and the stdio wiring.
func (t *Table) InsertSpecFD(fd int, file *vfs.File, flags int) kernelerr.Errno {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fd < 0 || fd >= t.maxFD {
		return kernelerr.EBADF
	}
	t.entries[fd] = &entry{file: file, flags: flags}
	return 0
}

// Get returns the File installed at fd.
func (t *Table) Get(fd int) (*vfs.File, kernelerr.Errno) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fd < 0 || fd >= t.maxFD || t.entries[fd] == nil {
		return nil, kernelerr.EBADF
	}
	return t.entries[fd].file, 0
}

// Close drops fd's entry. Closing an already-closed fd is EBADF per
// spec.md §7.
func (t *Table) Close(fd int) kernelerr.Errno {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fd < 0 || fd >= t.maxFD || t.entries[fd] == nil {
		return kernelerr.EBADF
	}
	t.entries[fd] = nil
	return 0
}

// SetCloExec toggles the close-on-exec flag on fd.
func (t *Table) SetCloExec(fd int, on bool) kernelerr.Errno {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fd < 0 || fd >= t.maxFD || t.entries[fd] == nil {
		return kernelerr.EBADF
	}
	if on {
		t.entries[fd].flags |= CloExec
	} else {
		t.entries[fd].flags &^= CloExec
	}
	return 0
}

func (t *Table) IsCloExec(fd int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fd < 0 || fd >= t.maxFD || t.entries[fd] == nil {
		return false
	}
	return t.entries[fd].flags&CloExec != 0
}

// CloseExec closes every fd marked close-on-exec (spec.md §4.5
// "close_exec", run by execve after a successful image load).
func (t *Table) CloseExec() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.entries {
		if e != nil && e.flags&CloExec != 0 {
			t.entries[i] = nil
		}
	}
}

// FromCloneCopy duplicates every entry into a fresh table of the same
// size, sharing the underlying *vfs.File (spec.md §4.5
// "from_clone_copy": fork shares open file descriptions, not fd slots).
func (t *Table) FromCloneCopy() *Table {
	t.mu.Lock()
	defer t.mu.Unlock()
	nt := New(t.maxFD)
	for i, e := range t.entries {
		if e != nil {
			cp := *e
			nt.entries[i] = &cp
		}
	}
	return nt
}

// Dup duplicates oldfd at the lowest unused fd (dup(2)).
func (t *Table) Dup(oldfd int) (int, kernelerr.Errno) {
	t.mu.Lock()
	e := t.entryLocked(oldfd)
	t.mu.Unlock()
	if e == nil {
		return -1, kernelerr.EBADF
	}
	return t.InsertGetFD(e.file, e.flags&^CloExec)
}

// Dup3 duplicates oldfd at exactly newfd, with the given extra flags
// (dup3(2); EINVAL if oldfd == newfd, matching Linux).
func (t *Table) Dup3(oldfd, newfd, flags int) kernelerr.Errno {
	if oldfd == newfd {
		return kernelerr.EINVAL
	}
	t.mu.Lock()
	e := t.entryLocked(oldfd)
	t.mu.Unlock()
	if e == nil {
		return kernelerr.EBADF
	}
	return t.InsertSpecFD(newfd, e.file, flags)
}

func (t *Table) entryLocked(fd int) *entry {
	if fd < 0 || fd >= t.maxFD {
		return nil
	}
	return t.entries[fd]
}
