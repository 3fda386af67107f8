package syscalls

import (
	"github.com/duckos-rv/kernel/internal/frame"
	"github.com/duckos-rv/kernel/internal/kernelerr"
	"github.com/duckos-rv/kernel/internal/pagetable"
	"github.com/duckos-rv/kernel/internal/proc"
)

// uaccess copies bytes to/from a task's user address space by walking
// its page table and indexing directly into the frame allocator's
// backing store. It stands in for the SUM-bit guarded copyin/copyout
// routines spec.md §4.7 describes ("every syscall that dereferences a
// user pointer must acquire a scoped SUM guard"); since this simulation
// has no real hardware SUM bit to flip, uaccess itself is the guarded
// boundary — every syscall handler that touches user memory goes
// through it, and nothing else in internal/syscalls indexes frame bytes
// directly.
type uaccess struct {
	alloc *frame.Allocator
	table *pagetable.Table
	shift uint
}

func newUaccess(alloc *frame.Allocator, t *proc.Task, shift uint) uaccess {
	return uaccess{alloc: alloc, table: t.AS.Table(), shift: shift}
}

func (u uaccess) translate(va uint64) (frame.PPN, uint64, kernelerr.Errno) {
	pa, ok := u.table.TranslateVA(va)
	if !ok {
		return 0, 0, kernelerr.EFAULT
	}
	mask := uint64(1)<<u.shift - 1
	return frame.PPN(pa >> u.shift), pa & mask, 0
}

// CopyIn reads len(dst) bytes starting at user address va.
func (u uaccess) CopyIn(va uint64, dst []byte) kernelerr.Errno {
	for i := 0; i < len(dst); {
		ppn, off, errno := u.translate(va + uint64(i))
		if errno != 0 {
			return errno
		}
		pageBytes := u.alloc.Bytes(ppn)
		n := len(dst) - i
		if room := len(pageBytes) - int(off); n > room {
			n = room
		}
		copy(dst[i:i+n], pageBytes[off:int(off)+n])
		i += n
	}
	return 0
}

// CopyOut writes src to user address va.
func (u uaccess) CopyOut(va uint64, src []byte) kernelerr.Errno {
	for i := 0; i < len(src); {
		ppn, off, errno := u.translate(va + uint64(i))
		if errno != 0 {
			return errno
		}
		pageBytes := u.alloc.Bytes(ppn)
		n := len(src) - i
		if room := len(pageBytes) - int(off); n > room {
			n = room
		}
		copy(pageBytes[off:int(off)+n], src[i:i+n])
		i += n
	}
	return 0
}

// CopyInString reads a NUL-terminated string starting at va, up to max
// bytes (PATH_MAX-style bound, returned as ENAMETOOLONG-equivalent via
// ERANGE per this kernel's closed errno set).
func (u uaccess) CopyInString(va uint64, max int) (string, kernelerr.Errno) {
	buf := make([]byte, 0, 64)
	var b [64]byte
	for len(buf) < max {
		n := len(b)
		if max-len(buf) < n {
			n = max - len(buf)
		}
		if errno := u.CopyIn(va+uint64(len(buf)), b[:n]); errno != 0 {
			return "", errno
		}
		for i := 0; i < n; i++ {
			if b[i] == 0 {
				return string(append(buf, b[:i]...)), 0
			}
		}
		buf = append(buf, b[:n]...)
	}
	return "", kernelerr.ERANGE
}
