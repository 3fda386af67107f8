// Flag validation for openat/pipe2/mmap, a supplemented feature: the
// distilled spec.md mentions open flags only in passing, but duckos's
// original_source/os/src/utils/flag_check.rs validates O_* and MAP_*
// combinations explicitly before acting on them, and a complete
// implementation needs the same checks (SPEC_FULL.md §4, "Supplemented
// features").
package syscalls

import (
	"github.com/duckos-rv/kernel/internal/fdtable"
	"github.com/duckos-rv/kernel/internal/kernelerr"
	"github.com/duckos-rv/kernel/internal/vfs"
)

// fdFlagsFromOpen translates the O_* namespace's close-on-exec bit into
// the fd table's own flag bit; the two namespaces stay separate the way
// biscuit keeps FD_CLOEXEC apart from the open-mode bits.
func fdFlagsFromOpen(flags int) int {
	if flags&vfs.OCloExec != 0 {
		return fdtable.CloExec
	}
	return 0
}

// validatePipe2Flags rejects anything besides the two flags pipe2(2)
// honors here (O_NONBLOCK, O_CLOEXEC).
func validatePipe2Flags(flags int) kernelerr.Errno {
	if flags&^(vfs.ONonblock|vfs.OCloExec) != 0 {
		return kernelerr.EINVAL
	}
	return 0
}

// accessMode extracts O_RDONLY/O_WRONLY/O_RDWR from flags.
func accessMode(flags int) int { return flags & 0x3 }

// validateOpenFlags rejects flag combinations that make no sense
// together, mirroring flag_check.rs's role: O_CREAT|O_EXCL on an
// existing file is handled by the caller (EEXIST), but O_DIRECTORY
// combined with O_CREAT, or O_TRUNC with read-only access, are caught
// here before the filesystem is touched.
func validateOpenFlags(flags int) kernelerr.Errno {
	if flags&vfs.ODirectory != 0 && flags&vfs.OCreat != 0 {
		return kernelerr.EINVAL
	}
	if flags&vfs.OTrunc != 0 && accessMode(flags) == vfs.OReadOnly {
		return kernelerr.EINVAL
	}
	if flags&vfs.OExcl != 0 && flags&vfs.OCreat == 0 {
		return kernelerr.EINVAL
	}
	return 0
}

// mmap prot/flags bits, Linux values (spec.md §4.2's mmap operation
// takes perm + maptype; these are the syscall-level encoding of them).
const (
	ProtRead  = 0x1
	ProtWrite = 0x2
	ProtExec  = 0x4

	MapShared    = 0x01
	MapPrivate   = 0x02
	MapFixed     = 0x10
	MapAnonymous = 0x20
)

// validateMmapFlags rejects flags that set both or neither of
// MAP_SHARED and MAP_PRIVATE (Linux requires exactly one). It checks
// nothing else: MAP_ANONYMOUS and the fd argument are not validated here.
func validateMmapFlags(flags int) kernelerr.Errno {
	shared := flags&MapShared != 0
	private := flags&MapPrivate != 0
	if shared == private {
		return kernelerr.EINVAL
	}
	return 0
}
