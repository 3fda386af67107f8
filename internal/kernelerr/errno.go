// Package kernelerr defines the closed errno set syscalls return,
// negated, as the result register (spec.md §7). Numeric values are
// cross-checked against golang.org/x/sys/unix so a0 on the wire matches
// the Linux errno a real userspace expects.
package kernelerr

import "golang.org/x/sys/unix"

// Errno is a kernel error code. Zero means success.
type Errno int

// The closed set of errno values the kernel core returns. Anything not
// in this list is a kernel bug (invariant violation), not a user-visible
// error, and the caller panics instead of returning one.
const (
	EPERM     Errno = Errno(unix.EPERM)
	ENOENT    Errno = Errno(unix.ENOENT)
	EBADF     Errno = Errno(unix.EBADF)
	EAGAIN    Errno = Errno(unix.EAGAIN)
	ENOMEM    Errno = Errno(unix.ENOMEM)
	EACCES    Errno = Errno(unix.EACCES)
	EFAULT    Errno = Errno(unix.EFAULT)
	EEXIST    Errno = Errno(unix.EEXIST)
	ENOTDIR   Errno = Errno(unix.ENOTDIR)
	EISDIR    Errno = Errno(unix.EISDIR)
	EINVAL    Errno = Errno(unix.EINVAL)
	ENFILE    Errno = Errno(unix.ENFILE)
	EMFILE    Errno = Errno(unix.EMFILE)
	ENOTEMPTY Errno = Errno(unix.ENOTEMPTY)
	ERANGE    Errno = Errno(unix.ERANGE)
	EIO       Errno = Errno(unix.EIO)
	ESPIPE    Errno = Errno(unix.ESPIPE)
	ENXIO     Errno = Errno(unix.ENXIO)
	ESRCH     Errno = Errno(unix.ESRCH)
	ECHILD    Errno = Errno(unix.ECHILD)
	EPIPE     Errno = Errno(unix.EPIPE)
)

// Error implements error so Errno can be returned/wrapped by ordinary
// Go code paths (tests, the in-memory fs) even though the syscall ABI
// itself only ever sees the negated int.
func (e Errno) Error() string {
	if e == 0 {
		return "success"
	}
	return unix.Errno(e).Error()
}

// Negated returns the value a7=... syscall handlers place in a0: the
// negative of the errno, or 0 on success.
func Negated(e Errno) int64 {
	return -int64(e)
}
