package kernelerr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestNegatedMatchesLinuxErrnoNumbers(t *testing.T) {
	cases := []struct {
		e    Errno
		want unix.Errno
	}{
		{EPERM, unix.EPERM},
		{ENOENT, unix.ENOENT},
		{EBADF, unix.EBADF},
		{EAGAIN, unix.EAGAIN},
		{ENOMEM, unix.ENOMEM},
		{EACCES, unix.EACCES},
		{EFAULT, unix.EFAULT},
		{EEXIST, unix.EEXIST},
		{ENOTDIR, unix.ENOTDIR},
		{EISDIR, unix.EISDIR},
		{EINVAL, unix.EINVAL},
		{ENFILE, unix.ENFILE},
		{EMFILE, unix.EMFILE},
		{ENOTEMPTY, unix.ENOTEMPTY},
		{ERANGE, unix.ERANGE},
		{EIO, unix.EIO},
		{ESPIPE, unix.ESPIPE},
		{ENXIO, unix.ENXIO},
		{ESRCH, unix.ESRCH},
		{ECHILD, unix.ECHILD},
		{EPIPE, unix.EPIPE},
	}
	for _, c := range cases {
		assert.Equal(t, int64(c.want), int64(c.e))
		assert.Equal(t, -int64(c.want), Negated(c.e))
	}
}

func TestNegatedSuccessIsZero(t *testing.T) {
	assert.Equal(t, int64(0), Negated(0))
}

func TestErrorStringsAreNonEmpty(t *testing.T) {
	assert.Equal(t, "success", Errno(0).Error())
	assert.NotEmpty(t, ENOENT.Error())
	assert.NotEmpty(t, EBADF.Error())
}
