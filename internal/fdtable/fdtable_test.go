package fdtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duckos-rv/kernel/internal/kernelerr"
	"github.com/duckos-rv/kernel/internal/vfs"
)

func dummyFile() *vfs.File {
	return vfs.NewRegularFile(&vfs.Inode{Type: vfs.TypeRegular}, vfs.ORdWr, nil)
}

func TestInsertGetFDUsesLowestFreeSlot(t *testing.T) {
	tb := New(4)
	fd0, errno := tb.InsertGetFD(dummyFile(), 0)
	require.Zero(t, errno)
	assert.Equal(t, 0, fd0)

	fd1, errno := tb.InsertGetFD(dummyFile(), 0)
	require.Zero(t, errno)
	assert.Equal(t, 1, fd1)

	require.Zero(t, tb.Close(fd0))
	fd2, errno := tb.InsertGetFD(dummyFile(), 0)
	require.Zero(t, errno)
	assert.Equal(t, 0, fd2, "closed slot must be reused before growing")
}

func TestInsertGetFDReturnsEMFILEWhenFull(t *testing.T) {
	tb := New(1)
	_, errno := tb.InsertGetFD(dummyFile(), 0)
	require.Zero(t, errno)
	_, errno = tb.InsertGetFD(dummyFile(), 0)
	assert.Equal(t, kernelerr.EMFILE, errno)
}

func TestCloseUnknownFDIsEBADF(t *testing.T) {
	tb := New(4)
	assert.Equal(t, kernelerr.EBADF, tb.Close(0))
	assert.Equal(t, kernelerr.EBADF, tb.Close(-1))
	assert.Equal(t, kernelerr.EBADF, tb.Close(99))
}

func TestDupSharesUnderlyingFileDropsCloExec(t *testing.T) {
	tb := New(4)
	f := dummyFile()
	fd, errno := tb.InsertGetFD(f, 0)
	require.Zero(t, errno)
	require.Zero(t, tb.SetCloExec(fd, true))

	dupFD, errno := tb.Dup(fd)
	require.Zero(t, errno)
	assert.NotEqual(t, fd, dupFD)

	got, errno := tb.Get(dupFD)
	require.Zero(t, errno)
	assert.Same(t, f, got)
	assert.False(t, tb.IsCloExec(dupFD), "dup must not carry FD_CLOEXEC to the new fd")
}

func TestDup3RejectsEqualFDs(t *testing.T) {
	tb := New(4)
	fd, errno := tb.InsertGetFD(dummyFile(), 0)
	require.Zero(t, errno)
	assert.Equal(t, kernelerr.EINVAL, tb.Dup3(fd, fd, 0))
}

func TestDup3ClosesWhateverWasAtNewfd(t *testing.T) {
	tb := New(4)
	a, errno := tb.InsertGetFD(dummyFile(), 0)
	require.Zero(t, errno)
	b := dummyFile()
	bfd, errno := tb.InsertGetFD(b, 0)
	require.Zero(t, errno)

	require.Zero(t, tb.Dup3(a, bfd, 0))
	got, errno := tb.Get(bfd)
	require.Zero(t, errno)
	aFile, _ := tb.Get(a)
	assert.Same(t, aFile, got)
}

func TestCloseExecClosesOnlyMarkedFDs(t *testing.T) {
	tb := New(4)
	keep, errno := tb.InsertGetFD(dummyFile(), 0)
	require.Zero(t, errno)
	drop, errno := tb.InsertGetFD(dummyFile(), 0)
	require.Zero(t, errno)
	require.Zero(t, tb.SetCloExec(drop, true))

	tb.CloseExec()

	_, errno = tb.Get(keep)
	assert.Zero(t, errno)
	_, errno = tb.Get(drop)
	assert.Equal(t, kernelerr.EBADF, errno)
}

func TestFromCloneCopySharesFilesButNotSlots(t *testing.T) {
	tb := New(4)
	f := dummyFile()
	fd, errno := tb.InsertGetFD(f, 0)
	require.Zero(t, errno)

	child := tb.FromCloneCopy()
	childFile, errno := child.Get(fd)
	require.Zero(t, errno)
	assert.Same(t, f, childFile, "clone copy shares the open file description")

	require.Zero(t, child.Close(fd))
	_, errno = tb.Get(fd)
	assert.Zero(t, errno, "closing the child's copy must not affect the parent's table")
}
