package memfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duckos-rv/kernel/internal/frame"
	"github.com/duckos-rv/kernel/internal/kernelerr"
	"github.com/duckos-rv/kernel/internal/vfs"
)

func newTestFS() *FS {
	return New(frame.New(0, 64, nil), nil)
}

func TestCreateThenOpenRoundTripsContent(t *testing.T) {
	fs := newTestFS()
	root := fs.Root()

	child, errno := root.Ops.Create(root, "hello.txt")
	require.Zero(t, errno)
	assert.NotZero(t, child.Atime, "newly created inodes are stamped with a creation time")

	f, errno := root.Ops.Open(child, vfs.ORdWr)
	require.Zero(t, errno)
	n, errno := f.Write([]byte("hi"))
	require.Zero(t, errno)
	assert.Equal(t, 2, n)

	_, errno = f.Seek(0, 0)
	require.Zero(t, errno)
	buf := make([]byte, 2)
	n, errno = f.Read(buf)
	require.Zero(t, errno)
	assert.Equal(t, "hi", string(buf[:n]))
}

func TestCreateDuplicateNameIsEEXIST(t *testing.T) {
	fs := newTestFS()
	root := fs.Root()
	_, errno := root.Ops.Create(root, "dup")
	require.Zero(t, errno)
	_, errno = root.Ops.Create(root, "dup")
	assert.Equal(t, kernelerr.EEXIST, errno)
}

func TestMkdirThenLoadChild(t *testing.T) {
	fs := newTestFS()
	root := fs.Root()
	dir, errno := root.Ops.Mkdir(root, "sub")
	require.Zero(t, errno)

	got, errno := root.Ops.LoadChild(root, "sub")
	require.Zero(t, errno)
	assert.Equal(t, dir.No, got.No)

	_, errno = root.Ops.LoadChild(root, "missing")
	assert.Equal(t, kernelerr.ENOENT, errno)
}

func TestUnlinkRemovesEntryAndDropsNlink(t *testing.T) {
	fs := newTestFS()
	root := fs.Root()
	child, errno := root.Ops.Create(root, "f")
	require.Zero(t, errno)
	require.Equal(t, int32(1), child.Nlink)

	require.Zero(t, root.Ops.Unlink(root, "f"))
	assert.Equal(t, int32(0), child.Nlink)

	_, errno = root.Ops.LoadChild(root, "f")
	assert.Equal(t, kernelerr.ENOENT, errno)
}

func TestUnlinkNonEmptyDirIsENOTEMPTY(t *testing.T) {
	fs := newTestFS()
	root := fs.Root()
	dir, errno := root.Ops.Mkdir(root, "d")
	require.Zero(t, errno)
	_, errno = dir.Ops.Create(dir, "child")
	require.Zero(t, errno)

	assert.Equal(t, kernelerr.ENOTEMPTY, root.Ops.Unlink(root, "d"))
}

func TestReaddirListsAllChildren(t *testing.T) {
	fs := newTestFS()
	root := fs.Root()
	_, errno := root.Ops.Create(root, "a")
	require.Zero(t, errno)
	_, errno = root.Ops.Mkdir(root, "b")
	require.Zero(t, errno)

	entries, errno := root.Ops.Readdir(root)
	require.Zero(t, errno)
	names := map[string]vfs.InodeType{}
	for _, e := range entries {
		names[e.Name] = e.Type
	}
	assert.Equal(t, vfs.TypeRegular, names["a"])
	assert.Equal(t, vfs.TypeDir, names["b"])
}

func TestReaddirOrderIsStableAcrossCalls(t *testing.T) {
	fs := newTestFS()
	root := fs.Root()
	for _, name := range []string{"z", "a", "m", "b", "q"} {
		_, errno := root.Ops.Create(root, name)
		require.Zero(t, errno)
	}

	first, errno := root.Ops.Readdir(root)
	require.Zero(t, errno)
	for i := 0; i < 5; i++ {
		again, errno := root.Ops.Readdir(root)
		require.Zero(t, errno)
		require.Equal(t, first, again, "getdents64 resumes by index into this slice; a reordering between calls skips or duplicates entries")
	}
}

func TestOpenTruncTruncatesExistingContent(t *testing.T) {
	fs := newTestFS()
	root := fs.Root()
	child, errno := root.Ops.Create(root, "f")
	require.Zero(t, errno)

	f, errno := root.Ops.Open(child, vfs.ORdWr)
	require.Zero(t, errno)
	_, errno = f.Write([]byte("longer content"))
	require.Zero(t, errno)

	f2, errno := root.Ops.Open(child, vfs.ORdWr|vfs.OTrunc)
	require.Zero(t, errno)
	assert.Zero(t, child.Size)

	buf := make([]byte, 4)
	n, errno := f2.Read(buf)
	require.Zero(t, errno)
	assert.Zero(t, n)
}

func TestReadPageZeroPadsPastEndOfFile(t *testing.T) {
	fs := newTestFS()
	root := fs.Root()
	child, errno := root.Ops.Create(root, "f")
	require.Zero(t, errno)
	f, errno := root.Ops.Open(child, vfs.ORdWr)
	require.Zero(t, errno)
	_, errno = f.Write([]byte("ab"))
	require.Zero(t, errno)

	dst := make([]byte, 8)
	for i := range dst {
		dst[i] = 0xff
	}
	require.NoError(t, child.Ops.ReadPage(child, 0, dst))
	assert.Equal(t, byte('a'), dst[0])
	assert.Equal(t, byte('b'), dst[1])
	assert.Zero(t, dst[2], "bytes past the file's content must be zero-padded")
}
