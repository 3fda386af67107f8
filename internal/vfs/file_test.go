package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duckos-rv/kernel/internal/kernelerr"
	"github.com/duckos-rv/kernel/internal/uapi"
)

// byteBackend is a fileBackend over a plain in-memory buffer, enough to
// drive File's offset/flag bookkeeping without a real filesystem.
type byteBackend struct{ data []byte }

func (b *byteBackend) ReadAt(p []byte, off int64) (int, kernelerr.Errno) {
	if off >= int64(len(b.data)) {
		return 0, 0
	}
	n := copy(p, b.data[off:])
	return n, 0
}

func (b *byteBackend) WriteAt(p []byte, off int64) (int, kernelerr.Errno) {
	end := off + int64(len(p))
	if end > int64(len(b.data)) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[off:end], p)
	return len(p), 0
}

func TestFileReadWriteAdvancesOffset(t *testing.T) {
	inode := &Inode{Type: TypeRegular}
	f := NewRegularFile(inode, ORdWr, &byteBackend{})

	n, errno := f.Write([]byte("hello world"))
	require.Zero(t, errno)
	assert.Equal(t, 11, n)
	assert.Equal(t, int64(11), f.Offset())

	_, errno = f.Seek(0, 0)
	require.Zero(t, errno)
	buf := make([]byte, 5)
	n, errno = f.Read(buf)
	require.Zero(t, errno)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))
	assert.Equal(t, int64(5), f.Offset())
}

func TestFileAppendIgnoresCursorAndWritesAtEnd(t *testing.T) {
	inode := &Inode{Type: TypeRegular, Size: 0}
	backend := &byteBackend{data: []byte("abc")}
	inode.Size = int64(len(backend.data))
	f := NewRegularFile(inode, OWriteOnly|OAppend, backend)

	_, errno := f.Write([]byte("def"))
	require.Zero(t, errno)
	assert.Equal(t, "abcdef", string(backend.data))
	assert.Equal(t, int64(6), inode.Size)
}

func TestFileSeekWhenceVariants(t *testing.T) {
	inode := &Inode{Type: TypeRegular, Size: 10}
	f := NewRegularFile(inode, ORdWr, &byteBackend{data: make([]byte, 10)})

	off, errno := f.Seek(3, 0)
	require.Zero(t, errno)
	assert.Equal(t, int64(3), off)

	off, errno = f.Seek(2, 1)
	require.Zero(t, errno)
	assert.Equal(t, int64(5), off)

	off, errno = f.Seek(-4, 2)
	require.Zero(t, errno)
	assert.Equal(t, int64(6), off)

	_, errno = f.Seek(-100, 0)
	assert.Equal(t, kernelerr.EINVAL, errno, "seeking before byte 0 is rejected")
}

func TestFileReadTouchesAtimeUnlessNoAtime(t *testing.T) {
	inode := &Inode{Type: TypeRegular}
	f := NewRegularFile(inode, OReadOnly, &byteBackend{data: []byte("x")})
	buf := make([]byte, 1)
	_, errno := f.Read(buf)
	require.Zero(t, errno)
	assert.NotZero(t, inode.Atime)

	inode2 := &Inode{Type: TypeRegular}
	f2 := NewRegularFile(inode2, OReadOnly|ONoAtime, &byteBackend{data: []byte("x")})
	_, errno = f2.Read(buf)
	require.Zero(t, errno)
	assert.Zero(t, inode2.Atime, "O_NOATIME must suppress the atime update")
}

func TestFileWriteTouchesMtimeAndCtime(t *testing.T) {
	inode := &Inode{Type: TypeRegular}
	f := NewRegularFile(inode, OWriteOnly, &byteBackend{})
	_, errno := f.Write([]byte("x"))
	require.Zero(t, errno)
	assert.NotZero(t, inode.Mtime)
	assert.Equal(t, inode.Mtime, inode.Ctime)
}

func TestFileStatReportsSizeAndMode(t *testing.T) {
	inode := &Inode{No: 5, Type: TypeDir, Nlink: 2, Size: 4096}
	f := NewRegularFile(inode, OReadOnly, &byteBackend{})

	var st uapi.Stat
	require.Zero(t, f.Stat(&st))
	assert.Equal(t, uint64(5), st.Ino())
	assert.Equal(t, int64(4096), st.Size())
	assert.Equal(t, uapi.ModeDir|0o755, st.Mode())
}
