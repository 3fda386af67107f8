package pipe

import (
	"sync/atomic"

	"github.com/duckos-rv/kernel/internal/kernelerr"
	"github.com/duckos-rv/kernel/internal/vfs"
)

// pipeOps is the minimal vfs.Ops a FIFO inode needs: every operation,
// Open included, fails on a pipe inode.
type pipeOps struct{}

func (pipeOps) Open(*vfs.Inode, int) (*vfs.File, kernelerr.Errno) { return nil, kernelerr.EINVAL }
func (pipeOps) Create(*vfs.Inode, string) (*vfs.Inode, kernelerr.Errno) {
	return nil, kernelerr.ENOTDIR
}
func (pipeOps) Mkdir(*vfs.Inode, string) (*vfs.Inode, kernelerr.Errno) {
	return nil, kernelerr.ENOTDIR
}
func (pipeOps) Mknod(*vfs.Inode, string, vfs.InodeType, uint32, uint32) (*vfs.Inode, kernelerr.Errno) {
	return nil, kernelerr.ENOTDIR
}
func (pipeOps) LoadChild(*vfs.Inode, string) (*vfs.Inode, kernelerr.Errno) {
	return nil, kernelerr.ENOTDIR
}
func (pipeOps) Unlink(*vfs.Inode, string) kernelerr.Errno { return kernelerr.ENOTDIR }
func (pipeOps) Readdir(*vfs.Inode) ([]vfs.DirEntry, kernelerr.Errno) {
	return nil, kernelerr.ENOTDIR
}
func (pipeOps) ReadPage(*vfs.Inode, uint64, []byte) error { return kernelerr.EINVAL }

var sharedPipeOps = pipeOps{}

type readBackend struct {
	e        *ReadEnd
	nonblock bool
}

func (b *readBackend) ReadAt(p []byte, _ int64) (int, kernelerr.Errno) { return b.e.Read(p, b.nonblock) }
func (b *readBackend) WriteAt([]byte, int64) (int, kernelerr.Errno)   { return 0, kernelerr.EBADF }

type writeBackend struct {
	e        *WriteEnd
	nonblock bool
}

func (b *writeBackend) ReadAt([]byte, int64) (int, kernelerr.Errno) { return 0, kernelerr.EBADF }
func (b *writeBackend) WriteAt(p []byte, _ int64) (int, kernelerr.Errno) {
	return b.e.Write(p, b.nonblock)
}

var nextPipeIno uint64 = 1 << 40 // pipes live in a reserved high inode range, distinct from disk inodes

// NewFiles creates a pipe and wraps its two ends as open vfs.File
// descriptions, ready for direct installation into an fd table
// (spec.md §4.6).
func NewFiles(capacity int, nonblock bool) (*vfs.File, *vfs.File) {
	r, w := New(capacity)
	ino := atomic.AddUint64(&nextPipeIno, 1)
	readInode := &vfs.Inode{No: ino, Type: vfs.TypeFIFO, Ops: sharedPipeOps}
	writeInode := &vfs.Inode{No: ino, Type: vfs.TypeFIFO, Ops: sharedPipeOps}
	rf := vfs.NewRegularFile(readInode, vfs.OReadOnly, &readBackend{e: r, nonblock: nonblock})
	wf := vfs.NewRegularFile(writeInode, vfs.OWriteOnly, &writeBackend{e: w, nonblock: nonblock})
	return rf, wf
}
