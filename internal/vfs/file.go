package vfs

import (
	"sync"

	"github.com/duckos-rv/kernel/internal/kernelerr"
	"github.com/duckos-rv/kernel/internal/uapi"
)

// Open-flag bits a fileBackend's Open sees (spec.md §4.4, validated
// further by internal/syscalls/flags.go). Numeric values match spec.md
// §6's table.
const (
	OReadOnly  = 0x0
	OWriteOnly = 0x1
	ORdWr      = 0x2
	OCreat     = 0o100
	OExcl      = 0o200
	OTrunc     = 0o1000
	OAppend    = 0o2000
	ONonblock  = 0o4000
	ONoAtime   = 0o40000
	ODirectory = 0o200000
	OCloExec   = 0o2000000
)

// fileBackend is the read/write primitive an open File delegates to.
// off is ignored by stream-like backends (console, pipe); regular files
// use it to address the page cache.
type fileBackend interface {
	ReadAt(p []byte, off int64) (int, kernelerr.Errno)
	WriteAt(p []byte, off int64) (int, kernelerr.Errno)
}

// File is one open file description: an Inode plus a cursor and the
// flags it was opened with (spec.md §3 "File": "open file description:
// inode + offset + flags, independent of which fd table references
// it"). Multiple fd table entries (via dup/dup2/fork) can share one
// File, which is why the offset lives here and not in the fd table.
type File struct {
	mu     sync.Mutex
	Inode  *Inode
	Flags  int
	Path   string // canonical absolute path this file was opened/resolved at, used by *at syscalls when this fd is passed as dirfd
	offset int64
	ops    fileBackend
}

func (f *File) Read(p []byte) (int, kernelerr.Errno) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, errno := f.ops.ReadAt(p, f.offset)
	if errno == 0 {
		f.offset += int64(n)
		f.Inode.TouchAtime(f.Flags&ONoAtime != 0)
	}
	return n, errno
}

func (f *File) Write(p []byte) (int, kernelerr.Errno) {
	f.mu.Lock()
	defer f.mu.Unlock()
	off := f.offset
	if f.Flags&OAppend != 0 {
		f.Inode.Lock()
		off = f.Inode.Size
		f.Inode.Unlock()
	}
	n, errno := f.ops.WriteAt(p, off)
	if errno == 0 {
		f.offset = off + int64(n)
		f.Inode.Lock()
		if f.offset > f.Inode.Size {
			f.Inode.Size = f.offset
		}
		f.Inode.Unlock()
		f.Inode.TouchModify()
	}
	return n, errno
}

// Seek repositions the cursor, Linux lseek(2) semantics (whence 0/1/2).
func (f *File) Seek(off int64, whence int) (int64, kernelerr.Errno) {
	f.mu.Lock()
	defer f.mu.Unlock()
	newOff := f.offset
	switch whence {
	case 0:
		newOff = off
	case 1:
		newOff += off
	case 2:
		f.Inode.Lock()
		newOff = f.Inode.Size + off
		f.Inode.Unlock()
	default:
		return 0, kernelerr.EINVAL
	}
	if newOff < 0 {
		return 0, kernelerr.EINVAL
	}
	f.offset = newOff
	return f.offset, 0
}

// NewRegularFile wraps a concrete filesystem's fileBackend into an open
// File description. Exported so filesystem implementations outside this
// package (memfs) can construct one without vfs needing to know their
// internal node representation.
func NewRegularFile(inode *Inode, flags int, backend fileBackend) *File {
	return &File{Inode: inode, Flags: flags, ops: backend}
}

func (f *File) Offset() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offset
}

// Stat fills st with this file's inode metadata.
func (f *File) Stat(st *uapi.Stat) kernelerr.Errno {
	f.Inode.Lock()
	defer f.Inode.Unlock()
	st.SetIno(f.Inode.No)
	st.SetSize(f.Inode.Size)
	st.SetNlink(uint32(f.Inode.Nlink))
	mode := uint32(0o644)
	switch f.Inode.Type {
	case TypeDir:
		mode = uapi.ModeDir | 0o755
	case TypeCharDevice:
		mode = uapi.ModeChr | 0o666
	case TypeFIFO:
		mode = uapi.ModeFifo | 0o600
	default:
		mode |= uapi.ModeReg
	}
	st.SetMode(mode)
	st.SetBlksize(4096)
	st.SetAtim(f.Inode.Atime, 0)
	st.SetMtim(f.Inode.Mtime, 0)
	st.SetCtim(f.Inode.Ctime, 0)
	return 0
}
