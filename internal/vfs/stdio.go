package vfs

import (
	"bufio"
	"io"
	"sync"

	"github.com/duckos-rv/kernel/internal/kernelerr"
)

// consoleOps backs /dev/console-style stdio inodes: a character device
// whose reads and writes go straight to the host process's stdin/stdout
// rather than through the page cache (spec.md supplemented feature,
// grounded on duckos's original_source/src/fs/stdio.rs, which wires a
// process's fd 0/1/2 to the kernel's serial console rather than to a
// disk file).
type consoleOps struct {
	mu sync.Mutex
	r  *bufio.Reader
	w  io.Writer
}

func newConsoleOps(r io.Reader, w io.Writer) *consoleOps {
	return &consoleOps{r: bufio.NewReader(r), w: w}
}

func (c *consoleOps) Open(inode *Inode, flags int) (*File, kernelerr.Errno) {
	return &File{Inode: inode, ops: consoleFileOps{c}, Flags: flags}, 0
}

func (*consoleOps) Create(*Inode, string) (*Inode, kernelerr.Errno) { return nil, kernelerr.EACCES }
func (*consoleOps) Mkdir(*Inode, string) (*Inode, kernelerr.Errno)  { return nil, kernelerr.EACCES }
func (*consoleOps) Mknod(*Inode, string, InodeType, uint32, uint32) (*Inode, kernelerr.Errno) {
	return nil, kernelerr.EACCES
}
func (*consoleOps) LoadChild(*Inode, string) (*Inode, kernelerr.Errno) {
	return nil, kernelerr.ENOTDIR
}
func (*consoleOps) Unlink(*Inode, string) kernelerr.Errno { return kernelerr.EACCES }
func (*consoleOps) Readdir(*Inode) ([]DirEntry, kernelerr.Errno) {
	return nil, kernelerr.ENOTDIR
}
func (*consoleOps) ReadPage(*Inode, uint64, []byte) error { return kernelerr.EACCES }

// consoleFileOps implements fileBackend for a console inode's open file.
type consoleFileOps struct{ c *consoleOps }

func (f consoleFileOps) ReadAt(p []byte, _ int64) (int, kernelerr.Errno) {
	f.c.mu.Lock()
	defer f.c.mu.Unlock()
	n, err := f.c.r.Read(p)
	if err != nil && n == 0 {
		if err == io.EOF {
			return 0, 0
		}
		return 0, kernelerr.EIO
	}
	return n, 0
}

func (f consoleFileOps) WriteAt(p []byte, _ int64) (int, kernelerr.Errno) {
	f.c.mu.Lock()
	defer f.c.mu.Unlock()
	n, err := f.c.w.Write(p)
	if err != nil {
		return n, kernelerr.EIO
	}
	return n, 0
}

// NewStdinInode wraps r as inode 1 (the kernel's hardcoded console
// device inode numbers, mirroring biscuit's fixed low device inode
// range).
func NewStdinInode(r io.Reader) *Inode {
	return &Inode{No: 1, Type: TypeCharDevice, Ops: newConsoleOps(r, nil)}
}

// NewStdoutInode wraps w as a write-only console device inode.
func NewStdoutInode(w io.Writer) *Inode {
	return &Inode{No: 2, Type: TypeCharDevice, Ops: newConsoleOps(nil, w)}
}

// NewStderrInode wraps w as a write-only console device inode distinct
// from stdout's (inode 3, continuing the fixed low device-inode range).
func NewStderrInode(w io.Writer) *Inode {
	return &Inode{No: 3, Type: TypeCharDevice, Ops: newConsoleOps(nil, w)}
}
