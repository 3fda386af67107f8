package syscalls

import (
	"time"

	"github.com/duckos-rv/kernel/internal/bpath"
	"github.com/duckos-rv/kernel/internal/kernelerr"
	"github.com/duckos-rv/kernel/internal/page"
	"github.com/duckos-rv/kernel/internal/pipe"
	"github.com/duckos-rv/kernel/internal/proc"
	"github.com/duckos-rv/kernel/internal/trap"
	"github.com/duckos-rv/kernel/internal/uapi"
	"github.com/duckos-rv/kernel/internal/ustr"
	"github.com/duckos-rv/kernel/internal/vfs"
	"github.com/duckos-rv/kernel/internal/vmm"
)

const pathMax = 4096

func (tb *Table) sysWrite(t *proc.Task, u uaccess, fd int, bufVA uint64, n int) int64 {
	file, errno := t.FDs.Get(fd)
	if errno != 0 {
		return kernelerr.Negated(errno)
	}
	buf := make([]byte, n)
	if errno := u.CopyIn(bufVA, buf); errno != 0 {
		return kernelerr.Negated(errno)
	}
	written, errno := file.Write(buf)
	if errno != 0 {
		return kernelerr.Negated(errno)
	}
	return int64(written)
}

func (tb *Table) sysRead(t *proc.Task, u uaccess, fd int, bufVA uint64, n int) int64 {
	file, errno := t.FDs.Get(fd)
	if errno != 0 {
		return kernelerr.Negated(errno)
	}
	buf := make([]byte, n)
	read, errno := file.Read(buf)
	if errno != 0 {
		return kernelerr.Negated(errno)
	}
	if errno := u.CopyOut(bufVA, buf[:read]); errno != 0 {
		return kernelerr.Negated(errno)
	}
	return int64(read)
}

// resolveAt implements the *at family's dirfd+path rule: AT_FDCWD means
// "relative to the task's cwd"; any other fd must be an already-open
// directory, and the path resolves relative to where that fd was opened
// (spec.md §7 "AT_FDCWD = -100"). The joined result is lexically
// canonicalized (bpath.Canonicalize) so "." / ".." components and
// repeated slashes in the caller-supplied path collapse before it ever
// reaches the dentry cache, which keys purely on string identity.
func (tb *Table) resolveAt(t *proc.Task, dirfd int, path ustr.Ustr) ustr.Ustr {
	if path.IsAbsolute() {
		return bpath.Canonicalize(path)
	}
	base := t.Cwd
	if dirfd != AtFDCwd {
		if f, errno := t.FDs.Get(dirfd); errno == 0 {
			base = ustr.Ustr(f.Path)
		}
	}
	return bpath.Canonicalize(base.Join(path))
}

func (tb *Table) sysOpenat(t *proc.Task, u uaccess, dirfd int, pathVA uint64, flags, mode int) int64 {
	pathStr, errno := u.CopyInString(pathVA, pathMax)
	if errno != 0 {
		return kernelerr.Negated(errno)
	}
	if errno := validateOpenFlags(flags); errno != 0 {
		return kernelerr.Negated(errno)
	}
	full := tb.resolveAt(t, dirfd, ustr.Ustr(pathStr))

	d, errno := tb.k.Dentries.Resolve(tb.k.Root, full)
	if errno == 0 && flags&vfs.OCreat != 0 && flags&vfs.OExcl != 0 {
		return kernelerr.Negated(kernelerr.EEXIST)
	}
	if errno == kernelerr.ENOENT && flags&vfs.OCreat != 0 {
		parentPath, name := bpath.Dir(full).String(), bpath.Base(full)
		pd, perrno := tb.k.Dentries.Resolve(tb.k.Root, ustr.Ustr(parentPath))
		if perrno != 0 {
			return kernelerr.Negated(perrno)
		}
		inode, cerrno := pd.Inode.Ops.Create(pd.Inode, name)
		if cerrno != 0 {
			return kernelerr.Negated(cerrno)
		}
		nd := &vfs.Dentry{Path: ustr.Ustr(full.String()), Inode: inode, Parent: pd}
		tb.k.Dentries.Insert(nd)
		d = nd
		errno = 0
	}
	if errno != 0 {
		return kernelerr.Negated(errno)
	}
	if d.Inode.Type == vfs.TypeDir && flags&(vfs.OWriteOnly|vfs.ORdWr) != 0 {
		return kernelerr.Negated(kernelerr.EISDIR)
	}
	if flags&vfs.ODirectory != 0 && d.Inode.Type != vfs.TypeDir {
		return kernelerr.Negated(kernelerr.ENOTDIR)
	}

	file, ferrno := d.Inode.Ops.Open(d.Inode, flags)
	if ferrno != 0 {
		return kernelerr.Negated(ferrno)
	}
	file.Path = full.String()
	newFd, ierrno := t.FDs.InsertGetFD(file, fdFlagsFromOpen(flags))
	if ierrno != 0 {
		return kernelerr.Negated(ierrno)
	}
	return int64(newFd)
}

func (tb *Table) sysMkdirat(t *proc.Task, u uaccess, dirfd int, pathVA uint64) int64 {
	pathStr, errno := u.CopyInString(pathVA, pathMax)
	if errno != 0 {
		return kernelerr.Negated(errno)
	}
	full := tb.resolveAt(t, dirfd, ustr.Ustr(pathStr))
	parentPath, name := bpath.Dir(full).String(), bpath.Base(full)
	pd, perrno := tb.k.Dentries.Resolve(tb.k.Root, ustr.Ustr(parentPath))
	if perrno != 0 {
		return kernelerr.Negated(perrno)
	}
	inode, cerrno := pd.Inode.Ops.Mkdir(pd.Inode, name)
	if cerrno != 0 {
		return kernelerr.Negated(cerrno)
	}
	nd := &vfs.Dentry{Path: ustr.Ustr(full.String()), Inode: inode, Parent: pd}
	tb.k.Dentries.Insert(nd)
	return 0
}

func (tb *Table) sysUnlinkat(t *proc.Task, u uaccess, dirfd int, pathVA uint64) int64 {
	pathStr, errno := u.CopyInString(pathVA, pathMax)
	if errno != 0 {
		return kernelerr.Negated(errno)
	}
	full := tb.resolveAt(t, dirfd, ustr.Ustr(pathStr))
	parentPath, name := bpath.Dir(full).String(), bpath.Base(full)
	pd, perrno := tb.k.Dentries.Resolve(tb.k.Root, ustr.Ustr(parentPath))
	if perrno != 0 {
		return kernelerr.Negated(perrno)
	}
	if uerrno := pd.Inode.Ops.Unlink(pd.Inode, name); uerrno != 0 {
		return kernelerr.Negated(uerrno)
	}
	tb.k.Dentries.Remove(ustr.Ustr(full.String()))
	return 0
}

func (tb *Table) sysGetcwd(t *proc.Task, u uaccess, bufVA uint64, size int) int64 {
	b := append([]byte(t.Cwd.String()), 0)
	if len(b) > size {
		return kernelerr.Negated(kernelerr.ERANGE)
	}
	if errno := u.CopyOut(bufVA, b); errno != 0 {
		return kernelerr.Negated(errno)
	}
	return int64(len(b))
}

func (tb *Table) sysChdir(t *proc.Task, u uaccess, pathVA uint64) int64 {
	pathStr, errno := u.CopyInString(pathVA, pathMax)
	if errno != 0 {
		return kernelerr.Negated(errno)
	}
	full := tb.resolveAt(t, AtFDCwd, ustr.Ustr(pathStr))
	d, derrno := tb.k.Dentries.Resolve(tb.k.Root, full)
	if derrno != 0 {
		return kernelerr.Negated(derrno)
	}
	if d.Inode.Type != vfs.TypeDir {
		return kernelerr.Negated(kernelerr.ENOTDIR)
	}
	t.Cwd = ustr.Ustr(full.String())
	return 0
}

func (tb *Table) sysGetdents64(t *proc.Task, u uaccess, fd int, bufVA uint64, size int) int64 {
	file, errno := t.FDs.Get(fd)
	if errno != 0 {
		return kernelerr.Negated(errno)
	}
	entries, derrno := file.Inode.Ops.Readdir(file.Inode)
	if derrno != 0 {
		return kernelerr.Negated(derrno)
	}
	var out []byte
	skip := int(file.Offset())
	for idx := skip; idx < len(entries); idx++ {
		e := entries[idx]
		dt := uapi.DTReg
		if e.Type == vfs.TypeDir {
			dt = uapi.DTDir
		} else if e.Type == vfs.TypeCharDevice {
			dt = uapi.DTChr
		} else if e.Type == vfs.TypeFIFO {
			dt = uapi.DTFifo
		}
		rec := uapi.Dirent64{Ino: e.Ino, Off: int64(idx + 1), Type: dt, Name: e.Name}.Bytes()
		if len(out)+len(rec) > size {
			break
		}
		out = append(out, rec...)
		file.Seek(int64(idx+1), 0)
	}
	if errno := u.CopyOut(bufVA, out); errno != 0 {
		return kernelerr.Negated(errno)
	}
	return int64(len(out))
}

// sysLseek repositions fd's cursor by delegating to vfs.File.Seek, which
// already holds the offset field lseek(2) mutates (spec.md §9: "implement
// against the file handle's offset field").
func (tb *Table) sysLseek(t *proc.Task, fd int, off int64, whence int) int64 {
	file, errno := t.FDs.Get(fd)
	if errno != 0 {
		return kernelerr.Negated(errno)
	}
	newOff, serrno := file.Seek(off, whence)
	if serrno != 0 {
		return kernelerr.Negated(serrno)
	}
	return newOff
}

func (tb *Table) sysFstat(t *proc.Task, u uaccess, fd int, statVA uint64) int64 {
	file, errno := t.FDs.Get(fd)
	if errno != 0 {
		return kernelerr.Negated(errno)
	}
	var st uapi.Stat
	if serrno := file.Stat(&st); serrno != 0 {
		return kernelerr.Negated(serrno)
	}
	if errno := u.CopyOut(statVA, st.Bytes()); errno != 0 {
		return kernelerr.Negated(errno)
	}
	return 0
}

func (tb *Table) sysUname(u uaccess, bufVA uint64) int64 {
	if errno := u.CopyOut(bufVA, uapi.DefaultUtsname().Bytes()); errno != 0 {
		return kernelerr.Negated(errno)
	}
	return 0
}

func (tb *Table) sysPipe2(t *proc.Task, u uaccess, fdsVA uint64, flags int) int64 {
	if errno := validatePipe2Flags(flags); errno != 0 {
		return kernelerr.Negated(errno)
	}
	rf, wf := pipe.NewFiles(tb.k.Cfg.MaxPipeBuffer, flags&vfs.ONonblock != 0)
	fdFlags := fdFlagsFromOpen(flags)
	rfd, errno := t.FDs.InsertGetFD(rf, fdFlags)
	if errno != 0 {
		return kernelerr.Negated(errno)
	}
	wfd, errno := t.FDs.InsertGetFD(wf, fdFlags)
	if errno != 0 {
		t.FDs.Close(rfd)
		return kernelerr.Negated(errno)
	}
	var buf [8]byte
	buf[0], buf[1], buf[2], buf[3] = byte(rfd), byte(rfd>>8), byte(rfd>>16), byte(rfd>>24)
	buf[4], buf[5], buf[6], buf[7] = byte(wfd), byte(wfd>>8), byte(wfd>>16), byte(wfd>>24)
	if errno := u.CopyOut(fdsVA, buf[:]); errno != 0 {
		t.FDs.Close(rfd)
		t.FDs.Close(wfd)
		return kernelerr.Negated(errno)
	}
	return 0
}

func (tb *Table) sysMmap(t *proc.Task, hint, length uint64, prot, flags, fd int, offset int64) int64 {
	if errno := validateMmapFlags(flags); errno != 0 {
		return kernelerr.Negated(errno)
	}
	perm := protToPerm(prot)
	lenBytes := uintptr(length)

	if flags&MapAnonymous != 0 {
		if flags&MapFixed != 0 {
			v := t.AS.AllocVMAFixed(uintptr(hint), uintptr(hint)+lenBytes, perm, vmm.Framed, vmm.HandlerMmapAnon, nil)
			return int64(t.AS.Mmap(v))
		}
		start, errno := t.AS.AllocVMAAnywhere(uintptr(hint), lenBytes, perm, vmm.Framed, vmm.HandlerMmapAnon, nil)
		if errno != 0 {
			return kernelerr.Negated(errno)
		}
		return int64(start)
	}

	if offset < 0 || offset&(int64(tb.k.Cfg.PageSize)-1) != 0 {
		return kernelerr.Negated(kernelerr.EINVAL)
	}
	file, errno := t.FDs.Get(fd)
	if errno != 0 {
		return kernelerr.Negated(errno)
	}
	// A file mapping is backed by the shared cache page: every mapping
	// reads the file, so a write-only fd grants none, and a writable
	// mapping writes the file, which a read-only fd may not grant.
	if accessMode(file.Flags) == vfs.OWriteOnly {
		return kernelerr.Negated(kernelerr.EACCES)
	}
	if perm&page.PermW != 0 && accessMode(file.Flags) == vfs.OReadOnly {
		return kernelerr.Negated(kernelerr.EACCES)
	}
	backing := &vmm.FileBacking{
		InodeNo:  file.Inode.No,
		Offset:   uint64(offset),
		Length:   length,
		Writable: accessMode(file.Flags) != vfs.OReadOnly,
		Find: func(pageIdx uint64) (*page.Page, error) {
			return file.Inode.EnsureCache(tb.k.Alloc, tb.k.Log).FindPage(pageIdx)
		},
	}
	if flags&MapFixed != 0 {
		v := t.AS.AllocVMAFixed(uintptr(hint), uintptr(hint)+lenBytes, perm, vmm.Framed, vmm.HandlerMmapFile, backing)
		return int64(t.AS.Mmap(v))
	}
	start, merrno := t.AS.AllocVMAAnywhere(uintptr(hint), lenBytes, perm, vmm.Framed, vmm.HandlerMmapFile, backing)
	if merrno != 0 {
		return kernelerr.Negated(merrno)
	}
	return int64(start)
}

func (tb *Table) sysBrk(t *proc.Task, newBrk uint64) int64 {
	if newBrk == 0 {
		return int64(t.AS.HeapEnd())
	}
	cur := t.AS.HeapEnd()
	if errno := t.AS.Expand(uintptr(cur), uintptr(newBrk)); errno != 0 {
		return int64(cur) // brk's convention: failure returns the old break, not -errno
	}
	return int64(newBrk)
}

// CLONE_* flags this kernel recognizes, Linux values (spec.md §4.8).
const (
	CloneVM     = 0x00000100
	CloneFiles  = 0x00000400
	CloneThread = 0x00010000
	CloneParent = 0x00008000
	CloneSetTLS = 0x00080000
)

// sysClone implements spec.md §4.8 "from_clone": the child shares
// (CLONE_VM) or COW-copies (default) the address space, shares
// (CLONE_FILES) or independently copies (default) the fd table, and
// takes its ppid either from CLONE_PARENT (sibling of the caller) or
// the caller itself. A nonzero stack argument becomes the child's sp;
// CLONE_SETTLS installs tls as the child's tp. This kernel does not
// separate tgid from pid (see the SysGetTid case in Dispatch): CLONE_THREAD is
// accepted but has no further effect beyond being a valid flag.
func (tb *Table) sysClone(t *proc.Task, flags int, stack, tls uint64) int64 {
	var childTask *proc.Task
	child := tb.k.Sched.Spawn(func(pid proc.Pid) *proc.Task {
		var childAS *vmm.MemorySet
		if flags&CloneVM != 0 {
			childAS = t.AS
		} else {
			childAS = vmm.ForkFrom(t.AS, tb.k.Alloc, tb.k.KernelTable, tb.k.Cfg, tb.k.Log)
		}
		childTask = t.Clone(pid, childAS, flags&CloneFiles != 0)
		return childTask
	})
	if flags&CloneParent != 0 {
		child.Ppid = t.Ppid
	}
	if stack != 0 {
		child.Trap.Sp = stack
	}
	if flags&CloneSetTLS != 0 {
		child.Trap.Tp = tls
	}
	return int64(child.Pid)
}

// userStackBytes is the size of the stack VMA execve installs below
// Cfg.UserStackTop. Spec.md §4.7/§6 fix where the stack's top is but not
// its size; duckos's original hardcodes a handful of pages for the
// initial image and grows it lazily via the UserStack fault handler
// thereafter, which this follows.
const userStackBytes = 64 * 1024

// sysExecve implements spec.md §4.7 "from_exec": drop the user VMAs,
// run CLOEXEC, load the new image via the injected ELFLoader, and lay
// out argv/envp on a fresh stack before redirecting the trap frame at
// the new entry point (spec.md: "installs a fresh trap context with
// argv/envp laid out on the new user stack").
func (tb *Table) sysExecve(t *proc.Task, u uaccess, f *trap.Frame, pathVA, argvVA, envpVA uint64) int64 {
	pathStr, errno := u.CopyInString(pathVA, pathMax)
	if errno != 0 {
		return kernelerr.Negated(errno)
	}
	argv, errno := copyInStringArray(u, argvVA)
	if errno != 0 {
		return kernelerr.Negated(errno)
	}
	envp, errno := copyInStringArray(u, envpVA)
	if errno != 0 {
		return kernelerr.Negated(errno)
	}
	if tb.k.ELF == nil {
		return kernelerr.Negated(kernelerr.ENOENT)
	}

	full := tb.resolveAt(t, AtFDCwd, ustr.Ustr(pathStr))

	t.AS.ClearUserSpace()
	entry, brk, lerrno := tb.k.ELF.Load(full.String(), t.AS)
	if lerrno != 0 {
		return kernelerr.Negated(lerrno)
	}
	t.AS.InitHeap(brk)

	stackTop := tb.k.Cfg.UserStackTop
	t.AS.AllocVMAFixed(stackTop-userStackBytes, stackTop, page.PermR|page.PermW|page.PermU, vmm.Framed, vmm.HandlerUserStack, nil)
	layout, serrno := proc.BuildInitialStack(t.AS, stackTop, tb.k.Cfg.PageShift, argv, envp)
	if serrno != 0 {
		return kernelerr.Negated(serrno)
	}

	t.ExecReset(t.AS)
	f.Sepc = uint64(entry)
	f.Sp = uint64(layout.StackTop)
	f.A[1] = uint64(layout.ArgvPtr)
	f.A[2] = uint64(layout.EnvpPtr)
	return int64(layout.Argc)
}

func copyInStringArray(u uaccess, va uint64) ([]string, kernelerr.Errno) {
	if va == 0 {
		return nil, 0
	}
	var out []string
	for i := 0; ; i++ {
		var ptrBuf [8]byte
		if errno := u.CopyIn(va+uint64(i*8), ptrBuf[:]); errno != 0 {
			return nil, errno
		}
		ptr := le64(ptrBuf[:])
		if ptr == 0 {
			break
		}
		s, errno := u.CopyInString(ptr, pathMax)
		if errno != 0 {
			return nil, errno
		}
		out = append(out, s)
	}
	return out, 0
}

func le64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// WNOHANG, Linux value, per spec.md §5 "wait4 with WNOHANG returns 0 if
// no child matched the change-of-state criterion".
const wnohang = 1

func (tb *Table) sysWait4(t *proc.Task, u uaccess, pid int32, statusVA uint64, options int) int64 {
	childPid, code, errno := t.Wait4(proc.Pid(pid), options&wnohang != 0)
	if errno != 0 {
		return kernelerr.Negated(errno)
	}
	if childPid == 0 {
		return 0
	}
	if statusVA != 0 {
		var buf [4]byte
		status := uint32(code) << 8
		buf[0], buf[1], buf[2], buf[3] = byte(status), byte(status>>8), byte(status>>16), byte(status>>24)
		u.CopyOut(statusVA, buf[:])
	}
	tb.k.Sched.Reap(childPid)
	return int64(childPid)
}

func (tb *Table) sysGettimeofday(u uaccess, tvVA uint64) int64 {
	now := time.Now()
	var buf [16]byte
	sec := uint64(now.Unix())
	usec := uint64(now.Nanosecond() / 1000)
	putLE64(buf[0:8], sec)
	putLE64(buf[8:16], usec)
	if errno := u.CopyOut(tvVA, buf[:]); errno != 0 {
		return kernelerr.Negated(errno)
	}
	return 0
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func (tb *Table) sysTimes(t *proc.Task, u uaccess, bufVA uint64) int64 {
	var buf [32]byte
	ticks := func(ns int64) uint64 { return uint64(ns) * uint64(tb.k.Cfg.TicksPerSec) / 1e9 }
	putLE64(buf[0:8], ticks(t.Acct.UserNS))
	putLE64(buf[8:16], ticks(t.Acct.SysNS))
	if bufVA != 0 {
		if errno := u.CopyOut(bufVA, buf[:]); errno != 0 {
			return kernelerr.Negated(errno)
		}
	}
	return int64(time.Now().UnixNano() / int64(time.Second) * int64(tb.k.Cfg.TicksPerSec))
}

func (tb *Table) sysNanosleep(u uaccess, reqVA uint64) int64 {
	var buf [16]byte
	if errno := u.CopyIn(reqVA, buf[:]); errno != 0 {
		return kernelerr.Negated(errno)
	}
	sec := le64(buf[0:8])
	nsec := le64(buf[8:16])
	time.Sleep(time.Duration(sec)*time.Second + time.Duration(nsec)*time.Nanosecond)
	return 0
}
