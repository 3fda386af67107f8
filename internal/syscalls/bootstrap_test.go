package syscalls

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duckos-rv/kernel/internal/bootconfig"
	"github.com/duckos-rv/kernel/internal/frame"
	"github.com/duckos-rv/kernel/internal/kernelerr"
	"github.com/duckos-rv/kernel/internal/pagetable"
	"github.com/duckos-rv/kernel/internal/proc"
	"github.com/duckos-rv/kernel/internal/ustr"
	"github.com/duckos-rv/kernel/internal/vfs"
	"github.com/duckos-rv/kernel/internal/vfs/memfs"
	"github.com/duckos-rv/kernel/internal/vmm"
)

// fakeELFLoader stands in for the out-of-scope ELF parser (spec.md §1):
// it reports a fixed entry point without touching as, matching what a
// real loader would have done by the time ElfDataToPCB calls it.
type fakeELFLoader struct{ entry, brk uintptr }

func (f fakeELFLoader) Load(path string, as *vmm.MemorySet) (uintptr, uintptr, kernelerr.Errno) {
	return f.entry, f.brk, 0
}

func newBootstrapKernel(t *testing.T, stdout *bytes.Buffer) *Kernel {
	t.Helper()
	cfg := bootconfig.Default()
	alloc := frame.New(0, 4096, nil)
	kernelTable := pagetable.New(alloc, nil)
	fs := memfs.New(alloc, nil)
	dentries := vfs.NewCache(nil)
	root := &vfs.Dentry{Path: ustr.MkRoot(), Inode: fs.Root()}
	dentries.Insert(root)

	return &Kernel{
		Cfg: cfg, Alloc: alloc, KernelTable: kernelTable,
		Dentries: dentries, Root: root, Log: logrus.New(),
		Sched:  proc.NewScheduler(nil),
		Stdout: stdout,
		ELF:    fakeELFLoader{entry: 0x1000},
	}
}

// TestElfDataToPCBWiresStdioAndEntryPoint is spec.md §8's E7: a freshly
// loaded PCB's fd 1 write reaches the injected console writer
// (SPEC_FULL.md §6 E7).
func TestElfDataToPCBWiresStdioAndEntryPoint(t *testing.T) {
	var stdout bytes.Buffer
	k := newBootstrapKernel(t, &stdout)

	task, errno := k.ElfDataToPCB("/init", "/", []string{"init"}, nil)
	require.Zero(t, errno)
	require.NotNil(t, task)

	assert.Equal(t, uint64(0x1000), task.Trap.Sepc, "entry point must come from the ELF loader")
	assert.NotZero(t, task.Trap.Sp, "a stack must be laid out below UserStackTop")
	assert.Equal(t, "/", task.Cwd.String())

	f1, werrno := task.FDs.Get(1)
	require.Zero(t, werrno)
	written, werrno2 := f1.Write([]byte("booting\n"))
	require.Zero(t, werrno2)
	assert.Equal(t, 8, written)
	assert.Equal(t, "booting\n", stdout.String())
}

func TestElfDataToPCBWithoutELFLoaderIsENOENT(t *testing.T) {
	k := newBootstrapKernel(t, nil)
	k.ELF = nil
	_, errno := k.ElfDataToPCB("/init", "/", nil, nil)
	assert.Equal(t, kernelerr.ENOENT, errno)
}

func TestElfDataToPCBWithoutStdoutDiscardsWrites(t *testing.T) {
	k := newBootstrapKernel(t, nil)
	task, errno := k.ElfDataToPCB("/init", "/", nil, nil)
	require.Zero(t, errno)

	f, werrno := task.FDs.Get(1)
	require.Zero(t, werrno)
	n, werrno2 := f.Write([]byte("hi"))
	require.Zero(t, werrno2)
	assert.Equal(t, 2, n, "a Kernel without Stdout wired still gets a usable, discarding fd 1")
}
