package trap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duckos-rv/kernel/internal/bootconfig"
	"github.com/duckos-rv/kernel/internal/fdtable"
	"github.com/duckos-rv/kernel/internal/frame"
	"github.com/duckos-rv/kernel/internal/kernelerr"
	"github.com/duckos-rv/kernel/internal/page"
	"github.com/duckos-rv/kernel/internal/pagetable"
	"github.com/duckos-rv/kernel/internal/proc"
	"github.com/duckos-rv/kernel/internal/vmm"
)

type stubTable struct {
	called bool
	ret    int64
}

func (s *stubTable) Dispatch(t *proc.Task, f *Frame) int64 {
	s.called = true
	return s.ret
}

func newTestTask(t *testing.T) (*proc.Task, bootconfig.Config) {
	t.Helper()
	cfg := bootconfig.Default()
	alloc := frame.New(0, 4096, nil)
	kernelTable := pagetable.New(alloc, nil)
	as := vmm.New(alloc, kernelTable, cfg, nil)
	fds := fdtable.New(cfg.MaxFD)
	return proc.NewTask(1, as, fds, nil), cfg
}

func TestHandleUserEnvCallAdvancesSepcAndSetsA0(t *testing.T) {
	task, _ := newTestTask(t)
	st := &stubTable{ret: 42}
	d := New(st, nil)

	f := &Frame{FromUser: true, Scause: ScauseUserEnvCall, Sepc: 0x1000}
	d.Handle(task, f)

	assert.True(t, st.called)
	assert.Equal(t, uint64(0x1004), f.Sepc, "ecall advances sepc by 4 (the width of the ecall instruction)")
	assert.Equal(t, int64(42), int64(f.A[0]))
}

func TestHandleStorePageFaultWithinVMAIsRecoverable(t *testing.T) {
	task, cfg := newTestTask(t)
	start, errno := task.AS.AllocVMAAnywhere(0, cfg.PageSize, page.PermR|page.PermW|page.PermU, vmm.Framed, vmm.HandlerMmapAnon, nil)
	require.Zero(t, errno)

	d := New(&stubTable{}, nil)
	f := &Frame{FromUser: true, Scause: ScauseStorePageFault, Stval: uint64(start)}
	d.Handle(task, f)

	assert.False(t, task.Exited, "a fault inside a valid VMA must not kill the task")
}

func TestHandlePageFaultOutsideAnyVMAIsFatal(t *testing.T) {
	task, _ := newTestTask(t)
	d := New(&stubTable{}, nil)
	f := &Frame{FromUser: true, Scause: ScauseLoadPageFault, Stval: 0xdeadbeef}
	d.Handle(task, f)

	assert.True(t, task.Exited)
	assert.Equal(t, -int32(kernelerr.EFAULT), task.ExitCode)
}

func TestHandleSupervisorEcallAdvancesSepc(t *testing.T) {
	task, _ := newTestTask(t)
	d := New(&stubTable{}, nil)
	f := &Frame{FromUser: false, Scause: ScauseSupervisorEnvCall, Sepc: 0x2000}
	d.Handle(task, f)
	assert.Equal(t, uint64(0x2004), f.Sepc)
}

func TestHandleUnrecognizedSupervisorTrapDoesNotPanic(t *testing.T) {
	task, _ := newTestTask(t)
	d := New(&stubTable{}, nil)
	f := &Frame{FromUser: false, Scause: 99, Sepc: 0x3000}
	assert.NotPanics(t, func() { d.Handle(task, f) })
	assert.Equal(t, uint64(0x3000), f.Sepc, "an ignored supervisor trap does not advance sepc")
}
