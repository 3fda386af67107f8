// Package proc implements the process control block, accounting, and
// the clone/exec/exit/wait4 lifecycle operations (spec.md §3 "Process",
// §4.8). Accounting follows biscuit's accnt.Accnt_t
// (biscuit/src/accnt/accnt.go: nanosecond user/sys counters, merged into
// a parent on reap for getrusage(RUSAGE_CHILDREN)). Per-thread identity
// follows biscuit's tinfo.Tnote_t (biscuit/src/tinfo/tinfo.go) in spirit
// — alive/killed/doomed bookkeeping — but not in mechanism: biscuit
// stores the "current thread" via a custom-patched runtime
// (runtime.Gptr/Setgptr, a pointer squirreled into an unexported
// per-goroutine slot), which a stock Go toolchain does not expose. This
// port instead threads the current *Task explicitly through every call
// that needs it, the idiomatic Go substitute for thread-local storage,
// and realizes "one hart" as one goroutine running Scheduler.RunHart in a
// loop (SPEC_FULL.md §5 concurrency model).
package proc

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/duckos-rv/kernel/internal/fdtable"
	"github.com/duckos-rv/kernel/internal/kernelerr"
	"github.com/duckos-rv/kernel/internal/ustr"
	"github.com/duckos-rv/kernel/internal/vmm"
)

// Pid is a process identifier.
type Pid int32

// State is a task's scheduling state.
type State int32

const (
	StateRunnable State = iota
	StateRunning
	StateSleeping
	StateZombie
)

// Accnt mirrors biscuit's Accnt_t: nanosecond user/sys time counters,
// safe to Add() across a reaped child into its parent.
type Accnt struct {
	mu      sync.Mutex
	UserNS  int64
	SysNS   int64
}

func (a *Accnt) AddUser(delta time.Duration) { atomic.AddInt64(&a.UserNS, int64(delta)) }
func (a *Accnt) AddSys(delta time.Duration)  { atomic.AddInt64(&a.SysNS, int64(delta)) }

// Merge adds n's totals into a, for a parent reaping a zombie child's
// accounting into RUSAGE_CHILDREN (spec.md §4.8).
func (a *Accnt) Merge(n *Accnt) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.UserNS += atomic.LoadInt64(&n.UserNS)
	a.SysNS += atomic.LoadInt64(&n.SysNS)
}

// Task is one schedulable unit: this kernel does not distinguish
// "thread" from "process" internally (spec.md §3: "Process"), matching
// biscuit's single Proc_t/Tnote_t-per-runnable-unit model.
type Task struct {
	mu sync.Mutex

	Pid    Pid
	Ppid   Pid
	State  State
	Killed bool
	Exited bool
	ExitCode int32

	AS   *vmm.MemorySet
	FDs  *fdtable.Table
	Cwd  ustr.Ustr
	Acct Accnt

	// Trap is the saved register snapshot the trap dispatcher resumes
	// this task from; Clone copies it into the child (spec.md §4.8:
	// "copies the caller's trap context"). ExecReset does not touch it;
	// the execve handler writes the new image's entry state into the
	// trap frame it is handed.
	Trap RegFrame

	parent   *Task
	children []*Task
	waitCh   chan struct{}

	// childEvent carries a one-token "some child exited" signal from
	// Exit to a parent blocked in Wait4; buffered so an exit with no
	// waiter present is not lost and never blocks the exiting child.
	childEvent chan struct{}

	log logrus.FieldLogger
}

// NewTask constructs a fresh task with its own address space and fd
// table (used by the boot sequence for pid 1; every other task is
// created by Clone).
func NewTask(pid Pid, as *vmm.MemorySet, fds *fdtable.Table, log logrus.FieldLogger) *Task {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Task{
		Pid: pid, AS: as, FDs: fds, Cwd: ustr.MkRoot(),
		waitCh:     make(chan struct{}),
		childEvent: make(chan struct{}, 1),
		log:        log.WithField("pid", pid),
	}
}

// Clone forks this task into childPid. childAS is the address space the
// caller has already prepared — vmm.ForkFrom's COW copy for an ordinary
// fork, or t.AS itself (shared, not copied) when the caller honors
// CLONE_VM. shareFDs selects between sharing t.FDs by pointer
// (CLONE_FILES) and an independent copy of the same open file
// descriptions (fdtable.FromCloneCopy, the default), per spec.md §4.8
// "clone" ("shares or copies the address space (CLONE_VM) and fd table
// (CLONE_FILES) accordingly"). The child's trap context is copied from
// the parent's with a0 zeroed (spec.md §4.8: "sets the child's return
// value to 0"); stack/tls overrides are the caller's job once Clone
// returns, since only the syscall handler knows whether CLONE_SETTLS or
// a stack argument was supplied.
func (t *Task) Clone(childPid Pid, childAS *vmm.MemorySet, shareFDs bool) *Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	fds := t.FDs
	if !shareFDs {
		fds = t.FDs.FromCloneCopy()
	}
	childTrap := t.Trap
	childTrap.A[0] = 0
	child := &Task{
		Pid: childPid, Ppid: t.Pid,
		AS:         childAS,
		FDs:        fds,
		Cwd:        append(ustr.Ustr(nil), t.Cwd...),
		Trap:       childTrap,
		parent:     t,
		waitCh:     make(chan struct{}),
		childEvent: make(chan struct{}, 1),
		log:        t.log.WithField("pid", childPid),
	}
	t.children = append(t.children, child)
	return child
}

// ExecReset installs newAS as the task's address space and closes every
// close-on-exec descriptor. It neither clears nor loads anything itself:
// the caller has already cleared the user half and loaded the new image
// into newAS, per spec.md §4.8
// "exec": "fd table survives (minus close-on-exec entries); address
// space is entirely replaced."
func (t *Task) ExecReset(newAS *vmm.MemorySet) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.AS = newAS
	t.FDs.CloseExec()
}

// Exit marks the task a zombie and wakes any waiter. It does not
// reparent the task's own children to pid 1, and neither does the
// Scheduler.
func (t *Task) Exit(code int32) {
	t.mu.Lock()
	t.Exited = true
	t.ExitCode = code
	t.State = StateZombie
	parent := t.parent
	t.mu.Unlock()
	close(t.waitCh)
	if parent != nil {
		select {
		case parent.childEvent <- struct{}{}:
		default:
		}
	}
}

// Kill requests asynchronous termination, observed by the task's next
// trap-return check (spec.md §4.8: "killed is polled at syscall/trap
// return, not delivered as a true signal").
func (t *Task) Kill() {
	t.mu.Lock()
	t.Killed = true
	t.mu.Unlock()
}

func (t *Task) IsKilled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Killed
}

// Wait4 blocks until a matching child exits (or has already exited),
// returning its pid, exit status, and merging its accounting into t
// (spec.md §4.8 "wait4"). No child matching pid (or, for pid==-1, no
// children at all) is ECHILD. With nohang set, a matching child that
// has not yet exited makes Wait4 return (0, 0, 0) immediately instead
// of blocking (spec.md §5: "wait4 with WNOHANG returns 0 if no child
// matched the change-of-state criterion").
func (t *Task) Wait4(pid Pid, nohang bool) (Pid, int32, kernelerr.Errno) {
	for {
		t.mu.Lock()
		var target *Task
		matched := false
		for _, c := range t.children {
			if pid != -1 && c.Pid != pid {
				continue
			}
			matched = true
			select {
			case <-c.waitCh:
				target = c
			default:
				continue
			}
			break
		}
		if target != nil {
			t.Acct.Merge(&target.Acct)
			for i, c := range t.children {
				if c == target {
					t.children = append(t.children[:i], t.children[i+1:]...)
					break
				}
			}
			t.mu.Unlock()
			return target.Pid, target.ExitCode, 0
		}
		t.mu.Unlock()
		if !matched {
			return 0, 0, kernelerr.ECHILD
		}
		if nohang {
			return 0, 0, 0
		}
		// park until some child exits, then rescan: an exit after the
		// scan above deposits a token, an exit before it was already
		// visible as a closed waitCh, so no wakeup is lost
		<-t.childEvent
	}
}
