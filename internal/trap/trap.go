// Package trap implements the trap and syscall dispatcher (spec.md §4.7,
// "Trap dispatcher"): it decodes scause, branches on whether the trap
// came from user or supervisor mode, and for a user ecall dispatches
// through the syscall table by a7. Its shape follows how biscuit's
// kernel/chentry.go wires the initial trap vector into Go-level
// dispatch — assembly entry, Go-level decode-and-dispatch — adapted
// from x86's IDT-vector-number decode to Sv39's scause encoding
// (instruction, load and store page faults plus UserEnvCall/
// SupervisorEnvCall; any other user trap is fatal).
package trap

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/duckos-rv/kernel/internal/kernelerr"
	"github.com/duckos-rv/kernel/internal/proc"
	"github.com/duckos-rv/kernel/internal/vmm"
)

// Scause values this dispatcher recognizes (RISC-V privileged spec
// encoding; interrupt bit already stripped by the trap entry stub).
const (
	ScauseInstrPageFault  = 12
	ScauseLoadPageFault   = 13
	ScauseStorePageFault  = 15
	ScauseUserEnvCall      = 8
	ScauseSupervisorEnvCall = 9
)

// Frame is the trapped task's saved register file, as decoded by the
// trap entry stub: a0..a7 for syscall args/id/return, sepc for the
// resume address, stval/scause for fault diagnosis. Spec.md §4.7:
// "UserEnvCall advances sepc by 4 and dispatches the syscall by a0..a5".
// It is an alias for proc.RegFrame (see that type's doc comment) rather
// than its own struct, so the same register snapshot a Task carries
// across clone/exec is exactly what the trap dispatcher reads and
// writes — no copy/translation step between the two.
type Frame = proc.RegFrame

// Dispatcher ties the syscall table to the fault/escalation path.
type Dispatcher struct {
	Syscalls SyscallTable
	log      logrus.FieldLogger
}

// SyscallTable maps a7 to a handler. Defined here (rather than imported
// from internal/syscalls) to avoid a dependency cycle: internal/syscalls
// imports internal/trap for the Frame type its handlers receive.
type SyscallTable interface {
	Dispatch(t *proc.Task, f *Frame) int64
}

func New(table SyscallTable, log logrus.FieldLogger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{Syscalls: table, log: log.WithField("subsystem", "trap")}
}

// Handle processes one trap for task t, mutating f in place (sepc
// advance, a0 return value) as the assembly trap-return path expects.
func (d *Dispatcher) Handle(t *proc.Task, f *Frame) {
	if !f.FromUser {
		d.handleSupervisor(f)
		return
	}

	switch f.Scause {
	case ScauseUserEnvCall:
		f.Sepc += 4
		ret := d.Syscalls.Dispatch(t, f)
		f.A[0] = uint64(ret)
	case ScauseInstrPageFault, ScauseLoadPageFault, ScauseStorePageFault:
		d.handlePageFault(t, f)
	default:
		d.fatal(t, f, "unrecognized user trap")
	}
}

func (d *Dispatcher) handlePageFault(t *proc.Task, f *Frame) {
	cause := vmm.FaultRead
	if f.Scause == ScauseStorePageFault {
		cause = vmm.FaultWrite
	} else if f.Scause == ScauseInstrPageFault {
		cause = vmm.FaultExec
	}
	errno := t.AS.HandlePageFault(uintptr(f.Stval), cause)
	if errno != 0 {
		d.fatal(t, f, fmt.Sprintf("unrecoverable page fault: %s", errno))
	}
}

// handleSupervisor tolerates an ECALL from supervisor mode (advancing
// sepc) and otherwise logs and ignores the trap, per spec.md §4.7:
// "Supervisor traps currently tolerate ECALL by advancing sepc; anything
// else is ignored but logged."
func (d *Dispatcher) handleSupervisor(f *Frame) {
	if f.Scause == ScauseSupervisorEnvCall {
		f.Sepc += 4
		return
	}
	d.log.WithField("scause", f.Scause).Warn("ignoring unexpected supervisor trap")
}

// fatal prints faulting-task diagnostics and terminates it with a
// nonzero exit code, per spec.md §7 "User-visible failure": "Fatal
// faults print diagnostics (faulting VA, sepc, scause) and terminate the
// task with a nonzero exit code."
func (d *Dispatcher) fatal(t *proc.Task, f *Frame, reason string) {
	d.log.WithFields(logrus.Fields{
		"pid": t.Pid, "va": fmt.Sprintf("%#x", f.Stval),
		"sepc": fmt.Sprintf("%#x", f.Sepc), "scause": f.Scause,
	}).Error(reason)
	t.Exit(-int32(kernelerr.EFAULT))
}
