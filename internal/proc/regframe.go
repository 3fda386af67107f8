package proc

// RegFrame is the trapped task's saved register file: the syscall
// argument/id/return registers (a0..a7), the stack and thread pointers
// (sp/tp, needed by clone's CLONE_SETTLS/stack-argument overrides per
// spec.md §4.8), and the trap metadata (sepc/stval/scause) the trap
// dispatcher decodes. It lives in internal/proc rather than
// internal/trap so that Task can carry one without a trap<->proc import
// cycle (internal/trap already depends on internal/proc for *Task);
// internal/trap's Frame type is a plain alias of this one.
type RegFrame struct {
	A        [8]uint64 // a0..a7; a7 is the syscall id, a0..a5 are args, a0 becomes the return value
	Sp       uint64
	Tp       uint64
	Sepc     uint64
	Stval    uint64
	Scause   uint64
	FromUser bool
}
