package proc

import (
	"github.com/duckos-rv/kernel/internal/kernelerr"
	"github.com/duckos-rv/kernel/internal/kutil"
	"github.com/duckos-rv/kernel/internal/page"
	"github.com/duckos-rv/kernel/internal/vmm"
)

// StackLayout describes where execve placed argv/envp on the new user
// stack and what a0 (argc)/a1 (argv pointer)/a2 (envp pointer) should be
// set to on first return to user mode (spec.md §4.8 "exec": "argv/envp
// copied onto the new stack below the initial stack pointer"). Neither
// the teacher nor the retrieved original source implement this layer in
// a form this port could lift directly, so it follows the standard
// System V/RISC-V argv-below-SP convention spec.md's exec description
// names rather than a specific file's layout.
type StackLayout struct {
	StackTop uintptr
	Argc     int
	ArgvPtr  uintptr
	EnvpPtr  uintptr
}

// BuildInitialStack writes argv and envp as NUL-terminated strings plus
// their two pointer arrays onto the top of the new stack VMA, growing
// down from stackTop, and returns the resulting layout.
func BuildInitialStack(as *vmm.MemorySet, stackTop uintptr, pageShift uint, argv, envp []string) (StackLayout, kernelerr.Errno) {
	write := func(cursor uintptr, s string) (uintptr, uintptr) {
		b := append([]byte(s), 0)
		start := cursor - uintptr(len(b))
		storeBytes(as, pageShift, start, b)
		return start, start
	}

	cursor := stackTop
	argvAddrs := make([]uintptr, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		addr, next := write(cursor, argv[i])
		argvAddrs[i] = addr
		cursor = next
	}
	envpAddrs := make([]uintptr, len(envp))
	for i := len(envp) - 1; i >= 0; i-- {
		addr, next := write(cursor, envp[i])
		envpAddrs[i] = addr
		cursor = next
	}

	// align down to 8 bytes before laying out the pointer arrays
	cursor &^= 7

	envpArrayLen := uintptr(len(envpAddrs)+1) * 8
	cursor -= envpArrayLen
	envpPtr := cursor
	storePointerArray(as, pageShift, envpPtr, envpAddrs)

	argvArrayLen := uintptr(len(argvAddrs)+1) * 8
	cursor -= argvArrayLen
	argvPtr := cursor
	storePointerArray(as, pageShift, argvPtr, argvAddrs)

	cursor &^= 15 // 16-byte stack alignment at entry, per the RISC-V calling convention

	return StackLayout{StackTop: cursor, Argc: len(argv), ArgvPtr: argvPtr, EnvpPtr: envpPtr}, 0
}

func storeBytes(as *vmm.MemorySet, pageShift uint, addr uintptr, data []byte) {
	for i := 0; i < len(data); {
		va := addr + uintptr(i)
		pageOff := va & (1<<pageShift - 1)
		n := kutil.Min(len(data)-i, int(uintptr(1<<pageShift)-pageOff))
		pg := ensurePage(as, va, pageShift)
		copy(pg.Bytes()[pageOff:pageOff+uintptr(n)], data[i:i+n])
		i += n
	}
}

func storePointerArray(as *vmm.MemorySet, pageShift uint, addr uintptr, ptrs []uintptr) {
	b := make([]byte, 0, (len(ptrs)+1)*8)
	for _, p := range ptrs {
		b = appendLE64(b, uint64(p))
	}
	b = appendLE64(b, 0)
	storeBytes(as, pageShift, addr, b)
}

func appendLE64(b []byte, v uint64) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24), byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

// ensurePage faults in (if necessary) and returns the Page backing va's
// page within the stack VMA, used while the stack is still being
// constructed (before the task has started running, so this runs with
// the address-space lock implicitly uncontended).
func ensurePage(as *vmm.MemorySet, va uintptr, pageShift uint) *page.Page {
	aligned := va &^ (1<<pageShift - 1)
	present := func() *page.Page {
		for _, v := range as.VMAs() {
			if aligned >= v.Start && aligned < v.End {
				if pg, ok := v.Page(aligned); ok {
					return pg
				}
			}
		}
		return nil
	}
	if pg := present(); pg != nil {
		return pg
	}
	as.HandlePageFault(aligned, vmm.FaultWrite)
	if pg := present(); pg != nil {
		return pg
	}
	panic("proc: stack page missing after fault-in")
}
