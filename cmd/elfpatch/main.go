// Command elfpatch rewrites the entry address of a RISC-V ELF binary, a
// build-time step the boot loader needs once the kernel's load address
// is finalized. It is the riscv64 counterpart of biscuit's chentry.go
// (biscuit/src/kernel/chentry.go: "modifies the entry address of an ELF
// binary... used during the build process to update kernel images"),
// carried over flag-for-flag but checked against EM_RISCV / ELFCLASS64
// instead of EM_X86_64, matching this kernel's Sv39 target (spec.md §1).
package main

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "elfpatch <filename> <addr>",
		Short: "Change the ELF entry point of filename to addr",
		Args:  cobra.ExactArgs(2),
		RunE:  runPatch,
	}
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runPatch(cmd *cobra.Command, args []string) error {
	log := logrus.StandardLogger()
	fn := args[0]
	addr, err := parseAddr(args[1])
	if err != nil {
		return err
	}

	f, err := os.OpenFile(fn, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", fn, err)
	}
	defer f.Close()

	ef, err := elf.NewFile(f)
	if err != nil {
		return fmt.Errorf("parse elf: %w", err)
	}
	if err := checkELF(&ef.FileHeader); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{"file": fn, "entry": fmt.Sprintf("%#x", addr)}).Info("patching entry point")
	var hdr elf.Header64
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	if err := binary.Read(f, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	hdr.Entry = addr

	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	return binary.Write(f, binary.LittleEndian, &hdr)
}

// checkELF validates that eh describes a little-endian 64-bit RISC-V
// executable, refusing to patch anything else.
func checkELF(eh *elf.FileHeader) error {
	if eh.Data != elf.ELFDATA2LSB {
		return fmt.Errorf("not little-endian")
	}
	if eh.Class != elf.ELFCLASS64 {
		return fmt.Errorf("not a 64 bit elf")
	}
	if eh.Type != elf.ET_EXEC {
		return fmt.Errorf("not an executable elf")
	}
	if eh.Machine != elf.EM_RISCV {
		return fmt.Errorf("not a riscv elf")
	}
	return nil
}

func parseAddr(s string) (uint64, error) {
	a, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return a, nil
}
