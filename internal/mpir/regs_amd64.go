//go:build linux && amd64

package mpir

import "golang.org/x/sys/unix"

// rewindPC moves the instruction pointer back one byte after trapping on
// the injected INT3 (0xCC), so resuming the tracee re-executes from the
// original instruction rather than the one after it.
func rewindPC(regs *unix.PtraceRegs) {
	regs.Rip--
}
