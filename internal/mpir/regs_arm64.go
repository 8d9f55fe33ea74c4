//go:build linux && arm64

package mpir

import "golang.org/x/sys/unix"

// rewindPC is a no-op on arm64: BRK traps do not advance PC past the
// trapping instruction the way x86's INT3 does.
func rewindPC(regs *unix.PtraceRegs) {}
