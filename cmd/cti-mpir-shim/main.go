// Command cti-mpir-shim stands in for a launcher binary that is itself a
// shell wrapper: the supervisor helper execs this binary instead of the
// wrapper, with the real launcher path and a report-back pipe fd passed
// through the environment. The shim reports its own pid (which the exec
// below keeps, so the supervisor's subsequent attach_stopped targets the
// right process), stops itself so the supervisor can attach, and once
// resumed execs the real launcher in its place.
package main

import (
	"fmt"
	"os"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

func main() {
	pipeFD, err := strconv.Atoi(os.Getenv("CTI_MPIR_SHIM_PIPE_FD"))
	if err != nil {
		fatalf("CTI_MPIR_SHIM_PIPE_FD not set or invalid: %v", err)
	}

	realLauncher := os.Getenv("CTI_MPIR_SHIM_REAL_LAUNCHER")
	if realLauncher == "" {
		fatalf("CTI_MPIR_SHIM_REAL_LAUNCHER not set")
	}

	pipe := os.NewFile(uintptr(pipeFD), "cti-mpir-shim-report")
	if _, err := fmt.Fprintf(pipe, "%d\n", os.Getpid()); err != nil {
		fatalf("reporting pid: %v", err)
	}
	_ = pipe.Close()

	if err := unix.Kill(os.Getpid(), unix.SIGSTOP); err != nil {
		fatalf("self-stopping: %v", err)
	}

	// Execution resumes here once the supervisor has attached and sent
	// SIGCONT. exec(2) preserves this process's pid, so the attach
	// established against it stays valid through the transition to the
	// real launcher image.
	argv := append([]string{realLauncher}, os.Args[1:]...)

	if err := syscall.Exec(realLauncher, argv, os.Environ()); err != nil {
		fatalf("exec %q: %v", realLauncher, err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "cti-mpir-shim: "+format+"\n", args...)
	os.Exit(1)
}
