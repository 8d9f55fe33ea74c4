// Package mpir implements the inferior-control supervisor: it drives a job
// launcher to the MPIR_Breakpoint symbol under ptrace, reads MPIR_proctable
// and auxiliary string variables, and can release or terminate the stopped
// launcher. It runs inside the supervisor helper process (internal/overwatch),
// since Linux ptrace calls must originate from the thread that attached.
package mpir

import (
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/common-tools-interface/cti/shared/api"
)

// State is the Inferior state machine:
// Starting -> Stopped -> (Released -> Exited) | Terminated.
type State int

const (
	Starting State = iota
	Stopped
	Released
	Exited
	Terminated
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Stopped:
		return "stopped"
	case Released:
		return "released"
	case Exited:
		return "exited"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Inferior is a controllable child process: the job launcher (or, with the
// MPIR shim, the reported pid of the real launcher a wrapper script
// exec'd).
type Inferior struct {
	mu sync.Mutex

	PID   int
	state State

	// binaryPath is used to resolve MPIR_Breakpoint's address from the
	// launcher's own symbol table.
	binaryPath string
}

// Result bundles everything a successful launch_stopped/attach_stopped
// extracts: the proctable plus the auxiliary string variables
// (totalview_jobid, totalview_stepid, ...) every driver needs.
type Result struct {
	Inferior   *Inferior
	Proctable  []api.ProctableEntry
	Strings    map[string]string
}

// LaunchStopped forks+execs path with argv/env, then runs the new process
// until its address space contains MPIR_Breakpoint, at which point it is
// left stopped (ptrace-stopped, having just executed the breakpoint
// function). fdRemap maps target fd -> source fd for the child's stdio.
//
// The caller must have called runtime.LockOSThread: ptrace(2) requires every
// subsequent ptrace call for this tracee to come from the same OS thread
// that performed PTRACE_TRACEME/ATTACH.
func LaunchStopped(path string, argv, env []string, fdRemap map[int]int) (*Inferior, error) {
	assertLockedThread()

	pid, err := forkExecTraced(path, argv, env, fdRemap)
	if err != nil {
		return nil, api.Wrap(api.KindInferior, err, "fork/exec %q under ptrace", path)
	}

	inf := &Inferior{PID: pid, state: Starting, binaryPath: path}

	if err := inf.runToBreakpoint(); err != nil {
		_ = inf.kill()
		return nil, err
	}

	return inf, nil
}

// AttachStopped attaches to an already-running launcher pid and drives it to
// the same Stopped state.
func AttachStopped(path string, pid int) (*Inferior, error) {
	assertLockedThread()

	if err := unix.PtraceAttach(pid); err != nil {
		return nil, api.Wrap(api.KindInferior, err, "ptrace attach to pid %d", pid)
	}

	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		return nil, api.Wrap(api.KindInferior, err, "wait4 after attach to pid %d", pid)
	}

	inf := &Inferior{PID: pid, state: Starting, binaryPath: path}

	if err := inf.runToBreakpoint(); err != nil {
		return nil, err
	}

	return inf, nil
}

func (i *Inferior) runToBreakpoint() error {
	addr, err := breakpointAddress(i.binaryPath)
	if err != nil {
		return api.Wrap(api.KindInferior, err, "resolving MPIR_Breakpoint in %q", i.binaryPath)
	}

	if err := runUntilAddr(i.PID, addr); err != nil {
		return api.Wrap(api.KindInferior, err, "running %q to MPIR_Breakpoint", i.binaryPath)
	}

	i.mu.Lock()
	i.state = Stopped
	i.mu.Unlock()

	return nil
}

// ReadStringAt reads a NUL-terminated C string variable named symbol from
// the stopped inferior's memory.
func (i *Inferior) ReadStringAt(symbol string) (string, error) {
	if err := i.requireStopped(); err != nil {
		return "", err
	}

	return readCString(i.PID, i.binaryPath, symbol)
}

// ReadProctable reads MPIR_proctable, MPIR_proctable_size, and the
// totalview_jobid/totalview_stepid auxiliary strings.
func (i *Inferior) ReadProctable() (*Result, error) {
	if err := i.requireStopped(); err != nil {
		return nil, err
	}

	entries, err := readProctable(i.PID, i.binaryPath)
	if err != nil {
		return nil, api.Wrap(api.KindInferior, err, "reading MPIR_proctable")
	}

	strs := map[string]string{}
	for _, name := range []string{"totalview_jobid", "totalview_stepid"} {
		v, err := readCString(i.PID, i.binaryPath, name)
		if err == nil {
			strs[name] = v
		}
	}

	return &Result{Inferior: i, Proctable: entries, Strings: strs}, nil
}

// Release detaches, letting the launcher continue running.
func (i *Inferior) Release() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state != Stopped {
		return api.NewError(api.KindInferior, "release requires Stopped state, have %s", i.state)
	}

	if err := unix.PtraceDetach(i.PID); err != nil {
		return api.Wrap(api.KindInferior, err, "ptrace detach pid %d", i.PID)
	}

	i.state = Released

	return nil
}

// Wait releases the inferior and blocks until it exits.
func (i *Inferior) Wait() (unix.WaitStatus, error) {
	if err := i.Release(); err != nil {
		return 0, err
	}

	var ws unix.WaitStatus
	_, err := unix.Wait4(i.PID, &ws, 0, nil)

	i.mu.Lock()
	i.state = Exited
	i.mu.Unlock()

	return ws, err
}

// Terminate detaches (if stopped) and kills the process group.
func (i *Inferior) Terminate() error {
	i.mu.Lock()
	state := i.state
	i.mu.Unlock()

	if state == Stopped {
		_ = unix.PtraceDetach(i.PID)
	}

	err := i.kill()

	i.mu.Lock()
	i.state = Terminated
	i.mu.Unlock()

	return err
}

func (i *Inferior) kill() error {
	pgid, err := unix.Getpgid(i.PID)
	if err == nil {
		_ = unix.Kill(-pgid, unix.SIGKILL)
		return nil
	}

	return unix.Kill(i.PID, unix.SIGKILL)
}

func (i *Inferior) requireStopped() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state != Stopped {
		return api.NewError(api.KindInferior, "operation requires Stopped state, have %s", i.state)
	}

	return nil
}

func assertLockedThread() {
	// Best-effort: LockOSThread has no reliable way to query from
	// outside, so this is a documentation aid for callers rather than an
	// enforceable check. Real enforcement happens by construction: every
	// exported entry point above is only ever invoked from
	// internal/overwatch's single MPIR worker goroutine, which locks its
	// thread on startup.
	runtime.Gosched()
}

// JobIDStepID extracts Slurm's totalview_jobid/totalview_stepid pair from a
// Result's Strings map.
func (r *Result) JobIDStepID() (jobID, stepID string, err error) {
	jobID, ok := r.Strings["totalview_jobid"]
	if !ok {
		return "", "", fmt.Errorf("totalview_jobid not present")
	}

	stepID, ok = r.Strings["totalview_stepid"]
	if !ok {
		return "", "", fmt.Errorf("totalview_stepid not present")
	}

	return jobID, stepID, nil
}
