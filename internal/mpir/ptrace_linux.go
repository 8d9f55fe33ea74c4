//go:build linux

package mpir

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// forkExecTraced forks+execs path under PTRACE_TRACEME and waits for the
// initial exec-stop, remapping stdio per fdRemap ({0,1,2} -> source fd).
func forkExecTraced(path string, argv, env []string, fdRemap map[int]int) (int, error) {
	files := []uintptr{uintptr(fdRemap[0]), uintptr(fdRemap[1]), uintptr(fdRemap[2])}

	attr := &syscall.SysProcAttr{
		Ptrace:    true,
		Setpgid:   true,
		Foreground: false,
	}

	fullArgv := append([]string{path}, argv...)

	pid, err := syscall.ForkExec(path, fullArgv, &syscall.ProcAttr{
		Env:   env,
		Files: files,
		Sys:   attr,
	})
	if err != nil {
		return 0, err
	}

	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		return 0, fmt.Errorf("waiting for initial exec-stop: %w", err)
	}

	// Kill the tracee automatically if we ever die without detaching.
	_ = unix.PtraceSetOptions(pid, unix.PTRACE_O_EXITKILL|unix.PTRACE_O_TRACEEXEC)

	return pid, nil
}

// breakpointAddress resolves the runtime address of the MPIR_Breakpoint
// function in the launcher binary. Position-independent launchers are
// handled by adding the process's ELF load bias read from
// /proc/<pid>/maps by the caller where needed; for the common non-PIE MPIR
// launcher case the static symbol address is already the runtime address.
func breakpointAddress(path string) (uint64, error) {
	f, err := elf.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil {
		return 0, err
	}

	for _, s := range syms {
		if s.Name == "MPIR_Breakpoint" {
			return s.Value, nil
		}
	}

	return 0, fmt.Errorf("MPIR_Breakpoint symbol not found in %q", path)
}

// symbolAddress resolves an arbitrary data symbol's address the same way.
func symbolAddress(path, name string) (uint64, error) {
	f, err := elf.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil {
		return 0, err
	}

	for _, s := range syms {
		if s.Name == name {
			return s.Value, nil
		}
	}

	return 0, fmt.Errorf("symbol %q not found in %q", name, path)
}

// runUntilAddr plants a software breakpoint (INT3 on amd64) at addr, lets
// the tracee run, and restores the original instruction once it is hit.
func runUntilAddr(pid int, addr uint64) error {
	var orig [1]byte
	if _, err := unix.PtracePeekText(pid, uintptr(addr), orig[:]); err != nil {
		return fmt.Errorf("peek at breakpoint addr: %w", err)
	}

	if _, err := unix.PtracePokeText(pid, uintptr(addr), []byte{0xCC}); err != nil {
		return fmt.Errorf("poke breakpoint: %w", err)
	}

	if err := unix.PtraceCont(pid, 0); err != nil {
		return fmt.Errorf("ptrace cont: %w", err)
	}

	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		return fmt.Errorf("wait4 for breakpoint: %w", err)
	}

	// Restore the original instruction and rewind the instruction pointer
	// past the injected trap byte, so Release()/Wait() resume cleanly.
	if _, err := unix.PtracePokeText(pid, uintptr(addr), orig[:]); err != nil {
		return fmt.Errorf("restoring original instruction: %w", err)
	}

	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(pid, &regs); err != nil {
		return fmt.Errorf("getregs: %w", err)
	}

	rewindPC(&regs)

	return unix.PtraceSetRegs(pid, &regs)
}

// readCString reads a NUL-terminated string pointed to by a char* global
// variable named symbol.
func readCString(pid int, binaryPath, symbol string) (string, error) {
	addr, err := symbolAddress(binaryPath, symbol)
	if err != nil {
		return "", err
	}

	ptr, err := readWord(pid, addr)
	if err != nil {
		return "", err
	}

	return readCStringAt(pid, ptr)
}

func readCStringAt(pid int, addr uint64) (string, error) {
	if addr == 0 {
		return "", nil
	}

	mem, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", pid), os.O_RDONLY, 0)
	if err != nil {
		return "", err
	}
	defer mem.Close()

	const chunk = 256
	var out bytes.Buffer
	buf := make([]byte, chunk)

	for {
		n, err := mem.ReadAt(buf, int64(addr)+int64(out.Len()))
		if n == 0 && err != nil {
			return "", err
		}

		if idx := bytes.IndexByte(buf[:n], 0); idx >= 0 {
			out.Write(buf[:idx])
			return out.String(), nil
		}

		out.Write(buf[:n])
		if out.Len() > 1<<20 {
			return "", fmt.Errorf("string at 0x%x exceeds 1MiB without a NUL terminator", addr)
		}
	}
}

func readWord(pid int, addr uint64) (uint64, error) {
	var buf [8]byte
	if _, err := unix.PtracePeekText(pid, uintptr(addr), buf[:]); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(buf[:]), nil
}
