package overwatch

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/common-tools-interface/cti/internal/mpir"
)

// spawn starts path (resolved via PATH, mirroring execvp) with argv/env and
// the three given fds wired to its stdio. It returns the child's pid without
// waiting for it, since ownership bookkeeping happens in the caller.
func spawn(path string, argv, env []string, fds []int) (*os.Process, error) {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", path, err)
	}

	cmd := exec.Command(resolved, argv...)
	cmd.Env = env

	if len(fds) == 3 {
		cmd.Stdin = os.NewFile(uintptr(fds[0]), "stdin")
		cmd.Stdout = os.NewFile(uintptr(fds[1]), "stdout")
		cmd.Stderr = os.NewFile(uintptr(fds[2]), "stderr")
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return cmd.Process, nil
}

func (s *Server) handleForkExecvpApp() error {
	ld, err := readLaunchData(s.r)
	if err != nil {
		return err
	}

	fds, err := recvFDs(s.conn, 3)
	if err != nil {
		return err
	}

	var pid, id uint64

	proc, spawnErr := spawn(ld.Path, ld.Argv, ld.Env, fds)
	if spawnErr == nil {
		s.mu.Lock()
		id = s.nextIDLocked()
		s.cleanupOnExit[strconv.FormatUint(id, 10)] = proc.Pid
		s.mu.Unlock()

		pid = uint64(proc.Pid)
	}
	// pid=0, id=0 on failure: ForkExecvpApp's caller has no other way to
	// see the error, so a zero app-id is the documented failure signal.

	if err := writeTag(s.conn, tagRespID); err != nil {
		return err
	}

	if err := writeUint64(s.conn, pid); err != nil {
		return err
	}

	return writeUint64(s.conn, id)
}

func (s *Server) handleForkExecvpUtil() error {
	appID, err := readString(s.r)
	if err != nil {
		return err
	}

	mode, err := readUint64(s.r)
	if err != nil {
		return err
	}

	ld, err := readLaunchData(s.r)
	if err != nil {
		return err
	}

	proc, err := spawn(ld.Path, ld.Argv, ld.Env, nil)
	if err != nil {
		if werr := writeTag(s.conn, tagRespOK); werr != nil {
			return werr
		}

		if werr := writeBool(s.conn, false); werr != nil {
			return werr
		}

		return writeStrings(s.conn, nil)
	}

	s.mu.Lock()
	s.utilities[appID] = append(s.utilities[appID], proc.Pid)
	s.mu.Unlock()

	if Synchrony(mode) == Sync {
		_, _ = proc.Wait()
	}

	if err := writeTag(s.conn, tagRespOK); err != nil {
		return err
	}

	if err := writeBool(s.conn, true); err != nil {
		return err
	}

	return writeStrings(s.conn, []string{strconv.Itoa(proc.Pid)})
}

func (s *Server) handleLaunchMPIR() error {
	ld, err := readLaunchData(s.r)
	if err != nil {
		return err
	}

	fds, err := recvFDs(s.conn, 3)
	if err != nil {
		return err
	}

	return s.launchMPIR(ld, fds)
}

func (s *Server) handleLaunchMPIRShim() error {
	shim, err := readShimData(s.r)
	if err != nil {
		return err
	}

	ld, err := readLaunchData(s.r)
	if err != nil {
		return err
	}

	fds, err := recvFDs(s.conn, 3)
	if err != nil {
		return err
	}

	// The shim rewrites argv so the wrapped launcher script re-execs
	// through shim.ShimPath, which in turn signals its own pid via
	// shim.Sentinel before exec'ing the real launcher binary. From the
	// ptrace side this still resolves to one traced process reaching
	// MPIR_Breakpoint, so it is launched identically to the unwrapped case.
	ld.Argv = append([]string{shim.Sentinel, ld.Path}, ld.Argv...)
	ld.Path = shim.ShimPath

	return s.launchMPIR(ld, fds)
}

func (s *Server) launchMPIR(ld LaunchData, fds []int) error {
	fdRemap := map[int]int{0: fds[0], 1: fds[1], 2: fds[2]}

	result, err := runMPIR(s, func() (*mpir.Result, error) {
		inf, err := mpir.LaunchStopped(ld.Path, ld.Argv, ld.Env, fdRemap)
		if err != nil {
			return nil, err
		}

		return inf.ReadProctable()
	})

	return s.replyMPIR(result, err)
}

func (s *Server) handleAttachMPIR() error {
	path, err := readString(s.r)
	if err != nil {
		return err
	}

	pidHint, err := readString(s.r)
	if err != nil {
		return err
	}

	pid, convErr := strconv.Atoi(pidHint)
	if convErr != nil {
		return s.replyMPIR(nil, fmt.Errorf("overwatch: attach pid hint %q is not numeric", pidHint))
	}

	result, err := runMPIR(s, func() (*mpir.Result, error) {
		inf, err := mpir.AttachStopped(path, pid)
		if err != nil {
			return nil, err
		}

		return inf.ReadProctable()
	})

	return s.replyMPIR(result, err)
}

// replyMPIR registers a successful result's inferior under a fresh id and
// writes the MPIR response tag/payload; it writes a failure response
// instead of propagating err, since a failed launch/attach is a normal
// outcome the Frontend must see rather than a stream-level protocol error.
func (s *Server) replyMPIR(result *mpir.Result, err error) error {
	if err != nil {
		return writeMPIRResponse(s.conn, MPIRResponse{OK: false, ErrorMsg: err.Error()})
	}

	s.mu.Lock()
	id := s.nextIDLocked()
	s.inferiors[id] = result.Inferior
	s.cleanupOnExit[strconv.FormatUint(id, 10)] = result.Inferior.PID
	if jobID, ok := result.Strings["totalview_jobid"]; ok {
		s.byJob[jobID] = id
	}
	s.mu.Unlock()

	hostname, _ := os.Hostname()

	resp := MPIRResponse{
		OK:               true,
		InferiorID:       id,
		LauncherHostname: hostname,
		LauncherPID:      result.Inferior.PID,
		Proctable:        result.Proctable,
		Strings:          result.Strings,
	}

	return writeMPIRResponse(s.conn, resp)
}

func (s *Server) inferiorByID(id uint64) (*mpir.Inferior, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inf, ok := s.inferiors[id]

	return inf, ok
}

func (s *Server) handleReleaseMPIR() error {
	id, err := readUint64(s.r)
	if err != nil {
		return err
	}

	inf, ok := s.inferiorByID(id)
	if !ok {
		return s.replyBool(false)
	}

	_, relErr := runMPIR(s, func() (struct{}, error) { return struct{}{}, inf.Release() })

	return s.replyBool(relErr == nil)
}

func (s *Server) handleReleaseMPIRByJob() error {
	jobID, err := readString(s.r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	id, ok := s.byJob[jobID]
	s.mu.Unlock()

	if !ok {
		return s.replyBool(false)
	}

	inf, ok := s.inferiorByID(id)
	if !ok {
		return s.replyBool(false)
	}

	_, relErr := runMPIR(s, func() (struct{}, error) { return struct{}{}, inf.Release() })

	return s.replyBool(relErr == nil)
}

func (s *Server) handleWaitMPIR() error {
	id, err := readUint64(s.r)
	if err != nil {
		return err
	}

	inf, ok := s.inferiorByID(id)
	if !ok {
		return s.replyBool(false)
	}

	_, waitErr := runMPIR(s, func() (unix.WaitStatus, error) { return inf.Wait() })

	s.mu.Lock()
	delete(s.cleanupOnExit, strconv.FormatUint(id, 10))
	s.mu.Unlock()

	return s.replyBool(waitErr == nil)
}

func (s *Server) handleTerminateMPIR() error {
	id, err := readUint64(s.r)
	if err != nil {
		return err
	}

	inf, ok := s.inferiorByID(id)
	if !ok {
		return s.replyBool(false)
	}

	_, termErr := runMPIR(s, func() (struct{}, error) { return struct{}{}, inf.Terminate() })

	s.mu.Lock()
	key := strconv.FormatUint(id, 10)
	delete(s.cleanupOnExit, key)
	utils := s.utilities[key]
	delete(s.utilities, key)
	s.mu.Unlock()

	if len(utils) > 0 {
		go killAllParallel(utils)
	}

	return s.replyBool(termErr == nil)
}

// handleDeregisterApp forgets appID entirely: its launcher and any
// utilities registered under it are no longer killed on parent disconnect
// or on the app's own exit. Deregistration releases the helper's ownership
// without terminating the job.
func (s *Server) handleDeregisterApp() error {
	id, err := readUint64(s.r)
	if err != nil {
		return err
	}

	key := strconv.FormatUint(id, 10)

	s.mu.Lock()
	delete(s.cleanupOnExit, key)
	delete(s.utilities, key)
	s.mu.Unlock()

	return s.replyBool(true)
}

// handleReleaseApp drops the launcher pid from the cleanup set but still
// terminates any utilities (tool daemons) registered under appID: the
// launcher is being handed off to run on its own, while its tool daemons
// are not meant to outlive the release.
func (s *Server) handleReleaseApp() error {
	id, err := readUint64(s.r)
	if err != nil {
		return err
	}

	key := strconv.FormatUint(id, 10)

	s.mu.Lock()
	delete(s.cleanupOnExit, key)
	utils := s.utilities[key]
	delete(s.utilities, key)
	s.mu.Unlock()

	if len(utils) > 0 {
		go killAllParallel(utils)
	}

	return s.replyBool(true)
}

func (s *Server) handleCheckApp() error {
	id, err := readUint64(s.r)
	if err != nil {
		return err
	}

	key := strconv.FormatUint(id, 10)

	s.mu.Lock()
	pid, ok := s.cleanupOnExit[key]
	s.mu.Unlock()

	if !ok {
		return s.replyBool(false)
	}

	return s.replyBool(unix.Kill(pid, 0) == nil)
}

func (s *Server) replyBool(ok bool) error {
	if err := writeTag(s.conn, tagRespOK); err != nil {
		return err
	}

	return writeBool(s.conn, ok)
}
