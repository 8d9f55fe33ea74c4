package overwatch

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/common-tools-interface/cti/internal/mpir"
	"github.com/common-tools-interface/cti/shared/logger"
)

// killGrace is the SIGTERM->SIGKILL escalation window the helper uses both
// when cleaning up one app's utilities and when sweeping every tracked
// process on parent disconnect.
const killGrace = 3 * time.Second

// Server is the supervisor-helper side of the protocol: it owns every
// process it has spawned until the Frontend deregisters or releases it.
type Server struct {
	conn *net.UnixConn
	r    *bufio.Reader

	mu sync.Mutex

	nextID uint64
	// cleanupOnExit maps a group key (the decimal app-id ForkExecvpApp
	// returned) -> launcher pid; a pid here is killed when the app is
	// deregistered implicitly (parent disconnect, SIGCHLD of the
	// launcher) or explicitly (TerminateMPIR/kill_app).
	cleanupOnExit map[string]int
	// utilities maps the same group key -> utility pids registered under
	// it (tool daemons, WLM CLI child processes run via ForkExecvpUtil;
	// callers group these under whatever key their driver uses, normally
	// the app-id string or a WLM job-id).
	utilities map[string][]int
	// inferiors maps inferior-id -> the MPIR inferior controlling a
	// launcher, so Release/Wait/Terminate can be dispatched by id.
	inferiors map[uint64]*mpir.Inferior
	// byJob indexes inferiors by the WLM job-id string a driver reported
	// back, for ReleaseMPIRByJob.
	byJob map[string]uint64

	mpirGoroutine chan func()
}

// Run is cmd/cti-overwatch's main: it wraps conn (the helper's end of the
// Frontend's Socketpair, handed down at fork time) in a Server and blocks servicing
// requests until Shutdown or parent disconnect.
func Run(conn *net.UnixConn) error {
	s := &Server{
		conn:          conn,
		r:             bufio.NewReader(conn),
		cleanupOnExit: make(map[string]int),
		utilities:     make(map[string][]int),
		inferiors:     make(map[uint64]*mpir.Inferior),
		byJob:         make(map[string]uint64),
		mpirGoroutine: make(chan func()),
	}

	if err := writeUint64(conn, uint64(os.Getpid())); err != nil {
		return fmt.Errorf("overwatch: sending handshake pid: %w", err)
	}

	// All ptrace calls for a given tracee must come from the same OS
	// thread; dedicate one locked goroutine to every MPIR operation and
	// funnel requests to it.
	go s.mpirWorker()

	// The helper blocks SIGCHLD itself and reaps explicitly instead of
	// relying on a default SIGCHLD disposition, so it can run per-app
	// cleanup on each exit.
	sigchld := make(chan os.Signal, 16)
	signal.Notify(sigchld, unix.SIGCHLD)

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, unix.SIGHUP)

	go s.reapLoop(sigchld)
	go s.hangupLoop(sighup)

	return s.serve()
}

func (s *Server) mpirWorker() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for fn := range s.mpirGoroutine {
		fn()
	}
}

// runMPIR synchronously executes fn on the ptrace-locked worker goroutine
// and returns its result.
func runMPIR[T any](s *Server, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}

	done := make(chan result, 1)
	s.mpirGoroutine <- func() {
		v, err := fn()
		done <- result{v, err}
	}

	r := <-done

	return r.v, r.err
}

func (s *Server) serve() error {
	for {
		t, err := readTag(s.r)
		if err != nil {
			logger.Debugf("overwatch: request stream closed: %v", err)
			s.onDisconnect()

			return nil
		}

		if t == tagShutdown {
			s.onDisconnect()
			return nil
		}

		if err := s.dispatch(t); err != nil {
			logger.Errorf("overwatch: handling tag %v: %v", t, err)
		}
	}
}

func (s *Server) dispatch(t tag) error {
	switch t {
	case tagForkExecvpApp:
		return s.handleForkExecvpApp()
	case tagForkExecvpUtil:
		return s.handleForkExecvpUtil()
	case tagLaunchMPIR:
		return s.handleLaunchMPIR()
	case tagLaunchMPIRShim:
		return s.handleLaunchMPIRShim()
	case tagAttachMPIR:
		return s.handleAttachMPIR()
	case tagReleaseMPIR:
		return s.handleReleaseMPIR()
	case tagReleaseMPIRByJob:
		return s.handleReleaseMPIRByJob()
	case tagWaitMPIR:
		return s.handleWaitMPIR()
	case tagTerminateMPIR:
		return s.handleTerminateMPIR()
	case tagDeregisterApp:
		return s.handleDeregisterApp()
	case tagReleaseApp:
		return s.handleReleaseApp()
	case tagCheckApp:
		return s.handleCheckApp()
	default:
		// unknown tag: best-effort ack, logged by caller
		if err := writeTag(s.conn, tagRespOK); err != nil {
			return err
		}

		return fmt.Errorf("unknown request tag %v", t)
	}
}

// onDisconnect handles the parent's socket closing: terminate every pid in
// every cleanup set in parallel, SIGTERM then SIGKILL after 3s, then the
// process exits 0 (the caller, cmd/cti-overwatch, returns from main once Run
// returns nil).
func (s *Server) onDisconnect() {
	s.mu.Lock()
	var pids []int
	for _, pid := range s.cleanupOnExit {
		pids = append(pids, pid)
	}
	for _, list := range s.utilities {
		pids = append(pids, list...)
	}
	s.mu.Unlock()

	killAllParallel(pids)
}

func killAllParallel(pids []int) {
	var g errgroup.Group

	for _, pid := range pids {
		pid := pid
		g.Go(func() error {
			killEscalate(pid)
			return nil
		})
	}

	_ = g.Wait()
}

func killEscalate(pid int) {
	_ = unix.Kill(pid, unix.SIGTERM)

	done := make(chan struct{})
	go func() {
		_, _ = unix.Wait4(pid, nil, 0, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(killGrace):
		_ = unix.Kill(pid, unix.SIGKILL)
		<-done
	}
}

func (s *Server) reapLoop(ch <-chan os.Signal) {
	for range ch {
		for {
			var ws unix.WaitStatus
			pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
			if pid <= 0 || err != nil {
				break
			}

			s.onChildExit(pid)
		}
	}
}

// onChildExit removes pid from the cleanup set it belongs to and
// asynchronously terminates every utility registered under the same app-id.
func (s *Server) onChildExit(pid int) {
	s.mu.Lock()
	var key string
	var found bool
	for k, p := range s.cleanupOnExit {
		if p == pid {
			key, found = k, true
			delete(s.cleanupOnExit, k)
			break
		}
	}

	var utils []int
	if found {
		utils = s.utilities[key]
		delete(s.utilities, key)
	}
	s.mu.Unlock()

	if found && len(utils) > 0 {
		go killAllParallel(utils)
	}
}

func (s *Server) hangupLoop(ch <-chan os.Signal) {
	<-ch
	s.onDisconnect()
	os.Exit(0)
}

func (s *Server) nextIDLocked() uint64 {
	s.nextID++
	return s.nextID
}
