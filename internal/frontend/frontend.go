// Package frontend implements the process-wide singleton that owns the
// three id registries, the WLM driver, and the supervisor helper connection,
// and exposes every public operation guarded against panics and
// fork-unsafety.
package frontend

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/common-tools-interface/cti/internal/overwatch"
	"github.com/common-tools-interface/cti/internal/registry"
	"github.com/common-tools-interface/cti/internal/staging"
	"github.com/common-tools-interface/cti/internal/wlm"
	"github.com/common-tools-interface/cti/internal/wlm/alps"
	"github.com/common-tools-interface/cti/internal/wlm/flux"
	"github.com/common-tools-interface/cti/internal/wlm/pals"
	"github.com/common-tools-interface/cti/internal/wlm/slurm"
	"github.com/common-tools-interface/cti/internal/wlm/ssh"
	"github.com/common-tools-interface/cti/shared/api"
	"github.com/common-tools-interface/cti/shared/cliconfig"
	"github.com/common-tools-interface/cti/shared/logger"
)

// Version is the public version string returned by the Frontend's version
// operation.
const Version = "cti 1.0.0 (go)"

// Frontend is the process-wide singleton. Every exported method is safe to
// call from multiple goroutines; external entry points additionally run
// under guard, which recovers panics into the last-error string instead of
// letting them cross the public API boundary.
type Frontend struct {
	pid int // stamped at construction, for the fork-safety check

	wlmType api.WLMType
	driver  wlm.Driver
	helper  *overwatch.Client
	cmd     *exec.Cmd // the forked supervisor helper process, nil if unavailable

	apps      *registry.Registry[api.AppID, registry.App]
	sessions  *registry.Registry[api.SessionID, staging.Session]
	manifests *registry.Registry[api.ManifestID, staging.Manifest]

	lastError atomic.Pointer[string]

	tmpDir string
	cfg    *cliconfig.Config
}

var (
	instance     *Frontend
	instanceOnce sync.Once
	instanceErr  error
)

// Get returns the process-wide Frontend, constructing it on first call.
// Construction failure (most commonly a failure to fork the supervisor
// helper) is surfaced as an error so callers embedding this as a library can
// decide how to fail, rather than aborting the process outright.
func Get() (*Frontend, error) {
	instanceOnce.Do(func() {
		instance, instanceErr = newFrontend()
	})

	return instance, instanceErr
}

func newFrontend() (*Frontend, error) {
	if err := logger.Init(); err != nil {
		return nil, api.Wrap(api.KindEnv, err, "initializing logger")
	}

	dir := cfgDir()

	cfg, err := cliconfig.Load(dir)
	if err != nil {
		logger.Warnf("frontend: loading config from %s: %v", dir, err)
		cfg = &cliconfig.Config{ConfigDir: dir}
	}

	wlmType := wlm.Detect()
	if os.Getenv("CTI_WLM_IMPL") == "" {
		if t := cfg.WLMType(); t != api.WLMUnknown {
			wlmType = t
		}
	}

	f := &Frontend{
		pid:       os.Getpid(),
		wlmType:   wlmType,
		apps:      registry.New[api.AppID, registry.App](),
		sessions:  registry.New[api.SessionID, staging.Session](),
		manifests: registry.New[api.ManifestID, staging.Manifest](),
		tmpDir:    dir,
		cfg:       cfg,
	}

	if err := f.spawnHelper(); err != nil {
		return nil, api.Wrap(api.KindHelper, err, "spawning supervisor helper")
	}

	f.driver = newDriver(f.wlmType, f.helper, cfg)

	logger.Infof("frontend: initialized, wlm=%s helper_pid=%d", f.wlmType, f.helper.HelperPID)

	return f, nil
}

func newDriver(t api.WLMType, helper *overwatch.Client, cfg *cliconfig.Config) wlm.Driver {
	launcherName := os.Getenv("CTI_LAUNCHER_NAME")

	switch t {
	case api.WLMSlurm:
		return slurm.New(helper, launcherName)
	case api.WLMPALS:
		return pals.New(helper)
	case api.WLMFlux:
		return flux.New(helper)
	case api.WLMALPS:
		return alps.New(helper)
	default:
		// ssh is CTI's explicit "generic"/"localhost" fallback, so any WLM
		// this build does not recognize still gets a working driver rather
		// than a nil one.
		return ssh.New(helper, remoteNodes(cfg))
	}
}

// remoteNodes converts the CLI config's named remotes into the ssh driver's
// node list, in map-iteration order (the driver treats the list as an
// unordered set of targets, so a stable order is not required).
func remoteNodes(cfg *cliconfig.Config) []ssh.NodeConfig {
	if cfg == nil || len(cfg.Remotes) == 0 {
		return nil
	}

	nodes := make([]ssh.NodeConfig, 0, len(cfg.Remotes))
	for _, r := range cfg.Remotes {
		nodes = append(nodes, ssh.NodeConfig{Hostname: r.Hostname, User: r.User, KeyPath: r.KeyPath})
	}

	return nodes
}

// cfgDir resolves the config directory from $CTI_CFG_DIR, $TMPDIR, /tmp, or
// $HOME in that order, creating it mode 0700 if needed.
func cfgDir() string {
	candidates := []string{os.Getenv("CTI_CFG_DIR"), os.Getenv("TMPDIR"), "/tmp", os.Getenv("HOME")}

	for _, c := range candidates {
		if c == "" {
			continue
		}

		dir := filepath.Join(c, fmt.Sprintf("cti-%d", os.Getpid()))
		if err := os.MkdirAll(dir, 0o700); err == nil {
			return dir
		}
	}

	return os.TempDir()
}

// spawnHelper forks the supervisor helper binary over a freshly created
// SOCK_STREAM AF_UNIX socket pair, handing it the child end as fd 3 and
// keeping the parent end wrapped as a *net.UnixConn.
func (f *Frontend) spawnHelper() error {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return api.Wrap(api.KindHelper, err, "socketpair")
	}

	parentFile := os.NewFile(uintptr(fds[0]), "cti-overwatch-parent")
	childFile := os.NewFile(uintptr(fds[1]), "cti-overwatch-child")

	helperPath := helperBinaryPath()

	cmd := exec.Command(helperPath)
	cmd.ExtraFiles = []*os.File{childFile}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		_ = parentFile.Close()
		_ = childFile.Close()

		return api.Wrap(api.KindHelper, err, "starting helper %q", helperPath)
	}

	_ = childFile.Close() // the child's copy lives on in its own process now

	conn, err := net.FileConn(parentFile)
	if err != nil {
		return api.Wrap(api.KindHelper, err, "wrapping helper socket")
	}
	_ = parentFile.Close()

	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return api.NewError(api.KindHelper, "helper socket is not AF_UNIX")
	}

	client, err := overwatch.NewClient(unixConn)
	if err != nil {
		return err
	}

	f.cmd = cmd
	f.helper = client

	return nil
}

// helperBinaryPath resolves the supervisor helper binary from
// CTI_INSTALL_DIR/libexec, falling back to PATH lookup so development builds
// (where cmd/cti-overwatch lives in GOPATH/bin) still work.
func helperBinaryPath() string {
	if dir := os.Getenv("CTI_INSTALL_DIR"); dir != "" {
		return filepath.Join(dir, "libexec", "cti-overwatch")
	}

	if p, err := exec.LookPath("cti-overwatch"); err == nil {
		return p
	}

	return "cti-overwatch"
}

// isOriginalProcess reports whether the caller is still running in the
// process that constructed this Frontend. A forked child always fails this
// check and every destructor guarded by it becomes a no-op, so destroying a
// Frontend handle in a fork()ed child never signals the parent's job or
// helper.
func (f *Frontend) isOriginalProcess() bool {
	return os.Getpid() == f.pid
}

// guard recovers a panic from fn, recording it as the last error exactly
// like a returned error, since internal exceptions are never allowed to
// cross the public API boundary.
func (f *Frontend) guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = api.NewError(api.KindUsage, "recovered panic: %v", r)
			f.setLastError(err)
		}
	}()

	err = fn()
	if err != nil {
		f.setLastError(err)
	}

	return err
}

func (f *Frontend) setLastError(err error) {
	msg := err.Error()
	f.lastError.Store(&msg)
}

// ErrorStr returns the most recent failure's diagnostic, or "" if no guarded
// call has failed yet. A later successful call does not clear it.
func (f *Frontend) ErrorStr() string {
	if p := f.lastError.Load(); p != nil {
		return *p
	}

	return ""
}

// CurrentWLM returns the WLM this Frontend detected at construction.
func (f *Frontend) CurrentWLM() api.WLMType { return f.wlmType }

// GetHostname returns the hostname of the node running the controlling
// tool (not necessarily a compute node of any App).
func (f *Frontend) GetHostname() (string, error) { return os.Hostname() }

// Close tears down the Frontend: it asks the helper to terminate every
// tracked process and exit, unless this call is happening in a forked
// child, in which case it is a documented no-op.
func (f *Frontend) Close() error {
	if !f.isOriginalProcess() {
		logger.Debugf("frontend: Close() in forked child pid=%d (original %d), suppressing helper shutdown", os.Getpid(), f.pid)
		return nil
	}

	if f.helper == nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := f.helper.Shutdown(ctx)

	if f.cmd != nil {
		_ = f.cmd.Wait()
	}

	return err
}

