package frontend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/common-tools-interface/cti/internal/archive"
	"github.com/common-tools-interface/cti/internal/backend"
	"github.com/common-tools-interface/cti/internal/registry"
	"github.com/common-tools-interface/cti/internal/staging"
	"github.com/common-tools-interface/cti/shared/api"
)

func removeFile(path string) error { return os.Remove(path) }

// daemonKillGrace mirrors the supervisor helper's own SIGTERM->SIGKILL
// escalation window, applied here to tool daemons tracked only by
// Session.DaemonIDs, which the helper does not group under a single app
// cleanup key.
const daemonKillGrace = 3 * time.Second

// CreateSession allocates a new Session scoped to appID, with its own
// per-node sandbox root under the current WLM's temp base.
func (f *Frontend) CreateSession(appID api.AppID) (api.SessionID, error) {
	var id api.SessionID

	err := f.guard(func() error {
		if !f.apps.IsValid(appID) {
			return api.NewError(api.KindUsage, "app %d is not valid", appID)
		}

		id = f.sessions.NextID()
		s := staging.NewSession(id, appID, f.wlmType, f.scratchBase())
		f.sessions.Insert(id, s)

		return nil
	})

	return id, err
}

// scratchBase is the remote-side base directory session sandboxes nest
// under: the config file's scratch-dir setting if present, else "/tmp".
func (f *Frontend) scratchBase() string {
	if f.cfg != nil && f.cfg.ScratchDir != "" {
		return f.cfg.ScratchDir
	}

	return "/tmp"
}

// SessionIsValid reports whether id names a live Session.
func (f *Frontend) SessionIsValid(id api.SessionID) bool {
	return f.sessions.IsValid(id)
}

// DestroySession invalidates id, cascading to every Manifest created from
// it, and sweeps its tool daemons with an escalating SIGTERM/SIGKILL
// schedule. The supervisor helper owns the actual signaling for launcher
// pids; daemon pids are swept directly here since they are not tracked by
// the helper.
func (f *Frontend) DestroySession(ctx context.Context, id api.SessionID) error {
	return f.guard(func() error {
		return f.destroySession(id)
	})
}

func (f *Frontend) destroySession(id api.SessionID) error {
	s, ok := f.sessions.Destroy(id)
	if !ok {
		return api.NewError(api.KindUsage, "session %d is not valid", id)
	}

	s.Destroy()

	app, ok := f.apps.Get(s.AppID)
	if !ok {
		// The owning App is already gone; its own DeregisterApp/KillApp
		// path already swept this session's daemons via the helper.
		return nil
	}

	f.sweepDaemons(app.JobID, s.DaemonIDs())

	return nil
}

// sweepDaemons sends SIGTERM to every daemon id on jobID's nodes, waits
// daemonKillGrace, then SIGKILLs whatever is still alive.
func (f *Frontend) sweepDaemons(jobID string, daemonIDs []string) {
	if len(daemonIDs) == 0 {
		return
	}

	ctx := context.Background()

	for _, id := range daemonIDs {
		_, _ = f.driver.RemoteExec(ctx, jobID, "kill", []string{"-TERM", id}, nil, api.Sync)
	}

	time.Sleep(daemonKillGrace)

	for _, id := range daemonIDs {
		_, _ = f.driver.RemoteExec(ctx, jobID, "kill", []string{"-KILL", id}, nil, api.Sync)
	}
}

// CreateManifest allocates a new building Manifest on sessionID, drawing its
// id from the Frontend's process-wide manifest registry so ids stay
// monotonic across every Session in this process.
func (f *Frontend) CreateManifest(sessionID api.SessionID) (api.ManifestID, error) {
	var id api.ManifestID

	err := f.guard(func() error {
		s, ok := f.sessions.Get(sessionID)
		if !ok {
			return api.NewError(api.KindUsage, "session %d is not valid", sessionID)
		}

		id = f.manifests.NextID()

		m, err := s.CreateManifest(id)
		if err != nil {
			return err
		}

		f.manifests.Insert(id, m)

		return nil
	})

	return id, err
}

// ManifestIsValid reports whether id names a still-building Manifest.
func (f *Frontend) ManifestIsValid(id api.ManifestID) bool {
	m, ok := f.manifests.Get(id)
	if !ok {
		return false
	}

	return m.IsBuilding()
}

func (f *Frontend) getManifest(id api.ManifestID) (*staging.Manifest, error) {
	m, ok := f.manifests.Get(id)
	if !ok {
		return nil, api.NewError(api.KindUsage, "manifest %d is not valid", id)
	}

	if !m.IsBuilding() {
		return nil, api.NewError(api.KindUsage, "manifest %d is not in the building state", id)
	}

	return m, nil
}

func (f *Frontend) AddManifestBinary(id api.ManifestID, path string, policy api.DepsPolicy) error {
	return f.guard(func() error {
		m, err := f.getManifest(id)
		if err != nil {
			return err
		}

		return m.AddBinary(path, policy)
	})
}

func (f *Frontend) AddManifestLibrary(id api.ManifestID, path string, policy api.DepsPolicy) error {
	return f.guard(func() error {
		m, err := f.getManifest(id)
		if err != nil {
			return err
		}

		return m.AddLibrary(path, policy)
	})
}

func (f *Frontend) AddManifestFile(id api.ManifestID, path string) error {
	return f.guard(func() error {
		m, err := f.getManifest(id)
		if err != nil {
			return err
		}

		return m.AddFile(path)
	})
}

func (f *Frontend) AddManifestLibraryDir(id api.ManifestID, dir string) error {
	return f.guard(func() error {
		m, err := f.getManifest(id)
		if err != nil {
			return err
		}

		return m.AddLibraryDir(dir)
	})
}

// SendManifest builds the manifest's archive, ships it to every node of the
// owning App via the WLM driver, unpacks it into the session's sandbox root,
// and commits the staged names into the Session's dedup table. Empty
// manifests are a no-op success, since there is nothing to ship.
func (f *Frontend) SendManifest(ctx context.Context, id api.ManifestID) error {
	return f.guard(func() error {
		m, err := f.getManifest(id)
		if err != nil {
			return err
		}

		s, ok := f.sessions.Get(m.SessionID())
		if !ok {
			return api.NewError(api.KindUsage, "session %d is not valid", m.SessionID())
		}

		app, ok := f.apps.Get(s.AppID)
		if !ok {
			return api.NewError(api.KindUsage, "app %d is not valid", s.AppID)
		}

		if m.IsEmpty() {
			m.MarkShipped()
			return nil
		}

		archiveName := staging.TempArchiveName(id)

		b := archive.New(f.tmpDir, archiveName)
		defer b.Close()

		if err := m.ArchiveEntries(b); err != nil {
			return err
		}

		if err := b.Build(); err != nil {
			return err
		}

		destRelPath := filepath.Join(s.RemoteRoot, archiveName)

		if err := f.driver.ShipPackage(ctx, app.JobID, b.Path(), destRelPath); err != nil {
			return api.Wrap(api.KindWlm, err, "shipping manifest %d", id)
		}

		if _, err := f.driver.RemoteExec(ctx, app.JobID, "sh", []string{"-c", unpackScript(s.RemoteRoot, destRelPath)}, nil, api.Sync); err != nil {
			return api.Wrap(api.KindWlm, err, "unpacking manifest %d", id)
		}

		lockFile := filepath.Join(s.RemoteRoot, fmt.Sprintf("manifest-%d.lock", id))

		s.Commit(m, lockFile)
		m.MarkShipped()

		return nil
	})
}

// unpackScript builds the remote shell command that extracts a shipped
// manifest archive into a session's sandbox root and removes the archive
// once extracted, leaving bin/, lib/, and any root-level files in place for
// exec_tool_daemon to find. GNU tar's --lz4 flag decodes the archive
// builder's LZ4 framing directly, without requiring a separate lz4 binary
// on the compute node.
func unpackScript(root, archivePath string) string {
	return fmt.Sprintf("mkdir -p %q && tar --lz4 -xf %q -C %q && rm -f %q", root, archivePath, root, archivePath)
}

// ExecToolDaemon starts binaryName (already staged into the Session's
// bin/ directory by an earlier send_manifest) on every node of the owning
// App, registering each returned daemon identifier so destroy_session can
// terminate it later.
func (f *Frontend) ExecToolDaemon(ctx context.Context, sessionID api.SessionID, binaryName string, argv, env []string, synchrony api.Synchrony) ([]string, error) {
	var ids []string

	err := f.guard(func() error {
		s, ok := f.sessions.Get(sessionID)
		if !ok {
			return api.NewError(api.KindUsage, "session %d is not valid", sessionID)
		}

		app, ok := f.apps.Get(s.AppID)
		if !ok {
			return api.NewError(api.KindUsage, "app %d is not valid", s.AppID)
		}

		if err := f.writeBackendFiles(ctx, s, app); err != nil {
			return err
		}

		path := filepath.Join(s.BinDir(), binaryName)
		daemonEnv := append(append([]string{}, env...), backendEnv(s, app)...)

		var err error
		ids, err = f.driver.RemoteExec(ctx, app.JobID, path, argv, daemonEnv, synchrony)
		if err != nil {
			return err
		}

		for _, daemonID := range ids {
			s.RegisterDaemon(daemonID)
		}

		return nil
	})

	return ids, err
}

func (f *Frontend) GetSessionLockFiles(id api.SessionID) ([]string, error) {
	s, ok := f.sessions.Get(id)
	if !ok {
		return nil, api.NewError(api.KindUsage, "session %d is not valid", id)
	}

	return s.LockFiles(), nil
}

func (f *Frontend) GetSessionRootDir(id api.SessionID) (string, error) {
	s, ok := f.sessions.Get(id)
	if !ok {
		return "", api.NewError(api.KindUsage, "session %d is not valid", id)
	}

	return s.RemoteRoot, nil
}

func (f *Frontend) GetSessionBinDir(id api.SessionID) (string, error) {
	s, ok := f.sessions.Get(id)
	if !ok {
		return "", api.NewError(api.KindUsage, "session %d is not valid", id)
	}

	return s.BinDir(), nil
}

func (f *Frontend) GetSessionLibDir(id api.SessionID) (string, error) {
	s, ok := f.sessions.Get(id)
	if !ok {
		return "", api.NewError(api.KindUsage, "session %d is not valid", id)
	}

	return s.LibDir(), nil
}

func (f *Frontend) GetSessionFileDir(id api.SessionID) (string, error) {
	s, ok := f.sessions.Get(id)
	if !ok {
		return "", api.NewError(api.KindUsage, "session %d is not valid", id)
	}

	return s.FileDir(), nil
}

func (f *Frontend) GetSessionTmpDir(id api.SessionID) (string, error) {
	s, ok := f.sessions.Get(id)
	if !ok {
		return "", api.NewError(api.KindUsage, "session %d is not valid", id)
	}

	return s.TmpDir(), nil
}

// writeBackendFiles builds the Slurm-style layout/pid files a daemon reads
// when the WLM's own PMI is absent, then ships them onto every node of app
// alongside the session's staged content via the same ShipPackage path
// send_manifest uses.
func (f *Frontend) writeBackendFiles(ctx context.Context, s *staging.Session, app *registry.App) error {
	localLayout := filepath.Join(f.tmpDir, fmt.Sprintf("layout-%d", s.ID))
	localPids := filepath.Join(f.tmpDir, fmt.Sprintf("pids-%d", s.ID))

	if err := backend.WriteLayoutFile(localLayout, app.Hosts); err != nil {
		return err
	}
	defer func() { _ = removeFile(localLayout) }()

	if err := backend.WritePIDFile(localPids, app.Proctable); err != nil {
		return err
	}
	defer func() { _ = removeFile(localPids) }()

	if err := f.driver.ShipPackage(ctx, app.JobID, localLayout, layoutFilePath(s)); err != nil {
		return api.Wrap(api.KindWlm, err, "shipping layout file")
	}

	return f.driver.ShipPackage(ctx, app.JobID, localPids, pidFilePath(s))
}

func layoutFilePath(s *staging.Session) string { return filepath.Join(s.TmpDir(), "layout") }
func pidFilePath(s *staging.Session) string    { return filepath.Join(s.TmpDir(), "pids") }

// backendEnv builds the be_* environment a tool daemon needs, appended to
// whatever exec_tool_daemon's caller already supplied.
func backendEnv(s *staging.Session, app *registry.App) []string {
	return []string{
		"CTI_WLM_IMPL=" + app.WLM.String(),
		fmt.Sprintf("CTI_APP_ID=%d", app.ID),
		"CTI_SANDBOX_ROOT=" + s.RemoteRoot,
		"CTI_LAYOUT_FILE=" + layoutFilePath(s),
	}
}
