package staging

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/common-tools-interface/cti/internal/archive"
	"github.com/common-tools-interface/cti/internal/staging/elfdeps"
	"github.com/common-tools-interface/cti/shared/api"
)

type manifestState int

const (
	stateBuilding manifestState = iota
	stateShipped
	stateInvalidated
)

// Manifest is a pending delta to a Session. It holds only a weak reference
// (the owning Session's id, plus a direct pointer for convenience within
// this package; callers outside staging always go through the id) to its
// Session.
type Manifest struct {
	ID        api.ManifestID
	sessionID api.SessionID
	session   *Session

	mu    sync.Mutex
	state manifestState

	// binaries/libraries/files map staged_name -> canonical absolute
	// source path, scoped to this manifest (not yet committed to the
	// Session's dedup map until a successful send).
	binaries  map[string]string
	libraries map[string]string
	files     map[string]string

	// libDirs is the set of opaque library-directory trees to stage under
	// lib/<basename(dir)>/.
	libDirs []string

	// conflicts logs rejected adds, for later inspection as a "conflict log".
	conflicts []string
}

// SessionID returns the id of the owning Session.
func (m *Manifest) SessionID() api.SessionID { return m.sessionID }

// State-check helpers.
func (m *Manifest) isBuilding() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state == stateBuilding
}

func (m *Manifest) invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == stateBuilding {
		m.state = stateInvalidated
	}
}

func (m *Manifest) markShipped() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = stateInvalidated
}

// IsBuilding reports whether the manifest can still accept adds (exported
// for the Frontend's manifest_is_valid / send_manifest preconditions).
func (m *Manifest) IsBuilding() bool { return m.isBuilding() }

// MarkShipped transitions the manifest to its terminal invalidated state
// after a successful send_manifest, which invalidates the manifest handle.
func (m *Manifest) MarkShipped() { m.markShipped() }

// ArchiveEntries converts every add queued on this manifest into
// archive.Entry values ready for an archive.Builder, in bin/lib/root order.
// Library-directory adds become the distinguished tree entries AddTree
// would produce, resolved eagerly here since the Builder itself has no
// knowledge of a Manifest's bookkeeping.
func (m *Manifest) ArchiveEntries(b *archive.Builder) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, src := range m.binaries {
		b.Add(archive.Entry{StagedPath: filepath.Join("bin", name), SourcePath: src, Executable: true})
	}

	for name, src := range m.libraries {
		b.Add(archive.Entry{StagedPath: filepath.Join("lib", name), SourcePath: src, Executable: false})
	}

	for name, src := range m.files {
		b.Add(archive.Entry{StagedPath: name, SourcePath: src, Executable: false})
	}

	for _, dir := range m.libDirs {
		if err := b.AddTree(dir, filepath.Base(dir)); err != nil {
			return err
		}
	}

	return nil
}

// IsEmpty reports whether the manifest has nothing queued to ship.
func (m *Manifest) IsEmpty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.binaries) == 0 && len(m.libraries) == 0 && len(m.files) == 0 && len(m.libDirs) == 0
}

// AddBinary stages path as an executable under bin/<basename(path)>,
// walking ELF dependencies when policy is DepsStage (the default).
func (m *Manifest) AddBinary(path string, policy api.DepsPolicy) error {
	return m.add(m.binaries, "bin", path, true, policy)
}

// AddLibrary stages path under lib/<basename(path)>, walking ELF
// dependencies when policy is DepsStage.
func (m *Manifest) AddLibrary(path string, policy api.DepsPolicy) error {
	return m.add(m.libraries, "lib", path, false, policy)
}

// AddFile stages path at the sandbox root as a plain file (no exec bit, no
// dependency walk).
func (m *Manifest) AddFile(path string) error {
	return m.add(m.files, "", path, false, api.DepsIgnore)
}

// AddLibraryDir stages dir as an opaque tree under lib/<basename(dir)>/,
// without adding its contents to LD_LIBRARY_PATH.
func (m *Manifest) AddLibraryDir(dir string) error {
	if !m.isBuilding() {
		return api.NewError(api.KindUsage, "manifest %d is not in the building state", m.ID)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return api.Wrap(api.KindStaging, err, "library directory %q", dir)
	}

	if !info.IsDir() {
		return api.NewError(api.KindStaging, "%q is not a directory", dir)
	}

	canonical, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return api.Wrap(api.KindStaging, err, "resolving %q", dir)
	}

	stagedName := filepath.Base(canonical)

	needsShip, err := m.session.resolve(stagedName, canonical)
	if err != nil {
		m.logConflict(err.Error())
		return err
	}

	if needsShip {
		m.libDirs = append(m.libDirs, canonical)
	}

	return nil
}

func (m *Manifest) logConflict(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.conflicts = append(m.conflicts, msg)
}

// Conflicts returns every rejected-add diagnostic logged against this
// manifest, oldest first.
func (m *Manifest) Conflicts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.conflicts))
	copy(out, m.conflicts)

	return out
}

func (m *Manifest) add(set map[string]string, subdir string, path string, executable bool, policy api.DepsPolicy) error {
	if !m.isBuilding() {
		return api.NewError(api.KindUsage, "manifest %d is not in the building state", m.ID)
	}

	resolved, err := locate(path)
	if err != nil {
		err = api.NewError(api.KindStaging, "%q: could not locate in PATH.", path)
		m.logConflict(err.Error())
		return err
	}

	canonical, err := filepath.EvalSymlinks(resolved)
	if err != nil {
		return api.Wrap(api.KindStaging, err, "resolving %q", path)
	}

	if err := checkRegularReadable(canonical); err != nil {
		m.logConflict(err.Error())
		return err
	}

	stagedName := filepath.Base(canonical)

	m.mu.Lock()
	pending, pendingOK := set[stagedName]
	m.mu.Unlock()

	if pendingOK {
		if pending == canonical {
			return nil
		}

		err := api.NewError(api.KindStaging,
			"name collision: %q already queued in this manifest from %q, cannot also stage from %q",
			stagedName, pending, canonical)
		m.logConflict(err.Error())
		return err
	}

	needsShip, err := m.session.resolve(stagedName, canonical)
	if err != nil {
		m.logConflict(err.Error())
		return err
	}

	m.mu.Lock()
	if needsShip {
		set[stagedName] = canonical
	}
	m.mu.Unlock()

	if !needsShip || policy != api.DepsStage {
		return nil
	}

	deps, err := elfdeps.Walk(canonical)
	if err != nil {
		// A non-ELF binary (e.g. a script) or a static binary is not an
		// error: there are simply no dependencies to stage.
		return nil
	}

	for _, dep := range deps {
		// Each dependency is staged exactly like a library add; the same
		// dedup resolution that names-collision-checks ordinary adds makes
		// the recursion memoise naturally and prevents loops (a dependency
		// already bound to its staged name short-circuits before recursing
		// again).
		if err := m.AddLibrary(dep, api.DepsStage); err != nil {
			if !api.Is(err, api.KindStaging) {
				return err
			}
			// Collisions among transitive dependencies are logged but
			// do not fail the top-level add.
		}
	}

	return nil
}

// checkRegularReadable rejects FIFOs, sockets, devices, and unreadable
// files per the archive builder's InvalidFileType contract, checked here
// too so a bad add fails fast instead of only at send time.
func checkRegularReadable(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return api.Wrap(api.KindStaging, err, "stat %q", path)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		// EvalSymlinks already resolved the caller's path; a remaining
		// symlink here means a dependency walk handed us a dangling one.
		return api.NewError(api.KindStaging, "%q is a dangling symlink", path)
	}

	if !info.Mode().IsRegular() {
		return api.NewError(api.KindStaging, "%q is not a regular file (InvalidFileType)", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return api.Wrap(api.KindStaging, err, "%q is not readable", path)
	}
	_ = f.Close()

	return nil
}
