// Package staging implements the Session/Manifest model: content-addressed
// deduplication of staged files across manifests within a session, archive
// construction, and the serializing lock that makes send_manifest appear
// atomic from the caller's side.
package staging

import (
	"fmt"
	"path/filepath"
	"sync"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/google/uuid"

	"github.com/common-tools-interface/cti/shared/api"
)

// Session is a per-App staging context with a private remote sandbox
// directory on every compute node of the App.
type Session struct {
	ID    api.SessionID
	AppID api.AppID // weak back-reference, resolved through the Frontend's App registry

	// RemoteRoot is the sandbox root path template, e.g.
	// "/tmp/cti-slurm-a1b2c3d4/".
	RemoteRoot string

	mu sync.Mutex

	// dedup maps staged_name -> canonical absolute source path, the
	// session-wide manifest-of-manifests every committed send_manifest
	// folds into.
	dedup map[string]string

	// lockFiles maps manifest id -> the remote lock-file path registered
	// on successful send, so back-end daemons can wait for arrival.
	lockFiles map[api.ManifestID]string

	// daemonIDs is the list of tool-daemon pids/handles started from this
	// session, used by destroySession's SIGTERM/SIGKILL sweep.
	daemonIDs []string

	manifests map[api.ManifestID]*Manifest

	destroyed bool
}

// NewSession allocates a Session with a freshly generated sandbox root
// suffix. wlm names the workload manager, used in the directory template
// ("…/cti-<wlm>-<random>/").
func NewSession(id api.SessionID, appID api.AppID, wlm api.WLMType, tmpBase string) *Session {
	suffix := uuid.NewString()[:8]

	return &Session{
		ID:        id,
		AppID:     appID,
		RemoteRoot: filepath.Join(tmpBase, fmt.Sprintf("cti-%s-%s", wlm, suffix)) + "/",
		dedup:      make(map[string]string),
		lockFiles:  make(map[api.ManifestID]string),
		manifests:  make(map[api.ManifestID]*Manifest),
	}
}

func (s *Session) BinDir() string   { return filepath.Join(s.RemoteRoot, "bin") }
func (s *Session) LibDir() string   { return filepath.Join(s.RemoteRoot, "lib") }
func (s *Session) FileDir() string  { return s.RemoteRoot }
func (s *Session) TmpDir() string   { return filepath.Join(s.RemoteRoot, "tmp") }

// LockFiles returns the remote lock-file path for every manifest that has
// been successfully sent from this session.
func (s *Session) LockFiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.lockFiles))
	for _, p := range s.lockFiles {
		out = append(out, p)
	}

	return out
}

// CreateManifest allocates a new building Manifest bound to this Session
// under id, which the caller (the Frontend) must have drawn from its
// process-wide Manifest id registry so manifest ids stay monotonic across
// the whole process, not just within one Session.
func (s *Session) CreateManifest(id api.ManifestID) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return nil, api.NewError(api.KindUsage, "session is destroyed")
	}

	m := &Manifest{
		ID:        id,
		sessionID: s.ID,
		session:   s,
		state:     stateBuilding,
		binaries:  make(map[string]string),
		libraries: make(map[string]string),
		files:     make(map[string]string),
	}
	s.manifests[id] = m

	return m, nil
}

// resolve implements the session's dedup rule: given a staged name and its
// canonical source path, report whether it needs shipping (true), is a
// no-op repeat (false, nil error), or collides (false, NameCollision).
func (s *Session) resolve(stagedName, canonicalSource string) (needsShip bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.dedup[stagedName]
	if !ok {
		return true, nil
	}

	if existing == canonicalSource {
		return false, nil
	}

	return false, api.NewError(api.KindStaging,
		"name collision: %q already staged from %q, cannot also stage from %q",
		stagedName, existing, canonicalSource)
}

// Commit is the exported form of commit, called by the Frontend once a
// manifest's archive has shipped successfully.
func (s *Session) Commit(m *Manifest, lockFile string) { s.commit(m, lockFile) }

// commit records the staged-name -> source bindings of a successfully sent
// manifest and registers its lock-file path.
func (s *Session) commit(m *Manifest, lockFile string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, src := range m.binaries {
		s.dedup[name] = src
	}

	for name, src := range m.libraries {
		s.dedup[name] = src
	}

	for name, src := range m.files {
		s.dedup[name] = src
	}

	for _, dir := range m.libDirs {
		s.dedup[filepath.Base(dir)] = dir
	}

	s.lockFiles[m.ID] = lockFile
}

// RegisterDaemon is the exported form of registerDaemon.
func (s *Session) RegisterDaemon(id string) { s.registerDaemon(id) }

// registerDaemon records a tool-daemon identifier so Destroy can terminate
// it.
func (s *Session) registerDaemon(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.daemonIDs = append(s.daemonIDs, id)
}

// DaemonIDs returns every tool-daemon identifier started from this Session.
func (s *Session) DaemonIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.daemonIDs))
	copy(out, s.daemonIDs)

	return out
}

// Destroy is the exported form of markDestroyed.
func (s *Session) Destroy() { s.markDestroyed() }

// markDestroyed flips the session into its terminal state; it no longer
// accepts CreateManifest calls. Actual remote cleanup (sandbox unlink,
// daemon termination) is the Frontend's job since it owns the WLM driver
// and the supervisor helper, not the Session itself.
func (s *Session) markDestroyed() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.destroyed = true
	for _, m := range s.manifests {
		m.invalidate()
	}
}

// Manifests returns every Manifest ever created from this Session,
// regardless of state, for cascade invalidation.
func (s *Session) Manifests() []*Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Manifest, 0, len(s.manifests))
	for _, m := range s.manifests {
		out = append(out, m)
	}

	return out
}

// TempArchiveName returns a collision-resistant, human-legible name for a
// manifest's temporary archive file, e.g. "manifest-7-quiet-falcon.tar.lz4".
func TempArchiveName(id api.ManifestID) string {
	return fmt.Sprintf("manifest-%d-%s.tar.lz4", id, petname.Generate(2, "-"))
}
