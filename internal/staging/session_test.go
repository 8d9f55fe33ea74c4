package staging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/common-tools-interface/cti/shared/api"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))

	return path
}

func TestNewSessionRemoteRootUsesWLMAndTmpBase(t *testing.T) {
	s := NewSession(1, 1, api.WLMSlurm, "/tmp")
	assert.Contains(t, s.RemoteRoot, "/tmp/cti-slurm-")
	assert.Contains(t, s.BinDir(), s.RemoteRoot)
}

func TestDedupSameSourceIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "tool.so", "content-a")

	s := NewSession(1, 1, api.WLMLocalhost, t.TempDir())

	m1, err := s.CreateManifest(1)
	require.NoError(t, err)
	require.NoError(t, m1.AddLibrary(path, api.DepsIgnore))
	s.Commit(m1, "/remote/lock-1")

	m2, err := s.CreateManifest(2)
	require.NoError(t, err)
	require.NoError(t, m2.AddLibrary(path, api.DepsIgnore), "re-adding the same source under the same name must be a no-op, not an error")

	assert.Empty(t, m2.Conflicts())
}

func TestDedupNameCollisionIsRejected(t *testing.T) {
	dir := t.TempDir()
	pathA := writeTempFile(t, dir, "tool.so", "content-a")

	dir2 := t.TempDir()
	pathB := writeTempFile(t, dir2, "tool.so", "content-b")

	s := NewSession(1, 1, api.WLMLocalhost, t.TempDir())

	m1, err := s.CreateManifest(1)
	require.NoError(t, err)
	require.NoError(t, m1.AddLibrary(pathA, api.DepsIgnore))
	s.Commit(m1, "/remote/lock-1")

	m2, err := s.CreateManifest(2)
	require.NoError(t, err)

	err = m2.AddLibrary(pathB, api.DepsIgnore)
	assert.Error(t, err)
	assert.True(t, api.Is(err, api.KindStaging))
	assert.Len(t, m2.Conflicts(), 1)
}

func TestDestroyInvalidatesOutstandingManifestsAndRejectsNewOnes(t *testing.T) {
	s := NewSession(1, 1, api.WLMLocalhost, t.TempDir())

	m, err := s.CreateManifest(1)
	require.NoError(t, err)
	require.True(t, m.IsBuilding())

	s.Destroy()

	assert.False(t, m.IsBuilding())

	_, err = s.CreateManifest(2)
	assert.Error(t, err)
}

func TestRegisterDaemonTracksIDsForSweep(t *testing.T) {
	s := NewSession(1, 1, api.WLMLocalhost, t.TempDir())

	s.RegisterDaemon("job.node1")
	s.RegisterDaemon("job.node2")

	assert.Equal(t, []string{"job.node1", "job.node2"}, s.DaemonIDs())
}

func TestLockFilesAccumulateAcrossManifests(t *testing.T) {
	dir := t.TempDir()
	pathA := writeTempFile(t, dir, "a.bin", "a")
	pathB := writeTempFile(t, dir, "b.bin", "b")

	s := NewSession(1, 1, api.WLMLocalhost, t.TempDir())

	m1, _ := s.CreateManifest(1)
	require.NoError(t, m1.AddFile(pathA))
	s.Commit(m1, "/remote/lock-1")

	m2, _ := s.CreateManifest(2)
	require.NoError(t, m2.AddFile(pathB))
	s.Commit(m2, "/remote/lock-2")

	assert.ElementsMatch(t, []string{"/remote/lock-1", "/remote/lock-2"}, s.LockFiles())
}
