package staging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/common-tools-interface/cti/shared/api"
)

func TestManifestIsEmptyInitially(t *testing.T) {
	s := NewSession(1, 1, api.WLMLocalhost, t.TempDir())
	m, err := s.CreateManifest(1)
	require.NoError(t, err)

	assert.True(t, m.IsEmpty())
}

func TestManifestAddFileMarksNotEmpty(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "payload.txt", "data")

	s := NewSession(1, 1, api.WLMLocalhost, t.TempDir())
	m, err := s.CreateManifest(1)
	require.NoError(t, err)

	require.NoError(t, m.AddFile(path))
	assert.False(t, m.IsEmpty())
}

func TestManifestRejectsAddAfterShipped(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "payload.txt", "data")

	s := NewSession(1, 1, api.WLMLocalhost, t.TempDir())
	m, err := s.CreateManifest(1)
	require.NoError(t, err)

	m.MarkShipped()

	err = m.AddFile(path)
	assert.Error(t, err)
	assert.True(t, api.Is(err, api.KindUsage))
}

func TestManifestAddMissingFileLogsConflict(t *testing.T) {
	s := NewSession(1, 1, api.WLMLocalhost, t.TempDir())
	m, err := s.CreateManifest(1)
	require.NoError(t, err)

	err = m.AddBinary("/no/such/binary-xyz", api.DepsIgnore)
	assert.Error(t, err)
	assert.Len(t, m.Conflicts(), 1)
}

func TestManifestAddLibraryDirStagesDirectoryOnce(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "one.so", "x")

	s := NewSession(1, 1, api.WLMLocalhost, t.TempDir())

	m1, err := s.CreateManifest(1)
	require.NoError(t, err)
	require.NoError(t, m1.AddLibraryDir(dir))
	s.Commit(m1, "/remote/lock-1")

	m2, err := s.CreateManifest(2)
	require.NoError(t, err)
	require.NoError(t, m2.AddLibraryDir(dir), "re-adding the same directory must dedup, not conflict")
	assert.Empty(t, m2.Conflicts())
	assert.True(t, m2.IsEmpty(), "a directory already committed by m1 must not be staged again")
}
