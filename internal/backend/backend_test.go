package backend

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/common-tools-interface/cti/shared/api"
)

func TestGetAppIDRoundTrip(t *testing.T) {
	t.Setenv(envAppID, "42")

	id, err := GetAppID()
	require.NoError(t, err)
	assert.Equal(t, api.AppID(42), id)
}

func TestGetAppIDMissing(t *testing.T) {
	t.Setenv(envAppID, "")

	_, err := GetAppID()
	assert.Error(t, err)
}

func TestCurrentWLMFromEnv(t *testing.T) {
	t.Setenv(envWLM, "slurm")
	assert.Equal(t, api.WLMSlurm, CurrentWLM())
}

func TestParseAttribs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "attribs")
	require.NoError(t, os.WriteFile(path, []byte("0 111\n1 222\n\n2 333\n"), 0o600))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	pairs, err := parseAttribs(f)
	require.NoError(t, err)
	assert.Equal(t, []api.RankPID{{Rank: 0, PID: 111}, {Rank: 1, PID: 222}, {Rank: 2, PID: 333}}, pairs)
}

func TestNodeLayoutLookupByHostname(t *testing.T) {
	host, err := os.Hostname()
	require.NoError(t, err)

	dir := t.TempDir()
	layoutPath := filepath.Join(dir, "layout")
	require.NoError(t, WriteLayoutFile(layoutPath, []api.HostPlacement{
		{Hostname: host, NumPEs: 3},
	}))

	t.Setenv(envLayoutFile, layoutPath)

	pes, err := GetNodePEs()
	require.NoError(t, err)
	assert.Equal(t, 3, pes)

	first, err := GetNodeFirstPE()
	require.NoError(t, err)
	assert.Equal(t, 0, first)
}

func TestSandboxDirAccessors(t *testing.T) {
	t.Setenv("CTI_BACKEND_TMPDIR", "")
	t.Setenv(envSandboxRoot, "/var/cti/sandbox")

	assert.Equal(t, "/var/cti/sandbox/bin", BinDir())
	assert.Equal(t, "/var/cti/sandbox/lib", LibDir())
	assert.Equal(t, "/var/cti/sandbox", FileDir())
	assert.Equal(t, "/var/cti/sandbox/tmp", TmpDir())
}

func TestBackendTmpDirOverridesSandboxRoot(t *testing.T) {
	t.Setenv(envSandboxRoot, "/var/cti/sandbox")
	t.Setenv("CTI_BACKEND_TMPDIR", "/scratch/local")

	assert.Equal(t, "/scratch/local/bin", BinDir())
}
