package mock

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/common-tools-interface/cti/shared/api"
)

func TestLaunchAttachSignalIsRunningLifecycle(t *testing.T) {
	d := New()
	ctx := context.Background()

	result, err := d.Launch(ctx, []string{"./a.out", "--iterations", "10"}, nil, api.LaunchIO{}, api.BarrierHold)
	require.NoError(t, err)
	require.Len(t, result.Proctable, 1)

	running, err := d.IsRunning(ctx, result.JobID)
	require.NoError(t, err)
	assert.True(t, running)

	attached, err := d.Attach(ctx, result.JobID)
	require.NoError(t, err)
	assert.Equal(t, result.JobID, attached.JobID)
	assert.Equal(t, result.Proctable, attached.Proctable)

	require.NoError(t, d.Signal(ctx, result.JobID, 15))

	running, err = d.IsRunning(ctx, result.JobID)
	require.NoError(t, err)
	assert.False(t, running, "Signal marks the job no longer running")

	_, err = d.Attach(ctx, result.JobID)
	assert.Error(t, err, "Attach to a signaled job must fail")
}

func TestAttachUnknownJobErrors(t *testing.T) {
	d := New()
	_, err := d.Attach(context.Background(), "mock.999")
	assert.Error(t, err)
}

func TestEachLaunchGetsADistinctJobID(t *testing.T) {
	d := New()
	ctx := context.Background()

	r1, err := d.Launch(ctx, []string{"a"}, nil, api.LaunchIO{}, api.BarrierNone)
	require.NoError(t, err)

	r2, err := d.Launch(ctx, []string{"b"}, nil, api.LaunchIO{}, api.BarrierNone)
	require.NoError(t, err)

	assert.NotEqual(t, r1.JobID, r2.JobID)
	assert.NotEqual(t, r1.LauncherPID, r2.LauncherPID)
}

func TestShipPackageRecordsPathsPerJobAndRejectsUnknownJob(t *testing.T) {
	d := New()
	ctx := context.Background()

	r, err := d.Launch(ctx, []string{"a"}, nil, api.LaunchIO{}, api.BarrierNone)
	require.NoError(t, err)

	require.NoError(t, d.ShipPackage(ctx, r.JobID, "/tmp/archive.tar.lz4", "archive.tar.lz4"))
	require.NoError(t, d.ShipPackage(ctx, r.JobID, "/tmp/other.tar.lz4", "other.tar.lz4"))

	assert.Equal(t, []string{"/tmp/archive.tar.lz4", "/tmp/other.tar.lz4"}, d.ShippedFiles[r.JobID])

	assert.Error(t, d.ShipPackage(ctx, "mock.nope", "/tmp/x", "x"))
}

func TestRemoteExecReturnsOneIDPerHost(t *testing.T) {
	d := New()
	ctx := context.Background()

	r, err := d.Launch(ctx, []string{"a"}, nil, api.LaunchIO{}, api.BarrierNone)
	require.NoError(t, err)

	ids, err := d.RemoteExec(ctx, r.JobID, "/sandbox/tool", nil, nil, api.Sync)
	require.NoError(t, err)
	require.Len(t, ids, 1)
}

func TestCheckFilesReflectsLocalFilesystem(t *testing.T) {
	d := New()

	present := filepathJoinTemp(t)
	missing := present + "-does-not-exist"

	out, err := d.CheckFiles(context.Background(), "any-job", []string{present, missing})
	require.NoError(t, err)

	assert.True(t, out[present])
	assert.False(t, out[missing])
}

func filepathJoinTemp(t *testing.T) string {
	t.Helper()

	f, err := os.CreateTemp(t.TempDir(), "mock-check-files")
	require.NoError(t, err)
	defer f.Close()

	return f.Name()
}

func TestIsRunningOnUnknownJobIsFalseNotError(t *testing.T) {
	d := New()

	running, err := d.IsRunning(context.Background(), "mock.never-existed")
	require.NoError(t, err)
	assert.False(t, running)
}
