package backend

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/common-tools-interface/cti/shared/api"
)

func TestLayoutFileRoundTrip(t *testing.T) {
	hosts := []api.HostPlacement{
		{Hostname: "nid00001", NumPEs: 4},
		{Hostname: "nid00002", NumPEs: 2},
		{Hostname: "nid00010", NumPEs: 1},
	}

	path := filepath.Join(t.TempDir(), "layout")
	require.NoError(t, WriteLayoutFile(path, hosts))

	entries, err := ReadLayoutFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "nid00001", entries[0].Host)
	assert.Equal(t, int32(4), entries[0].PEsHere)
	assert.Equal(t, int32(0), entries[0].FirstPE)

	assert.Equal(t, "nid00002", entries[1].Host)
	assert.Equal(t, int32(2), entries[1].PEsHere)
	assert.Equal(t, int32(4), entries[1].FirstPE)

	assert.Equal(t, "nid00010", entries[2].Host)
	assert.Equal(t, int32(1), entries[2].PEsHere)
	assert.Equal(t, int32(6), entries[2].FirstPE)
}

func TestLayoutFileHostTruncatedToFieldWidth(t *testing.T) {
	hosts := []api.HostPlacement{
		{Hostname: "a-very-long-hostname-over-nine-bytes", NumPEs: 1},
	}

	path := filepath.Join(t.TempDir(), "layout")
	require.NoError(t, WriteLayoutFile(path, hosts))

	entries, err := ReadLayoutFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].Host, hostFieldWidth)
}

func TestPIDFileRoundTrip(t *testing.T) {
	entries := []api.ProctableEntry{
		{Rank: 0, PID: 1001},
		{Rank: 1, PID: 1002},
		{Rank: 2, PID: 1003},
	}

	path := filepath.Join(t.TempDir(), "pids")
	require.NoError(t, WritePIDFile(path, entries))

	pids, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, []int{1001, 1002, 1003}, pids)
}

func TestLayoutFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout")
	require.NoError(t, WriteLayoutFile(path, nil))

	entries, err := ReadLayoutFile(path)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
