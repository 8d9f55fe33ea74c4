package archive

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func untarAll(t *testing.T, path string) map[string]*tar.Header {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	tr := tar.NewReader(lz4.NewReader(f))

	out := map[string]*tar.Header{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		out[hdr.Name] = hdr
	}

	return out
}

func TestBuildProducesLZ4TarWithEntries(t *testing.T) {
	src := t.TempDir()
	binPath := filepath.Join(src, "a.out")
	require.NoError(t, os.WriteFile(binPath, []byte("binary-content"), 0o755))

	libPath := filepath.Join(src, "libfoo.so")
	require.NoError(t, os.WriteFile(libPath, []byte("lib-content"), 0o644))

	b := New(t.TempDir(), "test.tar.lz4")
	defer b.Close()

	b.Add(Entry{StagedPath: "bin/a.out", SourcePath: binPath, Executable: true})
	b.Add(Entry{StagedPath: "lib/libfoo.so", SourcePath: libPath, Executable: false})

	require.NoError(t, b.Build())

	headers := untarAll(t, b.Path())
	require.Contains(t, headers, "bin/a.out")
	require.Contains(t, headers, "lib/libfoo.so")

	assert.Equal(t, int64(0o755), headers["bin/a.out"].Mode)
	assert.Equal(t, int64(0o644), headers["lib/libfoo.so"].Mode)
}

func TestBuildRemovesPartialArchiveOnFailure(t *testing.T) {
	b := New(t.TempDir(), "broken.tar.lz4")
	defer b.Close()

	b.Add(Entry{StagedPath: "bin/missing", SourcePath: "/no/such/file-xyz"})

	err := b.Build()
	assert.Error(t, err)

	_, statErr := os.Stat(b.Path())
	assert.True(t, os.IsNotExist(statErr), "a failed Build must leave no partial archive file behind")
}

func TestCloseRemovesArchiveFile(t *testing.T) {
	src := t.TempDir()
	filePath := filepath.Join(src, "data.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("x"), 0o644))

	b := New(t.TempDir(), "closed.tar.lz4")
	b.Add(Entry{StagedPath: "data.txt", SourcePath: filePath})
	require.NoError(t, b.Build())

	b.Close()

	_, err := os.Stat(b.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestAddTreeWalksDirectoryPreservingExecBit(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plain.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "run.sh"), []byte("x"), 0o755))

	b := New(t.TempDir(), "tree.tar.lz4")
	defer b.Close()

	require.NoError(t, b.AddTree(dir, "mylib"))
	require.NoError(t, b.Build())

	headers := untarAll(t, b.Path())
	require.Contains(t, headers, filepath.Join("lib", "mylib", "plain.txt"))
	require.Contains(t, headers, filepath.Join("lib", "mylib", "nested", "run.sh"))

	assert.Equal(t, int64(0o644), headers[filepath.Join("lib", "mylib", "plain.txt")].Mode)
	assert.Equal(t, int64(0o755), headers[filepath.Join("lib", "mylib", "nested", "run.sh")].Mode)
}

func TestDuplicateStagedPathIsInternalError(t *testing.T) {
	src := t.TempDir()
	path := filepath.Join(src, "a")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	b := New(t.TempDir(), "dup.tar.lz4")
	defer b.Close()

	b.Add(Entry{StagedPath: "same", SourcePath: path})
	b.Add(Entry{StagedPath: "same", SourcePath: path})

	assert.Error(t, b.Build())
}
