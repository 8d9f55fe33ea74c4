// Package archive builds the single deduplicated archive shipped to every
// compute node of a job on send_manifest/exec_tool_daemon. Entries are
// POSIX tar, wrapped in an LZ4 frame, before handoff to the WLM driver's
// ship_package.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"

	"github.com/common-tools-interface/cti/shared/api"
	"github.com/common-tools-interface/cti/shared/revert"
)

// Entry describes one file or directory tree to place in the archive.
type Entry struct {
	// StagedPath is the path inside the archive, e.g. "bin/hello",
	// "lib/libfoo.so", "lib/plugins/plugin.so", or "config.json" for a
	// root-level plain file.
	StagedPath string
	// SourcePath is the canonical absolute path on local disk.
	SourcePath string
	// Executable preserves the executable bit on extraction.
	Executable bool
}

// Builder accumulates Entries and produces one archive file. It owns the
// output file: Close (or a failed Build) removes it, exactly like any other
// temp-directory/temp-file handle in this codebase.
type Builder struct {
	dir     string
	path    string
	entries []Entry
}

// New creates a Builder whose output file lives under tmpDir (the
// controller's configured temp directory) using name as the archive's base
// filename.
func New(tmpDir, name string) *Builder {
	return &Builder{dir: tmpDir, path: filepath.Join(tmpDir, name)}
}

// Add queues an Entry. AddTree walks a directory recursively, adding every
// regular file under it with a StagedPath rooted at rootName.
func (b *Builder) Add(e Entry) {
	b.entries = append(b.entries, e)
}

// AddTree walks dir and queues every regular file it contains (symlinks are
// followed, not archived as symlinks) under lib/<rootName>/....
func (b *Builder) AddTree(dir, rootName string) error {
	return filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}

		if info.Mode()&os.ModeSymlink != 0 {
			// Walk reports symlinks via Lstat; judge the link's target.
			if info, err = os.Stat(p); err != nil {
				return err
			}
		}

		if !info.Mode().IsRegular() {
			return api.NewError(api.KindStaging, "invalid file type in library directory: %q", p)
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}

		b.Add(Entry{
			StagedPath: filepath.Join("lib", rootName, rel),
			SourcePath: p,
			Executable: info.Mode()&0o111 != 0,
		})

		return nil
	})
}

// Path returns the archive's on-disk path. Only meaningful after Build
// succeeds.
func (b *Builder) Path() string { return b.path }

// Build writes every queued Entry into the archive. On any failure the
// partially-written archive file is removed and no entries are left behind.
func (b *Builder) Build() (err error) {
	if err := os.MkdirAll(b.dir, 0o700); err != nil {
		return api.Wrap(api.KindEnv, err, "creating archive temp dir %q", b.dir)
	}

	reverter := revert.New()
	defer reverter.Fail()

	out, err := os.Create(b.path)
	if err != nil {
		return api.Wrap(api.KindEnv, err, "creating archive %q", b.path)
	}
	reverter.Add(func() { _ = os.Remove(b.path) })
	defer out.Close()

	lz := lz4.NewWriter(out)
	defer func() {
		cerr := lz.Close()
		if err == nil {
			err = cerr
		}
	}()

	tw := tar.NewWriter(lz)
	defer func() {
		cerr := tw.Close()
		if err == nil {
			err = cerr
		}
	}()

	seen := make(map[string]bool, len(b.entries))
	for _, e := range b.entries {
		if seen[e.StagedPath] {
			// §4.1 guarantees no two entries share a name after dedup;
			// this is a defensive invariant check, not a user-facing
			// race.
			return fmt.Errorf("internal error: duplicate archive entry %q", e.StagedPath)
		}
		seen[e.StagedPath] = true

		if err := writeEntry(tw, e); err != nil {
			return err
		}
	}

	reverter.Success()

	return nil
}

func writeEntry(tw *tar.Writer, e Entry) error {
	info, err := os.Stat(e.SourcePath) // os.Stat follows symlinks
	if err != nil {
		return api.Wrap(api.KindStaging, err, "stat %q", e.SourcePath)
	}

	if !info.Mode().IsRegular() {
		return api.NewError(api.KindStaging, "invalid file type for %q (InvalidFileType)", e.SourcePath)
	}

	f, err := os.Open(e.SourcePath)
	if err != nil {
		return api.Wrap(api.KindStaging, err, "opening %q", e.SourcePath)
	}
	defer f.Close()

	mode := int64(0o644)
	if e.Executable {
		mode = 0o755
	}

	hdr := &tar.Header{
		Name:     e.StagedPath,
		Size:     info.Size(),
		Mode:     mode,
		Typeflag: tar.TypeReg,
		ModTime:  info.ModTime(),
	}

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	_, err = io.Copy(tw, f)

	return err
}

// Close removes the archive file, whether or not Build ever ran or
// succeeded: the archive is deleted when the builder is destroyed, even on
// failure.
func (b *Builder) Close() {
	if b.path != "" {
		_ = os.Remove(b.path)
	}
}
