package staging

import (
	"os"
	"path/filepath"
	"strings"
)

// locate resolves path to an absolute, existing file: an already-absolute
// or relative-with-separator path is checked directly; a bare name is
// searched across PATH and LD_LIBRARY_PATH.
func locate(path string) (string, error) {
	if filepath.IsAbs(path) || strings.ContainsRune(path, os.PathSeparator) {
		if _, err := os.Stat(path); err != nil {
			return "", err
		}

		abs, err := filepath.Abs(path)
		if err != nil {
			return "", err
		}

		return abs, nil
	}

	for _, dir := range searchDirs() {
		candidate := filepath.Join(dir, path)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", os.ErrNotExist
}

func searchDirs() []string {
	var dirs []string

	for _, envVar := range []string{"PATH", "LD_LIBRARY_PATH"} {
		v := os.Getenv(envVar)
		if v == "" {
			continue
		}

		dirs = append(dirs, filepath.SplitList(v)...)
	}

	dirs = append(dirs, "/lib64", "/usr/lib64", "/lib", "/usr/lib")

	return dirs
}
