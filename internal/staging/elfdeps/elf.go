// Package elfdeps is the read-only ELF dynamic-dependency oracle consulted
// by add_binary/add_library when deps_policy = Stage. It is built on the
// standard library's debug/elf, the correct tool for reading an ELF
// symbol/dependency table without pulling in a third-party parser.
package elfdeps

import (
	"debug/elf"
	"os"
	"path/filepath"
	"strings"
)

// Walk returns the absolute paths of path's direct DT_NEEDED shared-object
// dependencies, resolved against LD_LIBRARY_PATH, the RPATH/RUNPATH
// recorded in the binary itself, and the standard system library
// directories. Dependencies that cannot be located are silently skipped:
// they are presumably resolved by the dynamic linker from a location this
// oracle does not model (e.g. the vDSO, or a path baked in by the
// container runtime), and the back-end's own dynamic linker is the final
// authority at run time regardless.
func Walk(path string) ([]string, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	needed, err := f.DynString(elf.DT_NEEDED)
	if err != nil {
		// Not a dynamically-linked ELF (static binary, or no dynamic
		// section at all): nothing to walk.
		return nil, nil
	}

	rpaths := dynPaths(f, elf.DT_RUNPATH)
	if len(rpaths) == 0 {
		rpaths = dynPaths(f, elf.DT_RPATH)
	}

	search := append(append([]string{}, rpaths...), defaultSearchDirs()...)

	var resolved []string
	for _, name := range needed {
		if full, ok := resolveLib(name, search); ok {
			resolved = append(resolved, full)
		}
	}

	return resolved, nil
}

func dynPaths(f *elf.File, tag elf.DynTag) []string {
	vals, err := f.DynString(tag)
	if err != nil || len(vals) == 0 {
		return nil
	}

	var out []string
	for _, v := range vals {
		out = append(out, strings.Split(v, ":")...)
	}

	return out
}

func resolveLib(name string, search []string) (string, bool) {
	for _, dir := range search {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}

	return "", false
}

// ContainsSymbols reports whether path's dynamic or static symbol table
// defines every name in names, used to probe a launcher binary for MPIR
// support before attempting a shim-based launch.
func ContainsSymbols(path string, names []string) (bool, error) {
	f, err := elf.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	mark := func(syms []elf.Symbol) {
		for _, s := range syms {
			delete(want, s.Name)
		}
	}

	if syms, err := f.Symbols(); err == nil {
		mark(syms)
	}

	if syms, err := f.DynamicSymbols(); err == nil {
		mark(syms)
	}

	return len(want) == 0, nil
}

func defaultSearchDirs() []string {
	var dirs []string

	if v := os.Getenv("LD_LIBRARY_PATH"); v != "" {
		dirs = append(dirs, strings.Split(v, ":")...)
	}

	// The usual ld.so.conf-style default set; a real ld.so.cache parser
	// is a possible future addition but is not required for the common
	// case of HPC library layouts (/usr/lib64, /opt/cray/... are always
	// on LD_LIBRARY_PATH in practice).
	dirs = append(dirs, "/lib64", "/usr/lib64", "/lib", "/usr/lib", "/usr/local/lib")

	return dirs
}
