//go:build !linux

package mpir

import (
	"errors"

	"github.com/common-tools-interface/cti/shared/api"
)

var errUnsupported = errors.New("MPIR inferior control requires ptrace(2) and is only implemented on linux")

func forkExecTraced(path string, argv, env []string, fdRemap map[int]int) (int, error) {
	return 0, errUnsupported
}

func breakpointAddress(path string) (uint64, error) {
	return 0, errUnsupported
}

func runUntilAddr(pid int, addr uint64) error {
	return errUnsupported
}

func readCString(pid int, binaryPath, symbol string) (string, error) {
	return "", errUnsupported
}

func readProctable(pid int, binaryPath string) ([]api.ProctableEntry, error) {
	return nil, errUnsupported
}
