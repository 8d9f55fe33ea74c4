// Package backend implements the compute-node side of CTI: the accessors a
// tool daemon, already placed into its per-node sandbox by the WLM driver,
// uses to find its App's placement and its ranks' pids without any
// WLM-specific knowledge.
//
// The binary layout/pid file formats here are written by the frontend side
// (internal/frontend, via WriteLayoutFile/WritePIDFile) for WLMs whose own
// PMI implementation the back-end cannot rely on.
package backend

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/common-tools-interface/cti/shared/api"
)

// hostFieldWidth is the fixed width of the host field in a layout record
// ("char host[9]").
const hostFieldWidth = 9

// LayoutEntry is one compute node's placement, the decoded form of a layout
// file record.
type LayoutEntry struct {
	Host    string
	PEsHere int32
	FirstPE int32
}

// WriteLayoutFile writes hosts in little-endian binary form: a header
// {int32 numNodes} followed by numNodes records {char host[9]; int32
// PEsHere; int32 firstPE}.
func WriteLayoutFile(path string, hosts []api.HostPlacement) error {
	f, err := os.Create(path)
	if err != nil {
		return api.Wrap(api.KindEnv, err, "creating layout file %q", path)
	}
	defer f.Close()

	if err := binary.Write(f, binary.LittleEndian, int32(len(hosts))); err != nil {
		return err
	}

	firstPE := int32(0)
	for _, h := range hosts {
		var hostBuf [hostFieldWidth]byte
		copy(hostBuf[:], h.Hostname)

		if _, err := f.Write(hostBuf[:]); err != nil {
			return err
		}

		if err := binary.Write(f, binary.LittleEndian, int32(h.NumPEs)); err != nil {
			return err
		}

		if err := binary.Write(f, binary.LittleEndian, firstPE); err != nil {
			return err
		}

		firstPE += int32(h.NumPEs)
	}

	return nil
}

// ReadLayoutFile is the back-end-side inverse of WriteLayoutFile.
func ReadLayoutFile(path string) ([]LayoutEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, api.Wrap(api.KindEnv, err, "opening layout file %q", path)
	}
	defer f.Close()

	var numNodes int32
	if err := binary.Read(f, binary.LittleEndian, &numNodes); err != nil {
		return nil, api.Wrap(api.KindEnv, err, "reading layout header")
	}

	entries := make([]LayoutEntry, numNodes)

	for i := range entries {
		var hostBuf [hostFieldWidth]byte
		if _, err := io.ReadFull(f, hostBuf[:]); err != nil {
			return nil, api.Wrap(api.KindEnv, err, "reading layout record %d", i)
		}

		entries[i].Host = cString(hostBuf[:])

		if err := binary.Read(f, binary.LittleEndian, &entries[i].PEsHere); err != nil {
			return nil, err
		}

		if err := binary.Read(f, binary.LittleEndian, &entries[i].FirstPE); err != nil {
			return nil, err
		}
	}

	return entries, nil
}

// WritePIDFile writes proctable in little-endian binary form: {int32
// numPids} followed by numPids × {int32 pid}, in MPIR rank order. entries
// is assumed already sorted by Rank.
func WritePIDFile(path string, entries []api.ProctableEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return api.Wrap(api.KindEnv, err, "creating pid file %q", path)
	}
	defer f.Close()

	if err := binary.Write(f, binary.LittleEndian, int32(len(entries))); err != nil {
		return err
	}

	for _, e := range entries {
		if err := binary.Write(f, binary.LittleEndian, int32(e.PID)); err != nil {
			return err
		}
	}

	return nil
}

// ReadPIDFile is the back-end-side inverse of WritePIDFile.
func ReadPIDFile(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, api.Wrap(api.KindEnv, err, "opening pid file %q", path)
	}
	defer f.Close()

	var numPids int32
	if err := binary.Read(f, binary.LittleEndian, &numPids); err != nil {
		return nil, api.Wrap(api.KindEnv, err, "reading pid file header")
	}

	pids := make([]int, numPids)

	for i := range pids {
		var pid int32
		if err := binary.Read(f, binary.LittleEndian, &pid); err != nil {
			return nil, err
		}

		pids[i] = int(pid)
	}

	return pids, nil
}

// cString trims a fixed-width, NUL-padded byte field down to its content.
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}

	return string(b)
}
