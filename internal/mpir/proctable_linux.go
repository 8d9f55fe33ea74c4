//go:build linux

package mpir

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/common-tools-interface/cti/shared/api"
)

// procDescSize is sizeof(MPIR_PROCDESC) on a 64-bit target:
//
//	struct MPIR_PROCDESC {
//	    char *host_name;       // offset 0
//	    char *executable_name; // offset 8
//	    int   pid;              // offset 16, padded to 24
//	};
const procDescSize = 24

func readProctable(pid int, binaryPath string) ([]api.ProctableEntry, error) {
	sizeAddr, err := symbolAddress(binaryPath, "MPIR_proctable_size")
	if err != nil {
		return nil, err
	}

	size, err := readInt32(pid, sizeAddr)
	if err != nil {
		return nil, err
	}

	if size < 0 || size > 1<<20 {
		return nil, fmt.Errorf("implausible MPIR_proctable_size %d", size)
	}

	tableAddrVar, err := symbolAddress(binaryPath, "MPIR_proctable")
	if err != nil {
		return nil, err
	}

	arrayBase, err := readWord(pid, tableAddrVar)
	if err != nil {
		return nil, err
	}

	entries := make([]api.ProctableEntry, 0, size)
	for i := int32(0); i < size; i++ {
		entryAddr := arrayBase + uint64(i)*procDescSize

		hostPtr, err := readWord(pid, entryAddr)
		if err != nil {
			return nil, err
		}

		exePtr, err := readWord(pid, entryAddr+8)
		if err != nil {
			return nil, err
		}

		procPID, err := readInt32(pid, entryAddr+16)
		if err != nil {
			return nil, err
		}

		hostname, err := readCStringAt(pid, hostPtr)
		if err != nil {
			return nil, err
		}

		exe, err := readCStringAt(pid, exePtr)
		if err != nil {
			return nil, err
		}

		entries = append(entries, api.ProctableEntry{
			Rank:       int(i),
			Hostname:   hostname,
			PID:        int(procPID),
			Executable: exe,
		})
	}

	return entries, nil
}

func readInt32(pid int, addr uint64) (int32, error) {
	var buf [8]byte
	if _, err := unix.PtracePeekText(pid, uintptr(addr), buf[:]); err != nil {
		return 0, err
	}

	return int32(binary.LittleEndian.Uint32(buf[:4])), nil
}
