// Package overwatch implements the supervisor helper: a separate process,
// forked by the Frontend at init time, connected by a pair of
// pipes/sockets, that owns every launcher and tool-daemon process it spawns
// so a crash of the controlling tool always cleans up the job. Server runs
// inside the helper process; Client is the Frontend-side stub.
package overwatch

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// tag identifies a request/response pair on the wire: a fixed tag byte
// followed by a type-specific payload.
type tag byte

const (
	tagForkExecvpApp tag = iota + 1
	tagForkExecvpUtil
	tagLaunchMPIR
	tagLaunchMPIRShim
	tagAttachMPIR
	tagReadStringMPIR
	tagReleaseMPIR
	tagReleaseMPIRByJob
	tagWaitMPIR
	tagTerminateMPIR
	tagRegisterApp
	tagRegisterUtil
	tagDeregisterApp
	tagReleaseApp
	tagCheckApp
	tagShutdown

	// Response tags echo the request tag's "shape"; encoded separately so
	// a response never collides with a request on the same stream.
	tagRespOK tag = 0x80 + iota
	tagRespID
	tagRespString
	tagRespMPIR
)

// Synchrony mirrors api.Synchrony for ForkExecvpUtil, kept local to avoid a
// dependency from the low-level wire package back up to shared/api's wider
// surface.
type Synchrony int

const (
	Async Synchrony = iota
	Sync
)

// writeString writes a length-prefixed, NUL-terminated UTF-8 string: a
// native-byte-order uint64 count, the bytes, then a single NUL. The NUL is
// redundant with the length prefix but kept
// because the original wire format defines both, and a shim or diagnostic
// tool scanning the raw stream relies on the terminator being present.
func writeString(w io.Writer, s string) error {
	var lenBuf [8]byte
	binary.NativeEndian.PutUint64(lenBuf[:], uint64(len(s)))

	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}

	if _, err := io.WriteString(w, s); err != nil {
		return err
	}

	_, err := w.Write([]byte{0})

	return err
}

func readString(r io.Reader) (string, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}

	n := binary.NativeEndian.Uint64(lenBuf[:])
	if n > 64<<20 {
		return "", fmt.Errorf("overwatch: refusing to read %d-byte string", n)
	}

	buf := make([]byte, n+1) // +1 for the trailing NUL
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}

	return string(buf[:n]), nil
}

func writeStrings(w io.Writer, ss []string) error {
	var nBuf [8]byte
	binary.NativeEndian.PutUint64(nBuf[:], uint64(len(ss)))

	if _, err := w.Write(nBuf[:]); err != nil {
		return err
	}

	for _, s := range ss {
		if err := writeString(w, s); err != nil {
			return err
		}
	}

	return nil
}

func readStrings(r io.Reader) ([]string, error) {
	var nBuf [8]byte
	if _, err := io.ReadFull(r, nBuf[:]); err != nil {
		return nil, err
	}

	n := binary.NativeEndian.Uint64(nBuf[:])
	if n > 1<<20 {
		return nil, fmt.Errorf("overwatch: refusing to read %d strings", n)
	}

	out := make([]string, n)
	for i := range out {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}

		out[i] = s
	}

	return out, nil
}

func writeUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])

	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}

	return binary.NativeEndian.Uint64(buf[:]), nil
}

func writeBool(w io.Writer, b bool) error {
	v := byte(0)
	if b {
		v = 1
	}

	_, err := w.Write([]byte{v})

	return err
}

func readBool(r io.Reader) (bool, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return false, err
	}

	return buf[0] != 0, nil
}

func writeTag(w io.Writer, t tag) error {
	_, err := w.Write([]byte{byte(t)})
	return err
}

func readTag(r *bufio.Reader) (tag, error) {
	b, err := r.ReadByte()
	return tag(b), err
}
