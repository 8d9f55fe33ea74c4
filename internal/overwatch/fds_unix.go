//go:build unix

package overwatch

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// sendFDs writes a zero-length message carrying fds as an SCM_RIGHTS
// ancillary message, the out-of-band fd-passing mechanism used for the
// three standard fds of ForkExecvp*/LaunchMPIR*.
func sendFDs(conn *net.UnixConn, fds []int) error {
	rights := unix.UnixRights(fds...)

	_, _, err := conn.WriteMsgUnix(nil, rights, nil)

	return err
}

// recvFDs reads one SCM_RIGHTS message and returns the passed fds.
func recvFDs(conn *net.UnixConn, want int) ([]int, error) {
	oob := make([]byte, unix.CmsgSpace(want*4))

	_, oobn, _, _, err := conn.ReadMsgUnix(nil, oob)
	if err != nil {
		return nil, err
	}

	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, err
	}

	for _, c := range cmsgs {
		fds, err := unix.ParseUnixRights(&c)
		if err != nil {
			continue
		}

		if len(fds) != want {
			return nil, fmt.Errorf("overwatch: expected %d fds, got %d", want, len(fds))
		}

		return fds, nil
	}

	return nil, fmt.Errorf("overwatch: no SCM_RIGHTS message received")
}
