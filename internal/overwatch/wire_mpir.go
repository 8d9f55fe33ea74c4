package overwatch

import (
	"fmt"
	"io"

	"github.com/common-tools-interface/cti/shared/api"
)

// MPIRResponse is the decoded form of the `MPIR{id, launcher_pid, jobid,
// stepid, proctable_entries[], error_msg?}` response.
type MPIRResponse struct {
	OK               bool
	ErrorMsg         string
	InferiorID       uint64
	LauncherHostname string
	LauncherPID      int
	Proctable        []api.ProctableEntry
	Strings          map[string]string
}

// JobIDStepID extracts Slurm's totalview_jobid/totalview_stepid pair.
func (r *MPIRResponse) JobIDStepID() (jobID, stepID string, err error) {
	jobID, ok := r.Strings["totalview_jobid"]
	if !ok {
		return "", "", fmt.Errorf("totalview_jobid not present")
	}

	stepID, ok = r.Strings["totalview_stepid"]
	if !ok {
		return "", "", fmt.Errorf("totalview_stepid not present")
	}

	return jobID, stepID, nil
}

func writeMPIRResponse(w io.Writer, resp MPIRResponse) error {
	if err := writeBool(w, resp.OK); err != nil {
		return err
	}

	if err := writeString(w, resp.ErrorMsg); err != nil {
		return err
	}

	if !resp.OK {
		return nil
	}

	if err := writeUint64(w, resp.InferiorID); err != nil {
		return err
	}

	if err := writeString(w, resp.LauncherHostname); err != nil {
		return err
	}

	if err := writeUint64(w, uint64(resp.LauncherPID)); err != nil {
		return err
	}

	if err := writeUint64(w, uint64(len(resp.Proctable))); err != nil {
		return err
	}

	for _, e := range resp.Proctable {
		if err := writeUint64(w, uint64(e.Rank)); err != nil {
			return err
		}

		if err := writeString(w, e.Hostname); err != nil {
			return err
		}

		if err := writeUint64(w, uint64(e.PID)); err != nil {
			return err
		}

		if err := writeString(w, e.Executable); err != nil {
			return err
		}
	}

	if err := writeUint64(w, uint64(len(resp.Strings))); err != nil {
		return err
	}

	for k, v := range resp.Strings {
		if err := writeString(w, k); err != nil {
			return err
		}

		if err := writeString(w, v); err != nil {
			return err
		}
	}

	return nil
}

func readMPIRResponse(r io.Reader) (MPIRResponse, error) {
	var resp MPIRResponse

	ok, err := readBool(r)
	if err != nil {
		return resp, err
	}
	resp.OK = ok

	msg, err := readString(r)
	if err != nil {
		return resp, err
	}
	resp.ErrorMsg = msg

	if !resp.OK {
		return resp, nil
	}

	id, err := readUint64(r)
	if err != nil {
		return resp, err
	}
	resp.InferiorID = id

	host, err := readString(r)
	if err != nil {
		return resp, err
	}
	resp.LauncherHostname = host

	pid, err := readUint64(r)
	if err != nil {
		return resp, err
	}
	resp.LauncherPID = int(pid)

	n, err := readUint64(r)
	if err != nil {
		return resp, err
	}

	resp.Proctable = make([]api.ProctableEntry, n)
	for i := range resp.Proctable {
		rank, err := readUint64(r)
		if err != nil {
			return resp, err
		}

		hostname, err := readString(r)
		if err != nil {
			return resp, err
		}

		pid, err := readUint64(r)
		if err != nil {
			return resp, err
		}

		exe, err := readString(r)
		if err != nil {
			return resp, err
		}

		resp.Proctable[i] = api.ProctableEntry{Rank: int(rank), Hostname: hostname, PID: int(pid), Executable: exe}
	}

	nStr, err := readUint64(r)
	if err != nil {
		return resp, err
	}

	resp.Strings = make(map[string]string, nStr)
	for i := uint64(0); i < nStr; i++ {
		k, err := readString(r)
		if err != nil {
			return resp, err
		}

		v, err := readString(r)
		if err != nil {
			return resp, err
		}

		resp.Strings[k] = v
	}

	return resp, nil
}
