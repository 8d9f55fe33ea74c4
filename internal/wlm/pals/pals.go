// Package pals implements the wlm.Driver capability set for HPE Cray's PALS
// workload manager by shelling out to qsub/palstat/palscp.
package pals

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/common-tools-interface/cti/internal/overwatch"
	"github.com/common-tools-interface/cti/internal/wlm"
	"github.com/common-tools-interface/cti/shared/api"
)

// StartupRaceDelay is the optional sleep inserted before releasing the
// MPIR barrier, working around a startup race in PALS 1.2.3. Zero by
// default; configurable by callers that know they are targeting the
// affected version.
var StartupRaceDelay time.Duration

// noPollBackoff disables the retry/backoff sleep between palstat polls,
// for CI environments where PALS is a fast-returning stub.
var noPollBackoff = os.Getenv("CTI_PALS_NO_POLL_BACKOFF") != ""

type Driver struct {
	Helper *overwatch.Client
}

func New(helper *overwatch.Client) *Driver { return &Driver{Helper: helper} }

func (d *Driver) Type() api.WLMType { return api.WLMPALS }

func (d *Driver) Launch(ctx context.Context, argv []string, env []string, io api.LaunchIO, barrier api.BarrierMode) (*wlm.LaunchResult, error) {
	out, err := exec.CommandContext(ctx, "qsub", "-I", strings.Join(argv, " ")).Output()
	if err != nil {
		return nil, api.Wrap(api.KindWlm, err, "qsub submit failed")
	}

	apid := strings.TrimSpace(string(out))

	if err := d.waitRunning(ctx, apid); err != nil {
		return nil, err
	}

	inf, err := d.Helper.LaunchMPIR(ctx, argv, env, io)
	if err != nil {
		return nil, api.Wrap(api.KindWlm, err, "MPIR launch under PALS apid %s", apid)
	}

	if StartupRaceDelay > 0 {
		// PALS 1.2.3 workaround: the shell that qsub -I spawns can race
		// the barrier release.
		time.Sleep(StartupRaceDelay)
	}

	if barrier == api.BarrierNone {
		if err := d.Helper.ReleaseMPIR(ctx, inf.InferiorID); err != nil {
			return nil, api.Wrap(api.KindInferior, err, "releasing barrier")
		}
	}

	return &wlm.LaunchResult{
		JobID:            apid,
		LauncherHostname: inf.LauncherHostname,
		LauncherPID:      inf.LauncherPID,
		Proctable:        inf.Proctable,
	}, nil
}

// waitRunning polls palstat until apid is reported running, backing off
// 3 seconds between polls for up to 10 retries, bypassable for CI via
// CTI_PALS_NO_POLL_BACKOFF.
func (d *Driver) waitRunning(ctx context.Context, apid string) error {
	op := func() error {
		out, err := exec.CommandContext(ctx, "palstat", apid).Output()
		if err != nil {
			return err
		}

		if strings.Contains(string(out), "running") {
			return nil
		}

		return api.NewError(api.KindWlm, "apid %s not yet running", apid)
	}

	if noPollBackoff {
		return op()
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(3*time.Second), 10), ctx)

	return backoff.Retry(op, b)
}

func (d *Driver) Attach(ctx context.Context, jobID string) (*wlm.LaunchResult, error) {
	running, err := d.IsRunning(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if !running {
		return nil, api.NewError(api.KindWlm, "NotRunning: PALS apid %s has exited", jobID)
	}

	inf, err := d.Helper.AttachMPIR(ctx, "", jobID)
	if err != nil {
		return nil, api.Wrap(api.KindWlm, err, "attaching to PALS apid %s", jobID)
	}

	return &wlm.LaunchResult{JobID: jobID, Proctable: inf.Proctable}, nil
}

func (d *Driver) ReleaseBarrier(ctx context.Context, jobID string) error {
	return d.Helper.ReleaseMPIRByJob(ctx, jobID)
}

func (d *Driver) GetLayout(ctx context.Context, jobID string) ([]api.HostPlacement, error) {
	out, err := exec.CommandContext(ctx, "palstat", "-l", jobID).Output()
	if err != nil {
		return nil, api.Wrap(api.KindWlm, err, "palstat -l %s", jobID)
	}

	var hosts []api.HostPlacement
	firstPE := 0

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}

		n, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}

		pes := make([]api.RankPID, n)
		for i := range pes {
			pes[i] = api.RankPID{Rank: firstPE + i}
		}

		hosts = append(hosts, api.HostPlacement{Hostname: fields[0], NumPEs: n, PEs: pes})
		firstPE += n
	}

	return hosts, nil
}

// ShipPackage ships via palscp, then relocates the archive out of PALS's
// noexec /var/run/palsd/<apid>/files/ mount into the toolpath, since a
// noexec mount cannot host the bin/ directory's daemons.
func (d *Driver) ShipPackage(ctx context.Context, jobID, localPath, destRelPath string) error {
	out, err := exec.CommandContext(ctx, "palscp", "-a", jobID, localPath, destRelPath).CombinedOutput()
	if err != nil {
		return api.Wrap(api.KindWlm, err, "palscp failed: %s", strings.TrimSpace(string(out)))
	}

	noexecPath := filepath.Join("/var/run/palsd", jobID, "files", filepath.Base(destRelPath))

	if _, statErr := os.Stat(noexecPath); statErr == nil {
		relocated, err := exec.CommandContext(ctx, "mv", noexecPath, destRelPath).CombinedOutput()
		if err != nil {
			return api.Wrap(api.KindWlm, err, "relocating %s out of noexec mount: %s", noexecPath, strings.TrimSpace(string(relocated)))
		}
	}

	return nil
}

func (d *Driver) RemoteExec(ctx context.Context, jobID, path string, argv, env []string, synchrony api.Synchrony) ([]string, error) {
	mode := overwatch.Async
	if synchrony == api.Sync {
		mode = overwatch.Sync
	}

	return d.Helper.ForkExecvpUtil(ctx, jobID, mode, append([]string{path}, argv...), env)
}

func (d *Driver) CheckFiles(ctx context.Context, jobID string, paths []string) (map[string]bool, error) {
	out := make(map[string]bool, len(paths))

	for _, p := range paths {
		argv := []string{"test", "-e", p}
		ids, err := d.Helper.ForkExecvpUtil(ctx, jobID, overwatch.Sync, argv, nil)
		out[p] = err == nil && len(ids) > 0
	}

	return out, nil
}

func (d *Driver) Signal(ctx context.Context, jobID string, signo int) error {
	out, err := exec.CommandContext(ctx, "palsig", "-s", strconv.Itoa(signo), jobID).CombinedOutput()
	if err != nil {
		return api.Wrap(api.KindWlm, err, "palsig %s: %s", jobID, strings.TrimSpace(string(out)))
	}

	return nil
}

func (d *Driver) IsRunning(ctx context.Context, jobID string) (bool, error) {
	out, err := exec.CommandContext(ctx, "palstat", jobID).Output()
	if err != nil {
		return false, nil
	}

	return strings.Contains(string(out), "running"), nil
}

var _ wlm.Driver = (*Driver)(nil)
