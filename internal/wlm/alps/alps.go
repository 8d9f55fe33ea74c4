// Package alps implements the wlm.Driver capability set for Cray's ALPS
// workload manager via aprun/apstat/apkill.
package alps

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/common-tools-interface/cti/internal/overwatch"
	"github.com/common-tools-interface/cti/internal/wlm"
	"github.com/common-tools-interface/cti/shared/api"
)

// spoolPaths are the two historic compute-node spool-directory conventions
// ALPS has shipped with across versions; both must be probed.
var spoolPaths = []string{
	"/var/spool/alps",
	"/var/opt/cray/alps/spool",
}

type Driver struct {
	Helper *overwatch.Client
}

func New(helper *overwatch.Client) *Driver { return &Driver{Helper: helper} }

func (d *Driver) Type() api.WLMType { return api.WLMALPS }

func (d *Driver) Launch(ctx context.Context, argv []string, env []string, io api.LaunchIO, barrier api.BarrierMode) (*wlm.LaunchResult, error) {
	inf, err := d.Helper.LaunchMPIR(ctx, append([]string{"aprun"}, argv...), env, io)
	if err != nil {
		return nil, api.Wrap(api.KindWlm, err, "aprun launch failed")
	}

	apid, err := inf.JobIDStepID()
	if err != nil {
		// ALPS reports a single apid, not a jobid.stepid pair; fall back
		// to the launcher pid as the id source if totalview_jobid isn't
		// populated by this aprun build.
		apid = strconv.Itoa(inf.LauncherPID)
	}

	if barrier == api.BarrierNone {
		if relErr := d.Helper.ReleaseMPIR(ctx, inf.InferiorID); relErr != nil {
			return nil, api.Wrap(api.KindInferior, relErr, "releasing barrier")
		}
	}

	return &wlm.LaunchResult{
		JobID:            apid,
		LauncherHostname: inf.LauncherHostname,
		LauncherPID:      inf.LauncherPID,
		Proctable:        inf.Proctable,
	}, nil
}

func (d *Driver) Attach(ctx context.Context, jobID string) (*wlm.LaunchResult, error) {
	running, err := d.IsRunning(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if !running {
		return nil, api.NewError(api.KindWlm, "NotRunning: ALPS apid %s has exited", jobID)
	}

	inf, err := d.Helper.AttachMPIR(ctx, "aprun", jobID)
	if err != nil {
		return nil, api.Wrap(api.KindWlm, err, "attaching to ALPS apid %s", jobID)
	}

	return &wlm.LaunchResult{JobID: jobID, Proctable: inf.Proctable}, nil
}

func (d *Driver) ReleaseBarrier(ctx context.Context, jobID string) error {
	return d.Helper.ReleaseMPIRByJob(ctx, jobID)
}

func (d *Driver) GetLayout(ctx context.Context, jobID string) ([]api.HostPlacement, error) {
	out, err := exec.CommandContext(ctx, "apstat", "-avv", jobID).Output()
	if err != nil {
		return nil, api.Wrap(api.KindWlm, err, "apstat -avv %s", jobID)
	}

	var hosts []api.HostPlacement
	firstPE := 0

	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
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

func (d *Driver) ShipPackage(ctx context.Context, jobID, localPath, destRelPath string) error {
	argv := []string{"cp", localPath, destRelPath}

	_, err := d.Helper.ForkExecvpUtil(ctx, jobID, overwatch.Sync, argv, nil)

	return err
}

func (d *Driver) RemoteExec(ctx context.Context, jobID, path string, argv, env []string, synchrony api.Synchrony) ([]string, error) {
	mode := overwatch.Async
	if synchrony == api.Sync {
		mode = overwatch.Sync
	}

	return d.Helper.ForkExecvpUtil(ctx, jobID, mode, append([]string{path}, argv...), env)
}

// CheckFiles probes both historic ALPS spool-directory conventions for
// each path before falling back to a plain existence check, since a file
// already present under either spool convention need not be re-shipped.
func (d *Driver) CheckFiles(ctx context.Context, jobID string, paths []string) (map[string]bool, error) {
	out := make(map[string]bool, len(paths))

	for _, p := range paths {
		found := false

		for _, root := range spoolPaths {
			candidate := filepath.Join(root, jobID, "files", filepath.Base(p))
			if _, err := os.Stat(candidate); err == nil {
				found = true
				break
			}
		}

		if !found {
			if _, err := os.Stat(p); err == nil {
				found = true
			}
		}

		out[p] = found
	}

	return out, nil
}

func (d *Driver) Signal(ctx context.Context, jobID string, signo int) error {
	out, err := exec.CommandContext(ctx, "apkill", "-"+strconv.Itoa(signo), jobID).CombinedOutput()
	if err != nil {
		return api.Wrap(api.KindWlm, err, "apkill %s: %s", jobID, strings.TrimSpace(string(out)))
	}

	return nil
}

func (d *Driver) IsRunning(ctx context.Context, jobID string) (bool, error) {
	out, err := exec.CommandContext(ctx, "apstat", jobID).Output()
	if err != nil {
		return false, nil
	}

	return strings.Contains(string(out), jobID), nil
}

var _ wlm.Driver = (*Driver)(nil)
