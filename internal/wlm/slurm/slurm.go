// Package slurm implements the wlm.Driver capability set by shelling out to
// Slurm's srun/squeue/sattach/sbcast/scancel.
package slurm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/common-tools-interface/cti/internal/overwatch"
	"github.com/common-tools-interface/cti/internal/wlm"
	"github.com/common-tools-interface/cti/shared/api"
	"github.com/common-tools-interface/cti/shared/logger"
)

// EnvClearList is the set of environment variable names Slurm must clear
// from the launcher's own environment before exec, so that tool library
// paths are not inherited into the job.
var EnvClearList = []string{"LD_PRELOAD", "LD_LIBRARY_PATH", "CTI_INSTALL_DIR"}

// Driver drives Slurm jobs via command-line tools. It needs the supervisor
// helper to own the forked srun/sattach processes.
type Driver struct {
	Helper     *overwatch.Client
	LauncherBin string // default "srun", overridable via CTI_LAUNCHER_NAME
}

// New returns a Slurm Driver bound to helper for process ownership.
func New(helper *overwatch.Client, launcherBin string) *Driver {
	if launcherBin == "" {
		launcherBin = "srun"
	}

	return &Driver{Helper: helper, LauncherBin: launcherBin}
}

func (d *Driver) Type() api.WLMType { return api.WLMSlurm }

func (d *Driver) Launch(ctx context.Context, argv []string, env []string, io api.LaunchIO, barrier api.BarrierMode) (*wlm.LaunchResult, error) {
	cleanEnv := clearEnv(env, EnvClearList)
	fullArgv := append([]string{d.LauncherBin}, argv...)

	inf, err := d.Helper.LaunchMPIR(ctx, fullArgv, cleanEnv, io)
	if err != nil {
		return nil, api.Wrap(api.KindWlm, err, "srun launch failed")
	}

	jobID, stepID, err := inf.JobIDStepID()
	if err != nil {
		return nil, api.Wrap(api.KindWlm, err, "reading totalview_jobid/stepid")
	}

	if err := waitStepRunning(ctx, jobID, stepID); err != nil {
		return nil, err
	}

	if barrier == api.BarrierNone {
		if err := d.Helper.ReleaseMPIR(ctx, inf.InferiorID); err != nil {
			return nil, api.Wrap(api.KindInferior, err, "releasing barrier")
		}
	}

	return &wlm.LaunchResult{
		JobID:            fmt.Sprintf("%s.%s", jobID, stepID),
		LauncherHostname: inf.LauncherHostname,
		LauncherPID:      inf.LauncherPID,
		Proctable:        inf.Proctable,
	}, nil
}

// waitStepRunning blocks until Slurm reports step jobID.stepID is RUNNING,
// required by Slurm's launch contract before a ship/exec against the step
// can succeed.
func waitStepRunning(ctx context.Context, jobID, stepID string) error {
	op := func() error {
		out, err := exec.CommandContext(ctx, "squeue", "-h", "-j", jobID+"."+stepID, "-o", "%T").Output()
		if err != nil {
			return err
		}

		state := strings.TrimSpace(string(out))
		if state == "RUNNING" {
			return nil
		}

		return fmt.Errorf("step %s.%s is %q", jobID, stepID, state)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(200*time.Millisecond), 50), ctx)

	return backoff.Retry(op, b)
}

func (d *Driver) Attach(ctx context.Context, jobID string) (*wlm.LaunchResult, error) {
	parts := strings.SplitN(jobID, ".", 2)
	if len(parts) != 2 {
		return nil, api.NewError(api.KindUsage, "slurm job id must be jobid.stepid, got %q", jobID)
	}

	running, err := d.IsRunning(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if !running {
		return nil, api.NewError(api.KindWlm, "NotRunning: job %s has exited", jobID)
	}

	inf, err := d.Helper.AttachMPIR(ctx, d.LauncherBin, parts[0])
	if err != nil {
		return nil, api.Wrap(api.KindWlm, err, "attaching to srun for job %s", jobID)
	}

	return &wlm.LaunchResult{JobID: jobID, Proctable: inf.Proctable}, nil
}

func (d *Driver) ReleaseBarrier(ctx context.Context, jobID string) error {
	return d.Helper.ReleaseMPIRByJob(ctx, jobID)
}

func (d *Driver) GetLayout(ctx context.Context, jobID string) ([]api.HostPlacement, error) {
	jid := strings.SplitN(jobID, ".", 2)[0]

	out, err := exec.CommandContext(ctx, "sattach", "-Q", "--display", jid).Output()
	if err != nil {
		return nil, api.Wrap(api.KindWlm, err, "sattach --display %s", jid)
	}

	return parseLayout(out), nil
}

var layoutLineRE = regexp.MustCompile(`^(\S+):\s+(\d+)$`)

func parseLayout(out []byte) []api.HostPlacement {
	var hosts []api.HostPlacement

	scanner := bufio.NewScanner(bytes.NewReader(out))
	firstPE := 0
	for scanner.Scan() {
		m := layoutLineRE.FindStringSubmatch(strings.TrimSpace(scanner.Text()))
		if m == nil {
			continue
		}

		n, _ := strconv.Atoi(m[2])
		pes := make([]api.RankPID, n)
		for i := range pes {
			pes[i] = api.RankPID{Rank: firstPE + i}
		}

		hosts = append(hosts, api.HostPlacement{Hostname: m[1], NumPEs: n, PEs: pes})
		firstPE += n
	}

	return hosts
}

func (d *Driver) ShipPackage(ctx context.Context, jobID, localPath, destRelPath string) error {
	jid := strings.SplitN(jobID, ".", 2)[0]

	op := func() error {
		cmd := exec.CommandContext(ctx, "sbcast", "-f", "-j", jid, localPath, destRelPath)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return api.Wrap(api.KindWlm, err, "sbcast failed: %s", strings.TrimSpace(string(out)))
		}

		return nil
	}

	// Retries ship_package up to two times with 1-second back-off.
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), 2), ctx)

	return backoff.Retry(op, b)
}

func (d *Driver) RemoteExec(ctx context.Context, jobID, path string, argv, env []string, synchrony api.Synchrony) ([]string, error) {
	jid := strings.SplitN(jobID, ".", 2)[0]
	fullArgv := append([]string{path}, argv...)

	mode := overwatch.Async
	if synchrony == api.Sync {
		mode = overwatch.Sync
	}

	return d.Helper.ForkExecvpUtil(ctx, jid, mode, fullArgv, env)
}

func (d *Driver) CheckFiles(ctx context.Context, jobID string, paths []string) (map[string]bool, error) {
	jid := strings.SplitN(jobID, ".", 2)[0]
	out := make(map[string]bool, len(paths))

	for _, p := range paths {
		argv := []string{"test", "-e", p}
		ids, err := d.Helper.ForkExecvpUtil(ctx, jid, overwatch.Sync, argv, nil)
		out[p] = err == nil && len(ids) > 0
	}

	return out, nil
}

// Signal sends signo to every rank of jobID, tolerating a scancel
// verbose-output misreport quirk: some Slurm versions report failure in the
// structured exit code but success in their verbose text output (or vice
// versa), so both forms are accepted permanently.
func (d *Driver) Signal(ctx context.Context, jobID string, signo int) error {
	jid := strings.SplitN(jobID, ".", 2)[0]

	cmd := exec.CommandContext(ctx, "scancel", "-v", "-s", strconv.Itoa(signo), jid)
	out, err := cmd.CombinedOutput()

	if err == nil {
		return nil
	}

	if scancelVerboseSucceeded(string(out)) {
		logger.Debugf("slurm: scancel reported failure exit but verbose output %q indicates success", strings.TrimSpace(string(out)))
		return nil
	}

	return api.Wrap(api.KindWlm, err, "scancel %s: %s", jid, strings.TrimSpace(string(out)))
}

var (
	scancelLegacyRE = regexp.MustCompile(`(?i)signal\s+\d+\s+to\s+job\s+\d+`)
	scancelNewRE    = regexp.MustCompile(`(?i)job\s+\d+\s+sent\s+signal`)
)

// scancelVerboseSucceeded accepts both historical verbose-success message
// shapes scancel has used across Slurm versions, since the parser must
// still accept both forms even after the underlying bug is fixed upstream.
func scancelVerboseSucceeded(out string) bool {
	return scancelLegacyRE.MatchString(out) || scancelNewRE.MatchString(out)
}

func (d *Driver) IsRunning(ctx context.Context, jobID string) (bool, error) {
	jid := strings.SplitN(jobID, ".", 2)[0]

	out, err := exec.CommandContext(ctx, "squeue", "-h", "-j", jid, "-o", "%T").Output()
	if err != nil {
		// squeue returns non-zero once the job has left the queue.
		return false, nil
	}

	return strings.TrimSpace(string(out)) != "", nil
}

func clearEnv(env []string, clear []string) []string {
	clearSet := make(map[string]bool, len(clear))
	for _, name := range clear {
		clearSet[name] = true
	}

	out := make([]string, 0, len(env))
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		if !clearSet[name] {
			out = append(out, kv)
		}
	}

	return out
}

// EnvOrDefault reads name from the environment or returns def.
func EnvOrDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}

	return def
}

var _ wlm.Driver = (*Driver)(nil)
