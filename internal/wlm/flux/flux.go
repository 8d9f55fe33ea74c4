// Package flux implements the wlm.Driver capability set for the Flux
// resource manager. The real driver talks to Flux over its RPC broker via
// the cgo libflux bindings; rpcClient here is a thin interface so that
// binding can be swapped in without touching the rest of this package,
// treating the RPC surface as an external collaborator.
package flux

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"

	"github.com/common-tools-interface/cti/internal/overwatch"
	"github.com/common-tools-interface/cti/internal/wlm"
	"github.com/common-tools-interface/cti/shared/api"
	"github.com/common-tools-interface/cti/shared/logger"
)

// buildVersion is compiled in at release time; checkVersion compares the
// `flux version` output against it unless CTI_FLUX_SKIP_VERSION_CHECK is set, since the Flux C
// API is not yet considered stable.
const buildVersion = "0.55.0"

// rpcClient abstracts the handful of Flux broker RPCs this driver needs, so
// a cgo libflux binding can implement it without this package depending on
// cgo directly.
type rpcClient interface {
	Submit(ctx context.Context, jobspec []byte) (jobID string, err error)
	Cancel(ctx context.Context, jobID string) error
	EventlogTail(ctx context.Context, jobID, name string) (<-chan string, error)
}

// cliClient shells out to the flux(1) CLI, used when no cgo binding is
// linked in.
type cliClient struct{}

func (cliClient) Submit(ctx context.Context, jobspec []byte) (string, error) {
	cmd := exec.CommandContext(ctx, "flux", "job", "submit")
	cmd.Stdin = bytes.NewReader(jobspec)

	out, err := cmd.Output()
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(out)), nil
}

func (cliClient) Cancel(ctx context.Context, jobID string) error {
	return exec.CommandContext(ctx, "flux", "job", "cancel", jobID).Run()
}

func (cliClient) EventlogTail(ctx context.Context, jobID, name string) (<-chan string, error) {
	cmd := exec.CommandContext(ctx, "flux", "job", "eventlog", "-f", "text", jobID, name)

	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	ch := make(chan string, 16)
	go func() {
		defer close(ch)

		scanner := bufio.NewScanner(out)
		for scanner.Scan() {
			ch <- scanner.Text()
		}

		_ = cmd.Wait()
	}()

	return ch, nil
}

type Driver struct {
	Helper *overwatch.Client
	RPC    rpcClient
}

func New(helper *overwatch.Client) *Driver {
	return &Driver{Helper: helper, RPC: cliClient{}}
}

func (d *Driver) Type() api.WLMType { return api.WLMFlux }

// jobspec is the minimal subset of Flux's JSON jobspec v1 this driver
// builds; dry-run output from `flux submit --dry-run` is richer, but these
// fields are the ones the shell/exec transport actually needs.
type jobspec struct {
	Version int      `json:"version"`
	Tasks   []task   `json:"tasks"`
	Attributes struct {
		System struct {
			JobtapPlugins []string `json:"jobtap_plugins,omitempty"`
		} `json:"system"`
	} `json:"attributes"`
}

type task struct {
	Command []string `json:"command"`
	Slot    string   `json:"slot"`
	Count   struct {
		PerSlot int `json:"per_slot"`
	} `json:"count"`
}

func buildJobspec(argv, env []string) ([]byte, error) {
	var js jobspec
	js.Version = 1
	js.Tasks = []task{{Command: argv, Slot: "default"}}
	js.Tasks[0].Count.PerSlot = 1
	// alloc-bypass lets CTI attach to the job's own shell instead of
	// waiting for Flux's normal task exec path.
	js.Attributes.System.JobtapPlugins = []string{"alloc-bypass"}

	return json.Marshal(js)
}

func (d *Driver) Launch(ctx context.Context, argv []string, env []string, io api.LaunchIO, barrier api.BarrierMode) (*wlm.LaunchResult, error) {
	if err := checkVersion(); err != nil {
		return nil, err
	}

	js, err := buildJobspec(argv, env)
	if err != nil {
		return nil, api.Wrap(api.KindWlm, err, "building flux jobspec")
	}

	jobID, err := d.RPC.Submit(ctx, js)
	if err != nil {
		return nil, api.Wrap(api.KindWlm, err, "flux submit failed")
	}

	events, err := d.RPC.EventlogTail(ctx, jobID, "guest.exec.eventlog")
	if err != nil {
		return nil, api.Wrap(api.KindWlm, err, "tailing eventlog for %s", jobID)
	}

	if err := waitForShellInit(ctx, events); err != nil {
		return nil, err
	}

	inf, err := d.Helper.LaunchMPIR(ctx, argv, nil, io)
	if err != nil {
		return nil, api.Wrap(api.KindWlm, err, "MPIR launch for flux job %s", jobID)
	}

	if barrier == api.BarrierNone {
		if err := d.Helper.ReleaseMPIR(ctx, inf.InferiorID); err != nil {
			return nil, api.Wrap(api.KindInferior, err, "releasing barrier")
		}
	}

	return &wlm.LaunchResult{
		JobID:            jobID,
		LauncherHostname: inf.LauncherHostname,
		LauncherPID:      inf.LauncherPID,
		Proctable:        inf.Proctable,
	}, nil
}

func waitForShellInit(ctx context.Context, events <-chan string) error {
	for {
		select {
		case line, ok := <-events:
			if !ok {
				return api.NewError(api.KindWlm, "eventlog closed before shell.init")
			}

			if strings.Contains(line, "shell.init") {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func checkVersion() error {
	if os.Getenv("CTI_FLUX_SKIP_VERSION_CHECK") != "" {
		return nil
	}

	out, err := exec.Command("flux", "version").Output()
	if err != nil {
		return api.Wrap(api.KindWlm, err, "running flux version")
	}

	if !strings.Contains(string(out), buildVersion) {
		logger.Warnf("flux: runtime version output %q does not mention build version %s", strings.TrimSpace(string(out)), buildVersion)
	}

	return nil
}

func (d *Driver) Attach(ctx context.Context, jobID string) (*wlm.LaunchResult, error) {
	running, err := d.IsRunning(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if !running {
		return nil, api.NewError(api.KindWlm, "NotRunning: flux job %s has exited", jobID)
	}

	inf, err := d.Helper.AttachMPIR(ctx, "", jobID)
	if err != nil {
		return nil, api.Wrap(api.KindWlm, err, "attaching to flux job %s", jobID)
	}

	return &wlm.LaunchResult{JobID: jobID, Proctable: inf.Proctable}, nil
}

func (d *Driver) ReleaseBarrier(ctx context.Context, jobID string) error {
	return d.Helper.ReleaseMPIRByJob(ctx, jobID)
}

// resourceSet is the subset of Flux's R (resource set) JSON schema this
// driver needs: one entry per node, naming its hostname. Core counts are not
// read.
type resourceSet struct {
	Execution struct {
		Nodelist []string `json:"nodelist"`
	} `json:"execution"`
}

func (d *Driver) GetLayout(ctx context.Context, jobID string) ([]api.HostPlacement, error) {
	out, err := exec.CommandContext(ctx, "flux", "job", "info", jobID, "R").Output()
	if err != nil {
		return nil, api.Wrap(api.KindWlm, err, "flux job info %s R", jobID)
	}

	var r resourceSet
	if err := json.Unmarshal(out, &r); err != nil {
		return nil, api.Wrap(api.KindWlm, err, "parsing R for %s", jobID)
	}

	hosts := make([]api.HostPlacement, len(r.Execution.Nodelist))
	for i, host := range r.Execution.Nodelist {
		hosts[i] = api.HostPlacement{Hostname: host, NumPEs: 1, PEs: []api.RankPID{{Rank: i}}}
	}

	return hosts, nil
}

// ShipPackage broadcasts localPath to destRelPath on every node of jobID
// via `flux filemap`.
func (d *Driver) ShipPackage(ctx context.Context, jobID, localPath, destRelPath string) error {
	out, err := exec.CommandContext(ctx, "flux", "filemap", "map", "--tags="+jobID, localPath).CombinedOutput()
	if err != nil {
		return api.Wrap(api.KindWlm, err, "flux filemap map: %s", strings.TrimSpace(string(out)))
	}

	out, err = exec.CommandContext(ctx, "flux", "filemap", "get", "--tags="+jobID, destRelPath).CombinedOutput()
	if err != nil {
		return api.Wrap(api.KindWlm, err, "flux filemap get: %s", strings.TrimSpace(string(out)))
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
		ids, err := d.Helper.ForkExecvpUtil(ctx, jobID, overwatch.Sync, []string{"test", "-e", p}, nil)
		out[p] = err == nil && len(ids) > 0
	}

	return out, nil
}

func (d *Driver) Signal(ctx context.Context, jobID string, signo int) error {
	return d.RPC.Cancel(ctx, jobID)
}

func (d *Driver) IsRunning(ctx context.Context, jobID string) (bool, error) {
	out, err := exec.CommandContext(ctx, "flux", "jobs", "-no", "{state}", jobID).Output()
	if err != nil {
		return false, nil
	}

	return strings.Contains(string(out), "RUN"), nil
}

var _ wlm.Driver = (*Driver)(nil)
