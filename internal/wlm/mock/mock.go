// Package mock implements an in-memory wlm.Driver used by the Frontend's
// own tests and exported for downstream tool tests that need a working
// driver without a real cluster.
package mock

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/common-tools-interface/cti/internal/wlm"
	"github.com/common-tools-interface/cti/shared/api"
)

// Driver is a fully in-process stand-in for a real WLM: "launching" a job
// just records the request and hands back a synthetic single-node
// proctable, "shipping" only records the local path in ShippedFiles, and
// "remote exec" returns one synthetic id per host without running anything.
// It is safe for concurrent use.
type Driver struct {
	mu        sync.Mutex
	jobs      map[string]*job
	nextJobID int

	// ShippedFiles records every local path shipped to each job id, for
	// test assertions (e.g. dedup idempotence).
	ShippedFiles map[string][]string
}

type job struct {
	hosts   []api.HostPlacement
	running bool
}

// New returns an empty mock Driver.
func New() *Driver {
	return &Driver{
		jobs:         make(map[string]*job),
		ShippedFiles: make(map[string][]string),
	}
}

func (d *Driver) Type() api.WLMType { return api.WLMLocalhost }

func (d *Driver) Launch(ctx context.Context, argv []string, env []string, io api.LaunchIO, barrier api.BarrierMode) (*wlm.LaunchResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextJobID++
	jobID := fmt.Sprintf("mock.%d", d.nextJobID)

	hostname, _ := os.Hostname()
	pid := os.Getpid() + d.nextJobID // synthetic, distinct per job

	d.jobs[jobID] = &job{
		hosts: []api.HostPlacement{
			{Hostname: hostname, NumPEs: 1, PEs: []api.RankPID{{Rank: 0, PID: pid}}},
		},
		running: true,
	}

	exe := ""
	if len(argv) > 0 {
		exe = argv[0]
	}

	return &wlm.LaunchResult{
		JobID:            jobID,
		LauncherHostname: hostname,
		LauncherPID:      pid,
		Proctable: []api.ProctableEntry{
			{Rank: 0, Hostname: hostname, PID: pid, Executable: exe},
		},
	}, nil
}

func (d *Driver) Attach(ctx context.Context, jobID string) (*wlm.LaunchResult, error) {
	d.mu.Lock()
	j, ok := d.jobs[jobID]
	d.mu.Unlock()

	if !ok || !j.running {
		return nil, api.NewError(api.KindWlm, "job %q is not running", jobID)
	}

	return &wlm.LaunchResult{JobID: jobID, Proctable: proctableFromHosts(j.hosts)}, nil
}

func (d *Driver) ReleaseBarrier(ctx context.Context, jobID string) error {
	return nil
}

func (d *Driver) GetLayout(ctx context.Context, jobID string) ([]api.HostPlacement, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	j, ok := d.jobs[jobID]
	if !ok {
		return nil, api.NewError(api.KindWlm, "unknown job %q", jobID)
	}

	return j.hosts, nil
}

func (d *Driver) ShipPackage(ctx context.Context, jobID, localPath, destRelPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.jobs[jobID]; !ok {
		return api.NewError(api.KindWlm, "unknown job %q", jobID)
	}

	d.ShippedFiles[jobID] = append(d.ShippedFiles[jobID], localPath)

	return nil
}

func (d *Driver) RemoteExec(ctx context.Context, jobID, path string, argv, env []string, synchrony api.Synchrony) ([]string, error) {
	d.mu.Lock()
	j, ok := d.jobs[jobID]
	d.mu.Unlock()

	if !ok {
		return nil, api.NewError(api.KindWlm, "unknown job %q", jobID)
	}

	ids := make([]string, len(j.hosts))
	for i, h := range j.hosts {
		ids[i] = fmt.Sprintf("%s/%s", jobID, h.Hostname)
	}

	return ids, nil
}

func (d *Driver) CheckFiles(ctx context.Context, jobID string, paths []string) (map[string]bool, error) {
	out := make(map[string]bool, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			out[p] = true
		}
	}

	return out, nil
}

func (d *Driver) Signal(ctx context.Context, jobID string, signo int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	j, ok := d.jobs[jobID]
	if !ok {
		return api.NewError(api.KindWlm, "unknown job %q", jobID)
	}

	j.running = false

	return nil
}

func (d *Driver) IsRunning(ctx context.Context, jobID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	j, ok := d.jobs[jobID]
	if !ok {
		return false, nil
	}

	return j.running, nil
}

func proctableFromHosts(hosts []api.HostPlacement) []api.ProctableEntry {
	var out []api.ProctableEntry
	for _, h := range hosts {
		for _, pe := range h.PEs {
			out = append(out, api.ProctableEntry{Rank: pe.Rank, Hostname: h.Hostname, PID: pe.PID})
		}
	}

	return out
}

var _ wlm.Driver = (*Driver)(nil)
