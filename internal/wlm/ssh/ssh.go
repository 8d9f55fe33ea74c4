// Package ssh implements the wlm.Driver capability set for the "generic"
// and "localhost" WLM choices: nodes are driven directly over SSH (or, when
// every node is "localhost", via os/exec in-process) rather than through a
// workload manager's own CLI tools.
package ssh

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"github.com/common-tools-interface/cti/internal/overwatch"
	"github.com/common-tools-interface/cti/internal/wlm"
	"github.com/common-tools-interface/cti/shared/api"
)

// NodeConfig names an SSH-reachable node and the remote user/key to connect
// as. A single entry named "localhost" makes the driver use os/exec instead
// of dialing out.
type NodeConfig struct {
	Hostname string
	User     string
	KeyPath  string
}

// Driver drives a fixed node list via SSH. Unlike the WLM-backed drivers,
// this one has no scheduler to ask for a job id: jobID is an opaque handle
// this driver mints itself.
type Driver struct {
	Helper *overwatch.Client

	mu      sync.Mutex
	nodes   []NodeConfig
	clients map[string]*ssh.Client
	jobs    map[string]*job
	nextJob int
}

type job struct {
	nodes     []NodeConfig
	pid       int
	launcherHost string
}

// New returns an ssh/localhost Driver. An empty or nil nodes list defaults
// to a single "localhost" node.
func New(helper *overwatch.Client, nodes []NodeConfig) *Driver {
	if len(nodes) == 0 {
		nodes = []NodeConfig{{Hostname: "localhost"}}
	}

	return &Driver{
		Helper:  helper,
		nodes:   nodes,
		clients: make(map[string]*ssh.Client),
		jobs:    make(map[string]*job),
	}
}

func (d *Driver) Type() api.WLMType { return api.WLMSSH }

func (d *Driver) Launch(ctx context.Context, argv []string, env []string, io api.LaunchIO, barrier api.BarrierMode) (*wlm.LaunchResult, error) {
	inf, err := d.Helper.LaunchMPIR(ctx, argv, env, io)
	if err != nil {
		return nil, api.Wrap(api.KindWlm, err, "launching %q over ssh/localhost driver", argv[0])
	}

	if barrier == api.BarrierNone {
		if err := d.Helper.ReleaseMPIR(ctx, inf.InferiorID); err != nil {
			return nil, api.Wrap(api.KindInferior, err, "releasing barrier")
		}
	}

	d.mu.Lock()
	d.nextJob++
	jobID := fmt.Sprintf("local-%d", d.nextJob)
	d.jobs[jobID] = &job{nodes: d.nodes, pid: inf.LauncherPID, launcherHost: inf.LauncherHostname}
	d.mu.Unlock()

	return &wlm.LaunchResult{
		JobID:            jobID,
		LauncherHostname: inf.LauncherHostname,
		LauncherPID:      inf.LauncherPID,
		Proctable:        inf.Proctable,
	}, nil
}

func (d *Driver) Attach(ctx context.Context, jobID string) (*wlm.LaunchResult, error) {
	d.mu.Lock()
	j, ok := d.jobs[jobID]
	d.mu.Unlock()

	if !ok {
		return nil, api.NewError(api.KindWlm, "NotRunning: unknown ssh job %q", jobID)
	}

	inf, err := d.Helper.AttachMPIR(ctx, "", fmt.Sprintf("%d", j.pid))
	if err != nil {
		return nil, api.Wrap(api.KindWlm, err, "attaching to ssh job %s", jobID)
	}

	return &wlm.LaunchResult{JobID: jobID, Proctable: inf.Proctable}, nil
}

func (d *Driver) ReleaseBarrier(ctx context.Context, jobID string) error {
	return d.Helper.ReleaseMPIRByJob(ctx, jobID)
}

func (d *Driver) GetLayout(ctx context.Context, jobID string) ([]api.HostPlacement, error) {
	d.mu.Lock()
	j, ok := d.jobs[jobID]
	d.mu.Unlock()

	if !ok {
		return nil, api.NewError(api.KindWlm, "unknown ssh job %q", jobID)
	}

	hosts := make([]api.HostPlacement, len(j.nodes))
	for i, n := range j.nodes {
		hosts[i] = api.HostPlacement{Hostname: n.Hostname, NumPEs: 1, PEs: []api.RankPID{{Rank: i}}}
	}

	return hosts, nil
}

// ShipPackage copies localPath to destRelPath on every node, via SFTP for
// remote nodes and a plain file copy for "localhost".
func (d *Driver) ShipPackage(ctx context.Context, jobID, localPath, destRelPath string) error {
	d.mu.Lock()
	j, ok := d.jobs[jobID]
	nodes := d.nodes
	if ok {
		nodes = j.nodes
	}
	d.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8) // bound concurrent SSH connections

	for _, n := range nodes {
		n := n
		g.Go(func() error {
			return d.shipOne(ctx, n, localPath, destRelPath)
		})
	}

	return g.Wait()
}

func (d *Driver) shipOne(ctx context.Context, n NodeConfig, localPath, destRelPath string) error {
	if n.Hostname == "localhost" {
		return copyLocal(localPath, destRelPath)
	}

	client, err := d.dial(n)
	if err != nil {
		return api.Wrap(api.KindWlm, err, "ssh dial %s", n.Hostname)
	}

	sc, err := sftp.NewClient(client)
	if err != nil {
		return api.Wrap(api.KindWlm, err, "sftp client to %s", n.Hostname)
	}
	defer sc.Close()

	if err := sc.MkdirAll(parentDir(destRelPath)); err != nil {
		return api.Wrap(api.KindWlm, err, "mkdir on %s", n.Hostname)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := sc.Create(destRelPath)
	if err != nil {
		return api.Wrap(api.KindWlm, err, "creating %s on %s", destRelPath, n.Hostname)
	}
	defer dst.Close()

	_, err = dst.ReadFrom(src)

	return err
}

func copyLocal(localPath, destRelPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(parentDir(destRelPath), 0o755); err != nil {
		return err
	}

	return os.WriteFile(destRelPath, data, 0o755)
}

func parentDir(p string) string {
	i := strings.LastIndex(p, "/")
	if i <= 0 {
		return "/"
	}

	return p[:i]
}

func (d *Driver) dial(n NodeConfig) (*ssh.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.clients[n.Hostname]; ok {
		return c, nil
	}

	auth, err := authMethod(n.KeyPath)
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            n.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // node trust is the WLM allocation's job, not this driver's
	}

	client, err := ssh.Dial("tcp", n.Hostname+":22", cfg)
	if err != nil {
		return nil, err
	}

	d.clients[n.Hostname] = client

	return client, nil
}

func authMethod(keyPath string) (ssh.AuthMethod, error) {
	if keyPath == "" {
		keyPath = os.Getenv("HOME") + "/.ssh/id_rsa"
	}

	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, api.Wrap(api.KindEnv, err, "reading ssh key %q", keyPath)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, api.Wrap(api.KindEnv, err, "parsing ssh key %q", keyPath)
	}

	return ssh.PublicKeys(signer), nil
}

func (d *Driver) RemoteExec(ctx context.Context, jobID, path string, argv, env []string, synchrony api.Synchrony) ([]string, error) {
	d.mu.Lock()
	j, ok := d.jobs[jobID]
	nodes := d.nodes
	if ok {
		nodes = j.nodes
	}
	d.mu.Unlock()

	mode := overwatch.Async
	if synchrony == api.Sync {
		mode = overwatch.Sync
	}

	var ids []string
	for range nodes {
		out, err := d.Helper.ForkExecvpUtil(ctx, jobID, mode, append([]string{path}, argv...), env)
		if err != nil {
			return nil, err
		}

		ids = append(ids, out...)
	}

	return ids, nil
}

func (d *Driver) CheckFiles(ctx context.Context, jobID string, paths []string) (map[string]bool, error) {
	out := make(map[string]bool, len(paths))
	for _, p := range paths {
		_, err := os.Stat(p)
		out[p] = err == nil
	}

	return out, nil
}

func (d *Driver) Signal(ctx context.Context, jobID string, signo int) error {
	d.mu.Lock()
	j, ok := d.jobs[jobID]
	d.mu.Unlock()

	if !ok {
		return api.NewError(api.KindWlm, "unknown ssh job %q", jobID)
	}

	if j.pid == 0 {
		return nil
	}

	return exec.Command("kill", fmt.Sprintf("-%d", signo), fmt.Sprintf("%d", j.pid)).Run()
}

func (d *Driver) IsRunning(ctx context.Context, jobID string) (bool, error) {
	d.mu.Lock()
	j, ok := d.jobs[jobID]
	d.mu.Unlock()

	if !ok {
		return false, nil
	}

	err := exec.Command("kill", "-0", fmt.Sprintf("%d", j.pid)).Run()

	return err == nil, nil
}

var _ wlm.Driver = (*Driver)(nil)
