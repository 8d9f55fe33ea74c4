// Package wlm defines the capability set every workload-manager back-end
// implements, and performs the env-var / runtime-probe driver selection.
package wlm

import (
	"context"

	"github.com/common-tools-interface/cti/shared/api"
)

// LaunchResult is what a successful launch/attach returns: the WLM's own
// job handle plus everything the MPIR supervisor extracted.
type LaunchResult struct {
	JobID            string
	LauncherHostname string
	LauncherPID      int
	Proctable        []api.ProctableEntry
}

// Driver is the capability set a WLM back-end must implement. Every method
// takes a context so a caller (the Frontend, ultimately the controlling
// tool) can bound an otherwise-unbounded blocking WLM primitive.
type Driver interface {
	// Type identifies which enumerated WLM this driver implements.
	Type() api.WLMType

	// Launch starts argv under the WLM. If barrier is BarrierHold, Launch
	// blocks until the job is stopped at the MPIR breakpoint.
	Launch(ctx context.Context, argv []string, env []string, io api.LaunchIO, barrier api.BarrierMode) (*LaunchResult, error)

	// Attach binds to an already-running job by WLM id. Fails with a
	// KindWlm error ("NotRunning") if the job has already exited.
	Attach(ctx context.Context, jobID string) (*LaunchResult, error)

	// ReleaseBarrier lets a job launched with BarrierHold continue past
	// MPIR_Breakpoint.
	ReleaseBarrier(ctx context.Context, jobID string) error

	// GetLayout returns the current HostPlacement set for jobID.
	GetLayout(ctx context.Context, jobID string) ([]api.HostPlacement, error)

	// ShipPackage makes localPath appear at
	// sandboxRoot/destRelPath on every node of jobID. Idempotent: must
	// tolerate re-ships by overwriting.
	ShipPackage(ctx context.Context, jobID, localPath, destRelPath string) error

	// RemoteExec starts path with argv/env on every node of jobID. If
	// synchrony is Sync, it blocks until the command has finished
	// everywhere; otherwise it returns a daemon identifier per node
	// immediately.
	RemoteExec(ctx context.Context, jobID, path string, argv, env []string, synchrony api.Synchrony) ([]string, error)

	// CheckFiles returns the subset of paths present on every node of
	// jobID, used by the dependency oracle to skip shipping libraries
	// already installed cluster-wide.
	CheckFiles(ctx context.Context, jobID string, paths []string) (map[string]bool, error)

	// Signal sends signo to every rank of jobID.
	Signal(ctx context.Context, jobID string, signo int) error

	// IsRunning reports whether at least one rank of jobID is still
	// alive.
	IsRunning(ctx context.Context, jobID string) (bool, error)
}

// Config carries the driver-selection inputs read from the environment,
// shared by every driver constructor.
type Config struct {
	InstallDir       string
	LogDir           string
	Debug            bool
	CfgDir           string
	LauncherName     string
	LauncherScript   string
	LauncherWrapper  string
	BackendWrapper   string
	BackendTmpDir    string
	PMIFopenTimeout  int
	ExtraSleep       int
}
