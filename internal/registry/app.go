package registry

import "github.com/common-tools-interface/cti/shared/api"

// App is the core's view of a launched or attached parallel job. It is
// created by the Frontend on a successful launch/attach/register and
// exclusively owns its layout/placement snapshot and any control files it
// staged itself (e.g. the rank-pid layout blob written for back-ends that
// have no native PMI).
type App struct {
	ID api.AppID

	WLM   api.WLMType
	JobID string // WLM-specific job id string: "jobid.stepid", UUID, f58, apid, ...

	Hosts []api.HostPlacement

	// Proctable is the raw MPIR proctable in rank order, retained so the
	// back-end pid file can be written without re-querying the launcher.
	Proctable []api.ProctableEntry

	// BinaryRank maps executable path -> ranks running it, for MPMD jobs.
	BinaryRank map[string][]int

	// RemoteSandboxRoot is the per-App, per-node path template under which
	// every Session of this App creates its own subdirectory.
	RemoteSandboxRoot string

	// LauncherHostname is the hostname the job launcher itself runs on
	// (not necessarily a compute node of the job).
	LauncherHostname string
}

// NumPEs returns the total PE (rank) count across every host, which must
// equal the sum of each HostPlacement's NumPEs.
func (a *App) NumPEs() int {
	n := 0
	for _, h := range a.Hosts {
		n += h.NumPEs
	}

	return n
}

// HostsList returns just the hostnames, in the order they appear in Hosts.
func (a *App) HostsList() []string {
	out := make([]string, len(a.Hosts))
	for i, h := range a.Hosts {
		out[i] = h.Hostname
	}

	return out
}

// BinaryList returns the distinct set of executables running under this
// App (a single entry for SPMD jobs, more for MPMD).
func (a *App) BinaryList() []string {
	out := make([]string, 0, len(a.BinaryRank))
	for bin := range a.BinaryRank {
		out = append(out, bin)
	}

	return out
}
