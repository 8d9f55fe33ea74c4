package api

// AppID, SessionID, and ManifestID are opaque, process-lifetime-unique
// handles. Zero is reserved to mean "invalid/error".
type (
	AppID      uint64
	SessionID  uint64
	ManifestID uint64
)

// Valid reports whether the id is a non-zero handle. It does not consult the
// registry; use the registry's IsValid for liveness.
func (id AppID) Valid() bool      { return id != 0 }
func (id SessionID) Valid() bool  { return id != 0 }
func (id ManifestID) Valid() bool { return id != 0 }

// WLMType enumerates the workload managers the core knows how to drive.
type WLMType int

const (
	WLMUnknown WLMType = iota
	WLMSlurm
	WLMPALS
	WLMFlux
	WLMALPS
	WLMSSH
	WLMLocalhost
)

func (t WLMType) String() string {
	switch t {
	case WLMSlurm:
		return "slurm"
	case WLMPALS:
		return "pals"
	case WLMFlux:
		return "flux"
	case WLMALPS:
		return "alps"
	case WLMSSH:
		return "ssh"
	case WLMLocalhost:
		return "localhost"
	default:
		return "unknown"
	}
}

// ParseWLMType maps a CTI_WLM_IMPL value to a WLMType.
func ParseWLMType(s string) WLMType {
	switch s {
	case "slurm":
		return WLMSlurm
	case "pals":
		return WLMPALS
	case "flux":
		return WLMFlux
	case "alps":
		return WLMALPS
	case "generic", "ssh":
		return WLMSSH
	case "localhost":
		return WLMLocalhost
	default:
		return WLMUnknown
	}
}

// RankPID is a single (rank, pid) pair as exposed by MPIR and by the
// back-end's local PMI attribute file.
type RankPID struct {
	Rank int
	PID  int
}

// HostPlacement describes the PEs (processing elements / ranks) resident on
// a single compute node of an App.
type HostPlacement struct {
	Hostname string
	NumPEs   int
	PEs      []RankPID
}

// ProctableEntry is one row of the MPIR proctable: rank, hostname, pid, and
// the path to the executable that rank is running (MPMD jobs may have a
// distinct executable per rank).
type ProctableEntry struct {
	Rank       int
	Hostname   string
	PID        int
	Executable string
}

// BarrierMode controls whether launch() blocks until the job reaches the
// MPIR breakpoint.
type BarrierMode int

const (
	BarrierHold BarrierMode = iota
	BarrierNone
)

// Synchrony controls whether remote_exec blocks until the command has
// finished on every node.
type Synchrony int

const (
	Async Synchrony = iota
	Sync
)

// DepsPolicy controls whether add_binary/add_library walks ELF dependencies.
type DepsPolicy int

const (
	DepsStage DepsPolicy = iota
	DepsIgnore
)

// LaunchIO carries the three standard file descriptors a launched job's
// stdio should be wired to. A nil field means "inherit /dev/null"-equivalent
// semantics left to the driver.
type LaunchIO struct {
	Stdin  *int
	Stdout *int
	Stderr *int
}
