// Package cti is the public Go API: a thin façade over internal/frontend
// that re-exports its operations under the top-level module path so callers
// never import anything under internal/.
package cti

import (
	"context"

	"github.com/common-tools-interface/cti/internal/frontend"
	"github.com/common-tools-interface/cti/shared/api"
)

// Re-exported handle and value types.
type (
	AppID      = api.AppID
	SessionID  = api.SessionID
	ManifestID = api.ManifestID
	WLMType    = api.WLMType
	BarrierMode = api.BarrierMode
	Synchrony   = api.Synchrony
	DepsPolicy  = api.DepsPolicy
	LaunchIO       = api.LaunchIO
	HostPlacement  = api.HostPlacement
	RankPID        = api.RankPID
	ProctableEntry = api.ProctableEntry
	Kind           = api.Kind
)

const (
	BarrierHold = api.BarrierHold
	BarrierNone = api.BarrierNone
	Async       = api.Async
	Sync        = api.Sync
	DepsStage   = api.DepsStage
	DepsIgnore  = api.DepsIgnore
)

const (
	WLMUnknown   = api.WLMUnknown
	WLMSlurm     = api.WLMSlurm
	WLMPALS      = api.WLMPALS
	WLMFlux      = api.WLMFlux
	WLMALPS      = api.WLMALPS
	WLMSSH       = api.WLMSSH
	WLMLocalhost = api.WLMLocalhost
)

const (
	KindUsage    = api.KindUsage
	KindWlm      = api.KindWlm
	KindStaging  = api.KindStaging
	KindInferior = api.KindInferior
	KindHelper   = api.KindHelper
	KindEnv      = api.KindEnv
)

// Version is the library's public version string.
const Version = frontend.Version

// CTI is the process-wide handle every exported operation runs against; it
// wraps the internal/frontend singleton so this package never mints more
// than one.
type CTI struct {
	f *frontend.Frontend
}

// Open returns the process-wide CTI handle, constructing the supervisor
// helper connection and WLM driver on first call.
func Open() (*CTI, error) {
	f, err := frontend.Get()
	if err != nil {
		return nil, err
	}

	return &CTI{f: f}, nil
}

// Close tears down the handle: it is a no-op in a forked child and
// otherwise asks the supervisor helper to terminate every tracked process
// and exit.
func (c *CTI) Close() error { return c.f.Close() }

func (c *CTI) ErrorStr() string                 { return c.f.ErrorStr() }
func (c *CTI) ErrorStrR(buf []byte) int          { return c.f.ErrorStrR(buf) }
func (c *CTI) CurrentWLM() WLMType               { return c.f.CurrentWLM() }
func (c *CTI) WLMTypeToString(t WLMType) string  { return c.f.WLMTypeToString(t) }
func (c *CTI) GetHostname() (string, error)      { return c.f.GetHostname() }
func (c *CTI) SetAttribute(key, value string)    { c.f.SetAttribute(key, value) }
func (c *CTI) GetAttribute(key string) (string, bool) { return c.f.GetAttribute(key) }

func (c *CTI) ContainsSymbols(path string, names []string) (bool, error) {
	return c.f.ContainsSymbols(path, names)
}

// App operations.
func (c *CTI) Launch(ctx context.Context, argv, env []string, io LaunchIO, barrier BarrierMode) (AppID, error) {
	return c.f.Launch(ctx, argv, env, io, barrier)
}

func (c *CTI) LaunchBarrier(ctx context.Context, argv, env []string, io LaunchIO) (AppID, error) {
	return c.f.LaunchBarrier(ctx, argv, env, io)
}

func (c *CTI) Attach(ctx context.Context, jobID string) (AppID, error) {
	return c.f.Attach(ctx, jobID)
}

func (c *CTI) ReleaseAppBarrier(ctx context.Context, id AppID) error {
	return c.f.ReleaseAppBarrier(ctx, id)
}

func (c *CTI) KillApp(ctx context.Context, id AppID, signo int) error {
	return c.f.KillApp(ctx, id, signo)
}

func (c *CTI) AppIsValid(id AppID) bool { return c.f.AppIsValid(id) }

func (c *CTI) DeregisterApp(ctx context.Context, id AppID) error {
	return c.f.DeregisterApp(ctx, id)
}

func (c *CTI) GetLauncherHostname(id AppID) (string, error) { return c.f.GetLauncherHostname(id) }
func (c *CTI) GetNumAppPEs(id AppID) (int, error)           { return c.f.GetNumAppPEs(id) }
func (c *CTI) GetNumAppNodes(id AppID) (int, error)         { return c.f.GetNumAppNodes(id) }
func (c *CTI) GetAppHostsList(id AppID) ([]string, error)   { return c.f.GetAppHostsList(id) }

func (c *CTI) GetAppHostsPlacement(id AppID) ([]HostPlacement, error) {
	return c.f.GetAppHostsPlacement(id)
}

func (c *CTI) GetAppBinaryList(id AppID) ([]string, error) { return c.f.GetAppBinaryList(id) }

// Session/Manifest operations.
func (c *CTI) CreateSession(appID AppID) (SessionID, error) { return c.f.CreateSession(appID) }
func (c *CTI) SessionIsValid(id SessionID) bool              { return c.f.SessionIsValid(id) }

func (c *CTI) DestroySession(ctx context.Context, id SessionID) error {
	return c.f.DestroySession(ctx, id)
}

func (c *CTI) CreateManifest(sessionID SessionID) (ManifestID, error) {
	return c.f.CreateManifest(sessionID)
}

func (c *CTI) ManifestIsValid(id ManifestID) bool { return c.f.ManifestIsValid(id) }

func (c *CTI) AddManifestBinary(id ManifestID, path string, policy DepsPolicy) error {
	return c.f.AddManifestBinary(id, path, policy)
}

func (c *CTI) AddManifestLibrary(id ManifestID, path string, policy DepsPolicy) error {
	return c.f.AddManifestLibrary(id, path, policy)
}

func (c *CTI) AddManifestFile(id ManifestID, path string) error {
	return c.f.AddManifestFile(id, path)
}

func (c *CTI) AddManifestLibraryDir(id ManifestID, dir string) error {
	return c.f.AddManifestLibraryDir(id, dir)
}

func (c *CTI) SendManifest(ctx context.Context, id ManifestID) error {
	return c.f.SendManifest(ctx, id)
}

func (c *CTI) ExecToolDaemon(ctx context.Context, sessionID SessionID, binaryName string, argv, env []string, synchrony Synchrony) ([]string, error) {
	return c.f.ExecToolDaemon(ctx, sessionID, binaryName, argv, env, synchrony)
}

func (c *CTI) GetSessionLockFiles(id SessionID) ([]string, error) { return c.f.GetSessionLockFiles(id) }
func (c *CTI) GetSessionRootDir(id SessionID) (string, error)     { return c.f.GetSessionRootDir(id) }
func (c *CTI) GetSessionBinDir(id SessionID) (string, error)      { return c.f.GetSessionBinDir(id) }
func (c *CTI) GetSessionLibDir(id SessionID) (string, error)      { return c.f.GetSessionLibDir(id) }
func (c *CTI) GetSessionFileDir(id SessionID) (string, error)     { return c.f.GetSessionFileDir(id) }
func (c *CTI) GetSessionTmpDir(id SessionID) (string, error)      { return c.f.GetSessionTmpDir(id) }
