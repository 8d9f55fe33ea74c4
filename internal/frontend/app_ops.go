package frontend

import (
	"context"

	"github.com/common-tools-interface/cti/internal/registry"
	"github.com/common-tools-interface/cti/internal/staging"
	"github.com/common-tools-interface/cti/internal/wlm"
	"github.com/common-tools-interface/cti/shared/api"
)

// Launch starts argv as a new App under the current WLM driver. barrier
// controls whether the returned App is still stopped at MPIR_Breakpoint.
func (f *Frontend) Launch(ctx context.Context, argv, env []string, io api.LaunchIO, barrier api.BarrierMode) (api.AppID, error) {
	var id api.AppID

	err := f.guard(func() error {
		result, err := f.driver.Launch(ctx, argv, env, io, barrier)
		if err != nil {
			return err
		}

		id, err = f.registerApp(result)

		return err
	})

	return id, err
}

// LaunchBarrier is Launch with barrier=BarrierHold.
func (f *Frontend) LaunchBarrier(ctx context.Context, argv, env []string, io api.LaunchIO) (api.AppID, error) {
	return f.Launch(ctx, argv, env, io, api.BarrierHold)
}

// Attach binds a new App handle to an already-running WLM job id.
func (f *Frontend) Attach(ctx context.Context, jobID string) (api.AppID, error) {
	var id api.AppID

	err := f.guard(func() error {
		result, err := f.driver.Attach(ctx, jobID)
		if err != nil {
			return err
		}

		id, err = f.registerApp(result)

		return err
	})

	return id, err
}

func (f *Frontend) registerApp(result *wlm.LaunchResult) (api.AppID, error) {
	id := f.apps.NextID()

	binaryRank := map[string][]int{}
	for _, e := range result.Proctable {
		binaryRank[e.Executable] = append(binaryRank[e.Executable], e.Rank)
	}

	hosts := layoutFromProctable(result.Proctable)

	app := &registry.App{
		ID:               id,
		WLM:              f.wlmType,
		JobID:            result.JobID,
		Hosts:            hosts,
		Proctable:        result.Proctable,
		BinaryRank:       binaryRank,
		LauncherHostname: result.LauncherHostname,
	}

	f.apps.Insert(id, app)

	return id, nil
}

// layoutFromProctable derives a HostPlacement list from MPIR proctable
// entries when a driver's own GetLayout has not yet been called; used as the
// App's placement snapshot at registration time, which stays fixed for the
// App's lifetime.
func layoutFromProctable(entries []api.ProctableEntry) []api.HostPlacement {
	order := []string{}
	byHost := map[string][]api.RankPID{}

	for _, e := range entries {
		if _, ok := byHost[e.Hostname]; !ok {
			order = append(order, e.Hostname)
		}

		byHost[e.Hostname] = append(byHost[e.Hostname], api.RankPID{Rank: e.Rank, PID: e.PID})
	}

	hosts := make([]api.HostPlacement, 0, len(order))
	for _, h := range order {
		hosts = append(hosts, api.HostPlacement{Hostname: h, NumPEs: len(byHost[h]), PEs: byHost[h]})
	}

	return hosts
}

// ReleaseAppBarrier lets an App launched with BarrierHold continue past
// MPIR_Breakpoint.
func (f *Frontend) ReleaseAppBarrier(ctx context.Context, id api.AppID) error {
	return f.guard(func() error {
		app, ok := f.apps.Get(id)
		if !ok {
			return api.NewError(api.KindUsage, "app %d is not valid", id)
		}

		return f.driver.ReleaseBarrier(ctx, app.JobID)
	})
}

// KillApp sends signo to every rank of id.
func (f *Frontend) KillApp(ctx context.Context, id api.AppID, signo int) error {
	return f.guard(func() error {
		app, ok := f.apps.Get(id)
		if !ok {
			return api.NewError(api.KindUsage, "app %d is not valid", id)
		}

		return f.driver.Signal(ctx, app.JobID, signo)
	})
}

// AppIsValid reports whether id names a live App.
func (f *Frontend) AppIsValid(id api.AppID) bool {
	return f.apps.IsValid(id)
}

// DeregisterApp invalidates id and cascades to every Session created from
// it. It also tells the supervisor helper to forget the launcher pid
// without killing it, since deregistration is an ownership release, not a
// termination.
func (f *Frontend) DeregisterApp(ctx context.Context, id api.AppID) error {
	return f.guard(func() error {
		_, ok := f.apps.Destroy(id)
		if !ok {
			return api.NewError(api.KindUsage, "app %d is not valid", id)
		}

		f.cascadeDestroySessionsOf(id)

		if f.helper != nil {
			return f.helper.DeregisterApp(ctx, uint64(id))
		}

		return nil
	})
}

// cascadeDestroySessionsOf invalidates every Session (and transitively every
// Manifest) registered against appID.
func (f *Frontend) cascadeDestroySessionsOf(appID api.AppID) {
	var toDestroy []api.SessionID

	f.sessions.Range(func(sid api.SessionID, s *staging.Session) {
		if s.AppID == appID {
			toDestroy = append(toDestroy, sid)
		}
	})

	for _, sid := range toDestroy {
		_ = f.destroySession(sid)
	}
}

func (f *Frontend) GetLauncherHostname(id api.AppID) (string, error) {
	app, ok := f.apps.Get(id)
	if !ok {
		return "", api.NewError(api.KindUsage, "app %d is not valid", id)
	}

	return app.LauncherHostname, nil
}

func (f *Frontend) GetNumAppPEs(id api.AppID) (int, error) {
	app, ok := f.apps.Get(id)
	if !ok {
		return 0, api.NewError(api.KindUsage, "app %d is not valid", id)
	}

	return app.NumPEs(), nil
}

func (f *Frontend) GetNumAppNodes(id api.AppID) (int, error) {
	app, ok := f.apps.Get(id)
	if !ok {
		return 0, api.NewError(api.KindUsage, "app %d is not valid", id)
	}

	return len(app.Hosts), nil
}

func (f *Frontend) GetAppHostsList(id api.AppID) ([]string, error) {
	app, ok := f.apps.Get(id)
	if !ok {
		return nil, api.NewError(api.KindUsage, "app %d is not valid", id)
	}

	return app.HostsList(), nil
}

func (f *Frontend) GetAppHostsPlacement(id api.AppID) ([]api.HostPlacement, error) {
	app, ok := f.apps.Get(id)
	if !ok {
		return nil, api.NewError(api.KindUsage, "app %d is not valid", id)
	}

	return app.Hosts, nil
}

func (f *Frontend) GetAppBinaryList(id api.AppID) ([]string, error) {
	app, ok := f.apps.Get(id)
	if !ok {
		return nil, api.NewError(api.KindUsage, "app %d is not valid", id)
	}

	return app.BinaryList(), nil
}
