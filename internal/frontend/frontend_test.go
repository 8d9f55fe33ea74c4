package frontend

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/common-tools-interface/cti/internal/registry"
	"github.com/common-tools-interface/cti/internal/staging"
	"github.com/common-tools-interface/cti/internal/wlm/mock"
	"github.com/common-tools-interface/cti/shared/api"
)

// newTestFrontend builds a Frontend around the in-memory mock.Driver
// (internal/wlm/mock), skipping spawnHelper entirely. This exercises the
// fork-safety and panic-recovery properties of spec.md §9 testable property
// 6 without a real cti-overwatch subprocess.
func newTestFrontend(t *testing.T) *Frontend {
	t.Helper()

	return &Frontend{
		pid:       os.Getpid(),
		wlmType:   api.WLMLocalhost,
		driver:    mock.New(),
		apps:      registry.New[api.AppID, registry.App](),
		sessions:  registry.New[api.SessionID, staging.Session](),
		manifests: registry.New[api.ManifestID, staging.Manifest](),
	}
}

func TestIsOriginalProcessTrueByDefault(t *testing.T) {
	f := newTestFrontend(t)
	assert.True(t, f.isOriginalProcess())
}

func TestIsOriginalProcessFalseAfterSimulatedFork(t *testing.T) {
	f := newTestFrontend(t)
	f.pid = os.Getpid() + 1 // stand in for "this pid belongs to a different process"

	assert.False(t, f.isOriginalProcess())
}

func TestCloseInForkedChildIsNoopEvenWithNilHelper(t *testing.T) {
	f := newTestFrontend(t)
	f.pid = os.Getpid() + 1

	assert.NoError(t, f.Close(), "Close in a forked child must never touch the (possibly nil) helper")
}

func TestCloseWithNoHelperIsNoop(t *testing.T) {
	f := newTestFrontend(t)
	assert.NoError(t, f.Close())
}

func TestGuardRecoversPanicIntoLastError(t *testing.T) {
	f := newTestFrontend(t)

	err := f.guard(func() error {
		panic("boom")
	})

	require.Error(t, err)
	assert.Contains(t, f.ErrorStr(), "boom")
}

func TestGuardRecordsReturnedErrorAsLastError(t *testing.T) {
	f := newTestFrontend(t)

	err := f.guard(func() error {
		return api.NewError(api.KindUsage, "bad argument")
	})

	require.Error(t, err)
	assert.Equal(t, err.Error(), f.ErrorStr())
}

func TestGuardPassesThroughSuccess(t *testing.T) {
	f := newTestFrontend(t)

	err := f.guard(func() error { return nil })
	assert.NoError(t, err)
}

func TestCurrentWLMReflectsConstruction(t *testing.T) {
	f := newTestFrontend(t)
	assert.Equal(t, api.WLMLocalhost, f.CurrentWLM())
}
