package mpir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateString(t *testing.T) {
	cases := map[State]string{
		Starting:   "starting",
		Stopped:    "stopped",
		Released:   "released",
		Exited:     "exited",
		Terminated: "terminated",
		State(99):  "unknown",
	}

	for state, want := range cases {
		assert.Equal(t, want, state.String())
	}
}

func TestRequireStoppedRejectsOtherStates(t *testing.T) {
	i := &Inferior{state: Starting}
	assert.Error(t, i.requireStopped())

	i.state = Stopped
	assert.NoError(t, i.requireStopped())
}

func TestJobIDStepIDExtractsBothKeys(t *testing.T) {
	r := &Result{Strings: map[string]string{
		"totalview_jobid":  "12345",
		"totalview_stepid": "0",
	}}

	jobID, stepID, err := r.JobIDStepID()
	require.NoError(t, err)
	assert.Equal(t, "12345", jobID)
	assert.Equal(t, "0", stepID)
}

func TestJobIDStepIDErrorsWhenMissing(t *testing.T) {
	r := &Result{Strings: map[string]string{"totalview_jobid": "12345"}}

	_, _, err := r.JobIDStepID()
	assert.Error(t, err, "stepid is missing, so this must fail rather than return a zero value silently")
}

func TestJobIDStepIDErrorsOnEmptyResult(t *testing.T) {
	r := &Result{}

	_, _, err := r.JobIDStepID()
	assert.Error(t, err)
}
