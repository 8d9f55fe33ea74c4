package frontend

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/common-tools-interface/cti/shared/api"
)

func TestLayoutFromProctablePreservesFirstSeenHostOrder(t *testing.T) {
	proctable := []api.ProctableEntry{
		{Rank: 0, Hostname: "nid002", PID: 100},
		{Rank: 1, Hostname: "nid001", PID: 101},
		{Rank: 2, Hostname: "nid002", PID: 102},
		{Rank: 3, Hostname: "nid001", PID: 103},
	}

	hosts := layoutFromProctable(proctable)

	assert.Equal(t, []string{"nid002", "nid001"}, []string{hosts[0].Hostname, hosts[1].Hostname})
	assert.Equal(t, 2, hosts[0].NumPEs)
	assert.Equal(t, 2, hosts[1].NumPEs)
	assert.Equal(t, []api.RankPID{{Rank: 0, PID: 100}, {Rank: 2, PID: 102}}, hosts[0].PEs)
}

func TestLayoutFromProctableEmpty(t *testing.T) {
	hosts := layoutFromProctable(nil)
	assert.Empty(t, hosts)
}

func TestLayoutFromProctableSingleHost(t *testing.T) {
	proctable := []api.ProctableEntry{
		{Rank: 0, Hostname: "nid001", PID: 1},
		{Rank: 1, Hostname: "nid001", PID: 2},
		{Rank: 2, Hostname: "nid001", PID: 3},
	}

	hosts := layoutFromProctable(proctable)

	assert.Len(t, hosts, 1)
	assert.Equal(t, 3, hosts[0].NumPEs)
}
