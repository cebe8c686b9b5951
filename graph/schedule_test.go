package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrayjit/arrayjit/dtypes"
	"github.com/arrayjit/arrayjit/graph"
)

func TestBuildScheduleSingleGroup(t *testing.T) {
	s := graph.NewStore()
	a := s.NewData(graph.CPU, dtypes.Float32, 8, nil)
	b := s.NewData(graph.CPU, dtypes.Float32, 8, nil)
	sum := s.NewStatement(graph.CPU, dtypes.Float32, 8, "$r0 = add $r1, $r2", a.Id(), b.Id())
	sum.SetFlag(graph.FlagOutput, true)

	schedule, groups, err := s.BuildSchedule([]graph.Id{sum.Id()})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, 8, groups[0].Length)
	assert.Equal(t, 3, groups[0].End-groups[0].Begin)

	// a and b must precede sum in program order within the group.
	pos := make(map[graph.Id]int, len(schedule))
	for i, sv := range schedule {
		pos[sv.Id] = i
	}
	assert.Less(t, pos[a.Id()], pos[sum.Id()])
	assert.Less(t, pos[b.Id()], pos[sum.Id()])
}

func TestBuildScheduleSplitsBySize(t *testing.T) {
	s := graph.NewStore()
	small := s.NewData(graph.CPU, dtypes.Float32, 4, nil)
	large := s.NewData(graph.CPU, dtypes.Float32, 16, nil)
	// small does not broadcast into large's group (sizes differ and neither is 1):
	// each forms its own root and its own group.
	small.SetFlag(graph.FlagOutput, true)
	large.SetFlag(graph.FlagOutput, true)

	schedule, groups, err := s.BuildSchedule([]graph.Id{small.Id(), large.Id()})
	require.NoError(t, err)
	require.Len(t, schedule, 2)
	require.Len(t, groups, 2)
	assert.Equal(t, 16, groups[0].Length, "groups sort by descending length")
	assert.Equal(t, 4, groups[1].Length)
}

func TestBuildScheduleBroadcastsScalarAcrossGroups(t *testing.T) {
	s := graph.NewStore()
	scalar := s.NewLiteral(graph.CPU, dtypes.Float32, 1, 0)
	small := s.NewStatement(graph.CPU, dtypes.Float32, 4, "$r0 = add $r1, $r2", scalar.Id())
	large := s.NewStatement(graph.CPU, dtypes.Float32, 16, "$r0 = add $r1, $r2", scalar.Id())
	small.SetFlag(graph.FlagOutput, true)
	large.SetFlag(graph.FlagOutput, true)

	schedule, groups, err := s.BuildSchedule([]graph.Id{small.Id(), large.Id()})
	require.NoError(t, err)
	require.Len(t, groups, 2)

	var scalarAppearances int
	for _, sv := range schedule {
		if sv.Id == scalar.Id() {
			scalarAppearances++
		}
	}
	assert.Equal(t, 2, scalarAppearances, "the broadcastable scalar is scheduled once per consuming group")
}

func TestBuildScheduleAllowsDirtyRoot(t *testing.T) {
	s := graph.NewStore()
	a := s.NewData(graph.CPU, dtypes.Float32, 4, nil)
	a.SetFlag(graph.FlagOutput, true)
	s.MarkSideEffect(a.Id())

	// A dirty variable scheduled as its own root is exactly how a
	// pending side-effect producer gets its write flushed.
	_, _, err := s.BuildSchedule([]graph.Id{a.Id()})
	assert.NoError(t, err)
}

func TestBuildScheduleRejectsDirtyDependency(t *testing.T) {
	s := graph.NewStore()
	a := s.NewData(graph.CPU, dtypes.Float32, 4, nil)
	s.MarkSideEffect(a.Id())
	b := s.NewStatement(graph.CPU, dtypes.Float32, 4, "$r0 = neg $r1", a.Id())
	b.SetFlag(graph.FlagOutput, true)

	// b depends on a, but a's pending write was never scheduled as its
	// own root, so reading it here would observe stale data.
	_, _, err := s.BuildSchedule([]graph.Id{b.Id()})
	assert.Error(t, err)
}
