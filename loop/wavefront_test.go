package loop_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrayjit/arrayjit/dtypes"
	"github.com/arrayjit/arrayjit/graph"
	"github.com/arrayjit/arrayjit/loop"
)

func TestWavefrontRoundMasksInactiveLanes(t *testing.T) {
	s := graph.NewStore()
	initial := s.NewData(graph.CPU, dtypes.Int32, 4, []int32{0, 0, 0, 0})
	mask := s.NewData(graph.CPU, dtypes.Bool, 4, []bool{true, true, false, false})

	w := loop.NewWavefront(s, []graph.Id{initial.Id()})
	active := w.PushMask(mask.Id())
	assert.Equal(t, mask.Id(), active)

	step := s.NewLiteral(graph.CPU, dtypes.Int32, 4, 1)
	next, err := w.Round([]graph.Id{step.Id()})
	require.NoError(t, err)
	require.Len(t, next, 1)

	got := s.Get(next[0])
	require.NotNil(t, got)
	assert.Equal(t, graph.StatementText, got.Kind)
	assert.Contains(t, got.Stmt, "select")
}

func TestWavefrontPushPopMaskNesting(t *testing.T) {
	s := graph.NewStore()
	outer := s.NewData(graph.CPU, dtypes.Bool, 4, nil)
	inner := s.NewData(graph.CPU, dtypes.Bool, 4, nil)

	w := loop.NewWavefront(s, nil)
	w.PushMask(outer.Id())
	combined := w.PushMask(inner.Id())
	assert.NotEqual(t, outer.Id(), combined)
	assert.NotEqual(t, inner.Id(), combined)

	require.NoError(t, w.PopMask())
	assert.Equal(t, outer.Id(), w.ActiveMask())

	require.NoError(t, w.PopMask())
	assert.Equal(t, graph.Id(0), w.ActiveMask())

	assert.Error(t, w.PopMask())
}
