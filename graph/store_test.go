package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrayjit/arrayjit/dtypes"
	"github.com/arrayjit/arrayjit/graph"
)

func TestNewStatementLinksDeps(t *testing.T) {
	s := graph.NewStore()
	a := s.NewLiteral(graph.CPU, dtypes.Int32, 1, 0)
	b := s.NewLiteral(graph.CPU, dtypes.Int32, 1, 1)
	sum := s.NewStatement(graph.CPU, dtypes.Int32, 1, "$r0 = add $r1, $r2", a.Id(), b.Id())

	require.NotNil(t, sum)
	assert.EqualValues(t, 1, a.RefInternal)
	assert.EqualValues(t, 1, b.RefInternal)
}

func TestDecRefCascadesFree(t *testing.T) {
	s := graph.NewStore()
	a := s.NewLiteral(graph.CPU, dtypes.Int32, 1, 0)
	b := s.NewStatement(graph.CPU, dtypes.Int32, 1, "$r0 = neg $r1", a.Id())
	s.IncRef(b.Id())

	assert.Equal(t, 2, s.Len())

	s.DecRef(b.Id())
	assert.Equal(t, 0, s.Len(), "freeing the only external handle should cascade to the dependency")
}

func TestDecRefKeepsSharedDependency(t *testing.T) {
	s := graph.NewStore()
	a := s.NewLiteral(graph.CPU, dtypes.Int32, 1, 0)
	b := s.NewStatement(graph.CPU, dtypes.Int32, 1, "$r0 = neg $r1", a.Id())
	s.IncRef(a.Id())
	s.IncRef(b.Id())

	s.DecRef(b.Id())
	assert.Equal(t, 1, s.Len(), "a is still externally referenced directly")
}

func TestDirtyVariableBlocksFree(t *testing.T) {
	s := graph.NewStore()
	a := s.NewData(graph.CPU, dtypes.Float32, 4, []float32{1, 2, 3, 4})
	s.IncRef(a.Id())
	s.MarkSideEffect(a.Id())

	s.DecRef(a.Id())
	assert.Equal(t, 1, s.Len(), "a dirty variable must survive until its side effect clears")

	s.ClearSideEffect(a.Id())
	assert.Equal(t, 0, s.Len(), "clearing the side effect should let the freed variable go")
}

func TestPlaceholderResolve(t *testing.T) {
	s := graph.NewStore()
	ph := s.NewPlaceholder(graph.CPU, dtypes.Int32, 1)
	assert.Equal(t, graph.StatementPlaceholder, ph.Kind)

	a := s.NewLiteral(graph.CPU, dtypes.Int32, 1, 42)
	s.Resolve(ph.Id(), "$r0 = mov $r1", a.Id())

	got := s.Get(ph.Id())
	require.NotNil(t, got)
	assert.Equal(t, graph.StatementText, got.Kind)
	assert.EqualValues(t, 1, a.RefInternal)
}
