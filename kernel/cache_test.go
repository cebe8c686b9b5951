package kernel_test

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrayjit/arrayjit/assemble"
	"github.com/arrayjit/arrayjit/dtypes"
	"github.com/arrayjit/arrayjit/graph"
	"github.com/arrayjit/arrayjit/kernel"
)

type countingCompiler struct {
	calls atomic.Int32
}

func (c *countingCompiler) Compile(asm *assemble.Assembly) ([]byte, int, error) {
	c.calls.Add(1)
	return []byte{0xde, 0xad, 0xbe, 0xef}, 256, nil
}

func buildAssembly(t *testing.T) *assemble.Assembly {
	s := graph.NewStore()
	a := s.NewData(graph.CPU, dtypes.Float32, 8, nil)
	b := s.NewStatement(graph.CPU, dtypes.Float32, 8, "neg $r1", a.Id())
	b.SetFlag(graph.FlagOutput, true)

	schedule, groups, err := s.BuildSchedule([]graph.Id{b.Id()})
	require.NoError(t, err)
	asm, err := assemble.Assemble(s, schedule, groups[0], graph.CPU)
	require.NoError(t, err)
	return asm
}

func TestCacheCompilesOnceForSameKey(t *testing.T) {
	compiler := &countingCompiler{}
	cache := kernel.NewCache(compiler, nil, nil)
	asm := buildAssembly(t)
	key := kernel.Key{Hash: asm.Hash, Device: 0, Backend: graph.CPU}

	e1, err := cache.GetOrCompile(key, asm)
	require.NoError(t, err)
	e2, err := cache.GetOrCompile(key, asm)
	require.NoError(t, err)

	assert.Same(t, e1, e2)
	assert.EqualValues(t, 1, compiler.calls.Load())

	hits, _, hardMisses, _ := cache.Stats()
	assert.EqualValues(t, 1, hits)
	assert.EqualValues(t, 1, hardMisses)
}

func TestCacheDistinguishesFlags(t *testing.T) {
	compiler := &countingCompiler{}
	cache := kernel.NewCache(compiler, nil, nil)
	asm := buildAssembly(t)

	plain := kernel.Key{Hash: asm.Hash, Device: 0, Backend: graph.CPU}
	debug := kernel.Key{Hash: asm.Hash, Device: 0, Backend: graph.CPU, Flags: kernel.FlagDebug}

	_, err := cache.GetOrCompile(plain, asm)
	require.NoError(t, err)
	_, err = cache.GetOrCompile(debug, asm)
	require.NoError(t, err)

	assert.EqualValues(t, 2, compiler.calls.Load())
}
