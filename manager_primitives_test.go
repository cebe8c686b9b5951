package arrayjit_test

import (
	"context"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/arrayjit/arrayjit"
	"github.com/arrayjit/arrayjit/device"
	"github.com/arrayjit/arrayjit/dtypes"
	"github.com/arrayjit/arrayjit/graph"
	"github.com/arrayjit/arrayjit/hostfunc"
	"github.com/arrayjit/arrayjit/primitives"
)

func int32Bytes(values ...int32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		u := uint32(v)
		out[i*4] = byte(u)
		out[i*4+1] = byte(u >> 8)
		out[i*4+2] = byte(u >> 16)
		out[i*4+3] = byte(u >> 24)
	}
	return out
}

func TestManagerPokeThenReduceCompletesEndToEnd(t *testing.T) {
	m := arrayjit.NewManager(arrayjit.Config{Compiler: &stubCompiler{}})
	ctx := context.Background()

	buf, err := m.Malloc(graph.CPU, 12, device.Host)
	require.NoError(t, err)
	require.NoError(t, m.Poke(ctx, graph.CPU, buf, hostfunc.Literal(0, int32Bytes(4, -1, 9))))

	result, err := m.Malloc(graph.CPU, 4, device.Host)
	require.NoError(t, err)
	require.NoError(t, m.Reduce(ctx, graph.CPU, buf, dtypes.Int32, 3, primitives.ReduceSum, result))
}

func TestManagerAggregateMixesLiteralAndPointerEntries(t *testing.T) {
	m := arrayjit.NewManager(arrayjit.Config{Compiler: &stubCompiler{}})
	ctx := context.Background()

	buf, err := m.Malloc(graph.CPU, 8, device.Host)
	require.NoError(t, err)

	var batch hostfunc.Batch
	batch.Add(0, []byte{1, 2})
	ptrSrc := [2]byte{3, 4}
	batch.AddPointer(6, uintptr(unsafe.Pointer(&ptrSrc[0])), 2)

	require.NoError(t, m.Aggregate(ctx, graph.CPU, buf, batch))
}

func TestManagerPrefixSumCompressMkpermBlockOpsRunThroughManager(t *testing.T) {
	m := arrayjit.NewManager(arrayjit.Config{Compiler: &stubCompiler{}})
	ctx := context.Background()

	buf, err := m.Malloc(graph.CPU, 4*4, device.Host)
	require.NoError(t, err)
	require.NoError(t, m.Poke(ctx, graph.CPU, buf, hostfunc.Literal(0, int32Bytes(1, 2, 3, 4))))

	out, err := m.Malloc(graph.CPU, 4*4, device.Host)
	require.NoError(t, err)
	require.NoError(t, m.PrefixSum(ctx, graph.CPU, buf, out, dtypes.Uint32, 4, false))

	mask, err := m.Malloc(graph.CPU, 4, device.Host)
	require.NoError(t, err)
	require.NoError(t, m.Poke(ctx, graph.CPU, mask, hostfunc.Literal(0, []byte{1, 0, 1, 0})))
	compressed, err := m.Malloc(graph.CPU, 4*4, device.Host)
	require.NoError(t, err)
	_, err = m.Compress(ctx, graph.CPU, buf, mask, compressed, dtypes.Int32, 4)
	require.NoError(t, err)

	buckets, err := m.Malloc(graph.CPU, 4*4, device.Host)
	require.NoError(t, err)
	require.NoError(t, m.Poke(ctx, graph.CPU, buckets, hostfunc.Literal(0, int32Bytes(1, 0, 1, 0))))
	perm, err := m.Malloc(graph.CPU, 4*4, device.Host)
	require.NoError(t, err)
	offsets, err := m.Malloc(graph.CPU, 12*4, device.Host)
	require.NoError(t, err)
	require.NoError(t, m.Mkperm(ctx, graph.CPU, buckets, perm, offsets, 2, 4))

	dst, err := m.Malloc(graph.CPU, 8*4, device.Host)
	require.NoError(t, err)
	require.NoError(t, m.BlockCopy(ctx, graph.CPU, buf, dst, dtypes.Int32, 4, 2))

	sums, err := m.Malloc(graph.CPU, 2*4, device.Host)
	require.NoError(t, err)
	require.NoError(t, m.BlockSum(ctx, graph.CPU, buf, sums, dtypes.Int32, 4, 2))

	require.NoError(t, m.ReduceExpanded(ctx, graph.CPU, buf, dtypes.Int32, 2, 2, primitives.ReduceSum))
}
