package primitives_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arrayjit/arrayjit/primitives"
)

func TestReduceSumProductMinMax(t *testing.T) {
	data := []int32{4, -1, 9, 2, 7}
	assert.Equal(t, int32(21), primitives.Reduce(data, primitives.ReduceSum))
	assert.Equal(t, int32(-504), primitives.Reduce(data, primitives.ReduceProduct))
	assert.Equal(t, int32(-1), primitives.Reduce(data, primitives.ReduceMin))
	assert.Equal(t, int32(9), primitives.Reduce(data, primitives.ReduceMax))
}

func TestReduceAndOrOverIntegers(t *testing.T) {
	data := []uint32{0xF0F0, 0xFFFF, 0xF0FF}
	assert.Equal(t, uint32(0xF0F0), primitives.Reduce(data, primitives.ReduceAnd))
	assert.Equal(t, uint32(0xFFFF), primitives.Reduce(data, primitives.ReduceOr))

	allSet := []int32{-1, -1, -1}
	assert.Equal(t, int32(-1), primitives.Reduce(allSet, primitives.ReduceAnd))
	oneZero := []int32{-1, 0, -1}
	assert.Equal(t, int32(0), primitives.Reduce(oneZero, primitives.ReduceAnd))
}

func TestReduceBlockedAgreesWithReduce(t *testing.T) {
	data := make([]int64, 257)
	for i := range data {
		data[i] = int64(i - 128)
	}
	want := primitives.Reduce(data, primitives.ReduceSum)
	for _, blockSize := range []int{1, 3, 16, 64, 257, 1000} {
		got := primitives.ReduceBlocked(data, primitives.ReduceSum, blockSize)
		assert.Equal(t, want, got, "blockSize=%d", blockSize)
	}
}

func TestReduceBoolAndOr(t *testing.T) {
	assert.True(t, primitives.ReduceBool([]bool{true, true, true}, primitives.ReduceAnd))
	assert.False(t, primitives.ReduceBool([]bool{true, false, true}, primitives.ReduceAnd))
	assert.True(t, primitives.ReduceBool([]bool{false, false, true}, primitives.ReduceOr))
	assert.False(t, primitives.ReduceBool([]bool{false, false, false}, primitives.ReduceOr))
}

func TestScanExclusiveInclusive(t *testing.T) {
	data := []int32{1, 2, 3, 4, 5}
	exclusive := make([]int32, len(data))
	inclusive := make([]int32, len(data))
	primitives.ScanExclusive(data, exclusive)
	primitives.ScanInclusive(data, inclusive)

	assert.Equal(t, []int32{0, 1, 3, 6, 10}, exclusive)
	assert.Equal(t, []int32{1, 3, 6, 10, 15}, inclusive)
}

func TestScanBlockedAgreesWithScanExclusive(t *testing.T) {
	data := make([]int32, 321)
	for i := range data {
		data[i] = int32(i % 7)
	}
	want := make([]int32, len(data))
	primitives.ScanExclusive(data, want)

	for _, blockSize := range []int{1, 4, 31, 321} {
		got := make([]int32, len(data))
		primitives.ScanBlocked(data, got, blockSize)
		assert.Equal(t, want, got, "blockSize=%d", blockSize)
	}
}

func TestCompact(t *testing.T) {
	data := []int{10, 20, 30, 40, 50}
	mask := []bool{true, false, true, false, true}
	out := make([]int, len(data))
	n := primitives.Compact(data, mask, out)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int{10, 30, 50}, out[:n])
}

func TestCompactIndicesMatchesCompact(t *testing.T) {
	mask := []bool{true, false, true, true, false, true}
	offsets := primitives.CompactIndices(mask)
	assert.Equal(t, []int32{0, 1, 1, 2, 3, 3}, offsets)
}

func TestMkpermGroupsByBucket(t *testing.T) {
	buckets := []uint32{2, 0, 1, 0, 2, 1}
	perm, offsets := primitives.Mkperm(buckets, 3)

	assert.Equal(t, []int32{
		0, 0, 2, 0,
		1, 2, 2, 0,
		2, 4, 2, 0,
		3, 0, 0, 0,
	}, offsets)

	for row := 0; row < 3; row++ {
		bucketID := offsets[row*4]
		start := offsets[row*4+1]
		runLength := offsets[row*4+2]
		for _, idx := range perm[start : start+runLength] {
			assert.EqualValues(t, bucketID, buckets[idx])
		}
	}
	assert.ElementsMatch(t, []int32{0, 1, 2, 3, 4, 5}, perm)
}

func TestMkpermOffsetsSkipEmptyBucketsAndCountDistinct(t *testing.T) {
	// The scattered-scenario test below never hits an empty bucket, so
	// exercise that case separately with a bucket id that never occurs.
	buckets := []uint32{2, 0, 2, 0, 2}
	perm, offsets := primitives.Mkperm(buckets, 3)

	assert.Equal(t, []int32{
		0, 0, 2, 0,
		2, 2, 3, 0,
		2, 0, 0, 0,
	}, offsets)
	assert.ElementsMatch(t, []int32{0, 1, 2, 3, 4}, perm)
}

func TestMkpermMatchesScatteredScenario(t *testing.T) {
	buckets := []uint32{2, 0, 2, 1, 0, 2}
	perm, offsets := primitives.Mkperm(buckets, 3)

	sorted := make([]uint32, len(buckets))
	for i, p := range perm {
		sorted[i] = buckets[p]
	}
	assert.Equal(t, []uint32{0, 0, 1, 2, 2, 2}, sorted)

	distinct := offsets[len(offsets)-4]
	assert.EqualValues(t, 3, distinct)
}

func TestMkpermHistogramMatchesOffsets(t *testing.T) {
	buckets := []uint32{0, 0, 1, 2, 2, 2}
	hist := primitives.MkpermHistogram(buckets, 3)
	assert.Equal(t, []int32{2, 1, 3}, hist)
}

func TestBlockSum(t *testing.T) {
	src := []int32{1, 2, 3, 4, 5, 6, 7}
	dst := make([]int32, 3)
	primitives.BlockSum(dst, src, 3)
	assert.Equal(t, []int32{6, 15, 7}, dst)
}

func TestBlockCopyReplicatesEachElementKTimes(t *testing.T) {
	src := []int32{1, 2, 3}
	dst := make([]int32, 9)
	primitives.BlockCopy(dst, src, 3)
	assert.Equal(t, []int32{1, 1, 1, 2, 2, 2, 3, 3, 3}, dst)
}

func TestBlockCopyKOneIsPlainCopy(t *testing.T) {
	src := []int32{1, 2, 3}
	dst := make([]int32, 3)
	primitives.BlockCopy(dst, src, 1)
	assert.Equal(t, src, dst)
}

func TestExpandedReduceAgreesWithReduce(t *testing.T) {
	data := make([]int32, 1000)
	for i := range data {
		data[i] = int32(i%13) - 6
	}
	assert.Equal(t, primitives.Reduce(data, primitives.ReduceSum), primitives.ExpandedReduce(data, primitives.ReduceSum))
}
