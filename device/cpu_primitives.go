package device

import (
	"context"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/arrayjit/arrayjit/dtypes"
	"github.com/arrayjit/arrayjit/internal/workerspool"
	"github.com/arrayjit/arrayjit/primitives"
)

// primitiveBlockWidth is the CPU worker-pool block width the
// block-decomposed primitives split their input into: one
// workerspool.Pool.Parallel call per block, the same fan-out/join shape
// LaunchKernel uses for an ordinary fused kernel.
const primitiveBlockWidth = 4096

// typedView reinterprets a byte slice as a slice of n elements of type
// T, sharing the same backing memory -- the same unsafe.Slice
// reinterpretation gomlx's tensor package uses to avoid a copy between
// a flat byte buffer and its typed view.
func typedView[T dtypes.Number](data []byte, n int) []T {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), n)
}

func putScalar[T dtypes.Number](dst []byte, v T) {
	copy(dst, unsafe.Slice((*byte)(unsafe.Pointer(&v)), int(unsafe.Sizeof(v))))
}

func (d *cpuDevice) Reduce(ctx context.Context, buf Buffer, dtype dtypes.DType, n int, op primitives.ReduceOp, result Buffer) error {
	data := d.bytes(buf)
	out := d.bytes(result)
	switch dtype {
	case dtypes.Int32:
		return reduceTyped(d.pool, typedView[int32](data, n), op, out)
	case dtypes.Uint32:
		return reduceTyped(d.pool, typedView[uint32](data, n), op, out)
	case dtypes.Int64:
		return reduceTyped(d.pool, typedView[int64](data, n), op, out)
	case dtypes.Uint64:
		return reduceTyped(d.pool, typedView[uint64](data, n), op, out)
	case dtypes.Float32:
		return reduceTyped(d.pool, typedView[float32](data, n), op, out)
	case dtypes.Float64:
		return reduceTyped(d.pool, typedView[float64](data, n), op, out)
	default:
		return errors.Errorf("device: reduce has no CPU specialization for dtype %s", dtype)
	}
}

func reduceTyped[T dtypes.Number](pool *workerspool.Pool, data []T, op primitives.ReduceOp, result []byte) error {
	if len(data) == 0 {
		var zero T
		putScalar(result, zero)
		return nil
	}
	numBlocks := (len(data) + primitiveBlockWidth - 1) / primitiveBlockWidth
	partials := make([]T, numBlocks)
	pool.Parallel(numBlocks, func(i int) {
		begin := i * primitiveBlockWidth
		end := begin + primitiveBlockWidth
		if end > len(data) {
			end = len(data)
		}
		partials[i] = primitives.Reduce(data[begin:end], op)
	})
	if numBlocks > 1 {
		return reduceTyped(pool, partials, op, result)
	}
	putScalar(result, partials[0])
	return nil
}

func (d *cpuDevice) PrefixSum(ctx context.Context, buf, out Buffer, dtype dtypes.DType, n int, inclusive bool) error {
	src := d.bytes(buf)
	dst := d.bytes(out)
	switch dtype {
	case dtypes.Uint32:
		prefixSumTyped(d.pool, typedView[uint32](src, n), typedView[uint32](dst, n), inclusive)
	case dtypes.Uint64:
		prefixSumTyped(d.pool, typedView[uint64](src, n), typedView[uint64](dst, n), inclusive)
	case dtypes.Float32:
		prefixSumTyped(d.pool, typedView[float32](src, n), typedView[float32](dst, n), inclusive)
	case dtypes.Float64:
		prefixSumTyped(d.pool, typedView[float64](src, n), typedView[float64](dst, n), inclusive)
	default:
		return errors.Errorf("device: prefix sum has no CPU specialization for dtype %s", dtype)
	}
	return nil
}

// prefixSumTyped is the worker-pool-parallel counterpart of
// primitives.ScanBlocked: phase 1 computes each block's total and then
// its local exclusive or inclusive scan in parallel, the block totals are
// exclusive-scanned serially (cheap relative to the element-wise work),
// then phase 2 shifts each block by its carried-in base in parallel.
// Each block's input is read before its output is written, so out may
// alias data.
func prefixSumTyped[T dtypes.Number](pool *workerspool.Pool, data, out []T, inclusive bool) {
	n := len(data)
	if n == 0 {
		return
	}
	numBlocks := (n + primitiveBlockWidth - 1) / primitiveBlockWidth
	totals := make([]T, numBlocks)
	pool.Parallel(numBlocks, func(i int) {
		begin := i * primitiveBlockWidth
		end := begin + primitiveBlockWidth
		if end > n {
			end = n
		}
		var sum T
		for _, v := range data[begin:end] {
			sum += v
		}
		totals[i] = sum
		if inclusive {
			primitives.ScanInclusive(data[begin:end], out[begin:end])
		} else {
			primitives.ScanExclusive(data[begin:end], out[begin:end])
		}
	})
	offsets := make([]T, numBlocks)
	primitives.ScanExclusive(totals, offsets)
	pool.Parallel(numBlocks, func(i int) {
		begin := i * primitiveBlockWidth
		end := begin + primitiveBlockWidth
		if end > n {
			end = n
		}
		base := offsets[i]
		for j := begin; j < end; j++ {
			out[j] += base
		}
	})
}

func (d *cpuDevice) Compress(ctx context.Context, buf, mask, out Buffer, dtype dtypes.DType, n int) (int, error) {
	maskBytes := d.bytes(mask)[:n]
	switch dtype {
	case dtypes.Int32:
		return compressTyped(d.pool, typedView[int32](d.bytes(buf), n), maskBytes, typedView[int32](d.bytes(out), n)), nil
	case dtypes.Uint32:
		return compressTyped(d.pool, typedView[uint32](d.bytes(buf), n), maskBytes, typedView[uint32](d.bytes(out), n)), nil
	case dtypes.Int64:
		return compressTyped(d.pool, typedView[int64](d.bytes(buf), n), maskBytes, typedView[int64](d.bytes(out), n)), nil
	case dtypes.Uint64:
		return compressTyped(d.pool, typedView[uint64](d.bytes(buf), n), maskBytes, typedView[uint64](d.bytes(out), n)), nil
	case dtypes.Float32:
		return compressTyped(d.pool, typedView[float32](d.bytes(buf), n), maskBytes, typedView[float32](d.bytes(out), n)), nil
	case dtypes.Float64:
		return compressTyped(d.pool, typedView[float64](d.bytes(buf), n), maskBytes, typedView[float64](d.bytes(out), n)), nil
	default:
		return 0, errors.Errorf("device: compress has no CPU specialization for dtype %s", dtype)
	}
}

// compressTyped is the block-decomposed counterpart of
// primitives.Compact: per-block mask counts run in parallel, their
// exclusive scan (primitives.ScanExclusive) gives each block its
// starting offset, then every block writes its kept elements in
// parallel.
func compressTyped[T dtypes.Number](pool *workerspool.Pool, data []T, mask []byte, out []T) int {
	n := len(data)
	if n == 0 {
		return 0
	}
	numBlocks := (n + primitiveBlockWidth - 1) / primitiveBlockWidth
	counts := make([]int32, numBlocks)
	pool.Parallel(numBlocks, func(i int) {
		begin := i * primitiveBlockWidth
		end := begin + primitiveBlockWidth
		if end > n {
			end = n
		}
		for _, m := range mask[begin:end] {
			if m != 0 {
				counts[i]++
			}
		}
	})
	offsets := make([]int32, numBlocks)
	primitives.ScanExclusive(counts, offsets)
	pool.Parallel(numBlocks, func(i int) {
		begin := i * primitiveBlockWidth
		end := begin + primitiveBlockWidth
		if end > n {
			end = n
		}
		pos := offsets[i]
		for j := begin; j < end; j++ {
			if mask[j] != 0 {
				out[pos] = data[j]
				pos++
			}
		}
	})
	var total int32
	for _, c := range counts {
		total += c
	}
	return int(total)
}

func (d *cpuDevice) Mkperm(ctx context.Context, buckets, perm, offsets Buffer, numBuckets, n int) error {
	bucketData := typedView[uint32](d.bytes(buckets), n)
	p, o := primitives.Mkperm(bucketData, numBuckets)
	copy(typedView[int32](d.bytes(perm), len(p)), p)
	copy(typedView[int32](d.bytes(offsets), len(o)), o)
	return nil
}

func (d *cpuDevice) BlockCopy(ctx context.Context, src, dst Buffer, dtype dtypes.DType, n, k int) error {
	switch dtype {
	case dtypes.Int32:
		primitives.BlockCopy(typedView[int32](d.bytes(dst), n*k), typedView[int32](d.bytes(src), n), k)
	case dtypes.Uint32:
		primitives.BlockCopy(typedView[uint32](d.bytes(dst), n*k), typedView[uint32](d.bytes(src), n), k)
	case dtypes.Float32:
		primitives.BlockCopy(typedView[float32](d.bytes(dst), n*k), typedView[float32](d.bytes(src), n), k)
	case dtypes.Float64:
		primitives.BlockCopy(typedView[float64](d.bytes(dst), n*k), typedView[float64](d.bytes(src), n), k)
	default:
		return errors.Errorf("device: block copy has no CPU specialization for dtype %s", dtype)
	}
	return nil
}

func (d *cpuDevice) BlockSum(ctx context.Context, src, dst Buffer, dtype dtypes.DType, n, k int) error {
	numGroups := (n + k - 1) / k
	switch dtype {
	case dtypes.Int32:
		primitives.BlockSum(typedView[int32](d.bytes(dst), numGroups), typedView[int32](d.bytes(src), n), k)
	case dtypes.Uint32:
		primitives.BlockSum(typedView[uint32](d.bytes(dst), numGroups), typedView[uint32](d.bytes(src), n), k)
	case dtypes.Float32:
		primitives.BlockSum(typedView[float32](d.bytes(dst), numGroups), typedView[float32](d.bytes(src), n), k)
	case dtypes.Float64:
		primitives.BlockSum(typedView[float64](d.bytes(dst), numGroups), typedView[float64](d.bytes(src), n), k)
	default:
		return errors.Errorf("device: block sum has no CPU specialization for dtype %s", dtype)
	}
	return nil
}

func (d *cpuDevice) ReduceExpanded(ctx context.Context, buf Buffer, dtype dtypes.DType, size, exp int, op primitives.ReduceOp) error {
	switch dtype {
	case dtypes.Int32:
		data := typedView[int32](d.bytes(buf), size*exp)
		copy(data[:size], expandedFold(data, size, exp, op))
	case dtypes.Uint32:
		data := typedView[uint32](d.bytes(buf), size*exp)
		copy(data[:size], expandedFold(data, size, exp, op))
	case dtypes.Float32:
		data := typedView[float32](d.bytes(buf), size*exp)
		copy(data[:size], expandedFold(data, size, exp, op))
	case dtypes.Float64:
		data := typedView[float64](d.bytes(buf), size*exp)
		copy(data[:size], expandedFold(data, size, exp, op))
	default:
		return errors.Errorf("device: expanded reduction has no CPU specialization for dtype %s", dtype)
	}
	return nil
}

// expandedFold folds exp contiguous size-length stripes of data down to
// one stripe, element by element, via primitives.ExpandedReduce.
func expandedFold[T dtypes.Number](data []T, size, exp int, op primitives.ReduceOp) []T {
	out := make([]T, size)
	stripe := make([]T, exp)
	for i := 0; i < size; i++ {
		for s := 0; s < exp; s++ {
			stripe[s] = data[s*size+i]
		}
		out[i] = primitives.ExpandedReduce(stripe, op)
	}
	return out
}

func (d *cpuDevice) ReadPointer(ctx context.Context, ptr uintptr, size int) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	// ptr is an externally-owned host address, not one of this device's
	// own registry handles: the only case in this package where a raw
	// address, rather than a Buffer, is dereferenced directly.
	view := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size)
	out := make([]byte, size)
	copy(out, view)
	return out, nil
}

func (d *cpuDevice) WriteHost(ctx context.Context, dst Buffer, offset int, data []byte) error {
	b := d.bytes(dst)
	if offset < 0 || offset+len(data) > len(b) {
		return errors.Errorf("device: write of %d bytes at offset %d overruns buffer of length %d", len(data), offset, len(b))
	}
	copy(b[offset:], data)
	return nil
}
