package primitives

import "github.com/arrayjit/arrayjit/dtypes"

// ExpandBlockSize is the inner block width the expanded-reduction
// kernel processes per outer step.
const ExpandBlockSize = 128

// ExpandedReduce reduces data in ExpandBlockSize-sized inner blocks
// first, then folds the per-block partials, trading a second pass for
// better use of wide SIMD/GPU-warp reduction trees than a single flat
// Reduce over a very large array -- semantically identical to Reduce,
// distinguished so the two can be tested for agreement independently
// of block width.
func ExpandedReduce[T dtypes.Number](data []T, op ReduceOp) T {
	return ReduceBlocked(data, op, ExpandBlockSize)
}
