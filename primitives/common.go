// Package primitives implements the parallel building blocks behind the
// device package's primitive operations for operations with no direct
// elementwise kernel form: reduction, prefix
// sum, stream compaction, bucketed permutation (mkperm), block
// copy/sum, and expanded reduction.
//
// Each primitive exposes a CPU implementation operating directly on Go
// slices -- called by the CPU device and exercised by this package's
// tests as the semantics reference -- plus shared bookkeeping (ReduceOp
// identities, GPU size thresholds). The GPU variants are not implemented
// here: the GPU device hands each primitive to its device.Driver.
package primitives

import (
	"github.com/gomlx/exceptions"

	"github.com/arrayjit/arrayjit/dtypes"
)

// ReduceOp enumerates the associative reduction operators this package
// supports. Sum/Product/Min/Max/And/Or are all defined for every integer
// and floating dtype; And/Or operate on the element's raw bit pattern
// (see bitsOf). Bool
// itself is handled separately by ReduceBool since it has no Number
// instantiation.
type ReduceOp uint8

const (
	ReduceSum ReduceOp = iota
	ReduceProduct
	ReduceMin
	ReduceMax
	ReduceAnd
	ReduceOr
)

// GPUSmallThreshold is the element count below which the GPU prefix-sum
// and compaction kernels use the single-block shared-memory path rather
// than the decoupled-look-back multi-block algorithm.
const GPUSmallThreshold = 1 << 16

func unsupportedOp(dtype dtypes.DType, op ReduceOp) {
	exceptions.Panicf("primitives: reduce op %d is not defined for dtype %s", op, dtype)
}
