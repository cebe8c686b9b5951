package primitives

import (
	"math"

	"github.com/arrayjit/arrayjit/dtypes"
)

// Reduce folds data down to a single value using op.
//
// Sum and Product are not guaranteed bitwise-reproducible for floating
// types across different block decompositions (floating addition is
// not associative); callers that need bitwise-reproducible results must
// restrict themselves to integer dtypes or to Min/Max/And/Or.
func Reduce[T dtypes.Number](data []T, op ReduceOp) T {
	identity := identityOf[T](op)
	acc := identity
	for _, v := range data {
		acc = apply(acc, v, op)
	}
	return acc
}

// ReduceBlocked performs the same fold as Reduce but decomposed into
// independent block-local partial reductions, then a final fold of the
// partials -- the CPU device's block decomposition, kept
// separate from Reduce so a test can assert the two agree for integer
// dtypes regardless of block size.
func ReduceBlocked[T dtypes.Number](data []T, op ReduceOp, blockSize int) T {
	if blockSize <= 0 {
		blockSize = len(data)
	}
	identity := identityOf[T](op)
	if len(data) == 0 {
		return identity
	}
	partials := make([]T, 0, (len(data)+blockSize-1)/blockSize)
	for begin := 0; begin < len(data); begin += blockSize {
		end := begin + blockSize
		if end > len(data) {
			end = len(data)
		}
		partials = append(partials, Reduce(data[begin:end], op))
	}
	return Reduce(partials, op)
}

// ReduceBool implements And/Or over a boolean array by scanning the
// bools directly, stopping at the first element that decides the
// result.
func ReduceBool(data []bool, op ReduceOp) bool {
	switch op {
	case ReduceAnd:
		for _, v := range data {
			if !v {
				return false
			}
		}
		return true
	case ReduceOr:
		for _, v := range data {
			if v {
				return true
			}
		}
		return false
	default:
		unsupportedOp(dtypes.Bool, op)
		return false
	}
}

func identityOf[T dtypes.Number](op ReduceOp) T {
	var dtype dtypes.DType
	switch any(T(0)).(type) {
	case int8:
		dtype = dtypes.Int8
	case int16:
		dtype = dtypes.Int16
	case int32:
		dtype = dtypes.Int32
	case int64:
		dtype = dtypes.Int64
	case uint8:
		dtype = dtypes.Uint8
	case uint16:
		dtype = dtypes.Uint16
	case uint32:
		dtype = dtypes.Uint32
	case uint64:
		dtype = dtypes.Uint64
	case float32:
		dtype = dtypes.Float32
	case float64:
		dtype = dtypes.Float64
	}

	switch op {
	case ReduceSum:
		return 0
	case ReduceProduct:
		return 1
	case ReduceMin:
		return dtype.HighestValue().(T)
	case ReduceMax:
		return dtype.LowestValue().(T)
	case ReduceOr:
		return bitsToT(0, T(0))
	case ReduceAnd:
		return bitsToT(allOnes(dtype.Size()*8), T(0))
	default:
		unsupportedOp(dtype, op)
		return 0
	}
}

// allOnes returns a bit pattern with its low width bits set, the
// identity element for And over a width-bit-wide value.
func allOnes(width int) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return uint64(1)<<width - 1
}

// bitsOf reinterprets v's bit pattern as an unsigned integer, the view
// ReduceAnd and ReduceOr work on.
func bitsOf[T dtypes.Number](v T) uint64 {
	switch x := any(v).(type) {
	case int8:
		return uint64(uint8(x))
	case int16:
		return uint64(uint16(x))
	case int32:
		return uint64(uint32(x))
	case int64:
		return uint64(x)
	case uint8:
		return uint64(x)
	case uint16:
		return uint64(x)
	case uint32:
		return uint64(x)
	case uint64:
		return x
	case float32:
		return uint64(math.Float32bits(x))
	case float64:
		return math.Float64bits(x)
	default:
		return 0
	}
}

// bitsToT is the inverse of bitsOf: it reinterprets bits as a value of
// T, using sample only to select which concrete type T is.
func bitsToT[T dtypes.Number](bits uint64, sample T) T {
	var out any
	switch any(sample).(type) {
	case int8:
		out = int8(uint8(bits))
	case int16:
		out = int16(uint16(bits))
	case int32:
		out = int32(uint32(bits))
	case int64:
		out = int64(bits)
	case uint8:
		out = uint8(bits)
	case uint16:
		out = uint16(bits)
	case uint32:
		out = uint32(bits)
	case uint64:
		out = bits
	case float32:
		out = math.Float32frombits(uint32(bits))
	case float64:
		out = math.Float64frombits(bits)
	default:
		out = sample
	}
	return out.(T)
}

func apply[T dtypes.Number](a, b T, op ReduceOp) T {
	switch op {
	case ReduceSum:
		return a + b
	case ReduceProduct:
		return a * b
	case ReduceMin:
		if b < a {
			return b
		}
		return a
	case ReduceMax:
		if b > a {
			return b
		}
		return a
	case ReduceAnd:
		return bitsToT(bitsOf(a)&bitsOf(b), a)
	case ReduceOr:
		return bitsToT(bitsOf(a)|bitsOf(b), a)
	default:
		var zero T
		unsupportedOp(dtypes.InvalidDType, op)
		return zero
	}
}
