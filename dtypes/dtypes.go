// Package dtypes defines the scalar type tags carried by every Variable
// in the trace graph: signed/unsigned integers of width 8/16/32/64,
// half/float/double, boolean, pointer, and void.
package dtypes

import (
	"math"
	"reflect"
	"strconv"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// panicf panics with a formatted, stack-annotated error.
//
// Only used for "bugs in the code" -- an invalid DType should never reach
// here if callers stick to the values this package defines.
func panicf(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}

// DType enumerates the scalar type tags a Variable may carry.
type DType int

const (
	InvalidDType DType = iota
	Bool
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Half
	Float32
	Float64
	Pointer
	Void
)

var dtypeNames = map[DType]string{
	InvalidDType: "Invalid",
	Bool:         "Bool",
	Int8:         "Int8",
	Int16:        "Int16",
	Int32:        "Int32",
	Int64:        "Int64",
	Uint8:        "Uint8",
	Uint16:       "Uint16",
	Uint32:       "Uint32",
	Uint64:       "Uint64",
	Half:         "Half",
	Float32:      "Float32",
	Float64:      "Float64",
	Pointer:      "Pointer",
	Void:         "Void",
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	if name, ok := dtypeNames[dtype]; ok {
		return name
	}
	return "Unknown"
}

// Size returns the number of bytes occupied by one element of dtype.
// Void and InvalidDType return 0.
func (dtype DType) Size() int {
	switch dtype {
	case Bool, Int8, Uint8:
		return 1
	case Int16, Uint16, Half:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64, Pointer:
		return 8
	default:
		return 0
	}
}

// IsFloat reports whether dtype is one of the supported floating types.
func (dtype DType) IsFloat() bool {
	return dtype == Half || dtype == Float32 || dtype == Float64
}

// IsInt reports whether dtype is a supported integer type.
func (dtype DType) IsInt() bool {
	switch dtype {
	case Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64:
		return true
	default:
		return false
	}
}

// IsUnsigned reports whether dtype is one of the unsigned integer types.
func (dtype DType) IsUnsigned() bool {
	switch dtype {
	case Uint8, Uint16, Uint32, Uint64:
		return true
	default:
		return false
	}
}

// GoType returns the reflect.Type corresponding to dtype, for use when
// marshalling parameters or allocating scratch buffers.
func (dtype DType) GoType() reflect.Type {
	switch dtype {
	case Bool:
		return reflect.TypeOf(false)
	case Int8:
		return reflect.TypeOf(int8(0))
	case Int16:
		return reflect.TypeOf(int16(0))
	case Int32:
		return reflect.TypeOf(int32(0))
	case Int64:
		return reflect.TypeOf(int64(0))
	case Uint8:
		return reflect.TypeOf(uint8(0))
	case Uint16:
		return reflect.TypeOf(uint16(0))
	case Uint32:
		return reflect.TypeOf(uint32(0))
	case Uint64:
		return reflect.TypeOf(uint64(0))
	case Half:
		return reflect.TypeOf(float16.Float16(0))
	case Float32:
		return reflect.TypeOf(float32(0))
	case Float64:
		return reflect.TypeOf(float64(0))
	case Pointer:
		return reflect.TypeOf(uintptr(0))
	default:
		panicf("dtype %s has no corresponding Go type", dtype)
		panic(nil)
	}
}

// LowestValue returns the identity element for Max reductions:
// the type's minimum representable value, or negative infinity for floats.
func (dtype DType) LowestValue() any {
	switch dtype {
	case Int8:
		return int8(-1 << 7)
	case Int16:
		return int16(-1 << 15)
	case Int32:
		return int32(-1 << 31)
	case Int64:
		return int64(-1 << 63)
	case Uint8, Uint16, Uint32, Uint64:
		return zeroOf(dtype)
	case Half:
		return float16.Inf(-1)
	case Float32:
		return float32(math.Inf(-1))
	case Float64:
		return math.Inf(-1)
	default:
		panicf("dtype %s has no LowestValue", dtype)
		panic(nil)
	}
}

// HighestValue returns the identity element for Min reductions:
// the type's maximum representable value, or positive infinity for floats.
func (dtype DType) HighestValue() any {
	switch dtype {
	case Int8:
		return int8(1<<7 - 1)
	case Int16:
		return int16(1<<15 - 1)
	case Int32:
		return int32(1<<31 - 1)
	case Int64:
		return int64(1<<63 - 1)
	case Uint8:
		return uint8(1<<8 - 1)
	case Uint16:
		return uint16(1<<16 - 1)
	case Uint32:
		return uint32(1<<32 - 1)
	case Uint64:
		return uint64(1<<64 - 1)
	case Half:
		return float16.Inf(1)
	case Float32:
		return float32(math.Inf(1))
	case Float64:
		return math.Inf(1)
	default:
		panicf("dtype %s has no HighestValue", dtype)
		panic(nil)
	}
}

func zeroOf(dtype DType) any {
	return reflect.New(dtype.GoType()).Elem().Interface()
}

func init() {
	if strconv.IntSize != 32 && strconv.IntSize != 64 {
		panicf("arrayjit requires a 32 or 64-bit platform, got %d bits", strconv.IntSize)
	}
}

// Number lists the Go numeric types corresponding to supported non-Half
// DTypes. Used as a generics constraint by the primitives package.
type Number interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64
}

// NumberOrHalf extends Number with float16.Float16 for kernels that
// special-case half precision.
type NumberOrHalf interface {
	Number | float16.Float16
}
