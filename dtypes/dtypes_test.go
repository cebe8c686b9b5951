package dtypes_test

import (
	"testing"

	"github.com/arrayjit/arrayjit/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSize(t *testing.T) {
	cases := map[dtypes.DType]int{
		dtypes.Bool:    1,
		dtypes.Int8:    1,
		dtypes.Int16:   2,
		dtypes.Half:    2,
		dtypes.Int32:   4,
		dtypes.Float32: 4,
		dtypes.Int64:   8,
		dtypes.Float64: 8,
		dtypes.Pointer: 8,
	}
	for dt, want := range cases {
		assert.Equal(t, want, dt.Size(), "dtype %s", dt)
	}
}

func TestClassification(t *testing.T) {
	assert.True(t, dtypes.Int32.IsInt())
	assert.False(t, dtypes.Int32.IsUnsigned())
	assert.True(t, dtypes.Uint32.IsUnsigned())
	assert.True(t, dtypes.Float64.IsFloat())
	assert.False(t, dtypes.Bool.IsFloat())
}

func TestMinMaxIdentities(t *testing.T) {
	require.Equal(t, int8(-128), dtypes.Int8.LowestValue())
	require.Equal(t, int8(127), dtypes.Int8.HighestValue())
	require.Equal(t, uint8(0), dtypes.Uint8.LowestValue())
	require.Equal(t, uint8(255), dtypes.Uint8.HighestValue())
}

func TestGoType(t *testing.T) {
	assert.Equal(t, "int32", dtypes.Int32.GoType().Name())
	assert.Equal(t, "float64", dtypes.Float64.GoType().Name())
}
