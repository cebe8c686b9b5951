package primitives

// Compact writes the elements of data whose corresponding mask entry is
// true, in order, to the front of out, and returns the count written.
// out must be at least as long as data.
func Compact[T any](data []T, mask []bool, out []T) int {
	n := 0
	for i, keep := range mask {
		if keep {
			out[n] = data[i]
			n++
		}
	}
	return n
}

// CompactIndices is the index-only variant used when the caller already
// has a scatter target and only needs destination positions -- the same
// role as the exclusive scan of the mask in the GPU decoupled-look-back
// algorithm.
func CompactIndices(mask []bool) []int32 {
	offsets := make([]int32, len(mask))
	var running int32
	for i, keep := range mask {
		offsets[i] = running
		if keep {
			running++
		}
	}
	return offsets
}
