package primitives

import "github.com/arrayjit/arrayjit/dtypes"

// ScanExclusive writes to out[i] the sum of data[0:i]. out and data
// must have the same length and may alias.
func ScanExclusive[T dtypes.Number](data []T, out []T) {
	var running T
	for i, v := range data {
		out[i] = running
		running += v
	}
}

// ScanInclusive writes to out[i] the sum of data[0:i+1].
func ScanInclusive[T dtypes.Number](data []T, out []T) {
	var running T
	for i, v := range data {
		running += v
		out[i] = running
	}
}

// ScanBlocked is the CPU device's two-phase block decomposition of
// ScanExclusive: each block computes its local exclusive
// scan and total, block totals are exclusive-scanned to produce
// per-block offsets, then every block's local scan is shifted by its
// offset. Equivalent to ScanExclusive for any blockSize >= 1.
func ScanBlocked[T dtypes.Number](data []T, out []T, blockSize int) {
	if blockSize <= 0 || blockSize > len(data) {
		blockSize = len(data)
	}
	if blockSize == 0 {
		return
	}
	numBlocks := (len(data) + blockSize - 1) / blockSize
	totals := make([]T, numBlocks)
	for b := 0; b < numBlocks; b++ {
		begin := b * blockSize
		end := begin + blockSize
		if end > len(data) {
			end = len(data)
		}
		ScanExclusive(data[begin:end], out[begin:end])
		var sum T
		for _, v := range data[begin:end] {
			sum += v
		}
		totals[b] = sum
	}
	offsets := make([]T, numBlocks)
	ScanExclusive(totals, offsets)
	for b := 0; b < numBlocks; b++ {
		begin := b * blockSize
		end := begin + blockSize
		if end > len(data) {
			end = len(data)
		}
		for i := begin; i < end; i++ {
			out[i] += offsets[b]
		}
	}
}
