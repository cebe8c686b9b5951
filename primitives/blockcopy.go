package primitives

import "github.com/arrayjit/arrayjit/dtypes"

// BlockCopy replicates each input element k times to k contiguous
// output positions: dst[i*k+j] = src[i] for every i and every j in
// [0,k). len(dst) must be len(src)*k. k=1 degenerates to an ordinary
// elementwise copy.
func BlockCopy[T dtypes.Number](dst, src []T, k int) {
	if k <= 0 {
		k = 1
	}
	if k == 1 {
		n := len(src)
		if len(dst) < n {
			n = len(dst)
		}
		copy(dst[:n], src[:n])
		return
	}
	for i, v := range src {
		begin := i * k
		end := begin + k
		if end > len(dst) {
			end = len(dst)
		}
		for j := begin; j < end; j++ {
			dst[j] = v
		}
		if end < begin+k {
			break
		}
	}
}

// BlockSum reduces src in groups of k contiguous elements, writing one
// partial sum per group to dst. len(dst) must be
// ceil(len(src)/k).
func BlockSum[T dtypes.Number](dst, src []T, k int) {
	if k <= 0 {
		k = 1
	}
	for i := 0; i < len(dst); i++ {
		begin := i * k
		end := begin + k
		if end > len(src) {
			end = len(src)
		}
		var sum T
		for _, v := range src[begin:end] {
			sum += v
		}
		dst[i] = sum
	}
}
