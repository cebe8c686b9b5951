// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolParallelRunsEveryIndexOnce(t *testing.T) {
	pool := New()

	var seen [16]atomic.Int32
	pool.Parallel(len(seen), func(i int) {
		seen[i].Add(1)
	})

	for i := range seen {
		assert.EqualValues(t, 1, seen[i].Load(), "index %d", i)
	}
}

func TestPoolParallelNoopOnNonPositiveN(t *testing.T) {
	pool := New()
	called := false
	pool.Parallel(0, func(int) { called = true })
	pool.Parallel(-3, func(int) { called = true })
	assert.False(t, called)
}

func TestPoolParallelRunsInlineWhenDisabled(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(0)

	var count atomic.Int32
	pool.Parallel(4, func(int) { count.Add(1) })
	assert.EqualValues(t, 4, count.Load())
}

// TestPoolParallelNestedCallDoesNotStarve drives a small, tightly
// capped pool with a Parallel call whose own work units each call
// Parallel again -- the shape a block-decomposed primitive takes when
// it runs from inside an already-running pool worker. Without
// WorkerIsAsleep/WorkerRestarted bracketing the outer dispatch and join, the inner
// calls would compete against the outer call's own occupied workers
// under lockedIsFull's soft cap and this test would hang.
func TestPoolParallelNestedCallDoesNotStarve(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(1)

	var innerCalls atomic.Int32
	pool.Parallel(3, func(int) {
		pool.Parallel(3, func(int) {
			innerCalls.Add(1)
		})
	})
	assert.EqualValues(t, 9, innerCalls.Load())
}

func TestPoolStartIfAvailableFalseWhenSaturated(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(1)

	block := make(chan struct{})
	release := make(chan struct{})
	started := make(chan struct{}, 8)

	// Saturate the pool (goroutineToParallelismRatio*1 + 0 = 2 slots)
	// with tasks that wait on block, then confirm a further
	// StartIfAvailable call is refused until one releases.
	for i := 0; i < 2; i++ {
		ok := pool.StartIfAvailable(func() {
			started <- struct{}{}
			<-block
		})
		assert.True(t, ok)
	}
	<-started
	<-started

	assert.False(t, pool.StartIfAvailable(func() { close(release) }))
	close(block)
}
