package kernel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arrayjit/arrayjit/graph"
	"github.com/arrayjit/arrayjit/kernel"
)

func TestHistoryWrapsAtCapacity(t *testing.T) {
	h := kernel.NewHistory(2)
	k1 := kernel.Key{Backend: graph.CPU, Device: 0}
	k2 := kernel.Key{Backend: graph.CPU, Device: 1}
	k3 := kernel.Key{Backend: graph.CPU, Device: 2}

	for _, rec := range []struct {
		k kernel.Key
		n int
	}{{k1, 10}, {k2, 20}, {k3, 30}} {
		h.Record(rec.k, rec.n)
	}

	snap := h.Snapshot()
	assert.Len(t, snap, 2)
	assert.Equal(t, k2, snap[0].Key)
	assert.Equal(t, k3, snap[1].Key)
}
