package arrayjit

import (
	"github.com/google/uuid"

	"github.com/arrayjit/arrayjit/graph"
)

// ThreadState is the per-goroutine recording context: the
// set of roots and pending side effects accumulated by tracing calls
// before the next Eval, plus the flags in effect for this goroutine.
//
// Identified by a random UUID rather than the goroutine id (Go exposes
// no stable goroutine id); used only for diagnostics, never for
// correctness.
type ThreadState struct {
	ID    uuid.UUID
	Flags Flags

	roots       []graph.Id
	sideEffects []graph.Id
}

// NewThreadState returns a ThreadState with flags merged on top of
// DefaultFlags.
func NewThreadState(flags Flags) *ThreadState {
	return &ThreadState{
		ID:    uuid.New(),
		Flags: DefaultFlags | flags,
	}
}

// AddRoot marks id as a value this thread wants evaluated on the next Eval.
func (ts *ThreadState) AddRoot(id graph.Id) {
	ts.roots = append(ts.roots, id)
}

// AddSideEffect records id as carrying a pending write this thread
// needs flushed on the next Eval.
func (ts *ThreadState) AddSideEffect(id graph.Id) {
	ts.sideEffects = append(ts.sideEffects, id)
}

// Roots returns the accumulated root list.
func (ts *ThreadState) Roots() []graph.Id { return ts.roots }

// SideEffects returns the accumulated side-effect list.
func (ts *ThreadState) SideEffects() []graph.Id { return ts.sideEffects }

// Reset clears the accumulated roots and side effects, called once
// Eval has scheduled and run them.
func (ts *ThreadState) Reset() {
	ts.roots = ts.roots[:0]
	ts.sideEffects = ts.sideEffects[:0]
}
