package loop

import (
	"github.com/pkg/errors"

	"github.com/arrayjit/arrayjit/graph"
)

// WavefrontBuilder is the fallback loop strategy for graphs the
// recording builder cannot fold into one recurrence: instead
// of one kernel representing every iteration via placeholder
// interposition, it emits one kernel per iteration and keeps a stack of
// per-lane masks so that lanes whose condition already went false stop
// being updated while other lanes keep iterating.
//
// Unlike Builder, WavefrontBuilder does not itself decide when to stop:
// each Round call records exactly one iteration's worth of masked
// select statements and returns the new current values; the caller
// (which owns the evaluator) decides whether to invoke Round again
// based on whether the just-evaluated mask has any active lane left.
type WavefrontBuilder struct {
	store     *graph.Store
	current   []graph.Id
	maskStack []graph.Id
}

// NewWavefront starts a wavefront loop over the given loop-carried
// variables' initial values.
func NewWavefront(store *graph.Store, initial []graph.Id) *WavefrontBuilder {
	return &WavefrontBuilder{
		store:   store,
		current: append([]graph.Id(nil), initial...),
	}
}

// PushMask combines cond with the active mask (the logical AND of every
// mask currently on the stack) and pushes the result, narrowing which
// lanes the next Round will update. Used when a loop is recorded inside
// another loop's body, so an
// outer loop's already-inactive lanes stay inactive inside the inner one.
func (w *WavefrontBuilder) PushMask(cond graph.Id) graph.Id {
	if len(w.maskStack) == 0 {
		w.maskStack = append(w.maskStack, cond)
		return cond
	}
	parent := w.maskStack[len(w.maskStack)-1]
	c := w.store.Get(cond)
	combined := w.store.NewStatement(c.Backend, c.DType, c.Size, "and $r1, $r2", parent, cond)
	w.maskStack = append(w.maskStack, combined.Id())
	return combined.Id()
}

// PopMask removes the most recently pushed mask, returning to the
// enclosing loop's active-lane set.
func (w *WavefrontBuilder) PopMask() error {
	if len(w.maskStack) == 0 {
		return errors.New("loop: PopMask with no mask on the stack")
	}
	w.maskStack = w.maskStack[:len(w.maskStack)-1]
	return nil
}

// ActiveMask returns the current innermost mask, or 0 if no mask has
// been pushed (every lane active).
func (w *WavefrontBuilder) ActiveMask() graph.Id {
	if len(w.maskStack) == 0 {
		return 0
	}
	return w.maskStack[len(w.maskStack)-1]
}

// Round records one iteration: next[i] becomes current[i] for lanes
// outside the active mask, and next[i] for lanes inside it, then
// becomes the new current value for variable i.
func (w *WavefrontBuilder) Round(next []graph.Id) ([]graph.Id, error) {
	if len(next) != len(w.current) {
		return nil, errors.Errorf("loop: Round got %d values, wavefront loop carries %d", len(next), len(w.current))
	}
	mask := w.ActiveMask()
	out := make([]graph.Id, len(w.current))
	for i, cur := range w.current {
		if mask == 0 {
			out[i] = next[i]
			continue
		}
		v := w.store.Get(cur)
		masked := w.store.NewStatement(v.Backend, v.DType, v.Size, "select $r1, $r2, $r3", mask, next[i], cur)
		out[i] = masked.Id()
	}
	w.current = out
	return out, nil
}

// Current returns the loop-carried variables' values as of the last
// completed round (or the initial values, if no round has run yet).
func (w *WavefrontBuilder) Current() []graph.Id {
	return append([]graph.Id(nil), w.current...)
}
