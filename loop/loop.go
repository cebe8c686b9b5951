// Package loop implements the recorded-loop builder: a state
// machine that lets a caller record a loop body once and fold it into
// the trace graph as a single loop node, using placeholder
// interposition so statements recorded against a loop-carried
// variable's id keep working once the body is closed -- the
// placeholder stays a permanently inert leaf, and Close hands back a
// fresh id per carried variable denoting its value once the loop
// terminates.
//
// A Builder that fails partway through recording rolls the store back
// to the watermark taken at construction rather than leaving orphaned
// variables behind.
package loop

import (
	"github.com/pkg/errors"

	"github.com/arrayjit/arrayjit/graph"
)

// State is the Builder's position in its lifecycle.
type State uint8

const (
	Uninitialized State = iota
	Initialized
	BodyRecorded
	Closed
)

type loopVar struct {
	placeholder graph.Id
	current     graph.Id
	backend     graph.Backend
}

// Builder records one counted or conditioned loop as a recurrence over
// a fixed set of loop-carried variables.
type Builder struct {
	store     *graph.Store
	state     State
	watermark graph.Id
	vars      []loopVar
	next      []graph.Id
}

// New returns a Builder over store, uninitialized.
func New(store *graph.Store) *Builder {
	return &Builder{store: store, state: Uninitialized, watermark: store.Watermark()}
}

// Init declares the loop-carried variables, seeded with their values on
// entry to the loop, and returns one placeholder id per variable: body
// statements recorded after Init must reference these placeholder ids
// wherever they mean "this iteration's value of the loop variable",
// never the original initial ids directly.
func (b *Builder) Init(initial []*graph.Variable) ([]graph.Id, error) {
	if b.state != Uninitialized {
		return nil, errors.New("loop: Init called twice")
	}
	if len(initial) == 0 {
		return nil, errors.New("loop: a loop needs at least one loop-carried variable")
	}

	ids := make([]graph.Id, len(initial))
	b.vars = make([]loopVar, len(initial))
	for i, v := range initial {
		ph := b.store.NewPlaceholder(v.Backend, v.DType, v.Size)
		b.vars[i] = loopVar{placeholder: ph.Id(), current: v.Id(), backend: v.Backend}
		ids[i] = ph.Id()
	}
	b.state = Initialized
	return ids, nil
}

// SetNext records the value each loop-carried variable takes at the end
// of one body execution, ordered the same as the ids Init returned.
// Body statements recorded between Init and SetNext reference the
// placeholder ids; SetNext's arguments are typically the last statement
// of that recorded chain, not the placeholders themselves.
func (b *Builder) SetNext(next []graph.Id) error {
	if b.state != Initialized {
		return errors.New("loop: SetNext called before Init or after the body was already recorded")
	}
	if len(next) != len(b.vars) {
		return errors.Errorf("loop: SetNext got %d values, loop has %d carried variables", len(next), len(b.vars))
	}
	b.next = next
	b.state = BodyRecorded
	return nil
}

// Close folds the recorded body into a single loop node: one whose
// entry identifiers are the placeholders Init handed out, whose exit
// identifiers are SetNext's arguments, and whose mask is cond -- the
// condition expression, itself built from the placeholder ids so it is
// re-evaluated against each iteration's live values. It returns one
// fresh id per loop-carried variable, replacing the placeholder in the
// caller's own tracking slots; the placeholder itself is never
// resolved in place, since that would create a dependency cycle back
// through the loop node its own exit statements feed.
func (b *Builder) Close(cond graph.Id) ([]graph.Id, error) {
	if b.state != BodyRecorded {
		return nil, errors.New("loop: Close called before the body was recorded with SetNext")
	}

	maskVar := b.store.Get(cond)
	if maskVar == nil {
		return nil, errors.Errorf("loop: condition variable %d does not exist", cond)
	}

	initial := make([]graph.Id, len(b.vars))
	entry := make([]graph.Id, len(b.vars))
	for i, lv := range b.vars {
		initial[i] = lv.current
		entry[i] = lv.placeholder
	}

	first := b.store.Get(b.vars[0].placeholder)
	loopNode := b.store.NewLoop(first.Backend, first.DType, first.Size, &graph.LoopInfo{
		Initial: initial,
		Entry:   entry,
		Exit:    append([]graph.Id(nil), b.next...),
		Mask:    cond,
	})

	resolved := make([]graph.Id, len(b.vars))
	for i, lv := range b.vars {
		ph := b.store.Get(lv.placeholder)
		out := b.store.NewLoopOutput(lv.backend, ph.DType, ph.Size, loopNode.Id(), i)
		resolved[i] = out.Id()
	}

	b.state = Closed
	return resolved, nil
}

// Abort rolls the store back to the state it was in when this Builder
// was constructed, discarding every placeholder and body statement
// recorded so far. Call this instead of Close when recording fails
// partway through.
func (b *Builder) Abort() {
	b.store.Rollback(b.watermark)
	b.state = Closed
}

// State reports the Builder's current lifecycle position.
func (b *Builder) State() State { return b.state }
