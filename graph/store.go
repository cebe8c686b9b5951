package graph

import (
	"k8s.io/klog/v2"

	"github.com/arrayjit/arrayjit/dtypes"
)

// Store is the node store for one evaluation epoch: it owns Variable
// allocation, dependency bookkeeping and reference counting.
//
// Store is not safe for concurrent use; callers serialize access through
// the Manager's global mutex.
type Store struct {
	vars   map[Id]*Variable
	nextId Id
}

// NewStore returns an empty node store.
func NewStore() *Store {
	return &Store{
		vars:   make(map[Id]*Variable),
		nextId: 1,
	}
}

// Get returns the variable for id, or nil if it does not exist (already
// freed, or never allocated).
func (s *Store) Get(id Id) *Variable {
	if id == 0 {
		return nil
	}
	return s.vars[id]
}

// MustGet returns the variable for id, panicking (internal invariant
// breach) if it does not exist.
func (s *Store) MustGet(id Id) *Variable {
	v := s.Get(id)
	if v == nil {
		klog.Errorf("arrayjit: reference to unknown or already-freed variable %d", id)
		panicMissing(id)
	}
	return v
}

func panicMissing(id Id) {
	panic(errMissing(id))
}

func errMissing(id Id) error {
	return errContractViolation("variable %d does not exist or was already freed", id)
}

// alloc reserves a fresh id and inserts v, linking dependencies by
// incrementing their internal reference count.
//
// Every variable starts flagged as an output: BuildSchedule clears the
// flag the first time it sees the variable consumed as another
// variable's dependency, so only variables nothing else in the
// schedule depends on remain flagged once scheduling finishes.
func (s *Store) alloc(v *Variable) *Variable {
	v.id = s.nextId
	s.nextId++
	v.Flags |= FlagOutput
	v.checkStatementInvariant()
	s.vars[v.id] = v
	for _, dep := range v.Deps {
		if dep == 0 {
			continue
		}
		d := s.MustGet(dep)
		d.RefInternal++
	}
	if v.Extra != nil {
		for _, dep := range v.Extra.AuxDeps {
			if dep == 0 {
				continue
			}
			d := s.MustGet(dep)
			d.RefInternal++
		}
	}
	return v
}

// NewLiteral creates a variable holding an immediate constant.
func (s *Store) NewLiteral(backend Backend, dtype dtypes.DType, size int, bits uint64) *Variable {
	return s.alloc(&Variable{
		Backend: backend,
		DType:   dtype,
		Size:    size,
		Kind:    StatementLiteral,
		Literal: bits,
	})
}

// NewData creates a variable wrapping already-materialized data (an
// evaluated array, or a user-supplied input buffer).
func (s *Store) NewData(backend Backend, dtype dtypes.DType, size int, data any) *Variable {
	return s.alloc(&Variable{
		Backend: backend,
		DType:   dtype,
		Size:    size,
		Kind:    StatementData,
		Data:    data,
	})
}

// NewStatement creates a variable computed from a textual operation
// template over up to four dependencies.
func (s *Store) NewStatement(backend Backend, dtype dtypes.DType, size int, stmt string, deps ...Id) *Variable {
	if len(deps) > 4 {
		panic(errContractViolation("statement has %d dependencies, at most 4 are supported", len(deps)))
	}
	v := &Variable{
		Backend: backend,
		DType:   dtype,
		Size:    size,
		Kind:    StatementText,
		Stmt:    stmt,
	}
	copy(v.Deps[:], deps)
	return s.alloc(v)
}

// NewLoop creates the loop node binding a recorded loop's entry/exit
// wiring together. Initial, Exit, and (if set) Mask are folded into
// Extra.AuxDeps -- not the fixed Deps slots, since a loop may carry more
// than four variables -- so the existing dependency-walking machinery
// schedules the body ahead of the node and releases its references on
// cleanup with no special-casing. Entry placeholders are deliberately
// left out of AuxDeps: they are reached only as leaves of the
// statements in Exit, which is what keeps the graph acyclic.
func (s *Store) NewLoop(backend Backend, dtype dtypes.DType, size int, info *LoopInfo) *Variable {
	aux := make([]Id, 0, len(info.Initial)+len(info.Exit)+1)
	aux = append(aux, info.Initial...)
	aux = append(aux, info.Exit...)
	if info.Mask != 0 {
		aux = append(aux, info.Mask)
	}
	return s.alloc(&Variable{
		Backend: backend,
		DType:   dtype,
		Size:    size,
		Kind:    StatementLoop,
		Extra:   &Extra{Loop: info, AuxDeps: aux},
	})
}

// NewLoopOutput creates the id that replaces a loop-carried variable's
// placeholder in the caller's tracking: a fresh identifier, never the
// placeholder's own, extracting carried variable index from loopNode.
func (s *Store) NewLoopOutput(backend Backend, dtype dtypes.DType, size int, loopNode Id, index int) *Variable {
	v := &Variable{
		Backend:   backend,
		DType:     dtype,
		Size:      size,
		Kind:      StatementLoopOutput,
		LoopIndex: index,
	}
	v.Deps[0] = loopNode
	return s.alloc(v)
}

// NewPlaceholder creates an unresolved variable for the loop builder:
// it carries no statement payload until Resolve is called.
func (s *Store) NewPlaceholder(backend Backend, dtype dtypes.DType, size int) *Variable {
	return s.alloc(&Variable{
		Backend: backend,
		DType:   dtype,
		Size:    size,
		Kind:    StatementPlaceholder,
	})
}

// Resolve turns a placeholder into a resolved statement variable in
// place, preserving its id -- required so earlier statements that
// already reference the placeholder's id see the resolved value without
// being rewritten.
func (s *Store) Resolve(id Id, stmt string, deps ...Id) {
	v := s.MustGet(id)
	if v.Kind != StatementPlaceholder {
		panic(errContractViolation("variable %d is not a placeholder", id))
	}
	if len(deps) > 4 {
		panic(errContractViolation("statement has %d dependencies, at most 4 are supported", len(deps)))
	}
	v.Kind = StatementText
	v.Stmt = stmt
	v.Deps = [4]Id{}
	copy(v.Deps[:], deps)
	for _, dep := range deps {
		if dep == 0 {
			continue
		}
		s.MustGet(dep).RefInternal++
	}
}

// IncRef increments the external reference count held by user-facing
// handles.
func (s *Store) IncRef(id Id) {
	s.MustGet(id).RefExternal++
}

// DecRef decrements the external reference count, freeing the variable
// (and cascading the release of its dependencies) once both external and
// internal counts reach zero.
func (s *Store) DecRef(id Id) {
	v := s.MustGet(id)
	if v.RefExternal <= 0 {
		panicf("variable %d: DecRef with no outstanding external reference", id)
	}
	v.RefExternal--
	s.maybeFree(v)
}

// MarkSideEffect increments the side-effect reference count: the
// variable is "dirty" until the side effect has been flushed.
// BuildSchedule schedules a dirty variable only as a root of its own and
// rejects one reached only as another variable's dependency.
func (s *Store) MarkSideEffect(id Id) {
	s.MustGet(id).RefSideEffect++
}

// ClearSideEffect decrements the side-effect reference count, called
// once the corresponding write has been scheduled and executed.
func (s *Store) ClearSideEffect(id Id) {
	v := s.MustGet(id)
	if v.RefSideEffect <= 0 {
		panicf("variable %d: ClearSideEffect with no outstanding side effect", id)
	}
	v.RefSideEffect--
	s.maybeFree(v)
}

// releaseInternal decrements dep's internal reference count on behalf of
// a freed dependent, cascading its own release if it reaches zero too.
func (s *Store) releaseInternal(dep Id) {
	if dep == 0 {
		return
	}
	d := s.Get(dep)
	if d == nil {
		return
	}
	if d.RefInternal <= 0 {
		panicf("variable %d: internal refcount underflow", dep)
	}
	d.RefInternal--
	s.maybeFree(d)
}

// maybeFree removes v from the store and releases its own dependencies
// once neither external nor internal references remain, provided it is
// not currently dirty.
//
// If Cleanup already discharged v's dependency edges once its statement
// ran (FlagDepsDischarged), those edges are skipped here: releasing them
// again would double-decrement an internal refcount already brought
// down to its correct value.
func (s *Store) maybeFree(v *Variable) {
	if v.RefExternal > 0 || v.RefInternal > 0 || v.IsDirty() {
		return
	}
	delete(s.vars, v.id)
	if v.HasFlag(FlagDepsDischarged) {
		return
	}
	deps := v.Deps
	var aux []Id
	if v.Extra != nil {
		aux = v.Extra.AuxDeps
	}
	for _, dep := range deps {
		s.releaseInternal(dep)
	}
	for _, dep := range aux {
		s.releaseInternal(dep)
	}
}

// Len returns the number of live variables, for diagnostics and tests.
func (s *Store) Len() int { return len(s.vars) }

// Watermark returns the id that will be assigned to the next allocated
// variable. The loop builder snapshots this before recording a loop
// body so a failed recording can be rolled back cleanly.
func (s *Store) Watermark() Id { return s.nextId }

// Rollback discards every variable allocated since watermark, without
// running the normal dependency-release cascade -- the recording that
// produced them failed partway through and their dependency graph may
// be incomplete or inconsistent, so this only needs to forget them, not
// account for their references.
func (s *Store) Rollback(watermark Id) {
	for id := watermark; id < s.nextId; id++ {
		delete(s.vars, id)
	}
	s.nextId = watermark
}

func panicf(format string, args ...any) {
	panic(errContractViolation(format, args...))
}
