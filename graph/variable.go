// Package graph implements the trace graph's data model: the Variable
// node store with reference counting, the DFS schedule builder, and
// post-evaluation cleanup.
//
// A Store is mutated only while the caller holds the Manager's global
// mutex; the package itself performs no locking, single-writer by
// contract rather than by internal synchronization.
package graph

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/arrayjit/arrayjit/dtypes"
)

// Backend tags which execution target a Variable is scheduled for.
type Backend uint8

const (
	CPU Backend = iota
	GPU
)

func (b Backend) String() string {
	if b == GPU {
		return "GPU"
	}
	return "CPU"
}

// Id uniquely identifies a Variable within a Store. Zero is the sentinel
// "no dependency" value; real variables are numbered from 1.
type Id uint32

// StatementKind tags which of the three mutually exclusive statement
// payloads a Variable carries: exactly one of data pointer, literal
// value, or textual statement.
type StatementKind uint8

const (
	// StatementNone is the zero value, never assigned to a live variable.
	StatementNone StatementKind = iota
	StatementLiteral
	StatementData
	StatementText
	StatementPlaceholder
	// StatementLoop is a loop node: the recorded recurrence over a set of
	// loop-carried variables. Its true graph dependencies -- the
	// variables' entry values and the loop condition -- live in
	// Extra.AuxDeps alongside the body's exit values, so the ordinary
	// dependency-walking machinery (alloc, dfs, Cleanup) schedules the
	// body ahead of the loop node without any special-casing. Extra.Loop
	// carries the wiring an emitter needs to turn this into a real
	// backend loop construct.
	StatementLoop
	// StatementLoopOutput extracts one loop-carried variable's
	// after-the-loop value from a StatementLoop node. Deps[0] is the
	// loop node's id; LoopIndex selects which carried variable. This is
	// always a fresh id, never the placeholder Init handed out --
	// resolving a placeholder in place here would create a dependency
	// cycle back through the loop node its own body statements feed.
	StatementLoopOutput
)

// Flag is a bit in Variable.Flags.
type Flag uint8

const (
	FlagOutput Flag = 1 << iota
	FlagSideEffect
	FlagPlaceholderInterface
	FlagUsesOptiX
	// FlagDepsDischarged marks a variable whose dependency edges have
	// already been released by Cleanup once its statement ran: a later
	// free of this variable must not walk its Deps/AuxDeps again, or it
	// would decrement each dependency's internal refcount a second time.
	FlagDepsDischarged
)

// Extra carries the optional user-callback record attached to
// variables that need a host-side notification or auxiliary dependency
// tracking beyond the four fixed dependency slots.
type Extra struct {
	Callback     func(data any)
	CallbackData any
	AuxDeps      []Id

	// Loop is populated only for a StatementLoop variable.
	Loop *LoopInfo
}

// LoopInfo is the payload of a StatementLoop variable: the recorded
// loop's entry/exit wiring. Kept as slices rather than fixed Deps slots
// since a loop may carry more than four variables.
type LoopInfo struct {
	// Initial holds each loop-carried variable's value on entry to the
	// loop; one of the node's AuxDeps.
	Initial []Id
	// Entry holds the placeholder id each body statement referenced in
	// place of "this iteration's live value" of the corresponding
	// carried variable. Entry placeholders are never resolved in place
	// and are not themselves AuxDeps of the loop node -- they are reached
	// only transitively, as leaves of the body statements in Exit.
	Entry []Id
	// Exit holds each loop-carried variable's value as computed by one
	// full body execution (SetNext's argument list); one of the node's
	// AuxDeps, which is what makes the body schedule ahead of the node.
	Exit []Id
	// Mask is the loop condition, re-evaluated against Entry's live
	// values every iteration; one of the node's AuxDeps.
	Mask Id
}

// Variable is a node in the trace graph.
type Variable struct {
	id Id

	Backend Backend
	DType   dtypes.DType
	// Size is the logical length of the array this variable represents;
	// 1 denotes a broadcastable scalar.
	Size int

	Kind    StatementKind
	Literal uint64 // raw bit pattern of the literal value, when Kind == StatementLiteral
	Data    any    // evaluated data pointer/slice, when Kind == StatementData
	Stmt    string // textual operation template, when Kind == StatementText

	Deps [4]Id

	RefExternal   int32
	RefInternal   int32
	RefSideEffect int32

	Flags Flag

	// ParamSlot and RegIndex are valid only during assembly: they are
	// scratch fields reused across groups.
	ParamSlot int
	RegIndex  int

	// LoopIndex is valid only when Kind == StatementLoopOutput: it
	// selects which of the loop node's carried variables this id
	// extracts.
	LoopIndex int

	Extra *Extra
}

// Id returns the Variable's stable identifier.
func (v *Variable) Id() Id { return v.id }

// IsDirty reports whether v has a pending side effect. BuildSchedule
// rejects a dirty variable reached only as a dependency; as a root of its
// own it is scheduled.
func (v *Variable) IsDirty() bool { return v.RefSideEffect > 0 }

// HasFlag reports whether f is set.
func (v *Variable) HasFlag(f Flag) bool { return v.Flags&f != 0 }

// SetFlag sets or clears f.
func (v *Variable) SetFlag(f Flag, on bool) {
	if on {
		v.Flags |= f
	} else {
		v.Flags &^= f
	}
}

// checkStatementInvariant panics (internal invariant breach) if more
// than one of {Data, Literal, Stmt} is populated.
func (v *Variable) checkStatementInvariant() {
	n := 0
	if v.Kind == StatementData && v.Data != nil {
		n++
	}
	if v.Kind == StatementLiteral {
		n++
	}
	if v.Kind == StatementText && v.Stmt != "" {
		n++
	}
	if n > 1 {
		exceptions.Panicf("variable %d carries more than one statement payload simultaneously", v.id)
	}
}

// errContractViolation wraps a user-contract-violation error.
func errContractViolation(format string, args ...any) error {
	return errors.Errorf(format, args...)
}
