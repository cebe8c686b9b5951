// Package assemble turns one ScheduledGroup into kernel source text:
// parameter buffer layout, register numbering, and the textual
// statement stream a backend emitter turns into PTX or LLVM IR.
//
// An Assembly plays the role of a finished builder output, handed to a
// kernel.Cache for compilation.
package assemble

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/arrayjit/arrayjit/dtypes"
	"github.com/arrayjit/arrayjit/graph"
)

// Role classifies how a scheduled variable participates in the
// assembled kernel.
type Role uint8

const (
	RoleTemporary Role = iota
	RoleInput
	RoleOutput
	// RoleLiteral is an inline constant baked directly into the kernel
	// text (ldc.%s); it claims no parameter slot.
	RoleLiteral
	// RoleLiteralPointer is a Pointer-dtype literal pushed as a real
	// parameter instead of baked into the source text -- baking a
	// runtime address into the kernel text would make two evaluations
	// that differ only in which buffer a pointer literal names produce
	// different source text, and therefore different cache keys.
	RoleLiteralPointer
)

func (r Role) String() string {
	switch r {
	case RoleInput:
		return "input"
	case RoleOutput:
		return "output"
	case RoleLiteral:
		return "literal"
	case RoleLiteralPointer:
		return "literal-pointer"
	default:
		return "temporary"
	}
}

// NeedsParamSlot reports whether r claims an entry in the kernel's
// parameter buffer. RoleTemporary (register-only) and RoleLiteral
// (baked inline) do not.
func (r Role) NeedsParamSlot() bool {
	return r == RoleInput || r == RoleOutput || r == RoleLiteralPointer
}

// Param describes one entry in the kernel's parameter buffer.
type Param struct {
	Id   graph.Id
	Role Role
	Slot int // index into the kernel's parameter buffer
}

// ReservedSlots is the number of parameter-buffer slots the backend
// claims for itself before user parameters start: slot 0 on
// GPU carries the active launch size; on CPU slots 0-2 carry the entry
// pointer, the packed block-size/total-size word, and the
// instrumentation handle. A launcher's paramAddrs must reserve this
// many leading entries before the first real Param.Slot.
func ReservedSlots(backend graph.Backend) int {
	if backend == graph.GPU {
		return 1
	}
	return 3
}

// baseRegister is the first register index available to user values,
// after the backend's own reserved registers.
func baseRegister(backend graph.Backend) int {
	if backend == graph.GPU {
		return 4
	}
	return 1
}

// namePlaceholder is written into the emitted source in place of the
// kernel's name; Assemble rewrites every occurrence once the content
// hash -- which depends on the text itself -- is known.
const namePlaceholder = "^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^"

// Assembly is one compiled-but-not-yet-built kernel: source text plus
// enough metadata for kernel.Cache and the launcher to bind arguments.
type Assembly struct {
	Backend graph.Backend
	Group   graph.ScheduledGroup
	Params  []Param
	Source  string
	Name    string
	Hash    [16]byte
}

// Assemble builds one Assembly from the variables in group (a
// contiguous slice of schedule).
func Assemble(store *graph.Store, schedule []graph.ScheduledVariable, group graph.ScheduledGroup, backend graph.Backend) (*Assembly, error) {
	if group.Begin < 0 || group.End > len(schedule) || group.Begin >= group.End {
		return nil, errors.Errorf("assemble: invalid group range [%d,%d) over %d scheduled variables", group.Begin, group.End, len(schedule))
	}

	var params []Param
	slot := ReservedSlots(backend)
	reg := baseRegister(backend)
	regOf := make(map[graph.Id]int, group.End-group.Begin)

	// entryOf maps a loop's Entry placeholder id to its loop node's id.
	// Unlike an ordinary unresolved placeholder, one of these is expected
	// to reach assembly: the loop builder deliberately never resolves
	// them in place, so the backend construct built from the matching
	// StatementLoop node is what gives them a value each iteration.
	entryOf := make(map[graph.Id]graph.Id)
	for _, sv := range schedule {
		v := store.Get(sv.Id)
		if v == nil || v.Kind != graph.StatementLoop || v.Extra == nil || v.Extra.Loop == nil {
			continue
		}
		for _, e := range v.Extra.Loop.Entry {
			entryOf[e] = sv.Id
		}
	}

	var body strings.Builder
	for i := group.Begin; i < group.End; i++ {
		sv := schedule[i]
		v := store.Get(sv.Id)
		if v == nil {
			return nil, errors.Errorf("assemble: scheduled variable %d missing from store", sv.Id)
		}
		// A dirty variable reaching assembly is expected, not an error:
		// graph.BuildSchedule only lets a dirty variable through when it
		// is itself a root, i.e. exactly the side-effect producer whose
		// write this kernel is about to perform.
		v.RegIndex = reg
		regOf[sv.Id] = reg
		reg++

		role := RoleTemporary
		switch v.Kind {
		case graph.StatementData:
			role = RoleInput
		case graph.StatementLiteral:
			if v.DType == dtypes.Pointer {
				role = RoleLiteralPointer
			} else {
				role = RoleLiteral
			}
		case graph.StatementText, graph.StatementLoopOutput:
			if v.HasFlag(graph.FlagOutput) {
				role = RoleOutput
			}
		case graph.StatementPlaceholder:
			if _, ok := entryOf[sv.Id]; !ok {
				return nil, errors.Errorf("assemble: variable %d is an unresolved placeholder", sv.Id)
			}
		}
		// Only roles that actually occupy a parameter-buffer slot are
		// recorded: a register-only temporary or an inline-baked literal
		// has no slot for the launcher to bind a buffer to, and must not
		// appear in the Params list the launcher iterates.
		if role.NeedsParamSlot() {
			v.ParamSlot = slot
			slot++
			params = append(params, Param{Id: sv.Id, Role: role, Slot: v.ParamSlot})
		}

		emitStatement(&body, v, regOf)
	}

	source := fmt.Sprintf(".kernel %s\n; group length %d, backend %s\n%s", namePlaceholder, group.Length, backend, body.String())
	hash := contentHash(source)
	name := fmt.Sprintf("%x", hash)
	source = strings.ReplaceAll(source, namePlaceholder, name)

	return &Assembly{
		Backend: backend,
		Group:   group,
		Params:  params,
		Source:  source,
		Name:    name,
		Hash:    hash,
	}, nil
}

// emitStatement writes one line of kernel text for v, referencing
// dependencies and parameters by their assigned register/slot.
func emitStatement(w *strings.Builder, v *graph.Variable, regOf map[graph.Id]int) {
	switch v.Kind {
	case graph.StatementLiteral:
		if v.DType == dtypes.Pointer {
			// Pushed as a real parameter (RoleLiteralPointer) instead of
			// baked into the text, so the kernel's cache key never varies
			// with which buffer the pointer happens to name.
			fmt.Fprintf(w, "  $r%d = ld.param [%d]\n", v.RegIndex, v.ParamSlot)
		} else {
			fmt.Fprintf(w, "  $r%d = ldc.%s 0x%x\n", v.RegIndex, v.DType, v.Literal)
		}
	case graph.StatementData:
		fmt.Fprintf(w, "  $r%d = ld.param [%d]\n", v.RegIndex, v.ParamSlot)
	case graph.StatementText:
		line := v.Stmt
		for slot, dep := range v.Deps {
			if dep == 0 {
				continue
			}
			depReg, ok := regOf[dep]
			if !ok {
				// Dependency belongs to a different, already-materialized
				// group; referenced by its own param slot instead of a
				// local register.
				continue
			}
			line = strings.ReplaceAll(line, fmt.Sprintf("$r%d", slot+1), fmt.Sprintf("$r%d", depReg))
		}
		fmt.Fprintf(w, "  $r%d = %s\n", v.RegIndex, line)
		if v.HasFlag(graph.FlagOutput) {
			fmt.Fprintf(w, "  st.param [%d], $r%d\n", v.ParamSlot, v.RegIndex)
		}
	case graph.StatementPlaceholder:
		// A loop's Entry placeholder: no value of its own, just a register
		// reserved for whatever the loop construct binds to it each
		// iteration. Ordinary (non-loop) placeholders never reach here --
		// Assemble already rejected those.
		fmt.Fprintf(w, "  ; $r%d = loop.entry\n", v.RegIndex)
	case graph.StatementLoop:
		emitLoop(w, v, regOf)
	case graph.StatementLoopOutput:
		loopReg := regOf[v.Deps[0]]
		fmt.Fprintf(w, "  $r%d = loop.output $r%d, %d\n", v.RegIndex, loopReg, v.LoopIndex)
		if v.HasFlag(graph.FlagOutput) {
			fmt.Fprintf(w, "  st.param [%d], $r%d\n", v.ParamSlot, v.RegIndex)
		}
	}
}

// emitLoop writes the loop node's closing line, describing the
// recurrence its already-emitted body statements (Exit's transitive
// dependencies, scheduled ahead of this line by BuildSchedule's DFS)
// implement. A backend text emitter turns this into the real control
// flow wrapping those statements into a repeated block.
func emitLoop(w *strings.Builder, v *graph.Variable, regOf map[graph.Id]int) {
	info := v.Extra.Loop
	entries := make([]string, 0, len(info.Entry))
	for _, e := range info.Entry {
		if r, ok := regOf[e]; ok {
			entries = append(entries, fmt.Sprintf("$r%d", r))
		}
	}
	exits := make([]string, 0, len(info.Exit))
	for _, e := range info.Exit {
		if r, ok := regOf[e]; ok {
			exits = append(exits, fmt.Sprintf("$r%d", r))
		}
	}
	maskReg, ok := regOf[info.Mask]
	if !ok {
		maskReg = v.RegIndex
	}
	fmt.Fprintf(w, "  $r%d = loop.iterate mask=$r%d, entries=[%s], exits=[%s]\n",
		v.RegIndex, maskReg, strings.Join(entries, ", "), strings.Join(exits, ", "))
}

// contentHash derives the 128-bit kernel identity used by kernel.Cache:
// a SHA-256 digest of the source text truncated to 16 bytes. No
// library in the dependency pack exposes an importable 128-bit
// non-cryptographic hash, so this falls back to a standard-library
// primitive truncated to the target width (documented in DESIGN.md).
func contentHash(source string) [16]byte {
	sum := sha256.Sum256([]byte(source))
	var out [16]byte
	copy(out[:], sum[:16])
	return out
}
