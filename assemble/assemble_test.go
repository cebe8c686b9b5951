package assemble_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrayjit/arrayjit/assemble"
	"github.com/arrayjit/arrayjit/dtypes"
	"github.com/arrayjit/arrayjit/graph"
)

func buildSimpleGroup(t *testing.T, backend graph.Backend) (*graph.Store, []graph.ScheduledVariable, graph.ScheduledGroup) {
	s := graph.NewStore()
	a := s.NewData(backend, dtypes.Float32, 8, nil)
	b := s.NewStatement(backend, dtypes.Float32, 8, "neg $r1", a.Id())
	b.SetFlag(graph.FlagOutput, true)

	schedule, groups, err := s.BuildSchedule([]graph.Id{b.Id()})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	return s, schedule, groups[0]
}

func TestAssembleAssignsParamsAndRegisters(t *testing.T) {
	s, schedule, group := buildSimpleGroup(t, graph.CPU)
	asm, err := assemble.Assemble(s, schedule, group, graph.CPU)
	require.NoError(t, err)

	var sawInput, sawOutput bool
	for _, p := range asm.Params {
		switch p.Role {
		case assemble.RoleInput:
			sawInput = true
			assert.GreaterOrEqual(t, p.Slot, 3, "CPU reserves slots 0-2")
		case assemble.RoleOutput:
			sawOutput = true
		}
	}
	assert.True(t, sawInput)
	assert.True(t, sawOutput)
}

func TestAssembleRewritesNamePlaceholder(t *testing.T) {
	s, schedule, group := buildSimpleGroup(t, graph.GPU)
	asm, err := assemble.Assemble(s, schedule, group, graph.GPU)
	require.NoError(t, err)

	assert.NotContains(t, asm.Source, "^")
	assert.True(t, strings.Contains(asm.Source, asm.Name))
	assert.Len(t, asm.Name, 32)
}

// buildGroupWithPointerLiteral wires a.Id() and a Pointer-dtype literal
// into a temporary (never flagged output, so it should claim no
// parameter slot) that in turn feeds the output statement, covering all
// four Role outcomes in one group: RoleInput, RoleLiteralPointer,
// RoleTemporary, RoleOutput.
func buildGroupWithPointerLiteral(t *testing.T, backend graph.Backend, ptrValue uint64) (*graph.Store, []graph.ScheduledVariable, graph.ScheduledGroup) {
	s := graph.NewStore()
	a := s.NewData(backend, dtypes.Float32, 8, nil)
	lit := s.NewLiteral(backend, dtypes.Pointer, 8, ptrValue)
	tmp := s.NewStatement(backend, dtypes.Float32, 8, "add $r1, $r2", a.Id(), lit.Id())
	out := s.NewStatement(backend, dtypes.Float32, 8, "mul $r1, $r2", tmp.Id(), a.Id())
	out.SetFlag(graph.FlagOutput, true)

	schedule, groups, err := s.BuildSchedule([]graph.Id{out.Id()})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	return s, schedule, groups[0]
}

func TestAssembleOnlySlotOccupyingRolesGetParams(t *testing.T) {
	s, schedule, group := buildGroupWithPointerLiteral(t, graph.CPU, 0x1000)
	asm, err := assemble.Assemble(s, schedule, group, graph.CPU)
	require.NoError(t, err)

	roles := map[assemble.Role]int{}
	for _, p := range asm.Params {
		roles[p.Role]++
	}
	assert.Equal(t, 1, roles[assemble.RoleInput])
	assert.Equal(t, 1, roles[assemble.RoleLiteralPointer])
	assert.Equal(t, 1, roles[assemble.RoleOutput])
	assert.Equal(t, 0, roles[assemble.RoleTemporary], "temporaries must never occupy a parameter slot")

	var tmpId graph.Id
	for _, sv := range schedule[group.Begin:group.End] {
		v := s.Get(sv.Id)
		if v.Kind == graph.StatementText && !v.HasFlag(graph.FlagOutput) {
			tmpId = sv.Id
		}
	}
	require.NotZero(t, tmpId)
	for _, p := range asm.Params {
		assert.NotEqual(t, tmpId, p.Id, "the temporary's id must not appear in Params at all")
	}
	assert.Contains(t, asm.Source, "ld.param", "the pointer literal is pushed as a parameter, not baked inline")
}

func TestAssemblePointerLiteralValueDoesNotAffectCacheKey(t *testing.T) {
	s1, schedule1, group1 := buildGroupWithPointerLiteral(t, graph.CPU, 0x1000)
	asm1, err := assemble.Assemble(s1, schedule1, group1, graph.CPU)
	require.NoError(t, err)

	s2, schedule2, group2 := buildGroupWithPointerLiteral(t, graph.CPU, 0x2000)
	asm2, err := assemble.Assemble(s2, schedule2, group2, graph.CPU)
	require.NoError(t, err)

	assert.Equal(t, asm1.Source, asm2.Source, "two pointer values must assemble to identical text")
	assert.Equal(t, asm1.Hash, asm2.Hash, "two pointer values must hash to the same cache key")
	assert.NotContains(t, asm1.Source, "0x1000")
	assert.NotContains(t, asm2.Source, "0x2000")
}

func TestAssembleHashIsDeterministic(t *testing.T) {
	s1, schedule1, group1 := buildSimpleGroup(t, graph.GPU)
	asm1, err := assemble.Assemble(s1, schedule1, group1, graph.GPU)
	require.NoError(t, err)

	s2, schedule2, group2 := buildSimpleGroup(t, graph.GPU)
	asm2, err := assemble.Assemble(s2, schedule2, group2, graph.GPU)
	require.NoError(t, err)

	assert.Equal(t, asm1.Hash, asm2.Hash)
}
