package graph

import "sort"

// ScheduledVariable is one entry in a flattened schedule: the variable
// id together with the logical length of the group it was placed into.
// A length-1 broadcastable variable may appear more than once, once
// per distinct group size that consumes it.
type ScheduledVariable struct {
	Length int
	Id     Id
}

// ScheduledGroup is a contiguous run of equal-length entries in a
// Schedule, destined to be assembled into a single kernel.
type ScheduledGroup struct {
	Length     int
	Begin, End int // half-open range into the Schedule slice
}

// visitKey packs a (groupSize, id) pair into a single comparable value
// for the DFS visited set: the same (size, index) pair is never
// traversed twice.
type visitKey struct {
	size int
	id   Id
}

// BuildSchedule runs the DFS schedule builder over the variables
// reachable from roots.
//
// Each root is traversed under its own Size as the active group context.
// A dependency whose own Size matches the context (or is 1, i.e.
// broadcastable) stays in the same group; a dependency with a different,
// non-broadcastable Size starts its own group rooted at itself. The first
// time a variable is reached AS SOMEONE ELSE'S DEPENDENCY, its FlagOutput
// is cleared: only variables that are never any other scheduled
// variable's dependency remain flagged as outputs in the assembled
// schedule, everything else is a temporary internal to the kernel.
//
// A root is allowed to be dirty (that is exactly how a pending
// side-effect producer gets its write flushed: the caller adds it as a
// root and this call schedules it). A dirty variable reached only as
// someone else's dependency, with no root of its own covering it, is
// rejected -- reading it here would observe a write that has not
// happened yet.
//
// The returned schedule is sorted by descending Length, then ascending
// Id; Groups partitions it into the contiguous equal-length runs that
// the assemble package consumes one at a time.
func (s *Store) BuildSchedule(roots []Id) (schedule []ScheduledVariable, groups []ScheduledGroup, err error) {
	visitedPair := make(map[visitKey]bool)
	visitedAny := make(map[Id]bool)
	rootSet := make(map[Id]bool, len(roots))
	for _, root := range roots {
		rootSet[root] = true
	}

	for _, root := range roots {
		v := s.Get(root)
		if v == nil {
			return nil, nil, errMissing(root)
		}
		if err := s.dfs(root, v.Size, visitedPair, visitedAny, rootSet, &schedule); err != nil {
			return nil, nil, err
		}
	}

	sort.SliceStable(schedule, func(i, j int) bool {
		if schedule[i].Length != schedule[j].Length {
			return schedule[i].Length > schedule[j].Length
		}
		return schedule[i].Id < schedule[j].Id
	})

	groups = groupBySize(schedule)
	return schedule, groups, nil
}

func (s *Store) dfs(id Id, groupSize int, visitedPair map[visitKey]bool, visitedAny map[Id]bool, rootSet map[Id]bool, out *[]ScheduledVariable) error {
	if id == 0 {
		return nil
	}
	v := s.Get(id)
	if v == nil {
		return errMissing(id)
	}

	key := visitKey{size: groupSize, id: id}
	if visitedPair[key] {
		return nil
	}
	visitedPair[key] = true

	for _, dep := range v.Deps {
		if err := s.dfsDep(dep, v, groupSize, visitedPair, visitedAny, rootSet, out); err != nil {
			return err
		}
	}
	if v.Extra != nil {
		for _, dep := range v.Extra.AuxDeps {
			if err := s.dfsDep(dep, v, groupSize, visitedPair, visitedAny, rootSet, out); err != nil {
				return err
			}
		}
	}

	*out = append(*out, ScheduledVariable{Length: groupSize, Id: id})
	return nil
}

func (s *Store) dfsDep(dep Id, parent *Variable, groupSize int, visitedPair map[visitKey]bool, visitedAny map[Id]bool, rootSet map[Id]bool, out *[]ScheduledVariable) error {
	if dep == 0 {
		return nil
	}
	d := s.Get(dep)
	if d == nil {
		return errMissing(dep)
	}
	if d.IsDirty() && !rootSet[dep] {
		return errContractViolation("variable %d is dirty (pending side effect) and was reached only as a dependency, not scheduled as its own root", dep)
	}
	if !visitedAny[dep] {
		d.SetFlag(FlagOutput, false)
		visitedAny[dep] = true
	}
	childSize := groupSize
	if d.Size != 1 && d.Size != groupSize {
		childSize = d.Size
	}
	return s.dfs(dep, childSize, visitedPair, visitedAny, rootSet, out)
}

func groupBySize(schedule []ScheduledVariable) []ScheduledGroup {
	var groups []ScheduledGroup
	for i := 0; i < len(schedule); {
		j := i + 1
		for j < len(schedule) && schedule[j].Length == schedule[i].Length {
			j++
		}
		groups = append(groups, ScheduledGroup{Length: schedule[i].Length, Begin: i, End: j})
		i = j
	}
	return groups
}
