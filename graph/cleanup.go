package graph

import "k8s.io/klog/v2"

// CleanupResult summarizes one post-evaluation pass, mostly
// for test assertions and diagnostics.
type CleanupResult struct {
	CallbacksRun  int
	Dropped       int
	SideEffectsOK int
	// Freed lists every id this pass actually removed from the store,
	// including cascaded frees, so a caller that attached off-graph
	// resources to an id (e.g. a device buffer) knows when to release them.
	Freed []Id
}

// Cleanup runs the post-evaluation pass over a just-assembled
// schedule: user callbacks fire, side-effect markers for variables
// that were actually written clear, and every scheduled variable not
// kept alive by an external handle is released -- decrementing its
// dependencies' internal refcounts in turn, which may cascade further
// frees (common-subexpression variables that only the just-run kernel
// still needed).
//
// sideEffects lists the ids whose pending write the executed kernel just
// performed; they transition out of "dirty" here, after the data is
// safely on the device, never before.
func (s *Store) Cleanup(schedule []ScheduledVariable, sideEffects []Id) CleanupResult {
	var result CleanupResult
	lenBefore := s.Len()
	before := make(map[Id]bool, len(s.vars))
	for id := range s.vars {
		before[id] = true
	}

	seen := make(map[Id]bool, len(schedule))
	order := make([]Id, 0, len(schedule))
	for _, sv := range schedule {
		if seen[sv.Id] {
			continue
		}
		seen[sv.Id] = true
		order = append(order, sv.Id)

		v := s.Get(sv.Id)
		if v == nil {
			continue
		}
		if v.Extra != nil && v.Extra.Callback != nil {
			v.Extra.Callback(v.Extra.CallbackData)
			result.CallbacksRun++
		}
	}

	for _, id := range sideEffects {
		v := s.Get(id)
		if v == nil {
			klog.Warningf("arrayjit: side-effect cleanup for unknown variable %d", id)
			continue
		}
		s.ClearSideEffect(id)
		result.SideEffectsOK++
	}

	// Every scheduled variable's statement has now actually run: the
	// internal reference it held on each of its dependencies, taken out
	// when the statement was created, is discharged here rather than
	// kept forever -- a dependency that survives only because this
	// schedule's now-executed statements referenced it must still be
	// freeable once those statements are done needing it, even if the
	// consuming variable itself lives on (kept by an external handle).
	//
	// FlagDepsDischarged marks v so that if it is later freed outright,
	// maybeFree does not walk the same Deps/AuxDeps edges a second time.
	for _, id := range order {
		v := s.Get(id)
		if v == nil || v.HasFlag(FlagDepsDischarged) {
			continue
		}
		for _, dep := range v.Deps {
			s.releaseInternal(dep)
		}
		if v.Extra != nil {
			for _, dep := range v.Extra.AuxDeps {
				s.releaseInternal(dep)
			}
		}
		v.SetFlag(FlagDepsDischarged, true)
	}

	for _, id := range order {
		v := s.Get(id)
		if v == nil {
			continue
		}
		if v.RefExternal > 0 || v.HasFlag(FlagOutput) {
			// Kept alive by a user handle, or still a live schedule root
			// (another pending root referenced it without consuming it).
			continue
		}
		if v.RefInternal == 0 && !v.IsDirty() {
			s.maybeFree(v)
		}
	}

	// Dropped counts every variable this pass actually freed, including
	// ones released only as a side effect of the dependency-release pass
	// above (a common-subexpression variable whose last consumer was
	// itself dropped here) -- not just the ones the final loop reached
	// directly.
	result.Dropped = lenBefore - s.Len()
	for id := range before {
		if s.Get(id) == nil {
			result.Freed = append(result.Freed, id)
		}
	}
	return result
}
