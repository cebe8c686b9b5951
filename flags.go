package arrayjit

import (
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Flags is the process-wide and per-ThreadState behavior bitfield.
//
// Every bit below can be parsed and carried in ThreadState.Flags, but
// Recording is the only one this module reads; the others change no
// behavior.
type Flags uint32

const (
	// LoopRecord names the recorded-loop bit. Nothing reads it: the loop
	// package's Builder and WavefrontBuilder are chosen by the caller.
	LoopRecord Flags = 1 << iota
	// LoopOptimize names the loop-optimization bit. Nothing reads it.
	LoopOptimize
	// LaunchBlocking names the blocking-launch bit. Nothing reads it; every
	// kernel launch already synchronizes its device before returning.
	LaunchBlocking
	// KernelHistory names the kernel-history bit. Nothing reads it: the
	// launch ring buffer (kernel.History) is enabled by Config.HistorySize.
	KernelHistory
	// PostponeSideEffects names the postponed-side-effect bit. Nothing
	// reads it: Eval flushes every pending side effect.
	PostponeSideEffects
	// Recording marks a ThreadState as currently inside a loop body
	// recording; Manager rejects an Eval call made while it is set.
	Recording
	// ForceOptiX names the OptiX-pipeline bit. Nothing reads it.
	ForceOptiX
	// PrintIR names the print-IR bit. Nothing reads it: assembled kernel
	// source is logged at klog verbosity 3 whether or not it is set.
	PrintIR
)

var flagNames = map[string]Flags{
	"loop_record":           LoopRecord,
	"loop_optimize":         LoopOptimize,
	"launch_blocking":       LaunchBlocking,
	"kernel_history":        KernelHistory,
	"postpone_side_effects": PostponeSideEffects,
	"recording":             Recording,
	"force_optix":           ForceOptiX,
	"print_ir":              PrintIR,
}

// EnvFlags is the environment variable holding a comma-separated list
// of flag names to enable as the process default.
const EnvFlags = "ARRAYJIT_FLAGS"

// DefaultFlags is the process-wide default, read from EnvFlags at
// package initialization. A per-call Flags value ORs on top of this
// rather than replacing it.
var DefaultFlags Flags

func init() {
	if raw, ok := os.LookupEnv(EnvFlags); ok {
		parsed, err := ParseFlags(raw)
		if err != nil {
			panic(errors.Wrapf(err, "arrayjit: invalid %s", EnvFlags))
		}
		DefaultFlags = parsed
	}
}

// ParseFlags parses a comma-separated list of flag names (case
// insensitive, e.g. "loop_record,print_ir").
func ParseFlags(s string) (Flags, error) {
	var out Flags
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	for _, name := range strings.Split(s, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		flag, ok := flagNames[name]
		if !ok {
			return 0, errors.Errorf("unknown flag %q", name)
		}
		out |= flag
	}
	return out, nil
}

// Has reports whether every bit in want is set in f.
func (f Flags) Has(want Flags) bool { return f&want == want }
