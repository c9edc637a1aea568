// Package stats counts per-method compilation outcomes.
package stats

import (
	"fmt"
	"io"
	"sync/atomic"
)

// Stat classifies the outcome of one compilation attempt.
type Stat uint8

const (
	AttemptBytecodeCompilation Stat = iota
	AttemptIntrinsicCompilation
	CompiledBytecode
	CompiledIntrinsic
	CompiledNativeStub
	NotCompiledUnsupportedIsa
	NotCompiledPathological
	NotCompiledSpaceFilter
	NotCompiledSkipped
	NotCompiledInvalidBytecode
	NotCompiledNoCodegen
	NotCompiledUnresolvedMethod
	JitOutOfMemoryForCommit
	JitCommitRejected
	numStats
)

var statNames = [numStats]string{
	AttemptBytecodeCompilation:  "attempt_bytecode_compilation",
	AttemptIntrinsicCompilation: "attempt_intrinsic_compilation",
	CompiledBytecode:            "compiled_bytecode",
	CompiledIntrinsic:           "compiled_intrinsic",
	CompiledNativeStub:          "compiled_native_stub",
	NotCompiledUnsupportedIsa:   "not_compiled_unsupported_isa",
	NotCompiledPathological:     "not_compiled_pathological",
	NotCompiledSpaceFilter:      "not_compiled_space_filter",
	NotCompiledSkipped:          "not_compiled_skipped",
	NotCompiledInvalidBytecode:  "not_compiled_invalid_bytecode",
	NotCompiledNoCodegen:        "not_compiled_no_codegen",
	NotCompiledUnresolvedMethod: "not_compiled_unresolved_method",
	JitOutOfMemoryForCommit:     "jit_out_of_memory_for_commit",
	JitCommitRejected:           "jit_commit_rejected",
}

// String returns the classification name used in logs and dumps.
func (s Stat) String() string {
	if s >= numStats {
		return "unknown"
	}
	return statNames[s]
}

// Counters aggregates outcome counts across concurrent compiles.
// A nil *Counters is valid and counts nothing.
type Counters struct {
	counts [numStats]atomic.Uint64
}

// New returns an empty counter set.
func New() *Counters { return &Counters{} }

// Record bumps the counter for the given classification.
func (c *Counters) Record(s Stat) {
	if c == nil || s >= numStats {
		return
	}
	c.counts[s].Add(1)
}

// Get returns the current count for a classification.
func (c *Counters) Get(s Stat) uint64 {
	if c == nil || s >= numStats {
		return 0
	}
	return c.counts[s].Load()
}

// Dump writes all non-zero counters to w, one per line.
func (c *Counters) Dump(w io.Writer) {
	if c == nil || w == nil {
		return
	}
	for i := Stat(0); i < numStats; i++ {
		if n := c.counts[i].Load(); n != 0 {
			fmt.Fprintf(w, "%s: %d\n", i, n)
		}
	}
}
