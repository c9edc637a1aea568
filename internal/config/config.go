// Package config holds the immutable compiler options threaded through the
// back-end. An Options value is built once (from flags or a kiln.toml
// manifest) and never mutated afterwards; every component receives it
// explicitly rather than reading process-wide state.
package config

import (
	"kiln/internal/isa"
)

// Filter selects the compilation aggressiveness policy.
type Filter uint8

const (
	// FilterSpeed compiles everything eligible at the optimized tier.
	FilterSpeed Filter = iota
	// FilterSpace rejects large methods to bound generated-code size.
	FilterSpace
)

// SpaceFilterThreshold is the bytecode unit count above which FilterSpace
// refuses to compile a method.
const SpaceFilterThreshold = 128

// Options configures one back-end instance. The zero value targets no
// instruction set and must be completed before use.
type Options struct {
	ISA      isa.Set
	Features isa.Features

	Filter      Filter
	Debuggable  bool
	BootImage   bool
	JitCompiler bool

	// Debug info: GenerateDebugInfo asks for full native debug tables,
	// GenerateMiniDebugInfo for the compressed backtrace-only form. Either
	// one makes the JIT synthesize side tables before commit.
	GenerateDebugInfo     bool
	GenerateMiniDebugInfo bool

	// Diagnostics.
	DumpCFGPath     string
	DumpCFGAppend   bool
	DumpPassTimings bool
	DumpStats       bool

	// VerboseMethods is an exact-match allow-list; when set it overrides
	// MethodFilter entirely. MethodFilter is a substring match, empty
	// meaning "match all".
	VerboseMethods []string
	MethodFilter   string

	// PassesToRun overrides the built-in pipeline when non-nil. Names may
	// carry a "$suffix" to distinguish repeated occurrences of a pass.
	PassesToRun []string

	// RegAllocStrategy is "linear-scan" (default when empty) or "greedy-color".
	RegAllocStrategy string

	// CompileTestMarker enables the debug-build assertion that methods whose
	// name carries the "$opt$" marker were actually compiled.
	CompileTestMarker bool
}

// GenerateAnyDebugInfo reports whether the JIT should synthesize debug side
// tables at all.
func (o *Options) GenerateAnyDebugInfo() bool {
	return o.GenerateDebugInfo || o.GenerateMiniDebugInfo
}

// HasVerboseMethods reports whether the exact-match allow-list is configured.
func (o *Options) HasVerboseMethods() bool { return len(o.VerboseMethods) > 0 }

// IsVerboseMethod reports whether the method name is in the allow-list.
func (o *Options) IsVerboseMethod(name string) bool {
	for _, m := range o.VerboseMethods {
		if m == name {
			return true
		}
	}
	return false
}
