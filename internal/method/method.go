// Package method describes the unit of compilation handed to the back-end.
// A Unit is an immutable view of one resolved (or unresolved) method; the
// back-end never mutates it and never parses bytecode itself.
package method

import "kiln/internal/isa"

// Kind is the compilation tier requested for a method.
type Kind uint8

const (
	// KindBaseline is the cheap first JIT tier.
	KindBaseline Kind = iota
	// KindOptimized is the full pipeline.
	KindOptimized
	// KindOsr compiles for on-stack replacement; pipeline-wise it is
	// optimized, but the stack maps must cover loop headers.
	KindOsr
)

// String returns the tier name.
func (k Kind) String() string {
	switch k {
	case KindBaseline:
		return "baseline"
	case KindOsr:
		return "osr"
	default:
		return "optimized"
	}
}

// AccessFlags mirror the managed runtime's method flags the back-end cares about.
type AccessFlags uint32

const (
	FlagStatic AccessFlags = 1 << iota
	FlagNative
	FlagSynchronized
	FlagCriticalNative
)

// Unit is the immutable description of the method being compiled.
type Unit struct {
	// Name is the pretty method name, used by verbose filters and dumps.
	Name string
	// Class is the declaring type's descriptor.
	Class string
	// Index is the method's index inside its defining image.
	Index uint32
	Flags AccessFlags
	ISA   isa.Set

	// Code is the opaque bytecode body; nil for native methods.
	Code []byte
	// CodeUnits is the body size in bytecode units, used by the eligibility
	// filters without decoding Code.
	CodeUnits int
	// Registers is the number of virtual registers the body declares.
	Registers int

	// Intrinsic is non-empty when the method resolves to a recognized
	// intrinsic template.
	Intrinsic string

	// Resolved is false when method resolution failed. Unresolved methods
	// may still be compiled ahead-of-time under conservative assumptions,
	// never just-in-time.
	Resolved bool

	// DeadReferenceSafe is the conservative GC annotation from the
	// declaring class; false when the class could not be resolved.
	DeadReferenceSafe bool
}

// IsNative reports whether the method has no bytecode body.
func (u *Unit) IsNative() bool { return u.Flags&FlagNative != 0 }

// IsIntrinsic reports whether the method resolves to an intrinsic template.
func (u *Unit) IsIntrinsic() bool { return u.Intrinsic != "" }

// ProfilingInfo is the profiling record attached to a method by the JIT.
// Baseline-tier compiles require one (checked, not assumed).
type ProfilingInfo struct {
	HotnessCount uint32
	InlineCaches map[uint32][]string
}
