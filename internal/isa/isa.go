// Package isa names the instruction-set targets the back-end can emit for.
package isa

import "fmt"

// Set identifies a target instruction set.
type Set uint8

const (
	None Set = iota
	Arm
	Thumb2
	Arm64
	X86
	X86_64
	RiscV64
)

// String returns the canonical lower-case name of the instruction set.
func (s Set) String() string {
	switch s {
	case Arm:
		return "arm"
	case Thumb2:
		return "thumb2"
	case Arm64:
		return "arm64"
	case X86:
		return "x86"
	case X86_64:
		return "x86_64"
	case RiscV64:
		return "riscv64"
	default:
		return "none"
	}
}

// Parse converts a manifest string to an instruction set.
func Parse(s string) (Set, error) {
	switch s {
	case "arm":
		return Arm, nil
	case "thumb2":
		return Thumb2, nil
	case "arm64":
		return Arm64, nil
	case "x86":
		return X86, nil
	case "x86_64", "x86-64", "amd64":
		return X86_64, nil
	case "riscv64":
		return RiscV64, nil
	default:
		return None, fmt.Errorf("unknown instruction set: %q", s)
	}
}

// Supported reports whether the optimizing back-end can generate code for the set.
// RiscV64 is recognized by the loader but has no code generator yet.
func Supported(s Set) bool {
	switch s {
	case Arm, Thumb2, Arm64, X86, X86_64:
		return true
	default:
		return false
	}
}

// PointerSize returns the target pointer width in bytes.
func PointerSize(s Set) int {
	switch s {
	case Arm, Thumb2, X86:
		return 4
	default:
		return 8
	}
}

// Features carries the feature string of the concrete CPU the target runs on.
// It is opaque to the pipeline; it is threaded to the code generator and
// echoed into diagnostics headers.
type Features struct {
	Set    Set
	String string
}
