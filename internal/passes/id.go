// Package passes defines the closed set of optimization passes, their
// identities and the factory that binds them to a graph. Execution order and
// dependency-based skipping live in internal/pipeline; this package only
// knows individual transformations.
package passes

import (
	"fmt"
	"strings"
)

// ID names one known optimization pass. IDNone is the sentinel dependency
// that is always satisfied.
type ID uint8

const (
	IDNone ID = iota
	IDConstantFolding
	IDInstructionSimplifier
	IDAggressiveInstructionSimplifier
	IDDeadCodeElimination
	IDInliner
	IDSideEffectsAnalysis
	IDGlobalValueNumbering
	IDSelectGenerator
	IDCodeSinking
	IDInstructionSimplifierArm
	IDInstructionSimplifierArm64
	IDInstructionSimplifierX86
	IDInstructionSimplifierX86_64
	IDMemoryOperandGenerationX86
	IDPcRelativeFixupsX86
	IDCriticalNativeAbiFixupArm
	IDScheduling
	// IDLast is the number of known identities; sizing for outcome bitsets.
	IDLast
)

var idNames = map[ID]string{
	IDNone:                            "none",
	IDConstantFolding:                 "constant_folding",
	IDInstructionSimplifier:           "instruction_simplifier",
	IDAggressiveInstructionSimplifier: "aggressive_instruction_simplifier",
	IDDeadCodeElimination:             "dead_code_elimination",
	IDInliner:                         "inliner",
	IDSideEffectsAnalysis:             "side_effects",
	IDGlobalValueNumbering:            "GVN",
	IDSelectGenerator:                 "select_generator",
	IDCodeSinking:                     "code_sinking",
	IDInstructionSimplifierArm:        "instruction_simplifier_arm",
	IDInstructionSimplifierArm64:      "instruction_simplifier_arm64",
	IDInstructionSimplifierX86:        "instruction_simplifier_x86",
	IDInstructionSimplifierX86_64:     "instruction_simplifier_x86_64",
	IDMemoryOperandGenerationX86:      "x86_memory_operand_generation",
	IDPcRelativeFixupsX86:             "pc_relative_fixups_x86",
	IDCriticalNativeAbiFixupArm:       "critical_native_abi_fixup_arm",
	IDScheduling:                      "scheduler",
}

// String returns the canonical pass name.
func (id ID) String() string {
	if n, ok := idNames[id]; ok {
		return n
	}
	return fmt.Sprintf("pass#%d", uint8(id))
}

// NameSeparator splits a display name from its occurrence suffix, so the
// same pass can appear twice as "GVN" and "GVN$after_arch".
const NameSeparator = "$"

var idsByName = func() map[string]ID {
	m := make(map[string]ID, len(idNames))
	for id, n := range idNames {
		m[n] = id
	}
	return m
}()

// ByName resolves a display name to a pass identity, stripping any
// occurrence suffix after NameSeparator.
func ByName(name string) (ID, error) {
	base := name
	if i := strings.Index(name, NameSeparator); i >= 0 {
		base = name[:i]
	}
	id, ok := idsByName[base]
	if !ok {
		return IDNone, fmt.Errorf("unknown optimization pass: %q", name)
	}
	return id, nil
}
