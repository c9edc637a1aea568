package pipeline

import (
	"kiln/internal/config"
	"kiln/internal/ir"
	"kiln/internal/isa"
	"kiln/internal/method"
	"kiln/internal/passes"
)

// optimizedDefs is the curated architecture-independent sequence for the
// optimized tier. Slots referencing the inliner run only when inlining
// actually fired.
func optimizedDefs() []passes.Def {
	return []passes.Def{
		// Initial cleanup.
		passes.Of(passes.IDConstantFolding),
		passes.Of(passes.IDInstructionSimplifier),
		passes.OfNamed(passes.IDDeadCodeElimination, "dead_code_elimination$initial"),
		// Inlining.
		passes.Of(passes.IDInliner),
		// Simplification, only if inlining occurred.
		passes.OfDep(passes.IDConstantFolding, "constant_folding$after_inlining", passes.IDInliner),
		passes.OfDep(passes.IDInstructionSimplifier, "instruction_simplifier$after_inlining", passes.IDInliner),
		passes.OfDep(passes.IDDeadCodeElimination, "dead_code_elimination$after_inlining", passes.IDInliner),
		// Value numbering.
		passes.OfNamed(passes.IDSideEffectsAnalysis, "side_effects$before_gvn"),
		passes.Of(passes.IDGlobalValueNumbering),
		passes.Of(passes.IDSelectGenerator),
		passes.OfNamed(passes.IDConstantFolding, "constant_folding$after_gvn"),
		passes.OfNamed(passes.IDInstructionSimplifier, "instruction_simplifier$after_gvn"),
		passes.OfNamed(passes.IDDeadCodeElimination, "dead_code_elimination$after_gvn"),
		// Late cleanup.
		passes.OfNamed(passes.IDDeadCodeElimination, "dead_code_elimination$final"),
		passes.Of(passes.IDCodeSinking),
		// The generator expects simplifier-normalized input (no same-type
		// conversions, no selects over equal arms).
		passes.OfNamed(passes.IDAggressiveInstructionSimplifier, "instruction_simplifier$before_codegen"),
	}
}

// archDefs is the architecture-specific phase appended to every tier.
func archDefs(set isa.Set) []passes.Def {
	switch set {
	case isa.Arm, isa.Thumb2:
		return []passes.Def{
			passes.Of(passes.IDInstructionSimplifierArm),
			passes.Of(passes.IDSideEffectsAnalysis),
			passes.OfNamed(passes.IDGlobalValueNumbering, "GVN$after_arch"),
			passes.Of(passes.IDCriticalNativeAbiFixupArm),
			passes.Of(passes.IDScheduling),
		}
	case isa.Arm64:
		return []passes.Def{
			passes.Of(passes.IDInstructionSimplifierArm64),
			passes.Of(passes.IDSideEffectsAnalysis),
			passes.OfNamed(passes.IDGlobalValueNumbering, "GVN$after_arch"),
			passes.Of(passes.IDScheduling),
		}
	case isa.X86:
		return []passes.Def{
			passes.Of(passes.IDInstructionSimplifierX86),
			passes.Of(passes.IDSideEffectsAnalysis),
			passes.OfNamed(passes.IDGlobalValueNumbering, "GVN$after_arch"),
			passes.Of(passes.IDPcRelativeFixupsX86),
			passes.Of(passes.IDMemoryOperandGenerationX86),
		}
	case isa.X86_64:
		return []passes.Def{
			passes.Of(passes.IDInstructionSimplifierX86_64),
			passes.Of(passes.IDSideEffectsAnalysis),
			passes.OfNamed(passes.IDGlobalValueNumbering, "GVN$after_arch"),
			passes.Of(passes.IDMemoryOperandGenerationX86),
		}
	default:
		return nil
	}
}

// baselineDefs is the reduced fixed pipeline for the cheap first JIT tier:
// architecture-specific fixups only.
func baselineDefs(set isa.Set) []passes.Def {
	switch set {
	case isa.Arm, isa.Thumb2:
		return []passes.Def{passes.Of(passes.IDCriticalNativeAbiFixupArm)}
	case isa.X86:
		return []passes.Def{passes.Of(passes.IDPcRelativeFixupsX86)}
	default:
		return nil
	}
}

// intrinsicDefs is the minimal sequence run over template-built graphs.
func intrinsicDefs() []passes.Def {
	return []passes.Def{passes.Of(passes.IDInstructionSimplifier)}
}

// Run executes the pipeline appropriate for the graph's tier, or the
// user-supplied override list when one is configured.
func Run(g *ir.Graph, opts *config.Options, ctx passes.Context, obs *Observer) (bool, error) {
	if len(opts.PassesToRun) > 0 {
		defs, err := OverrideDefs(opts.PassesToRun)
		if err != nil {
			return false, err
		}
		return RunDefs(g, defs, ctx, obs), nil
	}
	if g.Kind == method.KindBaseline {
		return RunDefs(g, baselineDefs(g.ISA), ctx, obs), nil
	}
	change := RunDefs(g, optimizedDefs(), ctx, obs)
	if RunDefs(g, archDefs(g.ISA), ctx, obs) {
		change = true
	}
	return change, nil
}

// RunIntrinsic executes the reduced intrinsic-template sequence plus the
// architecture-specific phase.
func RunIntrinsic(g *ir.Graph, ctx passes.Context, obs *Observer) bool {
	change := RunDefs(g, intrinsicDefs(), ctx, obs)
	if RunDefs(g, archDefs(g.ISA), ctx, obs) {
		change = true
	}
	return change
}
