package passes

import (
	"kiln/internal/ir"
)

// Pass is a single transformation bound to one graph. Run reports whether
// it changed the graph; it never fails — a pass that cannot usefully
// transform the graph simply reports no change.
type Pass interface {
	Name() string
	Run() bool
}

// InlineKind describes the shape of a trivially inlinable callee body.
type InlineKind uint8

const (
	// InlineConst bodies return a constant.
	InlineConst InlineKind = iota
	// InlineParam bodies return one of their parameters unchanged.
	InlineParam
	// InlineBinOp bodies return op(param0, param1).
	InlineBinOp
)

// InlineBody summarizes a callee body the inliner may substitute for a call.
type InlineBody struct {
	Kind       InlineKind
	Const      int64
	ParamIndex int
	Op         ir.Op
}

// Resolver supplies callee summaries to the inliner. Method resolution is
// external to the back-end; a nil resolver disables inlining.
type Resolver interface {
	InlineBody(callee string) (InlineBody, bool)
}

// Context carries the collaborators pass construction needs.
type Context struct {
	Resolver Resolver
}

// Construct maps definitions to bound pass instances, one per slot, in
// order. The variant set is closed: every identity maps to exactly one
// concrete pass type.
func Construct(defs []Def, g *ir.Graph, ctx Context) []Pass {
	out := make([]Pass, len(defs))
	for i, d := range defs {
		out[i] = construct(d, g, ctx)
	}
	return out
}

func construct(d Def, g *ir.Graph, ctx Context) Pass {
	switch d.Pass {
	case IDConstantFolding:
		return &constantFolding{name: d.Name, g: g}
	case IDInstructionSimplifier:
		return &simplifier{name: d.Name, g: g}
	case IDAggressiveInstructionSimplifier:
		return &simplifier{name: d.Name, g: g, aggressive: true}
	case IDDeadCodeElimination:
		return &deadCodeElimination{name: d.Name, g: g}
	case IDInliner:
		return &inliner{name: d.Name, g: g, resolver: ctx.Resolver}
	case IDSideEffectsAnalysis:
		return &sideEffectsAnalysis{name: d.Name, g: g}
	case IDGlobalValueNumbering:
		return &globalValueNumbering{name: d.Name, g: g}
	case IDSelectGenerator:
		return &selectGenerator{name: d.Name, g: g}
	case IDCodeSinking:
		return &codeSinking{name: d.Name, g: g}
	case IDInstructionSimplifierArm,
		IDInstructionSimplifierArm64,
		IDInstructionSimplifierX86,
		IDInstructionSimplifierX86_64:
		return &archSimplifier{name: d.Name, g: g}
	case IDMemoryOperandGenerationX86:
		return &memoryOperandGeneration{name: d.Name, g: g}
	case IDPcRelativeFixupsX86:
		return &pcRelativeFixups{name: d.Name, g: g}
	case IDCriticalNativeAbiFixupArm:
		return &criticalNativeAbiFixup{name: d.Name, g: g}
	case IDScheduling:
		return &scheduler{name: d.Name, g: g}
	default:
		return &nopPass{name: d.Name}
	}
}

type nopPass struct{ name string }

func (p *nopPass) Name() string { return p.name }
func (p *nopPass) Run() bool    { return false }
