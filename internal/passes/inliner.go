package passes

import "kiln/internal/ir"

// inliner substitutes calls to trivially inlinable callees with their body.
// Resolution of callee bodies is external; the resolver hands back a summary
// or declines. A nil resolver makes the pass a no-op, which correctly gates
// the after-inlining simplification slots that depend on it.
type inliner struct {
	name     string
	g        *ir.Graph
	resolver Resolver
}

func (p *inliner) Name() string { return p.name }

func (p *inliner) Run() bool {
	if p.resolver == nil {
		return false
	}
	g := p.g
	changed := false
	for b := ir.BlockID(0); int(b) < g.NumBlocks(); b++ {
		for _, v := range append([]ir.ValueID(nil), g.BlockAt(b).Instrs...) {
			in := g.InstrAt(v)
			if in.Dead || in.Kind != ir.KindInvoke {
				continue
			}
			body, ok := p.resolver.InlineBody(in.Sym)
			if !ok {
				continue
			}
			if p.substitute(v, in, body) {
				changed = true
			}
		}
	}
	return changed
}

func (p *inliner) substitute(v ir.ValueID, in *ir.Instr, body InlineBody) bool {
	switch body.Kind {
	case InlineConst:
		makeConst(in, body.Const)
		return true
	case InlineParam:
		if body.ParamIndex >= len(in.Args) {
			return false
		}
		arg := in.Args[body.ParamIndex]
		p.g.ReplaceUses(v, arg)
		p.g.RemoveInstr(v)
		return true
	case InlineBinOp:
		if len(in.Args) < 2 {
			return false
		}
		in.Kind = ir.KindBinOp
		in.Op = body.Op
		in.Sym = ""
		in.Args = in.Args[:2]
		return true
	default:
		return false
	}
}
