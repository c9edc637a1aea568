package passes

import "kiln/internal/ir"

// simplifier applies algebraic identities and folds branches on constant
// conditions. The aggressive variant additionally rewrites identities that
// may lengthen live ranges and is only scheduled late in the pipeline.
type simplifier struct {
	name       string
	g          *ir.Graph
	aggressive bool
}

func (p *simplifier) Name() string { return p.name }

func (p *simplifier) Run() bool {
	changed := false
	for p.runOnce() {
		changed = true
	}
	if p.foldConstBranches() {
		changed = true
	}
	return changed
}

func (p *simplifier) runOnce() bool {
	g := p.g
	changed := false
	for b := ir.BlockID(0); int(b) < g.NumBlocks(); b++ {
		for _, v := range append([]ir.ValueID(nil), g.BlockAt(b).Instrs...) {
			in := g.InstrAt(v)
			if in.Dead {
				continue
			}
			if repl, ok := p.simplify(v, in); ok {
				g.ReplaceUses(v, repl)
				g.RemoveInstr(v)
				changed = true
			}
		}
	}
	return changed
}

// simplify returns the value that replaces v, if any identity applies.
func (p *simplifier) simplify(v ir.ValueID, in *ir.Instr) (ir.ValueID, bool) {
	g := p.g
	isConst := func(a ir.ValueID, c int64) bool {
		ai := g.InstrAt(a)
		return ai.Kind == ir.KindConst && ai.AuxInt == c
	}
	switch in.Kind {
	case ir.KindBinOp:
		x, y := in.Args[0], in.Args[1]
		switch in.Op {
		case ir.OpAdd:
			if isConst(y, 0) {
				return x, true
			}
			if isConst(x, 0) {
				return y, true
			}
		case ir.OpSub:
			if isConst(y, 0) {
				return x, true
			}
			if x == y {
				return p.zeroConst(in.Block), true
			}
		case ir.OpMul:
			if isConst(y, 1) {
				return x, true
			}
			if isConst(x, 1) {
				return y, true
			}
			if isConst(x, 0) || isConst(y, 0) {
				return p.zeroConst(in.Block), true
			}
		case ir.OpAnd, ir.OpOr, ir.OpMin, ir.OpMax:
			if x == y {
				return x, true
			}
		case ir.OpXor:
			if x == y {
				return p.zeroConst(in.Block), true
			}
		case ir.OpDiv:
			if p.aggressive && isConst(y, 1) {
				return x, true
			}
		}
	case ir.KindUnOp:
		arg := g.InstrAt(in.Args[0])
		if !arg.Dead && arg.Kind == ir.KindUnOp && arg.Op == in.Op &&
			(in.Op == ir.OpNeg || in.Op == ir.OpNot) {
			return arg.Args[0], true
		}
	case ir.KindSelect:
		cond := g.InstrAt(in.Args[0])
		if cond.Kind == ir.KindConst {
			if cond.AuxInt != 0 {
				return in.Args[1], true
			}
			return in.Args[2], true
		}
		if in.Args[1] == in.Args[2] {
			return in.Args[1], true
		}
	}
	return ir.NoValue, false
}

func (p *simplifier) zeroConst(b ir.BlockID) ir.ValueID {
	// Appended at the end of the block; handle order does not imply
	// evaluation order for constants, the generator materializes them at
	// first use.
	return p.g.Const(b, 0)
}

// foldConstBranches rewrites If terminators over constant conditions into
// gotos, pruning the dropped edge from the target's phis.
func (p *simplifier) foldConstBranches() bool {
	g := p.g
	changed := false
	for b := ir.BlockID(0); int(b) < g.NumBlocks(); b++ {
		blk := g.BlockAt(b)
		if blk.Term.Kind != ir.TermIf {
			continue
		}
		cond := g.InstrAt(blk.Term.Cond)
		if cond.Kind != ir.KindConst {
			continue
		}
		taken, dropped := blk.Term.Then, blk.Term.Else
		if cond.AuxInt == 0 {
			taken, dropped = dropped, taken
		}
		preds := g.Predecessors()
		if dropped != taken {
			prunePhiEdge(g, dropped, b, preds)
		}
		blk.Term = ir.Terminator{Kind: ir.TermGoto, Target: taken}
		changed = true
	}
	return changed
}

// prunePhiEdge removes the phi input of target corresponding to the edge
// from pred, using predecessor order computed before the edge is removed.
func prunePhiEdge(g *ir.Graph, target, pred ir.BlockID, preds [][]ir.BlockID) {
	idx := -1
	for i, pb := range preds[target] {
		if pb == pred {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	for _, v := range append([]ir.ValueID(nil), g.BlockAt(target).Instrs...) {
		in := g.InstrAt(v)
		if in.Kind != ir.KindPhi || idx >= len(in.Args) {
			continue
		}
		in.Args = append(in.Args[:idx:idx], in.Args[idx+1:]...)
		if len(in.Args) == 1 {
			g.ReplaceUses(v, in.Args[0])
			g.RemoveInstr(v)
		}
	}
}
