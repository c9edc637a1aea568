package passes

import "kiln/internal/ir"

// selectGenerator rewrites empty if/else diamonds merged by phis into
// select instructions, removing two blocks and a branch per match.
type selectGenerator struct {
	name string
	g    *ir.Graph
}

func (p *selectGenerator) Name() string { return p.name }

func (p *selectGenerator) Run() bool {
	changed := false
	for p.runOnce() {
		changed = true
	}
	return changed
}

func (p *selectGenerator) runOnce() bool {
	g := p.g
	for b := ir.BlockID(0); int(b) < g.NumBlocks(); b++ {
		blk := g.BlockAt(b)
		if blk.Term.Kind != ir.TermIf {
			continue
		}
		then, els := blk.Term.Then, blk.Term.Else
		join, ok := diamondJoin(g, then, els)
		if !ok {
			continue
		}
		preds := g.Predecessors()
		thenIdx, elsIdx := predIndex(preds[join], then), predIndex(preds[join], els)
		if thenIdx < 0 || elsIdx < 0 {
			continue
		}
		cond := blk.Term.Cond
		rewrote := false
		for _, v := range append([]ir.ValueID(nil), g.BlockAt(join).Instrs...) {
			in := g.InstrAt(v)
			if in.Dead || in.Kind != ir.KindPhi || len(in.Args) != 2 {
				continue
			}
			sel := g.NewInstr(b, ir.Instr{
				Kind: ir.KindSelect,
				Args: []ir.ValueID{cond, in.Args[thenIdx], in.Args[elsIdx]},
			})
			g.ReplaceUses(v, sel)
			g.RemoveInstr(v)
			rewrote = true
		}
		if !rewrote {
			continue
		}
		// Bypass the arms: the branch block now jumps straight to the join.
		g.BlockAt(then).Term = ir.Terminator{}
		g.BlockAt(els).Term = ir.Terminator{}
		blk.Term = ir.Terminator{Kind: ir.TermGoto, Target: join}
		return true
	}
	return false
}

// diamondJoin reports the common goto target of two empty arm blocks.
func diamondJoin(g *ir.Graph, then, els ir.BlockID) (ir.BlockID, bool) {
	tb, eb := g.BlockAt(then), g.BlockAt(els)
	if len(tb.Instrs) != 0 || len(eb.Instrs) != 0 {
		return ir.NoBlock, false
	}
	if tb.Term.Kind != ir.TermGoto || eb.Term.Kind != ir.TermGoto {
		return ir.NoBlock, false
	}
	if tb.Term.Target != eb.Term.Target {
		return ir.NoBlock, false
	}
	return tb.Term.Target, true
}

func predIndex(preds []ir.BlockID, b ir.BlockID) int {
	for i, p := range preds {
		if p == b {
			return i
		}
	}
	return -1
}
