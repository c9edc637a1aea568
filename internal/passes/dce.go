package passes

import "kiln/internal/ir"

// deadCodeElimination removes pure instructions with no uses and disconnects
// blocks unreachable from the entry.
type deadCodeElimination struct {
	name string
	g    *ir.Graph
}

func (p *deadCodeElimination) Name() string { return p.name }

func (p *deadCodeElimination) Run() bool {
	changed := p.removeUnreachableBlocks()
	for p.removeDeadInstrs() {
		changed = true
	}
	return changed
}

func (p *deadCodeElimination) removeDeadInstrs() bool {
	g := p.g
	uses := g.UseCounts()
	changed := false
	for b := ir.BlockID(0); int(b) < g.NumBlocks(); b++ {
		for _, v := range append([]ir.ValueID(nil), g.BlockAt(b).Instrs...) {
			in := g.InstrAt(v)
			if in.Dead || !in.Pure() || uses[v] != 0 {
				continue
			}
			g.RemoveInstr(v)
			changed = true
		}
	}
	return changed
}

func (p *deadCodeElimination) removeUnreachableBlocks() bool {
	g := p.g
	reachable := g.Reachable()
	changed := false
	for b := ir.BlockID(0); int(b) < g.NumBlocks(); b++ {
		if reachable[b] {
			continue
		}
		blk := g.BlockAt(b)
		if len(blk.Instrs) == 0 && blk.Term.Kind == ir.TermNone {
			continue // already cleared
		}
		// Drop this block's phi contributions to reachable successors
		// before severing its edges.
		for _, succ := range blk.Term.Successors() {
			if reachable[succ] {
				// Predecessor order must be recomputed per removal:
				// earlier prunes shift phi input positions.
				prunePhiEdge(g, succ, b, g.Predecessors())
			}
		}
		for _, v := range append([]ir.ValueID(nil), blk.Instrs...) {
			g.RemoveInstr(v)
		}
		blk.Term = ir.Terminator{}
		changed = true
	}
	return changed
}
