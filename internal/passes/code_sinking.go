package passes

import "kiln/internal/ir"

// codeSinking moves pure computations out of branching blocks into the sole
// successor block that uses them, so untaken paths never execute them.
type codeSinking struct {
	name string
	g    *ir.Graph
}

func (p *codeSinking) Name() string { return p.name }

func (p *codeSinking) Run() bool {
	g := p.g
	changed := false
	for b := ir.BlockID(0); int(b) < g.NumBlocks(); b++ {
		blk := g.BlockAt(b)
		if blk.Term.Kind != ir.TermIf {
			continue
		}
		for _, v := range append([]ir.ValueID(nil), blk.Instrs...) {
			in := g.InstrAt(v)
			if in.Dead || !in.Pure() || in.Kind == ir.KindPhi || in.ReadsMemory() {
				continue
			}
			if blk.Term.Cond == v {
				continue
			}
			dest, ok := soleUsingSuccessor(g, v, blk)
			if !ok {
				continue
			}
			moveToFront(g, v, dest)
			changed = true
		}
	}
	return changed
}

// soleUsingSuccessor reports the single successor block containing every
// use of v, if v is unused elsewhere. Phi uses pin the value in place.
func soleUsingSuccessor(g *ir.Graph, v ir.ValueID, blk *ir.Block) (ir.BlockID, bool) {
	dest := ir.NoBlock
	for b := ir.BlockID(0); int(b) < g.NumBlocks(); b++ {
		for _, u := range g.BlockAt(b).Instrs {
			in := g.InstrAt(u)
			if in.Dead {
				continue
			}
			for _, a := range in.Args {
				if a != v {
					continue
				}
				if in.Kind == ir.KindPhi {
					return ir.NoBlock, false
				}
				if dest == ir.NoBlock {
					dest = b
				} else if dest != b {
					return ir.NoBlock, false
				}
			}
		}
		t := &g.BlockAt(b).Term
		if (t.Kind == ir.TermIf && t.Cond == v) || (t.Kind == ir.TermReturn && t.Value == v) {
			if dest == ir.NoBlock {
				dest = b
			} else if dest != b {
				return ir.NoBlock, false
			}
		}
	}
	if dest == ir.NoBlock || dest == blk.ID {
		return ir.NoBlock, false
	}
	for _, succ := range blk.Term.Successors() {
		if succ == dest {
			return dest, true
		}
	}
	return ir.NoBlock, false
}

func moveToFront(g *ir.Graph, v ir.ValueID, dest ir.BlockID) {
	in := g.InstrAt(v)
	src := g.BlockAt(in.Block)
	for i, id := range src.Instrs {
		if id == v {
			src.Instrs = append(src.Instrs[:i], src.Instrs[i+1:]...)
			break
		}
	}
	db := g.BlockAt(dest)
	db.Instrs = append([]ir.ValueID{v}, db.Instrs...)
	in.Block = dest
}
