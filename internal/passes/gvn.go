package passes

import (
	"fmt"
	"strings"

	"kiln/internal/ir"
)

// sideEffectsAnalysis summarizes, per block, whether heap writes or calls
// occur. It is an analysis: it mutates no instructions and always reports
// no change, so passes depending on it are gated on earlier rewrites, not
// on the analysis itself.
type sideEffectsAnalysis struct {
	name string
	g    *ir.Graph
}

func (p *sideEffectsAnalysis) Name() string { return p.name }

func (p *sideEffectsAnalysis) Run() bool {
	g := p.g
	effects := make([]ir.Effects, g.NumBlocks())
	for b := ir.BlockID(0); int(b) < g.NumBlocks(); b++ {
		for _, v := range g.BlockAt(b).Instrs {
			switch g.InstrAt(v).Kind {
			case ir.KindStore:
				effects[b] |= ir.EffectWrites
			case ir.KindInvoke:
				effects[b] |= ir.EffectWrites | ir.EffectCalls
			}
		}
	}
	g.BlockEffects = effects
	return false
}

// globalValueNumbering eliminates redundant computations per block. Pure
// instructions with identical operation and inputs collapse to the first
// occurrence; loads are numbered too when the enclosing block is free of
// writes according to the side-effects summary.
type globalValueNumbering struct {
	name string
	g    *ir.Graph
}

func (p *globalValueNumbering) Name() string { return p.name }

func (p *globalValueNumbering) Run() bool {
	g := p.g
	changed := false
	for b := ir.BlockID(0); int(b) < g.NumBlocks(); b++ {
		table := make(map[string]ir.ValueID)
		blockWrites := g.BlockEffects == nil || g.BlockEffects[b]&ir.EffectWrites != 0
		for _, v := range append([]ir.ValueID(nil), g.BlockAt(b).Instrs...) {
			in := g.InstrAt(v)
			if in.Dead {
				continue
			}
			if !in.Pure() || in.Kind == ir.KindPhi {
				continue
			}
			if in.ReadsMemory() && blockWrites {
				continue
			}
			key := numberingKey(in)
			if prev, ok := table[key]; ok {
				g.ReplaceUses(v, prev)
				g.RemoveInstr(v)
				changed = true
				continue
			}
			table[key] = v
		}
	}
	return changed
}

func numberingKey(in *ir.Instr) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d/%d/%d/%s", in.Kind, in.Op, in.AuxInt, in.Sym)
	args := in.Args
	// Commutative operations number both argument orders the same.
	if in.Kind == ir.KindBinOp && commutative(in.Op) && len(args) == 2 && args[0] > args[1] {
		args = []ir.ValueID{args[1], args[0]}
	}
	for _, a := range args {
		fmt.Fprintf(&sb, ":%d", a)
	}
	return sb.String()
}

func commutative(op ir.Op) bool {
	switch op {
	case ir.OpAdd, ir.OpMul, ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpMin, ir.OpMax, ir.OpCmpEQ, ir.OpCmpNE:
		return true
	default:
		return false
	}
}
