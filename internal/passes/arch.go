package passes

import (
	"strings"

	"kiln/internal/ir"
)

// archSimplifier applies rewrites that only pay off on the target micro-
// architecture. The one shared across all targets is strength reduction of
// multiplies by powers of two into shifts.
type archSimplifier struct {
	name string
	g    *ir.Graph
}

func (p *archSimplifier) Name() string { return p.name }

func (p *archSimplifier) Run() bool {
	g := p.g
	changed := false
	for b := ir.BlockID(0); int(b) < g.NumBlocks(); b++ {
		blk := g.BlockAt(b)
		for _, v := range append([]ir.ValueID(nil), blk.Instrs...) {
			in := g.InstrAt(v)
			if in.Dead || in.Kind != ir.KindBinOp || in.Op != ir.OpMul {
				continue
			}
			x, y := in.Args[0], in.Args[1]
			if shift, ok := powerOfTwo(g, y); ok {
				p.toShift(blk, v, in, x, shift)
				changed = true
			} else if shift, ok := powerOfTwo(g, x); ok {
				p.toShift(blk, v, in, y, shift)
				changed = true
			}
		}
	}
	return changed
}

func powerOfTwo(g *ir.Graph, v ir.ValueID) (int64, bool) {
	in := g.InstrAt(v)
	if in.Kind != ir.KindConst || in.AuxInt <= 1 || in.AuxInt&(in.AuxInt-1) != 0 {
		return 0, false
	}
	shift := int64(0)
	for n := in.AuxInt; n > 1; n >>= 1 {
		shift++
	}
	return shift, true
}

func (p *archSimplifier) toShift(blk *ir.Block, v ir.ValueID, in *ir.Instr, x ir.ValueID, shift int64) {
	g := p.g
	pos := 0
	for i, id := range blk.Instrs {
		if id == v {
			pos = i
			break
		}
	}
	amount := g.Const(blk.ID, shift)
	// The new constant was appended at the block end; evaluation order
	// inside a block follows the instruction list, so move it before the
	// shift it feeds.
	last := len(blk.Instrs) - 1
	id := blk.Instrs[last]
	copy(blk.Instrs[pos+1:], blk.Instrs[pos:last])
	blk.Instrs[pos] = id
	in.Op = ir.OpShl
	in.Args = []ir.ValueID{x, amount}
}

// memoryOperandGeneration marks loads consumed by exactly one operation in
// the same block as fusable into an x86 memory operand.
type memoryOperandGeneration struct {
	name string
	g    *ir.Graph
}

func (p *memoryOperandGeneration) Name() string { return p.name }

func (p *memoryOperandGeneration) Run() bool {
	g := p.g
	uses := g.UseCounts()
	changed := false
	for b := ir.BlockID(0); int(b) < g.NumBlocks(); b++ {
		for _, v := range g.BlockAt(b).Instrs {
			in := g.InstrAt(v)
			if in.Dead || in.Kind != ir.KindLoad || in.Fused || uses[v] != 1 {
				continue
			}
			if user, ok := singleUserInBlock(g, v, b); ok && g.InstrAt(user).Kind == ir.KindBinOp {
				in.Fused = true
				changed = true
			}
		}
	}
	return changed
}

func singleUserInBlock(g *ir.Graph, v ir.ValueID, b ir.BlockID) (ir.ValueID, bool) {
	for _, u := range g.BlockAt(b).Instrs {
		for _, a := range g.InstrAt(u).Args {
			if a == v {
				return u, true
			}
		}
	}
	return ir.NoValue, false
}

// pcRelativeFixups gives x86 position-independent code a materialized base:
// one marker instruction at the entry that the generator turns into the
// call that loads the return address.
type pcRelativeFixups struct {
	name string
	g    *ir.Graph
}

func (p *pcRelativeFixups) Name() string { return p.name }

// PCRelBaseSym marks the materialized position-independent base; the
// generator recognizes it and emits the base-load sequence there.
const PCRelBaseSym = "<pc_relative_base>"

func (p *pcRelativeFixups) Run() bool {
	g := p.g
	if !g.HasInvokes() || g.Entry == ir.NoBlock {
		return false
	}
	entry := g.BlockAt(g.Entry)
	for _, v := range entry.Instrs {
		if g.InstrAt(v).Sym == PCRelBaseSym {
			return false // already inserted
		}
	}
	v := g.NewInstr(g.Entry, ir.Instr{Kind: ir.KindNop, Sym: PCRelBaseSym})
	last := len(entry.Instrs) - 1
	copy(entry.Instrs[1:], entry.Instrs[:last])
	entry.Instrs[0] = v
	return true
}

// criticalNativeAbiFixup tags calls into @critical native entry points so
// the generator uses the raw native calling convention for them.
type criticalNativeAbiFixup struct {
	name string
	g    *ir.Graph
}

func (p *criticalNativeAbiFixup) Name() string { return p.name }

// CriticalCalleePrefix marks callees using the raw native convention.
const CriticalCalleePrefix = "@critical/"

func (p *criticalNativeAbiFixup) Run() bool {
	g := p.g
	changed := false
	for b := ir.BlockID(0); int(b) < g.NumBlocks(); b++ {
		for _, v := range g.BlockAt(b).Instrs {
			in := g.InstrAt(v)
			if in.Dead || in.Kind != ir.KindInvoke || in.AuxInt != 0 {
				continue
			}
			if strings.HasPrefix(in.Sym, CriticalCalleePrefix) {
				in.AuxInt = 1
				changed = true
			}
		}
	}
	return changed
}

// scheduler performs a minimal list scheduling: constants sink to just
// before their first in-block use, shortening live ranges ahead of
// register allocation.
type scheduler struct {
	name string
	g    *ir.Graph
}

func (p *scheduler) Name() string { return p.name }

func (p *scheduler) Run() bool {
	g := p.g
	changed := false
	for b := ir.BlockID(0); int(b) < g.NumBlocks(); b++ {
		blk := g.BlockAt(b)
		for i := 0; i < len(blk.Instrs); i++ {
			v := blk.Instrs[i]
			in := g.InstrAt(v)
			if in.Kind != ir.KindConst {
				continue
			}
			use := firstUseIndex(g, blk, v, i)
			if use < 0 || use == i+1 {
				continue
			}
			// Already packed against the use site together with other
			// constants; moving would only permute them forever.
			if !hasNonConst(g, blk, i+1, use) {
				continue
			}
			copy(blk.Instrs[i:], blk.Instrs[i+1:use])
			blk.Instrs[use-1] = v
			changed = true
			i--
		}
	}
	return changed
}

// hasNonConst reports whether blk.Instrs[from:to] contains a non-constant.
func hasNonConst(g *ir.Graph, blk *ir.Block, from, to int) bool {
	for i := from; i < to; i++ {
		if g.InstrAt(blk.Instrs[i]).Kind != ir.KindConst {
			return true
		}
	}
	return false
}

// firstUseIndex returns the index of the first instruction after pos that
// uses v, or -1 when v is unused inside the block.
func firstUseIndex(g *ir.Graph, blk *ir.Block, v ir.ValueID, pos int) int {
	for i := pos + 1; i < len(blk.Instrs); i++ {
		for _, a := range g.InstrAt(blk.Instrs[i]).Args {
			if a == v {
				return i
			}
		}
	}
	return -1
}
