// Package testkit holds shared helpers for back-end tests: canonical graph
// shapes and invariant checks that multiple test packages exercise.
package testkit

import (
	"fmt"

	"fortio.org/safecast"

	"kiln/internal/arena"
	"kiln/internal/ir"
	"kiln/internal/isa"
	"kiln/internal/method"
)

// CheckGraphInvariants runs the structural checker the way the pass
// harness does, treating the graph as freshly changed, plus block/instr
// membership checks the harness leaves to debug dumps.
func CheckGraphInvariants(g *ir.Graph) error {
	if g == nil {
		return fmt.Errorf("nil graph")
	}
	if _, err := ir.NewChecker(g, 0).Run(true); err != nil {
		return err
	}
	for b := ir.BlockID(0); int(b) < g.NumBlocks(); b++ {
		if _, err := safecast.Conv[uint32](len(g.BlockAt(b).Instrs)); err != nil {
			return fmt.Errorf("block %d instruction count overflow", b)
		}
		for _, v := range g.BlockAt(b).Instrs {
			if g.InstrAt(v).Block != b {
				return fmt.Errorf("instr %d listed in block %d but claims block %d", v, b, g.InstrAt(v).Block)
			}
			if g.InstrAt(v).Dead {
				return fmt.Errorf("dead instr %d still listed in block %d", v, b)
			}
		}
	}
	return nil
}

// NewGraph builds an empty optimized-tier graph on a fresh pool.
func NewGraph(name string, set isa.Set) *ir.Graph {
	return ir.NewGraph(arena.NewPool(), name, set, method.KindOptimized)
}

// StraightLine builds: entry { p0 = param 0; c = const k; r = p0 + c; ret r }.
func StraightLine(set isa.Set, k int64) *ir.Graph {
	g := NewGraph("straight_line", set)
	b := g.NewBlock()
	g.Entry = b
	p := g.Param(b, 0)
	c := g.Const(b, k)
	g.SetReturn(b, g.BinOp(b, ir.OpAdd, p, c))
	return g
}

// Diamond builds an if/else joining in a phi:
//
//	entry: if p0 -> then | else
//	then:  goto join
//	else:  goto join
//	join:  r = phi(c1, c2); ret r
func Diamond(set isa.Set, v1, v2 int64) *ir.Graph {
	g := NewGraph("diamond", set)
	entry := g.NewBlock()
	then := g.NewBlock()
	els := g.NewBlock()
	join := g.NewBlock()
	g.Entry = entry

	p := g.Param(entry, 0)
	c1 := g.Const(entry, v1)
	c2 := g.Const(entry, v2)
	g.SetIf(entry, p, then, els)
	g.SetGoto(then, join)
	g.SetGoto(els, join)
	phi := g.Phi(join, c1, c2)
	g.SetReturn(join, phi)
	return g
}

// Loop builds a counted loop with a loop-carried phi:
//
//	entry:  i0 = const 0; n = param 0; goto header
//	header: i = phi(i0, i2); c = i < n; if c -> body | exit
//	body:   i2 = i + 1; goto header
//	exit:   ret i
func Loop(set isa.Set) *ir.Graph {
	g := NewGraph("loop", set)
	entry := g.NewBlock()
	header := g.NewBlock()
	body := g.NewBlock()
	exit := g.NewBlock()
	g.Entry = entry

	i0 := g.Const(entry, 0)
	n := g.Param(entry, 0)
	g.SetGoto(entry, header)

	phi := g.Phi(header, i0) // back-edge arg appended below
	cond := g.BinOp(header, ir.OpCmpLT, phi, n)
	g.SetIf(header, cond, body, exit)
	g.BlockAt(header).LoopHeader = true

	one := g.Const(body, 1)
	next := g.BinOp(body, ir.OpAdd, phi, one)
	g.SetGoto(body, header)
	g.InstrAt(phi).Args = append(g.InstrAt(phi).Args, next)

	g.SetReturn(exit, phi)
	return g
}
