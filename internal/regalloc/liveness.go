package regalloc

import (
	"kiln/internal/arena"
	"kiln/internal/ir"
)

// Interval is the live range of one value over the linearized instruction
// order. Start is the definition position; End the last use.
type Interval struct {
	Value      ir.ValueID
	Start, End int
	// AcrossCall marks ranges spanning an invoke; linear scan prefers to
	// spill these first since they would need callee-saved registers.
	AcrossCall bool
}

// analyze computes live intervals. Block-local bitsets come out of the
// scratch scope; they are dead the moment allocation finishes.
func analyze(g *ir.Graph, scratch *arena.Scope) []Interval {
	// Linearize: blocks in handle order, one position per instruction,
	// one extra for the terminator.
	pos := make([]int, g.CurrentInstrID())
	blockEnd := make([]int, g.NumBlocks())
	p := 0
	for b := ir.BlockID(0); int(b) < g.NumBlocks(); b++ {
		for _, v := range g.BlockAt(b).Instrs {
			pos[v] = p
			p++
		}
		blockEnd[b] = p
		p++
	}
	callAt := scratch.Alloc((p + 7) / 8)
	for b := ir.BlockID(0); int(b) < g.NumBlocks(); b++ {
		for _, v := range g.BlockAt(b).Instrs {
			if g.InstrAt(v).Kind == ir.KindInvoke {
				setBit(callAt, pos[v])
			}
		}
	}

	live := make(map[ir.ValueID]*Interval)
	ensure := func(v ir.ValueID) *Interval {
		iv, ok := live[v]
		if !ok {
			iv = &Interval{Value: v, Start: pos[v], End: pos[v]}
			live[v] = iv
		}
		return iv
	}
	extend := func(v ir.ValueID, to int) {
		iv := ensure(v)
		if to > iv.End {
			iv.End = to
		}
	}

	preds := g.Predecessors()
	for b := ir.BlockID(0); int(b) < g.NumBlocks(); b++ {
		blk := g.BlockAt(b)
		for _, v := range blk.Instrs {
			in := g.InstrAt(v)
			ensure(v)
			if in.Kind == ir.KindPhi {
				// Phi inputs are consumed on the incoming edges: each
				// argument lives to the end of its predecessor block.
				for i, a := range in.Args {
					if a != ir.NoValue && i < len(preds[b]) {
						extend(a, blockEnd[preds[b][i]])
					}
				}
				continue
			}
			for _, a := range in.Args {
				if a != ir.NoValue {
					extend(a, pos[v])
				}
			}
		}
		t := &blk.Term
		if t.Kind == ir.TermIf && t.Cond != ir.NoValue {
			extend(t.Cond, blockEnd[b])
		}
		if t.Kind == ir.TermReturn && t.Value != ir.NoValue {
			extend(t.Value, blockEnd[b])
		}
	}

	out := make([]Interval, 0, len(live))
	for _, iv := range live {
		if g.InstrAt(iv.Value).Dead {
			continue
		}
		for q := iv.Start + 1; q < iv.End; q++ {
			if getBit(callAt, q) {
				iv.AcrossCall = true
				break
			}
		}
		out = append(out, *iv)
	}
	sortIntervals(out)
	return out
}

func sortIntervals(ivs []Interval) {
	// Insertion sort keyed on Start; interval counts are method-sized.
	for i := 1; i < len(ivs); i++ {
		for j := i; j > 0 && less(ivs[j], ivs[j-1]); j-- {
			ivs[j], ivs[j-1] = ivs[j-1], ivs[j]
		}
	}
}

func less(a, b Interval) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	return a.Value < b.Value
}

func setBit(bits []byte, i int) { bits[i/8] |= 1 << (i % 8) }
func getBit(bits []byte, i int) bool {
	return bits[i/8]&(1<<(i%8)) != 0
}
