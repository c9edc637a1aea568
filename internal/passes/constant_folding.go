package passes

import "kiln/internal/ir"

// constantFolding rewrites operations over constant inputs into constants.
// Folding mutates the instruction in place so its handle stays valid.
type constantFolding struct {
	name string
	g    *ir.Graph
}

func (p *constantFolding) Name() string { return p.name }

func (p *constantFolding) Run() bool {
	g := p.g
	changed := false
	for b := ir.BlockID(0); int(b) < g.NumBlocks(); b++ {
		for _, v := range append([]ir.ValueID(nil), g.BlockAt(b).Instrs...) {
			in := g.InstrAt(v)
			if in.Dead {
				continue
			}
			switch in.Kind {
			case ir.KindBinOp:
				x, y := g.InstrAt(in.Args[0]), g.InstrAt(in.Args[1])
				if x.Kind != ir.KindConst || y.Kind != ir.KindConst {
					continue
				}
				val, ok := foldBin(in.Op, x.AuxInt, y.AuxInt)
				if !ok {
					continue
				}
				makeConst(in, val)
				changed = true
			case ir.KindUnOp:
				x := g.InstrAt(in.Args[0])
				if x.Kind != ir.KindConst {
					continue
				}
				makeConst(in, foldUn(in.Op, x.AuxInt))
				changed = true
			}
		}
	}
	return changed
}

func makeConst(in *ir.Instr, v int64) {
	in.Kind = ir.KindConst
	in.Op = ir.OpNone
	in.Args = nil
	in.AuxInt = v
}

func foldBin(op ir.Op, x, y int64) (int64, bool) {
	switch op {
	case ir.OpAdd:
		return x + y, true
	case ir.OpSub:
		return x - y, true
	case ir.OpMul:
		return x * y, true
	case ir.OpDiv:
		if y == 0 {
			return 0, false // keep the faulting instruction
		}
		return x / y, true
	case ir.OpRem:
		if y == 0 {
			return 0, false
		}
		return x % y, true
	case ir.OpAnd:
		return x & y, true
	case ir.OpOr:
		return x | y, true
	case ir.OpXor:
		return x ^ y, true
	case ir.OpShl:
		return x << (uint64(y) & 63), true
	case ir.OpShr:
		return x >> (uint64(y) & 63), true
	case ir.OpMin:
		return min(x, y), true
	case ir.OpMax:
		return max(x, y), true
	case ir.OpCmpEQ:
		return b2i(x == y), true
	case ir.OpCmpNE:
		return b2i(x != y), true
	case ir.OpCmpLT:
		return b2i(x < y), true
	case ir.OpCmpLE:
		return b2i(x <= y), true
	case ir.OpCmpGT:
		return b2i(x > y), true
	case ir.OpCmpGE:
		return b2i(x >= y), true
	default:
		return 0, false
	}
}

func foldUn(op ir.Op, x int64) int64 {
	switch op {
	case ir.OpNeg:
		return -x
	case ir.OpNot:
		return ^x
	case ir.OpAbs:
		if x < 0 {
			return -x
		}
		return x
	default:
		return x
	}
}

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
