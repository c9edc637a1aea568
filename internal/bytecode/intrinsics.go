package bytecode

import "kiln/internal/ir"

// Intrinsic template names a resolver may attach to a method.
const (
	IntrinsicAbs = "math.abs"
	IntrinsicMin = "math.min"
	IntrinsicMax = "math.max"
	// IntrinsicStringConcat lowers to a runtime helper call; it only pays
	// off when later passes eliminate the call, which they currently never
	// do, so the leaf check discards it and the bytecode body is used.
	IntrinsicStringConcat = "string.concat"
)

// BuildIntrinsicGraph populates g with the straight-line template for a
// recognized intrinsic. Returns false for unknown names, in which case g
// is untouched and the caller falls back to the bytecode body.
func BuildIntrinsicGraph(g *ir.Graph, name string) bool {
	switch name {
	case IntrinsicAbs:
		b := g.NewBlock()
		g.Entry = b
		x := g.Param(b, 0)
		g.SetReturn(b, g.UnOp(b, ir.OpAbs, x))
		return true
	case IntrinsicMin, IntrinsicMax:
		op := ir.OpMin
		if name == IntrinsicMax {
			op = ir.OpMax
		}
		b := g.NewBlock()
		g.Entry = b
		x := g.Param(b, 0)
		y := g.Param(b, 1)
		g.SetReturn(b, g.BinOp(b, op, x, y))
		return true
	case IntrinsicStringConcat:
		b := g.NewBlock()
		g.Entry = b
		x := g.Param(b, 0)
		y := g.Param(b, 1)
		g.SetReturn(b, g.Invoke(b, "runtime/string_concat", x, y))
		return true
	default:
		return false
	}
}
