package ir

import (
	"fmt"
	"io"
	"strings"
)

// Dump writes a human-readable listing of the graph, used by the pass
// observer's CFG dumps and by fatal validation reports.
func Dump(w io.Writer, g *Graph) {
	if w == nil || g == nil {
		return
	}
	fmt.Fprintf(w, "graph %s isa=%s kind=%s entry=bb%d\n", g.Method, g.ISA, g.Kind, g.Entry)
	for b := range g.blocks {
		blk := &g.blocks[b]
		fmt.Fprintf(w, "bb%d:\n", b)
		for _, v := range blk.Instrs {
			fmt.Fprintf(w, "  %s\n", instrString(g, v))
		}
		fmt.Fprintf(w, "  %s\n", termString(&blk.Term))
	}
}

func instrString(g *Graph, v ValueID) string {
	in := g.InstrAt(v)
	var sb strings.Builder
	fmt.Fprintf(&sb, "v%d = ", v)
	switch in.Kind {
	case KindParam:
		fmt.Fprintf(&sb, "param %d", in.AuxInt)
	case KindConst:
		fmt.Fprintf(&sb, "const %d", in.AuxInt)
	case KindBinOp, KindUnOp:
		sb.WriteString(in.Op.String())
		for _, a := range in.Args {
			fmt.Fprintf(&sb, " v%d", a)
		}
	case KindInvoke:
		fmt.Fprintf(&sb, "invoke %s", in.Sym)
		for _, a := range in.Args {
			fmt.Fprintf(&sb, " v%d", a)
		}
	case KindLoad:
		fmt.Fprintf(&sb, "load %s v%d", in.Sym, in.Args[0])
	case KindStore:
		fmt.Fprintf(&sb, "store %s v%d v%d", in.Sym, in.Args[0], in.Args[1])
	case KindPhi:
		sb.WriteString("phi")
		for _, a := range in.Args {
			fmt.Fprintf(&sb, " v%d", a)
		}
	case KindSelect:
		fmt.Fprintf(&sb, "select v%d v%d v%d", in.Args[0], in.Args[1], in.Args[2])
	default:
		sb.WriteString(in.Kind.String())
	}
	return sb.String()
}

func termString(t *Terminator) string {
	switch t.Kind {
	case TermGoto:
		return fmt.Sprintf("goto bb%d", t.Target)
	case TermIf:
		return fmt.Sprintf("if v%d then bb%d else bb%d", t.Cond, t.Then, t.Else)
	case TermReturn:
		if t.Value == NoValue {
			return "return"
		}
		return fmt.Sprintf("return v%d", t.Value)
	default:
		return "<unterminated>"
	}
}
