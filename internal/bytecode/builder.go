package bytecode

import (
	"fmt"
	"sort"

	"kiln/internal/ir"
	"kiln/internal/method"
)

// Builder turns a decoded method body into the SSA graph the pipeline
// consumes.
type Builder struct{}

// NewBuilder returns a graph builder.
func NewBuilder() *Builder { return &Builder{} }

// edge is one incoming CFG edge of a block, in the order the graph
// reports predecessors.
type edge struct {
	from ir.BlockID
	back bool
}

// Build populates g from the unit's body. The graph must be freshly
// created. Any malformed encoding is reported as an error; partial graphs
// are never left behind for the pipeline.
func (bd *Builder) Build(g *ir.Graph, unit *method.Unit) error {
	insts, err := decode(unit.Code)
	if err != nil {
		return err
	}
	if len(insts) == 0 {
		return fmt.Errorf("bytecode: empty body for %s", unit.Name)
	}

	byOff := make(map[int]int, len(insts))
	for i := range insts {
		byOff[insts[i].off] = i
	}
	checkTarget := func(t int) error {
		if _, ok := byOff[t]; !ok {
			return fmt.Errorf("bytecode: branch target %d is not an instruction start", t)
		}
		return nil
	}

	// Leaders: entry, every branch target, every fallthrough after a
	// terminator.
	leaders := map[int]bool{insts[0].off: true}
	for i := range insts {
		in := &insts[i]
		switch in.op {
		case opJump:
			if err := checkTarget(in.target); err != nil {
				return err
			}
			leaders[in.target] = true
		case opBr:
			if err := checkTarget(in.then); err != nil {
				return err
			}
			if err := checkTarget(in.els); err != nil {
				return err
			}
			leaders[in.then] = true
			leaders[in.els] = true
		}
		if in.terminator() && i+1 < len(insts) {
			leaders[insts[i+1].off] = true
		}
	}

	starts := make([]int, 0, len(leaders))
	for off := range leaders {
		starts = append(starts, off)
	}
	sort.Ints(starts)

	blockOf := make(map[int]ir.BlockID, len(starts))
	for _, off := range starts {
		blockOf[off] = g.NewBlock()
	}
	g.Entry = blockOf[insts[0].off]

	// Per-block instruction ranges, in offset order.
	type extent struct {
		startOff   int
		start, end int // [start, end) into insts
		id         ir.BlockID
	}
	extents := make([]extent, len(starts))
	for bi, off := range starts {
		end := len(insts)
		if bi+1 < len(starts) {
			end = byOff[starts[bi+1]]
		}
		extents[bi] = extent{startOff: off, start: byOff[off], end: end, id: blockOf[off]}
	}

	// Incoming edges per block, in the order graph.Predecessors reports
	// them: source blocks in creation order, If edges then-first. An edge
	// whose source starts at or after its target is a back edge.
	preds := make(map[ir.BlockID][]edge)
	addEdge := func(srcOff int, src ir.BlockID, targetOff int) {
		to := blockOf[targetOff]
		back := srcOff >= targetOff
		preds[to] = append(preds[to], edge{from: src, back: back})
		if back {
			g.BlockAt(to).LoopHeader = true
		}
	}
	for bi, ext := range extents {
		last := &insts[ext.end-1]
		switch {
		case last.op == opJump:
			addEdge(ext.startOff, ext.id, last.target)
		case last.op == opBr:
			addEdge(ext.startOff, ext.id, last.then)
			addEdge(ext.startOff, ext.id, last.els)
		case last.op == opRet:
		default:
			if bi+1 >= len(extents) {
				return fmt.Errorf("bytecode: body of %s falls off the end", unit.Name)
			}
			addEdge(ext.startOff, ext.id, extents[bi+1].startOff)
		}
	}

	// SSA construction: per-block register maps, phis at merges. Blocks
	// are processed in offset order; a predecessor not yet processed is a
	// back edge, and its phi argument is patched afterwards.
	outState := make(map[ir.BlockID]map[uint8]ir.ValueID)
	type pendingArg struct {
		phi  ir.ValueID
		arg  int
		from ir.BlockID
		reg  uint8
	}
	var pending []pendingArg

	for bi, ext := range extents {
		b := ext.id
		state := make(map[uint8]ir.ValueID)
		es := preds[b]
		switch {
		case len(es) == 0:
			// Entry (or unreachable) block: empty state.
		case len(es) == 1 && !es[0].back:
			for r, v := range outState[es[0].from] {
				state[r] = v
			}
		default:
			// Merge point. A register flows through the merge when every
			// forward predecessor defines it; back-edge contributions are
			// patched once the loop body has been processed.
			for _, r := range mergeRegs(outState, es) {
				phi := g.Phi(b)
				args := make([]ir.ValueID, len(es))
				for ei, e := range es {
					if e.back {
						args[ei] = phi // placeholder, patched below
						pending = append(pending, pendingArg{phi: phi, arg: ei, from: e.from, reg: r})
					} else {
						args[ei] = outState[e.from][r]
					}
				}
				g.InstrAt(phi).Args = args
				state[r] = phi
			}
		}

		for ii := ext.start; ii < ext.end; ii++ {
			in := &insts[ii]
			switch in.op {
			case opJump:
				g.SetGoto(b, blockOf[in.target])
			case opBr:
				cond, ok := state[in.a]
				if !ok {
					return fmt.Errorf("bytecode: use of undefined register r%d at offset %d in %s", in.a, in.off, unit.Name)
				}
				g.SetIf(b, cond, blockOf[in.then], blockOf[in.els])
			default:
				if err := bd.emit(g, b, in, state); err != nil {
					return fmt.Errorf("%w in %s", err, unit.Name)
				}
			}
		}
		if !g.BlockAt(b).Terminated() {
			g.SetGoto(b, extents[bi+1].id)
		}
		outState[b] = state
	}

	for _, p := range pending {
		v, ok := outState[p.from][p.reg]
		if !ok {
			return fmt.Errorf("bytecode: register r%d undefined on back edge in %s", p.reg, unit.Name)
		}
		g.InstrAt(p.phi).Args[p.arg] = v
	}
	return nil
}

// mergeRegs returns, sorted, the registers defined by every forward
// predecessor of a merge.
func mergeRegs(outState map[ir.BlockID]map[uint8]ir.ValueID, es []edge) []uint8 {
	counts := map[uint8]int{}
	forward := 0
	for _, e := range es {
		if e.back {
			continue
		}
		forward++
		for r := range outState[e.from] {
			counts[r]++
		}
	}
	var regs []uint8
	for r, n := range counts {
		if n == forward {
			regs = append(regs, r)
		}
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i] < regs[j] })
	return regs
}

// emit lowers one non-branching instruction, updating the register state.
func (bd *Builder) emit(g *ir.Graph, b ir.BlockID, in *inst, state map[uint8]ir.ValueID) error {
	use := func(r uint8) (ir.ValueID, error) {
		v, ok := state[r]
		if !ok {
			return ir.NoValue, fmt.Errorf("bytecode: use of undefined register r%d at offset %d", r, in.off)
		}
		return v, nil
	}
	switch in.op {
	case opNop:
	case opConst:
		state[in.a] = g.Const(b, in.imm)
	case opParam:
		state[in.a] = g.Param(b, int(in.b))
	case opBin:
		x, err := use(in.args[0])
		if err != nil {
			return err
		}
		y, err := use(in.args[1])
		if err != nil {
			return err
		}
		state[in.a] = g.BinOp(b, ir.Op(in.c), x, y)
	case opUn:
		x, err := use(in.args[0])
		if err != nil {
			return err
		}
		state[in.a] = g.UnOp(b, ir.Op(in.c), x)
	case opLoad:
		obj, err := use(in.args[0])
		if err != nil {
			return err
		}
		state[in.a] = g.NewInstr(b, ir.Instr{Kind: ir.KindLoad, Sym: in.sym, Args: []ir.ValueID{obj}})
	case opStore:
		obj, err := use(in.args[0])
		if err != nil {
			return err
		}
		val, err := use(in.args[1])
		if err != nil {
			return err
		}
		g.NewInstr(b, ir.Instr{Kind: ir.KindStore, Sym: in.sym, Args: []ir.ValueID{obj, val}})
	case opInvoke:
		args := make([]ir.ValueID, len(in.args))
		for i, r := range in.args {
			v, err := use(r)
			if err != nil {
				return err
			}
			args[i] = v
		}
		v := g.Invoke(b, in.sym, args...)
		if in.a != noReg {
			state[in.a] = v
		}
	case opRet:
		if in.a == noReg {
			g.SetReturn(b, ir.NoValue)
			return nil
		}
		v, err := use(in.a)
		if err != nil {
			return err
		}
		g.SetReturn(b, v)
	default:
		return fmt.Errorf("bytecode: unhandled opcode 0x%02x", in.op)
	}
	return nil
}
