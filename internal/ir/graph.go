// Package ir is the SSA-form intermediate representation the optimizing
// pipeline rewrites in place. A Graph represents exactly one method body,
// is exclusively owned by one compile, and is backed by a compile-scoped
// arena that is dropped wholesale when the compile ends.
package ir

import (
	"fmt"

	"kiln/internal/arena"
	"kiln/internal/isa"
	"kiln/internal/method"
)

// Graph is the mutable SSA graph of one method.
type Graph struct {
	Method string
	ISA    isa.Set
	Kind   method.Kind

	Debuggable        bool
	DeadReferenceSafe bool

	// Profile is the JIT profiling record, required for baseline compiles.
	Profile *method.ProfilingInfo

	Entry BlockID

	// BlockEffects is the per-block side-effect summary, populated by the
	// side-effects analysis pass and consulted by value numbering. Indexed
	// by BlockID; nil until the analysis has run.
	BlockEffects []Effects

	arena   *arena.Arena
	scratch *arena.Stack

	instrs []Instr
	blocks []Block
}

// NewGraph allocates an empty graph drawing memory from pool.
func NewGraph(pool *arena.Pool, name string, set isa.Set, kind method.Kind) *Graph {
	return &Graph{
		Method:  name,
		ISA:     set,
		Kind:    kind,
		Entry:   NoBlock,
		arena:   arena.New(pool),
		scratch: arena.NewStack(pool),
	}
}

// Arena returns the graph-lifetime allocator.
func (g *Graph) Arena() *arena.Arena { return g.arena }

// Scratch returns the nested scratch-scope stack for analyses whose memory
// must not outlive their phase.
func (g *Graph) Scratch() *arena.Stack { return g.scratch }

// Destroy releases the graph arena. The graph must not be used after.
func (g *Graph) Destroy() {
	if g.arena != nil {
		g.arena.Release()
	}
	g.instrs = nil
	g.blocks = nil
}

// instrSizeEstimate feeds the arena accounting; handles live in Go slices
// but the memory report should still reflect graph growth.
const instrSizeEstimate = 64

// NewBlock appends an empty block and returns its handle.
func (g *Graph) NewBlock() BlockID {
	id := BlockID(len(g.blocks))
	g.blocks = append(g.blocks, Block{ID: id})
	return id
}

// NewInstr appends an instruction to block b and returns its handle.
func (g *Graph) NewInstr(b BlockID, in Instr) ValueID {
	in.Block = b
	id := ValueID(len(g.instrs))
	g.instrs = append(g.instrs, in)
	g.blocks[b].Instrs = append(g.blocks[b].Instrs, id)
	g.arena.Alloc(instrSizeEstimate)
	return id
}

// InstrAt resolves an instruction handle.
func (g *Graph) InstrAt(v ValueID) *Instr { return &g.instrs[v] }

// BlockAt resolves a block handle.
func (g *Graph) BlockAt(b BlockID) *Block { return &g.blocks[b] }

// NumBlocks returns the number of blocks ever created.
func (g *Graph) NumBlocks() int { return len(g.blocks) }

// CurrentInstrID is the monotonically increasing size metric: handles are
// never reused, so any in-place growth is visible as a larger value. The
// checker uses it to detect growth after a pass that reported no change.
func (g *Graph) CurrentInstrID() int { return len(g.instrs) }

// Convenience constructors used by builders, passes and tests.

// Param appends a parameter read to block b.
func (g *Graph) Param(b BlockID, index int) ValueID {
	return g.NewInstr(b, Instr{Kind: KindParam, AuxInt: int64(index)})
}

// Const appends an integer constant to block b.
func (g *Graph) Const(b BlockID, v int64) ValueID {
	return g.NewInstr(b, Instr{Kind: KindConst, AuxInt: v})
}

// BinOp appends a binary operation to block b.
func (g *Graph) BinOp(b BlockID, op Op, x, y ValueID) ValueID {
	return g.NewInstr(b, Instr{Kind: KindBinOp, Op: op, Args: []ValueID{x, y}})
}

// UnOp appends a unary operation to block b.
func (g *Graph) UnOp(b BlockID, op Op, x ValueID) ValueID {
	return g.NewInstr(b, Instr{Kind: KindUnOp, Op: op, Args: []ValueID{x}})
}

// Invoke appends a call to block b.
func (g *Graph) Invoke(b BlockID, callee string, args ...ValueID) ValueID {
	return g.NewInstr(b, Instr{Kind: KindInvoke, Sym: callee, Args: args})
}

// Phi appends a merge to block b with one argument per predecessor.
func (g *Graph) Phi(b BlockID, args ...ValueID) ValueID {
	return g.NewInstr(b, Instr{Kind: KindPhi, Args: args})
}

// SetGoto terminates block b with an unconditional jump.
func (g *Graph) SetGoto(b, target BlockID) {
	g.blocks[b].Term = Terminator{Kind: TermGoto, Target: target}
}

// SetIf terminates block b with a conditional branch.
func (g *Graph) SetIf(b BlockID, cond ValueID, then, els BlockID) {
	g.blocks[b].Term = Terminator{Kind: TermIf, Cond: cond, Then: then, Else: els}
}

// SetReturn terminates block b with a return.
func (g *Graph) SetReturn(b BlockID, v ValueID) {
	g.blocks[b].Term = Terminator{Kind: TermReturn, Value: v}
}

// Predecessors computes the predecessor lists of every block, in edge order.
func (g *Graph) Predecessors() [][]BlockID {
	preds := make([][]BlockID, len(g.blocks))
	for i := range g.blocks {
		for _, succ := range g.blocks[i].Term.Successors() {
			preds[succ] = append(preds[succ], g.blocks[i].ID)
		}
	}
	return preds
}

// Reachable returns the set of blocks reachable from the entry.
func (g *Graph) Reachable() []bool {
	seen := make([]bool, len(g.blocks))
	if g.Entry == NoBlock {
		return seen
	}
	stack := []BlockID{g.Entry}
	seen[g.Entry] = true
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, succ := range g.blocks[b].Term.Successors() {
			if !seen[succ] {
				seen[succ] = true
				stack = append(stack, succ)
			}
		}
	}
	return seen
}

// UseCounts returns, per instruction handle, the number of argument and
// terminator references to it. Dead instructions contribute nothing.
func (g *Graph) UseCounts() []int {
	uses := make([]int, len(g.instrs))
	for i := range g.instrs {
		if g.instrs[i].Dead {
			continue
		}
		for _, a := range g.instrs[i].Args {
			if a != NoValue {
				uses[a]++
			}
		}
	}
	for i := range g.blocks {
		t := &g.blocks[i].Term
		if t.Kind == TermIf && t.Cond != NoValue {
			uses[t.Cond]++
		}
		if t.Kind == TermReturn && t.Value != NoValue {
			uses[t.Value]++
		}
	}
	return uses
}

// ReplaceUses rewrites every reference to old with new, including
// terminator operands.
func (g *Graph) ReplaceUses(old, new ValueID) {
	for i := range g.instrs {
		for j, a := range g.instrs[i].Args {
			if a == old {
				g.instrs[i].Args[j] = new
			}
		}
	}
	for i := range g.blocks {
		t := &g.blocks[i].Term
		if t.Kind == TermIf && t.Cond == old {
			t.Cond = new
		}
		if t.Kind == TermReturn && t.Value == old {
			t.Value = new
		}
	}
}

// RemoveInstr marks an instruction dead and unlinks it from its block.
func (g *Graph) RemoveInstr(v ValueID) {
	in := &g.instrs[v]
	if in.Dead {
		return
	}
	in.Dead = true
	blk := &g.blocks[in.Block]
	for i, id := range blk.Instrs {
		if id == v {
			blk.Instrs = append(blk.Instrs[:i], blk.Instrs[i+1:]...)
			break
		}
	}
}

// HasInvokes reports whether any live instruction is a call. Used by the
// intrinsic path's leaf check and by stack-map emission.
func (g *Graph) HasInvokes() bool {
	for i := range g.instrs {
		if !g.instrs[i].Dead && g.instrs[i].Kind == KindInvoke {
			return true
		}
	}
	return false
}

// HasLoops reports whether any block is a loop header.
func (g *Graph) HasLoops() bool {
	for i := range g.blocks {
		if g.blocks[i].LoopHeader {
			return true
		}
	}
	return false
}

func (g *Graph) String() string {
	return fmt.Sprintf("graph(%s, %d blocks, %d instrs)", g.Method, len(g.blocks), len(g.instrs))
}
