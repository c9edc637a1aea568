// Package codegen lowers an allocated SSA graph to machine code, stack maps
// and linker patches. The portable generator emits a compact reference
// encoding that the loader interprets the same way on every target; real
// per-ISA backends plug in behind the Generator interface.
package codegen

import (
	"sort"

	"kiln/internal/config"
	"kiln/internal/ir"
	"kiln/internal/isa"
	"kiln/internal/method"
	"kiln/internal/passes"
	"kiln/internal/regalloc"
)

// Generator is one per-method code generator. Compile must run before any
// of the emission accessors.
type Generator interface {
	// ISA is the target the generator emits for.
	ISA() isa.Set
	// Compile lowers the graph into buf using the allocation.
	Compile(buf *CodeBuffer, alloc *regalloc.Allocation)
	// EmitPatches returns the relocations the loader must apply, in
	// emission order.
	EmitPatches() []Patch
	// BuildStackMaps encodes the frame layout and safepoints. forOSR marks
	// the map as covering loop-header entry points.
	BuildStackMaps(forOSR bool) []byte
	// EmitThunk produces the shared stub body for a patch that needs one,
	// plus a debug name for it.
	EmitThunk(p Patch) ([]byte, string)
	// IsLeafMethod reports whether the compiled code makes no calls.
	IsLeafMethod() bool
	// FrameSize is the fixed frame size in bytes.
	FrameSize() uint32
	// EmitRoots returns the symbols the compiled code keeps alive.
	EmitRoots() []string
}

// New selects a generator for the graph's target. The second result is
// false when no backend supports the target.
func New(g *ir.Graph, opts *config.Options) (Generator, bool) {
	if !isa.Supported(g.ISA) {
		return nil, false
	}
	return &portable{g: g, opts: opts}, true
}

// Reference-encoding opcodes. One byte each; operands follow little-endian.
const (
	encPrologue = 0xE0
	encEpilogue = 0xE1
	encConst    = 0x10
	encParam    = 0x11
	encBinOp    = 0x20
	encUnOp     = 0x21
	encSelect   = 0x22
	encPhi      = 0x23
	encLoad     = 0x30
	encLoadFold = 0x31
	encStore    = 0x32
	encCall     = 0xC4
	encCallCrit = 0xC5
	encPCBase   = 0xC8
	encGoto     = 0xD0
	encIf       = 0xD1
	encRet      = 0xD2
)

// frameHeaderSlots is the fixed part of every frame: return address and
// saved frame pointer.
const frameHeaderSlots = 2

type portable struct {
	g    *ir.Graph
	opts *config.Options

	alloc     *regalloc.Allocation
	frameSize uint32
	leaf      bool
	compiled  bool

	patches    []Patch
	safepoints []safepointEntry
	roots      []string
	codeSize   uint32
}

func (p *portable) ISA() isa.Set { return p.g.ISA }

func (p *portable) Compile(buf *CodeBuffer, alloc *regalloc.Allocation) {
	p.alloc = alloc
	p.leaf = true

	ptr := isa.PointerSize(p.g.ISA)
	p.frameSize = uint32((frameHeaderSlots + alloc.SpillSlots) * ptr)

	buf.Emit8(encPrologue)
	buf.Emit32(p.frameSize)

	g := p.g
	reach := g.Reachable()
	order := blockOrder(g, reach)
	rootSeen := map[string]bool{}

	for _, b := range order {
		blk := g.BlockAt(b)
		for _, v := range blk.Instrs {
			p.emitInstr(buf, g.InstrAt(v), v, rootSeen)
		}
		p.emitTerminator(buf, &blk.Term)
	}

	buf.Emit8(encEpilogue)
	p.codeSize = buf.Size()
	p.compiled = true
}

func (p *portable) emitInstr(buf *CodeBuffer, in *ir.Instr, v ir.ValueID, rootSeen map[string]bool) {
	switch in.Kind {
	case ir.KindNop:
		if in.Sym == passes.PCRelBaseSym {
			buf.Emit8(encPCBase)
			p.patches = append(p.patches, Patch{
				Kind:          PatchMethodBase,
				LiteralOffset: buf.Size(),
				Target:        p.g.Method,
			})
			buf.Emit32(0)
		}
	case ir.KindConst:
		buf.Emit8(encConst)
		p.emitDest(buf, v)
		buf.Emit64(uint64(in.AuxInt))
	case ir.KindParam:
		buf.Emit8(encParam)
		p.emitDest(buf, v)
		buf.Emit8(uint8(in.AuxInt))
	case ir.KindBinOp:
		op := uint8(encBinOp)
		if in.Fused {
			op = encLoadFold
		}
		buf.Emit8(op)
		buf.Emit8(uint8(in.Op))
		p.emitDest(buf, v)
		p.emitArgs(buf, in.Args)
	case ir.KindUnOp:
		buf.Emit8(encUnOp)
		buf.Emit8(uint8(in.Op))
		p.emitDest(buf, v)
		p.emitArgs(buf, in.Args)
	case ir.KindSelect:
		buf.Emit8(encSelect)
		p.emitDest(buf, v)
		p.emitArgs(buf, in.Args)
	case ir.KindPhi:
		// Phi moves were resolved by allocation; the encoding keeps a
		// marker so the deoptimizer can locate merge points.
		buf.Emit8(encPhi)
		p.emitDest(buf, v)
	case ir.KindLoad:
		if in.Fused {
			return // folded into its consuming binop
		}
		buf.Emit8(encLoad)
		p.emitDest(buf, v)
		p.emitArgs(buf, in.Args)
	case ir.KindStore:
		buf.Emit8(encStore)
		p.emitArgs(buf, in.Args)
	case ir.KindInvoke:
		p.leaf = false
		call := uint8(encCall)
		kind := PatchMethodCall
		if in.AuxInt == 1 {
			call = encCallCrit
			kind = PatchEntrypointCall
		}
		buf.Emit8(call)
		p.emitArgs(buf, in.Args)
		p.patches = append(p.patches, Patch{
			Kind:          kind,
			LiteralOffset: buf.Size(),
			Target:        in.Sym,
		})
		buf.Emit32(0)
		p.safepoints = append(p.safepoints, safepointEntry{
			NativeOffset: buf.Size(),
			LiveRefRegs:  p.liveRegMask(in.Args),
		})
		if !rootSeen[in.Sym] {
			rootSeen[in.Sym] = true
			p.roots = append(p.roots, in.Sym)
		}
	}
}

func (p *portable) emitTerminator(buf *CodeBuffer, t *ir.Terminator) {
	switch t.Kind {
	case ir.TermGoto:
		buf.Emit8(encGoto)
		buf.Emit32(uint32(t.Target))
	case ir.TermIf:
		buf.Emit8(encIf)
		p.emitUse(buf, t.Cond)
		buf.Emit32(uint32(t.Then))
		buf.Emit32(uint32(t.Else))
	case ir.TermReturn:
		buf.Emit8(encRet)
		if t.Value != ir.NoValue {
			p.emitUse(buf, t.Value)
		}
	}
}

// emitDest writes the destination location of a value.
func (p *portable) emitDest(buf *CodeBuffer, v ir.ValueID) { p.emitUse(buf, v) }

// emitUse writes one operand location: register index, or spill slot with
// the high bit set.
func (p *portable) emitUse(buf *CodeBuffer, v ir.ValueID) {
	loc := p.locOf(v)
	switch loc.Kind {
	case regalloc.LocReg:
		buf.Emit8(uint8(loc.Index))
	case regalloc.LocStack:
		buf.Emit8(uint8(loc.Index) | 0x80)
	default:
		buf.Emit8(0xFF)
	}
}

func (p *portable) emitArgs(buf *CodeBuffer, args []ir.ValueID) {
	buf.Emit8(uint8(len(args)))
	for _, a := range args {
		p.emitUse(buf, a)
	}
}

func (p *portable) locOf(v ir.ValueID) regalloc.Loc {
	if p.alloc == nil || int(v) >= len(p.alloc.Locs) {
		return regalloc.Loc{}
	}
	return p.alloc.Locs[v]
}

// liveRegMask builds the bitmask of registers holding managed references
// across a call. Dead-reference-safe methods report nothing.
func (p *portable) liveRegMask(args []ir.ValueID) uint64 {
	if p.g.DeadReferenceSafe {
		return 0
	}
	var mask uint64
	for _, a := range args {
		loc := p.locOf(a)
		if loc.Kind == regalloc.LocReg && loc.Index < 64 {
			mask |= 1 << uint(loc.Index)
		}
	}
	return mask
}

func (p *portable) EmitPatches() []Patch {
	out := append([]Patch(nil), p.patches...)
	return out
}

func (p *portable) BuildStackMaps(forOSR bool) []byte {
	s := NewStackMapStream(p.g.ISA)
	s.BeginMethod(p.frameSize, uint32(p.alloc.UsedRegs), 0, len(p.alloc.Locs),
		p.g.Kind == method.KindBaseline, p.g.Debuggable)
	s.SetForOSR(forOSR)
	for _, e := range p.safepoints {
		s.AddSafepoint(e.NativeOffset, e.LiveRefRegs)
	}
	if forOSR {
		// OSR entry points are the loop headers; record one synthetic
		// safepoint per header so the interpreter can transfer in.
		for b := ir.BlockID(0); int(b) < p.g.NumBlocks(); b++ {
			if p.g.BlockAt(b).LoopHeader {
				s.AddSafepoint(0, 0)
			}
		}
	}
	s.EndMethod(p.codeSize)
	return s.Encode()
}

func (p *portable) EmitThunk(patch Patch) ([]byte, string) {
	var buf CodeBuffer
	buf.Emit8(encCall)
	buf.Emit8(0)
	buf.Emit32(0) // resolved by the loader per thunk key
	return buf.Bytes(), "thunk:" + patch.Target
}

func (p *portable) IsLeafMethod() bool { return p.compiled && p.leaf }

func (p *portable) FrameSize() uint32 { return p.frameSize }

func (p *portable) EmitRoots() []string {
	out := append([]string(nil), p.roots...)
	sort.Strings(out)
	return out
}

// blockOrder linearizes reachable blocks: entry first, then ascending
// handle order, matching the positions liveness assigned.
func blockOrder(g *ir.Graph, reach []bool) []ir.BlockID {
	order := make([]ir.BlockID, 0, g.NumBlocks())
	if g.Entry != ir.NoBlock {
		order = append(order, g.Entry)
	}
	for b := ir.BlockID(0); int(b) < g.NumBlocks(); b++ {
		if b != g.Entry && reach[b] {
			order = append(order, b)
		}
	}
	return order
}
