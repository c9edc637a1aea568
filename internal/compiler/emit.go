package compiler

import (
	"encoding/binary"

	"kiln/internal/codegen"
	"kiln/internal/ir"
	"kiln/internal/method"
	"kiln/internal/regalloc"
)

// emit drives the generator: code, sorted patches, stack maps keyed to OSR,
// thunk deduplication through the shared storage, and CFI. Failures here
// are defects, not recoverable conditions.
func (c *Compiler) emit(g *ir.Graph, gen codegen.Generator, alloc *regalloc.Allocation, kind method.Kind) *codegen.Artifact {
	var buf codegen.CodeBuffer
	gen.Compile(&buf, alloc)

	patches := gen.EmitPatches()
	codegen.SortPatches(patches)

	forOSR := kind == method.KindOsr && g.HasLoops()
	stackMap := gen.BuildStackMaps(forOSR)

	for _, p := range patches {
		if !p.NeedsThunk() {
			continue
		}
		key := p.ThunkKey()
		if _, ok := c.store.GetThunkCode(key); ok {
			continue
		}
		code, name := gen.EmitThunk(p)
		c.store.SetThunkCode(key, code, name)
	}

	return &codegen.Artifact{
		ISA:       g.ISA,
		Kind:      kind.String(),
		Code:      buf.Bytes(),
		StackMap:  stackMap,
		CFI:       encodeCFI(gen.FrameSize(), buf.Size()),
		Patches:   patches,
		FrameSize: gen.FrameSize(),
	}
}

// encodeCFI produces the unwind description: fixed-frame methods need only
// the frame size and the code extent it covers.
func encodeCFI(frameSize, codeSize uint32) []byte {
	out := make([]byte, 0, 8)
	out = binary.LittleEndian.AppendUint32(out, frameSize)
	out = binary.LittleEndian.AppendUint32(out, codeSize)
	return out
}
