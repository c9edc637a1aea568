package compiler

import (
	"encoding/binary"
	"fmt"
	"math"

	"kiln/internal/codegen"
	"kiln/internal/isa"
	"kiln/internal/jitcache"
	"kiln/internal/method"
	"kiln/internal/stats"
)

// JitCompile compiles a method and publishes it into the code cache.
// Returns true when code is live at the method's entry point afterwards.
// Baseline-tier compiles demand a profiling record; calling without one is
// a caller defect.
func (c *Compiler) JitCompile(unit *method.Unit, kind method.Kind, profile *method.ProfilingInfo) bool {
	if kind == method.KindBaseline && profile == nil {
		panic(fmt.Sprintf("baseline compile of %s without profiling info", unit.Name))
	}
	// Unresolved methods are never JIT-compiled; the interpreter keeps them.
	if !unit.Resolved {
		c.reject(NotCompiledUnresolvedMethod)
		return false
	}
	if unit.IsNative() {
		return c.jitNativeStub(unit)
	}

	art, reason := c.tryCompile(unit, kind, profile)
	c.assertMarkedCompiled(unit.Name, reason)
	if reason != Compiled {
		return false
	}
	return c.commit(unit, art, kind)
}

// commit runs the two-phase publication. Every path out of a successful
// Reserve terminates the reservation exactly once.
func (c *Compiler) commit(unit *method.Unit, art *codegen.Artifact, kind method.Kind) bool {
	roots := rootsOf(art)
	res, ok := c.cache.Reserve(unit.Name, len(art.Code), len(art.StackMap), len(roots))
	if !ok {
		return false
	}

	// Debug side tables need the final code address; the reservation fixes
	// it before anything becomes visible.
	var debugInfo []byte
	if c.opts.GenerateAnyDebugInfo() {
		debugInfo = synthesizeDebugInfo(unit.Name, res.Addr(), uint32(len(art.Code)), c.opts.GenerateMiniDebugInfo)
	}

	committed := res.Commit(jitcache.Entry{
		Kind:      art.Kind,
		Code:      art.Code,
		StackMap:  art.StackMap,
		DebugInfo: debugInfo,
		Roots:     roots,
	}, kind == method.KindOsr)
	if !committed {
		// Commit already released the space; nothing to free, but the
		// outcome is a plain not-compiled for the caller.
		return false
	}
	fmt.Fprintf(c.log, "jit %s %s: %d code bytes, %d map bytes\n",
		unit.Name, art.Kind, len(art.Code), len(art.StackMap))
	return true
}

// jitNativeStub short-circuits the pipeline for native methods: a minimal
// stack map with zero managed registers and a straight reserve/fill/commit.
func (c *Compiler) jitNativeStub(unit *method.Unit) bool {
	art := c.nativeStubArtifact(unit)
	if art == nil {
		return false
	}
	if !c.commit(unit, art, method.KindOptimized) {
		return false
	}
	c.counters.Record(stats.CompiledNativeStub)
	return true
}

// compileNative is the AOT path for native methods. Boot-image intrinsics
// are tried first; failing that a plain stub artifact is stored.
func (c *Compiler) compileNative(unit *method.Unit) (*codegen.Artifact, Reason) {
	if unit.IsIntrinsic() && c.opts.BootImage {
		if art := c.tryCompileIntrinsic(unit); art != nil {
			if err := c.store.StoreCompiledMethod(unit.Name, art); err != nil {
				fmt.Fprintf(c.log, "store %s: %v\n", unit.Name, err)
			}
			return art, Compiled
		}
	}
	art := c.nativeStubArtifact(unit)
	if art == nil {
		return nil, c.reject(NotCompiledUnsupportedIsa)
	}
	if err := c.store.StoreCompiledMethod(unit.Name, art); err != nil {
		fmt.Fprintf(c.log, "store %s: %v\n", unit.Name, err)
	}
	c.counters.Record(stats.CompiledNativeStub)
	return art, Compiled
}

// nativeStubArtifact emits the transition stub: prologue, native call
// marker, epilogue. No IR graph is ever built for it.
func (c *Compiler) nativeStubArtifact(unit *method.Unit) *codegen.Artifact {
	if unit.ISA != c.opts.ISA || !isa.Supported(unit.ISA) {
		return nil
	}
	frameSize := uint32(2 * isa.PointerSize(unit.ISA))

	var buf codegen.CodeBuffer
	buf.Emit8(0xE0) // prologue
	buf.Emit32(frameSize)
	buf.Emit8(0xC4) // transition call, patched to the native target
	patch := codegen.Patch{
		Kind:          codegen.PatchEntrypointCall,
		LiteralOffset: buf.Size(),
		Target:        unit.Name,
	}
	buf.Emit32(0)
	buf.Emit8(0xE1) // epilogue

	return &codegen.Artifact{
		ISA:       unit.ISA,
		Kind:      "native_stub",
		Code:      buf.Bytes(),
		StackMap:  codegen.EncodeNativeStub(unit.ISA, frameSize, buf.Size(), c.opts.Debuggable),
		CFI:       encodeCFI(frameSize, buf.Size()),
		Patches:   []codegen.Patch{patch},
		FrameSize: frameSize,
	}
}

// rootsOf lists the distinct symbols the artifact's patches keep alive, in
// patch order.
func rootsOf(art *codegen.Artifact) []string {
	seen := map[string]bool{}
	var roots []string
	for _, p := range art.Patches {
		if p.Kind == codegen.PatchMethodCall && !seen[p.Target] {
			seen[p.Target] = true
			roots = append(roots, p.Target)
		}
	}
	return roots
}

// synthesizeDebugInfo builds the debug side table for one JIT method. The
// mini form carries only what a backtrace needs. The name field carries a
// one-byte length prefix; longer names are truncated to fit.
func synthesizeDebugInfo(name string, addr uintptr, codeSize uint32, mini bool) []byte {
	if len(name) > math.MaxUint8 {
		name = name[:math.MaxUint8]
	}
	le := binary.LittleEndian
	out := make([]byte, 0, 16+len(name))
	out = le.AppendUint64(out, uint64(addr))
	out = le.AppendUint32(out, codeSize)
	if mini {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	out = append(out, byte(len(name)))
	out = append(out, name...)
	return out
}
