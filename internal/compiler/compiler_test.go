package compiler_test

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"kiln/internal/bytecode"
	"kiln/internal/codegen"
	"kiln/internal/compiler"
	"kiln/internal/config"
	"kiln/internal/ir"
	"kiln/internal/isa"
	"kiln/internal/jitcache"
	"kiln/internal/method"
	"kiln/internal/stats"
	"kiln/internal/storage"
)

func addBody() []byte {
	var a bytecode.Asm
	a.Param(0, 0)
	a.Const(1, 7)
	a.Bin(ir.OpAdd, 2, 0, 1)
	a.Ret(2)
	return a.Bytes()
}

func unitFor(name string, set isa.Set) *method.Unit {
	code := addBody()
	return &method.Unit{
		Name:      name,
		ISA:       set,
		Code:      code,
		CodeUnits: len(code),
		Registers: 3,
		Resolved:  true,
	}
}

func newCompiler(t *testing.T, opts *config.Options) (*compiler.Compiler, *storage.Storage, *jitcache.Cache) {
	t.Helper()
	store, err := storage.Open("")
	if err != nil {
		t.Fatal(err)
	}
	cache := jitcache.New(1<<20, nil)
	c, err := compiler.New(compiler.Params{Options: opts, Storage: store, Cache: cache})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c, store, cache
}

func TestCompile_StoresArtifact(t *testing.T) {
	c, store, _ := newCompiler(t, &config.Options{ISA: isa.X86_64})

	art, reason := c.Compile(unitFor("pkg.Add", isa.X86_64))
	if reason != compiler.Compiled {
		t.Fatalf("reason = %s", reason)
	}
	if len(art.Code) == 0 || len(art.StackMap) == 0 || len(art.CFI) == 0 {
		t.Error("artifact missing code or side tables")
	}
	if art.Kind != "optimized" {
		t.Errorf("kind = %q", art.Kind)
	}
	if _, ok := store.GetCompiledMethod("pkg.Add"); !ok {
		t.Error("artifact not stored")
	}
	if c.Counters().Get(stats.CompiledBytecode) != 1 {
		t.Error("compiled_bytecode not counted")
	}
}

func TestCompile_UnsupportedISA(t *testing.T) {
	c, _, _ := newCompiler(t, &config.Options{ISA: isa.X86_64})

	// Target mismatch.
	if _, reason := c.Compile(unitFor("pkg.M", isa.Arm64)); reason != compiler.NotCompiledUnsupportedIsa {
		t.Errorf("mismatched target: %s", reason)
	}
	// Recognized but unsupported target.
	c2, _, _ := newCompiler(t, &config.Options{ISA: isa.RiscV64})
	if _, reason := c2.Compile(unitFor("pkg.M", isa.RiscV64)); reason != compiler.NotCompiledUnsupportedIsa {
		t.Errorf("riscv64: %s", reason)
	}
}

func TestCompile_PathologicalRejectedBeforeGraph(t *testing.T) {
	c, _, _ := newCompiler(t, &config.Options{ISA: isa.X86_64})

	big := unitFor("pkg.Huge", isa.X86_64)
	big.CodeUnits = 128*1024 + 1
	if _, reason := c.Compile(big); reason != compiler.NotCompiledPathological {
		t.Errorf("oversized body: %s", reason)
	}

	wide := unitFor("pkg.Wide", isa.X86_64)
	wide.Registers = 257
	if _, reason := c.Compile(wide); reason != compiler.NotCompiledPathological {
		t.Errorf("too many registers: %s", reason)
	}
	// Neither attempt may have reached the bytecode stage.
	if c.Counters().Get(stats.AttemptBytecodeCompilation) != 0 {
		t.Error("pathological method reached graph construction")
	}
}

func TestCompile_SpaceFilterThreshold(t *testing.T) {
	c, _, _ := newCompiler(t, &config.Options{ISA: isa.X86_64, Filter: config.FilterSpace})

	at := unitFor("pkg.At", isa.X86_64)
	at.CodeUnits = config.SpaceFilterThreshold
	if _, reason := c.Compile(at); reason != compiler.Compiled {
		t.Errorf("body at the threshold: %s", reason)
	}

	over := unitFor("pkg.Over", isa.X86_64)
	over.CodeUnits = config.SpaceFilterThreshold + 1
	if _, reason := c.Compile(over); reason != compiler.NotCompiledSpaceFilter {
		t.Errorf("body over the threshold: %s", reason)
	}
	if c.Counters().Get(stats.NotCompiledSpaceFilter) != 1 {
		t.Error("space filter rejection not counted")
	}
}

func TestCompile_SpeedFilterIgnoresSize(t *testing.T) {
	c, _, _ := newCompiler(t, &config.Options{ISA: isa.X86_64, Filter: config.FilterSpeed})
	u := unitFor("pkg.Big", isa.X86_64)
	u.CodeUnits = config.SpaceFilterThreshold + 100
	if _, reason := c.Compile(u); reason != compiler.Compiled {
		t.Errorf("speed filter rejected on size: %s", reason)
	}
}

func TestCompile_InvalidBytecode(t *testing.T) {
	var log bytes.Buffer
	store, _ := storage.Open("")
	c, err := compiler.New(compiler.Params{
		Options: &config.Options{ISA: isa.X86_64},
		Storage: store,
		Log:     &log,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	u := unitFor("pkg.Bad", isa.X86_64)
	u.Code = []byte{0x7f}
	u.CodeUnits = 1
	if _, reason := c.Compile(u); reason != compiler.NotCompiledInvalidBytecode {
		t.Fatalf("reason = %s", reason)
	}
	if !strings.Contains(log.String(), "unknown opcode") {
		t.Error("decode failure not logged")
	}
}

func TestCompile_IntrinsicFastPath(t *testing.T) {
	c, _, _ := newCompiler(t, &config.Options{ISA: isa.X86_64, BootImage: true})

	u := unitFor("math.Abs", isa.X86_64)
	u.Intrinsic = bytecode.IntrinsicAbs
	art, reason := c.Compile(u)
	if reason != compiler.Compiled {
		t.Fatalf("reason = %s", reason)
	}
	if !art.Intrinsic {
		t.Error("leaf template artifact not marked intrinsic")
	}
	if c.Counters().Get(stats.CompiledIntrinsic) != 1 {
		t.Error("compiled_intrinsic not counted")
	}
	// The bytecode body was never touched.
	if c.Counters().Get(stats.AttemptBytecodeCompilation) != 0 {
		t.Error("intrinsic fast path fell through to bytecode")
	}
}

func TestCompile_IntrinsicRequiresBootImage(t *testing.T) {
	c, _, _ := newCompiler(t, &config.Options{ISA: isa.X86_64})

	u := unitFor("math.Abs", isa.X86_64)
	u.Intrinsic = bytecode.IntrinsicAbs
	art, reason := c.Compile(u)
	if reason != compiler.Compiled || art.Intrinsic {
		t.Errorf("outside boot image: reason=%s intrinsic=%v", reason, art.Intrinsic)
	}
	if c.Counters().Get(stats.AttemptIntrinsicCompilation) != 0 {
		t.Error("intrinsic path attempted outside boot image")
	}
}

func TestCompile_NonLeafIntrinsicDiscarded(t *testing.T) {
	c, _, _ := newCompiler(t, &config.Options{ISA: isa.X86_64, BootImage: true})

	// string.concat lowers to a runtime call, fails the leaf check, and
	// the bytecode body is compiled instead.
	u := unitFor("str.Concat", isa.X86_64)
	u.Intrinsic = bytecode.IntrinsicStringConcat
	art, reason := c.Compile(u)
	if reason != compiler.Compiled {
		t.Fatalf("reason = %s", reason)
	}
	if art.Intrinsic {
		t.Error("discarded template still marked intrinsic")
	}
	counters := c.Counters()
	if counters.Get(stats.AttemptIntrinsicCompilation) != 1 {
		t.Error("intrinsic attempt not counted")
	}
	if counters.Get(stats.CompiledIntrinsic) != 0 {
		t.Error("non-leaf template counted as compiled intrinsic")
	}
	if counters.Get(stats.CompiledBytecode) != 1 {
		t.Error("fallback bytecode compile not counted")
	}
}

func TestCompile_NativeMethodGetsStub(t *testing.T) {
	c, store, _ := newCompiler(t, &config.Options{ISA: isa.X86_64})

	u := &method.Unit{Name: "pkg.Native", ISA: isa.X86_64, Flags: method.FlagNative, Resolved: true}
	art, reason := c.Compile(u)
	if reason != compiler.Compiled {
		t.Fatalf("reason = %s", reason)
	}
	if art.Kind != "native_stub" {
		t.Errorf("kind = %q", art.Kind)
	}
	if len(art.Patches) != 1 || art.Patches[0].Kind != codegen.PatchEntrypointCall {
		t.Errorf("stub patches = %+v", art.Patches)
	}
	if _, ok := store.GetCompiledMethod("pkg.Native"); !ok {
		t.Error("stub not stored")
	}
}

func TestJitCompile_PublishesEntry(t *testing.T) {
	c, _, cache := newCompiler(t, &config.Options{ISA: isa.X86_64, JitCompiler: true, GenerateMiniDebugInfo: true})

	u := unitFor("pkg.Hot", isa.X86_64)
	if !c.JitCompile(u, method.KindOptimized, nil) {
		t.Fatal("JIT compile failed")
	}
	e, ok := cache.Lookup("pkg.Hot", false)
	if !ok {
		t.Fatal("entry not published")
	}
	if e.EntryPoint == 0 {
		t.Error("no entry point assigned")
	}
	if len(e.DebugInfo) == 0 {
		t.Fatal("mini debug info not synthesized")
	}
	// Debug info was synthesized against the final address.
	if addr := binary.LittleEndian.Uint64(e.DebugInfo); addr != uint64(e.EntryPoint) {
		t.Errorf("debug info address %#x, entry point %#x", addr, e.EntryPoint)
	}
	if !strings.Contains(string(e.DebugInfo), "pkg.Hot") {
		t.Error("debug info does not name the method")
	}
}

func TestJitCompile_LongNameTruncatedInDebugInfo(t *testing.T) {
	c, _, cache := newCompiler(t, &config.Options{ISA: isa.X86_64, JitCompiler: true, GenerateMiniDebugInfo: true})

	name := "pkg." + strings.Repeat("x", 300)
	if !c.JitCompile(unitFor(name, isa.X86_64), method.KindOptimized, nil) {
		t.Fatal("JIT compile failed")
	}
	e, ok := cache.Lookup(name, false)
	if !ok {
		t.Fatal("entry not published")
	}
	// u64 addr + u32 size + mini byte precede the one-byte name length.
	nameLen := int(e.DebugInfo[13])
	if nameLen != 255 {
		t.Fatalf("name length byte = %d, want 255", nameLen)
	}
	if len(e.DebugInfo) != 14+nameLen {
		t.Errorf("record length %d does not match its length prefix", len(e.DebugInfo))
	}
	if got := string(e.DebugInfo[14:]); got != name[:255] {
		t.Error("truncated name does not match the method name prefix")
	}
}

func TestJitCompile_NoDebugInfoUnlessAsked(t *testing.T) {
	c, _, cache := newCompiler(t, &config.Options{ISA: isa.X86_64, JitCompiler: true})
	c.JitCompile(unitFor("pkg.Hot", isa.X86_64), method.KindOptimized, nil)
	e, _ := cache.Lookup("pkg.Hot", false)
	if e != nil && len(e.DebugInfo) != 0 {
		t.Error("debug info synthesized without the option")
	}
}

func TestJitCompile_UnresolvedNeverCompiled(t *testing.T) {
	c, _, cache := newCompiler(t, &config.Options{ISA: isa.X86_64, JitCompiler: true})

	u := unitFor("pkg.U", isa.X86_64)
	u.Resolved = false
	if c.JitCompile(u, method.KindOptimized, nil) {
		t.Fatal("unresolved method JIT-compiled")
	}
	if cache.ContainsMethod("pkg.U") {
		t.Error("unresolved method in cache")
	}
	if c.Counters().Get(stats.NotCompiledUnresolvedMethod) != 1 {
		t.Error("rejection not counted")
	}
}

func TestJitCompile_BaselineWithoutProfilePanics(t *testing.T) {
	c, _, _ := newCompiler(t, &config.Options{ISA: isa.X86_64, JitCompiler: true})
	defer func() {
		if recover() == nil {
			t.Error("baseline compile without profile did not panic")
		}
	}()
	c.JitCompile(unitFor("pkg.B", isa.X86_64), method.KindBaseline, nil)
}

func TestJitCompile_BaselineTier(t *testing.T) {
	c, _, cache := newCompiler(t, &config.Options{ISA: isa.X86_64, JitCompiler: true})

	profile := &method.ProfilingInfo{HotnessCount: 10}
	if !c.JitCompile(unitFor("pkg.Warm", isa.X86_64), method.KindBaseline, profile) {
		t.Fatal("baseline compile failed")
	}
	e, ok := cache.Lookup("pkg.Warm", false)
	if !ok || e.Kind != "baseline" {
		t.Errorf("baseline entry = %+v, ok=%v", e, ok)
	}
}

func TestJitCompile_OsrEntrySeparate(t *testing.T) {
	c, _, cache := newCompiler(t, &config.Options{ISA: isa.X86_64, JitCompiler: true})

	// r0 = 0; loop: r1 = r0 < p0; if r1 { r0 = r0+1; goto loop }; ret r0
	var a bytecode.Asm
	a.Const(0, 0)
	a.Param(1, 0)
	loop := a.Off()
	a.Bin(ir.OpCmpLT, 2, 0, 1)
	bodyAt, exitAt := a.Br(2, 0, 0)
	body := a.Off()
	a.Const(3, 1)
	a.Bin(ir.OpAdd, 0, 0, 3)
	a.Jump(loop)
	exit := a.Off()
	a.Ret(0)
	a.Patch(bodyAt, body)
	a.Patch(exitAt, exit)

	u := &method.Unit{Name: "pkg.Loop", ISA: isa.X86_64, Code: a.Bytes(), CodeUnits: len(a.Bytes()), Registers: 4, Resolved: true}
	if !c.JitCompile(u, method.KindOsr, nil) {
		t.Fatal("OSR compile failed")
	}
	if _, ok := cache.Lookup("pkg.Loop", false); ok {
		t.Error("OSR compile published a plain entry")
	}
	if _, ok := cache.Lookup("pkg.Loop", true); !ok {
		t.Error("OSR entry missing")
	}
}

func TestJitCompile_CacheFull(t *testing.T) {
	store, _ := storage.Open("")
	cache := jitcache.New(4, nil) // too small for any method
	c, err := compiler.New(compiler.Params{
		Options: &config.Options{ISA: isa.X86_64, JitCompiler: true},
		Storage: store,
		Cache:   cache,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if c.JitCompile(unitFor("pkg.M", isa.X86_64), method.KindOptimized, nil) {
		t.Fatal("compile into a full cache reported success")
	}
	if cache.ContainsMethod("pkg.M") {
		t.Error("entry published despite full cache")
	}
	// The counter-less cache adopted the compiler's statistics set.
	if c.Counters().Get(stats.JitOutOfMemoryForCommit) != 1 {
		t.Error("cache-full outcome not recorded in the compiler's counters")
	}
}

func TestJitCompile_NativeStub(t *testing.T) {
	c, _, cache := newCompiler(t, &config.Options{ISA: isa.X86_64, JitCompiler: true})

	u := &method.Unit{Name: "pkg.Native", ISA: isa.X86_64, Flags: method.FlagNative, Resolved: true}
	if !c.JitCompile(u, method.KindOptimized, nil) {
		t.Fatal("native stub JIT failed")
	}
	e, ok := cache.Lookup("pkg.Native", false)
	if !ok || e.Kind != "native_stub" {
		t.Errorf("entry = %+v, ok=%v", e, ok)
	}
	if c.Counters().Get(stats.CompiledNativeStub) != 1 {
		t.Error("native stub not counted")
	}
}

func TestCompile_ThunksDeduplicatedAcrossMethods(t *testing.T) {
	c, store, _ := newCompiler(t, &config.Options{ISA: isa.Arm})

	// Both methods call the same @critical entry point; the arm ABI fixup
	// turns those calls into entrypoint patches that share one thunk.
	body := func() []byte {
		var a bytecode.Asm
		a.Param(0, 0)
		a.Invoke(1, "@critical/memcpy", 0)
		a.Ret(1)
		return a.Bytes()
	}
	for _, name := range []string{"pkg.A", "pkg.B"} {
		u := &method.Unit{Name: name, ISA: isa.Arm, Code: body(), CodeUnits: len(body()), Registers: 2, Resolved: true}
		if _, reason := c.Compile(u); reason != compiler.Compiled {
			t.Fatalf("%s: %s", name, reason)
		}
	}
	keys := store.ThunkKeys()
	if len(keys) != 1 || keys[0] != "entrypoint:@critical/memcpy" {
		t.Errorf("thunk keys = %v, want one shared key", keys)
	}
}

func TestClose_DumpsStatsOnce(t *testing.T) {
	var log bytes.Buffer
	store, _ := storage.Open("")
	c, err := compiler.New(compiler.Params{
		Options: &config.Options{ISA: isa.X86_64, DumpStats: true},
		Storage: store,
		Log:     &log,
	})
	if err != nil {
		t.Fatal(err)
	}
	c.Compile(unitFor("pkg.M", isa.X86_64))
	c.Close()
	c.Close() // idempotent

	out := log.String()
	if !strings.Contains(out, "compilation statistics:") {
		t.Fatal("stats not dumped at close")
	}
	if strings.Count(out, "compilation statistics:") != 1 {
		t.Error("stats dumped more than once")
	}
	if !strings.Contains(out, "compiled_bytecode: 1") {
		t.Errorf("missing counter line in %q", out)
	}
}

func TestCompileTestMarkerAssertion(t *testing.T) {
	c, _, _ := newCompiler(t, &config.Options{ISA: isa.X86_64, CompileTestMarker: true})

	u := unitFor("pkg.$opt$Check", isa.X86_64)
	u.Code = []byte{0x7f} // forces a rejection
	u.CodeUnits = 1
	defer func() {
		if recover() == nil {
			t.Error("marked method rejection did not panic in a checked build")
		}
	}()
	c.Compile(u)
}

func TestVerboseMethodFilter_TimingOutput(t *testing.T) {
	var log bytes.Buffer
	store, _ := storage.Open("")
	c, err := compiler.New(compiler.Params{
		Options: &config.Options{
			ISA:             isa.X86_64,
			DumpPassTimings: true,
			VerboseMethods:  []string{"pkg.Chosen"},
		},
		Storage: store,
		Log:     &log,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	c.Compile(unitFor("pkg.Chosen", isa.X86_64))
	c.Compile(unitFor("pkg.Other", isa.X86_64))

	out := log.String()
	if !strings.Contains(out, "pkg.Chosen") {
		t.Error("allow-listed method produced no timing output")
	}
	if strings.Contains(out, "pkg.Other") {
		t.Error("exact allow-list did not suppress other methods")
	}
}
