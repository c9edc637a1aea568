package passes_test

import (
	"testing"

	"kiln/internal/ir"
	"kiln/internal/isa"
	"kiln/internal/passes"
	"kiln/internal/testkit"
)

func runPass(t *testing.T, g *ir.Graph, id passes.ID, ctx passes.Context) bool {
	t.Helper()
	p := passes.Construct([]passes.Def{passes.Of(id)}, g, ctx)[0]
	changed := p.Run()
	if err := testkit.CheckGraphInvariants(g); err != nil {
		t.Fatalf("%s left an invalid graph: %v", p.Name(), err)
	}
	return changed
}

func TestConstantFolding_BinOp(t *testing.T) {
	g := testkit.NewGraph("fold", isa.X86_64)
	b := g.NewBlock()
	g.Entry = b
	x := g.Const(b, 2)
	y := g.Const(b, 3)
	sum := g.BinOp(b, ir.OpAdd, x, y)
	g.SetReturn(b, sum)

	if !runPass(t, g, passes.IDConstantFolding, passes.Context{}) {
		t.Fatal("folding reported no change")
	}
	in := g.InstrAt(sum)
	if in.Kind != ir.KindConst || in.AuxInt != 5 {
		t.Errorf("2+3 folded to %s %d, want const 5", in.Kind, in.AuxInt)
	}
}

func TestConstantFolding_KeepsDivByZero(t *testing.T) {
	g := testkit.NewGraph("divzero", isa.X86_64)
	b := g.NewBlock()
	g.Entry = b
	x := g.Const(b, 10)
	z := g.Const(b, 0)
	div := g.BinOp(b, ir.OpDiv, x, z)
	g.SetReturn(b, div)

	runPass(t, g, passes.IDConstantFolding, passes.Context{})
	if g.InstrAt(div).Kind != ir.KindBinOp {
		t.Error("division by constant zero must not be folded away")
	}
}

func TestConstantFolding_Compare(t *testing.T) {
	g := testkit.NewGraph("cmp", isa.X86_64)
	b := g.NewBlock()
	g.Entry = b
	x := g.Const(b, 4)
	y := g.Const(b, 7)
	lt := g.BinOp(b, ir.OpCmpLT, x, y)
	g.SetReturn(b, lt)

	runPass(t, g, passes.IDConstantFolding, passes.Context{})
	in := g.InstrAt(lt)
	if in.Kind != ir.KindConst || in.AuxInt != 1 {
		t.Errorf("4<7 folded to %s %d, want const 1", in.Kind, in.AuxInt)
	}
}

func TestSimplifier_AddZero(t *testing.T) {
	g := testkit.NewGraph("addzero", isa.X86_64)
	b := g.NewBlock()
	g.Entry = b
	p := g.Param(b, 0)
	z := g.Const(b, 0)
	sum := g.BinOp(b, ir.OpAdd, p, z)
	g.SetReturn(b, sum)

	if !runPass(t, g, passes.IDInstructionSimplifier, passes.Context{}) {
		t.Fatal("simplifier reported no change")
	}
	if g.BlockAt(b).Term.Value != p {
		t.Errorf("x+0: return feeds v%d, want the parameter v%d", g.BlockAt(b).Term.Value, p)
	}
	if !g.InstrAt(sum).Dead {
		t.Error("simplified add not removed")
	}
}

func TestSimplifier_SubSelf(t *testing.T) {
	g := testkit.NewGraph("subself", isa.X86_64)
	b := g.NewBlock()
	g.Entry = b
	p := g.Param(b, 0)
	d := g.BinOp(b, ir.OpSub, p, p)
	g.SetReturn(b, d)

	runPass(t, g, passes.IDInstructionSimplifier, passes.Context{})
	ret := g.InstrAt(g.BlockAt(b).Term.Value)
	if ret.Kind != ir.KindConst || ret.AuxInt != 0 {
		t.Errorf("x-x returns %s %d, want const 0", ret.Kind, ret.AuxInt)
	}
}

func TestSimplifier_DivByOneIsAggressiveOnly(t *testing.T) {
	build := func() (*ir.Graph, ir.ValueID, ir.BlockID) {
		g := testkit.NewGraph("divone", isa.X86_64)
		b := g.NewBlock()
		g.Entry = b
		p := g.Param(b, 0)
		one := g.Const(b, 1)
		d := g.BinOp(b, ir.OpDiv, p, one)
		g.SetReturn(b, d)
		return g, d, b
	}

	g, d, _ := build()
	runPass(t, g, passes.IDInstructionSimplifier, passes.Context{})
	if g.InstrAt(d).Dead {
		t.Error("plain simplifier must not rewrite x/1")
	}

	g2, d2, _ := build()
	if !runPass(t, g2, passes.IDAggressiveInstructionSimplifier, passes.Context{}) {
		t.Fatal("aggressive simplifier reported no change for x/1")
	}
	if !g2.InstrAt(d2).Dead {
		t.Error("aggressive simplifier left x/1 in place")
	}
}

func TestSimplifier_ConstBranchPrunesPhi(t *testing.T) {
	g := testkit.NewGraph("constbr", isa.X86_64)
	entry := g.NewBlock()
	then := g.NewBlock()
	els := g.NewBlock()
	join := g.NewBlock()
	g.Entry = entry
	cond := g.Const(entry, 1)
	a := g.Const(entry, 10)
	b := g.Const(entry, 20)
	g.SetIf(entry, cond, then, els)
	g.SetGoto(then, join)
	g.SetGoto(els, join)
	phi := g.Phi(join, a, b)
	g.SetReturn(join, phi)

	if !runPass(t, g, passes.IDInstructionSimplifier, passes.Context{}) {
		t.Fatal("simplifier reported no change")
	}
	if term := g.BlockAt(entry).Term; term.Kind != ir.TermGoto || term.Target != then {
		t.Errorf("entry terminator = %v, want goto then", term)
	}
	// The untaken arm is now unreachable; dce disconnects it and prunes
	// the join phi down to the taken edge.
	if !runPass(t, g, passes.IDDeadCodeElimination, passes.Context{}) {
		t.Fatal("dce reported no change")
	}
	if g.BlockAt(join).Term.Value != a {
		t.Errorf("join returns v%d, want the then-side constant v%d", g.BlockAt(join).Term.Value, a)
	}
	if !g.InstrAt(phi).Dead {
		t.Error("single-input phi not collapsed")
	}
}

func TestSimplifier_SelectOverConstCondition(t *testing.T) {
	g := testkit.NewGraph("selconst", isa.X86_64)
	b := g.NewBlock()
	g.Entry = b
	c := g.Const(b, 0)
	x := g.Param(b, 0)
	y := g.Param(b, 1)
	sel := g.NewInstr(b, ir.Instr{Kind: ir.KindSelect, Args: []ir.ValueID{c, x, y}})
	g.SetReturn(b, sel)

	runPass(t, g, passes.IDInstructionSimplifier, passes.Context{})
	if g.BlockAt(b).Term.Value != y {
		t.Errorf("select over false condition returns v%d, want else arm v%d", g.BlockAt(b).Term.Value, y)
	}
}

func TestDCE_RemovesDeadPureChain(t *testing.T) {
	g := testkit.NewGraph("deadchain", isa.X86_64)
	b := g.NewBlock()
	g.Entry = b
	p := g.Param(b, 0)
	c := g.Const(b, 5)
	dead := g.BinOp(b, ir.OpMul, p, c) // unused
	g.SetReturn(b, p)

	if !runPass(t, g, passes.IDDeadCodeElimination, passes.Context{}) {
		t.Fatal("dce reported no change")
	}
	if !g.InstrAt(dead).Dead || !g.InstrAt(c).Dead {
		t.Error("dead multiply chain survived")
	}
	if g.InstrAt(p).Dead {
		t.Error("live return value removed")
	}
}

func TestDCE_KeepsInvokes(t *testing.T) {
	g := testkit.NewGraph("sideeffect", isa.X86_64)
	b := g.NewBlock()
	g.Entry = b
	p := g.Param(b, 0)
	g.Invoke(b, "runtime/log", p) // result unused, call stays
	g.SetReturn(b, p)

	runPass(t, g, passes.IDDeadCodeElimination, passes.Context{})
	found := false
	for _, v := range g.BlockAt(b).Instrs {
		if g.InstrAt(v).Kind == ir.KindInvoke {
			found = true
		}
	}
	if !found {
		t.Error("invoke with unused result was removed")
	}
}

func TestDCE_DisconnectsUnreachableBlock(t *testing.T) {
	g := testkit.NewGraph("unreachable", isa.X86_64)
	entry := g.NewBlock()
	orphan := g.NewBlock()
	g.Entry = entry
	g.SetReturn(entry, g.Const(entry, 0))
	g.SetReturn(orphan, g.Const(orphan, 1))

	if !runPass(t, g, passes.IDDeadCodeElimination, passes.Context{}) {
		t.Fatal("dce reported no change")
	}
	ob := g.BlockAt(orphan)
	if len(ob.Instrs) != 0 || ob.Term.Kind != ir.TermNone {
		t.Error("unreachable block not cleared")
	}
}

func TestGVN_DeduplicatesPureOps(t *testing.T) {
	g := testkit.NewGraph("gvn", isa.X86_64)
	b := g.NewBlock()
	g.Entry = b
	x := g.Param(b, 0)
	y := g.Param(b, 1)
	s1 := g.BinOp(b, ir.OpAdd, x, y)
	s2 := g.BinOp(b, ir.OpAdd, y, x) // commutative duplicate
	out := g.BinOp(b, ir.OpMul, s1, s2)
	g.SetReturn(b, out)

	if !runPass(t, g, passes.IDGlobalValueNumbering, passes.Context{}) {
		t.Fatal("gvn reported no change")
	}
	if !g.InstrAt(s2).Dead {
		t.Error("commutative duplicate add survived")
	}
	if args := g.InstrAt(out).Args; args[0] != s1 || args[1] != s1 {
		t.Errorf("multiply args = %v, want both rewritten to v%d", args, s1)
	}
}

func TestGVN_LoadsGatedOnSideEffects(t *testing.T) {
	build := func(withStore bool) (*ir.Graph, ir.ValueID, ir.ValueID) {
		g := testkit.NewGraph("gvnload", isa.X86_64)
		b := g.NewBlock()
		g.Entry = b
		obj := g.Param(b, 0)
		l1 := g.NewInstr(b, ir.Instr{Kind: ir.KindLoad, Sym: "f", Args: []ir.ValueID{obj}})
		if withStore {
			g.NewInstr(b, ir.Instr{Kind: ir.KindStore, Sym: "f", Args: []ir.ValueID{obj, l1}})
		}
		l2 := g.NewInstr(b, ir.Instr{Kind: ir.KindLoad, Sym: "f", Args: []ir.ValueID{obj}})
		g.SetReturn(b, g.BinOp(b, ir.OpAdd, l1, l2))
		// The summary gates load numbering.
		passes.Construct([]passes.Def{passes.Of(passes.IDSideEffectsAnalysis)}, g, passes.Context{})[0].Run()
		return g, l1, l2
	}

	g, l1, l2 := build(false)
	if !runPass(t, g, passes.IDGlobalValueNumbering, passes.Context{}) {
		t.Fatal("gvn reported no change for write-free block")
	}
	if !g.InstrAt(l2).Dead {
		t.Errorf("second load v%d not collapsed into v%d", l2, l1)
	}

	g2, _, l2b := build(true)
	runPass(t, g2, passes.IDGlobalValueNumbering, passes.Context{})
	if g2.InstrAt(l2b).Dead {
		t.Error("load numbered across a store in the same block")
	}
}

func TestSelectGenerator_RewritesDiamond(t *testing.T) {
	g := testkit.Diamond(isa.X86_64, 10, 20)
	if !runPass(t, g, passes.IDSelectGenerator, passes.Context{}) {
		t.Fatal("select generator reported no change")
	}
	if term := g.BlockAt(g.Entry).Term; term.Kind != ir.TermGoto {
		t.Errorf("branch block still ends in %v, want goto join", term.Kind)
	}
	var join ir.BlockID = -1
	for b := ir.BlockID(0); int(b) < g.NumBlocks(); b++ {
		if g.BlockAt(b).Term.Kind == ir.TermReturn {
			join = b
		}
	}
	if join < 0 {
		t.Fatal("no return block after rewrite")
	}
	ret := g.InstrAt(g.BlockAt(join).Term.Value)
	if ret.Kind != ir.KindSelect {
		t.Errorf("return feeds %s, want select", ret.Kind)
	}
}

func TestSelectGenerator_SkipsArmsWithCode(t *testing.T) {
	g := testkit.NewGraph("fatarm", isa.X86_64)
	entry := g.NewBlock()
	then := g.NewBlock()
	els := g.NewBlock()
	join := g.NewBlock()
	g.Entry = entry
	p := g.Param(entry, 0)
	c1 := g.Const(entry, 1)
	g.SetIf(entry, p, then, els)
	v := g.BinOp(then, ir.OpAdd, p, c1) // non-empty arm
	g.SetGoto(then, join)
	g.SetGoto(els, join)
	phi := g.Phi(join, v, c1)
	g.SetReturn(join, phi)

	if runPass(t, g, passes.IDSelectGenerator, passes.Context{}) {
		t.Error("diamond with instructions in an arm was rewritten")
	}
}

func TestCodeSinking_MovesIntoUsingArm(t *testing.T) {
	g := testkit.NewGraph("sink", isa.X86_64)
	entry := g.NewBlock()
	then := g.NewBlock()
	els := g.NewBlock()
	g.Entry = entry
	p := g.Param(entry, 0)
	q := g.Param(entry, 1)
	sum := g.BinOp(entry, ir.OpAdd, p, q) // only the then arm needs it
	g.SetIf(entry, p, then, els)
	g.SetReturn(then, sum)
	g.SetReturn(els, p)

	if !runPass(t, g, passes.IDCodeSinking, passes.Context{}) {
		t.Fatal("sinking reported no change")
	}
	if g.InstrAt(sum).Block != then {
		t.Errorf("sum lives in bb%d, want the then arm bb%d", g.InstrAt(sum).Block, then)
	}
}

func TestCodeSinking_PinsBranchCondition(t *testing.T) {
	g := testkit.NewGraph("pincond", isa.X86_64)
	entry := g.NewBlock()
	then := g.NewBlock()
	els := g.NewBlock()
	g.Entry = entry
	p := g.Param(entry, 0)
	c := g.Const(entry, 3)
	cond := g.BinOp(entry, ir.OpCmpLT, p, c)
	g.SetIf(entry, cond, then, els)
	g.SetReturn(then, p)
	g.SetReturn(els, p)

	runPass(t, g, passes.IDCodeSinking, passes.Context{})
	if g.InstrAt(cond).Block != entry {
		t.Error("branch condition sunk out of its block")
	}
}

func TestInliner_SubstitutesBodies(t *testing.T) {
	r := stubResolver{
		"util/answer": {Kind: passes.InlineConst, Const: 42},
		"util/ident":  {Kind: passes.InlineParam, ParamIndex: 1},
		"util/plus":   {Kind: passes.InlineBinOp, Op: ir.OpAdd},
	}
	g := testkit.NewGraph("inline", isa.X86_64)
	b := g.NewBlock()
	g.Entry = b
	x := g.Param(b, 0)
	y := g.Param(b, 1)
	cAns := g.Invoke(b, "util/answer")
	cId := g.Invoke(b, "util/ident", x, y)
	cAdd := g.Invoke(b, "util/plus", x, y)
	cMiss := g.Invoke(b, "util/unknown", x)
	u := g.BinOp(b, ir.OpAdd, cAns, cId)
	g.SetReturn(b, g.BinOp(b, ir.OpAdd, u, cAdd))

	if !runPass(t, g, passes.IDInliner, passes.Context{Resolver: r}) {
		t.Fatal("inliner reported no change")
	}
	if in := g.InstrAt(cAns); in.Kind != ir.KindConst || in.AuxInt != 42 {
		t.Errorf("const body inlined to %s %d", in.Kind, in.AuxInt)
	}
	if args := g.InstrAt(u).Args; args[1] != y {
		t.Errorf("param body: use rewritten to v%d, want v%d", args[1], y)
	}
	if in := g.InstrAt(cAdd); in.Kind != ir.KindBinOp || in.Op != ir.OpAdd || in.Sym != "" {
		t.Errorf("binop body inlined to %s %s %q", in.Kind, in.Op, in.Sym)
	}
	if g.InstrAt(cMiss).Kind != ir.KindInvoke {
		t.Error("unresolved callee rewritten")
	}
}

func TestInliner_NilResolverIsNoop(t *testing.T) {
	g := testkit.NewGraph("noresolver", isa.X86_64)
	b := g.NewBlock()
	g.Entry = b
	g.SetReturn(b, g.Invoke(b, "util/answer"))

	if runPass(t, g, passes.IDInliner, passes.Context{}) {
		t.Error("inliner changed the graph without a resolver")
	}
}

type stubResolver map[string]passes.InlineBody

func (r stubResolver) InlineBody(callee string) (passes.InlineBody, bool) {
	b, ok := r[callee]
	return b, ok
}

func TestArchSimplifier_MulToShift(t *testing.T) {
	g := testkit.NewGraph("shl", isa.X86_64)
	b := g.NewBlock()
	g.Entry = b
	p := g.Param(b, 0)
	eight := g.Const(b, 8)
	mul := g.BinOp(b, ir.OpMul, p, eight)
	g.SetReturn(b, mul)

	if !runPass(t, g, passes.IDInstructionSimplifierX86_64, passes.Context{}) {
		t.Fatal("arch simplifier reported no change")
	}
	in := g.InstrAt(mul)
	if in.Op != ir.OpShl {
		t.Fatalf("mul by 8 became %s, want shl", in.Op)
	}
	if amt := g.InstrAt(in.Args[1]); amt.Kind != ir.KindConst || amt.AuxInt != 3 {
		t.Errorf("shift amount = %s %d, want const 3", amt.Kind, amt.AuxInt)
	}
}

func TestArchSimplifier_SkipsNonPowerOfTwo(t *testing.T) {
	g := testkit.NewGraph("mul3", isa.X86_64)
	b := g.NewBlock()
	g.Entry = b
	p := g.Param(b, 0)
	three := g.Const(b, 3)
	mul := g.BinOp(b, ir.OpMul, p, three)
	g.SetReturn(b, mul)

	if runPass(t, g, passes.IDInstructionSimplifierX86_64, passes.Context{}) {
		t.Error("mul by 3 rewritten")
	}
	if g.InstrAt(mul).Op != ir.OpMul {
		t.Error("mul by 3 changed operator")
	}
}

func TestMemoryOperandGeneration_FusesSingleUseLoad(t *testing.T) {
	g := testkit.NewGraph("fuse", isa.X86_64)
	b := g.NewBlock()
	g.Entry = b
	obj := g.Param(b, 0)
	ld := g.NewInstr(b, ir.Instr{Kind: ir.KindLoad, Sym: "f", Args: []ir.ValueID{obj}})
	g.SetReturn(b, g.BinOp(b, ir.OpAdd, ld, obj))

	if !runPass(t, g, passes.IDMemoryOperandGenerationX86, passes.Context{}) {
		t.Fatal("memory operand pass reported no change")
	}
	if !g.InstrAt(ld).Fused {
		t.Error("single-use load not fused")
	}
}

func TestPcRelativeFixups_InsertsBaseOnce(t *testing.T) {
	g := testkit.NewGraph("pcrel", isa.X86)
	b := g.NewBlock()
	g.Entry = b
	p := g.Param(b, 0)
	g.SetReturn(b, g.Invoke(b, "util/f", p))

	if !runPass(t, g, passes.IDPcRelativeFixupsX86, passes.Context{}) {
		t.Fatal("fixup pass reported no change")
	}
	first := g.BlockAt(b).Instrs[0]
	if g.InstrAt(first).Sym != passes.PCRelBaseSym {
		t.Errorf("entry does not start with the pc-relative base marker")
	}
	if runPass(t, g, passes.IDPcRelativeFixupsX86, passes.Context{}) {
		t.Error("second run inserted the marker again")
	}
}

func TestPcRelativeFixups_SkipsLeafMethods(t *testing.T) {
	g := testkit.StraightLine(isa.X86, 7)
	if runPass(t, g, passes.IDPcRelativeFixupsX86, passes.Context{}) {
		t.Error("leaf method received a pc-relative base")
	}
}

func TestCriticalNativeAbiFixup_TagsCriticalCallees(t *testing.T) {
	g := testkit.NewGraph("critical", isa.Arm)
	b := g.NewBlock()
	g.Entry = b
	p := g.Param(b, 0)
	crit := g.Invoke(b, passes.CriticalCalleePrefix+"memcpy", p)
	norm := g.Invoke(b, "util/f", p)
	g.SetReturn(b, norm)
	_ = crit

	if !runPass(t, g, passes.IDCriticalNativeAbiFixupArm, passes.Context{}) {
		t.Fatal("abi fixup reported no change")
	}
	if g.InstrAt(crit).AuxInt != 1 {
		t.Error("critical callee not tagged")
	}
	if g.InstrAt(norm).AuxInt != 0 {
		t.Error("ordinary callee tagged as critical")
	}
	if runPass(t, g, passes.IDCriticalNativeAbiFixupArm, passes.Context{}) {
		t.Error("second run re-tagged callees")
	}
}

func TestScheduler_PacksConstantAgainstUse(t *testing.T) {
	g := testkit.NewGraph("sched", isa.Arm64)
	b := g.NewBlock()
	g.Entry = b
	c := g.Const(b, 9)
	p := g.Param(b, 0)
	q := g.Param(b, 1)
	sum := g.BinOp(b, ir.OpAdd, p, c)
	g.SetReturn(b, g.BinOp(b, ir.OpMul, sum, q))

	if !runPass(t, g, passes.IDScheduling, passes.Context{}) {
		t.Fatal("scheduler reported no change")
	}
	instrs := g.BlockAt(b).Instrs
	for i, v := range instrs {
		if v == c {
			if i+1 >= len(instrs) || instrs[i+1] != sum {
				t.Errorf("constant at %d not adjacent to its use", i)
			}
		}
	}
}

func TestScheduler_TerminatesOnConstPair(t *testing.T) {
	g := testkit.NewGraph("constpair", isa.Arm64)
	b := g.NewBlock()
	g.Entry = b
	c1 := g.Const(b, 1)
	c2 := g.Const(b, 2)
	g.SetReturn(b, g.BinOp(b, ir.OpAdd, c1, c2))

	if runPass(t, g, passes.IDScheduling, passes.Context{}) {
		t.Error("two constants already packed against their use reported a change")
	}
}
