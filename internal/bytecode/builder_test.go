package bytecode_test

import (
	"strings"
	"testing"

	"kiln/internal/bytecode"
	"kiln/internal/ir"
	"kiln/internal/isa"
	"kiln/internal/method"
	"kiln/internal/testkit"
)

func buildUnit(t *testing.T, code []byte) *ir.Graph {
	t.Helper()
	g := testkit.NewGraph("m", isa.X86_64)
	unit := &method.Unit{Name: "m", ISA: isa.X86_64, Code: code, CodeUnits: len(code), Resolved: true}
	if err := bytecode.NewBuilder().Build(g, unit); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := testkit.CheckGraphInvariants(g); err != nil {
		t.Fatalf("built graph invalid: %v", err)
	}
	return g
}

func buildErr(t *testing.T, code []byte) error {
	t.Helper()
	g := testkit.NewGraph("m", isa.X86_64)
	unit := &method.Unit{Name: "m", ISA: isa.X86_64, Code: code, CodeUnits: len(code), Resolved: true}
	err := bytecode.NewBuilder().Build(g, unit)
	if err == nil {
		t.Fatal("Build accepted malformed body")
	}
	return err
}

func TestBuild_StraightLine(t *testing.T) {
	var a bytecode.Asm
	a.Param(0, 0)
	a.Const(1, 7)
	a.Bin(ir.OpAdd, 2, 0, 1)
	a.Ret(2)

	g := buildUnit(t, a.Bytes())
	if g.NumBlocks() != 1 {
		t.Fatalf("%d blocks, want 1", g.NumBlocks())
	}
	term := g.BlockAt(g.Entry).Term
	if term.Kind != ir.TermReturn {
		t.Fatalf("terminator %v, want return", term.Kind)
	}
	ret := g.InstrAt(term.Value)
	if ret.Kind != ir.KindBinOp || ret.Op != ir.OpAdd {
		t.Errorf("returns %s %s, want add", ret.Kind, ret.Op)
	}
}

func TestBuild_DiamondMergesWithPhi(t *testing.T) {
	// if r0 { r1 = 10 } else { r1 = 20 }; ret r1
	var a bytecode.Asm
	a.Param(0, 0)
	thenAt, elsAt := a.Br(0, 0, 0)
	thenOff := a.Off()
	a.Const(1, 10)
	jmpAt := a.Jump(0)
	elsOff := a.Off()
	a.Const(1, 20)
	joinOff := a.Off()
	a.Ret(1)
	a.Patch(thenAt, thenOff)
	a.Patch(elsAt, elsOff)
	a.Patch(jmpAt, joinOff)

	g := buildUnit(t, a.Bytes())
	if g.NumBlocks() != 4 {
		t.Fatalf("%d blocks, want 4", g.NumBlocks())
	}
	var join ir.BlockID = ir.NoBlock
	for b := ir.BlockID(0); int(b) < g.NumBlocks(); b++ {
		if g.BlockAt(b).Term.Kind == ir.TermReturn {
			join = b
		}
	}
	ret := g.InstrAt(g.BlockAt(join).Term.Value)
	if ret.Kind != ir.KindPhi || len(ret.Args) != 2 {
		t.Fatalf("merge returns %s with %d args, want 2-input phi", ret.Kind, len(ret.Args))
	}
	// Phi inputs follow predecessor order: the then arm was created first.
	preds := g.Predecessors()[join]
	a0 := g.InstrAt(ret.Args[0])
	a1 := g.InstrAt(ret.Args[1])
	if a0.AuxInt != 10 || a1.AuxInt != 20 {
		t.Errorf("phi args (%d, %d) with preds %v, want (10, 20)", a0.AuxInt, a1.AuxInt, preds)
	}
}

func TestBuild_LoopCarriedPhi(t *testing.T) {
	// r0 = 0; r1 = p0; loop: if r0 < r1 { r0 = r0 + 1; goto loop }; ret r0
	var a bytecode.Asm
	a.Const(0, 0)
	a.Param(1, 0)
	loopOff := a.Off()
	a.Bin(ir.OpCmpLT, 2, 0, 1)
	bodyAt, exitAt := a.Br(2, 0, 0)
	bodyOff := a.Off()
	a.Const(3, 1)
	a.Bin(ir.OpAdd, 0, 0, 3)
	a.Jump(loopOff)
	exitOff := a.Off()
	a.Ret(0)
	a.Patch(bodyAt, bodyOff)
	a.Patch(exitAt, exitOff)

	g := buildUnit(t, a.Bytes())
	if !g.HasLoops() {
		t.Fatal("back edge did not mark a loop header")
	}
	var header ir.BlockID = ir.NoBlock
	for b := ir.BlockID(0); int(b) < g.NumBlocks(); b++ {
		if g.BlockAt(b).LoopHeader {
			header = b
		}
	}
	var phi ir.ValueID = ir.NoValue
	for _, v := range g.BlockAt(header).Instrs {
		if g.InstrAt(v).Kind == ir.KindPhi {
			in := g.InstrAt(v)
			// Loop-carried counter: forward input const 0, back input the add.
			if g.InstrAt(in.Args[0]).Kind == ir.KindConst && g.InstrAt(in.Args[1]).Kind == ir.KindBinOp {
				phi = v
			}
		}
	}
	if phi == ir.NoValue {
		t.Fatal("loop-carried phi not built")
	}
	// The exit returns the counter phi.
	for b := ir.BlockID(0); int(b) < g.NumBlocks(); b++ {
		if term := g.BlockAt(b).Term; term.Kind == ir.TermReturn && term.Value != phi {
			t.Errorf("exit returns v%d, want the counter phi v%d", term.Value, phi)
		}
	}
}

func TestBuild_UndefinedRegister(t *testing.T) {
	var a bytecode.Asm
	a.Param(0, 0)
	a.Bin(ir.OpAdd, 1, 0, 5) // r5 never defined
	a.Ret(1)

	err := buildErr(t, a.Bytes())
	if !strings.Contains(err.Error(), "undefined register r5") {
		t.Errorf("error = %v, want undefined register r5", err)
	}
}

func TestBuild_BranchTargetMidInstruction(t *testing.T) {
	var a bytecode.Asm
	a.Param(0, 0)
	a.Jump(1) // lands inside the param encoding
	err := buildErr(t, a.Bytes())
	if !strings.Contains(err.Error(), "not an instruction start") {
		t.Errorf("error = %v, want target validation failure", err)
	}
}

func TestBuild_FallsOffEnd(t *testing.T) {
	var a bytecode.Asm
	a.Param(0, 0)
	a.Const(1, 3)

	err := buildErr(t, a.Bytes())
	if !strings.Contains(err.Error(), "falls off the end") {
		t.Errorf("error = %v, want falls-off-the-end", err)
	}
}

func TestBuild_TruncatedInstruction(t *testing.T) {
	var a bytecode.Asm
	a.Const(0, 1)
	code := a.Bytes()[:4] // cut inside the immediate

	err := buildErr(t, code)
	if !strings.Contains(err.Error(), "truncated") {
		t.Errorf("error = %v, want truncation", err)
	}
}

func TestBuild_UnknownOpcode(t *testing.T) {
	err := buildErr(t, []byte{0x7f})
	if !strings.Contains(err.Error(), "unknown opcode") {
		t.Errorf("error = %v, want unknown opcode", err)
	}
}

func TestBuild_EmptyBody(t *testing.T) {
	buildErr(t, nil)
}

func TestBuild_VoidReturnAndStores(t *testing.T) {
	var a bytecode.Asm
	a.Param(0, 0)
	a.Param(1, 1)
	a.Store(0, 1, "count")
	a.RetVoid()

	g := buildUnit(t, a.Bytes())
	term := g.BlockAt(g.Entry).Term
	if term.Kind != ir.TermReturn || term.Value != ir.NoValue {
		t.Errorf("terminator %v value v%d, want void return", term.Kind, term.Value)
	}
	var store *ir.Instr
	for _, v := range g.BlockAt(g.Entry).Instrs {
		if g.InstrAt(v).Kind == ir.KindStore {
			store = g.InstrAt(v)
		}
	}
	if store == nil || store.Sym != "count" {
		t.Error("store not lowered")
	}
}

func TestBuild_InvokeThreadsArgs(t *testing.T) {
	var a bytecode.Asm
	a.Param(0, 0)
	a.Const(1, 2)
	a.Invoke(2, "util/pow", 0, 1)
	a.Ret(2)

	g := buildUnit(t, a.Bytes())
	ret := g.InstrAt(g.BlockAt(g.Entry).Term.Value)
	if ret.Kind != ir.KindInvoke || ret.Sym != "util/pow" || len(ret.Args) != 2 {
		t.Errorf("invoke lowered as %s %q with %d args", ret.Kind, ret.Sym, len(ret.Args))
	}
}
