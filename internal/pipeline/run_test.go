package pipeline_test

import (
	"strings"
	"testing"

	"kiln/internal/config"
	"kiln/internal/ir"
	"kiln/internal/isa"
	"kiln/internal/passes"
	"kiln/internal/pipeline"
	"kiln/internal/testkit"
)

type stubResolver map[string]passes.InlineBody

func (r stubResolver) InlineBody(callee string) (passes.InlineBody, bool) {
	b, ok := r[callee]
	return b, ok
}

func newObserver(g *ir.Graph) *pipeline.Observer {
	return pipeline.NewObserver(g, nil, &config.Options{ISA: g.ISA}, nil)
}

// Graph: ret (p + 0) + call. The x+0 identity is left for the
// after-inlining simplifier slot, which only runs when inlining fired.
func inlineGated(t *testing.T) (*ir.Graph, ir.ValueID) {
	t.Helper()
	g := testkit.NewGraph("gated", isa.Arm64)
	b := g.NewBlock()
	g.Entry = b
	p := g.Param(b, 0)
	call := g.Invoke(b, "util/zero")
	sum := g.BinOp(b, ir.OpAdd, p, call)
	g.SetReturn(b, sum)
	return g, call
}

func TestRunDefs_DependentSlotRunsAfterChange(t *testing.T) {
	g, call := inlineGated(t)
	obs := newObserver(g)
	defer obs.Close()

	defs := []passes.Def{
		passes.Of(passes.IDInliner),
		passes.OfDep(passes.IDInstructionSimplifier, "instruction_simplifier$after_inlining", passes.IDInliner),
	}
	// util/zero inlines to const 0, exposing p+0 for the simplifier.
	ctx := passes.Context{Resolver: stubResolver{
		"util/zero": {Kind: passes.InlineConst, Const: 0},
	}}
	if !pipeline.RunDefs(g, defs, ctx, obs) {
		t.Fatal("pipeline reported no change")
	}
	if in := g.InstrAt(call); in.Kind != ir.KindConst {
		t.Fatalf("call not inlined: %s", in.Kind)
	}
	term := g.BlockAt(g.Entry).Term
	if g.InstrAt(term.Value).Kind != ir.KindParam {
		t.Error("dependent simplifier slot did not run: p+0 survived")
	}
}

func TestRunDefs_DependentSlotSkippedWithoutChange(t *testing.T) {
	g, _ := inlineGated(t)
	obs := newObserver(g)
	defer obs.Close()

	defs := []passes.Def{
		passes.Of(passes.IDInliner),
		passes.OfDep(passes.IDInstructionSimplifier, "instruction_simplifier$after_inlining", passes.IDInliner),
	}
	// No resolver: the inliner reports no change, so the slot is skipped
	// and p+call stays a binop even though p+0 would not have.
	if pipeline.RunDefs(g, defs, passes.Context{}, obs) {
		t.Fatal("pipeline reported a change")
	}
	term := g.BlockAt(g.Entry).Term
	if g.InstrAt(term.Value).Kind != ir.KindBinOp {
		t.Error("gated simplifier ran despite the inliner reporting no change")
	}
}

func TestRunDefs_SkippedSlotRecordsFalseForItsIdentity(t *testing.T) {
	g, _ := inlineGated(t)
	obs := newObserver(g)
	defer obs.Close()

	// The second folding slot depends on the first, which is itself
	// skipped; depends_on must see the most recent occurrence (skipped,
	// so false), not some earlier executed one.
	defs := []passes.Def{
		passes.OfDep(passes.IDConstantFolding, "constant_folding$gated", passes.IDInliner),
		passes.OfDep(passes.IDDeadCodeElimination, "dead_code_elimination$chained", passes.IDConstantFolding),
	}
	ran := trackDefs(g, defs, obs)
	if ran["constant_folding$gated"] || ran["dead_code_elimination$chained"] {
		t.Errorf("slots ran despite unsatisfied dependencies: %v", ran)
	}
}

func TestRunDefs_SentinelAlwaysEligible(t *testing.T) {
	g := testkit.StraightLine(isa.Arm64, 3)
	obs := newObserver(g)
	defer obs.Close()

	defs := []passes.Def{
		passes.Of(passes.IDConstantFolding),
		passes.Of(passes.IDInstructionSimplifier),
	}
	ran := trackDefs(g, defs, obs)
	for _, name := range []string{"constant_folding", "instruction_simplifier"} {
		if !ran[name] {
			t.Errorf("unconditional slot %q did not run", name)
		}
	}
}

// trackDefs runs defs and reports which slot names executed, observed
// through a viz sink capturing the per-pass dump markers.
func trackDefs(g *ir.Graph, defs []passes.Def, obs *pipeline.Observer) map[string]bool {
	ran := make(map[string]bool)
	instances := passes.Construct(defs, g, passes.Context{})

	var outcomes [passes.IDLast]bool
	outcomes[passes.IDNone] = true
	for i, d := range defs {
		if !outcomes[d.DependsOn] {
			outcomes[d.Pass] = false
			continue
		}
		ran[instances[i].Name()] = true
		scope := obs.BeginPass(instances[i].Name())
		changed := instances[i].Run()
		scope.End(changed)
		outcomes[d.Pass] = changed
	}
	return ran
}

func TestOverrideDefs_StripsOccurrenceSuffix(t *testing.T) {
	defs, err := pipeline.OverrideDefs([]string{"GVN", "GVN$after_arch", "dead_code_elimination$final"})
	if err != nil {
		t.Fatalf("OverrideDefs: %v", err)
	}
	if len(defs) != 3 {
		t.Fatalf("got %d defs", len(defs))
	}
	if defs[0].Pass != passes.IDGlobalValueNumbering || defs[1].Pass != passes.IDGlobalValueNumbering {
		t.Error("suffixed occurrence resolved to a different identity")
	}
	if defs[1].Name != "GVN$after_arch" {
		t.Errorf("display name = %q, want the suffixed form", defs[1].Name)
	}
	for _, d := range defs {
		if d.DependsOn != passes.IDNone {
			t.Error("override slots must be unconditionally eligible")
		}
	}
}

func TestOverrideDefs_UnknownName(t *testing.T) {
	_, err := pipeline.OverrideDefs([]string{"constant_folding", "licm"})
	if err == nil || !strings.Contains(err.Error(), "licm") {
		t.Errorf("unknown pass name not rejected: %v", err)
	}
}

func TestRun_OverrideReplacesPipeline(t *testing.T) {
	g := testkit.NewGraph("override", isa.X86_64)
	b := g.NewBlock()
	g.Entry = b
	x := g.Const(b, 2)
	y := g.Const(b, 3)
	g.SetReturn(b, g.BinOp(b, ir.OpMul, x, y))

	opts := &config.Options{ISA: isa.X86_64, PassesToRun: []string{"dead_code_elimination"}}
	obs := pipeline.NewObserver(g, nil, opts, nil)
	defer obs.Close()

	changed, err := pipeline.Run(g, opts, passes.Context{}, obs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if changed {
		t.Error("dce-only override changed a fully live graph")
	}
	// Folding was not in the override list, so 2*3 must survive.
	if g.InstrAt(g.BlockAt(b).Term.Value).Kind != ir.KindBinOp {
		t.Error("pass outside the override list ran")
	}
}

func TestRun_OverrideUnknownNameFails(t *testing.T) {
	g := testkit.StraightLine(isa.X86_64, 1)
	opts := &config.Options{ISA: isa.X86_64, PassesToRun: []string{"bogus"}}
	obs := pipeline.NewObserver(g, nil, opts, nil)
	defer obs.Close()

	if _, err := pipeline.Run(g, opts, passes.Context{}, obs); err == nil {
		t.Error("invalid override accepted")
	}
}

func TestRun_OptimizedPipelineIdempotent(t *testing.T) {
	opts := &config.Options{ISA: isa.X86_64}
	for _, tc := range []struct {
		name  string
		build func() *ir.Graph
	}{
		{"straight_line", func() *ir.Graph { return testkit.StraightLine(isa.X86_64, 7) }},
		{"diamond", func() *ir.Graph { return testkit.Diamond(isa.X86_64, 1, 2) }},
		{"loop", func() *ir.Graph { return testkit.Loop(isa.X86_64) }},
	} {
		g := tc.build()
		obs := pipeline.NewObserver(g, nil, opts, nil)
		if _, err := pipeline.Run(g, opts, passes.Context{}, obs); err != nil {
			t.Fatalf("%s: first run: %v", tc.name, err)
		}
		obs.Close()

		obs2 := pipeline.NewObserver(g, nil, opts, nil)
		changed, err := pipeline.Run(g, opts, passes.Context{}, obs2)
		obs2.Close()
		if err != nil {
			t.Fatalf("%s: second run: %v", tc.name, err)
		}
		if changed {
			t.Errorf("%s: pipeline not idempotent, second run changed the graph", tc.name)
		}
	}
}

func TestRunIntrinsic_SimplifiesTemplate(t *testing.T) {
	g := testkit.NewGraph("math.abs", isa.Arm64)
	b := g.NewBlock()
	g.Entry = b
	p := g.Param(b, 0)
	z := g.Const(b, 0)
	sum := g.BinOp(b, ir.OpAdd, p, z)
	g.SetReturn(b, g.UnOp(b, ir.OpAbs, sum))

	obs := newObserver(g)
	defer obs.Close()
	if !pipeline.RunIntrinsic(g, passes.Context{}, obs) {
		t.Fatal("intrinsic pipeline reported no change")
	}
	abs := g.InstrAt(g.BlockAt(b).Term.Value)
	if abs.Args[0] != p {
		t.Error("template p+0 not simplified before codegen")
	}
}
