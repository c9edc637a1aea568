// Package regalloc assigns physical locations to SSA values. It is a fixed
// three-step sub-pipeline (prepare, liveness, allocate) that runs exactly
// once after the optimization passes. Scratch memory for liveness and
// allocation lives in a nested arena scope released before the graph arena.
package regalloc

import (
	"fmt"

	"kiln/internal/ir"
	"kiln/internal/isa"
	"kiln/internal/pipeline"
)

// Strategy selects the allocation algorithm.
type Strategy uint8

const (
	StrategyLinearScan Strategy = iota
	StrategyGreedyColor
)

// ParseStrategy converts the configuration string; empty selects linear scan.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "linear-scan":
		return StrategyLinearScan, nil
	case "greedy-color":
		return StrategyGreedyColor, nil
	default:
		return StrategyLinearScan, fmt.Errorf("unknown register allocation strategy: %q", s)
	}
}

// LocKind discriminates physical locations.
type LocKind uint8

const (
	LocNone LocKind = iota
	LocReg
	LocStack
)

// Loc is the physical location assigned to one value.
type Loc struct {
	Kind  LocKind
	Index int
}

func (l Loc) String() string {
	switch l.Kind {
	case LocReg:
		return fmt.Sprintf("r%d", l.Index)
	case LocStack:
		return fmt.Sprintf("sp+%d", l.Index)
	default:
		return "-"
	}
}

// Allocation is the result: a location per value handle plus frame facts
// the code generator needs.
type Allocation struct {
	Locs       []Loc
	SpillSlots int
	UsedRegs   int
}

// maxSpillSlots bounds frame growth; exceeding it means the method is
// over-constrained and compilation of it is a defect, not a recoverable
// condition.
const maxSpillSlots = 4096

// allocatableRegs returns the number of general-purpose registers the
// allocator may use on the target.
func allocatableRegs(set isa.Set) int {
	switch set {
	case isa.Arm, isa.Thumb2:
		return 9
	case isa.Arm64:
		return 24
	case isa.X86:
		return 6
	case isa.X86_64:
		return 13
	default:
		return 8
	}
}

// Run executes the three steps, each wrapped by the pass observer.
// Allocation failure for an over-constrained method panics; the caller's
// policy layer decides what that means for the whole compile.
func Run(g *ir.Graph, strategy Strategy, obs *pipeline.Observer) *Allocation {
	scope := obs.BeginPass("prepare_for_register_allocation")
	changed := prepare(g)
	scope.End(changed)

	// Liveness and allocation share one scratch scope, released before the
	// graph arena so peak memory stays bounded.
	scratch := g.Scratch().Scope()
	defer scratch.Release()

	scope = obs.BeginPass("liveness")
	intervals := analyze(g, scratch)
	scope.End(false)

	scope = obs.BeginPass("register")
	var alloc *Allocation
	switch strategy {
	case StrategyGreedyColor:
		alloc = allocateGreedy(g, intervals)
	default:
		alloc = allocateLinearScan(g, intervals)
	}
	scope.End(true)

	if alloc.SpillSlots > maxSpillSlots {
		panic(fmt.Sprintf("register allocation overflow for %s: %d spill slots", g.Method, alloc.SpillSlots))
	}
	return alloc
}

// prepare strips instructions that only carried information for the
// optimization phase: plain nops without generator-visible markers.
func prepare(g *ir.Graph) bool {
	changed := false
	for b := ir.BlockID(0); int(b) < g.NumBlocks(); b++ {
		for _, v := range append([]ir.ValueID(nil), g.BlockAt(b).Instrs...) {
			in := g.InstrAt(v)
			if in.Kind == ir.KindNop && in.Sym == "" {
				g.RemoveInstr(v)
				changed = true
			}
		}
	}
	return changed
}
