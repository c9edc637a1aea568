package ir

import (
	"errors"
	"fmt"
)

// Checker verifies graph structural invariants between passes. It also
// enforces the size-monotonicity rule: a pass that reported "no change" must
// not have grown the graph, since downstream consumers would then be looking
// at unvalidated instructions.
type Checker struct {
	graph    *Graph
	lastSize int
}

// NewChecker returns a checker bound to g. lastSize is the size metric
// observed after the previous validated state (0 for a fresh graph).
func NewChecker(g *Graph, lastSize int) *Checker {
	return &Checker{graph: g, lastSize: lastSize}
}

// Run validates the graph after a pass. passChanged is what the pass
// reported. It returns the new size metric to carry into the next check.
func (c *Checker) Run(passChanged bool) (int, error) {
	g := c.graph
	size := g.CurrentInstrID()

	var errs []error
	if !passChanged && size > c.lastSize {
		errs = append(errs, fmt.Errorf(
			"graph grew from %d to %d instructions without reporting a change", c.lastSize, size))
	}
	errs = append(errs,
		c.checkEntry(),
		c.checkTerminators(),
		c.checkTargets(),
		c.checkArgs(),
		c.checkPhis(),
		c.checkBlockMembership(),
	)
	c.lastSize = size
	return size, errors.Join(errs...)
}

func (c *Checker) checkEntry() error {
	g := c.graph
	if g.Entry == NoBlock {
		return errors.New("graph has no entry block")
	}
	if int(g.Entry) >= len(g.blocks) {
		return fmt.Errorf("entry block bb%d does not exist", g.Entry)
	}
	return nil
}

func (c *Checker) checkTerminators() error {
	g := c.graph
	var errs []error
	reachable := g.Reachable()
	for i := range g.blocks {
		if reachable[i] && !g.blocks[i].Terminated() {
			errs = append(errs, fmt.Errorf("bb%d: unterminated reachable block", i))
		}
	}
	return errors.Join(errs...)
}

func (c *Checker) checkTargets() error {
	g := c.graph
	var errs []error
	exists := func(id BlockID) bool { return id >= 0 && int(id) < len(g.blocks) }
	for i := range g.blocks {
		for _, succ := range g.blocks[i].Term.Successors() {
			if !exists(succ) {
				errs = append(errs, fmt.Errorf("bb%d: branch target bb%d does not exist", i, succ))
			}
		}
	}
	return errors.Join(errs...)
}

func (c *Checker) checkArgs() error {
	g := c.graph
	var errs []error
	exists := func(v ValueID) bool { return v >= 0 && int(v) < len(g.instrs) }
	for i := range g.instrs {
		in := &g.instrs[i]
		if in.Dead {
			continue
		}
		for _, a := range in.Args {
			if a == NoValue {
				continue
			}
			if !exists(a) {
				errs = append(errs, fmt.Errorf("v%d: argument v%d does not exist", i, a))
			} else if g.instrs[a].Dead {
				errs = append(errs, fmt.Errorf("v%d: argument v%d is dead", i, a))
			}
		}
	}
	return errors.Join(errs...)
}

func (c *Checker) checkPhis() error {
	g := c.graph
	var errs []error
	preds := g.Predecessors()
	for i := range g.instrs {
		in := &g.instrs[i]
		if in.Dead || in.Kind != KindPhi {
			continue
		}
		if want := len(preds[in.Block]); len(in.Args) != want {
			errs = append(errs, fmt.Errorf(
				"v%d: phi in bb%d has %d inputs, block has %d predecessors",
				i, in.Block, len(in.Args), want))
		}
	}
	return errors.Join(errs...)
}

func (c *Checker) checkBlockMembership() error {
	g := c.graph
	var errs []error
	for b := range g.blocks {
		for _, v := range g.blocks[b].Instrs {
			if int(v) >= len(g.instrs) {
				errs = append(errs, fmt.Errorf("bb%d: lists nonexistent v%d", b, v))
				continue
			}
			in := &g.instrs[v]
			if in.Dead {
				errs = append(errs, fmt.Errorf("bb%d: lists dead v%d", b, v))
			}
			if in.Block != BlockID(b) {
				errs = append(errs, fmt.Errorf("bb%d: lists v%d that claims bb%d", b, v, in.Block))
			}
		}
	}
	return errors.Join(errs...)
}
