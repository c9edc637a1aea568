package pipeline

import (
	"fmt"

	"kiln/internal/ir"
	"kiln/internal/passes"
)

// RunDefs executes a pass sequence under the dependency rule: a slot runs
// only when the outcome recorded for its depends_on identity is true. The
// sentinel identity is always true; a skipped slot records false for its
// own identity. depends_on therefore always reflects the most recent prior
// occurrence, executed or skipped. Returns whether any pass changed the
// graph.
func RunDefs(g *ir.Graph, defs []passes.Def, ctx passes.Context, obs *Observer) bool {
	instances := passes.Construct(defs, g, ctx)

	var outcomes [passes.IDLast]bool
	outcomes[passes.IDNone] = true

	change := false
	for i, d := range defs {
		if !outcomes[d.DependsOn] {
			outcomes[d.Pass] = false
			continue
		}
		scope := obs.BeginPass(instances[i].Name())
		passChange := instances[i].Run()
		scope.End(passChange)
		outcomes[d.Pass] = passChange
		if passChange {
			change = true
		}
	}
	return change
}

// OverrideDefs builds a pass sequence from user-supplied names. Each name
// may carry a "$suffix" distinguishing repeated occurrences; the suffix is
// stripped to recover the identity. Dependency tracking is unavailable in
// override mode: every slot is unconditionally eligible.
func OverrideDefs(names []string) ([]passes.Def, error) {
	defs := make([]passes.Def, 0, len(names))
	for _, name := range names {
		id, err := passes.ByName(name)
		if err != nil {
			return nil, fmt.Errorf("invalid pass override: %w", err)
		}
		defs = append(defs, passes.OfNamed(id, name))
	}
	return defs, nil
}
