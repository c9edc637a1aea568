package regalloc

import "kiln/internal/ir"

// allocateGreedy colors the interval interference graph greedily in
// decreasing-degree order. Colors beyond the register budget become spill
// slots. Simpler than linear scan's active management and better for
// methods with many short disjoint ranges.
func allocateGreedy(g *ir.Graph, intervals []Interval) *Allocation {
	nregs := allocatableRegs(g.ISA)
	alloc := &Allocation{Locs: make([]Loc, g.CurrentInstrID())}
	n := len(intervals)

	overlaps := func(a, b Interval) bool {
		return a.Start <= b.End && b.Start <= a.End
	}
	adj := make([][]int, n)
	degree := make([]int, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if overlaps(intervals[i], intervals[j]) {
				adj[i] = append(adj[i], j)
				adj[j] = append(adj[j], i)
				degree[i]++
				degree[j]++
			}
		}
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	// Highest degree first; ties by interval start for determinism.
	for i := 1; i < n; i++ {
		for j := i; j > 0; j-- {
			a, b := order[j], order[j-1]
			if degree[a] > degree[b] || (degree[a] == degree[b] && intervals[a].Start < intervals[b].Start) {
				order[j], order[j-1] = order[j-1], order[j]
			} else {
				break
			}
		}
	}

	colors := make([]int, n)
	for i := range colors {
		colors[i] = -1
	}
	maxColor := -1
	for _, i := range order {
		taken := make(map[int]bool, len(adj[i]))
		for _, j := range adj[i] {
			if colors[j] >= 0 {
				taken[colors[j]] = true
			}
		}
		c := 0
		for taken[c] {
			c++
		}
		colors[i] = c
		if c > maxColor {
			maxColor = c
		}
	}

	usedRegs := 0
	spills := 0
	for i, iv := range intervals {
		if colors[i] < nregs {
			alloc.Locs[iv.Value] = Loc{Kind: LocReg, Index: colors[i]}
			if colors[i]+1 > usedRegs {
				usedRegs = colors[i] + 1
			}
		} else {
			alloc.Locs[iv.Value] = Loc{Kind: LocStack, Index: colors[i] - nregs}
			if colors[i]-nregs+1 > spills {
				spills = colors[i] - nregs + 1
			}
		}
	}
	alloc.UsedRegs = usedRegs
	alloc.SpillSlots = spills
	return alloc
}
