package regalloc

import "kiln/internal/ir"

// allocateLinearScan walks intervals in start order, expiring finished
// ones and spilling the furthest-ending active interval when registers
// run out.
func allocateLinearScan(g *ir.Graph, intervals []Interval) *Allocation {
	nregs := allocatableRegs(g.ISA)
	alloc := &Allocation{Locs: make([]Loc, g.CurrentInstrID())}

	free := make([]int, 0, nregs)
	for r := nregs - 1; r >= 0; r-- {
		free = append(free, r)
	}
	var active []Interval // kept sorted by End, ascending
	nextSlot := 0
	usedRegs := 0

	expire := func(start int) {
		i := 0
		for i < len(active) && active[i].End < start {
			loc := alloc.Locs[active[i].Value]
			if loc.Kind == LocReg {
				free = append(free, loc.Index)
			}
			i++
		}
		active = active[i:]
	}
	insertActive := func(iv Interval) {
		pos := len(active)
		for i, a := range active {
			if a.End > iv.End {
				pos = i
				break
			}
		}
		active = append(active, Interval{})
		copy(active[pos+1:], active[pos:])
		active[pos] = iv
	}

	for _, iv := range intervals {
		expire(iv.Start)
		if len(free) > 0 {
			r := free[len(free)-1]
			free = free[:len(free)-1]
			alloc.Locs[iv.Value] = Loc{Kind: LocReg, Index: r}
			if r+1 > usedRegs {
				usedRegs = r + 1
			}
			insertActive(iv)
			continue
		}
		// Spill whichever ends last: the current interval or the
		// furthest-ending active one.
		last := active[len(active)-1]
		if last.End > iv.End {
			alloc.Locs[iv.Value] = alloc.Locs[last.Value]
			alloc.Locs[last.Value] = Loc{Kind: LocStack, Index: nextSlot}
			nextSlot++
			active = active[:len(active)-1]
			insertActive(iv)
		} else {
			alloc.Locs[iv.Value] = Loc{Kind: LocStack, Index: nextSlot}
			nextSlot++
		}
	}

	alloc.SpillSlots = nextSlot
	alloc.UsedRegs = usedRegs
	return alloc
}
