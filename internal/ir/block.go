package ir

// BlockID is the stable handle of one basic block inside its graph.
type BlockID int32

// NoBlock is the absent-block sentinel.
const NoBlock BlockID = -1

// TermKind discriminates block terminators.
type TermKind uint8

const (
	TermNone TermKind = iota
	TermGoto
	TermIf
	TermReturn
)

// Terminator ends a basic block. Exactly one of the payloads is meaningful,
// selected by Kind.
type Terminator struct {
	Kind TermKind

	// Goto target.
	Target BlockID

	// If: branch on Cond.
	Cond ValueID
	Then BlockID
	Else BlockID

	// Return value; NoValue for void returns.
	Value ValueID
}

// Successors returns the terminator's outgoing edges in branch order.
func (t *Terminator) Successors() []BlockID {
	switch t.Kind {
	case TermGoto:
		return []BlockID{t.Target}
	case TermIf:
		return []BlockID{t.Then, t.Else}
	default:
		return nil
	}
}

// Block is one basic block: an ordered list of instruction handles plus a
// terminator.
type Block struct {
	ID     BlockID
	Instrs []ValueID
	Term   Terminator
	// LoopHeader marks blocks that are targets of back edges; set by the
	// builder, consumed by OSR stack-map emission.
	LoopHeader bool
}

// Terminated reports whether the block has a terminator.
func (b *Block) Terminated() bool {
	if b == nil {
		return true
	}
	return b.Term.Kind != TermNone
}
