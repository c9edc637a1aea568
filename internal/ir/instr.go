package ir

// ValueID is the stable handle of one SSA instruction inside its graph.
// Handles are never reused; dead instructions keep their slot.
type ValueID int32

// NoValue is the absent-value sentinel.
const NoValue ValueID = -1

// Kind discriminates instruction forms.
type Kind uint8

const (
	KindNop Kind = iota
	// KindParam reads the method parameter AuxInt.
	KindParam
	// KindConst materializes the integer constant AuxInt.
	KindConst
	// KindBinOp applies Op to Args[0], Args[1].
	KindBinOp
	// KindUnOp applies Op to Args[0].
	KindUnOp
	// KindSelect picks Args[1] or Args[2] on Args[0].
	KindSelect
	// KindPhi merges one argument per predecessor, in predecessor order.
	KindPhi
	// KindLoad reads the field Sym of object Args[0].
	KindLoad
	// KindStore writes Args[1] into field Sym of object Args[0].
	KindStore
	// KindInvoke calls method Sym with Args. Invokes are non-leaf and are
	// the only instructions carrying safepoints.
	KindInvoke
)

// Op is the operator of a BinOp or UnOp.
type Op uint8

const (
	OpNone Op = iota
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpNeg
	OpNot
	OpAbs
	OpMin
	OpMax
	OpCmpEQ
	OpCmpNE
	OpCmpLT
	OpCmpLE
	OpCmpGT
	OpCmpGE
)

var opNames = [...]string{
	OpNone: "none", OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div",
	OpRem: "rem", OpAnd: "and", OpOr: "or", OpXor: "xor", OpShl: "shl",
	OpShr: "shr", OpNeg: "neg", OpNot: "not", OpAbs: "abs", OpMin: "min",
	OpMax: "max", OpCmpEQ: "cmp_eq", OpCmpNE: "cmp_ne", OpCmpLT: "cmp_lt",
	OpCmpLE: "cmp_le", OpCmpGT: "cmp_gt", OpCmpGE: "cmp_ge",
}

// String returns the operator mnemonic.
func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return "op?"
}

var kindNames = [...]string{
	KindNop: "nop", KindParam: "param", KindConst: "const", KindBinOp: "binop",
	KindUnOp: "unop", KindSelect: "select", KindPhi: "phi", KindLoad: "load",
	KindStore: "store", KindInvoke: "invoke",
}

// String returns the kind mnemonic.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind?"
}

// Instr is one SSA instruction. Instructions are value-addressed through
// their graph; passes mutate them in place.
type Instr struct {
	Kind   Kind
	Op     Op
	Block  BlockID
	Args   []ValueID
	AuxInt int64
	// Sym is the callee for invokes and the field name for loads/stores.
	Sym  string
	Dead bool
	// Fused marks a load folded into its single use as a memory operand;
	// set by the x86 memory-operand pass, consumed by the code generator.
	Fused bool
}

// Pure reports whether the instruction has no observable side effects and
// may be removed, re-ordered or value-numbered freely.
func (in *Instr) Pure() bool {
	switch in.Kind {
	case KindStore, KindInvoke:
		return false
	default:
		return true
	}
}

// ReadsMemory reports whether the instruction observes the heap.
func (in *Instr) ReadsMemory() bool { return in.Kind == KindLoad }

// Effects is a per-block side-effect summary bitmask.
type Effects uint8

const (
	// EffectWrites marks blocks containing heap stores.
	EffectWrites Effects = 1 << iota
	// EffectCalls marks blocks containing invokes.
	EffectCalls
)
