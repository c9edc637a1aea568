package passes

// Def is one slot in a pass sequence: which pass, how its occurrence is
// displayed, and which earlier pass it depends on. A pass whose DependsOn
// entry did not change the graph is skipped. DependsOn always resolves to
// the most recent prior occurrence of that identity, executed or skipped.
type Def struct {
	Pass      ID
	Name      string
	DependsOn ID
}

// Of defines an unconditionally eligible occurrence with the default name.
func Of(id ID) Def { return Def{Pass: id, Name: id.String(), DependsOn: IDNone} }

// OfNamed defines an unconditionally eligible occurrence with a display name.
func OfNamed(id ID, name string) Def { return Def{Pass: id, Name: name, DependsOn: IDNone} }

// OfDep defines an occurrence gated on a prior pass having changed the graph.
func OfDep(id ID, name string, dep ID) Def { return Def{Pass: id, Name: name, DependsOn: dep} }
