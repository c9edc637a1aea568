package codegen

import "sort"

// PatchKind classifies a relocation.
type PatchKind uint8

const (
	// PatchMethodCall is a pc-relative call to another compiled method.
	PatchMethodCall PatchKind = iota
	// PatchEntrypointCall calls a runtime entry point through a thunk.
	PatchEntrypointCall
	// PatchMethodBase references the pc-relative base materialized in the
	// prologue of position-independent x86 code.
	PatchMethodBase
)

// Patch is one relocation: at LiteralOffset inside the code, the linker (or
// the JIT commit path) writes the resolved address of Target.
type Patch struct {
	Kind          PatchKind
	LiteralOffset uint32
	Target        string
}

// NeedsThunk reports whether this relocation routes through trampoline code.
func (p Patch) NeedsThunk() bool { return p.Kind == PatchEntrypointCall }

// ThunkKey is the content key deduplicating thunk code across the whole
// compilation run: patches with equal keys share one thunk blob.
func (p Patch) ThunkKey() string {
	return "entrypoint:" + p.Target
}

// SortPatches orders patches ascending by literal offset, the order the
// packaged patch table must have for downstream consumption.
func SortPatches(patches []Patch) {
	sort.Slice(patches, func(i, j int) bool {
		return patches[i].LiteralOffset < patches[j].LiteralOffset
	})
}
