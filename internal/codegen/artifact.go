package codegen

import "kiln/internal/isa"

// Artifact is the finished output of compiling one method: machine code,
// its stack map, unwind info, and the linker patches the loader must apply
// before the code can run.
type Artifact struct {
	ISA       isa.Set
	Kind      string
	Code      []byte
	StackMap  []byte
	CFI       []byte
	Patches   []Patch
	FrameSize uint32
	Intrinsic bool
}

// HasPatches reports whether the loader has relocation work to do.
func (a *Artifact) HasPatches() bool { return len(a.Patches) > 0 }
