package bytecode

import (
	"kiln/internal/ir"
	"kiln/internal/passes"
)

// ImageResolver summarizes trivially inlinable bodies from an image so the
// inliner can substitute calls between methods of the same build.
type ImageResolver struct {
	bodies map[string]passes.InlineBody
}

// NewImageResolver scans the image once; unsuitable bodies are skipped.
func NewImageResolver(im *Image) *ImageResolver {
	r := &ImageResolver{bodies: make(map[string]passes.InlineBody)}
	if im == nil {
		return r
	}
	for i := range im.Methods {
		m := &im.Methods[i]
		if !m.Resolved || len(m.Code) == 0 {
			continue
		}
		if body, ok := Summarize(m.Code); ok {
			r.bodies[m.Name] = body
		}
	}
	return r
}

// InlineBody implements passes.Resolver.
func (r *ImageResolver) InlineBody(callee string) (passes.InlineBody, bool) {
	b, ok := r.bodies[callee]
	return b, ok
}

// Summarize recognizes the three trivial body shapes the inliner can
// substitute: return constant, return parameter, return op(p0, p1).
func Summarize(code []byte) (passes.InlineBody, bool) {
	insts, err := decode(code)
	if err != nil {
		return passes.InlineBody{}, false
	}
	// One straight-line block ending in a value return.
	for i := range insts {
		switch insts[i].op {
		case opJump, opBr:
			return passes.InlineBody{}, false
		case opRet:
			if i != len(insts)-1 {
				return passes.InlineBody{}, false
			}
		}
	}
	last := insts[len(insts)-1]
	if last.op != opRet || last.a == noReg {
		return passes.InlineBody{}, false
	}

	switch len(insts) {
	case 2:
		in := insts[0]
		if in.a != last.a {
			return passes.InlineBody{}, false
		}
		switch in.op {
		case opConst:
			return passes.InlineBody{Kind: passes.InlineConst, Const: in.imm}, true
		case opParam:
			return passes.InlineBody{Kind: passes.InlineParam, ParamIndex: int(in.b)}, true
		}
	case 4:
		p0, p1, bin := insts[0], insts[1], insts[2]
		if p0.op != opParam || p1.op != opParam || bin.op != opBin {
			return passes.InlineBody{}, false
		}
		if p0.b != 0 || p1.b != 1 || bin.a != last.a {
			return passes.InlineBody{}, false
		}
		if !(bin.args[0] == p0.a && bin.args[1] == p1.a) {
			return passes.InlineBody{}, false
		}
		return passes.InlineBody{Kind: passes.InlineBinOp, Op: ir.Op(bin.c)}, true
	}
	return passes.InlineBody{}, false
}
