// Package bytecode decodes the portable register bytecode a method body
// ships in and builds the SSA graph the optimizing pipeline consumes. It
// is the only package that understands the encoding; the back-end proper
// treats method bodies as opaque bytes.
package bytecode

import (
	"encoding/binary"
	"fmt"

	"kiln/internal/ir"
)

// Opcodes of the portable encoding. Operands are little-endian.
const (
	opNop    = 0x00
	opConst  = 0x01 // dst u8, imm i64
	opParam  = 0x02 // dst u8, index u8
	opBin    = 0x03 // op u8, dst u8, a u8, b u8
	opUn     = 0x04 // op u8, dst u8, a u8
	opLoad   = 0x05 // dst u8, obj u8, len u8, field
	opStore  = 0x06 // obj u8, val u8, len u8, field
	opInvoke = 0x07 // dst u8 (0xFF void), len u8, callee, nargs u8, args
	opJump   = 0x10 // target u32 (byte offset)
	opBr     = 0x11 // cond u8, then u32, else u32
	opRet    = 0x12 // val u8 (0xFF void)
)

// noReg marks an absent register operand.
const noReg = 0xFF

// inst is one decoded instruction.
type inst struct {
	off  int
	op   byte
	a    uint8
	b    uint8
	c    uint8
	imm  int64
	sym  string
	args []uint8
	// branch/jump targets, byte offsets
	target int
	then   int
	els    int
}

// terminator reports whether control never falls through the instruction.
func (in *inst) terminator() bool {
	return in.op == opJump || in.op == opBr || in.op == opRet
}

func errTruncated(off int) error {
	return fmt.Errorf("bytecode: truncated instruction at offset %d", off)
}

// decode splits a body into instructions. Offsets are preserved so jump
// targets can be validated against instruction starts.
func decode(code []byte) ([]inst, error) {
	var out []inst
	le := binary.LittleEndian
	i := 0
	need := func(n int) error {
		if i+n > len(code) {
			return errTruncated(i)
		}
		return nil
	}
	readStr := func() (string, error) {
		if err := need(1); err != nil {
			return "", err
		}
		n := int(code[i])
		i++
		if err := need(n); err != nil {
			return "", err
		}
		s := string(code[i : i+n])
		i += n
		return s, nil
	}
	for i < len(code) {
		in := inst{off: i, op: code[i]}
		i++
		switch in.op {
		case opNop:
		case opConst:
			if err := need(9); err != nil {
				return nil, err
			}
			in.a = code[i]
			in.imm = int64(le.Uint64(code[i+1 : i+9]))
			i += 9
		case opParam:
			if err := need(2); err != nil {
				return nil, err
			}
			in.a, in.b = code[i], code[i+1]
			i += 2
		case opBin:
			if err := need(4); err != nil {
				return nil, err
			}
			in.c, in.a = code[i], code[i+1]
			in.args = []uint8{code[i+2], code[i+3]}
			i += 4
		case opUn:
			if err := need(3); err != nil {
				return nil, err
			}
			in.c, in.a = code[i], code[i+1]
			in.args = []uint8{code[i+2]}
			i += 3
		case opLoad:
			if err := need(2); err != nil {
				return nil, err
			}
			in.a = code[i]
			in.args = []uint8{code[i+1]}
			i += 2
			s, err := readStr()
			if err != nil {
				return nil, err
			}
			in.sym = s
		case opStore:
			if err := need(2); err != nil {
				return nil, err
			}
			in.args = []uint8{code[i], code[i+1]}
			i += 2
			s, err := readStr()
			if err != nil {
				return nil, err
			}
			in.sym = s
		case opInvoke:
			if err := need(1); err != nil {
				return nil, err
			}
			in.a = code[i]
			i++
			s, err := readStr()
			if err != nil {
				return nil, err
			}
			in.sym = s
			if err := need(1); err != nil {
				return nil, err
			}
			n := int(code[i])
			i++
			if err := need(n); err != nil {
				return nil, err
			}
			in.args = append([]uint8(nil), code[i:i+n]...)
			i += n
		case opJump:
			if err := need(4); err != nil {
				return nil, err
			}
			in.target = int(le.Uint32(code[i : i+4]))
			i += 4
		case opBr:
			if err := need(9); err != nil {
				return nil, err
			}
			in.a = code[i]
			in.then = int(le.Uint32(code[i+1 : i+5]))
			in.els = int(le.Uint32(code[i+5 : i+9]))
			i += 9
		case opRet:
			if err := need(1); err != nil {
				return nil, err
			}
			in.a = code[i]
			i++
		default:
			return nil, fmt.Errorf("bytecode: unknown opcode 0x%02x at offset %d", in.op, in.off)
		}
		out = append(out, in)
	}
	return out, nil
}

// Asm builds method bodies in the portable encoding. Used by image tools
// and tests; the back-end only decodes.
type Asm struct {
	buf []byte
}

// Off returns the current byte offset, for branch targets.
func (a *Asm) Off() int { return len(a.buf) }

// Bytes returns the assembled body.
func (a *Asm) Bytes() []byte { return a.buf }

func (a *Asm) str(s string) {
	if len(s) > 255 {
		panic("bytecode: symbol too long")
	}
	a.buf = append(a.buf, byte(len(s)))
	a.buf = append(a.buf, s...)
}

func (a *Asm) Nop() { a.buf = append(a.buf, opNop) }

func (a *Asm) Const(dst uint8, v int64) {
	a.buf = append(a.buf, opConst, dst)
	a.buf = binary.LittleEndian.AppendUint64(a.buf, uint64(v))
}

func (a *Asm) Param(dst, index uint8) { a.buf = append(a.buf, opParam, dst, index) }

func (a *Asm) Bin(op ir.Op, dst, x, y uint8) { a.buf = append(a.buf, opBin, byte(op), dst, x, y) }

func (a *Asm) Un(op ir.Op, dst, x uint8) { a.buf = append(a.buf, opUn, byte(op), dst, x) }

func (a *Asm) Load(dst, obj uint8, field string) {
	a.buf = append(a.buf, opLoad, dst, obj)
	a.str(field)
}

func (a *Asm) Store(obj, val uint8, field string) {
	a.buf = append(a.buf, opStore, obj, val)
	a.str(field)
}

func (a *Asm) Invoke(dst uint8, callee string, args ...uint8) {
	a.buf = append(a.buf, opInvoke, dst)
	a.str(callee)
	a.buf = append(a.buf, byte(len(args)))
	a.buf = append(a.buf, args...)
}

// Jump emits an unconditional jump and returns the offset of its target
// field for later patching.
func (a *Asm) Jump(target int) int {
	a.buf = append(a.buf, opJump)
	at := len(a.buf)
	a.buf = binary.LittleEndian.AppendUint32(a.buf, uint32(target))
	return at
}

// Br emits a conditional branch; returns the offsets of the then and else
// target fields.
func (a *Asm) Br(cond uint8, then, els int) (int, int) {
	a.buf = append(a.buf, opBr, cond)
	t := len(a.buf)
	a.buf = binary.LittleEndian.AppendUint32(a.buf, uint32(then))
	e := len(a.buf)
	a.buf = binary.LittleEndian.AppendUint32(a.buf, uint32(els))
	return t, e
}

func (a *Asm) Ret(val uint8) { a.buf = append(a.buf, opRet, val) }

func (a *Asm) RetVoid() { a.buf = append(a.buf, opRet, noReg) }

// Patch rewrites a previously returned target field.
func (a *Asm) Patch(at, target int) {
	binary.LittleEndian.PutUint32(a.buf[at:at+4], uint32(target))
}
