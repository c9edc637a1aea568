// Package codegen turns an allocated graph into machine code plus the side
// tables the runtime needs: stack maps, call-frame info, relocation patches
// and thunk code. Real instruction encoding is target work; the portable
// generator here emits a stable byte encoding that carries offsets, patches
// and safepoints exactly like a native backend would.
package codegen

import (
	"encoding/binary"

	"fortio.org/safecast"
)

// CodeBuffer is the growable buffer a generator emits into. The caller owns
// it; reserving it outside the generator lets the emission stage read the
// bytes after the generator is gone.
type CodeBuffer struct {
	data []byte
}

// Bytes returns the emitted code.
func (b *CodeBuffer) Bytes() []byte { return b.data }

// Size returns the current length as the unsigned width side tables use.
func (b *CodeBuffer) Size() uint32 {
	n, err := safecast.Conv[uint32](len(b.data))
	if err != nil {
		panic("code buffer exceeds 4 GiB")
	}
	return n
}

// Emit8 appends one byte.
func (b *CodeBuffer) Emit8(v byte) { b.data = append(b.data, v) }

// Emit32 appends one little-endian 32-bit word.
func (b *CodeBuffer) Emit32(v uint32) {
	b.data = binary.LittleEndian.AppendUint32(b.data, v)
}

// Emit64 appends one little-endian 64-bit word.
func (b *CodeBuffer) Emit64(v uint64) {
	b.data = binary.LittleEndian.AppendUint64(b.data, v)
}
