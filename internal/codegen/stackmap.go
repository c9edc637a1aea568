package codegen

import (
	"encoding/binary"

	"fortio.org/safecast"

	"kiln/internal/isa"
)

// stackMapMagic heads every encoded stack map blob.
const stackMapMagic = 0x6b4d5053 // "SPMk"

// StackMapStream encodes the method frame layout and the managed-reference
// locations at every safepoint. The encoding is versioned by the magic; the
// collector and the deoptimizer read it back.
type StackMapStream struct {
	set        isa.Set
	frameSize  uint32
	coreSpills uint32
	fpSpills   uint32
	numRegs    uint32
	baseline   bool
	debuggable bool
	forOSR     bool
	codeSize   uint32
	entries    []safepointEntry
}

type safepointEntry struct {
	NativeOffset uint32
	LiveRefRegs  uint64
}

// NewStackMapStream starts a stream for one method.
func NewStackMapStream(set isa.Set) *StackMapStream {
	return &StackMapStream{set: set}
}

// BeginMethod records the frame facts. numRegs is the number of virtual
// registers the safepoint entries describe; zero for native stubs.
func (s *StackMapStream) BeginMethod(frameSize, coreSpills, fpSpills uint32, numRegs int, baseline, debuggable bool) {
	s.frameSize = frameSize
	s.coreSpills = coreSpills
	s.fpSpills = fpSpills
	n, err := safecast.Conv[uint32](numRegs)
	if err != nil {
		panic("register count overflow in stack map")
	}
	s.numRegs = n
	s.baseline = baseline
	s.debuggable = debuggable
}

// SetForOSR marks the map as covering on-stack-replacement entry points.
func (s *StackMapStream) SetForOSR(forOSR bool) { s.forOSR = forOSR }

// AddSafepoint records the live managed-reference registers at a code offset.
func (s *StackMapStream) AddSafepoint(nativeOffset uint32, liveRefRegs uint64) {
	s.entries = append(s.entries, safepointEntry{NativeOffset: nativeOffset, LiveRefRegs: liveRefRegs})
}

// EndMethod finalizes the stream with the total code size.
func (s *StackMapStream) EndMethod(codeSize uint32) { s.codeSize = codeSize }

// Encode serializes the stream.
func (s *StackMapStream) Encode() []byte {
	var flags uint32
	if s.baseline {
		flags |= 1
	}
	if s.debuggable {
		flags |= 2
	}
	if s.forOSR {
		flags |= 4
	}
	out := make([]byte, 0, 32+12*len(s.entries))
	le := binary.LittleEndian
	out = le.AppendUint32(out, stackMapMagic)
	out = append(out, byte(s.set))
	out = append(out, 0, 0, 0) // pad
	out = le.AppendUint32(out, flags)
	out = le.AppendUint32(out, s.frameSize)
	out = le.AppendUint32(out, s.coreSpills)
	out = le.AppendUint32(out, s.fpSpills)
	out = le.AppendUint32(out, s.numRegs)
	out = le.AppendUint32(out, s.codeSize)
	count, err := safecast.Conv[uint32](len(s.entries))
	if err != nil {
		panic("safepoint count overflow")
	}
	out = le.AppendUint32(out, count)
	for _, e := range s.entries {
		out = le.AppendUint32(out, e.NativeOffset)
		out = le.AppendUint64(out, e.LiveRefRegs)
	}
	return out
}

// EncodeNativeStub builds the minimal stack map for a native method stub:
// frame facts only, zero managed registers, no safepoints.
func EncodeNativeStub(set isa.Set, frameSize, codeSize uint32, debuggable bool) []byte {
	s := NewStackMapStream(set)
	s.BeginMethod(frameSize, 0, 0, 0, false, debuggable)
	s.EndMethod(codeSize)
	return s.Encode()
}
