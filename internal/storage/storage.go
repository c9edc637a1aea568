// Package storage keeps compiled artifacts for ahead-of-time builds:
// per-method records with deduplicated code and stack map buffers, a
// shared thunk cache, and an optional msgpack-backed disk layer.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"kiln/internal/codegen"
	"kiln/internal/isa"
)

// Schema version for the on-disk record format; bump on layout changes.
const artifactSchemaVersion uint16 = 1

// Digest identifies a deduplicated buffer by content.
type Digest [sha256.Size]byte

func digestOf(b []byte) Digest { return sha256.Sum256(b) }

// Record is one stored method: buffer handles instead of the buffers
// themselves, so identical code or maps across methods share storage.
type Record struct {
	Method    string
	ISA       isa.Set
	Kind      string
	Code      Digest
	StackMap  Digest
	CFI       Digest
	Patches   []codegen.Patch
	FrameSize uint32
	Intrinsic bool
}

type thunkEntry struct {
	code []byte
	name string
}

// Storage is safe for concurrent use by parallel compiles.
type Storage struct {
	mu      sync.RWMutex
	dir     string
	methods map[string]*Record
	buffers map[Digest][]byte
	thunks  map[string]thunkEntry

	dedupHits int
}

// Open creates a storage. dir may be empty for memory-only operation;
// otherwise records are also persisted under it.
func Open(dir string) (*Storage, error) {
	if dir != "" {
		if err := os.MkdirAll(filepath.Join(dir, "methods"), 0o755); err != nil {
			return nil, err
		}
	}
	return &Storage{
		dir:     dir,
		methods: make(map[string]*Record),
		buffers: make(map[Digest][]byte),
		thunks:  make(map[string]thunkEntry),
	}, nil
}

// StoreCompiledMethod records an artifact under the method name. Buffers
// equal to already-stored ones are shared, not copied.
func (s *Storage) StoreCompiledMethod(name string, art *codegen.Artifact) error {
	if s == nil {
		return nil
	}
	if art == nil {
		return fmt.Errorf("storage: nil artifact for %s", name)
	}
	s.mu.Lock()
	rec := &Record{
		Method:    name,
		ISA:       art.ISA,
		Kind:      art.Kind,
		Code:      s.intern(art.Code),
		StackMap:  s.intern(art.StackMap),
		CFI:       s.intern(art.CFI),
		Patches:   append([]codegen.Patch(nil), art.Patches...),
		FrameSize: art.FrameSize,
		Intrinsic: art.Intrinsic,
	}
	s.methods[name] = rec
	s.mu.Unlock()

	if s.dir == "" {
		return nil
	}
	return s.writeRecord(rec, art)
}

// intern stores a buffer by digest; caller holds the lock.
func (s *Storage) intern(b []byte) Digest {
	d := digestOf(b)
	if _, ok := s.buffers[d]; ok {
		s.dedupHits++
		return d
	}
	s.buffers[d] = append([]byte(nil), b...)
	return d
}

// GetCompiledMethod looks a record up with its buffers resolved.
func (s *Storage) GetCompiledMethod(name string) (*codegen.Artifact, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.methods[name]
	if !ok {
		return nil, false
	}
	return &codegen.Artifact{
		ISA:       rec.ISA,
		Kind:      rec.Kind,
		Code:      s.buffers[rec.Code],
		StackMap:  s.buffers[rec.StackMap],
		CFI:       s.buffers[rec.CFI],
		Patches:   append([]codegen.Patch(nil), rec.Patches...),
		FrameSize: rec.FrameSize,
		Intrinsic: rec.Intrinsic,
	}, true
}

// GetThunkCode returns the shared stub compiled for a patch key, if any.
func (s *Storage) GetThunkCode(key string) ([]byte, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.thunks[key]
	return e.code, ok
}

// SetThunkCode stores a stub for the key. The first writer wins; later
// writers for the same key are dropped, all writers compiled identical
// code for it.
func (s *Storage) SetThunkCode(key string, code []byte, debugName string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.thunks[key]; ok {
		return
	}
	s.thunks[key] = thunkEntry{code: append([]byte(nil), code...), name: debugName}
}

// ThunkKeys lists stored thunk keys, for tests and image writers.
func (s *Storage) ThunkKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.thunks))
	for k := range s.thunks {
		keys = append(keys, k)
	}
	return keys
}

// Counts reports stored methods, unique buffers and dedup hits.
func (s *Storage) Counts() (methods, buffers, dedupHits int) {
	if s == nil {
		return 0, 0, 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.methods), len(s.buffers), s.dedupHits
}

// diskRecord is the persisted form of one method.
type diskRecord struct {
	Schema    uint16
	Method    string
	ISA       uint8
	Kind      string
	Code      []byte
	StackMap  []byte
	CFI       []byte
	Patches   []diskPatch
	FrameSize uint32
	Intrinsic bool
}

type diskPatch struct {
	Kind          uint8
	LiteralOffset uint32
	Target        string
}

func (s *Storage) pathFor(name string) string {
	sum := digestOf([]byte(name))
	return filepath.Join(s.dir, "methods", hex.EncodeToString(sum[:])+".mp")
}

func (s *Storage) writeRecord(rec *Record, art *codegen.Artifact) error {
	p := s.pathFor(rec.Method)
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	dr := &diskRecord{
		Schema:    artifactSchemaVersion,
		Method:    rec.Method,
		ISA:       uint8(rec.ISA),
		Kind:      rec.Kind,
		Code:      art.Code,
		StackMap:  art.StackMap,
		CFI:       art.CFI,
		FrameSize: rec.FrameSize,
		Intrinsic: rec.Intrinsic,
	}
	for _, pt := range rec.Patches {
		dr.Patches = append(dr.Patches, diskPatch{
			Kind:          uint8(pt.Kind),
			LiteralOffset: pt.LiteralOffset,
			Target:        pt.Target,
		})
	}
	if err := msgpack.NewEncoder(f).Encode(dr); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	// Atomic replace.
	return os.Rename(f.Name(), p)
}

// LoadRecord reads a persisted method back, for image assembly tools.
func (s *Storage) LoadRecord(name string) (*codegen.Artifact, bool, error) {
	if s == nil || s.dir == "" {
		return nil, false, nil
	}
	f, err := os.Open(s.pathFor(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	var dr diskRecord
	if err := msgpack.NewDecoder(f).Decode(&dr); err != nil {
		return nil, false, err
	}
	if dr.Schema != artifactSchemaVersion {
		return nil, false, nil
	}
	art := &codegen.Artifact{
		ISA:       isa.Set(dr.ISA),
		Kind:      dr.Kind,
		Code:      dr.Code,
		StackMap:  dr.StackMap,
		CFI:       dr.CFI,
		FrameSize: dr.FrameSize,
		Intrinsic: dr.Intrinsic,
	}
	for _, pt := range dr.Patches {
		art.Patches = append(art.Patches, codegen.Patch{
			Kind:          codegen.PatchKind(pt.Kind),
			LiteralOffset: pt.LiteralOffset,
			Target:        pt.Target,
		})
	}
	return art, true, nil
}
