// Package viz emits CFG snapshots for offline inspection. The sink is an
// append-only text stream shared by all compiles of one back-end instance;
// writes are serialized so concurrent compiles interleave at block
// granularity only.
package viz

import (
	"fmt"
	"io"
	"os"
	"sync"

	"kiln/internal/ir"
)

// Sink serializes CFG dumps onto one writer. A nil *Sink discards output.
type Sink struct {
	mu sync.Mutex
	w  io.Writer
	c  io.Closer
}

// NewSink wraps a writer. The writer is shared; the sink owns its locking.
func NewSink(w io.Writer) *Sink {
	if w == nil {
		return nil
	}
	s := &Sink{w: w}
	if c, ok := w.(io.Closer); ok {
		s.c = c
	}
	return s
}

// Open creates or appends to a dump file.
func Open(path string, appendMode bool) (*Sink, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open cfg dump %q: %w", path, err)
	}
	return NewSink(f), nil
}

// WriteHeader emits the stream banner naming the target. Written once,
// before any method blocks, so tools can key the whole file on it.
func (s *Sink) WriteHeader(isaName, features string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "begin_compilation\n  name \"isa:%s isa_features:%s\"\nend_compilation\n", isaName, features)
}

// BeginMethod starts a method section.
func (s *Sink) BeginMethod(name string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "begin_method \"%s\"\n", name)
}

// DumpGraph writes one snapshot tagged with the pass name and whether it
// was taken before or after the pass ran.
func (s *Sink) DumpGraph(g *ir.Graph, passName string, after bool) {
	if s == nil {
		return
	}
	marker := "before"
	if after {
		marker = "after"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "begin_cfg\n  name \"%s (%s)\"\n", passName, marker)
	ir.Dump(s.w, g)
	fmt.Fprintf(s.w, "end_cfg\n")
}

// EndMethod closes a method section.
func (s *Sink) EndMethod() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "end_method\n")
}

// Close releases the underlying file, if the sink owns one.
func (s *Sink) Close() error {
	if s == nil || s.c == nil {
		return nil
	}
	return s.c.Close()
}
