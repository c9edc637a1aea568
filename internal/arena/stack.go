package arena

import "fmt"

// Stack hands out nested scratch scopes for one compile. Scopes must be
// released in LIFO order; releasing out of order is a programming error and
// panics. Peak usage across the whole compile is tracked for the arena
// memory report.
type Stack struct {
	pool  *Pool
	depth int
	live  int
	peak  int
}

// NewStack returns an empty scope stack drawing from pool (pool may be nil).
func NewStack(pool *Pool) *Stack {
	return &Stack{pool: pool}
}

// Scope is a scratch arena tied to a Stack level. It must be released before
// any scope opened earlier.
type Scope struct {
	Arena
	stack *Stack
	level int
}

// Scope opens a nested scratch arena.
func (s *Stack) Scope() *Scope {
	s.depth++
	sc := &Scope{stack: s, level: s.depth}
	sc.pool = s.pool
	return sc
}

// Release returns the scope's memory and closes the stack level.
func (sc *Scope) Release() {
	s := sc.stack
	if s == nil {
		return
	}
	if sc.level != s.depth {
		panic(fmt.Sprintf("arena: scope released out of order (level %d, depth %d)", sc.level, s.depth))
	}
	s.live -= sc.total
	s.depth--
	sc.stack = nil
	sc.Arena.Release()
}

// Alloc allocates scratch bytes and updates the stack's peak accounting.
func (sc *Scope) Alloc(n int) []byte {
	buf := sc.Arena.Alloc(n)
	if s := sc.stack; s != nil {
		s.live += n
		if s.live > s.peak {
			s.peak = s.live
		}
	}
	return buf
}

// PeakBytesAllocated returns the high-water mark of live scratch bytes.
func (s *Stack) PeakBytesAllocated() int { return s.peak }
