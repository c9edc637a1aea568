// Package arena provides compile-scoped bulk allocation. One Arena backs the
// IR graph of a single compile and is dropped as a whole when the compile
// ends; a Stack hands out nested scratch scopes (liveness, allocation) that
// are released LIFO before the outer arena goes away. Nothing here is shared
// across compiles.
package arena

import (
	"fmt"
	"sync"
)

const slabSize = 64 << 10

// Pool recycles slabs across compiles to avoid re-allocating the same 64 KiB
// chunks for every method. Safe for concurrent use.
type Pool struct {
	slabs sync.Pool
}

// NewPool returns an empty slab pool.
func NewPool() *Pool {
	p := &Pool{}
	p.slabs.New = func() any { return make([]byte, slabSize) }
	return p
}

func (p *Pool) get() []byte {
	if p == nil {
		return make([]byte, slabSize)
	}
	return p.slabs.Get().([]byte)
}

func (p *Pool) put(slab []byte) {
	if p != nil && len(slab) == slabSize {
		p.slabs.Put(slab) //nolint:staticcheck // slab is already a reference type
	}
}

// Arena is a bump allocator for one compile. Not safe for concurrent use;
// each compile owns its arena exclusively.
type Arena struct {
	pool  *Pool
	slabs [][]byte
	cur   []byte
	used  int
	total int
}

// New returns an arena drawing slabs from pool (pool may be nil).
func New(pool *Pool) *Arena {
	return &Arena{pool: pool}
}

// Alloc returns a zeroed byte slice of length n from the arena.
// Oversized requests get a dedicated slab.
func (a *Arena) Alloc(n int) []byte {
	if n < 0 {
		panic(fmt.Sprintf("arena: negative allocation %d", n))
	}
	a.total += n
	if n > slabSize {
		buf := make([]byte, n)
		a.slabs = append(a.slabs, buf)
		return buf
	}
	if len(a.cur)-a.used < n {
		a.cur = a.pool.get()
		for i := range a.cur {
			a.cur[i] = 0
		}
		a.slabs = append(a.slabs, a.cur)
		a.used = 0
	}
	buf := a.cur[a.used : a.used+n : a.used+n]
	a.used += n
	return buf
}

// BytesAllocated returns the total bytes requested from this arena.
func (a *Arena) BytesAllocated() int { return a.total }

// Release returns all slabs to the pool. The arena must not be used after.
func (a *Arena) Release() {
	for _, s := range a.slabs {
		a.pool.put(s)
	}
	a.slabs = nil
	a.cur = nil
	a.used = 0
}
