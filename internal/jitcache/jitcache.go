// Package jitcache is the executable code cache for just-in-time compiles.
// Space is claimed up front with Reserve and then either committed or
// freed, exactly once; the Reservation guard enforces the protocol.
package jitcache

import (
	"fmt"
	"sync"

	"kiln/internal/stats"
)

// Entry is one committed method in the cache.
type Entry struct {
	Method     string
	Kind       string
	Code       []byte
	StackMap   []byte
	DebugInfo  []byte
	Roots      []string
	EntryPoint uintptr
	OSR        bool
}

// Cache owns a fixed budget of code and data bytes. Safe for concurrent
// reserve, commit, free and lookup.
type Cache struct {
	mu       sync.Mutex
	capacity int
	used     int
	nextAddr uintptr
	entries  map[string]*Entry
	osr      map[string]*Entry
	counters *stats.Counters
}

// New creates a cache with the given byte budget.
func New(capacity int, counters *stats.Counters) *Cache {
	return &Cache{
		capacity: capacity,
		nextAddr: 0x10000,
		entries:  make(map[string]*Entry),
		osr:      make(map[string]*Entry),
		counters: counters,
	}
}

// AdoptCounters attaches a statistics set to a cache constructed without
// one, so cache-full and rejected-commit outcomes are not lost. A set
// provided at construction wins.
func (c *Cache) AdoptCounters(counters *stats.Counters) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counters == nil {
		c.counters = counters
	}
}

// Reservation is the claim on cache space returned by Reserve. It must be
// terminated by exactly one Commit or Free call; terminating it twice is a
// protocol violation and panics, and dropping it without terminating leaks
// the reserved bytes.
type Reservation struct {
	cache    *Cache
	method   string
	size     int
	nRoots   int
	addr     uintptr
	consumed bool
}

// Addr is the code address the reservation was granted. Known from Reserve
// on, so debug side tables can be synthesized before Commit publishes.
func (r *Reservation) Addr() uintptr { return r.addr }

// Reserve claims codeSize+dataSize bytes for method. Returns nil, false
// when the cache cannot fit the request.
func (c *Cache) Reserve(method string, codeSize, dataSize, nRoots int) (*Reservation, bool) {
	if codeSize < 0 || dataSize < 0 || nRoots < 0 {
		panic("jitcache: negative reservation")
	}
	total := codeSize + dataSize
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.used+total > c.capacity {
		c.counters.Record(stats.JitOutOfMemoryForCommit)
		return nil, false
	}
	c.used += total
	addr := c.nextAddr
	c.nextAddr += uintptr(total)
	return &Reservation{cache: c, method: method, size: total, nRoots: nRoots, addr: addr}, true
}

func (r *Reservation) terminate() {
	if r.consumed {
		panic(fmt.Sprintf("jitcache: reservation for %s terminated twice", r.method))
	}
	r.consumed = true
}

// Commit publishes the method under its reservation. Returns false and
// releases the space when the filled sizes exceed what was reserved or the
// root count does not match the reservation.
func (r *Reservation) Commit(e Entry, forOSR bool) bool {
	r.terminate()
	c := r.cache
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(e.Code)+len(e.StackMap) > r.size || len(e.Roots) != r.nRoots {
		c.used -= r.size
		c.counters.Record(stats.JitCommitRejected)
		return false
	}
	e.Method = r.method
	e.EntryPoint = r.addr
	e.OSR = forOSR
	if forOSR {
		c.osr[r.method] = &e
	} else {
		c.entries[r.method] = &e
	}
	return true
}

// Free releases the reservation without publishing anything.
func (r *Reservation) Free() {
	r.terminate()
	c := r.cache
	c.mu.Lock()
	c.used -= r.size
	c.mu.Unlock()
}

// Lookup returns the committed entry for a method, if present.
func (c *Cache) Lookup(method string, osr bool) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var e *Entry
	var ok bool
	if osr {
		e, ok = c.osr[method]
	} else {
		e, ok = c.entries[method]
	}
	return e, ok
}

// ContainsMethod reports whether the method has a committed entry of
// either kind.
func (c *Cache) ContainsMethod(method string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, a := c.entries[method]
	_, b := c.osr[method]
	return a || b
}

// Remove drops a method's entries and reclaims nothing: committed space
// stays accounted until the cache is collected wholesale. Mirrors how the
// runtime invalidates entry points without compacting.
func (c *Cache) Remove(method string) {
	c.mu.Lock()
	delete(c.entries, method)
	delete(c.osr, method)
	c.mu.Unlock()
}

// Used reports currently accounted bytes.
func (c *Cache) Used() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// Capacity reports the configured budget.
func (c *Cache) Capacity() int { return c.capacity }
