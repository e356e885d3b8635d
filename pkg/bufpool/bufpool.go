// Package bufpool provides size-classed byte slice pools.
//
// Two users share the package-level pool: staging buffers of open files
// (one transfer-sized slice per file) and the RPC transport, which reads
// each reply record into a pooled slice before decoding it.
//
// Buffers larger than the biggest class are allocated directly and never
// pooled, so an occasional oversized record does not pin memory.
//
// Usage:
//
//	buf := bufpool.Get(size)
//	defer bufpool.Put(buf)
package bufpool

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Default size classes.
const (
	// ClassRecord holds most RPC replies that carry no file data (4KiB).
	ClassRecord = 4 << 10

	// ClassTransfer matches the default per-call transfer limit (16KiB).
	ClassTransfer = 16 << 10

	// ClassMedium covers enlarged transfer limits (64KiB).
	ClassMedium = 64 << 10

	// ClassLarge covers full-size READ replies (1MiB).
	ClassLarge = 1 << 20
)

// DefaultClasses returns the size classes used by the package-level pool.
func DefaultClasses() []int {
	return []int{ClassRecord, ClassTransfer, ClassMedium, ClassLarge}
}

type class struct {
	size int
	pool sync.Pool
}

// Pool hands out byte slices rounded up to the nearest size class.
type Pool struct {
	classes []*class

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Stats reports how many Get calls were served from a class and how many
// fell through to a direct allocation.
type Stats struct {
	Pooled   uint64
	Unpooled uint64
}

// NewPool creates a pool with the given size classes. Non-positive and
// duplicate sizes are ignored; an empty list means DefaultClasses.
func NewPool(sizes ...int) *Pool {
	if len(sizes) == 0 {
		sizes = DefaultClasses()
	}
	sorted := append([]int(nil), sizes...)
	sort.Ints(sorted)

	p := &Pool{}
	for _, size := range sorted {
		if size <= 0 || (len(p.classes) > 0 && p.classes[len(p.classes)-1].size == size) {
			continue
		}
		c := &class{size: size}
		c.pool.New = func() any {
			b := make([]byte, c.size)
			return &b
		}
		p.classes = append(p.classes, c)
	}
	return p
}

// Get returns a slice of length size. Its capacity is the size class it
// came from, unless size exceeds every class.
func (p *Pool) Get(size int) []byte {
	if size < 0 {
		size = 0
	}
	for _, c := range p.classes {
		if size <= c.size {
			p.hits.Add(1)
			b := *c.pool.Get().(*[]byte)
			return b[:size]
		}
	}
	p.misses.Add(1)
	return make([]byte, size)
}

// Put returns a slice obtained from Get. Slices whose capacity does not match
// a class exactly are left to the garbage collector.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	capacity := cap(buf)
	for _, c := range p.classes {
		if c.size == capacity {
			full := buf[:capacity]
			c.pool.Put(&full)
			return
		}
		if c.size > capacity {
			return
		}
	}
}

// Classes returns the configured size classes in ascending order.
func (p *Pool) Classes() []int {
	out := make([]int, len(p.classes))
	for i, c := range p.classes {
		out[i] = c.size
	}
	return out
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{Pooled: p.hits.Load(), Unpooled: p.misses.Load()}
}

// =============================================================================
// Package-level pool
// =============================================================================

var defaultPool = NewPool()

// Default returns the package-level pool.
func Default() *Pool {
	return defaultPool
}

// Get returns a byte slice of length size from the package-level pool.
func Get(size int) []byte {
	return defaultPool.Get(size)
}

// Put returns a buffer to the package-level pool.
func Put(buf []byte) {
	defaultPool.Put(buf)
}
