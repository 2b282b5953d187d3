// File: pool/allocator.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Size-class buffer allocator. Each class keeps a bounded free list of
// backing arrays; requests above the largest class bypass the pool.

package pool

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-nio/api"
)

const (
	minClassSize = 64
	maxClassSize = 64 << 10

	// defaultClassDepth bounds the number of idle arrays kept per class.
	defaultClassDepth = 1024
)

// sizeClass holds idle arrays of exactly size bytes.
type sizeClass struct {
	size int
	mu   sync.Mutex
	free *queue.Queue
}

// Allocator implements api.Allocator for one pool partition.
type Allocator struct {
	classes []*sizeClass
	depth   int

	totalAlloc atomic.Int64
	totalFree  atomic.Int64
	reused     atomic.Int64
}

var _ api.Allocator = (*Allocator)(nil)

// NewAllocator builds an allocator with classes 64B, 128B, ... 64KiB.
// depth <= 0 selects the default free-list bound.
func NewAllocator(depth int) *Allocator {
	if depth <= 0 {
		depth = defaultClassDepth
	}
	a := &Allocator{depth: depth}
	for sz := minClassSize; sz <= maxClassSize; sz <<= 1 {
		a.classes = append(a.classes, &sizeClass{size: sz, free: queue.New()})
	}
	return a
}

// classFor returns the smallest class that fits n, or nil.
func (a *Allocator) classFor(n int) *sizeClass {
	for _, c := range a.classes {
		if c.size >= n {
			return c
		}
	}
	return nil
}

// classOf returns the class whose size matches cap(p) exactly, or nil.
func (a *Allocator) classOf(p []byte) *sizeClass {
	c := cap(p)
	for _, sc := range a.classes {
		if sc.size == c {
			return sc
		}
		if sc.size > c {
			break
		}
	}
	return nil
}

// acquire returns an array of at least n bytes with len == n.
func (a *Allocator) acquire(n int) []byte {
	sc := a.classFor(n)
	if sc == nil {
		return make([]byte, n)
	}
	sc.mu.Lock()
	if sc.free.Length() > 0 {
		p := sc.free.Remove().([]byte)
		sc.mu.Unlock()
		a.reused.Add(1)
		return p[:n]
	}
	sc.mu.Unlock()
	return make([]byte, n, sc.size)
}

// recycle puts p back on its class free list when there is room.
func (a *Allocator) recycle(p []byte) {
	sc := a.classOf(p)
	if sc == nil {
		return
	}
	sc.mu.Lock()
	if sc.free.Length() < a.depth {
		sc.free.Add(p[:0])
	}
	sc.mu.Unlock()
}

// free is called once per buffer when its reference count reaches zero.
func (a *Allocator) free(p []byte) {
	a.totalFree.Add(1)
	if p != nil {
		a.recycle(p)
	}
}

// Buffer returns a pooled buffer with the default growth ceiling.
func (a *Allocator) Buffer(initial int) api.Buffer {
	return a.BufferMax(initial, DefaultMaxCapacity)
}

// BufferMax returns a pooled buffer that grows at most to maxCapacity.
func (a *Allocator) BufferMax(initial, maxCapacity int) api.Buffer {
	if initial < 0 {
		initial = 0
	}
	if maxCapacity > 0 && initial > maxCapacity {
		initial = maxCapacity
	}
	a.totalAlloc.Add(1)
	return newByteBuffer(a.acquire(initial), maxCapacity, a)
}

// Stats reports allocation counters for this partition.
func (a *Allocator) Stats() api.BufferPoolStats {
	alloc := a.totalAlloc.Load()
	freed := a.totalFree.Load()
	return api.BufferPoolStats{
		TotalAlloc: alloc,
		TotalFree:  freed,
		InUse:      alloc - freed,
		Reused:     a.reused.Load(),
	}
}

// Idle returns the number of arrays waiting on free lists.
func (a *Allocator) Idle() int {
	n := 0
	for _, c := range a.classes {
		c.mu.Lock()
		n += c.free.Length()
		c.mu.Unlock()
	}
	return n
}

// UnpooledAllocator hands out heap buffers that are never recycled.
type UnpooledAllocator struct{}

var _ api.Allocator = UnpooledAllocator{}

func (UnpooledAllocator) Buffer(initial int) api.Buffer { return Unpooled(initial, DefaultMaxCapacity) }

func (UnpooledAllocator) BufferMax(initial, maxCapacity int) api.Buffer {
	return Unpooled(initial, maxCapacity)
}

func (UnpooledAllocator) Stats() api.BufferPoolStats { return api.BufferPoolStats{} }
