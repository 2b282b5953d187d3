// File: pool/bufferpool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Partitioned allocator manager. Each event loop owns one partition so that
// buffers allocated on a loop are recycled on the same loop's free lists.

package pool

import (
	"sort"
	"sync"

	"github.com/momentics/hioload-nio/api"
)

// BufferPoolManager provides one Allocator per partition key.
type BufferPoolManager struct {
	mu    sync.RWMutex
	depth int
	pools map[int]*Allocator
}

// NewBufferPoolManager creates an empty manager. depth bounds each size
// class free list; <= 0 selects the default.
func NewBufferPoolManager(depth int) *BufferPoolManager {
	return &BufferPoolManager{
		depth: depth,
		pools: make(map[int]*Allocator),
	}
}

// GetPool obtains or creates the allocator for partition.
func (m *BufferPoolManager) GetPool(partition int) *Allocator {
	m.mu.RLock()
	p, ok := m.pools[partition]
	m.mu.RUnlock()
	if ok {
		return p
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[partition]; ok {
		return p
	}
	p = NewAllocator(m.depth)
	m.pools[partition] = p
	return p
}

// Stats sums counters across all partitions.
func (m *BufferPoolManager) Stats() api.BufferPoolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out api.BufferPoolStats
	for _, p := range m.pools {
		s := p.Stats()
		out.TotalAlloc += s.TotalAlloc
		out.TotalFree += s.TotalFree
		out.InUse += s.InUse
		out.Reused += s.Reused
	}
	return out
}

// Partitions returns the partition keys in ascending order.
func (m *BufferPoolManager) Partitions() []int {
	m.mu.RLock()
	keys := make([]int, 0, len(m.pools))
	for k := range m.pools {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Ints(keys)
	return keys
}
