package pool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nio/pool"
)

func TestBufferPoolReuse(t *testing.T) {
	mgr := pool.NewBufferPoolManager(0)
	bp := mgr.GetPool(0)
	b1 := bp.Buffer(128)
	require.True(t, b1.Release())
	b2 := bp.Buffer(100)
	assert.Equal(t, int64(1), bp.Stats().Reused)
	require.NoError(t, b2.WriteBytes(make([]byte, 100)))
	b2.Release()
}

func TestBufferPoolPartitions(t *testing.T) {
	mgr := pool.NewBufferPoolManager(0)
	a0 := mgr.GetPool(0)
	a1 := mgr.GetPool(1)
	assert.NotSame(t, a0, a1)
	assert.Same(t, a0, mgr.GetPool(0))
	assert.Equal(t, []int{0, 1}, mgr.Partitions())

	a0.Buffer(10).Release()
	a1.Buffer(10)
	s := mgr.Stats()
	assert.Equal(t, int64(2), s.TotalAlloc)
	assert.Equal(t, int64(1), s.TotalFree)
	assert.Equal(t, int64(1), s.InUse)
}

func TestAllocatorFreeListBound(t *testing.T) {
	a := pool.NewAllocator(2)
	bufs := []interface{ Release() bool }{a.Buffer(64), a.Buffer(64), a.Buffer(64)}
	for _, b := range bufs {
		b.Release()
	}
	assert.Equal(t, 2, a.Idle())
}

func TestAllocatorLargeBypass(t *testing.T) {
	a := pool.NewAllocator(0)
	b := a.Buffer(1 << 20)
	assert.Equal(t, 1<<20, b.Capacity())
	b.Release()
	assert.Equal(t, 0, a.Idle())
}

func BenchmarkBufferCopy(b *testing.B) {
	a := pool.NewBufferPoolManager(0).GetPool(0)
	msg := []byte("dummy message for echo")
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf := a.Buffer(len(msg))
		_ = buf.WriteBytes(msg)
		_ = buf.Bytes()
		buf.Release()
	}
}
