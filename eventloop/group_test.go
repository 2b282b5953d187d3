//go:build linux

package eventloop_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nio/eventloop"
	"github.com/momentics/hioload-nio/pool"
)

func newGroup(t *testing.T, n int, opts ...eventloop.Option) *eventloop.Group {
	t.Helper()
	g, err := eventloop.NewGroup(n, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, g.Shutdown(ctx, 0, time.Second))
	})
	return g
}

func TestGroupRoundRobin(t *testing.T) {
	g := newGroup(t, 3)
	require.Equal(t, 3, g.Len())
	var got []int
	for i := 0; i < 6; i++ {
		got = append(got, g.Next().Index())
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, got)
}

func TestGroupLeastLoaded(t *testing.T) {
	g := newGroup(t, 2, eventloop.WithChooser(eventloop.LeastLoaded))
	first := g.Next()
	assert.Equal(t, 0, first.Index())
	untrack, err := first.Track(io.NopCloser(nil))
	require.NoError(t, err)
	assert.Equal(t, 1, g.Next().Index())
	untrack()
	untrack()
	assert.Equal(t, 0, first.ChannelCount())
	assert.Equal(t, 0, g.Next().Index())
}

func TestGroupLoopsShareBufferManager(t *testing.T) {
	mgr := pool.NewBufferPoolManager(0)
	g := newGroup(t, 2, eventloop.WithBufferManager(mgr))
	assert.Same(t, mgr, g.Buffers())
	for _, l := range g.Loops() {
		assert.NotNil(t, l.Allocator())
	}
	assert.Equal(t, []int{0, 1}, mgr.Partitions())
}

func TestGroupShutdownIdempotent(t *testing.T) {
	g, err := eventloop.NewGroup(2)
	require.NoError(t, err)
	f1 := g.ShutdownGracefully(0, time.Second)
	f2 := g.ShutdownGracefully(0, time.Second)
	assert.Same(t, f1, f2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, g.AwaitTermination(ctx))
	assert.True(t, g.IsTerminated())
	require.True(t, waitDone(f1.Done()))
	assert.True(t, f1.IsSuccess())
}

func waitDone(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-time.After(2 * time.Second):
		return false
	}
}
