//go:build linux

package eventloop_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/control"
	"github.com/momentics/hioload-nio/eventloop"
	"github.com/momentics/hioload-nio/future"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newLoop(t *testing.T, opts ...eventloop.Option) *eventloop.Loop {
	t.Helper()
	opts = append([]eventloop.Option{eventloop.WithLogger(zaptest.NewLogger(t))}, opts...)
	l, err := eventloop.New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := l.ShutdownGracefully(0, time.Second).Await(ctx)
		assert.NoError(t, err)
	})
	return l
}

// runOn executes fn on l and waits for it.
func runOn(t *testing.T, l *eventloop.Loop, fn func()) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, l.Execute(func() {
		defer close(done)
		fn()
	}))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task did not run")
	}
}

func TestExecuteFIFO(t *testing.T) {
	l := newLoop(t)
	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Execute(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	runOn(t, l, func() {})
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestInEventLoop(t *testing.T) {
	l := newLoop(t)
	assert.False(t, l.InEventLoop())
	var on bool
	runOn(t, l, func() { on = l.InEventLoop() })
	assert.True(t, on)
}

func TestScheduleAndCancel(t *testing.T) {
	l := newLoop(t)
	fired := make(chan time.Time, 1)
	start := time.Now()
	_, err := l.Schedule(30*time.Millisecond, func() { fired <- time.Now() })
	require.NoError(t, err)

	var cancelledRan atomic.Bool
	timer, err := l.Schedule(10*time.Millisecond, func() { cancelledRan.Store(true) })
	require.NoError(t, err)
	assert.True(t, timer.Cancel())

	select {
	case at := <-fired:
		assert.GreaterOrEqual(t, at.Sub(start), 30*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled task did not fire")
	}
	assert.False(t, cancelledRan.Load())
	assert.False(t, timer.Cancel())
}

func TestTaskPanicDoesNotKillLoop(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := control.NewMetrics(reg)
	l := newLoop(t, eventloop.WithMetrics(m), eventloop.WithName("panic"))
	require.NoError(t, l.Execute(func() { panic("boom") }))
	ran := false
	runOn(t, l, func() { ran = true })
	assert.True(t, ran)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TaskPanics.WithLabelValues("panic-0")))
}

func TestFDOperationsRequireLoop(t *testing.T) {
	l := newLoop(t)
	err := l.RegisterFD(0, 0, nil)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	assert.ErrorIs(t, l.UnregisterFD(0), api.ErrInvalidArgument)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestShutdownClosesTrackedAndRejectsWork(t *testing.T) {
	l, err := eventloop.New(eventloop.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	var closed atomic.Int32
	untrack, err := l.Track(closerFunc(func() error { closed.Add(1); return nil }))
	require.NoError(t, err)
	require.NotNil(t, untrack)
	_, err = l.Track(closerFunc(func() error { closed.Add(1); return errors.New("ignored") }))
	require.NoError(t, err)
	assert.Equal(t, 2, l.ChannelCount())

	f1 := l.ShutdownGracefully(20*time.Millisecond, time.Second)
	f2 := l.ShutdownGracefully(time.Hour, time.Hour)
	assert.Same(t, f1, f2)

	_, err = l.Track(closerFunc(func() error { return nil }))
	assert.ErrorIs(t, err, api.ErrLoopShutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = f1.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), closed.Load())
	assert.Equal(t, eventloop.StateTerminated, l.State())
	assert.ErrorIs(t, l.Execute(func() {}), api.ErrLoopShutdown)
	_, err = l.Schedule(time.Millisecond, func() {})
	assert.ErrorIs(t, err, api.ErrLoopShutdown)
}

func TestShutdownQuietPeriodRunsLateTasks(t *testing.T) {
	l, err := eventloop.New()
	require.NoError(t, err)
	var ran atomic.Int32
	f := l.ShutdownGracefully(50*time.Millisecond, 2*time.Second)
	// Tasks submitted during the quiet period still run.
	for i := 0; i < 3; i++ {
		if l.Execute(func() { ran.Add(1) }) != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	_, err = f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), ran.Load())
}

func TestShutdownTimeoutBoundsBusyLoop(t *testing.T) {
	l, err := eventloop.New()
	require.NoError(t, err)
	var stop atomic.Bool
	var spin func()
	spin = func() {
		if !stop.Load() {
			_ = l.Execute(spin)
		}
	}
	require.NoError(t, l.Execute(spin))
	start := time.Now()
	f := l.ShutdownGracefully(50*time.Millisecond, 200*time.Millisecond)
	_, err = f.Await(context.Background())
	stop.Store(true)
	require.NoError(t, err)
	took := time.Since(start)
	assert.GreaterOrEqual(t, took, 200*time.Millisecond)
	assert.Less(t, took, 3*time.Second)
}

func TestAwaitOnLoopIsRejected(t *testing.T) {
	l := newLoop(t)
	p := future.New[int](l)
	var err error
	runOn(t, l, func() {
		_, err = p.Await(context.Background())
	})
	assert.ErrorIs(t, err, api.ErrBlockingOnLoop)
}
