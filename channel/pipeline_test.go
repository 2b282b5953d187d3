package channel_test

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/channel"
	"github.com/momentics/hioload-nio/control"
	"github.com/momentics/hioload-nio/future"
	"github.com/momentics/hioload-nio/pool"
	"github.com/momentics/hioload-nio/reactor"
)

// recorder logs every inbound event and forwards it.
type recorder struct {
	mu     sync.Mutex
	events []string
	errs   []error
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) HandlerAdded(*channel.HandlerContext)   { r.add("added") }
func (r *recorder) HandlerRemoved(*channel.HandlerContext) { r.add("removed") }

func (r *recorder) ChannelRegistered(ctx *channel.HandlerContext) {
	r.add("registered")
	ctx.FireChannelRegistered()
}

func (r *recorder) ChannelUnregistered(ctx *channel.HandlerContext) {
	r.add("unregistered")
	ctx.FireChannelUnregistered()
}

func (r *recorder) ChannelActive(ctx *channel.HandlerContext) {
	r.add("active")
	ctx.FireChannelActive()
}

func (r *recorder) ChannelInactive(ctx *channel.HandlerContext) {
	r.add("inactive")
	ctx.FireChannelInactive()
}

func (r *recorder) ChannelRead(ctx *channel.HandlerContext, msg any) {
	r.add("read")
	ctx.FireChannelRead(msg)
}

func (r *recorder) ChannelReadComplete(ctx *channel.HandlerContext) {
	r.add("readComplete")
	ctx.FireChannelReadComplete()
}

func (r *recorder) UserEventTriggered(ctx *channel.HandlerContext, evt any) {
	r.add("userEvent")
	ctx.FireUserEventTriggered(evt)
}

func (r *recorder) ExceptionCaught(_ *channel.HandlerContext, err error) {
	r.mu.Lock()
	r.events = append(r.events, "exception")
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

// tagger appends its tag to string messages in both directions.
type tagger struct{ tag string }

func (t tagger) ChannelRead(ctx *channel.HandlerContext, msg any) {
	ctx.FireChannelRead(msg.(string) + t.tag)
}

func (t tagger) Write(ctx *channel.HandlerContext, msg any, p *channel.Promise) {
	ctx.WritePromise(msg.(string)+t.tag, p)
}

// activeOnly lacks read and write capabilities.
type activeOnly struct{ seen bool }

func (a *activeOnly) ChannelActive(ctx *channel.HandlerContext) {
	a.seen = true
	ctx.FireChannelActive()
}

type panicker struct{}

func (panicker) ChannelRead(*channel.HandlerContext, any) { panic("boom") }

type panickyCatcher struct{}

func (panickyCatcher) ExceptionCaught(*channel.HandlerContext, error) { panic("again") }

func TestInboundOrderAndSkipping(t *testing.T) {
	a := &activeOnly{}
	ch := channel.NewEmbeddedChannel(tagger{"A"}, a, tagger{"B"})
	assert.True(t, a.seen)
	assert.True(t, ch.WriteInbound("x"))
	assert.Equal(t, "xAB", ch.ReadInbound())
	assert.Nil(t, ch.ReadInbound())
	assert.False(t, ch.Finish())
}

func TestOutboundRunsTailToHead(t *testing.T) {
	ch := channel.NewEmbeddedChannel(tagger{"A"}, &activeOnly{}, tagger{"B"})
	assert.True(t, ch.WriteOutbound("x"))
	assert.Equal(t, "xBA", ch.ReadOutbound())
	assert.False(t, ch.Finish())
}

func TestLifecycleEvents(t *testing.T) {
	r := &recorder{}
	ch := channel.NewEmbeddedChannel(r)
	assert.Equal(t, channel.StateActive, ch.State())
	ch.WriteInbound("m")
	assert.Equal(t, "m", ch.ReadInbound())
	ch.Pipeline().FireUserEventTriggered("evt")

	f := ch.Close()
	assert.True(t, f.IsSuccess())
	assert.True(t, ch.CloseFuture().IsDone())
	assert.Equal(t, channel.StateClosed, ch.State())
	assert.Equal(t, []string{
		"added", "registered", "active", "read", "readComplete", "userEvent",
		"inactive", "unregistered", "removed",
	}, r.Events())
	assert.Empty(t, ch.Pipeline().Names())

	again := ch.Close()
	assert.True(t, again.IsSuccess())
	assert.Len(t, r.Events(), 9)
}

func TestPanicRedirectsToExceptionCaught(t *testing.T) {
	r := &recorder{}
	ch := channel.NewEmbeddedChannel(panicker{}, r)
	ch.WriteInbound("x")
	require.Len(t, r.errs, 1)
	assert.Contains(t, r.errs[0].Error(), "boom")
	assert.NoError(t, ch.CheckException())
	assert.True(t, ch.IsOpen())
}

func TestUnhandledPanicReachesTail(t *testing.T) {
	ch := channel.NewEmbeddedChannel(panicker{})
	ch.WriteInbound("x")
	err := ch.CheckException()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.NoError(t, ch.CheckException())
}

func TestPanicInExceptionHandlerIsNotRedispatched(t *testing.T) {
	r := &recorder{}
	ch := channel.NewEmbeddedChannel(panicker{}, panickyCatcher{}, r)
	ch.WriteInbound("x")
	assert.NotContains(t, r.Events(), "exception")
	assert.NoError(t, ch.CheckException())
}

func TestPipelineMutation(t *testing.T) {
	ch := channel.NewEmbeddedChannel()
	p := ch.Pipeline()
	r := &recorder{}

	require.NoError(t, p.AddLast("b", tagger{"B"}))
	require.NoError(t, p.AddFirst("a", tagger{"A"}))
	require.NoError(t, p.AddAfter("a", "rec", r))
	require.NoError(t, p.AddBefore("b", "c", tagger{"C"}))
	assert.Equal(t, []string{"a", "rec", "c", "b"}, p.Names())
	assert.Equal(t, []string{"added"}, r.Events())

	err := p.AddLast("a", tagger{"X"})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	assert.ErrorIs(t, p.AddAfter("missing", "z", tagger{}), api.ErrInvalidArgument)
	assert.ErrorIs(t, p.AddLast("n", nil), api.ErrInvalidArgument)

	ch.WriteInbound("x")
	assert.Equal(t, "xACB", ch.ReadInbound())

	old, err := p.Replace("c", "d", tagger{"D"})
	require.NoError(t, err)
	assert.Equal(t, tagger{"C"}, old)
	assert.Nil(t, p.Get("c"))
	assert.Equal(t, tagger{"D"}, p.Get("d"))

	h, err := p.Remove("rec")
	require.NoError(t, err)
	assert.Same(t, r, h)
	assert.Equal(t, []string{"added", "read", "readComplete", "removed"}, r.Events())
	_, err = p.Remove("rec")
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	require.NoError(t, p.AddLast("", tagger{"E"}))
	names := p.Names()
	require.Len(t, names, 4)
	assert.Regexp(t, `^tagger#\d+$`, names[3])
	assert.NotNil(t, p.Context(names[3]))

	ch.WriteInbound("y")
	assert.Equal(t, "yADBE", ch.ReadInbound())
	ch.Finish()
}

func TestInitializerRunsOnceAndRemovesItself(t *testing.T) {
	calls := 0
	init := channel.Initializer(func(c channel.Channel) error {
		calls++
		return c.Pipeline().AddLast("tag", tagger{"!"})
	})
	ch := channel.NewEmbeddedChannel(init)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"tag"}, ch.Pipeline().Names())
	ch.WriteInbound("hi")
	assert.Equal(t, "hi!", ch.ReadInbound())
	ch.Finish()
}

func TestInitializerErrorClosesChannel(t *testing.T) {
	ch := channel.NewEmbeddedChannel(channel.Initializer(func(channel.Channel) error {
		return errors.New("no")
	}))
	assert.False(t, ch.IsOpen())
}

func TestWriteAfterCloseFails(t *testing.T) {
	ch := channel.NewEmbeddedChannel()
	ch.Close()
	buf := pool.Copied([]byte("late"))
	f := ch.Write(buf)
	assert.ErrorIs(t, f.Err(), api.ErrChannelClosed)
	assert.Equal(t, int32(0), buf.RefCnt())
}

func TestWriteOfReleasedBufferFails(t *testing.T) {
	ch := channel.NewEmbeddedChannel()
	buf := pool.Copied([]byte("gone"))
	require.True(t, buf.Release())
	f := ch.WriteAndFlush(buf)
	ch.RunPendingTasks()
	assert.ErrorIs(t, f.Err(), api.ErrIllegalRefCount)
	assert.Nil(t, ch.ReadOutbound())
	assert.True(t, ch.IsOpen())
}

// droppingLoop accepts tasks and never runs them, like a loop that
// terminated with work still queued.
type droppingLoop struct{ terminated *future.Promise[future.Void] }

func (droppingLoop) Execute(func()) error { return nil }
func (droppingLoop) InEventLoop() bool    { return false }
func (droppingLoop) Schedule(time.Duration, func()) (api.Timer, error) {
	return nil, api.ErrLoopShutdown
}
func (droppingLoop) RegisterFD(int, reactor.Events, reactor.Handler) error { return api.ErrLoopShutdown }
func (droppingLoop) ModifyFD(int, reactor.Events) error                    { return api.ErrLoopShutdown }
func (droppingLoop) UnregisterFD(int) error                                { return nil }
func (droppingLoop) Allocator() api.Allocator                              { return pool.UnpooledAllocator{} }
func (droppingLoop) Track(io.Closer) (func(), error)                       { return nil, api.ErrLoopShutdown }
func (droppingLoop) Logger() *zap.Logger                                   { return zap.NewNop() }
func (droppingLoop) Metrics() *control.LoopMetrics                         { return nil }
func (droppingLoop) Index() int                                            { return 0 }

func (l droppingLoop) TerminationFuture() future.Future[future.Void] { return l.terminated }

func TestMutationFailsWhenLoopDropsTask(t *testing.T) {
	loop := droppingLoop{terminated: future.New[future.Void](nil)}
	ch := channel.NewSocketChannel()
	ch.Register(loop)

	done := make(chan error, 1)
	go func() { done <- ch.Pipeline().AddLast("late", &recorder{}) }()
	select {
	case err := <-done:
		t.Fatalf("mutation returned before the loop terminated: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, loop.terminated.Complete(future.Void{}))
	select {
	case err := <-done:
		assert.ErrorIs(t, err, api.ErrLoopShutdown)
	case <-time.After(5 * time.Second):
		t.Fatal("mutation still blocked after loop termination")
	}
}

func TestCancelledWriteIsDroppedAtFlush(t *testing.T) {
	ch := channel.NewEmbeddedChannel()
	buf := pool.Copied([]byte("x"))
	f := ch.Write(buf)
	assert.True(t, f.Cancel())
	ch.Flush()
	ch.RunPendingTasks()
	assert.Nil(t, ch.ReadOutbound())
	assert.Equal(t, int32(0), buf.RefCnt())
	assert.ErrorIs(t, f.Err(), api.ErrCancelled)
}

func TestTailReleasesUnhandledReads(t *testing.T) {
	ch := channel.NewSocketChannel()
	buf := pool.Copied([]byte("orphan"))
	ch.Pipeline().FireChannelRead(buf)
	assert.Equal(t, int32(0), buf.RefCnt())
	assert.True(t, ch.Close().IsSuccess())
}

func TestScheduledTasksFollowEmbeddedClock(t *testing.T) {
	ch := channel.NewEmbeddedChannel()
	fired := false
	_, err := ch.EventLoop().Schedule(time.Second, func() { fired = true })
	require.NoError(t, err)
	ch.RunPendingTasks()
	assert.False(t, fired)
	ch.AdvanceTimeBy(time.Second)
	assert.True(t, fired)
}

func TestRegisterTwiceFails(t *testing.T) {
	ch := channel.NewEmbeddedChannel()
	f := ch.Register(ch.EventLoop())
	assert.ErrorIs(t, f.Err(), api.ErrInvalidArgument)
}

func TestBindUnsupportedOnConnectionChannels(t *testing.T) {
	ch := channel.NewEmbeddedChannel()
	f := ch.Bind(nil)
	assert.ErrorIs(t, f.Err(), api.ErrNotSupported)
}
