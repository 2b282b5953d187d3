// File: channel/embedded.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket-less channel driven by the caller, for exercising handlers.

package channel

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/control"
	"github.com/momentics/hioload-nio/internal/concurrency"
	"github.com/momentics/hioload-nio/pool"
	"github.com/momentics/hioload-nio/reactor"
)

// EmbeddedChannel runs a pipeline without a socket. The calling goroutine
// acts as the event loop: tasks and timers run only when the caller invokes
// RunPendingTasks or AdvanceTimeBy. Not safe for concurrent use.
type EmbeddedChannel struct {
	base

	el       *embeddedLoop
	inbound  *queue.Queue
	outbound *queue.Queue
	errs     *multierror.Error
}

var _ Channel = (*EmbeddedChannel)(nil)

type embeddedAddr string

func (a embeddedAddr) Network() string { return "embedded" }
func (a embeddedAddr) String() string  { return string(a) }

// NewEmbeddedChannel registers a channel carrying handlers, in order, and
// makes it active.
func NewEmbeddedChannel(handlers ...any) *EmbeddedChannel {
	e := &EmbeddedChannel{
		el:       newEmbeddedLoop(),
		inbound:  queue.New(),
		outbound: queue.New(),
	}
	e.init(e, e, nil)
	e.pipeline.onUnhandledRead = func(msg any) { e.inbound.Add(msg) }
	e.pipeline.onUnhandledException = func(err error) { e.errs = multierror.Append(e.errs, err) }
	for _, h := range handlers {
		if err := e.pipeline.AddLast("", h); err != nil {
			e.errs = multierror.Append(e.errs, err)
		}
	}
	e.Register(e.el)
	e.RunPendingTasks()
	return e
}

func (e *EmbeddedChannel) localAddr() net.Addr    { return embeddedAddr("embedded-local") }
func (e *EmbeddedChannel) remoteAddr() net.Addr   { return embeddedAddr("embedded-remote") }
func (e *EmbeddedChannel) activeOnRegister() bool { return true }
func (e *EmbeddedChannel) doRegister() error      { return nil }
func (e *EmbeddedChannel) doBeginRead()           {}
func (e *EmbeddedChannel) doClose() error         { return nil }

func (e *EmbeddedChannel) doBind(net.Addr) error {
	return api.NewError(api.ErrCodeNotSupported, "bind on an embedded channel")
}

func (e *EmbeddedChannel) doConnect(_ net.Addr, p *Promise) {
	p.TryFail(api.NewError(api.ErrCodeNotSupported, "connect on an embedded channel"))
}

func (e *EmbeddedChannel) filterOutbound(msg any) (any, error) { return msg, nil }

func (e *EmbeddedChannel) doWrite(out *outboundBuffer) {
	for !out.isEmpty() {
		e.outbound.Add(out.take())
	}
}

// Close closes the channel and runs the follow-up events.
func (e *EmbeddedChannel) Close() Future {
	f := e.base.Close()
	e.RunPendingTasks()
	return f
}

// WriteInbound fires each message through the pipeline followed by one
// channelReadComplete. It reports whether messages reached the tail.
func (e *EmbeddedChannel) WriteInbound(msgs ...any) bool {
	for _, m := range msgs {
		e.pipeline.FireChannelRead(m)
	}
	e.pipeline.FireChannelReadComplete()
	e.RunPendingTasks()
	return e.inbound.Length() > 0
}

// WriteOutbound writes and flushes each message from the tail. It reports
// whether messages reached the transport.
func (e *EmbeddedChannel) WriteOutbound(msgs ...any) bool {
	for _, m := range msgs {
		e.pipeline.Write(m)
	}
	e.pipeline.Flush()
	e.RunPendingTasks()
	return e.outbound.Length() > 0
}

// ReadInbound pops the next message that reached the tail, or nil.
func (e *EmbeddedChannel) ReadInbound() any {
	if e.inbound.Length() == 0 {
		return nil
	}
	return e.inbound.Remove()
}

// ReadOutbound pops the next message that reached the transport, or nil.
func (e *EmbeddedChannel) ReadOutbound() any {
	if e.outbound.Length() == 0 {
		return nil
	}
	return e.outbound.Remove()
}

func (e *EmbeddedChannel) InboundLen() int  { return e.inbound.Length() }
func (e *EmbeddedChannel) OutboundLen() int { return e.outbound.Length() }

// RunPendingTasks runs queued tasks and timers that are due.
func (e *EmbeddedChannel) RunPendingTasks() { e.el.runPending() }

// AdvanceTimeBy moves the channel clock forward and runs what became due.
func (e *EmbeddedChannel) AdvanceTimeBy(d time.Duration) {
	e.el.advance(d)
	e.el.runPending()
}

// CheckException returns the exceptions that reached the tail since the
// last call, aggregated.
func (e *EmbeddedChannel) CheckException() error {
	err := e.errs.ErrorOrNil()
	e.errs = nil
	return err
}

// Finish closes the channel and reports whether unread messages remain.
// Remaining messages are released.
func (e *EmbeddedChannel) Finish() bool {
	e.Close()
	left := e.inbound.Length()+e.outbound.Length() > 0
	for _, q := range []*queue.Queue{e.inbound, e.outbound} {
		for q.Length() > 0 {
			api.SafeRelease(q.Remove())
		}
	}
	return left
}

// embeddedLoop is an EventLoop whose goroutine is whoever drives it.
type embeddedLoop struct {
	mu      sync.Mutex
	tasks   *queue.Queue
	sched   *concurrency.Scheduler
	now     time.Time
	alloc   *pool.Allocator
	running bool
}

func newEmbeddedLoop() *embeddedLoop {
	return &embeddedLoop{
		tasks: queue.New(),
		sched: concurrency.NewScheduler(),
		now:   time.Now(),
		alloc: pool.NewAllocator(0),
	}
}

func (l *embeddedLoop) InEventLoop() bool { return true }

func (l *embeddedLoop) Execute(task func()) error {
	if task == nil {
		return api.NewError(api.ErrCodeInvalidArgument, "execute nil task")
	}
	l.mu.Lock()
	l.tasks.Add(task)
	l.mu.Unlock()
	return nil
}

func (l *embeddedLoop) Schedule(delay time.Duration, task func()) (api.Timer, error) {
	if task == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "schedule nil task")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	t := concurrency.NewScheduledTask(l.now.Add(delay), task)
	l.sched.Push(t)
	return t, nil
}

func (l *embeddedLoop) advance(d time.Duration) {
	l.mu.Lock()
	l.now = l.now.Add(d)
	l.mu.Unlock()
}

func (l *embeddedLoop) runPending() {
	if l.running {
		return
	}
	l.running = true
	defer func() { l.running = false }()
	for {
		l.mu.Lock()
		var due []concurrency.TaskFunc
		l.sched.RunExpired(l.now, func(t concurrency.TaskFunc) { due = append(due, t) })
		for l.tasks.Length() > 0 {
			due = append(due, l.tasks.Remove().(func()))
		}
		l.mu.Unlock()
		if len(due) == 0 {
			return
		}
		for _, t := range due {
			t()
		}
	}
}

func (l *embeddedLoop) RegisterFD(int, reactor.Events, reactor.Handler) error {
	return api.NewError(api.ErrCodeNotSupported, "register fd on an embedded loop")
}

func (l *embeddedLoop) ModifyFD(int, reactor.Events) error {
	return api.NewError(api.ErrCodeNotSupported, "modify fd on an embedded loop")
}

func (l *embeddedLoop) UnregisterFD(int) error {
	return api.NewError(api.ErrCodeNotSupported, "unregister fd on an embedded loop")
}

func (l *embeddedLoop) Allocator() api.Allocator        { return l.alloc }
func (l *embeddedLoop) Track(io.Closer) (func(), error) { return func() {}, nil }
func (l *embeddedLoop) Logger() *zap.Logger             { return zap.L() }
func (l *embeddedLoop) Metrics() *control.LoopMetrics   { return nil }
func (l *embeddedLoop) Index() int                      { return 0 }
