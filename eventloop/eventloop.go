// File: eventloop/eventloop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Reactor loop: poll, dispatch readiness, run timers, run tasks.

package eventloop

import (
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/affinity"
	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/control"
	"github.com/momentics/hioload-nio/future"
	"github.com/momentics/hioload-nio/internal/concurrency"
	"github.com/momentics/hioload-nio/pool"
	"github.com/momentics/hioload-nio/reactor"
)

// shutdownPollCap bounds a poll while waiting out the quiet period.
const shutdownPollCap = 10 * time.Millisecond

// Loop is a single-threaded event executor driving a readiness poller.
type Loop struct {
	index   int
	name    string
	logger  *zap.Logger
	metrics *control.LoopMetrics
	alloc   *pool.Allocator
	cpu     int

	poller reactor.Poller
	tasks  *concurrency.TaskQueue
	sched  *concurrency.Scheduler // loop goroutine only
	gid    atomic.Uint64
	state  atomic.Int32

	shutdownOnce  sync.Once
	quiet         time.Duration
	timeout       time.Duration
	shutdownStart time.Time
	lastExecution time.Time
	terminated    *future.Promise[future.Void]

	trackMu sync.Mutex
	trackID uint64
	tracked map[uint64]io.Closer
}

var _ api.EventExecutor = (*Loop)(nil)

// New starts a standalone loop with index 0.
func New(opts ...Option) (*Loop, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	if cfg.buffers == nil {
		cfg.buffers = pool.NewBufferPoolManager(0)
	}
	return newLoop(0, cfg)
}

func newLoop(index int, cfg *config) (*Loop, error) {
	name := fmt.Sprintf("%s-%d", cfg.name, index)
	l := &Loop{
		index:   index,
		name:    name,
		logger:  cfg.logger.Named(name),
		metrics: cfg.metrics.ForLoop(name),
		alloc:   cfg.buffers.GetPool(index),
		cpu:     affinity.CPUFor(index, cfg.cpus),
		tasks:   concurrency.NewTaskQueue(),
		sched:   concurrency.NewScheduler(),
		tracked: make(map[uint64]io.Closer),
	}
	l.terminated = future.New[future.Void](nil)
	poller, err := reactor.New(reactor.Options{
		MaxEvents: cfg.maxEvents,
		OnPanic:   l.onIOPanic,
	})
	if err != nil {
		return nil, fmt.Errorf("eventloop %s: %w", name, err)
	}
	l.poller = poller

	ready := make(chan struct{})
	go l.run(ready)
	<-ready
	return l, nil
}

// Index returns the loop position within its group.
func (l *Loop) Index() int { return l.index }

// Name returns "<prefix>-<index>".
func (l *Loop) Name() string { return l.name }

// Logger returns the loop's named logger.
func (l *Loop) Logger() *zap.Logger { return l.logger }

// Metrics returns the loop-bound metrics view; nil when disabled.
func (l *Loop) Metrics() *control.LoopMetrics { return l.metrics }

// Allocator returns the loop's buffer partition.
func (l *Loop) Allocator() api.Allocator { return l.alloc }

// State returns the current lifecycle phase.
func (l *Loop) State() State { return State(l.state.Load()) }

// PendingTasks returns the number of queued tasks.
func (l *Loop) PendingTasks() int { return l.tasks.Len() }

// ChannelCount returns the number of tracked channels.
func (l *Loop) ChannelCount() int {
	l.trackMu.Lock()
	defer l.trackMu.Unlock()
	return len(l.tracked)
}

// InEventLoop reports whether the caller runs on the loop goroutine.
func (l *Loop) InEventLoop() bool {
	return concurrency.GoroutineID() == l.gid.Load()
}

// Execute queues task for the loop goroutine. It fails with
// api.ErrLoopShutdown once the loop stopped accepting tasks.
func (l *Loop) Execute(task func()) error {
	if task == nil {
		return api.NewError(api.ErrCodeInvalidArgument, "execute nil task")
	}
	if !l.tasks.Push(task) {
		return api.NewError(api.ErrCodeLoopShutdown, "execute").WithContext("loop", l.name)
	}
	if !l.InEventLoop() {
		if err := l.poller.Wakeup(); err != nil && err != reactor.ErrClosed {
			l.logger.Warn("wakeup failed", zap.Error(err))
		}
	}
	return nil
}

// Schedule runs task on the loop after delay.
func (l *Loop) Schedule(delay time.Duration, task func()) (api.Timer, error) {
	if task == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "schedule nil task")
	}
	if delay < 0 {
		delay = 0
	}
	t := concurrency.NewScheduledTask(time.Now().Add(delay), task)
	if l.InEventLoop() {
		if l.State() >= StateShutdown {
			return nil, api.NewError(api.ErrCodeLoopShutdown, "schedule").WithContext("loop", l.name)
		}
		l.sched.Push(t)
		return t, nil
	}
	if err := l.Execute(func() { l.sched.Push(t) }); err != nil {
		return nil, err
	}
	return t, nil
}

func (l *Loop) requireLoop(op string) error {
	if !l.InEventLoop() {
		return api.NewError(api.ErrCodeInvalidArgument, op+" off the event loop").WithContext("loop", l.name)
	}
	return nil
}

// RegisterFD adds fd to the poller. Loop goroutine only.
func (l *Loop) RegisterFD(fd int, interest reactor.Events, h reactor.Handler) error {
	if err := l.requireLoop("register fd"); err != nil {
		return err
	}
	return l.poller.Add(fd, interest, h)
}

// ModifyFD replaces the interest set of fd. Loop goroutine only.
func (l *Loop) ModifyFD(fd int, interest reactor.Events) error {
	if err := l.requireLoop("modify fd"); err != nil {
		return err
	}
	return l.poller.Modify(fd, interest)
}

// UnregisterFD removes fd from the poller. Loop goroutine only.
func (l *Loop) UnregisterFD(fd int) error {
	if err := l.requireLoop("unregister fd"); err != nil {
		return err
	}
	return l.poller.Remove(fd)
}

// Track registers c to be closed when the loop shuts down. The returned
// function stops tracking. Rejected with api.ErrLoopShutdown once shutdown
// has started.
func (l *Loop) Track(c io.Closer) (untrack func(), err error) {
	l.trackMu.Lock()
	defer l.trackMu.Unlock()
	if l.State() != StateRunning {
		return nil, api.NewError(api.ErrCodeLoopShutdown, "register").WithContext("loop", l.name)
	}
	l.trackID++
	id := l.trackID
	l.tracked[id] = c
	l.metrics.ChannelAdded()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.trackMu.Lock()
			if _, ok := l.tracked[id]; ok {
				delete(l.tracked, id)
				l.metrics.ChannelRemoved()
			}
			l.trackMu.Unlock()
		})
	}, nil
}

// ShutdownGracefully stops accepting registrations and lets the loop run
// until no task executed for quiet, or timeout elapsed. Tracked channels
// are then closed and the loop terminates. Repeated calls return the same
// future and keep the first parameters.
func (l *Loop) ShutdownGracefully(quiet, timeout time.Duration) future.Future[future.Void] {
	if quiet < 0 {
		quiet = 0
	}
	if timeout < quiet {
		timeout = quiet
	}
	l.shutdownOnce.Do(func() {
		// The tracking mutex orders the transition against Track.
		l.trackMu.Lock()
		l.quiet, l.timeout = quiet, timeout
		l.state.Store(int32(StateShuttingDown))
		l.trackMu.Unlock()
		l.logger.Debug("shutdown requested", zap.Duration("quiet", quiet), zap.Duration("timeout", timeout))
		if err := l.poller.Wakeup(); err != nil && err != reactor.ErrClosed {
			l.logger.Warn("wakeup failed", zap.Error(err))
		}
	})
	return l.terminated
}

// TerminationFuture completes once the loop goroutine has exited.
func (l *Loop) TerminationFuture() future.Future[future.Void] { return l.terminated }

func (l *Loop) run(ready chan<- struct{}) {
	runtime.LockOSThread()
	pinned := false
	if l.cpu >= 0 {
		if err := affinity.SetAffinity(l.cpu); err != nil {
			l.logger.Warn("cpu affinity not applied", zap.Int("cpu", l.cpu), zap.Error(err))
		} else {
			pinned = true
		}
	}
	if !pinned {
		// A pinned thread exits with the goroutine instead of returning to the scheduler pool.
		defer runtime.UnlockOSThread()
	}
	l.gid.Store(concurrency.GoroutineID())
	close(ready)
	l.logger.Debug("loop started", zap.Int("cpu", l.cpu))

	for {
		if _, err := l.poller.Poll(l.pollTimeout()); err != nil {
			l.logger.Error("poll failed", zap.Error(err))
			if err == reactor.ErrClosed {
				break
			}
		}
		l.sched.RunExpired(time.Now(), l.runTask)
		ran := l.runAllTasks()
		l.metrics.TasksExecuted(ran)
		l.metrics.SetPending(l.tasks.Len())

		if l.State() == StateShuttingDown && l.confirmShutdown(ran > 0) {
			break
		}
	}
	l.cleanup()
}

func (l *Loop) pollTimeout() time.Duration {
	if l.tasks.Len() > 0 {
		return 0
	}
	timeout := time.Duration(-1)
	if d, ok := l.sched.NextDeadline(); ok {
		timeout = time.Until(d)
		if timeout < 0 {
			timeout = 0
		}
	}
	if l.State() == StateShuttingDown && (timeout < 0 || timeout > shutdownPollCap) {
		timeout = shutdownPollCap
	}
	return timeout
}

// runAllTasks runs the tasks queued when the drain started. Tasks they
// submit run in the next iteration so I/O is never starved.
func (l *Loop) runAllTasks() int {
	batch := l.tasks.Drain(nil, 0)
	for _, t := range batch {
		l.runTask(t)
	}
	return len(batch)
}

func (l *Loop) runTask(t concurrency.TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			l.metrics.Panic()
			l.logger.Error("task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	t()
}

func (l *Loop) onIOPanic(fd int, v any) {
	l.metrics.Panic()
	l.logger.Error("io callback panicked", zap.Int("fd", fd), zap.Any("panic", v))
}

func (l *Loop) confirmShutdown(ranTasks bool) bool {
	now := time.Now()
	if l.shutdownStart.IsZero() {
		l.shutdownStart = now
		l.lastExecution = now
	}
	if ranTasks {
		l.lastExecution = now
	}
	if now.Sub(l.shutdownStart) >= l.timeout {
		return true
	}
	return now.Sub(l.lastExecution) >= l.quiet
}

// drain runs tasks until the queue is empty or rounds are exhausted.
func (l *Loop) drain(rounds int) {
	for i := 0; i < rounds && l.tasks.Len() > 0; i++ {
		l.sched.RunExpired(time.Now(), l.runTask)
		l.metrics.TasksExecuted(l.runAllTasks())
	}
}

func (l *Loop) cleanup() {
	l.state.Store(int32(StateShutdown))

	l.trackMu.Lock()
	closers := make([]io.Closer, 0, len(l.tracked))
	for _, c := range l.tracked {
		closers = append(closers, c)
	}
	l.trackMu.Unlock()
	for _, c := range closers {
		if err := c.Close(); err != nil {
			l.logger.Debug("close on shutdown", zap.Error(err))
		}
	}

	l.drain(64)
	l.tasks.Close()
	l.drain(64)
	if n := l.sched.CancelAll(); n > 0 {
		l.logger.Debug("cancelled scheduled tasks", zap.Int("count", n))
	}
	if left := l.tasks.Len(); left > 0 {
		l.logger.Warn("tasks dropped at termination", zap.Int("count", left))
	}
	if err := l.poller.Close(); err != nil {
		l.logger.Warn("poller close failed", zap.Error(err))
	}

	if !l.shutdownStart.IsZero() {
		l.metrics.ShutdownTook(time.Since(l.shutdownStart).Seconds())
	}
	l.state.Store(int32(StateTerminated))
	l.logger.Debug("loop terminated")
	_ = l.terminated.Complete(future.Void{})
}
