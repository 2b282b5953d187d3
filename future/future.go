// File: future/future.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Single-assignment completion futures bound to an event executor.

package future

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/api"
)

// Void is the value type of futures that carry no result.
type Void = struct{}

// Future is the read side of an asynchronous operation.
type Future[T any] interface {
	IsDone() bool
	IsSuccess() bool
	IsCancelled() bool

	// Value returns the result, or the zero value if not successful.
	Value() T

	// Err returns the failure cause, or nil if pending or successful.
	Err() error

	// Done is closed on completion.
	Done() <-chan struct{}

	// AddListener registers fn to run once on completion. Listeners run in
	// registration order on the owning executor.
	AddListener(fn func(Future[T]))

	// Await blocks until completion or ctx is done. Calling it from the
	// owning executor goroutine on a pending future fails with
	// api.ErrBlockingOnLoop.
	Await(ctx context.Context) (T, error)

	// Cancel fails the future with api.ErrCancelled if the operation has not
	// started. Returns false when it could not be cancelled.
	Cancel() bool

	// Executor returns the executor that notifies listeners, or nil.
	Executor() api.EventExecutor
}

type loggerProvider interface {
	Logger() *zap.Logger
}

// Promise is the write side of a Future. The zero value is not usable; use New.
type Promise[T any] struct {
	exec api.EventExecutor

	mu            sync.Mutex
	done          chan struct{}
	completed     bool
	cancelled     bool
	uncancellable bool
	value         T
	err           error
	listeners     []func(Future[T])
	notifying     bool
}

var _ Future[Void] = (*Promise[Void])(nil)

// New creates a pending promise whose listeners are notified on exec. A nil
// exec notifies on the completing goroutine.
func New[T any](exec api.EventExecutor) *Promise[T] {
	return &Promise[T]{exec: exec, done: make(chan struct{})}
}

// Succeeded returns an already successful future.
func Succeeded[T any](exec api.EventExecutor, v T) *Promise[T] {
	p := New[T](exec)
	_ = p.Complete(v)
	return p
}

// Failed returns an already failed future.
func Failed[T any](exec api.EventExecutor, err error) *Promise[T] {
	p := New[T](exec)
	_ = p.Fail(err)
	return p
}

// Executor returns the notifying executor.
func (p *Promise[T]) Executor() api.EventExecutor { return p.exec }

// Future returns p as its read-only interface.
func (p *Promise[T]) Future() Future[T] { return p }

func (p *Promise[T]) IsDone() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

func (p *Promise[T]) IsSuccess() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed && p.err == nil
}

func (p *Promise[T]) IsCancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}

func (p *Promise[T]) Value() T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

func (p *Promise[T]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Promise[T]) Done() <-chan struct{} { return p.done }

// Complete marks the promise successful. A second completion returns
// api.ErrAlreadyCompleted and leaves the first outcome in place.
func (p *Promise[T]) Complete(v T) error {
	if !p.set(v, nil, false) {
		return api.NewError(api.ErrCodeAlreadyCompleted, "complete")
	}
	return nil
}

// Fail marks the promise failed with err.
func (p *Promise[T]) Fail(err error) error {
	if err == nil {
		return api.NewError(api.ErrCodeInvalidArgument, "fail with nil error")
	}
	if !p.set(*new(T), err, false) {
		return api.Wrap(api.ErrAlreadyCompleted, "fail", err)
	}
	return nil
}

// TryComplete is Complete reporting success as a bool.
func (p *Promise[T]) TryComplete(v T) bool { return p.set(v, nil, false) }

// TryFail is Fail reporting success as a bool.
func (p *Promise[T]) TryFail(err error) bool {
	if err == nil {
		return false
	}
	return p.set(*new(T), err, false)
}

// SetUncancellable marks the operation as started. It returns true if the
// promise is now uncancellable, false if it was already cancelled.
func (p *Promise[T]) SetUncancellable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelled {
		return false
	}
	p.uncancellable = true
	return true
}

// IsCancellable reports whether Cancel can still succeed.
func (p *Promise[T]) IsCancellable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.completed && !p.uncancellable
}

func (p *Promise[T]) Cancel() bool {
	p.mu.Lock()
	if p.uncancellable || p.completed {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()
	return p.set(*new(T), api.NewError(api.ErrCodeCancelled, "cancel"), true)
}

func (p *Promise[T]) set(v T, err error, cancel bool) bool {
	p.mu.Lock()
	if p.completed {
		p.mu.Unlock()
		return false
	}
	p.completed = true
	p.value = v
	p.err = err
	p.cancelled = cancel
	close(p.done)
	start := len(p.listeners) > 0 && !p.notifying
	if start {
		p.notifying = true
	}
	p.mu.Unlock()

	if start {
		p.notify()
	}
	return true
}

func (p *Promise[T]) AddListener(fn func(Future[T])) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	start := p.completed && !p.notifying
	if start {
		p.notifying = true
	}
	p.mu.Unlock()
	if start {
		p.notify()
	}
}

// notify drains listeners on the owning executor, inline when already there.
// Listeners added while a notification is queued or running join that batch.
func (p *Promise[T]) notify() {
	if p.exec == nil || p.exec.InEventLoop() {
		p.drain()
		return
	}
	if err := p.exec.Execute(p.drain); err != nil {
		// Executor is gone; listeners still must observe the outcome.
		p.drain()
	}
}

func (p *Promise[T]) drain() {
	for {
		p.mu.Lock()
		ls := p.listeners
		p.listeners = nil
		if len(ls) == 0 {
			p.notifying = false
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
		for _, fn := range ls {
			p.invoke(fn)
		}
	}
}

func (p *Promise[T]) invoke(fn func(Future[T])) {
	defer func() {
		if r := recover(); r != nil {
			p.logger().Warn("future listener panicked", zap.Any("panic", r))
		}
	}()
	fn(p)
}

func (p *Promise[T]) logger() *zap.Logger {
	if lp, ok := p.exec.(loggerProvider); ok {
		if l := lp.Logger(); l != nil {
			return l
		}
	}
	return zap.L()
}

func (p *Promise[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.result()
	default:
	}
	if p.exec != nil && p.exec.InEventLoop() {
		var zero T
		return zero, api.NewError(api.ErrCodeBlockingOnLoop, "await")
	}
	select {
	case <-p.done:
		return p.result()
	case <-ctx.Done():
		var zero T
		return zero, api.Wrap(api.ErrTimeout, "await", ctx.Err())
	}
}

func (p *Promise[T]) result() (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.err
}
