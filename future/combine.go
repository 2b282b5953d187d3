// File: future/combine.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package future

import (
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/momentics/hioload-nio/api"
)

// All completes once every input has completed. On success the values are
// returned in input order; otherwise every failure is aggregated into a
// *multierror.Error.
func All[T any](exec api.EventExecutor, fs ...Future[T]) Future[[]T] {
	out := New[[]T](exec)
	if len(fs) == 0 {
		_ = out.Complete(nil)
		return out
	}
	var (
		mu     sync.Mutex
		left   = len(fs)
		values = make([]T, len(fs))
		merr   *multierror.Error
	)
	for i, f := range fs {
		f.AddListener(func(f Future[T]) {
			mu.Lock()
			if err := f.Err(); err != nil {
				merr = multierror.Append(merr, err)
			} else {
				values[i] = f.Value()
			}
			left--
			finished := left == 0
			mu.Unlock()
			if !finished {
				return
			}
			if err := merr.ErrorOrNil(); err != nil {
				out.TryFail(err)
				return
			}
			out.TryComplete(values)
		})
	}
	return out
}

// Map derives a future from f by applying fn to its value. Failures pass
// through unchanged. Cancelling the derived future cancels f.
func Map[T, U any](f Future[T], fn func(T) (U, error)) Future[U] {
	out := New[U](f.Executor())
	f.AddListener(func(f Future[T]) {
		if err := f.Err(); err != nil {
			out.set(*new(U), err, f.IsCancelled())
			return
		}
		v, err := fn(f.Value())
		if err != nil {
			out.TryFail(err)
			return
		}
		out.TryComplete(v)
	})
	out.AddListener(func(o Future[U]) {
		if o.IsCancelled() {
			f.Cancel()
		}
	})
	return out
}

// Cascade completes p with the outcome of f.
func Cascade[T any](f Future[T], p *Promise[T]) {
	f.AddListener(func(f Future[T]) {
		if err := f.Err(); err != nil {
			p.TryFail(err)
			return
		}
		p.TryComplete(f.Value())
	})
}
