// File: internal/concurrency/taskqueue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Unbounded multi-producer FIFO of loop tasks.

package concurrency

import (
	"sync"

	"github.com/eapache/queue"
)

// TaskFunc is a unit of work to execute.
type TaskFunc func()

// TaskQueue is an unbounded FIFO that can be closed. After Close, Push
// rejects new tasks while already queued tasks remain drainable.
type TaskQueue struct {
	mu     sync.Mutex
	q      *queue.Queue
	closed bool
}

// NewTaskQueue creates an empty open queue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{q: queue.New()}
}

// Push appends t. Returns false if the queue is closed.
func (tq *TaskQueue) Push(t TaskFunc) bool {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	if tq.closed {
		return false
	}
	tq.q.Add(t)
	return true
}

// Pop removes the oldest task. Returns nil when empty.
func (tq *TaskQueue) Pop() TaskFunc {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	if tq.q.Length() == 0 {
		return nil
	}
	return tq.q.Remove().(TaskFunc)
}

// Drain moves up to max tasks (all when max <= 0) into dst and returns it.
func (tq *TaskQueue) Drain(dst []TaskFunc, max int) []TaskFunc {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	n := tq.q.Length()
	if max > 0 && n > max {
		n = max
	}
	for i := 0; i < n; i++ {
		dst = append(dst, tq.q.Remove().(TaskFunc))
	}
	return dst
}

// Len returns the number of queued tasks.
func (tq *TaskQueue) Len() int {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	return tq.q.Length()
}

// Close rejects further pushes. Idempotent.
func (tq *TaskQueue) Close() {
	tq.mu.Lock()
	tq.closed = true
	tq.mu.Unlock()
}

// Closed reports whether Close was called.
func (tq *TaskQueue) Closed() bool {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	return tq.closed
}
