// File: internal/concurrency/scheduler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Deadline-ordered timer heap owned by a single event loop goroutine.

package concurrency

import (
	"container/heap"
	"sync/atomic"
	"time"
)

// ScheduledTask is a task due at a deadline. Cancel may be called from any
// goroutine; the owning loop skips cancelled tasks when they come due.
type ScheduledTask struct {
	deadline  time.Time
	seq       uint64
	fn        TaskFunc
	index     int
	state     atomic.Int32
}

const (
	taskPending int32 = iota
	taskFired
	taskCancelled
)

// Cancel prevents the task from running. Returns false if it already ran or
// was already cancelled.
func (t *ScheduledTask) Cancel() bool {
	return t.state.CompareAndSwap(taskPending, taskCancelled)
}

// Cancelled reports whether Cancel succeeded.
func (t *ScheduledTask) Cancelled() bool { return t.state.Load() == taskCancelled }

// Deadline returns when the task is due.
func (t *ScheduledTask) Deadline() time.Time { return t.deadline }

type taskHeap []*ScheduledTask

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *taskHeap) Push(x any) {
	t := x.(*ScheduledTask)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Scheduler orders tasks by deadline, FIFO among equal deadlines. It is not
// safe for concurrent use; the owning loop serializes access.
type Scheduler struct {
	timerQ taskHeap
	seq    uint64
}

// NewScheduler returns an empty scheduler.
func NewScheduler() *Scheduler { return &Scheduler{} }

// NewScheduledTask creates a handle that is not yet in any scheduler. It
// lets a caller off the loop hand out the handle before Push runs.
func NewScheduledTask(deadline time.Time, fn TaskFunc) *ScheduledTask {
	return &ScheduledTask{deadline: deadline, fn: fn, index: -1}
}

// Add schedules fn to run at deadline.
func (s *Scheduler) Add(deadline time.Time, fn TaskFunc) *ScheduledTask {
	t := NewScheduledTask(deadline, fn)
	s.Push(t)
	return t
}

// Push inserts t. Tasks cancelled before insertion are dropped.
func (s *Scheduler) Push(t *ScheduledTask) {
	if t.Cancelled() {
		return
	}
	s.seq++
	t.seq = s.seq
	heap.Push(&s.timerQ, t)
}

// Len returns the number of scheduled tasks, cancelled ones included.
func (s *Scheduler) Len() int { return s.timerQ.Len() }

// NextDeadline returns the earliest live deadline.
func (s *Scheduler) NextDeadline() (time.Time, bool) {
	for s.timerQ.Len() > 0 {
		t := s.timerQ[0]
		if !t.Cancelled() {
			return t.deadline, true
		}
		heap.Pop(&s.timerQ)
	}
	return time.Time{}, false
}

// RunExpired runs every live task due at or before now and returns how
// many ran. run wraps each invocation so the caller can recover panics.
func (s *Scheduler) RunExpired(now time.Time, run func(TaskFunc)) int {
	n := 0
	for s.timerQ.Len() > 0 {
		t := s.timerQ[0]
		if t.deadline.After(now) {
			break
		}
		heap.Pop(&s.timerQ)
		if !t.state.CompareAndSwap(taskPending, taskFired) {
			continue
		}
		run(t.fn)
		n++
	}
	return n
}

// CancelAll cancels and drops every pending task.
func (s *Scheduler) CancelAll() int {
	n := 0
	for _, t := range s.timerQ {
		if t.Cancel() {
			n++
		}
	}
	s.timerQ = nil
	return n
}
