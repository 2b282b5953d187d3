//go:build linux
// +build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor - Linux epoll implementation.

package reactor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// epollReactor implements Poller using level-triggered epoll and an eventfd
// for cross-goroutine wakeups.
type epollReactor struct {
	epfd     int
	wakeFd   int
	wakeBuf  [8]byte
	woken    atomic.Bool
	closed   atomic.Bool
	wakeMu   sync.RWMutex // held shared by Wakeup, exclusively by Close
	events   []unix.EpollEvent
	handlers map[int]Handler
	onPanic  func(fd int, v any)
}

// newEpollReactor creates a new instance of epollReactor.
func newEpollReactor(opts Options) (*epollReactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		_ = unix.Close(wakeFd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add eventfd: %w", err)
	}
	max := opts.MaxEvents
	if max <= 0 {
		max = defaultMaxEvents
	}
	return &epollReactor{
		epfd:     epfd,
		wakeFd:   wakeFd,
		events:   make([]unix.EpollEvent, max),
		handlers: make(map[int]Handler),
		onPanic:  opts.OnPanic,
	}, nil
}

func toEpoll(interest Events) uint32 {
	var ev uint32
	if interest&EventRead != 0 {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest&EventWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func fromEpoll(ev uint32) Events {
	var out Events
	if ev&unix.EPOLLIN != 0 {
		out |= EventRead
	}
	if ev&unix.EPOLLOUT != 0 {
		out |= EventWrite
	}
	if ev&unix.EPOLLERR != 0 {
		out |= EventError
	}
	if ev&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		out |= EventHangup
	}
	return out
}

// Add registers fd with interest.
func (r *epollReactor) Add(fd int, interest Events, h Handler) error {
	if r.closed.Load() {
		return ErrClosed
	}
	ev := unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	r.handlers[fd] = h
	return nil
}

// Modify replaces the interest set of fd.
func (r *epollReactor) Modify(fd int, interest Events) error {
	if r.closed.Load() {
		return ErrClosed
	}
	ev := unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	return nil
}

// Remove removes fd from the epoll watch list.
func (r *epollReactor) Remove(fd int) error {
	if _, ok := r.handlers[fd]; !ok {
		return nil
	}
	delete(r.handlers, fd)
	if r.closed.Load() {
		return nil
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT && err != unix.EBADF {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Len returns the number of registered descriptors.
func (r *epollReactor) Len() int { return len(r.handlers) }

// Poll blocks and waits for events on registered file descriptors.
func (r *epollReactor) Poll(timeout time.Duration) (int, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	ms := -1
	if timeout >= 0 {
		ms = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	n, err := unix.EpollWait(r.epfd, r.events, ms)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil // interrupted by signal, normal
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	dispatched := 0
	for i := 0; i < n; i++ {
		ev := r.events[i]
		fd := int(ev.Fd)
		if fd == r.wakeFd {
			r.drainWakeup()
			continue
		}
		h, ok := r.handlers[fd]
		if !ok {
			continue
		}
		r.dispatch(fd, h, fromEpoll(ev.Events))
		dispatched++
	}
	return dispatched, nil
}

func (r *epollReactor) dispatch(fd int, h Handler, ev Events) {
	defer func() {
		if v := recover(); v != nil && r.onPanic != nil {
			r.onPanic(fd, v)
		}
	}()
	h(ev)
}

func (r *epollReactor) drainWakeup() {
	for {
		_, err := unix.Read(r.wakeFd, r.wakeBuf[:])
		if err != unix.EINTR {
			break
		}
	}
	r.woken.Store(false)
}

// Wakeup writes to the eventfd once per Poll round; extra calls coalesce.
func (r *epollReactor) Wakeup() error {
	r.wakeMu.RLock()
	defer r.wakeMu.RUnlock()
	if r.closed.Load() {
		return ErrClosed
	}
	if !r.woken.CompareAndSwap(false, true) {
		return nil
	}
	one := [8]byte{1}
	for {
		_, err := unix.Write(r.wakeFd, one[:])
		switch err {
		case nil, unix.EAGAIN:
			return nil
		case unix.EINTR:
			continue
		default:
			r.woken.Store(false)
			return fmt.Errorf("eventfd write: %w", err)
		}
	}
}

// Close releases the epoll and eventfd descriptors.
func (r *epollReactor) Close() error {
	r.wakeMu.Lock()
	defer r.wakeMu.Unlock()
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.handlers = make(map[int]Handler)
	err1 := unix.Close(r.wakeFd)
	err2 := unix.Close(r.epfd)
	if err1 != nil {
		return err1
	}
	return err2
}
