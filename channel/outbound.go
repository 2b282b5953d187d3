// File: channel/outbound.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Outbound queue: written but unflushed messages, then flushed messages
// awaiting the socket.

package channel

import (
	"github.com/eapache/queue"

	"github.com/momentics/hioload-nio/api"
)

// maxIovecs bounds one gathering write.
const maxIovecs = 1024

type pendingWrite struct {
	msg     any
	promise *Promise
}

type outboundBuffer struct {
	unflushed *queue.Queue
	flushed   *queue.Queue
	iov       [][]byte
}

func newOutboundBuffer() *outboundBuffer {
	return &outboundBuffer{unflushed: queue.New(), flushed: queue.New()}
}

func (o *outboundBuffer) add(msg any, p *Promise) {
	o.unflushed.Add(&pendingWrite{msg: msg, promise: p})
}

// addFlush moves every unflushed write to the flushed queue. Writes whose
// promise was cancelled meanwhile are dropped.
func (o *outboundBuffer) addFlush() {
	for o.unflushed.Length() > 0 {
		w := o.unflushed.Remove().(*pendingWrite)
		if !w.promise.SetUncancellable() {
			api.SafeRelease(w.msg)
			continue
		}
		o.flushed.Add(w)
	}
}

func (o *outboundBuffer) isEmpty() bool { return o.flushed.Length() == 0 }

func (o *outboundBuffer) size() int { return o.flushed.Length() + o.unflushed.Length() }

// current returns the oldest flushed write, or nil.
func (o *outboundBuffer) current() *pendingWrite {
	if o.flushed.Length() == 0 {
		return nil
	}
	return o.flushed.Peek().(*pendingWrite)
}

// complete removes the oldest flushed write and succeeds its promise.
func (o *outboundBuffer) complete() {
	w := o.flushed.Remove().(*pendingWrite)
	api.SafeRelease(w.msg)
	w.promise.TryComplete(Void{})
}

// take removes the oldest flushed write, succeeds its promise and hands
// its message to the caller.
func (o *outboundBuffer) take() any {
	w := o.flushed.Remove().(*pendingWrite)
	w.promise.TryComplete(Void{})
	return w.msg
}

// iovecs gathers the readable windows of flushed buffers.
func (o *outboundBuffer) iovecs() [][]byte {
	o.iov = o.iov[:0]
	n := o.flushed.Length()
	for i := 0; i < n && len(o.iov) < maxIovecs; i++ {
		buf := o.flushed.Get(i).(*pendingWrite).msg.(api.Buffer)
		if b := buf.Bytes(); len(b) > 0 {
			o.iov = append(o.iov, b)
		}
	}
	return o.iov
}

// removeBytes consumes n written bytes from the front of the flushed queue,
// completing every write that is now fully sent.
func (o *outboundBuffer) removeBytes(n int) {
	for o.flushed.Length() > 0 {
		w := o.flushed.Peek().(*pendingWrite)
		buf := w.msg.(api.Buffer)
		readable := buf.ReadableBytes()
		if readable > n {
			if n > 0 {
				_ = buf.Skip(n)
			}
			return
		}
		_ = buf.Skip(readable)
		n -= readable
		o.complete()
	}
}

// failAll fails and releases every queued write.
func (o *outboundBuffer) failAll(err error) {
	for _, q := range []*queue.Queue{o.flushed, o.unflushed} {
		for q.Length() > 0 {
			w := q.Remove().(*pendingWrite)
			api.SafeRelease(w.msg)
			w.promise.TryFail(err)
		}
	}
}
