// File: channel/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"fmt"
	"net"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/api"
)

// HandlerContext binds one handler to its position in a pipeline. Fire*
// methods pass an inbound event to the next handler towards the tail;
// outbound methods pass an operation to the previous handler towards the
// head. Calls from outside the channel's loop are marshalled onto it.
type HandlerContext struct {
	pipeline *Pipeline
	name     string
	handler  any
	mask     mask

	prev, next *HandlerContext

	removed atomic.Bool
	added   bool
}

func newContext(p *Pipeline, name string, h any, m mask) *HandlerContext {
	return &HandlerContext{pipeline: p, name: name, handler: h, mask: m}
}

func (c *HandlerContext) Name() string         { return c.name }
func (c *HandlerContext) Handler() any         { return c.handler }
func (c *HandlerContext) Pipeline() *Pipeline  { return c.pipeline }
func (c *HandlerContext) Channel() Channel     { return c.pipeline.channel }
func (c *HandlerContext) EventLoop() EventLoop { return c.pipeline.channel.EventLoop() }
func (c *HandlerContext) IsRemoved() bool      { return c.removed.Load() }

// Allocator returns the allocator of the channel's loop.
func (c *HandlerContext) Allocator() api.Allocator { return c.pipeline.channel.Allocator() }

// Logger returns the channel logger annotated with the handler name.
func (c *HandlerContext) Logger() *zap.Logger {
	return c.pipeline.core.log().With(zap.String("handler", c.name))
}

// NewPromise creates a promise notified on the channel's loop.
func (c *HandlerContext) NewPromise() *Promise { return c.pipeline.channel.NewPromise() }

// run invokes fn on the channel's loop, inline when already there.
func (c *HandlerContext) run(fn func()) error {
	loop := c.pipeline.channel.EventLoop()
	if loop == nil || loop.InEventLoop() {
		fn()
		return nil
	}
	return loop.Execute(fn)
}

// findInbound and findOutbound may run off the loop while the loop relinks
// contexts, so the walk holds the pipeline read lock.
func (c *HandlerContext) findInbound(m mask) *HandlerContext {
	c.pipeline.mu.RLock()
	defer c.pipeline.mu.RUnlock()
	n := c.next
	for n.mask&m == 0 {
		n = n.next
	}
	return n
}

func (c *HandlerContext) findOutbound(m mask) *HandlerContext {
	c.pipeline.mu.RLock()
	defer c.pipeline.mu.RUnlock()
	n := c.prev
	for n.mask&m == 0 {
		n = n.prev
	}
	return n
}

func panicError(name string, r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("handler %q panicked: %w", name, err)
	}
	return fmt.Errorf("handler %q panicked: %v", name, r)
}

// guard recovers a handler panic and redirects it into exceptionCaught
// starting at this context.
func (c *HandlerContext) guard(p *Promise) {
	r := recover()
	if r == nil {
		return
	}
	err := panicError(c.name, r)
	c.pipeline.core.metricsOrNil().Panic()
	if p != nil {
		p.TryFail(err)
	}
	target := c
	if c.mask&maskException == 0 {
		target = c.findInbound(maskException)
	}
	target.invokeExceptionCaught(err)
}

func (c *HandlerContext) rejected(op string, err error) {
	c.pipeline.core.log().Warn("event dropped, loop rejected task",
		zap.String("op", op), zap.String("handler", c.name), zap.Error(err))
}

// Inbound.

func (c *HandlerContext) FireChannelRegistered() {
	c.findInbound(maskRegistered).invokeChannelRegistered()
}

func (c *HandlerContext) invokeChannelRegistered() {
	if err := c.run(func() {
		defer c.guard(nil)
		c.handler.(ChannelRegisteredHandler).ChannelRegistered(c)
	}); err != nil {
		c.rejected("channelRegistered", err)
	}
}

func (c *HandlerContext) FireChannelUnregistered() {
	c.findInbound(maskUnregistered).invokeChannelUnregistered()
}

func (c *HandlerContext) invokeChannelUnregistered() {
	if err := c.run(func() {
		defer c.guard(nil)
		c.handler.(ChannelUnregisteredHandler).ChannelUnregistered(c)
	}); err != nil {
		c.rejected("channelUnregistered", err)
	}
}

func (c *HandlerContext) FireChannelActive() {
	c.findInbound(maskActive).invokeChannelActive()
}

func (c *HandlerContext) invokeChannelActive() {
	if err := c.run(func() {
		defer c.guard(nil)
		c.handler.(ChannelActiveHandler).ChannelActive(c)
	}); err != nil {
		c.rejected("channelActive", err)
	}
}

func (c *HandlerContext) FireChannelInactive() {
	c.findInbound(maskInactive).invokeChannelInactive()
}

func (c *HandlerContext) invokeChannelInactive() {
	if err := c.run(func() {
		defer c.guard(nil)
		c.handler.(ChannelInactiveHandler).ChannelInactive(c)
	}); err != nil {
		c.rejected("channelInactive", err)
	}
}

// FireChannelRead passes msg, and its ownership, to the next reader.
func (c *HandlerContext) FireChannelRead(msg any) {
	c.findInbound(maskRead).invokeChannelRead(msg)
}

func (c *HandlerContext) invokeChannelRead(msg any) {
	if err := c.run(func() {
		defer c.guard(nil)
		c.handler.(ChannelReadHandler).ChannelRead(c, msg)
	}); err != nil {
		c.pipeline.core.release(msg)
		c.rejected("channelRead", err)
	}
}

func (c *HandlerContext) FireChannelReadComplete() {
	c.findInbound(maskReadComplete).invokeChannelReadComplete()
}

func (c *HandlerContext) invokeChannelReadComplete() {
	if err := c.run(func() {
		defer c.guard(nil)
		c.handler.(ChannelReadCompleteHandler).ChannelReadComplete(c)
	}); err != nil {
		c.rejected("channelReadComplete", err)
	}
}

func (c *HandlerContext) FireUserEventTriggered(evt any) {
	c.findInbound(maskUserEvent).invokeUserEventTriggered(evt)
}

func (c *HandlerContext) invokeUserEventTriggered(evt any) {
	if err := c.run(func() {
		defer c.guard(nil)
		c.handler.(UserEventHandler).UserEventTriggered(c, evt)
	}); err != nil {
		c.pipeline.core.release(evt)
		c.rejected("userEventTriggered", err)
	}
}

func (c *HandlerContext) FireExceptionCaught(err error) {
	c.findInbound(maskException).invokeExceptionCaught(err)
}

// invokeExceptionCaught never re-dispatches a panic from the handler.
func (c *HandlerContext) invokeExceptionCaught(cause error) {
	if err := c.run(func() {
		defer func() {
			if r := recover(); r != nil {
				c.pipeline.core.metricsOrNil().Panic()
				c.pipeline.core.log().Warn("exception handler panicked",
					zap.String("handler", c.name), zap.Any("panic", r), zap.NamedError("cause", cause))
			}
		}()
		c.handler.(ExceptionHandler).ExceptionCaught(c, cause)
	}); err != nil {
		c.rejected("exceptionCaught", err)
	}
}

// Outbound.

func (c *HandlerContext) Bind(local net.Addr) Future {
	p := c.NewPromise()
	c.BindPromise(local, p)
	return p
}

func (c *HandlerContext) BindPromise(local net.Addr, p *Promise) {
	n := c.findOutbound(maskBind)
	if err := n.run(func() {
		defer n.guard(p)
		n.handler.(BindHandler).Bind(n, local, p)
	}); err != nil {
		p.TryFail(api.Wrap(api.ErrLoopShutdown, "bind", err))
	}
}

func (c *HandlerContext) Connect(remote net.Addr) Future {
	p := c.NewPromise()
	c.ConnectPromise(remote, p)
	return p
}

func (c *HandlerContext) ConnectPromise(remote net.Addr, p *Promise) {
	n := c.findOutbound(maskConnect)
	if err := n.run(func() {
		defer n.guard(p)
		n.handler.(ConnectHandler).Connect(n, remote, p)
	}); err != nil {
		p.TryFail(api.Wrap(api.ErrLoopShutdown, "connect", err))
	}
}

// Write enqueues msg without flushing. Ownership of msg passes on.
func (c *HandlerContext) Write(msg any) Future {
	p := c.NewPromise()
	c.WritePromise(msg, p)
	return p
}

func (c *HandlerContext) WritePromise(msg any, p *Promise) {
	n := c.findOutbound(maskWrite)
	if err := n.run(func() {
		defer n.guard(p)
		n.handler.(WriteHandler).Write(n, msg, p)
	}); err != nil {
		c.pipeline.core.release(msg)
		p.TryFail(api.Wrap(api.ErrLoopShutdown, "write", err))
	}
}

func (c *HandlerContext) Flush() {
	n := c.findOutbound(maskFlush)
	if err := n.run(func() {
		defer n.guard(nil)
		n.handler.(FlushHandler).Flush(n)
	}); err != nil {
		c.rejected("flush", err)
	}
}

func (c *HandlerContext) WriteAndFlush(msg any) Future {
	f := c.Write(msg)
	c.Flush()
	return f
}

func (c *HandlerContext) Close() Future {
	p := c.NewPromise()
	c.ClosePromise(p)
	return p
}

func (c *HandlerContext) ClosePromise(p *Promise) {
	n := c.findOutbound(maskClose)
	if err := n.run(func() {
		defer n.guard(p)
		n.handler.(CloseHandler).Close(n, p)
	}); err != nil {
		p.TryFail(api.Wrap(api.ErrLoopShutdown, "close", err))
	}
}

// Lifecycle.

func (c *HandlerContext) callHandlerAdded() {
	if c.added || c.removed.Load() {
		return
	}
	c.added = true
	h, ok := c.handler.(HandlerAddedHandler)
	if !ok {
		return
	}
	func() {
		defer c.guard(nil)
		h.HandlerAdded(c)
	}()
}

func (c *HandlerContext) callHandlerRemoved() {
	if !c.added {
		return
	}
	h, ok := c.handler.(HandlerRemovedHandler)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.pipeline.core.log().Warn("handler removal panicked", zap.String("handler", c.name), zap.Any("panic", r))
		}
	}()
	h.HandlerRemoved(c)
}
