// File: channel/pipeline.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"fmt"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/future"
)

const (
	headName = "head"
	tailName = "tail"
)

// Pipeline is the ordered handler chain of one channel, bounded by a head
// that talks to the transport and a tail that sinks unhandled events.
// Mutations of a registered pipeline run on the channel's loop; off-loop
// callers block until the loop applied them.
type Pipeline struct {
	channel Channel
	core    *base

	mu    sync.RWMutex
	head  *HandlerContext
	tail  *HandlerContext
	names map[string]*HandlerContext
	seq   int

	registered bool
	pending    []*HandlerContext

	// Hooks replacing the tail's default handling; set by EmbeddedChannel.
	onUnhandledRead      func(msg any)
	onUnhandledException func(err error)
}

func newPipeline(ch Channel, core *base) *Pipeline {
	p := &Pipeline{channel: ch, core: core, names: make(map[string]*HandlerContext)}
	p.head = newContext(p, headName, headHandler{core: core}, maskBind|maskConnect|maskWrite|maskFlush|maskClose)
	p.tail = newContext(p, tailName, tailHandler{p: p},
		maskRegistered|maskUnregistered|maskActive|maskInactive|maskRead|maskReadComplete|maskUserEvent|maskException)
	p.head.next = p.tail
	p.tail.prev = p.head
	p.head.added, p.tail.added = true, true
	return p
}

// Channel returns the owning channel.
func (p *Pipeline) Channel() Channel { return p.channel }

// mutate applies fn on the loop of a registered channel.
func (p *Pipeline) mutate(fn func() error) error {
	loop := p.channel.EventLoop()
	if loop == nil || loop.InEventLoop() {
		return fn()
	}
	errc := make(chan error, 1)
	if err := loop.Execute(func() { errc <- fn() }); err != nil {
		return api.Wrap(api.ErrLoopShutdown, "pipeline mutation", err)
	}
	var terminated <-chan struct{}
	if t, ok := loop.(terminable); ok {
		terminated = t.TerminationFuture().Done()
	}
	select {
	case err := <-errc:
		return err
	case <-terminated:
		select {
		case err := <-errc:
			return err
		default:
		}
		return api.NewError(api.ErrCodeLoopShutdown, "pipeline mutation").WithContext("reason", "task dropped at termination")
	}
}

// terminable is implemented by loops exposing their termination future.
type terminable interface {
	TerminationFuture() future.Future[future.Void]
}

func (p *Pipeline) generateName(h any) string {
	base := strings.TrimPrefix(fmt.Sprintf("%T", h), "*")
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		base = base[i+1:]
	}
	for {
		p.seq++
		name := fmt.Sprintf("%s#%d", base, p.seq)
		if _, ok := p.names[name]; !ok {
			return name
		}
	}
}

// insert links a new context for h after the context returned by anchor.
func (p *Pipeline) insert(name string, h any, anchor func() (*HandlerContext, error)) error {
	if h == nil {
		return api.NewError(api.ErrCodeInvalidArgument, "nil handler")
	}
	return p.mutate(func() error {
		p.mu.Lock()
		if name == "" {
			name = p.generateName(h)
		} else if _, dup := p.names[name]; dup || name == headName || name == tailName {
			p.mu.Unlock()
			return api.NewError(api.ErrCodeInvalidArgument, "duplicate handler name").WithContext("name", name)
		}
		prev, err := anchor()
		if err != nil {
			p.mu.Unlock()
			return err
		}
		ctx := newContext(p, name, h, maskOf(h))
		ctx.prev = prev
		ctx.next = prev.next
		prev.next.prev = ctx
		prev.next = ctx
		p.names[name] = ctx
		registered := p.registered
		if !registered {
			p.pending = append(p.pending, ctx)
		}
		p.mu.Unlock()
		if registered {
			ctx.callHandlerAdded()
		}
		return nil
	})
}

func (p *Pipeline) lookup(name string) (*HandlerContext, error) {
	ctx, ok := p.names[name]
	if !ok {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "no such handler").WithContext("name", name)
	}
	return ctx, nil
}

// AddFirst inserts h right after the head. An empty name is generated.
func (p *Pipeline) AddFirst(name string, h any) error {
	return p.insert(name, h, func() (*HandlerContext, error) { return p.head, nil })
}

// AddLast inserts h right before the tail. An empty name is generated.
func (p *Pipeline) AddLast(name string, h any) error {
	return p.insert(name, h, func() (*HandlerContext, error) { return p.tail.prev, nil })
}

// AddBefore inserts h before the handler named base.
func (p *Pipeline) AddBefore(base, name string, h any) error {
	return p.insert(name, h, func() (*HandlerContext, error) {
		ctx, err := p.lookup(base)
		if err != nil {
			return nil, err
		}
		return ctx.prev, nil
	})
}

// AddAfter inserts h after the handler named base.
func (p *Pipeline) AddAfter(base, name string, h any) error {
	return p.insert(name, h, func() (*HandlerContext, error) { return p.lookup(base) })
}

// Remove unlinks the named handler and returns it.
func (p *Pipeline) Remove(name string) (any, error) {
	var h any
	err := p.mutate(func() error {
		p.mu.RLock()
		ctx, err := p.lookup(name)
		p.mu.RUnlock()
		if err != nil {
			return err
		}
		h = ctx.handler
		return p.removeContext(ctx)
	})
	return h, err
}

// removeContext runs on the loop, or before registration.
func (p *Pipeline) removeContext(ctx *HandlerContext) error {
	p.mu.Lock()
	if ctx.removed.Load() {
		p.mu.Unlock()
		return nil
	}
	p.unlink(ctx)
	p.mu.Unlock()
	ctx.callHandlerRemoved()
	return nil
}

func (p *Pipeline) unlink(ctx *HandlerContext) {
	ctx.prev.next = ctx.next
	ctx.next.prev = ctx.prev
	delete(p.names, ctx.name)
	ctx.removed.Store(true)
}

// Replace swaps the handler named old for h registered as name, and
// returns the old handler.
func (p *Pipeline) Replace(old, name string, h any) (any, error) {
	if h == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "nil handler")
	}
	var prevHandler any
	err := p.mutate(func() error {
		p.mu.Lock()
		octx, err := p.lookup(old)
		if err != nil {
			p.mu.Unlock()
			return err
		}
		if name == "" {
			name = old
		}
		if _, dup := p.names[name]; dup && name != old {
			p.mu.Unlock()
			return api.NewError(api.ErrCodeInvalidArgument, "duplicate handler name").WithContext("name", name)
		}
		ctx := newContext(p, name, h, maskOf(h))
		ctx.prev, ctx.next = octx.prev, octx.next
		octx.prev.next = ctx
		octx.next.prev = ctx
		delete(p.names, octx.name)
		octx.removed.Store(true)
		p.names[name] = ctx
		registered := p.registered
		if !registered {
			p.pending = append(p.pending, ctx)
		}
		p.mu.Unlock()
		prevHandler = octx.handler
		if registered {
			ctx.callHandlerAdded()
		}
		octx.callHandlerRemoved()
		return nil
	})
	return prevHandler, err
}

// Get returns the named handler or nil.
func (p *Pipeline) Get(name string) any {
	if ctx := p.Context(name); ctx != nil {
		return ctx.handler
	}
	return nil
}

// Context returns the named handler's context or nil.
func (p *Pipeline) Context(name string) *HandlerContext {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.names[name]
}

// Names lists handler names from head to tail, excluding both.
func (p *Pipeline) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []string
	for c := p.head.next; c != p.tail; c = c.next {
		out = append(out, c.name)
	}
	return out
}

// Len returns the number of user handlers.
func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.names)
}

// registerPending runs HandlerAdded for handlers added before registration.
func (p *Pipeline) registerPending() {
	p.mu.Lock()
	p.registered = true
	pend := p.pending
	p.pending = nil
	p.mu.Unlock()
	for _, ctx := range pend {
		ctx.callHandlerAdded()
	}
}

// destroy removes every handler from tail to head.
func (p *Pipeline) destroy() {
	for {
		p.mu.Lock()
		ctx := p.tail.prev
		if ctx == p.head {
			p.mu.Unlock()
			return
		}
		p.unlink(ctx)
		p.mu.Unlock()
		ctx.callHandlerRemoved()
	}
}

// Inbound triggers start at the head.

func (p *Pipeline) FireChannelRegistered()         { p.head.FireChannelRegistered() }
func (p *Pipeline) FireChannelUnregistered()       { p.head.FireChannelUnregistered() }
func (p *Pipeline) FireChannelActive()             { p.head.FireChannelActive() }
func (p *Pipeline) FireChannelInactive()           { p.head.FireChannelInactive() }
func (p *Pipeline) FireChannelRead(msg any)        { p.head.FireChannelRead(msg) }
func (p *Pipeline) FireChannelReadComplete()       { p.head.FireChannelReadComplete() }
func (p *Pipeline) FireUserEventTriggered(evt any) { p.head.FireUserEventTriggered(evt) }
func (p *Pipeline) FireExceptionCaught(err error)  { p.head.FireExceptionCaught(err) }

// Outbound operations start at the tail.

func (p *Pipeline) Bind(local net.Addr) Future        { return p.tail.Bind(local) }
func (p *Pipeline) Connect(remote net.Addr) Future    { return p.tail.Connect(remote) }
func (p *Pipeline) Write(msg any) Future              { return p.tail.Write(msg) }
func (p *Pipeline) Flush()                            { p.tail.Flush() }
func (p *Pipeline) WriteAndFlush(msg any) Future      { return p.tail.WriteAndFlush(msg) }
func (p *Pipeline) Close() Future                     { return p.tail.Close() }
func (p *Pipeline) ClosePromise(pr *Promise)          { p.tail.ClosePromise(pr) }
func (p *Pipeline) WritePromise(msg any, pr *Promise) { p.tail.WritePromise(msg, pr) }

// headHandler forwards outbound operations to the transport.
type headHandler struct{ core *base }

func (h headHandler) Bind(_ *HandlerContext, local net.Addr, p *Promise) { h.core.bind0(local, p) }
func (h headHandler) Connect(_ *HandlerContext, remote net.Addr, p *Promise) {
	h.core.connect0(remote, p)
}
func (h headHandler) Write(_ *HandlerContext, msg any, p *Promise) { h.core.write0(msg, p) }
func (h headHandler) Flush(_ *HandlerContext)                      { h.core.flush0() }
func (h headHandler) Close(_ *HandlerContext, p *Promise)          { h.core.close0(p) }

// tailHandler is the sink of inbound events nobody handled.
type tailHandler struct{ p *Pipeline }

func (tailHandler) ChannelRegistered(*HandlerContext)   {}
func (tailHandler) ChannelUnregistered(*HandlerContext) {}
func (tailHandler) ChannelActive(*HandlerContext)       {}
func (tailHandler) ChannelInactive(*HandlerContext)     {}
func (tailHandler) ChannelReadComplete(*HandlerContext) {}

func (t tailHandler) ChannelRead(_ *HandlerContext, msg any) {
	if t.p.onUnhandledRead != nil {
		t.p.onUnhandledRead(msg)
		return
	}
	if ch, ok := msg.(Channel); ok {
		t.p.core.log().Debug("closing accepted channel nobody took", zap.String("child", ch.ID().Short()))
		ch.Close()
		return
	}
	t.p.core.log().Debug("discarded inbound message that reached the tail",
		zap.String("type", typeName(msg)))
	t.p.core.release(msg)
}

func (t tailHandler) UserEventTriggered(_ *HandlerContext, evt any) {
	t.p.core.release(evt)
}

func (t tailHandler) ExceptionCaught(_ *HandlerContext, err error) {
	t.p.core.metricsOrNil().Exception()
	if t.p.onUnhandledException != nil {
		t.p.onUnhandledException(err)
		return
	}
	t.p.core.log().Warn("unhandled exception reached the tail, closing channel", zap.Error(err))
	t.p.channel.Close()
}

func typeName(v any) string { return fmt.Sprintf("%T", v) }
