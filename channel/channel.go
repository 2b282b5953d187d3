// File: channel/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Channel contract and the lifecycle shared by every transport.

package channel

import (
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/control"
	"github.com/momentics/hioload-nio/future"
	"github.com/momentics/hioload-nio/pool"
)

type (
	Void    = future.Void
	Future  = future.Future[Void]
	Promise = future.Promise[Void]
)

// Channel is one connection or listening socket. All I/O and handler
// callbacks of a channel run on the single loop it is registered with.
type Channel interface {
	ID() ID
	Parent() Channel
	EventLoop() EventLoop
	Pipeline() *Pipeline
	Config() *Config
	Attributes() *Attributes
	Allocator() api.Allocator

	State() State
	IsOpen() bool
	IsRegistered() bool
	IsActive() bool
	LocalAddr() net.Addr
	RemoteAddr() net.Addr

	// Register pins the channel to loop. A channel registers once.
	Register(loop EventLoop) Future

	// Bind starts listening on local. Listening channels only.
	Bind(local net.Addr) future.Future[Channel]

	// Connect starts a non-blocking connect to remote.
	Connect(remote net.Addr) future.Future[Channel]

	// Write enqueues msg without flushing. api.Buffer and []byte are
	// accepted; ownership of msg passes to the channel.
	Write(msg any) Future
	Flush() Channel
	WriteAndFlush(msg any) Future

	// Close is idempotent. Every call returns a future completing with the
	// same close.
	Close() Future
	CloseFuture() Future

	NewPromise() *Promise
}

// transport is the socket-facing half a concrete channel provides. Every
// method except localAddr and remoteAddr runs on the channel's loop.
type transport interface {
	doRegister() error
	activeOnRegister() bool
	doBind(local net.Addr) error
	doConnect(remote net.Addr, p *Promise)
	doBeginRead()
	filterOutbound(msg any) (any, error)
	doWrite(out *outboundBuffer)
	doClose() error
	localAddr() net.Addr
	remoteAddr() net.Addr
}

// listener marks transports that accept Bind.
type listener interface{ listening() }

// base carries the state machine and outbound bookkeeping common to all
// channels.
type base struct {
	self     Channel
	tr       transport
	id       ID
	parent   Channel
	pipeline *Pipeline
	config   *Config
	attrs    *Attributes
	closeFut *Promise
	state    atomic.Int32

	mu   sync.RWMutex
	loop EventLoop

	// Loop-confined after registration.
	out     *outboundBuffer
	closing bool
	untrack func()
	logger  *zap.Logger
	metrics *control.LoopMetrics
}

func (c *base) init(self Channel, tr transport, parent Channel) {
	c.self = self
	c.tr = tr
	c.id = NewID()
	c.parent = parent
	c.config = NewConfig()
	c.attrs = NewAttributes()
	c.closeFut = future.New[Void](nil)
	c.pipeline = newPipeline(self, c)
}

func (c *base) ID() ID                  { return c.id }
func (c *base) Parent() Channel         { return c.parent }
func (c *base) Pipeline() *Pipeline     { return c.pipeline }
func (c *base) Config() *Config         { return c.config }
func (c *base) Attributes() *Attributes { return c.attrs }
func (c *base) State() State            { return State(c.state.Load()) }
func (c *base) IsOpen() bool            { return c.State() != StateClosed }
func (c *base) IsRegistered() bool      { s := c.State(); return s >= StateRegistered && s < StateClosed }
func (c *base) IsActive() bool          { return c.State() == StateActive }
func (c *base) LocalAddr() net.Addr     { return c.tr.localAddr() }
func (c *base) RemoteAddr() net.Addr    { return c.tr.remoteAddr() }
func (c *base) CloseFuture() Future     { return c.closeFut }
func (c *base) String() string          { return "channel " + c.id.Short() }
func (c *base) setState(s State)        { c.state.Store(int32(s)) }
func (c *base) Flush() Channel          { c.pipeline.Flush(); return c.self }
func (c *base) Write(msg any) Future    { return c.pipeline.Write(msg) }

func (c *base) WriteAndFlush(msg any) Future { return c.pipeline.WriteAndFlush(msg) }

func (c *base) EventLoop() EventLoop {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loop
}

// Allocator returns the loop's partition, or an unpooled allocator before
// registration.
func (c *base) Allocator() api.Allocator {
	if l := c.EventLoop(); l != nil {
		return l.Allocator()
	}
	return pool.UnpooledAllocator{}
}

func (c *base) NewPromise() *Promise {
	if l := c.EventLoop(); l != nil {
		return future.New[Void](l)
	}
	return future.New[Void](nil)
}

func (c *base) log() *zap.Logger {
	if c.logger != nil {
		return c.logger
	}
	return zap.L().With(zap.String("channel", c.id.Short()))
}

func (c *base) metricsOrNil() *control.LoopMetrics { return c.metrics }

func (c *base) Bind(local net.Addr) future.Future[Channel] {
	return future.Map(c.pipeline.Bind(local), c.toChannel)
}

func (c *base) Connect(remote net.Addr) future.Future[Channel] {
	return future.Map(c.pipeline.Connect(remote), c.toChannel)
}

func (c *base) toChannel(Void) (Channel, error) { return c.self, nil }

func (c *base) Close() Future {
	if c.State() == StateClosed {
		return future.Succeeded[Void](c.EventLoop(), Void{})
	}
	return c.pipeline.Close()
}

// invokeLater queues fn on the loop, running it inline once the loop stopped
// taking tasks.
func (c *base) invokeLater(fn func()) {
	if err := c.loop.Execute(fn); err != nil {
		fn()
	}
}

func (c *base) Register(loop EventLoop) Future {
	if loop == nil {
		return future.Failed[Void](nil, api.NewError(api.ErrCodeInvalidArgument, "register nil loop"))
	}
	p := future.New[Void](loop)
	c.mu.Lock()
	if c.loop != nil {
		c.mu.Unlock()
		_ = p.Fail(api.NewError(api.ErrCodeInvalidArgument, "channel already registered").WithContext("channel", c.id.Short()))
		return p
	}
	if c.State() == StateClosed {
		c.mu.Unlock()
		_ = p.Fail(api.NewError(api.ErrCodeChannelClosed, "register"))
		return p
	}
	c.loop = loop
	c.mu.Unlock()

	if loop.InEventLoop() {
		c.register0(p)
		return p
	}
	if err := loop.Execute(func() { c.register0(p) }); err != nil {
		c.closeForcibly()
		p.TryFail(err)
	}
	return p
}

func (c *base) register0(p *Promise) {
	if !p.SetUncancellable() || !c.IsOpen() {
		c.closeForcibly()
		p.TryFail(api.NewError(api.ErrCodeChannelClosed, "register"))
		return
	}
	c.logger = c.loop.Logger().With(zap.String("channel", c.id.Short()))
	c.metrics = c.loop.Metrics()
	untrack, err := c.loop.Track(closerFunc(func() error {
		c.Close()
		return nil
	}))
	if err != nil {
		c.closeForcibly()
		p.TryFail(err)
		return
	}
	c.untrack = untrack
	c.out = newOutboundBuffer()
	if err := c.tr.doRegister(); err != nil {
		c.closeForcibly()
		p.TryFail(err)
		return
	}
	c.setState(StateRegistered)
	c.pipeline.registerPending()
	p.TryComplete(Void{})
	if !c.IsOpen() {
		return
	}
	c.pipeline.FireChannelRegistered()
	if c.tr.activeOnRegister() && c.IsOpen() {
		c.becomeActive()
	}
}

// becomeActive marks the channel connected, fires channelActive and starts
// reading.
func (c *base) becomeActive() {
	c.setState(StateActive)
	c.pipeline.FireChannelActive()
	if c.IsActive() {
		c.tr.doBeginRead()
	}
}

// closeForcibly closes without firing events, for channels that never
// completed registration.
func (c *base) closeForcibly() {
	if err := c.tr.doClose(); err != nil {
		c.log().Debug("forcible close", zap.Error(err))
	}
	if c.out != nil {
		c.out.failAll(api.NewError(api.ErrCodeChannelClosed, "write"))
	}
	c.setState(StateClosed)
	if c.untrack != nil {
		c.untrack()
	}
	c.closeFut.TryComplete(Void{})
}

func (c *base) bind0(local net.Addr, p *Promise) {
	if !p.SetUncancellable() {
		return
	}
	if _, ok := c.tr.(listener); !ok {
		p.TryFail(api.NewError(api.ErrCodeNotSupported, "bind on a connection channel"))
		return
	}
	if !c.IsOpen() {
		p.TryFail(api.NewError(api.ErrCodeChannelClosed, "bind"))
		return
	}
	if c.State() != StateRegistered {
		p.TryFail(api.NewError(api.ErrCodeInvalidArgument, "bind").WithContext("state", c.State().String()))
		return
	}
	if err := c.tr.doBind(local); err != nil {
		p.TryFail(err)
		return
	}
	p.TryComplete(Void{})
}

func (c *base) connect0(remote net.Addr, p *Promise) {
	if !c.IsOpen() {
		p.TryFail(api.NewError(api.ErrCodeChannelClosed, "connect"))
		return
	}
	if c.State() != StateRegistered {
		p.TryFail(api.NewError(api.ErrCodeInvalidArgument, "connect").WithContext("state", c.State().String()))
		return
	}
	c.tr.doConnect(remote, p)
}

// release drops a message the channel owns. A counted message that is
// already at zero is logged instead of released again.
func (c *base) release(msg any) {
	if rc, ok := msg.(api.ReferenceCounted); ok && rc.RefCnt() <= 0 {
		c.log().Debug("message already released", zap.String("type", typeName(msg)))
		return
	}
	api.SafeRelease(msg)
}

func (c *base) write0(msg any, p *Promise) {
	if rc, ok := msg.(api.ReferenceCounted); ok && rc.RefCnt() <= 0 {
		p.TryFail(api.NewError(api.ErrCodeIllegalRefCount, "write").
			WithContext("channel", c.id.Short()).WithContext("refCnt", rc.RefCnt()))
		return
	}
	if c.out == nil || !c.self.IsActive() {
		c.release(msg)
		p.TryFail(api.NewError(api.ErrCodeChannelClosed, "write").WithContext("channel", c.id.Short()))
		return
	}
	m, err := c.tr.filterOutbound(msg)
	if err != nil {
		c.release(msg)
		p.TryFail(err)
		return
	}
	c.out.add(m, p)
}

func (c *base) flush0() {
	if c.out == nil || !c.self.IsActive() {
		return
	}
	c.out.addFlush()
	c.tr.doWrite(c.out)
}

func (c *base) close0(p *Promise) {
	p.SetUncancellable()
	if c.State() == StateClosed && !c.closing {
		p.TryComplete(Void{})
		return
	}
	if c.closing {
		future.Cascade[Void](c.closeFut, p)
		return
	}
	c.closing = true
	wasActive := c.IsActive()
	wasRegistered := c.State() >= StateRegistered

	if err := c.tr.doClose(); err != nil {
		c.log().Debug("close", zap.Error(err))
	}
	if c.out != nil {
		c.out.failAll(api.NewError(api.ErrCodeChannelClosed, "write").WithContext("channel", c.id.Short()))
	}
	if wasActive {
		c.setState(StateInactive)
	}
	c.setState(StateClosed)
	c.closeFut.TryComplete(Void{})
	p.TryComplete(Void{})

	if !wasRegistered {
		c.closing = false
		return
	}
	c.invokeLater(func() {
		if wasActive {
			c.pipeline.FireChannelInactive()
		}
		c.pipeline.FireChannelUnregistered()
		c.pipeline.destroy()
		if c.untrack != nil {
			c.untrack()
		}
		c.closing = false
	})
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
