// File: bootstrap/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server bootstrap: a listening channel on the boss group whose accepted
// children are set up and registered on the worker group.

package bootstrap

import (
	"net"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/channel"
	"github.com/momentics/hioload-nio/control"
	"github.com/momentics/hioload-nio/eventloop"
	"github.com/momentics/hioload-nio/future"
	"github.com/momentics/hioload-nio/transport/tcp"
)

// ServerBootstrap binds listening channels.
type ServerBootstrap struct {
	settings

	workers      *eventloop.Group
	childOptions *channel.Config
	childAttrs   *channel.Attributes
	childHandler any
	host         string
}

// NewServer returns a server bootstrap creating channel.ServerSocketChannel.
func NewServer() *ServerBootstrap {
	return &ServerBootstrap{
		settings:     newSettings(func() channel.Channel { return channel.NewServerSocketChannel() }),
		childOptions: channel.NewConfig(),
		childAttrs:   channel.NewAttributes(),
	}
}

// Group sets the boss group that accepts and the worker group that serves
// children. Without a worker group the boss group serves both.
func (b *ServerBootstrap) Group(boss *eventloop.Group, worker ...*eventloop.Group) *ServerBootstrap {
	b.group = boss
	b.workers = boss
	if len(worker) > 0 && worker[0] != nil {
		b.workers = worker[0]
	}
	return b
}

func (b *ServerBootstrap) ChannelFactory(f ChannelFactory) *ServerBootstrap {
	b.factory = f
	return b
}

// Option sets an option of the listening channel.
func (b *ServerBootstrap) Option(opt channel.Option, v any) *ServerBootstrap {
	b.setOption(opt, v)
	return b
}

// ChildOption sets an option of every accepted channel.
func (b *ServerBootstrap) ChildOption(opt channel.Option, v any) *ServerBootstrap {
	if err := b.childOptions.Set(opt, v); err != nil {
		b.errs = multierror.Append(b.errs, err)
	}
	return b
}

func (b *ServerBootstrap) Attr(key string, v any) *ServerBootstrap {
	b.attrs.Set(key, v)
	return b
}

func (b *ServerBootstrap) ChildAttr(key string, v any) *ServerBootstrap {
	b.childAttrs.Set(key, v)
	return b
}

// Handler sets an optional handler for the listening channel. It sees
// accepted children as channelRead messages before the acceptor.
func (b *ServerBootstrap) Handler(h any) *ServerBootstrap {
	b.handler = h
	return b
}

// ChildHandler sets the handler added to every accepted channel. It is
// shared between children; use channel.Initializer for per-child state.
func (b *ServerBootstrap) ChildHandler(h any) *ServerBootstrap {
	b.childHandler = h
	return b
}

// Configure applies the server section of cfg: listener host, backlog and
// address reuse, child keep-alive and no-delay, and buffer sizing.
func (b *ServerBootstrap) Configure(cfg *control.Config) *ServerBootstrap {
	b.host = cfg.Server.Host
	if cfg.Server.Backlog > 0 {
		b.setOption(channel.SoBacklog, cfg.Server.Backlog)
	}
	b.setOption(channel.SoReuseAddr, cfg.Server.ReuseAddr)
	b.ChildOption(channel.SoKeepAlive, cfg.Server.KeepAlive)
	b.ChildOption(channel.TCPNoDelay, cfg.Server.NoDelay)
	child := settings{options: b.childOptions}
	applyBuffer(&child, cfg.Buffer)
	if child.errs != nil {
		b.errs = multierror.Append(b.errs, child.errs.Errors...)
	}
	return b
}

// Validate reports missing groups, factory or child handler and invalid
// options. The listening channel handler is optional.
func (b *ServerBootstrap) Validate() error {
	var extra []error
	if b.childHandler == nil {
		extra = append(extra, invalid("server bootstrap: child handler not set"))
	}
	return b.validate("server bootstrap", false, extra...)
}

// Bind listens on port on the configured host, all interfaces by default.
func (b *ServerBootstrap) Bind(port int) future.Future[channel.Channel] {
	addr, err := tcp.ResolveAddr(b.host, port)
	if err != nil {
		return future.Failed[channel.Channel](nil, err)
	}
	return b.BindAddr(addr)
}

// BindAddr registers a listening channel on the boss group and binds it to
// local. The future resolves with the bound channel; on failure the channel
// is closed.
func (b *ServerBootstrap) BindAddr(local net.Addr) future.Future[channel.Channel] {
	if err := b.Validate(); err != nil {
		return future.Failed[channel.Channel](nil, err)
	}
	ch, err := b.prepare()
	if err != nil {
		return future.Failed[channel.Channel](nil, err)
	}
	acc := &acceptor{
		workers: b.workers,
		handler: b.childHandler,
		options: channel.NewConfig(),
		attrs:   channel.NewAttributes(),
	}
	acc.options.SetAll(b.childOptions)
	b.childAttrs.CopyTo(acc.attrs)
	if err := ch.Pipeline().AddLast("acceptor", acc); err != nil {
		ch.Close()
		return future.Failed[channel.Channel](nil, err)
	}

	loop := b.group.Next()
	out := future.New[channel.Channel](loop)
	ch.Register(loop).AddListener(func(f channel.Future) {
		if err := f.Err(); err != nil {
			out.TryFail(err)
			return
		}
		ch.Bind(local).AddListener(func(f future.Future[channel.Channel]) {
			if err := f.Err(); err != nil {
				ch.Close()
				out.TryFail(err)
				return
			}
			out.TryComplete(ch)
		})
	})
	return out
}

// acceptor sets up accepted children and registers them on a worker loop.
type acceptor struct {
	workers *eventloop.Group
	handler any
	options *channel.Config
	attrs   *channel.Attributes
}

func (a *acceptor) ChannelRead(ctx *channel.HandlerContext, msg any) {
	child, ok := msg.(channel.Channel)
	if !ok {
		ctx.FireChannelRead(msg)
		return
	}
	child.Config().SetAll(a.options)
	a.attrs.CopyTo(child.Attributes())
	if err := child.Pipeline().AddLast("", a.handler); err != nil {
		ctx.Logger().Warn("child setup failed", zap.Error(err))
		child.Close()
		return
	}
	child.Register(a.workers.Next()).AddListener(func(f channel.Future) {
		if err := f.Err(); err != nil {
			ctx.Logger().Warn("child registration failed",
				zap.String("child", child.ID().Short()), zap.Error(err))
			child.Close()
		}
	})
}

// ExceptionCaught logs accept failures. Fatal ones also close the listener.
func (a *acceptor) ExceptionCaught(ctx *channel.HandlerContext, err error) {
	ctx.Logger().Warn("accept failed", zap.Error(err))
}
