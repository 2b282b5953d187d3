// File: bootstrap/bootstrap.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Client bootstrap: builds, registers and connects one channel.

package bootstrap

import (
	"context"
	"net"

	"github.com/hashicorp/go-multierror"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/channel"
	"github.com/momentics/hioload-nio/control"
	"github.com/momentics/hioload-nio/eventloop"
	"github.com/momentics/hioload-nio/future"
	"github.com/momentics/hioload-nio/transport/tcp"
)

// ChannelFactory creates the channel a bootstrap registers.
type ChannelFactory func() channel.Channel

// settings is the part shared by client and server bootstraps.
type settings struct {
	group   *eventloop.Group
	factory ChannelFactory
	options *channel.Config
	attrs   *channel.Attributes
	handler any
	errs    *multierror.Error
}

func newSettings(factory ChannelFactory) settings {
	return settings{
		factory: factory,
		options: channel.NewConfig(),
		attrs:   channel.NewAttributes(),
	}
}

func (s *settings) setOption(opt channel.Option, v any) {
	if err := s.options.Set(opt, v); err != nil {
		s.errs = multierror.Append(s.errs, err)
	}
}

// validate aggregates every configuration problem into one error.
func (s *settings) validate(what string, needHandler bool, extra ...error) error {
	var errs *multierror.Error
	if s.group == nil {
		errs = multierror.Append(errs, invalid(what+": group not set"))
	}
	if s.factory == nil {
		errs = multierror.Append(errs, invalid(what+": channel factory not set"))
	}
	if needHandler && s.handler == nil {
		errs = multierror.Append(errs, invalid(what+": handler not set"))
	}
	errs = multierror.Append(errs, extra...)
	if s.errs != nil {
		errs = multierror.Append(errs, s.errs.Errors...)
	}
	return errs.ErrorOrNil()
}

// prepare creates a channel and applies options, attributes and the handler.
func (s *settings) prepare() (channel.Channel, error) {
	ch := s.factory()
	ch.Config().SetAll(s.options)
	s.attrs.CopyTo(ch.Attributes())
	if s.handler != nil {
		if err := ch.Pipeline().AddLast("", s.handler); err != nil {
			ch.Close()
			return nil, err
		}
	}
	return ch, nil
}

// Bootstrap connects client channels. Setters return the bootstrap for
// chaining; invalid options are reported by Validate and Connect.
type Bootstrap struct {
	settings
}

// New returns a client bootstrap creating channel.SocketChannel.
func New() *Bootstrap {
	return &Bootstrap{settings: newSettings(func() channel.Channel { return channel.NewSocketChannel() })}
}

func (b *Bootstrap) Group(g *eventloop.Group) *Bootstrap {
	b.group = g
	return b
}

func (b *Bootstrap) ChannelFactory(f ChannelFactory) *Bootstrap {
	b.factory = f
	return b
}

func (b *Bootstrap) Option(opt channel.Option, v any) *Bootstrap {
	b.setOption(opt, v)
	return b
}

func (b *Bootstrap) Attr(key string, v any) *Bootstrap {
	b.attrs.Set(key, v)
	return b
}

// Handler sets the handler added to every channel. It is shared between
// channels; use channel.Initializer for per-channel handlers.
func (b *Bootstrap) Handler(h any) *Bootstrap {
	b.handler = h
	return b
}

// Configure applies the client section of cfg.
func (b *Bootstrap) Configure(cfg *control.Config) *Bootstrap {
	b.setOption(channel.SoKeepAlive, cfg.Client.KeepAlive)
	if cfg.Client.ConnectTimeout > 0 {
		b.setOption(channel.ConnectTimeout, cfg.Client.ConnectTimeout)
	}
	applyBuffer(&b.settings, cfg.Buffer)
	return b
}

func applyBuffer(s *settings, buf control.BufferConfig) {
	if buf.ReadSize > 0 {
		s.setOption(channel.ReadBufferSize, buf.ReadSize)
	}
	if buf.MaxCapacity > 0 {
		s.setOption(channel.MaxBufferCapacity, buf.MaxCapacity)
	}
	if buf.MaxPerRead > 0 {
		s.setOption(channel.MaxMessagesPerRead, buf.MaxPerRead)
	}
	if buf.WriteSpin > 0 {
		s.setOption(channel.WriteSpinCount, buf.WriteSpin)
	}
}

// Validate reports a missing group, factory or handler and invalid options.
func (b *Bootstrap) Validate() error { return b.validate("bootstrap", true) }

// Connect resolves host:port and connects to it. See ConnectAddr.
func (b *Bootstrap) Connect(host string, port int) future.Future[channel.Channel] {
	addr, err := tcp.ResolveAddr(host, port)
	if err != nil {
		return future.Failed[channel.Channel](nil, err)
	}
	return b.ConnectAddr(addr)
}

// ConnectAddr registers a new channel on the next loop of the group and
// starts connecting it to remote. The returned future resolves once the
// channel is registered; the handshake outcome is reported through
// channelActive, or exceptionCaught followed by close.
func (b *Bootstrap) ConnectAddr(remote net.Addr) future.Future[channel.Channel] {
	_, registered, _, err := b.start(remote)
	if err != nil {
		return future.Failed[channel.Channel](nil, err)
	}
	return registered
}

// Dial connects to host:port and blocks until the handshake completed or
// ctx is done. A channel whose handshake did not complete is closed.
func (b *Bootstrap) Dial(ctx context.Context, host string, port int) (channel.Channel, error) {
	addr, err := tcp.ResolveAddr(host, port)
	if err != nil {
		return nil, err
	}
	ch, _, connected, err := b.start(addr)
	if err != nil {
		return nil, err
	}
	if _, err := connected.Await(ctx); err != nil {
		ch.Close()
		return nil, err
	}
	return ch, nil
}

// start prepares a channel, registers it on the next loop and connects it
// once registered.
func (b *Bootstrap) start(remote net.Addr) (ch channel.Channel, registered, connected future.Future[channel.Channel], err error) {
	if err := b.Validate(); err != nil {
		return nil, nil, nil, err
	}
	ch, err = b.prepare()
	if err != nil {
		return nil, nil, nil, err
	}
	loop := b.group.Next()
	reg := future.New[channel.Channel](loop)
	conn := future.New[channel.Channel](loop)
	ch.Register(loop).AddListener(func(f channel.Future) {
		if err := f.Err(); err != nil {
			reg.TryFail(err)
			conn.TryFail(err)
			return
		}
		future.Cascade(ch.Connect(remote), conn)
		reg.TryComplete(ch)
	})
	return ch, reg, conn, nil
}

func invalid(msg string) error { return api.NewError(api.ErrCodeInvalidArgument, msg) }
