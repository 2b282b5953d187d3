// File: channel/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Listening TCP channel. Accepted connections travel through the server
// pipeline as channelRead messages.

package channel

import (
	"errors"
	"net"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/reactor"
	"github.com/momentics/hioload-nio/transport/tcp"
)

// ServerSocketChannel listens for TCP connections. Its lifecycle is
// registered, bound, closed; it never becomes active in the connection
// sense but IsActive reports true while bound.
type ServerSocketChannel struct {
	base

	fd       int
	inPoller bool
	local    atomic.Pointer[net.TCPAddr]
}

var _ Channel = (*ServerSocketChannel)(nil)

// NewServerSocketChannel returns an unbound listening channel.
func NewServerSocketChannel() *ServerSocketChannel {
	s := &ServerSocketChannel{fd: -1}
	s.init(s, s, nil)
	return s
}

// IsActive reports whether the channel is bound and open.
func (s *ServerSocketChannel) IsActive() bool {
	return s.IsOpen() && s.local.Load() != nil
}

func (s *ServerSocketChannel) localAddr() net.Addr {
	if a := s.local.Load(); a != nil {
		return a
	}
	return nil
}

func (s *ServerSocketChannel) listening()             {}
func (s *ServerSocketChannel) remoteAddr() net.Addr   { return nil }
func (s *ServerSocketChannel) activeOnRegister() bool { return false }
func (s *ServerSocketChannel) doRegister() error      { return nil }
func (s *ServerSocketChannel) doBeginRead()           {}

func (s *ServerSocketChannel) doBind(local net.Addr) error {
	addr, ok := local.(*net.TCPAddr)
	if !ok || addr == nil {
		return api.NewError(api.ErrCodeInvalidArgument, "bind").WithContext("local", local)
	}
	if s.fd >= 0 {
		return api.NewError(api.ErrCodeBindFailure, "bind").WithContext("reason", "already bound")
	}
	reuse := true
	if s.config.IsSet(SoReuseAddr) {
		reuse = s.config.Bool(SoReuseAddr)
	}
	fd, err := tcp.Listen(addr, s.config.Int(SoBacklog), reuse)
	if err != nil {
		return err
	}
	if s.config.IsSet(SoRcvBuf) {
		if err := tcp.SetRecvBuffer(fd, s.config.Int(SoRcvBuf)); err != nil {
			s.log().Warn("listener receive buffer not applied", zap.Error(err))
		}
	}
	if err := s.loop.RegisterFD(fd, reactor.EventRead, s.onEvents); err != nil {
		_ = tcp.Close(fd)
		return api.Wrap(api.ErrBindFailure, "register listener", err)
	}
	s.fd = fd
	s.inPoller = true
	s.local.Store(tcp.LocalAddr(fd))
	s.log().Info("listening", zap.Stringer("addr", s.localAddr()))
	return nil
}

func (s *ServerSocketChannel) doConnect(_ net.Addr, p *Promise) {
	p.TryFail(api.NewError(api.ErrCodeNotSupported, "connect on a listening channel"))
}

// onEvents accepts up to MaxMessagesPerRead connections per readiness;
// level triggering brings the loop back for the rest of the backlog.
func (s *ServerSocketChannel) onEvents(reactor.Events) {
	if s.fd < 0 {
		return
	}
	limit := s.config.Int(MaxMessagesPerRead)
	accepted := 0
	for accepted < limit {
		fd, remote, err := tcp.Accept(s.fd)
		if err != nil {
			if errors.Is(err, tcp.ErrWouldBlock) {
				break
			}
			if errors.Is(err, tcp.ErrTransient) {
				continue
			}
			// Level triggering would report the same pending connection
			// again on every iteration, so a fatal accept error closes
			// the listener.
			s.pipeline.FireExceptionCaught(err)
			s.Close()
			break
		}
		accepted++
		s.metrics.Accepted()
		s.pipeline.FireChannelRead(newAcceptedSocketChannel(s, fd, remote))
		if s.fd < 0 {
			break
		}
	}
	if accepted > 0 && s.fd >= 0 {
		s.pipeline.FireChannelReadComplete()
	}
}

func (s *ServerSocketChannel) filterOutbound(any) (any, error) {
	return nil, api.NewError(api.ErrCodeNotSupported, "write on a listening channel")
}

func (s *ServerSocketChannel) doWrite(*outboundBuffer) {}

func (s *ServerSocketChannel) doClose() error {
	if s.fd < 0 {
		return nil
	}
	fd := s.fd
	s.fd = -1
	if s.inPoller {
		s.inPoller = false
		if err := s.loop.UnregisterFD(fd); err != nil {
			s.log().Debug("unregister listener", zap.Error(err))
		}
	}
	s.log().Info("listener closed", zap.Stringer("addr", s.localAddr()))
	return tcp.Close(fd)
}
