// File: channel/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TCP connection channel over a non-blocking descriptor.

package channel

import (
	"errors"
	"io"
	"net"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/future"
	"github.com/momentics/hioload-nio/pool"
	"github.com/momentics/hioload-nio/reactor"
	"github.com/momentics/hioload-nio/transport/tcp"
)

// SocketChannel is a TCP connection, either dialled by Connect or accepted
// by a ServerSocketChannel.
type SocketChannel struct {
	base

	fd         int
	inPoller   bool
	interest   reactor.Events
	accepted   bool
	inputShut  atomic.Bool
	outputShut bool

	local  atomic.Pointer[net.TCPAddr]
	remote atomic.Pointer[net.TCPAddr]

	connectPromise *Promise
	connectTimer   api.Timer
	connectAddr    *net.TCPAddr
}

var _ Channel = (*SocketChannel)(nil)

// NewSocketChannel returns an unconnected client channel. The socket is
// created by Connect once the address family is known.
func NewSocketChannel() *SocketChannel {
	s := &SocketChannel{fd: -1}
	s.init(s, s, nil)
	return s
}

func newAcceptedSocketChannel(parent Channel, fd int, remote *net.TCPAddr) *SocketChannel {
	s := &SocketChannel{fd: fd, accepted: true}
	s.init(s, s, parent)
	s.remote.Store(remote)
	s.local.Store(tcp.LocalAddr(fd))
	return s
}

func (s *SocketChannel) localAddr() net.Addr {
	if a := s.local.Load(); a != nil {
		return a
	}
	return nil
}

func (s *SocketChannel) remoteAddr() net.Addr {
	if a := s.remote.Load(); a != nil {
		return a
	}
	return nil
}

func (s *SocketChannel) activeOnRegister() bool { return s.accepted }

// IsInputShutdown reports whether the peer closed its write side while
// half-closure is allowed.
func (s *SocketChannel) IsInputShutdown() bool { return s.inputShut.Load() }

func (s *SocketChannel) doRegister() error {
	if s.fd < 0 {
		return nil
	}
	s.applyOptions()
	return s.addToPoller()
}

func (s *SocketChannel) addToPoller() error {
	if err := s.loop.RegisterFD(s.fd, s.interest, s.onEvents); err != nil {
		return err
	}
	s.inPoller = true
	return nil
}

func (s *SocketChannel) applyOptions() {
	cfg := s.config
	var errs []error
	if cfg.IsSet(SoKeepAlive) {
		errs = append(errs, tcp.SetKeepAlive(s.fd, cfg.Bool(SoKeepAlive)))
	}
	if cfg.IsSet(TCPNoDelay) {
		errs = append(errs, tcp.SetNoDelay(s.fd, cfg.Bool(TCPNoDelay)))
	}
	if cfg.IsSet(SoRcvBuf) {
		errs = append(errs, tcp.SetRecvBuffer(s.fd, cfg.Int(SoRcvBuf)))
	}
	if cfg.IsSet(SoSndBuf) {
		errs = append(errs, tcp.SetSendBuffer(s.fd, cfg.Int(SoSndBuf)))
	}
	if cfg.IsSet(SoLinger) {
		errs = append(errs, tcp.SetLinger(s.fd, cfg.Duration(SoLinger)))
	}
	if err := errors.Join(errs...); err != nil {
		s.log().Warn("socket options not applied", zap.Error(err))
	}
}

func (s *SocketChannel) setInterest(ev reactor.Events) {
	if ev == s.interest {
		return
	}
	s.interest = ev
	if !s.inPoller {
		return
	}
	if err := s.loop.ModifyFD(s.fd, ev); err != nil {
		s.log().Debug("modify interest", zap.Stringer("events", ev), zap.Error(err))
	}
}

func (s *SocketChannel) doBind(net.Addr) error {
	return api.NewError(api.ErrCodeNotSupported, "bind on a connection channel")
}

func (s *SocketChannel) doConnect(remote net.Addr, p *Promise) {
	addr, ok := remote.(*net.TCPAddr)
	if !ok || addr == nil {
		p.TryFail(api.NewError(api.ErrCodeInvalidArgument, "connect").WithContext("remote", remote))
		return
	}
	if s.connectPromise != nil {
		p.TryFail(api.NewError(api.ErrCodeInvalidArgument, "connection attempt already pending"))
		return
	}
	if s.fd < 0 {
		fd, err := tcp.Socket(addr)
		if err != nil {
			s.failConnect(p, err)
			return
		}
		s.fd = fd
		s.applyOptions()
		if err := s.addToPoller(); err != nil {
			s.failConnect(p, api.Wrap(api.ErrConnectFailure, "register", err))
			return
		}
	}
	pending, err := tcp.Connect(s.fd, addr)
	if err != nil {
		s.failConnect(p, err)
		return
	}
	s.connectAddr = addr
	if !pending {
		s.fulfillConnect(p)
		return
	}
	s.connectPromise = p
	s.setInterest(s.interest | reactor.EventWrite)
	if d := s.config.Duration(ConnectTimeout); d > 0 {
		t, err := s.loop.Schedule(d, func() {
			if s.connectPromise != p {
				return
			}
			s.failConnect(p, api.Wrap(api.ErrConnectFailure, "connect",
				api.NewError(api.ErrCodeTimeout, "connect timed out").WithContext("after", d.String())).
				WithContext("remote", addr.String()))
		})
		if err == nil {
			s.connectTimer = t
		}
	}
	p.AddListener(func(f future.Future[Void]) {
		if f.IsCancelled() {
			s.clearConnect()
			s.Close()
		}
	})
}

func (s *SocketChannel) clearConnect() {
	if s.connectTimer != nil {
		s.connectTimer.Cancel()
		s.connectTimer = nil
	}
	s.connectPromise = nil
}

func (s *SocketChannel) finishConnect() {
	p := s.connectPromise
	s.clearConnect()
	if err := tcp.FinishConnect(s.fd, s.connectAddr); err != nil {
		s.failConnect(p, err)
		return
	}
	s.fulfillConnect(p)
}

func (s *SocketChannel) failConnect(p *Promise, err error) {
	s.clearConnect()
	s.metrics.ConnectFailed()
	p.TryFail(err)
	s.pipeline.FireExceptionCaught(err)
	s.Close()
}

func (s *SocketChannel) fulfillConnect(p *Promise) {
	s.local.Store(tcp.LocalAddr(s.fd))
	s.remote.Store(s.connectAddr)
	s.setInterest(s.interest &^ reactor.EventWrite)
	if !p.TryComplete(Void{}) {
		s.Close()
		return
	}
	if s.IsOpen() {
		s.becomeActive()
	}
}

func (s *SocketChannel) doBeginRead() {
	if s.inputShut.Load() {
		return
	}
	s.setInterest(s.interest | reactor.EventRead)
}

func (s *SocketChannel) onEvents(ev reactor.Events) {
	if s.connectPromise != nil {
		if ev&(reactor.EventWrite|reactor.EventError|reactor.EventHangup) != 0 {
			s.finishConnect()
		}
		return
	}
	if ev.Has(reactor.EventWrite) && s.IsActive() {
		s.doWrite(s.out)
	}
	if !s.IsActive() {
		return
	}
	if s.inputShut.Load() {
		if ev&(reactor.EventError|reactor.EventHangup) != 0 {
			s.Close()
		}
		return
	}
	if ev&(reactor.EventRead|reactor.EventError|reactor.EventHangup) != 0 {
		s.read()
	}
}

func (s *SocketChannel) read() {
	var (
		alloc    = s.loop.Allocator()
		size     = s.config.Int(ReadBufferSize)
		maxCap   = s.config.Int(MaxBufferCapacity)
		maxMsgs  = s.config.Int(MaxMessagesPerRead)
		readSome bool
		readErr  error
	)
	for i := 0; i < maxMsgs; i++ {
		buf := alloc.BufferMax(size, maxCap)
		n, err := buf.WriteFrom(tcp.FDReader(s.fd), size)
		if n > 0 {
			readSome = true
			s.metrics.BytesRead(n)
			s.pipeline.FireChannelRead(buf)
		} else {
			buf.Release()
		}
		if err != nil {
			if !errors.Is(err, tcp.ErrWouldBlock) {
				readErr = err
			}
			break
		}
		if n < size || !s.IsActive() {
			break
		}
	}
	if readSome {
		s.pipeline.FireChannelReadComplete()
	}
	switch {
	case readErr == nil:
	case errors.Is(readErr, io.EOF):
		s.onInputClosed()
	default:
		s.pipeline.FireExceptionCaught(readErr)
		s.Close()
	}
}

func (s *SocketChannel) onInputClosed() {
	if !s.IsActive() {
		return
	}
	if !s.config.Bool(AllowHalfClosure) {
		s.Close()
		return
	}
	s.inputShut.Store(true)
	s.setInterest(s.interest &^ reactor.EventRead)
	s.pipeline.FireUserEventTriggered(ChannelInputShutdownEvent{})
}

func (s *SocketChannel) filterOutbound(msg any) (any, error) {
	switch m := msg.(type) {
	case api.Buffer:
		return m, nil
	case []byte:
		return pool.Wrap(m), nil
	}
	return nil, api.NewError(api.ErrCodeUnsupportedMessage, "write").WithContext("type", typeName(msg))
}

func (s *SocketChannel) doWrite(out *outboundBuffer) {
	if s.connectPromise != nil || s.fd < 0 {
		return
	}
	spins := s.config.Int(WriteSpinCount)
	for i := 0; i < spins && !out.isEmpty(); i++ {
		iov := out.iovecs()
		if len(iov) == 0 {
			out.removeBytes(0)
			continue
		}
		n, err := tcp.Writev(s.fd, iov)
		if err != nil {
			if errors.Is(err, tcp.ErrWouldBlock) {
				s.setInterest(s.interest | reactor.EventWrite)
				return
			}
			out.failAll(err)
			s.pipeline.FireExceptionCaught(err)
			s.Close()
			return
		}
		s.metrics.BytesWritten(n)
		out.removeBytes(n)
	}
	if out.isEmpty() {
		s.setInterest(s.interest &^ reactor.EventWrite)
	} else {
		s.setInterest(s.interest | reactor.EventWrite)
	}
}

// ShutdownOutput half-closes the connection after queued writes. The peer
// sees end of stream; reads continue.
func (s *SocketChannel) ShutdownOutput() Future {
	p := s.NewPromise()
	loop := s.EventLoop()
	run := func() {
		if !s.IsActive() {
			p.TryFail(api.NewError(api.ErrCodeChannelClosed, "shutdown output"))
			return
		}
		if s.outputShut {
			p.TryComplete(Void{})
			return
		}
		s.flush0()
		if err := tcp.ShutdownOutput(s.fd); err != nil {
			p.TryFail(err)
			return
		}
		s.outputShut = true
		p.TryComplete(Void{})
	}
	if loop == nil {
		p.TryFail(api.NewError(api.ErrCodeChannelClosed, "shutdown output"))
	} else if loop.InEventLoop() {
		run()
	} else if err := loop.Execute(run); err != nil {
		p.TryFail(api.Wrap(api.ErrLoopShutdown, "shutdown output", err))
	}
	return p
}

func (s *SocketChannel) doClose() error {
	if p := s.connectPromise; p != nil {
		s.clearConnect()
		p.TryFail(api.NewError(api.ErrCodeChannelClosed, "connect"))
	}
	if s.fd < 0 {
		return nil
	}
	fd := s.fd
	s.fd = -1
	if s.inPoller {
		s.inPoller = false
		if err := s.loop.UnregisterFD(fd); err != nil {
			s.log().Debug("unregister", zap.Error(err))
		}
	}
	return tcp.Close(fd)
}
