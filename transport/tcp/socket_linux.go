//go:build linux
// +build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp - Linux non-blocking socket primitives.

package tcp

import (
	"errors"
	"io"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-nio/api"
)

// Supported reports whether this platform has a socket implementation.
const Supported = true

func sockaddr(addr *net.TCPAddr) (unix.Sockaddr, int, error) {
	if addr == nil {
		return nil, 0, api.NewError(api.ErrCodeInvalidArgument, "nil address")
	}
	if ip4 := addr.IP.To4(); ip4 != nil || addr.IP == nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		if ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return sa, unix.AF_INET, nil
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	if addr.Zone != "" {
		if ifi, err := net.InterfaceByName(addr.Zone); err == nil {
			sa.ZoneId = uint32(ifi.Index)
		}
	}
	return sa, unix.AF_INET6, nil
}

func tcpAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IPv4(a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3]), Port: a.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, a.Addr[:])
		return &net.TCPAddr{IP: ip, Port: a.Port}
	}
	return nil
}

func newSocket(family int) (int, error) {
	return unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
}

// Listen creates a non-blocking listening socket bound to addr.
func Listen(addr *net.TCPAddr, backlog int, reuseAddr bool) (int, error) {
	sa, family, err := sockaddr(addr)
	if err != nil {
		return -1, err
	}
	fd, err := newSocket(family)
	if err != nil {
		return -1, api.Wrap(api.ErrBindFailure, "socket", err)
	}
	if reuseAddr {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			_ = unix.Close(fd)
			return -1, api.Wrap(api.ErrBindFailure, "setsockopt SO_REUSEADDR", err)
		}
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, api.Wrap(api.ErrBindFailure, "bind", err).WithContext("addr", addr.String())
	}
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return -1, api.Wrap(api.ErrBindFailure, "listen", err).WithContext("addr", addr.String())
	}
	return fd, nil
}

// Accept takes one pending connection. It returns ErrWouldBlock when the
// backlog is empty and ErrTransient for errors the acceptor should skip.
func Accept(fd int) (int, *net.TCPAddr, error) {
	nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		switch err {
		case unix.EAGAIN:
			return -1, nil, ErrWouldBlock
		case unix.ECONNABORTED, unix.EINTR, unix.EPROTO:
			return -1, nil, ErrTransient
		}
		return -1, nil, api.Wrap(api.ErrAcceptFailure, "accept", err)
	}
	return nfd, tcpAddr(sa), nil
}

// Socket creates an unconnected non-blocking socket for the family of remote.
func Socket(remote *net.TCPAddr) (int, error) {
	_, family, err := sockaddr(remote)
	if err != nil {
		return -1, err
	}
	fd, err := newSocket(family)
	if err != nil {
		return -1, api.Wrap(api.ErrConnectFailure, "socket", err)
	}
	return fd, nil
}

// Connect starts a non-blocking connect. pending is true when completion
// must be awaited via write readiness and FinishConnect.
func Connect(fd int, remote *net.TCPAddr) (pending bool, err error) {
	sa, _, err := sockaddr(remote)
	if err != nil {
		return false, err
	}
	for {
		err = unix.Connect(fd, sa)
		switch err {
		case nil:
			return false, nil
		case unix.EINTR:
			continue
		case unix.EINPROGRESS, unix.EALREADY:
			return true, nil
		}
		return false, connectError(remote, err)
	}
}

// FinishConnect reports the outcome of a pending connect.
func FinishConnect(fd int, remote *net.TCPAddr) error {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return connectError(remote, err)
	}
	if v != 0 {
		return connectError(remote, unix.Errno(v))
	}
	return nil
}

func connectError(remote *net.TCPAddr, err error) error {
	e := api.Wrap(api.ErrConnectFailure, "connect", err)
	if remote != nil {
		e = e.WithContext("remote", remote.String())
	}
	return e
}

// Read reads into p. It returns io.EOF on orderly shutdown by the peer and
// ErrWouldBlock when no data is available.
func Read(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		if err == nil {
			if n == 0 && len(p) > 0 {
				return 0, io.EOF
			}
			return n, nil
		}
		switch err {
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, ErrWouldBlock
		}
		return 0, IOError("read", err)
	}
}

// Writev writes bufs with one gathering syscall.
func Writev(fd int, bufs [][]byte) (int, error) {
	for {
		n, err := unix.Writev(fd, bufs)
		if err == nil {
			return n, nil
		}
		switch err {
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, ErrWouldBlock
		}
		return 0, IOError("writev", err)
	}
}

// Write writes p with one syscall.
func Write(fd int, p []byte) (int, error) {
	return Writev(fd, [][]byte{p})
}

// ShutdownOutput half-closes the write side.
func ShutdownOutput(fd int) error {
	if err := unix.Shutdown(fd, unix.SHUT_WR); err != nil && err != unix.ENOTCONN {
		return IOError("shutdown", err)
	}
	return nil
}

// Close closes fd.
func Close(fd int) error {
	if err := unix.Close(fd); err != nil {
		return IOError("close", err)
	}
	return nil
}

// LocalAddr returns the bound address of fd.
func LocalAddr(fd int) *net.TCPAddr {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil
	}
	return tcpAddr(sa)
}

// RemoteAddr returns the peer address of fd.
func RemoteAddr(fd int) *net.TCPAddr {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return nil
	}
	return tcpAddr(sa)
}

func setBool(fd, level, opt int, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return unix.SetsockoptInt(fd, level, opt, v)
}

// SetKeepAlive toggles SO_KEEPALIVE.
func SetKeepAlive(fd int, on bool) error { return setBool(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, on) }

// SetNoDelay toggles TCP_NODELAY.
func SetNoDelay(fd int, on bool) error { return setBool(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, on) }

// SetReuseAddr toggles SO_REUSEADDR.
func SetReuseAddr(fd int, on bool) error { return setBool(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, on) }

// SetRecvBuffer sets SO_RCVBUF.
func SetRecvBuffer(fd, n int) error { return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, n) }

// SetSendBuffer sets SO_SNDBUF.
func SetSendBuffer(fd, n int) error { return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, n) }

// SetLinger sets SO_LINGER; a negative duration disables it.
func SetLinger(fd int, d time.Duration) error {
	l := &unix.Linger{}
	if d >= 0 {
		l.Onoff = 1
		l.Linger = int32(d / time.Second)
	}
	return unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, l)
}

// IOError maps an errno from a data-path syscall onto the error taxonomy.
func IOError(op string, err error) error {
	var errno unix.Errno
	if errors.As(err, &errno) {
		switch errno {
		case unix.ECONNRESET, unix.EPIPE:
			return api.Wrap(api.ErrConnectionReset, op, err)
		case unix.EBADF:
			return api.Wrap(api.ErrChannelClosed, op, err)
		}
	}
	return api.Wrap(api.ErrConnectionReset, op, err)
}
