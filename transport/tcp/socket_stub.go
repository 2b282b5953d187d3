//go:build !linux
// +build !linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp - stub for platforms without a socket implementation.

package tcp

import (
	"net"
	"time"

	"github.com/momentics/hioload-nio/api"
)

// Supported reports whether this platform has a socket implementation.
const Supported = false

func unsupported(op string) error { return api.NewError(api.ErrCodeNotSupported, op) }

func Listen(addr *net.TCPAddr, backlog int, reuseAddr bool) (int, error) {
	return -1, unsupported("listen")
}
func Accept(fd int) (int, *net.TCPAddr, error) { return -1, nil, unsupported("accept") }
func Socket(remote *net.TCPAddr) (int, error) { return -1, unsupported("socket") }
func Connect(fd int, remote *net.TCPAddr) (bool, error) { return false, unsupported("connect") }
func FinishConnect(fd int, remote *net.TCPAddr) error { return unsupported("connect") }
func Read(fd int, p []byte) (int, error) { return 0, unsupported("read") }
func Writev(fd int, bufs [][]byte) (int, error) { return 0, unsupported("writev") }
func Write(fd int, p []byte) (int, error) { return 0, unsupported("write") }
func ShutdownOutput(fd int) error { return unsupported("shutdown") }
func Close(fd int) error { return unsupported("close") }
func LocalAddr(fd int) *net.TCPAddr { return nil }
func RemoteAddr(fd int) *net.TCPAddr { return nil }
func SetKeepAlive(fd int, on bool) error { return unsupported("setsockopt") }
func SetNoDelay(fd int, on bool) error { return unsupported("setsockopt") }
func SetReuseAddr(fd int, on bool) error { return unsupported("setsockopt") }
func SetRecvBuffer(fd, n int) error { return unsupported("setsockopt") }
func SetSendBuffer(fd, n int) error { return unsupported("setsockopt") }
func SetLinger(fd int, d time.Duration) error { return unsupported("setsockopt") }
func IOError(op string, err error) error { return api.Wrap(api.ErrConnectionReset, op, err) }
