//go:build linux

package bootstrap_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/bootstrap"
	"github.com/momentics/hioload-nio/channel"
	"github.com/momentics/hioload-nio/control"
	"github.com/momentics/hioload-nio/eventloop"
	"github.com/momentics/hioload-nio/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newGroup(t *testing.T, n int) *eventloop.Group {
	t.Helper()
	g, err := eventloop.NewGroup(n, eventloop.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, g.Shutdown(context.Background(), 0, 2*time.Second))
	})
	return g
}

func bindServer(t *testing.T, child any, workers *eventloop.Group) channel.Channel {
	t.Helper()
	boss := newGroup(t, 1)
	srv, err := bootstrap.NewServer().
		Group(boss, workers).
		Option(channel.SoBacklog, 64).
		ChildOption(channel.SoKeepAlive, true).
		ChildAttr("role", "child").
		ChildHandler(child).
		BindAddr(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}).
		Await(testCtx(t))
	require.NoError(t, err)
	return srv
}

func port(ch channel.Channel) int { return ch.LocalAddr().(*net.TCPAddr).Port }

func TestEchoServer(t *testing.T) {
	workers := newGroup(t, 2)
	srv := bindServer(t, protocol.NewEchoHandler(), workers)

	conn, err := net.Dial("tcp", srv.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	msg := []byte("echo me please")
	_, err = conn.Write(msg)
	require.NoError(t, err)
	got := make([]byte, len(msg))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	_, err = srv.Close().Await(testCtx(t))
	require.NoError(t, err)
	_, err = srv.Close().Await(testCtx(t))
	require.NoError(t, err)
}

func TestEchoConcurrentClients(t *testing.T) {
	workers := newGroup(t, 2)
	srv := bindServer(t, protocol.NewEchoHandler(), workers)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			conn, err := net.Dial("tcp", srv.LocalAddr().String())
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return err
			}
			msg := make([]byte, 32<<10)
			for j := range msg {
				msg[j] = byte(i + j)
			}
			if _, err := conn.Write(msg); err != nil {
				return err
			}
			got := make([]byte, len(msg))
			if _, err := io.ReadFull(conn, got); err != nil {
				return err
			}
			if string(got) != string(msg) {
				return assert.AnError
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	_, err := srv.Close().Await(testCtx(t))
	require.NoError(t, err)
}

func BenchmarkEchoRoundTrip(b *testing.B) {
	boss, err := eventloop.NewGroup(1)
	require.NoError(b, err)
	workers, err := eventloop.NewGroup(1)
	require.NoError(b, err)
	defer func() {
		_ = boss.Shutdown(context.Background(), 0, time.Second)
		_ = workers.Shutdown(context.Background(), 0, time.Second)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv, err := bootstrap.NewServer().Group(boss, workers).
		ChildHandler(protocol.NewEchoHandler()).
		BindAddr(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}).Await(ctx)
	require.NoError(b, err)
	conn, err := net.Dial("tcp", srv.LocalAddr().String())
	require.NoError(b, err)
	defer conn.Close()

	msg := []byte("dummy message for echo")
	got := make([]byte, len(msg))
	b.SetBytes(int64(len(msg)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := conn.Write(msg); err != nil {
			b.Fatal(err)
		}
		if _, err := io.ReadFull(conn, got); err != nil {
			b.Fatal(err)
		}
	}
}

func TestDiscardServerCountsBytes(t *testing.T) {
	workers := newGroup(t, 1)
	h := protocol.NewDiscardHandler()
	srv := bindServer(t, h, workers)

	conn, err := net.Dial("tcp", srv.LocalAddr().String())
	require.NoError(t, err)
	payload := make([]byte, 64<<10)
	_, err = conn.Write(payload)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return h.Received() == int64(len(payload)) },
		5*time.Second, 10*time.Millisecond)
	_, err = srv.Close().Await(testCtx(t))
	require.NoError(t, err)
}

func TestTimeClientAgainstTimeServer(t *testing.T) {
	workers := newGroup(t, 1)
	fixed := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	srv := bindServer(t, protocol.NewTimeServerHandler(func() time.Time { return fixed }), workers)

	clients := newGroup(t, 1)
	h := protocol.NewTimeClientHandler()
	ch, err := bootstrap.New().
		Group(clients).
		Option(channel.ConnectTimeout, time.Second).
		Handler(h).
		Connect("127.0.0.1", port(srv)).
		Await(testCtx(t))
	require.NoError(t, err)

	got, err := h.Result().Await(testCtx(t))
	require.NoError(t, err)
	assert.True(t, fixed.Equal(got))
	_, err = ch.CloseFuture().Await(testCtx(t))
	require.NoError(t, err)
}

func TestChildSetup(t *testing.T) {
	workers := newGroup(t, 1)
	var role atomic.Value
	init := channel.Initializer(func(ch channel.Channel) error {
		v, _ := ch.Attributes().Get("role")
		role.Store(v)
		return ch.Pipeline().AddLast("echo", protocol.NewEchoHandler())
	})
	srv := bindServer(t, init, workers)

	cli := newGroup(t, 1)
	ch, err := bootstrap.New().Group(cli).Handler(protocol.NewDiscardHandler()).
		Dial(testCtx(t), "127.0.0.1", port(srv))
	require.NoError(t, err)
	assert.True(t, ch.IsActive())
	require.Eventually(t, func() bool { return role.Load() == "child" }, 5*time.Second, 10*time.Millisecond)
	_, err = ch.Close().Await(testCtx(t))
	require.NoError(t, err)
}

func TestBindFailure(t *testing.T) {
	workers := newGroup(t, 1)
	srv := bindServer(t, protocol.NewDiscardHandler(), workers)

	boss := newGroup(t, 1)
	_, err := bootstrap.NewServer().
		Group(boss).
		Option(channel.SoReuseAddr, false).
		ChildHandler(protocol.NewDiscardHandler()).
		BindAddr(srv.LocalAddr()).
		Await(testCtx(t))
	assert.ErrorIs(t, err, api.ErrBindFailure)
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, p, _ := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, ln.Close())
	n, _ := strconv.Atoi(p)

	g := newGroup(t, 1)
	_, err = bootstrap.New().Group(g).Handler(protocol.NewDiscardHandler()).
		Dial(testCtx(t), "127.0.0.1", n)
	assert.ErrorIs(t, err, api.ErrConnectFailure)
}

func TestValidate(t *testing.T) {
	err := bootstrap.New().Option(channel.SoBacklog, "x").Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "group not set")
	assert.Contains(t, err.Error(), "handler not set")

	err = bootstrap.NewServer().Validate()
	assert.Contains(t, err.Error(), "child handler not set")

	_, err = bootstrap.New().Connect("127.0.0.1", 1).Await(testCtx(t))
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	_, err = bootstrap.New().Connect("127.0.0.1", 70000).Await(testCtx(t))
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestConfigure(t *testing.T) {
	cfg, err := control.Load("")
	require.NoError(t, err)
	cfg.Server.Backlog = 0
	assert.NoError(t, bootstrap.NewServer().Configure(cfg).
		Group(newGroup(t, 1)).ChildHandler(protocol.NewEchoHandler()).Validate())
	assert.NoError(t, bootstrap.New().Configure(cfg).
		Group(newGroup(t, 1)).Handler(protocol.NewEchoHandler()).Validate())
}

func TestShutdownClosesServerAndChildren(t *testing.T) {
	boss, err := eventloop.NewGroup(1, eventloop.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	workers, err := eventloop.NewGroup(1, eventloop.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	srv, err := bootstrap.NewServer().Group(boss, workers).
		ChildHandler(protocol.NewDiscardHandler()).
		BindAddr(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}).Await(testCtx(t))
	require.NoError(t, err)
	conn, err := net.Dial("tcp", srv.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return workers.Loops()[0].ChannelCount() == 1 },
		5*time.Second, 10*time.Millisecond)

	require.NoError(t, boss.Shutdown(testCtx(t), 0, time.Second))
	require.NoError(t, workers.Shutdown(testCtx(t), 0, time.Second))
	assert.False(t, srv.IsOpen())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestDiscardWritesNothingBack(t *testing.T) {
	workers := newGroup(t, 1)
	h := protocol.NewDiscardHandler()
	srv := bindServer(t, h, workers)

	conn, err := net.Dial("tcp", srv.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("ignored payload"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.Received() == 15 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	n, err := conn.Read(make([]byte, 16))
	assert.Zero(t, n)
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout(), "connection should stay open and silent, got %v", err)

	_, err = conn.Write([]byte("more"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.Received() == 19 }, 5*time.Second, 10*time.Millisecond)
}

func TestTimeServerWireFormat(t *testing.T) {
	workers := newGroup(t, 1)
	srv := bindServer(t, protocol.NewTimeServerHandler(time.Now), workers)

	conn, err := net.Dial("tcp", srv.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.Len(t, data, 4)
	secs := int64(binary.BigEndian.Uint32(data)) - 2208988800
	assert.InDelta(t, time.Now().Unix(), secs, 5)
}

// bulkWriter sends payload to each connection as soon as it is active.
type bulkWriter struct {
	payload []byte
	writes  chan channel.Future
}

func (b *bulkWriter) ChannelActive(ctx *channel.HandlerContext) {
	b.writes <- ctx.WriteAndFlush(b.payload)
	ctx.FireChannelActive()
}

func TestLargeWriteResumesWhenWritable(t *testing.T) {
	payload := make([]byte, 16<<20)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	h := &bulkWriter{payload: payload, writes: make(chan channel.Future, 1)}
	boss, workers := newGroup(t, 1), newGroup(t, 1)
	srv, err := bootstrap.NewServer().
		Group(boss, workers).
		ChildOption(channel.SoSndBuf, 64<<10).
		ChildHandler(h).
		BindAddr(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}).
		Await(testCtx(t))
	require.NoError(t, err)

	conn, err := net.Dial("tcp", srv.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	var write channel.Future
	select {
	case write = <-h.writes:
	case <-time.After(5 * time.Second):
		t.Fatal("accepted connection never became active")
	}
	// Nothing reads yet, so the socket buffers fill and the write parks
	// until the peer drains them.
	time.Sleep(50 * time.Millisecond)
	assert.False(t, write.IsDone())

	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))
	got := make([]byte, len(payload))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, got))
	_, err = write.Await(testCtx(t))
	require.NoError(t, err)

	_, err = srv.Close().Await(testCtx(t))
	require.NoError(t, err)
}
