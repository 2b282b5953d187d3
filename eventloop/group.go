// File: eventloop/group.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed-size group of loops with round-robin or custom selection.

package eventloop

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/future"
	"github.com/momentics/hioload-nio/pool"
)

// Group owns n loops. Loops never move channels between each other.
type Group struct {
	loops   []*Loop
	next    atomic.Uint64
	chooser Chooser
	buffers *pool.BufferPoolManager
	logger  *zap.Logger

	shutdownOnce sync.Once
	terminated   future.Future[future.Void]
}

var _ api.GracefulShutdown = (*Group)(nil)

// NewGroup starts n loops. n <= 0 selects runtime.NumCPU().
func NewGroup(n int, opts ...Option) (*Group, error) {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	if cfg.buffers == nil {
		cfg.buffers = pool.NewBufferPoolManager(0)
	}
	g := &Group{
		chooser: cfg.chooser,
		buffers: cfg.buffers,
		logger:  cfg.logger.Named(cfg.name),
	}
	for i := 0; i < n; i++ {
		l, err := newLoop(i, cfg)
		if err != nil {
			for _, started := range g.loops {
				started.ShutdownGracefully(0, 0)
			}
			return nil, err
		}
		g.loops = append(g.loops, l)
	}
	return g, nil
}

// Next returns the loop for the next registration.
func (g *Group) Next() *Loop {
	if g.chooser != nil {
		if l := g.chooser(g.loops); l != nil {
			return l
		}
	}
	i := g.next.Add(1) - 1
	return g.loops[i%uint64(len(g.loops))]
}

// Loops returns the group members in index order.
func (g *Group) Loops() []*Loop {
	return append([]*Loop(nil), g.loops...)
}

// Len returns the number of loops.
func (g *Group) Len() int { return len(g.loops) }

// Buffers returns the partition manager shared by the loops.
func (g *Group) Buffers() *pool.BufferPoolManager { return g.buffers }

// ShutdownGracefully shuts every loop down and returns one future that
// completes after all of them terminated. Repeated calls return the same
// future.
func (g *Group) ShutdownGracefully(quiet, timeout time.Duration) future.Future[future.Void] {
	g.shutdownOnce.Do(func() {
		fs := make([]future.Future[future.Void], len(g.loops))
		for i, l := range g.loops {
			fs[i] = l.ShutdownGracefully(quiet, timeout)
		}
		g.terminated = future.Map(future.All[future.Void](nil, fs...), func([]future.Void) (future.Void, error) {
			return future.Void{}, nil
		})
		g.logger.Debug("group shutdown requested", zap.Int("loops", len(g.loops)))
	})
	return g.terminated
}

// AwaitTermination blocks until every loop terminated or ctx is done.
func (g *Group) AwaitTermination(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, l := range g.loops {
		eg.Go(func() error {
			_, err := l.TerminationFuture().Await(ctx)
			return err
		})
	}
	return eg.Wait()
}

// IsTerminated reports whether every loop terminated.
func (g *Group) IsTerminated() bool {
	for _, l := range g.loops {
		if l.State() != StateTerminated {
			return false
		}
	}
	return true
}

// Shutdown is ShutdownGracefully followed by AwaitTermination.
func (g *Group) Shutdown(ctx context.Context, quiet, timeout time.Duration) error {
	var merr *multierror.Error
	if _, err := g.ShutdownGracefully(quiet, timeout).Await(ctx); err != nil {
		merr = multierror.Append(merr, err)
	}
	if err := g.AwaitTermination(ctx); err != nil {
		merr = multierror.Append(merr, err)
	}
	return merr.ErrorOrNil()
}
