// control/admin.go
// Author: momentics <momentics@gmail.com>
//
// HTTP admin surface: Prometheus scrape endpoint, debug probe dump, health.

package control

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/api"
)

// AdminHandler serves /metrics from gatherer, /debug/state from probes and
// /health.
func AdminHandler(gatherer prometheus.Gatherer, probes api.Debug) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/state", func(w http.ResponseWriter, r *http.Request) {
		state := map[string]any{}
		if probes != nil {
			state = probes.DumpState()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(state)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// AdminServer runs AdminHandler on a TCP address.
type AdminServer struct {
	srv    *http.Server
	ln     net.Listener
	logger *zap.Logger
	done   chan struct{}
}

// StartAdmin listens on addr and serves in the background.
func StartAdmin(addr string, gatherer prometheus.Gatherer, probes api.Debug, logger *zap.Logger) (*AdminServer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &AdminServer{
		srv: &http.Server{
			Handler:           AdminHandler(gatherer, probes),
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:     ln,
		logger: logger,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		logger.Info("admin server listening", zap.Stringer("addr", ln.Addr()))
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server failed", zap.Error(err))
		}
	}()
	return s, nil
}

// Addr returns the bound address.
func (s *AdminServer) Addr() net.Addr { return s.ln.Addr() }

// Shutdown stops the server gracefully.
func (s *AdminServer) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	<-s.done
	return err
}
