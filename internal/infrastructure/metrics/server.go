// Package metrics exposes the Prometheus scrape endpoint and a liveness
// probe for the execution daemon.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/0Smallcat0/ai-trading-sub017/internal/core"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves /metrics and /healthz on a dedicated port
type Server struct {
	addr   string
	logger core.ILogger
	srv    *http.Server
}

// NewServer creates an unstarted metrics server
func NewServer(port int, logger core.ILogger) *Server {
	return &Server{
		addr:   fmt.Sprintf(":%d", port),
		logger: logger.WithField("component", "metrics_server"),
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start begins serving in the background. A second Start is a no-op; listen
// failures are logged.
func (s *Server) Start() {
	if s.srv != nil {
		return
	}
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("Serving Prometheus metrics", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server failed", "error", err)
		}
	}()
}

// Stop shuts the server down, honoring the context deadline
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("Stopping metrics server")
	return s.srv.Shutdown(ctx)
}
