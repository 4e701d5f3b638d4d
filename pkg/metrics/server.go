package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server is a standalone HTTP server exposing /metrics and /health, run
// alongside the downstream API server so a scrape outage never competes with
// API traffic for the same listener.
type Server struct {
	server *http.Server
	log    *logrus.Logger
}

// NewServer builds a metrics Server bound to addr (a bare port, e.g. "8080"
// or "9090" — not a full address).
func NewServer(addr string, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	return &Server{
		server: &http.Server{Addr: ":" + addr, Handler: mux},
		log:    logger,
	}
}

// StartAsync runs the server in a background goroutine, logging (not
// panicking) on any error other than the expected post-Stop ErrServerClosed.
func (s *Server) StartAsync() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("metrics server stopped unexpectedly")
		}
	}()
}

// Stop gracefully shuts the server down, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
