package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes /metrics and a liveness probe on a dedicated port
type Server struct {
	srv     *http.Server
	started time.Time
}

// NewServer creates a metrics server listening on port
func NewServer(port int) *Server {
	s := &Server{started: time.Now()}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.health)

	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	return s
}

// Handler returns the mux serving /metrics and /health
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start blocks until Shutdown is called
func (s *Server) Start() error {
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server on %s: %w", s.srv.Addr, err)
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight scrapes
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "OK uptime=%s\n", time.Since(s.started).Truncate(time.Second))
}
