package metrics

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ServerConfig configures the metrics HTTP endpoint.
type ServerConfig struct {
	Port int
	Path string
}

// Server serves /metrics, /health, and /ready over HTTP.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	stopCh     chan struct{}
}

// NewServer builds a metrics HTTP server. It does not start listening
// until Start is called.
func NewServer(cfg ServerConfig, logger *zap.Logger) *Server {
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
		stopCh: make(chan struct{}),
	}
	mux.Handle(cfg.Path, promhttp.Handler())
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	return s
}

// Start begins serving in the background.
func (s *Server) Start() {
	go s.collectRuntimeStats()
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	close(s.stopCh)
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy"}`)
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ready"}`)
}

// collectRuntimeStats periodically logs goroutine counts; kept minimal
// since disk/system stats belong to the deployment environment rather
// than this in-memory cache.
func (s *Server) collectRuntimeStats() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.logger.Debug("runtime stats", zap.Int("goroutines", runtime.NumGoroutine()))
		}
	}
}
