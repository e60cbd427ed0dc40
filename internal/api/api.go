// Package api serves the agent's admin endpoint: health, the last reading and
// Prometheus metrics.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"

	"github.com/Guliveer/nutwatch/internal/models"
)

// Status reports the poller's health. *poller.Poller implements it.
type Status interface {
	ConsecutiveFailures() int
	LastSuccess() time.Time
}

// Health is the /healthz response body.
type Health struct {
	Status              string     `json:"status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
}

// Server is the admin HTTP server.
type Server struct {
	status   Status
	gatherer prometheus.Gatherer
	logger   *zap.Logger

	mu   sync.RWMutex
	last *models.Reading

	srv *http.Server
}

func New(status Status, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	return &Server{status: status, gatherer: gatherer, logger: logger.Named("admin")}
}

// Observe records r as the latest reading.
func (s *Server) Observe(r *models.Reading) {
	s.mu.Lock()
	s.last = r
	s.mu.Unlock()
}

// Handler returns the router with request logging and panic recovery.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.HandleFunc("/reading", s.reading).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	access := &zapio.Writer{Log: s.logger, Level: zapcore.DebugLevel}
	return handlers.RecoveryHandler(handlers.RecoveryLogger(zap.NewStdLog(s.logger)))(
		handlers.LoggingHandler(access, r))
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	h := Health{ConsecutiveFailures: s.status.ConsecutiveFailures()}
	if last := s.status.LastSuccess(); !last.IsZero() {
		h.LastSuccess = &last
	}

	code := http.StatusOK
	switch {
	case h.LastSuccess == nil:
		h.Status = "starting"
		code = http.StatusServiceUnavailable
	case h.ConsecutiveFailures > 0:
		h.Status = "degraded"
		code = http.StatusServiceUnavailable
	default:
		h.Status = "ok"
	}
	s.writeJSON(w, code, h)
}

func (s *Server) reading(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	last := s.last
	s.mu.RUnlock()

	if last == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no reading yet"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ups":       last.UPS,
		"timestamp": last.Timestamp,
		"variables": last.Tree(),
	})
}

// writeJSON encodes v before the status line goes out, so an encoding error
// becomes a 500 instead of a truncated 200.
func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(body.Bytes())
}

// Start listens on addr and serves in the background. The listener is bound
// before Start returns, so a bad address is reported here.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Admin endpoint listening", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Admin endpoint stopped", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops the server started by Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
