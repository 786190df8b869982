package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes liveness, readiness and Prometheus metrics over HTTP
type Server struct {
	addr  string
	db    Pinger
	ready atomic.Bool
}

// NewServer creates a health server listening on addr
func NewServer(addr string, db Pinger) *Server {
	return &Server{addr: addr, db: db}
}

// SetReady marks whether the Discord session is connected
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Handler returns the router serving the health endpoints
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Liveness probe: 200 while the process is running
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "ok", nil)
	})

	// Readiness probe: 200 once the session is up and the database answers
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			writeStatus(w, http.StatusServiceUnavailable, "not ready", map[string]string{"discord": "disconnected"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			slog.Warn("Readiness check failed", "error", err)
			writeStatus(w, http.StatusServiceUnavailable, "not ready", map[string]string{"database": err.Error()})
			return
		}

		writeStatus(w, http.StatusOK, "ok", nil)
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}

func writeStatus(w http.ResponseWriter, code int, status string, checks map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	body := map[string]interface{}{"status": status}
	if len(checks) > 0 {
		body["checks"] = checks
	}
	_ = json.NewEncoder(w).Encode(body)
}

// Run serves until ctx is cancelled, then shuts the listener down
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Health/metrics server listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Failed to shut down health server", "error", err)
		return err
	}
	return nil
}
