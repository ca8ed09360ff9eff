package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/john/combinedchat/internal/client"
)

// Snapshotter reports the client's current state.
type Snapshotter interface {
	Snapshot(ctx context.Context) (client.Snapshot, error)
}

// Server exposes liveness, metrics and the client state over HTTP
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// New creates a new status server
func New(addr string, state Snapshotter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(state),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// NewRouter builds the status routes. state may be nil, in which case
// /state is not mounted.
func NewRouter(state Snapshotter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	if state != nil {
		r.Get("/state", func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			snap, err := state.Snapshot(ctx)
			if err != nil {
				respondJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": err.Error()})
				return
			}
			respondJSON(w, http.StatusOK, snap)
		})
	}
	return r
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("status server listening", slog.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down status server")
	return s.server.Shutdown(ctx)
}
