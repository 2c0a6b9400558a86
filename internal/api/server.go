package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"stride-etl/internal/models"
	"stride-etl/internal/queue"
	"stride-etl/internal/reconcile"
	"stride-etl/internal/tasks"
)

// Store is the read side of the task records the API serves, implemented by *store.Store
type Store interface {
	reconcile.Selector
	ListAttempts(ctx context.Context, taskName string, limit int) ([]models.TaskAttempt, error)
	GetAttempt(ctx context.Context, date time.Time, taskName string) (*models.TaskAttempt, bool, error)
	Ping(ctx context.Context) error
}

type Server struct {
	store    Store
	reports  queue.Client
	registry *tasks.Registry
	router   *chi.Mux
}

// New creates a new API server instance
func New(store Store, reports queue.Client, registry *tasks.Registry) *Server {
	if reports == nil {
		reports = queue.NopClient{}
	}

	s := &Server{
		store:    store,
		reports:  reports,
		registry: registry,
		router:   chi.NewRouter(),
	}

	// Set up middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.Health)
		r.Mount("/tasks", NewTaskRouter(store, s.reports, registry))
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("API server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "api server stopped")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "could not shut down api server")
		}
		return nil
	}
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		log.Error().Err(err).Msg("Health check failed")
		serveJsonStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	serveJson(w, map[string]string{"status": "ok"})
}

func serveJson(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(payload)
	if err != nil {
		http.Error(w, "Failed to encode payload", http.StatusInternalServerError)
		log.Error().Err(err).Msg("JSON encoding issue")
	}
}

func serveJsonStatus(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("JSON encoding issue")
	}
}
