// Package server exposes the review queue over HTTP for the review UI:
// queue listing, per-record detail, inline review and approval, and
// collection schema lookup.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/capbothers/pim-cli/internal/queue"
	"github.com/capbothers/pim-cli/internal/registry"
	"github.com/capbothers/pim-cli/internal/store"
)

// Server serves the review API.
type Server struct {
	store    store.Store
	queue    *queue.Service
	registry *registry.Registry
}

// New creates a Server over the given store and schema registry.
func New(st store.Store, reg *registry.Registry) *Server {
	return &Server{
		store:    st,
		queue:    queue.New(st),
		registry: reg,
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/queue", s.handleListQueue)
		r.Get("/queue/stats", s.handleQueueStats)
		r.Get("/queue/{sku}", s.handleGetRecord)
		r.Post("/queue/{sku}/review", s.handleReview)
		r.Post("/queue/{sku}/approve", s.handleApprove)
		r.Get("/schema/{collection}", s.handleSchema)
	})
	return r
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("server: listening", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
