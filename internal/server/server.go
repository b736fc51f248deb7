// Package server exposes the chat pipeline over HTTP. Every data route is
// scoped under a path user id that must agree with the bearer token.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nwilkes/taskpilot/internal/auth"
	"github.com/nwilkes/taskpilot/internal/chat"
	"github.com/nwilkes/taskpilot/internal/store"
)

const (
	readHeaderTimeout = 5 * time.Second
	// requestTimeout caps one request end to end, comfortably above the
	// chain timeout so the pipeline times out first with a better error.
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 15 * time.Second
)

// Server is the HTTP frontend.
type Server struct {
	http   *http.Server
	logger zerolog.Logger
}

// New builds the router and wraps it in an http.Server ready to listen on
// addr. registry may carry additional collectors; it backs /metrics.
func New(addr string, gate *auth.Gate, pipeline *chat.Pipeline, st *store.Store, registry *prometheus.Registry, logger zerolog.Logger) *Server {
	h := &handlers{
		pipeline: pipeline,
		store:    st,
		logger:   logger.With().Str("component", "http").Logger(),
	}

	r := chi.NewRouter()
	r.Use(requestLogger(h.logger))
	r.Use(recoverer(h.logger))

	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Route("/{user_id}", func(r chi.Router) {
		r.Use(authenticate(gate))
		r.With(timeout(requestTimeout)).Post("/chat", h.chat)
		r.Get("/conversations", h.listConversations)
		r.Get("/conversations/{conversation_id}/messages", h.listMessages)
	})

	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		logger: h.logger,
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("http server listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
