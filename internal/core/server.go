// Package core provides the API chassis for the shovel control service: a
// chi router with the cross-cutting middleware chain (panic recovery,
// request correlation, structured request logging), the JSON response
// envelope, and request validation. Domain handlers mount onto it.
package core

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"shovel/internal/config"
)

// Server bundles the router with the dependencies every handler needs,
// allowing injection during testing.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	router *chi.Mux
}

// NewServer builds the chassis and registers the global middleware chain.
// The caller mounts domain routes afterwards; the separation lets tests
// customize route registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(),
		router:    chi.NewRouter(),
	}

	// Strict order: panics must be caught outermost, and the request id
	// must exist before anything logs.
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(logger))

	return s, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}
