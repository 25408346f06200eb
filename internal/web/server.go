// Package web serves the JSON control API and SSE event stream.
package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/medleyhq/medley/internal/auth"
	"github.com/medleyhq/medley/internal/catalog"
	"github.com/medleyhq/medley/internal/config"
	"github.com/medleyhq/medley/internal/database"
	"github.com/medleyhq/medley/internal/playback"
	"github.com/medleyhq/medley/internal/servers"
	"github.com/medleyhq/medley/internal/source"
	"github.com/medleyhq/medley/internal/web/handlers"
	"github.com/medleyhq/medley/internal/web/middleware"
	"github.com/medleyhq/medley/internal/web/sse"
)

// Server represents the web server
type Server struct {
	db          *database.DB
	port        int
	bind        string
	allowedNet  *net.IPNet
	router      *chi.Mux
	authService *auth.Service
	broker      *sse.Broker
	handlers    *handlers.Handlers
}

// NewServer creates a new web server
func NewServer(db *database.DB, port int, bind string, allowedNet *net.IPNet,
	srv *servers.Manager, cat *catalog.Store, res *source.Resolver,
	sessions *playback.Manager, broker *sse.Broker, loader *config.Loader) *Server {

	s := &Server{
		db:          db,
		port:        port,
		bind:        bind,
		allowedNet:  allowedNet,
		router:      chi.NewRouter(),
		authService: auth.NewService(db),
		broker:      broker,
	}

	s.handlers = handlers.New(db, s.authService, cat, srv, res, sessions, broker, loader)
	s.setupRoutes()

	return s
}

// Broker returns the SSE broker for broadcasting events
func (s *Server) Broker() *sse.Broker {
	return s.broker
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	r := s.router
	h := s.handlers

	r.Use(chimiddleware.RequestID)
	// AllowSubnet must come BEFORE RealIP so we check the actual connection source
	r.Use(middleware.AllowSubnet(s.allowedNet))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// SSE endpoint - no timeout (long-lived connections)
	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.authService))
		r.Get("/api/events", s.broker.ServeHTTP)
	})

	// Public routes (no auth required)
	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(60 * time.Second))
		r.Post("/api/setup", h.Setup)
		r.Post("/api/login", h.Login)
	})

	// Protected API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(60 * time.Second))
		r.Use(middleware.APIKeyAuth(s.authService))

		r.Route("/servers", func(r chi.Router) {
			r.Get("/", h.ServersList)
			r.Post("/", h.ServerCreate)
			r.Put("/{id}", h.ServerUpdate)
			r.Delete("/{id}", h.ServerDelete)
			r.Post("/{id}/test", h.ServerTest)
		})

		r.Get("/search", h.Search)
		r.Get("/continue", h.ContinueWatching)

		r.Route("/items/{serverID}/{itemID}", func(r chi.Router) {
			r.Get("/", h.ItemDetail)
			r.Get("/children", h.ItemChildren)
			r.Get("/sources", h.ItemSources)
			r.Get("/language", h.LanguageOverrideGet)
			r.Put("/language", h.LanguageOverrideSet)
		})

		r.Route("/playback", func(r chi.Router) {
			r.Post("/load", h.PlaybackLoad)
			r.Get("/state", h.PlaybackState)
			r.Post("/play", h.PlaybackPlay)
			r.Post("/pause", h.PlaybackPause)
			r.Post("/seek", h.PlaybackSeek)
			r.Post("/speed", h.PlaybackSpeed)
			r.Get("/tracks", h.PlaybackTracks)
			r.Post("/tracks/audio", h.PlaybackSelectAudio)
			r.Post("/tracks/subtitle", h.PlaybackSelectSubtitle)
			r.Get("/sources", h.PlaybackSources)
			r.Put("/queue", h.PlaybackQueue)
			r.Post("/advance/dismiss", h.PlaybackDismissAdvance)
			r.Delete("/", h.PlaybackClose)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", h.SettingsGet)
			r.Put("/", h.SettingsUpdate)
		})
	})
}

// Start starts the web server and blocks until the context is cancelled
func (s *Server) Start(ctx context.Context) error {
	var addr string
	if s.bind != "" {
		addr = fmt.Sprintf("%s:%d", s.bind, s.port)
	} else {
		addr = fmt.Sprintf(":%d", s.port)
	}

	server := &http.Server{
		Addr:    addr,
		Handler: s.router,
		// ReadTimeout is for reading request body
		ReadTimeout: 15 * time.Second,
		// WriteTimeout disabled (0) to allow SSE long-lived connections
		// Chi middleware timeout (60s) protects regular requests
		WriteTimeout: 0,
		// IdleTimeout for keep-alive connections between requests
		IdleTimeout: 120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down HTTP server")
		// Stop SSE broker first to close all client connections gracefully
		s.broker.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}
