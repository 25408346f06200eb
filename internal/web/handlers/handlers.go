// Package handlers implements the JSON control API.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/medleyhq/medley/internal/auth"
	"github.com/medleyhq/medley/internal/catalog"
	"github.com/medleyhq/medley/internal/config"
	"github.com/medleyhq/medley/internal/database"
	"github.com/medleyhq/medley/internal/playback"
	"github.com/medleyhq/medley/internal/servers"
	"github.com/medleyhq/medley/internal/source"
	"github.com/medleyhq/medley/internal/web/sse"
)

// Handlers holds the HTTP handler dependencies
type Handlers struct {
	db       *database.DB
	auth     *auth.Service
	catalog  *catalog.Store
	servers  *servers.Manager
	resolver *source.Resolver
	sessions *playback.Manager
	broker   *sse.Broker
	loader   *config.Loader
}

// New creates the handler set
func New(db *database.DB, authService *auth.Service, cat *catalog.Store, srv *servers.Manager, res *source.Resolver, sessions *playback.Manager, broker *sse.Broker, loader *config.Loader) *Handlers {
	return &Handlers{
		db:       db,
		auth:     authService,
		catalog:  cat,
		servers:  srv,
		resolver: res,
		sessions: sessions,
		broker:   broker,
		loader:   loader,
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.Error().Err(err).Msg("Failed to encode response")
		}
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// Setup creates the initial user and returns the API key. Only valid on an
// empty installation.
func (h *Handlers) Setup(w http.ResponseWriter, r *http.Request) {
	firstRun, err := h.db.IsFirstRun()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "setup check failed")
		return
	}
	if !firstRun {
		respondError(w, http.StatusConflict, "already configured")
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Username == "" || len(req.Password) < 8 {
		respondError(w, http.StatusBadRequest, "username and a password of at least 8 characters required")
		return
	}

	apiKey, err := h.auth.Setup(req.Username, req.Password)
	if err != nil {
		log.Error().Err(err).Msg("Setup failed")
		respondError(w, http.StatusInternalServerError, "setup failed")
		return
	}

	log.Info().Str("username", req.Username).Msg("Initial user created")
	respondJSON(w, http.StatusCreated, map[string]string{"apiKey": apiKey})
}

// Login verifies a username/password pair and returns the API key
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, err := h.auth.VerifyPassword(req.Username, req.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"apiKey": user.APIKey})
}
