package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/medleyhq/medley/internal/database"
	"github.com/medleyhq/medley/internal/web/sse"
)

type serverRequest struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	URL     string `json:"url"`
	APIKey  string `json:"apiKey"`
	Enabled *bool  `json:"enabled,omitempty"`
}

func (req *serverRequest) validate() string {
	if req.Name == "" || req.URL == "" || req.APIKey == "" {
		return "name, url and apiKey are required"
	}
	switch database.ServerType(req.Type) {
	case database.ServerTypeJellyfin, database.ServerTypeEmby:
		return ""
	default:
		return "type must be jellyfin or emby"
	}
}

func serverID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// ServersList returns all registered servers
func (h *Handlers) ServersList(w http.ResponseWriter, r *http.Request) {
	servers, err := h.db.ListServers(false)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list servers")
		return
	}
	respondJSON(w, http.StatusOK, servers)
}

// ServerCreate registers a new backend
func (h *Handlers) ServerCreate(w http.ResponseWriter, r *http.Request) {
	var req serverRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if msg := req.validate(); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	s := &database.Server{
		Name:    req.Name,
		Type:    database.ServerType(req.Type),
		URL:     req.URL,
		APIKey:  req.APIKey,
		Enabled: enabled,
	}
	if err := h.db.CreateServer(s); err != nil {
		log.Error().Err(err).Msg("Failed to create server")
		respondError(w, http.StatusInternalServerError, "failed to create server")
		return
	}

	h.broker.Broadcast(sse.Event{Type: sse.EventServerAdded, Data: s})
	respondJSON(w, http.StatusCreated, s)
}

// ServerUpdate modifies a registered backend
func (h *Handlers) ServerUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := serverID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid server id")
		return
	}

	existing, err := h.db.GetServer(id)
	if err != nil || existing == nil {
		respondError(w, http.StatusNotFound, "server not found")
		return
	}

	var req serverRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if msg := req.validate(); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	existing.Name = req.Name
	existing.Type = database.ServerType(req.Type)
	existing.URL = req.URL
	existing.APIKey = req.APIKey
	if req.Enabled != nil {
		existing.Enabled = *req.Enabled
	}
	if err := h.db.UpdateServer(existing); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update server")
		return
	}

	h.servers.Invalidate(id)
	h.broker.Broadcast(sse.Event{Type: sse.EventServerUpdated, Data: existing})
	respondJSON(w, http.StatusOK, existing)
}

// ServerDelete removes a registered backend
func (h *Handlers) ServerDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := serverID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid server id")
		return
	}
	if err := h.db.DeleteServer(id); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete server")
		return
	}

	h.servers.Invalidate(id)
	h.broker.Broadcast(sse.Event{Type: sse.EventServerRemoved, Data: map[string]int64{"id": id}})
	respondJSON(w, http.StatusNoContent, nil)
}

// ServerTest checks connectivity and key validity for one backend
func (h *Handlers) ServerTest(w http.ResponseWriter, r *http.Request) {
	id, ok := serverID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid server id")
		return
	}

	client, err := h.servers.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err := client.TestConnection(r.Context()); err != nil {
		respondJSON(w, http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}
