package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/medleyhq/medley/internal/database"
	"github.com/medleyhq/medley/internal/web/sse"
)

// SettingsGet returns all runtime settings
func (h *Handlers) SettingsGet(w http.ResponseWriter, r *http.Request) {
	settings, err := h.db.GetAllSettings()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

// SettingsUpdate writes the given settings keys
func (h *Handlers) SettingsUpdate(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if len(req) == 0 {
		respondError(w, http.StatusBadRequest, "no settings given")
		return
	}

	for key, value := range req {
		if err := h.db.SetSetting(key, value); err != nil {
			log.Error().Err(err).Str("key", key).Msg("Failed to save setting")
			respondError(w, http.StatusInternalServerError, "failed to save setting "+key)
			return
		}
	}

	h.broker.Broadcast(sse.Event{Type: sse.EventSettingsChanged, Data: req})

	settings, err := h.db.GetAllSettings()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

// LanguageOverrideSet stores a per-item language override
func (h *Handlers) LanguageOverrideSet(w http.ResponseWriter, r *http.Request) {
	serverID, itemID, ok := itemRouteParams(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid item path")
		return
	}

	var req struct {
		AudioLanguage    string `json:"audioLanguage"`
		SubtitleLanguage string `json:"subtitleLanguage"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request")
		return
	}

	override := &database.LanguageOverride{
		ServerID:         serverID,
		ItemID:           itemID,
		AudioLanguage:    req.AudioLanguage,
		SubtitleLanguage: req.SubtitleLanguage,
	}
	if err := h.db.SaveLanguageOverride(override); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save language override")
		return
	}
	respondJSON(w, http.StatusOK, override)
}

// LanguageOverrideGet returns the stored override for an item, if any
func (h *Handlers) LanguageOverrideGet(w http.ResponseWriter, r *http.Request) {
	serverID, itemID, ok := itemRouteParams(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid item path")
		return
	}
	override, err := h.db.GetLanguageOverride(serverID, itemID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load language override")
		return
	}
	if override == nil {
		respondError(w, http.StatusNotFound, "no override for item")
		return
	}
	respondJSON(w, http.StatusOK, override)
}
