package handlers

import (
	"net/http"

	"github.com/medleyhq/medley/internal/playback"
	"github.com/medleyhq/medley/internal/tracks"
)

// PlaybackLoad starts playback of an item
func (h *Handlers) PlaybackLoad(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServerID         int64  `json:"serverId"`
		ItemID           string `json:"itemId"`
		AudioStreamID    int64  `json:"audioStreamId,omitempty"`
		SubtitleStreamID int64  `json:"subtitleStreamId,omitempty"`
		StartMs          int64  `json:"startMs,omitempty"`
		Quality          string `json:"quality,omitempty"`
		BitrateBps       int64  `json:"bitrateBps,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil || req.ItemID == "" || req.ServerID == 0 {
		respondError(w, http.StatusBadRequest, "serverId and itemId required")
		return
	}

	overrides := &playback.StreamOverrides{
		AudioStreamID:    req.AudioStreamID,
		SubtitleStreamID: req.SubtitleStreamID,
		StartMs:          req.StartMs,
		Quality:          req.Quality,
		BitrateBps:       req.BitrateBps,
	}

	if err := h.sessions.Session().Load(r.Context(), req.ServerID, req.ItemID, overrides); err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.sessions.Session().State())
}

// PlaybackState returns the current session state snapshot
func (h *Handlers) PlaybackState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.sessions.Session().State())
}

// PlaybackPlay resumes playback
func (h *Handlers) PlaybackPlay(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Session().Play(); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.sessions.Session().State())
}

// PlaybackPause suspends playback
func (h *Handlers) PlaybackPause(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Session().Pause(); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.sessions.Session().State())
}

// PlaybackSeek jumps to an absolute position
func (h *Handlers) PlaybackSeek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PositionMs int64 `json:"positionMs"`
	}
	if err := decodeJSON(r, &req); err != nil || req.PositionMs < 0 {
		respondError(w, http.StatusBadRequest, "positionMs required")
		return
	}
	if err := h.sessions.Session().SeekTo(req.PositionMs); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.sessions.Session().State())
}

// PlaybackSpeed adjusts the playback rate
func (h *Handlers) PlaybackSpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rate float64 `json:"rate"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Rate <= 0 || req.Rate > 4 {
		respondError(w, http.StatusBadRequest, "rate must be between 0 and 4")
		return
	}
	if err := h.sessions.Session().SetSpeed(req.Rate); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.sessions.Session().State())
}

// PlaybackTracks lists the selectable tracks of the loaded item
func (h *Handlers) PlaybackTracks(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"audio":    h.sessions.Session().AudioTracks(),
		"subtitle": append(h.sessions.Session().SubtitleTracks(), tracks.Off),
	})
}

// PlaybackSelectAudio switches the audio track mid-playback
func (h *Handlers) PlaybackSelectAudio(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TrackID int64 `json:"trackId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "trackId required")
		return
	}
	if err := h.sessions.Session().SelectAudioTrack(r.Context(), req.TrackID); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.sessions.Session().State())
}

// PlaybackSelectSubtitle switches the subtitle track; trackId -1 turns
// subtitles off
func (h *Handlers) PlaybackSelectSubtitle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TrackID int64 `json:"trackId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "trackId required")
		return
	}
	if err := h.sessions.Session().SelectSubtitleTrack(r.Context(), req.TrackID); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.sessions.Session().State())
}

// PlaybackSources lists the resolved cross-server sources for the loaded item
func (h *Handlers) PlaybackSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.sessions.Session().Sources(r.Context())
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sources)
}

// PlaybackQueue sets the explicit play queue for auto-advance
func (h *Handlers) PlaybackQueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []playback.NextItem `json:"items"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "items required")
		return
	}
	h.sessions.Session().SetQueue(req.Items)
	respondJSON(w, http.StatusNoContent, nil)
}

// PlaybackDismissAdvance clears the pending auto-advance prompt
func (h *Handlers) PlaybackDismissAdvance(w http.ResponseWriter, r *http.Request) {
	h.sessions.Session().DismissAutoAdvance()
	respondJSON(w, http.StatusOK, h.sessions.Session().State())
}

// PlaybackClose ends the session
func (h *Handlers) PlaybackClose(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Close(); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}
