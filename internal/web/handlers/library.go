package handlers

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/medleyhq/medley/internal/media"
)

const continueWatchingLimit = 20

// Search queries one backend, or all enabled backends when no server is given
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		respondError(w, http.StatusBadRequest, "q is required")
		return
	}

	if raw := r.URL.Query().Get("server"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid server id")
			return
		}
		items, err := h.catalog.Search(r.Context(), id, query)
		if err != nil {
			respondError(w, http.StatusBadGateway, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, items)
		return
	}

	servers, err := h.servers.List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list servers")
		return
	}

	var (
		mu      sync.Mutex
		results []media.PlayableItem
		wg      sync.WaitGroup
	)
	for _, s := range servers {
		wg.Add(1)
		go func(serverID int64) {
			defer wg.Done()
			items, err := h.catalog.Search(r.Context(), serverID, query)
			if err != nil {
				log.Warn().Err(err).Int64("server_id", serverID).Msg("Search failed")
				return
			}
			mu.Lock()
			results = append(results, items...)
			mu.Unlock()
		}(s.ID)
	}
	wg.Wait()

	if results == nil {
		results = []media.PlayableItem{}
	}
	respondJSON(w, http.StatusOK, results)
}

// ContinueWatching returns partially watched items, most recent first
func (h *Handlers) ContinueWatching(w http.ResponseWriter, r *http.Request) {
	entries, err := h.db.ListContinueWatching(continueWatchingLimit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load progress")
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func itemRouteParams(r *http.Request) (int64, string, bool) {
	serverID, err := strconv.ParseInt(chi.URLParam(r, "serverID"), 10, 64)
	itemID := chi.URLParam(r, "itemID")
	return serverID, itemID, err == nil && serverID > 0 && itemID != ""
}

// ItemDetail returns full metadata for one item
func (h *Handlers) ItemDetail(w http.ResponseWriter, r *http.Request) {
	serverID, itemID, ok := itemRouteParams(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid item path")
		return
	}
	item, err := h.catalog.ItemDetail(r.Context(), serverID, itemID)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// ItemChildren returns the episodes or seasons under an item
func (h *Handlers) ItemChildren(w http.ResponseWriter, r *http.Request) {
	serverID, itemID, ok := itemRouteParams(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid item path")
		return
	}
	children, err := h.catalog.Children(r.Context(), serverID, itemID)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, children)
}

// ItemSources resolves every server that can play an item
func (h *Handlers) ItemSources(w http.ResponseWriter, r *http.Request) {
	serverID, itemID, ok := itemRouteParams(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid item path")
		return
	}
	item, err := h.catalog.ItemDetail(r.Context(), serverID, itemID)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	resolved := h.resolver.Resolve(r.Context(), item)
	respondJSON(w, http.StatusOK, resolved.Sources)
}
