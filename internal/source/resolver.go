// Package source resolves the equivalent playback candidates for an item
// across every registered backend.
package source

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/medleyhq/medley/internal/catalog"
	"github.com/medleyhq/medley/internal/config"
	"github.com/medleyhq/medley/internal/database"
	"github.com/medleyhq/medley/internal/media"
	"github.com/medleyhq/medley/internal/servers"
)

const (
	defaultCacheTTL    = 10 * time.Minute
	defaultConcurrency = 4
)

// Resolver finds the playable instances of an item on peer servers. Results
// are cached in memory; resolution never fails outright, the worst case is an
// item carrying only its own source.
type Resolver struct {
	catalog *catalog.Store
	servers *servers.Manager
	loader  *config.Loader

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	item    media.PlayableItem
	expires time.Time
}

// NewResolver creates a source resolver
func NewResolver(cat *catalog.Store, srv *servers.Manager, loader *config.Loader) *Resolver {
	return &Resolver{
		catalog: cat,
		servers: srv,
		loader:  loader,
		cache:   make(map[string]cacheEntry),
	}
}

func cacheKey(serverID int64, itemID string) string {
	return fmt.Sprintf("%d:%s", serverID, itemID)
}

// Resolve returns a copy of the item with Sources populated
func (r *Resolver) Resolve(ctx context.Context, item *media.PlayableItem) media.PlayableItem {
	key := cacheKey(item.ServerID, item.ID)

	r.mu.Lock()
	if entry, ok := r.cache[key]; ok && time.Now().Before(entry.expires) {
		r.mu.Unlock()
		return entry.item
	}
	r.mu.Unlock()

	resolved := r.resolve(ctx, item)

	ttl := r.loader.Duration(config.KeySourceCacheTTL, defaultCacheTTL)
	r.mu.Lock()
	r.cache[key] = cacheEntry{item: resolved, expires: time.Now().Add(ttl)}
	r.mu.Unlock()

	return resolved
}

// Invalidate drops any cached resolution for the item
func (r *Resolver) Invalidate(serverID int64, itemID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, cacheKey(serverID, itemID))
}

// Sweep removes expired cache entries and returns how many were dropped
func (r *Resolver) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, entry := range r.cache {
		if now.After(entry.expires) {
			delete(r.cache, key)
			removed++
		}
	}
	return removed
}

func (r *Resolver) resolve(ctx context.Context, item *media.PlayableItem) media.PlayableItem {
	rows, err := r.servers.List()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list servers during resolution")
		return item.WithSources([]media.MediaSource{media.SourceFrom(item, "")})
	}

	names := make(map[int64]string, len(rows))
	for _, row := range rows {
		names[row.ID] = row.Name
	}

	own := media.SourceFrom(item, names[item.ServerID])
	if len(rows) <= 1 {
		return item.WithSources([]media.MediaSource{own})
	}

	peers := r.localMatches(item)
	if len(peers) == 0 {
		peers = r.networkMatches(ctx, item, rows)
	}

	sources := []media.MediaSource{own}
	seen := map[int64]bool{item.ServerID: true}
	for i := range peers {
		match := &peers[i]
		if seen[match.ServerID] {
			continue
		}
		seen[match.ServerID] = true
		sources = append(sources, r.enrich(ctx, match, names[match.ServerID]))
	}

	log.Debug().
		Str("title", item.Title).
		Int("sources", len(sources)).
		Msg("Resolved playback sources")

	return item.WithSources(sources)
}

// localMatches checks the catalog before touching the network. Episodes match
// structurally on show title and indices even without a unification key.
func (r *Resolver) localMatches(item *media.PlayableItem) []media.PlayableItem {
	if item.UnificationID != "" {
		matches, err := r.catalog.LocalMatches(item.UnificationID, item.ServerID)
		if err != nil {
			log.Warn().Err(err).Str("item", item.ID).Msg("Local source lookup failed")
		}
		if len(matches) > 0 {
			return matches
		}
	}

	if item.IsEpisode() {
		matches, err := r.catalog.EpisodeMatches(item.ShowTitle, item.ParentIndex, item.EpisodeIndex, item.ServerID)
		if err != nil {
			log.Warn().Err(err).Str("item", item.ID).Msg("Local episode lookup failed")
		}
		return matches
	}

	return nil
}

// networkMatches searches the remaining backends concurrently. Individual
// search failures are swallowed; each server contributes at most one match.
func (r *Resolver) networkMatches(ctx context.Context, item *media.PlayableItem, rows []*database.Server) []media.PlayableItem {
	title := item.Title
	if item.IsEpisode() && item.ShowTitle != "" {
		title = item.ShowTitle
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.loader.Int(config.KeySearchConcurrency, defaultConcurrency))

	var mu sync.Mutex
	var matches []media.PlayableItem

	for _, row := range rows {
		if row.ID == item.ServerID {
			continue
		}
		g.Go(func() error {
			searchCtx, cancel := context.WithTimeout(gctx, config.GetTimeouts().Search)
			defer cancel()

			results, err := r.catalog.Search(searchCtx, row.ID, title)
			if err != nil {
				log.Debug().
					Err(err).
					Str("server", row.Name).
					Str("title", title).
					Msg("Peer search failed")
				return nil
			}

			if match := bestCandidate(item, results); match != nil {
				mu.Lock()
				matches = append(matches, *match)
				mu.Unlock()
			}
			return nil
		})
	}

	g.Wait()
	return matches
}

// bestCandidate picks one match from a server's results. External identifiers
// outrank the composite title match.
func bestCandidate(item *media.PlayableItem, results []media.PlayableItem) *media.PlayableItem {
	for i := range results {
		if sharesExternalID(item, &results[i]) {
			return &results[i]
		}
	}
	for i := range results {
		if compositeMatch(item, &results[i]) {
			return &results[i]
		}
	}
	return nil
}

func sharesExternalID(a, b *media.PlayableItem) bool {
	if a.IMDBID != "" && a.IMDBID == b.IMDBID {
		return true
	}
	if a.TMDBID != "" && a.TMDBID == b.TMDBID {
		return true
	}
	return false
}

func compositeMatch(a, b *media.PlayableItem) bool {
	if a.Type != b.Type {
		return false
	}
	if !strings.EqualFold(a.Title, b.Title) {
		return false
	}
	if a.Year != 0 && b.Year != 0 && a.Year != b.Year {
		return false
	}
	if a.IsEpisode() && (a.ParentIndex != b.ParentIndex || a.EpisodeIndex != b.EpisodeIndex) {
		return false
	}
	return true
}

// enrich fills in technical metadata with a per-source detail fetch. A fetch
// failure degrades to a partial source rather than aborting resolution.
func (r *Resolver) enrich(ctx context.Context, match *media.PlayableItem, serverName string) media.MediaSource {
	if len(match.Parts) > 0 {
		return media.SourceFrom(match, serverName)
	}

	detail, err := r.catalog.ItemDetail(ctx, match.ServerID, match.ID)
	if err != nil {
		log.Debug().
			Err(err).
			Str("server", serverName).
			Str("item", match.ID).
			Msg("Source enrichment failed, keeping partial source")
		return media.SourceFrom(match, serverName)
	}
	return media.SourceFrom(detail, serverName)
}
