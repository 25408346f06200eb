// Package catalog is the write-through item cache sitting between the
// orchestration core and the backend clients. Search and detail responses are
// persisted so cross-server matching can run against local rows without
// re-querying every backend.
package catalog

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/medleyhq/medley/internal/database"
	"github.com/medleyhq/medley/internal/media"
	"github.com/medleyhq/medley/internal/servers"
)

// Store caches backend items in the local database
type Store struct {
	db      *database.DB
	servers *servers.Manager
}

// NewStore creates a catalog store
func NewStore(db *database.DB, srv *servers.Manager) *Store {
	return &Store{db: db, servers: srv}
}

// Remember persists backend items locally. Persistence failures are logged
// and swallowed; the caller already holds the items it needs.
func (s *Store) Remember(items []media.PlayableItem) {
	for i := range items {
		if err := s.db.UpsertItem(&items[i]); err != nil {
			log.Warn().
				Err(err).
				Str("item", items[i].ID).
				Msg("Failed to cache item")
		}
	}
}

// Search queries one backend and caches the results
func (s *Store) Search(ctx context.Context, serverID int64, title string) ([]media.PlayableItem, error) {
	client, err := s.servers.Get(serverID)
	if err != nil {
		return nil, err
	}

	items, err := client.Search(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	s.Remember(items)
	return items, nil
}

// ItemDetail fetches full technical metadata for an item, preferring the
// backend and falling back to the cached row when the backend is unreachable.
func (s *Store) ItemDetail(ctx context.Context, serverID int64, itemID string) (*media.PlayableItem, error) {
	client, err := s.servers.Get(serverID)
	if err != nil {
		return s.cachedDetail(serverID, itemID, err)
	}

	item, err := client.ItemDetail(ctx, itemID)
	if err != nil {
		return s.cachedDetail(serverID, itemID, err)
	}

	if err := s.db.UpsertItem(item); err != nil {
		log.Warn().Err(err).Str("item", itemID).Msg("Failed to cache item detail")
	}
	return item, nil
}

func (s *Store) cachedDetail(serverID int64, itemID string, fetchErr error) (*media.PlayableItem, error) {
	cached, err := s.db.GetItem(serverID, itemID)
	if err != nil || cached == nil {
		return nil, fmt.Errorf("failed to fetch item %s: %w", itemID, fetchErr)
	}

	log.Debug().
		Int64("server_id", serverID).
		Str("item", itemID).
		Msg("Serving item detail from cache")
	return cached, nil
}

// LocalMatches returns cached items on other servers sharing the unification id
func (s *Store) LocalMatches(unificationID string, excludeServerID int64) ([]media.PlayableItem, error) {
	if unificationID == "" {
		return nil, nil
	}
	return s.db.GetItemsByUnificationID(unificationID, excludeServerID)
}

// EpisodeMatches returns cached episodes on other servers with the same show
// title, season and episode number
func (s *Store) EpisodeMatches(showTitle string, season, episode int, excludeServerID int64) ([]media.PlayableItem, error) {
	if showTitle == "" {
		return nil, nil
	}
	return s.db.GetEpisodeMatches(showTitle, season, episode, excludeServerID)
}

// Children lists a show's or season's children, backend first with cache
// fallback, ordered by season and episode number.
func (s *Store) Children(ctx context.Context, serverID int64, parentID string) ([]media.PlayableItem, error) {
	client, err := s.servers.Get(serverID)
	if err == nil {
		items, cerr := client.Children(ctx, parentID)
		if cerr == nil {
			s.Remember(items)
			return items, nil
		}
		err = cerr
	}

	cached, dberr := s.db.GetChildren(serverID, parentID)
	if dberr != nil || len(cached) == 0 {
		return nil, fmt.Errorf("failed to list children of %s: %w", parentID, err)
	}
	return cached, nil
}

// RecordViewOffset updates the cached resume position for an item
func (s *Store) RecordViewOffset(serverID int64, itemID string, offsetMs int64) error {
	return s.db.SetItemViewOffset(serverID, itemID, offsetMs)
}
