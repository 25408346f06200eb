package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/medleyhq/medley/internal/media"
)

// mediaDocument is the JSON shape stored in items.media_json
type mediaDocument struct {
	Parts []media.MediaPart `json:"parts,omitempty"`
}

// UpsertItem stores or refreshes a catalog item
func (db *DB) UpsertItem(item *media.PlayableItem) error {
	doc, err := json.Marshal(mediaDocument{Parts: item.Parts})
	if err != nil {
		return fmt.Errorf("failed to marshal item media: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO items (
			server_id, item_id, type, title, year, imdb_id, tmdb_id, unification_id,
			show_title, parent_id, parent_index, episode_index, duration_ms,
			view_offset_ms, media_json, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(server_id, item_id) DO UPDATE SET
			type = excluded.type,
			title = excluded.title,
			year = excluded.year,
			imdb_id = excluded.imdb_id,
			tmdb_id = excluded.tmdb_id,
			unification_id = excluded.unification_id,
			show_title = excluded.show_title,
			parent_id = excluded.parent_id,
			parent_index = excluded.parent_index,
			episode_index = excluded.episode_index,
			duration_ms = excluded.duration_ms,
			view_offset_ms = excluded.view_offset_ms,
			media_json = excluded.media_json,
			updated_at = excluded.updated_at
	`, item.ServerID, item.ID, string(item.Type), item.Title, item.Year,
		item.IMDBID, item.TMDBID, item.UnificationID, item.ShowTitle,
		item.ParentID, item.ParentIndex, item.EpisodeIndex, item.DurationMs,
		item.ViewOffsetMs, string(doc), time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert item %s/%s: %w", item.ID, item.Title, err)
	}
	return nil
}

const itemColumns = `
	server_id, item_id, type, title, year, imdb_id, tmdb_id, unification_id,
	show_title, parent_id, parent_index, episode_index, duration_ms,
	view_offset_ms, media_json`

func scanItem(scan func(...any) error) (*media.PlayableItem, error) {
	item := &media.PlayableItem{}
	var typ, doc string
	err := scan(&item.ServerID, &item.ID, &typ, &item.Title, &item.Year,
		&item.IMDBID, &item.TMDBID, &item.UnificationID, &item.ShowTitle,
		&item.ParentID, &item.ParentIndex, &item.EpisodeIndex,
		&item.DurationMs, &item.ViewOffsetMs, &doc)
	if err != nil {
		return nil, err
	}
	item.Type = media.ItemType(typ)
	if doc != "" {
		var md mediaDocument
		if err := json.Unmarshal([]byte(doc), &md); err != nil {
			return nil, fmt.Errorf("failed to unmarshal item media: %w", err)
		}
		item.Parts = md.Parts
	}
	return item, nil
}

// GetItem retrieves a catalog item, or nil when not stored
func (db *DB) GetItem(serverID int64, itemID string) (*media.PlayableItem, error) {
	row := db.QueryRow(`SELECT `+itemColumns+` FROM items WHERE server_id = ? AND item_id = ?`,
		serverID, itemID)
	item, err := scanItem(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item %d/%s: %w", serverID, itemID, err)
	}
	return item, nil
}

func (db *DB) queryItems(query string, args ...any) ([]media.PlayableItem, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []media.PlayableItem
	for rows.Next() {
		item, err := scanItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// GetItemsByUnificationID retrieves stored items sharing a unification key,
// excluding the given server
func (db *DB) GetItemsByUnificationID(unificationID string, excludeServerID int64) ([]media.PlayableItem, error) {
	if unificationID == "" {
		return nil, nil
	}
	return db.queryItems(`SELECT `+itemColumns+` FROM items
		WHERE unification_id = ? AND server_id != ? ORDER BY server_id`,
		unificationID, excludeServerID)
}

// GetEpisodeMatches retrieves stored episodes matching a show title (case
// insensitive), season and episode number, excluding the given server
func (db *DB) GetEpisodeMatches(showTitle string, season, episode int, excludeServerID int64) ([]media.PlayableItem, error) {
	return db.queryItems(`SELECT `+itemColumns+` FROM items
		WHERE type = ? AND show_title = ? COLLATE NOCASE AND parent_index = ? AND episode_index = ?
		AND server_id != ? ORDER BY server_id`,
		string(media.ItemEpisode), showTitle, season, episode, excludeServerID)
}

// GetChildren retrieves the children of a show or season in hierarchy order
func (db *DB) GetChildren(serverID int64, parentID string) ([]media.PlayableItem, error) {
	return db.queryItems(`SELECT `+itemColumns+` FROM items
		WHERE server_id = ? AND parent_id = ?
		ORDER BY parent_index, episode_index`,
		serverID, parentID)
}

// SetItemViewOffset records the server-reported resume position for an item
func (db *DB) SetItemViewOffset(serverID int64, itemID string, offsetMs int64) error {
	_, err := db.Exec(`UPDATE items SET view_offset_ms = ?, updated_at = ? WHERE server_id = ? AND item_id = ?`,
		offsetMs, time.Now(), serverID, itemID)
	if err != nil {
		return fmt.Errorf("failed to set view offset for %d/%s: %w", serverID, itemID, err)
	}
	return nil
}
