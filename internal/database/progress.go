package database

import (
	"database/sql"
	"fmt"
	"time"
)

// PlaybackProgress is one row of the local watch-continuation surface
type PlaybackProgress struct {
	ServerID   int64     `json:"serverId"`
	ItemID     string    `json:"itemId"`
	PositionMs int64     `json:"positionMs"`
	DurationMs int64     `json:"durationMs"`
	Watched    bool      `json:"watched"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// watchedThreshold marks an item watched once this fraction has been played
const watchedThreshold = 0.90

// SavePlaybackProgress stores or replaces the progress row for an item
func (db *DB) SavePlaybackProgress(serverID int64, itemID string, positionMs, durationMs int64) error {
	watched := durationMs > 0 && float64(positionMs)/float64(durationMs) >= watchedThreshold
	_, err := db.Exec(`
		INSERT INTO playback_progress (server_id, item_id, position_ms, duration_ms, watched, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(server_id, item_id) DO UPDATE SET
			position_ms = excluded.position_ms,
			duration_ms = excluded.duration_ms,
			watched = excluded.watched,
			updated_at = excluded.updated_at
	`, serverID, itemID, positionMs, durationMs, watched, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save playback progress for %s: %w", itemID, err)
	}
	return nil
}

// GetPlaybackProgress retrieves the progress row for an item, or nil
func (db *DB) GetPlaybackProgress(serverID int64, itemID string) (*PlaybackProgress, error) {
	p := &PlaybackProgress{}
	err := db.QueryRow(`
		SELECT server_id, item_id, position_ms, duration_ms, watched, updated_at
		FROM playback_progress WHERE server_id = ? AND item_id = ?
	`, serverID, itemID).Scan(&p.ServerID, &p.ItemID, &p.PositionMs, &p.DurationMs, &p.Watched, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get playback progress for %s: %w", itemID, err)
	}
	return p, nil
}

// ListContinueWatching retrieves unfinished items by recency
func (db *DB) ListContinueWatching(limit int) ([]PlaybackProgress, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT server_id, item_id, position_ms, duration_ms, watched, updated_at
		FROM playback_progress WHERE watched = 0 AND position_ms > 0
		ORDER BY updated_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list continue watching: %w", err)
	}
	defer rows.Close()

	var out []PlaybackProgress
	for rows.Next() {
		var p PlaybackProgress
		if err := rows.Scan(&p.ServerID, &p.ItemID, &p.PositionMs, &p.DurationMs, &p.Watched, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan playback progress: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PruneWatchedProgress removes watched rows older than the given age
func (db *DB) PruneWatchedProgress(olderThan time.Duration) (int64, error) {
	res, err := db.Exec(`DELETE FROM playback_progress WHERE watched = 1 AND updated_at < ?`,
		time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to prune playback progress: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
